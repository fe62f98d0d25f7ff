package parser

import (
	"errors"
	"strings"

	"gopkg.in/yaml.v3"
)

var errNotSequence = errors.New("top level is not a list")

// jobNode is a job mapping and the lines it spans in its file (1-based, inclusive)
type jobNode struct {
	node  *yaml.Node
	start int
	end   int
}

// jobDefinitions returns every `job:` mapping of a Zuul configuration file.
//
// A job starts at the line of its `job:` key and ends on the line before the
// next token following it: the next key of the same list item, the next
// list item, or the end of the document. Blank lines and comments trailing
// a job therefore belong to it.
func jobDefinitions(content string) ([]jobNode, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, nil
	}

	top := doc.Content[0]
	if top.Kind != yaml.SequenceNode {
		return nil, errNotSequence
	}

	lines := strings.Split(content, "\n")
	lastLine := documentEnd(lines, strings.Count(content, "\n"), top.Line)
	var jobs []jobNode
	for idx, item := range top.Content {
		if item.Kind != yaml.MappingNode {
			continue
		}
		for k := 0; k+1 < len(item.Content); k += 2 {
			key, value := item.Content[k], item.Content[k+1]
			if key.Value != "job" || value.Kind != yaml.MappingNode {
				continue
			}

			end := lastLine
			switch {
			case k+2 < len(item.Content):
				end = item.Content[k+2].Line - 1
			case idx+1 < len(top.Content):
				end = itemLine(lines, top, top.Content[idx+1]) - 1
			}
			if end < key.Line {
				end = key.Line
			}

			jobs = append(jobs, jobNode{node: value, start: key.Line, end: end})
		}
	}
	return jobs, nil
}

// documentEnd is the last line of the first document. A "..." or "---"
// marker after the line from, and everything following it, is excluded.
func documentEnd(lines []string, last, from int) int {
	for i := from; i < len(lines) && i < last; i++ {
		if isDocumentMarker(lines[i]) {
			return i
		}
	}
	return last
}

func isDocumentMarker(line string) bool {
	line = strings.TrimRight(line, " \t\r")
	for _, marker := range []string{"...", "---"} {
		if line == marker || strings.HasPrefix(line, marker+" ") || strings.HasPrefix(line, marker+"\t") {
			return true
		}
	}
	return false
}

// itemLine is the line of the "-" introducing item in a block sequence.
// The node itself starts at its first key, which may sit on a later line
// when the dash stands alone.
func itemLine(lines []string, seq, item *yaml.Node) int {
	if seq.Style&yaml.FlowStyle != 0 {
		return item.Line
	}
	col := seq.Column - 1
	for line := item.Line; line >= 1 && line <= len(lines); line-- {
		text := lines[line-1]
		if len(text) > col && text[col] == '-' && strings.TrimSpace(text[:col]) == "" {
			return line
		}
		if line < item.Line && strings.TrimSpace(text) != "" && !strings.HasPrefix(strings.TrimSpace(text), "#") {
			break
		}
	}
	return item.Line
}

// lookup returns the value node of key in a mapping node, or nil
func lookup(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}
