package render

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	directiveRe = regexp.MustCompile(`^\.\.\s+([A-Za-z0-9_.:\-]+?)::(?:\s+(.*))?$`)
	optionRe    = regexp.MustCompile(`^:([A-Za-z0-9_\-]+):\s*(.*)$`)
	bulletRe    = regexp.MustCompile(`^([-*+])( +)(.*)$`)
	enumRe      = regexp.MustCompile(`^(\d+|#)\.( +)(.*)$`)
	roleRe      = regexp.MustCompile("^:([A-Za-z0-9_.:+\\-]+):`")
	refTargetRe = regexp.MustCompile(`(?s)^(.*?)\s*<([^<>]+)>$`)
)

const adornmentChars = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

var admonitions = map[string]string{
	"note":      "Note",
	"warning":   "Warning",
	"tip":       "Tip",
	"hint":      "Hint",
	"important": "Important",
	"attention": "Attention",
	"caution":   "Caution",
	"danger":    "Danger",
	"error":     "Error",
	"seealso":   "See also",
}

// directives that render nothing
var ignoredDirectives = map[string]bool{
	"contents": true,
	"toctree":  true,
	"index":    true,
}

type rstRenderer struct {
	platforms []string
	reusable  bool
	// heading adornment styles in order of first use
	styles []string
}

// RST renders a reStructuredText document. The supported_os and reusable
// directives are consumed into Platforms and Reusable and produce no HTML.
func RST(content string) (*Result, error) {
	r := &rstRenderer{platforms: []string{}}
	var b strings.Builder
	if err := r.blocks(&b, splitLines(content), 1); err != nil {
		return nil, err
	}
	return &Result{HTML: b.String(), Platforms: r.platforms, Reusable: r.reusable}, nil
}

func splitLines(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\t", "        ")
	lines := strings.Split(content, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " ")
	}
	return lines
}

func indentOf(s string) int {
	return len(s) - len(strings.TrimLeft(s, " "))
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// indentedEnd returns the index after the indented (or blank) lines starting at i.
func indentedEnd(lines []string, i int) int {
	start := i
	for i < len(lines) && (isBlank(lines[i]) || indentOf(lines[i]) > 0) {
		i++
	}
	// trailing blank lines are not part of the block
	for i > start && isBlank(lines[i-1]) {
		i--
	}
	return i
}

func dedent(lines []string) []string {
	least := -1
	for _, l := range lines {
		if isBlank(l) {
			continue
		}
		if n := indentOf(l); least < 0 || n < least {
			least = n
		}
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		if isBlank(l) {
			out[i] = ""
			continue
		}
		out[i] = l[least:]
	}
	return out
}

func trimBlankEdges(lines []string) []string {
	for len(lines) > 0 && isBlank(lines[0]) {
		lines = lines[1:]
	}
	for len(lines) > 0 && isBlank(lines[len(lines)-1]) {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func isAdornment(s string) bool {
	if len(s) < 2 || !strings.ContainsRune(adornmentChars, rune(s[0])) {
		return false
	}
	return strings.Count(s, s[:1]) == len(s)
}

func (r *rstRenderer) blocks(b *strings.Builder, lines []string, offset int) error {
	i := 0
	for i < len(lines) {
		line := lines[i]
		lineNo := offset + i

		switch {
		case isBlank(line):
			i++
			continue

		case indentOf(line) > 0:
			end := indentedEnd(lines, i)
			b.WriteString("<blockquote>\n<div>")
			if err := r.blocks(b, dedent(lines[i:end]), lineNo); err != nil {
				return err
			}
			b.WriteString("</div></blockquote>\n")
			i = end
			continue
		}

		if m := directiveRe.FindStringSubmatch(line); m != nil {
			end := indentedEnd(lines, i+1)
			if err := r.directive(b, m[1], strings.TrimSpace(m[2]), lines[i+1:end], lineNo); err != nil {
				return err
			}
			i = end
			continue
		}

		// comments, targets and substitution definitions
		if line == ".." || strings.HasPrefix(line, ".. ") {
			i = indentedEnd(lines, i+1)
			continue
		}

		if isAdornment(line) && i+2 < len(lines) && !isBlank(lines[i+1]) && lines[i+2] == line {
			if err := r.heading(b, "over"+line[:1], strings.TrimSpace(lines[i+1]), lineNo); err != nil {
				return err
			}
			i += 3
			continue
		}

		if i+1 < len(lines) && isAdornment(lines[i+1]) && len(lines[i+1]) >= len(line) {
			if err := r.heading(b, lines[i+1][:1], line, lineNo); err != nil {
				return err
			}
			i += 2
			continue
		}

		if isAdornment(line) && len(line) >= 4 {
			b.WriteString("<hr class=\"docutils\" />\n")
			i++
			continue
		}

		if bulletRe.MatchString(line) {
			end, err := r.list(b, lines, i, offset, bulletRe, "<ul class=\"simple\">\n", "</ul>\n")
			if err != nil {
				return err
			}
			i = end
			continue
		}

		if enumRe.MatchString(line) {
			end, err := r.list(b, lines, i, offset, enumRe, "<ol class=\"arabic simple\">\n", "</ol>\n")
			if err != nil {
				return err
			}
			i = end
			continue
		}

		// a single line directly followed by indented lines is a definition list
		if i+1 < len(lines) && !isBlank(lines[i+1]) && indentOf(lines[i+1]) > 0 {
			end, err := r.definitionList(b, lines, i, offset)
			if err != nil {
				return err
			}
			i = end
			continue
		}

		end := i
		for end < len(lines) && !isBlank(lines[end]) && indentOf(lines[end]) == 0 {
			end++
		}
		next, err := r.paragraph(b, lines, i, end, offset)
		if err != nil {
			return err
		}
		i = next
	}
	return nil
}

func (r *rstRenderer) heading(b *strings.Builder, style, title string, lineNo int) error {
	level := -1
	for idx, s := range r.styles {
		if s == style {
			level = idx
			break
		}
	}
	if level < 0 {
		r.styles = append(r.styles, style)
		level = len(r.styles) - 1
	}
	level++
	if level > 6 {
		level = 6
	}
	text, err := r.inline(title, lineNo)
	if err != nil {
		return err
	}
	fmt.Fprintf(b, "<h%d>%s</h%d>\n", level, text, level)
	return nil
}

// paragraph renders lines[start:end]. A trailing "::" turns the following
// indented block into a literal block. It returns the index after everything
// consumed.
func (r *rstRenderer) paragraph(b *strings.Builder, lines []string, start, end, offset int) (int, error) {
	text := strings.Join(lines[start:end], "\n")
	literal := false
	if strings.HasSuffix(text, "::") {
		literal = true
		stripped := strings.TrimSuffix(text, "::")
		switch {
		case strings.TrimSpace(stripped) == "":
			text = ""
		case strings.HasSuffix(stripped, " ") || strings.HasSuffix(stripped, "\n"):
			text = strings.TrimRight(stripped, " \n")
		default:
			text = stripped + ":"
		}
	}

	if text != "" {
		html, err := r.inline(text, offset+start)
		if err != nil {
			return 0, err
		}
		b.WriteString("<p>" + html + "</p>\n")
	}

	if !literal {
		return end, nil
	}
	k := end
	for k < len(lines) && isBlank(lines[k]) {
		k++
	}
	if k >= len(lines) || indentOf(lines[k]) == 0 {
		return end, nil
	}
	blockEnd := indentedEnd(lines, k)
	writeCode(b, "default", dedent(lines[k:blockEnd]))
	return blockEnd, nil
}

func writeCode(b *strings.Builder, lang string, lines []string) {
	code := strings.Join(trimBlankEdges(lines), "\n")
	fmt.Fprintf(b, "<div class=\"highlight-%s notranslate\"><div class=\"highlight\"><pre><span></span>%s\n</pre></div>\n</div>\n",
		escapeAttr(lang), escapeText(code))
}

func (r *rstRenderer) list(b *strings.Builder, lines []string, i, offset int, marker *regexp.Regexp, open, close string) (int, error) {
	var items []string
	for i < len(lines) {
		m := marker.FindStringSubmatch(lines[i])
		if m == nil || indentOf(lines[i]) > 0 {
			break
		}
		width := len(m[1]) + len(m[2])
		if marker == enumRe {
			width++ // the dot
		}
		body := []string{m[3]}
		j := i + 1
		for j < len(lines) && (isBlank(lines[j]) || indentOf(lines[j]) >= width) {
			if isBlank(lines[j]) {
				body = append(body, "")
			} else {
				body = append(body, lines[j][width:])
			}
			j++
		}
		for j > i+1 && isBlank(lines[j-1]) {
			j--
			body = body[:len(body)-1]
		}

		var item strings.Builder
		if err := r.blocks(&item, body, offset+i); err != nil {
			return 0, err
		}
		items = append(items, "<li>"+strings.TrimSuffix(item.String(), "\n")+"</li>\n")

		// items may be separated by blank lines
		k := j
		for k < len(lines) && isBlank(lines[k]) {
			k++
		}
		if k < len(lines) && marker.MatchString(lines[k]) && indentOf(lines[k]) == 0 {
			i = k
			continue
		}
		i = j
		break
	}

	b.WriteString(open)
	for _, it := range items {
		b.WriteString(it)
	}
	b.WriteString(close)
	return i, nil
}

func (r *rstRenderer) definitionList(b *strings.Builder, lines []string, i, offset int) (int, error) {
	b.WriteString("<dl class=\"simple\">\n")
	for i < len(lines) {
		term, err := r.inline(lines[i], offset+i)
		if err != nil {
			return 0, err
		}
		end := indentedEnd(lines, i+1)
		var def strings.Builder
		if err := r.blocks(&def, dedent(lines[i+1:end]), offset+i+1); err != nil {
			return 0, err
		}
		b.WriteString("<dt>" + term + "</dt><dd>" + def.String() + "</dd>\n")

		k := end
		for k < len(lines) && isBlank(lines[k]) {
			k++
		}
		if k+1 < len(lines) && indentOf(lines[k]) == 0 && !isBlank(lines[k+1]) && indentOf(lines[k+1]) > 0 &&
			!directiveRe.MatchString(lines[k]) && !strings.HasPrefix(lines[k], "..") && !bulletRe.MatchString(lines[k]) && !enumRe.MatchString(lines[k]) {
			i = k
			continue
		}
		i = end
		break
	}
	b.WriteString("</dl>\n")
	return i, nil
}

func (r *rstRenderer) directive(b *strings.Builder, name, arg string, body []string, lineNo int) error {
	body = dedent(body)
	options := make(map[string]string)
	content := body
	for len(content) > 0 {
		m := optionRe.FindStringSubmatch(content[0])
		if m == nil {
			break
		}
		options[m[1]] = strings.TrimSpace(m[2])
		content = content[1:]
	}
	content = trimBlankEdges(content)

	switch {
	case name == "supported_os":
		for _, v := range strings.Split(arg, ",") {
			if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
				r.platforms = append(r.platforms, v)
			}
		}
		return nil

	case name == "reusable":
		if arg == "" {
			return nil
		}
		for _, v := range strings.Split(arg, ",") {
			v = strings.ToLower(strings.TrimSpace(v))
			r.reusable = v == "true" || v == "yes"
		}
		return nil

	case name == "code-block" || name == "code" || name == "sourcecode":
		lang := arg
		if lang == "" {
			lang = "default"
		}
		writeCode(b, lang, content)
		return nil

	case admonitions[name] != "":
		fmt.Fprintf(b, "<div class=\"admonition %s\">\n<p class=\"admonition-title\">%s</p>\n", name, admonitions[name])
		lines := content
		if arg != "" {
			lines = append([]string{arg, ""}, content...)
		}
		if err := r.blocks(b, lines, lineNo+1); err != nil {
			return err
		}
		b.WriteString("</div>\n")
		return nil

	case strings.HasPrefix(name, "zuul:"):
		kind := strings.TrimPrefix(name, "zuul:")
		fmt.Fprintf(b, "<dl class=\"zuul %s\">\n<dt><code class=\"descname\">%s</code></dt>\n<dd>", escapeAttr(kind), escapeText(arg))
		if v, ok := options["default"]; ok {
			fmt.Fprintf(b, "<p>Default: <code>%s</code></p>\n", escapeText(v))
		}
		if v, ok := options["type"]; ok {
			fmt.Fprintf(b, "<p>Type: <em>%s</em></p>\n", escapeText(v))
		}
		if err := r.blocks(b, content, lineNo+1); err != nil {
			return err
		}
		b.WriteString("</dd>\n</dl>\n")
		return nil

	case name == "image" || name == "figure":
		alt := options["alt"]
		if alt == "" {
			alt = arg
		}
		img := fmt.Sprintf("<img alt=\"%s\" src=\"%s\" />\n", escapeAttr(alt), escapeAttr(arg))
		if name == "image" {
			b.WriteString(img)
			return nil
		}
		b.WriteString("<figure class=\"align-default\">\n" + img)
		if len(content) > 0 {
			caption, err := r.inline(strings.Join(content, "\n"), lineNo+1)
			if err != nil {
				return err
			}
			b.WriteString("<figcaption>\n<p>" + caption + "</p>\n</figcaption>\n")
		}
		b.WriteString("</figure>\n")
		return nil

	case ignoredDirectives[name]:
		return nil
	}

	return &RenderError{Line: lineNo, Msg: fmt.Sprintf("unknown directive type %q", name)}
}
