package render

import (
	"strings"
)

const (
	startPrecede = " \t\n'\"([{<-/:"
	endFollow    = " \t\n'\")]}>-/:.,;!?\\_*`"
	urlTrailing  = ".,;:!?)'\""
)

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

var attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func escapeText(s string) string {
	return textEscaper.Replace(s)
}

func escapeAttr(s string) string {
	return attrEscaper.Replace(s)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n'
}

// canStart reports whether inline markup of width n may start at s[i].
func canStart(s string, i, n int) bool {
	if i > 0 && !strings.ContainsRune(startPrecede, rune(s[i-1])) {
		return false
	}
	return i+n < len(s) && !isSpace(s[i+n])
}

// findEnd returns the position of the end-string marker for markup whose
// content starts at from, or -1.
func findEnd(s string, from int, marker string) int {
	j := from
	for j < len(s) {
		k := strings.Index(s[j:], marker)
		if k < 0 {
			return -1
		}
		pos := j + k
		after := pos + len(marker)
		if pos > from && !isSpace(s[pos-1]) &&
			(after == len(s) || strings.ContainsRune(endFollow, rune(s[after]))) {
			return pos
		}
		j = pos + 1
	}
	return -1
}

func literal(content, class string) string {
	return `<code class="` + class + `docutils literal notranslate"><span class="pre">` +
		escapeText(content) + `</span></code>`
}

func (r *rstRenderer) inline(s string, lineNo int) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			if next := s[i+1]; next < 0x80 && !isSpace(next) {
				out.WriteString(escapeText(s[i+1 : i+2]))
			}
			i += 2
			continue

		case strings.HasPrefix(s[i:], "``") && canStart(s, i, 2):
			end := findEnd(s, i+2, "``")
			if end < 0 {
				return "", &RenderError{Line: lineNo, Msg: "Inline literal start-string without end-string."}
			}
			out.WriteString(literal(s[i+2:end], ""))
			i = end + 2
			continue

		case strings.HasPrefix(s[i:], "**") && canStart(s, i, 2):
			if end := findEnd(s, i+2, "**"); end >= 0 {
				out.WriteString("<strong>" + escapeText(s[i+2:end]) + "</strong>")
				i = end + 2
				continue
			}

		case c == '*' && canStart(s, i, 1):
			if end := findEnd(s, i+1, "*"); end >= 0 {
				out.WriteString("<em>" + escapeText(s[i+1:end]) + "</em>")
				i = end + 1
				continue
			}

		case c == ':' && (i == 0 || strings.ContainsRune(startPrecede, rune(s[i-1]))):
			if m := roleRe.FindString(s[i:]); m != "" {
				from := i + len(m)
				if end := findEnd(s, from, "`"); end >= 0 {
					content := s[from:end]
					if t := refTargetRe.FindStringSubmatch(content); t != nil && t[1] != "" {
						content = t[1]
					}
					out.WriteString(literal(content, "xref "))
					i = end + 1
					continue
				}
			}

		case c == '`' && canStart(s, i, 1):
			if end := findEnd(s, i+1, "`"); end >= 0 {
				content := s[i+1 : end]
				next := end + 1
				if strings.HasPrefix(s[next:], "__") {
					next += 2
				} else if strings.HasPrefix(s[next:], "_") {
					next++
				} else {
					out.WriteString("<cite>" + escapeText(content) + "</cite>")
					i = next
					continue
				}
				text, href := content, ""
				if t := refTargetRe.FindStringSubmatch(content); t != nil {
					text, href = t[1], t[2]
					if text == "" {
						text = href
					}
				}
				if href != "" {
					out.WriteString(`<a class="reference external" href="` + escapeAttr(href) + `">` + escapeText(text) + `</a>`)
				} else {
					out.WriteString(`<a class="reference internal">` + escapeText(text) + `</a>`)
				}
				i = next
				continue
			}

		case (strings.HasPrefix(s[i:], "http://") || strings.HasPrefix(s[i:], "https://")) &&
			(i == 0 || strings.ContainsRune(startPrecede, rune(s[i-1]))):
			end := i
			for end < len(s) && !isSpace(s[end]) && !strings.ContainsRune(`<>"`, rune(s[end])) {
				end++
			}
			for end > i && strings.ContainsRune(urlTrailing, rune(s[end-1])) {
				end--
			}
			url := s[i:end]
			out.WriteString(`<a class="reference external" href="` + escapeAttr(url) + `">` + escapeText(url) + `</a>`)
			i = end
			continue
		}

		out.WriteString(escapeText(s[i : i+1]))
		i++
	}
	return out.String(), nil
}
