package render

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// Markdown renders GitHub flavoured markdown. Markdown carries no
// platform or reusable annotations.
func Markdown(content string) (*Result, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(content), &buf); err != nil {
		return nil, &RenderError{Msg: err.Error()}
	}
	return &Result{HTML: buf.String(), Platforms: []string{}}, nil
}
