// Package render turns README, CHANGELOG and job description markup into
// HTML and extracts the platform and reusable annotations.
package render

import (
	"fmt"
	"log/slog"
	"strings"
)

// Result is a rendered document
type Result struct {
	HTML      string
	Platforms []string
	Reusable  bool
}

// RenderError reports markup that could not be rendered
type RenderError struct {
	Line int
	Msg  string
}

func (e *RenderError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return e.Msg
}

// File renders content according to the extension of path. Only .rst and
// .md are rendered; other files return nil. Render failures are logged and
// also return nil.
func File(path, content string, logger *slog.Logger) *Result {
	if logger == nil {
		logger = slog.Default()
	}
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".rst"):
		logger.Debug("rendering reStructuredText", "path", path)
		res, err := RST(content)
		if err != nil {
			logger.Warn("content could not be converted to HTML", "path", path, "error", err)
			return nil
		}
		return res
	case strings.HasSuffix(lower, ".md"):
		logger.Debug("rendering markdown", "path", path)
		res, err := Markdown(content)
		if err != nil {
			logger.Warn("content could not be converted to HTML", "path", path, "error", err)
			return nil
		}
		return res
	default:
		logger.Debug("found txt or raw description, skip rendering", "path", path)
		return nil
	}
}
