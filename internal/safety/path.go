package safety

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ProjectPath validates a project name such as "orga/repo" and returns it as
// a relative path in OS form. Absolute names and ".." segments are rejected.
func ProjectPath(project string) (string, error) {
	if strings.TrimSpace(project) == "" {
		return "", fmt.Errorf("project name is empty")
	}
	if strings.ContainsRune(project, 0) {
		return "", fmt.Errorf("project name contains a NUL byte: %q", project)
	}
	for _, segment := range strings.Split(filepath.ToSlash(project), "/") {
		if segment == ".." {
			return "", fmt.Errorf("parent traversal is not allowed: %q", project)
		}
	}

	clean := filepath.Clean(filepath.FromSlash(project))
	if clean == "." {
		return "", fmt.Errorf("project name resolves to the workspace itself: %q", project)
	}
	if filepath.IsAbs(clean) || strings.HasPrefix(filepath.ToSlash(project), "/") {
		return "", fmt.Errorf("absolute project names are not allowed: %q", project)
	}
	return clean, nil
}

// SafeJoinUnder places a project checkout under the workspace root and
// returns its absolute path.
func SafeJoinUnder(workspace, project string) (string, error) {
	rel, err := ProjectPath(project)
	if err != nil {
		return "", err
	}
	return EnsureUnderRoot(workspace, filepath.Join(workspace, rel))
}

// EnsureUnderRoot resolves candidate to an absolute path and fails when it
// lies outside root.
func EnsureUnderRoot(root, candidate string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	candAbs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve checkout path: %w", err)
	}

	rel, err := filepath.Rel(rootAbs, candAbs)
	if err != nil {
		return "", fmt.Errorf("compare paths: %w", err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("checkout path escapes workspace: %q", candidate)
	}
	return candAbs, nil
}
