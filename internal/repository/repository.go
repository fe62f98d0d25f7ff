// Package repository gives uniform read access to files hosted by GitHub,
// Gerrit or a plain git server.
package repository

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Entry types returned by DirectoryContents.
const (
	TypeFile = "file"
	TypeDir  = "dir"
)

// DefaultBranch is the branch every git-backed repository is read from.
const DefaultBranch = "master"

// Entry is one item of a directory listing.
type Entry struct {
	Path string
	Type string
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool { return e.Type == TypeDir }

// BlameRange attributes lines Start..End (inclusive, 1-based) to a commit date.
type BlameRange struct {
	Start int
	End   int
	Date  time.Time
}

// Repository is read-only access to the default branch of a hosted repository.
type Repository interface {
	Name() string
	FileContents(ctx context.Context, path string) (string, error)
	DirectoryContents(ctx context.Context, path string) (map[string]Entry, error)
	// LastChanged returns the zero time when the provider cannot tell.
	LastChanged(ctx context.Context, path string) (time.Time, error)
	// Blame returns an empty slice when the provider has no blame data.
	Blame(ctx context.Context, path string) ([]BlameRange, error)
	// URLForFile links to path. Zero start or end means no highlight.
	URLForFile(ctx context.Context, path string, start, end int) string
	URLForDirectory(path string) string
	Private() bool
}

// CheckoutError reports a file or directory that could not be read.
type CheckoutError struct {
	Path  string
	Cause string
}

func (e *CheckoutError) Error() string {
	return fmt.Sprintf("Failed to check out '%s': %s", e.Path, e.Cause)
}

func checkoutErr(path, cause string) error {
	return &CheckoutError{Path: path, Cause: cause}
}

// JoinURL joins base and parts with single slashes, trimming slashes at the
// joints only.
func JoinURL(base string, parts ...string) string {
	out := strings.TrimRight(base, "/")
	for _, p := range parts {
		out += "/" + strings.Trim(p, "/")
	}
	return out
}
