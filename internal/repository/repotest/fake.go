// Package repotest provides an in-memory Repository for tests.
package repotest

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/BadgerOps/jobindex/internal/repository"
)

// Fake serves files from a map of path to content.
type Fake struct {
	RepoName  string
	Files     map[string]string
	BlameData map[string][]repository.BlameRange
	Changed   map[string]time.Time
	IsPrivate bool
	BaseURL   string
	// Broken paths fail every call with a CheckoutError
	Broken map[string]bool

	mu    sync.Mutex
	calls map[string]int
}

var _ repository.Repository = (*Fake)(nil)

// New returns a fake repository with the given files
func New(name string, files map[string]string) *Fake {
	return &Fake{
		RepoName:  name,
		Files:     files,
		BlameData: make(map[string][]repository.BlameRange),
		Changed:   make(map[string]time.Time),
		Broken:    make(map[string]bool),
		BaseURL:   "https://github.example.com/" + name,
	}
}

// Calls returns how often method was invoked
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *Fake) record(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[method]++
}

func clean(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}

func (f *Fake) isDir(p string) bool {
	if p == "" {
		return true
	}
	for name := range f.Files {
		if strings.HasPrefix(name, p+"/") {
			return true
		}
	}
	return false
}

func (f *Fake) fail(p, cause string) error {
	return &repository.CheckoutError{Path: p, Cause: cause}
}

func (f *Fake) Name() string { return f.RepoName }

func (f *Fake) FileContents(_ context.Context, filePath string) (string, error) {
	f.record("FileContents")
	p := clean(filePath)
	if f.Broken[p] {
		return "", f.fail(filePath, "broken")
	}
	content, ok := f.Files[p]
	if !ok {
		if f.isDir(p) {
			return "", f.fail(filePath, "Path is not a file.")
		}
		return "", f.fail(filePath, "File not found.")
	}
	if content == "" {
		return "", f.fail(filePath, "File is empty.")
	}
	return content, nil
}

func (f *Fake) DirectoryContents(_ context.Context, dirPath string) (map[string]repository.Entry, error) {
	f.record("DirectoryContents")
	p := clean(dirPath)
	if f.Broken[p] {
		return nil, f.fail(dirPath, "broken")
	}
	if _, ok := f.Files[p]; ok {
		return nil, f.fail(dirPath, "Path is not a directory")
	}
	if !f.isDir(p) {
		return nil, f.fail(dirPath, "Directory not found.")
	}

	prefix := ""
	if p != "" {
		prefix = p + "/"
	}
	out := make(map[string]repository.Entry)
	for name := range f.Files {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		first, _, nested := strings.Cut(rest, "/")
		typ := repository.TypeFile
		if nested {
			typ = repository.TypeDir
		}
		out[first] = repository.Entry{Path: prefix + first, Type: typ}
	}
	return out, nil
}

func (f *Fake) LastChanged(_ context.Context, p string) (time.Time, error) {
	f.record("LastChanged")
	if f.Broken["lastchanged:"+clean(p)] {
		return time.Time{}, f.fail(p, "broken")
	}
	return f.Changed[clean(p)], nil
}

func (f *Fake) Blame(_ context.Context, p string) ([]repository.BlameRange, error) {
	f.record("Blame")
	if f.Broken["blame:"+clean(p)] {
		return nil, f.fail(p, "broken")
	}
	if b, ok := f.BlameData[clean(p)]; ok {
		return b, nil
	}
	return []repository.BlameRange{}, nil
}

func (f *Fake) URLForFile(_ context.Context, p string, start, end int) string {
	u := repository.JoinURL(f.BaseURL, "blob/master", p)
	if start > 0 {
		u += fmt.Sprintf("#L%d", start)
		if end > 0 {
			u += fmt.Sprintf("-L%d", end)
		}
	}
	return u
}

func (f *Fake) URLForDirectory(p string) string {
	return repository.JoinURL(f.BaseURL, "tree/master", p)
}

func (f *Fake) Private() bool { return f.IsPrivate }
