package repository

import (
	"context"
	"fmt"
)

// URLBuilder renders browse links for a git web front end.
type URLBuilder interface {
	FileURL(repo, path string, start int) string
	DirectoryURL(repo, path string) string
}

// CGitURLs builds cgit links below WebURL.
type CGitURLs struct {
	WebURL string
}

func (b CGitURLs) FileURL(repo, path string, start int) string {
	u := JoinURL(b.WebURL, repo, "tree", path)
	if start > 0 {
		u += fmt.Sprintf("#n%d", start)
	}
	return u
}

func (b CGitURLs) DirectoryURL(repo, path string) string {
	return JoinURL(b.WebURL, repo, "tree", path)
}

// GitwebURLs builds gitweb links below WebURL.
type GitwebURLs struct {
	WebURL string
}

func (b GitwebURLs) FileURL(repo, path string, start int) string {
	u := fmt.Sprintf("%s?p=%s.git;a=blob;f=%s", JoinURL(b.WebURL, "gitweb"), repo, path)
	if start > 0 {
		u += fmt.Sprintf("#l%d", start)
	}
	return u
}

func (b GitwebURLs) DirectoryURL(repo, path string) string {
	return fmt.Sprintf("%s?p=%s.git;a=tree;f=%s", JoinURL(b.WebURL, "gitweb"), repo, path)
}

// GerritRepository is a git clone whose links point at a web front end.
// Neither front end can highlight a line range, so only the start line is used.
type GerritRepository struct {
	*GitRepository
	urls URLBuilder
}

// NewGerritRepository wraps a git repository with a URL builder.
func NewGerritRepository(repo *GitRepository, urls URLBuilder) *GerritRepository {
	return &GerritRepository{GitRepository: repo, urls: urls}
}

func (r *GerritRepository) URLForFile(_ context.Context, path string, start, _ int) string {
	return r.urls.FileURL(r.name, path, start)
}

func (r *GerritRepository) URLForDirectory(path string) string {
	return r.urls.DirectoryURL(r.name, path)
}
