// Package scraper checks out the Zuul configuration files and Ansible role
// documentation of a repository.
package scraper

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/BadgerOps/jobindex/internal/repository"
)

// Zuul reads its configuration from these locations at the repo root
var (
	ZuulDirectories = []string{"zuul.d", ".zuul.d"}
	ZuulFiles       = []string{"zuul.yaml", ".zuul.yaml"}
)

// Readme and changelog candidates, highest priority first
var (
	ReadmeFiles    = []string{"README.rst", "README.md", "README.txt", "README"}
	ChangelogFiles = []string{"CHANGELOG.rst", "CHANGELOG.md", "CHANGELOG.txt", "CHANGELOG"}
)

const rolesDirectory = "roles"

// JobFile is a checked out Zuul configuration file
type JobFile struct {
	Content     string
	Blame       []repository.BlameRange
	LastChanged time.Time
}

// JobFiles maps repo-relative paths to job files
type JobFiles map[string]JobFile

// RoleFile is a checked out readme or changelog
type RoleFile struct {
	Path    string
	Content string
}

// RoleInfo holds the documentation found in one role directory
type RoleInfo struct {
	LastChanged time.Time
	Readme      *RoleFile
	Changelog   *RoleFile
}

// RoleFiles maps role names to their documentation
type RoleFiles map[string]RoleInfo

// Scraper collects job and role files from a single repository
type Scraper struct {
	repo       repository.Repository
	extraPaths []string
	logger     *slog.Logger
}

// New creates a scraper for repo. extraConfigPaths are additional files or
// directories holding Zuul configuration.
func New(repo repository.Repository, extraConfigPaths []string, logger *slog.Logger) *Scraper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scraper{
		repo:       repo,
		extraPaths: extraConfigPaths,
		logger:     logger.With("repo", repo.Name()),
	}
}

// Scrape checks out all job and role files. Files that cannot be read are
// logged and left out. The only error returned is a cancelled context.
func (s *Scraper) Scrape(ctx context.Context) (JobFiles, RoleFiles, error) {
	s.logger.Info("Scraping repository")

	jobFiles := s.checkOutJobFiles(ctx)
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	roleFiles := s.checkOutRoleFiles(ctx)
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	s.logger.Debug("Scrape finished", "job_files", len(jobFiles), "roles", len(roleFiles))
	return jobFiles, roleFiles, nil
}

func (s *Scraper) checkOutJobFiles(ctx context.Context) JobFiles {
	jobFiles := make(JobFiles)

	root, err := s.repo.DirectoryContents(ctx, "/")
	if err != nil {
		s.logRead("Could not list repository root", err)
		return jobFiles
	}

	for _, dir := range ZuulDirectories {
		if entry, ok := root[dir]; ok && entry.IsDir() {
			s.collectDirectory(ctx, entry.Path, jobFiles)
		}
	}

	for _, file := range ZuulFiles {
		if entry, ok := root[file]; ok && !entry.IsDir() {
			s.checkOutJobFile(ctx, entry.Path, jobFiles)
		}
	}

	for _, p := range s.extraPaths {
		if _, seen := jobFiles[p]; seen {
			continue
		}
		if _, err := s.repo.DirectoryContents(ctx, p); err == nil {
			s.collectDirectory(ctx, p, jobFiles)
			continue
		}
		s.checkOutJobFile(ctx, p, jobFiles)
	}

	return jobFiles
}

// collectDirectory adds every .yaml file below dir
func (s *Scraper) collectDirectory(ctx context.Context, dir string, jobFiles JobFiles) {
	entries, err := s.repo.DirectoryContents(ctx, dir)
	if err != nil {
		s.logRead("Could not list directory", err)
		return
	}

	for _, name := range sortedNames(entries) {
		if ctx.Err() != nil {
			return
		}
		entry := entries[name]
		if entry.IsDir() {
			s.collectDirectory(ctx, entry.Path, jobFiles)
			continue
		}
		if strings.HasSuffix(name, ".yaml") {
			s.checkOutJobFile(ctx, entry.Path, jobFiles)
		}
	}
}

func (s *Scraper) checkOutJobFile(ctx context.Context, path string, jobFiles JobFiles) {
	lastChanged, err := s.repo.LastChanged(ctx, path)
	if err != nil {
		s.logRead("Could not get last change of job file", err)
		return
	}
	blame, err := s.repo.Blame(ctx, path)
	if err != nil {
		s.logRead("Could not get blame of job file", err)
		return
	}
	content, err := s.repo.FileContents(ctx, path)
	if err != nil {
		s.logRead("Could not check out job file", err)
		return
	}

	jobFiles[path] = JobFile{
		Content:     content,
		Blame:       blame,
		LastChanged: lastChanged,
	}
}

func (s *Scraper) checkOutRoleFiles(ctx context.Context) RoleFiles {
	roleFiles := make(RoleFiles)

	roles, err := s.repo.DirectoryContents(ctx, rolesDirectory)
	if err != nil {
		// Most repositories have no roles
		s.logger.Debug("No roles directory", "error", err)
		return roleFiles
	}

	for _, name := range sortedNames(roles) {
		if ctx.Err() != nil {
			return roleFiles
		}
		entry := roles[name]
		if !entry.IsDir() {
			continue
		}

		lastChanged, err := s.repo.LastChanged(ctx, entry.Path)
		if err != nil {
			s.logRead("Could not get last change of role", err)
			continue
		}
		files, err := s.repo.DirectoryContents(ctx, entry.Path)
		if err != nil {
			s.logRead("Could not list role directory", err)
			continue
		}
		if len(files) == 0 {
			continue
		}

		roleFiles[name] = RoleInfo{
			LastChanged: lastChanged,
			Readme:      s.findMatchingFile(ctx, ReadmeFiles, files),
			Changelog:   s.findMatchingFile(ctx, ChangelogFiles, files),
		}
	}

	return roleFiles
}

// findMatchingFile checks out the first candidate present in files
func (s *Scraper) findMatchingFile(ctx context.Context, candidates []string, files map[string]repository.Entry) *RoleFile {
	for _, name := range candidates {
		entry, ok := files[name]
		if !ok || entry.IsDir() {
			continue
		}
		content, err := s.repo.FileContents(ctx, entry.Path)
		if err != nil {
			s.logRead("Could not check out role file", err)
			continue
		}
		return &RoleFile{Path: entry.Path, Content: content}
	}
	return nil
}

func (s *Scraper) logRead(msg string, err error) {
	var checkoutErr *repository.CheckoutError
	if errors.As(err, &checkoutErr) {
		s.logger.Warn(msg, "path", checkoutErr.Path, "error", checkoutErr.Cause)
		return
	}
	s.logger.Error(msg, "error", err)
}

func sortedNames(entries map[string]repository.Entry) []string {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
