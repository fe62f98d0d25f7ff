package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/BadgerOps/jobindex/internal/safety"
)

// GitRepository reads from a local bare clone of a remote repository.
type GitRepository struct {
	name   string
	repo   *git.Repository
	logger *slog.Logger
}

// NewGitRepository clones remoteURL into workspace/name, or fetches into an
// existing clone. Clone and fetch are each tried twice. A failed fetch falls
// back to the stale clone; a failed clone is returned as an error.
func NewGitRepository(ctx context.Context, name, remoteURL, workspace string, logger *slog.Logger) (*GitRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	repoPath, err := safety.SafeJoinUnder(workspace, name)
	if err != nil {
		return nil, fmt.Errorf("invalid repository name %q: %w", name, err)
	}

	repo, err := git.PlainOpen(repoPath)
	switch {
	case err == nil:
		if err := fetchWithRetry(ctx, repo); err != nil {
			logger.Warn("failed to fetch repo, using existing clone", "repo", name, "error", err)
		}
	case errors.Is(err, git.ErrRepositoryNotExists):
		repo, err = cloneWithRetry(ctx, repoPath, remoteURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to clone %s: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("failed to open clone of %s: %w", name, err)
	}

	return &GitRepository{name: name, repo: repo, logger: logger}, nil
}

// OpenGitRepository wraps an already opened repository.
func OpenGitRepository(name string, repo *git.Repository, logger *slog.Logger) *GitRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &GitRepository{name: name, repo: repo, logger: logger}
}

func cloneWithRetry(ctx context.Context, repoPath, remoteURL string, logger *slog.Logger) (*git.Repository, error) {
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		repo, err := git.PlainCloneContext(ctx, repoPath, true, &git.CloneOptions{
			URL:           remoteURL,
			ReferenceName: plumbing.NewBranchReferenceName(DefaultBranch),
			SingleBranch:  true,
			Depth:         1,
		})
		if err == nil {
			return repo, nil
		}
		lastErr = err
		logger.Warn("clone attempt failed", "path", repoPath, "attempt", attempt, "error", err)
		_ = os.RemoveAll(repoPath)
	}
	return nil, lastErr
}

func fetchWithRetry(ctx context.Context, repo *git.Repository) error {
	branch := plumbing.NewBranchReferenceName(DefaultBranch)
	refSpec := config.RefSpec(fmt.Sprintf("+%s:%s", branch, branch))

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		err := repo.FetchContext(ctx, &git.FetchOptions{
			RemoteName: "origin",
			RefSpecs:   []config.RefSpec{refSpec},
			Depth:      1,
			Force:      true,
		})
		if err == nil || errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func (r *GitRepository) Name() string { return r.name }

func (r *GitRepository) tree() (*object.Tree, error) {
	ref, err := r.repo.Reference(plumbing.NewBranchReferenceName(DefaultBranch), true)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", DefaultBranch, err)
	}
	commit, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to read commit %s: %w", ref.Hash(), err)
	}
	return commit.Tree()
}

func cleanPath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}

func (r *GitRepository) FileContents(_ context.Context, filePath string) (string, error) {
	tree, err := r.tree()
	if err != nil {
		return "", checkoutErr(filePath, err.Error())
	}
	p := cleanPath(filePath)
	if p == "" {
		return "", checkoutErr(filePath, "Path is not a file.")
	}

	entry, err := tree.FindEntry(p)
	if err != nil {
		return "", checkoutErr(filePath, "File not found.")
	}
	if entry.Mode == filemode.Dir || entry.Mode == filemode.Submodule {
		return "", checkoutErr(filePath, "Path is not a file.")
	}

	file, err := tree.TreeEntryFile(entry)
	if err != nil {
		return "", checkoutErr(filePath, err.Error())
	}
	if file.Size == 0 {
		return "", checkoutErr(filePath, "File is empty.")
	}
	contents, err := file.Contents()
	if err != nil {
		return "", checkoutErr(filePath, err.Error())
	}
	return contents, nil
}

func (r *GitRepository) DirectoryContents(_ context.Context, dirPath string) (map[string]Entry, error) {
	tree, err := r.tree()
	if err != nil {
		return nil, checkoutErr(dirPath, err.Error())
	}

	p := cleanPath(dirPath)
	if p != "" {
		entry, err := tree.FindEntry(p)
		if err != nil {
			return nil, checkoutErr(dirPath, "Directory not found.")
		}
		if entry.Mode != filemode.Dir {
			return nil, checkoutErr(dirPath, "Path is not a directory")
		}
		tree, err = tree.Tree(p)
		if err != nil {
			return nil, checkoutErr(dirPath, "Directory not found.")
		}
	}

	contents := make(map[string]Entry, len(tree.Entries))
	for _, e := range tree.Entries {
		typ := TypeFile
		if e.Mode == filemode.Dir {
			typ = TypeDir
		}
		contents[e.Name] = Entry{Path: path.Join(p, e.Name), Type: typ}
	}
	return contents, nil
}

// LastChanged is not tracked for shallow clones.
func (r *GitRepository) LastChanged(context.Context, string) (time.Time, error) {
	return time.Time{}, nil
}

// Blame is not available for shallow clones.
func (r *GitRepository) Blame(context.Context, string) ([]BlameRange, error) {
	return []BlameRange{}, nil
}

func (r *GitRepository) URLForFile(context.Context, string, int, int) string { return "" }

func (r *GitRepository) URLForDirectory(string) string { return "" }

func (r *GitRepository) Private() bool { return false }
