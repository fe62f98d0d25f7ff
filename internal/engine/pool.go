package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
)

// RepoFunc scrapes, parses and indexes a single repository.
type RepoFunc func(ctx context.Context, repo string) RepoResult

// RepoResult represents the outcome of processing one repository.
type RepoResult struct {
	Repo  string
	Jobs  int
	Roles int
	// Dropped is set when the repo must not take part in the outdated sweep,
	// e.g. because its connection is unknown.
	Dropped bool
	Error   error
	index   int // Internal: used to maintain result order
}

// Pool processes repositories concurrently using a worker pool pattern.
type Pool struct {
	workers int
	logger  *slog.Logger

	// OnComplete is called after each repository, successful or not.
	OnComplete func(result RepoResult)
}

// NewPool creates a new pool with the specified number of worker goroutines.
func NewPool(workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		workers: workers,
		logger:  logger,
	}
}

// Execute runs fn for every repository and waits for all to complete.
// The returned results maintain the same order as the input repos.
// If the context is cancelled, workers stop picking up new repos and the
// remaining ones are reported with the context error.
func (p *Pool) Execute(ctx context.Context, repos []string, fn RepoFunc) []RepoResult {
	if len(repos) == 0 {
		return []RepoResult{}
	}

	reposChan := make(chan repoWithIndex, len(repos))
	resultsChan := make(chan RepoResult, len(repos))

	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go p.worker(ctx, fn, reposChan, resultsChan, &wg)
	}

	// The channel is buffered for all repos, so this never blocks
	for i, repo := range repos {
		reposChan <- repoWithIndex{repo: repo, index: i}
	}
	close(reposChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	results := make([]RepoResult, 0, len(repos))
	for result := range resultsChan {
		results = append(results, result)
	}

	// Sort results by their original index to maintain order
	sort.Slice(results, func(i, j int) bool {
		return results[i].index < results[j].index
	})

	return results
}

// run calls fn and turns a panic into a failed result.
func (p *Pool) run(ctx context.Context, fn RepoFunc, repo string) (result RepoResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while processing repo", "repo", repo, "panic", r, "stack", string(debug.Stack()))
			result = RepoResult{Error: fmt.Errorf("panic: %v", r), Dropped: true}
		}
		result.Repo = repo
	}()
	return fn(ctx, repo)
}

// repoWithIndex pairs a repository with its original index for ordering results.
type repoWithIndex struct {
	repo  string
	index int
}

// worker processes repos from the repos channel and sends results to the results channel.
func (p *Pool) worker(ctx context.Context, fn RepoFunc, reposChan <-chan repoWithIndex, resultsChan chan<- RepoResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for item := range reposChan {
		var result RepoResult
		if err := ctx.Err(); err != nil {
			result = RepoResult{Repo: item.repo, Error: err}
		} else {
			result = p.run(ctx, fn, item.repo)
		}
		result.index = item.index

		if result.Error != nil {
			p.logger.Error("repo scrape failed", "repo", item.repo, "error", result.Error)
		} else if !result.Dropped {
			p.logger.Info("repo scrape completed", "repo", item.repo, "jobs", result.Jobs, "roles", result.Roles)
		}
		if p.OnComplete != nil {
			p.OnComplete(result)
		}

		resultsChan <- result
	}
}
