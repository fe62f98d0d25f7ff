// Package engine keeps the index in line with the repositories named by the
// tenant configuration.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BadgerOps/jobindex/internal/config"
	"github.com/BadgerOps/jobindex/internal/connection"
	"github.com/BadgerOps/jobindex/internal/parser"
	"github.com/BadgerOps/jobindex/internal/scraper"
	"github.com/BadgerOps/jobindex/internal/store"
	"github.com/BadgerOps/jobindex/internal/tenant"
)

const logTimeFormat = "2006-01-02T15:04:05Z"

// Report summarizes one scrape run.
type Report struct {
	RunID        int64
	StartTime    time.Time
	EndTime      time.Time
	DeleteOnly   bool
	Repos        []string // repositories included in the outdated sweep
	Failed       []string
	JobsSaved    int
	RolesSaved   int
	JobsDeleted  int
	RolesDeleted int
	ReposDeleted int
}

// merge adds the counts of a sub-run to r.
func (r *Report) merge(sub *Report) {
	r.Failed = append(r.Failed, sub.Failed...)
	r.JobsDeleted += sub.JobsDeleted
	r.RolesDeleted += sub.RolesDeleted
	r.ReposDeleted += sub.ReposDeleted
}

// CachedRepo is what the scraper remembers about an indexed repository.
type CachedRepo struct {
	Provider   string
	ScrapeTime time.Time
}

// Reconciler orchestrates tenant resolution, scraping, parsing and indexing.
type Reconciler struct {
	store       *store.Store
	connections *connection.Registry
	config      *config.Config
	logger      *slog.Logger
	now         func() time.Time

	// first pause after a failed event receive
	receiveBackoff time.Duration

	cacheMu sync.RWMutex
	cache   map[string]CachedRepo

	// repoLocks serializes overlapping runs per repository.
	locksMu   sync.Mutex
	repoLocks map[string]*sync.Mutex

	// activeTracker tracks progress for the most recent run.
	// Protected by trackerMu.
	trackerMu     sync.RWMutex
	activeTracker *ScrapeTracker
}

// NewReconciler creates a new Reconciler.
func NewReconciler(
	st *store.Store,
	connections *connection.Registry,
	cfg *config.Config,
	logger *slog.Logger,
) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:       st,
		connections: connections,
		config:      cfg,
		logger:      logger,
		now:         time.Now,
		cache:       make(map[string]CachedRepo),

		receiveBackoff: minReceiveBackoff,
		repoLocks:   make(map[string]*sync.Mutex),
	}
}

// ActiveProgress returns the tracker of the current or last run, or nil.
func (r *Reconciler) ActiveProgress() *ScrapeTracker {
	r.trackerMu.RLock()
	defer r.trackerMu.RUnlock()
	return r.activeTracker
}

func (r *Reconciler) setTracker(t *ScrapeTracker) {
	r.trackerMu.Lock()
	defer r.trackerMu.Unlock()
	r.activeTracker = t
}

// ============================================================================
// Repo cache
// ============================================================================

// InitRepoCache loads the repo cache from the indexed repositories. Repos
// whose provider has no configured connection get an empty provider and are
// left out of the periodic re-scrape.
func (r *Reconciler) InitRepoCache(ctx context.Context) error {
	r.logger.Info("Initializing repository cache")

	repos, err := r.store.ListRepos(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize repo cache: %w", err)
	}

	providers := make(map[string]bool)
	for _, conn := range r.connections.All() {
		providers[conn.Provider()] = true
	}

	cache := make(map[string]CachedRepo, len(repos))
	for _, repo := range repos {
		provider := repo.Provider
		if !providers[provider] {
			provider = ""
		}
		cache[repo.RepoName] = CachedRepo{Provider: provider, ScrapeTime: repo.ScrapeTime}
	}

	r.cacheMu.Lock()
	r.cache = cache
	r.cacheMu.Unlock()

	r.logger.Info("Repository cache initialized", "repos", len(cache))
	return nil
}

// RepoCache returns a copy of the repo cache
func (r *Reconciler) RepoCache() map[string]CachedRepo {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	out := make(map[string]CachedRepo, len(r.cache))
	for name, entry := range r.cache {
		out[name] = entry
	}
	return out
}

func (r *Reconciler) cachedRepo(name string) (CachedRepo, bool) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	entry, ok := r.cache[name]
	return entry, ok
}

func (r *Reconciler) cacheRepo(name, provider string, scrapeTime time.Time) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	r.cache[name] = CachedRepo{Provider: provider, ScrapeTime: scrapeTime}
}

func (r *Reconciler) uncacheRepos(names []string) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	for _, name := range names {
		delete(r.cache, name)
	}
}

// lockRepo acquires the per-repository lock and returns its release func.
func (r *Reconciler) lockRepo(name string) func() {
	r.locksMu.Lock()
	mu, ok := r.repoLocks[name]
	if !ok {
		mu = &sync.Mutex{}
		r.repoLocks[name] = mu
	}
	r.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// ============================================================================
// Scrape runs
// ============================================================================

// ScrapeFull scrapes repos, or every repository of the tenant configuration
// when repos is empty.
func (r *Reconciler) ScrapeFull(ctx context.Context, repos []string) (*Report, error) {
	if len(repos) == 0 {
		tenants, err := r.resolveTenants(ctx)
		if err != nil {
			return nil, err
		}
		repos = tenants.Repos()
	}
	return r.ScrapeRepoList(ctx, repos, false)
}

// ScrapeOutdated scrapes every cached repository that was not scraped within
// the force-scrape interval. It returns a nil report when nothing is due.
func (r *Reconciler) ScrapeOutdated(ctx context.Context) (*Report, error) {
	interval := r.config.ForceScrapeAfter()
	threshold := r.now().UTC().Add(-interval)

	var repos []string
	r.cacheMu.RLock()
	for name, entry := range r.cache {
		if entry.Provider != "" && entry.ScrapeTime.Before(threshold) {
			repos = append(repos, name)
		}
	}
	r.cacheMu.RUnlock()
	sort.Strings(repos)

	if len(repos) == 0 {
		r.logger.Debug("Found no repos which weren't scraped recently", "interval", interval)
		return nil, nil
	}
	r.logger.Info("Found repos which weren't scraped recently", "interval", interval, "repos", repos)
	return r.ScrapeRepoList(ctx, repos, false)
}

// ScrapeRepoList reconciles the index for repos. Repos that the tenant
// configuration no longer names are handled by a delete-only sub-run first.
// With deleteOnly set, all indexed data of repos is removed.
func (r *Reconciler) ScrapeRepoList(ctx context.Context, repos []string, deleteOnly bool) (*Report, error) {
	scrapeTime := r.now().UTC()
	r.logger.Info("Using scraping time", "scrape_time", scrapeTime.Format(logTimeFormat), "delete_only", deleteOnly)

	tracker := NewScrapeTracker(len(repos), deleteOnly)
	tracker.SetMessage("Resolving tenant configuration")
	r.setTracker(tracker)

	run := &store.ScrapeRun{
		StartTime:  scrapeTime,
		DeleteOnly: deleteOnly,
		Repos:      len(repos),
		Status:     "running",
	}
	if err := r.store.CreateScrapeRun(ctx, run); err != nil {
		r.logger.Error("failed to create scrape run record", "error", err)
		return nil, fmt.Errorf("failed to create scrape run: %w", err)
	}

	report, err := r.scrapeRepoList(ctx, tracker, scrapeTime, repos, deleteOnly)

	run.EndTime = r.now().UTC()
	switch {
	case err != nil:
		tracker.SetPhase(PhaseFailed)
		tracker.SetMessage("Scrape failed: " + err.Error())
		run.Status = "failed"
		run.ErrorMessage = err.Error()
	case len(report.Failed) > 0:
		tracker.SetPhase(PhaseComplete)
		tracker.SetMessage(fmt.Sprintf("Completed with %d failures", len(report.Failed)))
		run.Status = "partial"
	default:
		tracker.SetPhase(PhaseComplete)
		tracker.SetMessage(fmt.Sprintf("Scrape complete: %d repos", len(report.Repos)))
		run.Status = "success"
	}
	if report != nil {
		run.ReposFailed = len(report.Failed)
		run.JobsSaved = report.JobsSaved
		run.RolesSaved = report.RolesSaved
		run.JobsDeleted = report.JobsDeleted
		run.RolesDeleted = report.RolesDeleted
		run.ReposDeleted = report.ReposDeleted
	}
	// The run context may already be cancelled; the record is still written.
	if uerr := r.store.UpdateScrapeRun(context.WithoutCancel(ctx), run); uerr != nil {
		r.logger.Error("failed to update scrape run record", "error", uerr)
	}

	if err != nil {
		return report, err
	}

	report.RunID = run.ID
	report.EndTime = run.EndTime
	r.logger.Info("scrape completed",
		"repos", len(report.Repos),
		"failed", len(report.Failed),
		"jobs_saved", report.JobsSaved,
		"roles_saved", report.RolesSaved,
		"jobs_deleted", report.JobsDeleted,
		"roles_deleted", report.RolesDeleted,
		"repos_deleted", report.ReposDeleted,
		"duration", report.EndTime.Sub(report.StartTime),
	)
	return report, nil
}

func (r *Reconciler) scrapeRepoList(ctx context.Context, tracker *ScrapeTracker, scrapeTime time.Time, repos []string, deleteOnly bool) (*Report, error) {
	report := &Report{StartTime: scrapeTime, DeleteOnly: deleteOnly}

	tracker.SetPhase(PhaseResolvingTenants)
	tenants, err := r.resolveTenants(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.saveTenants(ctx, tenants.Tenants, scrapeTime); err != nil {
		return nil, err
	}

	if deleteOnly {
		r.logger.Info("Deleting the following repositories", "repos", repos)
		report.Repos = repos
		if err := r.sweep(ctx, tracker, report, scrapeTime, true); err != nil {
			return report, err
		}
		return report, nil
	}

	var valid, invalid []string
	for _, name := range repos {
		if _, ok := tenants.RepoMap[name]; ok {
			valid = append(valid, name)
		} else {
			invalid = append(invalid, name)
		}
	}

	if len(invalid) > 0 {
		r.logger.Warn("Repos are not part of the tenant sources, deleting their data", "repos", invalid)
		sub := &Report{StartTime: scrapeTime, DeleteOnly: true, Repos: invalid}
		if err := r.sweep(ctx, tracker, sub, scrapeTime, true); err != nil {
			return report, err
		}
		report.merge(sub)
	}

	r.logger.Info("Scraping the following repositories", "repos", valid)
	tracker.SetPhase(PhaseScraping)
	tracker.SetTotal(len(valid))
	tracker.SetMessage(fmt.Sprintf("Scraping %d repos", len(valid)))

	pool := NewPool(r.config.Scraper.Workers, r.logger)
	pool.OnComplete = tracker.RepoDone
	results := pool.Execute(ctx, valid, r.scrapeRepoFunc(tenants, scrapeTime))

	for _, res := range results {
		if res.Error != nil {
			report.Failed = append(report.Failed, res.Repo)
		}
		if res.Dropped {
			continue
		}
		report.Repos = append(report.Repos, res.Repo)
		report.JobsSaved += res.Jobs
		report.RolesSaved += res.Roles
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}
	if err := r.sweep(ctx, tracker, report, scrapeTime, false); err != nil {
		return report, err
	}
	return report, nil
}

// resolveTenants reads the tenant sources afresh and builds the repo map.
func (r *Reconciler) resolveTenants(ctx context.Context) (*tenant.Parser, error) {
	p := tenant.NewParser(r.logger)
	sources := r.config.TenantSources

	if sources.Repo != "" {
		conn, ok := r.connections.Get(sources.Connection)
		if !ok {
			return nil, config.Errorf("Cannot load tenant sources from repo '%s'. Connection '%s' is not configured", sources.Repo, sources.Connection)
		}
		repo, err := conn.NewRepository(ctx, sources.Repo)
		if err != nil {
			return nil, config.Errorf("Cannot load tenant sources from repo '%s': %v", sources.Repo, err)
		}
		if err := p.LoadRepository(ctx, repo); err != nil {
			return nil, err
		}
	} else if err := p.LoadFile(sources.File); err != nil {
		return nil, err
	}

	p.Parse()
	return p, nil
}

func (r *Reconciler) saveTenants(ctx context.Context, names []string, scrapeTime time.Time) error {
	tenants := make([]store.ZuulTenant, 0, len(names))
	for _, name := range names {
		tenants = append(tenants, store.ZuulTenant{ID: store.DocumentID(name), Name: name, ScrapeTime: scrapeTime})
	}
	r.logger.Debug("Updating tenant definitions", "count", len(tenants))
	if err := r.store.BulkSaveTenants(ctx, tenants); err != nil {
		return fmt.Errorf("failed to save tenants: %w", err)
	}
	deleted, err := r.store.DeleteOutdatedTenants(ctx, scrapeTime)
	if err != nil {
		return fmt.Errorf("failed to delete outdated tenants: %w", err)
	}
	if deleted > 0 {
		r.logger.Info("Deleted outdated tenants", "count", deleted)
	}
	return nil
}

// scrapeRepoFunc returns the per-repository step run by the pool.
func (r *Reconciler) scrapeRepoFunc(tenants *tenant.Parser, scrapeTime time.Time) RepoFunc {
	return func(ctx context.Context, name string) RepoResult {
		unlock := r.lockRepo(name)
		defer unlock()

		logger := r.logger.With("repo", name)

		// A run that started later already indexed this repo. Writing now
		// would replace fresher records with older content.
		if cached, ok := r.cachedRepo(name); ok && cached.ScrapeTime.After(scrapeTime) {
			logger.Info("Repo was indexed by a newer run, skipping",
				"cached_scrape_time", cached.ScrapeTime.Format(logTimeFormat))
			return RepoResult{Dropped: true}
		}

		entry := tenants.RepoMap[name]
		conn, ok := r.connections.Get(entry.ConnectionName)
		if !ok {
			logger.Error("Unable to find connection for repo, keeping its data",
				"connection", entry.ConnectionName)
			return RepoResult{Dropped: true}
		}

		repo, err := conn.NewRepository(ctx, name)
		if err != nil {
			logger.Warn("Skipping repo", "connection", conn.Name(), "error", err)
			return RepoResult{Error: err}
		}

		jobFiles, roleFiles, err := scraper.New(repo, entry.Tenants.ExtraPaths(), logger).Scrape(ctx)
		if err != nil {
			return RepoResult{Error: err}
		}
		jobs, roles := parser.New(repo, entry.Tenants, jobFiles, roleFiles, scrapeTime,
			r.config.IsReusable(name), logger).Parse(ctx)

		// A failed write leaves the previous records in place: the repo is
		// kept out of the sweep.
		logger.Debug("Updating job definitions", "count", len(jobs))
		if err := r.store.BulkSaveJobs(ctx, jobs); err != nil {
			return RepoResult{Error: err, Dropped: true}
		}
		logger.Debug("Updating role definitions", "count", len(roles))
		if err := r.store.BulkSaveRoles(ctx, roles); err != nil {
			return RepoResult{Error: err, Dropped: true}
		}
		gitRepo := store.GitRepo{
			ID:         store.DocumentID(name),
			RepoName:   name,
			Provider:   conn.Provider(),
			ScrapeTime: scrapeTime,
		}
		if err := r.store.BulkSaveRepos(ctx, []store.GitRepo{gitRepo}); err != nil {
			return RepoResult{Error: err, Dropped: true}
		}

		r.cacheRepo(name, conn.Provider(), scrapeTime)
		return RepoResult{Jobs: len(jobs), Roles: len(roles)}
	}
}

// sweep deletes every job, role and repository record of report.Repos older
// than scrapeTime.
func (r *Reconciler) sweep(ctx context.Context, tracker *ScrapeTracker, report *Report, scrapeTime time.Time, deleteOnly bool) error {
	if len(report.Repos) == 0 {
		return nil
	}
	tracker.SetPhase(PhaseDeletingStale)
	r.logger.Info("Deleting outdated data",
		"older_than", scrapeTime.Format(logTimeFormat), "repos", report.Repos)

	var errs []error

	jobs, err := r.store.DeleteOutdatedJobs(ctx, scrapeTime, report.Repos)
	if err != nil {
		errs = append(errs, err)
	}
	roles, err := r.store.DeleteOutdatedRoles(ctx, scrapeTime, report.Repos)
	if err != nil {
		errs = append(errs, err)
	}
	repos, err := r.store.DeleteOutdatedRepos(ctx, scrapeTime, report.Repos)
	if err != nil {
		errs = append(errs, err)
	}

	report.JobsDeleted += int(jobs)
	report.RolesDeleted += int(roles)
	report.ReposDeleted += int(repos)
	r.logger.Info("Deleted outdated data", "jobs", jobs, "roles", roles, "repos", repos)

	if deleteOnly {
		r.uncacheRepos(report.Repos)
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to delete outdated data for %s: %w", strings.Join(report.Repos, ", "), errors.Join(errs...))
	}
	return nil
}
