package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/BadgerOps/jobindex/internal/config"
	"github.com/BadgerOps/jobindex/internal/connection"
	"github.com/BadgerOps/jobindex/internal/repository"
	"github.com/BadgerOps/jobindex/internal/repository/repotest"
	"github.com/BadgerOps/jobindex/internal/store"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const testTenants = `
- tenant:
    name: foo
    source:
      github:
        untrusted-projects:
          - orga/repo1
          - orga/repo2
      lost:
        untrusted-projects:
          - orga/orphan
- tenant:
    name: bar
    source:
      github:
        untrusted-projects:
          - orga/repo1
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConnection serves repotest repositories
type fakeConnection struct {
	name     string
	provider string
	repos    map[string]*repotest.Fake
	failing  map[string]error
	panics   map[string]bool
}

func newFakeConnection(name, provider string, repos ...*repotest.Fake) *fakeConnection {
	c := &fakeConnection{
		name:     name,
		provider: provider,
		repos:    make(map[string]*repotest.Fake),
		failing:  make(map[string]error),
		panics:   make(map[string]bool),
	}
	for _, r := range repos {
		c.repos[r.Name()] = r
	}
	return c
}

func (c *fakeConnection) Name() string               { return c.name }
func (c *fakeConnection) Provider() string           { return c.provider }
func (c *fakeConnection) Init(context.Context) error { return nil }

func (c *fakeConnection) NewRepository(_ context.Context, project string) (repository.Repository, error) {
	if c.panics[project] {
		panic("connection exploded")
	}
	if err, ok := c.failing[project]; ok {
		return nil, err
	}
	repo, ok := c.repos[project]
	if !ok {
		return nil, fmt.Errorf("repository %s not found", project)
	}
	return repo, nil
}

type fakeInstall struct {
	id     int64
	branch string
}

// fakeGitHub adds an installation map to fakeConnection
type fakeGitHub struct {
	*fakeConnection

	mu       sync.Mutex
	installs map[string]fakeInstall
	primed   int
	onPrime  func(installs map[string]fakeInstall)
}

func newFakeGitHub(repos ...*repotest.Fake) *fakeGitHub {
	return &fakeGitHub{
		fakeConnection: newFakeConnection("github", connection.ProviderGitHub, repos...),
		installs:       make(map[string]fakeInstall),
	}
}

func (g *fakeGitHub) ReposForInstallation(id int64) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var repos []string
	for name, inst := range g.installs {
		if inst.id == id {
			repos = append(repos, name)
		}
	}
	sort.Strings(repos)
	return repos
}

func (g *fakeGitHub) DefaultBranch(project string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	inst, ok := g.installs[project]
	return inst.branch, ok
}

func (g *fakeGitHub) PrimeInstallMap(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.primed++
	if g.onPrime != nil {
		g.onPrime(g.installs)
	}
	return nil
}

func (g *fakeGitHub) primeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.primed
}

// testClock returns baseTime plus one second more on every call
func testClock() func() time.Time {
	var mu sync.Mutex
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return baseTime.Add(time.Duration(n) * time.Second)
	}
}

func newRepo1() *repotest.Fake {
	return repotest.New("orga/repo1", map[string]string{
		"zuul.d/jobs.yaml": "- job:\n    name: job-a\n    description: Does **a**.\n" +
			"- job:\n    name: job-b\n",
		"roles/role-x/README.md": "# Role X\n",
	})
}

func newRepo2() *repotest.Fake {
	return repotest.New("orga/repo2", map[string]string{
		"zuul.yaml": "- job:\n    name: job-c\n    parent: job-a\n",
	})
}

func newConfigRepo() *repotest.Fake {
	return repotest.New("orga/config", map[string]string{
		"tenants/zuul/settings.yaml": "name: zuul\n",
		"tenants/zuul/sources.yaml":  "github:\n  untrusted-projects:\n    - orga/repo1\n",
	})
}

// newTestReconciler creates a reconciler on an in-memory store with the
// given tenant sources and connections
func newTestReconciler(t *testing.T, tenants string, conns ...connection.Connection) (*Reconciler, *store.Store) {
	t.Helper()

	st, err := store.New(":memory:", discardLogger())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	tenantFile := filepath.Join(t.TempDir(), "tenants.yaml")
	if err := os.WriteFile(tenantFile, []byte(tenants), 0o644); err != nil {
		t.Fatalf("failed to write tenant file: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.TenantSources.File = tenantFile
	cfg.Scraper.Workers = 2

	reg := connection.NewRegistry()
	for _, c := range conns {
		reg.Register(c)
	}

	r := NewReconciler(st, reg, cfg, discardLogger())
	r.now = testClock()
	return r, st
}

func jobNames(t *testing.T, st *store.Store) []string {
	t.Helper()
	jobs, err := st.SearchJobs(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("failed to search jobs: %v", err)
	}
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Repo+":"+j.Name)
	}
	return names
}

func roleNames(t *testing.T, st *store.Store) []string {
	t.Helper()
	roles, err := st.SearchRoles(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("failed to search roles: %v", err)
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Repo+":"+r.Name)
	}
	return names
}

func seedJob(t *testing.T, st *store.Store, repo, name string, scrapeTime time.Time) {
	t.Helper()
	job := store.ZuulJob{
		ID:         store.DocumentID(repo + name),
		Name:       name,
		Repo:       repo,
		Tenants:    []string{"foo"},
		Platforms:  []string{},
		ScrapeTime: scrapeTime,
	}
	if err := st.BulkSaveJobs(context.Background(), []store.ZuulJob{job}); err != nil {
		t.Fatalf("failed to seed job: %v", err)
	}
}

func seedRepo(t *testing.T, st *store.Store, name, provider string, scrapeTime time.Time) {
	t.Helper()
	repo := store.GitRepo{ID: store.DocumentID(name), RepoName: name, Provider: provider, ScrapeTime: scrapeTime}
	if err := st.BulkSaveRepos(context.Background(), []store.GitRepo{repo}); err != nil {
		t.Fatalf("failed to seed repo: %v", err)
	}
}
