package engine

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/BadgerOps/jobindex/internal/store"
)

func TestNewReconcilerDefaultLogger(t *testing.T) {
	r := NewReconciler(nil, nil, nil, nil)
	if r.logger == nil {
		t.Fatal("expected default logger")
	}
	if r.ActiveProgress() != nil {
		t.Error("expected no active tracker")
	}
}

func TestScrapeRepoList(t *testing.T) {
	ctx := context.Background()
	gh := newFakeGitHub(newRepo1(), newRepo2())
	r, st := newTestReconciler(t, testTenants, gh)

	report, err := r.ScrapeRepoList(ctx, []string{"orga/repo1", "orga/repo2"}, false)
	if err != nil {
		t.Fatalf("ScrapeRepoList failed: %v", err)
	}

	if report.JobsSaved != 3 {
		t.Errorf("expected 3 jobs saved, got %d", report.JobsSaved)
	}
	if report.RolesSaved != 1 {
		t.Errorf("expected 1 role saved, got %d", report.RolesSaved)
	}
	if !reflect.DeepEqual(report.Repos, []string{"orga/repo1", "orga/repo2"}) {
		t.Errorf("unexpected repos: %v", report.Repos)
	}
	if len(report.Failed) != 0 {
		t.Errorf("expected no failures, got %v", report.Failed)
	}

	wantJobs := []string{"orga/repo1:job-a", "orga/repo1:job-b", "orga/repo2:job-c"}
	if got := jobNames(t, st); !reflect.DeepEqual(got, wantJobs) {
		t.Errorf("expected jobs %v, got %v", wantJobs, got)
	}
	if got := roleNames(t, st); !reflect.DeepEqual(got, []string{"orga/repo1:role-x"}) {
		t.Errorf("unexpected roles: %v", got)
	}

	job, err := st.GetJob(ctx, store.DocumentID("orga/repo1job-a"))
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if !reflect.DeepEqual(job.Tenants, []string{"foo", "bar"}) {
		t.Errorf("unexpected tenants: %v", job.Tenants)
	}
	if !strings.Contains(job.DescriptionHTML, "<strong>a</strong>") {
		t.Errorf("description not rendered: %q", job.DescriptionHTML)
	}
	if !job.ScrapeTime.Equal(report.StartTime) {
		t.Errorf("expected scrape time %v, got %v", report.StartTime, job.ScrapeTime)
	}

	repos, err := st.ListRepos(ctx)
	if err != nil {
		t.Fatalf("ListRepos failed: %v", err)
	}
	if len(repos) != 2 || repos[0].RepoName != "orga/repo1" || repos[0].Provider != "github" {
		t.Errorf("unexpected repos: %+v", repos)
	}
	if repos[0].ID != store.DocumentID("orga/repo1") {
		t.Errorf("unexpected repo id %s", repos[0].ID)
	}

	tenants, err := st.ListTenants(ctx)
	if err != nil {
		t.Fatalf("ListTenants failed: %v", err)
	}
	if len(tenants) != 2 {
		t.Errorf("expected 2 tenants, got %d", len(tenants))
	}

	cache := r.RepoCache()
	if got := cache["orga/repo2"]; got.Provider != "github" || !got.ScrapeTime.Equal(report.StartTime) {
		t.Errorf("unexpected cache entry: %+v", got)
	}

	runs, err := st.ListScrapeRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListScrapeRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 scrape run, got %d", len(runs))
	}
	if runs[0].Status != "success" || runs[0].JobsSaved != 3 || runs[0].Repos != 2 {
		t.Errorf("unexpected scrape run: %+v", runs[0])
	}
	if runs[0].ID != report.RunID {
		t.Errorf("expected run id %d, got %d", runs[0].ID, report.RunID)
	}

	progress := r.ActiveProgress().Snapshot()
	if progress.Phase != PhaseComplete || progress.CompletedRepos != 2 {
		t.Errorf("unexpected progress: %+v", progress)
	}
}

func TestScrapeRepoListTwiceKeepsDocuments(t *testing.T) {
	ctx := context.Background()
	r, st := newTestReconciler(t, testTenants, newFakeGitHub(newRepo1(), newRepo2()))
	repos := []string{"orga/repo1", "orga/repo2"}

	snapshot := func() (map[string]time.Time, map[string]time.Time) {
		jobs, err := st.SearchJobs(ctx, "", 0)
		if err != nil {
			t.Fatalf("SearchJobs failed: %v", err)
		}
		roles, err := st.SearchRoles(ctx, "", 0)
		if err != nil {
			t.Fatalf("SearchRoles failed: %v", err)
		}
		jobTimes := make(map[string]time.Time, len(jobs))
		for _, j := range jobs {
			jobTimes[j.ID] = j.ScrapeTime
		}
		roleTimes := make(map[string]time.Time, len(roles))
		for _, ro := range roles {
			roleTimes[ro.ID] = ro.ScrapeTime
		}
		return jobTimes, roleTimes
	}

	if _, err := r.ScrapeRepoList(ctx, repos, false); err != nil {
		t.Fatalf("first scrape failed: %v", err)
	}
	firstJobs, firstRoles := snapshot()

	report, err := r.ScrapeRepoList(ctx, repos, false)
	if err != nil {
		t.Fatalf("second scrape failed: %v", err)
	}
	secondJobs, secondRoles := snapshot()

	if len(firstJobs) != 3 || len(secondJobs) != len(firstJobs) {
		t.Fatalf("expected 3 jobs after both scrapes, got %d then %d", len(firstJobs), len(secondJobs))
	}
	if len(firstRoles) != 1 || len(secondRoles) != len(firstRoles) {
		t.Fatalf("expected 1 role after both scrapes, got %d then %d", len(firstRoles), len(secondRoles))
	}
	for id, first := range firstJobs {
		second, ok := secondJobs[id]
		if !ok {
			t.Errorf("job %s missing after second scrape", id)
			continue
		}
		if !second.After(first) {
			t.Errorf("job %s scrape time %v is not newer than %v", id, second, first)
		}
	}
	for id, first := range firstRoles {
		second, ok := secondRoles[id]
		if !ok {
			t.Errorf("role %s missing after second scrape", id)
			continue
		}
		if !second.After(first) {
			t.Errorf("role %s scrape time %v is not newer than %v", id, second, first)
		}
	}

	if report.JobsDeleted != 0 || report.RolesDeleted != 0 || report.ReposDeleted != 0 {
		t.Errorf("expected nothing deleted, got %+v", report)
	}
	indexed, err := st.ListRepos(ctx)
	if err != nil {
		t.Fatalf("ListRepos failed: %v", err)
	}
	if len(indexed) != 2 {
		t.Errorf("expected 2 repos, got %d", len(indexed))
	}
}

func TestScrapeRepoListRemovesDeletedJobs(t *testing.T) {
	ctx := context.Background()
	repo1 := newRepo1()
	r, st := newTestReconciler(t, testTenants, newFakeGitHub(repo1))

	if _, err := r.ScrapeRepoList(ctx, []string{"orga/repo1"}, false); err != nil {
		t.Fatalf("first scrape failed: %v", err)
	}

	repo1.Files["zuul.d/jobs.yaml"] = "- job:\n    name: job-a\n"
	delete(repo1.Files, "roles/role-x/README.md")

	report, err := r.ScrapeRepoList(ctx, []string{"orga/repo1"}, false)
	if err != nil {
		t.Fatalf("second scrape failed: %v", err)
	}
	if report.JobsDeleted != 1 {
		t.Errorf("expected 1 job deleted, got %d", report.JobsDeleted)
	}
	if report.RolesDeleted != 1 {
		t.Errorf("expected 1 role deleted, got %d", report.RolesDeleted)
	}
	if got := jobNames(t, st); !reflect.DeepEqual(got, []string{"orga/repo1:job-a"}) {
		t.Errorf("unexpected jobs: %v", got)
	}
	if got := roleNames(t, st); len(got) != 0 {
		t.Errorf("expected no roles, got %v", got)
	}
}

func TestScrapeRepoListInvalidRepo(t *testing.T) {
	ctx := context.Background()
	r, st := newTestReconciler(t, testTenants, newFakeGitHub(newRepo1()))

	seedJob(t, st, "orga/gone", "old-job", baseTime.Add(-time.Hour))
	seedRepo(t, st, "orga/gone", "github", baseTime.Add(-time.Hour))
	if err := r.InitRepoCache(ctx); err != nil {
		t.Fatalf("InitRepoCache failed: %v", err)
	}

	report, err := r.ScrapeRepoList(ctx, []string{"orga/repo1", "orga/gone"}, false)
	if err != nil {
		t.Fatalf("ScrapeRepoList failed: %v", err)
	}
	if report.JobsDeleted != 1 || report.ReposDeleted != 1 {
		t.Errorf("expected the invalid repo to be deleted, got %+v", report)
	}
	for _, name := range jobNames(t, st) {
		if strings.HasPrefix(name, "orga/gone:") {
			t.Errorf("job %s of invalid repo was kept", name)
		}
	}
	if _, ok := r.RepoCache()["orga/gone"]; ok {
		t.Error("invalid repo is still cached")
	}
	if _, ok := r.RepoCache()["orga/repo1"]; !ok {
		t.Error("valid repo is not cached")
	}
}

func TestScrapeRepoListMissingConnectionKeepsData(t *testing.T) {
	ctx := context.Background()
	r, st := newTestReconciler(t, testTenants, newFakeGitHub(newRepo1()))

	seedJob(t, st, "orga/orphan", "kept-job", baseTime.Add(-time.Hour))

	report, err := r.ScrapeRepoList(ctx, []string{"orga/orphan", "orga/repo1"}, false)
	if err != nil {
		t.Fatalf("ScrapeRepoList failed: %v", err)
	}
	if !reflect.DeepEqual(report.Repos, []string{"orga/repo1"}) {
		t.Errorf("expected only orga/repo1 to be swept, got %v", report.Repos)
	}
	if report.JobsDeleted != 0 {
		t.Errorf("expected nothing deleted, got %d", report.JobsDeleted)
	}
	names := jobNames(t, st)
	found := false
	for _, name := range names {
		if name == "orga/orphan:kept-job" {
			found = true
		}
	}
	if !found {
		t.Errorf("job of repo without connection was deleted: %v", names)
	}
}

func TestScrapeRepoListRepositoryFailure(t *testing.T) {
	ctx := context.Background()
	gh := newFakeGitHub(newRepo1())
	gh.failing["orga/repo2"] = errors.New("clone failed")
	r, st := newTestReconciler(t, testTenants, gh)

	seedJob(t, st, "orga/repo2", "stale-job", baseTime.Add(-time.Hour))

	report, err := r.ScrapeRepoList(ctx, []string{"orga/repo1", "orga/repo2"}, false)
	if err != nil {
		t.Fatalf("ScrapeRepoList failed: %v", err)
	}
	if !reflect.DeepEqual(report.Failed, []string{"orga/repo2"}) {
		t.Errorf("expected orga/repo2 to fail, got %v", report.Failed)
	}
	// The repo stays in the sweep list, so its outdated data is removed
	if report.JobsDeleted != 1 {
		t.Errorf("expected 1 job deleted, got %d", report.JobsDeleted)
	}

	runs, err := st.ListScrapeRuns(ctx, 1)
	if err != nil {
		t.Fatalf("ListScrapeRuns failed: %v", err)
	}
	if runs[0].Status != "partial" || runs[0].ReposFailed != 1 {
		t.Errorf("unexpected scrape run: %+v", runs[0])
	}
	if got := r.ActiveProgress().Snapshot(); got.FailedRepos != 1 {
		t.Errorf("expected 1 failed repo in progress, got %d", got.FailedRepos)
	}
}

func TestScrapeRepoListRecoversPanics(t *testing.T) {
	ctx := context.Background()
	gh := newFakeGitHub(newRepo1())
	gh.panics["orga/repo2"] = true
	r, st := newTestReconciler(t, testTenants, gh)

	seedJob(t, st, "orga/repo2", "kept-job", baseTime.Add(-time.Hour))

	report, err := r.ScrapeRepoList(ctx, []string{"orga/repo1", "orga/repo2"}, false)
	if err != nil {
		t.Fatalf("ScrapeRepoList failed: %v", err)
	}
	if !reflect.DeepEqual(report.Failed, []string{"orga/repo2"}) {
		t.Errorf("expected orga/repo2 to fail, got %v", report.Failed)
	}
	if report.JobsDeleted != 0 {
		t.Errorf("expected the panicking repo to keep its data, %d jobs deleted", report.JobsDeleted)
	}
}

func TestScrapeRepoListDeleteOnly(t *testing.T) {
	ctx := context.Background()
	r, st := newTestReconciler(t, testTenants, newFakeGitHub(newRepo1(), newRepo2()))

	if _, err := r.ScrapeRepoList(ctx, []string{"orga/repo1", "orga/repo2"}, false); err != nil {
		t.Fatalf("scrape failed: %v", err)
	}

	report, err := r.ScrapeRepoList(ctx, []string{"orga/repo1"}, true)
	if err != nil {
		t.Fatalf("delete-only scrape failed: %v", err)
	}
	if report.JobsDeleted != 2 || report.RolesDeleted != 1 || report.ReposDeleted != 1 {
		t.Errorf("unexpected delete counts: %+v", report)
	}
	if report.JobsSaved != 0 {
		t.Errorf("delete-only run saved %d jobs", report.JobsSaved)
	}
	if got := jobNames(t, st); !reflect.DeepEqual(got, []string{"orga/repo2:job-c"}) {
		t.Errorf("unexpected jobs: %v", got)
	}
	if _, ok := r.RepoCache()["orga/repo1"]; ok {
		t.Error("deleted repo is still cached")
	}

	runs, err := st.ListScrapeRuns(ctx, 1)
	if err != nil {
		t.Fatalf("ListScrapeRuns failed: %v", err)
	}
	if !runs[0].DeleteOnly || runs[0].JobsDeleted != 2 {
		t.Errorf("unexpected scrape run: %+v", runs[0])
	}
}

func TestScrapeRepoListSkipsReposIndexedByNewerRun(t *testing.T) {
	ctx := context.Background()
	r, st := newTestReconciler(t, testTenants, newFakeGitHub(newRepo1()))

	seedJob(t, st, "orga/repo1", "newer-job", baseTime.Add(time.Hour))
	r.cacheRepo("orga/repo1", "github", baseTime.Add(time.Hour))

	report, err := r.ScrapeRepoList(ctx, []string{"orga/repo1"}, false)
	if err != nil {
		t.Fatalf("ScrapeRepoList failed: %v", err)
	}
	if report.JobsSaved != 0 || len(report.Repos) != 0 {
		t.Errorf("expected the repo to be skipped, got %+v", report)
	}
	if got := jobNames(t, st); !reflect.DeepEqual(got, []string{"orga/repo1:newer-job"}) {
		t.Errorf("unexpected jobs: %v", got)
	}
}

func TestScrapeRepoListTenantError(t *testing.T) {
	ctx := context.Background()
	r, st := newTestReconciler(t, testTenants, newFakeGitHub())
	r.config.TenantSources.File = "testdata/does-not-exist.yaml"

	if _, err := r.ScrapeRepoList(ctx, []string{"orga/repo1"}, false); err == nil {
		t.Fatal("expected an error for missing tenant sources")
	}

	runs, err := st.ListScrapeRuns(ctx, 1)
	if err != nil {
		t.Fatalf("ListScrapeRuns failed: %v", err)
	}
	if runs[0].Status != "failed" || runs[0].ErrorMessage == "" {
		t.Errorf("unexpected scrape run: %+v", runs[0])
	}
	if got := r.ActiveProgress().Snapshot().Phase; got != PhaseFailed {
		t.Errorf("expected phase %s, got %s", PhaseFailed, got)
	}
}

func TestScrapeRepoListTenantsFromRepository(t *testing.T) {
	ctx := context.Background()
	gh := newFakeGitHub(newRepo1())
	config := newConfigRepo()
	gh.repos[config.Name()] = config
	r, st := newTestReconciler(t, testTenants, gh)
	r.config.TenantSources.File = ""
	r.config.TenantSources.Repo = config.Name()
	r.config.TenantSources.Connection = "github"

	report, err := r.ScrapeRepoList(ctx, []string{"orga/repo1"}, false)
	if err != nil {
		t.Fatalf("ScrapeRepoList failed: %v", err)
	}
	if report.JobsSaved != 2 {
		t.Errorf("expected 2 jobs saved, got %d", report.JobsSaved)
	}
	job, err := st.GetJob(ctx, store.DocumentID("orga/repo1job-b"))
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if !reflect.DeepEqual(job.Tenants, []string{"zuul"}) {
		t.Errorf("unexpected tenants: %v", job.Tenants)
	}

	r.config.TenantSources.Connection = "gitlab"
	if _, err := r.ScrapeRepoList(ctx, []string{"orga/repo1"}, false); err == nil {
		t.Error("expected an error for an unknown tenant sources connection")
	}
}

func TestScrapeFull(t *testing.T) {
	ctx := context.Background()
	r, st := newTestReconciler(t, testTenants, newFakeGitHub(newRepo1(), newRepo2()))

	report, err := r.ScrapeFull(ctx, nil)
	if err != nil {
		t.Fatalf("ScrapeFull failed: %v", err)
	}
	// orga/orphan is part of the tenant map but has no connection
	if !reflect.DeepEqual(report.Repos, []string{"orga/repo1", "orga/repo2"}) {
		t.Errorf("unexpected repos: %v", report.Repos)
	}
	if len(jobNames(t, st)) != 3 {
		t.Errorf("expected 3 jobs, got %v", jobNames(t, st))
	}

	report, err = r.ScrapeFull(ctx, []string{"orga/repo2"})
	if err != nil {
		t.Fatalf("ScrapeFull with repos failed: %v", err)
	}
	if !reflect.DeepEqual(report.Repos, []string{"orga/repo2"}) {
		t.Errorf("unexpected repos: %v", report.Repos)
	}
}

func TestInitRepoCache(t *testing.T) {
	ctx := context.Background()
	r, st := newTestReconciler(t, testTenants, newFakeGitHub())

	seedRepo(t, st, "orga/repo1", "github", baseTime.Add(-time.Hour))
	seedRepo(t, st, "other/repo", "gerrit", baseTime.Add(-2*time.Hour))

	if err := r.InitRepoCache(ctx); err != nil {
		t.Fatalf("InitRepoCache failed: %v", err)
	}

	cache := r.RepoCache()
	if len(cache) != 2 {
		t.Fatalf("expected 2 cached repos, got %d", len(cache))
	}
	if got := cache["orga/repo1"]; got.Provider != "github" || !got.ScrapeTime.Equal(baseTime.Add(-time.Hour)) {
		t.Errorf("unexpected entry: %+v", got)
	}
	if got := cache["other/repo"]; got.Provider != "" {
		t.Errorf("expected no provider without a gerrit connection, got %q", got.Provider)
	}
}

func TestScrapeOutdated(t *testing.T) {
	ctx := context.Background()
	r, st := newTestReconciler(t, testTenants, newFakeGitHub(newRepo1(), newRepo2()))

	seedRepo(t, st, "orga/repo1", "github", baseTime.Add(-48*time.Hour))
	seedRepo(t, st, "orga/repo2", "github", baseTime.Add(-time.Hour))
	seedRepo(t, st, "other/repo", "gerrit", baseTime.Add(-48*time.Hour))
	if err := r.InitRepoCache(ctx); err != nil {
		t.Fatalf("InitRepoCache failed: %v", err)
	}

	report, err := r.ScrapeOutdated(ctx)
	if err != nil {
		t.Fatalf("ScrapeOutdated failed: %v", err)
	}
	if report == nil {
		t.Fatal("expected a scrape run")
	}
	if !reflect.DeepEqual(report.Repos, []string{"orga/repo1"}) {
		t.Errorf("expected only the stale github repo, got %v", report.Repos)
	}

	report, err = r.ScrapeOutdated(ctx)
	if err != nil {
		t.Fatalf("second ScrapeOutdated failed: %v", err)
	}
	if report != nil {
		t.Errorf("expected nothing to scrape, got %+v", report)
	}
}
