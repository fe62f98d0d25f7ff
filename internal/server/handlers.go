package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/BadgerOps/jobindex/internal/engine"
	"github.com/BadgerOps/jobindex/internal/store"
)

const (
	defaultSearchLimit = 100
	statusRunLimit     = 10
	progressInterval   = 2 * time.Second
)

// JobJSON is the API view of an indexed job
type JobJSON struct {
	ID              string     `json:"id"`
	Name            string     `json:"job_name"`
	Repo            string     `json:"repo"`
	Tenants         []string   `json:"tenants"`
	Description     string     `json:"description"`
	DescriptionHTML string     `json:"description_html"`
	Parent          *string    `json:"parent"`
	URL             string     `json:"url"`
	Platforms       []string   `json:"platforms"`
	Reusable        bool       `json:"reusable"`
	LineStart       int        `json:"line_start"`
	LineEnd         int        `json:"line_end"`
	LastUpdated     *time.Time `json:"last_updated"`
	ScrapeTime      time.Time  `json:"scrape_time"`
}

// RoleJSON is the API view of an indexed role
type RoleJSON struct {
	ID              string     `json:"id"`
	Name            string     `json:"role_name"`
	Repo            string     `json:"repo"`
	Tenants         []string   `json:"tenants"`
	Description     string     `json:"description"`
	DescriptionHTML string     `json:"description_html"`
	Changelog       string     `json:"changelog,omitempty"`
	ChangelogHTML   string     `json:"changelog_html,omitempty"`
	URL             string     `json:"url"`
	Platforms       []string   `json:"platforms"`
	Reusable        bool       `json:"reusable"`
	LastUpdated     *time.Time `json:"last_updated"`
	ScrapeTime      time.Time  `json:"scrape_time"`
}

// RepoJSON is a scraped repository with its block counts
type RepoJSON struct {
	Name       string    `json:"repo_name"`
	Provider   string    `json:"provider"`
	ScrapeTime time.Time `json:"scrape_time"`
	Jobs       int       `json:"jobs"`
	Roles      int       `json:"roles"`
}

// ScrapeRunJSON is the API view of a reconciliation run
type ScrapeRunJSON struct {
	ID           int64     `json:"id"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	DeleteOnly   bool      `json:"delete_only"`
	Repos        int       `json:"repos"`
	ReposFailed  int       `json:"repos_failed"`
	JobsSaved    int       `json:"jobs_saved"`
	RolesSaved   int       `json:"roles_saved"`
	JobsDeleted  int       `json:"jobs_deleted"`
	RolesDeleted int       `json:"roles_deleted"`
	ReposDeleted int       `json:"repos_deleted"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// StatusJSON is the response of /api/status
type StatusJSON struct {
	Runs        []ScrapeRunJSON        `json:"runs"`
	Tenants     []string               `json:"tenants"`
	Progress    *engine.ScrapeProgress `json:"progress"`
	Subscribers int                    `json:"subscribers"`
}

// DetailJSON is the response of /api/detail
type DetailJSON struct {
	BlockType string `json:"block_type"`
	Name      string `json:"name"`
	Results   any    `json:"results"`
}

func jobToJSON(j store.ZuulJob) JobJSON {
	return JobJSON{
		ID:              j.ID,
		Name:            j.Name,
		Repo:            j.Repo,
		Tenants:         j.Tenants,
		Description:     j.Description,
		DescriptionHTML: j.DescriptionHTML,
		Parent:          j.Parent,
		URL:             j.URL,
		Platforms:       j.Platforms,
		Reusable:        j.Reusable,
		LineStart:       j.LineStart,
		LineEnd:         j.LineEnd,
		LastUpdated:     j.LastUpdated,
		ScrapeTime:      j.ScrapeTime,
	}
}

func roleToJSON(r store.AnsibleRole) RoleJSON {
	return RoleJSON{
		ID:              r.ID,
		Name:            r.Name,
		Repo:            r.Repo,
		Tenants:         r.Tenants,
		Description:     r.Description,
		DescriptionHTML: r.DescriptionHTML,
		Changelog:       r.Changelog,
		ChangelogHTML:   r.ChangelogHTML,
		URL:             r.URL,
		Platforms:       r.Platforms,
		Reusable:        r.Reusable,
		LastUpdated:     r.LastUpdated,
		ScrapeTime:      r.ScrapeTime,
	}
}

func runToJSON(run store.ScrapeRun) ScrapeRunJSON {
	return ScrapeRunJSON{
		ID:           run.ID,
		StartTime:    run.StartTime,
		EndTime:      run.EndTime,
		DeleteOnly:   run.DeleteOnly,
		Repos:        run.Repos,
		ReposFailed:  run.ReposFailed,
		JobsSaved:    run.JobsSaved,
		RolesSaved:   run.RolesSaved,
		JobsDeleted:  run.JobsDeleted,
		RolesDeleted: run.RolesDeleted,
		ReposDeleted: run.ReposDeleted,
		Status:       run.Status,
		ErrorMessage: run.ErrorMessage,
	}
}

// handleAPIStatus returns recent scrape runs and the progress of the active one.
func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	runs, err := s.store.ListScrapeRuns(ctx, statusRunLimit)
	if err != nil {
		s.logger.Error("failed to list scrape runs", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list scrape runs")
		return
	}
	tenants, err := s.store.ListTenants(ctx)
	if err != nil {
		s.logger.Error("failed to list tenants", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list tenants")
		return
	}

	response := StatusJSON{
		Runs:    make([]ScrapeRunJSON, 0, len(runs)),
		Tenants: make([]string, 0, len(tenants)),
	}
	for _, run := range runs {
		response.Runs = append(response.Runs, runToJSON(run))
	}
	for _, t := range tenants {
		response.Tenants = append(response.Tenants, t.Name)
	}
	if s.reconciler != nil {
		if tracker := s.reconciler.ActiveProgress(); tracker != nil {
			snap := tracker.Snapshot()
			response.Progress = &snap
		}
	}
	if s.hub != nil {
		response.Subscribers = s.hub.Subscribers()
	}

	writeJSON(w, http.StatusOK, response)
}

// handleAPIProgress streams the active run's progress as server-sent events.
func (s *Server) handleAPIProgress(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		jsonError(w, http.StatusServiceUnavailable, "No scraper is running in this process")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	// The stream outlives the server's write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		var wait <-chan struct{}
		if tracker := s.reconciler.ActiveProgress(); tracker != nil {
			wait = tracker.Wait()
			sendEvent(w, flusher, "progress", tracker.Snapshot())
		}

		select {
		case <-ctx.Done():
			return
		case <-wait:
		case <-ticker.C:
		}
	}
}

// handleAPIRepos lists the scraped repositories with their block counts.
func (s *Server) handleAPIRepos(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	repos, err := s.store.ListRepos(ctx)
	if err != nil {
		s.logger.Error("failed to list repos", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list repos")
		return
	}

	response := make([]RepoJSON, 0, len(repos))
	for _, repo := range repos {
		counts, err := s.store.CountBlocks(ctx, repo.RepoName)
		if err != nil {
			s.logger.Error("failed to count blocks", "repo", repo.RepoName, "error", err)
			jsonError(w, http.StatusInternalServerError, "failed to count blocks")
			return
		}
		response = append(response, RepoJSON{
			Name:       repo.RepoName,
			Provider:   repo.Provider,
			ScrapeTime: repo.ScrapeTime,
			Jobs:       counts.Jobs,
			Roles:      counts.Roles,
		})
	}

	writeJSON(w, http.StatusOK, response)
}

// handleAPIJobs searches jobs by name and description.
func (s *Server) handleAPIJobs(w http.ResponseWriter, r *http.Request) {
	limit, ok := searchLimit(w, r)
	if !ok {
		return
	}

	jobs, err := s.store.SearchJobs(r.Context(), r.URL.Query().Get("q"), 0)
	if err != nil {
		s.logger.Error("failed to search jobs", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to search jobs")
		return
	}

	response := make([]JobJSON, 0)
	for _, job := range jobs {
		if job.Private {
			continue
		}
		if len(response) == limit {
			break
		}
		response = append(response, jobToJSON(job))
	}
	writeJSON(w, http.StatusOK, response)
}

// handleAPIRoles searches roles by name and description.
func (s *Server) handleAPIRoles(w http.ResponseWriter, r *http.Request) {
	limit, ok := searchLimit(w, r)
	if !ok {
		return
	}

	roles, err := s.store.SearchRoles(r.Context(), r.URL.Query().Get("q"), 0)
	if err != nil {
		s.logger.Error("failed to search roles", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to search roles")
		return
	}

	response := make([]RoleJSON, 0)
	for _, role := range roles {
		if role.Private {
			continue
		}
		if len(response) == limit {
			break
		}
		response = append(response, roleToJSON(role))
	}
	writeJSON(w, http.StatusOK, response)
}

// handleAPIDetail looks up a job or role by its exact name, optionally
// restricted to one repository.
func (s *Server) handleAPIDetail(w http.ResponseWriter, r *http.Request) {
	blockType := r.PathValue("block_type")
	name := r.PathValue("name")
	repo := r.URL.Query().Get("repo")

	var (
		results any
		found   int
		err     error
	)
	switch blockType {
	case "job":
		var jobs []JobJSON
		jobs, err = s.findJobs(r.Context(), name, repo)
		results, found = jobs, len(jobs)
	case "role":
		var roles []RoleJSON
		roles, err = s.findRoles(r.Context(), name, repo)
		results, found = roles, len(roles)
	default:
		jsonError(w, http.StatusBadRequest, fmt.Sprintf("Unknown block type '%s'", blockType))
		return
	}
	if err != nil {
		s.logger.Error("failed to look up block", "block_type", blockType, "name", name, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to look up "+blockType)
		return
	}
	if found == 0 {
		jsonError(w, http.StatusNotFound, fmt.Sprintf("No %s found with the name '%s'", blockType, name))
		return
	}

	writeJSON(w, http.StatusOK, DetailJSON{BlockType: blockType, Name: name, Results: results})
}

func (s *Server) findJobs(ctx context.Context, name, repo string) ([]JobJSON, error) {
	var candidates []store.ZuulJob
	if repo != "" {
		job, err := s.store.GetJob(ctx, store.DocumentID(repo+name))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		candidates = append(candidates, *job)
	} else {
		jobs, err := s.store.SearchJobs(ctx, name, 0)
		if err != nil {
			return nil, err
		}
		candidates = jobs
	}

	var results []JobJSON
	for _, job := range candidates {
		if job.Name == name && !job.Private {
			results = append(results, jobToJSON(job))
		}
	}
	return results, nil
}

func (s *Server) findRoles(ctx context.Context, name, repo string) ([]RoleJSON, error) {
	var candidates []store.AnsibleRole
	if repo != "" {
		role, err := s.store.GetRole(ctx, store.DocumentID(repo+name))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		candidates = append(candidates, *role)
	} else {
		roles, err := s.store.SearchRoles(ctx, name, 0)
		if err != nil {
			return nil, err
		}
		candidates = roles
	}

	var results []RoleJSON
	for _, role := range candidates {
		if role.Name == name && !role.Private {
			results = append(results, roleToJSON(role))
		}
	}
	return results, nil
}

// searchLimit parses the limit query parameter. It writes a 400 and returns
// false when the value is not a positive integer.
func searchLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultSearchLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		jsonError(w, http.StatusBadRequest, fmt.Sprintf("Invalid limit '%s'", raw))
		return 0, false
	}
	return limit, true
}

// sendEvent writes one server-sent event and flushes it.
func sendEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]any{"error": code, "msg": message})
}
