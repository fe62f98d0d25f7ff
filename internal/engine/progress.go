package engine

import (
	"sync"
	"time"
)

// ScrapePhase represents the current phase of a scrape run.
type ScrapePhase string

const (
	PhaseResolvingTenants ScrapePhase = "resolving-tenants"
	PhaseScraping         ScrapePhase = "scraping"
	PhaseDeletingStale    ScrapePhase = "deleting-stale"
	PhaseComplete         ScrapePhase = "complete"
	PhaseFailed           ScrapePhase = "failed"
)

// RepoEvent records a finished repository for the recent activity log.
type RepoEvent struct {
	Repo   string `json:"repo"`
	Status string `json:"status"` // "completed", "failed", "dropped"
	Error  string `json:"error,omitempty"`
	Jobs   int    `json:"jobs,omitempty"`
	Roles  int    `json:"roles,omitempty"`
}

// ScrapeProgress is a snapshot of the current scrape state, safe for JSON serialization.
type ScrapeProgress struct {
	Phase          ScrapePhase `json:"phase"`
	DeleteOnly     bool        `json:"delete_only"`
	TotalRepos     int         `json:"total_repos"`
	CompletedRepos int         `json:"completed_repos"`
	FailedRepos    int         `json:"failed_repos"`
	Percent        float64     `json:"percent"`
	RecentEvents   []RepoEvent `json:"recent_events,omitempty"`
	StartTime      time.Time   `json:"start_time"`
	Elapsed        string      `json:"elapsed"`
	Message        string      `json:"message,omitempty"`
}

// ScrapeTracker accumulates progress from pool workers in a thread-safe manner.
// Streaming handlers use Wait() to block until new updates are available.
type ScrapeTracker struct {
	mu sync.Mutex

	phase          ScrapePhase
	deleteOnly     bool
	totalRepos     int
	completedRepos int
	failedRepos    int
	startTime      time.Time
	message        string

	// Rolling log of recent repos (capped at 20)
	recentEvents []RepoEvent

	// Any update closes the old channel and replaces it with a new one.
	notify chan struct{}
}

// NewScrapeTracker creates a tracker for a run over totalRepos repositories.
func NewScrapeTracker(totalRepos int, deleteOnly bool) *ScrapeTracker {
	return &ScrapeTracker{
		phase:      PhaseResolvingTenants,
		deleteOnly: deleteOnly,
		totalRepos: totalRepos,
		startTime:  time.Now(),
		notify:     make(chan struct{}),
	}
}

// Snapshot returns a copy of the current progress state.
func (t *ScrapeTracker) Snapshot() ScrapeProgress {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pct float64
	if t.totalRepos > 0 {
		pct = float64(t.completedRepos+t.failedRepos) / float64(t.totalRepos) * 100
	} else if t.phase == PhaseComplete {
		pct = 100
	}

	recentEvents := make([]RepoEvent, len(t.recentEvents))
	copy(recentEvents, t.recentEvents)

	return ScrapeProgress{
		Phase:          t.phase,
		DeleteOnly:     t.deleteOnly,
		TotalRepos:     t.totalRepos,
		CompletedRepos: t.completedRepos,
		FailedRepos:    t.failedRepos,
		Percent:        pct,
		RecentEvents:   recentEvents,
		StartTime:      t.startTime,
		Elapsed:        time.Since(t.startTime).Truncate(time.Second).String(),
		Message:        t.message,
	}
}

// Wait returns a channel that will be closed when the next update occurs.
// Callers should select on this channel alongside a timeout for heartbeats.
func (t *ScrapeTracker) Wait() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.notify
}

// signal closes the current notify channel and replaces it with a new one.
// Must be called with t.mu held.
func (t *ScrapeTracker) signal() {
	close(t.notify)
	t.notify = make(chan struct{})
}

// SetPhase updates the current phase.
func (t *ScrapeTracker) SetPhase(phase ScrapePhase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = phase
	t.signal()
}

// SetTotal sets the number of repositories the run will process.
func (t *ScrapeTracker) SetTotal(total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalRepos = total
	t.signal()
}

// SetMessage sets a human-readable status message.
func (t *ScrapeTracker) SetMessage(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.message = msg
	t.signal()
}

// addRecentEvent prepends an event to the rolling log, capping at 20. Must be called with t.mu held.
func (t *ScrapeTracker) addRecentEvent(ev RepoEvent) {
	t.recentEvents = append([]RepoEvent{ev}, t.recentEvents...)
	if len(t.recentEvents) > 20 {
		t.recentEvents = t.recentEvents[:20]
	}
}

// RepoDone records the result of one repository.
func (t *ScrapeTracker) RepoDone(result RepoResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case result.Error != nil:
		t.failedRepos++
		t.addRecentEvent(RepoEvent{Repo: result.Repo, Status: "failed", Error: result.Error.Error()})
	case result.Dropped:
		t.completedRepos++
		t.addRecentEvent(RepoEvent{Repo: result.Repo, Status: "dropped"})
	default:
		t.completedRepos++
		t.addRecentEvent(RepoEvent{Repo: result.Repo, Status: "completed", Jobs: result.Jobs, Roles: result.Roles})
	}
	t.signal()
}
