package engine

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestScrapeTrackerSnapshot(t *testing.T) {
	tracker := NewScrapeTracker(4, false)

	snap := tracker.Snapshot()
	if snap.Phase != PhaseResolvingTenants {
		t.Errorf("expected phase %s, got %s", PhaseResolvingTenants, snap.Phase)
	}
	if snap.Percent != 0 {
		t.Errorf("expected 0%%, got %f", snap.Percent)
	}

	tracker.SetPhase(PhaseScraping)
	tracker.RepoDone(RepoResult{Repo: "orga/a", Jobs: 2, Roles: 1})
	tracker.RepoDone(RepoResult{Repo: "orga/b", Error: errors.New("clone failed")})
	tracker.RepoDone(RepoResult{Repo: "orga/c", Dropped: true})

	snap = tracker.Snapshot()
	if snap.CompletedRepos != 2 || snap.FailedRepos != 1 {
		t.Errorf("unexpected counts: %+v", snap)
	}
	if snap.Percent != 75 {
		t.Errorf("expected 75%%, got %f", snap.Percent)
	}
	if len(snap.RecentEvents) != 3 {
		t.Fatalf("expected 3 events, got %d", len(snap.RecentEvents))
	}
	// Newest first
	if snap.RecentEvents[0].Status != "dropped" || snap.RecentEvents[1].Error != "clone failed" {
		t.Errorf("unexpected events: %+v", snap.RecentEvents)
	}
	if snap.RecentEvents[2].Jobs != 2 || snap.RecentEvents[2].Roles != 1 {
		t.Errorf("unexpected completed event: %+v", snap.RecentEvents[2])
	}
}

func TestScrapeTrackerEmptyRunComplete(t *testing.T) {
	tracker := NewScrapeTracker(0, true)
	tracker.SetPhase(PhaseComplete)

	snap := tracker.Snapshot()
	if snap.Percent != 100 {
		t.Errorf("expected 100%%, got %f", snap.Percent)
	}
	if !snap.DeleteOnly {
		t.Error("expected delete-only run")
	}
}

func TestScrapeTrackerRecentEventsCapped(t *testing.T) {
	tracker := NewScrapeTracker(30, false)
	for i := 0; i < 30; i++ {
		tracker.RepoDone(RepoResult{Repo: fmt.Sprintf("orga/repo%d", i)})
	}

	snap := tracker.Snapshot()
	if len(snap.RecentEvents) != 20 {
		t.Errorf("expected 20 events, got %d", len(snap.RecentEvents))
	}
	if snap.RecentEvents[0].Repo != "orga/repo29" {
		t.Errorf("expected newest event first, got %s", snap.RecentEvents[0].Repo)
	}
}

func TestScrapeTrackerWait(t *testing.T) {
	tracker := NewScrapeTracker(1, false)
	ch := tracker.Wait()

	select {
	case <-ch:
		t.Fatal("channel closed before any update")
	default:
	}

	tracker.SetMessage("Scraping 1 repos")

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("channel was not closed by an update")
	}

	if got := tracker.Snapshot().Message; got != "Scraping 1 repos" {
		t.Errorf("unexpected message %q", got)
	}
}
