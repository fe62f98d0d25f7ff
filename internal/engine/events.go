package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/BadgerOps/jobindex/internal/connection"
	"github.com/BadgerOps/jobindex/internal/transport"
)

// installations is implemented by connections backed by a GitHub App.
type installations interface {
	ReposForInstallation(id int64) []string
	DefaultBranch(project string) (string, bool)
	PrimeInstallMap(ctx context.Context) error
}

var _ installations = (*connection.GitHubConnection)(nil)

type eventHandler func(r *Reconciler, ctx context.Context, payload json.RawMessage) error

var eventHandlers = map[string]eventHandler{
	"installation":              (*Reconciler).eventInstallation,
	"installation_repositories": (*Reconciler).eventInstallationRepositories,
	"push":                      (*Reconciler).eventPush,
}

type repoRef struct {
	FullName string `json:"full_name"`
}

func repoNames(refs []repoRef) []string {
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.FullName != "" {
			names = append(names, ref.FullName)
		}
	}
	return names
}

// HandleEvent dispatches a webhook event. Errors and panics of a handler are
// logged and never reach the caller, so one bad event cannot stop the loop.
func (r *Reconciler) HandleEvent(ctx context.Context, msg *transport.Message) {
	logger := r.logger.With("event", msg.Event, "delivery", msg.Delivery)
	logger.Info("Handling event")

	handler, ok := eventHandlers[msg.Event]
	if !ok {
		logger.Warn("Could not find an appropriate method to handle event")
		return
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Error("Panic while handling event", "panic", p, "stack", string(debug.Stack()))
		}
	}()

	if err := handler(r, ctx, msg.Payload); err != nil {
		logger.Error("Error while handling event", "error", err)
	}
}

// installationConn returns the first connection that knows GitHub App
// installations.
func (r *Reconciler) installationConn() (installations, bool) {
	for _, name := range r.connections.Names() {
		conn, _ := r.connections.Get(name)
		if inst, ok := conn.(installations); ok {
			return inst, true
		}
	}
	return nil, false
}

func (r *Reconciler) eventInstallation(ctx context.Context, payload json.RawMessage) error {
	var event struct {
		Action       string `json:"action"`
		Installation struct {
			ID int64 `json:"id"`
		} `json:"installation"`
		Repositories []repoRef `json:"repositories"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("invalid installation payload: %w", err)
	}

	switch event.Action {
	case "created":
		r.logger.Info("Scraping new installation", "installation", event.Installation.ID)
		_, err := r.ScrapeRepoList(ctx, repoNames(event.Repositories), false)
		return err

	case "deleted":
		r.logger.Info("Deleting data for installation", "installation", event.Installation.ID)
		inst, ok := r.installationConn()
		if !ok {
			return errors.New("no github connection configured")
		}
		// The payload does not list the repositories, the install map does
		repos := inst.ReposForInstallation(event.Installation.ID)
		if len(repos) == 0 {
			r.logger.Warn("Could not retrieve repo list for installation. Maybe we don't have access any longer.",
				"installation", event.Installation.ID)
			r.logger.Warn("Nothing to delete")
			return nil
		}
		_, err := r.ScrapeRepoList(ctx, repos, true)
		return err
	}

	r.logger.Debug("Ignoring installation action", "action", event.Action)
	return nil
}

func (r *Reconciler) eventInstallationRepositories(ctx context.Context, payload json.RawMessage) error {
	var event struct {
		Installation struct {
			ID int64 `json:"id"`
		} `json:"installation"`
		Added   []repoRef `json:"repositories_added"`
		Removed []repoRef `json:"repositories_removed"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("invalid installation_repositories payload: %w", err)
	}

	var errs []error
	if added := repoNames(event.Added); len(added) > 0 {
		r.logger.Info("Scraping new repositories for installation",
			"installation", event.Installation.ID, "count", len(added))
		if _, err := r.ScrapeRepoList(ctx, added, false); err != nil {
			errs = append(errs, err)
		}
	}
	if removed := repoNames(event.Removed); len(removed) > 0 {
		r.logger.Info("Deleting data from repositories for installation",
			"installation", event.Installation.ID, "count", len(removed))
		if _, err := r.ScrapeRepoList(ctx, removed, true); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Reconciler) eventPush(ctx context.Context, payload json.RawMessage) error {
	var event struct {
		Ref        string  `json:"ref"`
		Repository repoRef `json:"repository"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("invalid push payload: %w", err)
	}
	repoName := event.Repository.FullName

	inst, ok := r.installationConn()
	if !ok {
		return errors.New("no github connection configured")
	}

	defaultBranch, ok := inst.DefaultBranch(repoName)
	if !ok {
		r.logger.Info("Repo is not in the installation map, repriming", "repo", repoName)
		if err := inst.PrimeInstallMap(ctx); err != nil {
			return fmt.Errorf("failed to reprime installation map: %w", err)
		}
		if defaultBranch, ok = inst.DefaultBranch(repoName); !ok {
			r.logger.Warn("Repo is not accessible by any installation, ignoring push", "repo", repoName)
			return nil
		}
	}

	branch, isBranch := strings.CutPrefix(event.Ref, "refs/heads/")
	if !isBranch || branch != defaultBranch {
		r.logger.Info("Push event does not target the default branch, ignoring",
			"repo", repoName, "ref", event.Ref, "default_branch", defaultBranch)
		return nil
	}

	r.logger.Info("Handling push event", "repo", repoName, "ref", event.Ref)
	_, err := r.ScrapeRepoList(ctx, []string{repoName}, false)
	return err
}

// pause after a failed receive, doubled up to the maximum
const (
	minReceiveBackoff = 500 * time.Millisecond
	maxReceiveBackoff = 30 * time.Second
)

// Run receives events from sub until ctx is cancelled. After every wake,
// by message or by timeout, outdated repos are re-scraped. Transport
// errors are logged and retried with a growing pause.
func (r *Reconciler) Run(ctx context.Context, sub transport.Subscriber, timeout time.Duration) error {
	logger := r.logger
	backoff := time.Duration(0)
	for {
		logger.Debug("Checking for incoming events")
		msg, err := sub.Receive(ctx, timeout)
		switch {
		case err == nil:
			backoff = 0
			r.HandleEvent(ctx, msg)
		case errors.Is(err, transport.ErrTimeout):
			backoff = 0
			logger.Debug("Did not receive any event")
		case ctx.Err() != nil:
			return nil
		default:
			backoff = min(max(2*backoff, r.receiveBackoff), maxReceiveBackoff)
			logger.Error("Failed to receive event, retrying", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
		}

		if ctx.Err() != nil {
			return nil
		}

		logger.Debug("Checking for outdated repos")
		if _, err := r.ScrapeOutdated(ctx); err != nil {
			logger.Error("Failed to scrape outdated repos", "error", err)
		}
	}
}
