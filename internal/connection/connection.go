// Package connection wires configured git hosts to repository handles.
package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/BadgerOps/jobindex/internal/config"
	"github.com/BadgerOps/jobindex/internal/ghapi"
	"github.com/BadgerOps/jobindex/internal/repository"
)

// Provider names
const (
	ProviderGit    = "git"
	ProviderGerrit = "gerrit"
	ProviderGitHub = "github"
)

// Connection is a configured git host that can open repositories
type Connection interface {
	// Name returns the connection name from the config
	Name() string

	// Provider returns "git", "gerrit" or "github"
	Provider() string

	// Init authenticates and loads whatever state the connection needs
	Init(ctx context.Context) error

	// NewRepository opens a repository handle for project
	NewRepository(ctx context.Context, project string) (repository.Repository, error)
}

// Registry holds all configured connections
type Registry struct {
	connections map[string]Connection
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]Connection),
	}
}

// Register adds a connection to the registry using its Name().
func (r *Registry) Register(c Connection) {
	r.connections[c.Name()] = c
}

// Get returns a connection by name
func (r *Registry) Get(name string) (Connection, bool) {
	c, ok := r.connections[name]
	return c, ok
}

// All returns all registered connections
func (r *Registry) All() map[string]Connection {
	return r.connections
}

// Remove deletes a connection from the registry by name.
func (r *Registry) Remove(name string) {
	delete(r.connections, name)
}

// Names returns all registered connection names, sorted
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.connections))
	for name := range r.connections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GitHub returns the first GitHub connection, if any
func (r *Registry) GitHub() (*GitHubConnection, bool) {
	for _, name := range r.Names() {
		if gh, ok := r.connections[name].(*GitHubConnection); ok {
			return gh, true
		}
	}
	return nil, false
}

// InitAll initializes every registered connection
func (r *Registry) InitAll(ctx context.Context) error {
	for _, name := range r.Names() {
		if err := r.connections[name].Init(ctx); err != nil {
			return fmt.Errorf("failed to init connection %s: %w", name, err)
		}
	}
	return nil
}

// FromConfig builds connections from cfg.Connections
func FromConfig(cfg *config.Config, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reg := NewRegistry()

	for name, raw := range cfg.Connections {
		switch provider := raw.ConnectionProvider(); provider {
		case ProviderGit:
			gc, err := config.ParseConnectionConfig[config.GitConnectionConfig](raw)
			if err != nil {
				return nil, fmt.Errorf("connection %s: %w", name, err)
			}
			if gc.Workspace == "" {
				gc.Workspace = cfg.Scraper.Workspace
			}
			reg.Register(NewGitConnection(name, gc, logger))

		case ProviderGerrit:
			gc, err := config.ParseConnectionConfig[config.GerritConnectionConfig](raw)
			if err != nil {
				return nil, fmt.Errorf("connection %s: %w", name, err)
			}
			if gc.Workspace == "" {
				gc.Workspace = cfg.Scraper.Workspace
			}
			conn, err := NewGerritConnection(name, gc, logger)
			if err != nil {
				return nil, err
			}
			reg.Register(conn)

		case ProviderGitHub:
			gc, err := config.ParseConnectionConfig[config.GitHubConnectionConfig](raw)
			if err != nil {
				return nil, fmt.Errorf("connection %s: %w", name, err)
			}
			timeout := time.Duration(gc.RequestTimeout) * time.Second
			if timeout <= 0 {
				timeout = 60 * time.Second
			}
			conn, err := NewGitHubConnection(name, gc, ghapi.NewClient(timeout, logger), logger)
			if err != nil {
				return nil, err
			}
			reg.Register(conn)

		default:
			return nil, config.Errorf("Could not init connection '%s'. Specified provider '%s' is not available", name, provider)
		}
	}

	return reg, nil
}

// remoteURL inserts credentials into base and appends project.
func remoteURL(base, user, password, project string) (string, error) {
	scheme, rest, ok := strings.Cut(base, "://")
	if !ok {
		return "", config.Errorf("invalid connection url '%s': missing scheme", base)
	}
	var auth string
	switch {
	case user != "" && password != "":
		auth = user + ":" + password + "@"
	case user != "":
		auth = user + "@"
	}
	return repository.JoinURL(scheme+"://"+auth+rest, project), nil
}
