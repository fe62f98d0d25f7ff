package connection

import (
	"context"
	"log/slog"

	"github.com/BadgerOps/jobindex/internal/config"
	"github.com/BadgerOps/jobindex/internal/repository"
)

// GitConnection clones repositories from a plain git server
type GitConnection struct {
	name      string
	url       string
	user      string
	password  string
	workspace string
	logger    *slog.Logger
}

// NewGitConnection creates a git connection from its config
func NewGitConnection(name string, cfg *config.GitConnectionConfig, logger *slog.Logger) *GitConnection {
	if logger == nil {
		logger = slog.Default()
	}
	return &GitConnection{
		name:      name,
		url:       cfg.URL,
		user:      cfg.User,
		password:  cfg.Password,
		workspace: cfg.Workspace,
		logger:    logger,
	}
}

func (c *GitConnection) Name() string     { return c.name }
func (c *GitConnection) Provider() string { return ProviderGit }

func (c *GitConnection) Init(context.Context) error {
	c.logger.Info("initializing git connection", "connection", c.name, "url", c.url)
	return nil
}

// RemoteURL returns the clone URL of project, including credentials
func (c *GitConnection) RemoteURL(project string) (string, error) {
	return remoteURL(c.url, c.user, c.password, project)
}

func (c *GitConnection) clone(ctx context.Context, project string) (*repository.GitRepository, error) {
	u, err := c.RemoteURL(project)
	if err != nil {
		return nil, err
	}
	return repository.NewGitRepository(ctx, project, u, c.workspace, c.logger)
}

func (c *GitConnection) NewRepository(ctx context.Context, project string) (repository.Repository, error) {
	repo, err := c.clone(ctx, project)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// GerritConnection clones from gerrit and links to its git web front end
type GerritConnection struct {
	*GitConnection
	webURL  string
	webType string
	urls    repository.URLBuilder
}

// NewGerritConnection creates a gerrit connection. web_url defaults to url and
// web_type to cgit.
func NewGerritConnection(name string, cfg *config.GerritConnectionConfig, logger *slog.Logger) (*GerritConnection, error) {
	webURL := cfg.WebURL
	if webURL == "" {
		webURL = cfg.URL
	}
	webType := cfg.WebType
	if webType == "" {
		webType = "cgit"
	}

	var urls repository.URLBuilder
	switch webType {
	case "cgit":
		urls = repository.CGitURLs{WebURL: webURL}
	case "gitweb":
		urls = repository.GitwebURLs{WebURL: webURL}
	default:
		return nil, config.Errorf("unsupported web_type '%s'", webType)
	}

	git := NewGitConnection(name, &config.GitConnectionConfig{
		URL:       cfg.URL,
		User:      cfg.User,
		Password:  cfg.Password,
		Workspace: cfg.Workspace,
	}, logger)
	return &GerritConnection{GitConnection: git, webURL: webURL, webType: webType, urls: urls}, nil
}

func (c *GerritConnection) Provider() string { return ProviderGerrit }

func (c *GerritConnection) Init(context.Context) error {
	c.logger.Info("initializing gerrit connection", "connection", c.name, "url", c.url, "web_type", c.webType)
	return nil
}

func (c *GerritConnection) NewRepository(ctx context.Context, project string) (repository.Repository, error) {
	repo, err := c.clone(ctx, project)
	if err != nil {
		return nil, err
	}
	return repository.NewGerritRepository(repo, c.urls), nil
}
