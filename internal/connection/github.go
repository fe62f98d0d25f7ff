package connection

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/BadgerOps/jobindex/internal/config"
	"github.com/BadgerOps/jobindex/internal/ghapi"
	"github.com/BadgerOps/jobindex/internal/repository"
	"github.com/BadgerOps/jobindex/internal/safety"
)

const (
	previewAccept = "application/vnd.github.machine-man-preview+json"
	expiresLayout = "2006-01-02T15:04:05Z"

	// tokens are treated as expired this long before GitHub says so
	tokenExpiryMargin = 2 * time.Minute
)

// Installation is what the install map knows about one repository
type Installation struct {
	ID            int64
	DefaultBranch string
}

type cachedToken struct {
	token  string
	expiry time.Time
}

// GitHubConnection authenticates as a GitHub App and hands out
// installation tokens for the repositories it is installed on.
type GitHubConnection struct {
	name       string
	baseURL    string
	apiURL     string
	graphqlURL string
	appID      int64
	keyPath    string
	key        *rsa.PrivateKey
	client     *ghapi.Client
	logger     *slog.Logger
	now        func() time.Time

	mu            sync.RWMutex
	installations map[string]Installation

	tokenMu sync.Mutex
	tokens  *lru.Cache[int64, cachedToken]
}

// NewGitHubConnection creates an unauthenticated GitHub connection
func NewGitHubConnection(name string, cfg *config.GitHubConnectionConfig, client *ghapi.Client, logger *slog.Logger) (*GitHubConnection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := safety.ValidateInstanceURL(cfg.URL); err != nil {
		return nil, config.Errorf("invalid url for github connection '%s': %v", name, err)
	}
	tokens, err := lru.New[int64, cachedToken](256)
	if err != nil {
		return nil, fmt.Errorf("failed to create token cache: %w", err)
	}
	return &GitHubConnection{
		name:          name,
		baseURL:       cfg.URL,
		apiURL:        repository.JoinURL(cfg.URL, "api/v3"),
		graphqlURL:    repository.JoinURL(cfg.URL, "api/graphql"),
		appID:         cfg.AppID,
		keyPath:       cfg.AppKey,
		client:        client,
		logger:        logger,
		now:           time.Now,
		installations: make(map[string]Installation),
		tokens:        tokens,
	}, nil
}

func (c *GitHubConnection) Name() string     { return c.name }
func (c *GitHubConnection) Provider() string { return ProviderGitHub }

// Endpoints returns the REST and GraphQL roots
func (c *GitHubConnection) Endpoints() repository.GitHubEndpoints {
	return repository.GitHubEndpoints{APIURL: c.apiURL, GraphQLURL: c.graphqlURL}
}

// Init authenticates and primes the installation map
func (c *GitHubConnection) Init(ctx context.Context) error {
	c.logger.Info("initializing github connection", "connection", c.name, "url", c.baseURL)
	c.authenticate()
	return c.PrimeInstallMap(ctx)
}

// authenticate loads the app key. A missing key is logged; signing fails later.
func (c *GitHubConnection) authenticate() {
	data, err := os.ReadFile(c.keyPath)
	if err != nil {
		c.logger.Error("failed to open app key file", "path", c.keyPath, "error", err)
		return
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		c.logger.Error("failed to parse app key", "path", c.keyPath, "error", err)
		return
	}
	if c.appID == 0 {
		c.logger.Error("an app_id and an app_key are required for installation based authentication")
		return
	}
	c.key = key
}

// appHeaders signs a short-lived app JWT
func (c *GitHubConnection) appHeaders() (http.Header, error) {
	if c.key == nil {
		return nil, fmt.Errorf("github app %s is not authenticated", c.name)
	}
	now := c.now().UTC()
	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
		"iss": c.appID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign app token: %w", err)
	}
	return http.Header{
		"Accept":        []string{previewAccept},
		"Authorization": []string{"Bearer " + signed},
	}, nil
}

// PrimeInstallMap fetches every installation of the app and the
// repositories each one can access.
func (c *GitHubConnection) PrimeInstallMap(ctx context.Context) error {
	header, err := c.appHeaders()
	if err != nil {
		return err
	}

	var installs []struct {
		ID int64 `json:"id"`
	}
	err = c.client.Paginate(ctx, c.apiURL+"/app/installations?per_page=100", header, func(page []byte) error {
		var batch []struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(page, &batch); err != nil {
			return fmt.Errorf("failed to decode installations: %w", err)
		}
		installs = append(installs, batch...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to list installations: %w", err)
	}

	installations := make(map[string]Installation)
	for _, inst := range installs {
		token, err := c.tokenForInstallation(ctx, inst.ID)
		if err != nil {
			return err
		}
		repoHeader := http.Header{
			"Accept":        []string{previewAccept},
			"Authorization": []string{"token " + token},
		}
		err = c.client.Paginate(ctx, c.apiURL+"/installation/repositories?per_page=100", repoHeader, func(page []byte) error {
			var body struct {
				Repositories []struct {
					FullName      string `json:"full_name"`
					DefaultBranch string `json:"default_branch"`
				} `json:"repositories"`
			}
			if err := json.Unmarshal(page, &body); err != nil {
				return fmt.Errorf("failed to decode repositories: %w", err)
			}
			for _, r := range body.Repositories {
				installations[r.FullName] = Installation{ID: inst.ID, DefaultBranch: r.DefaultBranch}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to list repositories of installation %d: %w", inst.ID, err)
		}
	}

	c.mu.Lock()
	c.installations = installations
	c.mu.Unlock()

	c.logger.Info("primed installation map", "connection", c.name, "installations", len(installs), "repos", len(installations))
	return nil
}

// InstallationToken returns a token for the installation owning project.
// With reprime set, an unknown project triggers one refresh of the install
// map. An empty token means the app has no access.
func (c *GitHubConnection) InstallationToken(ctx context.Context, project string, reprime bool) (string, error) {
	c.mu.RLock()
	inst, ok := c.installations[project]
	c.mu.RUnlock()

	if !ok {
		if reprime {
			if err := c.PrimeInstallMap(ctx); err != nil {
				return "", err
			}
			return c.InstallationToken(ctx, project, false)
		}
		c.logger.Debug("no installation available for project", "project", project)
		return "", nil
	}
	return c.tokenForInstallation(ctx, inst.ID)
}

func (c *GitHubConnection) tokenForInstallation(ctx context.Context, id int64) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if t, ok := c.tokens.Get(id); ok && c.now().UTC().Before(t.expiry) {
		return t.token, nil
	}

	c.logger.Debug("requesting new installation token", "installation", id)
	header, err := c.appHeaders()
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(ctx, ghapi.Request{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/app/installations/%d/access_tokens", c.apiURL, id),
		Header: header,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get token for installation %d: %w", id, err)
	}

	var body struct {
		Token     string `json:"token"`
		ExpiresAt string `json:"expires_at"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return "", fmt.Errorf("failed to decode installation token: %w", err)
	}
	expiry, err := time.Parse(expiresLayout, body.ExpiresAt)
	if err != nil {
		return "", fmt.Errorf("invalid token expiry %q: %w", body.ExpiresAt, err)
	}

	c.tokens.Add(id, cachedToken{token: body.Token, expiry: expiry.Add(-tokenExpiryMargin)})
	return body.Token, nil
}

// Repos returns every repository the app is installed on, sorted
func (c *GitHubConnection) Repos() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	repos := make([]string, 0, len(c.installations))
	for name := range c.installations {
		repos = append(repos, name)
	}
	sort.Strings(repos)
	return repos
}

// ReposForInstallation returns the repositories belonging to installation id
func (c *GitHubConnection) ReposForInstallation(id int64) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var repos []string
	for name, inst := range c.installations {
		if inst.ID == id {
			repos = append(repos, name)
		}
	}
	sort.Strings(repos)
	return repos
}

// DefaultBranch returns the default branch of project if it is installed
func (c *GitHubConnection) DefaultBranch(project string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inst, ok := c.installations[project]
	return inst.DefaultBranch, ok
}

func (c *GitHubConnection) NewRepository(ctx context.Context, project string) (repository.Repository, error) {
	repo, err := repository.NewGitHubRepository(ctx, project, c.Endpoints(), c.client, c, c.logger)
	if err != nil {
		return nil, err
	}
	return repo, nil
}
