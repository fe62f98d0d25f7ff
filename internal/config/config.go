package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/jobindex/internal/safety"
)

// Config is the top-level configuration
type Config struct {
	Server              ServerConfig                `yaml:"server"`
	Store               StoreConfig                 `yaml:"store"`
	Scraper             ScraperConfig               `yaml:"scraper"`
	Transport           TransportConfig             `yaml:"transport"`
	TenantSources       TenantSourcesConfig         `yaml:"tenant_sources"`
	Connections         map[string]ConnectionConfig `yaml:"connections"`
	ReusableRepos       []string                    `yaml:"reusable_repos"`
	GitHubWebhookSecret string                      `yaml:"github_webhook_secret"`
}

// ServerConfig holds webhook server settings
type ServerConfig struct {
	Listen       string `yaml:"listen"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// StoreConfig selects the index backend
type StoreConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

// ScraperConfig holds scrape loop settings
type ScraperConfig struct {
	// ForceScrapeInterval is expressed in hours.
	ForceScrapeInterval int           `yaml:"force_scrape_interval"`
	PollTimeout         time.Duration `yaml:"poll_timeout"`
	Workspace           string        `yaml:"workspace"`
	Workers             int           `yaml:"workers"`
}

// TransportConfig configures how webhook events reach the scraper
type TransportConfig struct {
	Type string `yaml:"type"` // "none", "channel" or "websocket"
	URL  string `yaml:"url"`
}

// TenantSourcesConfig names where the tenant configuration lives.
// Exactly one of File and Repo must be set.
type TenantSourcesConfig struct {
	File       string `yaml:"file"`
	Repo       string `yaml:"repo"`
	Connection string `yaml:"connection"`
}

// ConnectionConfig is the raw YAML config for a connection
type ConnectionConfig map[string]interface{}

// GitConnectionConfig is the typed config for a plain git connection
type GitConnectionConfig struct {
	Provider  string `yaml:"provider"`
	URL       string `yaml:"url"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Workspace string `yaml:"workspace"`
}

// GerritConnectionConfig is the typed config for a gerrit connection
type GerritConnectionConfig struct {
	Provider  string `yaml:"provider"`
	URL       string `yaml:"url"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Workspace string `yaml:"workspace"`
	WebURL    string `yaml:"web_url"`
	WebType   string `yaml:"web_type"`
}

// GitHubConnectionConfig is the typed config for a GitHub App connection
type GitHubConnectionConfig struct {
	Provider       string `yaml:"provider"`
	URL            string `yaml:"url"`
	AppID          int64  `yaml:"app_id"`
	AppKey         string `yaml:"app_key"`
	RequestTimeout int    `yaml:"request_timeout"`
}

// ConfigurationError reports an invalid or incomplete configuration.
// It is never retried.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return e.Msg
}

// Errorf builds a ConfigurationError
func Errorf(format string, args ...any) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:       "0.0.0.0:8080",
			MaxBodyBytes: safety.MaxWebhookPayload,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "jobindex.db",
		},
		Scraper: ScraperConfig{
			ForceScrapeInterval: 24,
			PollTimeout:         30 * time.Second,
			Workspace:           "/tmp/jobindex_working_dir",
			Workers:             4,
		},
		Transport: TransportConfig{
			Type: "none",
		},
		Connections: make(map[string]ConnectionConfig),
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Connections == nil {
		cfg.Connections = make(map[string]ConnectionConfig)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"jobindex.yaml",
		"/etc/jobindex/jobindex.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "jobindex", "jobindex.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// envKeys is the allow-list of settings that may be overridden from the
// environment. Keys are read with the JOBINDEX_ prefix.
var envKeys = []string{
	"tenant_sources_file",
	"tenant_sources_repo",
	"tenant_sources_connection",
	"force_scrape_interval",
	"github_webhook_secret",
	"store_driver",
	"store_dsn",
	"listen",
	"transport_type",
	"transport_url",
}

// NewEnv returns a viper instance bound to the JOBINDEX_ environment.
// A .env file in the working directory is loaded first when present.
func NewEnv() *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("JOBINDEX")
	v.AutomaticEnv()
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}
	return v
}

// ApplyEnv overlays environment settings onto cfg
func ApplyEnv(cfg *Config, v *viper.Viper) {
	if v.IsSet("tenant_sources_file") {
		cfg.TenantSources.File = v.GetString("tenant_sources_file")
	}
	if v.IsSet("tenant_sources_repo") {
		cfg.TenantSources.Repo = v.GetString("tenant_sources_repo")
	}
	if v.IsSet("tenant_sources_connection") {
		cfg.TenantSources.Connection = v.GetString("tenant_sources_connection")
	}
	if v.IsSet("force_scrape_interval") {
		cfg.Scraper.ForceScrapeInterval = v.GetInt("force_scrape_interval")
	}
	if v.IsSet("github_webhook_secret") {
		cfg.GitHubWebhookSecret = v.GetString("github_webhook_secret")
	}
	if v.IsSet("store_driver") {
		cfg.Store.Driver = v.GetString("store_driver")
	}
	if v.IsSet("store_dsn") {
		cfg.Store.DSN = v.GetString("store_dsn")
	}
	if v.IsSet("listen") {
		cfg.Server.Listen = v.GetString("listen")
	}
	if v.IsSet("transport_type") {
		cfg.Transport.Type = v.GetString("transport_type")
	}
	if v.IsSet("transport_url") {
		cfg.Transport.URL = v.GetString("transport_url")
	}
}

// Validate checks settings the scraper cannot run without
func (c *Config) Validate() error {
	hasFile := c.TenantSources.File != ""
	hasRepo := c.TenantSources.Repo != ""
	if hasFile == hasRepo {
		return Errorf("Either one of 'TENANT_SOURCES_REPO' and 'TENANT_SOURCES_FILE' must be set, but not both.")
	}
	if hasRepo && c.TenantSources.Connection == "" {
		return Errorf("'TENANT_SOURCES_CONNECTION' must be set when the tenant sources are read from a repository")
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return Errorf("unsupported store driver '%s'", c.Store.Driver)
	}
	return nil
}

// IsReusable reports whether every job and role in repo is flagged reusable
func (c *Config) IsReusable(repo string) bool {
	return slices.Contains(c.ReusableRepos, repo)
}

// ForceScrapeAfter returns the force-scrape interval as a duration
func (c *Config) ForceScrapeAfter() time.Duration {
	return time.Duration(c.Scraper.ForceScrapeInterval) * time.Hour
}

// ConnectionProvider returns the provider name of a connection config
func (cc ConnectionConfig) ConnectionProvider() string {
	p, _ := cc["provider"].(string)
	return p
}

// ParseConnectionConfig unmarshals a connection's raw config into a typed struct
func ParseConnectionConfig[T any](raw ConnectionConfig) (*T, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshaling connection config: %w", err)
	}
	var typed T
	if err := yaml.Unmarshal(data, &typed); err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	return &typed, nil
}
