// Package tenant resolves which tenants claim which repositories.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/jobindex/internal/config"
	"github.com/BadgerOps/jobindex/internal/repository"
)

const tenantsDirectory = "tenants"

// Tenants lists the tenants interested in one repository
type Tenants struct {
	Jobs             []string
	Roles            []string
	ExtraConfigPaths map[string][]string
}

// JobTenantsFor returns the tenants of a job file. Files below an extra
// config path also belong to the tenants that declared that path.
func (t Tenants) JobTenantsFor(filePath string) []string {
	out := slices.Clone(t.Jobs)
	for p, tenants := range t.ExtraConfigPaths {
		if filePath == p || strings.HasPrefix(filePath, p+"/") {
			for _, name := range tenants {
				if !slices.Contains(out, name) {
					out = append(out, name)
				}
			}
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

// ExtraPaths returns the declared extra config paths, sorted
func (t Tenants) ExtraPaths() []string {
	paths := make([]string, 0, len(t.ExtraConfigPaths))
	for p := range t.ExtraConfigPaths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// RepoEntry is one repository of the repo map
type RepoEntry struct {
	Tenants        Tenants
	ConnectionName string
}

// Parser builds the repo map from tenant sources
type Parser struct {
	Sources []Config
	RepoMap map[string]*RepoEntry
	Tenants []string
	logger  *slog.Logger
}

// NewParser creates an empty parser
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		RepoMap: make(map[string]*RepoEntry),
		logger:  logger,
	}
}

// LoadFile reads tenant sources from a YAML file
func (p *Parser) LoadFile(sourcesFile string) error {
	p.logger.Info("parsing tenant sources file", "path", sourcesFile)
	data, err := os.ReadFile(sourcesFile)
	if err != nil {
		return fmt.Errorf("reading tenant sources: %w", err)
	}
	sources, err := decodeSourcesFile(data)
	if err != nil {
		return fmt.Errorf("parsing tenant sources %s: %w", sourcesFile, err)
	}
	p.Sources = sources
	return nil
}

func decodeSourcesFile(data []byte) ([]Config, error) {
	var entries []sourceFileEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	sources := make([]Config, 0, len(entries))
	for _, e := range entries {
		sources = append(sources, Config{Name: e.Tenant.Name, Source: e.Tenant.Source})
	}
	return sources, nil
}

// LoadRepository reads tenant sources from tenants/<name>/{settings,sources}.yaml
func (p *Parser) LoadRepository(ctx context.Context, repo repository.Repository) error {
	p.logger.Info("collecting tenant sources from repo", "repo", repo.Name())

	dirs, err := repo.DirectoryContents(ctx, tenantsDirectory)
	if err != nil {
		var coErr *repository.CheckoutError
		if errors.As(err, &coErr) {
			return config.Errorf("Cannot load tenant sources. Repo '%s' does not contain a 'tenants' folder", repo.Name())
		}
		return err
	}

	names := make([]string, 0, len(dirs))
	for name, entry := range dirs {
		if entry.IsDir() {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var sources []Config
	for _, name := range names {
		cfg, err := p.loadTenantDir(ctx, repo, name)
		if err != nil {
			var coErr *repository.CheckoutError
			if errors.As(err, &coErr) {
				p.logger.Warn("either 'settings.yaml' or 'sources.yaml' are missing or empty",
					"repo", repo.Name(), "tenant", name, "error", err)
				continue
			}
			return err
		}
		sources = append(sources, cfg)
	}
	p.Sources = sources
	return nil
}

func (p *Parser) loadTenantDir(ctx context.Context, repo repository.Repository, dir string) (Config, error) {
	sourcesYAML, err := repo.FileContents(ctx, path.Join(tenantsDirectory, dir, "sources.yaml"))
	if err != nil {
		return Config{}, err
	}
	settingsYAML, err := repo.FileContents(ctx, path.Join(tenantsDirectory, dir, "settings.yaml"))
	if err != nil {
		return Config{}, err
	}

	var settings struct {
		Name string `yaml:"name"`
	}
	if err := yaml.Unmarshal([]byte(settingsYAML), &settings); err != nil {
		return Config{}, fmt.Errorf("parsing settings of tenant %s: %w", dir, err)
	}
	var source Source
	if err := yaml.Unmarshal([]byte(sourcesYAML), &source); err != nil {
		return Config{}, fmt.Errorf("parsing sources of tenant %s: %w", dir, err)
	}
	if settings.Name == "" {
		settings.Name = dir
	}
	return Config{Name: settings.Name, Source: source}, nil
}

// Parse rebuilds the repo map and tenant list from the loaded sources
func (p *Parser) Parse() {
	p.RepoMap = make(map[string]*RepoEntry)
	p.Tenants = nil

	for _, tc := range p.Sources {
		for _, cs := range tc.Source {
			for _, group := range cs.Groups {
				for _, project := range group.Projects {
					p.updateRepoMap(project, cs.Connection, tc.Name)
				}
			}
		}
		p.Tenants = append(p.Tenants, tc.Name)
	}
}

func (p *Parser) updateRepoMap(project Project, connection, tenantName string) {
	if project.MultiProject {
		p.logger.Warn("project entries with a 'projects' key are not supported, skipping",
			"tenant", tenantName, "connection", connection)
		return
	}

	entry, ok := p.RepoMap[project.Name]
	if !ok {
		entry = &RepoEntry{ConnectionName: connection, Tenants: Tenants{Jobs: []string{}, Roles: []string{}}}
		p.RepoMap[project.Name] = entry
	}

	if !slices.Contains(project.Exclude, "job") && !slices.Contains(project.Exclude, "jobs") {
		entry.Tenants.Jobs = append(entry.Tenants.Jobs, tenantName)
	}
	entry.Tenants.Roles = append(entry.Tenants.Roles, tenantName)

	for _, extra := range project.ExtraConfigPaths {
		extra = strings.TrimRight(extra, "/")
		if entry.Tenants.ExtraConfigPaths == nil {
			entry.Tenants.ExtraConfigPaths = make(map[string][]string)
		}
		entry.Tenants.ExtraConfigPaths[extra] = append(entry.Tenants.ExtraConfigPaths[extra], tenantName)
	}
}

// Repos returns the names of all repositories in the repo map, sorted
func (p *Parser) Repos() []string {
	repos := make([]string, 0, len(p.RepoMap))
	for name := range p.RepoMap {
		repos = append(repos, name)
	}
	sort.Strings(repos)
	return repos
}
