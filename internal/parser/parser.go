// Package parser turns scraped Zuul configuration and role documentation into
// index documents.
package parser

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/jobindex/internal/render"
	"github.com/BadgerOps/jobindex/internal/repository"
	"github.com/BadgerOps/jobindex/internal/scraper"
	"github.com/BadgerOps/jobindex/internal/store"
	"github.com/BadgerOps/jobindex/internal/tenant"
)

const defaultParent = "base"

// Parser builds jobs and roles for one repository
type Parser struct {
	repo       repository.Repository
	tenants    tenant.Tenants
	jobFiles   scraper.JobFiles
	roleFiles  scraper.RoleFiles
	scrapeTime time.Time
	reusable   bool
	logger     *slog.Logger
}

// New creates a parser. When reusable is set every job and role of the
// repository is flagged reusable.
func New(repo repository.Repository, tenants tenant.Tenants, jobFiles scraper.JobFiles,
	roleFiles scraper.RoleFiles, scrapeTime time.Time, reusable bool, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		repo:       repo,
		tenants:    tenants,
		jobFiles:   jobFiles,
		roleFiles:  roleFiles,
		scrapeTime: scrapeTime,
		reusable:   reusable,
		logger:     logger.With("repo", repo.Name()),
	}
}

// Parse returns the jobs and roles of the repository
func (p *Parser) Parse(ctx context.Context) ([]store.ZuulJob, []store.AnsibleRole) {
	p.logger.Info("Parsing files in repo")
	return p.parseJobFiles(ctx), p.parseRoles()
}

func (p *Parser) parseJobFiles(ctx context.Context) []store.ZuulJob {
	paths := make([]string, 0, len(p.jobFiles))
	for path := range p.jobFiles {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var jobs []store.ZuulJob
	for _, path := range paths {
		p.logger.Debug("Checking for job definitions", "file", path)
		found := p.parseJobDefinitions(ctx, path, p.jobFiles[path])
		p.logger.Debug("Found job definitions", "file", path, "count", len(found))
		jobs = append(jobs, found...)
	}

	if len(jobs) == 0 {
		p.logger.Info("No job definitions found in repo")
	} else {
		p.logger.Info("Found job definitions in repo", "count", len(jobs))
	}
	return jobs
}

func (p *Parser) parseJobDefinitions(ctx context.Context, path string, file scraper.JobFile) []store.ZuulJob {
	defs, err := jobDefinitions(file.Content)
	if err != nil {
		p.logger.Warn("Error parsing file", "file", path, "error", err)
		return nil
	}

	tenants := p.tenants.JobTenantsFor(path)
	var jobs []store.ZuulJob
	for _, def := range defs {
		nameNode := lookup(def.node, "name")
		if nameNode == nil || nameNode.Kind != yaml.ScalarNode || nameNode.Value == "" {
			p.logger.Warn("Skipping job without a name", "file", path, "line", def.start)
			continue
		}
		name := nameNode.Value

		job := store.ZuulJob{
			ID:          store.DocumentID(p.repo.Name() + name),
			Name:        name,
			Repo:        p.repo.Name(),
			Tenants:     tenants,
			Private:     p.repo.Private(),
			Platforms:   []string{},
			ScrapeTime:  p.scrapeTime,
			LineStart:   def.start,
			LineEnd:     def.end,
			LastUpdated: LastChangedFromBlameRange(def.start, def.end, file.Blame),
			URL:         p.repo.URLForFile(ctx, path, def.start, def.end),
		}

		if desc := lookup(def.node, "description"); desc != nil && !isNull(desc) {
			job.Description = desc.Value
			res, err := render.RST(job.Description)
			if err != nil {
				p.logger.Warn("Description of job could not be converted to HTML", "job", name, "error", err)
			} else {
				job.DescriptionHTML = res.HTML
				job.Platforms = res.Platforms
				job.Reusable = res.Reusable
			}
		}
		job.Reusable = p.reusable || job.Reusable

		// jobs without a parent inherit from "base"
		parent := defaultParent
		job.Parent = &parent
		if node := lookup(def.node, "parent"); node != nil {
			if isNull(node) {
				job.Parent = nil
			} else {
				value := node.Value
				job.Parent = &value
			}
		}

		jobs = append(jobs, job)
	}
	return jobs
}

func (p *Parser) parseRoles() []store.AnsibleRole {
	names := make([]string, 0, len(p.roleFiles))
	for name := range p.roleFiles {
		names = append(names, name)
	}
	sort.Strings(names)

	roles := make([]store.AnsibleRole, 0, len(names))
	for _, name := range names {
		info := p.roleFiles[name]
		role := store.AnsibleRole{
			ID:         store.DocumentID(p.repo.Name() + name),
			Name:       name,
			Repo:       p.repo.Name(),
			Tenants:    p.tenants.Roles,
			Private:    p.repo.Private(),
			URL:        p.repo.URLForDirectory("roles/" + name),
			Platforms:  []string{},
			ScrapeTime: p.scrapeTime,
		}
		if role.Tenants == nil {
			role.Tenants = []string{}
		}
		if !info.LastChanged.IsZero() {
			changed := info.LastChanged
			role.LastUpdated = &changed
		}

		if info.Readme != nil {
			// The raw text is kept as a fallback for failed renders
			role.Description = info.Readme.Content
			if res := render.File(info.Readme.Path, info.Readme.Content, p.logger); res != nil {
				role.DescriptionHTML = res.HTML
				role.Platforms = res.Platforms
				role.Reusable = res.Reusable
			}
		}

		if info.Changelog != nil {
			role.Changelog = info.Changelog.Content
			if res := render.File(info.Changelog.Path, info.Changelog.Content, p.logger); res != nil {
				role.ChangelogHTML = res.HTML
			}
		}

		role.Reusable = p.reusable || role.Reusable
		roles = append(roles, role)
	}

	if len(roles) == 0 {
		p.logger.Info("No role definitions found in repo")
	} else {
		p.logger.Info("Found role definitions in repo", "count", len(roles))
	}
	return roles
}

// LastChangedFromBlameRange returns the date of the newest blame range that
// overlaps the lines start..end, or nil when none does.
func LastChangedFromBlameRange(start, end int, blames []repository.BlameRange) *time.Time {
	if len(blames) == 0 {
		return nil
	}

	sorted := make([]repository.BlameRange, len(blames))
	copy(sorted, blames)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.After(sorted[j].Date)
	})

	for _, b := range sorted {
		if max(start, b.Start) <= min(end, b.End) {
			date := b.Date
			return &date
		}
	}
	return nil
}
