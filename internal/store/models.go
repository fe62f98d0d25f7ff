package store

import (
	"crypto/sha1"
	"encoding/hex"
	"time"
)

// ZuulJob is an indexed Zuul job definition
type ZuulJob struct {
	ID              string // sha1 of repo and job name
	Name            string
	Repo            string
	Tenants         []string
	Description     string
	DescriptionHTML string
	Parent          *string // nil when the job explicitly has no parent
	URL             string
	Private         bool
	Platforms       []string
	Reusable        bool
	LineStart       int
	LineEnd         int
	LastUpdated     *time.Time
	ScrapeTime      time.Time
}

// AnsibleRole is an indexed Ansible role
type AnsibleRole struct {
	ID              string // sha1 of repo and role name
	Name            string
	Repo            string
	Tenants         []string
	Description     string
	DescriptionHTML string
	Changelog       string
	ChangelogHTML   string
	URL             string
	Private         bool
	Platforms       []string
	Reusable        bool
	LastUpdated     *time.Time
	ScrapeTime      time.Time
}

// GitRepo records when a repository was last scraped
type GitRepo struct {
	ID         string // sha1 of the repo name
	RepoName   string
	Provider   string
	ScrapeTime time.Time
}

// ZuulTenant is a tenant seen in the tenant sources
type ZuulTenant struct {
	ID         string
	Name       string
	ScrapeTime time.Time
}

// ScrapeRun records a reconciliation run
type ScrapeRun struct {
	ID           int64
	StartTime    time.Time
	EndTime      time.Time
	DeleteOnly   bool
	Repos        int
	ReposFailed  int
	JobsSaved    int
	RolesSaved   int
	JobsDeleted  int
	RolesDeleted int
	ReposDeleted int
	Status       string // "running", "success", "partial", "failed"
	ErrorMessage string
}

// BlockCount is the number of indexed jobs and roles of a repository
type BlockCount struct {
	Jobs  int
	Roles int
}

// DocumentID returns the hex sha1 of key. Jobs and roles are keyed by repo
// name plus block name, repositories by their name.
func DocumentID(key string) string {
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}
