package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "modernc.org/sqlite"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrNotFound is returned when a looked up document does not exist
var ErrNotFound = errors.New("not found")

// timeFormat is fixed width so stored timestamps sort as text
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store provides SQL-backed persistence for the index
type Store struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// New creates a SQLite store at dbPath and runs migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	return Open(DriverSQLite, dbPath, logger)
}

// Open connects to the given driver, verifies the connection and runs
// migrations.
func Open(driver, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		// A single connection avoids "database is locked" errors and keeps
		// :memory: databases shared.
		db.SetMaxOpenConns(1)
	case DriverPostgres:
		db, err = sql.Open("pgx", strings.TrimSpace(dsn))
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		driver: driver,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Store initialized successfully", "driver", driver)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders for drivers that use numbered ones
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func encodeList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeList(s string) ([]string, error) {
	list := []string{}
	if s == "" {
		return list, nil
	}
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return nil, fmt.Errorf("invalid list %q: %w", s, err)
	}
	return list, nil
}

// inTx runs fn in a transaction and commits when it returns nil
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// deleteOutdated removes rows of table older than ts whose key is in keys
func (s *Store) deleteOutdated(ctx context.Context, table, keyColumn string, ts time.Time, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE scrape_time < ? AND %s IN (%s)", table, keyColumn, placeholders(len(keys)))
	args := make([]any, 0, len(keys)+1)
	args = append(args, formatTime(ts))
	for _, k := range keys {
		args = append(args, k)
	}

	result, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete outdated rows from %s: %w", table, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// ============================================================================
// ZuulJob Operations
// ============================================================================

// BulkSaveJobs upserts jobs by ID in one transaction
func (s *Store) BulkSaveJobs(ctx context.Context, jobs []ZuulJob) error {
	if len(jobs) == 0 {
		return nil
	}

	query := s.rebind(`
		INSERT INTO zuul_jobs (
			id, job_name, repo, tenants, description, description_html, parent,
			url, private, platforms, reusable, line_start, line_end,
			last_updated, scrape_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			job_name = excluded.job_name, repo = excluded.repo,
			tenants = excluded.tenants, description = excluded.description,
			description_html = excluded.description_html, parent = excluded.parent,
			url = excluded.url, private = excluded.private,
			platforms = excluded.platforms, reusable = excluded.reusable,
			line_start = excluded.line_start, line_end = excluded.line_end,
			last_updated = excluded.last_updated, scrape_time = excluded.scrape_time
	`)

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare job upsert: %w", err)
		}
		defer stmt.Close()

		for _, job := range jobs {
			tenants, err := encodeList(job.Tenants)
			if err != nil {
				return fmt.Errorf("failed to encode tenants of job %s: %w", job.Name, err)
			}
			platforms, err := encodeList(job.Platforms)
			if err != nil {
				return fmt.Errorf("failed to encode platforms of job %s: %w", job.Name, err)
			}
			var parent sql.NullString
			if job.Parent != nil {
				parent = sql.NullString{String: *job.Parent, Valid: true}
			}

			if _, err := stmt.ExecContext(ctx,
				job.ID, job.Name, job.Repo, tenants, job.Description, job.DescriptionHTML, parent,
				job.URL, job.Private, platforms, job.Reusable, job.LineStart, job.LineEnd,
				formatNullTime(job.LastUpdated), formatTime(job.ScrapeTime),
			); err != nil {
				return fmt.Errorf("failed to insert job %s: %w", job.Name, err)
			}
		}
		return nil
	})
}

const jobColumns = `
	id, job_name, repo, tenants, description, description_html, parent,
	url, private, platforms, reusable, line_start, line_end,
	last_updated, scrape_time
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*ZuulJob, error) {
	var (
		job                 ZuulJob
		tenants, platforms  string
		parent, lastUpdated sql.NullString
		scrapeTime          string
	)
	err := row.Scan(
		&job.ID, &job.Name, &job.Repo, &tenants, &job.Description, &job.DescriptionHTML, &parent,
		&job.URL, &job.Private, &platforms, &job.Reusable, &job.LineStart, &job.LineEnd,
		&lastUpdated, &scrapeTime,
	)
	if err != nil {
		return nil, err
	}

	if parent.Valid {
		job.Parent = &parent.String
	}
	if job.Tenants, err = decodeList(tenants); err != nil {
		return nil, err
	}
	if job.Platforms, err = decodeList(platforms); err != nil {
		return nil, err
	}
	if job.LastUpdated, err = parseNullTime(lastUpdated); err != nil {
		return nil, err
	}
	if job.ScrapeTime, err = parseTime(scrapeTime); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*ZuulJob, error) {
	query := s.rebind("SELECT " + jobColumns + " FROM zuul_jobs WHERE id = ?")
	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	return job, nil
}

// SearchJobs returns jobs whose name or description contains query,
// ignoring case. An empty query matches every job.
func (s *Store) SearchJobs(ctx context.Context, query string, limit int) ([]ZuulJob, error) {
	sqlQuery := "SELECT " + jobColumns + " FROM zuul_jobs"
	var args []any
	if query != "" {
		pattern := "%" + strings.ToLower(query) + "%"
		sqlQuery += " WHERE LOWER(job_name) LIKE ? OR LOWER(description) LIKE ?"
		args = append(args, pattern, pattern)
	}
	sqlQuery += " ORDER BY job_name, repo"
	if limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(sqlQuery), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []ZuulJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	return jobs, nil
}

// DeleteOutdatedJobs deletes jobs of repos scraped before ts
func (s *Store) DeleteOutdatedJobs(ctx context.Context, ts time.Time, repos []string) (int64, error) {
	return s.deleteOutdated(ctx, "zuul_jobs", "repo", ts, repos)
}

// ============================================================================
// AnsibleRole Operations
// ============================================================================

// BulkSaveRoles upserts roles by ID in one transaction
func (s *Store) BulkSaveRoles(ctx context.Context, roles []AnsibleRole) error {
	if len(roles) == 0 {
		return nil
	}

	query := s.rebind(`
		INSERT INTO ansible_roles (
			id, role_name, repo, tenants, description, description_html,
			changelog, changelog_html, url, private, platforms, reusable,
			last_updated, scrape_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			role_name = excluded.role_name, repo = excluded.repo,
			tenants = excluded.tenants, description = excluded.description,
			description_html = excluded.description_html,
			changelog = excluded.changelog, changelog_html = excluded.changelog_html,
			url = excluded.url, private = excluded.private,
			platforms = excluded.platforms, reusable = excluded.reusable,
			last_updated = excluded.last_updated, scrape_time = excluded.scrape_time
	`)

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare role upsert: %w", err)
		}
		defer stmt.Close()

		for _, role := range roles {
			tenants, err := encodeList(role.Tenants)
			if err != nil {
				return fmt.Errorf("failed to encode tenants of role %s: %w", role.Name, err)
			}
			platforms, err := encodeList(role.Platforms)
			if err != nil {
				return fmt.Errorf("failed to encode platforms of role %s: %w", role.Name, err)
			}

			if _, err := stmt.ExecContext(ctx,
				role.ID, role.Name, role.Repo, tenants, role.Description, role.DescriptionHTML,
				role.Changelog, role.ChangelogHTML, role.URL, role.Private, platforms, role.Reusable,
				formatNullTime(role.LastUpdated), formatTime(role.ScrapeTime),
			); err != nil {
				return fmt.Errorf("failed to insert role %s: %w", role.Name, err)
			}
		}
		return nil
	})
}

const roleColumns = `
	id, role_name, repo, tenants, description, description_html,
	changelog, changelog_html, url, private, platforms, reusable,
	last_updated, scrape_time
`

func scanRole(row rowScanner) (*AnsibleRole, error) {
	var (
		role               AnsibleRole
		tenants, platforms string
		lastUpdated        sql.NullString
		scrapeTime         string
	)
	err := row.Scan(
		&role.ID, &role.Name, &role.Repo, &tenants, &role.Description, &role.DescriptionHTML,
		&role.Changelog, &role.ChangelogHTML, &role.URL, &role.Private, &platforms, &role.Reusable,
		&lastUpdated, &scrapeTime,
	)
	if err != nil {
		return nil, err
	}

	if role.Tenants, err = decodeList(tenants); err != nil {
		return nil, err
	}
	if role.Platforms, err = decodeList(platforms); err != nil {
		return nil, err
	}
	if role.LastUpdated, err = parseNullTime(lastUpdated); err != nil {
		return nil, err
	}
	if role.ScrapeTime, err = parseTime(scrapeTime); err != nil {
		return nil, err
	}
	return &role, nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, id string) (*AnsibleRole, error) {
	query := s.rebind("SELECT " + roleColumns + " FROM ansible_roles WHERE id = ?")
	role, err := scanRole(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("role %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query role: %w", err)
	}
	return role, nil
}

// SearchRoles returns roles whose name or description contains query,
// ignoring case. An empty query matches every role.
func (s *Store) SearchRoles(ctx context.Context, query string, limit int) ([]AnsibleRole, error) {
	sqlQuery := "SELECT " + roleColumns + " FROM ansible_roles"
	var args []any
	if query != "" {
		pattern := "%" + strings.ToLower(query) + "%"
		sqlQuery += " WHERE LOWER(role_name) LIKE ? OR LOWER(description) LIKE ?"
		args = append(args, pattern, pattern)
	}
	sqlQuery += " ORDER BY role_name, repo"
	if limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(sqlQuery), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	var roles []AnsibleRole
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating roles: %w", err)
	}
	return roles, nil
}

// DeleteOutdatedRoles deletes roles of repos scraped before ts
func (s *Store) DeleteOutdatedRoles(ctx context.Context, ts time.Time, repos []string) (int64, error) {
	return s.deleteOutdated(ctx, "ansible_roles", "repo", ts, repos)
}

// CountBlocks returns the number of indexed jobs and roles of repo
func (s *Store) CountBlocks(ctx context.Context, repo string) (BlockCount, error) {
	var count BlockCount
	query := s.rebind(`
		SELECT
			(SELECT COUNT(*) FROM zuul_jobs WHERE repo = ?),
			(SELECT COUNT(*) FROM ansible_roles WHERE repo = ?)
	`)
	if err := s.db.QueryRowContext(ctx, query, repo, repo).Scan(&count.Jobs, &count.Roles); err != nil {
		return BlockCount{}, fmt.Errorf("failed to count blocks: %w", err)
	}
	return count, nil
}

// ============================================================================
// GitRepo Operations
// ============================================================================

// BulkSaveRepos upserts repositories by ID in one transaction
func (s *Store) BulkSaveRepos(ctx context.Context, repos []GitRepo) error {
	if len(repos) == 0 {
		return nil
	}

	query := s.rebind(`
		INSERT INTO git_repos (id, repo_name, provider, scrape_time)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			repo_name = excluded.repo_name, provider = excluded.provider,
			scrape_time = excluded.scrape_time
	`)

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, repo := range repos {
			if _, err := tx.ExecContext(ctx, query,
				repo.ID, repo.RepoName, repo.Provider, formatTime(repo.ScrapeTime),
			); err != nil {
				return fmt.Errorf("failed to insert repo %s: %w", repo.RepoName, err)
			}
		}
		return nil
	})
}

// ListRepos returns all repositories sorted by name
func (s *Store) ListRepos(ctx context.Context) ([]GitRepo, error) {
	const query = `SELECT id, repo_name, provider, scrape_time FROM git_repos ORDER BY repo_name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query repos: %w", err)
	}
	defer rows.Close()

	var repos []GitRepo
	for rows.Next() {
		var (
			repo       GitRepo
			scrapeTime string
		)
		if err := rows.Scan(&repo.ID, &repo.RepoName, &repo.Provider, &scrapeTime); err != nil {
			return nil, fmt.Errorf("failed to scan repo: %w", err)
		}
		if repo.ScrapeTime, err = parseTime(scrapeTime); err != nil {
			return nil, fmt.Errorf("failed to scan repo: %w", err)
		}
		repos = append(repos, repo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating repos: %w", err)
	}
	return repos, nil
}

// DeleteOutdatedRepos deletes repositories in names scraped before ts
func (s *Store) DeleteOutdatedRepos(ctx context.Context, ts time.Time, names []string) (int64, error) {
	return s.deleteOutdated(ctx, "git_repos", "repo_name", ts, names)
}

// ============================================================================
// ZuulTenant Operations
// ============================================================================

// BulkSaveTenants upserts tenants by ID in one transaction
func (s *Store) BulkSaveTenants(ctx context.Context, tenants []ZuulTenant) error {
	if len(tenants) == 0 {
		return nil
	}

	query := s.rebind(`
		INSERT INTO zuul_tenants (id, tenant_name, scrape_time)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_name = excluded.tenant_name, scrape_time = excluded.scrape_time
	`)

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, tenant := range tenants {
			if _, err := tx.ExecContext(ctx, query, tenant.ID, tenant.Name, formatTime(tenant.ScrapeTime)); err != nil {
				return fmt.Errorf("failed to insert tenant %s: %w", tenant.Name, err)
			}
		}
		return nil
	})
}

// ListTenants returns all tenants sorted by name
func (s *Store) ListTenants(ctx context.Context) ([]ZuulTenant, error) {
	const query = `SELECT id, tenant_name, scrape_time FROM zuul_tenants ORDER BY tenant_name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []ZuulTenant
	for rows.Next() {
		var (
			tenant     ZuulTenant
			scrapeTime string
		)
		if err := rows.Scan(&tenant.ID, &tenant.Name, &scrapeTime); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		if tenant.ScrapeTime, err = parseTime(scrapeTime); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}
	return tenants, nil
}

// DeleteOutdatedTenants deletes tenants last seen before ts
func (s *Store) DeleteOutdatedTenants(ctx context.Context, ts time.Time) (int64, error) {
	query := s.rebind("DELETE FROM zuul_tenants WHERE scrape_time < ?")
	result, err := s.db.ExecContext(ctx, query, formatTime(ts))
	if err != nil {
		return 0, fmt.Errorf("failed to delete outdated tenants: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// ============================================================================
// ScrapeRun Operations
// ============================================================================

// CreateScrapeRun inserts a new ScrapeRun and sets its ID
func (s *Store) CreateScrapeRun(ctx context.Context, run *ScrapeRun) error {
	query := s.rebind(`
		INSERT INTO scrape_runs (
			start_time, end_time, delete_only, repos, repos_failed, jobs_saved,
			roles_saved, jobs_deleted, roles_deleted, repos_deleted, status, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	err := s.db.QueryRowContext(ctx, query,
		formatTime(run.StartTime), formatNullTime(&run.EndTime), run.DeleteOnly, run.Repos,
		run.ReposFailed, run.JobsSaved, run.RolesSaved, run.JobsDeleted, run.RolesDeleted,
		run.ReposDeleted, run.Status, run.ErrorMessage,
	).Scan(&run.ID)
	if err != nil {
		return fmt.Errorf("failed to insert scrape run: %w", err)
	}
	return nil
}

// UpdateScrapeRun updates an existing ScrapeRun by ID
func (s *Store) UpdateScrapeRun(ctx context.Context, run *ScrapeRun) error {
	query := s.rebind(`
		UPDATE scrape_runs SET
			start_time = ?, end_time = ?, delete_only = ?, repos = ?, repos_failed = ?,
			jobs_saved = ?, roles_saved = ?, jobs_deleted = ?, roles_deleted = ?,
			repos_deleted = ?, status = ?, error_message = ?
		WHERE id = ?
	`)

	result, err := s.db.ExecContext(ctx, query,
		formatTime(run.StartTime), formatNullTime(&run.EndTime), run.DeleteOnly, run.Repos,
		run.ReposFailed, run.JobsSaved, run.RolesSaved, run.JobsDeleted, run.RolesDeleted,
		run.ReposDeleted, run.Status, run.ErrorMessage, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update scrape run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("scrape run %d: %w", run.ID, ErrNotFound)
	}
	return nil
}

// ListScrapeRuns returns the most recent runs first
func (s *Store) ListScrapeRuns(ctx context.Context, limit int) ([]ScrapeRun, error) {
	query := `
		SELECT id, start_time, end_time, delete_only, repos, repos_failed, jobs_saved,
		       roles_saved, jobs_deleted, roles_deleted, repos_deleted, status, error_message
		FROM scrape_runs
		ORDER BY start_time DESC, id DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scrape runs: %w", err)
	}
	defer rows.Close()

	var runs []ScrapeRun
	for rows.Next() {
		var (
			run       ScrapeRun
			startTime string
			endTime   sql.NullString
		)
		err := rows.Scan(
			&run.ID, &startTime, &endTime, &run.DeleteOnly, &run.Repos, &run.ReposFailed,
			&run.JobsSaved, &run.RolesSaved, &run.JobsDeleted, &run.RolesDeleted,
			&run.ReposDeleted, &run.Status, &run.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scrape run: %w", err)
		}
		if run.StartTime, err = parseTime(startTime); err != nil {
			return nil, fmt.Errorf("failed to scan scrape run: %w", err)
		}
		end, err := parseNullTime(endTime)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scrape run: %w", err)
		}
		if end != nil {
			run.EndTime = *end
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scrape runs: %w", err)
	}
	return runs, nil
}
