package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lead-scanner/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection; a single connection keeps them applied
	// and serializes writers from concurrent jobs.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS accounts (
	id              TEXT PRIMARY KEY,
	email           TEXT NOT NULL DEFAULT '',
	plan            TEXT NOT NULL DEFAULT 'free',
	scans_remaining INTEGER NOT NULL DEFAULT 100,
	total_leads     INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	city             TEXT NOT NULL,
	category         TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending',
	progress         INTEGER NOT NULL DEFAULT 0,
	leads_found      INTEGER NOT NULL DEFAULT 0,
	real_leads_count INTEGER NOT NULL DEFAULT 0,
	demo_leads_count INTEGER NOT NULL DEFAULT 0,
	started_at       DATETIME NOT NULL,
	completed_at     DATETIME,
	error            TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS leads (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	job_id            TEXT NOT NULL DEFAULT '',
	name              TEXT NOT NULL,
	phone             TEXT NOT NULL DEFAULT '',
	email             TEXT NOT NULL DEFAULT '',
	address           TEXT NOT NULL DEFAULT '',
	city              TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL DEFAULT '',
	website           TEXT NOT NULL DEFAULT '',
	has_website       INTEGER NOT NULL DEFAULT 0,
	has_gbp           INTEGER NOT NULL DEFAULT 0,
	reviews           INTEGER NOT NULL DEFAULT 0,
	rating            REAL NOT NULL DEFAULT 0,
	lead_score        INTEGER NOT NULL DEFAULT 0,
	lead_type         TEXT NOT NULL DEFAULT 'COLD',
	issues            TEXT NOT NULL DEFAULT '[]',
	seo_data          TEXT NOT NULL DEFAULT '{}',
	gbp_data          TEXT NOT NULL DEFAULT '{}',
	estimated_revenue TEXT NOT NULL DEFAULT '',
	contacted         INTEGER NOT NULL DEFAULT 0,
	status            TEXT NOT NULL DEFAULT 'new',
	source            TEXT NOT NULL DEFAULT '',
	is_fake           INTEGER NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_user_started ON jobs(user_id, started_at);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_leads_user_score ON leads(user_id, lead_score);
CREATE INDEX IF NOT EXISTS idx_leads_job ON leads(job_id);
CREATE INDEX IF NOT EXISTS idx_leads_user_created ON leads(user_id, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func sqlitePlaceholder(int) string { return "?" }

// --- Jobs ---

const jobColumns = `id, user_id, city, category, status, progress, leads_found, real_leads_count, demo_leads_count, started_at, completed_at, error`

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.UserID, job.City, job.Category, string(job.Status), job.Progress,
		job.LeadsFound, job.RealLeadsCount, job.DemoLeadsCount, job.StartedAt.UTC(),
		nullTime(job.CompletedAt), job.Error,
	)
	return eris.Wrapf(err, "sqlite: insert job %s", job.ID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", id)
	}
	return j, err
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, id string, upd model.JobUpdate) error {
	sets := jobSets(upd, sqlitePlaceholder, "MAX")
	if sets.empty() {
		return nil
	}
	args := append(sets.args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET `+sets.String()+` WHERE id = ? AND status NOT IN ('completed', 'failed')`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "job %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: lookup job %s", id)
	}
	return eris.Wrapf(ErrJobTerminal, "job %s is %s", id, status)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	sets := &setList{placeholder: sqlitePlaceholder}
	query := `SELECT ` + jobColumns + ` FROM jobs` + jobWhere(filter, sets) + ` ORDER BY started_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + sets.next(filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, sets.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close() //nolint:errcheck

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) CountJobs(ctx context.Context, filter JobFilter) (int, error) {
	sets := &setList{placeholder: sqlitePlaceholder}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`+jobWhere(filter, sets), sets.args...).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count jobs")
}

// --- Leads ---

const leadColumns = `id, user_id, job_id, name, phone, email, address, city, category, website, has_website, has_gbp, reviews, rating, lead_score, lead_type, issues, seo_data, gbp_data, estimated_revenue, contacted, status, source, is_fake, created_at, updated_at`

func (s *SQLiteStore) CreateLead(ctx context.Context, lead *model.Lead) error {
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	if lead.Status == "" {
		lead.Status = model.DefaultLeadStatus
	}
	now := time.Now().UTC()
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	lead.UpdatedAt = now
	if lead.Issues == nil {
		lead.Issues = []string{}
	}

	issues, err := issuesJSON(lead.Issues)
	if err != nil {
		return eris.Wrap(err, "sqlite")
	}
	seo, err := json.Marshal(lead.SeoData)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal seo data")
	}
	gbp, err := json.Marshal(lead.GbpData)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal gbp data")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO leads (`+leadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.UserID, lead.JobID, lead.Name, lead.Phone, lead.Email, lead.Address,
		lead.City, lead.Category, lead.Website, lead.HasWebsite, lead.HasGBP, lead.Reviews,
		lead.Rating, lead.LeadScore, string(lead.LeadType), string(issues), string(seo),
		string(gbp), lead.EstimatedRevenue, lead.Contacted, lead.Status, lead.Source,
		lead.IsFake, lead.CreatedAt, lead.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert lead %s", lead.ID)
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id)
	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "lead %s", id)
	}
	return l, err
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter model.LeadFilter) ([]model.Lead, error) {
	sets := &setList{placeholder: sqlitePlaceholder}
	query := `SELECT ` + leadColumns + ` FROM leads` + leadWhere(filter, sets) +
		` ORDER BY lead_score DESC, created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + sets.next(filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, sets.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close() //nolint:errcheck

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func (s *SQLiteStore) CountLeads(ctx context.Context, filter model.LeadFilter) (int, error) {
	sets := &setList{placeholder: sqlitePlaceholder}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads`+leadWhere(filter, sets), sets.args...).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count leads")
}

func (s *SQLiteStore) UpdateLeadWorkflow(ctx context.Context, id string, upd LeadWorkflowUpdate) (*model.Lead, error) {
	sets := &setList{placeholder: sqlitePlaceholder}
	if upd.Contacted != nil {
		sets.add("contacted = %s", *upd.Contacted)
	}
	if upd.Status != nil {
		sets.add("status = %s", *upd.Status)
	}
	sets.add("updated_at = %s", time.Now().UTC())
	args := append(sets.args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE leads SET `+sets.String()+` WHERE id = ?`, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update lead %s", id)
	}
	if err := checkRowsAffected(res, "lead", id); err != nil {
		return nil, err
	}
	return s.GetLead(ctx, id)
}

func (s *SQLiteStore) DeleteLeads(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")

	res, err := s.db.ExecContext(ctx, `DELETE FROM leads WHERE id IN (`+marks+`)`, args...)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete leads")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) DailyLeadCounts(ctx context.Context, userID string, since time.Time) ([]model.DailyCount, error) {
	since = since.UTC()
	rows, err := s.db.QueryContext(ctx,
		`SELECT created_at FROM leads WHERE user_id = ? AND created_at >= ?`,
		userID, since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: daily lead counts")
	}
	defer rows.Close() //nolint:errcheck

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan created_at")
		}
		if !t.Before(since) {
			times = append(times, t)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: daily lead counts iterate")
	}
	return groupByDay(times), nil
}

// --- Accounts ---

func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, plan, scans_remaining, total_leads, created_at FROM accounts WHERE id = ?`, id,
	).Scan(&a.ID, &a.Email, &a.Plan, &a.ScansRemaining, &a.TotalLeads, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "account %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get account %s", id)
	}
	return &a, nil
}

func (s *SQLiteStore) EnsureAccount(ctx context.Context, acct model.Account) (*model.Account, error) {
	if acct.Plan == "" {
		acct.Plan = model.DefaultPlan
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, plan, scans_remaining, total_leads, created_at)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		acct.ID, acct.Email, acct.Plan, acct.ScansRemaining, acct.TotalLeads, time.Now().UTC(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: ensure account %s", acct.ID)
	}
	return s.GetAccount(ctx, acct.ID)
}

func (s *SQLiteStore) DecrementQuotaAndAddLeads(ctx context.Context, id string, leads int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET scans_remaining = MAX(scans_remaining - 1, 0), total_leads = total_leads + ? WHERE id = ?`,
		leads, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update account %s", id)
	}
	return checkRowsAffected(res, "account", id)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.Job, error) {
	var (
		j         model.Job
		status    string
		completed sql.NullTime
	)
	err := row.Scan(&j.ID, &j.UserID, &j.City, &j.Category, &status, &j.Progress,
		&j.LeadsFound, &j.RealLeadsCount, &j.DemoLeadsCount, &j.StartedAt, &completed, &j.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}
	j.Status = model.JobStatus(status)
	if completed.Valid {
		t := completed.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

func scanLead(row scannable) (*model.Lead, error) {
	var (
		l                model.Lead
		leadType         string
		issues, seo, gbp string
	)
	err := row.Scan(&l.ID, &l.UserID, &l.JobID, &l.Name, &l.Phone, &l.Email, &l.Address,
		&l.City, &l.Category, &l.Website, &l.HasWebsite, &l.HasGBP, &l.Reviews, &l.Rating,
		&l.LeadScore, &leadType, &issues, &seo, &gbp, &l.EstimatedRevenue, &l.Contacted,
		&l.Status, &l.Source, &l.IsFake, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan lead")
	}
	l.LeadType = model.LeadType(leadType)
	if err := decodeLeadJSON(&l, []byte(issues), []byte(seo), []byte(gbp)); err != nil {
		return nil, eris.Wrap(err, "sqlite")
	}
	return &l, nil
}

func decodeLeadJSON(l *model.Lead, issues, seo, gbp []byte) error {
	if err := json.Unmarshal(issues, &l.Issues); err != nil {
		return eris.Wrap(err, "unmarshal issues")
	}
	if l.Issues == nil {
		l.Issues = []string{}
	}
	if err := json.Unmarshal(seo, &l.SeoData); err != nil {
		return eris.Wrap(err, "unmarshal seo data")
	}
	if err := json.Unmarshal(gbp, &l.GbpData); err != nil {
		return eris.Wrap(err, "unmarshal gbp data")
	}
	return nil
}
