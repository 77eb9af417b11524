package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-scanner/internal/db"
	"github.com/sells-group/lead-scanner/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hottest paths of a running scan.
var preparedStatements = map[string]string{
	"insert_lead": `INSERT INTO leads (` + leadColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)`,
	"get_job":     `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`,
	"get_account": `SELECT id, email, plan, scans_remaining, total_leads, created_at FROM accounts WHERE id = $1`,
	"spend_scan":  `UPDATE accounts SET scans_remaining = GREATEST(scans_remaining - 1, 0), total_leads = total_leads + $1 WHERE id = $2`,
	"job_status":  `SELECT status FROM jobs WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS accounts (
	id              TEXT PRIMARY KEY,
	email           TEXT NOT NULL DEFAULT '',
	plan            TEXT NOT NULL DEFAULT 'free',
	scans_remaining INTEGER NOT NULL DEFAULT 100,
	total_leads     INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id          TEXT NOT NULL,
	city             TEXT NOT NULL,
	category         TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending',
	progress         INTEGER NOT NULL DEFAULT 0,
	leads_found      INTEGER NOT NULL DEFAULT 0,
	real_leads_count INTEGER NOT NULL DEFAULT 0,
	demo_leads_count INTEGER NOT NULL DEFAULT 0,
	started_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at     TIMESTAMPTZ,
	error            TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS leads (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id           TEXT NOT NULL,
	job_id            TEXT NOT NULL DEFAULT '',
	name              TEXT NOT NULL,
	phone             TEXT NOT NULL DEFAULT '',
	email             TEXT NOT NULL DEFAULT '',
	address           TEXT NOT NULL DEFAULT '',
	city              TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL DEFAULT '',
	website           TEXT NOT NULL DEFAULT '',
	has_website       BOOLEAN NOT NULL DEFAULT false,
	has_gbp           BOOLEAN NOT NULL DEFAULT false,
	reviews           INTEGER NOT NULL DEFAULT 0,
	rating            DOUBLE PRECISION NOT NULL DEFAULT 0,
	lead_score        INTEGER NOT NULL DEFAULT 0,
	lead_type         TEXT NOT NULL DEFAULT 'COLD',
	issues            JSONB NOT NULL DEFAULT '[]',
	seo_data          JSONB NOT NULL DEFAULT '{}',
	gbp_data          JSONB NOT NULL DEFAULT '{}',
	estimated_revenue TEXT NOT NULL DEFAULT '',
	contacted         BOOLEAN NOT NULL DEFAULT false,
	status            TEXT NOT NULL DEFAULT 'new',
	source            TEXT NOT NULL DEFAULT '',
	is_fake           BOOLEAN NOT NULL DEFAULT false,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_user_started ON jobs(user_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_leads_user_score ON leads(user_id, lead_score DESC, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_leads_job ON leads(job_id);
CREATE INDEX IF NOT EXISTS idx_leads_user_created ON leads(user_id, created_at);
`

func pgPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID, job.UserID, job.City, job.Category, string(job.Status), job.Progress,
		job.LeadsFound, job.RealLeadsCount, job.DemoLeadsCount, job.StartedAt.UTC(),
		job.CompletedAt, job.Error,
	)
	return eris.Wrapf(err, "postgres: insert job %s", job.ID)
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanPgJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", id)
	}
	return j, err
}

func (s *PostgresStore) UpdateJob(ctx context.Context, id string, upd model.JobUpdate) error {
	sets := jobSets(upd, pgPlaceholder, "GREATEST")
	if sets.empty() {
		return nil
	}
	where := sets.next(id)

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET `+sets.String()+` WHERE id = `+where+` AND status NOT IN ('completed', 'failed')`,
		sets.args...,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job %s", id)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status string
	err = s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "job %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: lookup job %s", id)
	}
	return eris.Wrapf(ErrJobTerminal, "job %s is %s", id, status)
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	sets := &setList{placeholder: pgPlaceholder}
	query := `SELECT ` + jobColumns + ` FROM jobs` + jobWhere(filter, sets) + ` ORDER BY started_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + sets.next(filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, sets.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) CountJobs(ctx context.Context, filter JobFilter) (int, error) {
	sets := &setList{placeholder: pgPlaceholder}
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs`+jobWhere(filter, sets), sets.args...).Scan(&n)
	return n, eris.Wrap(err, "postgres: count jobs")
}

// --- Leads ---

func (s *PostgresStore) CreateLead(ctx context.Context, lead *model.Lead) error {
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
		return eris.Wrap(err, "postgres")
	}
	seo, err := json.Marshal(lead.SeoData)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal seo data")
	}
	gbp, err := json.Marshal(lead.GbpData)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal gbp data")
	}

	_, err = s.pool.Exec(ctx, preparedStatements["insert_lead"],
		lead.ID, lead.UserID, lead.JobID, lead.Name, lead.Phone, lead.Email, lead.Address,
		lead.City, lead.Category, lead.Website, lead.HasWebsite, lead.HasGBP, lead.Reviews,
		lead.Rating, lead.LeadScore, string(lead.LeadType), issues, seo, gbp,
		lead.EstimatedRevenue, lead.Contacted, lead.Status, lead.Source, lead.IsFake,
		lead.CreatedAt, lead.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert lead %s", lead.ID)
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
	l, err := scanPgLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "lead %s", id)
	}
	return l, err
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter model.LeadFilter) ([]model.Lead, error) {
	sets := &setList{placeholder: pgPlaceholder}
	query := `SELECT ` + leadColumns + ` FROM leads` + leadWhere(filter, sets) +
		` ORDER BY lead_score DESC, created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + sets.next(filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, sets.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanPgLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

func (s *PostgresStore) CountLeads(ctx context.Context, filter model.LeadFilter) (int, error) {
	sets := &setList{placeholder: pgPlaceholder}
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM leads`+leadWhere(filter, sets), sets.args...).Scan(&n)
	return n, eris.Wrap(err, "postgres: count leads")
}

func (s *PostgresStore) UpdateLeadWorkflow(ctx context.Context, id string, upd LeadWorkflowUpdate) (*model.Lead, error) {
	sets := &setList{placeholder: pgPlaceholder}
	if upd.Contacted != nil {
		sets.add("contacted = %s", *upd.Contacted)
	}
	if upd.Status != nil {
		sets.add("status = %s", *upd.Status)
	}
	sets.add("updated_at = %s", time.Now().UTC())
	where := sets.next(id)

	row := s.pool.QueryRow(ctx,
		`UPDATE leads SET `+sets.String()+` WHERE id = `+where+` RETURNING `+leadColumns,
		sets.args...,
	)
	l, err := scanPgLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "lead %s", id)
	}
	return l, err
}

func (s *PostgresStore) DeleteLeads(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var deleted int
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM leads WHERE id = ANY($1)`, ids)
		if err != nil {
			return eris.Wrap(err, "postgres: delete leads")
		}
		deleted = int(tag.RowsAffected())
		return nil
	})
	return deleted, err
}

func (s *PostgresStore) DailyLeadCounts(ctx context.Context, userID string, since time.Time) ([]model.DailyCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, COUNT(*)
		 FROM leads WHERE user_id = $1 AND created_at >= $2
		 GROUP BY day ORDER BY day`,
		userID, since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: daily lead counts")
	}
	defer rows.Close()

	var out []model.DailyCount
	for rows.Next() {
		var d model.DailyCount
		if err := rows.Scan(&d.Day, &d.Count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan daily count")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: daily lead counts iterate")
}

// --- Accounts ---

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	err := s.pool.QueryRow(ctx, preparedStatements["get_account"], id).
		Scan(&a.ID, &a.Email, &a.Plan, &a.ScansRemaining, &a.TotalLeads, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "account %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get account %s", id)
	}
	return &a, nil
}

func (s *PostgresStore) EnsureAccount(ctx context.Context, acct model.Account) (*model.Account, error) {
	if acct.Plan == "" {
		acct.Plan = model.DefaultPlan
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, email, plan, scans_remaining, total_leads, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		acct.ID, acct.Email, acct.Plan, acct.ScansRemaining, acct.TotalLeads, time.Now().UTC(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: ensure account %s", acct.ID)
	}
	return s.GetAccount(ctx, acct.ID)
}

func (s *PostgresStore) DecrementQuotaAndAddLeads(ctx context.Context, id string, leads int) error {
	tag, err := s.pool.Exec(ctx, preparedStatements["spend_scan"], leads, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update account %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "account %s", id)
	}
	return nil
}

func scanPgJob(row pgx.Row) (*model.Job, error) {
	var (
		j         model.Job
		status    string
		completed *time.Time
	)
	err := row.Scan(&j.ID, &j.UserID, &j.City, &j.Category, &status, &j.Progress,
		&j.LeadsFound, &j.RealLeadsCount, &j.DemoLeadsCount, &j.StartedAt, &completed, &j.Error)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan job")
	}
	j.Status = model.JobStatus(status)
	j.CompletedAt = completed
	return &j, nil
}

func scanPgLead(row pgx.Row) (*model.Lead, error) {
	var (
		l                model.Lead
		leadType         string
		issues, seo, gbp []byte
	)
	err := row.Scan(&l.ID, &l.UserID, &l.JobID, &l.Name, &l.Phone, &l.Email, &l.Address,
		&l.City, &l.Category, &l.Website, &l.HasWebsite, &l.HasGBP, &l.Reviews, &l.Rating,
		&l.LeadScore, &leadType, &issues, &seo, &gbp, &l.EstimatedRevenue, &l.Contacted,
		&l.Status, &l.Source, &l.IsFake, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan lead")
	}
	l.LeadType = model.LeadType(leadType)
	if err := decodeLeadJSON(&l, issues, seo, gbp); err != nil {
		return nil, eris.Wrap(err, "postgres")
	}
	return &l, nil
}
