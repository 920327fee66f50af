package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
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
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'running',
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS contacts (
	email      TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	role       TEXT NOT NULL DEFAULT '',
	company    TEXT NOT NULL DEFAULT '',
	phone      TEXT NOT NULL DEFAULT '',
	lead_score INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS email_tracking (
	tracking_id TEXT PRIMARY KEY,
	recipient   TEXT NOT NULL,
	subject     TEXT NOT NULL,
	campaign    TEXT NOT NULL DEFAULT '',
	sent_at     TIMESTAMPTZ NOT NULL,
	opened_at   TIMESTAMPTZ,
	open_count  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS follow_ups (
	id            TEXT PRIMARY KEY,
	tracking_id   TEXT NOT NULL REFERENCES email_tracking(tracking_id),
	recipient     TEXT NOT NULL,
	scheduled_for TIMESTAMPTZ NOT NULL,
	template      TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	sent_at       TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_tracking_sent_at ON email_tracking(sent_at);
CREATE INDEX IF NOT EXISTS idx_follow_ups_due ON follow_ups(status, scheduled_for);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
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

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.PipelineRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, data, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		run.ID, string(run.Status), data, run.CreatedAt.UTC(), run.UpdatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert run")
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *model.PipelineRun) error {
	run.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, data = $2, updated_at = $3 WHERE id = $4`,
		string(run.Status), data, run.UpdatedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.PipelineRun, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM runs WHERE id = $1`, runID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return decodeRun(data)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	query := `SELECT data FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Campaign != "" {
		query += fmt.Sprintf(` AND data->'request'->>'campaign' = $%d`, argIdx)
		args = append(args, filter.Campaign)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r, err := decodeRun(data)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) ListLeads(ctx context.Context) ([]model.Lead, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, role, company, email, phone, lead_score FROM contacts ORDER BY lead_score DESC, name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		var l model.Lead
		if err := rows.Scan(&l.Name, &l.Role, &l.Company, &l.Email, &l.Phone, &l.Score); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

func (s *PostgresStore) UpsertLeads(ctx context.Context, leads []model.Lead) error {
	for _, l := range leads {
		if l.Email == "" {
			continue
		}
		_, err := s.pool.Exec(ctx,
			`INSERT INTO contacts (email, name, role, company, phone, lead_score) VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name, role = EXCLUDED.role,
			 company = EXCLUDED.company, phone = EXCLUDED.phone, lead_score = EXCLUDED.lead_score`,
			l.Email, l.Name, l.Role, l.Company, l.Phone, l.Score,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert lead %s", l.Email)
		}
	}
	return nil
}

func (s *PostgresStore) CreateTrackingRecord(ctx context.Context, rec *model.TrackingRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO email_tracking (tracking_id, recipient, subject, campaign, sent_at, open_count) VALUES ($1, $2, $3, $4, $5, 0)`,
		rec.ID, rec.Recipient, rec.Subject, rec.Campaign, rec.SentAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert tracking record %s", rec.ID)
}

// DeleteTrackingRecord backs out a record whose send never completed, so
// sent/open counts only cover delivered mail. Unknown ids are a no-op.
func (s *PostgresStore) DeleteTrackingRecord(ctx context.Context, trackingID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM email_tracking WHERE tracking_id = $1`, trackingID,
	)
	return eris.Wrapf(err, "postgres: delete tracking record %s", trackingID)
}

func (s *PostgresStore) GetTrackingRecord(ctx context.Context, trackingID string) (*model.TrackingRecord, error) {
	var rec model.TrackingRecord
	var openedAt *time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT tracking_id, recipient, subject, campaign, sent_at, opened_at, open_count
		 FROM email_tracking WHERE tracking_id = $1`,
		trackingID,
	).Scan(&rec.ID, &rec.Recipient, &rec.Subject, &rec.Campaign, &rec.SentAt, &openedAt, &rec.OpenCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("tracking record not found: %s", trackingID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get tracking record %s", trackingID)
	}
	rec.OpenedAt = openedAt
	return &rec, nil
}

// RecordOpen bumps the open counter and sets the first-open timestamp in one
// statement. An unknown tracking id is a no-op, not an error.
func (s *PostgresStore) RecordOpen(ctx context.Context, trackingID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE email_tracking SET opened_at = COALESCE(opened_at, $1), open_count = open_count + 1
		 WHERE tracking_id = $2`,
		at.UTC(), trackingID,
	)
	return eris.Wrapf(err, "postgres: record open %s", trackingID)
}

func (s *PostgresStore) CountSentSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM email_tracking WHERE sent_at >= $1`, since.UTC(),
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count sent")
}

func (s *PostgresStore) CountOpenedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM email_tracking WHERE sent_at >= $1 AND opened_at IS NOT NULL`, since.UTC(),
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count opened")
}

func (s *PostgresStore) CreateFollowUp(ctx context.Context, f *model.FollowUp) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO follow_ups (id, tracking_id, recipient, scheduled_for, template, status) VALUES ($1, $2, $3, $4, $5, $6)`,
		f.ID, f.TrackingID, f.Recipient, f.ScheduledFor.UTC(), f.Template, string(model.FollowUpPending),
	)
	return eris.Wrapf(err, "postgres: insert follow-up %s", f.ID)
}

func (s *PostgresStore) DueFollowUps(ctx context.Context, now time.Time) ([]model.FollowUp, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tracking_id, recipient, scheduled_for, template, status, sent_at
		 FROM follow_ups WHERE status = $1 AND scheduled_for <= $2
		 ORDER BY scheduled_for`,
		string(model.FollowUpPending), now.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: due follow-ups")
	}
	defer rows.Close()

	var due []model.FollowUp
	for rows.Next() {
		var f model.FollowUp
		var sentAt *time.Time
		if err := rows.Scan(&f.ID, &f.TrackingID, &f.Recipient, &f.ScheduledFor, &f.Template, &f.Status, &sentAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan follow-up")
		}
		f.SentAt = sentAt
		due = append(due, f)
	}
	return due, eris.Wrap(rows.Err(), "postgres: due follow-ups iterate")
}

// MarkFollowUpSent transitions a follow-up from pending to sent. Only one
// caller observes claimed == true for a given follow-up.
func (s *PostgresStore) MarkFollowUpSent(ctx context.Context, followUpID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE follow_ups SET status = $1, sent_at = $2 WHERE id = $3 AND status = $4`,
		string(model.FollowUpSent), at.UTC(), followUpID, string(model.FollowUpPending),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: mark follow-up sent %s", followUpID)
	}
	return tag.RowsAffected() == 1, nil
}
