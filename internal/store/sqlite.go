package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/outreach-cli/internal/model"
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
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'running',
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
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
	sent_at     DATETIME NOT NULL,
	opened_at   DATETIME,
	open_count  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS follow_ups (
	id            TEXT PRIMARY KEY,
	tracking_id   TEXT NOT NULL REFERENCES email_tracking(tracking_id),
	recipient     TEXT NOT NULL,
	scheduled_for DATETIME NOT NULL,
	template      TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	sent_at       DATETIME
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_tracking_sent_at ON email_tracking(sent_at);
CREATE INDEX IF NOT EXISTS idx_follow_ups_due ON follow_ups(status, scheduled_for);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.PipelineRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, string(run.Status), string(data), run.CreatedAt.UTC(), run.UpdatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert run")
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *model.PipelineRun) error {
	run.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, data = ?, updated_at = ? WHERE id = ?`,
		string(run.Status), string(data), run.UpdatedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run %s", run.ID)
	}
	return checkRowsAffected(res, "run", run.ID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.PipelineRun, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM runs WHERE id = ?`, runID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return decodeRun([]byte(data))
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	query := `SELECT data FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Campaign != "" {
		query += ` AND json_extract(data, '$.request.campaign') = ?`
		args = append(args, filter.Campaign)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r, err := decodeRun([]byte(data))
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) ListLeads(ctx context.Context) ([]model.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, role, company, email, phone, lead_score FROM contacts ORDER BY lead_score DESC, name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		var l model.Lead
		if err := rows.Scan(&l.Name, &l.Role, &l.Company, &l.Email, &l.Phone, &l.Score); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func (s *SQLiteStore) UpsertLeads(ctx context.Context, leads []model.Lead) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin upsert leads")
	}
	defer tx.Rollback()

	for _, l := range leads {
		if l.Email == "" {
			continue
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO contacts (email, name, role, company, phone, lead_score) VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(email) DO UPDATE SET name = excluded.name, role = excluded.role,
			 company = excluded.company, phone = excluded.phone, lead_score = excluded.lead_score`,
			l.Email, l.Name, l.Role, l.Company, l.Phone, l.Score,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert lead %s", l.Email)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit upsert leads")
}

func (s *SQLiteStore) CreateTrackingRecord(ctx context.Context, rec *model.TrackingRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO email_tracking (tracking_id, recipient, subject, campaign, sent_at, open_count) VALUES (?, ?, ?, ?, ?, 0)`,
		rec.ID, rec.Recipient, rec.Subject, rec.Campaign, rec.SentAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert tracking record %s", rec.ID)
}

// DeleteTrackingRecord backs out a record whose send never completed, so
// sent/open counts only cover delivered mail. Unknown ids are a no-op.
func (s *SQLiteStore) DeleteTrackingRecord(ctx context.Context, trackingID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM email_tracking WHERE tracking_id = ?`, trackingID,
	)
	return eris.Wrapf(err, "sqlite: delete tracking record %s", trackingID)
}

func (s *SQLiteStore) GetTrackingRecord(ctx context.Context, trackingID string) (*model.TrackingRecord, error) {
	var rec model.TrackingRecord
	var openedAt sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT tracking_id, recipient, subject, campaign, sent_at, opened_at, open_count
		 FROM email_tracking WHERE tracking_id = ?`,
		trackingID,
	).Scan(&rec.ID, &rec.Recipient, &rec.Subject, &rec.Campaign, &rec.SentAt, &openedAt, &rec.OpenCount)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("tracking record not found: %s", trackingID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get tracking record %s", trackingID)
	}
	if openedAt.Valid {
		t := openedAt.Time
		rec.OpenedAt = &t
	}
	return &rec, nil
}

// RecordOpen bumps the open counter and sets the first-open timestamp in one
// statement. An unknown tracking id is a no-op, not an error: stale pixels
// keep firing long after campaigns are pruned.
func (s *SQLiteStore) RecordOpen(ctx context.Context, trackingID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE email_tracking SET opened_at = COALESCE(opened_at, ?), open_count = open_count + 1
		 WHERE tracking_id = ?`,
		at.UTC(), trackingID,
	)
	return eris.Wrapf(err, "sqlite: record open %s", trackingID)
}

func (s *SQLiteStore) CountSentSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM email_tracking WHERE sent_at >= ?`, since.UTC(),
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count sent")
}

func (s *SQLiteStore) CountOpenedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM email_tracking WHERE sent_at >= ? AND opened_at IS NOT NULL`, since.UTC(),
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count opened")
}

func (s *SQLiteStore) CreateFollowUp(ctx context.Context, f *model.FollowUp) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO follow_ups (id, tracking_id, recipient, scheduled_for, template, status) VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.TrackingID, f.Recipient, f.ScheduledFor.UTC(), f.Template, string(model.FollowUpPending),
	)
	return eris.Wrapf(err, "sqlite: insert follow-up %s", f.ID)
}

func (s *SQLiteStore) DueFollowUps(ctx context.Context, now time.Time) ([]model.FollowUp, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tracking_id, recipient, scheduled_for, template, status, sent_at
		 FROM follow_ups WHERE status = ? AND scheduled_for <= ?
		 ORDER BY scheduled_for`,
		string(model.FollowUpPending), now.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: due follow-ups")
	}
	defer rows.Close()

	var due []model.FollowUp
	for rows.Next() {
		var f model.FollowUp
		var sentAt sql.NullTime
		if err := rows.Scan(&f.ID, &f.TrackingID, &f.Recipient, &f.ScheduledFor, &f.Template, &f.Status, &sentAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan follow-up")
		}
		if sentAt.Valid {
			t := sentAt.Time
			f.SentAt = &t
		}
		due = append(due, f)
	}
	return due, eris.Wrap(rows.Err(), "sqlite: due follow-ups iterate")
}

// MarkFollowUpSent transitions a follow-up from pending to sent. The
// conditional update is the claim: only one caller observes claimed == true
// for a given follow-up, so concurrent wakes cannot double-send.
func (s *SQLiteStore) MarkFollowUpSent(ctx context.Context, followUpID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE follow_ups SET status = ?, sent_at = ? WHERE id = ? AND status = ?`,
		string(model.FollowUpSent), at.UTC(), followUpID, string(model.FollowUpPending),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: mark follow-up sent %s", followUpID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func decodeRun(data []byte) (*model.PipelineRun, error) {
	var r model.PipelineRun
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal run")
	}
	return &r, nil
}
