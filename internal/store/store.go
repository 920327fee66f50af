// Package store provides persistence for pipeline runs, the contact book,
// email open tracking and scheduled follow-ups. Two implementations exist:
// SQLite for single-node deployments and Postgres for shared ones.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sells-group/outreach-cli/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status   model.RunStatus `json:"status,omitempty"`
	Campaign string          `json:"campaign,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Offset   int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the outreach pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *model.PipelineRun) error
	UpdateRun(ctx context.Context, run *model.PipelineRun) error
	GetRun(ctx context.Context, runID string) (*model.PipelineRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error)

	// Contacts
	ListLeads(ctx context.Context) ([]model.Lead, error)
	UpsertLeads(ctx context.Context, leads []model.Lead) error

	// Email tracking
	CreateTrackingRecord(ctx context.Context, rec *model.TrackingRecord) error
	DeleteTrackingRecord(ctx context.Context, trackingID string) error
	GetTrackingRecord(ctx context.Context, trackingID string) (*model.TrackingRecord, error)
	RecordOpen(ctx context.Context, trackingID string, at time.Time) error
	CountSentSince(ctx context.Context, since time.Time) (int, error)
	CountOpenedSince(ctx context.Context, since time.Time) (int, error)

	// Follow-ups
	CreateFollowUp(ctx context.Context, f *model.FollowUp) error
	DueFollowUps(ctx context.Context, now time.Time) ([]model.FollowUp, error)
	MarkFollowUpSent(ctx context.Context, followUpID string, at time.Time) (bool, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Pool abstracts the pgx connection pool so tests can substitute pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}
