// Package postgres persists outcome records through database/sql with the
// lib/pq driver. Insert-only; rows are never updated or deleted by the
// service.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"groupsync/internal/outcomes"
	"groupsync/internal/reconcile/models"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open outcome database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping outcome database: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the outcome_records table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS outcome_records (
			id            UUID PRIMARY KEY,
			event_id      UUID        NOT NULL,
			kind          TEXT        NOT NULL,
			project_id    TEXT        NOT NULL,
			allocation_id TEXT        NOT NULL DEFAULT '',
			user_id       TEXT        NOT NULL,
			group_name    TEXT        NOT NULL,
			direction     TEXT        NOT NULL,
			status        TEXT        NOT NULL,
			reason        TEXT        NOT NULL DEFAULT '',
			attempts      INT         NOT NULL DEFAULT 0,
			completed_at  TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS outcome_records_project_idx
			ON outcome_records (project_id, completed_at DESC);
		CREATE INDEX IF NOT EXISTS outcome_records_user_idx
			ON outcome_records (user_id, completed_at DESC);
	`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure outcome schema: %w", err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, records ...outcomes.Record) error {
	const query = `
		INSERT INTO outcome_records
			(id, event_id, kind, project_id, allocation_id, user_id,
			 group_name, direction, status, reason, attempts, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	for _, r := range records {
		_, err := s.db.ExecContext(ctx, query,
			r.ID, r.EventID, string(r.Kind), r.ProjectID, r.AllocationID,
			r.UserID, r.Group, string(r.Direction), string(r.Status),
			r.Reason, r.Attempts, r.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("insert outcome record %s: %w", r.ID, err)
		}
	}
	return nil
}

func (s *Store) ListByProject(ctx context.Context, projectID string, limit int) ([]outcomes.Record, error) {
	const query = `
		SELECT id, event_id, kind, project_id, allocation_id, user_id,
		       group_name, direction, status, reason, attempts, completed_at
		FROM outcome_records
		WHERE project_id = $1
		ORDER BY completed_at DESC
		LIMIT $2
	`
	return s.list(ctx, query, projectID, normalizeLimit(limit))
}

func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]outcomes.Record, error) {
	const query = `
		SELECT id, event_id, kind, project_id, allocation_id, user_id,
		       group_name, direction, status, reason, attempts, completed_at
		FROM outcome_records
		WHERE user_id = $1
		ORDER BY completed_at DESC
		LIMIT $2
	`
	return s.list(ctx, query, userID, normalizeLimit(limit))
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]outcomes.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outcome records: %w", err)
	}
	defer rows.Close()

	var out []outcomes.Record
	for rows.Next() {
		var r outcomes.Record
		var kind, direction, status string
		if err := rows.Scan(
			&r.ID, &r.EventID, &kind, &r.ProjectID, &r.AllocationID,
			&r.UserID, &r.Group, &direction, &status,
			&r.Reason, &r.Attempts, &r.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outcome record: %w", err)
		}
		r.Kind = models.EventKind(kind)
		r.Direction = models.Direction(direction)
		r.Status = models.IntentStatus(status)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome records: %w", err)
	}
	return out, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
