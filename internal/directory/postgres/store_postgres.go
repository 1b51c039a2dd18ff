// Package postgres implements the directory store on PostgreSQL via pgx.
// The schema is a narrow replica of the portal's project/allocation records,
// kept current by the host's own feed.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"groupsync/internal/directory"
	"groupsync/pkg/platform/sentinel"
)

// Store implements directory.Store against a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// infra marks an unexpected database failure as transient so callers hold
// and retry their work instead of discarding it.
func infra(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the replica tables when missing. The replica is
// disposable; a full resync repopulates it.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("ensure directory schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	pi_user_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS project_attributes (
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	value      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS project_attributes_name_idx ON project_attributes (project_id, name);

CREATE TABLE IF NOT EXISTS allocations (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	resource   TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS allocation_attributes (
	allocation_id TEXT NOT NULL REFERENCES allocations(id) ON DELETE CASCADE,
	name          TEXT NOT NULL,
	value         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS allocation_attributes_name_idx ON allocation_attributes (allocation_id, name);

CREATE TABLE IF NOT EXISTS project_users (
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	user_id    TEXT NOT NULL,
	status     TEXT NOT NULL,
	PRIMARY KEY (project_id, user_id)
);

CREATE TABLE IF NOT EXISTS allocation_users (
	allocation_id TEXT NOT NULL REFERENCES allocations(id) ON DELETE CASCADE,
	user_id       TEXT NOT NULL,
	status        TEXT NOT NULL,
	PRIMARY KEY (allocation_id, user_id)
);
`

func (s *Store) GetProject(ctx context.Context, projectID string) (*directory.Project, error) {
	var p directory.Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, status, pi_user_id FROM projects WHERE id = $1`, projectID,
	).Scan(&p.ID, &p.Title, &p.Status, &p.PIUserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", projectID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, infra("get project", err)
	}
	p.Attributes, err = s.attributes(ctx, "project_attributes", "project_id", projectID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetAllocation(ctx context.Context, allocationID string) (*directory.Allocation, error) {
	var a directory.Allocation
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, resource, status FROM allocations WHERE id = $1`, allocationID,
	).Scan(&a.ID, &a.ProjectID, &a.Resource, &a.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("allocation %s: %w", allocationID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, infra("get allocation", err)
	}
	a.Attributes, err = s.attributes(ctx, "allocation_attributes", "allocation_id", allocationID)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) attributes(ctx context.Context, table, idCol, id string) ([]directory.Attribute, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT name, value FROM %s WHERE %s = $1`, table, idCol), id)
	if err != nil {
		return nil, infra("query "+table, err)
	}
	defer rows.Close()

	var out []directory.Attribute
	for rows.Next() {
		var a directory.Attribute
		if err := rows.Scan(&a.Name, &a.Value); err != nil {
			return nil, infra("scan "+table, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, infra("read "+table, err)
	}
	return out, nil
}

func (s *Store) ProjectGroups(ctx context.Context, projectID, attributeName string) ([]string, error) {
	return s.groupValues(ctx,
		`SELECT value FROM project_attributes WHERE project_id = $1 AND name = $2`,
		projectID, attributeName)
}

func (s *Store) AllocationGroups(ctx context.Context, allocationID, attributeName string) ([]string, error) {
	return s.groupValues(ctx,
		`SELECT value FROM allocation_attributes WHERE allocation_id = $1 AND name = $2`,
		allocationID, attributeName)
}

func (s *Store) groupValues(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, infra("query groups", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, infra("scan group value", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, infra("read groups", err)
	}
	return out, nil
}

func (s *Store) ActiveAllocations(ctx context.Context, projectID string) ([]*directory.Allocation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, resource, status FROM allocations WHERE project_id = $1 AND status = $2`,
		projectID, directory.AllocationStatusActive)
	if err != nil {
		return nil, infra("query active allocations", err)
	}
	defer rows.Close()
	return scanAllocations(rows)
}

func scanAllocations(rows pgx.Rows) ([]*directory.Allocation, error) {
	var out []*directory.Allocation
	for rows.Next() {
		var a directory.Allocation
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.Resource, &a.Status); err != nil {
			return nil, infra("scan allocation", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, infra("read allocations", err)
	}
	return out, nil
}

func (s *Store) ProjectUsers(ctx context.Context, projectID, status string) ([]*directory.ProjectUser, error) {
	query := `SELECT project_id, user_id, status FROM project_users WHERE project_id = $1`
	args := []any{projectID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, infra("query project users", err)
	}
	defer rows.Close()

	var out []*directory.ProjectUser
	for rows.Next() {
		var u directory.ProjectUser
		if err := rows.Scan(&u.ProjectID, &u.UserID, &u.Status); err != nil {
			return nil, infra("scan project user", err)
		}
		out = append(out, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, infra("read project users", err)
	}
	return out, nil
}

func (s *Store) AllocationUsers(ctx context.Context, allocationID, status string) ([]*directory.AllocationUser, error) {
	query := `SELECT allocation_id, user_id, status FROM allocation_users WHERE allocation_id = $1`
	args := []any{allocationID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, infra("query allocation users", err)
	}
	defer rows.Close()

	var out []*directory.AllocationUser
	for rows.Next() {
		var u directory.AllocationUser
		if err := rows.Scan(&u.AllocationID, &u.UserID, &u.Status); err != nil {
			return nil, infra("scan allocation user", err)
		}
		out = append(out, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, infra("read allocation users", err)
	}
	return out, nil
}

func (s *Store) GetProjectUser(ctx context.Context, projectID, userID string) (*directory.ProjectUser, error) {
	var u directory.ProjectUser
	err := s.pool.QueryRow(ctx,
		`SELECT project_id, user_id, status FROM project_users WHERE project_id = $1 AND user_id = $2`,
		projectID, userID,
	).Scan(&u.ProjectID, &u.UserID, &u.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("project user %s/%s: %w", projectID, userID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, infra("get project user", err)
	}
	return &u, nil
}

func (s *Store) GetAllocationUser(ctx context.Context, allocationID, userID string) (*directory.AllocationUser, error) {
	var u directory.AllocationUser
	err := s.pool.QueryRow(ctx,
		`SELECT allocation_id, user_id, status FROM allocation_users WHERE allocation_id = $1 AND user_id = $2`,
		allocationID, userID,
	).Scan(&u.AllocationID, &u.UserID, &u.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("allocation user %s/%s: %w", allocationID, userID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, infra("get allocation user", err)
	}
	return &u, nil
}

func (s *Store) OtherProjectGroups(ctx context.Context, userID, attributeName, excludeProjectID string) ([]string, error) {
	return s.groupValues(ctx, `
		SELECT DISTINCT pa.value
		FROM project_attributes pa
		JOIN projects p ON p.id = pa.project_id
		JOIN project_users pu ON pu.project_id = p.id
		WHERE pa.name = $1
		  AND pu.user_id = $2
		  AND pu.status = $3
		  AND p.status = $4
		  AND p.id <> $5`,
		attributeName, userID, directory.UserStatusActive, directory.ProjectStatusActive, excludeProjectID)
}

func (s *Store) OtherAllocationGroups(ctx context.Context, userID, attributeName, excludeAllocationID string) ([]string, error) {
	return s.groupValues(ctx, `
		SELECT DISTINCT aa.value
		FROM allocation_attributes aa
		JOIN allocations a ON a.id = aa.allocation_id
		JOIN allocation_users au ON au.allocation_id = a.id
		WHERE aa.name = $1
		  AND au.user_id = $2
		  AND au.status = $3
		  AND a.status = $4
		  AND a.id <> $5`,
		attributeName, userID, directory.UserStatusActive, directory.AllocationStatusActive, excludeAllocationID)
}

func (s *Store) SetProjectUserStatus(ctx context.Context, projectID, userID, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE project_users SET status = $3 WHERE project_id = $1 AND user_id = $2`,
		projectID, userID, status)
	if err != nil {
		return infra("set project user status", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("project user %s/%s: %w", projectID, userID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *Store) SetAllocationUserStatus(ctx context.Context, allocationID, userID, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE allocation_users SET status = $3 WHERE allocation_id = $1 AND user_id = $2`,
		allocationID, userID, status)
	if err != nil {
		return infra("set allocation user status", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("allocation user %s/%s: %w", allocationID, userID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *Store) ProjectsWithGroups(ctx context.Context, attributeName string) ([]*directory.Project, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT p.id, p.title, p.status, p.pi_user_id
		FROM projects p
		JOIN project_attributes pa ON pa.project_id = p.id AND pa.name = $1
		WHERE p.status = $2`,
		attributeName, directory.ProjectStatusActive)
	if err != nil {
		return nil, infra("query projects with groups", err)
	}
	defer rows.Close()

	var out []*directory.Project
	for rows.Next() {
		var p directory.Project
		if err := rows.Scan(&p.ID, &p.Title, &p.Status, &p.PIUserID); err != nil {
			return nil, infra("scan project", err)
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, infra("read projects", err)
	}
	for _, p := range out {
		p.Attributes, err = s.attributes(ctx, "project_attributes", "project_id", p.ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) AllocationsWithGroups(ctx context.Context, attributeName string) ([]*directory.Allocation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT a.id, a.project_id, a.resource, a.status
		FROM allocations a
		JOIN allocation_attributes aa ON aa.allocation_id = a.id AND aa.name = $1
		WHERE a.status = $2`,
		attributeName, directory.AllocationStatusActive)
	if err != nil {
		return nil, infra("query allocations with groups", err)
	}
	defer rows.Close()

	out, err := scanAllocations(rows)
	if err != nil {
		return nil, err
	}
	for _, a := range out {
		a.Attributes, err = s.attributes(ctx, "allocation_attributes", "allocation_id", a.ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
