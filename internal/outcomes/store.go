package outcomes

import "context"

// Store persists outcome records. Append-only; there is no update path.
type Store interface {
	Append(ctx context.Context, records ...Record) error
	ListByProject(ctx context.Context, projectID string, limit int) ([]Record, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Record, error)
}
