// Package outcomes records what the engine did with every event: one row
// per membership intent, append-only, queryable by project or user so
// operators can answer "what happened to this person's access".
package outcomes

import (
	"time"

	"github.com/google/uuid"

	"groupsync/internal/reconcile/models"
)

// Record is one persisted intent result.
type Record struct {
	ID           uuid.UUID
	EventID      uuid.UUID
	Kind         models.EventKind
	ProjectID    string
	AllocationID string
	UserID       string
	Group        string
	Direction    models.Direction
	Status       models.IntentStatus
	Reason       string
	Attempts     int
	CompletedAt  time.Time
}

// FromOutcome flattens an outcome into store records.
func FromOutcome(o *models.Outcome) []Record {
	records := make([]Record, 0, len(o.Results))
	for _, r := range o.Results {
		records = append(records, Record{
			ID:           uuid.New(),
			EventID:      o.EventID,
			Kind:         o.Kind,
			ProjectID:    o.Key.Project,
			AllocationID: o.Key.Allocation,
			UserID:       o.Key.User,
			Group:        string(r.Intent.Group),
			Direction:    r.Intent.Direction,
			Status:       r.Status,
			Reason:       r.Reason,
			Attempts:     r.Attempts,
			CompletedAt:  o.CompletedAt,
		})
	}
	return records
}
