package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies a host lifecycle event. The names are fixed wire
// names consumed from the portal and must not change.
type EventKind string

const (
	EventProjectUserActivated    EventKind = "project_activate_user"
	EventProjectUserRemoved      EventKind = "project_remove_user"
	EventAllocationUserActivated EventKind = "allocation_activate_user"
	EventAllocationUserRemoved   EventKind = "allocation_remove_user"
	EventAllocationActivated     EventKind = "allocation_activate"
	EventAllocationDisabled      EventKind = "allocation_disable"
	EventProjectArchived         EventKind = "project_archive"
)

// Direction is the membership change a kind implies.
type Direction string

const (
	DirectionAdd    Direction = "add"
	DirectionRemove Direction = "remove"
)

// Direction maps activation kinds to Add and removal/disable/archive kinds
// to Remove.
func (k EventKind) Direction() Direction {
	switch k {
	case EventProjectUserActivated, EventAllocationUserActivated, EventAllocationActivated:
		return DirectionAdd
	default:
		return DirectionRemove
	}
}

// Compound reports whether the kind expands into one event per affected
// allocation user at dispatch time.
func (k EventKind) Compound() bool {
	switch k {
	case EventAllocationActivated, EventAllocationDisabled, EventProjectArchived:
		return true
	default:
		return false
	}
}

// Valid reports whether k is one of the seven canonical kinds.
func (k EventKind) Valid() bool {
	switch k {
	case EventProjectUserActivated, EventProjectUserRemoved,
		EventAllocationUserActivated, EventAllocationUserRemoved,
		EventAllocationActivated, EventAllocationDisabled, EventProjectArchived:
		return true
	}
	return false
}

// GroupID names an external directory group. Opaque to the engine.
type GroupID string

// ScopingPolicy selects whether membership tracks projects or allocations.
// Fixed at startup.
type ScopingPolicy string

const (
	PolicyProjectLevel    ScopingPolicy = "project"
	PolicyAllocationLevel ScopingPolicy = "allocation"
)

// Key is the serialization unit for the engine: events sharing a key are
// processed one at a time, in sequence order.
type Key struct {
	Project    string
	Allocation string
	User       string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Project, k.Allocation, k.User)
}

// LifecycleEvent is the canonical event consumed by the engine. The dispatch
// adapter assigns Seq per project at the point of capture and snapshots the
// group attributes so the resolver stays pure; nothing here is recomputed at
// delivery time.
type LifecycleEvent struct {
	ID           uuid.UUID
	Kind         EventKind
	ProjectID    string
	AllocationID string // empty for project-scoped events
	UserID       string // empty only before compound expansion
	PrevStatus   string
	NextStatus   string
	Timestamp    time.Time
	Seq          uint64

	// Capture-time snapshots taken by the adapter.
	ProjectGroups    []GroupID
	AllocationGroups []GroupID
	// RetainedGroups are groups the user also holds through another active
	// project or allocation; removals must leave these intact.
	RetainedGroups []GroupID
}

// Key returns the per-key serialization identity of the event.
func (e *LifecycleEvent) Key() Key {
	return Key{Project: e.ProjectID, Allocation: e.AllocationID, User: e.UserID}
}

// MembershipIntent is one desired add or remove derived from one event and
// one resolved group. Never persisted; it lives only while the event is
// being processed.
type MembershipIntent struct {
	Group     GroupID
	User      string
	Direction Direction
	EventID   uuid.UUID
}

// IntentStatus classifies the result of applying one intent.
type IntentStatus string

const (
	StatusApplied          IntentStatus = "applied"
	StatusAlreadySatisfied IntentStatus = "already_satisfied"
	StatusFailed           IntentStatus = "failed"
)

// Well-known reasons attached to already-satisfied results.
const (
	ReasonNoGroups   = "no groups resolved"
	ReasonSuperseded = "superseded by newer event"
)

// IntentResult is the per-intent portion of an outcome.
type IntentResult struct {
	Intent   MembershipIntent
	Status   IntentStatus
	Reason   string
	Attempts int
}

// Outcome is returned to the caller of Handle for every event. Failures are
// aggregated here and never raised past the engine.
type Outcome struct {
	EventID     uuid.UUID
	Kind        EventKind
	Key         Key
	Seq         uint64
	Results     []IntentResult
	CompletedAt time.Time
}

// Failed reports whether any intent failed.
func (o *Outcome) Failed() bool {
	for _, r := range o.Results {
		if r.Status == StatusFailed {
			return true
		}
	}
	return false
}

// PartialFailure reports a compound-style mixed result: at least one intent
// failed and at least one did not.
func (o *Outcome) PartialFailure() bool {
	var failed, ok bool
	for _, r := range o.Results {
		if r.Status == StatusFailed {
			failed = true
		} else {
			ok = true
		}
	}
	return failed && ok
}
