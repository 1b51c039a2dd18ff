// Package adapter translates host portal notifications into canonical
// lifecycle events: it qualifies status transitions, assigns per-project
// sequence numbers at capture, snapshots group attributes so the resolver
// stays pure, and expands compound events into per-user work.
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"groupsync/internal/directory"
	"groupsync/internal/platform/metrics"
	"groupsync/internal/reconcile/models"
)

// Notification is the host-facing wire model: one lifecycle signal plus the
// status transition that triggered it.
type Notification struct {
	Kind         models.EventKind `json:"kind"`
	ProjectID    string           `json:"project_id"`
	AllocationID string           `json:"allocation_id,omitempty"`
	UserID       string           `json:"user_id,omitempty"`
	PrevStatus   string           `json:"prev_status,omitempty"`
	NextStatus   string           `json:"next_status,omitempty"`
	Timestamp    time.Time        `json:"timestamp,omitzero"`
}

// Reconciler is the engine surface the adapter drives.
type Reconciler interface {
	Handle(ctx context.Context, event *models.LifecycleEvent) *models.Outcome
	HandleBatch(ctx context.Context, events []*models.LifecycleEvent) []*models.Outcome
}

// Config is the adapter's slice of the service configuration.
type Config struct {
	Policy                 models.ScopingPolicy
	GroupAttributeName     string
	SignalsEnabled         bool
	RemoveOnProjectArchive bool
}

type Adapter struct {
	cfg     Config
	dir     directory.Store
	engine  Reconciler
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	seqs map[string]uint64 // per-project sequence counters
}

type Option func(*Adapter)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

func New(cfg Config, dir directory.Store, engine Reconciler, opts ...Option) (*Adapter, error) {
	if dir == nil {
		return nil, fmt.Errorf("directory store is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("reconciler is required")
	}
	if cfg.GroupAttributeName == "" {
		return nil, fmt.Errorf("group attribute name is required")
	}
	a := &Adapter{
		cfg:    cfg,
		dir:    dir,
		engine: engine,
		logger: slog.Default(),
		seqs:   make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Dispatch qualifies a notification and drives the engine. Disqualified
// notifications are discarded with a nil result; the returned error only
// covers malformed input or directory lookup failures, never membership
// failures (those live inside the outcomes).
func (a *Adapter) Dispatch(ctx context.Context, n Notification) ([]*models.Outcome, error) {
	if !n.Kind.Valid() {
		return nil, fmt.Errorf("unknown event kind %q", n.Kind)
	}
	if n.ProjectID == "" {
		return nil, fmt.Errorf("project id is required")
	}
	if !a.cfg.SignalsEnabled {
		a.discard(ctx, n, "signals_disabled")
		return nil, nil
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	switch n.Kind {
	case models.EventProjectUserActivated, models.EventProjectUserRemoved:
		return a.dispatchProjectUser(ctx, n)
	case models.EventAllocationUserActivated, models.EventAllocationUserRemoved:
		return a.dispatchAllocationUser(ctx, n)
	case models.EventAllocationActivated, models.EventAllocationDisabled:
		return a.dispatchAllocationTransition(ctx, n)
	default:
		return a.dispatchProjectArchive(ctx, n)
	}
}

func (a *Adapter) dispatchProjectUser(ctx context.Context, n Notification) ([]*models.Outcome, error) {
	if n.UserID == "" {
		return nil, fmt.Errorf("%s: user id is required", n.Kind)
	}
	project, err := a.dir.GetProject(ctx, n.ProjectID)
	if err != nil {
		return nil, err
	}

	if n.Kind == models.EventProjectUserActivated {
		if project.Status != directory.ProjectStatusActive {
			a.logger.WarnContext(ctx, "project is not active, will not add user",
				"project", n.ProjectID, "user", n.UserID)
			a.discard(ctx, n, "project_not_active")
			return nil, nil
		}
		if !qualifies(n, directory.UserStatusActive) {
			a.discard(ctx, n, "transition_not_qualifying")
			return nil, nil
		}
		if !a.memberStatusIs(ctx, n, directory.UserStatusActive) {
			return nil, nil
		}
	} else {
		if project.Status == directory.ProjectStatusArchived {
			a.logger.WarnContext(ctx, "project is archived, will not remove user",
				"project", n.ProjectID, "user", n.UserID)
			a.discard(ctx, n, "project_archived")
			return nil, nil
		}
		if !qualifies(n, directory.UserStatusRemoved) {
			a.discard(ctx, n, "transition_not_qualifying")
			return nil, nil
		}
		if !a.memberStatusIs(ctx, n, directory.UserStatusRemoved) {
			return nil, nil
		}
	}

	event, err := a.buildEvent(ctx, n, n.UserID, "")
	if err != nil {
		return nil, err
	}
	outcome := a.engine.Handle(ctx, event)
	a.flagFailures(ctx, outcome)
	return []*models.Outcome{outcome}, nil
}

func (a *Adapter) dispatchAllocationUser(ctx context.Context, n Notification) ([]*models.Outcome, error) {
	if n.UserID == "" {
		return nil, fmt.Errorf("%s: user id is required", n.Kind)
	}
	if n.AllocationID == "" {
		return nil, fmt.Errorf("%s: allocation id is required", n.Kind)
	}
	allocation, err := a.dir.GetAllocation(ctx, n.AllocationID)
	if err != nil {
		return nil, err
	}

	if n.Kind == models.EventAllocationUserActivated {
		if allocation.Status != directory.AllocationStatusActive {
			a.logger.WarnContext(ctx, "allocation is not active, will not add user",
				"allocation", n.AllocationID, "user", n.UserID)
			a.discard(ctx, n, "allocation_not_active")
			return nil, nil
		}
		if !qualifies(n, directory.UserStatusActive) {
			a.discard(ctx, n, "transition_not_qualifying")
			return nil, nil
		}
		if !a.memberStatusIs(ctx, n, directory.UserStatusActive) {
			return nil, nil
		}
	} else {
		if !removableAllocationStatus(allocation.Status) {
			a.logger.WarnContext(ctx, "allocation is not active or pending, will not remove user",
				"allocation", n.AllocationID, "user", n.UserID)
			a.discard(ctx, n, "allocation_not_removable")
			return nil, nil
		}
		if !qualifies(n, directory.UserStatusRemoved) {
			a.discard(ctx, n, "transition_not_qualifying")
			return nil, nil
		}
		if !a.memberStatusIs(ctx, n, directory.UserStatusRemoved) {
			return nil, nil
		}
	}

	event, err := a.buildEvent(ctx, n, n.UserID, n.AllocationID)
	if err != nil {
		return nil, err
	}
	outcome := a.engine.Handle(ctx, event)
	a.flagFailures(ctx, outcome)
	return []*models.Outcome{outcome}, nil
}

// dispatchAllocationTransition handles allocation_activate/allocation_disable:
// compound events affecting every active user of the allocation.
func (a *Adapter) dispatchAllocationTransition(ctx context.Context, n Notification) ([]*models.Outcome, error) {
	if n.AllocationID == "" {
		return nil, fmt.Errorf("%s: allocation id is required", n.Kind)
	}

	activating := n.Kind == models.EventAllocationActivated
	if activating && !enteredStatus(n, directory.AllocationStatusActive) {
		a.discard(ctx, n, "transition_not_qualifying")
		return nil, nil
	}
	if !activating && !leftStatus(n, directory.AllocationStatusActive) {
		a.discard(ctx, n, "transition_not_qualifying")
		return nil, nil
	}

	users, err := a.dir.AllocationUsers(ctx, n.AllocationID, directory.UserStatusActive)
	if err != nil {
		return nil, err
	}
	var events []*models.LifecycleEvent
	for _, u := range users {
		event, err := a.buildEvent(ctx, n, u.UserID, n.AllocationID)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	outcomes := a.engine.HandleBatch(ctx, events)
	for _, o := range outcomes {
		a.flagFailures(ctx, o)
	}
	return outcomes, nil
}

// dispatchProjectArchive expands archival into one removal per affected
// user. Under allocation-level policy the affected set is every active user
// of every allocation still active at the moment of archival; the snapshot
// is taken here and never recomputed. Under project-level policy it is
// every project user plus the PI.
func (a *Adapter) dispatchProjectArchive(ctx context.Context, n Notification) ([]*models.Outcome, error) {
	if !a.cfg.RemoveOnProjectArchive {
		a.discard(ctx, n, "remove_on_archive_disabled")
		return nil, nil
	}
	project, err := a.dir.GetProject(ctx, n.ProjectID)
	if err != nil {
		return nil, err
	}
	if project.Status != directory.ProjectStatusArchived {
		a.logger.WarnContext(ctx, "project is not archived, will not remove users",
			"project", n.ProjectID)
		a.discard(ctx, n, "project_not_archived")
		return nil, nil
	}

	var events []*models.LifecycleEvent
	if a.cfg.Policy == models.PolicyAllocationLevel {
		allocations, err := a.dir.ActiveAllocations(ctx, n.ProjectID)
		if err != nil {
			return nil, err
		}
		for _, alloc := range allocations {
			users, err := a.dir.AllocationUsers(ctx, alloc.ID, directory.UserStatusActive)
			if err != nil {
				return nil, err
			}
			for _, u := range users {
				event, err := a.buildEvent(ctx, n, u.UserID, alloc.ID)
				if err != nil {
					return nil, err
				}
				events = append(events, event)
			}
		}
	} else {
		users, err := a.dir.ProjectUsers(ctx, n.ProjectID, "")
		if err != nil {
			return nil, err
		}
		seen := make(map[string]struct{}, len(users)+1)
		for _, u := range users {
			seen[u.UserID] = struct{}{}
			event, err := a.buildEvent(ctx, n, u.UserID, "")
			if err != nil {
				return nil, err
			}
			events = append(events, event)
		}
		// The PI is not always listed as a project user; archive removes
		// them from the project groups as well.
		if project.PIUserID != "" {
			if _, ok := seen[project.PIUserID]; !ok {
				event, err := a.buildEvent(ctx, n, project.PIUserID, "")
				if err != nil {
					return nil, err
				}
				events = append(events, event)
			}
		}
	}

	outcomes := a.engine.HandleBatch(ctx, events)
	for _, o := range outcomes {
		a.flagFailures(ctx, o)
	}
	return outcomes, nil
}

// buildEvent assembles the canonical event for one user, snapshotting group
// attributes and retained groups at capture time.
func (a *Adapter) buildEvent(ctx context.Context, n Notification, userID, allocationID string) (*models.LifecycleEvent, error) {
	event := &models.LifecycleEvent{
		ID:           uuid.New(),
		Kind:         n.Kind,
		ProjectID:    n.ProjectID,
		AllocationID: allocationID,
		UserID:       userID,
		PrevStatus:   n.PrevStatus,
		NextStatus:   n.NextStatus,
		Timestamp:    n.Timestamp,
		Seq:          a.nextSeq(n.ProjectID),
	}

	projectGroups, err := a.dir.ProjectGroups(ctx, n.ProjectID, a.cfg.GroupAttributeName)
	if err != nil {
		return nil, err
	}
	event.ProjectGroups = toGroupIDs(projectGroups)

	if allocationID != "" {
		allocationGroups, err := a.dir.AllocationGroups(ctx, allocationID, a.cfg.GroupAttributeName)
		if err != nil {
			return nil, err
		}
		event.AllocationGroups = toGroupIDs(allocationGroups)
	}

	if n.Kind.Direction() == models.DirectionRemove {
		var retained []string
		if a.cfg.Policy == models.PolicyAllocationLevel && allocationID != "" {
			retained, err = a.dir.OtherAllocationGroups(ctx, userID, a.cfg.GroupAttributeName, allocationID)
		} else {
			retained, err = a.dir.OtherProjectGroups(ctx, userID, a.cfg.GroupAttributeName, n.ProjectID)
		}
		if err != nil {
			return nil, err
		}
		event.RetainedGroups = toGroupIDs(retained)
	}

	return event, nil
}

// flagFailures marks the affected directory record when an intent failed
// terminally, so the portal does not treat the user as cleanly provisioned.
func (a *Adapter) flagFailures(ctx context.Context, outcome *models.Outcome) {
	if outcome == nil || !outcome.Failed() {
		return
	}
	var err error
	if outcome.Key.Allocation != "" {
		err = a.dir.SetAllocationUserStatus(ctx, outcome.Key.Allocation, outcome.Key.User, directory.UserStatusError)
	} else {
		err = a.dir.SetProjectUserStatus(ctx, outcome.Key.Project, outcome.Key.User, directory.UserStatusPending)
	}
	if err != nil {
		a.logger.WarnContext(ctx, "failed to flag user after membership failure",
			"project", outcome.Key.Project, "allocation", outcome.Key.Allocation,
			"user", outcome.Key.User, "error", err)
	}
}

// memberStatusIs verifies the directory record agrees with the transition
// the host reported. Discards (with a warning) on mismatch or a missing
// record; delivery can lag behind further host-side changes.
func (a *Adapter) memberStatusIs(ctx context.Context, n Notification, want string) bool {
	var status string
	var err error
	if n.AllocationID != "" {
		var u *directory.AllocationUser
		u, err = a.dir.GetAllocationUser(ctx, n.AllocationID, n.UserID)
		if err == nil {
			status = u.Status
		}
	} else {
		var u *directory.ProjectUser
		u, err = a.dir.GetProjectUser(ctx, n.ProjectID, n.UserID)
		if err == nil {
			status = u.Status
		}
	}
	if err != nil {
		a.logger.WarnContext(ctx, "member record lookup failed",
			"project", n.ProjectID, "allocation", n.AllocationID, "user", n.UserID, "error", err)
		a.discard(ctx, n, "member_record_missing")
		return false
	}
	if status != want {
		a.logger.WarnContext(ctx, "member status does not match transition",
			"project", n.ProjectID, "allocation", n.AllocationID, "user", n.UserID,
			"status", status, "want", want)
		a.discard(ctx, n, "member_status_mismatch")
		return false
	}
	return true
}

func (a *Adapter) nextSeq(projectID string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seqs[projectID]++
	return a.seqs[projectID]
}

func (a *Adapter) discard(ctx context.Context, n Notification, reason string) {
	a.logger.DebugContext(ctx, "notification discarded",
		"kind", string(n.Kind), "project", n.ProjectID, "user", n.UserID, "reason", reason)
	if a.metrics != nil {
		a.metrics.DiscardedTotal.WithLabelValues(reason).Inc()
	}
}

// qualifies checks that the notification's transition actually entered the
// given member status. A notification without transition data is trusted.
func qualifies(n Notification, wantNext string) bool {
	if n.NextStatus == "" {
		return true
	}
	return n.NextStatus == wantNext && n.PrevStatus != wantNext
}

func enteredStatus(n Notification, status string) bool {
	if n.NextStatus == "" {
		return true
	}
	return n.NextStatus == status && n.PrevStatus != status
}

func leftStatus(n Notification, status string) bool {
	if n.NextStatus == "" {
		return true
	}
	return n.NextStatus != status && n.PrevStatus == status
}

func removableAllocationStatus(status string) bool {
	switch status {
	case directory.AllocationStatusActive,
		directory.AllocationStatusPending,
		directory.AllocationStatusInactiveRenewed:
		return true
	}
	return false
}

func toGroupIDs(groups []string) []models.GroupID {
	out := make([]models.GroupID, 0, len(groups))
	for _, g := range groups {
		out = append(out, models.GroupID(g))
	}
	return out
}
