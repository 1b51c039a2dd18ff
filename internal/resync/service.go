// Package resync implements the full reconciliation sweep: collate desired
// membership from the directory records, compare against the external
// backend group by group, and either report the differences or apply them.
// It is the recovery path for drift the event stream cannot see (missed
// notifications, out-of-band edits in the external system).
package resync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"groupsync/internal/directory"
	"groupsync/internal/membership"
	"groupsync/internal/platform/metrics"
	"groupsync/internal/reconcile/models"
)

// Options narrow a sweep. Zero value sweeps everything in dry-run off mode
// only when Apply is set.
type Options struct {
	// DryRun reports differences without touching the backend.
	DryRun bool
	// User restricts applied changes to one username. Collation still runs
	// over every scope so the report stays complete.
	User string
	// Group restricts the sweep to scopes carrying one group.
	Group string
}

// Difference is one group whose backend membership disagrees with the
// directory records.
type Difference struct {
	Scope              string   `json:"scope"` // "project" or "allocation"
	ScopeID            string   `json:"scope_id"`
	Group              string   `json:"group"`
	MissingFromBackend []string `json:"missing_from_backend"`
	ExtraInBackend     []string `json:"extra_in_backend"`
}

// Report summarizes one sweep.
type Report struct {
	DryRun      bool         `json:"dry_run"`
	Scopes      int          `json:"scopes"`
	Groups      int          `json:"groups"`
	Differences []Difference `json:"differences"`
	Added       int          `json:"added"`
	Removed     int          `json:"removed"`
	Failed      int          `json:"failed"`
	Duration    string       `json:"duration"`
}

// desired is the collated membership for one project or allocation.
type desired struct {
	scope   string
	scopeID string
	groups  []string
	users   map[string]struct{}
}

// Service runs sweeps. The membership client must also implement
// MemberLister; New rejects backends that cannot enumerate members.
type Service struct {
	store         directory.Store
	client        membership.Client
	lister        membership.MemberLister
	policy        models.ScopingPolicy
	attributeName string
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(store directory.Store, client membership.Client, policy models.ScopingPolicy, attributeName string, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("resync: directory store is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resync: membership client is required")
	}
	lister, ok := client.(membership.MemberLister)
	if !ok {
		return nil, fmt.Errorf("resync: membership backend cannot list group members")
	}
	if attributeName == "" {
		return nil, fmt.Errorf("resync: group attribute name is required")
	}
	s := &Service{
		store:         store,
		client:        client,
		lister:        lister,
		policy:        policy,
		attributeName: attributeName,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run executes one sweep and returns the report. Backend failures on
// individual groups or members are counted and logged, never fatal; the
// sweep always covers everything it can reach.
func (s *Service) Run(ctx context.Context, opts Options) (*Report, error) {
	start := time.Now()

	var (
		wanted []desired
		err    error
	)
	if s.policy == models.PolicyProjectLevel {
		wanted, err = s.collateProjects(ctx, opts.Group)
	} else {
		wanted, err = s.collateAllocations(ctx, opts.Group)
	}
	if err != nil {
		return nil, err
	}

	groupSet := make(map[string]struct{})
	for _, w := range wanted {
		for _, g := range w.groups {
			groupSet[g] = struct{}{}
		}
	}

	report := &Report{DryRun: opts.DryRun, Scopes: len(wanted), Groups: len(groupSet)}

	actual := make(map[string]map[string]struct{}, len(groupSet))
	for group := range groupSet {
		members, err := s.lister.ListMembers(ctx, group)
		if err != nil {
			s.logger.WarnContext(ctx, "list group members failed, skipping group",
				"group", group, "error", err)
			report.Failed++
			continue
		}
		set := make(map[string]struct{}, len(members))
		for _, m := range members {
			set[m] = struct{}{}
		}
		actual[group] = set
	}

	for _, w := range wanted {
		for _, group := range w.groups {
			members, ok := actual[group]
			if !ok {
				continue // listing failed above
			}
			diff := Difference{Scope: w.scope, ScopeID: w.scopeID, Group: group}
			for user := range w.users {
				if _, ok := members[user]; !ok {
					diff.MissingFromBackend = append(diff.MissingFromBackend, user)
				}
			}
			for user := range members {
				if _, ok := w.users[user]; !ok {
					diff.ExtraInBackend = append(diff.ExtraInBackend, user)
				}
			}
			if len(diff.MissingFromBackend) == 0 && len(diff.ExtraInBackend) == 0 {
				continue
			}
			sort.Strings(diff.MissingFromBackend)
			sort.Strings(diff.ExtraInBackend)
			report.Differences = append(report.Differences, diff)
		}
	}

	if s.metrics != nil {
		s.metrics.ResyncDiffs.Set(float64(len(report.Differences)))
	}

	if !opts.DryRun {
		s.apply(ctx, report, opts.User)
	}

	report.Duration = time.Since(start).Round(time.Millisecond).String()
	s.logger.InfoContext(ctx, "resync sweep complete",
		"dry_run", opts.DryRun, "scopes", report.Scopes, "groups", report.Groups,
		"differences", len(report.Differences),
		"added", report.Added, "removed", report.Removed, "failed", report.Failed)
	return report, nil
}

// apply pushes differences to the backend: add directory members the backend
// is missing, remove backend members the directory no longer wants.
func (s *Service) apply(ctx context.Context, report *Report, userFilter string) {
	for _, diff := range report.Differences {
		for _, user := range diff.MissingFromBackend {
			if userFilter != "" && user != userFilter {
				continue
			}
			if _, err := s.client.AddMember(ctx, diff.Group, user); err != nil {
				s.logger.WarnContext(ctx, "resync add failed",
					"group", diff.Group, "user", user, "error", err)
				report.Failed++
				continue
			}
			report.Added++
		}
		for _, user := range diff.ExtraInBackend {
			if userFilter != "" && user != userFilter {
				continue
			}
			if _, err := s.client.RemoveMember(ctx, diff.Group, user); err != nil {
				s.logger.WarnContext(ctx, "resync remove failed",
					"group", diff.Group, "user", user, "error", err)
				report.Failed++
				continue
			}
			report.Removed++
		}
	}
}

// collateProjects gathers desired membership per active project carrying the
// group attribute. The PI belongs to every project group alongside the
// active project users.
func (s *Service) collateProjects(ctx context.Context, groupFilter string) ([]desired, error) {
	projects, err := s.store.ProjectsWithGroups(ctx, s.attributeName)
	if err != nil {
		return nil, fmt.Errorf("resync: list projects with groups: %w", err)
	}
	var out []desired
	for _, p := range projects {
		groups := directory.AttributeValues(p.Attributes, s.attributeName)
		groups = filterGroups(groups, groupFilter)
		if len(groups) == 0 {
			continue
		}
		users, err := s.store.ProjectUsers(ctx, p.ID, directory.UserStatusActive)
		if err != nil {
			return nil, fmt.Errorf("resync: list users of project %s: %w", p.ID, err)
		}
		set := make(map[string]struct{}, len(users)+1)
		for _, u := range users {
			set[u.UserID] = struct{}{}
		}
		if p.PIUserID != "" {
			set[p.PIUserID] = struct{}{}
		}
		out = append(out, desired{scope: "project", scopeID: p.ID, groups: groups, users: set})
	}
	return out, nil
}

func (s *Service) collateAllocations(ctx context.Context, groupFilter string) ([]desired, error) {
	allocations, err := s.store.AllocationsWithGroups(ctx, s.attributeName)
	if err != nil {
		return nil, fmt.Errorf("resync: list allocations with groups: %w", err)
	}
	var out []desired
	for _, a := range allocations {
		groups := directory.AttributeValues(a.Attributes, s.attributeName)
		groups = filterGroups(groups, groupFilter)
		if len(groups) == 0 {
			continue
		}
		users, err := s.store.AllocationUsers(ctx, a.ID, directory.UserStatusActive)
		if err != nil {
			return nil, fmt.Errorf("resync: list users of allocation %s: %w", a.ID, err)
		}
		set := make(map[string]struct{}, len(users))
		for _, u := range users {
			set[u.UserID] = struct{}{}
		}
		out = append(out, desired{scope: "allocation", scopeID: a.ID, groups: groups, users: set})
	}
	return out, nil
}

// filterGroups drops scopes that do not carry the filtered group. A scope
// that carries it still syncs only that group.
func filterGroups(groups []string, filter string) []string {
	if filter == "" {
		return dedupe(groups)
	}
	for _, g := range groups {
		if g == filter {
			return []string{filter}
		}
	}
	return nil
}

func dedupe(groups []string) []string {
	seen := make(map[string]struct{}, len(groups))
	var out []string
	for _, g := range groups {
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}
