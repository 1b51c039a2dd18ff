// Package resolver computes which external groups should reflect a
// lifecycle event. Pure: everything it needs was snapshotted onto the event
// by the dispatch adapter, so resolution is deterministic and free of I/O.
package resolver

import "groupsync/internal/reconcile/models"

// Resolve maps an event to the set of target groups under the given scoping
// policy.
//
// ProjectLevel tracks the project's group attribute for every event.
// AllocationLevel tracks the allocation's attribute when the event names an
// allocation; project-scoped events (no allocation) still resolve to the
// project's groups because project membership signals are always
// project-scoped.
//
// A record without the group attribute resolves to an empty set: handling
// the event becomes a no-op, not an error.
//
// Remove-direction events subtract groups the user also holds through other
// active projects or allocations so a removal here never revokes access
// granted elsewhere.
func Resolve(event *models.LifecycleEvent, policy models.ScopingPolicy) []models.GroupID {
	var groups []models.GroupID
	switch {
	case policy == models.PolicyProjectLevel:
		groups = event.ProjectGroups
	case event.AllocationID != "":
		groups = event.AllocationGroups
	default:
		groups = event.ProjectGroups
	}

	out := dedupe(groups)
	if event.Kind.Direction() == models.DirectionRemove {
		out = subtract(out, event.RetainedGroups)
	}
	return out
}

func dedupe(groups []models.GroupID) []models.GroupID {
	seen := make(map[models.GroupID]struct{}, len(groups))
	out := make([]models.GroupID, 0, len(groups))
	for _, g := range groups {
		if g == "" {
			continue
		}
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}

func subtract(groups, retained []models.GroupID) []models.GroupID {
	if len(retained) == 0 {
		return groups
	}
	keep := make(map[models.GroupID]struct{}, len(retained))
	for _, g := range retained {
		keep[g] = struct{}{}
	}
	out := groups[:0]
	for _, g := range groups {
		if _, held := keep[g]; !held {
			out = append(out, g)
		}
	}
	return out
}
