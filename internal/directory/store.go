package directory

import "context"

// Store is the read/update surface over the portal records. Implementations:
// memory (dev/tests) and postgres.
//
// Lookups return sentinel.ErrNotFound (wrapped) for missing records. The
// status writes exist for the adapter's failure hooks: a user whose group
// change terminally failed is flagged so the portal does not treat them as
// cleanly provisioned.
type Store interface {
	GetProject(ctx context.Context, projectID string) (*Project, error)
	GetAllocation(ctx context.Context, allocationID string) (*Allocation, error)

	// Group attribute reads. A record without the attribute yields an empty
	// slice, never an error.
	ProjectGroups(ctx context.Context, projectID, attributeName string) ([]string, error)
	AllocationGroups(ctx context.Context, allocationID, attributeName string) ([]string, error)

	// Enumeration for compound events and the resync sweep. An empty status
	// filter returns every member.
	ActiveAllocations(ctx context.Context, projectID string) ([]*Allocation, error)
	ProjectUsers(ctx context.Context, projectID, status string) ([]*ProjectUser, error)
	AllocationUsers(ctx context.Context, allocationID, status string) ([]*AllocationUser, error)
	GetProjectUser(ctx context.Context, projectID, userID string) (*ProjectUser, error)
	GetAllocationUser(ctx context.Context, allocationID, userID string) (*AllocationUser, error)

	// Overlap protection: groups the user holds through other active
	// projects/allocations carrying the attribute, excluding the named one.
	OtherProjectGroups(ctx context.Context, userID, attributeName, excludeProjectID string) ([]string, error)
	OtherAllocationGroups(ctx context.Context, userID, attributeName, excludeAllocationID string) ([]string, error)

	SetProjectUserStatus(ctx context.Context, projectID, userID, status string) error
	SetAllocationUserStatus(ctx context.Context, allocationID, userID, status string) error

	// Resync collation: active projects/allocations that carry the group
	// attribute.
	ProjectsWithGroups(ctx context.Context, attributeName string) ([]*Project, error)
	AllocationsWithGroups(ctx context.Context, attributeName string) ([]*Allocation, error)
}
