// Package directory holds groupsync's replica of the portal records the
// adapter and resync sweep need: projects, allocations, their member users,
// and the attributes that carry group names. Membership truth lives in the
// external directory; these records only describe what the portal wants.
package directory

// Project lifecycle states, as named by the host portal.
const (
	ProjectStatusNew      = "New"
	ProjectStatusActive   = "Active"
	ProjectStatusArchived = "Archived"
)

// Allocation lifecycle states.
const (
	AllocationStatusNew             = "New"
	AllocationStatusActive          = "Active"
	AllocationStatusPending         = "Pending"
	AllocationStatusInactiveRenewed = "Inactive (Renewed)"
	AllocationStatusRemoved         = "Removed"
	AllocationStatusDenied          = "Denied"
	AllocationStatusRevoked         = "Revoked"
	AllocationStatusExpired         = "Expired"
	AllocationStatusError           = "Error"
)

// Member (project user / allocation user) states.
const (
	UserStatusActive       = "Active"
	UserStatusRemoved      = "Removed"
	UserStatusError        = "Error"
	UserStatusPending      = "Pending"
	UserStatusPendingEULA  = "PendingEULA"
	UserStatusDeclinedEULA = "DeclinedEULA"
	UserStatusDenied       = "Denied"
	UserStatusRevoked      = "Revoked"
)

// Attribute is one typed name/value pair on a project or allocation. Group
// names live in attributes whose name matches the configured group
// attribute.
type Attribute struct {
	Name  string
	Value string
}

// Project mirrors the portal's project record.
type Project struct {
	ID         string
	Title      string
	Status     string
	PIUserID   string
	Attributes []Attribute
}

// Allocation mirrors the portal's allocation record.
type Allocation struct {
	ID         string
	ProjectID  string
	Resource   string
	Status     string
	Attributes []Attribute
}

// ProjectUser is a user's membership record on a project.
type ProjectUser struct {
	ProjectID string
	UserID    string
	Status    string
}

// AllocationUser is a user's membership record on an allocation.
type AllocationUser struct {
	AllocationID string
	UserID       string
	Status       string
}

// AttributeValues returns every value of the named attribute.
func AttributeValues(attrs []Attribute, name string) []string {
	var out []string
	for _, a := range attrs {
		if a.Name == name {
			out = append(out, a.Value)
		}
	}
	return out
}
