package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Membership backends and stores
// return these (optionally wrapped) so the engine can classify results
// without knowing which backend produced them.
//
// These represent factual states about external resources, not validation
// failures:
// - ErrNotFound: group or user does not exist upstream (terminal)
// - ErrPermissionDenied: backend rejected the caller's credentials (terminal)
// - ErrUnavailable: backend temporarily unreachable or timed out (transient)
var (
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnavailable      = errors.New("unavailable")
)
