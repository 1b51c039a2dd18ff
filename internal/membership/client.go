// Package membership defines the contract every external directory backend
// implements, plus the concrete backends shipped with the service.
package membership

import (
	"context"
	"errors"

	"groupsync/pkg/platform/sentinel"
)

// Client is the abstract membership capability. Every operation is
// idempotent at the backend: repeating a call with the same arguments yields
// the same final membership state. Implementations must not require callers
// to pre-check membership, and the engine never does outside of
// test/verification paths.
//
// The boolean return reports whether the call changed anything; false means
// the desired state already held.
type Client interface {
	AddMember(ctx context.Context, group, user string) (changed bool, err error)
	RemoveMember(ctx context.Context, group, user string) (changed bool, err error)
	IsMember(ctx context.Context, group, user string) (bool, error)
}

// MemberLister is an optional capability used only by the resync sweep to
// enumerate a group's current members. The reconciliation engine never
// needs it.
type MemberLister interface {
	ListMembers(ctx context.Context, group string) ([]string, error)
}

// Retryable reports whether err is a transient backend failure worth
// retrying. Deadline expiry counts as unavailability: the backend may well
// be fine, but this call did not complete.
func Retryable(err error) bool {
	return errors.Is(err, sentinel.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}
