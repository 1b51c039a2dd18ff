// Package memory provides the in-memory reference membership backend used
// in development and tests. Groups are created implicitly on first add,
// matching the auto-create behavior of the Grouper backend.
package memory

import (
	"context"
	"sync"
)

// Client implements membership.Client with plain maps. Safe for concurrent
// use.
type Client struct {
	mu     sync.RWMutex
	groups map[string]map[string]struct{}
}

func New() *Client {
	return &Client{groups: make(map[string]map[string]struct{})}
}

// AddMember ensures user belongs to group. Returns false when the user was
// already a member.
func (c *Client) AddMember(ctx context.Context, group, user string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	members := c.groups[group]
	if members == nil {
		members = make(map[string]struct{})
		c.groups[group] = members
	}
	if _, ok := members[user]; ok {
		return false, nil
	}
	members[user] = struct{}{}
	return true, nil
}

// RemoveMember ensures user does not belong to group. Returns false when the
// user was already absent.
func (c *Client) RemoveMember(ctx context.Context, group, user string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	members := c.groups[group]
	if members == nil {
		return false, nil
	}
	if _, ok := members[user]; !ok {
		return false, nil
	}
	delete(members, user)
	return true, nil
}

// IsMember reports current membership. Verification only; the engine never
// calls this before an add or remove.
func (c *Client) IsMember(ctx context.Context, group, user string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	members := c.groups[group]
	if members == nil {
		return false, nil
	}
	_, ok := members[user]
	return ok, nil
}

// ListMembers returns the current members of group, for the resync sweep.
func (c *Client) ListMembers(ctx context.Context, group string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	members := c.groups[group]
	out := make([]string, 0, len(members))
	for user := range members {
		out = append(out, user)
	}
	return out, nil
}
