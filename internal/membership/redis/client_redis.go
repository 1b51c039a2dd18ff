// Package redis backs group membership with Redis sets. Each group is one
// set keyed by name; SADD/SREM give the idempotent add/remove semantics the
// contract requires for free.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"groupsync/pkg/platform/sentinel"
)

// Client implements membership.Client on top of a go-redis client.
type Client struct {
	rdb       redis.UniversalClient
	keyPrefix string
}

// New creates a Redis-backed membership client. keyPrefix namespaces the
// group sets, e.g. "groupsync:group:".
func New(rdb redis.UniversalClient, keyPrefix string) *Client {
	if keyPrefix == "" {
		keyPrefix = "groupsync:group:"
	}
	return &Client{rdb: rdb, keyPrefix: keyPrefix}
}

func (c *Client) key(group string) string {
	return c.keyPrefix + group
}

// AddMember ensures user is in the group set. Returns false when already
// present.
func (c *Client) AddMember(ctx context.Context, group, user string) (bool, error) {
	added, err := c.rdb.SAdd(ctx, c.key(group), user).Result()
	if err != nil {
		return false, unavailable("sadd", group, user, err)
	}
	return added > 0, nil
}

// RemoveMember ensures user is absent from the group set. Returns false when
// already absent.
func (c *Client) RemoveMember(ctx context.Context, group, user string) (bool, error) {
	removed, err := c.rdb.SRem(ctx, c.key(group), user).Result()
	if err != nil {
		return false, unavailable("srem", group, user, err)
	}
	return removed > 0, nil
}

// IsMember reports current membership.
func (c *Client) IsMember(ctx context.Context, group, user string) (bool, error) {
	ok, err := c.rdb.SIsMember(ctx, c.key(group), user).Result()
	if err != nil {
		return false, unavailable("sismember", group, user, err)
	}
	return ok, nil
}

// ListMembers returns all members of the group set.
func (c *Client) ListMembers(ctx context.Context, group string) ([]string, error) {
	members, err := c.rdb.SMembers(ctx, c.key(group)).Result()
	if err != nil {
		return nil, unavailable("smembers", group, "", err)
	}
	return members, nil
}

// Redis failures are connectivity-shaped; classify them all as transient so
// the engine retries.
func unavailable(op, group, user string, err error) error {
	return fmt.Errorf("redis %s group=%s user=%s: %v: %w", op, group, user, err, sentinel.ErrUnavailable)
}
