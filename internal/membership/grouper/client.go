// Package grouper implements the membership contract against a
// Grouper-style web service API. Requests authenticate with a short-lived
// self-signed RS256 JWT and group names are qualified with a configured stem
// (e.g. "app:research:" + group).
package grouper

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"groupsync/pkg/platform/sentinel"
)

// Config carries the Grouper connection settings.
type Config struct {
	BaseURL    string
	Subject    string // web service entity acting as the caller
	Stem       string // prefix qualifying every group name, may be empty
	SigningKey *rsa.PrivateKey
	TokenTTL   time.Duration
	HTTPClient *http.Client
}

// Client talks to the Grouper REST membership endpoints.
type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("grouper: base URL is required")
	}
	if cfg.Subject == "" {
		return nil, fmt.Errorf("grouper: subject is required")
	}
	if cfg.SigningKey == nil {
		return nil, fmt.Errorf("grouper: signing key is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Minute
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg, http: httpClient}, nil
}

// result is the common envelope Grouper-style services return.
type result struct {
	ResultCode string   `json:"resultCode"`
	IsMember   bool     `json:"isMember"`
	Members    []string `json:"members"`
	Message    string   `json:"message"`
}

const (
	codeSuccess       = "SUCCESS"
	codeAlreadyExists = "SUCCESS_ALREADY_EXISTED"
	codeNotMember     = "SUCCESS_NOT_MEMBER"
)

// AddMember ensures user belongs to group, creating the group first if the
// service reports it missing.
func (c *Client) AddMember(ctx context.Context, group, user string) (bool, error) {
	res, err := c.do(ctx, http.MethodPut, c.memberPath(group, user), nil)
	if errors.Is(err, sentinel.ErrNotFound) {
		if cerr := c.createGroup(ctx, group); cerr != nil {
			return false, cerr
		}
		res, err = c.do(ctx, http.MethodPut, c.memberPath(group, user), nil)
	}
	if err != nil {
		return false, err
	}
	return res.ResultCode != codeAlreadyExists, nil
}

// RemoveMember ensures user does not belong to group. A missing group counts
// as already satisfied.
func (c *Client) RemoveMember(ctx context.Context, group, user string) (bool, error) {
	res, err := c.do(ctx, http.MethodDelete, c.memberPath(group, user), nil)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return res.ResultCode != codeNotMember, nil
}

// IsMember reports current membership.
func (c *Client) IsMember(ctx context.Context, group, user string) (bool, error) {
	res, err := c.do(ctx, http.MethodGet, c.memberPath(group, user), nil)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return res.IsMember, nil
}

// ListMembers enumerates the group for the resync sweep.
func (c *Client) ListMembers(ctx context.Context, group string) ([]string, error) {
	res, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/groups/%s/members", url.PathEscape(c.qualify(group))), nil)
	if err != nil {
		return nil, err
	}
	return res.Members, nil
}

func (c *Client) createGroup(ctx context.Context, group string) error {
	body := map[string]string{"name": c.qualify(group)}
	_, err := c.do(ctx, http.MethodPost, "/groups", body)
	return err
}

func (c *Client) qualify(group string) string {
	return c.cfg.Stem + group
}

func (c *Client) memberPath(group, user string) string {
	return fmt.Sprintf("/groups/%s/members/%s", url.PathEscape(c.qualify(group)), url.PathEscape(user))
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*result, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("grouper: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("grouper: build request: %w", err)
	}
	token, err := c.token()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("grouper: %s %s: %v: %w", method, path, err, sentinel.ErrUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("grouper: %s %s: %w", method, path, sentinel.ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("grouper: %s %s: status %d: %w", method, path, resp.StatusCode, sentinel.ErrPermissionDenied)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("grouper: %s %s: status %d: %w", method, path, resp.StatusCode, sentinel.ErrUnavailable)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("grouper: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	var res result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("grouper: decode response: %w", err)
	}
	return &res, nil
}

// token mints a short-lived caller assertion. Grouper deployments trust the
// configured subject's public key, so no token exchange round trip is
// needed.
func (c *Client) token() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   c.cfg.Subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.cfg.TokenTTL)),
		ID:        fmt.Sprintf("%d", now.UnixNano()),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.cfg.SigningKey)
	if err != nil {
		return "", fmt.Errorf("grouper: sign token: %w", err)
	}
	return signed, nil
}
