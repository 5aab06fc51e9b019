package ociadapter

import (
	"context"
	"fmt"

	"oras.land/oras-go/v2/registry/remote"

	"github.com/env-architect/architect/internal/backoff"
)

// pullMaxAttempts bounds retries of a transient registry pull failure
// (connection reset, 5xx) before Pull gives up and returns the error.
const pullMaxAttempts = 3

// Client is an ORAS-based client for pushing and pulling env-architect
// components to/from an OCI registry.
type Client struct {
	plainHTTP bool
	authToken string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithPlainHTTP disables TLS for registry communication, for local
// testing against an insecure registry.
func WithPlainHTTP(plain bool) ClientOption {
	return func(c *Client) { c.plainHTTP = plain }
}

// WithAuthToken sets a bearer token presented to every registry host,
// ahead of any Docker/Podman config file credentials.
func WithAuthToken(token string) ClientOption {
	return func(c *Client) { c.authToken = token }
}

// NewClient creates a new OCI client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{}
	for _, o := range opts {
		o(c)
	}
	return c
}

// newRepository creates a remote.Repository from a full OCI reference
// string (e.g. "registry.example.com/left-pad:1.3.0") and returns the
// repository handle and the tag/digest portion.
func (c *Client) newRepository(ref string) (*remote.Repository, string, error) {
	repo, err := remote.NewRepository(ref)
	if err != nil {
		return nil, "", fmt.Errorf("parsing reference %q: %w", ref, err)
	}
	tag := repo.Reference.Reference
	repo.PlainHTTP = c.plainHTTP
	repo.Client = newAuthClient(c.authToken)
	return repo, tag, nil
}

// Push publishes a component to ref (which must include a tag).
func (c *Client) Push(ctx context.Context, req PushRequest, ref string) (*PushResult, error) {
	repo, tag, err := c.newRepository(ref)
	if err != nil {
		return nil, err
	}
	if tag == "" {
		return nil, fmt.Errorf("reference %q must include a tag", ref)
	}
	return pushTo(ctx, repo, req, tag)
}

// Pull fetches a component from ref (which must include a tag or digest).
func (c *Client) Pull(ctx context.Context, ref string) (*PullResult, error) {
	repo, tag, err := c.newRepository(ref)
	if err != nil {
		return nil, err
	}
	if tag == "" {
		return nil, fmt.Errorf("reference %q must include a tag or digest", ref)
	}
	result, err := backoff.RetryFunc(ctx, pullMaxAttempts, func(attempt int) (*PullResult, error) {
		return pullFrom(ctx, repo, tag)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
