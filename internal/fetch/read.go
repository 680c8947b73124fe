package fetch

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/packfinderz-storefront/internal/identity"
	pkgerrors "github.com/angelmondragon/packfinderz-storefront/pkg/errors"
	"github.com/angelmondragon/packfinderz-storefront/pkg/metrics"
	"github.com/sethvargo/go-retry"
)

// ReadPolicy governs Get: identical reads inside DedupWindow share one network
// call, and failures are retried Retries times RetryDelay apart.
type ReadPolicy struct {
	DedupWindow time.Duration
	Retries     int
	RetryDelay  time.Duration
}

func DefaultReadPolicy() ReadPolicy {
	return ReadPolicy{
		DedupWindow: 2 * time.Second,
		Retries:     3,
		RetryDelay:  500 * time.Millisecond,
	}
}

type cachedRead struct {
	body    []byte
	expires time.Time
}

// Get performs a catalog-style read under the client's ReadPolicy. A 404 is
// final and never retried.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	req := Request{Method: http.MethodGet, Path: path, Query: query, Mode: identity.ModeRoutine}
	key := c.readKey(ctx, req)

	if body, ok := c.cached(key); ok {
		c.metrics.IncDedup(metrics.DedupCache)
		return decodeInto(body, out)
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// The call is shared; one caller leaving must not fail the others.
		shared, cancel := c.sharedReadContext(ctx)
		defer cancel()
		body, err := c.readWithRetry(shared, req)
		if err != nil {
			return nil, err
		}
		c.store(key, body)
		return body, nil
	})

	select {
	case <-ctx.Done():
		return transportError(ctx, ctx.Err())
	case res := <-ch:
		if res.Shared {
			c.metrics.IncDedup(metrics.DedupInflight)
		}
		if res.Err != nil {
			return res.Err
		}
		return decodeInto(res.Val.([]byte), out)
	}
}

// sharedReadContext detaches a deduplicated read from its first caller and
// bounds it by every attempt hitting the HTTP client timeout.
func (c *Client) sharedReadContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if c.httpClient.Timeout <= 0 {
		return context.WithCancel(detached)
	}
	retries := time.Duration(max(c.policy.Retries, 0))
	budget := c.httpClient.Timeout*(retries+1) + max(c.policy.RetryDelay, time.Millisecond)*retries
	return context.WithTimeout(detached, budget)
}

func (c *Client) readWithRetry(ctx context.Context, req Request) ([]byte, error) {
	var body []byte
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(max(c.policy.Retries, 0)), retry.NewConstant(max(c.policy.RetryDelay, time.Millisecond)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			c.metrics.IncRetry()
		}

		httpReq, err := c.newRequest(ctx, req)
		if err != nil {
			return err
		}
		_, raw, err := c.exchange(httpReq)
		if err == nil {
			body = raw
			return nil
		}
		if pkgerrors.IsNotFound(err) || ctx.Err() != nil {
			return err
		}

		logCtx := c.logg.WithFields(ctx, map[string]any{
			"path":       req.Path,
			"attempt":    attempt,
			"error_code": string(pkgerrors.CodeOf(err)),
		})
		c.logg.Warn(logCtx, "api.read.retry")
		return retry.RetryableError(err)
	})
	if err != nil {
		if pkgerrors.As(err) == nil {
			return nil, transportError(ctx, err)
		}
		return nil, err
	}
	return body, nil
}

// readKey identifies a read by URL and the identity it is made under, so a
// cached read never leaks across identities.
func (c *Client) readKey(ctx context.Context, req Request) string {
	h := c.headers.Headers(ctx, req.Mode)
	return strings.Join([]string{
		req.Method,
		c.buildURL(req.Path, req.Query),
		h.Get(identity.HeaderAuthorization),
		h.Get(identity.HeaderSessionID),
	}, "\x00")
}

func (c *Client) cached(key string) ([]byte, bool) {
	if c.policy.DedupWindow <= 0 {
		return nil, false
	}
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	entry, ok := c.cache[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(entry.expires) {
		delete(c.cache, key)
		return nil, false
	}
	return entry.body, true
}

func (c *Client) store(key string, body []byte) {
	if c.policy.DedupWindow <= 0 {
		return
	}
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	now := c.now()
	for k, entry := range c.cache {
		if !now.Before(entry.expires) {
			delete(c.cache, k)
		}
	}
	c.cache[key] = cachedRead{body: body, expires: now.Add(c.policy.DedupWindow)}
}

// Purge drops every cached read. Called when identity-scoped data is no longer
// trustworthy.
func (c *Client) Purge() {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cache = make(map[string]cachedRead)
}
