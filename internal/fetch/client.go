package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/packfinderz-storefront/internal/identity"
	pkgerrors "github.com/angelmondragon/packfinderz-storefront/pkg/errors"
	"github.com/angelmondragon/packfinderz-storefront/pkg/logger"
	"github.com/angelmondragon/packfinderz-storefront/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTimeout             = 15 * time.Second
	responseBodyLimit    int64 = 4 << 20
	genericRejectMessage       = "the server could not complete the request"
)

// HeaderSource produces the identity header set for an outgoing request.
type HeaderSource interface {
	Headers(ctx context.Context, mode identity.Mode) http.Header
}

// Doer issues a single request without read policy. Stores depend on this.
type Doer interface {
	Do(ctx context.Context, req Request, out any) error
}

// Reader issues policy-governed reads.
type Reader interface {
	Get(ctx context.Context, path string, query url.Values, out any) error
}

// Envelope is the wrapper every API response carries. Response types embed it.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Request describes one API call relative to the client's base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Header http.Header
	Mode   identity.Mode
	// Timeout bounds this call on top of the caller's context.
	Timeout time.Duration
}

// Client talks to the commerce API on behalf of one shopper profile.
type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    HeaderSource
	logg       *logger.Logger
	metrics    *metrics.FetchMetrics
	policy     ReadPolicy
	now        func() time.Time

	group   singleflight.Group
	cacheMu sync.Mutex
	cache   map[string]cachedRead
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logg *logger.Logger) Option {
	return func(c *Client) {
		c.logg = logg
	}
}

// WithMetrics records request outcomes, retries and dedup hits.
func WithMetrics(m *metrics.FetchMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithReadPolicy overrides the dedup window and retry bounds of Get.
func WithReadPolicy(policy ReadPolicy) Option {
	return func(c *Client) {
		c.policy = policy
	}
}

// WithClock overrides the time source used by the read cache.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New builds a client rooted at baseURL. Identity headers come from headers,
// which is normally an *identity.Resolver.
func New(baseURL string, headers HeaderSource, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "api base url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid api base url")
	}
	if headers == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "identity header source is required")
	}

	client := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    trimmed,
		headers:    headers,
		policy:     DefaultReadPolicy(),
		now:        time.Now,
		cache:      make(map[string]cachedRead),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// BaseURL returns the API root requests are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do performs one request and decodes the envelope into out. Failures are
// always *errors.Error: UNREACHABLE for transport failures (status 0), TIMEOUT
// when a deadline expired, INVALID_RESPONSE when the body is not an envelope,
// and REJECTED when the server said no.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return err
	}
	if req.Timeout > 0 {
		reqCtx, cancel := context.WithTimeout(httpReq.Context(), req.Timeout)
		defer cancel()
		httpReq = httpReq.WithContext(reqCtx)
	}

	_, body, err := c.exchange(httpReq)
	if err != nil {
		return err
	}
	return decodeInto(body, out)
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	var payload io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode request body")
		}
		payload = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.buildURL(req.Path, req.Query), payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build request")
	}

	for key, values := range c.headers.Headers(ctx, req.Mode) {
		httpReq.Header[key] = append([]string(nil), values...)
	}
	for key, values := range req.Header {
		httpReq.Header.Del(key)
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if payload != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}

// exchange sends the request and validates the envelope, returning the raw body
// of a successful response.
func (c *Client) exchange(httpReq *http.Request) (int, []byte, error) {
	ctx := httpReq.Context()
	ctx = c.logg.WithFields(ctx, map[string]any{
		"method": httpReq.Method,
		"path":   httpReq.URL.Path,
	})
	c.logg.Debug(ctx, "api.request.start")

	start := time.Now()
	status, body, err := c.roundTrip(httpReq)
	elapsed := time.Since(start)

	c.metrics.ObserveRequest(httpReq.Method, outcomeOf(err), elapsed)
	ctx = c.logg.WithFields(ctx, map[string]any{
		"status":      status,
		"duration_ms": elapsed.Milliseconds(),
	})
	if err != nil {
		ctx = c.logg.WithField(ctx, "error_code", string(pkgerrors.CodeOf(err)))
	}
	c.logg.Debug(ctx, "api.request.finish")
	return status, body, err
}

func (c *Client) roundTrip(httpReq *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, transportError(httpReq.Context(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return resp.StatusCode, nil, transportError(httpReq.Context(), err)
	}

	env, decodeErr := parseEnvelope(body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := genericRejectMessage
		if strings.TrimSpace(env.Message) != "" {
			msg = env.Message
		}
		return resp.StatusCode, nil, pkgerrors.New(pkgerrors.CodeRejected, msg).
			WithStatus(resp.StatusCode)
	}
	if decodeErr != nil {
		return resp.StatusCode, nil, pkgerrors.Wrap(pkgerrors.CodeInvalidResponse, decodeErr, "response is not a valid envelope").
			WithStatus(resp.StatusCode)
	}
	if !env.Success {
		msg := genericRejectMessage
		if strings.TrimSpace(env.Message) != "" {
			msg = env.Message
		}
		return resp.StatusCode, nil, pkgerrors.New(pkgerrors.CodeRejected, msg).
			WithStatus(resp.StatusCode)
	}
	return resp.StatusCode, body, nil
}

type rawEnvelope struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

func parseEnvelope(body []byte) (Envelope, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(body, &raw); err != nil {
		return Envelope{}, err
	}
	if raw.Success == nil {
		return Envelope{Message: raw.Message}, errors.New("envelope has no success field")
	}
	return Envelope{Success: *raw.Success, Message: raw.Message}, nil
}

func decodeInto(body []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInvalidResponse, err, "decode response payload")
	}
	return nil
}

// ContextError maps a failed wait on ctx into the client's error taxonomy:
// TIMEOUT for deadlines, UNREACHABLE for cancellation.
func ContextError(ctx context.Context, err error) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return transportError(ctx, err)
}

func transportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodeTimeout, err, "request timed out")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return pkgerrors.Wrap(pkgerrors.CodeTimeout, err, "request timed out")
	}
	return pkgerrors.Wrap(pkgerrors.CodeUnreachable, err, "could not reach the server")
}

func outcomeOf(err error) string {
	switch pkgerrors.CodeOf(err) {
	case "":
		return metrics.OutcomeOK
	case pkgerrors.CodeRejected:
		return metrics.OutcomeRejected
	case pkgerrors.CodeInvalidResponse:
		return metrics.OutcomeInvalidResponse
	case pkgerrors.CodeTimeout:
		return metrics.OutcomeTimeout
	default:
		return metrics.OutcomeUnreachable
	}
}

func (c *Client) buildURL(path string, query url.Values) string {
	path = "/" + strings.TrimLeft(path, "/")
	full := fmt.Sprintf("%s%s", c.baseURL, path)
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	return full
}
