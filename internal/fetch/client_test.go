package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/angelmondragon/packfinderz-storefront/internal/identity"
	pkgerrors "github.com/angelmondragon/packfinderz-storefront/pkg/errors"
	"github.com/angelmondragon/packfinderz-storefront/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

type staticHeaders struct {
	token   string
	session string
}

func (s staticHeaders) Headers(_ context.Context, mode identity.Mode) http.Header {
	h := make(http.Header)
	h.Set(identity.HeaderAccept, "application/json")
	if s.token != "" {
		h.Set(identity.HeaderAuthorization, "Bearer "+s.token)
	}
	if s.token == "" || mode == identity.ModeMigration {
		h.Set(identity.HeaderSessionID, s.session)
	}
	return h
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newTestClient(t *testing.T, rt roundTripFunc, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithHTTPClient(&http.Client{Transport: rt})}, opts...)
	client, err := New("http://api.test/", staticHeaders{session: "guest_1"}, opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

type itemsResponse struct {
	Envelope
	Data []struct {
		ID int64 `json:"id"`
	} `json:"data"`
}

func TestDoSendsIdentityAndCallerHeaders(t *testing.T) {
	var captured *http.Request
	var payload map[string]any
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		captured = req.Clone(req.Context())
		raw, _ := io.ReadAll(req.Body)
		if err := json.Unmarshal(raw, &payload); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return jsonResponse(http.StatusOK, `{"success":true,"message":"added"}`), nil
	})

	var out Envelope
	err := client.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "api/cart",
		Body:   map[string]any{"productId": 42},
		Header: http.Header{"X-Trace": []string{"abc"}, "Accept": []string{"application/vnd+json"}},
	}, &out)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if captured.URL.String() != "http://api.test/api/cart" {
		t.Fatalf("unexpected url %s", captured.URL)
	}
	if captured.Header.Get(identity.HeaderSessionID) != "guest_1" {
		t.Fatalf("session header missing")
	}
	if captured.Header.Get("X-Trace") != "abc" {
		t.Fatalf("caller header missing")
	}
	if captured.Header.Get("Accept") != "application/vnd+json" {
		t.Fatalf("caller header should win, got %q", captured.Header.Get("Accept"))
	}
	if captured.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("content type missing")
	}
	if payload["productId"] != float64(42) {
		t.Fatalf("unexpected payload %v", payload)
	}
	if !out.Success || out.Message != "added" {
		t.Fatalf("unexpected envelope %+v", out)
	}
}

func TestDoErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name    string
		rt      roundTripFunc
		code    pkgerrors.Code
		status  int
		message string
	}{
		{
			name: "transport failure",
			rt: func(*http.Request) (*http.Response, error) {
				return nil, errors.New("connection refused")
			},
			code:   pkgerrors.CodeUnreachable,
			status: 0,
		},
		{
			name: "non json body",
			rt: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusOK, "<html>oops</html>"), nil
			},
			code:   pkgerrors.CodeInvalidResponse,
			status: http.StatusOK,
		},
		{
			name: "missing envelope",
			rt: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusOK, `{"data":[]}`), nil
			},
			code:   pkgerrors.CodeInvalidResponse,
			status: http.StatusOK,
		},
		{
			name: "server rejects with message",
			rt: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusNotFound, `{"success":false,"message":"Cart item not found"}`), nil
			},
			code:    pkgerrors.CodeRejected,
			status:  http.StatusNotFound,
			message: "Cart item not found",
		},
		{
			name: "success false on 200",
			rt: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusOK, `{"success":false,"message":"Out of stock"}`), nil
			},
			code:    pkgerrors.CodeRejected,
			status:  http.StatusOK,
			message: "Out of stock",
		},
		{
			name: "5xx html falls back to generic message",
			rt: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusBadGateway, "bad gateway"), nil
			},
			code:    pkgerrors.CodeRejected,
			status:  http.StatusBadGateway,
			message: genericRejectMessage,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, tc.rt)
			err := client.Do(context.Background(), Request{Path: "/api/cart"}, &itemsResponse{})
			typed := pkgerrors.As(err)
			if typed == nil {
				t.Fatalf("expected typed error, got %v", err)
			}
			if typed.Code() != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, typed.Code())
			}
			if typed.Status() != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, typed.Status())
			}
			if tc.message != "" && typed.Message() != tc.message {
				t.Fatalf("expected message %q, got %q", tc.message, typed.Message())
			}
		})
	}
}

func TestDoTimeout(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})
	err := client.Do(context.Background(), Request{Path: "/api/auth/login", Timeout: 20 * time.Millisecond}, nil)
	if !pkgerrors.Is(err, pkgerrors.CodeTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestGetDeduplicatesConcurrentReads(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return jsonResponse(http.StatusOK, `{"success":true,"data":[{"id":1}]}`), nil
	})

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var out itemsResponse
			errs <- client.Get(context.Background(), "/api/products", nil, &out)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("get: %v", err)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected one network call, got %d", got)
	}
}

func TestGetFollowerSurvivesLeaderCancel(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-release:
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
		return jsonResponse(http.StatusOK, `{"success":true,"data":[{"id":7}]}`), nil
	})

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		var out itemsResponse
		leaderErr <- client.Get(leaderCtx, "/api/products", nil, &out)
	}()
	time.Sleep(20 * time.Millisecond)

	followerErr := make(chan error, 1)
	var followerOut itemsResponse
	go func() {
		followerErr <- client.Get(context.Background(), "/api/products", nil, &followerOut)
	}()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	if err := <-leaderErr; err == nil {
		t.Fatalf("expected the canceled caller to fail")
	}
	close(release)

	if err := <-followerErr; err != nil {
		t.Fatalf("follower with a live context failed: %v", err)
	}
	if len(followerOut.Data) != 1 || followerOut.Data[0].ID != 7 {
		t.Fatalf("unexpected follower payload %+v", followerOut.Data)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected one network call, got %d", got)
	}
}

func TestGetServesCacheWithinWindow(t *testing.T) {
	var calls int32
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	reg := prometheus.NewRegistry()
	m := metrics.NewFetchMetrics(reg)
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return jsonResponse(http.StatusOK, `{"success":true,"data":[]}`), nil
	}, WithClock(func() time.Time { return now }), WithMetrics(m))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := client.Get(ctx, "/api/products", nil, &itemsResponse{}); err != nil {
			t.Fatalf("get: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected cached reads, got %d calls", calls)
	}

	now = now.Add(3 * time.Second)
	if err := client.Get(ctx, "/api/products", nil, &itemsResponse{}); err != nil {
		t.Fatalf("get: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected refetch after window, got %d calls", calls)
	}

	client.Purge()
	if err := client.Get(ctx, "/api/products", nil, &itemsResponse{}); err != nil {
		t.Fatalf("get: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected refetch after purge, got %d calls", calls)
	}

	if got := counterValue(t, reg, "storefront_read_dedup_hits_total"); got != 2 {
		t.Fatalf("expected 2 cache hits, got %f", got)
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func TestGetRetriesTransientFailures(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errors.New("connection reset")
		}
		return jsonResponse(http.StatusOK, `{"success":true,"data":[{"id":7}]}`), nil
	}, WithReadPolicy(ReadPolicy{Retries: 3, RetryDelay: time.Millisecond}))

	var out itemsResponse
	if err := client.Get(context.Background(), "/api/products", nil, &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if calls != 3 || len(out.Data) != 1 || out.Data[0].ID != 7 {
		t.Fatalf("unexpected calls=%d out=%+v", calls, out)
	}
}

func TestGetGivesUpAfterRetries(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return jsonResponse(http.StatusServiceUnavailable, `{"success":false,"message":"busy"}`), nil
	}, WithReadPolicy(ReadPolicy{Retries: 2, RetryDelay: time.Millisecond}))

	err := client.Get(context.Background(), "/api/products", nil, &itemsResponse{})
	if !pkgerrors.Is(err, pkgerrors.CodeRejected) || pkgerrors.StatusOf(err) != http.StatusServiceUnavailable {
		t.Fatalf("expected rejected 503, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 1 attempt + 2 retries, got %d", calls)
	}
}

func TestGetNeverRetriesNotFound(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return jsonResponse(http.StatusNotFound, `{"success":false,"message":"Product not found"}`), nil
	}, WithReadPolicy(ReadPolicy{Retries: 3, RetryDelay: time.Millisecond}))

	err := client.Get(context.Background(), "/api/products/missing", nil, &itemsResponse{})
	if !pkgerrors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("404 must not be retried, got %d calls", calls)
	}
}

func TestReadKeySeparatesIdentities(t *testing.T) {
	rt := roundTripFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"success":true}`), nil
	})
	anon, _ := New("http://api.test", staticHeaders{session: "guest_1"}, WithHTTPClient(&http.Client{Transport: rt}))
	authed, _ := New("http://api.test", staticHeaders{token: "tok", session: "guest_1"}, WithHTTPClient(&http.Client{Transport: rt}))

	req := Request{Method: http.MethodGet, Path: "/api/products"}
	if anon.readKey(context.Background(), req) == authed.readKey(context.Background(), req) {
		t.Fatalf("read keys must differ across identities")
	}
}

func TestNewValidatesInput(t *testing.T) {
	if _, err := New("", staticHeaders{}); err == nil {
		t.Fatalf("expected error for empty base url")
	}
	if _, err := New("http://api.test", nil); err == nil {
		t.Fatalf("expected error for missing header source")
	}
}
