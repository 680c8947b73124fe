package apitest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/packfinderz-storefront/pkg/errors"
)

const (
	requestIDHeader = "X-Request-Id"
	sessionHeader   = "X-Session-ID"
)

type contextKey string

const ctxOwner contextKey = "owner"

// owner identifies whose cart and wishlist a request addresses.
type owner struct {
	userID    int64
	sessionID string
}

func (o owner) key() string {
	if o.userID > 0 {
		return fmt.Sprintf("user:%d", o.userID)
	}
	return "session:" + o.sessionID
}

func ownerFromContext(ctx context.Context) (owner, bool) {
	o, ok := ctx.Value(ctxOwner).(owner)
	return o, ok
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(s.logg.WithRequestID(r.Context(), reqID)))
	})
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := s.logg.WithFields(r.Context(), map[string]any{
			"method": r.Method,
			"path":   r.URL.Path,
		})
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		s.logg.Debug(ctx, "request.start")

		next.ServeHTTP(rec, r.WithContext(ctx))

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		ctx = s.logg.WithFields(ctx, map[string]any{
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		s.logg.Debug(ctx, "request.complete")
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				err := fmt.Errorf("panic: %v", rec)
				writeError(r.Context(), s.logg, w, http.StatusInternalServerError, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "panic"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// record counts the request under its route pattern once chi has routed it.
func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		pattern := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		s.mu.Lock()
		key := routeKey(r.Method, pattern)
		s.hits[key]++
		s.lastHeaders[key] = r.Header.Clone()
		s.mu.Unlock()
	})
}

// faults applies injected failures ahead of routing.
func (s *Server) faults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		down := s.down
		delay := s.delay
		var fail *injectedFailure
		if len(s.failures) > 0 {
			fail = &s.failures[0]
			s.failures = s.failures[1:]
		}
		s.mu.Unlock()

		if down {
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					_ = conn.Close()
					return
				}
			}
			panic(http.ErrAbortHandler)
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if fail != nil {
			if fail.raw != "" {
				w.WriteHeader(fail.status)
				_, _ = w.Write([]byte(fail.raw))
				return
			}
			writeJSON(w, fail.status, envelope{Success: false, Message: fail.message})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// identify resolves the owner from a bearer token or, failing that, the
// session header. Requests with neither are rejected with 401.
func (s *Server) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o, err := s.ownerOf(r)
		if err != nil {
			writeError(r.Context(), s.logg, w, statusFor(err), err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxOwner, o)
		ctx = s.logg.WithField(ctx, "owner", o.key())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) ownerOf(r *http.Request) (owner, error) {
	sessionID := strings.TrimSpace(r.Header.Get(sessionHeader))
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw != "" {
		token := raw
		if strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = strings.TrimSpace(token[7:])
		}
		claims, err := parseAccessToken(s.tokens, s.now, token)
		if err != nil {
			return owner{}, reject(http.StatusUnauthorized, "Invalid or expired token")
		}
		return owner{userID: claims.UserID, sessionID: sessionID}, nil
	}
	if sessionID == "" {
		return owner{}, reject(http.StatusUnauthorized, "Unauthenticated")
	}
	return owner{sessionID: sessionID}, nil
}

// optionalIdentity is identify for routes that also serve anonymous callers
// without a session, such as login.
func (s *Server) optionalIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if o, err := s.ownerOf(r); err == nil {
			r = r.WithContext(context.WithValue(r.Context(), ctxOwner, o))
		}
		next.ServeHTTP(w, r)
	})
}

func routeKey(method, pattern string) string {
	return method + " " + pattern
}
