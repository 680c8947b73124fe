package identity

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/packfinderz-storefront/pkg/logger"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Header names of the identity contract.
const (
	HeaderSessionID     = "X-Session-ID"
	HeaderAuthorization = "Authorization"
	HeaderAccept        = "Accept"
)

const defaultSessionPrefix = "guest"

// Mode selects which identity headers a request carries.
type Mode int

const (
	// ModeRoutine sends the bearer token when authenticated, the session id otherwise.
	ModeRoutine Mode = iota
	// ModeMigration always sends the session id, plus the bearer token when present,
	// so the server can merge guest-owned state into the account.
	ModeMigration
)

func (m Mode) String() string {
	if m == ModeMigration {
		return "migration"
	}
	return "routine"
}

// Resolver is the only reader and writer of the persisted identity.
type Resolver struct {
	store  Store
	prefix string
	now    func() time.Time
	logg   *logger.Logger

	mu        sync.Mutex
	sessionID string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithPrefix sets the prefix of minted session ids.
func WithPrefix(prefix string) Option {
	return func(r *Resolver) {
		if p := strings.TrimSpace(prefix); p != "" {
			r.prefix = p
		}
	}
}

// WithClock overrides the time source used for minting and token expiry.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger attaches a logger for storage fallbacks and identity transitions.
func WithLogger(logg *logger.Logger) Option {
	return func(r *Resolver) {
		r.logg = logg
	}
}

// NewResolver builds a resolver over the provided profile store. A nil store
// falls back to process memory.
func NewResolver(store Store, opts ...Option) *Resolver {
	if store == nil {
		store = NewMemoryStore()
	}
	r := &Resolver{
		store:  store,
		prefix: defaultSessionPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// SessionID returns the profile's anonymous session id, minting and persisting
// one on first use. It never fails: when storage is unavailable the minted id
// lives in memory for the lifetime of the resolver.
func (r *Resolver) SessionID(ctx context.Context) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionIDLocked(ctx)
}

func (r *Resolver) sessionIDLocked(ctx context.Context) string {
	if r.sessionID != "" {
		return r.sessionID
	}

	stored, ok, err := r.store.Get(ctx, KeySessionID)
	if err != nil {
		r.logg.Warn(r.logg.WithFields(ctx, map[string]any{"error": err.Error()}), "identity.session_read_failed")
	} else if ok && strings.TrimSpace(stored) != "" {
		r.sessionID = stored
		return stored
	}

	minted := r.mint()
	r.sessionID = r.persistSession(ctx, minted, err == nil)
	r.logg.Info(r.logg.WithSessionID(ctx, r.sessionID), "identity.session_minted")
	return r.sessionID
}

func (r *Resolver) persistSession(ctx context.Context, minted string, storageOK bool) string {
	if !storageOK {
		return minted
	}
	if claimer, ok := r.store.(Claimer); ok {
		winner, err := claimer.SetIfAbsent(ctx, KeySessionID, minted)
		if err == nil && winner != "" {
			return winner
		}
		if err != nil {
			r.logg.Warn(r.logg.WithFields(ctx, map[string]any{"error": err.Error()}), "identity.session_write_failed")
		}
		return minted
	}
	if err := r.store.Set(ctx, KeySessionID, minted); err != nil {
		r.logg.Warn(r.logg.WithFields(ctx, map[string]any{"error": err.Error()}), "identity.session_write_failed")
	}
	return minted
}

func (r *Resolver) mint() string {
	return fmt.Sprintf("%s_%d_%s", r.prefix, r.now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// ResetSession discards the current session id and mints a fresh one.
func (r *Resolver) ResetSession(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionID = ""
	if err := r.store.Delete(ctx, KeySessionID); err != nil {
		minted := r.mint()
		r.sessionID = minted
		return minted, fmt.Errorf("delete session id: %w", err)
	}
	return r.sessionIDLocked(ctx), nil
}

// Token returns the bearer token when one is stored and not expired. An
// expired JWT is removed from storage and reported as absent.
func (r *Resolver) Token(ctx context.Context) (string, bool) {
	token, ok, err := r.store.Get(ctx, KeyAuthToken)
	if err != nil {
		r.logg.Warn(r.logg.WithFields(ctx, map[string]any{"error": err.Error()}), "identity.token_read_failed")
		return "", false
	}
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return "", false
	}
	if tokenExpired(token, r.now()) {
		if err := r.store.Delete(ctx, KeyAuthToken); err != nil {
			r.logg.Warn(r.logg.WithFields(ctx, map[string]any{"error": err.Error()}), "identity.token_delete_failed")
		}
		r.logg.Info(ctx, "identity.token_expired")
		return "", false
	}
	return token, true
}

// Authenticated reports whether a usable bearer token is stored.
func (r *Resolver) Authenticated(ctx context.Context) bool {
	_, ok := r.Token(ctx)
	return ok
}

// SetToken persists the bearer token issued at login or registration.
func (r *Resolver) SetToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("auth token is required")
	}
	if err := r.store.Set(ctx, KeyAuthToken, token); err != nil {
		return fmt.Errorf("store auth token: %w", err)
	}
	return nil
}

// ClearToken removes the bearer token, returning the profile to anonymous.
func (r *Resolver) ClearToken(ctx context.Context) error {
	if err := r.store.Delete(ctx, KeyAuthToken); err != nil {
		return fmt.Errorf("delete auth token: %w", err)
	}
	return nil
}

// Headers returns the identity header set for an outgoing request.
func (r *Resolver) Headers(ctx context.Context, mode Mode) http.Header {
	h := make(http.Header)
	h.Set(HeaderAccept, "application/json")

	token, authenticated := r.Token(ctx)
	if authenticated {
		h.Set(HeaderAuthorization, "Bearer "+token)
	}
	if !authenticated || mode == ModeMigration {
		h.Set(HeaderSessionID, r.SessionID(ctx))
	}
	return h
}

// tokenExpired inspects the exp claim without verifying the signature; the
// server remains the authority on validity. Opaque tokens never expire here.
func tokenExpired(token string, now time.Time) bool {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Time)
}
