package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func TestSessionIDMintedOnceAndPersisted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := NewResolver(store, WithClock(fixedClock))

	first := r.SessionID(ctx)
	if !strings.HasPrefix(first, "guest_1772366400000_") {
		t.Fatalf("unexpected session id %q", first)
	}
	if second := r.SessionID(ctx); second != first {
		t.Fatalf("expected stable session id, got %q then %q", first, second)
	}

	stored, ok, _ := store.Get(ctx, KeySessionID)
	if !ok || stored != first {
		t.Fatalf("session id not persisted: %q ok=%v", stored, ok)
	}

	reloaded := NewResolver(store)
	if got := reloaded.SessionID(ctx); got != first {
		t.Fatalf("fresh resolver over same store should reuse %q, got %q", first, got)
	}
}

func TestSessionIDConcurrentCallersShareOneIdentity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	resolvers := []*Resolver{NewResolver(store), NewResolver(store)}

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = resolvers[i%2].SessionID(ctx)
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("expected a single identity, got %q and %q", ids[0], id)
		}
	}
}

func TestSessionIDCustomPrefix(t *testing.T) {
	r := NewResolver(nil, WithPrefix("kiosk"))
	if got := r.SessionID(context.Background()); !strings.HasPrefix(got, "kiosk_") {
		t.Fatalf("expected kiosk prefix, got %q", got)
	}
}

func TestSessionIDSurvivesStorageFailure(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(failingStore{})

	first := r.SessionID(ctx)
	if first == "" {
		t.Fatalf("expected an in-memory session id")
	}
	if second := r.SessionID(ctx); second != first {
		t.Fatalf("expected in-memory id reuse, got %q then %q", first, second)
	}

	h := r.Headers(ctx, ModeRoutine)
	if h.Get(HeaderSessionID) != first {
		t.Fatalf("expected session header fallback, got %v", h)
	}
	if h.Get(HeaderAuthorization) != "" {
		t.Fatalf("unexpected authorization header")
	}
}

func TestHeadersPerMode(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(NewMemoryStore())

	anon := r.Headers(ctx, ModeRoutine)
	if anon.Get(HeaderAccept) != "application/json" {
		t.Fatalf("accept header missing")
	}
	if anon.Get(HeaderSessionID) == "" || anon.Get(HeaderAuthorization) != "" {
		t.Fatalf("anonymous routine call must be session-only: %v", anon)
	}

	if err := r.SetToken(ctx, "opaque-token"); err != nil {
		t.Fatalf("set token: %v", err)
	}

	routine := r.Headers(ctx, ModeRoutine)
	if routine.Get(HeaderAuthorization) != "Bearer opaque-token" {
		t.Fatalf("expected bearer header, got %v", routine)
	}
	if routine.Get(HeaderSessionID) != "" {
		t.Fatalf("authenticated routine call must not send session id")
	}

	migration := r.Headers(ctx, ModeMigration)
	if migration.Get(HeaderAuthorization) != "Bearer opaque-token" || migration.Get(HeaderSessionID) == "" {
		t.Fatalf("migration call must send both identities: %v", migration)
	}

	if err := r.ClearToken(ctx); err != nil {
		t.Fatalf("clear token: %v", err)
	}
	if r.Authenticated(ctx) {
		t.Fatalf("expected anonymous after clear")
	}
}

func TestExpiredJWTDropped(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := NewResolver(store, WithClock(fixedClock))

	expired := signedToken(t, fixedNow.Add(-time.Minute))
	if err := r.SetToken(ctx, expired); err != nil {
		t.Fatalf("set token: %v", err)
	}
	if _, ok := r.Token(ctx); ok {
		t.Fatalf("expired token should be treated as absent")
	}
	if _, ok, _ := store.Get(ctx, KeyAuthToken); ok {
		t.Fatalf("expired token should be removed from storage")
	}

	valid := signedToken(t, fixedNow.Add(time.Hour))
	if err := r.SetToken(ctx, valid); err != nil {
		t.Fatalf("set token: %v", err)
	}
	if got, ok := r.Token(ctx); !ok || got != valid {
		t.Fatalf("expected valid token to be returned")
	}
}

func TestResetSessionRotatesID(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(NewMemoryStore())

	before := r.SessionID(ctx)
	after, err := r.ResetSession(ctx)
	if err != nil {
		t.Fatalf("reset session: %v", err)
	}
	if after == before || after == "" {
		t.Fatalf("expected rotated session id, got %q", after)
	}
	if got := r.SessionID(ctx); got != after {
		t.Fatalf("expected %q after reset, got %q", after, got)
	}
}

func TestSetTokenRejectsEmpty(t *testing.T) {
	r := NewResolver(nil)
	if err := r.SetToken(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for empty token")
	}
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

type failingStore struct{}

var errStorageDown = errors.New("storage unavailable")

func (failingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errStorageDown
}

func (failingStore) Set(context.Context, string, string) error { return errStorageDown }

func (failingStore) Delete(context.Context, string) error { return errStorageDown }
