package wishlist

import (
	"context"
	"fmt"
	"net/http"

	"github.com/angelmondragon/packfinderz-storefront/internal/events"
	"github.com/angelmondragon/packfinderz-storefront/internal/fetch"
	"github.com/angelmondragon/packfinderz-storefront/internal/storestate"
	pkgerrors "github.com/angelmondragon/packfinderz-storefront/pkg/errors"
	"github.com/angelmondragon/packfinderz-storefront/pkg/keylock"
	"github.com/angelmondragon/packfinderz-storefront/pkg/logger"
)

const (
	wishlistPath = "/api/wishlist"
	togglePath   = "/api/wishlist/toggle"
)

// Purger drops identity-scoped cached reads.
type Purger interface {
	Purge()
}

// Store keeps the shopper's wishlist consistent with the server.
type Store struct {
	client fetch.Doer
	logg   *logger.Logger
	purger Purger
	locks  *keylock.Locker
	state  *storestate.State[[]Entry]

	unsubscribe func()
}

// Option configures a Store.
type Option func(*storeOptions)

type storeOptions struct {
	logg   *logger.Logger
	bus    events.Subscriber
	purger Purger
}

func WithLogger(logg *logger.Logger) Option {
	return func(o *storeOptions) {
		o.logg = logg
	}
}

// WithBus subscribes the store to identity changes.
func WithBus(bus events.Subscriber) Option {
	return func(o *storeOptions) {
		o.bus = bus
	}
}

// WithCachePurger is invoked when a fetch reports the identity unauthorized.
func WithCachePurger(p Purger) Option {
	return func(o *storeOptions) {
		o.purger = p
	}
}

func New(client fetch.Doer, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "fetch client is required")
	}
	var o storeOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	s := &Store{
		client:      client,
		logg:        o.logg,
		purger:      o.purger,
		locks:       keylock.New(),
		state:       storestate.New[[]Entry](nil),
		unsubscribe: func() {},
	}
	if o.bus != nil {
		s.unsubscribe = o.bus.Subscribe(events.TopicIdentityChanged, s.onIdentityChanged)
	}
	return s, nil
}

func (s *Store) onIdentityChanged(ctx context.Context, evt events.Event) error {
	ctx = s.logg.WithFields(ctx, map[string]any{"store": "wishlist", "reason": string(evt.Reason)})
	s.logg.Debug(ctx, "wishlist.identity_changed")
	return s.Fetch(ctx)
}

// Fetch replaces the wishlist with the server's view. A 401 clears it, purges
// identity-scoped cached reads and is not an error.
func (s *Store) Fetch(ctx context.Context) error {
	seq, ok := s.state.BeginFetch()
	if !ok {
		return nil
	}

	var resp listResponse
	err := s.client.Do(ctx, fetch.Request{Method: http.MethodGet, Path: wishlistPath}, &resp)
	switch {
	case err == nil:
		entries := resp.Data
		s.state.EndFetch(seq, func(v *[]Entry) { *v = entries })
		return nil
	case pkgerrors.IsUnauthorized(err):
		s.state.EndFetch(seq, func(v *[]Entry) { *v = nil })
		if s.purger != nil {
			s.purger.Purge()
		}
		s.logg.Debug(s.logg.WithOperation(ctx, "wishlist.fetch"), "wishlist.fetch.unauthenticated")
		return nil
	default:
		s.state.EndFetch(seq, nil)
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"operation":  "wishlist.fetch",
			"error_code": string(pkgerrors.CodeOf(err)),
			"error":      err.Error(),
		}), "wishlist.fetch.failed")
		return err
	}
}

// Toggle flips membership of productID. The server decides whether it was an
// add or a remove and reports which.
func (s *Store) Toggle(ctx context.Context, productID int64) (ToggleResult, error) {
	if productID <= 0 {
		return ToggleResult{}, pkgerrors.New(pkgerrors.CodeValidation, "product id must be greater than 0")
	}
	ctx = s.logg.WithOperation(ctx, "wishlist.toggle")

	release, err := s.locks.Lock(ctx, fmt.Sprintf("product:%d", productID))
	if err != nil {
		return ToggleResult{}, fetch.ContextError(ctx, err)
	}
	defer release()

	if !s.state.BeginMutation() {
		return ToggleResult{}, pkgerrors.New(pkgerrors.CodeInternal, "wishlist store is closed")
	}
	defer s.state.EndMutation()

	var resp toggleResponse
	err = s.client.Do(ctx, fetch.Request{
		Method: http.MethodPost,
		Path:   togglePath,
		Body:   toggleRequest{ProductID: productID},
	}, &resp)
	if err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"error_code": string(pkgerrors.CodeOf(err)),
			"error":      err.Error(),
		}), "wishlist.toggle.failed")
		return ToggleResult{}, err
	}

	if err := s.Fetch(ctx); err != nil {
		s.logg.Warn(ctx, "wishlist.toggle.refetch_failed")
	}
	return ToggleResult{InWishlist: resp.InWishlist, Message: resp.Message}, nil
}

// IsInWishlist answers from the last fetched items without a network call.
func (s *Store) IsInWishlist(productID int64) bool {
	for _, entry := range s.state.Read().Value {
		if entry.ProductID == productID {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	view := s.state.Read()
	return Snapshot{
		Items:      append([]Entry{}, view.Value...),
		Loading:    view.Loading,
		Processing: view.Processing,
	}
}

// Items returns a copy of the entries in server order.
func (s *Store) Items() []Entry {
	return s.Snapshot().Items
}

// OnChange calls fn with a fresh snapshot after every state transition.
func (s *Store) OnChange(fn func(Snapshot)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	return s.state.OnChange(func() { fn(s.Snapshot()) })
}

// Close unsubscribes from identity changes and discards in-flight results.
func (s *Store) Close() {
	s.unsubscribe()
	s.state.Close()
}
