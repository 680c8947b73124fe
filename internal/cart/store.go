package cart

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
	"github.com/angelmondragon/packfinderz-storefront/pkg/validate"
	"github.com/shopspring/decimal"
)

const cartPath = "/api/cart"

type contents struct {
	items []Line
	total decimal.Decimal
}

// Store keeps the shopper's cart consistent with the server. Every successful
// mutation is followed by an authoritative refetch; local state is never
// patched optimistically.
type Store struct {
	client fetch.Doer
	logg   *logger.Logger
	locks  *keylock.Locker
	state  *storestate.State[contents]

	unsubscribe func()
}

// Option configures a Store.
type Option func(*storeOptions)

type storeOptions struct {
	logg *logger.Logger
	bus  events.Subscriber
}

// WithLogger attaches a logger.
func WithLogger(logg *logger.Logger) Option {
	return func(o *storeOptions) {
		o.logg = logg
	}
}

// WithBus subscribes the store to identity changes; each delivery triggers one
// refetch.
func WithBus(bus events.Subscriber) Option {
	return func(o *storeOptions) {
		o.bus = bus
	}
}

// New builds a cart store over client.
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
		locks:       keylock.New(),
		state:       storestate.New(contents{total: decimal.Zero}),
		unsubscribe: func() {},
	}
	if o.bus != nil {
		s.unsubscribe = o.bus.Subscribe(events.TopicIdentityChanged, s.onIdentityChanged)
	}
	return s, nil
}

func (s *Store) onIdentityChanged(ctx context.Context, evt events.Event) error {
	ctx = s.logg.WithFields(ctx, map[string]any{"store": "cart", "reason": string(evt.Reason)})
	s.logg.Debug(ctx, "cart.identity_changed")
	return s.Fetch(ctx)
}

// Fetch replaces the cart with the server's view. A 401 empties the cart and
// is not an error; any other failure leaves the prior state untouched.
func (s *Store) Fetch(ctx context.Context) error {
	seq, ok := s.state.BeginFetch()
	if !ok {
		return nil
	}

	var resp cartResponse
	err := s.client.Do(ctx, fetch.Request{Method: http.MethodGet, Path: cartPath}, &resp)
	switch {
	case err == nil:
		items := make([]Line, 0, len(resp.Data))
		items = append(items, resp.Data...)
		s.state.EndFetch(seq, func(c *contents) {
			c.items = items
			c.total = resp.Total
		})
		return nil
	case pkgerrors.IsUnauthorized(err):
		s.state.EndFetch(seq, func(c *contents) {
			c.items = nil
			c.total = decimal.Zero
		})
		s.logg.Debug(s.logg.WithOperation(ctx, "cart.fetch"), "cart.fetch.unauthenticated")
		return nil
	default:
		s.state.EndFetch(seq, nil)
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"operation":  "cart.fetch",
			"error_code": string(pkgerrors.CodeOf(err)),
			"error":      err.Error(),
		}), "cart.fetch.failed")
		return err
	}
}

// Add puts a product into the cart. Attribute keys are normalized before
// sending; values are passed through unchanged.
func (s *Store) Add(ctx context.Context, in AddInput) error {
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	if err := validate.Struct(in); err != nil {
		return err
	}
	body := addRequest{
		ProductID:          in.ProductID,
		Quantity:           in.Quantity,
		SelectedAttributes: in.Attributes.Normalize(),
	}
	return s.mutate(ctx, fmt.Sprintf("product:%d", in.ProductID), "cart.add", fetch.Request{
		Method: http.MethodPost,
		Path:   cartPath,
		Body:   body,
	})
}

// UpdateQuantity sets the absolute quantity of a line.
func (s *Store) UpdateQuantity(ctx context.Context, lineID int64, quantity int) error {
	if err := validate.Struct(updateInput{LineID: lineID, Quantity: quantity}); err != nil {
		return err
	}
	return s.mutate(ctx, lineKey(lineID), "cart.update", fetch.Request{
		Method: http.MethodPut,
		Path:   fmt.Sprintf("%s/%d", cartPath, lineID),
		Body:   updateRequest{Quantity: quantity},
	})
}

// Remove deletes a line.
func (s *Store) Remove(ctx context.Context, lineID int64) error {
	if lineID <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "line id must be greater than 0")
	}
	return s.mutate(ctx, lineKey(lineID), "cart.remove", fetch.Request{
		Method: http.MethodDelete,
		Path:   fmt.Sprintf("%s/%d", cartPath, lineID),
	})
}

func lineKey(id int64) string {
	return fmt.Sprintf("line:%d", id)
}

// mutate runs one write serialized on key, then refetches. A failed write
// leaves state untouched. A failed refetch after a successful write is logged
// and not reported; the write itself stands.
func (s *Store) mutate(ctx context.Context, key, op string, req fetch.Request) error {
	ctx = s.logg.WithOperation(ctx, op)

	release, err := s.locks.Lock(ctx, key)
	if err != nil {
		return fetch.ContextError(ctx, err)
	}
	defer release()

	if !s.state.BeginMutation() {
		return pkgerrors.New(pkgerrors.CodeInternal, "cart store is closed")
	}
	defer s.state.EndMutation()

	var resp mutationResponse
	if err := s.client.Do(ctx, req, &resp); err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"error_code": string(pkgerrors.CodeOf(err)),
			"error":      err.Error(),
		}), "cart.mutation.failed")
		return err
	}

	if err := s.Fetch(ctx); err != nil {
		s.logg.Warn(ctx, "cart.mutation.refetch_failed")
	}
	return nil
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	view := s.state.Read()
	items := make([]Line, len(view.Value.items))
	for i, line := range view.Value.items {
		items[i] = line.clone()
	}
	return Snapshot{
		Items:      items,
		Total:      view.Value.total,
		Loading:    view.Loading,
		Processing: view.Processing,
	}
}

// Items returns a copy of the lines in server order.
func (s *Store) Items() []Line {
	return s.Snapshot().Items
}

// Total is the server-computed cart total.
func (s *Store) Total() decimal.Decimal {
	return s.state.Read().Value.total
}

// Count is the sum of line quantities.
func (s *Store) Count() int {
	return s.Snapshot().Count()
}

// OnChange calls fn with a fresh snapshot after every state transition.
func (s *Store) OnChange(fn func(Snapshot)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	return s.state.OnChange(func() { fn(s.Snapshot()) })
}

// Close unsubscribes from identity changes and discards results of work still
// in flight.
func (s *Store) Close() {
	s.unsubscribe()
	s.state.Close()
}
