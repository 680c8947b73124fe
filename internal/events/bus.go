package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/packfinderz-storefront/pkg/logger"
	"go.uber.org/multierr"
)

// Topic names an event stream on the bus.
type Topic string

// TopicIdentityChanged fires whenever who-the-shopper-is changes.
const TopicIdentityChanged Topic = "identity.changed"

// Reason records which flow raised an identity change.
type Reason string

const (
	ReasonLogin    Reason = "login"
	ReasonLogout   Reason = "logout"
	ReasonRegister Reason = "register"
)

// Event is delivered to every subscriber of its topic. It carries no state
// beyond the fact that something changed.
type Event struct {
	Topic  Topic
	Reason Reason
	At     time.Time
}

// Handler reacts to an event. Handlers must tolerate duplicate deliveries.
type Handler func(ctx context.Context, evt Event) error

// Subscriber is the narrow view stores depend on.
type Subscriber interface {
	Subscribe(topic Topic, handler Handler) (unsubscribe func())
}

// Publisher is the narrow view flows that raise events depend on.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is an in-process fan-out scoped to one client instance.
type Bus struct {
	logg *logger.Logger
	now  func() time.Time

	mu     sync.RWMutex
	nextID uint64
	subs   map[Topic][]subscription

	wg      sync.WaitGroup
	errMu   sync.Mutex
	pending error
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger attaches a logger used for handler failures.
func WithLogger(logg *logger.Logger) Option {
	return func(b *Bus) {
		b.logg = logg
	}
}

// WithClock overrides the timestamp source for events published without one.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

func NewBus(opts ...Option) *Bus {
	b := &Bus{
		now:  time.Now,
		subs: make(map[Topic][]subscription),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Subscribe registers handler for topic. The returned function removes it and
// is safe to call more than once.
func (b *Bus) Subscribe(topic Topic, handler Handler) func() {
	if handler == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(topic, id) })
	}
}

func (b *Bus) unsubscribe(topic Topic, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	current := b.subs[topic]
	kept := make([]subscription, 0, len(current))
	for _, sub := range current {
		if sub.id != id {
			kept = append(kept, sub)
		}
	}
	if len(kept) == 0 {
		delete(b.subs, topic)
		return
	}
	b.subs[topic] = kept
}

// Subscribers returns how many handlers listen on topic.
func (b *Bus) Subscribers(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Publish delivers evt to every current subscriber of its topic and returns
// immediately. Each handler runs on its own goroutine with a context detached
// from the caller's cancellation.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	if evt.At.IsZero() {
		evt.At = b.now()
	}

	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[evt.Topic]...)
	b.mu.RUnlock()

	if ctx == nil {
		ctx = context.Background()
	}
	dispatchCtx := context.WithoutCancel(ctx)
	dispatchCtx = b.logg.WithFields(dispatchCtx, map[string]any{
		"event":  string(evt.Topic),
		"reason": string(evt.Reason),
	})
	b.logg.Info(dispatchCtx, "events.publish")

	for _, sub := range subs {
		b.wg.Add(1)
		go b.dispatch(dispatchCtx, sub, evt)
	}
}

func (b *Bus) dispatch(ctx context.Context, sub subscription, evt Event) {
	defer b.wg.Done()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return sub.handler(ctx, evt)
	}()
	if err == nil {
		return
	}
	b.logg.Error(ctx, "events.handler_failed", err)
	b.errMu.Lock()
	b.pending = multierr.Append(b.pending, err)
	b.errMu.Unlock()
}

// Wait blocks until every dispatched handler has returned and reports the
// combined handler errors collected since the previous Wait.
func (b *Bus) Wait() error {
	b.wg.Wait()
	b.errMu.Lock()
	defer b.errMu.Unlock()
	err := b.pending
	b.pending = nil
	return err
}
