// Package storefront wires one shopper's identity, API client, event bus and
// stores into a single instance. Instances share nothing.
package storefront

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/packfinderz-storefront/internal/auth"
	"github.com/angelmondragon/packfinderz-storefront/internal/cart"
	"github.com/angelmondragon/packfinderz-storefront/internal/catalog"
	"github.com/angelmondragon/packfinderz-storefront/internal/events"
	"github.com/angelmondragon/packfinderz-storefront/internal/fetch"
	"github.com/angelmondragon/packfinderz-storefront/internal/identity"
	"github.com/angelmondragon/packfinderz-storefront/internal/wishlist"
	"github.com/angelmondragon/packfinderz-storefront/pkg/config"
	"github.com/angelmondragon/packfinderz-storefront/pkg/logger"
	"github.com/angelmondragon/packfinderz-storefront/pkg/metrics"
	redisclient "github.com/angelmondragon/packfinderz-storefront/pkg/redis"
)

// Client is the composition root.
type Client struct {
	Identity *identity.Resolver
	API      *fetch.Client
	Bus      *events.Bus
	Cart     *cart.Store
	Wishlist *wishlist.Store
	Auth     *auth.Service
	Catalog  *catalog.Reader

	registry *prometheus.Registry
	logg     *logger.Logger
	closers  []func() error
}

// Option overrides a dependency New would otherwise build from config.
type Option func(*options)

type options struct {
	logg       *logger.Logger
	httpClient *http.Client
	store      identity.Store
	registerer prometheus.Registerer
}

func WithLogger(logg *logger.Logger) Option {
	return func(o *options) {
		o.logg = logg
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithIdentityStore replaces the configured identity backend.
func WithIdentityStore(store identity.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithRegisterer registers client metrics on reg instead of a private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// New builds a client from cfg.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logg == nil {
		o.logg = logger.Nop()
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.API.Timeout}
	}

	c := &Client{logg: o.logg}

	store := o.store
	if store == nil {
		var err error
		store, err = c.identityStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}
	c.Identity = identity.NewResolver(store,
		identity.WithPrefix(cfg.Identity.SessionPrefix),
		identity.WithLogger(o.logg),
	)

	reg := o.registerer
	if reg == nil && cfg.Metrics.Enabled {
		c.registry = prometheus.NewRegistry()
		reg = c.registry
	}

	baseURL, err := cfg.API.ParsedBaseURL()
	if err != nil {
		return nil, c.fail(err)
	}
	c.API, err = fetch.New(baseURL.String(), c.Identity,
		fetch.WithHTTPClient(o.httpClient),
		fetch.WithLogger(o.logg),
		fetch.WithMetrics(metrics.NewFetchMetrics(reg)),
		fetch.WithReadPolicy(fetch.ReadPolicy{
			DedupWindow: cfg.Reads.DedupWindow,
			Retries:     cfg.Reads.Retries,
			RetryDelay:  cfg.Reads.RetryDelay,
		}),
	)
	if err != nil {
		return nil, c.fail(err)
	}

	c.Bus = events.NewBus(events.WithLogger(o.logg))

	if c.Cart, err = cart.New(c.API, cart.WithBus(c.Bus), cart.WithLogger(o.logg)); err != nil {
		return nil, c.fail(err)
	}
	c.closers = append(c.closers, func() error { c.Cart.Close(); return nil })

	if c.Wishlist, err = wishlist.New(c.API,
		wishlist.WithBus(c.Bus),
		wishlist.WithLogger(o.logg),
		wishlist.WithCachePurger(c.API),
	); err != nil {
		return nil, c.fail(err)
	}
	c.closers = append(c.closers, func() error { c.Wishlist.Close(); return nil })

	if c.Auth, err = auth.NewService(auth.ServiceParams{
		Client:   c.API,
		Identity: c.Identity,
		Bus:      c.Bus,
		Logger:   o.logg,
		Timeout:  cfg.API.AuthTimeout,
	}); err != nil {
		return nil, c.fail(err)
	}

	if c.Catalog, err = catalog.NewReader(c.API); err != nil {
		return nil, c.fail(err)
	}
	return c, nil
}

func (c *Client) identityStore(ctx context.Context, cfg config.Config) (identity.Store, error) {
	switch cfg.Identity.Backend {
	case config.IdentityBackendMemory:
		return identity.NewMemoryStore(), nil
	case config.IdentityBackendRedis:
		rdb, err := redisclient.New(ctx, cfg.Redis, c.logg)
		if err != nil {
			return nil, fmt.Errorf("connect identity redis: %w", err)
		}
		c.closers = append(c.closers, rdb.Close)
		return identity.NewRedisStore(rdb, cfg.Identity.Profile), nil
	case config.IdentityBackendFile, "":
		return identity.NewFileStore(cfg.Identity.FilePath()), nil
	default:
		return nil, fmt.Errorf("unknown identity backend %q", cfg.Identity.Backend)
	}
}

func (c *Client) fail(err error) error {
	return multierr.Append(err, c.Close())
}

// Metrics returns the private registry, or nil when metrics are disabled or
// registered elsewhere.
func (c *Client) Metrics() prometheus.Gatherer {
	if c.registry == nil {
		return nil
	}
	return c.registry
}

// Refresh fetches the cart and wishlist concurrently under the current identity.
func (c *Client) Refresh(ctx context.Context) error {
	errs := make(chan error, 2)
	go func() { errs <- c.Cart.Fetch(ctx) }()
	go func() { errs <- c.Wishlist.Fetch(ctx) }()
	return multierr.Combine(<-errs, <-errs)
}

// Close waits for in-flight event deliveries, stops the stores and releases
// the identity backend.
func (c *Client) Close() error {
	var err error
	if c.Bus != nil {
		err = c.Bus.Wait()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, c.closers[i]())
	}
	c.closers = nil
	return err
}
