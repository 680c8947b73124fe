// Package apitest is an in-memory commerce API speaking the storefront wire
// contract. It backs store, auth and scenario tests and local CLI runs.
package apitest

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-storefront/pkg/logger"
)

// Product is a catalog entry. AttributePrices holds the surcharge of each
// attribute value id.
type Product struct {
	ID                 int64
	Name               string
	Slug               string
	Image              string
	Category           string
	Price              decimal.Decimal
	DiscountPercentage decimal.Decimal
	AttributePrices    map[int64]decimal.Decimal
}

type user struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
}

type injectedFailure struct {
	status  int
	message string
	raw     string
}

// Server holds every cart, wishlist and account in memory.
type Server struct {
	logg   *logger.Logger
	tokens TokenConfig
	now    func() time.Time
	router chi.Router

	mu          sync.Mutex
	products    []Product
	users       map[string]*user
	nextUserID  int64
	nextLineID  int64
	nextEntryID int64
	carts       map[string][]*cartLine
	wishlists   map[string][]*wishlistEntry

	hits        map[string]int
	lastHeaders map[string]http.Header
	failures    []injectedFailure
	down        bool
	delay       time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger attaches a logger to the request middleware.
func WithLogger(logg *logger.Logger) Option {
	return func(s *Server) {
		s.logg = logg
	}
}

// WithTokenConfig overrides the signing settings of issued tokens.
func WithTokenConfig(cfg TokenConfig) Option {
	return func(s *Server) {
		s.tokens = cfg
	}
}

// WithClock overrides the time used for token issue and validation.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithProducts replaces the seeded catalog.
func WithProducts(products ...Product) Option {
	return func(s *Server) {
		s.products = append([]Product(nil), products...)
	}
}

// WithUser seeds an account. It panics on an empty password, like
// httptest.NewServer does on a listener it cannot open.
func WithUser(name, email, password string) Option {
	return func(s *Server) {
		if _, err := s.addUserLocked(name, email, password); err != nil {
			panic("apitest: " + err.Error())
		}
	}
}

// New builds a server seeded with the default catalog.
func New(opts ...Option) *Server {
	s := &Server{
		tokens:      defaultTokenConfig(),
		now:         time.Now,
		products:    DefaultProducts(),
		users:       make(map[string]*user),
		carts:       make(map[string][]*cartLine),
		wishlists:   make(map[string][]*wishlistEntry),
		hits:        make(map[string]int),
		lastHeaders: make(map[string]http.Header),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.router = s.routes()
	return s
}

// Start serves the API on a local listener. Callers close the returned server.
func (s *Server) Start() *httptest.Server {
	return httptest.NewServer(s.router)
}

// Handler exposes the router for embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.record, s.faults, s.requestID, s.logging, s.recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.optionalIdentity)
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/register", s.handleRegister)
			r.Get("/products", s.handleListProducts)
			r.Get("/products/{slug}", s.handleGetProduct)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.identify)
			r.Get("/cart", s.handleGetCart)
			r.Post("/cart", s.handleAddToCart)
			r.Put("/cart/{id}", s.handleUpdateLine)
			r.Delete("/cart/{id}", s.handleRemoveLine)
			r.Get("/wishlist", s.handleGetWishlist)
			r.Post("/wishlist/toggle", s.handleToggleWishlist)
		})
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, envelope{Success: false, Message: "Route not found"})
	})
	return r
}

// FailNext makes the next request answer status with message, whatever route
// it targets. Calls queue.
func (s *Server) FailNext(status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, injectedFailure{status: status, message: message})
}

// FailNextRaw makes the next request answer status with a non-envelope body.
func (s *Server) FailNextRaw(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, injectedFailure{status: status, raw: body})
}

// Down drops every connection without a response until Up is called.
func (s *Server) Down() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = true
}

// Up restores normal service.
func (s *Server) Up() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = false
}

// SetDelay holds every response for d.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Hits reports how many requests reached method+pattern, e.g. ("GET", "/api/cart").
func (s *Server) Hits(method, pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[routeKey(method, pattern)]
}

// LastHeaders returns the headers of the latest request to method+pattern.
func (s *Server) LastHeaders(method, pattern string) http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeaders[routeKey(method, pattern)].Clone()
}

// ResetHits clears request counters.
func (s *Server) ResetHits() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits = make(map[string]int)
	s.lastHeaders = make(map[string]http.Header)
}

// DefaultProducts is the seeded catalog.
func DefaultProducts() []Product {
	return []Product{
		{
			ID:                 42,
			Name:               "Trail Runner",
			Slug:               "trail-runner",
			Image:              "/images/trail-runner.jpg",
			Category:           "shoes",
			Price:              decimal.RequireFromString("89.90"),
			DiscountPercentage: decimal.NewFromInt(10),
			AttributePrices: map[int64]decimal.Decimal{
				3: decimal.Zero,
				4: decimal.RequireFromString("5.00"),
			},
		},
		{
			ID:       7,
			Name:     "Canvas Tote",
			Slug:     "canvas-tote",
			Image:    "/images/canvas-tote.jpg",
			Category: "bags",
			Price:    decimal.RequireFromString("24.50"),
		},
		{
			ID:       9,
			Name:     "Wool Beanie",
			Slug:     "wool-beanie",
			Image:    "/images/wool-beanie.jpg",
			Category: "accessories",
			Price:    decimal.RequireFromString("15.00"),
		},
	}
}
