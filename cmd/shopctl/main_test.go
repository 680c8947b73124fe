package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/packfinderz-storefront/internal/apitest"
	"github.com/angelmondragon/packfinderz-storefront/internal/identity"
	"github.com/angelmondragon/packfinderz-storefront/internal/storefront"
	"github.com/angelmondragon/packfinderz-storefront/pkg/config"
	"github.com/angelmondragon/packfinderz-storefront/pkg/logger"
)

type cli struct {
	cfg   config.Config
	store identity.Store
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	api := apitest.New(apitest.WithUser("Ada", "ada@example.com", "secret-pass"))
	ts := api.Start()
	t.Cleanup(ts.Close)

	return &cli{
		cfg: config.Config{
			API: config.APIConfig{BaseURL: ts.URL, Timeout: 5 * time.Second, AuthTimeout: 2 * time.Second},
			Reads: config.ReadConfig{
				DedupWindow: time.Second,
				Retries:     1,
				RetryDelay:  time.Millisecond,
			},
			Identity: config.IdentityConfig{Backend: config.IdentityBackendMemory, Profile: "test", SessionPrefix: "guest"},
		},
		store: identity.NewMemoryStore(),
	}
}

// run executes one invocation. The identity store outlives invocations the
// way the profile file does.
func (c *cli) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cfg := c.cfg
	root := newRootCommand(&cfg, logger.Nop(), storefront.WithIdentityStore(c.store))
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestCartAddThenLoginKeepsItems(t *testing.T) {
	c := newCLI(t)

	out, _, err := c.run(t, "cart", "add", "42", "-q", "2", "-a", "1=4")
	if err != nil {
		t.Fatalf("cart add: %v", err)
	}
	if !strings.Contains(out, "Trail Runner") || !strings.Contains(out, "1=4") {
		t.Fatalf("unexpected cart output:\n%s", out)
	}

	out, _, err = c.run(t, "login", "--email", "ada@example.com", "--password", "secret-pass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(out, "signed in as ada@example.com (2 items in cart)") {
		t.Fatalf("unexpected login output: %q", out)
	}

	out, _, err = c.run(t, "whoami")
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if !strings.Contains(out, "authenticated: true") {
		t.Fatalf("unexpected whoami output: %q", out)
	}

	if _, _, err := c.run(t, "logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	out, _, err = c.run(t, "cart", "list")
	if err != nil {
		t.Fatalf("cart list: %v", err)
	}
	if !strings.Contains(out, "cart is empty") {
		t.Fatalf("expected empty guest cart after logout, got %q", out)
	}
}

func TestWishlistToggleAndHas(t *testing.T) {
	c := newCLI(t)

	out, _, err := c.run(t, "wishlist", "toggle", "7")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if strings.TrimSpace(out) != "Added to wishlist" {
		t.Fatalf("unexpected toggle output: %q", out)
	}

	out, _, err = c.run(t, "wishlist", "has", "7")
	if err != nil {
		t.Fatalf("has: %v", err)
	}
	if strings.TrimSpace(out) != "true" {
		t.Fatalf("expected true, got %q", out)
	}
}

func TestRejectedUpdatePrintsServerMessage(t *testing.T) {
	c := newCLI(t)

	_, stderr, err := c.run(t, "cart", "update", "999", "2")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(stderr, "error [rejected 404]: Cart item not found") {
		t.Fatalf("unexpected stderr: %q", stderr)
	}
}

func TestProductGetShowsDiscount(t *testing.T) {
	c := newCLI(t)

	out, _, err := c.run(t, "product", "get", "trail-runner")
	if err != nil {
		t.Fatalf("product get: %v", err)
	}
	if !strings.Contains(out, "price: 80.91 (was 89.90, -10%)") {
		t.Fatalf("unexpected product output:\n%s", out)
	}
}

func TestParseSelection(t *testing.T) {
	sel, err := parseSelection([]string{"1=3,Red", "size=XL"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(sel["1"]) != 2 || len(sel["size"]) != 1 {
		t.Fatalf("unexpected selection %v", sel)
	}
	if _, err := parseSelection([]string{"broken"}); err == nil {
		t.Fatalf("expected error for missing '='")
	}
}
