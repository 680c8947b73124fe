package cart

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-storefront/internal/apitest"
	"github.com/angelmondragon/packfinderz-storefront/internal/events"
	"github.com/angelmondragon/packfinderz-storefront/internal/fetch"
	"github.com/angelmondragon/packfinderz-storefront/internal/identity"
	pkgerrors "github.com/angelmondragon/packfinderz-storefront/pkg/errors"
)

type harness struct {
	api      *apitest.Server
	resolver *identity.Resolver
	client   *fetch.Client
	bus      *events.Bus
	store    *Store
}

func newHarness(t *testing.T, opts ...apitest.Option) *harness {
	t.Helper()
	api := apitest.New(opts...)
	ts := api.Start()
	t.Cleanup(ts.Close)

	resolver := identity.NewResolver(identity.NewMemoryStore())
	client, err := fetch.New(ts.URL, resolver, fetch.WithHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	require.NoError(t, err)

	bus := events.NewBus()
	store, err := New(client, WithBus(bus))
	require.NoError(t, err)
	t.Cleanup(store.Close)

	return &harness{api: api, resolver: resolver, client: client, bus: bus, store: store}
}

// freshFetch reads the cart through a second store sharing the same identity.
func (h *harness) freshFetch(t *testing.T) Snapshot {
	t.Helper()
	other, err := New(h.client)
	require.NoError(t, err)
	defer other.Close()
	require.NoError(t, other.Fetch(context.Background()))
	return other.Snapshot()
}

func TestAddThenFetchShowsLine(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.store.Add(ctx, AddInput{ProductID: 42}))

	items := h.store.Items()
	require.Len(t, items, 1)
	require.Equal(t, int64(42), items[0].ProductID)
	require.Equal(t, 1, items[0].Quantity)
	require.Equal(t, "Trail Runner", items[0].Product.Name)
	require.True(t, items[0].FinalPrice.Equal(decimal.RequireFromString("80.91")), "final price %s", items[0].FinalPrice)
	require.True(t, h.store.Total().Equal(items[0].Subtotal))
	require.Equal(t, 1, h.api.Hits(http.MethodPost, "/api/cart"))
	require.Equal(t, 1, h.api.Hits(http.MethodGet, "/api/cart"))
}

func TestMutationSequenceMatchesExplicitFetch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.store.Add(ctx, AddInput{ProductID: 42, Quantity: 2, Attributes: Selection{" 01 ": {ByID(4)}}}))
	require.NoError(t, h.store.Add(ctx, AddInput{ProductID: 7}))
	require.NoError(t, h.store.Add(ctx, AddInput{ProductID: 9, Quantity: 3}))

	items := h.store.Items()
	require.Len(t, items, 3)
	require.NoError(t, h.store.UpdateQuantity(ctx, items[1].ID, 5))
	require.NoError(t, h.store.Remove(ctx, items[2].ID))

	got := h.store.Snapshot()
	want := h.freshFetch(t)
	require.Equal(t, len(want.Items), len(got.Items))
	for i := range want.Items {
		require.Equal(t, want.Items[i].ID, got.Items[i].ID)
		require.Equal(t, want.Items[i].Quantity, got.Items[i].Quantity)
		require.True(t, want.Items[i].Subtotal.Equal(got.Items[i].Subtotal))
	}
	require.True(t, want.Total.Equal(got.Total))
	require.Equal(t, 7, got.Count())

	attrs := got.Items[0].SelectedAttributes
	require.Contains(t, attrs, "1")
	id, ok := attrs["1"][0].ID()
	require.True(t, ok)
	require.Equal(t, int64(4), id)
	require.True(t, got.Items[0].PriceWithAttributes.Equal(decimal.RequireFromString("94.90")))
}

func TestAddMergesIdenticalSelection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.Add(ctx, AddInput{ProductID: 7}))
	require.NoError(t, h.store.Add(ctx, AddInput{ProductID: 7, Quantity: 2}))

	items := h.store.Items()
	require.Len(t, items, 1)
	require.Equal(t, 3, items[0].Quantity)
}

func TestUpdateMissingLineIsRejectedAndStateKept(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.Add(ctx, AddInput{ProductID: 42}))
	before := h.store.Snapshot()

	err := h.store.UpdateQuantity(ctx, 7777, 3)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeRejected), "got %v", err)
	require.Equal(t, http.StatusNotFound, pkgerrors.StatusOf(err))
	require.Equal(t, "Cart item not found", pkgerrors.PublicMessage(err))
	require.Equal(t, before.Items, h.store.Items())
	require.False(t, h.store.Snapshot().Processing)
}

func TestAddWhileUnreachableLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.Add(ctx, AddInput{ProductID: 42}))
	before := h.store.Items()

	h.api.Down()
	err := h.store.Add(ctx, AddInput{ProductID: 7})
	h.api.Up()

	require.True(t, pkgerrors.Is(err, pkgerrors.CodeUnreachable), "got %v", err)
	require.Equal(t, 0, pkgerrors.StatusOf(err))
	require.Equal(t, before, h.store.Items())
}

func TestNonJSONMutationResponseIsFailure(t *testing.T) {
	h := newHarness(t)
	h.api.FailNextRaw(http.StatusOK, "<html>maintenance</html>")

	err := h.store.Add(context.Background(), AddInput{ProductID: 42})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidResponse), "got %v", err)
	require.Empty(t, h.store.Items())
}

func TestFetchUnauthorizedYieldsEmptyCart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.Add(ctx, AddInput{ProductID: 42}))
	require.Len(t, h.store.Items(), 1)

	h.api.FailNext(http.StatusUnauthorized, "Unauthenticated")
	require.NoError(t, h.store.Fetch(ctx))
	require.Empty(t, h.store.Items())
	require.True(t, h.store.Total().IsZero())
}

func TestFetchFailureKeepsPriorState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.Add(ctx, AddInput{ProductID: 42}))

	h.api.FailNext(http.StatusInternalServerError, "database offline")
	err := h.store.Fetch(ctx)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeRejected))
	require.Len(t, h.store.Items(), 1)
}

func TestInputValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.True(t, pkgerrors.Is(h.store.Add(ctx, AddInput{ProductID: 0}), pkgerrors.CodeValidation))
	require.True(t, pkgerrors.Is(h.store.Add(ctx, AddInput{ProductID: 42, Quantity: -1}), pkgerrors.CodeValidation))
	require.True(t, pkgerrors.Is(h.store.UpdateQuantity(ctx, 1, 0), pkgerrors.CodeValidation))
	require.True(t, pkgerrors.Is(h.store.Remove(ctx, 0), pkgerrors.CodeValidation))
	require.Equal(t, 0, h.api.Hits(http.MethodPost, "/api/cart"))
}

func TestIdentityChangedTriggersOneRefetch(t *testing.T) {
	h := newHarness(t)
	h.api.ResetHits()

	h.bus.Publish(context.Background(), events.Event{Topic: events.TopicIdentityChanged, Reason: events.ReasonLogin})
	require.NoError(t, h.bus.Wait())
	require.Equal(t, 1, h.api.Hits(http.MethodGet, "/api/cart"))

	h.bus.Publish(context.Background(), events.Event{Topic: events.TopicIdentityChanged, Reason: events.ReasonLogin})
	require.NoError(t, h.bus.Wait())
	require.Equal(t, 2, h.api.Hits(http.MethodGet, "/api/cart"))
}

func TestCloseStopsRefetchAndDiscardsResults(t *testing.T) {
	h := newHarness(t)
	h.store.Close()
	h.api.ResetHits()

	h.bus.Publish(context.Background(), events.Event{Topic: events.TopicIdentityChanged})
	require.NoError(t, h.bus.Wait())
	require.Equal(t, 0, h.api.Hits(http.MethodGet, "/api/cart"))
	require.NoError(t, h.store.Fetch(context.Background()))
	require.Equal(t, 0, h.api.Hits(http.MethodGet, "/api/cart"))
}

func TestConcurrentUpdatesOnOneLineApplyInOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.Add(ctx, AddInput{ProductID: 7}))
	lineID := h.store.Items()[0].ID

	h.api.SetDelay(20 * time.Millisecond)
	defer h.api.SetDelay(0)

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for _, qty := range []int{2, 3, 4} {
		wg.Add(1)
		go func(q int) {
			defer wg.Done()
			errs <- h.store.UpdateQuantity(ctx, lineID, q)
		}(qty)
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, 4, h.store.Items()[0].Quantity)

	require.Equal(t, h.freshFetch(t).Items[0].Quantity, h.store.Items()[0].Quantity)
}

func TestOnChangeSeesProcessingAndLoading(t *testing.T) {
	h := newHarness(t)
	var mu sync.Mutex
	var sawProcessing, sawLoading bool
	cancel := h.store.OnChange(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		sawProcessing = sawProcessing || s.Processing
		sawLoading = sawLoading || s.Loading
	})
	defer cancel()

	require.NoError(t, h.store.Add(context.Background(), AddInput{ProductID: 9}))
	mu.Lock()
	defer mu.Unlock()
	require.True(t, sawProcessing)
	require.True(t, sawLoading)

	final := h.store.Snapshot()
	require.False(t, final.Processing)
	require.False(t, final.Loading)
}

func TestSnapshotIsACopy(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Add(context.Background(), AddInput{ProductID: 42, Attributes: Selection{"1": {ByID(3)}}}))

	snap := h.store.Snapshot()
	snap.Items[0].Quantity = 99
	snap.Items[0].SelectedAttributes["1"][0] = ByLabel("mutated")

	fresh := h.store.Items()
	require.Equal(t, 1, fresh[0].Quantity)
	id, ok := fresh[0].SelectedAttributes["1"][0].ID()
	require.True(t, ok)
	require.Equal(t, int64(3), id)
}
