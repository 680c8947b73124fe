package wishlist

import (
	"github.com/angelmondragon/packfinderz-storefront/internal/fetch"
	"github.com/shopspring/decimal"
)

// ProductRef is the denormalized product snapshot on an entry.
type ProductRef struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Slug  string          `json:"slug"`
	Image string          `json:"image,omitempty"`
	Price decimal.Decimal `json:"price"`
}

// Entry is one wishlist membership. Membership is keyed by product id; the
// entry id is informational.
type Entry struct {
	ID        int64      `json:"id"`
	ProductID int64      `json:"productId"`
	Product   ProductRef `json:"product"`
}

type Snapshot struct {
	Items      []Entry
	Loading    bool
	Processing bool
}

// ToggleResult reports what the server did.
type ToggleResult struct {
	InWishlist bool
	Message    string
}

type listResponse struct {
	fetch.Envelope
	Data []Entry `json:"data"`
}

type toggleRequest struct {
	ProductID int64 `json:"productId"`
}

type toggleResponse struct {
	fetch.Envelope
	InWishlist bool `json:"inWishlist"`
}
