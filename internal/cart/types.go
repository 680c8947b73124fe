package cart

import (
	"github.com/angelmondragon/packfinderz-storefront/internal/fetch"
	"github.com/shopspring/decimal"
)

// ProductRef is the denormalized product snapshot carried on a line. It is a
// read model and never authoritative for pricing.
type ProductRef struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Slug  string          `json:"slug"`
	Image string          `json:"image,omitempty"`
	Price decimal.Decimal `json:"price"`
}

// Line is one cart line as the server reports it. Price fields are computed
// server-side and read-only here.
type Line struct {
	ID                  int64           `json:"id"`
	ProductID           int64           `json:"productId"`
	Product             ProductRef      `json:"product"`
	Quantity            int             `json:"quantity"`
	SelectedAttributes  Selection       `json:"selectedAttributes,omitempty"`
	UnitPrice           decimal.Decimal `json:"unitPrice"`
	PriceWithAttributes decimal.Decimal `json:"priceWithAttributes"`
	FinalPrice          decimal.Decimal `json:"finalPrice"`
	DiscountPercentage  decimal.Decimal `json:"discountPercentage"`
	DiscountAmount      decimal.Decimal `json:"discountAmount"`
	Subtotal            decimal.Decimal `json:"subtotal"`
}

func (l Line) clone() Line {
	l.SelectedAttributes = l.SelectedAttributes.Clone()
	return l
}

// Snapshot is a point-in-time copy of the store.
type Snapshot struct {
	Items      []Line
	Total      decimal.Decimal
	Loading    bool
	Processing bool
}

// Count is the sum of line quantities.
func (s Snapshot) Count() int {
	n := 0
	for _, line := range s.Items {
		n += line.Quantity
	}
	return n
}

// AddInput describes an add-to-cart intent. Quantity defaults to 1.
type AddInput struct {
	ProductID  int64     `json:"productId" validate:"gt=0"`
	Quantity   int       `json:"quantity" validate:"gt=0"`
	Attributes Selection `json:"selectedAttributes"`
}

type addRequest struct {
	ProductID          int64     `json:"productId"`
	Quantity           int       `json:"quantity"`
	SelectedAttributes Selection `json:"selectedAttributes"`
}

type updateInput struct {
	LineID   int64 `json:"id" validate:"gt=0"`
	Quantity int   `json:"quantity" validate:"gt=0"`
}

type updateRequest struct {
	Quantity int `json:"quantity"`
}

type cartResponse struct {
	fetch.Envelope
	Data  []Line          `json:"data"`
	Total decimal.Decimal `json:"total"`
}

type mutationResponse struct {
	fetch.Envelope
}
