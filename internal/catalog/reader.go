// Package catalog reads products through the deduplicated, retrying read path.
package catalog

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-storefront/internal/fetch"
	pkgerrors "github.com/angelmondragon/packfinderz-storefront/pkg/errors"
	"github.com/angelmondragon/packfinderz-storefront/pkg/pagination"
)

const productsPath = "/api/products"

var hundred = decimal.NewFromInt(100)

// Product is a catalog entry as the API presents it.
type Product struct {
	ID                 int64           `json:"id"`
	Name               string          `json:"name"`
	Slug               string          `json:"slug"`
	Image              string          `json:"image,omitempty"`
	Category           string          `json:"category,omitempty"`
	Price              decimal.Decimal `json:"price"`
	DiscountPercentage decimal.Decimal `json:"discountPercentage"`
}

// FinalPrice is the unit price after the product discount, rounded to cents.
func (p Product) FinalPrice() decimal.Decimal {
	if p.DiscountPercentage.IsZero() {
		return p.Price
	}
	factor := hundred.Sub(p.DiscountPercentage).Div(hundred)
	return p.Price.Mul(factor).Round(2)
}

// Query filters a product listing.
type Query struct {
	Page     int
	Limit    int
	Category string
	Search   string
}

// Page is one page of a listing.
type Page struct {
	Items   []Product
	Total   int
	Page    int
	Limit   int
	HasNext bool
}

type productResponse struct {
	fetch.Envelope
	Data Product `json:"data"`
}

type listResponse struct {
	fetch.Envelope
	Data  []Product `json:"data"`
	Total int       `json:"total"`
}

// Reader serves catalog reads.
type Reader struct {
	client fetch.Reader
}

func NewReader(client fetch.Reader) (*Reader, error) {
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "fetch reader is required")
	}
	return &Reader{client: client}, nil
}

// Product loads one product by slug. A missing product is a REJECTED 404 and
// is not retried.
func (r *Reader) Product(ctx context.Context, slug string) (Product, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return Product{}, pkgerrors.New(pkgerrors.CodeValidation, "slug is required")
	}
	var resp productResponse
	if err := r.client.Get(ctx, productsPath+"/"+url.PathEscape(slug), nil, &resp); err != nil {
		return Product{}, err
	}
	return resp.Data, nil
}

// Products lists products matching q.
func (r *Reader) Products(ctx context.Context, q Query) (Page, error) {
	params := pagination.Params{Page: q.Page, Limit: q.Limit}.Normalize()

	values := url.Values{}
	values.Set("page", strconv.Itoa(params.Page))
	values.Set("limit", strconv.Itoa(params.Limit))
	if c := strings.TrimSpace(q.Category); c != "" {
		values.Set("category", c)
	}
	if s := strings.TrimSpace(q.Search); s != "" {
		values.Set("search", s)
	}

	var resp listResponse
	if err := r.client.Get(ctx, productsPath, values, &resp); err != nil {
		return Page{}, err
	}
	items := resp.Data
	if items == nil {
		items = []Product{}
	}
	return Page{
		Items:   items,
		Total:   resp.Total,
		Page:    params.Page,
		Limit:   params.Limit,
		HasNext: params.HasNext(resp.Total),
	}, nil
}
