package apitest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/packfinderz-storefront/pkg/errors"
	"github.com/angelmondragon/packfinderz-storefront/pkg/validate"
)

type cartLine struct {
	ID         int64
	ProductID  int64
	Quantity   int
	Attributes map[string]json.RawMessage
}

type productRefDTO struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Slug  string          `json:"slug"`
	Image string          `json:"image,omitempty"`
	Price decimal.Decimal `json:"price"`
}

type cartLineDTO struct {
	ID                  int64                      `json:"id"`
	ProductID           int64                      `json:"productId"`
	Product             productRefDTO              `json:"product"`
	Quantity            int                        `json:"quantity"`
	SelectedAttributes  map[string]json.RawMessage `json:"selectedAttributes,omitempty"`
	UnitPrice           decimal.Decimal            `json:"unitPrice"`
	PriceWithAttributes decimal.Decimal            `json:"priceWithAttributes"`
	FinalPrice          decimal.Decimal            `json:"finalPrice"`
	DiscountPercentage  decimal.Decimal            `json:"discountPercentage"`
	DiscountAmount      decimal.Decimal            `json:"discountAmount"`
	Subtotal            decimal.Decimal            `json:"subtotal"`
}

type addToCartBody struct {
	ProductID          int64                      `json:"productId" validate:"gt=0"`
	Quantity           int                        `json:"quantity" validate:"gt=0"`
	SelectedAttributes map[string]json.RawMessage `json:"selectedAttributes"`
}

type updateLineBody struct {
	Quantity int `json:"quantity" validate:"gt=0"`
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request) {
	o, _ := ownerFromContext(r.Context())
	s.mu.Lock()
	lines, total := s.renderCartLocked(o.key())
	s.mu.Unlock()
	writeSuccess(w, http.StatusOK, envelope{Data: lines, Total: total})
}

func (s *Server) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	o, _ := ownerFromContext(r.Context())
	var body addToCartBody
	if err := validate.DecodeJSONBody(r, &body); err != nil {
		writeError(r.Context(), s.logg, w, statusFor(err), err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.productByIDLocked(body.ProductID)
	if !ok {
		writeError(r.Context(), s.logg, w, http.StatusNotFound, reject(http.StatusNotFound, "Product not found"))
		return
	}
	s.addLineLocked(o.key(), product.ID, body.Quantity, body.SelectedAttributes)
	writeSuccess(w, http.StatusOK, envelope{Message: "Product added to cart"})
}

func (s *Server) handleUpdateLine(w http.ResponseWriter, r *http.Request) {
	o, _ := ownerFromContext(r.Context())
	id, err := lineIDParam(r)
	if err != nil {
		writeError(r.Context(), s.logg, w, statusFor(err), err)
		return
	}
	var body updateLineBody
	if err := validate.DecodeJSONBody(r, &body); err != nil {
		writeError(r.Context(), s.logg, w, statusFor(err), err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	line := s.findLineLocked(o.key(), id)
	if line == nil {
		writeError(r.Context(), s.logg, w, http.StatusNotFound, reject(http.StatusNotFound, "Cart item not found"))
		return
	}
	line.Quantity = body.Quantity
	writeSuccess(w, http.StatusOK, envelope{Message: "Cart updated"})
}

func (s *Server) handleRemoveLine(w http.ResponseWriter, r *http.Request) {
	o, _ := ownerFromContext(r.Context())
	id, err := lineIDParam(r)
	if err != nil {
		writeError(r.Context(), s.logg, w, statusFor(err), err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	lines := s.carts[o.key()]
	for i, line := range lines {
		if line.ID == id {
			s.carts[o.key()] = append(lines[:i:i], lines[i+1:]...)
			writeSuccess(w, http.StatusOK, envelope{Message: "Item removed from cart"})
			return
		}
	}
	writeError(r.Context(), s.logg, w, http.StatusNotFound, reject(http.StatusNotFound, "Cart item not found"))
}

func lineIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "invalid cart item id")
	}
	return id, nil
}

// addLineLocked merges into an existing line with the same product and
// attribute selection, otherwise appends a new line.
func (s *Server) addLineLocked(ownerKey string, productID int64, quantity int, attrs map[string]json.RawMessage) {
	fingerprint := selectionFingerprint(attrs)
	for _, line := range s.carts[ownerKey] {
		if line.ProductID == productID && selectionFingerprint(line.Attributes) == fingerprint {
			line.Quantity += quantity
			return
		}
	}
	s.nextLineID++
	s.carts[ownerKey] = append(s.carts[ownerKey], &cartLine{
		ID:         s.nextLineID,
		ProductID:  productID,
		Quantity:   quantity,
		Attributes: attrs,
	})
}

func (s *Server) findLineLocked(ownerKey string, id int64) *cartLine {
	for _, line := range s.carts[ownerKey] {
		if line.ID == id {
			return line
		}
	}
	return nil
}

func (s *Server) renderCartLocked(ownerKey string) ([]cartLineDTO, decimal.Decimal) {
	lines := make([]cartLineDTO, 0, len(s.carts[ownerKey]))
	total := decimal.Zero
	for _, line := range s.carts[ownerKey] {
		product, ok := s.productByIDLocked(line.ProductID)
		if !ok {
			continue
		}
		dto := priceLine(product, line)
		total = total.Add(dto.Subtotal)
		lines = append(lines, dto)
	}
	return lines, total
}

func priceLine(p Product, line *cartLine) cartLineDTO {
	withAttrs := p.Price
	for _, id := range selectedValueIDs(line.Attributes) {
		if surcharge, ok := p.AttributePrices[id]; ok {
			withAttrs = withAttrs.Add(surcharge)
		}
	}
	discount := withAttrs.Mul(p.DiscountPercentage).Div(decimal.NewFromInt(100)).Round(2)
	final := withAttrs.Sub(discount)
	return cartLineDTO{
		ID:                  line.ID,
		ProductID:           p.ID,
		Product:             productRef(p),
		Quantity:            line.Quantity,
		SelectedAttributes:  line.Attributes,
		UnitPrice:           p.Price,
		PriceWithAttributes: withAttrs,
		FinalPrice:          final,
		DiscountPercentage:  p.DiscountPercentage,
		DiscountAmount:      discount,
		Subtotal:            final.Mul(decimal.NewFromInt(int64(line.Quantity))),
	}
}

func productRef(p Product) productRefDTO {
	return productRefDTO{ID: p.ID, Name: p.Name, Slug: p.Slug, Image: p.Image, Price: p.Price}
}

// selectedValueIDs extracts numeric value ids; legacy labels carry no surcharge.
func selectedValueIDs(attrs map[string]json.RawMessage) []int64 {
	var ids []int64
	for _, raw := range attrs {
		var many []json.RawMessage
		if err := json.Unmarshal(raw, &many); err != nil {
			many = []json.RawMessage{raw}
		}
		for _, v := range many {
			var id int64
			if err := json.Unmarshal(v, &id); err == nil {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func selectionFingerprint(attrs map[string]json.RawMessage) string {
	if len(attrs) == 0 {
		return ""
	}
	raw, _ := json.Marshal(attrs)
	return string(raw)
}
