package apitest

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-storefront/pkg/pagination"
)

type productDTO struct {
	ID                 int64           `json:"id"`
	Name               string          `json:"name"`
	Slug               string          `json:"slug"`
	Image              string          `json:"image,omitempty"`
	Category           string          `json:"category,omitempty"`
	Price              decimal.Decimal `json:"price"`
	DiscountPercentage decimal.Decimal `json:"discountPercentage"`
}

func toProductDTO(p Product) productDTO {
	return productDTO{
		ID:                 p.ID,
		Name:               p.Name,
		Slug:               p.Slug,
		Image:              p.Image,
		Category:           p.Category,
		Price:              p.Price,
		DiscountPercentage: p.DiscountPercentage,
	}
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.products {
		if p.Slug == slug {
			writeSuccess(w, http.StatusOK, envelope{Data: toProductDTO(p)})
			return
		}
	}
	writeError(r.Context(), s.logg, w, http.StatusNotFound, reject(http.StatusNotFound, "Product not found"))
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := pagination.Params{Page: atoi(q.Get("page")), Limit: atoi(q.Get("limit"))}
	category := strings.TrimSpace(q.Get("category"))
	search := strings.ToLower(strings.TrimSpace(q.Get("search")))

	s.mu.Lock()
	matched := make([]productDTO, 0, len(s.products))
	for _, p := range s.products {
		if category != "" && !strings.EqualFold(p.Category, category) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) {
			continue
		}
		matched = append(matched, toProductDTO(p))
	}
	s.mu.Unlock()

	start, end := page.Bounds(len(matched))
	writeSuccess(w, http.StatusOK, envelope{Data: matched[start:end], Total: len(matched)})
}

func (s *Server) productByIDLocked(id int64) (Product, bool) {
	for _, p := range s.products {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}

func atoi(raw string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(raw))
	return n
}
