package apitest

import (
	"net/http"

	"github.com/angelmondragon/packfinderz-storefront/pkg/validate"
)

type wishlistEntry struct {
	ID        int64
	ProductID int64
}

type wishlistEntryDTO struct {
	ID        int64         `json:"id"`
	ProductID int64         `json:"productId"`
	Product   productRefDTO `json:"product"`
}

type toggleBody struct {
	ProductID int64 `json:"productId" validate:"gt=0"`
}

func (s *Server) handleGetWishlist(w http.ResponseWriter, r *http.Request) {
	o, _ := ownerFromContext(r.Context())
	s.mu.Lock()
	entries := s.renderWishlistLocked(o.key())
	s.mu.Unlock()
	writeSuccess(w, http.StatusOK, envelope{Data: entries})
}

func (s *Server) handleToggleWishlist(w http.ResponseWriter, r *http.Request) {
	o, _ := ownerFromContext(r.Context())
	var body toggleBody
	if err := validate.DecodeJSONBody(r, &body); err != nil {
		writeError(r.Context(), s.logg, w, statusFor(err), err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.productByIDLocked(body.ProductID); !ok {
		writeError(r.Context(), s.logg, w, http.StatusNotFound, reject(http.StatusNotFound, "Product not found"))
		return
	}

	key := o.key()
	entries := s.wishlists[key]
	for i, entry := range entries {
		if entry.ProductID == body.ProductID {
			s.wishlists[key] = append(entries[:i:i], entries[i+1:]...)
			in := false
			writeSuccess(w, http.StatusOK, envelope{Message: "Removed from wishlist", InWishlist: &in})
			return
		}
	}
	s.addWishlistLocked(key, body.ProductID)
	in := true
	writeSuccess(w, http.StatusOK, envelope{Message: "Added to wishlist", InWishlist: &in})
}

func (s *Server) addWishlistLocked(ownerKey string, productID int64) {
	for _, entry := range s.wishlists[ownerKey] {
		if entry.ProductID == productID {
			return
		}
	}
	s.nextEntryID++
	s.wishlists[ownerKey] = append(s.wishlists[ownerKey], &wishlistEntry{ID: s.nextEntryID, ProductID: productID})
}

func (s *Server) renderWishlistLocked(ownerKey string) []wishlistEntryDTO {
	out := make([]wishlistEntryDTO, 0, len(s.wishlists[ownerKey]))
	for _, entry := range s.wishlists[ownerKey] {
		product, ok := s.productByIDLocked(entry.ProductID)
		if !ok {
			continue
		}
		out = append(out, wishlistEntryDTO{ID: entry.ID, ProductID: product.ID, Product: productRef(product)})
	}
	return out
}
