package apitest

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/angelmondragon/packfinderz-storefront/pkg/security"
	"github.com/angelmondragon/packfinderz-storefront/pkg/validate"
)

type loginBody struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type registerBody struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type userDTO struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type authPayload struct {
	Token string  `json:"token"`
	User  userDTO `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if err := validate.DecodeJSONBody(r, &body); err != nil {
		writeError(r.Context(), s.logg, w, statusFor(err), err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[strings.ToLower(body.Email)]
	if !ok || !passwordMatches(body.Password, u.PasswordHash) {
		writeError(r.Context(), s.logg, w, http.StatusUnauthorized, reject(http.StatusUnauthorized, "Invalid credentials"))
		return
	}
	s.completeAuthLocked(w, r, u, http.StatusOK, "Login successful")
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body registerBody
	if err := validate.DecodeJSONBody(r, &body); err != nil {
		writeError(r.Context(), s.logg, w, statusFor(err), err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[strings.ToLower(body.Email)]; exists {
		writeError(r.Context(), s.logg, w, http.StatusConflict, reject(http.StatusConflict, "Email already registered"))
		return
	}
	u, err := s.addUserLocked(body.Name, body.Email, body.Password)
	if err != nil {
		writeError(r.Context(), s.logg, w, http.StatusInternalServerError, err)
		return
	}
	s.completeAuthLocked(w, r, u, http.StatusCreated, "Registration successful")
}

// completeAuthLocked merges any guest state named by X-Session-ID into the
// account and issues a token.
func (s *Server) completeAuthLocked(w http.ResponseWriter, r *http.Request, u *user, status int, message string) {
	token, err := mintAccessToken(s.tokens, s.now(), u.ID, u.Email)
	if err != nil {
		writeError(r.Context(), s.logg, w, http.StatusInternalServerError, err)
		return
	}
	if sessionID := strings.TrimSpace(r.Header.Get(sessionHeader)); sessionID != "" {
		s.mergeGuestLocked(owner{sessionID: sessionID}.key(), owner{userID: u.ID}.key())
	}
	writeSuccess(w, status, envelope{
		Message: message,
		Data: authPayload{
			Token: token,
			User:  userDTO{ID: u.ID, Name: u.Name, Email: u.Email},
		},
	})
}

func (s *Server) mergeGuestLocked(guestKey, accountKey string) {
	for _, line := range s.carts[guestKey] {
		s.addLineLocked(accountKey, line.ProductID, line.Quantity, line.Attributes)
	}
	delete(s.carts, guestKey)

	for _, entry := range s.wishlists[guestKey] {
		s.addWishlistLocked(accountKey, entry.ProductID)
	}
	delete(s.wishlists, guestKey)
}

// passwordHasher keeps fake accounts cheap to create.
var passwordHasher = security.Hasher{MemoryKiB: 8 * 1024, Passes: 1}

func (s *Server) addUserLocked(name, email, password string) (*user, error) {
	hash, err := passwordHasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password for %s: %w", email, err)
	}
	s.nextUserID++
	u := &user{ID: s.nextUserID, Name: name, Email: strings.ToLower(email), PasswordHash: hash}
	s.users[u.Email] = u
	return u, nil
}

func passwordMatches(password, hash string) bool {
	if hash == "" {
		return false
	}
	ok, err := security.Verify(password, hash)
	return err == nil && ok
}
