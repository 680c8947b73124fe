package apitest

import (
	"context"
	"encoding/json"
	"net/http"

	pkgerrors "github.com/angelmondragon/packfinderz-storefront/pkg/errors"
	"github.com/angelmondragon/packfinderz-storefront/pkg/logger"
)

// envelope is the wire shape every commerce API response uses.
type envelope struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	Data       any    `json:"data,omitempty"`
	Total      any    `json:"total,omitempty"`
	InWishlist *bool  `json:"inWishlist,omitempty"`
}

func writeSuccess(w http.ResponseWriter, status int, payload envelope) {
	payload.Success = true
	writeJSON(w, status, payload)
}

// writeError renders err as a failure envelope. Untyped errors become 500s.
func writeError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, status int, err error) {
	msg := pkgerrors.PublicMessage(err)
	if typed := pkgerrors.As(err); typed != nil && typed.Message() != "" {
		msg = typed.Message()
	}
	if status >= http.StatusInternalServerError {
		logg.Error(logg.WithFields(ctx, pkgerrors.Dump(err).Fields()), "request.error", err)
	}
	writeJSON(w, status, envelope{Success: false, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func reject(status int, message string) error {
	return pkgerrors.New(pkgerrors.CodeRejected, message).WithStatus(status)
}

// statusFor maps a handler error onto the HTTP status the fake API answers with.
func statusFor(err error) int {
	typed := pkgerrors.As(err)
	switch {
	case typed == nil:
		return http.StatusInternalServerError
	case typed.Status() > 0:
		return typed.Status()
	case typed.Code() == pkgerrors.CodeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
