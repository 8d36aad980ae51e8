package handlers

import (
	"errors"
	"net/http"

	"genstudio/internal/domain"
	"genstudio/internal/middleware"
)

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Required  *int64 `json:"required,omitempty"`
	Available *int64 `json:"available,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]any{"error": errorBody{Code: code, Message: message}})
}

// fail maps a service error onto the public error taxonomy. Internal errors
// are logged and never echoed.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{RequestID: middleware.RequestIDFromContext(r.Context())}
	status := http.StatusInternalServerError

	var credits *domain.InsufficientCreditsError
	switch {
	case errors.As(err, &credits):
		status, body.Code, body.Message = http.StatusPaymentRequired, "insufficient_credits", "insufficient credits"
		body.Required, body.Available = &credits.Required, &credits.Available
	case errors.Is(err, domain.ErrInsufficientCredits):
		status, body.Code, body.Message = http.StatusPaymentRequired, "insufficient_credits", "insufficient credits"
	case errors.Is(err, domain.ErrInvalidInput):
		status, body.Code, body.Message = http.StatusBadRequest, "bad_request", err.Error()
	case errors.Is(err, domain.ErrUnauthorized):
		status, body.Code, body.Message = http.StatusUnauthorized, "unauthorized", "unauthorized"
	case errors.Is(err, domain.ErrNotFound):
		status, body.Code, body.Message = http.StatusNotFound, "not_found", "generation not found"
	case errors.Is(err, domain.ErrInvalidState):
		status, body.Code, body.Message = http.StatusConflict, "invalid_state", err.Error()
	case errors.Is(err, domain.ErrConflict):
		status, body.Code, body.Message = http.StatusConflict, "conflict", err.Error()
	default:
		body.Code, body.Message = "internal_error", "internal error"
		a.Logger.Error().Err(err).
			Str("request_id", body.RequestID).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	a.json(w, status, map[string]any{"error": body})
}
