package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"genstudio/internal/webhook"
)

const maxWebhookBody = 1 << 20

// ProviderWebhook ingests provider callbacks. The signature is checked only
// when a webhook secret is configured.
func (a *App) ProviderWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable payload")
		return
	}
	if a.WebhookSecret != "" {
		if err := webhook.Verify(a.WebhookSecret, body, r.Header.Get(webhook.SignatureHeader)); err != nil {
			a.error(w, http.StatusUnauthorized, "unauthorized", "invalid signature")
			return
		}
	}
	var ev webhook.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	res, err := a.Webhooks.Handle(r.Context(), ev)
	if err != nil {
		if errors.Is(err, webhook.ErrMalformedEvent) {
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, res)
}
