package handlers

import (
	"net/http"
	"time"
)

type creditTransactionResponse struct {
	ID           string    `json:"id"`
	GenerationID *string   `json:"generation_id"`
	Delta        int64     `json:"delta"`
	Reason       string    `json:"reason"`
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

func (a *App) CreditsBalance(w http.ResponseWriter, r *http.Request) {
	ws, ok := a.workspaceID(w, r)
	if !ok {
		return
	}
	balance, err := a.Generations.Balance(r.Context(), ws)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"workspace_id": ws, "balance": balance})
}

func (a *App) CreditsHistory(w http.ResponseWriter, r *http.Request) {
	ws, ok := a.workspaceID(w, r)
	if !ok {
		return
	}
	limit, err := intQuery(r.URL.Query().Get("limit"))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "limit must be an integer")
		return
	}
	txs, err := a.Generations.History(r.Context(), ws, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items := make([]creditTransactionResponse, 0, len(txs))
	for _, tx := range txs {
		items = append(items, creditTransactionResponse{
			ID:           tx.ID,
			GenerationID: tx.GenerationID,
			Delta:        tx.Delta,
			Reason:       string(tx.Reason),
			BalanceAfter: tx.BalanceAfter,
			CreatedAt:    tx.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}
