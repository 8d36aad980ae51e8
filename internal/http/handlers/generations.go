package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"genstudio/internal/domain"
	"genstudio/internal/generations"
	"genstudio/internal/middleware"
)

type createGenerationRequest struct {
	Type   domain.GenerationType `json:"type"`
	Prompt string                `json:"prompt"`
	Tier   domain.Tier           `json:"tier"`
}

// internalCreateRequest is accepted from trusted collaborators such as the
// pipeline executor, which scope the workspace and may price the job.
type internalCreateRequest struct {
	WorkspaceID string                `json:"workspace_id"`
	Type        domain.GenerationType `json:"type"`
	Prompt      string                `json:"prompt"`
	Tier        domain.Tier           `json:"tier"`
	Cost        *generations.Cost     `json:"cost"`
}

type generationResponse struct {
	ID                 string                `json:"id"`
	WorkspaceID        string                `json:"workspace_id"`
	Type               domain.GenerationType `json:"type"`
	Tier               domain.Tier           `json:"tier"`
	Prompt             string                `json:"prompt"`
	Status             domain.Status         `json:"status"`
	PreviewCostCredits int64                 `json:"preview_cost_credits"`
	FinalCostCredits   int64                 `json:"final_cost_credits"`
	Progress           int                   `json:"progress"`
	Attempts           int                   `json:"attempts"`
	ErrorMessage       *string               `json:"error_message"`
	PreviewURL         *string               `json:"preview_url"`
	OutputURL          *string               `json:"output_url"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
	SubmittedAt        *time.Time            `json:"submitted_at"`
	PreviewCompletedAt *time.Time            `json:"preview_completed_at"`
	FinalRequestedAt   *time.Time            `json:"final_requested_at"`
	CompletedAt        *time.Time            `json:"completed_at"`
}

func toGenerationResponse(g *domain.Generation) generationResponse {
	return generationResponse{
		ID:                 g.ID,
		WorkspaceID:        g.WorkspaceID,
		Type:               g.Type,
		Tier:               g.Tier,
		Prompt:             g.Prompt,
		Status:             g.Status,
		PreviewCostCredits: g.PreviewCostCredits,
		FinalCostCredits:   g.FinalCostCredits,
		Progress:           g.Progress,
		Attempts:           g.Attempts,
		ErrorMessage:       g.ErrorMessage,
		PreviewURL:         g.PreviewURL,
		OutputURL:          g.OutputURL,
		CreatedAt:          g.CreatedAt,
		UpdatedAt:          g.UpdatedAt,
		SubmittedAt:        g.SubmittedAt,
		PreviewCompletedAt: g.PreviewCompletedAt,
		FinalRequestedAt:   g.FinalRequestedAt,
		CompletedAt:        g.CompletedAt,
	}
}

func (a *App) workspaceID(w http.ResponseWriter, r *http.Request) (string, bool) {
	ws := middleware.WorkspaceIDFromContext(r.Context())
	if ws == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing workspace context")
		return "", false
	}
	return ws, true
}

func (a *App) GenerationsCreate(w http.ResponseWriter, r *http.Request) {
	ws, ok := a.workspaceID(w, r)
	if !ok {
		return
	}
	var req createGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	g, err := a.Generations.Create(r.Context(), generations.CreateInput{
		WorkspaceID: ws,
		Type:        req.Type,
		Tier:        req.Tier,
		Prompt:      req.Prompt,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, toGenerationResponse(g))
}

// InternalGenerationsCreate is the collaborator entry point behind the worker
// secret.
func (a *App) InternalGenerationsCreate(w http.ResponseWriter, r *http.Request) {
	var req internalCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	g, err := a.Generations.Create(r.Context(), generations.CreateInput{
		WorkspaceID: req.WorkspaceID,
		Type:        req.Type,
		Tier:        req.Tier,
		Prompt:      req.Prompt,
		Cost:        req.Cost,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, toGenerationResponse(g))
}

func (a *App) GenerationsList(w http.ResponseWriter, r *http.Request) {
	ws, ok := a.workspaceID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	in := generations.ListInput{WorkspaceID: ws}
	for _, s := range splitQuery(q["status"]) {
		in.Statuses = append(in.Statuses, domain.Status(s))
	}
	for _, t := range splitQuery(q["type"]) {
		in.Types = append(in.Types, domain.GenerationType(t))
	}
	var err error
	if in.Limit, err = intQuery(q.Get("limit")); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "limit must be an integer")
		return
	}
	if in.Offset, err = intQuery(q.Get("offset")); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "offset must be an integer")
		return
	}

	items, err := a.Generations.List(r.Context(), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]generationResponse, 0, len(items))
	for i := range items {
		out = append(out, toGenerationResponse(&items[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": out})
}

func (a *App) GenerationsGet(w http.ResponseWriter, r *http.Request) {
	ws, ok := a.workspaceID(w, r)
	if !ok {
		return
	}
	g, err := a.Generations.Get(r.Context(), ws, chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toGenerationResponse(g))
}

func (a *App) GenerationsCancel(w http.ResponseWriter, r *http.Request) {
	ws, ok := a.workspaceID(w, r)
	if !ok {
		return
	}
	g, err := a.Generations.Cancel(r.Context(), ws, chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toGenerationResponse(g))
}

func (a *App) GenerationsFinalize(w http.ResponseWriter, r *http.Request) {
	ws, ok := a.workspaceID(w, r)
	if !ok {
		return
	}
	g, err := a.Generations.Finalize(r.Context(), ws, chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, toGenerationResponse(g))
}

// splitQuery accepts both ?status=a&status=b and ?status=a,b.
func splitQuery(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func intQuery(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
