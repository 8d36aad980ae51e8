// Package webhook applies provider completion callbacks to generations. Events
// are correlated by external job id and applied with the same guarded
// transitions the worker uses, so duplicates and late arrivals are no-ops.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"genstudio/internal/domain"
)

type EventType string

const (
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// ErrMalformedEvent rejects payloads missing required fields.
var ErrMalformedEvent = errors.New("webhook: malformed event")

// Event is the provider callback payload.
type Event struct {
	EventID       string    `json:"event_id"`
	Type          EventType `json:"type"`
	ExternalJobID string    `json:"external_job_id"`
	Error         string    `json:"error,omitempty"`
	OutputURL     string    `json:"output_url,omitempty"`
}

func (e Event) validate() error {
	switch {
	case strings.TrimSpace(e.EventID) == "":
		return fmt.Errorf("%w: event_id is required", ErrMalformedEvent)
	case strings.TrimSpace(e.ExternalJobID) == "":
		return fmt.Errorf("%w: external_job_id is required", ErrMalformedEvent)
	case e.Type != EventCompleted && e.Type != EventFailed:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, e.Type)
	}
	return nil
}

// Result reports what an event did. Matched is false for unknown job ids;
// Applied is false when the job had already moved on.
type Result struct {
	Received     bool          `json:"received"`
	Matched      bool          `json:"matched"`
	Applied      bool          `json:"applied"`
	GenerationID string        `json:"generation_id,omitempty"`
	Status       domain.Status `json:"status,omitempty"`
}

type Ingestor struct {
	store  domain.Transactor
	logger zerolog.Logger
	now    func() time.Time
}

func NewIngestor(store domain.Transactor, logger zerolog.Logger) *Ingestor {
	return &Ingestor{
		store:  store,
		logger: logger.With().Str("component", "webhook").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (i *Ingestor) Handle(ctx context.Context, ev Event) (Result, error) {
	if err := ev.validate(); err != nil {
		return Result{}, err
	}
	res := Result{Received: true}
	log := i.logger.With().Str("event_id", ev.EventID).Str("external_job_id", ev.ExternalJobID).Logger()

	g, err := i.store.Repositories().Generations.GetByExternalJobID(ctx, ev.ExternalJobID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Info().Msg("webhook for unknown job ignored")
		return res, nil
	}
	if err != nil {
		return Result{}, err
	}
	res.Matched = true
	res.GenerationID = g.ID
	res.Status = g.Status

	if !g.Status.Running() || g.ExternalID() != ev.ExternalJobID {
		log.Info().Str("generation_id", g.ID).Str("status", string(g.Status)).Msg("webhook for settled phase ignored")
		return res, nil
	}

	var (
		updated *domain.Generation
		applied bool
	)
	switch ev.Type {
	case EventCompleted:
		updated, applied, err = i.complete(ctx, g, ev)
	case EventFailed:
		updated, applied, err = i.fail(ctx, g, ev)
	}
	if err != nil {
		return Result{}, err
	}
	res.Applied = applied
	if updated != nil {
		res.Status = updated.Status
	}
	log.Info().
		Str("generation_id", g.ID).
		Str("type", string(ev.Type)).
		Bool("applied", applied).
		Str("status", string(res.Status)).
		Msg("webhook processed")
	return res, nil
}

func (i *Ingestor) complete(ctx context.Context, g *domain.Generation, ev Event) (*domain.Generation, bool, error) {
	ready, _ := domain.ReadyStatusFor(g.Status)
	return i.store.Repositories().Generations.Transition(ctx, domain.TransitionParams{
		ID:            g.ID,
		From:          []domain.Status{g.Status},
		To:            ready,
		ExternalJobID: ev.ExternalJobID,
		ResultURL:     strings.TrimSpace(ev.OutputURL),
		Now:           i.now(),
	})
}

// fail moves the job to failed and refunds the running phase's cost in the
// same transaction. A lost CAS refunds nothing.
func (i *Ingestor) fail(ctx context.Context, g *domain.Generation, ev Event) (*domain.Generation, bool, error) {
	msg := strings.TrimSpace(ev.Error)
	if msg == "" {
		msg = "provider reported failure"
	}
	var (
		updated *domain.Generation
		applied bool
	)
	err := i.store.WithinTx(ctx, func(r domain.Repositories) error {
		u, ok, err := r.Generations.Transition(ctx, domain.TransitionParams{
			ID:            g.ID,
			From:          []domain.Status{g.Status},
			To:            domain.StatusFailed,
			ExternalJobID: ev.ExternalJobID,
			ErrorMessage:  msg,
			Now:           i.now(),
		})
		if err != nil || !ok {
			return err
		}
		updated, applied = u, true
		if phase := domain.RefundOnTransition(g.Status, domain.StatusFailed); phase != domain.PhaseNone {
			_, err = r.Credits.Refund(ctx, g.WorkspaceID, g.CostFor(phase), g.ID, domain.RefundReason(phase))
		}
		return err
	})
	return updated, applied, err
}
