// Package generations owns the client-facing side of the generation lifecycle:
// creating jobs against the credit balance, cancelling them and requesting the
// final render of an approved preview.
package generations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"genstudio/internal/domain"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
	maxPromptLength  = 4000
)

// CreateInput describes a new generation request. Cost overrides the pricing
// table for internal collaborators that price work themselves.
type CreateInput struct {
	WorkspaceID string
	Type        domain.GenerationType
	Tier        domain.Tier
	Prompt      string
	Cost        *Cost
}

type Service struct {
	store  domain.Transactor
	logger zerolog.Logger
	now    func() time.Time
}

type Option func(*Service)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store domain.Transactor, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: logger.With().Str("component", "generations").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create reserves the preview cost and inserts the queued job in one
// transaction. Insufficient credits leave no trace.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Generation, error) {
	in.Prompt = norm.NFC.String(strings.TrimSpace(in.Prompt))
	if in.Tier == "" {
		in.Tier = domain.TierStandard
	}
	switch {
	case strings.TrimSpace(in.WorkspaceID) == "":
		return nil, domain.InvalidInput("workspace_id is required")
	case !in.Type.Valid():
		return nil, domain.InvalidInput("unsupported generation type %q", in.Type)
	case !in.Tier.Valid():
		return nil, domain.InvalidInput("unsupported tier %q", in.Tier)
	case in.Prompt == "":
		return nil, domain.InvalidInput("prompt is required")
	case utf8.RuneCountInString(in.Prompt) > maxPromptLength:
		return nil, domain.InvalidInput("prompt exceeds %d characters", maxPromptLength)
	}

	var cost Cost
	if in.Cost != nil {
		if in.Cost.Preview < 0 || in.Cost.Final < 0 {
			return nil, domain.InvalidInput("costs must not be negative")
		}
		cost = *in.Cost
	} else {
		var err error
		if cost, err = Price(in.Type, in.Tier); err != nil {
			return nil, err
		}
	}

	g := &domain.Generation{
		ID:                 uuid.NewString(),
		WorkspaceID:        in.WorkspaceID,
		Type:               in.Type,
		Tier:               in.Tier,
		Prompt:             in.Prompt,
		Status:             domain.StatusQueued,
		PreviewCostCredits: cost.Preview,
		FinalCostCredits:   cost.Final,
		CreatedAt:          s.now(),
	}
	var balance int64
	err := s.store.WithinTx(ctx, func(r domain.Repositories) error {
		b, err := r.Credits.Reserve(ctx, g.WorkspaceID, cost.Preview, g.ID, domain.ReasonPreviewReserve)
		if err != nil {
			return err
		}
		balance = b
		return r.Generations.Create(ctx, g)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("generation_id", g.ID).
		Str("workspace_id", g.WorkspaceID).
		Str("type", string(g.Type)).
		Int64("reserved", cost.Preview).
		Int64("balance", balance).
		Msg("generation queued")
	return g, nil
}

// Cancel moves a non-terminal job to cancelled and refunds whatever the
// transition table says is still held.
func (s *Service) Cancel(ctx context.Context, workspaceID, id string) (*domain.Generation, error) {
	var (
		out      *domain.Generation
		refunded int64
	)
	err := s.store.WithinTx(ctx, func(r domain.Repositories) error {
		g, err := r.Generations.GetForWorkspace(ctx, workspaceID, id)
		if err != nil {
			return err
		}
		if g.Status.Terminal() {
			return fmt.Errorf("%w: generation is already %s", domain.ErrConflict, g.Status)
		}
		if !domain.CanTransition(g.Status, domain.StatusCancelled) {
			return fmt.Errorf("%w: cannot cancel from %s", domain.ErrInvalidState, g.Status)
		}
		updated, ok, err := r.Generations.Transition(ctx, domain.TransitionParams{
			ID:   g.ID,
			From: []domain.Status{g.Status},
			To:   domain.StatusCancelled,
			Now:  s.now(),
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: generation changed while cancelling", domain.ErrConflict)
		}
		if phase := domain.RefundOnTransition(g.Status, domain.StatusCancelled); phase != domain.PhaseNone {
			refunded = g.CostFor(phase)
			if _, err := r.Credits.Refund(ctx, g.WorkspaceID, refunded, g.ID, domain.RefundReason(phase)); err != nil {
				return err
			}
		}
		out = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("generation_id", id).
		Str("workspace_id", workspaceID).
		Int64("refunded", refunded).
		Msg("generation cancelled")
	return out, nil
}

// Finalize reserves the final cost and queues the final render of a job whose
// preview is ready. When the status moves underneath it, the reservation is
// rolled back with an explicit refund and ErrConflict is returned.
func (s *Service) Finalize(ctx context.Context, workspaceID, id string) (*domain.Generation, error) {
	var (
		out      *domain.Generation
		lostRace bool
	)
	err := s.store.WithinTx(ctx, func(r domain.Repositories) error {
		g, err := r.Generations.GetForWorkspace(ctx, workspaceID, id)
		if err != nil {
			return err
		}
		switch g.Status {
		case domain.StatusPreviewReady:
		case domain.StatusQueuedFinal, domain.StatusRunningFinal, domain.StatusFinalReady:
			return fmt.Errorf("%w: final already requested", domain.ErrConflict)
		default:
			return fmt.Errorf("%w: preview is not ready (status %s)", domain.ErrInvalidState, g.Status)
		}

		if _, err := r.Credits.Reserve(ctx, g.WorkspaceID, g.FinalCostCredits, g.ID, domain.ReasonFinalReserve); err != nil {
			return err
		}
		updated, ok, err := r.Generations.Finalize(ctx, g.ID, s.now())
		if err != nil {
			return err
		}
		if !ok {
			lostRace = true
			_, err := r.Credits.Refund(ctx, g.WorkspaceID, g.FinalCostCredits, g.ID, domain.ReasonFinalizeRollback)
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	if lostRace {
		s.logger.Warn().Str("generation_id", id).Msg("finalize lost race, reservation rolled back")
		return nil, fmt.Errorf("%w: generation changed while finalizing", domain.ErrConflict)
	}
	s.logger.Info().
		Str("generation_id", id).
		Str("workspace_id", workspaceID).
		Int64("reserved", out.FinalCostCredits).
		Msg("final render queued")
	return out, nil
}

func (s *Service) Get(ctx context.Context, workspaceID, id string) (*domain.Generation, error) {
	return s.store.Repositories().Generations.GetForWorkspace(ctx, workspaceID, id)
}

// ListInput narrows a workspace listing. Zero Limit means DefaultListLimit.
type ListInput struct {
	WorkspaceID string
	Statuses    []domain.Status
	Types       []domain.GenerationType
	Limit       int
	Offset      int
}

func (s *Service) List(ctx context.Context, in ListInput) ([]domain.Generation, error) {
	for _, st := range in.Statuses {
		if !st.Valid() {
			return nil, domain.InvalidInput("unknown status %q", st)
		}
	}
	for _, t := range in.Types {
		if !t.Valid() {
			return nil, domain.InvalidInput("unknown type %q", t)
		}
	}
	limit := in.Limit
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	offset := max(in.Offset, 0)
	return s.store.Repositories().Generations.List(ctx, domain.ListFilter{
		WorkspaceID: in.WorkspaceID,
		Statuses:    in.Statuses,
		Types:       in.Types,
		Limit:       limit,
		Offset:      offset,
	})
}

func (s *Service) Balance(ctx context.Context, workspaceID string) (int64, error) {
	return s.store.Repositories().Credits.Balance(ctx, workspaceID)
}

func (s *Service) History(ctx context.Context, workspaceID string, limit int) ([]domain.CreditTransaction, error) {
	return s.store.Repositories().Credits.History(ctx, workspaceID, limit)
}

// IsClientError reports whether err is an expected business outcome rather
// than a storage or programming failure.
func IsClientError(err error) bool {
	for _, target := range []error{
		domain.ErrNotFound, domain.ErrInvalidInput, domain.ErrInvalidState,
		domain.ErrConflict, domain.ErrInsufficientCredits, domain.ErrUnauthorized,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
