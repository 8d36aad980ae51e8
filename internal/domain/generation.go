package domain

import (
	"slices"
	"time"
)

// GenerationType enumerates the content categories a workspace can request.
type GenerationType string

const (
	TypeVideo        GenerationType = "video"
	TypeImage        GenerationType = "image"
	TypeVoice        GenerationType = "voice"
	TypeScript       GenerationType = "script"
	TypeImageToVideo GenerationType = "image_to_video"
	TypeVideoToVideo GenerationType = "video_to_video"
	TypeAvatar       GenerationType = "avatar"
	TypeEdit         GenerationType = "edit"
)

var generationTypes = []GenerationType{
	TypeVideo, TypeImage, TypeVoice, TypeScript,
	TypeImageToVideo, TypeVideoToVideo, TypeAvatar, TypeEdit,
}

// GenerationTypes returns every supported type.
func GenerationTypes() []GenerationType {
	return slices.Clone(generationTypes)
}

func (t GenerationType) Valid() bool {
	return slices.Contains(generationTypes, t)
}

// Tier scales the price of a generation.
type Tier string

const (
	TierDraft    Tier = "draft"
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

func (t Tier) Valid() bool {
	switch t {
	case TierDraft, TierStandard, TierPremium:
		return true
	}
	return false
}

// Status is the lifecycle state of a generation.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusRunningPreview Status = "running_preview"
	StatusPreviewReady   Status = "preview_ready"
	StatusQueuedFinal    Status = "queued_final"
	StatusRunningFinal   Status = "running_final"
	StatusFinalReady     Status = "final_ready"
	StatusCancelled      Status = "cancelled"
	StatusFailed         Status = "failed"
)

var statuses = []Status{
	StatusQueued, StatusRunningPreview, StatusPreviewReady, StatusQueuedFinal,
	StatusRunningFinal, StatusFinalReady, StatusCancelled, StatusFailed,
}

func (s Status) Valid() bool {
	return slices.Contains(statuses, s)
}

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	switch s {
	case StatusFinalReady, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Running reports whether a provider is working on the job.
func (s Status) Running() bool {
	return s == StatusRunningPreview || s == StatusRunningFinal
}

// Phase identifies which half of the two-phase pipeline a status belongs to.
type Phase string

const (
	PhaseNone    Phase = ""
	PhasePreview Phase = "preview"
	PhaseFinal   Phase = "final"
)

// PhaseOf returns the pipeline phase a status is part of.
func PhaseOf(s Status) Phase {
	switch s {
	case StatusQueued, StatusRunningPreview:
		return PhasePreview
	case StatusQueuedFinal, StatusRunningFinal:
		return PhaseFinal
	}
	return PhaseNone
}

// RunningStatusFor maps a queued status to the status a claimant moves it to.
func RunningStatusFor(s Status) (Status, bool) {
	switch s {
	case StatusQueued:
		return StatusRunningPreview, true
	case StatusQueuedFinal:
		return StatusRunningFinal, true
	}
	return "", false
}

// QueuedStatusFor maps a running status back to the queue it was claimed from.
func QueuedStatusFor(s Status) (Status, bool) {
	switch s {
	case StatusRunningPreview:
		return StatusQueued, true
	case StatusRunningFinal:
		return StatusQueuedFinal, true
	}
	return "", false
}

// ReadyStatusFor maps a running status to its completion status.
func ReadyStatusFor(s Status) (Status, bool) {
	switch s {
	case StatusRunningPreview:
		return StatusPreviewReady, true
	case StatusRunningFinal:
		return StatusFinalReady, true
	}
	return "", false
}

type edge struct {
	from Status
	to   Status
}

// transitions lists every allowed edge with the phase whose cost is refunded.
var transitions = map[edge]Phase{
	{StatusQueued, StatusRunningPreview}:       PhaseNone,
	{StatusQueued, StatusCancelled}:            PhasePreview,
	{StatusQueued, StatusFailed}:               PhasePreview,
	{StatusRunningPreview, StatusPreviewReady}: PhaseNone,
	{StatusRunningPreview, StatusFailed}:       PhasePreview,
	{StatusRunningPreview, StatusCancelled}:    PhaseNone,
	{StatusRunningPreview, StatusQueued}:       PhaseNone,
	{StatusPreviewReady, StatusQueuedFinal}:    PhaseNone,
	{StatusPreviewReady, StatusCancelled}:      PhaseNone,
	{StatusPreviewReady, StatusFailed}:         PhaseNone,
	{StatusQueuedFinal, StatusRunningFinal}:    PhaseNone,
	{StatusQueuedFinal, StatusCancelled}:       PhaseFinal,
	{StatusQueuedFinal, StatusFailed}:          PhaseFinal,
	{StatusRunningFinal, StatusFinalReady}:     PhaseNone,
	{StatusRunningFinal, StatusFailed}:         PhaseFinal,
	{StatusRunningFinal, StatusCancelled}:      PhaseNone,
	{StatusRunningFinal, StatusQueuedFinal}:    PhaseNone,
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	_, ok := transitions[edge{from, to}]
	return ok
}

// RefundOnTransition returns the phase whose reserved cost is returned to the
// workspace when the job moves from -> to. PhaseNone means no refund.
func RefundOnTransition(from, to Status) Phase {
	return transitions[edge{from, to}]
}

// Generation is the persisted job record.
type Generation struct {
	ID                   string
	WorkspaceID          string
	Type                 GenerationType
	Tier                 Tier
	Prompt               string
	Status               Status
	PreviewCostCredits   int64
	FinalCostCredits     int64
	WorkerID             *string
	WorkerHeartbeatAt    *time.Time
	ExternalJobID        *string
	PreviewExternalJobID *string
	Progress             int
	Attempts             int
	PollAfter            *time.Time
	ErrorMessage         *string
	PreviewURL           *string
	OutputURL            *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
	SubmittedAt          *time.Time
	PreviewCompletedAt   *time.Time
	FinalRequestedAt     *time.Time
	CompletedAt          *time.Time
}

// CostFor returns the credits reserved for the given phase.
func (g *Generation) CostFor(p Phase) int64 {
	switch p {
	case PhasePreview:
		return g.PreviewCostCredits
	case PhaseFinal:
		return g.FinalCostCredits
	}
	return 0
}

// Phase returns the phase the job is currently in.
func (g *Generation) Phase() Phase {
	return PhaseOf(g.Status)
}

// ExternalID returns the current provider submission id, or "".
func (g *Generation) ExternalID() string {
	if g.ExternalJobID == nil {
		return ""
	}
	return *g.ExternalJobID
}

// ClaimedBy reports whether workerID holds the job's lease.
func (g *Generation) ClaimedBy(workerID string) bool {
	return g.WorkerID != nil && *g.WorkerID == workerID
}
