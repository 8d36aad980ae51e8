// Package providers defines the contract between the worker and the external
// generation backends, plus a registry that picks a backend per content type.
package providers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"genstudio/internal/domain"
)

// ErrRejected marks a submission or poll the provider refused outright.
// Jobs hitting it are failed without retry.
var ErrRejected = errors.New("provider rejected job")

// Rejected wraps ErrRejected with provider detail.
func Rejected(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRejected, fmt.Sprintf(format, args...))
}

// JobRequest is what a worker submits for one phase of a generation.
type JobRequest struct {
	GenerationID         string
	WorkspaceID          string
	Type                 domain.GenerationType
	Tier                 domain.Tier
	Phase                domain.Phase
	Prompt               string
	PreviewExternalJobID string
}

type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// Done reports whether the provider has stopped working on the job.
func (s JobState) Done() bool {
	return s == JobSucceeded || s == JobFailed
}

// JobStatus is one observation of a provider job. A succeeded job carries
// either a fetchable OutputURL or inline Data with its MIME type.
type JobStatus struct {
	State     JobState
	Progress  int
	OutputURL string
	Data      []byte
	MIME      string
	Error     string
}

// Adapter submits jobs to one provider and observes them.
type Adapter interface {
	Name() string
	Submit(ctx context.Context, req JobRequest) (string, error)
	Poll(ctx context.Context, externalJobID string) (*JobStatus, error)
	// PollBased is false for providers that report completion only through
	// the webhook.
	PollBased() bool
}

// Reconciler is implemented by webhook-driven adapters that can still answer
// a status query. The worker asks once before failing a job whose callback
// never matched it.
type Reconciler interface {
	Reconcile(ctx context.Context, externalJobID string) (*JobStatus, error)
}

// Registry resolves the adapter serving a generation type.
type Registry struct {
	mu       sync.RWMutex
	byType   map[domain.GenerationType]Adapter
	fallback Adapter
}

// NewRegistry returns a registry that routes unregistered types to fallback.
func NewRegistry(fallback Adapter) *Registry {
	return &Registry{byType: map[domain.GenerationType]Adapter{}, fallback: fallback}
}

func (r *Registry) Register(a Adapter, types ...domain.GenerationType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range types {
		r.byType[t] = a
	}
}

func (r *Registry) For(t domain.GenerationType) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.byType[t]; ok {
		return a, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("no provider registered for %s", t)
}
