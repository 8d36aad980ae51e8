// Package synthetic is a local stand-in for a generation provider. Jobs
// complete after a fixed latency; everything Poll needs is encoded in the
// job id, so the api and worker processes agree without shared state.
package synthetic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"genstudio/internal/domain"
	"genstudio/internal/providers"
	"genstudio/internal/webhook"
)

const (
	ModePoll    = "poll"
	ModeWebhook = "webhook"

	// Prompt markers that steer the outcome, for demos and tests.
	FailMarker   = "[fail]"
	RejectMarker = "[reject]"
)

type Options struct {
	Latency     time.Duration
	Mode        string
	CallbackURL string
	Secret      string
	HTTPClient  *http.Client
	Logger      zerolog.Logger
	Now         func() time.Time
}

type Provider struct {
	latency     time.Duration
	mode        string
	callbackURL string
	secret      string
	httpClient  *http.Client
	logger      zerolog.Logger
	now         func() time.Time
}

func New(opts Options) *Provider {
	p := &Provider{
		latency:     opts.Latency,
		mode:        opts.Mode,
		callbackURL: opts.CallbackURL,
		secret:      opts.Secret,
		httpClient:  opts.HTTPClient,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if p.mode == "" {
		p.mode = ModePoll
	}
	if p.httpClient == nil {
		p.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	return p
}

func (p *Provider) Name() string { return "synthetic" }

func (p *Provider) PollBased() bool { return p.mode != ModeWebhook }

type jobRef struct {
	fail        bool
	submittedAt time.Time
	phase       domain.Phase
	genType     domain.GenerationType
}

func (p *Provider) Submit(ctx context.Context, req providers.JobRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.Contains(req.Prompt, RejectMarker) {
		return "", providers.Rejected("synthetic: prompt refused")
	}
	outcome := "s"
	if strings.Contains(req.Prompt, FailMarker) {
		outcome = "f"
	}
	phase := req.Phase
	if phase == domain.PhaseNone {
		phase = domain.PhasePreview
	}
	id := strings.Join([]string{
		"syn",
		outcome,
		strconv.FormatInt(p.now().UnixMilli(), 10),
		string(phase),
		string(req.Type),
		strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
	}, ".")

	if p.mode == ModeWebhook {
		time.AfterFunc(p.latency, func() { p.deliver(id) })
	}
	p.logger.Debug().Str("generation_id", req.GenerationID).Str("external_job_id", id).Msg("synthetic: job accepted")
	return id, nil
}

func (p *Provider) Poll(ctx context.Context, externalJobID string) (*providers.JobStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ref, err := parseID(externalJobID)
	if err != nil {
		return nil, err
	}
	elapsed := p.now().Sub(ref.submittedAt)
	if p.latency > 0 && elapsed < p.latency {
		progress := int(elapsed * 100 / p.latency)
		return &providers.JobStatus{State: providers.JobRunning, Progress: min(max(progress, 1), 99)}, nil
	}
	return result(externalJobID, ref), nil
}

// Reconcile answers from the id alone, so it works in webhook mode too.
func (p *Provider) Reconcile(ctx context.Context, externalJobID string) (*providers.JobStatus, error) {
	return p.Poll(ctx, externalJobID)
}

func parseID(id string) (jobRef, error) {
	parts := strings.Split(id, ".")
	if len(parts) != 6 || parts[0] != "syn" {
		return jobRef{}, providers.Rejected("synthetic: unknown job %q", id)
	}
	ms, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return jobRef{}, providers.Rejected("synthetic: malformed job %q", id)
	}
	return jobRef{
		fail:        parts[1] == "f",
		submittedAt: time.UnixMilli(ms).UTC(),
		phase:       domain.Phase(parts[3]),
		genType:     domain.GenerationType(parts[4]),
	}, nil
}

func result(id string, ref jobRef) *providers.JobStatus {
	if ref.fail {
		return &providers.JobStatus{State: providers.JobFailed, Error: "synthetic: generation failed"}
	}
	done := &providers.JobStatus{State: providers.JobSucceeded, Progress: 100}
	switch ref.genType {
	case domain.TypeImage, domain.TypeEdit:
		done.MIME = "image/svg+xml"
		done.Data = placeholderSVG(id, ref)
	case domain.TypeScript:
		done.MIME = "text/plain"
		done.Data = []byte(fmt.Sprintf("synthetic %s script for job %s\n", ref.phase, id))
	case domain.TypeVoice:
		done.OutputURL = "https://cdn.example.com/synthetic/" + id + ".mp3"
	default:
		done.OutputURL = "https://cdn.example.com/synthetic/" + id + ".mp4"
	}
	return done
}

func placeholderSVG(id string, ref jobRef) []byte {
	size := 1024
	if ref.phase == domain.PhasePreview {
		size = 512
	}
	return []byte(fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d"><rect width="100%%" height="100%%" fill="#1f2937"/><text x="50%%" y="50%%" fill="#f9fafb" text-anchor="middle">%s</text></svg>`,
		size, size, html.EscapeString(id)))
}

// deliver posts the completion event to the webhook endpoint, retrying a few
// times on transport errors and non-2xx answers.
func (p *Provider) deliver(id string) {
	ref, err := parseID(id)
	if err != nil {
		return
	}
	ev := webhook.Event{EventID: uuid.NewString(), ExternalJobID: id, Type: webhook.EventCompleted}
	if status := result(id, ref); status.State == providers.JobFailed {
		ev.Type = webhook.EventFailed
		ev.Error = status.Error
	} else {
		ev.OutputURL = status.OutputURL
		if ev.OutputURL == "" {
			ev.OutputURL = "https://cdn.example.com/synthetic/" + id
		}
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}

	for attempt := 1; attempt <= 3; attempt++ {
		err = p.post(body)
		if err == nil {
			p.logger.Debug().Str("external_job_id", id).Msg("synthetic: webhook delivered")
			return
		}
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	p.logger.Warn().Err(err).Str("external_job_id", id).Msg("synthetic: webhook delivery failed")
}

func (p *Provider) post(body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.callbackURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.secret != "" {
		req.Header.Set(webhook.SignatureHeader, webhook.Sign(p.secret, body))
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("callback status %d", resp.StatusCode)
	}
	return nil
}

var _ providers.Adapter = (*Provider)(nil)
