// Package qwen submits generation jobs to the DashScope asynchronous task API
// and polls them until the task settles.
package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/providers"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("qwen: api key is required")

const (
	videoEndpoint = "/services/aigc/video-generation/video-synthesis"
	imageEndpoint = "/services/aigc/text2image/image-synthesis"
)

// Options configures the DashScope client.
type Options struct {
	APIKey         string
	BaseURL        string
	VideoModel     string
	ImageModel     string
	PromptExtend   bool
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client implements providers.Adapter for DashScope video and image models.
type Client struct {
	apiKey       string
	baseURL      string
	videoModel   string
	imageModel   string
	promptExtend bool
	httpClient   *http.Client
	logger       *infra.Logger
}

type taskRequest struct {
	Model      string     `json:"model"`
	Input      taskInput  `json:"input"`
	Parameters taskParams `json:"parameters"`
}

type taskInput struct {
	Prompt string `json:"prompt"`
}

type taskParams struct {
	Size         string `json:"size,omitempty"`
	N            int    `json:"n,omitempty"`
	PromptExtend *bool  `json:"prompt_extend,omitempty"`
}

type taskResponse struct {
	Output struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
		VideoURL   string `json:"video_url"`
		Results    []struct {
			URL string `json:"url"`
		} `json:"results"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"output"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
	}
	videoModel := strings.TrimSpace(opts.VideoModel)
	if videoModel == "" {
		videoModel = "wan2.1-t2v-turbo"
	}
	imageModel := strings.TrimSpace(opts.ImageModel)
	if imageModel == "" {
		imageModel = "wanx2.1-t2i-turbo"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Client{
		apiKey:       strings.TrimSpace(opts.APIKey),
		baseURL:      baseURL,
		videoModel:   videoModel,
		imageModel:   imageModel,
		promptExtend: opts.PromptExtend,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

func (c *Client) Name() string { return "qwen" }

func (c *Client) PollBased() bool { return true }

// Types lists the generation types this client can serve.
func (c *Client) Types() []domain.GenerationType {
	return []domain.GenerationType{domain.TypeVideo, domain.TypeImage}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Submit creates an asynchronous task. Previews render at a lower resolution
// than final outputs.
func (c *Client) Submit(ctx context.Context, req providers.JobRequest) (string, error) {
	if !c.HasCredentials() {
		return "", ErrMissingAPIKey
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", providers.Rejected("qwen: prompt is required")
	}

	payload := taskRequest{Input: taskInput{Prompt: prompt}}
	var endpoint string
	switch req.Type {
	case domain.TypeVideo:
		endpoint = videoEndpoint
		payload.Model = c.videoModel
		payload.Parameters.Size = "1280*720"
		if req.Phase == domain.PhasePreview {
			payload.Parameters.Size = "832*480"
		}
	case domain.TypeImage:
		endpoint = imageEndpoint
		payload.Model = c.imageModel
		payload.Parameters.N = 1
		payload.Parameters.Size = "1024*1024"
		if req.Phase == domain.PhasePreview {
			payload.Parameters.Size = "512*512"
		}
	default:
		return "", providers.Rejected("qwen: unsupported generation type %s", req.Type)
	}
	if c.promptExtend {
		extend := true
		payload.Parameters.PromptExtend = &extend
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("qwen: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("qwen: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-DashScope-Async", "enable")

	decoded, err := c.do(httpReq)
	if err != nil {
		return "", err
	}
	taskID := strings.TrimSpace(decoded.Output.TaskID)
	if taskID == "" {
		return "", errors.New("qwen: empty task id")
	}
	c.logger.Debug().
		Str("generation_id", req.GenerationID).
		Str("model", payload.Model).
		Str("task_id", taskID).
		Str("request_id", decoded.RequestID).
		Msg("qwen: task submitted")
	return taskID, nil
}

// Poll fetches the task and normalizes its status.
func (c *Client) Poll(ctx context.Context, externalJobID string) (*providers.JobStatus, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tasks/"+externalJobID, nil)
	if err != nil {
		return nil, fmt.Errorf("qwen: build request: %w", err)
	}
	decoded, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	out := decoded.Output
	switch strings.ToUpper(out.TaskStatus) {
	case "PENDING":
		return &providers.JobStatus{State: providers.JobPending}, nil
	case "RUNNING":
		return &providers.JobStatus{State: providers.JobRunning, Progress: 50}, nil
	case "SUCCEEDED":
		url := strings.TrimSpace(out.VideoURL)
		if url == "" && len(out.Results) > 0 {
			url = strings.TrimSpace(out.Results[0].URL)
		}
		if url == "" {
			return &providers.JobStatus{State: providers.JobFailed, Error: "qwen: task succeeded without output"}, nil
		}
		return &providers.JobStatus{State: providers.JobSucceeded, Progress: 100, OutputURL: url}, nil
	case "FAILED", "CANCELED":
		msg := strings.TrimSpace(out.Message)
		if msg == "" {
			msg = "qwen: task " + strings.ToLower(out.TaskStatus)
		}
		if out.Code != "" {
			msg = fmt.Sprintf("%s (%s)", msg, out.Code)
		}
		return &providers.JobStatus{State: providers.JobFailed, Error: msg}, nil
	case "UNKNOWN":
		return nil, providers.Rejected("qwen: task %s is unknown or expired", externalJobID)
	}
	return nil, fmt.Errorf("qwen: unexpected task status %q", out.TaskStatus)
}

func (c *Client) do(req *http.Request) (*taskResponse, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qwen: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("qwen: read response: %w", err)
	}

	var decoded taskResponse
	decodeErr := json.Unmarshal(raw, &decoded)
	if resp.StatusCode >= 300 {
		detail := strings.TrimSpace(string(raw))
		if decodeErr == nil && decoded.Message != "" {
			detail = fmt.Sprintf("%s (%s)", decoded.Message, decoded.Code)
		}
		// 4xx other than throttling means the request itself is bad.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, providers.Rejected("qwen: status %d: %s", resp.StatusCode, detail)
		}
		return nil, fmt.Errorf("qwen: status %d: %s", resp.StatusCode, detail)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("qwen: decode response: %w", decodeErr)
	}
	if decoded.Code != "" {
		return nil, providers.Rejected("qwen: %s (%s)", decoded.Message, decoded.Code)
	}
	return &decoded, nil
}

var _ providers.Adapter = (*Client)(nil)
