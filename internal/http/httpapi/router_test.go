package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genstudio/internal/domain"
	"genstudio/internal/generations"
	"genstudio/internal/http/handlers"
	"genstudio/internal/http/httpapi"
	"genstudio/internal/infra"
	"genstudio/internal/middleware"
	"genstudio/internal/providers"
	"genstudio/internal/providers/synthetic"
	"genstudio/internal/storage"
	"genstudio/internal/testutil"
	"genstudio/internal/webhook"
	"genstudio/internal/worker"
)

const (
	jwtSecret     = "jwt-secret"
	workerSecret  = "worker-secret"
	webhookSecret = "webhook-secret"
	staticBase    = "http://files.test/static"
)

type api struct {
	t      *testing.T
	store  domain.Transactor
	router http.Handler
}

func newAPI(t *testing.T, balance int64) *api {
	t.Helper()
	logger := infra.DiscardLogger()
	store := testutil.NewStore(t)
	if balance > 0 {
		_, err := store.Repositories().Credits.Grant(context.Background(), "ws-1", balance, "")
		require.NoError(t, err)
	}
	files, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	registry := providers.NewRegistry(synthetic.New(synthetic.Options{}))
	processor := worker.NewProcessor(store, registry, worker.Config{HeartbeatInterval: time.Hour}, logger,
		worker.WithArtifacts(storage.NewArtifacts(files, staticBase)))
	reclaimer := worker.NewReclaimer(store, 2*time.Minute, logger)

	app := &handlers.App{
		Generations:    generations.NewService(store, logger),
		Webhooks:       webhook.NewIngestor(store, logger),
		Runner:         worker.NewRunner(processor, reclaimer, 20*time.Millisecond, logger),
		Reclaimer:      reclaimer,
		WebhookSecret:  webhookSecret,
		TickBudget:     5 * time.Second,
		StreamInterval: 20 * time.Millisecond,
		Logger:         logger,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:    jwtSecret,
		WorkerSecret: workerSecret,
		CORSOrigins:  []string{"http://localhost:3000"},
		Static:       files.Handler(),
		Logger:       logger,
	})
	return &api{t: t, store: store, router: router}
}

func token(t *testing.T, ws string) string {
	t.Helper()
	tok, err := middleware.SignWorkspaceToken(jwtSecret, ws, time.Hour)
	require.NoError(t, err)
	return tok
}

func (a *api) do(method, path, ws string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	switch {
	case strings.HasPrefix(path, "/internal/"):
		req.Header.Set("X-Worker-Secret", workerSecret)
	case ws != "":
		req.Header.Set("Authorization", "Bearer "+token(a.t, ws))
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

type generationBody struct {
	ID         string  `json:"id"`
	Status     string  `json:"status"`
	PreviewURL *string `json:"preview_url"`
	OutputURL  *string `json:"output_url"`
}

type errorEnvelope struct {
	Error struct {
		Code      string `json:"code"`
		Required  *int64 `json:"required"`
		Available *int64 `json:"available"`
	} `json:"error"`
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func (a *api) create(typ string) generationBody {
	a.t.Helper()
	rr := a.do(http.MethodPost, "/v1/generations", "ws-1", map[string]string{"type": typ, "prompt": "a lighthouse at dusk"})
	require.Equal(a.t, http.StatusAccepted, rr.Code, rr.Body.String())
	return decode[generationBody](a.t, rr)
}

func (a *api) balance() int64 {
	a.t.Helper()
	rr := a.do(http.MethodGet, "/v1/credits", "ws-1", nil)
	require.Equal(a.t, http.StatusOK, rr.Code)
	return decode[struct {
		Balance int64 `json:"balance"`
	}](a.t, rr).Balance
}

func TestHealthz(t *testing.T) {
	a := newAPI(t, 0)
	rr := a.do(http.MethodGet, "/v1/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(middleware.RequestIDHeader))
}

func TestOpenAPIDocument(t *testing.T) {
	a := newAPI(t, 0)
	rr := a.do(http.MethodGet, "/v1/openapi.json", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	doc := decode[struct {
		Paths      map[string]any `json:"paths"`
		Components struct {
			Schemas struct {
				WebhookEvent struct {
					Properties map[string]any `json:"properties"`
				} `json:"WebhookEvent"`
			} `json:"schemas"`
		} `json:"components"`
	}](t, rr)
	assert.Contains(t, doc.Paths, "/v1/generations")
	var eventFields []string
	for k := range doc.Components.Schemas.WebhookEvent.Properties {
		eventFields = append(eventFields, k)
	}
	assert.ElementsMatch(t, []string{"event_id", "type", "external_job_id", "error", "output_url"}, eventFields)
	etag := rr.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/v1/openapi.json", nil)
	req.Header.Set("If-None-Match", etag)
	cached := httptest.NewRecorder()
	a.router.ServeHTTP(cached, req)
	assert.Equal(t, http.StatusNotModified, cached.Code)

	docs := a.do(http.MethodGet, "/v1/docs", "", nil)
	assert.Equal(t, http.StatusOK, docs.Code)
	assert.Contains(t, docs.Body.String(), "<title>Generation API</title>")
}

func TestCreateReservesPreviewCost(t *testing.T) {
	a := newAPI(t, 100)
	g := a.create("video")
	assert.Equal(t, "queued", g.Status)
	assert.Equal(t, int64(40), a.balance())

	rr := a.do(http.MethodGet, "/v1/credits/transactions", "ws-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	history := decode[struct {
		Items []struct {
			Reason string `json:"reason"`
			Delta  int64  `json:"delta"`
		} `json:"items"`
	}](t, rr)
	require.Len(t, history.Items, 2)
	reasons := map[string]int64{}
	for _, it := range history.Items {
		reasons[it.Reason] = it.Delta
	}
	assert.Equal(t, map[string]int64{"grant": 100, "preview_reserve": -60}, reasons)
}

func TestCreateErrors(t *testing.T) {
	a := newAPI(t, 30)

	rr := a.do(http.MethodPost, "/v1/generations", "ws-1", map[string]string{"type": "video", "prompt": "sea"})
	require.Equal(t, http.StatusPaymentRequired, rr.Code)
	body := decode[errorEnvelope](t, rr)
	assert.Equal(t, "insufficient_credits", body.Error.Code)
	require.NotNil(t, body.Error.Required)
	assert.Equal(t, int64(60), *body.Error.Required)
	assert.Equal(t, int64(30), *body.Error.Available)

	rr = a.do(http.MethodPost, "/v1/generations", "ws-1", map[string]string{"type": "hologram", "prompt": "sea"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "bad_request", decode[errorEnvelope](t, rr).Error.Code)

	rr = a.do(http.MethodPost, "/v1/generations", "", map[string]string{"type": "video", "prompt": "sea"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, int64(30), a.balance())
}

func TestWorkspaceScoping(t *testing.T) {
	a := newAPI(t, 100)
	g := a.create("image")

	rr := a.do(http.MethodGet, "/v1/generations/"+g.ID, "ws-2", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = a.do(http.MethodPost, "/v1/generations/"+g.ID+"/cancel", "ws-2", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = a.do(http.MethodGet, "/v1/generations?status=queued&type=image,video", "ws-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[struct {
		Items []generationBody `json:"items"`
	}](t, rr)
	require.Len(t, list.Items, 1)
	assert.Equal(t, g.ID, list.Items[0].ID)

	rr = a.do(http.MethodGet, "/v1/generations?limit=abc", "ws-1", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = a.do(http.MethodGet, "/v1/generations?status=sleeping", "ws-1", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCancelAndFinalizeStates(t *testing.T) {
	a := newAPI(t, 100)
	g := a.create("video")

	rr := a.do(http.MethodPost, "/v1/generations/"+g.ID+"/finalize", "ws-1", nil)
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "invalid_state", decode[errorEnvelope](t, rr).Error.Code)

	rr = a.do(http.MethodPost, "/v1/generations/"+g.ID+"/cancel", "ws-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "cancelled", decode[generationBody](t, rr).Status)
	assert.Equal(t, int64(100), a.balance())

	rr = a.do(http.MethodPost, "/v1/generations/"+g.ID+"/cancel", "ws-1", nil)
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "conflict", decode[errorEnvelope](t, rr).Error.Code)
}

func TestWorkerEndpointsDrivePipeline(t *testing.T) {
	a := newAPI(t, 200)
	g := a.create("video")

	req := httptest.NewRequest(http.MethodPost, "/internal/worker/tick", nil)
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = a.do(http.MethodPost, "/internal/worker/tick?budget_seconds=1", "", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	sum := decode[struct {
		Iterations int `json:"iterations"`
		Processed  int `json:"processed"`
	}](t, rr)
	assert.GreaterOrEqual(t, sum.Iterations, 1)
	assert.Equal(t, 1, sum.Processed)

	rr = a.do(http.MethodGet, "/v1/generations/"+g.ID, "ws-1", nil)
	preview := decode[generationBody](t, rr)
	require.Equal(t, "preview_ready", preview.Status)
	require.NotNil(t, preview.PreviewURL)

	rr = a.do(http.MethodPost, "/v1/generations/"+g.ID+"/finalize", "ws-1", nil)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	assert.Equal(t, "queued_final", decode[generationBody](t, rr).Status)
	assert.Equal(t, int64(20), a.balance())

	rr = a.do(http.MethodPost, "/internal/worker/tick?budget_seconds=1", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = a.do(http.MethodGet, "/v1/generations/"+g.ID, "ws-1", nil)
	final := decode[generationBody](t, rr)
	assert.Equal(t, "final_ready", final.Status)
	require.NotNil(t, final.OutputURL)

	rr = a.do(http.MethodPost, "/internal/worker/tick?budget_seconds=0", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = a.do(http.MethodPost, "/internal/worker/reclaim", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"reclaimed":0}`, rr.Body.String())
}

func TestInlineArtifactIsServedFromStatic(t *testing.T) {
	a := newAPI(t, 100)
	g := a.create("image")

	rr := a.do(http.MethodPost, "/internal/worker/tick?budget_seconds=1", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = a.do(http.MethodGet, "/v1/generations/"+g.ID, "ws-1", nil)
	ready := decode[generationBody](t, rr)
	require.Equal(t, "preview_ready", ready.Status)
	require.NotNil(t, ready.PreviewURL)
	require.True(t, strings.HasPrefix(*ready.PreviewURL, staticBase+"/"), *ready.PreviewURL)

	path := strings.TrimPrefix(*ready.PreviewURL, "http://files.test")
	rr = a.do(http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "<svg")
}

func TestInternalCreateUsesSuppliedCost(t *testing.T) {
	a := newAPI(t, 100)
	rr := a.do(http.MethodPost, "/internal/generations", "", map[string]any{
		"workspace_id": "ws-1",
		"type":         "video",
		"prompt":       "pipeline step",
		"cost":         map[string]int64{"preview": 7, "final": 9},
	})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	assert.Equal(t, int64(93), a.balance())
}

func TestProviderWebhook(t *testing.T) {
	a := newAPI(t, 100)
	g := a.create("video")
	ctx := context.Background()
	repos := a.store.Repositories()
	_, err := repos.Generations.Claim(ctx, domain.ClaimParams{WorkerID: "worker-a", Limit: 1})
	require.NoError(t, err)
	ok, err := repos.Generations.SetExternalJobID(ctx, g.ID, "worker-a", "ext-1", time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	post := func(body []byte, signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/provider", bytes.NewReader(body))
		if signature != "" {
			req.Header.Set(webhook.SignatureHeader, signature)
		}
		rr := httptest.NewRecorder()
		a.router.ServeHTTP(rr, req)
		return rr
	}

	failed := []byte(`{"event_id":"evt-1","type":"failed","external_job_id":"ext-1","error":"nsfw","progress":50}`)
	assert.Equal(t, http.StatusUnauthorized, post(failed, "").Code)
	assert.Equal(t, http.StatusUnauthorized, post(failed, webhook.Sign("wrong", failed)).Code)

	rr := post(failed, webhook.Sign(webhookSecret, failed))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"received":true,"matched":true,"applied":true,"generation_id":"`+g.ID+`","status":"failed"}`, rr.Body.String())
	assert.Equal(t, int64(100), a.balance())

	rr = post(failed, webhook.Sign(webhookSecret, failed))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"applied":false`)
	assert.Equal(t, int64(100), a.balance(), "duplicate failure must not refund twice")

	unknown := []byte(`{"event_id":"evt-2","type":"completed","external_job_id":"nope"}`)
	rr = post(unknown, webhook.Sign(webhookSecret, unknown))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"matched":false`)

	malformed := []byte(`{"event_id":"evt-3","type":"exploded","external_job_id":"ext-1"}`)
	assert.Equal(t, http.StatusBadRequest, post(malformed, webhook.Sign(webhookSecret, malformed)).Code)
	garbage := []byte(`{not json`)
	assert.Equal(t, http.StatusBadRequest, post(garbage, webhook.Sign(webhookSecret, garbage)).Code)
}

func TestGenerationStream(t *testing.T) {
	a := newAPI(t, 100)
	g := a.create("video")
	srv := httptest.NewServer(a.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/generations/" + g.ID + "/stream?access_token=" + token(t, "ws-1")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg struct {
		Type       string         `json:"type"`
		Generation generationBody `json:"generation"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "generation", msg.Type)
	assert.Equal(t, "queued", msg.Generation.Status)

	rr := a.do(http.MethodPost, "/v1/generations/"+g.ID+"/cancel", "ws-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "cancelled", msg.Generation.Status)

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)

	_, resp, err := websocket.DefaultDialer.Dial(url+"x", nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}
