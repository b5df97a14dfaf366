package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/llmlb/llmlb/internal/domain/entity"
	"github.com/llmlb/llmlb/internal/domain/repository"
	"github.com/llmlb/llmlb/internal/domain/valueobject"
	"github.com/llmlb/llmlb/internal/infrastructure/eventbus"
	"github.com/llmlb/llmlb/internal/infrastructure/gate"
	"github.com/llmlb/llmlb/internal/infrastructure/history"
	"github.com/llmlb/llmlb/internal/infrastructure/proxy"
	"github.com/llmlb/llmlb/internal/infrastructure/registry"
	"github.com/llmlb/llmlb/internal/infrastructure/routing"
)

// memEndpointRepo backs the registry for handler-level tests, including
// the model association table the selector queries.
type memEndpointRepo struct {
	mu     sync.Mutex
	byID   map[string]*entity.Endpoint
	models map[string][]*entity.EndpointModel
}

func newMemEndpointRepo() *memEndpointRepo {
	return &memEndpointRepo{
		byID:   make(map[string]*entity.Endpoint),
		models: make(map[string][]*entity.EndpointModel),
	}
}

func (m *memEndpointRepo) Create(_ context.Context, e *entity.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[e.ID] = e
	return nil
}
func (m *memEndpointRepo) Get(_ context.Context, id string) (*entity.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id], nil
}
func (m *memEndpointRepo) GetByName(_ context.Context, name string) (*entity.Endpoint, error) {
	return nil, nil
}
func (m *memEndpointRepo) List(_ context.Context, _ repository.EndpointFilter) ([]*entity.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entity.Endpoint, 0, len(m.byID))
	for _, e := range m.byID {
		out = append(out, e)
	}
	return out, nil
}
func (m *memEndpointRepo) Update(_ context.Context, e *entity.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[e.ID] = e
	return nil
}
func (m *memEndpointRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	delete(m.models, id)
	return nil
}
func (m *memEndpointRepo) UpsertModels(_ context.Context, endpointID string, models []*entity.EndpointModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models[endpointID] = models
	return nil
}
func (m *memEndpointRepo) ModelsForEndpoint(_ context.Context, endpointID string) ([]*entity.EndpointModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.models[endpointID], nil
}
func (m *memEndpointRepo) EndpointsForModel(_ context.Context, modelID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for endpointID, models := range m.models {
		for _, mdl := range models {
			if mdl.ModelID == modelID || strings.HasPrefix(mdl.ModelID, modelID+":") {
				ids = append(ids, endpointID)
				break
			}
		}
	}
	return ids, nil
}

type memHistoryRepo struct {
	mu    sync.Mutex
	saved []*entity.RequestRecord
}

func (m *memHistoryRepo) Save(_ context.Context, rec *entity.RequestRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, rec)
	return nil
}
func (m *memHistoryRepo) Get(context.Context, string) (*entity.RequestRecord, error) {
	return nil, nil
}
func (m *memHistoryRepo) List(context.Context, int, int) ([]*entity.RequestRecord, error) {
	return nil, nil
}
func (m *memHistoryRepo) ListByClientIP(context.Context, string, int) ([]*entity.RequestRecord, error) {
	return nil, nil
}

func (m *memHistoryRepo) last() *entity.RequestRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return nil
	}
	return m.saved[len(m.saved)-1]
}

// harness wires a real gate/registry/selector/proxy/recorder stack behind
// a gin router, with auth disabled, mirroring app.New's wiring minus
// persistence and background loops.
type harness struct {
	router   *gin.Engine
	reg      *registry.Registry
	repo     *memEndpointRepo
	gate     *gate.Gate
	recorder *history.Recorder
	history  *memHistoryRepo
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	bus := eventbus.New(logger)
	repo := newMemEndpointRepo()
	reg := registry.New(repo, bus, logger)
	g := gate.New()
	historyRepo := &memHistoryRepo{}
	recorder := history.New(historyRepo, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	recorder.Start(ctx)

	h := NewInference(g, routing.New(reg), proxy.New(reg, logger), recorder, logger)

	router := gin.New()
	router.POST("/v1/chat/completions", h.ChatCompletions)
	router.POST("/v1/completions", h.Completions)
	router.POST("/v1/embeddings", h.Embeddings)
	router.POST("/v1/responses", h.Responses)

	return &harness{router: router, reg: reg, repo: repo, gate: g, recorder: recorder, history: historyRepo}
}

// registerOnline registers an endpoint hosting the given models, marked
// Online with the given latency, the state a health probe would leave it
// in.
func (h *harness) registerOnline(t *testing.T, name, baseURL string, latencyMs int64, models []string, responsesAPI bool) *entity.Endpoint {
	t.Helper()
	ctx := context.Background()

	e, err := h.reg.Create(ctx, name, baseURL, "", nil, nil)
	require.NoError(t, err)

	rows := make([]*entity.EndpointModel, 0, len(models))
	now := time.Now().UTC()
	for _, m := range models {
		rows = append(rows, &entity.EndpointModel{
			EndpointID:           e.ID,
			ModelID:              m,
			Capabilities:         valueobject.CapabilitySet{valueobject.CapabilityChatCompletion: true, valueobject.CapabilityEmbeddings: true},
			SupportsResponsesAPI: responsesAPI,
			LastSyncedAt:         now,
		})
	}
	require.NoError(t, h.repo.UpsertModels(ctx, e.ID, rows))

	updated, err := h.reg.Update(ctx, e.ID, func(target *entity.Endpoint) error {
		target.RecordProbeSuccess(time.Duration(latencyMs)*time.Millisecond, now)
		target.Capabilities = valueobject.CapabilitySet{valueobject.CapabilityChatCompletion: true, valueobject.CapabilityEmbeddings: true}
		target.SupportsResponsesAPI = responsesAPI
		return nil
	})
	require.NoError(t, err)
	return updated
}

func (h *harness) post(path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func TestHappyPathRoutingReturnsStubBodyExactly(t *testing.T) {
	const stubReply = `{"id":"chatcmpl-1","object":"chat.completion","choices":[{"message":{"role":"assistant","content":"pong"}}]}`
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/models":
			w.Write([]byte(`{"data":[{"id":"gpt-oss:20b"}]}`))
		case r.URL.Path == "/v1/chat/completions" && r.Method == http.MethodPost:
			w.Write([]byte(stubReply))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer stub.Close()

	h := newHarness(t)
	h.registerOnline(t, "N1", stub.URL, 15, []string{"gpt-oss:20b"}, false)

	rec := h.post("/v1/chat/completions", `{"model":"gpt-oss:20b","messages":[{"role":"user","content":"ping"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, stubReply, rec.Body.String(), "the response must be the stub's body bit-exact")
}

func TestNoCapableEndpointReturns503WithRetryAfter(t *testing.T) {
	h := newHarness(t)

	rec := h.post("/v1/chat/completions", `{"model":"gpt-oss:20b","messages":[]}`)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"Service unavailable"}`, rec.Body.String())
}

func TestDrainingRejectsNewRequestsWhileInFlightComplete(t *testing.T) {
	h := newHarness(t)

	first, err := h.gate.Admit()
	require.NoError(t, err)
	second, err := h.gate.Admit()
	require.NoError(t, err)
	require.Equal(t, 2, h.gate.InFlight())

	h.gate.StartRejecting()

	rec := h.post("/v1/completions", `{"model":"m1","prompt":"hello"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"Service draining"}`, rec.Body.String())

	first.Release()
	second.Release()
	assert.Equal(t, 0, h.gate.InFlight())
}

func TestLatencyOrderedSelectionNeverRoundRobins(t *testing.T) {
	var slowHits, fastHits int
	var mu sync.Mutex
	handler := func(hits *int) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			*hits++
			mu.Unlock()
			w.Write([]byte(`{"choices":[]}`))
		}
	}
	slow := httptest.NewServer(handler(&slowHits))
	defer slow.Close()
	fast := httptest.NewServer(handler(&fastHits))
	defer fast.Close()

	h := newHarness(t)
	h.registerOnline(t, "slow", slow.URL, 100, []string{"m1"}, false)
	h.registerOnline(t, "fast", fast.URL, 20, []string{"m1"}, false)

	for i := 0; i < 10; i++ {
		rec := h.post("/v1/chat/completions", `{"model":"m1","messages":[]}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 10, fastHits, "every request must go to the lowest-latency endpoint")
	assert.Equal(t, 0, slowHits)
}

func TestResponsesAPIWithoutSupportReturns501Envelope(t *testing.T) {
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":"gpt-oss:20b","supported_apis":["chat_completions"]}]}`))
	}))
	defer stub.Close()

	h := newHarness(t)
	h.registerOnline(t, "N1", stub.URL, 10, []string{"gpt-oss:20b"}, false)

	rec := h.post("/v1/responses", `{"model":"gpt-oss:20b","input":"hi"}`)

	require.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"server_error"`)
	assert.Contains(t, rec.Body.String(), `"code":501`)
}

func TestHistorySanitizationRedactsInlineMedia(t *testing.T) {
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer stub.Close()

	h := newHarness(t)
	h.registerOnline(t, "N1", stub.URL, 10, []string{"gpt-4-vision"}, false)

	payload := strings.Repeat("AAAA", 30)
	body := `{"model":"gpt-4-vision","messages":[{"role":"user","content":[{"type":"image_url","image_url":{"url":"data:image/png;base64,` + payload + `"}}]}]}`

	rec := h.post("/v1/chat/completions", body)
	require.Equal(t, http.StatusOK, rec.Code)

	deadline := time.Now().Add(2 * time.Second)
	var last *entity.RequestRecord
	for time.Now().Before(deadline) {
		if last = h.history.last(); last != nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NotNil(t, last, "expected a history record within 2s")
	assert.NotContains(t, last.RequestBody, "AAAA")
	assert.Contains(t, last.RequestBody, "<redacted:media>")
}

func TestFailedSelectionStillWritesHistoryRecord(t *testing.T) {
	h := newHarness(t)

	rec := h.post("/v1/embeddings", `{"model":"missing-model","input":"x"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	deadline := time.Now().Add(2 * time.Second)
	var last *entity.RequestRecord
	for time.Now().Before(deadline) {
		if last = h.history.last(); last != nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NotNil(t, last, "attempts that never reach a backend must still be recorded")
	assert.False(t, last.Outcome.Success)
	assert.Equal(t, "missing-model", last.Model)
	assert.Empty(t, last.EndpointID)
}
