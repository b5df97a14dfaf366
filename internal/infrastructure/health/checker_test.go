package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/llmlb/llmlb/internal/domain/entity"
	"github.com/llmlb/llmlb/internal/domain/repository"
	"github.com/llmlb/llmlb/internal/infrastructure/eventbus"
	"github.com/llmlb/llmlb/internal/infrastructure/registry"
)

type memEndpointRepo struct {
	byID map[string]*entity.Endpoint
}

func newMemEndpointRepo() *memEndpointRepo {
	return &memEndpointRepo{byID: make(map[string]*entity.Endpoint)}
}

func (m *memEndpointRepo) Create(_ context.Context, e *entity.Endpoint) error {
	m.byID[e.ID] = e
	return nil
}
func (m *memEndpointRepo) Get(_ context.Context, id string) (*entity.Endpoint, error) {
	return m.byID[id], nil
}
func (m *memEndpointRepo) GetByName(_ context.Context, name string) (*entity.Endpoint, error) {
	return nil, nil
}
func (m *memEndpointRepo) List(_ context.Context, _ repository.EndpointFilter) ([]*entity.Endpoint, error) {
	out := make([]*entity.Endpoint, 0, len(m.byID))
	for _, e := range m.byID {
		out = append(out, e)
	}
	return out, nil
}
func (m *memEndpointRepo) Update(_ context.Context, e *entity.Endpoint) error {
	m.byID[e.ID] = e
	return nil
}
func (m *memEndpointRepo) Delete(_ context.Context, id string) error { delete(m.byID, id); return nil }
func (m *memEndpointRepo) UpsertModels(context.Context, string, []*entity.EndpointModel) error {
	return nil
}
func (m *memEndpointRepo) ModelsForEndpoint(context.Context, string) ([]*entity.EndpointModel, error) {
	return nil, nil
}
func (m *memEndpointRepo) EndpointsForModel(context.Context, string) ([]string, error) {
	return nil, nil
}

func newCheckerWithEndpoint(t *testing.T, baseURL string) (*Checker, *registry.Registry, *entity.Endpoint) {
	t.Helper()
	reg := registry.New(newMemEndpointRepo(), eventbus.New(zap.NewNop()), zap.NewNop())
	e, err := reg.Create(context.Background(), "probe-target", baseURL, "", nil, nil)
	if err != nil {
		t.Fatalf("create endpoint: %v", err)
	}
	checker := New(reg, zap.NewNop())
	return checker, reg, e
}

func TestProbeSuccessMovesPendingToOnline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	checker, reg, e := newCheckerWithEndpoint(t, srv.URL)
	checker.probeAndUpdate(context.Background(), e.ID)

	got, err := reg.Get(e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != entity.EndpointStatusOnline {
		t.Fatalf("expected online after a successful probe, got %s", got.Status)
	}
	if got.LatencyMs == nil {
		t.Fatal("expected latency to be recorded")
	}
}

func TestProbeAuthFailureMovesToError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	checker, reg, e := newCheckerWithEndpoint(t, srv.URL)
	checker.probeAndUpdate(context.Background(), e.ID)

	got, _ := reg.Get(e.ID)
	if got.Status != entity.EndpointStatusError {
		t.Fatalf("expected error status on auth failure, got %s", got.Status)
	}
	if got.ErrorCount != 1 {
		t.Fatalf("expected error count 1, got %d", got.ErrorCount)
	}
}

func TestProbeTransportFailureMovesToOffline(t *testing.T) {
	checker, reg, e := newCheckerWithEndpoint(t, "http://127.0.0.1:1")
	checker.probeAndUpdate(context.Background(), e.ID)

	got, _ := reg.Get(e.ID)
	if got.Status != entity.EndpointStatusOffline {
		t.Fatalf("expected offline on transport failure, got %s", got.Status)
	}
}

func TestProbeSendsBearerWhenAPIKeySet(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	reg := registry.New(newMemEndpointRepo(), eventbus.New(zap.NewNop()), zap.NewNop())
	e, err := reg.Create(context.Background(), "secured", srv.URL, "probe-secret", nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	checker := New(reg, zap.NewNop())

	endpoint, _ := reg.Get(e.ID)
	if _, _, err := checker.Probe(context.Background(), endpoint); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if gotAuth != "Bearer probe-secret" {
		t.Fatalf("expected bearer header on probe, got %q", gotAuth)
	}
}

func TestProbeUsesXllmHealthPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	reg := registry.New(newMemEndpointRepo(), eventbus.New(zap.NewNop()), zap.NewNop())
	hint := entity.EndpointTypeXllm
	e, err := reg.Create(context.Background(), "xllm", srv.URL, "", &hint, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	checker := New(reg, zap.NewNop())

	endpoint, _ := reg.Get(e.ID)
	if _, _, err := checker.Probe(context.Background(), endpoint); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if gotPath != "/api/health" {
		t.Fatalf("expected xLLM health path /api/health, got %s", gotPath)
	}
}

func TestStartupScanProbesEveryEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	reg := registry.New(newMemEndpointRepo(), eventbus.New(zap.NewNop()), zap.NewNop())
	for _, name := range []string{"a", "b", "c"} {
		if _, err := reg.Create(context.Background(), name, srv.URL, "", nil, nil); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	checker := New(reg, zap.NewNop())

	if err := checker.StartupScan(context.Background()); err != nil {
		t.Fatalf("startup scan: %v", err)
	}
	for _, e := range reg.List() {
		if e.Status != entity.EndpointStatusOnline {
			t.Fatalf("endpoint %s not online after startup scan: %s", e.Name, e.Status)
		}
	}
}
