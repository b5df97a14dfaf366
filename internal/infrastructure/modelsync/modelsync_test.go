package modelsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/llmlb/llmlb/internal/domain/entity"
)

func TestSyncOllamaMapsTagDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"models":[{"name":"llama3:8b","size":4661224676,"details":{"family":"llama","parameter_size":"8B","quantization_level":"Q4_0"}}]}`))
	}))
	defer srv.Close()

	s := New()
	e := &entity.Endpoint{ID: "e1", BaseURL: srv.URL, EndpointType: entity.EndpointTypeOllama}

	models, err := s.SyncModels(context.Background(), e)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(models) != 1 {
		t.Fatalf("expected 1 model, got %d", len(models))
	}
	m := models[0]
	if m.ModelID != "llama3:8b" || m.Family != "llama" || m.Quantization != "Q4_0" || m.ParameterSize != "8B" {
		t.Fatalf("unexpected mapping: %+v", m)
	}
	if m.SizeBytes == nil || *m.SizeBytes != 4661224676 {
		t.Fatalf("expected size mapped, got %v", m.SizeBytes)
	}
}

func TestSyncOpenAICompatibleReadsSupportedAPIs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"data":[{"id":"gpt-oss:20b","supported_apis":["chat_completions","responses"]},{"id":"embed-small","supported_apis":["embeddings"]}]}`))
	}))
	defer srv.Close()

	s := New()
	e := &entity.Endpoint{ID: "e1", BaseURL: srv.URL, EndpointType: entity.EndpointTypeOpenaiCompatible}

	models, err := s.SyncModels(context.Background(), e)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	if !models[0].SupportsResponsesAPI {
		t.Fatal("a model advertising \"responses\" must be marked as supporting the Responses API")
	}
	if models[1].SupportsResponsesAPI {
		t.Fatal("a model not advertising \"responses\" must not be marked")
	}
}

func TestSyncSendsBearerWhenAPIKeySet(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	s := New()
	e := &entity.Endpoint{ID: "e1", BaseURL: srv.URL, APIKey: "sync-secret", EndpointType: entity.EndpointTypeVllm}

	if _, err := s.SyncModels(context.Background(), e); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if gotAuth != "Bearer sync-secret" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
}

func TestSyncUnreachableBackendReturnsBadGateway(t *testing.T) {
	s := New()
	e := &entity.Endpoint{ID: "e1", BaseURL: "http://127.0.0.1:1", EndpointType: entity.EndpointTypeOpenaiCompatible}

	if _, err := s.SyncModels(context.Background(), e); err == nil {
		t.Fatal("expected an error for an unreachable backend")
	}
}
