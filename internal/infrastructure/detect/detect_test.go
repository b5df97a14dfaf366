package detect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/llmlb/llmlb/internal/domain/entity"
)

func TestDetector_Detect_PrefersXllmOverGenericModelsEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/system":
			w.Write([]byte(`{"status":"ok","xllm_version":"1.2.3"}`))
		case "/v1/models":
			w.Write([]byte(`{"data":[]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	d := New()
	result, err := d.Detect(context.Background(), srv.URL, "")
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if result.Type != entity.EndpointTypeXllm {
		t.Fatalf("expected xllm, got %s", result.Type)
	}
}

func TestDetector_Detect_FallsBackToOpenaiCompatible(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/models" {
			w.Write([]byte(`{"data":[{"id":"gpt-x"}]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := New()
	result, err := d.Detect(context.Background(), srv.URL, "")
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if result.Type != entity.EndpointTypeOpenaiCompatible {
		t.Fatalf("expected openai_compatible, got %s", result.Type)
	}
}

func TestDetector_Detect_PrefersOllamaOverVllmAndOpenaiCompatible(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write([]byte(`{"models":[{"name":"llama3"}]}`))
		case "/v1/models":
			w.Write([]byte(`{"data":[]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	d := New()
	result, err := d.Detect(context.Background(), srv.URL, "")
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if result.Type != entity.EndpointTypeOllama {
		t.Fatalf("expected ollama, got %s", result.Type)
	}
}

func TestDetector_Detect_VllmViaServerHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/models" {
			w.Header().Set("Server", "vLLM/0.6.1")
			w.Write([]byte(`{"data":[{"id":"m","owned_by":"org"}]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := New()
	result, err := d.Detect(context.Background(), srv.URL, "")
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if result.Type != entity.EndpointTypeVllm {
		t.Fatalf("expected vllm, got %s", result.Type)
	}
}

func TestDetector_Detect_VllmViaOwnedBy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/models" {
			w.Write([]byte(`{"data":[{"id":"m","owned_by":"vllm"}]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := New()
	result, err := d.Detect(context.Background(), srv.URL, "")
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if result.Type != entity.EndpointTypeVllm {
		t.Fatalf("expected vllm, got %s", result.Type)
	}
}
