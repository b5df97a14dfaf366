package entity

import (
	"testing"
	"time"
)

func newTestEndpoint(t *testing.T) *Endpoint {
	t.Helper()
	e, err := NewEndpoint("id-1", "N1", "http://stub:8080", "", nil, nil)
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	return e
}

func TestNewEndpointStartsPendingWithDefaults(t *testing.T) {
	e := newTestEndpoint(t)
	if e.Status != EndpointStatusPending {
		t.Fatalf("expected pending, got %s", e.Status)
	}
	if e.HealthCheckIntervalSecs != 30 || e.InferenceTimeoutSecs != 120 {
		t.Fatalf("unexpected defaults: %d/%d", e.HealthCheckIntervalSecs, e.InferenceTimeoutSecs)
	}
}

func TestNewEndpointRejectsBadInput(t *testing.T) {
	if _, err := NewEndpoint("id", "", "http://ok", "", nil, nil); err == nil {
		t.Fatal("expected an error for an empty name")
	}
	for _, bad := range []string{"", "not-a-url", "/relative/path", "host.without.scheme:8080"} {
		if _, err := NewEndpoint("id", "n", bad, "", nil, nil); err == nil {
			t.Fatalf("expected an error for base URL %q", bad)
		}
	}
}

func TestStatusTransitionsFollowProbeOutcomes(t *testing.T) {
	now := time.Now().UTC()

	cases := []struct {
		name  string
		setup func(*Endpoint)
		probe func(*Endpoint)
		want  EndpointStatus
	}{
		{
			name:  "pending to online on first success",
			setup: func(e *Endpoint) {},
			probe: func(e *Endpoint) { e.RecordProbeSuccess(12*time.Millisecond, now) },
			want:  EndpointStatusOnline,
		},
		{
			name:  "pending to offline on first transport failure",
			setup: func(e *Endpoint) {},
			probe: func(e *Endpoint) { e.RecordProbeFailure("connection refused", false, now) },
			want:  EndpointStatusOffline,
		},
		{
			name:  "pending to error on auth failure",
			setup: func(e *Endpoint) {},
			probe: func(e *Endpoint) { e.RecordProbeFailure("unauthorized", true, now) },
			want:  EndpointStatusError,
		},
		{
			name:  "online survives a single failure",
			setup: func(e *Endpoint) { e.RecordProbeSuccess(time.Millisecond, now) },
			probe: func(e *Endpoint) { e.RecordProbeFailure("timeout", false, now) },
			want:  EndpointStatusOnline,
		},
		{
			name: "online to offline on consecutive failures",
			setup: func(e *Endpoint) {
				e.RecordProbeSuccess(time.Millisecond, now)
				e.RecordProbeFailure("timeout", false, now)
			},
			probe: func(e *Endpoint) { e.RecordProbeFailure("timeout", false, now) },
			want:  EndpointStatusOffline,
		},
		{
			name: "offline back to online on recovery",
			setup: func(e *Endpoint) {
				e.RecordProbeFailure("down", false, now)
				e.RecordProbeFailure("down", false, now)
			},
			probe: func(e *Endpoint) { e.RecordProbeSuccess(time.Millisecond, now) },
			want:  EndpointStatusOnline,
		},
		{
			name:  "error recovers to online",
			setup: func(e *Endpoint) { e.RecordProbeFailure("unauthorized", true, now) },
			probe: func(e *Endpoint) { e.RecordProbeSuccess(time.Millisecond, now) },
			want:  EndpointStatusOnline,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEndpoint(t)
			tc.setup(e)
			tc.probe(e)
			if e.Status != tc.want {
				t.Fatalf("want %s, got %s", tc.want, e.Status)
			}
		})
	}
}

func TestErrorCountIncrementsAndResets(t *testing.T) {
	e := newTestEndpoint(t)
	now := time.Now().UTC()

	e.RecordProbeFailure("down", false, now)
	e.RecordProbeFailure("down", false, now)
	e.RecordProbeFailure("down", false, now)
	if e.ErrorCount != 3 {
		t.Fatalf("expected error count 3, got %d", e.ErrorCount)
	}

	e.RecordProbeSuccess(5*time.Millisecond, now)
	if e.ErrorCount != 0 {
		t.Fatalf("expected error count reset on success, got %d", e.ErrorCount)
	}
	if e.LatencyMs == nil || *e.LatencyMs != 5 {
		t.Fatalf("expected latency 5ms recorded, got %v", e.LatencyMs)
	}
}

func TestTransportFailureDoesNotMoveTheFSM(t *testing.T) {
	e := newTestEndpoint(t)
	now := time.Now().UTC()
	e.RecordProbeSuccess(time.Millisecond, now)

	e.RecordTransportFailure("mid-request reset", now)

	if e.Status != EndpointStatusOnline {
		t.Fatalf("a single proxy transport failure must not change status, got %s", e.Status)
	}
	if e.ErrorCount != 1 || e.LastError == "" {
		t.Fatalf("expected failure bookkeeping, got count=%d lastError=%q", e.ErrorCount, e.LastError)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	e := newTestEndpoint(t)
	now := time.Now().UTC()
	e.RecordProbeSuccess(7*time.Millisecond, now)

	clone := e.Clone()
	clone.Name = "changed"
	*clone.LatencyMs = 999
	clone.Capabilities["chat_completion"] = true

	if e.Name == "changed" {
		t.Fatal("clone shares Name with the original")
	}
	if *e.LatencyMs == 999 {
		t.Fatal("clone shares LatencyMs pointer with the original")
	}
	if e.Capabilities != nil && e.Capabilities["chat_completion"] {
		t.Fatal("clone shares the capability set with the original")
	}
}

func TestApplyDetectionSetsDetectedSource(t *testing.T) {
	e := newTestEndpoint(t)
	at := time.Now().UTC()
	e.ApplyDetection(EndpointTypeOllama, "Ollama: /api/tags returned models", at)

	if e.EndpointType != EndpointTypeOllama || e.EndpointTypeSource != EndpointTypeSourceDetected {
		t.Fatalf("unexpected detection state: %s/%s", e.EndpointType, e.EndpointTypeSource)
	}
	if e.EndpointTypeDetectedAt == nil || !e.EndpointTypeDetectedAt.Equal(at) {
		t.Fatal("expected detection timestamp to be recorded")
	}
}
