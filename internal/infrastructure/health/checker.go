// Package health implements the Health Checker (spec.md §4.3): one
// ticking probe loop per endpoint, a parallel startup scan, and the
// status FSM transition rules. The per-endpoint loop is grounded on the
// teacher's heartbeat ticker/cancel pattern, generalized from a single
// global timer to one loop per registered endpoint.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/llmlb/llmlb/internal/domain/entity"
	"github.com/llmlb/llmlb/internal/infrastructure/registry"
)

// maxProbeDeadline bounds every probe regardless of the endpoint's
// configured interval (spec.md §5: "health probe deadline ≤
// min(interval, 10s)").
const maxProbeDeadline = 10 * time.Second

// Checker runs the per-endpoint health probe loops and satisfies
// registry.Prober for the synchronous "test" operation.
type Checker struct {
	reg    *registry.Registry
	client *http.Client
	logger *zap.Logger

	mu        sync.Mutex
	cancels   map[string]context.CancelFunc
	breakers  map[string]*gobreaker.CircuitBreaker
}

// New constructs a Checker bound to reg. Call reg.SetProber(checker)
// after construction to wire the synchronous test path in.
func New(reg *registry.Registry, logger *zap.Logger) *Checker {
	return &Checker{
		reg:      reg,
		client:   &http.Client{},
		logger:   logger,
		cancels:  make(map[string]context.CancelFunc),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// StartupScan probes every currently registered endpoint in parallel
// and blocks until all probes complete, so the registry reflects real
// status before the server starts accepting traffic (spec.md §4.3).
func (c *Checker) StartupScan(ctx context.Context) error {
	endpoints := c.reg.List()
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range endpoints {
		e := e
		g.Go(func() error {
			c.probeAndUpdate(gctx, e.ID)
			return nil
		})
	}
	return g.Wait()
}

// StartAll begins one ticking probe loop per currently registered
// endpoint. Endpoints registered afterward must call StartFor
// individually (the HTTP create handler does this).
func (c *Checker) StartAll(ctx context.Context) {
	for _, e := range c.reg.List() {
		c.StartFor(ctx, e.ID)
	}
}

// StartFor begins the probe loop for a single endpoint, keyed so a
// second call is a no-op until StopFor is called.
func (c *Checker) StartFor(ctx context.Context, endpointID string) {
	c.mu.Lock()
	if _, running := c.cancels[endpointID]; running {
		c.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancels[endpointID] = cancel
	c.breakers[endpointID] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        endpointID,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	c.mu.Unlock()

	go c.loop(loopCtx, endpointID)
}

// StopFor cancels the probe loop for an endpoint, used when an endpoint
// is deleted.
func (c *Checker) StopFor(endpointID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.cancels[endpointID]; ok {
		cancel()
		delete(c.cancels, endpointID)
		delete(c.breakers, endpointID)
	}
}

func (c *Checker) loop(ctx context.Context, endpointID string) {
	e, err := c.reg.Get(endpointID)
	if err != nil {
		return
	}
	interval := time.Duration(e.HealthCheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.probeAndUpdate(ctx, endpointID)
		}
	}
}

func (c *Checker) probeAndUpdate(ctx context.Context, endpointID string) {
	e, err := c.reg.Get(endpointID)
	if err != nil {
		return
	}

	latency, isAuthOrMalformed, probeErr := c.Probe(ctx, e)
	_, updErr := c.reg.Update(ctx, endpointID, func(target *entity.Endpoint) error {
		now := time.Now().UTC()
		if probeErr != nil {
			target.RecordProbeFailure(probeErr.Error(), isAuthOrMalformed, now)
		} else {
			target.RecordProbeSuccess(latency, now)
		}
		return nil
	})
	if updErr != nil {
		c.logger.Warn("failed to persist health probe result", zap.String("endpoint_id", endpointID), zap.Error(updErr))
	}
}

// Probe performs a single synchronous probe, satisfying
// registry.Prober. xLLM backends are probed via /api/health; every
// other backend type is probed via /v1/models (spec.md §4.3).
func (c *Checker) Probe(ctx context.Context, e *entity.Endpoint) (time.Duration, bool, error) {
	deadline := time.Duration(e.HealthCheckIntervalSecs) * time.Second
	if deadline <= 0 || deadline > maxProbeDeadline {
		deadline = maxProbeDeadline
	}
	probeCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	path := "/v1/models"
	if e.EndpointType == entity.EndpointTypeXllm {
		path = "/api/health"
	}

	c.mu.Lock()
	breaker := c.breakers[e.ID]
	c.mu.Unlock()

	start := time.Now()
	run := func() (any, error) {
		req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, e.BaseURL+path, nil)
		if err != nil {
			return nil, err
		}
		if e.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+e.APIKey)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, authError{status: resp.StatusCode}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, transportError{status: resp.StatusCode}
		}
		return nil, nil
	}

	var probeErr error
	if breaker != nil {
		_, probeErr = breaker.Execute(run)
	} else {
		_, probeErr = run()
	}
	latency := time.Since(start)

	if probeErr == nil {
		return latency, false, nil
	}
	if _, ok := probeErr.(authError); ok {
		return 0, true, probeErr
	}
	return 0, false, probeErr
}

type authError struct{ status int }

func (e authError) Error() string {
	return http.StatusText(e.status)
}

type transportError struct{ status int }

func (e transportError) Error() string {
	return "unexpected status: " + http.StatusText(e.status)
}
