// Package gate implements the Inference Gate (spec.md §4.6): a
// process-wide admission counter that rejects new inference requests
// while the server is draining for a self-update, and tracks in-flight
// count so the update manager knows when a drain has finished.
package gate

import (
	"sync"

	"github.com/llmlb/llmlb/pkg/apperr"
)

// Gate is one of the three explicit global singletons spec.md §9
// permits (alongside the event bus and the lockfile).
type Gate struct {
	mu        sync.Mutex
	rejecting bool
	inFlight  int
}

// New constructs an open Gate.
func New() *Gate { return &Gate{} }

// Guard is held by one admitted request. Release must be called exactly
// once, typically via defer, giving RAII-like guaranteed release even
// on panic recovery further up the call stack.
type Guard struct {
	gate *Gate
}

// Release decrements the in-flight count. Safe to call from a deferred
// statement.
func (g *Guard) Release() {
	g.gate.mu.Lock()
	defer g.gate.mu.Unlock()
	g.gate.inFlight--
}

// Admit attempts to admit a new request. It returns
// apperr.ServiceUnavailable with Retry-After: 30 if the gate is
// currently rejecting (spec.md §8: "post-start_rejecting all /v1/*
// POST -> 503 + Retry-After: 30").
func (g *Gate) Admit() (*Guard, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.rejecting {
		return nil, &apperr.AppError{
			Code:              apperr.CodeServiceUnavailable,
			Message:           "server is draining for an update",
			External:          "Service draining",
			RetryAfterSeconds: 30,
		}
	}
	g.inFlight++
	return &Guard{gate: g}, nil
}

// StartRejecting flips the gate closed; already-admitted requests are
// unaffected and continue running to completion.
func (g *Gate) StartRejecting() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rejecting = true
}

// StopRejecting reopens the gate, e.g. after an update attempt fails
// and rolls back.
func (g *Gate) StopRejecting() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rejecting = false
}

// Rejecting reports whether the gate is currently closed.
func (g *Gate) Rejecting() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rejecting
}

// InFlight reports the current number of admitted, unreleased requests.
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}
