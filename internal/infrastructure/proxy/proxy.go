// Package proxy implements the Proxy Engine (spec.md §4.5): forwarding
// an inference request to a selected endpoint byte-exact, both the
// request body and the response body (streaming or not). It never
// re-parses or re-emits SSE frames — grounded on the passThrough /
// handleStreaming shape from the ctrlai reference proxy, not on this
// module's own earlier SSE re-emitting code, which re-parses events and
// is the wrong shape for a pure reverse proxy.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/llmlb/llmlb/internal/domain/entity"
	"github.com/llmlb/llmlb/internal/infrastructure/registry"
	"github.com/llmlb/llmlb/pkg/apperr"
)

// captureLimit bounds how much of the response body is retained for
// the history recorder; the client always receives the full body
// regardless of this limit.
const captureLimit = 256 * 1024

var tracer = otel.Tracer("github.com/llmlb/llmlb/internal/infrastructure/proxy")

// ErrClientGone is returned when the client disconnected mid-forward. The
// handler cancels silently instead of writing an error body (spec.md §4.5:
// "unless the client has disconnected, then cancel silently").
var ErrClientGone = errors.New("proxy: client disconnected")

// upstreamAuthoritativeHeaders are stripped from the client request before
// forwarding: the balancer, not the caller, decides what credentials and
// routing metadata the backend sees.
var upstreamAuthoritativeHeaders = []string{
	"Authorization",
	"X-Api-Key",
	"Host",
	"Connection",
	"Content-Length",
	"Transfer-Encoding",
}

// Proxy forwards admitted requests to a chosen endpoint.
type Proxy struct {
	client *http.Client
	reg    *registry.Registry
	logger *zap.Logger
}

// New constructs a Proxy.
func New(reg *registry.Registry, logger *zap.Logger) *Proxy {
	return &Proxy{
		client: &http.Client{},
		reg:    reg,
		logger: logger,
	}
}

// Result describes a completed forward, used by the caller to build a
// history record.
type Result struct {
	StatusCode      int
	DurationMs      int64
	CapturedRequest []byte
	CapturedResponse []byte
}

// Forward sends requestBody to endpoint's path and copies the upstream
// response to w byte-for-byte, flushing after every chunk so SSE
// streams reach the client without added buffering delay. endpoint's
// InferenceTimeoutSecs bounds the whole call.
func (p *Proxy) Forward(ctx context.Context, w http.ResponseWriter, method, path string, header http.Header, requestBody []byte, e *entity.Endpoint) (Result, error) {
	ctx, span := tracer.Start(ctx, "proxy.Forward", trace.WithAttributes(
		attribute.String("endpoint.id", e.ID),
		attribute.String("endpoint.type", string(e.EndpointType)),
	))
	defer span.End()

	timeout := time.Duration(e.InferenceTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	clientCtx := ctx
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(e.BaseURL, "/")+path, bytes.NewReader(requestBody))
	if err != nil {
		return Result{}, apperr.InternalWithCause("build proxy request", err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	for _, key := range upstreamAuthoritativeHeaders {
		req.Header.Del(key)
	}
	if e.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if clientCtx.Err() == context.Canceled {
			return Result{}, ErrClientGone
		}
		if errors.Is(err, context.DeadlineExceeded) {
			p.recordTransportFailure(e.ID, err)
			return Result{}, apperr.GatewayTimeout("upstream did not respond within the inference timeout")
		}
		p.recordTransportFailure(e.ID, err)
		return Result{}, apperr.BadGateway("upstream request failed: " + err.Error())
	}
	defer resp.Body.Close()

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	captured, copyErr := streamCopy(w, resp.Body)
	if copyErr != nil {
		p.logger.Warn("error while streaming upstream response", zap.String("endpoint_id", e.ID), zap.Error(copyErr))
	}

	return Result{
		StatusCode:       resp.StatusCode,
		DurationMs:       time.Since(start).Milliseconds(),
		CapturedRequest:  requestBody,
		CapturedResponse: captured,
	}, nil
}

func (p *Proxy) recordTransportFailure(endpointID string, cause error) {
	_, err := p.reg.Update(context.Background(), endpointID, func(e *entity.Endpoint) error {
		e.RecordTransportFailure(cause.Error(), time.Now().UTC())
		return nil
	})
	if err != nil {
		p.logger.Warn("failed to record endpoint transport failure", zap.String("endpoint_id", endpointID), zap.Error(err))
	}
}

// copyResponseHeaders copies every upstream header verbatim, including
// duplicate header values, except hop-by-hop headers net/http already
// strips.
func copyResponseHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

// streamCopy copies src to w one read at a time, flushing after every
// write so SSE events reach the client without delay, while mirroring
// up to captureLimit bytes into the returned slice for history.
func streamCopy(w http.ResponseWriter, src io.Reader) ([]byte, error) {
	flusher, canFlush := w.(http.Flusher)
	var captured bytes.Buffer
	buf := make([]byte, 32*1024)

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return captured.Bytes(), writeErr
			}
			if canFlush {
				flusher.Flush()
			}
			if captured.Len() < captureLimit {
				remaining := captureLimit - captured.Len()
				if n < remaining {
					captured.Write(buf[:n])
				} else {
					captured.Write(buf[:remaining])
				}
			}
		}
		if readErr == io.EOF {
			return captured.Bytes(), nil
		}
		if readErr != nil {
			return captured.Bytes(), readErr
		}
	}
}
