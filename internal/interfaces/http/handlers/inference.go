// Package handlers holds the gin handler functions for every route
// spec.md §6 lists, grouped by resource the way the teacher's
// openai_handler.go groups the OpenAI-shaped surface.
package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llmlb/llmlb/internal/domain/entity"
	"github.com/llmlb/llmlb/internal/domain/valueobject"
	"github.com/llmlb/llmlb/internal/infrastructure/gate"
	"github.com/llmlb/llmlb/internal/infrastructure/history"
	"github.com/llmlb/llmlb/internal/infrastructure/proxy"
	"github.com/llmlb/llmlb/internal/infrastructure/routing"
	"github.com/llmlb/llmlb/internal/interfaces/http/middleware"
	"github.com/llmlb/llmlb/pkg/apperr"
)

// Inference handles every /v1/* passthrough route (spec.md §6).
type Inference struct {
	gate     *gate.Gate
	selector *routing.Selector
	proxy    *proxy.Proxy
	recorder *history.Recorder
	logger   *zap.Logger
}

// NewInference constructs an Inference handler group.
func NewInference(g *gate.Gate, selector *routing.Selector, p *proxy.Proxy, recorder *history.Recorder, logger *zap.Logger) *Inference {
	return &Inference{gate: g, selector: selector, proxy: p, recorder: recorder, logger: logger}
}

// route describes one inference endpoint's static shape.
type route struct {
	kind                 entity.RequestKind
	capability           valueobject.Capability
	requireResponsesAPI  bool
}

var (
	chatRoute        = route{kind: entity.RequestKindChat, capability: valueobject.CapabilityChatCompletion}
	completionRoute  = route{kind: entity.RequestKindCompletion, capability: valueobject.CapabilityChatCompletion}
	embeddingRoute   = route{kind: entity.RequestKindEmbedding, capability: valueobject.CapabilityEmbeddings}
	responsesRoute   = route{kind: entity.RequestKindResponses, capability: valueobject.CapabilityChatCompletion, requireResponsesAPI: true}
	audioTxRoute     = route{kind: entity.RequestKindAudioTx, capability: valueobject.CapabilityAudioTranscription}
	audioTTSRoute    = route{kind: entity.RequestKindAudioTTS, capability: valueobject.CapabilityAudioSpeech}
	imageGenRoute    = route{kind: entity.RequestKindImageGen, capability: valueobject.CapabilityImageGeneration}
	imageEditRoute   = route{kind: entity.RequestKindImageEdit, capability: valueobject.CapabilityImageGeneration}
	imageVarRoute    = route{kind: entity.RequestKindImageVar, capability: valueobject.CapabilityImageGeneration}
)

// ChatCompletions handles POST /v1/chat/completions.
func (h *Inference) ChatCompletions(c *gin.Context) { h.forwardJSON(c, chatRoute) }

// Completions handles POST /v1/completions.
func (h *Inference) Completions(c *gin.Context) { h.forwardJSON(c, completionRoute) }

// Embeddings handles POST /v1/embeddings.
func (h *Inference) Embeddings(c *gin.Context) { h.forwardJSON(c, embeddingRoute) }

// Responses handles POST /v1/responses, 501 when no capable backend
// implements it for the requested model (spec.md §6).
func (h *Inference) Responses(c *gin.Context) { h.forwardJSON(c, responsesRoute) }

// AudioSpeech handles POST /v1/audio/speech.
func (h *Inference) AudioSpeech(c *gin.Context) { h.forwardJSON(c, audioTTSRoute) }

// AudioTranscriptions handles POST /v1/audio/transcriptions (multipart).
func (h *Inference) AudioTranscriptions(c *gin.Context) { h.forwardMultipart(c, audioTxRoute) }

// ImageGenerations handles POST /v1/images/generations.
func (h *Inference) ImageGenerations(c *gin.Context) { h.forwardJSON(c, imageGenRoute) }

// ImageEdits handles POST /v1/images/edits (multipart).
func (h *Inference) ImageEdits(c *gin.Context) { h.forwardMultipart(c, imageEditRoute) }

// ImageVariations handles POST /v1/images/variations (multipart).
func (h *Inference) ImageVariations(c *gin.Context) { h.forwardMultipart(c, imageVarRoute) }

func (h *Inference) forwardJSON(c *gin.Context, r route) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		middleware.AbortWithError(c, apperr.Validation("failed to read request body"))
		return
	}

	var fields struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &fields); err != nil || fields.Model == "" {
		middleware.AbortWithError(c, apperr.Validation("request body must include a model field"))
		return
	}

	h.forward(c, r, fields.Model, body)
}

// forwardMultipart reads the raw multipart body once, extracts the
// "model" field from a copy of it, and forwards the original bytes
// unmodified so the upstream receives the exact boundary and part
// ordering the client sent (spec.md §4.5's byte-exact passthrough).
func (h *Inference) forwardMultipart(c *gin.Context, r route) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		middleware.AbortWithError(c, apperr.Validation("failed to read request body"))
		return
	}

	model, err := multipartField(c.Request.Header.Get("Content-Type"), body, "model")
	if err != nil || model == "" {
		middleware.AbortWithError(c, apperr.Validation("request must include a model field"))
		return
	}

	h.forward(c, r, model, body)
}

func multipartField(contentType string, body []byte, field string) (string, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", err
	}
	reader := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		if part.FormName() == field {
			value, err := io.ReadAll(part)
			if err != nil {
				return "", err
			}
			return string(value), nil
		}
	}
}

func (h *Inference) forward(c *gin.Context, r route, model string, body []byte) {
	guard, err := h.gate.Admit()
	if err != nil {
		h.recordFailure(c, r, model, err)
		middleware.AbortWithError(c, err)
		return
	}
	defer guard.Release()

	ctx := c.Request.Context()
	endpoint, err := h.selector.Select(ctx, model, r.capability, r.requireResponsesAPI)
	if err != nil {
		if r.requireResponsesAPI && apperr.Is(err, apperr.CodeServiceUnavailable) {
			err = apperr.New(apperr.CodeServiceUnavailable, "no backend implements the Responses API for this model")
			h.recordFailure(c, r, model, err)
			// OpenAI-style error envelope so Responses API clients see the
			// same shape an upstream 501 would carry.
			c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": gin.H{
				"message": "The Responses API is not implemented by any backend hosting this model",
				"type":    "server_error",
				"code":    501,
			}})
			return
		}
		h.recordFailure(c, r, model, err)
		middleware.AbortWithError(c, err)
		return
	}

	principal, _ := middleware.PrincipalFrom(c)
	start := time.Now()
	result, err := h.proxy.Forward(ctx, c.Writer, http.MethodPost, c.Request.URL.Path, c.Request.Header, body, endpoint)
	if err != nil {
		if errors.Is(err, proxy.ErrClientGone) {
			c.Abort()
			return
		}
		h.recordEndpointFailure(c, r, model, endpoint, principal.APIKeyID, err)
		middleware.AbortWithError(c, err)
		return
	}

	record := &entity.RequestRecord{
		ID:           uuid.NewString(),
		Timestamp:    start.UTC(),
		Kind:         r.kind,
		Model:        model,
		EndpointID:   endpoint.ID,
		EndpointName: endpoint.Name,
		EndpointIP:   endpoint.BaseURL,
		ClientIP:     normalizeClientIP(c.ClientIP()),
		RequestBody:  string(result.CapturedRequest),
		ResponseBody: string(result.CapturedResponse),
		DurationMs:   result.DurationMs,
		Outcome:      entity.RequestOutcome{Success: result.StatusCode < 400},
		CompletedAt:  time.Now().UTC(),
		APIKeyID:     principal.APIKeyID,
	}
	record.InputTokens, record.OutputTokens, record.TotalTokens = usageFromResponse(result.CapturedResponse)
	h.recorder.Record(record)
}

// usageFromResponse pulls the OpenAI usage block out of a buffered JSON
// response, best-effort: streamed or non-JSON bodies simply yield no
// token counts.
func usageFromResponse(body []byte) (in, out, total *int64) {
	var envelope struct {
		Usage struct {
			PromptTokens     *int64 `json:"prompt_tokens"`
			CompletionTokens *int64 `json:"completion_tokens"`
			TotalTokens      *int64 `json:"total_tokens"`
			InputTokens      *int64 `json:"input_tokens"`
			OutputTokens     *int64 `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, nil, nil
	}
	u := envelope.Usage
	in, out = u.PromptTokens, u.CompletionTokens
	// The Responses API reports input_tokens/output_tokens instead.
	if in == nil {
		in = u.InputTokens
	}
	if out == nil {
		out = u.OutputTokens
	}
	return in, out, u.TotalTokens
}

// recordFailure writes a history record for a request that never reached
// a backend (spec.md §4.7: "the recorder still writes a record with
// status=error so dashboards see attempts that never reached a backend").
func (h *Inference) recordFailure(c *gin.Context, r route, model string, cause error) {
	principal, _ := middleware.PrincipalFrom(c)
	h.recorder.Record(&entity.RequestRecord{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Kind:        r.kind,
		Model:       model,
		ClientIP:    normalizeClientIP(c.ClientIP()),
		Outcome:     entity.RequestOutcome{Success: false, Message: cause.Error()},
		CompletedAt: time.Now().UTC(),
		APIKeyID:    principal.APIKeyID,
	})
}

func (h *Inference) recordEndpointFailure(c *gin.Context, r route, model string, e *entity.Endpoint, apiKeyID string, cause error) {
	h.recorder.Record(&entity.RequestRecord{
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Kind:         r.kind,
		Model:        model,
		EndpointID:   e.ID,
		EndpointName: e.Name,
		ClientIP:     normalizeClientIP(c.ClientIP()),
		Outcome:      entity.RequestOutcome{Success: false, Message: cause.Error()},
		CompletedAt:  time.Now().UTC(),
		APIKeyID:     apiKeyID,
	})
}

// normalizeClientIP folds an IPv4-mapped IPv6 address (::ffff:a.b.c.d)
// back to its dotted-quad form so history and heatmap aggregation see one
// address per client regardless of listener stack (spec.md §3).
func normalizeClientIP(raw string) string {
	ip := net.ParseIP(raw)
	if ip == nil {
		return raw
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}
