package entity

import "time"

// RequestKind is the API family a request belongs to (spec.md §3).
type RequestKind string

const (
	RequestKindChat         RequestKind = "chat"
	RequestKindCompletion   RequestKind = "completion"
	RequestKindEmbedding    RequestKind = "embedding"
	RequestKindResponses    RequestKind = "responses"
	RequestKindAudioTx      RequestKind = "audio_tx"
	RequestKindAudioTTS     RequestKind = "audio_tts"
	RequestKindImageGen     RequestKind = "image_gen"
	RequestKindImageEdit    RequestKind = "image_edit"
	RequestKindImageVar     RequestKind = "image_var"
	RequestKindVision       RequestKind = "vision"
)

// RequestOutcome is a tagged success/error result for a RequestRecord.
type RequestOutcome struct {
	Success bool
	Message string // set only when !Success
}

// RequestRecord is a single captured exchange (spec.md §3 / §4.7). Bodies
// are sanitized before this struct is ever constructed.
type RequestRecord struct {
	ID           string
	Timestamp    time.Time
	Kind         RequestKind
	Model        string
	EndpointID   string
	EndpointName string
	EndpointIP   string
	ClientIP     string

	RequestBody  string
	ResponseBody string

	DurationMs  int64
	Outcome     RequestOutcome
	CompletedAt time.Time

	InputTokens  *int64
	OutputTokens *int64
	TotalTokens  *int64
	APIKeyID     string
}
