// Package service holds pure domain logic with no I/O: the history
// sanitization rules, unit tested in isolation from persistence and the
// network.
package service

import "regexp"

const redactedMedia = "<redacted:media>"

var (
	dataURIPattern  = regexp.MustCompile(`data:[a-zA-Z0-9/+.\-]+;base64,[A-Za-z0-9+/=]+`)
	apiKeyPattern   = regexp.MustCompile(`"((?i:api_key|authorization))"\s*:\s*"[^"]*"`)
	longBase64Field = regexp.MustCompile(`"(data|image)"\s*:\s*"[A-Za-z0-9+/=]{64,}"`)
)

// SanitizeForHistory implements spec.md §4.5's pre-persistence redaction
// rules. It never touches the wire payload sent to a backend — it is only
// ever applied to the copy handed to the history recorder.
//
// Sanitize∘Sanitize is a fixed point: redacted markers do not themselves
// match any of the patterns below, so re-sanitizing a sanitized string is
// a no-op (spec.md §8).
func SanitizeForHistory(body string) string {
	body = dataURIPattern.ReplaceAllString(body, redactedMedia)
	body = longBase64Field.ReplaceAllString(body, `"$1":"`+redactedMedia+`"`)
	body = apiKeyPattern.ReplaceAllString(body, `"$1":null`)
	return body
}
