// Package proxy implements the transparent proxy: three provider adapters
// that translate between wire formats while driving the
// redact → forward → detokenize pipeline (spec.md §4.5).
package proxy

import "encoding/json"

// Adapter translates between one upstream's wire format and the pipeline's
// plain-text view of a request/response.
type Adapter interface {
	// Name identifies the provider for audit records and metrics.
	Name() string

	// UpstreamPath is appended to the configured upstream base URL.
	UpstreamPath(requestPath string) string

	// IsStreaming reports whether the request body asks for an SSE response.
	// Google signals streaming via the URL path instead of the body; callers
	// handle that provider by checking the request path directly (see
	// Service.isStreaming).
	IsStreaming(body []byte) bool

	// Model returns the model field's current value, if present.
	Model(body []byte) string

	// ExtractTexts returns every text field that must be run through the
	// detector/classifier/redact pipeline, in a stable order.
	ExtractTexts(body []byte) ([]string, error)

	// Rewrite replaces each extracted text with its sanitized counterpart
	// (same order as ExtractTexts) and, if targetModel is non-empty,
	// overwrites the model field.
	Rewrite(body []byte, sanitizedTexts []string, targetModel string) ([]byte, error)

	// ExtractResponseText pulls the single text field out of a non-streaming
	// response body.
	ExtractResponseText(body []byte) (string, error)

	// InjectResponseText splices a restored text back into a non-streaming
	// response body.
	InjectResponseText(body []byte, text string) ([]byte, error)

	// ErrorBody synthesizes a provider-shaped error object, e.g. so a
	// PolicyBlocked decision degrades gracefully in client SDKs.
	ErrorBody(message string) []byte
}

// rawMessage is a convenience alias used by adapters that walk generic JSON.
type rawMessage = json.RawMessage
