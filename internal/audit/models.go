// Package audit writes one append-only JSON-lines record per logical
// action the firewall takes, and optionally ships the same records to a
// SIEM sink out of the request's critical path.
package audit

import "time"

// CategoryObservation is one category's presence in a request, with the
// highest confidence seen among its spans.
type CategoryObservation struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Record is one audit entry. The raw payload is never included — only
// counts and types (spec.md §3's invariant).
type Record struct {
	Timestamp         time.Time             `json:"ts"`
	Action            string                `json:"action"`
	Caller            string                `json:"caller"`
	Region            string                `json:"region"`
	Env               string                `json:"env"`
	ConversationID    string                `json:"conversation_id"`
	ClientIP          string                `json:"client_ip,omitempty"`
	Categories        []CategoryObservation `json:"categories,omitempty"`
	Decision          string                `json:"decision,omitempty"`
	TargetModel       string                `json:"target_model,omitempty"`
	RedactionCount    int                   `json:"redaction_count,omitempty"`
	RestorationCount  int                   `json:"restoration_count,omitempty"`
	PayloadSizeBytes  int                   `json:"payload_size_bytes"`
	StatusCode        int                   `json:"status_code,omitempty"`
	PolicyVersion     int                   `json:"policy_version,omitempty"`
	Reason            string                `json:"reason,omitempty"`
}
