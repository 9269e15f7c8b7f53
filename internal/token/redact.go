package token

import (
	"context"
	"strings"
	"time"

	"llmfirewall/internal/classifier"
	"llmfirewall/internal/detector"
	"llmfirewall/internal/policy"
	dErrors "llmfirewall/pkg/errors"
)

// Service ties the detector, classifier, policy engine, and a Store into
// the redact/detokenize operations of spec.md §4.4.
type Service struct {
	detector   *detector.Detector
	classifier *classifier.Classifier
	engine     *policy.Engine
	store      Store
	gen        *Generator
	ttl        time.Duration
}

// NewService wires the pipeline stages. ttl <= 0 falls back to DefaultTTL.
func NewService(d *detector.Detector, c *classifier.Classifier, e *policy.Engine, store Store, gen *Generator, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{detector: d, classifier: c, engine: e, store: store, gen: gen, ttl: ttl}
}

// RedactResult is the outcome of a successful Redact call.
type RedactResult struct {
	Sanitized string
	Handle    string
	Decision  policy.Decision
	Spans     []detector.Span
}

// Redact runs the detector and classifier, applies the policy engine, and —
// unless the decision is block — replaces every span right-to-left with its
// placeholder, merging entries into a Record keyed by handle (spec.md §4.4).
//
// If ctx carries a non-empty ConversationID and a Record already exists
// under a caller-supplied handle for that conversation, callers should pass
// that handle in via RedactInto instead; Redact always mints a fresh handle.
func (s *Service) Redact(ctx context.Context, payload string, pctx policy.Context) (*RedactResult, error) {
	return s.redact(ctx, payload, pctx, "")
}

// RedactInto behaves like Redact but merges new entries into the record
// already stored under handle, so that multiple messages in one request use
// a single accumulated handle (spec.md §4.5 step 2).
func (s *Service) RedactInto(ctx context.Context, payload string, pctx policy.Context, handle string) (*RedactResult, error) {
	return s.redact(ctx, payload, pctx, handle)
}

func (s *Service) redact(ctx context.Context, payload string, pctx policy.Context, handle string) (*RedactResult, error) {
	spans, err := s.detector.Detect(payload)
	if err != nil {
		return nil, err
	}
	if span := s.classifier.Classify(payload); span != nil {
		spans = append(spans, *span)
	}

	decision := s.engine.Decide(spans, pctx)
	if decision.Action == policy.ActionBlock {
		return nil, dErrors.New(dErrors.CodePolicyBlocked, "policy decision blocked this payload")
	}

	sanitized, entries := applyPlaceholders(s.gen, payload, spans, pctx.ConversationID)

	if handle == "" {
		h, err := NewHandle()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "generating token handle")
		}
		handle = h
	}

	record := &Record{
		Handle:         handle,
		ConversationID: pctx.ConversationID,
		Entries:        entries,
		ExpiresAt:      time.Now().Add(s.ttl),
	}
	if err := s.store.Put(ctx, handle, record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBackendUnavailable, "storing token record")
	}

	return &RedactResult{Sanitized: sanitized, Handle: handle, Decision: decision, Spans: spans}, nil
}

// applyPlaceholders substitutes each span with its placeholder in a single
// left-to-right pass over the original spans (spans carry fixed offsets into
// payload; since we build a new string rather than mutate payload in place,
// no right-to-left walk is needed to keep offsets valid). Returns the
// sanitized text and the placeholder->Entry map spec.md §4.4 step 4 wants.
func applyPlaceholders(gen *Generator, payload string, spans []detector.Span, conversationID string) (string, map[string]Entry) {
	entries := make(map[string]Entry, len(spans))
	if len(spans) == 0 {
		return payload, entries
	}

	var b strings.Builder
	prev := 0
	for _, sp := range spans {
		original := payload[sp.Start:sp.End]
		placeholder := gen.Placeholder(conversationID, sp.Type, original)
		entries[placeholder] = Entry{Type: sp.Type, Original: original, CreatedAt: time.Now()}

		b.WriteString(payload[prev:sp.Start])
		b.WriteString(placeholder)
		prev = sp.End
	}
	b.WriteString(payload[prev:])

	return b.String(), entries
}
