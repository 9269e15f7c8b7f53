package proxy

import (
	"context"

	"llmfirewall/internal/audit"
	"llmfirewall/internal/detector"
	"llmfirewall/internal/policy"
	"llmfirewall/internal/proxy/metrics"
	"llmfirewall/internal/safety"
	"llmfirewall/internal/token"
	dErrors "llmfirewall/pkg/errors"
)

// Service drives the redact → forward → detokenize pipeline described in
// spec.md §4.5, independent of any one provider's wire format (that's the
// Adapter's job).
type Service struct {
	tokens  *token.Service
	doc     *policy.Document
	audit   *audit.Logger
	safety  *safety.Filter
	safetyM safety.Mode
	metrics *metrics.Metrics
}

// NewService wires the pipeline's dependencies. safetyFilter and m may be
// nil (nil safetyFilter disables response annotation entirely).
func NewService(tokens *token.Service, doc *policy.Document, auditLogger *audit.Logger, safetyFilter *safety.Filter, safetyMode safety.Mode, m *metrics.Metrics) *Service {
	return &Service{tokens: tokens, doc: doc, audit: auditLogger, safety: safetyFilter, safetyM: safetyMode, metrics: m}
}

// PreparedRequest is the outcome of running every extracted text field
// through redact and merging the results into one request-level decision.
type PreparedRequest struct {
	SanitizedTexts []string
	Handle         string
	Decision       policy.Decision
	Spans          []detector.Span
}

// PrepareRequest runs detect → classify → policy → redact over each text
// Adapter.ExtractTexts returned, accumulating every message's placeholders
// into one handle per spec.md §4.5 step 2, and folds the per-message
// decisions into a single request-level Decision (strictest action wins;
// allowed_detokenize_categories is the union of what any matched route
// permitted, since a placeholder's own category is still checked against
// that union when it is later restored).
func (s *Service) PrepareRequest(ctx context.Context, texts []string, pctx policy.Context) (*PreparedRequest, error) {
	result := &PreparedRequest{SanitizedTexts: make([]string, len(texts))}

	for i, text := range texts {
		res, err := s.tokens.RedactInto(ctx, text, pctx, result.Handle)
		if err != nil {
			if dErrors.Is(err, dErrors.CodePolicyBlocked) {
				result.Decision = policy.Decision{Action: policy.ActionBlock, PolicyVersion: s.doc.Version, Reason: "policy blocked one or more messages"}
				return result, err
			}
			return nil, err
		}
		result.SanitizedTexts[i] = res.Sanitized
		result.Handle = res.Handle
		result.Spans = append(result.Spans, res.Spans...)
		result.Decision = mergeDecisions(result.Decision, res.Decision)
	}

	return result, nil
}

// mergeDecisions folds candidate into acc, keeping the strictest action
// (block > internal_only > redact > allow) and unioning the allowed
// detokenize categories.
func mergeDecisions(acc, candidate policy.Decision) policy.Decision {
	if acc.AllowedDetokenizeCategories == nil {
		acc.AllowedDetokenizeCategories = map[string]struct{}{}
	}
	if actionRank(candidate.Action) < actionRank(acc.Action) || acc.Action == "" {
		acc.Action = candidate.Action
		acc.TargetModel = candidate.TargetModel
		acc.Reason = candidate.Reason
	}
	acc.RequiresRedaction = acc.RequiresRedaction || candidate.RequiresRedaction
	acc.PolicyVersion = candidate.PolicyVersion
	for cat := range candidate.AllowedDetokenizeCategories {
		acc.AllowedDetokenizeCategories[cat] = struct{}{}
	}
	return acc
}

func actionRank(a policy.Action) int {
	switch a {
	case policy.ActionBlock:
		return 0
	case policy.ActionInternalOnly:
		return 1
	case policy.ActionRedact:
		return 2
	case policy.ActionAllow:
		return 3
	default:
		return 4
	}
}

// RestoreText detokenizes text against handle/decision for caller, then
// applies the output safety filter. Used on the non-streaming response
// path, where the adapter has already isolated the single text field that
// needs restoring.
func (s *Service) RestoreText(ctx context.Context, text, handle string, decision policy.Decision, caller string) (string, error) {
	restored, err := s.tokens.DetokenizeWithDecision(ctx, text, handle, decision, caller, s.doc.IsTrustedCaller(caller))
	if err != nil {
		return "", err
	}
	return s.annotate(restored), nil
}

// restoreFunc returns a RestoreFunc closed over handle/decision/caller for
// the streaming path's RestoringReader. It does not apply the safety
// filter per-chunk — command patterns can straddle chunk boundaries just
// like placeholders can, so annotation runs once over the fully assembled
// response instead (the streaming adapters buffer only enough to avoid
// splitting a placeholder, not a whole safety pattern).
func (s *Service) restoreFunc(handle string, decision policy.Decision, caller string) RestoreFunc {
	trusted := s.doc.IsTrustedCaller(caller)
	return func(ctx context.Context, text string) (string, error) {
		return s.tokens.DetokenizeWithDecision(ctx, text, handle, decision, caller, trusted)
	}
}

func (s *Service) annotate(text string) string {
	if s.safety == nil {
		return text
	}
	return s.safety.Annotate(text, s.safetyM)
}

// WriteAudit builds and writes one audit record, never including the raw
// payload (spec.md §3's invariant). SIEM shipping failures never surface
// here — Logger.Write already swallows them past the local append.
func (s *Service) WriteAudit(rec audit.Record) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Write(rec)
}

func categoryObservations(spans []detector.Span) []audit.CategoryObservation {
	best := map[string]float64{}
	for _, sp := range spans {
		if c, ok := best[sp.Type]; !ok || sp.Confidence > c {
			best[sp.Type] = sp.Confidence
		}
	}
	obs := make([]audit.CategoryObservation, 0, len(best))
	for typ, conf := range best {
		obs = append(obs, audit.CategoryObservation{Type: typ, Confidence: conf})
	}
	return obs
}
