// Package api implements the firewall's own HTTP surface: classify,
// redact, detokenize, route (dry-run), audit query, and health — the
// non-proxy half of spec.md §6's external interface table. The proxy
// endpoints themselves are mounted separately by internal/proxy.Handler.
package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"llmfirewall/internal/audit"
	"llmfirewall/internal/classifier"
	"llmfirewall/internal/detector"
	"llmfirewall/internal/policy"
	"llmfirewall/internal/token"
	dErrors "llmfirewall/pkg/errors"
	"llmfirewall/pkg/platform/httputil"
	platformstrings "llmfirewall/pkg/platform/strings"
	"llmfirewall/pkg/requestcontext"
)

const defaultAuditQueryLimit = 50

// Handler serves the firewall's own API: running detect/classify/policy
// directly (classify, route), driving the redact/detokenize token pipeline,
// and exposing the local audit log and a liveness probe.
type Handler struct {
	detector   *detector.Detector
	classifier *classifier.Classifier
	engine     *policy.Engine
	doc        *policy.Document
	tokens     *token.Service
	auditLog   *audit.Logger
	logger     *slog.Logger

	version      string
	tokenBackend string
	siemEnabled  bool

	maxBodyBytes int64
}

// New builds a Handler. logger may be nil.
func New(d *detector.Detector, c *classifier.Classifier, e *policy.Engine, doc *policy.Document, tokens *token.Service, auditLog *audit.Logger, logger *slog.Logger, version, tokenBackend string, siemEnabled bool, maxBodyBytes int64) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		detector: d, classifier: c, engine: e, doc: doc, tokens: tokens, auditLog: auditLog, logger: logger,
		version: version, tokenBackend: tokenBackend, siemEnabled: siemEnabled, maxBodyBytes: maxBodyBytes,
	}
}

// Register mounts every endpoint on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Post("/classify", h.handleClassify)
	r.Post("/redact", h.handleRedact)
	r.Post("/detokenize", h.handleDetokenize)
	r.Post("/route", h.handleRoute)
	r.Post("/audit/query", h.handleAuditQuery)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Version:       h.version,
		TokenBackend:  h.tokenBackend,
		PolicyVersion: h.doc.Version,
		SIEMEnabled:   h.siemEnabled,
	})
}

func (h *Handler) handleClassify(w http.ResponseWriter, r *http.Request) {
	req, err := httputil.DecodeAndPrepare[classifyRequest](r, h.maxBodyBytes)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	pctx, err := requireContext(req.Context)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	spans, decision, err := h.classify(req.Payload, pctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.writeAudit(audit.Record{
		Timestamp:        requestcontext.Now(r.Context()).UTC(),
		Action:           "classify",
		Caller:           pctx.Caller,
		Region:           pctx.Region,
		Env:              pctx.Env,
		ConversationID:   pctx.ConversationID,
		ClientIP:         requestcontext.ClientIP(r.Context()),
		Categories:       observationsFromSpans(spans),
		Decision:         string(decision.Action),
		PayloadSizeBytes: len(req.Payload),
		PolicyVersion:    decision.PolicyVersion,
		Reason:           decision.Reason,
	})

	httputil.WriteJSON(w, http.StatusOK, classifyResponse{
		OK:              true,
		Categories:      categoriesOut(spans),
		Decision:        string(decision.Action),
		SuggestedAction: string(decision.Action),
	})
}

func (h *Handler) handleRedact(w http.ResponseWriter, r *http.Request) {
	req, err := httputil.DecodeAndPrepare[redactRequest](r, h.maxBodyBytes)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	pctx, err := requireContext(req.Context)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.tokens.Redact(r.Context(), req.Payload, pctx)
	if dErrors.Is(err, dErrors.CodePolicyBlocked) {
		h.writeAudit(audit.Record{
			Timestamp:        requestcontext.Now(r.Context()).UTC(),
			Action:           "redact",
			Caller:           pctx.Caller,
			Region:           pctx.Region,
			Env:              pctx.Env,
			ConversationID:   pctx.ConversationID,
			ClientIP:         requestcontext.ClientIP(r.Context()),
			Decision:         string(policy.ActionBlock),
			PayloadSizeBytes: len(req.Payload),
		})
		httputil.WriteError(w, err)
		return
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.writeAudit(audit.Record{
		Timestamp:        requestcontext.Now(r.Context()).UTC(),
		Action:           "redact",
		Caller:           pctx.Caller,
		Region:           pctx.Region,
		Env:              pctx.Env,
		ConversationID:   pctx.ConversationID,
		ClientIP:         requestcontext.ClientIP(r.Context()),
		Categories:       observationsFromSpans(result.Spans),
		Decision:         string(result.Decision.Action),
		TargetModel:      result.Decision.TargetModel,
		RedactionCount:   len(result.Spans),
		PayloadSizeBytes: len(req.Payload),
		PolicyVersion:    result.Decision.PolicyVersion,
		Reason:           result.Decision.Reason,
	})

	httputil.WriteJSON(w, http.StatusOK, redactResponse{
		SanitizedPayload: result.Sanitized,
		TokenMapHandle:   result.Handle,
	})
}

func (h *Handler) handleDetokenize(w http.ResponseWriter, r *http.Request) {
	req, err := httputil.DecodeAndPrepare[detokenizeRequest](r, h.maxBodyBytes)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	pctx, err := requireContext(req.Context)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	allowCategories := platformstrings.DedupeAndTrimLower(req.AllowCategories)
	restored, err := h.tokens.Detokenize(r.Context(), req.Payload, req.TokenMapHandle, allowCategories, pctx.Caller, h.doc.IsTrustedCaller(pctx.Caller))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.writeAudit(audit.Record{
		Timestamp:       requestcontext.Now(r.Context()).UTC(),
		Action:          "detokenize",
		Caller:          pctx.Caller,
		Region:          pctx.Region,
		Env:             pctx.Env,
		ConversationID:  pctx.ConversationID,
		ClientIP:         requestcontext.ClientIP(r.Context()),
		RestorationCount: 1,
	})

	httputil.WriteJSON(w, http.StatusOK, detokenizeResponse{RestoredPayload: restored})
}

func (h *Handler) handleRoute(w http.ResponseWriter, r *http.Request) {
	req, err := httputil.DecodeAndPrepare[routeRequest](r, h.maxBodyBytes)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	pctx, err := requireContext(req.Context)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	spans, decision, err := h.classify(req.ModelRequest.Text, pctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.writeAudit(audit.Record{
		Timestamp:        requestcontext.Now(r.Context()).UTC(),
		Action:           "route",
		Caller:           pctx.Caller,
		Region:           pctx.Region,
		Env:              pctx.Env,
		ConversationID:   pctx.ConversationID,
		ClientIP:         requestcontext.ClientIP(r.Context()),
		Categories:       observationsFromSpans(spans),
		Decision:         string(decision.Action),
		TargetModel:      decision.TargetModel,
		PayloadSizeBytes: len(req.ModelRequest.Text),
		PolicyVersion:    decision.PolicyVersion,
		Reason:           decision.Reason,
	})

	httputil.WriteJSON(w, http.StatusOK, routeResponse{
		Decision:  decisionOut(decision),
		PreSteps:  preSteps(spans, pctx),
		PostSteps: postSteps(decision),
	})
}

func (h *Handler) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	req, err := httputil.DecodeAndPrepare[auditQueryRequest](r, h.maxBodyBytes)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultAuditQueryLimit
	}

	records, err := h.auditLog.Query(req.Q, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"records": records})
}

// classify runs the detect → classify → policy pipeline without mutating
// any state, shared by /classify and /route.
func (h *Handler) classify(payload string, pctx policy.Context) ([]detector.Span, policy.Decision, error) {
	spans, err := h.detector.Detect(payload)
	if err != nil {
		return nil, policy.Decision{}, err
	}
	if span := h.classifier.Classify(payload); span != nil {
		spans = append(spans, *span)
	}
	decision := h.engine.Decide(spans, pctx)
	return spans, decision, nil
}

func (h *Handler) writeAudit(rec audit.Record) {
	if h.auditLog == nil {
		return
	}
	_ = h.auditLog.Write(rec)
}

func requireContext(c contextBody) (policy.Context, error) {
	if c.Caller == "" || c.Region == "" || c.Env == "" || c.ConversationID == "" {
		return policy.Context{}, dErrors.New(dErrors.CodeInvalidInput, "context requires caller, region, env, and conversation_id")
	}
	return c.toPolicy(), nil
}

func categoriesOut(spans []detector.Span) []categoryOut {
	best := map[string]float64{}
	for _, sp := range spans {
		if c, ok := best[sp.Type]; !ok || sp.Confidence > c {
			best[sp.Type] = sp.Confidence
		}
	}
	out := make([]categoryOut, 0, len(best))
	for typ, conf := range best {
		out = append(out, categoryOut{Type: typ, Confidence: conf})
	}
	return out
}

func observationsFromSpans(spans []detector.Span) []audit.CategoryObservation {
	best := map[string]float64{}
	for _, sp := range spans {
		if c, ok := best[sp.Type]; !ok || sp.Confidence > c {
			best[sp.Type] = sp.Confidence
		}
	}
	out := make([]audit.CategoryObservation, 0, len(best))
	for typ, conf := range best {
		out = append(out, audit.CategoryObservation{Type: typ, Confidence: conf})
	}
	return out
}

func decisionOut(d policy.Decision) routeDecisionOut {
	cats := make([]string, 0, len(d.AllowedDetokenizeCategories))
	for c := range d.AllowedDetokenizeCategories {
		cats = append(cats, c)
	}
	return routeDecisionOut{
		Action:                      string(d.Action),
		TargetModel:                 d.TargetModel,
		RequiresRedaction:           d.RequiresRedaction,
		AllowedDetokenizeCategories: cats,
		PolicyVersion:               d.PolicyVersion,
		Reason:                      d.Reason,
	}
}

func preSteps(spans []detector.Span, pctx policy.Context) []string {
	types := map[string]struct{}{}
	for _, sp := range spans {
		types[sp.Type] = struct{}{}
	}
	return []string{
		fmt.Sprintf("detected %d span(s) across %d type(s)", len(spans), len(types)),
		fmt.Sprintf("context caller=%s region=%s env=%s", pctx.Caller, pctx.Region, pctx.Env),
	}
}

func postSteps(d policy.Decision) []string {
	steps := []string{fmt.Sprintf("matched action=%s", d.Action)}
	if d.TargetModel != "" {
		steps = append(steps, fmt.Sprintf("target_model=%s", d.TargetModel))
	}
	if d.RequiresRedaction {
		steps = append(steps, "redaction required before forwarding")
	}
	return steps
}
