package proxy

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"llmfirewall/internal/audit"
	"llmfirewall/internal/policy"
	"llmfirewall/internal/proxy/metrics"
	dErrors "llmfirewall/pkg/errors"
	"llmfirewall/pkg/platform/circuit"
	"llmfirewall/pkg/requestcontext"
)

// ProviderRoute binds one Adapter to the HTTP path it's mounted on and the
// upstream base URL it forwards sanitized requests to.
type ProviderRoute struct {
	Path       string
	Method     string
	Adapter    Adapter
	BaseURL    string
	GoogleLike bool // true for the Google adapter, whose model lives in the URL
}

// Handler mounts the three provider proxy routes and runs every request
// through Service's redact → forward → detokenize pipeline (spec.md §4.5).
type Handler struct {
	svc         *Service
	routes      []ProviderRoute
	logger      *slog.Logger
	metrics     *metrics.Metrics
	defaultEnv  string
	defaultRegion string
	maxBodyBytes int64

	breakers map[string]*circuit.Breaker
}

// New builds a Handler over the given routes. m and logger may be nil. Each
// route's adapter gets its own circuit breaker so a provider outage stops
// hammering that upstream without affecting the others (spec.md §4.5's
// upstream-failure handling).
func New(svc *Service, routes []ProviderRoute, logger *slog.Logger, m *metrics.Metrics, defaultRegion, defaultEnv string, maxBodyBytes int64) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	breakers := make(map[string]*circuit.Breaker, len(routes))
	for _, route := range routes {
		name := route.Adapter.Name()
		if _, ok := breakers[name]; !ok {
			breakers[name] = circuit.New(name, circuit.WithFailureThreshold(5), circuit.WithSuccessThreshold(2))
		}
	}
	return &Handler{svc: svc, routes: routes, logger: logger, metrics: m, defaultRegion: defaultRegion, defaultEnv: defaultEnv, maxBodyBytes: maxBodyBytes, breakers: breakers}
}

// Register mounts each provider's route on r.
func (h *Handler) Register(r chi.Router) {
	for _, route := range h.routes {
		route := route
		r.MethodFunc(route.Method, route.Path, func(w http.ResponseWriter, req *http.Request) {
			h.handle(w, req, route)
		})
	}
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request, route ProviderRoute) {
	ctx := r.Context()
	pctx := h.contextFrom(ctx, route.Adapter.Name())

	adapter := route.Adapter
	isStream := false
	if route.GoogleLike {
		adapter = Google{RequestModel: ModelFromPath(r.URL.Path)}
		isStream = IsStreamingPath(r.URL.Path)
	}
	route.Adapter = adapter

	body, err := readLimited(r.Body, h.maxBodyBytes)
	if err != nil {
		h.writeAdapterError(w, route.Adapter, err)
		return
	}

	texts, err := route.Adapter.ExtractTexts(body)
	if err != nil {
		h.writeAdapterError(w, route.Adapter, err)
		return
	}

	prepared, err := h.svc.PrepareRequest(ctx, texts, pctx)
	if dErrors.Is(err, dErrors.CodePolicyBlocked) {
		h.recordAudit(ctx, pctx, prepared, 451, len(body))
		h.metrics.IncrementRequest(route.Adapter.Name(), "blocked")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnavailableForLegalReasons)
		_, _ = w.Write(route.Adapter.ErrorBody("request blocked by policy"))
		return
	}
	if err != nil {
		h.writeAdapterError(w, route.Adapter, err)
		return
	}

	sanitizedBody, err := route.Adapter.Rewrite(body, prepared.SanitizedTexts, targetModelFor(prepared.Decision))
	if err != nil {
		h.writeAdapterError(w, route.Adapter, err)
		return
	}

	breaker := h.breakers[route.Adapter.Name()]
	if breaker != nil && breaker.IsOpen() {
		h.metrics.IncrementRequest(route.Adapter.Name(), "circuit_open")
		h.writeAdapterError(w, route.Adapter, dErrors.New(dErrors.CodeUpstreamError, "upstream circuit open, refusing to forward"))
		return
	}

	upstreamPath := route.Adapter.UpstreamPath(r.URL.Path)
	client := NewUpstreamClient(route.BaseURL)

	if isStream || route.Adapter.IsStreaming(body) {
		h.handleStream(w, r, route, client, upstreamPath, sanitizedBody, prepared, pctx)
		return
	}
	h.handleNonStream(w, r, route, client, upstreamPath, sanitizedBody, prepared, pctx)
}

func (h *Handler) handleNonStream(w http.ResponseWriter, r *http.Request, route ProviderRoute, client *UpstreamClient, path string, body []byte, prepared *PreparedRequest, pctx policy.Context) {
	resp, err := client.Do(r.Context(), path, body, r.Header.Get("Authorization"))
	h.recordBreaker(route.Adapter.Name(), err)
	if err != nil {
		h.writeAdapterError(w, route.Adapter, err)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		h.writeAdapterError(w, route.Adapter, dErrors.Wrap(err, dErrors.CodeUpstreamError, "reading upstream response"))
		return
	}

	h.metrics.IncrementUpstreamStatus(route.Adapter.Name(), statusClass(resp.StatusCode))

	if resp.StatusCode >= 300 {
		// Relay non-2xx verbatim, no detokenization attempted (spec.md §4.5).
		h.recordAudit(r.Context(), pctx, prepared, resp.StatusCode, len(body))
		copyHeader(w, resp)
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(respBody)
		return
	}

	text, err := route.Adapter.ExtractResponseText(respBody)
	if err != nil {
		h.writeAdapterError(w, route.Adapter, err)
		return
	}

	restored, err := h.svc.RestoreText(r.Context(), text, prepared.Handle, prepared.Decision, pctx.Caller)
	if err != nil {
		h.writeAdapterError(w, route.Adapter, err)
		return
	}

	out, err := route.Adapter.InjectResponseText(respBody, restored)
	if err != nil {
		h.writeAdapterError(w, route.Adapter, err)
		return
	}

	h.recordAudit(r.Context(), pctx, prepared, resp.StatusCode, len(body))
	h.metrics.IncrementRequest(route.Adapter.Name(), "ok")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request, route ProviderRoute, client *UpstreamClient, path string, body []byte, prepared *PreparedRequest, pctx policy.Context) {
	resp, err := client.Do(r.Context(), path, body, r.Header.Get("Authorization"))
	h.recordBreaker(route.Adapter.Name(), err)
	if err != nil {
		h.writeAdapterError(w, route.Adapter, err)
		return
	}
	defer resp.Body.Close()

	h.metrics.IncrementUpstreamStatus(route.Adapter.Name(), statusClass(resp.StatusCode))

	if resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		h.recordAudit(r.Context(), pctx, prepared, resp.StatusCode, len(body))
		copyHeader(w, resp)
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(errBody)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	restore := h.svc.restoreFunc(prepared.Handle, prepared.Decision, pctx.Caller)
	src := NewRestoringReader(ctx, deadlineReader{r: resp.Body, timeout: idleReadTimeout}, restore)

	buf := make([]byte, 4096)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				h.logger.ErrorContext(ctx, "client write error during stream", "error", writeErr)
				break
			}
			if flusher != nil {
				flusher.Flush()
			}
			h.metrics.IncrementStreamFrame(route.Adapter.Name())
		}
		if readErr != nil {
			if readErr != io.EOF {
				h.logger.ErrorContext(ctx, "upstream stream read error", "error", readErr)
			}
			break
		}
	}

	h.recordAudit(ctx, pctx, prepared, resp.StatusCode, len(body))
	h.metrics.IncrementRequest(route.Adapter.Name(), "ok")
}

// deadlineReader enforces the idle-between-frames timeout of spec.md §4.5 by
// racing each upstream Read against timeout.
type deadlineReader struct {
	r       io.Reader
	timeout time.Duration
}

func (d deadlineReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := d.r.Read(p)
		done <- result{n, err}
	}()

	select {
	case res := <-done:
		return res.n, res.err
	case <-time.After(d.timeout):
		return 0, dErrors.New(dErrors.CodeUpstreamError, "upstream idle timeout between frames")
	}
}

func (h *Handler) contextFrom(ctx context.Context, provider string) policy.Context {
	caller := requestcontext.Caller(ctx)
	if caller == "" {
		caller = provider + "-proxy"
	}
	region := requestcontext.Region(ctx)
	if region == "" {
		region = h.defaultRegion
	}
	env := requestcontext.Env(ctx)
	if env == "" {
		env = h.defaultEnv
	}
	conversationID := requestcontext.ConversationID(ctx)
	if conversationID == "" {
		conversationID = uuid.New().String()
	}
	return policy.Context{Caller: caller, Region: region, Env: env, ConversationID: conversationID}
}

// recordBreaker feeds a dial/transport-level outcome into that provider's
// breaker. err here is only ever the connect/transport failure client.Do
// itself returns — a non-2xx application response from the provider is not
// a breaker failure, since the upstream is reachable and answering.
func (h *Handler) recordBreaker(provider string, err error) {
	breaker := h.breakers[provider]
	if breaker == nil {
		return
	}
	var change circuit.StateChange
	if err != nil {
		_, change = breaker.RecordFailure()
	} else {
		_, change = breaker.RecordSuccess()
	}
	if change.Opened {
		h.logger.Warn("upstream circuit opened", "provider", provider)
	} else if change.Closed {
		h.logger.Info("upstream circuit closed", "provider", provider)
	}
}

func (h *Handler) writeAdapterError(w http.ResponseWriter, a Adapter, err error) {
	coded, ok := dErrors.As(err)
	status := http.StatusBadGateway
	if ok {
		status = coded.HTTPStatus()
	}
	h.logger.Error("proxy request failed", "provider", a.Name(), "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(a.ErrorBody(safeMessage(coded)))
}

func safeMessage(coded *dErrors.Error) string {
	if coded == nil || coded.Code == dErrors.CodeInternal {
		return "internal error"
	}
	return coded.Message
}

func (h *Handler) recordAudit(ctx context.Context, pctx policy.Context, prepared *PreparedRequest, statusCode, payloadSize int) {
	if h.svc == nil || prepared == nil {
		return
	}
	h.svc.WriteAudit(audit.Record{
		Timestamp:        requestcontext.Now(ctx).UTC(),
		Action:           "route",
		ClientIP:         requestcontext.ClientIP(ctx),
		Caller:           pctx.Caller,
		Region:           pctx.Region,
		Env:              pctx.Env,
		ConversationID:   pctx.ConversationID,
		Categories:       categoryObservations(prepared.Spans),
		Decision:         string(prepared.Decision.Action),
		TargetModel:      prepared.Decision.TargetModel,
		RedactionCount:   len(prepared.Spans),
		PayloadSizeBytes: payloadSize,
		StatusCode:       statusCode,
		PolicyVersion:    prepared.Decision.PolicyVersion,
		Reason:           prepared.Decision.Reason,
	})
}

func targetModelFor(d policy.Decision) string {
	return d.TargetModel
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func copyHeader(w http.ResponseWriter, resp *http.Response) {
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
}

func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		max = 1 << 20
	}
	limited := io.LimitReader(r, max+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "reading request body")
	}
	if int64(len(body)) > max {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "request body exceeds maximum payload size")
	}
	return body, nil
}
