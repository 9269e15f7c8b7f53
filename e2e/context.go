// Package e2e runs spec.md §8's literal end-to-end scenarios against an
// in-process router built from the same wiring cmd/server uses, via godog.
package e2e

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"llmfirewall/internal/api"
	"llmfirewall/internal/audit"
	"llmfirewall/internal/classifier"
	"llmfirewall/internal/detector"
	"llmfirewall/internal/policy"
	"llmfirewall/internal/proxy"
	"llmfirewall/internal/safety"
	"llmfirewall/internal/siem"
	"llmfirewall/internal/token"
)

// TestContext carries the router under test and the state one scenario
// threads between steps: the last response, a remembered token handle, and
// a small string scratchpad for values steps stash for later assertions.
type TestContext struct {
	router   http.Handler
	upstream *mockUpstream

	lastStatus   int
	lastBody     map[string]any
	lastRaw      []byte
	streamFrames [][]byte

	context contextFields
	handle  string
	values  map[string]string
}

type contextFields struct {
	Caller, Region, Env, ConversationID string
}

// NewTestContext builds a fresh in-process firewall: an in-memory token
// store, the bundled test policy document, the API router, and a proxy
// router pointed at an in-process mock upstream standing in for OpenAI —
// mirroring cmd/server's construction order without its process-lifecycle
// concerns.
func NewTestContext(policyPath string) (*TestContext, error) {
	doc, err := policy.Load(policyPath)
	if err != nil {
		return nil, err
	}

	det := detector.New(nil)
	cls := classifier.New(classifier.DefaultThreshold)
	engine := policy.New(doc, nil)
	store := token.NewInMemory(time.Hour, nil)
	gen := token.NewGenerator([]byte("e2e-fixture-salt-0123456789abcdef"))
	tokenSvc := token.NewService(det, cls, engine, store, gen, time.Hour)

	forwarder := audit.NewSIEMForwarder(siem.NopShipper{}, 100, 0, 0, nil)
	auditLogger, err := audit.NewLogger(auditFilePath(), forwarder, nil)
	if err != nil {
		return nil, err
	}

	apiHandler := api.New(det, cls, engine, doc, tokenSvc, auditLogger, nil, "e2e", "memory", false, 1<<20)

	router := chi.NewRouter()
	router.Use(api.MCPHeaders)
	apiHandler.Register(router)

	upstream := newMockUpstream()
	safetyFilter := safety.New(nil)
	proxySvc := proxy.NewService(tokenSvc, doc, auditLogger, safetyFilter, safety.ModeWarning, nil)
	proxyHandler := proxy.New(proxySvc, []proxy.ProviderRoute{
		{Path: "/v1/chat/completions", Method: http.MethodPost, Adapter: proxy.OpenAI{}, BaseURL: upstream.URL()},
	}, nil, nil, "us", "prod", 1<<20)
	proxyHandler.Register(router)

	return &TestContext{router: router, upstream: upstream, values: map[string]string{}}, nil
}

func auditFilePath() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("llmfirewall-e2e-audit-%d.jsonl", os.Getpid()))
}

// Reset clears scenario-local state between godog scenarios; the router and
// its in-memory stores are rebuilt by the suite itself, not here.
func (tc *TestContext) Reset() {
	tc.lastStatus = 0
	tc.lastBody = nil
	tc.lastRaw = nil
	tc.streamFrames = nil
	tc.context = contextFields{}
	tc.handle = ""
	tc.values = map[string]string{}
	tc.upstream.handler = tc.upstream.defaultHandler
}

func (tc *TestContext) SetContext(caller, region, env, conversationID string) {
	tc.context = contextFields{Caller: caller, Region: region, Env: env, ConversationID: conversationID}
}

func (tc *TestContext) ContextBody() map[string]any {
	return map[string]any{
		"caller":          tc.context.Caller,
		"region":          tc.context.Region,
		"env":             tc.context.Env,
		"conversation_id": tc.context.ConversationID,
	}
}

func (tc *TestContext) POST(path string, body any) error {
	req := jsonRequest(http.MethodPost, path, body)
	rr := httptest.NewRecorder()
	tc.router.ServeHTTP(rr, req)

	tc.lastStatus = rr.Code
	tc.lastRaw = rr.Body.Bytes()
	tc.lastBody = decodeJSONObject(tc.lastRaw)
	return nil
}

// SetMockUpstreamSplitPlaceholder scripts the mock OpenAI upstream to echo
// back whatever placeholder the firewall substituted into the forwarded
// request, split across two SSE frames (spec.md §8 S6).
func (tc *TestContext) SetMockUpstreamSplitPlaceholder() {
	tc.upstream.streamPlaceholderSplitAcrossFrames()
}

// PostStream sends a raw JSON body (used for the proxy routes, which don't
// carry the {caller,region,env,conversation_id} tuple in the body) with the
// scenario's context lifted into X-MCP-* headers, and captures each flushed
// chunk of the streamed response separately so steps can inspect frame
// boundaries.
func (tc *TestContext) PostStream(path, rawBody string) error {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(rawBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-MCP-Caller", tc.context.Caller)
	req.Header.Set("X-MCP-Region", tc.context.Region)
	req.Header.Set("X-MCP-Env", tc.context.Env)
	req.Header.Set("X-MCP-Conversation-ID", tc.context.ConversationID)

	fr := newFlushRecorder()
	tc.router.ServeHTTP(fr, req)
	fr.Flush()

	tc.lastStatus = fr.status
	tc.streamFrames = fr.frames
	var all bytes.Buffer
	for _, frame := range fr.frames {
		all.Write(frame)
	}
	tc.lastRaw = all.Bytes()
	tc.lastBody = nil
	return nil
}

func (tc *TestContext) StreamFrames() [][]byte { return tc.streamFrames }

func (tc *TestContext) LastStatusCode() int { return tc.lastStatus }
func (tc *TestContext) LastRawBody() string { return string(tc.lastRaw) }

func (tc *TestContext) GetResponseField(field string) (any, error) {
	return getField(tc.lastBody, field)
}

func (tc *TestContext) GetNestedResponseField(parent, field string) (any, error) {
	nested, ok := tc.lastBody[parent].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("response has no object field %q", parent)
	}
	return getField(nested, field)
}

func (tc *TestContext) ResponseContains(field string) bool {
	_, ok := tc.lastBody[field]
	return ok
}

func (tc *TestContext) SetValue(key, val string)   { tc.values[key] = val }
func (tc *TestContext) GetValue(key string) string { return tc.values[key] }

func (tc *TestContext) SetHandle(h string) { tc.handle = h }
func (tc *TestContext) GetHandle() string  { return tc.handle }

// flushRecorder is an http.ResponseWriter that records each distinct
// Flush()-delimited write as its own frame, since httptest.ResponseRecorder
// collapses everything into one buffer and loses the SSE framing S6 needs
// to verify.
type flushRecorder struct {
	header http.Header
	status int
	frames [][]byte
	buf    bytes.Buffer
}

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{header: http.Header{}, status: http.StatusOK}
}

func (f *flushRecorder) Header() http.Header { return f.header }

func (f *flushRecorder) Write(b []byte) (int, error) { return f.buf.Write(b) }

func (f *flushRecorder) WriteHeader(status int) { f.status = status }

func (f *flushRecorder) Flush() {
	if f.buf.Len() == 0 {
		return
	}
	f.frames = append(f.frames, append([]byte(nil), f.buf.Bytes()...))
	f.buf.Reset()
}
