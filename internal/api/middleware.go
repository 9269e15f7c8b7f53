package api

import (
	"net/http"
	"strings"
	"time"

	"llmfirewall/pkg/requestcontext"
)

// MCPHeaders lifts the caller/region/env/conversation headers spec.md §6
// recognizes on every proxy and API endpoint into requestcontext, so
// downstream services never touch net/http directly. It also stamps the
// request's client IP/User-Agent and a single request-scoped "now" into
// the context, so every audit record this request produces — classify,
// then redact, then detokenize — shares one timestamp instead of drifting
// across however many time.Now() calls the pipeline makes.
func MCPHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if v := r.Header.Get("X-MCP-Caller"); v != "" {
			ctx = requestcontext.WithCaller(ctx, v)
		}
		if v := r.Header.Get("X-MCP-Region"); v != "" {
			ctx = requestcontext.WithRegion(ctx, v)
		}
		if v := r.Header.Get("X-MCP-Env"); v != "" {
			ctx = requestcontext.WithEnv(ctx, v)
		}
		if v := r.Header.Get("X-MCP-Conversation-ID"); v != "" {
			ctx = requestcontext.WithConversationID(ctx, v)
		}
		ctx = requestcontext.WithClientMetadata(ctx, clientIP(r), r.Header.Get("User-Agent"))
		ctx = requestcontext.WithTime(ctx, time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIP extracts the real client address from the usual proxy headers,
// falling back to the direct connection's RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if addr := r.RemoteAddr; addr != "" {
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return addr[:idx]
		}
		return addr
	}
	return ""
}
