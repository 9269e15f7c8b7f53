package testutil

import (
	"context"
	"net/http"

	"llmfirewall/pkg/requestcontext"
)

// WithCaller adds a caller identifier to the request context, the way the
// caller-resolution middleware would for a real request.
func WithCaller(req *http.Request, caller string) *http.Request {
	ctx := requestcontext.WithCaller(req.Context(), caller)
	return req.WithContext(ctx)
}

// WithRegion adds a region to the request context.
func WithRegion(req *http.Request, region string) *http.Request {
	ctx := requestcontext.WithRegion(req.Context(), region)
	return req.WithContext(ctx)
}

// WithPolicyDimensions adds caller, region, and conversation ID to the request
// context in one call. This is the typical state for a fully-addressed request.
func WithPolicyDimensions(req *http.Request, caller, region, conversationID string) *http.Request {
	ctx := req.Context()
	ctx = requestcontext.WithCaller(ctx, caller)
	ctx = requestcontext.WithRegion(ctx, region)
	ctx = requestcontext.WithConversationID(ctx, conversationID)
	return req.WithContext(ctx)
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), key, value))
}
