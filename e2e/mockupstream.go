package e2e

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
)

// mockUpstream stands in for a real LLM provider: its handler is swappable
// per scenario so a step can script the exact SSE framing S6 needs to
// exercise without a real network call.
type mockUpstream struct {
	server  *httptest.Server
	handler http.HandlerFunc
}

func newMockUpstream() *mockUpstream {
	m := &mockUpstream{}
	m.handler = m.defaultHandler
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.handler(w, r)
	}))
	return m
}

func (m *mockUpstream) URL() string { return m.server.URL }

func (m *mockUpstream) defaultHandler(w http.ResponseWriter, r *http.Request) {
	_, _ = io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{"message": map[string]any{"content": "ok"}}},
	})
}

var placeholderPattern = regexp.MustCompile(`«token:[A-Z0-9_]+:[0-9a-f]{8}»`)

// streamPlaceholderSplitAcrossFrames reads the sanitized placeholder the
// firewall already substituted into the inbound request, echoes it back as
// the assistant's reply, and writes the reply as two SSE "data:" frames
// split in the middle of the placeholder itself — spec.md §8 S6's literal
// setup for "split across two frames".
func (m *mockUpstream) streamPlaceholderSplitAcrossFrames() {
	m.handler = func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		placeholder := placeholderPattern.FindString(string(raw))
		if placeholder == "" {
			placeholder = "«token:UNKNOWN:00000000»"
		}

		content := "The card on file is " + placeholder + ", let me know if that's wrong."
		splitAt := indexOf(content, placeholder) + len("«token:") + 3

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)

		writeSSEDelta(w, content[:splitAt])
		if flusher != nil {
			flusher.Flush()
		}
		writeSSEDelta(w, content[splitAt:])
		if flusher != nil {
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func writeSSEDelta(w io.Writer, content string) {
	delta := map[string]any{
		"choices": []map[string]any{{"delta": map[string]any{"content": content}}},
	}
	b, _ := json.Marshal(delta)
	fmt.Fprintf(w, "data: %s\n\n", b)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
