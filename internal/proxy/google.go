package proxy

import (
	"encoding/json"
	"strings"

	dErrors "llmfirewall/pkg/errors"
)

// Google implements Adapter for POST /v1beta/models/{model}:generateContent
// and its streaming sibling. The model lives in the URL path rather than the
// body, so Model and UpstreamPath cooperate: Model reads it off a path the
// caller passed in via context (see Service), UpstreamPath rewrites it when
// the policy engine names a different target model.
type Google struct {
	// RequestModel is set by the handler before ExtractTexts/Rewrite run,
	// since Google's request body carries no model field of its own.
	RequestModel string
}

func (Google) Name() string { return "google" }

// UpstreamPath rewrites the {model} path segment to g.RequestModel, letting
// callers build the path once from the incoming request and again after the
// policy engine has (possibly) chosen an internal-only model.
func (g Google) UpstreamPath(requestPath string) string {
	if g.RequestModel == "" {
		return requestPath
	}
	idx := strings.LastIndex(requestPath, "/models/")
	if idx < 0 {
		return requestPath
	}
	action := "generateContent"
	if colon := strings.LastIndex(requestPath, ":"); colon > idx {
		action = requestPath[colon+1:]
	}
	return requestPath[:idx] + "/models/" + g.RequestModel + ":" + action
}

func (Google) IsStreaming(_ []byte) bool {
	// Google signals streaming via the URL (streamGenerateContent), not the
	// body; Handler.handle checks the request path itself for this adapter
	// (see IsStreamingPath) rather than asking the Adapter.
	return false
}

// IsStreamingPath reports whether requestPath names Google's streaming
// action, since the body alone carries no such signal.
func IsStreamingPath(requestPath string) bool {
	return strings.Contains(requestPath, ":streamGenerateContent")
}

// ModelFromPath extracts the {model} path segment Google's routes carry,
// e.g. "gemini-pro" from ".../models/gemini-pro:generateContent". Returns
// "" if the path doesn't match the expected shape.
func ModelFromPath(requestPath string) string {
	idx := strings.LastIndex(requestPath, "/models/")
	if idx < 0 {
		return ""
	}
	rest := requestPath[idx+len("/models/"):]
	if colon := strings.IndexByte(rest, ':'); colon >= 0 {
		rest = rest[:colon]
	}
	return rest
}

func (g Google) Model(_ []byte) string { return g.RequestModel }

type googlePart struct {
	Text string `json:"text,omitempty"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

// ExtractTexts returns systemInstruction.parts[*].text first (if present),
// followed by contents[*].parts[*].text in order.
func (Google) ExtractTexts(body []byte) ([]string, error) {
	var req struct {
		SystemInstruction *googleContent  `json:"systemInstruction"`
		Contents          []googleContent `json:"contents"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed google request body")
	}

	var texts []string
	if req.SystemInstruction != nil {
		for _, p := range req.SystemInstruction.Parts {
			texts = append(texts, p.Text)
		}
	}
	for _, c := range req.Contents {
		for _, p := range c.Parts {
			texts = append(texts, p.Text)
		}
	}
	return texts, nil
}

func (Google) Rewrite(body []byte, sanitizedTexts []string, targetModel string) ([]byte, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed google request body")
	}

	idx := 0
	next := func() (string, error) {
		if idx >= len(sanitizedTexts) {
			return "", dErrors.New(dErrors.CodeInternal, "sanitized text count mismatch")
		}
		t := sanitizedTexts[idx]
		idx++
		return t, nil
	}

	if sysRaw, ok := raw["systemInstruction"]; ok && len(sysRaw) > 0 {
		var sys googleContent
		if err := json.Unmarshal(sysRaw, &sys); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed google systemInstruction field")
		}
		for i := range sys.Parts {
			t, err := next()
			if err != nil {
				return nil, err
			}
			sys.Parts[i].Text = t
		}
		encoded, err := json.Marshal(sys)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encoding sanitized systemInstruction")
		}
		raw["systemInstruction"] = encoded
	}

	var contents []googleContent
	if err := json.Unmarshal(raw["contents"], &contents); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed google contents field")
	}
	for i, c := range contents {
		for j := range c.Parts {
			t, err := next()
			if err != nil {
				return nil, err
			}
			contents[i].Parts[j].Text = t
		}
	}
	encodedContents, err := json.Marshal(contents)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encoding sanitized contents")
	}
	raw["contents"] = encodedContents

	// targetModel is applied by the caller rewriting the URL path
	// (UpstreamPath), since Google carries no model field in the body.
	_ = targetModel

	return json.Marshal(raw)
}

func (Google) ExtractResponseText(body []byte) (string, error) {
	var resp struct {
		Candidates []struct {
			Content googleContent `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUpstreamError, "malformed google response body")
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", nil
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

func (Google) InjectResponseText(body []byte, text string) ([]byte, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUpstreamError, "malformed google response body")
	}
	var candidates []map[string]json.RawMessage
	if err := json.Unmarshal(raw["candidates"], &candidates); err != nil || len(candidates) == 0 {
		return body, nil
	}
	var content googleContent
	if err := json.Unmarshal(candidates[0]["content"], &content); err != nil || len(content.Parts) == 0 {
		return body, nil
	}
	content.Parts[0].Text = text
	encodedContent, err := json.Marshal(content)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encoding restored response content")
	}
	candidates[0]["content"] = encodedContent
	encodedCandidates, err := json.Marshal(candidates)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encoding restored response candidates")
	}
	raw["candidates"] = encodedCandidates
	return json.Marshal(raw)
}

func (Google) ErrorBody(message string) []byte {
	body, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"code":    403,
			"message": message,
			"status":  "PERMISSION_DENIED",
		},
	})
	return body
}
