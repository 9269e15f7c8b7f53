package proxy

import (
	"encoding/json"

	dErrors "llmfirewall/pkg/errors"
)

// Anthropic implements Adapter for POST /v1/messages. Unlike OpenAI,
// Anthropic carries the system prompt as a top-level field rather than a
// message with role "system", so it is extracted/injected alongside the
// per-message content.
type Anthropic struct{}

func (Anthropic) Name() string { return "anthropic" }

func (Anthropic) UpstreamPath(requestPath string) string { return requestPath }

type anthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func (Anthropic) IsStreaming(body []byte) bool {
	var req struct {
		Stream bool `json:"stream"`
	}
	_ = json.Unmarshal(body, &req)
	return req.Stream
}

func (Anthropic) Model(body []byte) string {
	var req struct {
		Model string `json:"model"`
	}
	_ = json.Unmarshal(body, &req)
	return req.Model
}

// ExtractTexts returns the top-level system prompt first (if present),
// followed by every text block across messages[*].content, in order.
func (Anthropic) ExtractTexts(body []byte) ([]string, error) {
	var req struct {
		System   json.RawMessage    `json:"system"`
		Messages []anthropicMessage `json:"messages"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed anthropic request body")
	}

	var texts []string
	if len(req.System) > 0 {
		if s, ok := decodeJSONString(req.System); ok {
			texts = append(texts, s)
		} else {
			var blocks []anthropicContentBlock
			if err := json.Unmarshal(req.System, &blocks); err == nil {
				for _, b := range blocks {
					texts = append(texts, b.Text)
				}
			}
		}
	}
	for _, msg := range req.Messages {
		if len(msg.Content) == 0 {
			continue
		}
		if s, ok := decodeJSONString(msg.Content); ok {
			texts = append(texts, s)
			continue
		}
		var blocks []anthropicContentBlock
		if err := json.Unmarshal(msg.Content, &blocks); err != nil {
			continue
		}
		for _, b := range blocks {
			if b.Type == "text" {
				texts = append(texts, b.Text)
			}
		}
	}
	return texts, nil
}

func (Anthropic) Rewrite(body []byte, sanitizedTexts []string, targetModel string) ([]byte, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed anthropic request body")
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

	if sys, ok := raw["system"]; ok && len(sys) > 0 {
		if _, ok := decodeJSONString(sys); ok {
			t, err := next()
			if err != nil {
				return nil, err
			}
			encoded, err := json.Marshal(t)
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encoding sanitized system prompt")
			}
			raw["system"] = encoded
		} else {
			var blocks []anthropicContentBlock
			if err := json.Unmarshal(sys, &blocks); err == nil {
				for i := range blocks {
					t, err := next()
					if err != nil {
						return nil, err
					}
					blocks[i].Text = t
				}
				encoded, err := json.Marshal(blocks)
				if err != nil {
					return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encoding sanitized system blocks")
				}
				raw["system"] = encoded
			}
		}
	}

	var messages []anthropicMessage
	if err := json.Unmarshal(raw["messages"], &messages); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed anthropic messages field")
	}
	for i, msg := range messages {
		if len(msg.Content) == 0 {
			continue
		}
		if _, ok := decodeJSONString(msg.Content); ok {
			t, err := next()
			if err != nil {
				return nil, err
			}
			encoded, err := json.Marshal(t)
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encoding sanitized message content")
			}
			messages[i].Content = encoded
			continue
		}
		var blocks []anthropicContentBlock
		if err := json.Unmarshal(msg.Content, &blocks); err != nil {
			continue
		}
		for j, b := range blocks {
			if b.Type != "text" {
				continue
			}
			t, err := next()
			if err != nil {
				return nil, err
			}
			blocks[j].Text = t
		}
		encoded, err := json.Marshal(blocks)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encoding sanitized message blocks")
		}
		messages[i].Content = encoded
	}
	encodedMessages, err := json.Marshal(messages)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encoding sanitized messages")
	}
	raw["messages"] = encodedMessages

	if targetModel != "" {
		encodedModel, err := json.Marshal(targetModel)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encoding target model")
		}
		raw["model"] = encodedModel
	}

	return json.Marshal(raw)
}

func (Anthropic) ExtractResponseText(body []byte) (string, error) {
	var resp struct {
		Content []anthropicContentBlock `json:"content"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUpstreamError, "malformed anthropic response body")
	}
	for _, b := range resp.Content {
		if b.Type == "text" {
			return b.Text, nil
		}
	}
	return "", nil
}

func (Anthropic) InjectResponseText(body []byte, text string) ([]byte, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUpstreamError, "malformed anthropic response body")
	}
	var blocks []anthropicContentBlock
	if err := json.Unmarshal(raw["content"], &blocks); err != nil || len(blocks) == 0 {
		return body, nil
	}
	for i := range blocks {
		if blocks[i].Type == "text" {
			blocks[i].Text = text
			break
		}
	}
	encoded, err := json.Marshal(blocks)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encoding restored response content")
	}
	raw["content"] = encoded
	return json.Marshal(raw)
}

func (Anthropic) ErrorBody(message string) []byte {
	body, _ := json.Marshal(map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    "llm_firewall_error",
			"message": message,
		},
	})
	return body
}
