package proxy

import (
	"encoding/json"

	dErrors "llmfirewall/pkg/errors"
)

// OpenAI implements Adapter for POST /v1/chat/completions.
type OpenAI struct{}

func (OpenAI) Name() string { return "openai" }

func (OpenAI) UpstreamPath(requestPath string) string { return requestPath }

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type openAIMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type openAIContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func (OpenAI) IsStreaming(body []byte) bool {
	var req struct {
		Stream bool `json:"stream"`
	}
	_ = json.Unmarshal(body, &req)
	return req.Stream
}

func (OpenAI) Model(body []byte) string {
	var req struct {
		Model string `json:"model"`
	}
	_ = json.Unmarshal(body, &req)
	return req.Model
}

// ExtractTexts walks messages[*].content, handling both the plain string
// form and the array-of-parts (vision) form; only "text" parts contribute.
func (OpenAI) ExtractTexts(body []byte) ([]string, error) {
	var req openAIRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed openai request body")
	}

	var texts []string
	for _, msg := range req.Messages {
		if len(msg.Content) == 0 {
			continue
		}
		if s, ok := decodeJSONString(msg.Content); ok {
			texts = append(texts, s)
			continue
		}
		var parts []openAIContentPart
		if err := json.Unmarshal(msg.Content, &parts); err != nil {
			continue
		}
		for _, p := range parts {
			if p.Type == "text" {
				texts = append(texts, p.Text)
			}
		}
	}
	return texts, nil
}

// Rewrite splices sanitizedTexts back into messages[*].content in the same
// order ExtractTexts walked them, and overwrites model when targetModel is
// non-empty.
func (OpenAI) Rewrite(body []byte, sanitizedTexts []string, targetModel string) ([]byte, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed openai request body")
	}

	var messages []openAIMessage
	if err := json.Unmarshal(raw["messages"], &messages); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed openai messages field")
	}

	idx := 0
	for i, msg := range messages {
		if len(msg.Content) == 0 {
			continue
		}
		if _, ok := decodeJSONString(msg.Content); ok {
			if idx >= len(sanitizedTexts) {
				return nil, dErrors.New(dErrors.CodeInternal, "sanitized text count mismatch")
			}
			encoded, err := json.Marshal(sanitizedTexts[idx])
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encoding sanitized message content")
			}
			messages[i].Content = encoded
			idx++
			continue
		}
		var parts []openAIContentPart
		if err := json.Unmarshal(msg.Content, &parts); err != nil {
			continue
		}
		for j, p := range parts {
			if p.Type != "text" {
				continue
			}
			if idx >= len(sanitizedTexts) {
				return nil, dErrors.New(dErrors.CodeInternal, "sanitized text count mismatch")
			}
			parts[j].Text = sanitizedTexts[idx]
			idx++
		}
		encoded, err := json.Marshal(parts)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encoding sanitized message parts")
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

func (OpenAI) ExtractResponseText(body []byte) (string, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUpstreamError, "malformed openai response body")
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (OpenAI) InjectResponseText(body []byte, text string) ([]byte, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUpstreamError, "malformed openai response body")
	}
	var choices []map[string]json.RawMessage
	if err := json.Unmarshal(raw["choices"], &choices); err != nil || len(choices) == 0 {
		return body, nil
	}
	var message map[string]json.RawMessage
	if err := json.Unmarshal(choices[0]["message"], &message); err != nil {
		return body, nil
	}
	encoded, err := json.Marshal(text)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encoding restored response text")
	}
	message["content"] = encoded
	encodedMessage, err := json.Marshal(message)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encoding restored response message")
	}
	choices[0]["message"] = encodedMessage
	encodedChoices, err := json.Marshal(choices)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encoding restored response choices")
	}
	raw["choices"] = encodedChoices
	return json.Marshal(raw)
}

func (OpenAI) ErrorBody(message string) []byte {
	body, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "llm_firewall_error",
		},
	})
	return body
}

func decodeJSONString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
