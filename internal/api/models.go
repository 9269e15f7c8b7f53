package api

import "llmfirewall/internal/policy"

// contextBody is the wire shape of the Context tuple spec.md §3 requires on
// every non-proxy endpoint: {caller, region, env, conversation_id}.
type contextBody struct {
	Caller         string `json:"caller"`
	Region         string `json:"region"`
	Env            string `json:"env"`
	ConversationID string `json:"conversation_id"`
}

func (c contextBody) toPolicy() policy.Context {
	return policy.Context{
		Caller:         c.Caller,
		Region:         c.Region,
		Env:            c.Env,
		ConversationID: c.ConversationID,
	}
}

type categoryOut struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

type classifyRequest struct {
	Payload string      `json:"payload"`
	Context contextBody `json:"context"`
}

type classifyResponse struct {
	OK              bool          `json:"ok"`
	Categories      []categoryOut `json:"categories"`
	Decision        string        `json:"decision"`
	SuggestedAction string        `json:"suggested_action"`
}

type redactRequest struct {
	Payload string      `json:"payload"`
	Context contextBody `json:"context"`
}

type redactResponse struct {
	SanitizedPayload string `json:"sanitized_payload"`
	TokenMapHandle   string `json:"token_map_handle"`
}

type detokenizeRequest struct {
	Payload         string      `json:"payload"`
	TokenMapHandle  string      `json:"token_map_handle"`
	AllowCategories []string    `json:"allow_categories"`
	Context         contextBody `json:"context"`
}

type detokenizeResponse struct {
	RestoredPayload string `json:"restored_payload"`
}

type modelRequestBody struct {
	Text string `json:"text"`
}

type routeRequest struct {
	ModelRequest modelRequestBody `json:"model_request"`
	Context      contextBody      `json:"context"`
}

type routeDecisionOut struct {
	Action                      string   `json:"action"`
	TargetModel                 string   `json:"target_model,omitempty"`
	RequiresRedaction           bool     `json:"requires_redaction"`
	AllowedDetokenizeCategories []string `json:"allowed_detokenize_categories"`
	PolicyVersion               int      `json:"policy_version"`
	Reason                      string   `json:"reason,omitempty"`
}

type routeResponse struct {
	Decision  routeDecisionOut `json:"decision"`
	PreSteps  []string         `json:"pre_steps"`
	PostSteps []string         `json:"post_steps"`
}

type auditQueryRequest struct {
	Q     string `json:"q"`
	Limit int    `json:"limit"`
}

type healthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	TokenBackend string `json:"token_backend"`
	PolicyVersion int   `json:"policy_version"`
	SIEMEnabled  bool   `json:"siem_enabled"`
}
