// Package httputil provides small helpers shared by every HTTP handler:
// JSON encoding, coded-error responses, and request body decoding.
package httputil

import (
	"encoding/json"
	"io"
	"net/http"

	dErrors "llmfirewall/pkg/errors"
)

// WriteJSON encodes v as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the wire shape of every error body. error_description is
// omitted via omitempty for CodeInternal, whose details never leave the process.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteError writes err as a JSON error body at its mapped HTTP status.
// Non-coded errors are treated as internal errors so their message is
// never leaked to the caller.
func WriteError(w http.ResponseWriter, err error) {
	coded, ok := dErrors.As(err)
	if !ok {
		coded = dErrors.New(dErrors.CodeInternal, err.Error())
	}

	resp := errorResponse{Error: string(coded.Code)}
	if coded.Code != dErrors.CodeInternal {
		resp.ErrorDescription = coded.Message
	}
	WriteJSON(w, coded.HTTPStatus(), resp)
}

const defaultMaxBodyBytes = 1 << 20

// DecodeAndPrepare reads and JSON-decodes the request body into T, enforcing
// maxBodyBytes (0 means defaultMaxBodyBytes) and rejecting unknown fields.
// Returns a CodeInvalidInput error on any decode failure.
func DecodeAndPrepare[T any](r *http.Request, maxBodyBytes int64) (T, error) {
	var out T
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}

	limited := io.LimitReader(r.Body, maxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return out, dErrors.Wrap(err, dErrors.CodeInvalidInput, "failed to read request body")
	}
	if int64(len(body)) > maxBodyBytes {
		return out, dErrors.New(dErrors.CodeInvalidInput, "request body exceeds maximum payload size")
	}

	if err := json.Unmarshal(body, &out); err != nil {
		return out, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed JSON body")
	}
	return out, nil
}
