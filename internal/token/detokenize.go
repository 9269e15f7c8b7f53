package token

import (
	"context"
	"errors"
	"strings"

	"llmfirewall/internal/detector"
	"llmfirewall/internal/policy"
	dErrors "llmfirewall/pkg/errors"
	"llmfirewall/pkg/platform/sentinel"
)

// categoryOf maps a placeholder type label back to its Category, using the
// same fixed vocabulary the detector and classifier emit. Types not in the
// table are treated as export_control, the lowest-priority category, which
// keeps an unrecognized type from ever being restored ahead of secret's
// exclusion rule below.
var typeCategory = buildTypeCategoryTable()

func buildTypeCategoryTable() map[string]detector.Category {
	secrets := []string{
		"AWS_ACCESS_KEY", "AWS_SECRET_KEY", "AZURE_STORAGE_KEY", "AZURE_CONNECTION_STRING",
		"AZURE_SAS_TOKEN", "GCP_API_KEY", "GCP_OAUTH_CLIENT_ID", "OAUTH_BEARER", "JWT",
		"PEM_PRIVATE_KEY", "PKCS12_MARKER", "K8S_SERVICE_ACCOUNT_TOKEN", "DB_CONNECTION_STRING",
	}
	pii := []string{"CREDIT_CARD", "SSN", "EMAIL", "PHONE_E164", "PHONE_US"}
	ops := []string{"INTERNAL_DOMAIN", "PRIVATE_IPV4"}
	exportControl := []string{"EXPORT_CONTROL_KEYWORDS"}

	table := make(map[string]detector.Category)
	for _, t := range secrets {
		table[t] = detector.CategorySecret
	}
	for _, t := range pii {
		table[t] = detector.CategoryPII
	}
	for _, t := range ops {
		table[t] = detector.CategoryOpsSensitive
	}
	for _, t := range exportControl {
		table[t] = detector.CategoryExportControl
	}
	return table
}

// translateStoreError maps the infrastructure-fact sentinel errors a Store
// implementation returns into the coded errors this package's callers
// already expect. Any other error (e.g. the remote store's tamper or
// unmarshal failures) passes through unchanged — those are already coded.
func translateStoreError(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeTokenHandleMissing, "token handle unknown or expired")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeBackendUnavailable, "token store unavailable")
	default:
		return err
	}
}

// Detokenize restores placeholders present in text whose category is in
// allowCategories, for a trusted caller, per spec.md §4.4's five-step
// algorithm. Placeholders whose category is secret are never restored, even
// if a caller manages to list it in allowCategories — the exclusion is
// re-enforced here as defense in depth on top of the policy engine's own
// removal of secret from allowed_detokenize_categories (spec.md §7).
func (s *Service) Detokenize(ctx context.Context, text, handle string, allowCategories []string, caller string, isTrustedCaller bool) (string, error) {
	record, err := s.store.Get(ctx, handle)
	if err != nil {
		return "", translateStoreError(err)
	}

	if !isTrustedCaller {
		return "", dErrors.New(dErrors.CodeForbidden, "caller is not a trusted caller")
	}

	allowed := make(map[string]struct{}, len(allowCategories))
	for _, c := range allowCategories {
		if c == string(detector.CategorySecret) {
			continue
		}
		allowed[c] = struct{}{}
	}

	restored := text
	for placeholder, entry := range record.Entries {
		category, ok := typeCategory[entry.Type]
		if !ok || category == detector.CategorySecret {
			continue
		}
		if _, ok := allowed[string(category)]; !ok {
			continue
		}
		restored = strings.ReplaceAll(restored, placeholder, entry.Original)
	}

	return restored, nil
}

// DetokenizeWithDecision is a convenience wrapper that reads allowed
// categories straight off a policy.Decision, as the /detokenize and proxy
// response paths do.
func (s *Service) DetokenizeWithDecision(ctx context.Context, text, handle string, decision policy.Decision, caller string, isTrustedCaller bool) (string, error) {
	categories := make([]string, 0, len(decision.AllowedDetokenizeCategories))
	for c := range decision.AllowedDetokenizeCategories {
		categories = append(categories, c)
	}
	return s.Detokenize(ctx, text, handle, categories, caller, isTrustedCaller)
}
