// Package firewall holds the domain-specific step definitions for spec.md
// §8's literal end-to-end scenarios (S1-S6): classify, redact, detokenize,
// route, and the OpenAI streaming round trip.
package firewall

import (
	"context"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext is the subset of e2e.TestContext these steps need.
type TestContext interface {
	ContextBody() map[string]any
	POST(path string, body any) error
	PostStream(path, rawBody string) error
	SetMockUpstreamSplitPlaceholder()
	StreamFrames() [][]byte
	GetResponseField(field string) (any, error)
	GetNestedResponseField(parent, field string) (any, error)
	SetValue(key, val string)
	GetValue(key string) string
	SetHandle(h string)
	GetHandle() string
}

// RegisterSteps registers the firewall-domain step definitions.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	s := &firewallSteps{tc: tc}

	ctx.Step(`^I classify the payload "([^"]*)"$`, s.classify)
	ctx.Step(`^no category "([^"]*)" should be reported$`, s.noCategoryReported)

	ctx.Step(`^I redact the payload "([^"]*)"$`, s.redact)
	ctx.Step(`^redacting the same payload again should produce the same sanitized payload$`, s.redactAgainShouldMatch)
	ctx.Step(`^the sanitized payload should equal "([^"]*)"$`, s.sanitizedShouldEqual)

	ctx.Step(`^I detokenize the sanitized payload allowing categories "([^"]*)"$`, s.detokenize)
	ctx.Step(`^the restored payload should equal "([^"]*)"$`, s.restoredShouldEqual)
	ctx.Step(`^the restored payload should still contain a placeholder$`, s.restoredShouldContainPlaceholder)

	ctx.Step(`^I route the model request "([^"]*)"$`, s.route)
	ctx.Step(`^the route decision action should be "([^"]*)"$`, s.routeActionShouldBe)
	ctx.Step(`^the target model should be "([^"]*)"$`, s.targetModelShouldBe)

	ctx.Step(`^the mock OpenAI upstream streams a credit card placeholder split across two frames$`, s.scriptStreamingUpstream)
	ctx.Step(`^I POST a streaming chat completion containing "([^"]*)"$`, s.postStreamingChatCompletion)
	ctx.Step(`^the streamed response should contain the original credit card "([^"]*)"$`, s.streamedResponseShouldContain)
	ctx.Step(`^no placeholder fragment should leak to the client$`, s.noPlaceholderFragmentShouldLeak)
}

type firewallSteps struct {
	tc TestContext
}

func (s *firewallSteps) classify(ctx context.Context, payload string) error {
	return s.tc.POST("/classify", map[string]any{"payload": payload, "context": s.tc.ContextBody()})
}

func (s *firewallSteps) noCategoryReported(ctx context.Context, category string) error {
	categories, err := s.tc.GetResponseField("categories")
	if err != nil {
		return err
	}
	list, ok := categories.([]any)
	if !ok {
		return fmt.Errorf("categories field is not a list: %v", categories)
	}
	for _, c := range list {
		entry, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if fmt.Sprintf("%v", entry["type"]) == category {
			return fmt.Errorf("category %q unexpectedly reported", category)
		}
	}
	return nil
}

func (s *firewallSteps) redact(ctx context.Context, payload string) error {
	s.tc.SetValue("last_payload", payload)
	if err := s.tc.POST("/redact", map[string]any{"payload": payload, "context": s.tc.ContextBody()}); err != nil {
		return err
	}
	if sanitized, err := s.tc.GetResponseField("sanitized_payload"); err == nil {
		s.tc.SetValue("last_sanitized", fmt.Sprintf("%v", sanitized))
	}
	if handle, err := s.tc.GetResponseField("token_map_handle"); err == nil {
		s.tc.SetHandle(fmt.Sprintf("%v", handle))
	}
	return nil
}

func (s *firewallSteps) redactAgainShouldMatch(ctx context.Context) error {
	first := s.tc.GetValue("last_sanitized")
	if err := s.redact(ctx, s.tc.GetValue("last_payload")); err != nil {
		return err
	}
	second := s.tc.GetValue("last_sanitized")
	if first != second {
		return fmt.Errorf("sanitized payload changed across two redact calls: %q vs %q", first, second)
	}
	return nil
}

func (s *firewallSteps) sanitizedShouldEqual(ctx context.Context, expected string) error {
	got, err := s.tc.GetResponseField("sanitized_payload")
	if err != nil {
		return err
	}
	if fmt.Sprintf("%v", got) != expected {
		return fmt.Errorf("sanitized_payload: expected %q, got %q", expected, got)
	}
	return nil
}

func (s *firewallSteps) detokenize(ctx context.Context, categoriesCSV string) error {
	var allow []string
	if categoriesCSV != "" {
		allow = strings.Split(categoriesCSV, ",")
	}
	return s.tc.POST("/detokenize", map[string]any{
		"payload":          s.tc.GetValue("last_sanitized"),
		"token_map_handle": s.tc.GetHandle(),
		"allow_categories": allow,
		"context":          s.tc.ContextBody(),
	})
}

func (s *firewallSteps) restoredShouldEqual(ctx context.Context, expected string) error {
	got, err := s.tc.GetResponseField("restored_payload")
	if err != nil {
		return err
	}
	if fmt.Sprintf("%v", got) != expected {
		return fmt.Errorf("restored_payload: expected %q, got %q", expected, got)
	}
	return nil
}

func (s *firewallSteps) restoredShouldContainPlaceholder(ctx context.Context) error {
	got, err := s.tc.GetResponseField("restored_payload")
	if err != nil {
		return err
	}
	if !strings.Contains(fmt.Sprintf("%v", got), "«token:") {
		return fmt.Errorf("expected restored_payload to still carry a placeholder, got %q", got)
	}
	return nil
}

func (s *firewallSteps) route(ctx context.Context, text string) error {
	return s.tc.POST("/route", map[string]any{
		"model_request": map[string]any{"text": text},
		"context":       s.tc.ContextBody(),
	})
}

func (s *firewallSteps) routeActionShouldBe(ctx context.Context, expected string) error {
	got, err := s.tc.GetNestedResponseField("decision", "action")
	if err != nil {
		return err
	}
	if fmt.Sprintf("%v", got) != expected {
		return fmt.Errorf("decision.action: expected %q, got %q", expected, got)
	}
	return nil
}

func (s *firewallSteps) targetModelShouldBe(ctx context.Context, expected string) error {
	got, err := s.tc.GetNestedResponseField("decision", "target_model")
	if err != nil {
		return err
	}
	if fmt.Sprintf("%v", got) != expected {
		return fmt.Errorf("decision.target_model: expected %q, got %q", expected, got)
	}
	return nil
}

func (s *firewallSteps) scriptStreamingUpstream(ctx context.Context) error {
	s.tc.SetMockUpstreamSplitPlaceholder()
	return nil
}

func (s *firewallSteps) postStreamingChatCompletion(ctx context.Context, cardNumber string) error {
	s.tc.SetValue("card_number", cardNumber)
	body := fmt.Sprintf(`{"model":"gpt-4o","stream":true,"messages":[{"role":"user","content":"my card is %s"}]}`, cardNumber)
	return s.tc.PostStream("/v1/chat/completions", body)
}

func (s *firewallSteps) streamedResponseShouldContain(ctx context.Context, cardNumber string) error {
	var all strings.Builder
	for _, frame := range s.tc.StreamFrames() {
		all.Write(frame)
	}
	if !strings.Contains(all.String(), cardNumber) {
		return fmt.Errorf("streamed response did not contain the restored card number %q", cardNumber)
	}
	return nil
}

// noPlaceholderFragmentShouldLeak checks that the client-facing stream never
// carries any trace of the raw placeholder — whole or split across frames —
// since a trusted, allowed caller should only ever see the restored value
// (spec.md §8 testable property 10).
func (s *firewallSteps) noPlaceholderFragmentShouldLeak(ctx context.Context) error {
	for _, frame := range s.tc.StreamFrames() {
		if strings.ContainsRune(string(frame), '«') {
			return fmt.Errorf("a frame still carried an unrestored placeholder fragment: %q", frame)
		}
	}
	return nil
}
