// Package common holds the generic request/assertion steps every scenario
// shares: setting the caller context, reading response fields, checking
// status codes — the bits that don't know anything about the firewall's
// domain.
package common

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext is the subset of e2e.TestContext these steps need.
type TestContext interface {
	SetContext(caller, region, env, conversationID string)
	LastStatusCode() int
	GetResponseField(field string) (any, error)
	ResponseContains(field string) bool
}

// RegisterSteps registers the generic step definitions.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	s := &commonSteps{tc: tc}

	ctx.Step(`^the firewall is reachable$`, s.firewallIsReachable)
	ctx.Step(`^the context caller "([^"]*)" region "([^"]*)" env "([^"]*)" conversation "([^"]*)"$`, s.setContext)
	ctx.Step(`^the response status should be (\d+)$`, s.statusShouldBe)
	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, s.fieldShouldEqual)
	ctx.Step(`^the response should contain field "([^"]*)"$`, s.shouldContainField)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) firewallIsReachable(ctx context.Context) error {
	return nil
}

func (s *commonSteps) setContext(ctx context.Context, caller, region, env, conversationID string) error {
	s.tc.SetContext(caller, region, env, conversationID)
	return nil
}

func (s *commonSteps) statusShouldBe(ctx context.Context, expected int) error {
	if got := s.tc.LastStatusCode(); got != expected {
		return fmt.Errorf("expected status %d, got %d", expected, got)
	}
	return nil
}

func (s *commonSteps) fieldShouldEqual(ctx context.Context, field, expected string) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if fmt.Sprintf("%v", v) != expected {
		return fmt.Errorf("field %q: expected %q, got %q", field, expected, v)
	}
	return nil
}

func (s *commonSteps) shouldContainField(ctx context.Context, field string) error {
	if !s.tc.ResponseContains(field) {
		return fmt.Errorf("response is missing field %q", field)
	}
	return nil
}
