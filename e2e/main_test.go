package e2e

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cucumber/godog"
)

const testPolicyPath = "testdata/policy.yaml"

// TestFeatures runs every *.feature file under e2e/features against a fresh
// in-process firewall per scenario.
func TestFeatures(t *testing.T) {
	policyPath, err := filepath.Abs(testPolicyPath)
	if err != nil {
		t.Fatalf("resolving test policy path: %v", err)
	}
	if _, err := os.Stat(policyPath); err != nil {
		t.Fatalf("test policy fixture missing: %v", err)
	}

	suite := godog.TestSuite{
		Name: "llmfirewall",
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			tc, err := NewTestContext(policyPath)
			if err != nil {
				t.Fatalf("building test context: %v", err)
			}
			sc.Before(func(ctx context.Context, s *godog.Scenario) (context.Context, error) {
				tc.Reset()
				return ctx, nil
			})
			RegisterSteps(sc, tc)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned from godog, failed scenarios")
	}
}
