package e2e

import (
	"github.com/cucumber/godog"

	"llmfirewall/e2e/steps/common"
	"llmfirewall/e2e/steps/firewall"
)

// RegisterSteps registers all step definitions from modular packages.
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	firewall.RegisterSteps(ctx, tc)
}
