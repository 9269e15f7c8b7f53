package policy

import (
	"fmt"

	"llmfirewall/internal/detector"
	"llmfirewall/internal/policy/metrics"
)

// Context is the caller/region/env/conversation tuple every decision is
// made against. All four fields are required (spec.md §3).
type Context struct {
	Caller         string
	Region         string
	Env            string
	ConversationID string
}

// Decision is the policy engine's output for one request.
type Decision struct {
	Action                     Action
	TargetModel                string
	RequiresRedaction          bool
	AllowedDetokenizeCategories map[string]struct{}
	PolicyVersion              int
	Reason                     string
}

// Engine composes detector/classifier spans with a Context and a Document
// into a Decision. Pure over its inputs: same (spans, ctx) with the same
// loaded document always yields the same Decision (spec.md §4.3, testable
// property 8).
type Engine struct {
	doc     *Document
	metrics *metrics.Metrics
}

// New builds an Engine over doc. m may be nil.
func New(doc *Document, m *metrics.Metrics) *Engine {
	return &Engine{doc: doc, metrics: m}
}

// Decide runs the ten-step algorithm from spec.md §4.3.
func (e *Engine) Decide(spans []detector.Span, ctx Context) Decision {
	// Step 1: normalize region.
	effectiveRegion := ctx.Region
	if e.doc.IsRestrictedRegion(ctx.Region) {
		effectiveRegion = "restricted"
	}

	// Step 2: category set present in the input.
	categories := categorySet(spans)

	// Step 3-4: first matching route wins, or fall back to allow.
	route, matched := e.matchRoute(categories, ctx.Region, ctx.Caller)

	var decision Decision
	decision.PolicyVersion = e.doc.Version

	callerRouting, hasCallerRouting := e.doc.CallerRouting[ctx.Caller]

	if !matched {
		decision.Action = ActionAllow
		decision.TargetModel = firstOrEmpty(e.doc.RegionRouting[effectiveRegion].PreferredModels)
		decision.Reason = "no route matched; default allow"
	} else {
		decision.Action = route.Action
		decision.Reason = fmt.Sprintf("matched route action=%s", route.Action)
	}

	// Step 5: force_redact upgrades allow to redact.
	if hasCallerRouting && callerRouting.ForceRedact && decision.Action == ActionAllow {
		decision.Action = ActionRedact
		decision.Reason += "; upgraded to redact by caller force_redact"
	}

	// Step 6: block short-circuits everything else.
	if decision.Action == ActionBlock {
		e.observe(decision.Action)
		return decision
	}

	// Step 7: internal_only target model selection.
	if decision.Action == ActionInternalOnly {
		if matched && len(route.AllowModels) > 0 {
			decision.TargetModel = route.AllowModels[0]
		} else {
			decision.TargetModel = firstOrEmpty(e.doc.RegionRouting[effectiveRegion].InternalFallback)
		}
	}

	// Step 8: redact/allow target model, honoring allow_external.
	if decision.Action == ActionRedact || decision.Action == ActionAllow {
		regionRouting := e.doc.RegionRouting[effectiveRegion]
		if !regionRouting.AllowExternal {
			decision.Action = ActionInternalOnly
			decision.TargetModel = firstOrEmpty(regionRouting.InternalFallback)
			decision.Reason += "; region forbids external, rewritten to internal_only"
		} else if decision.TargetModel == "" {
			decision.TargetModel = firstOrEmpty(regionRouting.PreferredModels)
		}
	}

	decision.RequiresRedaction = decision.Action == ActionRedact

	// Step 9: allowed_detokenize_categories = route.allow_categories ∩
	// caller.allow_categories, secret always removed.
	routeCats := map[string]struct{}{}
	if matched {
		routeCats = toSet(route.AllowCategories)
	}
	callerCats := map[string]struct{}{}
	if hasCallerRouting {
		callerCats = toSet(callerRouting.AllowCategories)
	}
	allowed := intersect(routeCats, callerCats)
	delete(allowed, string(detector.CategorySecret))
	decision.AllowedDetokenizeCategories = allowed

	// Step 10: policy_version already set; reason already populated.
	e.observe(decision.Action)
	return decision
}

func (e *Engine) matchRoute(categories map[string]struct{}, region, caller string) (Route, bool) {
	for _, r := range e.doc.Routes {
		if !categoryMatches(r.Match, categories) {
			continue
		}
		if !listMatches(r.AppliesTo.Regions, region) {
			continue
		}
		if !listMatches(r.AppliesTo.Callers, caller) {
			continue
		}
		return r, true
	}
	return Route{}, false
}

// categoryMatches implements spec.md §9's resolution: an empty Match.Category
// matches only when the input category set is empty, not "any category".
func categoryMatches(m Match, categories map[string]struct{}) bool {
	if m.Category == "" {
		return len(categories) == 0
	}
	_, ok := categories[m.Category]
	return ok
}

func listMatches(list []string, value string) bool {
	for _, item := range list {
		if item == "*" || item == value {
			return true
		}
	}
	return false
}

func categorySet(spans []detector.Span) map[string]struct{} {
	set := make(map[string]struct{})
	for _, s := range spans {
		set[string(s.Category)] = struct{}{}
	}
	return set
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for k := range a {
		if _, ok := b[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out
}

func firstOrEmpty(list []string) string {
	if len(list) == 0 {
		return ""
	}
	return list[0]
}

func (e *Engine) observe(action Action) {
	if e.metrics != nil {
		e.metrics.IncrementDecision(string(action))
	}
}
