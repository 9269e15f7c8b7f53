package policy

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"llmfirewall/internal/detector"
)

type EngineSuite struct {
	suite.Suite
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func testDocument() *Document {
	doc := &Document{
		Version:           3,
		RestrictedRegions: []string{"cn", "ru", "ir"},
		RegionRouting: map[string]RegionRouting{
			"us": {AllowExternal: true, PreferredModels: []string{"gpt-4o"}, InternalFallback: []string{"internal-llm"}},
			"restricted": {AllowExternal: false, PreferredModels: []string{"gpt-4o"}, InternalFallback: []string{"internal-llm"}},
		},
		TrustedCallers: []string{"incident-mgr"},
		CallerRouting: map[string]CallerRouting{
			"incident-mgr": {AllowCategories: []string{"pii", "ops_sensitive"}, MaxDetokenize: true},
			"auto-redact":  {AllowCategories: []string{}, ForceRedact: true},
		},
		Routes: []Route{
			{
				Match:           Match{Category: "secret"},
				Action:          ActionBlock,
				AppliesTo:       AppliesTo{Regions: []string{"*"}, Callers: []string{"*"}},
				AllowCategories: []string{},
			},
			{
				Match:           Match{Category: "pii"},
				Action:          ActionRedact,
				AppliesTo:       AppliesTo{Regions: []string{"*"}, Callers: []string{"*"}},
				AllowCategories: []string{"pii"},
			},
		},
	}
	doc.index()
	return doc
}

func (s *EngineSuite) TestBlocksOnSecret() {
	e := New(testDocument(), nil)
	spans := []detector.Span{{Category: detector.CategorySecret, Type: "AWS_ACCESS_KEY"}}
	decision := e.Decide(spans, Context{Caller: "user", Region: "us", Env: "prod", ConversationID: "c1"})
	s.Equal(ActionBlock, decision.Action)
}

func (s *EngineSuite) TestRedactsOnPII() {
	e := New(testDocument(), nil)
	spans := []detector.Span{{Category: detector.CategoryPII, Type: "EMAIL"}}
	decision := e.Decide(spans, Context{Caller: "incident-mgr", Region: "us", Env: "prod", ConversationID: "c2"})
	s.Equal(ActionRedact, decision.Action)
	s.True(decision.RequiresRedaction)
	_, ok := decision.AllowedDetokenizeCategories["pii"]
	s.True(ok)
}

func (s *EngineSuite) TestSecretNeverInAllowedDetokenizeCategories() {
	doc := testDocument()
	doc.Routes[1].AllowCategories = []string{"pii", "secret"}
	doc.CallerRouting["incident-mgr"] = CallerRouting{AllowCategories: []string{"pii", "secret"}}
	e := New(doc, nil)
	spans := []detector.Span{{Category: detector.CategoryPII, Type: "EMAIL"}}
	decision := e.Decide(spans, Context{Caller: "incident-mgr", Region: "us", Env: "prod", ConversationID: "c3"})
	_, ok := decision.AllowedDetokenizeCategories["secret"]
	s.False(ok, "secret must never appear in allowed_detokenize_categories")
}

func (s *EngineSuite) TestNoMatchFallsBackToAllowWithPreferredModel() {
	e := New(testDocument(), nil)
	decision := e.Decide(nil, Context{Caller: "user", Region: "us", Env: "prod", ConversationID: "c4"})
	s.Equal(ActionAllow, decision.Action)
	s.Equal("gpt-4o", decision.TargetModel)
}

func (s *EngineSuite) TestRestrictedRegionForcesInternalOnly() {
	e := New(testDocument(), nil)
	decision := e.Decide(nil, Context{Caller: "user", Region: "cn", Env: "prod", ConversationID: "c5"})
	s.Equal(ActionInternalOnly, decision.Action)
	s.Equal("internal-llm", decision.TargetModel)
}

func (s *EngineSuite) TestForceRedactUpgradesAllow() {
	doc := testDocument()
	doc.Routes = nil // ensure default-allow path is taken
	e := New(doc, nil)
	decision := e.Decide(nil, Context{Caller: "auto-redact", Region: "us", Env: "prod", ConversationID: "c6"})
	s.Equal(ActionRedact, decision.Action)
}

func (s *EngineSuite) TestPurity() {
	e := New(testDocument(), nil)
	spans := []detector.Span{{Category: detector.CategoryPII, Type: "EMAIL"}}
	ctx := Context{Caller: "incident-mgr", Region: "us", Env: "prod", ConversationID: "c7"}
	d1 := e.Decide(spans, ctx)
	d2 := e.Decide(spans, ctx)
	s.Equal(d1.Action, d2.Action)
	s.Equal(d1.TargetModel, d2.TargetModel)
	s.Equal(d1.AllowedDetokenizeCategories, d2.AllowedDetokenizeCategories)
}

func (s *EngineSuite) TestEmptyCategoryMatchOnlyMatchesEmptySet() {
	doc := testDocument()
	doc.Routes = append([]Route{{
		Match:     Match{Category: ""},
		Action:    ActionInternalOnly,
		AppliesTo: AppliesTo{Regions: []string{"*"}, Callers: []string{"*"}},
	}}, doc.Routes...)
	e := New(doc, nil)

	s.Run("matches when no categories present", func() {
		decision := e.Decide(nil, Context{Caller: "user", Region: "us", Env: "prod", ConversationID: "c8"})
		s.Equal(ActionInternalOnly, decision.Action)
	})

	s.Run("does not match when a category is present", func() {
		spans := []detector.Span{{Category: detector.CategoryPII, Type: "EMAIL"}}
		decision := e.Decide(spans, Context{Caller: "user", Region: "us", Env: "prod", ConversationID: "c9"})
		s.NotEqual(ActionInternalOnly, decision.Action)
	})
}
