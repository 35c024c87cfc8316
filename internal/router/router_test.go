package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SidGoyal2014/gah-final-submission/internal/capability"
	"github.com/SidGoyal2014/gah-final-submission/internal/domain"
)

func newRouter(t *testing.T) *Router {
	t.Helper()
	reg, err := capability.LoadRegistry()
	require.NoError(t, err)
	return New(reg)
}

func hindiProfile() domain.UserProfile {
	hi, _ := domain.ParseLanguage("hindi")
	return domain.UserProfile{UserID: "9876543210", State: "Bihar", City: "Patna", Language: hi}
}

func TestRouteMandiPriceScenario(t *testing.T) {
	r := newRouter(t)

	plan := r.Route("What is the mandi price of wheat in Punjab?", hindiProfile(), nil)

	require.Equal(t, []capability.Kind{capability.KindMarketPrice}, plan.Kinds())
	assert.Equal(t, capability.MarketPriceInput{State: "Punjab", Commodity: "Wheat"}, plan.Calls[0])
	assert.Equal(t, "hi", plan.Language.Code)
}

func TestRouteDecisionTable(t *testing.T) {
	r := newRouter(t)
	profile := hindiProfile()

	tests := []struct {
		name      string
		utterance string
		want      []capability.Kind
	}{
		{"crop", "Which fertilizer should I use for my soil?", []capability.Kind{capability.KindCropAdvice}},
		{"market hinglish", "aaj gehun ka bhav kya hai", []capability.Kind{capability.KindMarketPrice}},
		{"market devanagari", "पंजाब में गेहूं का भाव क्या है", []capability.Kind{capability.KindMarketPrice}},
		{"schemes", "Are there any government schemes for me?", []capability.Kind{capability.KindSchemesGeneral}},
		{"schemes hindi", "मेरे लिए कौन सी योजना है", []capability.Kind{capability.KindSchemesGeneral}},
		{"crisis", "My field was hit by a flood, is there any relief?", []capability.Kind{capability.KindSchemesCrisis}},
		{"tutorial", "Show me a video on drip irrigation setup", []capability.Kind{capability.KindCropAdvice, capability.KindTutorials}},
		{"unmatched", "Who won the cricket match yesterday?", []capability.Kind{capability.KindWebSearch}},
		{
			"multiple in priority order",
			"What pesticide works for aphids and what is the market rate for mustard?",
			[]capability.Kind{capability.KindCropAdvice, capability.KindMarketPrice},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := r.Route(tt.utterance, profile, nil)
			assert.Equal(t, tt.want, plan.Kinds())
		})
	}
}

func TestRouteWordBoundaries(t *testing.T) {
	r := newRouter(t)

	// "prices" must not be found inside "surprises"; "rate" not inside "separate".
	plan := r.Route("Life surprises me, separate topic entirely", domain.DefaultProfile("u"), nil)
	assert.Equal(t, []capability.Kind{capability.KindWebSearch}, plan.Kinds())
}

func TestRouteStateResolution(t *testing.T) {
	r := newRouter(t)
	profile := hindiProfile()

	plan := r.Route("mandi rates today", profile, nil)
	assert.Equal(t, capability.MarketPriceInput{State: "Bihar"}, plan.Calls[0], "profile state when none named")

	history := []domain.Turn{userTurn("I farm in Orissa"), agentTurn("ok")}
	plan = r.Route("mandi rates today", profile, history)
	assert.Equal(t, capability.MarketPriceInput{State: "Odisha"}, plan.Calls[0], "state named earlier in the session")

	plan = r.Route("any schemes in west bengal?", profile, history)
	assert.Equal(t, capability.SchemesInput{State: "West Bengal"}, plan.Calls[0])
}

func TestRouteCrisisKeywordIsFirstInUtterance(t *testing.T) {
	r := newRouter(t)

	plan := r.Route("After the drought and then the flood, what relief can I get?", domain.DefaultProfile("u"), nil)
	require.Len(t, plan.Calls, 1)
	assert.Equal(t, capability.CrisisInput{Keyword: "drought"}, plan.Calls[0])
}

func TestRouteLanguageFixedToProfile(t *testing.T) {
	r := newRouter(t)

	plan := r.Route("how to make compost video", hindiProfile(), nil)
	require.True(t, plan.Has(capability.KindTutorials))
	for _, c := range plan.Calls {
		if tut, ok := c.(capability.TutorialInput); ok {
			assert.Equal(t, "hindi", tut.Language)
			assert.Equal(t, "make compost", tut.Topic)
		}
	}

	plan = r.Route("hello", domain.UserProfile{UserID: "u"}, nil)
	assert.Equal(t, domain.DefaultLanguage, plan.Language)
	assert.Equal(t, capability.WebSearchInput{Query: "hello", Language: "english"}, plan.Calls[0])
}

func TestRouteEmptyUtterance(t *testing.T) {
	plan := newRouter(t).Route("   ", hindiProfile(), nil)
	assert.Empty(t, plan.Calls)
}

func TestFallbackForAnyFailedLookup(t *testing.T) {
	r := newRouter(t)
	utterance := "What is the mandi price of wheat in Punjab?"
	plan := r.Route(utterance, hindiProfile(), nil)

	failed := capability.Result{Kind: capability.KindMarketPrice, Failure: &capability.Failure{Reason: capability.FailureTimeout}}
	call, ok := r.Fallback(plan, failed, utterance)
	require.True(t, ok)
	assert.Equal(t, capability.WebSearchInput{Query: utterance, Language: "hindi"}, call)

	_, ok = r.Fallback(plan, capability.Result{Kind: capability.KindMarketPrice, Payload: []capability.PriceRecord{{}}}, utterance)
	assert.False(t, ok, "successful lookups do not fall back")

	for _, kind := range []capability.Kind{capability.KindSchemesGeneral, capability.KindSchemesCrisis, capability.KindTutorials, capability.KindCropAdvice} {
		_, ok = r.Fallback(plan, capability.Result{Kind: kind, Failure: &capability.Failure{Reason: capability.FailureTimeout}}, utterance)
		assert.True(t, ok, "%s falls back to web search", kind)
	}

	_, ok = r.Fallback(plan, capability.Result{Kind: capability.KindWebSearch, Failure: &capability.Failure{Reason: capability.FailureUpstream}}, utterance)
	assert.False(t, ok, "a failed web search is not retried")

	plan.Calls = append(plan.Calls, capability.WebSearchInput{Query: "x"})
	_, ok = r.Fallback(plan, failed, utterance)
	assert.False(t, ok, "web search runs at most once")
}

func TestFallbackWithoutUtteranceUsesTheCall(t *testing.T) {
	r := newRouter(t)
	plan := r.Complete(capability.MarketPriceInput{State: "Punjab", Commodity: "Wheat"}, "", hindiProfile(), nil)

	call, ok := r.Fallback(plan, capability.Result{
		Kind:    capability.KindMarketPrice,
		Call:    plan.Calls[0],
		Failure: &capability.Failure{Reason: capability.FailureEmpty},
	}, "")
	require.True(t, ok)
	assert.Equal(t, capability.WebSearchInput{Query: "today's mandi price of Wheat in Punjab", Language: "hindi"}, call)
}

func TestRouteCrisisNeedsReliefIntent(t *testing.T) {
	r := newRouter(t)

	plan := r.Route("Which drought resistant seeds should I sow?", hindiProfile(), nil)
	assert.Equal(t, []capability.Kind{capability.KindCropAdvice}, plan.Kinds())

	plan = r.Route("The flood destroyed my paddy, what help can I get?", hindiProfile(), nil)
	require.Equal(t, []capability.Kind{capability.KindSchemesCrisis}, plan.Kinds())
	assert.Equal(t, capability.CrisisInput{Keyword: "flood"}, plan.Calls[0])
}

func TestCompleteFillsModelCalls(t *testing.T) {
	r := newRouter(t)
	profile := hindiProfile()

	plan := r.Complete(capability.MarketPriceInput{}, "gehun ka bhav batao", profile, nil)
	assert.Equal(t, capability.MarketPriceInput{State: "Bihar", Commodity: "Wheat"}, plan.Calls[0])
	assert.Equal(t, "hi", plan.Language.Code)

	plan = r.Complete(capability.SchemesInput{State: "Punjab"}, "", profile, nil)
	assert.Equal(t, capability.SchemesInput{State: "Punjab"}, plan.Calls[0], "explicit arguments win")

	plan = r.Complete(capability.TutorialInput{Topic: "drip irrigation", Language: "english"}, "", profile, nil)
	assert.Equal(t, capability.TutorialInput{Topic: "drip irrigation", Language: "hindi"}, plan.Calls[0], "language stays the profile's")

	plan = r.Complete(capability.CrisisInput{}, "sukha pad gaya, drought hai", profile, nil)
	assert.Equal(t, capability.CrisisInput{Keyword: "drought"}, plan.Calls[0])

	plan = r.Complete(capability.CrisisInput{}, "", profile, nil)
	assert.Equal(t, capability.SchemesInput{State: "Bihar"}, plan.Calls[0], "no calamity named")

	plan = r.Complete(capability.CropAdviceInput{}, "which crop after rice?", profile, nil)
	assert.Equal(t, capability.CropAdviceInput{Question: "which crop after rice?", Profile: profile}, plan.Calls[0])

	plan = r.Complete(capability.WebSearchInput{Query: "weather"}, "", profile, nil)
	assert.Equal(t, capability.WebSearchInput{Query: "weather", Language: "hindi"}, plan.Calls[0])
}

func TestFallbackAddsStateContext(t *testing.T) {
	r := newRouter(t)
	plan := r.Route("mandi bhav batao", hindiProfile(), nil)

	call, ok := r.Fallback(plan, capability.Result{Kind: capability.KindMarketPrice, Failure: &capability.Failure{Reason: capability.FailureEmpty}}, "mandi bhav batao")
	require.True(t, ok)
	assert.Equal(t, "mandi bhav batao (Bihar, India)", call.(capability.WebSearchInput).Query)
}

func userTurn(text string) domain.Turn {
	t := domain.NewTurn(domain.RoleUser)
	t.Append(domain.TextSegment(text, false))
	t.Finish(false)
	return *t
}

func agentTurn(text string) domain.Turn {
	t := domain.NewTurn(domain.RoleAgent)
	t.Append(domain.TextSegment(text, false))
	t.Finish(false)
	return *t
}
