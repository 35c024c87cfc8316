// Package router selects capabilities for an utterance through an explicit
// keyword decision table.
package router

import (
	"slices"
	"strings"

	"github.com/SidGoyal2014/gah-final-submission/internal/capability"
	"github.com/SidGoyal2014/gah-final-submission/internal/domain"
)

// Plan is the ordered list of capability calls for one user turn.
type Plan struct {
	Calls    []capability.Call
	Language domain.Language
	State    string
	// Degraded is set when the profile could not be resolved.
	Degraded bool
}

// Kinds lists the kinds in the plan, in order.
func (p Plan) Kinds() []capability.Kind {
	out := make([]capability.Kind, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Kind()
	}
	return out
}

// Has reports whether the plan contains a call of kind.
func (p Plan) Has(kind capability.Kind) bool {
	for _, c := range p.Calls {
		if c.Kind() == kind {
			return true
		}
	}
	return false
}

// turnInput is what the decision table looks at.
type turnInput struct {
	utterance string
	norm      string
	profile   domain.UserProfile
	language  domain.Language
	state     string
	commodity string
	crisis    string
}

// rule is one row of the decision table.
type rule struct {
	kind  capability.Kind
	match func(in *turnInput) bool
	build func(in *turnInput) capability.Call
}

// Router is safe for concurrent use; it holds only read-only tables.
type Router struct {
	table          []rule
	crisisKeywords []string
	// A crisis word selects crisis schemes only next to one of these.
	crisisIntent []string
}

// New builds the decision table from the registry's keywords.
func New(reg *capability.Registry) *Router {
	crop := reg.Keywords(capability.KindCropAdvice)
	market := reg.Keywords(capability.KindMarketPrice)
	schemes := reg.Keywords(capability.KindSchemesGeneral)
	tutorials := reg.Keywords(capability.KindTutorials)

	r := &Router{
		crisisKeywords: reg.CrisisKeywords(),
		crisisIntent:   append(slices.Clone(schemes), reg.ReliefKeywords()...),
	}
	r.table = []rule{
		{
			kind:  capability.KindCropAdvice,
			match: func(in *turnInput) bool { return anyMatch(in.norm, crop) },
			build: func(in *turnInput) capability.Call {
				return capability.CropAdviceInput{Question: in.utterance, Profile: in.profile}
			},
		},
		{
			kind:  capability.KindMarketPrice,
			match: func(in *turnInput) bool { return anyMatch(in.norm, market) },
			build: func(in *turnInput) capability.Call {
				return capability.MarketPriceInput{State: in.state, Commodity: in.commodity}
			},
		},
		{
			kind: capability.KindSchemesCrisis,
			match: func(in *turnInput) bool {
				return in.crisis != ""
			},
			build: func(in *turnInput) capability.Call {
				return capability.CrisisInput{Keyword: in.crisis}
			},
		},
		{
			kind: capability.KindSchemesGeneral,
			match: func(in *turnInput) bool {
				return in.crisis == "" && anyMatch(in.norm, schemes)
			},
			build: func(in *turnInput) capability.Call {
				return capability.SchemesInput{State: in.state}
			},
		},
		{
			kind:  capability.KindTutorials,
			match: func(in *turnInput) bool { return anyMatch(in.norm, tutorials) },
			build: func(in *turnInput) capability.Call {
				return capability.TutorialInput{Topic: tutorialTopic(in.utterance), Language: in.language.Name}
			},
		},
	}
	return r
}

// Route picks the capability calls for utterance. Every matching row of the
// table is included in priority order; web search is used only when nothing
// matched. The response language is always the profile's.
func (r *Router) Route(utterance string, profile domain.UserProfile, history []domain.Turn) Plan {
	in := r.inspect(utterance, profile, history)
	plan := Plan{Language: in.language, State: in.state, Degraded: profile.Degraded}

	if strings.TrimSpace(utterance) == "" {
		return plan
	}
	for _, row := range r.table {
		if row.match(in) {
			plan.Calls = append(plan.Calls, row.build(in))
		}
	}
	if len(plan.Calls) == 0 {
		plan.Calls = append(plan.Calls, webSearch(in))
	}
	return plan
}

// Complete fills what a model-requested call left out from the utterance,
// the session history and the profile, and pins the response language to the
// profile's. A crisis lookup without any calamity word becomes a general
// schemes lookup.
func (r *Router) Complete(call capability.Call, utterance string, profile domain.UserProfile, history []domain.Turn) Plan {
	in := r.inspect(utterance, profile, history)
	if kw, ok := firstMatch(in.norm, r.crisisKeywords); ok && in.crisis == "" {
		in.crisis = kw
	}
	plan := Plan{Language: in.language, State: in.state, Degraded: profile.Degraded}

	switch c := call.(type) {
	case capability.CropAdviceInput:
		if strings.TrimSpace(c.Question) == "" {
			c.Question = in.utterance
		}
		c.Profile = profile
		call = c
	case capability.MarketPriceInput:
		if strings.TrimSpace(c.State) == "" {
			c.State = in.state
		}
		if strings.TrimSpace(c.Commodity) == "" {
			c.Commodity = in.commodity
		}
		plan.State = c.State
		call = c
	case capability.SchemesInput:
		if strings.TrimSpace(c.State) == "" {
			c.State = in.state
		}
		plan.State = c.State
		call = c
	case capability.CrisisInput:
		if strings.TrimSpace(c.Keyword) == "" {
			c.Keyword = in.crisis
		}
		if c.Keyword == "" {
			call = capability.SchemesInput{State: in.state}
		} else {
			call = c
		}
	case capability.TutorialInput:
		if strings.TrimSpace(c.Topic) == "" {
			c.Topic = tutorialTopic(in.utterance)
		}
		c.Language = in.language.Name
		call = c
	case capability.WebSearchInput:
		if strings.TrimSpace(c.Query) == "" {
			call = webSearch(in)
			break
		}
		c.Language = in.language.Name
		call = c
	}
	plan.Calls = []capability.Call{call}
	return plan
}

// Fallback returns the web search call to run after res failed, if any.
// Any failed lookup other than a web search falls back, and web search runs
// at most once per plan.
func (r *Router) Fallback(plan Plan, res capability.Result, utterance string) (capability.Call, bool) {
	if res.OK() || res.Kind == capability.KindWebSearch || plan.Has(capability.KindWebSearch) {
		return nil, false
	}
	if strings.TrimSpace(utterance) == "" {
		utterance = searchQuery(res.Call)
	}
	in := &turnInput{utterance: strings.TrimSpace(utterance), language: plan.Language, state: plan.State}
	return webSearch(in), true
}

// searchQuery phrases a failed call as a search when there is no utterance,
// as happens for calls the model made on its own.
func searchQuery(call capability.Call) string {
	switch c := call.(type) {
	case capability.MarketPriceInput:
		if c.Commodity != "" {
			return "today's mandi price of " + c.Commodity + " in " + c.State
		}
		return "today's mandi prices in " + c.State
	case capability.SchemesInput:
		return "government schemes for farmers in " + c.State
	case capability.CrisisInput:
		return "government relief for farmers affected by " + c.Keyword
	case capability.TutorialInput:
		return c.Topic + " farming tutorial"
	case capability.CropAdviceInput:
		return c.Question
	default:
		return ""
	}
}

func (r *Router) inspect(utterance string, profile domain.UserProfile, history []domain.Turn) *turnInput {
	norm := normalize(utterance)
	lang := profile.Language
	if lang.Code == "" {
		lang = domain.DefaultLanguage
	}

	in := &turnInput{
		utterance: strings.TrimSpace(utterance),
		norm:      norm,
		profile:   profile,
		language:  lang,
	}

	if s, ok := firstAlias(norm, indianRegions); ok {
		in.state = s
	} else if s, ok := stateFromHistory(history); ok {
		in.state = s
	} else {
		in.state = strings.TrimSpace(profile.State)
	}
	if c, ok := firstAlias(norm, commodities); ok {
		in.commodity = c
	}
	if kw, ok := firstMatch(norm, r.crisisKeywords); ok && anyMatch(norm, r.crisisIntent) {
		in.crisis = kw
	}
	return in
}

// stateFromHistory returns the state most recently named by the user.
func stateFromHistory(history []domain.Turn) (string, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		t := history[i]
		if t.Role != domain.RoleUser {
			continue
		}
		if s, ok := firstAlias(normalize(t.Text()), indianRegions); ok {
			return s, true
		}
	}
	return "", false
}

func webSearch(in *turnInput) capability.Call {
	query := in.utterance
	if in.state != "" && !strings.Contains(strings.ToLower(query), strings.ToLower(in.state)) {
		query += " (" + in.state + ", India)"
	}
	return capability.WebSearchInput{Query: query, Language: in.language.Name}
}

// tutorialTopic strips request filler, leaving the subject.
func tutorialTopic(utterance string) string {
	words := strings.Fields(normalize(utterance))
	filler := make(map[string]bool)
	for _, f := range tutorialFiller {
		if !strings.Contains(f, " ") {
			filler[f] = true
		}
	}
	joined := " " + strings.Join(words, " ") + " "
	for _, f := range tutorialFiller {
		if strings.Contains(f, " ") {
			joined = strings.ReplaceAll(joined, " "+f+" ", " ")
		}
	}
	var kept []string
	for _, w := range strings.Fields(joined) {
		if !filler[w] {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		return strings.TrimSpace(utterance)
	}
	return strings.Join(kept, " ")
}
