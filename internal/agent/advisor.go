package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/SidGoyal2014/gah-final-submission/internal/capability"
	"github.com/SidGoyal2014/gah-final-submission/internal/domain"
	"github.com/SidGoyal2014/gah-final-submission/internal/generation"
	"github.com/SidGoyal2014/gah-final-submission/internal/router"
)

// maxPayloadChars bounds how much of one capability payload goes into a prompt.
const maxPayloadChars = 6000

// Invoker runs one capability call. *capability.Invoker implements it.
type Invoker interface {
	Invoke(ctx context.Context, userID string, call capability.Call) capability.Result
}

// Prepared is the routed, invoked form of one user utterance.
type Prepared struct {
	Plan    router.Plan
	Results []capability.Result
	// Message is the user line sent to the model.
	Message string
	// Context is the capability context block; empty when nothing was looked up.
	Context string
}

// Prompt joins the user line and its context.
func (p Prepared) Prompt() string {
	if p.Context == "" {
		return p.Message
	}
	return p.Message + "\n\n" + p.Context
}

// Advisor routes an utterance, runs the selected capabilities one after
// another and folds their results into the content for the model.
type Advisor struct {
	router   *router.Router
	invoker  Invoker
	registry *capability.Registry
	logger   *slog.Logger
}

// NewAdvisor creates an Advisor.
func NewAdvisor(r *router.Router, inv Invoker, reg *capability.Registry, logger *slog.Logger) *Advisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Advisor{router: r, invoker: inv, registry: reg, logger: logger}
}

// UserMessage tags an utterance with the originating user.
func UserMessage(userID, utterance string) string {
	return fmt.Sprintf("userid: %s  message: %s", userID, utterance)
}

// Prepare routes and invokes capabilities for utterance. Calls run
// sequentially in plan order; a failed lookup is followed by a single web
// search. Cancellation stops further calls and keeps what was gathered.
func (a *Advisor) Prepare(ctx context.Context, profile domain.UserProfile, utterance string, history []domain.Turn) Prepared {
	plan := a.router.Route(utterance, profile, history)
	out := a.run(ctx, profile, plan, utterance)
	out.Message = UserMessage(profile.UserID, utterance)
	return out
}

// Resolve answers a function call the live model made by name. Missing
// arguments are filled from the utterance heard so far and the profile, and
// the same single web search fallback as Prepare applies. Unknown names and
// malformed arguments are errors.
func (a *Advisor) Resolve(ctx context.Context, profile domain.UserProfile, name string, args map[string]any, utterance string, history []domain.Turn) (Prepared, error) {
	if a.registry == nil {
		return Prepared{}, fmt.Errorf("resolve %q: no registry", name)
	}
	d, ok := a.registry.LookupName(name)
	if !ok {
		return Prepared{}, fmt.Errorf("resolve %q: unknown capability", name)
	}
	call, err := capability.DecodeCall(d.Kind, args)
	if err != nil {
		return Prepared{}, fmt.Errorf("resolve %q: %w", name, err)
	}
	plan := a.router.Complete(call, utterance, profile, history)
	return a.run(ctx, profile, plan, utterance), nil
}

// Tools declares every registered capability as a function the live model
// may call.
func (a *Advisor) Tools() []generation.ToolSpec {
	if a.registry == nil {
		return nil
	}
	descs := a.registry.Descriptors()
	out := make([]generation.ToolSpec, 0, len(descs))
	for _, d := range descs {
		spec := generation.ToolSpec{Name: d.Name, Description: d.Responsibility}
		if d.InputSchema != nil {
			schema := *d.InputSchema
			schema.Version = ""
			spec.Parameters = &schema
		}
		out = append(out, spec)
	}
	return out
}

func (a *Advisor) run(ctx context.Context, profile domain.UserProfile, plan router.Plan, utterance string) Prepared {
	if plan.Degraded {
		a.logger.Warn("routing with degraded profile", "user_id", profile.UserID, "language", plan.Language.Name)
	}

	var out Prepared
	for i := 0; i < len(plan.Calls); i++ {
		if ctx.Err() != nil {
			a.logger.Info("capability calls abandoned", "user_id", profile.UserID, "remaining", len(plan.Calls)-i)
			break
		}
		res := a.invoker.Invoke(ctx, profile.UserID, plan.Calls[i])
		out.Results = append(out.Results, res)

		if fb, ok := a.router.Fallback(plan, res, utterance); ok {
			a.logger.Info("falling back to web search", "user_id", profile.UserID, "failed", res.Kind, "reason", res.Failure.Reason)
			plan.Calls = append(plan.Calls, fb)
		}
	}
	out.Plan = plan
	out.Context = a.contextBlock(out.Results, plan.Language)
	return out
}

// contextBlock renders results for the model. Failure details stay in the
// logs; the model only learns that a lookup was unavailable.
func (a *Advisor) contextBlock(results []capability.Result, lang domain.Language) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Context (lookups for this message; answer only in %s):", lang.Title())
	for _, res := range results {
		b.WriteString("\n\n[")
		b.WriteString(a.name(res.Kind))
		b.WriteString("] ")
		b.WriteString(describeCall(res.Call))
		if !res.OK() {
			b.WriteString("\nunavailable")
			if res.Failure.Reason == capability.FailureEmpty {
				b.WriteString(": no matching records")
			}
			continue
		}
		b.WriteString("\n")
		b.WriteString(renderPayload(res.Payload))
	}
	return b.String()
}

func (a *Advisor) name(kind capability.Kind) string {
	if a.registry != nil {
		if d, ok := a.registry.Lookup(kind); ok {
			return d.Name
		}
	}
	return string(kind)
}

func describeCall(call capability.Call) string {
	switch c := call.(type) {
	case capability.MarketPriceInput:
		if c.Commodity != "" {
			return fmt.Sprintf("state=%s commodity=%s", c.State, c.Commodity)
		}
		return "state=" + c.State
	case capability.SchemesInput:
		return "state=" + c.State
	case capability.CrisisInput:
		return "keyword=" + c.Keyword
	case capability.TutorialInput:
		return "topic=" + c.Topic
	case capability.WebSearchInput:
		return "query=" + c.Query
	case capability.CropAdviceInput:
		return "question=" + c.Question
	default:
		return ""
	}
}

func renderPayload(payload any) string {
	if ans, ok := payload.(capability.Answer); ok {
		return truncate(ans.Text)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "unavailable"
	}
	return truncate(string(raw))
}

func truncate(s string) string {
	if len(s) <= maxPayloadChars {
		return s
	}
	cut := maxPayloadChars
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + " …(truncated)"
}
