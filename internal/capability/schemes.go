package capability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/SidGoyal2014/gah-final-submission/internal/upstream"
)

// centralScope is the state_central value of nationwide schemes.
const centralScope = "Central"

// internalFields are never passed on to the model or the client.
var internalFields = []string{"id", "budget_benefits"}

// schemeRegistry fetches full scheme lists and caches them briefly.
type schemeRegistry struct {
	client *upstream.Client
	cache  *expirable.LRU[string, []Record]
}

func newSchemeRegistry(client *upstream.Client, size int, ttl time.Duration) *schemeRegistry {
	if size <= 0 {
		size = 8
	}
	return &schemeRegistry{
		client: client,
		cache:  expirable.NewLRU[string, []Record](size, nil, ttl),
	}
}

func (r *schemeRegistry) all(ctx context.Context, endpoint string) ([]Record, error) {
	if endpoint == "" {
		return nil, ErrUnconfigured
	}
	if cached, ok := r.cache.Get(endpoint); ok {
		return cached, nil
	}
	var resp struct {
		Data *[]Record `json:"data"`
	}
	if err := r.client.GetJSON(ctx, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("%w: response has no data field", upstream.ErrMalformed)
	}
	r.cache.Add(endpoint, *resp.Data)
	return *resp.Data, nil
}

// SchemesSource serves general and crisis scheme lookups from one cache.
type SchemesSource struct {
	registry   *schemeRegistry
	generalURL string
	crisisURL  string
}

// NewSchemesSource creates the scheme sources' shared backing.
func NewSchemesSource(client *upstream.Client, generalURL, crisisURL string, cacheSize int, ttl time.Duration) *SchemesSource {
	return &SchemesSource{
		registry:   newSchemeRegistry(client, cacheSize, ttl),
		generalURL: generalURL,
		crisisURL:  crisisURL,
	}
}

// General returns the Source for state-wise schemes.
func (s *SchemesSource) General() Source { return generalSchemes{s} }

// Crisis returns the Source for crisis relief schemes.
func (s *SchemesSource) Crisis() Source { return crisisSchemes{s} }

type generalSchemes struct{ s *SchemesSource }

func (generalSchemes) Kind() Kind { return KindSchemesGeneral }

func (g generalSchemes) Fetch(ctx context.Context, call Call) (any, error) {
	in, ok := call.(SchemesInput)
	if !ok {
		return nil, wrongCall(KindSchemesGeneral, call)
	}
	all, err := g.s.registry.all(ctx, g.s.generalURL)
	if err != nil {
		return nil, err
	}
	out := SchemesForState(all, in.State)
	if len(out) == 0 {
		return nil, ErrEmpty
	}
	return out, nil
}

type crisisSchemes struct{ s *SchemesSource }

func (crisisSchemes) Kind() Kind { return KindSchemesCrisis }

func (c crisisSchemes) Fetch(ctx context.Context, call Call) (any, error) {
	in, ok := call.(CrisisInput)
	if !ok {
		return nil, wrongCall(KindSchemesCrisis, call)
	}
	if strings.TrimSpace(in.Keyword) == "" {
		return nil, fmt.Errorf("%w: no crisis keyword", ErrEmpty)
	}
	all, err := c.s.registry.all(ctx, c.s.crisisURL)
	if err != nil {
		return nil, err
	}
	out := CrisisSchemes(all, in.Keyword)
	if len(out) == 0 {
		return nil, ErrEmpty
	}
	return out, nil
}

// SchemesForState returns the schemes scoped to state, or the central ones
// when the state has none. Internal fields are stripped.
func SchemesForState(all []Record, state string) []Record {
	state = strings.TrimSpace(state)
	if state != "" {
		if matched := filterRecords(all, func(r Record) bool {
			return strings.EqualFold(strings.TrimSpace(r.str("state_central")), state)
		}); len(matched) > 0 {
			return matched
		}
	}
	return filterRecords(all, func(r Record) bool {
		return strings.EqualFold(strings.TrimSpace(r.str("state_central")), centralScope)
	})
}

// CrisisSchemes returns schemes whose purpose or relief benefit mention keyword.
func CrisisSchemes(all []Record, keyword string) []Record {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	return filterRecords(all, func(r Record) bool {
		return strings.Contains(strings.ToLower(r.str("purpose")), kw) ||
			strings.Contains(strings.ToLower(r.str("relief_benefit")), kw)
	})
}

func filterRecords(all []Record, keep func(Record) bool) []Record {
	var out []Record
	for _, r := range all {
		if keep(r) {
			out = append(out, r.stripped())
		}
	}
	return out
}

// stripped returns a copy without internal fields; cached rows stay untouched.
func (r Record) stripped() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	for _, k := range internalFields {
		delete(out, k)
	}
	return out
}

func (r Record) str(key string) string {
	s, _ := r[key].(string)
	return s
}
