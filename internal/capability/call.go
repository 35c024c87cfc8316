// Package capability holds the closed set of advisory capabilities, their
// registry, and the invoker that runs them with bounded timeouts.
package capability

import (
	"encoding/json"
	"fmt"

	"github.com/SidGoyal2014/gah-final-submission/internal/domain"
)

// Kind is the closed set of capability kinds.
type Kind string

const (
	KindCropAdvice     Kind = "crop_advice"
	KindMarketPrice    Kind = "market_price"
	KindSchemesGeneral Kind = "schemes_general"
	KindSchemesCrisis  Kind = "schemes_crisis"
	KindTutorials      Kind = "tutorials"
	KindWebSearch      Kind = "web_search"
)

// Kinds lists every kind in routing priority order.
func Kinds() []Kind {
	return []Kind{
		KindCropAdvice,
		KindMarketPrice,
		KindSchemesGeneral,
		KindSchemesCrisis,
		KindTutorials,
		KindWebSearch,
	}
}

// Call is one capability invocation. Only the input types in this package implement it.
type Call interface {
	Kind() Kind
	isCall()
}

// CropAdviceInput asks the crop expert a question in the context of a farmer profile.
type CropAdviceInput struct {
	Question string             `json:"question" jsonschema_description:"The farmer's agronomy question."`
	Profile  domain.UserProfile `json:"-"`
}

// MarketPriceInput looks up mandi prices for a state.
type MarketPriceInput struct {
	State     string `json:"state" jsonschema_description:"Indian state name, e.g. Punjab."`
	Commodity string `json:"commodity,omitempty" jsonschema_description:"Optional commodity filter, e.g. Wheat."`
}

// SchemesInput looks up state schemes, falling back to central schemes.
type SchemesInput struct {
	State string `json:"state" jsonschema_description:"Indian state name; Central schemes are used when none match."`
}

// CrisisInput looks up crisis relief schemes by keyword.
type CrisisInput struct {
	Keyword string `json:"keyword" jsonschema_description:"Crisis type, e.g. flood or drought."`
}

// TutorialInput searches tutorial videos.
type TutorialInput struct {
	Topic    string `json:"topic" jsonschema_description:"What the farmer wants to learn."`
	Language string `json:"language" jsonschema_description:"Preferred language name, e.g. hindi."`
}

// WebSearchInput asks the search-grounded generator.
type WebSearchInput struct {
	Query    string `json:"query" jsonschema_description:"The question to search for."`
	Language string `json:"language" jsonschema_description:"Language the answer must be written in."`
}

func (CropAdviceInput) Kind() Kind  { return KindCropAdvice }
func (MarketPriceInput) Kind() Kind { return KindMarketPrice }
func (SchemesInput) Kind() Kind     { return KindSchemesGeneral }
func (CrisisInput) Kind() Kind      { return KindSchemesCrisis }
func (TutorialInput) Kind() Kind    { return KindTutorials }
func (WebSearchInput) Kind() Kind   { return KindWebSearch }

func (CropAdviceInput) isCall()  {}
func (MarketPriceInput) isCall() {}
func (SchemesInput) isCall()     {}
func (CrisisInput) isCall()      {}
func (TutorialInput) isCall()    {}
func (WebSearchInput) isCall()   {}

// inputPrototypes feeds schema reflection.
var inputPrototypes = map[Kind]any{
	KindCropAdvice:     CropAdviceInput{},
	KindMarketPrice:    MarketPriceInput{},
	KindSchemesGeneral: SchemesInput{},
	KindSchemesCrisis:  CrisisInput{},
	KindTutorials:      TutorialInput{},
	KindWebSearch:      WebSearchInput{},
}

// DecodeCall builds the typed call of kind from loosely typed arguments,
// e.g. a model's function call. Unknown fields are ignored.
func DecodeCall(kind Kind, args map[string]any) (Call, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s arguments: %w", kind, err)
	}
	switch kind {
	case KindCropAdvice:
		return decodeInto[CropAdviceInput](kind, raw)
	case KindMarketPrice:
		return decodeInto[MarketPriceInput](kind, raw)
	case KindSchemesGeneral:
		return decodeInto[SchemesInput](kind, raw)
	case KindSchemesCrisis:
		return decodeInto[CrisisInput](kind, raw)
	case KindTutorials:
		return decodeInto[TutorialInput](kind, raw)
	case KindWebSearch:
		return decodeInto[WebSearchInput](kind, raw)
	default:
		return nil, fmt.Errorf("unknown capability kind %q", kind)
	}
}

func decodeInto[T Call](kind Kind, raw []byte) (Call, error) {
	var in T
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode %s arguments: %w", kind, err)
	}
	return in, nil
}
