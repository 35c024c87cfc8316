package capability

import (
	"fmt"
	"time"
)

// FailureReason classifies why a capability produced no payload.
type FailureReason string

const (
	FailureTimeout      FailureReason = "timeout"
	FailureUpstream     FailureReason = "upstream"
	FailureEmpty        FailureReason = "empty"
	FailureMalformed    FailureReason = "malformed"
	FailureUnconfigured FailureReason = "unconfigured"
)

// Failure is the typed failure half of a Result.
type Failure struct {
	Reason FailureReason `json:"reason"`
	Detail string        `json:"-"`
}

func (f *Failure) Error() string {
	if f.Detail == "" {
		return string(f.Reason)
	}
	return fmt.Sprintf("%s: %s", f.Reason, f.Detail)
}

// Result is the outcome of one call: exactly one of Payload or Failure is set.
type Result struct {
	Kind    Kind
	Call    Call
	Payload any
	Failure *Failure
	Elapsed time.Duration
}

// OK reports whether the call produced a payload.
func (r Result) OK() bool {
	return r.Failure == nil
}

// PriceRecord is one mandi price row.
type PriceRecord struct {
	State       string      `json:"state"`
	District    string      `json:"district"`
	Market      string      `json:"market"`
	Commodity   string      `json:"commodity"`
	Variety     string      `json:"variety"`
	Grade       string      `json:"grade"`
	ArrivalDate string      `json:"arrival_date"`
	MinPrice    FlexiString `json:"min_price"`
	MaxPrice    FlexiString `json:"max_price"`
	ModalPrice  FlexiString `json:"modal_price"`
}

// Record is a scheme row as served by the schemes registry.
type Record map[string]any

// Tutorial is one video suggestion.
type Tutorial struct {
	Title        string `json:"title"`
	ChannelTitle string `json:"channel_title"`
	URL          string `json:"url"`
	Topic        string `json:"topic"`
}

// Answer is free text from a generator-backed capability.
type Answer struct {
	Text string `json:"text"`
}
