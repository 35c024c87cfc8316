package capability

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/SidGoyal2014/gah-final-submission/internal/upstream"
)

// MarketSource reads mandi prices from the open government data registry.
type MarketSource struct {
	client     *upstream.Client
	endpoint   string
	apiKey     string
	maxRecords int
}

// NewMarketSource creates a market price source.
func NewMarketSource(client *upstream.Client, endpoint, apiKey string, maxRecords int) *MarketSource {
	if maxRecords <= 0 {
		maxRecords = 20
	}
	return &MarketSource{client: client, endpoint: endpoint, apiKey: apiKey, maxRecords: maxRecords}
}

// Kind implements Source.
func (m *MarketSource) Kind() Kind { return KindMarketPrice }

// Fetch implements Source.
func (m *MarketSource) Fetch(ctx context.Context, call Call) (any, error) {
	in, ok := call.(MarketPriceInput)
	if !ok {
		return nil, wrongCall(KindMarketPrice, call)
	}
	if m.endpoint == "" || m.apiKey == "" {
		return nil, ErrUnconfigured
	}
	state := strings.TrimSpace(in.State)
	if state == "" {
		return nil, fmt.Errorf("%w: no state to look up", ErrEmpty)
	}

	query := url.Values{
		"api-key":        {m.apiKey},
		"format":         {"json"},
		"limit":          {strconv.Itoa(m.maxRecords)},
		"filters[state]": {state},
	}
	if c := strings.TrimSpace(in.Commodity); c != "" {
		query.Set("filters[commodity]", c)
	}

	var resp struct {
		Records *[]PriceRecord `json:"records"`
	}
	if err := m.client.GetJSON(ctx, m.endpoint, query, &resp); err != nil {
		return nil, err
	}
	if resp.Records == nil {
		return nil, fmt.Errorf("%w: response has no records field", upstream.ErrMalformed)
	}
	if len(*resp.Records) == 0 {
		return nil, ErrEmpty
	}
	records := *resp.Records
	if len(records) > m.maxRecords {
		records = records[:m.maxRecords]
	}
	return records, nil
}
