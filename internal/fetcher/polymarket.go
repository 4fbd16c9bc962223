package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"arbwatch/internal/market"
)

const polymarketName = "polymarket"

// PolymarketOptions parameterise the Gamma API fetcher.
type PolymarketOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Polymarket fetches top-of-book quotes from the Gamma events API.
type Polymarket struct {
	opts    PolymarketOptions
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
	now     func() time.Time
}

// NewPolymarket constructs a Polymarket fetcher.
func NewPolymarket(opts PolymarketOptions, logger zerolog.Logger) *Polymarket {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://gamma-api.polymarket.com"
	}
	return &Polymarket{
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		logger:  logger.With().Str("component", "polymarket_fetcher").Logger(),
		now:     time.Now,
	}
}

// Name identifies the venue for rate-limit bookkeeping.
func (p *Polymarket) Name() string { return polymarketName }

type gammaEvent struct {
	Markets []gammaMarket `json:"markets"`
}

type gammaMarket struct {
	// Gamma serialises ids as strings, but be tolerant of bare numbers.
	ID            json.RawMessage `json:"id"`
	Question      string          `json:"question"`
	BestBid       *float64        `json:"bestBid"`
	BestAsk       *float64        `json:"bestAsk"`
	OutcomePrices string          `json:"outcomePrices"`
	UpdatedAt     string          `json:"updatedAt"`
}

func (m gammaMarket) id() string {
	return strings.Trim(strings.TrimSpace(string(m.ID)), `"`)
}

// FetchQuote retrieves the pair's Polymarket market from its event and
// returns the best bid/ask. When the API omits top-of-book fields it falls
// back to the outcomePrices array.
func (p *Polymarket) FetchQuote(ctx context.Context, pair market.MarketPair) (market.Quote, error) {
	url := fmt.Sprintf("%s/events/%s", p.baseURL, pair.PolymarketEvent)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return market.Quote{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(p.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return market.Quote{}, fmt.Errorf("polymarket request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return market.Quote{}, fmt.Errorf("polymarket: %w", ErrRateLimited)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return market.Quote{}, fmt.Errorf("polymarket response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return market.Quote{}, &StatusError{Venue: polymarketName, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var event gammaEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return market.Quote{}, fmt.Errorf("decode polymarket event: %w", err)
	}

	target := strings.ToLower(pair.PolymarketMarketID)
	for _, m := range event.Markets {
		if strings.ToLower(m.id()) != target {
			continue
		}
		return p.toQuote(m)
	}
	return market.Quote{}, fmt.Errorf("polymarket market %s: %w", pair.PolymarketMarketID, ErrMarketNotFound)
}

func (p *Polymarket) toQuote(m gammaMarket) (market.Quote, error) {
	bid, ask, ok := bestPrices(m)
	if !ok {
		return market.Quote{}, fmt.Errorf("polymarket market %s has no usable prices: %w", m.id(), ErrMarketNotFound)
	}

	sourceTime := p.now().UTC()
	if m.UpdatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, m.UpdatedAt); err == nil {
			sourceTime = ts
		}
	}

	return market.Quote{
		Bid:        decimal.NewFromFloat(bid),
		Ask:        decimal.NewFromFloat(ask),
		SourceTime: sourceTime,
	}, nil
}

func bestPrices(m gammaMarket) (bid, ask float64, ok bool) {
	if m.BestBid != nil && m.BestAsk != nil {
		return *m.BestBid, *m.BestAsk, true
	}

	// outcomePrices is a JSON array encoded as a string, e.g. `["0.4","0.6"]`.
	trimmed := strings.TrimSpace(m.OutcomePrices)
	if !strings.HasPrefix(trimmed, "[") {
		return 0, 0, false
	}
	var raw []string
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return 0, 0, false
	}
	values := make([]float64, 0, len(raw))
	for _, s := range raw {
		d, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			continue
		}
		values = append(values, d.InexactFloat64())
	}
	if len(values) < 2 {
		return 0, 0, false
	}
	bid, ask = values[0], values[0]
	for _, v := range values[1:] {
		if v < bid {
			bid = v
		}
		if v > ask {
			ask = v
		}
	}
	return bid, ask, true
}

var _ QuoteFetcher = (*Polymarket)(nil)
