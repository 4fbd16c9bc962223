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

const kalshiName = "kalshi"

// KalshiOptions parameterise the Kalshi events API fetcher.
type KalshiOptions struct {
	BaseURL string
	Timeout time.Duration
	APIKey  string
}

// Kalshi fetches top-of-book quotes from the Kalshi trade API.
type Kalshi struct {
	opts    KalshiOptions
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
	now     func() time.Time
}

// NewKalshi constructs a Kalshi fetcher.
func NewKalshi(opts KalshiOptions, logger zerolog.Logger) *Kalshi {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.elections.kalshi.com/trade-api/v2"
	}
	return &Kalshi{
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		logger:  logger.With().Str("component", "kalshi_fetcher").Logger(),
		now:     time.Now,
	}
}

// Name identifies the venue for rate-limit bookkeeping.
func (k *Kalshi) Name() string { return kalshiName }

type kalshiEvent struct {
	Markets []kalshiMarket `json:"markets"`
}

type kalshiMarket struct {
	Ticker string `json:"ticker"`
	// Dollar prices arrive either as JSON numbers or quoted strings.
	YesBidDollars json.RawMessage `json:"yes_bid_dollars"`
	YesAskDollars json.RawMessage `json:"yes_ask_dollars"`
}

// FetchQuote retrieves the pair's Kalshi market from its event and returns
// the yes-side bid/ask in dollars.
func (k *Kalshi) FetchQuote(ctx context.Context, pair market.MarketPair) (market.Quote, error) {
	url := fmt.Sprintf("%s/events/%s", k.baseURL, pair.KalshiEvent)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return market.Quote{}, err
	}
	req.Header.Set("Accept", "application/json")
	if k.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+k.opts.APIKey)
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return market.Quote{}, fmt.Errorf("kalshi request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return market.Quote{}, fmt.Errorf("kalshi: %w", ErrRateLimited)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return market.Quote{}, fmt.Errorf("kalshi response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return market.Quote{}, &StatusError{Venue: kalshiName, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var event kalshiEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return market.Quote{}, fmt.Errorf("decode kalshi event: %w", err)
	}

	target := strings.ToLower(pair.KalshiMarketID)
	for _, m := range event.Markets {
		if strings.ToLower(m.Ticker) != target {
			continue
		}
		return k.toQuote(m)
	}
	return market.Quote{}, fmt.Errorf("kalshi market %s: %w", pair.KalshiMarketID, ErrMarketNotFound)
}

func (k *Kalshi) toQuote(m kalshiMarket) (market.Quote, error) {
	bid, err := parseDollars(m.YesBidDollars)
	if err != nil {
		return market.Quote{}, fmt.Errorf("kalshi market %s bid: %w", m.Ticker, err)
	}
	ask, err := parseDollars(m.YesAskDollars)
	if err != nil {
		return market.Quote{}, fmt.Errorf("kalshi market %s ask: %w", m.Ticker, err)
	}
	return market.Quote{Bid: bid, Ask: ask, SourceTime: k.now().UTC()}, nil
}

func parseDollars(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return decimal.Decimal{}, fmt.Errorf("empty price")
	}
	return decimal.NewFromString(s)
}

var _ QuoteFetcher = (*Kalshi)(nil)
