package fetcher

import (
	"context"
	"errors"
	"fmt"

	"arbwatch/internal/market"
)

// Failure modes the monitor distinguishes between.
var (
	// ErrRateLimited marks an HTTP 429 from a venue; the caller feeds it to
	// the rate-limit controller rather than treating it as a data error.
	ErrRateLimited = errors.New("rate limited by venue")
	// ErrMarketNotFound marks an event response that does not contain the
	// configured market; the pair is skipped for the tick.
	ErrMarketNotFound = errors.New("market not found in event")
)

// StatusError wraps an unexpected HTTP response.
type StatusError struct {
	Venue  string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s api error (%d): %s", e.Venue, e.Status, e.Body)
	}
	return fmt.Sprintf("%s api error (%d)", e.Venue, e.Status)
}

// QuoteFetcher retrieves the top-of-book quote for one side of a market pair.
type QuoteFetcher interface {
	Name() string
	FetchQuote(ctx context.Context, pair market.MarketPair) (market.Quote, error)
}
