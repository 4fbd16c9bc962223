package market

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a top-of-book observation from one venue, prices in dollars
// within [0, 1].
type Quote struct {
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	SourceTime time.Time
}

// Rejection reason codes surfaced to the caller's log.
var (
	ErrPriceOutOfRange  = errors.New("price outside accepted range")
	ErrCrossedQuote     = errors.New("bid above ask")
	ErrMissingTimestamp = errors.New("source timestamp missing")
	ErrStaleQuote       = errors.New("source timestamp too old")
)

// ValidatorOptions bound what counts as a usable quote.
type ValidatorOptions struct {
	MinPrice decimal.Decimal
	MaxPrice decimal.Decimal
	MaxAge   time.Duration
}

// Validator rejects stale, out-of-range, and crossed quotes before they can
// reach spread evaluation. It is a pure predicate; the caller decides what to
// do with the rejection reason.
type Validator struct {
	opts ValidatorOptions
}

// NewValidator constructs a Validator, applying defaults for unset bounds.
func NewValidator(opts ValidatorOptions) *Validator {
	if opts.MinPrice.IsZero() {
		opts.MinPrice = decimal.NewFromFloat(0.01)
	}
	if opts.MaxPrice.IsZero() {
		opts.MaxPrice = decimal.NewFromFloat(0.99)
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 10 * time.Second
	}
	return &Validator{opts: opts}
}

// Validate returns nil for a usable quote or the reason it must be discarded.
// The staleness boundary is inclusive: a quote exactly MaxAge old still passes.
func (v *Validator) Validate(q Quote, now time.Time) error {
	for _, price := range [2]decimal.Decimal{q.Bid, q.Ask} {
		if price.LessThan(v.opts.MinPrice) || price.GreaterThan(v.opts.MaxPrice) {
			return ErrPriceOutOfRange
		}
	}
	if q.Bid.GreaterThan(q.Ask) {
		return ErrCrossedQuote
	}
	if q.SourceTime.IsZero() {
		return ErrMissingTimestamp
	}
	age := now.Sub(q.SourceTime)
	if age < 0 {
		age = -age
	}
	if age > v.opts.MaxAge {
		return ErrStaleQuote
	}
	return nil
}
