package market

import "github.com/shopspring/decimal"

// FeeFunc computes the per-contract taker fee for a given execution price.
// The fee model is owned by the venue; spread evaluation treats it as opaque.
type FeeFunc func(price decimal.Decimal) decimal.Decimal

var (
	kalshiFeeRate = decimal.NewFromFloat(0.07)
	decOne        = decimal.NewFromInt(1)
	decHundred    = decimal.NewFromInt(100)
)

// KalshiFee implements Kalshi's taker fee schedule:
// ceil(0.07 * p * (1-p) * 100) / 100, i.e. rounded up to the next cent.
func KalshiFee(price decimal.Decimal) decimal.Decimal {
	raw := kalshiFeeRate.Mul(price).Mul(decOne.Sub(price)).Mul(decHundred)
	return raw.Ceil().Div(decHundred)
}
