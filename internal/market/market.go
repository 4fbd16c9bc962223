package market

// MarketPair maps one prediction-market contract across the two venues. Pairs
// are loaded from configuration and never mutated afterwards.
type MarketPair struct {
	ID                 string `mapstructure:"id"`
	Name               string `mapstructure:"name"`
	PolymarketEvent    string `mapstructure:"polymarket_event"`
	PolymarketMarketID string `mapstructure:"polymarket_market_id"`
	KalshiEvent        string `mapstructure:"kalshi_event"`
	KalshiMarketID     string `mapstructure:"kalshi_market_id"`
	SettlementDate     string `mapstructure:"settlement_date"`
	Notes              string `mapstructure:"notes"`
}

// Direction identifies one of the two ways to realise a cross-venue spread.
type Direction string

const (
	// BuyKalshiSellPoly buys the Kalshi ask and sells into the Polymarket bid.
	BuyKalshiSellPoly Direction = "K_to_P"
	// BuyPolySellKalshi buys the Polymarket ask and sells into the Kalshi bid.
	BuyPolySellKalshi Direction = "P_to_K"
)

// Directions lists both evaluation directions in a stable order.
func Directions() [2]Direction {
	return [2]Direction{BuyKalshiSellPoly, BuyPolySellKalshi}
}

// Label renders the direction for logs and notifications.
func (d Direction) Label() string {
	switch d {
	case BuyKalshiSellPoly:
		return "K->P"
	case BuyPolySellKalshi:
		return "P->K"
	}
	return string(d)
}
