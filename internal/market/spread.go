package market

import "github.com/shopspring/decimal"

// FeeBasis selects which price the fee model is evaluated against for a
// direction: the ask being bought into, or the bid being sold into. Both
// conventions exist in the wild, so the choice is configuration, not code.
type FeeBasis string

const (
	FeeBasisAsk FeeBasis = "ask"
	FeeBasisBid FeeBasis = "bid"
)

var decTwo = decimal.NewFromInt(2)

// EvaluatorOptions parameterise spread evaluation.
type EvaluatorOptions struct {
	Fee      FeeFunc
	GasFee   decimal.Decimal // fixed cost per trade, charged once per leg
	FeeBasis FeeBasis
}

// Evaluation carries both directional net spreads, and the total transaction
// cost applied to each, for a single tick of one pair.
type Evaluation struct {
	NetAtoB  decimal.Decimal // buy venue A's ask, sell venue B's bid
	NetBtoA  decimal.Decimal // buy venue B's ask, sell venue A's bid
	CostAtoB decimal.Decimal
	CostBtoA decimal.Decimal
}

// Evaluator computes fee-adjusted cross-venue spreads. Pure and
// deterministic; inputs are assumed to have passed Validator.
type Evaluator struct {
	opts EvaluatorOptions
}

// NewEvaluator constructs an Evaluator. A nil fee function means no
// venue fee, only the fixed gas cost.
func NewEvaluator(opts EvaluatorOptions) *Evaluator {
	if opts.Fee == nil {
		opts.Fee = func(decimal.Decimal) decimal.Decimal { return decimal.Zero }
	}
	if opts.FeeBasis == "" {
		opts.FeeBasis = FeeBasisAsk
	}
	return &Evaluator{opts: opts}
}

// Evaluate returns the two directional net spreads between venue A and
// venue B:
//
//	netAtoB = bidB - askA - cost
//	netBtoA = bidA - askB - cost
//
// where cost = 2*gasFee + 2*fee(base) and base is the direction's fee-basis
// price.
func (e *Evaluator) Evaluate(a, b Quote) Evaluation {
	costAtoB := e.cost(a.Ask, b.Bid)
	costBtoA := e.cost(b.Ask, a.Bid)
	return Evaluation{
		NetAtoB:  b.Bid.Sub(a.Ask).Sub(costAtoB),
		NetBtoA:  a.Bid.Sub(b.Ask).Sub(costBtoA),
		CostAtoB: costAtoB,
		CostBtoA: costBtoA,
	}
}

func (e *Evaluator) cost(buyAsk, sellBid decimal.Decimal) decimal.Decimal {
	base := buyAsk
	if e.opts.FeeBasis == FeeBasisBid {
		base = sellBid
	}
	return e.opts.GasFee.Mul(decTwo).Add(e.opts.Fee(base).Mul(decTwo))
}
