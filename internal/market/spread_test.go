package market

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestEvaluateFixedCost(t *testing.T) {
	// Total cost 0.03 per direction: gas 0.005 per trade, fee 0.01 flat.
	ev := NewEvaluator(EvaluatorOptions{
		Fee:    func(decimal.Decimal) decimal.Decimal { return dec(t, "0.01") },
		GasFee: dec(t, "0.005"),
	})

	a := Quote{Bid: dec(t, "0.40"), Ask: dec(t, "0.42")}
	b := Quote{Bid: dec(t, "0.50"), Ask: dec(t, "0.52")}

	got := ev.Evaluate(a, b)

	if want := dec(t, "0.05"); !got.NetAtoB.Equal(want) {
		t.Fatalf("netAtoB = %s, want %s", got.NetAtoB, want)
	}
	if want := dec(t, "-0.15"); !got.NetBtoA.Equal(want) {
		t.Fatalf("netBtoA = %s, want %s", got.NetBtoA, want)
	}
	if want := dec(t, "0.03"); !got.CostAtoB.Equal(want) || !got.CostBtoA.Equal(want) {
		t.Fatalf("costs = %s/%s, want %s", got.CostAtoB, got.CostBtoA, want)
	}
}

func TestEvaluateFeeBasisSelectsPrice(t *testing.T) {
	var seen []string
	fee := func(p decimal.Decimal) decimal.Decimal {
		seen = append(seen, p.String())
		return decimal.Zero
	}

	a := Quote{Bid: dec(t, "0.40"), Ask: dec(t, "0.42")}
	b := Quote{Bid: dec(t, "0.50"), Ask: dec(t, "0.52")}

	NewEvaluator(EvaluatorOptions{Fee: fee, FeeBasis: FeeBasisAsk}).Evaluate(a, b)
	if len(seen) != 2 || seen[0] != "0.42" || seen[1] != "0.52" {
		t.Fatalf("ask basis fed %v, want asks of the bought legs", seen)
	}

	seen = nil
	NewEvaluator(EvaluatorOptions{Fee: fee, FeeBasis: FeeBasisBid}).Evaluate(a, b)
	if len(seen) != 2 || seen[0] != "0.5" || seen[1] != "0.4" {
		t.Fatalf("bid basis fed %v, want bids of the sold legs", seen)
	}
}

func TestEvaluateNilFee(t *testing.T) {
	ev := NewEvaluator(EvaluatorOptions{GasFee: dec(t, "0.01")})
	a := Quote{Bid: dec(t, "0.40"), Ask: dec(t, "0.42")}
	b := Quote{Bid: dec(t, "0.50"), Ask: dec(t, "0.52")}

	got := ev.Evaluate(a, b)
	if want := dec(t, "0.06"); !got.NetAtoB.Equal(want) {
		t.Fatalf("netAtoB = %s, want %s", got.NetAtoB, want)
	}
}

func TestKalshiFee(t *testing.T) {
	cases := []struct {
		price string
		want  string
	}{
		{"0.50", "0.02"}, // 0.07*0.25 = 0.0175 -> 0.02
		{"0.40", "0.02"}, // 0.07*0.24 = 0.0168 -> 0.02
		{"0.10", "0.01"}, // 0.07*0.09 = 0.0063 -> 0.01
		{"0.99", "0.01"}, // 0.07*0.0099 -> 0.01
	}
	for _, tc := range cases {
		got := KalshiFee(dec(t, tc.price))
		if !got.Equal(dec(t, tc.want)) {
			t.Errorf("KalshiFee(%s) = %s, want %s", tc.price, got, tc.want)
		}
	}
}
