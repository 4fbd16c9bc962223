package window

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"arbwatch/internal/market"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

func TestObserveLifecycle(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	spreads := []string{"0.05", "0.08", "0.03", "-0.01"}
	var closed *Record

	for i, s := range spreads {
		now := base.Add(time.Duration(i) * 30 * time.Second)
		opened, rec := tr.Observe("p1", "Pair One", market.BuyKalshiSellPoly, dec(t, s), now)
		switch i {
		case 0:
			if !opened {
				t.Fatal("first positive observation should open a window")
			}
		case 3:
			if rec == nil {
				t.Fatal("non-positive spread should close the window")
			}
			closed = rec
		default:
			if opened || rec != nil {
				t.Fatalf("observation %d should only extend, got opened=%v closed=%v", i, opened, rec)
			}
		}
	}

	if closed.ObservationCount != 3 {
		t.Fatalf("observation count = %d, want 3", closed.ObservationCount)
	}
	if want := dec(t, "0.08"); !closed.PeakSpread.Equal(want) {
		t.Fatalf("peak = %s, want %s", closed.PeakSpread, want)
	}
	avg := dec(t, "0.16").Div(decimal.NewFromInt(3))
	if !closed.AvgSpread.Equal(avg) {
		t.Fatalf("avg = %s, want %s", closed.AvgSpread, avg)
	}
	if closed.Interrupted {
		t.Fatal("normally closed window must not be marked interrupted")
	}
	if closed.DurationSeconds != 90 {
		t.Fatalf("duration = %v, want 90s", closed.DurationSeconds)
	}
	if tr.OpenCount() != 0 {
		t.Fatalf("open count = %d after close, want 0", tr.OpenCount())
	}
}

func TestObserveCloseWithoutOpenIsNoop(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	opened, rec := tr.Observe("p1", "Pair One", market.BuyKalshiSellPoly, dec(t, "-0.02"), now)
	if opened || rec != nil {
		t.Fatalf("closing a closed window must be a no-op, got opened=%v rec=%v", opened, rec)
	}
}

func TestObserveDirectionsIndependent(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tr.Observe("p1", "Pair One", market.BuyKalshiSellPoly, dec(t, "0.02"), now)
	tr.Observe("p1", "Pair One", market.BuyPolySellKalshi, dec(t, "0.04"), now)
	if tr.OpenCount() != 2 {
		t.Fatalf("both directions should hold windows, got %d", tr.OpenCount())
	}

	// Closing one direction leaves the other open.
	_, rec := tr.Observe("p1", "Pair One", market.BuyKalshiSellPoly, dec(t, "0"), now.Add(time.Second))
	if rec == nil {
		t.Fatal("zero spread should close the K->P window")
	}
	if tr.OpenCount() != 1 || !tr.HasOpen("p1") {
		t.Fatalf("P->K window should survive, open=%d", tr.OpenCount())
	}
}

func TestObserveNonMonotonicIgnored(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tr.Observe("p1", "Pair One", market.BuyKalshiSellPoly, dec(t, "0.02"), now)
	opened, rec := tr.Observe("p1", "Pair One", market.BuyKalshiSellPoly, dec(t, "0.09"), now.Add(-time.Minute))
	if opened || rec != nil {
		t.Fatal("an observation in the past must be ignored")
	}

	windows := tr.OpenWindows()
	if len(windows) != 1 || windows[0].ObservationCount != 1 {
		t.Fatalf("ignored observation must not mutate the window: %+v", windows)
	}
}

func TestForceCloseAll(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tr.Observe("p1", "Pair One", market.BuyKalshiSellPoly, dec(t, "0.02"), now)
	tr.Observe("p2", "Pair Two", market.BuyPolySellKalshi, dec(t, "0.03"), now)

	records := tr.ForceCloseAll(now.Add(time.Minute))
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	for _, rec := range records {
		if !rec.Interrupted {
			t.Fatalf("force-closed window %s must be interrupted", rec.WindowID)
		}
	}
	if tr.OpenCount() != 0 {
		t.Fatal("tracker should be empty after ForceCloseAll")
	}
	if records[0].PairID != "p1" || records[1].PairID != "p2" {
		t.Fatalf("records not in stable order: %s, %s", records[0].PairID, records[1].PairID)
	}

	if again := tr.ForceCloseAll(now.Add(2 * time.Minute)); again != nil {
		t.Fatalf("second ForceCloseAll should return nothing, got %d", len(again))
	}
}

func TestRestore(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	saved := []Window{
		{
			ID: "w1", PairID: "p1", Direction: market.BuyKalshiSellPoly,
			StartTime: now.Add(-time.Hour), LastUpdate: now.Add(-2 * time.Minute),
			ObservationCount: 4, PeakSpread: dec(t, "0.06"), SumSpread: dec(t, "0.12"),
		},
		// No observations: invalid by construction, must be dropped.
		{ID: "w2", PairID: "p2", Direction: market.BuyPolySellKalshi},
	}
	tr.Restore(saved)

	if tr.OpenCount() != 1 {
		t.Fatalf("open count after restore = %d, want 1", tr.OpenCount())
	}

	// Restored window keeps accumulating under its original identity.
	tr.Observe("p1", "Pair One", market.BuyKalshiSellPoly, dec(t, "0.02"), now)
	_, rec := tr.Observe("p1", "Pair One", market.BuyKalshiSellPoly, dec(t, "-0.01"), now.Add(time.Minute))
	if rec == nil {
		t.Fatal("window should close")
	}
	if rec.WindowID != "w1" {
		t.Fatalf("window id = %s, want w1", rec.WindowID)
	}
	if rec.ObservationCount != 5 {
		t.Fatalf("observation count = %d, want 5", rec.ObservationCount)
	}
}
