package window

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"arbwatch/internal/market"
)

// Window is a live opportunity window: a contiguous run of positive net
// spread observations for one (pair, direction). The JSON shape doubles as
// the checkpoint wire format.
type Window struct {
	ID               string           `json:"window_id"`
	PairID           string           `json:"pair_id"`
	PairName         string           `json:"pair_name,omitempty"`
	Direction        market.Direction `json:"direction"`
	StartTime        time.Time        `json:"start_time"`
	LastUpdate       time.Time        `json:"last_update"`
	ObservationCount int64            `json:"observation_count"`
	PeakSpread       decimal.Decimal  `json:"peak_spread"`
	SumSpread        decimal.Decimal  `json:"sum_spread"`
	Interrupted      bool             `json:"interrupted"`
}

// newWindow opens a window on its first positive observation; the count
// starts at 1, never 0.
func newWindow(pairID, pairName string, dir market.Direction, spread decimal.Decimal, now time.Time) *Window {
	return &Window{
		ID:               uuid.NewString(),
		PairID:           pairID,
		PairName:         pairName,
		Direction:        dir,
		StartTime:        now,
		LastUpdate:       now,
		ObservationCount: 1,
		PeakSpread:       spread,
		SumSpread:        spread,
	}
}

func (w *Window) observe(spread decimal.Decimal, now time.Time) {
	w.LastUpdate = now
	w.ObservationCount++
	w.SumSpread = w.SumSpread.Add(spread)
	if spread.GreaterThan(w.PeakSpread) {
		w.PeakSpread = spread
	}
}

// AvgSpread derives the mean spread over the window's observations.
func (w *Window) AvgSpread() decimal.Decimal {
	if w.ObservationCount == 0 {
		return decimal.Zero
	}
	return w.SumSpread.Div(decimal.NewFromInt(w.ObservationCount))
}

// finalize converts the live window into its durable history record. A
// finalized window is never reopened; a later opportunity gets a new ID.
func (w *Window) finalize(end time.Time, interrupted bool) Record {
	return Record{
		WindowID:         w.ID,
		PairID:           w.PairID,
		PairName:         w.PairName,
		Direction:        w.Direction,
		StartTime:        w.StartTime,
		EndTime:          end,
		DurationSeconds:  end.Sub(w.StartTime).Seconds(),
		PeakSpread:       w.PeakSpread,
		AvgSpread:        w.AvgSpread(),
		ObservationCount: w.ObservationCount,
		Interrupted:      w.Interrupted || interrupted,
	}
}

// Record is one row of the append-only closed-window history.
type Record struct {
	WindowID         string
	PairID           string
	PairName         string
	Direction        market.Direction
	StartTime        time.Time
	EndTime          time.Time
	DurationSeconds  float64
	PeakSpread       decimal.Decimal
	AvgSpread        decimal.Decimal
	ObservationCount int64
	Interrupted      bool
}
