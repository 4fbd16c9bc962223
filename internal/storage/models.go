package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// WindowRecord is one row of the append-only closed-window history.
type WindowRecord struct {
	WindowID         string
	PairID           string
	PairName         string
	Direction        string
	StartTime        time.Time
	EndTime          time.Time
	DurationSeconds  float64
	PeakSpread       decimal.Decimal
	AvgSpread        decimal.Decimal
	ObservationCount int64
	Interrupted      bool
	CreatedAt        time.Time
}

// SpreadSnapshot captures one pair's evaluated prices for a single tick.
type SpreadSnapshot struct {
	ObservedAt time.Time
	PairID     string
	PairName   string
	KalshiBid  decimal.Decimal
	KalshiAsk  decimal.Decimal
	PolyBid    decimal.Decimal
	PolyAsk    decimal.Decimal
	CostKtoP   decimal.Decimal
	CostPtoK   decimal.Decimal
	NetKtoP    decimal.Decimal
	NetPtoK    decimal.Decimal
}

// AlertRecord captures an emitted alert for auditing.
type AlertRecord struct {
	ID          int64
	Kind        string
	Source      string
	Message     string
	Occurrences int
	CreatedAt   time.Time
}
