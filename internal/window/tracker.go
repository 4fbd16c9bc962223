package window

import (
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"arbwatch/internal/market"
)

// Tracker runs the per-(pair, direction) window state machine. It is owned by
// the monitor goroutine; methods must not be called concurrently.
type Tracker struct {
	open         map[string]*Window
	lastObserved time.Time
	logger       zerolog.Logger
}

// NewTracker constructs an empty tracker.
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		open:   make(map[string]*Window),
		logger: logger.With().Str("component", "window_tracker").Logger(),
	}
}

func windowKey(pairID string, dir market.Direction) string {
	return pairID + "::" + string(dir)
}

// Observe feeds one tick's net spread for a (pair, direction). A positive
// spread opens or extends the direction's window; a non-positive spread
// finalizes it when one is open. Returns whether a window was newly opened
// and, on close, the finalized record.
//
// Calls with a now earlier than a previous observation are ignored; the
// caller's clock is expected to be monotonic.
func (t *Tracker) Observe(pairID, pairName string, dir market.Direction, spread decimal.Decimal, now time.Time) (opened bool, closed *Record) {
	if now.Before(t.lastObserved) {
		t.logger.Warn().
			Time("now", now).
			Time("last_observed", t.lastObserved).
			Str("pair_id", pairID).
			Msg("non-monotonic observation ignored")
		return false, nil
	}
	t.lastObserved = now

	key := windowKey(pairID, dir)
	w := t.open[key]

	if spread.Sign() > 0 {
		if w == nil {
			t.open[key] = newWindow(pairID, pairName, dir, spread, now)
			return true, nil
		}
		w.observe(spread, now)
		return false, nil
	}

	if w == nil {
		// Closing with nothing open is a no-op.
		return false, nil
	}
	delete(t.open, key)
	rec := w.finalize(now, false)
	return false, &rec
}

// ForceCloseAll finalizes every open window with interrupted=true. Used at
// shutdown and after stale checkpoint recovery.
func (t *Tracker) ForceCloseAll(now time.Time) []Record {
	if len(t.open) == 0 {
		return nil
	}
	records := make([]Record, 0, len(t.open))
	for key, w := range t.open {
		records = append(records, w.finalize(now, true))
		delete(t.open, key)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].PairID != records[j].PairID {
			return records[i].PairID < records[j].PairID
		}
		return records[i].Direction < records[j].Direction
	})
	return records
}

// OpenWindows snapshots the live windows in a stable order for checkpointing.
func (t *Tracker) OpenWindows() []Window {
	windows := make([]Window, 0, len(t.open))
	for _, w := range t.open {
		windows = append(windows, *w)
	}
	sort.Slice(windows, func(i, j int) bool {
		if windows[i].PairID != windows[j].PairID {
			return windows[i].PairID < windows[j].PairID
		}
		return windows[i].Direction < windows[j].Direction
	})
	return windows
}

// OpenCount reports the number of live windows.
func (t *Tracker) OpenCount() int {
	return len(t.open)
}

// HasOpen reports whether either direction of a pair has a live window.
func (t *Tracker) HasOpen(pairID string) bool {
	for _, dir := range market.Directions() {
		if _, ok := t.open[windowKey(pairID, dir)]; ok {
			return true
		}
	}
	return false
}

// Restore replaces live state with windows recovered from a checkpoint.
func (t *Tracker) Restore(windows []Window) {
	t.open = make(map[string]*Window, len(windows))
	for i := range windows {
		w := windows[i]
		if w.ObservationCount < 1 {
			t.logger.Warn().Str("window_id", w.ID).Msg("discarding recovered window without observations")
			continue
		}
		t.open[windowKey(w.PairID, w.Direction)] = &w
		if w.LastUpdate.After(t.lastObserved) {
			t.lastObserved = w.LastUpdate
		}
	}
}
