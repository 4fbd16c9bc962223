package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"arbwatch/internal/alerting"
	"arbwatch/internal/fetcher"
	"arbwatch/internal/market"
	"arbwatch/internal/ratelimit"
	"arbwatch/internal/storage"
	"arbwatch/internal/window"
)

// HistorySink is the subset of storage the monitor writes to. Nil-able so
// the monitor can run without a database during dry runs.
type HistorySink interface {
	InsertWindow(ctx context.Context, record storage.WindowRecord) error
	InsertSnapshot(ctx context.Context, snapshot storage.SpreadSnapshot) error
	InsertAlert(ctx context.Context, alert storage.AlertRecord) (storage.AlertRecord, error)
}

// Options tune the monitor loop.
type Options struct {
	Pairs              []market.MarketPair
	BaseInterval       time.Duration
	CheckpointInterval time.Duration
	ExtendFactor       float64
}

func (o *Options) applyDefaults() {
	if o.BaseInterval <= 0 {
		o.BaseInterval = 30 * time.Second
	}
	if o.CheckpointInterval <= 0 {
		o.CheckpointInterval = 5 * time.Minute
	}
	if o.ExtendFactor <= 1 {
		o.ExtendFactor = 1.5
	}
}

// Monitor runs the polling loop: fetch quotes for every configured pair,
// evaluate fee-adjusted spreads in both directions, and track opportunity
// windows. All mutable state (tracker, limiter, checkpoint cadence) is owned
// by the single goroutine driving Tick.
type Monitor struct {
	opts       Options
	kalshi     fetcher.QuoteFetcher
	polymarket fetcher.QuoteFetcher
	validator  *market.Validator
	evaluator  *market.Evaluator
	tracker    *window.Tracker
	checkpoint *window.FileStore
	limiter    *ratelimit.Controller
	notifier   alerting.Notifier
	history    HistorySink
	logger     zerolog.Logger

	now            func() time.Time
	lastCheckpoint time.Time
	extended       bool
}

// New assembles a Monitor. The rate-limit controller is constructed here so
// its alert callback can route through the monitor's notifier and history.
func New(
	opts Options,
	kalshi, polymarket fetcher.QuoteFetcher,
	validator *market.Validator,
	evaluator *market.Evaluator,
	checkpoint *window.FileStore,
	limitOpts ratelimit.Options,
	notifier alerting.Notifier,
	history HistorySink,
	logger zerolog.Logger,
) *Monitor {
	opts.applyDefaults()
	m := &Monitor{
		opts:       opts,
		kalshi:     kalshi,
		polymarket: polymarket,
		validator:  validator,
		evaluator:  evaluator,
		tracker:    window.NewTracker(logger),
		checkpoint: checkpoint,
		notifier:   notifier,
		history:    history,
		logger:     logger.With().Str("component", "monitor").Logger(),
		now:        time.Now,
	}
	m.limiter = ratelimit.New(limitOpts, m.onRateLimitAlert, logger)
	return m
}

// Recover replays the checkpoint from a previous run: fresh open windows are
// reinstated into the tracker, stale ones are persisted as interrupted.
func (m *Monitor) Recover(ctx context.Context) error {
	if m.checkpoint == nil {
		return nil
	}
	now := m.now().UTC()
	live, forced, err := m.checkpoint.LoadAndRecover(now)
	if err != nil {
		return err
	}
	if len(live) > 0 {
		m.tracker.Restore(live)
		m.logger.Info().Int("windows", len(live)).Msg("reinstated open windows from checkpoint")
	}
	for _, rec := range forced {
		m.persistWindow(ctx, rec)
	}
	return nil
}

// Tick runs one polling cycle and returns the delay before the next one.
func (m *Monitor) Tick(ctx context.Context, now time.Time) (time.Duration, error) {
	now = now.UTC()

	results := m.fetchAll(ctx, now)

	var maxWait time.Duration
	dirty := false
	for i, pair := range m.opts.Pairs {
		res := results[i]
		wait, changed := m.processPair(ctx, pair, res, now)
		if wait > maxWait {
			maxWait = wait
		}
		dirty = dirty || changed
	}

	m.limiter.MaybeRelax(now)
	m.adjustInterval(now)

	if dirty || now.Sub(m.lastCheckpoint) >= m.opts.CheckpointInterval {
		m.saveCheckpoint(now)
	}

	m.logger.Info().
		Int("pairs", len(m.opts.Pairs)).
		Int("open_windows", m.tracker.OpenCount()).
		Msg("tick complete")

	// Pacing honours whichever is slowest: the (possibly extended) base
	// interval, each source's escalated poll interval, and any one-shot wait
	// recommended this tick.
	delay := m.currentInterval()
	for _, source := range []string{m.kalshi.Name(), m.polymarket.Name()} {
		if iv := m.limiter.Interval(source); iv > delay {
			delay = iv
		}
	}
	if maxWait > delay {
		delay = maxWait
	}
	return delay, nil
}

// Shutdown force-closes every open window, persists the interruptions, and
// writes a final empty checkpoint. Uses a background context so a cancelled
// run context cannot drop the records.
func (m *Monitor) Shutdown() {
	now := m.now().UTC()
	records := m.tracker.ForceCloseAll(now)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, rec := range records {
		m.persistWindow(ctx, rec)
	}
	m.saveCheckpoint(now)
	if len(records) > 0 {
		m.logger.Info().Int("windows", len(records)).Msg("force-closed open windows on shutdown")
	}
}

type pairResult struct {
	kalshi    market.Quote
	poly      market.Quote
	kalshiErr error
	polyErr   error
}

// fetchAll pulls both venues for every pair concurrently, then hands the
// results back for serial processing.
func (m *Monitor) fetchAll(ctx context.Context, now time.Time) []pairResult {
	results := make([]pairResult, len(m.opts.Pairs))

	g, gctx := errgroup.WithContext(ctx)
	for i, pair := range m.opts.Pairs {
		g.Go(func() error {
			results[i].kalshi, results[i].kalshiErr = m.kalshi.FetchQuote(gctx, pair)
			return nil
		})
		g.Go(func() error {
			results[i].poly, results[i].polyErr = m.polymarket.FetchQuote(gctx, pair)
			return nil
		})
	}
	_ = g.Wait()

	for i := range results {
		if results[i].kalshiErr == nil {
			results[i].kalshiErr = m.validator.Validate(results[i].kalshi, now)
		}
		if results[i].polyErr == nil {
			results[i].polyErr = m.validator.Validate(results[i].poly, now)
		}
	}
	return results
}

// processPair evaluates one pair's tick. Returns the recommended wait if a
// venue was rate limited, and whether tracker state changed.
func (m *Monitor) processPair(ctx context.Context, pair market.MarketPair, res pairResult, now time.Time) (time.Duration, bool) {
	wait := m.recordFetchOutcome(m.kalshi.Name(), pair, res.kalshiErr, now)
	if w := m.recordFetchOutcome(m.polymarket.Name(), pair, res.polyErr, now); w > wait {
		wait = w
	}

	if res.kalshiErr != nil || res.polyErr != nil {
		status := "failed"
		if m.tracker.HasOpen(pair.ID) {
			// Missing data is not evidence the spread closed. The window
			// stays open until a usable quote says otherwise.
			status = "skipped"
		}
		m.logger.Debug().Str("pair", pair.ID).Str("status", status).Msg("pair tick")
		return wait, false
	}

	eval := m.evaluator.Evaluate(res.kalshi, res.poly)
	m.recordSnapshot(ctx, pair, res, eval, now)

	changed := false
	signal := false
	nets := map[market.Direction]decimal.Decimal{
		market.BuyKalshiSellPoly: eval.NetAtoB,
		market.BuyPolySellKalshi: eval.NetBtoA,
	}
	for _, dir := range market.Directions() {
		opened, closed := m.tracker.Observe(pair.ID, pair.Name, dir, nets[dir], now)
		if opened {
			changed = true
		}
		// A positive spread means the direction's window just opened or was
		// extended; both are live opportunities worth signalling.
		if opened || nets[dir].IsPositive() {
			signal = true
		}
		if closed != nil {
			m.persistWindow(ctx, *closed)
			changed = true
		}
	}

	if signal {
		m.notifyOpportunity(ctx, pair, res, eval, now)
	}

	status := "idle"
	if m.tracker.HasOpen(pair.ID) {
		status = "open"
	}
	m.logger.Debug().
		Str("pair", pair.ID).
		Str("status", status).
		Str("net_k_to_p", eval.NetAtoB.String()).
		Str("net_p_to_k", eval.NetBtoA.String()).
		Msg("pair tick")

	return wait, changed
}

func (m *Monitor) recordFetchOutcome(source string, pair market.MarketPair, err error, now time.Time) time.Duration {
	switch {
	case err == nil:
		m.limiter.RecordSuccess(source)
		return 0
	case errors.Is(err, fetcher.ErrRateLimited):
		m.logger.Warn().Str("source", source).Str("pair", pair.ID).Msg("rate limited")
		return m.limiter.RecordFailure(source, now)
	case isDataQuality(err):
		// Bad data is discarded, not retried: it says nothing about the
		// source's health, so it stays out of the backoff tally.
		m.logger.Warn().Err(err).Str("source", source).Str("pair", pair.ID).Msg("quote discarded")
		return 0
	default:
		// Timeouts, refused connections, and 5xx responses escalate backoff
		// the same way an explicit 429 does.
		m.logger.Warn().Err(err).Str("source", source).Str("pair", pair.ID).Msg("quote fetch failed")
		return m.limiter.RecordFailure(source, now)
	}
}

func isDataQuality(err error) bool {
	return errors.Is(err, market.ErrPriceOutOfRange) ||
		errors.Is(err, market.ErrCrossedQuote) ||
		errors.Is(err, market.ErrMissingTimestamp) ||
		errors.Is(err, market.ErrStaleQuote)
}

func (m *Monitor) recordSnapshot(ctx context.Context, pair market.MarketPair, res pairResult, eval market.Evaluation, now time.Time) {
	if m.history == nil {
		return
	}
	snap := storage.SpreadSnapshot{
		ObservedAt: now,
		PairID:     pair.ID,
		PairName:   pair.Name,
		KalshiBid:  res.kalshi.Bid,
		KalshiAsk:  res.kalshi.Ask,
		PolyBid:    res.poly.Bid,
		PolyAsk:    res.poly.Ask,
		CostKtoP:   eval.CostAtoB,
		CostPtoK:   eval.CostBtoA,
		NetKtoP:    eval.NetAtoB,
		NetPtoK:    eval.NetBtoA,
	}
	if err := m.history.InsertSnapshot(ctx, snap); err != nil {
		m.logger.Error().Err(err).Str("pair", pair.ID).Msg("failed to persist snapshot")
	}
}

func (m *Monitor) notifyOpportunity(ctx context.Context, pair market.MarketPair, res pairResult, eval market.Evaluation, now time.Time) {
	if m.notifier == nil {
		return
	}
	note := alerting.OpportunityNotification(pair, res.kalshi, res.poly, eval.NetAtoB, eval.NetBtoA, now)
	if err := m.notifier.Notify(ctx, note); err != nil {
		m.logger.Error().Err(err).Str("pair", pair.ID).Msg("failed to send opportunity alert")
	}
}

// onRateLimitAlert is invoked by the controller when a source crosses the
// occurrence threshold. Runs on the monitor goroutine.
func (m *Monitor) onRateLimitAlert(source string, occurrences int, wait time.Duration) {
	now := m.now().UTC()
	note := alerting.RateLimitNotification(source, occurrences, wait, now)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if m.notifier != nil {
		if err := m.notifier.Notify(ctx, note); err != nil {
			m.logger.Error().Err(err).Str("source", source).Msg("failed to send rate-limit alert")
		}
	}
	if m.history != nil {
		_, err := m.history.InsertAlert(ctx, storage.AlertRecord{
			Kind:        note.Kind,
			Source:      source,
			Message:     note.Message,
			Occurrences: occurrences,
		})
		if err != nil {
			m.logger.Error().Err(err).Str("source", source).Msg("failed to record alert")
		}
	}
}

func (m *Monitor) persistWindow(ctx context.Context, rec window.Record) {
	m.logger.Info().
		Str("window_id", rec.WindowID).
		Str("pair", rec.PairID).
		Str("direction", string(rec.Direction)).
		Float64("duration_seconds", rec.DurationSeconds).
		Str("peak_spread", rec.PeakSpread.String()).
		Bool("interrupted", rec.Interrupted).
		Msg("window closed")

	if m.history == nil {
		return
	}
	record := storage.WindowRecord{
		WindowID:         rec.WindowID,
		PairID:           rec.PairID,
		PairName:         rec.PairName,
		Direction:        string(rec.Direction),
		StartTime:        rec.StartTime,
		EndTime:          rec.EndTime,
		DurationSeconds:  rec.DurationSeconds,
		PeakSpread:       rec.PeakSpread,
		AvgSpread:        rec.AvgSpread,
		ObservationCount: rec.ObservationCount,
		Interrupted:      rec.Interrupted,
	}
	if err := m.history.InsertWindow(ctx, record); err != nil {
		m.logger.Error().Err(err).Str("window_id", rec.WindowID).Msg("failed to persist window")
	}
}

func (m *Monitor) saveCheckpoint(now time.Time) {
	if m.checkpoint == nil {
		return
	}
	if err := m.checkpoint.Save(m.tracker.OpenWindows(), now); err != nil {
		m.logger.Error().Err(err).Msg("failed to save checkpoint")
	} else {
		m.lastCheckpoint = now
	}
}

// adjustInterval widens polling when a source keeps failing and narrows it
// back once everything is quiet.
func (m *Monitor) adjustInterval(now time.Time) {
	if !m.extended && m.limiter.ShouldExtendInterval(now) {
		m.extended = true
		m.logger.Warn().
			Dur("interval", m.currentInterval()).
			Msg("extending polling interval after repeated failures")
		return
	}
	if m.extended && m.limiter.Quiet() {
		m.extended = false
		m.logger.Info().Dur("interval", m.currentInterval()).Msg("reverting to base polling interval")
	}
}

func (m *Monitor) currentInterval() time.Duration {
	if m.extended {
		return time.Duration(float64(m.opts.BaseInterval) * m.opts.ExtendFactor)
	}
	return m.opts.BaseInterval
}
