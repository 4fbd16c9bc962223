package ratelimit

import (
	"time"

	"github.com/rs/zerolog"
)

// Options tune the controller's escalation and recovery behaviour.
type Options struct {
	BaseInterval    time.Duration // baseline polling interval
	MaxInterval     time.Duration // upper bound for escalated intervals
	FailureWindow   time.Duration // trailing window for the occurrence tally
	AlertThreshold  int           // occurrences within the window that trigger an alert
	AlertCooldown   time.Duration // minimum gap between alerts per source
	ExtendThreshold int           // consecutive failures that widen the global interval
	ExtendCooldown  time.Duration // how recent the last failure must be for extension
	RelaxAfter      time.Duration // quiet time before the interval starts relaxing
	RelaxEvery      time.Duration // minimum gap between relaxation steps
}

func (o *Options) applyDefaults() {
	if o.BaseInterval <= 0 {
		o.BaseInterval = 30 * time.Second
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 10 * time.Minute
	}
	if o.FailureWindow <= 0 {
		o.FailureWindow = 30 * time.Minute
	}
	if o.AlertThreshold <= 0 {
		o.AlertThreshold = 3
	}
	if o.AlertCooldown <= 0 {
		o.AlertCooldown = time.Minute
	}
	if o.ExtendThreshold <= 0 {
		o.ExtendThreshold = 5
	}
	if o.ExtendCooldown <= 0 {
		o.ExtendCooldown = 5 * time.Minute
	}
	if o.RelaxAfter <= 0 {
		o.RelaxAfter = 30 * time.Minute
	}
	if o.RelaxEvery <= 0 {
		o.RelaxEvery = 10 * time.Minute
	}
}

// AlertFunc is invoked when a source crosses the alert threshold. The
// controller throttles invocations per source; the sink only delivers.
type AlertFunc func(source string, occurrences int, wait time.Duration)

// State is a read-only view of one source's rate-limit bookkeeping.
type State struct {
	ConsecutiveFailures int
	LastFailure         time.Time
	Interval            time.Duration
	IntervalExtended    bool
}

type sourceState struct {
	occurrences []time.Time // failures within the trailing window
	consecutive int
	lastFailure time.Time
	lastAlert   time.Time
	lastRelax   time.Time
	interval    time.Duration
}

// Controller tracks rate-limit and transport failures per upstream source and
// recommends polling delays. It never fails a tick on its own; it only
// escalates and relaxes waits. Owned by the monitor goroutine, not safe for
// concurrent use.
type Controller struct {
	opts    Options
	alert   AlertFunc
	logger  zerolog.Logger
	sources map[string]*sourceState
}

// New constructs a Controller. The alert sink may be nil.
func New(opts Options, alert AlertFunc, logger zerolog.Logger) *Controller {
	opts.applyDefaults()
	return &Controller{
		opts:    opts,
		alert:   alert,
		logger:  logger.With().Str("component", "ratelimit").Logger(),
		sources: make(map[string]*sourceState),
	}
}

func (c *Controller) state(source string) *sourceState {
	st := c.sources[source]
	if st == nil {
		st = &sourceState{interval: c.opts.BaseInterval}
		c.sources[source] = st
	}
	return st
}

// RecordFailure registers a rate-limit or transport failure at now and
// returns the wait the caller should apply before the next attempt on that
// source. Occurrences older than the failure window age out of the tally.
func (c *Controller) RecordFailure(source string, now time.Time) time.Duration {
	st := c.state(source)
	st.consecutive++
	st.lastFailure = now

	cutoff := now.Add(-c.opts.FailureWindow)
	kept := st.occurrences[:0]
	for _, ts := range st.occurrences {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	st.occurrences = append(kept, now)
	occ := len(st.occurrences)

	var wait time.Duration
	switch occ {
	case 1:
		wait = 30 * time.Second
		st.interval = capDuration(scaleDuration(st.interval, 1.5), c.opts.MaxInterval)
	case 2:
		wait = time.Minute
		st.interval = capDuration(st.interval*2, c.opts.MaxInterval)
	default:
		wait = 2 * time.Minute
		st.interval = capDuration(st.interval*2, c.opts.MaxInterval)
	}
	st.lastRelax = time.Time{}

	c.logger.Warn().
		Str("source", source).
		Int("occurrences", occ).
		Int("consecutive", st.consecutive).
		Dur("wait", wait).
		Dur("interval", st.interval).
		Msg("rate limit escalation")

	if occ >= c.opts.AlertThreshold && now.Sub(st.lastAlert) >= c.opts.AlertCooldown {
		st.lastAlert = now
		if c.alert != nil {
			c.alert(source, occ, wait)
		}
	}

	return wait
}

// RecordSuccess clears the consecutive-failure streak for a source. The
// windowed occurrence tally only ages out by time.
func (c *Controller) RecordSuccess(source string) {
	st := c.sources[source]
	if st == nil || st.consecutive == 0 {
		return
	}
	c.logger.Info().
		Str("source", source).
		Int("was", st.consecutive).
		Msg("source recovered; failure streak cleared")
	st.consecutive = 0
}

// MaybeRelax steps escalated intervals back toward baseline: 10% per step,
// at most one step per RelaxEvery, only after RelaxAfter of quiet, never
// below baseline.
func (c *Controller) MaybeRelax(now time.Time) {
	for source, st := range c.sources {
		if st.interval <= c.opts.BaseInterval {
			continue
		}
		if now.Sub(st.lastFailure) < c.opts.RelaxAfter {
			continue
		}
		if !st.lastRelax.IsZero() && now.Sub(st.lastRelax) < c.opts.RelaxEvery {
			continue
		}
		relaxed := scaleDuration(st.interval, 0.9)
		if relaxed < c.opts.BaseInterval {
			relaxed = c.opts.BaseInterval
		}
		st.interval = relaxed
		st.lastRelax = now
		c.logger.Info().
			Str("source", source).
			Dur("interval", st.interval).
			Msg("poll interval relaxed")
	}
}

// ShouldExtendInterval reports whether any source has failed often enough,
// recently enough, that the global polling interval should be widened.
func (c *Controller) ShouldExtendInterval(now time.Time) bool {
	for _, st := range c.sources {
		if st.consecutive >= c.opts.ExtendThreshold && now.Sub(st.lastFailure) < c.opts.ExtendCooldown {
			return true
		}
	}
	return false
}

// Quiet reports whether no source has an outstanding failure streak.
func (c *Controller) Quiet() bool {
	for _, st := range c.sources {
		if st.consecutive > 0 {
			return false
		}
	}
	return true
}

// State returns a copy of one source's bookkeeping, mainly for logging and
// tests.
func (c *Controller) State(source string) State {
	st := c.sources[source]
	if st == nil {
		return State{Interval: c.opts.BaseInterval}
	}
	return State{
		ConsecutiveFailures: st.consecutive,
		LastFailure:         st.lastFailure,
		Interval:            st.interval,
		IntervalExtended:    st.interval > c.opts.BaseInterval,
	}
}

// Interval returns the current effective poll interval for a source.
func (c *Controller) Interval(source string) time.Duration {
	if st := c.sources[source]; st != nil {
		return st.interval
	}
	return c.opts.BaseInterval
}

func scaleDuration(d time.Duration, factor float64) time.Duration {
	return time.Duration(float64(d) * factor)
}

func capDuration(d, max time.Duration) time.Duration {
	if d > max {
		return max
	}
	return d
}
