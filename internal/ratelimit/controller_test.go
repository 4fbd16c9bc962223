package ratelimit

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRecordFailureEscalation(t *testing.T) {
	c := New(Options{BaseInterval: 20 * time.Second}, nil, zerolog.Nop())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if wait := c.RecordFailure("kalshi", now); wait != 30*time.Second {
		t.Fatalf("1st wait = %v, want 30s", wait)
	}
	if got := c.Interval("kalshi"); got != 30*time.Second {
		t.Fatalf("interval after 1st = %v, want 30s (x1.5)", got)
	}

	if wait := c.RecordFailure("kalshi", now.Add(time.Minute)); wait != time.Minute {
		t.Fatalf("2nd wait = %v, want 1m", wait)
	}
	if got := c.Interval("kalshi"); got != time.Minute {
		t.Fatalf("interval after 2nd = %v, want 1m (x2)", got)
	}

	if wait := c.RecordFailure("kalshi", now.Add(2*time.Minute)); wait != 2*time.Minute {
		t.Fatalf("3rd wait = %v, want 2m", wait)
	}
	if wait := c.RecordFailure("kalshi", now.Add(3*time.Minute)); wait != 2*time.Minute {
		t.Fatalf("4th wait = %v, want 2m (table is bounded)", wait)
	}
}

func TestRecordFailureWindowAgesOut(t *testing.T) {
	c := New(Options{BaseInterval: 20 * time.Second}, nil, zerolog.Nop())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	c.RecordFailure("kalshi", now)
	c.RecordFailure("kalshi", now.Add(5*time.Minute))
	c.RecordFailure("kalshi", now.Add(10*time.Minute))

	// 40 minutes after the first failure the whole tally has aged out,
	// so this counts as a fresh 1st occurrence.
	if wait := c.RecordFailure("kalshi", now.Add(41*time.Minute)); wait != 30*time.Second {
		t.Fatalf("aged-out wait = %v, want 30s", wait)
	}
}

func TestAlertFiresOnceWithCooldown(t *testing.T) {
	var alerts []int
	alert := func(source string, occ int, wait time.Duration) {
		if source != "kalshi" {
			t.Fatalf("alert for wrong source %q", source)
		}
		alerts = append(alerts, occ)
	}
	c := New(Options{BaseInterval: 20 * time.Second}, alert, zerolog.Nop())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	c.RecordFailure("kalshi", now)
	c.RecordFailure("kalshi", now.Add(10*time.Second))
	c.RecordFailure("kalshi", now.Add(20*time.Second))
	// 4th failure 30s later: threshold still met but within alert cooldown.
	c.RecordFailure("kalshi", now.Add(50*time.Second))

	if len(alerts) != 1 || alerts[0] != 3 {
		t.Fatalf("alerts = %v, want exactly one at 3 occurrences", alerts)
	}

	// Past the cooldown the next qualifying failure alerts again.
	c.RecordFailure("kalshi", now.Add(90*time.Second))
	if len(alerts) != 2 {
		t.Fatalf("alerts = %v, want a second one after cooldown", alerts)
	}
}

func TestSourcesIndependent(t *testing.T) {
	c := New(Options{BaseInterval: 20 * time.Second}, nil, zerolog.Nop())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	c.RecordFailure("kalshi", now)
	c.RecordFailure("kalshi", now.Add(time.Second))

	if wait := c.RecordFailure("polymarket", now.Add(2*time.Second)); wait != 30*time.Second {
		t.Fatalf("other source must start its own tally, wait = %v", wait)
	}
	if got := c.Interval("polymarket"); got != 30*time.Second {
		t.Fatalf("polymarket interval = %v, want 30s", got)
	}
}

func TestShouldExtendInterval(t *testing.T) {
	c := New(Options{BaseInterval: 20 * time.Second, ExtendThreshold: 5}, nil, zerolog.Nop())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		c.RecordFailure("kalshi", now.Add(time.Duration(i)*time.Second))
	}
	if c.ShouldExtendInterval(now.Add(5 * time.Second)) {
		t.Fatal("4 consecutive failures should not extend yet")
	}

	c.RecordFailure("kalshi", now.Add(5*time.Second))
	if !c.ShouldExtendInterval(now.Add(6 * time.Second)) {
		t.Fatal("5 consecutive recent failures should extend")
	}

	// Outside the extension cooldown the streak no longer counts.
	if c.ShouldExtendInterval(now.Add(6 * time.Minute)) {
		t.Fatal("stale streak should not extend")
	}

	c.RecordSuccess("kalshi")
	if c.ShouldExtendInterval(now.Add(7 * time.Second)) {
		t.Fatal("success clears the streak")
	}
	if !c.Quiet() {
		t.Fatal("controller should be quiet after recovery")
	}
}

func TestMaybeRelax(t *testing.T) {
	c := New(Options{BaseInterval: time.Minute}, nil, zerolog.Nop())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	c.RecordFailure("kalshi", now)
	c.RecordFailure("kalshi", now.Add(time.Second))
	escalated := c.Interval("kalshi")
	if escalated != 3*time.Minute {
		t.Fatalf("escalated interval = %v, want 3m", escalated)
	}

	// Too soon after the last failure: nothing happens.
	c.MaybeRelax(now.Add(10 * time.Minute))
	if c.Interval("kalshi") != escalated {
		t.Fatal("relaxed before the quiet period elapsed")
	}

	quiet := now.Add(time.Second).Add(30 * time.Minute)
	c.MaybeRelax(quiet)
	relaxed := c.Interval("kalshi")
	if relaxed != scaleDuration(escalated, 0.9) {
		t.Fatalf("interval = %v, want 10%% step from %v", relaxed, escalated)
	}

	// A second step inside the adjustment gap is rejected.
	c.MaybeRelax(quiet.Add(5 * time.Minute))
	if c.Interval("kalshi") != relaxed {
		t.Fatal("relaxation steps must be at least 10 minutes apart")
	}

	// Steps never undercut the baseline.
	for i := 0; i < 50; i++ {
		c.MaybeRelax(quiet.Add(time.Duration(i+1) * 10 * time.Minute))
	}
	if got := c.Interval("kalshi"); got != time.Minute {
		t.Fatalf("interval floor = %v, want baseline 1m", got)
	}

	st := c.State("kalshi")
	if st.IntervalExtended {
		t.Fatal("interval back at baseline must not report extended")
	}
}
