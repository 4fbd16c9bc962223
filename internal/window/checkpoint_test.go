package window

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"arbwatch/internal/market"
)

func testWindow(t *testing.T, id string) Window {
	t.Helper()
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return Window{
		ID:               id,
		PairID:           "p1",
		PairName:         "Pair One",
		Direction:        market.BuyKalshiSellPoly,
		StartTime:        start,
		LastUpdate:       start.Add(time.Minute),
		ObservationCount: 3,
		PeakSpread:       dec(t, "0.08"),
		SumSpread:        dec(t, "0.16"),
	}
}

func TestSaveAndRecoverFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewFileStore(path, 5*time.Minute, zerolog.Nop())
	savedAt := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)

	if err := store.Save([]Window{testWindow(t, "w1")}, savedAt); err != nil {
		t.Fatalf("save: %v", err)
	}

	live, forced, err := store.LoadAndRecover(savedAt.Add(4 * time.Minute))
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(forced) != 0 {
		t.Fatalf("fresh snapshot must not force-close, got %d", len(forced))
	}
	if len(live) != 1 || live[0].ID != "w1" {
		t.Fatalf("expected w1 reinstated, got %+v", live)
	}
	if !live[0].PeakSpread.Equal(dec(t, "0.08")) || live[0].ObservationCount != 3 {
		t.Fatalf("aggregates lost in round trip: %+v", live[0])
	}
}

func TestRecoverStaleForcesClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewFileStore(path, 5*time.Minute, zerolog.Nop())
	savedAt := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)

	if err := store.Save([]Window{testWindow(t, "w1")}, savedAt); err != nil {
		t.Fatalf("save: %v", err)
	}

	now := savedAt.Add(6 * time.Minute)
	live, forced, err := store.LoadAndRecover(now)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(live) != 0 {
		t.Fatalf("stale snapshot must not reinstate windows, got %d", len(live))
	}
	if len(forced) != 1 {
		t.Fatalf("expected 1 force-closed record, got %d", len(forced))
	}
	rec := forced[0]
	if !rec.Interrupted {
		t.Fatal("force-closed record must be interrupted")
	}
	if !rec.EndTime.Equal(now) {
		t.Fatalf("end time = %v, want recovery time %v", rec.EndTime, now)
	}

	// Snapshot is cleared: a second recovery finds nothing.
	live, forced, err = store.LoadAndRecover(now)
	if err != nil || live != nil || forced != nil {
		t.Fatalf("cleared snapshot should recover nothing, got %v/%v/%v", live, forced, err)
	}
}

func TestSaveOverwritesWholesale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewFileStore(path, 5*time.Minute, zerolog.Nop())
	savedAt := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)

	if err := store.Save([]Window{testWindow(t, "w1"), testWindow(t, "w2")}, savedAt); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(nil, savedAt.Add(time.Minute)); err != nil {
		t.Fatalf("save empty: %v", err)
	}

	live, _, err := store.LoadAndRecover(savedAt.Add(2 * time.Minute))
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(live) != 0 {
		t.Fatalf("later empty save must win, got %d windows", len(live))
	}
}

func TestRecoverCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := NewFileStore(path, 5*time.Minute, zerolog.Nop())

	live, forced, err := store.LoadAndRecover(time.Now().UTC())
	if err != nil || live != nil || forced != nil {
		t.Fatalf("corrupt snapshot must fall back to empty state, got %v/%v/%v", live, forced, err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatal("corrupt snapshot file should be removed")
	}
}

func TestRecoverMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "absent.json"), 5*time.Minute, zerolog.Nop())
	live, forced, err := store.LoadAndRecover(time.Now().UTC())
	if err != nil || live != nil || forced != nil {
		t.Fatalf("missing snapshot is not an error, got %v/%v/%v", live, forced, err)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "checkpoint.json"), 5*time.Minute, zerolog.Nop())
	if err := store.Save([]Window{testWindow(t, "w1")}, time.Now().UTC()); err != nil {
		t.Fatalf("save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "checkpoint.json" {
		t.Fatalf("unexpected directory contents: %v", entries)
	}
}
