package window

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Snapshot is the durable form of all live windows, rewritten wholesale on
// each checkpoint.
type Snapshot struct {
	SavedAt     time.Time `json:"saved_at"`
	OpenWindows []Window  `json:"open_windows"`
}

// FileStore persists snapshots to a single JSON file. Saves go through a
// temp file and rename so a crash mid-write never corrupts the last good
// snapshot.
type FileStore struct {
	path       string
	staleAfter time.Duration
	logger     zerolog.Logger
}

// NewFileStore constructs a checkpoint store. A snapshot older than
// staleAfter at load time is treated as a genuine outage rather than a
// restart.
func NewFileStore(path string, staleAfter time.Duration, logger zerolog.Logger) *FileStore {
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &FileStore{
		path:       path,
		staleAfter: staleAfter,
		logger:     logger.With().Str("component", "checkpoint").Logger(),
	}
}

// Save atomically replaces the snapshot file with the given open windows.
func (s *FileStore) Save(windows []Window, now time.Time) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	snap := Snapshot{SavedAt: now.UTC(), OpenWindows: windows}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace checkpoint: %w", err)
	}

	s.logger.Debug().Int("open_windows", len(windows)).Time("saved_at", snap.SavedAt).Msg("checkpoint saved")
	return nil
}

// LoadAndRecover reads the last snapshot. A fresh snapshot (age within the
// stale threshold) yields its windows as live state; a stale one yields every
// window finalized with interrupted=true, and the snapshot is cleared.
// Unreadable or corrupt snapshots are logged and discarded; recovery never
// fails the startup path.
func (s *FileStore) LoadAndRecover(now time.Time) (live []Window, forced []Record, err error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("checkpoint unreadable; starting with no open windows")
		return nil, nil, nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("checkpoint corrupt; starting with no open windows")
		s.Clear()
		return nil, nil, nil
	}

	age := now.Sub(snap.SavedAt)
	if age < 0 {
		age = -age
	}

	if age <= s.staleAfter {
		s.logger.Info().
			Int("windows", len(snap.OpenWindows)).
			Dur("age", age).
			Msg("recovered open windows from checkpoint")
		return snap.OpenWindows, nil, nil
	}

	forced = make([]Record, 0, len(snap.OpenWindows))
	for i := range snap.OpenWindows {
		forced = append(forced, snap.OpenWindows[i].finalize(now, true))
	}
	s.Clear()
	s.logger.Warn().
		Int("windows", len(forced)).
		Dur("age", age).
		Msg("stale checkpoint; force-closed persisted windows")
	return nil, forced, nil
}

// Clear removes the snapshot file; a missing file is not an error.
func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}
