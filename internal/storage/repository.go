package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertWindowSQL = `INSERT INTO opportunity_windows (
        window_id,
        pair_id,
        pair_name,
        direction,
        start_time,
        end_time,
        duration_seconds,
        peak_spread,
        avg_spread,
        observation_count,
        interrupted
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    ) ON CONFLICT (window_id) DO NOTHING;`

	listWindowsBetweenSQL = `SELECT
        window_id, pair_id, pair_name, direction,
        start_time, end_time, duration_seconds,
        peak_spread, avg_spread, observation_count, interrupted, created_at
    FROM opportunity_windows
    WHERE end_time >= $1 AND end_time < $2
    ORDER BY end_time;`

	listRecentWindowsSQL = `SELECT
        window_id, pair_id, pair_name, direction,
        start_time, end_time, duration_seconds,
        peak_spread, avg_spread, observation_count, interrupted, created_at
    FROM opportunity_windows
    ORDER BY end_time DESC
    LIMIT $1;`

	countWindowsSQL = `SELECT COUNT(*) FROM opportunity_windows;`

	insertSnapshotSQL = `INSERT INTO spread_snapshots (
        observed_at, pair_id, pair_name,
        kalshi_bid, kalshi_ask, poly_bid, poly_ask,
        cost_k_to_p, cost_p_to_k, net_k_to_p, net_p_to_k
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    );`

	listSnapshotsBetweenSQL = `SELECT
        observed_at, pair_id, pair_name,
        kalshi_bid, kalshi_ask, poly_bid, poly_ask,
        cost_k_to_p, cost_p_to_k, net_k_to_p, net_p_to_k
    FROM spread_snapshots
    WHERE observed_at >= $1 AND observed_at < $2
      AND ($3 = '' OR pair_id = $3)
    ORDER BY observed_at;`

	insertAlertSQL = `INSERT INTO alerts (
        kind, source, message, occurrences
    ) VALUES (
        $1,$2,$3,$4
    ) RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT id, kind, source, message, occurrences, created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// WindowHistoryStore defines the append-only closed-window history.
type WindowHistoryStore interface {
	InsertWindow(ctx context.Context, record WindowRecord) error
	ListWindowsBetween(ctx context.Context, from, to time.Time) ([]WindowRecord, error)
	ListRecentWindows(ctx context.Context, limit int) ([]WindowRecord, error)
	CountWindows(ctx context.Context) (int64, error)
}

// SnapshotStore defines per-tick spread snapshot persistence.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, snapshot SpreadSnapshot) error
	ListSnapshotsBetween(ctx context.Context, from, to time.Time, pairID string) ([]SpreadSnapshot, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to window history, snapshots, and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func. The monitor holds it for its whole run so two instances never
// double-write history.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertWindow appends a finalized window to history. Replays of the same
// window id are ignored.
func (s *Store) InsertWindow(ctx context.Context, record WindowRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertWindowSQL,
		record.WindowID,
		record.PairID,
		record.PairName,
		record.Direction,
		record.StartTime,
		record.EndTime,
		record.DurationSeconds,
		record.PeakSpread.String(),
		record.AvgSpread.String(),
		record.ObservationCount,
		record.Interrupted,
	)
	if execErr != nil {
		return fmt.Errorf("insert window: %w", execErr)
	}
	return nil
}

// ListWindowsBetween lists finalized windows whose end falls in a time range.
func (s *Store) ListWindowsBetween(ctx context.Context, from, to time.Time) ([]WindowRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listWindowsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list windows between: %w", queryErr)
	}
	defer rows.Close()

	return collectWindows(rows, 0)
}

// ListRecentWindows lists the most recently closed windows.
func (s *Store) ListRecentWindows(ctx context.Context, limit int) ([]WindowRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentWindowsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent windows: %w", queryErr)
	}
	defer rows.Close()

	return collectWindows(rows, limit)
}

// CountWindows counts stored window records.
func (s *Store) CountWindows(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countWindowsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count windows: %w", scanErr)
	}
	return count, nil
}

// InsertSnapshot appends one pair's per-tick evaluation.
func (s *Store) InsertSnapshot(ctx context.Context, snapshot SpreadSnapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertSnapshotSQL,
		snapshot.ObservedAt,
		snapshot.PairID,
		snapshot.PairName,
		snapshot.KalshiBid.String(),
		snapshot.KalshiAsk.String(),
		snapshot.PolyBid.String(),
		snapshot.PolyAsk.String(),
		snapshot.CostKtoP.String(),
		snapshot.CostPtoK.String(),
		snapshot.NetKtoP.String(),
		snapshot.NetPtoK.String(),
	)
	if execErr != nil {
		return fmt.Errorf("insert snapshot: %w", execErr)
	}
	return nil
}

// ListSnapshotsBetween lists snapshots in a time range, optionally filtered
// by pair.
func (s *Store) ListSnapshotsBetween(ctx context.Context, from, to time.Time, pairID string) ([]SpreadSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotsBetweenSQL, from, to, pairID)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots between: %w", queryErr)
	}
	defer rows.Close()

	snapshots := make([]SpreadSnapshot, 0)
	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snapshots = append(snapshots, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Kind,
		alert.Source,
		alert.Message,
		alert.Occurrences,
	)
	if scanErr := row.Scan(&alert.ID, &alert.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return alert, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.Source, &rec.Message, &rec.Occurrences, &rec.CreatedAt); err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func collectWindows(rows pgx.Rows, sizeHint int) ([]WindowRecord, error) {
	records := make([]WindowRecord, 0, sizeHint)
	for rows.Next() {
		rec, scanErr := scanWindow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanWindow(rows pgx.Rows) (WindowRecord, error) {
	var (
		rec        WindowRecord
		peakStr    string
		avgStr     string
	)
	if err := rows.Scan(
		&rec.WindowID,
		&rec.PairID,
		&rec.PairName,
		&rec.Direction,
		&rec.StartTime,
		&rec.EndTime,
		&rec.DurationSeconds,
		&peakStr,
		&avgStr,
		&rec.ObservationCount,
		&rec.Interrupted,
		&rec.CreatedAt,
	); err != nil {
		return WindowRecord{}, err
	}

	var err error
	rec.PeakSpread, err = decimal.NewFromString(peakStr)
	if err != nil {
		return WindowRecord{}, fmt.Errorf("parse peak spread: %w", err)
	}
	rec.AvgSpread, err = decimal.NewFromString(avgStr)
	if err != nil {
		return WindowRecord{}, fmt.Errorf("parse avg spread: %w", err)
	}
	return rec, nil
}

func scanSnapshot(rows pgx.Rows) (SpreadSnapshot, error) {
	var (
		snap SpreadSnapshot
		vals [8]string
	)
	if err := rows.Scan(
		&snap.ObservedAt,
		&snap.PairID,
		&snap.PairName,
		&vals[0], &vals[1], &vals[2], &vals[3],
		&vals[4], &vals[5], &vals[6], &vals[7],
	); err != nil {
		return SpreadSnapshot{}, err
	}

	fields := [8]*decimal.Decimal{
		&snap.KalshiBid, &snap.KalshiAsk, &snap.PolyBid, &snap.PolyAsk,
		&snap.CostKtoP, &snap.CostPtoK, &snap.NetKtoP, &snap.NetPtoK,
	}
	for i, raw := range vals {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return SpreadSnapshot{}, fmt.Errorf("parse snapshot value: %w", err)
		}
		*fields[i] = parsed
	}
	return snap, nil
}
