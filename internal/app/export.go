package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"arbwatch/internal/storage"
)

// Export renders historical spread snapshots as CSV and/or PNG, plus the
// closed windows over the same range as a companion CSV when requested.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Monitor.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	snapshots, err := store.ListSnapshotsBetween(ctx, from, to, opts.PairID)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		a.Logger.Info().Msg("no snapshots found for export range")
		return nil
	}

	downsampled := downsampleSnapshots(snapshots, opts.MaxPoints)
	a.Logger.Info().Int("total", len(snapshots)).Int("exported", len(downsampled)).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}

		windows, err := store.ListWindowsBetween(ctx, from, to)
		if err != nil {
			return err
		}
		if len(windows) > 0 {
			windowsPath := windowsCSVPath(opts.CSVPath)
			if err := writeWindowsCSV(windowsPath, windows); err != nil {
				return err
			}
			a.Logger.Info().Int("windows", len(windows)).Str("path", windowsPath).Msg("exported closed windows")
		}
	}

	if opts.PNGPath != "" {
		if err := writeSnapshotsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSnapshots(snapshots []storage.SpreadSnapshot, max int) []storage.SpreadSnapshot {
	if max <= 0 || len(snapshots) <= max {
		return snapshots
	}

	result := make([]storage.SpreadSnapshot, 0, max)
	step := float64(len(snapshots)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(snapshots) {
			idx = len(snapshots) - 1
		}
		result = append(result, snapshots[idx])
	}
	return result
}

func writeSnapshotsCSV(path string, snapshots []storage.SpreadSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"observed_at", "pair_id", "pair_name",
		"kalshi_bid", "kalshi_ask", "poly_bid", "poly_ask",
		"cost_k_to_p", "cost_p_to_k", "net_k_to_p", "net_p_to_k",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, snap := range snapshots {
		record := []string{
			snap.ObservedAt.Format(time.RFC3339),
			snap.PairID,
			snap.PairName,
			snap.KalshiBid.String(),
			snap.KalshiAsk.String(),
			snap.PolyBid.String(),
			snap.PolyAsk.String(),
			snap.CostKtoP.String(),
			snap.CostPtoK.String(),
			snap.NetKtoP.String(),
			snap.NetPtoK.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeWindowsCSV(path string, windows []storage.WindowRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"window_id", "pair_id", "pair_name", "direction",
		"start_time", "end_time", "duration_seconds",
		"peak_spread", "avg_spread", "observation_count", "interrupted",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, win := range windows {
		record := []string{
			win.WindowID,
			win.PairID,
			win.PairName,
			win.Direction,
			win.StartTime.Format(time.RFC3339),
			win.EndTime.Format(time.RFC3339),
			strconv.FormatFloat(win.DurationSeconds, 'f', 1, 64),
			win.PeakSpread.String(),
			win.AvgSpread.String(),
			strconv.FormatInt(win.ObservationCount, 10),
			strconv.FormatBool(win.Interrupted),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSnapshotsPNG(path string, snapshots []storage.SpreadSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(snapshots))
	netKtoP := make([]float64, len(snapshots))
	netPtoK := make([]float64, len(snapshots))

	for i, snap := range snapshots {
		x[i] = snap.ObservedAt
		netKtoP[i] = snap.NetKtoP.InexactFloat64()
		netPtoK[i] = snap.NetPtoK.InexactFloat64()
	}

	spreadFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Net spread ($)",
			ValueFormatter: spreadFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Net K->P",
				XValues: x,
				YValues: netKtoP,
			},
			chart.TimeSeries{
				Name:    "Net P->K",
				XValues: x,
				YValues: netPtoK,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func windowsCSVPath(snapshotPath string) string {
	ext := filepath.Ext(snapshotPath)
	return snapshotPath[:len(snapshotPath)-len(ext)] + "_windows" + ext
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
