package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints recently closed opportunity windows.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show windows")
	}
	if closeStore != nil {
		defer closeStore()
	}

	windows, err := store.ListRecentWindows(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(windows) == 0 {
		fmt.Fprintln(os.Stdout, "no closed windows found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Closed (UTC)\tPair\tDir\tDuration(s)\tPeak\tAvg\tObs\tInterrupted")

	for _, win := range windows {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%.1f\t%s\t%s\t%d\t%t\n",
			win.EndTime.UTC().Format(time.RFC3339),
			win.PairID,
			win.Direction,
			win.DurationSeconds,
			formatDecimal(win.PeakSpread, 3),
			formatDecimal(win.AvgSpread, 3),
			win.ObservationCount,
			win.Interrupted,
		)
	}

	writer.Flush()
	return nil
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
