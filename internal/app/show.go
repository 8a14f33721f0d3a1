package app

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"weather-oracle/internal/oracle"
)

// Show prints the most recent epoch records, newest first.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	h, closeHost, err := a.openHost(ctx)
	if err != nil {
		return err
	}
	defer closeHost()

	var (
		cfg     oracle.Config
		records []oracle.Record
	)
	err = h.Query(ctx, func(ctx context.Context, c *oracle.Contract) error {
		var err error
		if cfg, err = c.Config(ctx); err != nil {
			return err
		}
		latest, err := c.LastUpdateTime(ctx)
		if err != nil {
			return err
		}
		records, err = c.Records(ctx, firstOfLast(latest, opts.Limit), latest)
		return err
	})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.Out, "no records found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Epoch\tWindow start (UTC)\tValue\tAbove threshold")

	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		start, _ := oracle.EpochWindow(r.Epoch, cfg.EpochDuration)
		fmt.Fprintf(
			writer,
			"%d\t%s\t%d\t%t\n",
			r.Epoch,
			time.Unix(int64(start), 0).UTC().Format(time.RFC3339),
			r.Value,
			r.Value > cfg.Threshold,
		)
	}

	return writer.Flush()
}

// firstOfLast returns the first epoch of the last n epochs ending at latest.
func firstOfLast(latest uint32, n int) uint32 {
	if n <= 0 || uint64(n) > uint64(latest) {
		return 0
	}
	return latest - uint32(n) + 1
}
