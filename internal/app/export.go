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

	"weather-oracle/internal/oracle"
)

// Export renders the epoch series as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

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

		to := latest
		if opts.ToEpoch != nil {
			to = *opts.ToEpoch
		}
		from := firstOfLast(to, opts.MaxPoints)
		if opts.FromEpoch != nil {
			from = *opts.FromEpoch
		}
		if from > to {
			return errors.New("--from-epoch must not be after --to-epoch")
		}

		records, err = c.Records(ctx, from, to)
		return err
	})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no records found for export window")
		return nil
	}

	downsampled := downsampleRecords(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting records")

	if opts.CSVPath != "" {
		if err := writeRecordsCSV(opts.CSVPath, cfg, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRecordsPNG(opts.PNGPath, cfg, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRecords(records []oracle.Record, max int) []oracle.Record {
	if max <= 0 || len(records) <= max {
		return records
	}
	if max == 1 {
		return records[len(records)-1:]
	}

	result := make([]oracle.Record, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func windowStart(epoch, duration uint32) time.Time {
	start, _ := oracle.EpochWindow(epoch, duration)
	return time.Unix(int64(start), 0).UTC()
}

func writeRecordsCSV(path string, cfg oracle.Config, records []oracle.Record) error {
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

	header := []string{"epoch", "window_start", "value", "threshold", "above_threshold"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range records {
		record := []string{
			strconv.FormatUint(uint64(r.Epoch), 10),
			windowStart(r.Epoch, cfg.EpochDuration).Format(time.RFC3339),
			strconv.FormatUint(uint64(r.Value), 10),
			strconv.FormatUint(uint64(cfg.Threshold), 10),
			strconv.FormatBool(r.Value > cfg.Threshold),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeRecordsPNG(path string, cfg oracle.Config, records []oracle.Record) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(records))
	values := make([]float64, len(records))
	threshold := make([]float64, len(records))

	top := float64(cfg.Threshold)
	for i, r := range records {
		x[i] = windowStart(r.Epoch, cfg.EpochDuration)
		values[i] = float64(r.Value)
		threshold[i] = float64(cfg.Threshold)
		top = math.Max(top, values[i])
	}
	// go-chart needs at least two points to draw a line.
	if len(x) == 1 {
		x = append(x, x[0].Add(time.Duration(cfg.EpochDuration)*time.Second))
		values = append(values, values[0])
		threshold = append(threshold, threshold[0])
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Reported value",
			ValueFormatter: valueFormatter,
			Range:          &chart.ContinuousRange{Min: 0, Max: top*1.1 + 1},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Value",
				XValues: x,
				YValues: values,
			},
			chart.TimeSeries{
				Name:    "Threshold",
				XValues: x,
				YValues: threshold,
				Style: chart.Style{
					StrokeDashArray: []float64{5.0, 5.0},
				},
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

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
