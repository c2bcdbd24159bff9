package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"vortex-ramp/internal/model"
	"vortex-ramp/internal/ramp"
)

// Export renders ramp history as CSV and/or a PNG outcome chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	svc, _ := a.newService(store)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-30 * 24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	ramps, err := svc.RampsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(ramps) == 0 {
		a.Logger.Info().Msg("no ramps found for export window")
		return nil
	}

	downsampled := downsampleRamps(ramps, opts.MaxPoints)
	a.Logger.Info().Int("total", len(ramps)).Int("exported", len(downsampled)).Msg("exporting ramps")

	if opts.CSVPath != "" {
		if err := writeRampsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeOutcomesPNG(opts.PNGPath, ramps); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRamps(ramps []*model.RampState, max int) []*model.RampState {
	if max <= 0 || len(ramps) <= max {
		return ramps
	}

	result := make([]*model.RampState, 0, max)
	step := float64(len(ramps)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(ramps) {
			idx = len(ramps) - 1
		}
		result = append(result, ramps[idx])
	}
	return result
}

func writeRampsCSV(path string, ramps []*model.RampState) error {
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

	header := []string{"created_ts", "ramp_id", "quote_id", "type", "from", "to", "phase", "status", "failure_reason"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, state := range ramps {
		record := []string{
			state.CreatedAt.Format(time.RFC3339),
			state.ID,
			state.QuoteID,
			string(state.Type),
			string(state.From),
			string(state.To),
			string(state.CurrentPhase),
			string(ramp.ProjectStatus(state.CurrentPhase)),
			state.StateString(model.StateKeyFailureReason),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

// writeOutcomesPNG charts daily completed and failed counts.
func writeOutcomesPNG(path string, ramps []*model.RampState) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	type bucket struct {
		completed float64
		failed    float64
	}
	byDay := make(map[time.Time]*bucket)
	for _, state := range ramps {
		day := state.CreatedAt.UTC().Truncate(24 * time.Hour)
		b, ok := byDay[day]
		if !ok {
			b = &bucket{}
			byDay[day] = b
		}
		switch state.CurrentPhase {
		case model.PhaseComplete:
			b.completed++
		case model.PhaseFailed:
			b.failed++
		}
	}

	days := make([]time.Time, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	x := make([]time.Time, len(days))
	completed := make([]float64, len(days))
	failed := make([]float64, len(days))
	for i, day := range days {
		x[i] = day
		completed[i] = byDay[day].completed
		failed[i] = byDay[day].failed
	}

	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Ramps per day",
			ValueFormatter: countFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Completed",
				XValues: x,
				YValues: completed,
			},
			chart.TimeSeries{
				Name:    "Failed",
				XValues: x,
				YValues: failed,
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
