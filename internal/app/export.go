package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"pumpguard/internal/storage"
)

// activityBucket counts swaps that landed in one minute.
type activityBucket struct {
	Start   time.Time
	Swaps   int
	Traders int
}

// Export writes swap history as CSV and/or a swaps-per-minute PNG chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	pairAddress, pairName := "", "All pairs"
	if opts.Pair != "" {
		pair, ok := a.Config.FindPair(opts.Pair)
		if !ok {
			return fmt.Errorf("unknown pair %q", opts.Pair)
		}
		pairAddress, pairName = pair.Key(), pair.Name
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-time.Duration(opts.MaxPoints) * time.Minute)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	s, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	swaps, err := s.repo.ListSwapsBetween(ctx, pairAddress, from, to)
	if err != nil {
		return err
	}
	if len(swaps) == 0 {
		a.Logger.Info().Str("pair", pairName).Msg("no swaps found for export window")
		return nil
	}

	buckets := downsampleBuckets(bucketByMinute(swaps), opts.MaxPoints)
	a.Logger.Info().Str("pair", pairName).Int("swaps", len(swaps)).Int("points", len(buckets)).Msg("exporting swaps")

	if opts.CSVPath != "" {
		if err := writeFile(opts.CSVPath, func(w io.Writer) error { return writeSwapsCSV(w, swaps) }); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeFile(opts.PNGPath, func(w io.Writer) error { return renderActivityPNG(w, pairName, buckets) }); err != nil {
			return err
		}
	}
	return nil
}

// bucketByMinute groups swaps into consecutive one-minute buckets, filling gaps with zero.
func bucketByMinute(swaps []storage.SwapRecord) []activityBucket {
	if len(swaps) == 0 {
		return nil
	}
	first, last := swaps[0].CreatedAt.UTC(), swaps[0].CreatedAt.UTC()
	for _, s := range swaps[1:] {
		at := s.CreatedAt.UTC()
		if at.Before(first) {
			first = at
		}
		if at.After(last) {
			last = at
		}
	}
	first, last = first.Truncate(time.Minute), last.Truncate(time.Minute)

	n := int(last.Sub(first)/time.Minute) + 1
	buckets := make([]activityBucket, n)
	traders := make([]map[string]struct{}, n)
	for i := range buckets {
		buckets[i].Start = first.Add(time.Duration(i) * time.Minute)
		traders[i] = make(map[string]struct{})
	}
	for _, s := range swaps {
		i := int(s.CreatedAt.UTC().Truncate(time.Minute).Sub(first) / time.Minute)
		buckets[i].Swaps++
		traders[i][s.Sender] = struct{}{}
	}
	for i := range buckets {
		buckets[i].Traders = len(traders[i])
	}
	return buckets
}

func downsampleBuckets(buckets []activityBucket, max int) []activityBucket {
	if max <= 0 || len(buckets) <= max {
		return buckets
	}
	if max == 1 {
		return buckets[len(buckets)-1:]
	}

	result := make([]activityBucket, 0, max)
	step := float64(len(buckets)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(buckets) {
			idx = len(buckets) - 1
		}
		result = append(result, buckets[idx])
	}
	return result
}

func writeSwapsCSV(w io.Writer, swaps []storage.SwapRecord) error {
	writer := csv.NewWriter(w)

	header := []string{"created_at", "block_number", "tx_hash", "pair_address", "pair_name", "sender", "amount0_in", "amount1_in", "amount0_out", "amount1_out"}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, s := range swaps {
		record := []string{
			s.CreatedAt.UTC().Format(time.RFC3339),
			strconv.FormatUint(s.BlockNumber, 10),
			s.TxHash,
			s.PairAddress,
			s.PairName,
			s.Sender,
			s.Amount0In.String(),
			s.Amount1In.String(),
			s.Amount0Out.String(),
			s.Amount1Out.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func renderActivityPNG(w io.Writer, title string, buckets []activityBucket) error {
	if len(buckets) < 2 {
		return errors.New("at least two minutes of activity are needed to draw a chart")
	}

	x := make([]time.Time, len(buckets))
	swaps := make([]float64, len(buckets))
	traders := make([]float64, len(buckets))
	for i, b := range buckets {
		x[i] = b.Start
		swaps[i] = float64(b.Swaps)
		traders[i] = float64(b.Traders)
	}

	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Title:  title,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Swaps / min",
			ValueFormatter: countFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Swaps",
				XValues: x,
				YValues: swaps,
			},
			chart.TimeSeries{
				Name:    "Unique traders",
				XValues: x,
				YValues: traders,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return graph.Render(chart.PNG, w)
}

func writeFile(path string, render func(io.Writer) error) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
