package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"pumpguard/internal/storage"
)

const defaultShowLimit = 20

// Show prints recent alerts, swaps or per-pair statistics.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	if opts.Limit <= 0 {
		opts.Limit = defaultShowLimit
	}

	s, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	return a.show(ctx, s.repo, opts)
}

func (a *App) show(ctx context.Context, repo storage.Repository, opts ShowOptions) error {
	switch strings.ToLower(opts.What) {
	case "", "alerts":
		alerts, err := repo.ListRecentAlerts(ctx, opts.Limit)
		if err != nil {
			return err
		}
		if len(alerts) == 0 {
			fmt.Fprintln(a.Out, "no alerts found")
			return nil
		}
		writeAlerts(a.Out, alerts, time.RFC3339)
	case "swaps":
		swaps, err := repo.ListRecentSwaps(ctx, opts.Limit)
		if err != nil {
			return err
		}
		if len(swaps) == 0 {
			fmt.Fprintln(a.Out, "no swaps found")
			return nil
		}
		writeSwaps(a.Out, swaps)
	case "stats":
		stats, err := repo.ListPairStats(ctx)
		if err != nil {
			return err
		}
		summary, err := repo.Summarize(ctx)
		if err != nil {
			return err
		}
		writeStats(a.Out, stats, summary)
	default:
		return fmt.Errorf("unknown view %q (want alerts, swaps or stats)", opts.What)
	}
	return nil
}

func writeAlerts(out io.Writer, alerts []storage.Alert, layout string) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tPair\tType\tScore\tDescription")
	for _, alert := range alerts {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%.2f\t%s\n",
			alert.CreatedAt.UTC().Format(layout),
			alert.PairName,
			alert.Type,
			alert.Score,
			sanitizeInline(alert.Description),
		)
	}
	writer.Flush()
}

func writeSwaps(out io.Writer, swaps []storage.SwapRecord) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tPair\tBlock\tSender\tAmount0In\tAmount1In\tAmount0Out\tAmount1Out\tTx")
	for _, swap := range swaps {
		fmt.Fprintf(writer, "%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			swap.CreatedAt.UTC().Format(time.RFC3339),
			swap.PairName,
			swap.BlockNumber,
			shortHex(swap.Sender),
			formatDecimal(swap.Amount0In, 4),
			formatDecimal(swap.Amount1In, 4),
			formatDecimal(swap.Amount0Out, 4),
			formatDecimal(swap.Amount1Out, 4),
			shortHex(swap.TxHash),
		)
	}
	writer.Flush()
}

func writeStats(out io.Writer, stats []storage.PairStats, summary storage.Summary) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Pair\tAddress\tSwaps\tTraders\tUpdated (UTC)")
	for _, st := range stats {
		fmt.Fprintf(writer, "%s\t%s\t%d\t%d\t%s\n",
			st.PairName, st.PairAddress, st.TotalSwaps, st.UniqueTraders, st.LastUpdated.UTC().Format(time.RFC3339))
	}
	updated := "never"
	if summary.LastIngest != nil {
		updated = summary.LastIngest.UTC().Format(time.RFC3339)
	}
	fmt.Fprintf(writer, "All pairs\t-\t%d\t%d\t%s\n", summary.Swaps, summary.Traders, updated)
	writer.Flush()
}

// shortHex abbreviates 0x-prefixed hashes and addresses for terminal output.
func shortHex(v string) string {
	if len(v) <= 14 {
		return v
	}
	return v[:8] + "…" + v[len(v)-4:]
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
