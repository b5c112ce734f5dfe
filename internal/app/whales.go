package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"pumpguard/internal/whales"
)

// WhaleOptions override the whales config section for one run. Zero values fall back to config.
type WhaleOptions struct {
	Token     string
	From      uint64
	To        uint64
	Threshold float64
	Top       int
	JSONPath  string
}

// Whales reports the largest holders of a token among addresses active in a block range.
func (a *App) Whales(ctx context.Context, opts WhaleOptions) error {
	cfg := a.Config.Whales
	token := firstNonEmpty(opts.Token, cfg.Token)
	if !common.IsHexAddress(token) {
		return fmt.Errorf("token %q is not a valid address", token)
	}
	threshold := cfg.ThresholdPercent
	if opts.Threshold > 0 {
		threshold = opts.Threshold
	}
	top := cfg.Top
	if opts.Top > 0 {
		top = opts.Top
	}

	client := a.newChainClient()
	defer client.Close()

	from, to := firstNonZero(opts.From, cfg.FromBlock), firstNonZero(opts.To, cfg.ToBlock)
	if to == 0 {
		height, err := client.CurrentHeight(ctx)
		if err != nil {
			return err
		}
		to = height
	}
	if from == 0 {
		from = backfillStart(to, a.Config.Chain.BackfillWindow)
	}

	detector := whales.NewDetector(client, a.Logger)
	report, err := detector.Detect(ctx, whales.Options{
		Token:            common.HexToAddress(token),
		FromBlock:        from,
		ToBlock:          to,
		ThresholdPercent: decimal.NewFromFloat(threshold),
		Multicall:        common.HexToAddress(cfg.MulticallAddress),
		BatchSize:        cfg.BatchSize,
		LogChunk:         cfg.LogChunk,
		Workers:          cfg.Workers,
		ExplorerURL:      cfg.ExplorerURL,
	})
	if err != nil {
		return err
	}

	writeWhales(a.Out, report, top)

	path := opts.JSONPath
	if path == "" && cfg.ReportDir != "" {
		path = filepath.Join(cfg.ReportDir, fmt.Sprintf("whales_%s_%d.json", sanitizeFileToken(report.Token), report.GeneratedAt.Unix()))
	}
	if path == "" {
		return nil
	}
	if err := writeFile(path, func(w io.Writer) error { return writeWhalesJSON(w, report) }); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "\nFull report saved: %s\n", path)
	return nil
}

func writeWhales(out io.Writer, report whales.Report, top int) {
	fmt.Fprintf(out, "Token: %s (%s)  Supply: %s  Blocks: %d-%d  Active addresses: %d\n",
		report.Token, report.Contract, formatDecimal(report.TotalSupply, 2), report.FromBlock, report.ToBlock, report.ActiveAddresses)
	if report.Unreadable > 0 {
		fmt.Fprintf(out, "Balances unreadable for %d addresses\n", report.Unreadable)
	}
	fmt.Fprintf(out, "Whales >= %s%% of supply: %d\n\n", report.ThresholdPercent.String(), report.TotalWhalesFound)
	if report.TotalWhalesFound == 0 {
		return
	}

	rows := report.Whales
	if top > 0 && len(rows) > top {
		rows = rows[:top]
	}
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "#\tType\tLabel\tAddress\tBalance\t% Supply\tLink")
	for i, w := range rows {
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%s%%\t%s\n",
			i+1, w.Type, w.Label, w.Address, formatDecimal(w.Amount, 2), formatDecimal(w.Percentage, 4), w.Explorer)
	}
	writer.Flush()
}

func writeWhalesJSON(w io.Writer, report whales.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func backfillStart(height, window uint64) uint64 {
	if height < window {
		return 0
	}
	return height - window
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstNonZero(values ...uint64) uint64 {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

func sanitizeFileToken(v string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return -1
	}, v)
	if cleaned == "" {
		return "token"
	}
	return cleaned
}
