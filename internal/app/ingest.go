package app

import (
	"context"
	"fmt"
	"text/tabwriter"

	"pumpguard/internal/config"
	"pumpguard/internal/ingest"
)

// Ingest runs a single ingestion pass over the enabled pairs.
func (a *App) Ingest(ctx context.Context) error {
	s, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	client := a.newChainClient()
	defer client.Close()

	report := a.newPipeline(client, s.repo).Ingest(ctx, a.Config.EnabledPairs())
	a.printIngestReport(report.Results)
	if failed := report.Failed(); failed > 0 {
		return fmt.Errorf("%d of %d pairs failed", failed, len(report.Results))
	}
	return nil
}

func (a *App) printIngestReport(results []ingest.PairResult) {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Pair\tBlocks\tLogs\tInserted\tDuplicates\tTotal\tTraders\tError")
	for _, r := range results {
		errMsg := ""
		if r.Err != nil {
			errMsg = sanitizeInline(r.Err.Error())
		}
		fmt.Fprintf(writer, "%s\t%d-%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.Name, r.FromBlock, r.ToBlock, r.Logs, r.Inserted, r.Duplicates, r.Stats.TotalSwaps, r.Stats.UniqueTraders, errMsg)
	}
	writer.Flush()
}

func (a *App) selectPairs(ref string) ([]config.PairConfig, error) {
	if ref == "" {
		return a.Config.EnabledPairs(), nil
	}
	pair, ok := a.Config.FindPair(ref)
	if !ok {
		return nil, fmt.Errorf("unknown pair %q", ref)
	}
	pair.Enabled = true
	return []config.PairConfig{pair}, nil
}
