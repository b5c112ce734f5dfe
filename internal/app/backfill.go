package app

import (
	"context"
	"fmt"

	"pumpguard/internal/ingest"
)

// Backfill ingests an explicit block range for one pair. Re-running a range is harmless.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	pair, ok := a.Config.FindPair(opts.Pair)
	if !ok {
		return fmt.Errorf("unknown pair %q", opts.Pair)
	}
	if opts.From > opts.To {
		return fmt.Errorf("--from %d is after --to %d", opts.From, opts.To)
	}

	s, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	client := a.newChainClient()
	defer client.Close()

	res, err := a.newPipeline(client, s.repo).IngestRange(ctx, pair, opts.From, opts.To)
	res.Err = err
	a.printIngestReport([]ingest.PairResult{res})
	return err
}
