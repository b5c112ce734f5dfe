package app

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"pumpguard/internal/scoring"
)

// Score runs one scoring pass and prints the alerts it produced.
func (a *App) Score(ctx context.Context, opts ScoreOptions) error {
	s, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	dispatcher, closeDispatcher := a.newDispatcher()
	defer closeDispatcher()
	scorer := a.newScorer(s.repo, dispatcher)

	var report scoring.Report
	if opts.Global || (opts.Pair == "" && a.Config.Scoring.Global) {
		report = scorer.ScoreAll(ctx)
	} else {
		pairs, err := a.selectPairs(opts.Pair)
		if err != nil {
			return err
		}
		report = scorer.Score(ctx, pairs)
	}

	a.printScoreReport(report)
	if failed := report.Failed(); failed > 0 {
		return fmt.Errorf("%d of %d windows failed to score", failed, len(report.Outcomes))
	}
	return nil
}

func (a *App) printScoreReport(report scoring.Report) {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Pair\tSwaps\tTraders\tLarge\tAlerts\tError")
	for _, o := range report.Outcomes {
		errMsg := ""
		if o.Err != nil {
			errMsg = sanitizeInline(o.Err.Error())
		}
		fmt.Fprintf(writer, "%s\t%d\t%d\t%d\t%d\t%s\n", o.Name, o.Measures.SwapCount, o.Measures.UniqueTraders, o.Measures.LargeSwaps, len(o.Alerts), errMsg)
	}
	writer.Flush()

	alerts := report.Alerts()
	if len(alerts) == 0 {
		return
	}
	fmt.Fprintln(a.Out)
	writeAlerts(a.Out, alerts, time.RFC3339)
}
