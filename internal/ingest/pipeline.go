package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"pumpguard/internal/chain"
	"pumpguard/internal/config"
	"pumpguard/internal/metrics"
	"pumpguard/internal/storage"
)

const defaultWorkers = 4

// ChainReader is what the pipeline needs from the chain client.
type ChainReader interface {
	CurrentHeight(ctx context.Context) (uint64, error)
	FetchLogs(ctx context.Context, pair common.Address, from uint64, to *uint64) ([]types.Log, error)
}

// Options tune the pipeline.
type Options struct {
	Workers        int
	BackfillWindow uint64
	Decoder        chain.Decoder
}

// Pipeline pulls Swap logs per pair and persists them idempotently.
type Pipeline struct {
	chain   ChainReader
	store   storage.SwapStore
	opts    Options
	metrics *metrics.Collectors
	logger  zerolog.Logger
	now     func() time.Time
}

// PairResult summarises one pass over one pair.
type PairResult struct {
	Name       string
	Address    string
	FromBlock  uint64
	ToBlock    uint64
	Logs       int
	Inserted   int
	Duplicates int
	Truncated  int
	Skipped    int
	Stats      storage.PairStats
	Err        error
}

// Report collects the results of a multi-pair pass.
type Report struct {
	Results []PairResult
}

// Failed counts pairs whose pass returned an error.
func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// Inserted counts new swaps across pairs.
func (r Report) Inserted() int {
	n := 0
	for _, res := range r.Results {
		n += res.Inserted
	}
	return n
}

// New constructs a pipeline.
func New(reader ChainReader, store storage.SwapStore, opts Options, collectors *metrics.Collectors, logger zerolog.Logger) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if collectors == nil {
		collectors = metrics.New()
	}
	return &Pipeline{
		chain:   reader,
		store:   store,
		opts:    opts,
		metrics: collectors,
		logger:  logger.With().Str("component", "ingest").Logger(),
		now:     time.Now,
	}
}

// Ingest runs one pass over every enabled pair on a bounded worker pool.
// A failing pair is logged and reported; it never aborts its siblings.
func (p *Pipeline) Ingest(ctx context.Context, pairs []config.PairConfig) Report {
	enabled := make([]config.PairConfig, 0, len(pairs))
	for _, pair := range pairs {
		if !pair.Enabled {
			p.logger.Info().Str("pair", pair.Name).Msg("skipping disabled pair")
			continue
		}
		enabled = append(enabled, pair)
	}

	results := make([]PairResult, len(enabled))
	pool := pond.NewPool(p.opts.Workers, pond.WithContext(ctx))
	group := pool.NewGroup()
	for i, pair := range enabled {
		group.Submit(func() {
			res, err := p.IngestPair(ctx, pair)
			res.Err = err
			results[i] = res
		})
	}
	if err := group.Wait(); err != nil {
		p.logger.Warn().Err(err).Msg("ingest group interrupted")
	}
	pool.StopAndWait()

	for i, res := range results {
		// tasks dropped by a cancelled pool never ran
		if res.Name == "" {
			results[i] = PairResult{Name: enabled[i].Name, Address: enabled[i].Key(), Err: ctx.Err()}
		}
	}

	report := Report{Results: results}
	p.logger.Info().
		Int("pairs", len(results)).
		Int("inserted", report.Inserted()).
		Int("failed", report.Failed()).
		Msg("ingest pass complete")
	return report
}

// IngestPair scans from the block after the pair's cursor up to the current height.
// A pair with no stored swaps starts BackfillWindow blocks behind the head.
//
// Undecodable logs are skipped and reported through ErrDecode, but they do not hold
// the cursor back: the cursor is the highest stored swap, so once a later swap of the
// pair lands the skipped log falls behind it and is never retried. Use IngestRange
// (the backfill command) to re-scan such blocks.
func (p *Pipeline) IngestPair(ctx context.Context, pair config.PairConfig) (PairResult, error) {
	key := pair.Key()
	res := PairResult{Name: pair.Name, Address: key}

	lastBlock, err := p.store.LastBlock(ctx, key)
	if err != nil {
		return p.fail(res, "store", fmt.Errorf("read cursor: %w", err))
	}

	height, err := p.chain.CurrentHeight(ctx)
	if err != nil {
		return p.fail(res, "transport", err)
	}

	start := nextStart(lastBlock, height, p.opts.BackfillWindow)
	return p.scan(ctx, pair, res, start, height)
}

// IngestRange scans an explicit block range. Overlap with stored data is harmless.
func (p *Pipeline) IngestRange(ctx context.Context, pair config.PairConfig, from, to uint64) (PairResult, error) {
	res := PairResult{Name: pair.Name, Address: pair.Key()}
	if from > to {
		return res, fmt.Errorf("invalid block range %d..%d", from, to)
	}
	return p.scan(ctx, pair, res, from, to)
}

func nextStart(lastBlock, height, backfill uint64) uint64 {
	if lastBlock > 0 {
		return lastBlock + 1
	}
	if height < backfill {
		return 0
	}
	return height - backfill
}

func (p *Pipeline) scan(ctx context.Context, pair config.PairConfig, res PairResult, from, to uint64) (PairResult, error) {
	started := p.now()
	res.FromBlock, res.ToBlock = from, to
	logger := p.logger.With().Str("pair", pair.Name).Uint64("from_block", from).Uint64("to_block", to).Logger()

	var decodeErrs []error
	if from <= to {
		logs, err := p.chain.FetchLogs(ctx, common.HexToAddress(pair.Address), from, &to)
		if err != nil {
			return p.fail(res, "transport", err)
		}
		res.Logs = len(logs)

		for _, raw := range logs {
			outcome, err := p.persist(ctx, pair, raw)
			switch {
			case errors.Is(err, chain.ErrDecode):
				res.Skipped++
				decodeErrs = append(decodeErrs, err)
				logger.Warn().Err(err).Str("tx_hash", raw.TxHash.Hex()).Msg("skipping undecodable swap log")
				continue
			case err != nil:
				return p.fail(res, "store", err)
			}
			if outcome.truncated {
				res.Truncated++
				p.metrics.TruncatedLogs.WithLabelValues(pair.Name).Inc()
				logger.Warn().Str("tx_hash", raw.TxHash.Hex()).Msg("swap payload truncated; missing amounts recorded as zero")
			}
			if outcome.inserted {
				res.Inserted++
			} else {
				res.Duplicates++
			}
		}
	} else {
		logger.Debug().Msg("no new blocks to scan")
	}

	stats, err := p.store.RefreshPairStats(ctx, res.Address, pair.Name, p.now().UTC())
	if err != nil {
		return p.fail(res, "store", fmt.Errorf("refresh pair stats: %w", err))
	}
	res.Stats = stats

	p.metrics.SwapsIngested.WithLabelValues(pair.Name).Add(float64(res.Inserted))
	p.metrics.DuplicateSwaps.WithLabelValues(pair.Name).Add(float64(res.Duplicates))
	p.metrics.LastBlock.WithLabelValues(pair.Name).Set(float64(to))
	p.metrics.IngestDuration.WithLabelValues(pair.Name).Observe(p.now().Sub(started).Seconds())

	logger.Info().
		Int("logs", res.Logs).
		Int("inserted", res.Inserted).
		Int("duplicates", res.Duplicates).
		Int64("total_swaps", stats.TotalSwaps).
		Int64("unique_traders", stats.UniqueTraders).
		Msg("pair ingested")

	if len(decodeErrs) > 0 {
		p.metrics.IngestFailures.WithLabelValues(pair.Name, "decode").Inc()
		return res, fmt.Errorf("pair %s: %d undecodable logs: %w", pair.Name, len(decodeErrs), errors.Join(decodeErrs...))
	}
	return res, nil
}

type persistOutcome struct {
	inserted  bool
	truncated bool
}

func (p *Pipeline) persist(ctx context.Context, pair config.PairConfig, raw types.Log) (persistOutcome, error) {
	swap, err := p.opts.Decoder.Swap(raw)
	if err != nil {
		return persistOutcome{}, err
	}

	record := storage.SwapRecord{
		TxHash:      strings.ToLower(swap.TxHash.Hex()),
		BlockNumber: swap.BlockNumber,
		PairAddress: pair.Key(),
		PairName:    pair.Name,
		Sender:      strings.ToLower(swap.Sender.Hex()),
		Amount0In:   swap.Amounts.Amount0In,
		Amount1In:   swap.Amounts.Amount1In,
		Amount0Out:  swap.Amounts.Amount0Out,
		Amount1Out:  swap.Amounts.Amount1Out,
		CreatedAt:   p.now().UTC(),
	}

	inserted, err := p.store.InsertSwap(ctx, record)
	if err != nil {
		return persistOutcome{}, fmt.Errorf("insert swap %s: %w", record.TxHash, err)
	}
	return persistOutcome{inserted: inserted, truncated: swap.Amounts.Truncated}, nil
}

func (p *Pipeline) fail(res PairResult, kind string, err error) (PairResult, error) {
	p.metrics.IngestFailures.WithLabelValues(res.Name, kind).Inc()
	p.logger.Error().Err(err).Str("pair", res.Name).Str("kind", kind).Msg("pair ingestion failed; will retry next cycle")
	return res, fmt.Errorf("pair %s: %w", res.Name, err)
}
