// Package whales finds the largest holders of an ERC-20 token among addresses active in a block range.
package whales

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pumpguard/internal/chain"
)

const (
	defaultBatchSize = 30
	defaultLogChunk  = 2000
	defaultWorkers   = 4
)

// Holder kinds.
const (
	KindContract = "Contract"
	KindEOA      = "EOA"

	LabelContract = "Contract"
	LabelWallet   = "Wallet"
)

// TokenReader is what the detector needs from the chain client.
type TokenReader interface {
	TokenMeta(ctx context.Context, token common.Address) (chain.TokenMeta, error)
	FetchTransfers(ctx context.Context, token common.Address, from, to uint64) ([]types.Log, error)
	BalancesOf(ctx context.Context, multicall, token common.Address, holders []common.Address) ([]*big.Int, error)
	IsContract(ctx context.Context, address common.Address) (bool, error)
}

// Options select the token, block range and reporting threshold.
type Options struct {
	Token            common.Address
	FromBlock        uint64
	ToBlock          uint64
	ThresholdPercent decimal.Decimal
	Multicall        common.Address
	BatchSize        int
	LogChunk         uint64
	Workers          int
	ExplorerURL      string
}

// Whale is one holder at or above the threshold.
type Whale struct {
	Address    string          `json:"address"`
	Amount     decimal.Decimal `json:"amount"`
	Percentage decimal.Decimal `json:"percentage"`
	Type       string          `json:"type"`
	Label      string          `json:"label"`
	Explorer   string          `json:"explorer,omitempty"`
}

// Report is the outcome of one detection run.
type Report struct {
	Token            string          `json:"token"`
	Contract         string          `json:"contract"`
	TotalSupply      decimal.Decimal `json:"total_supply"`
	ThresholdPercent decimal.Decimal `json:"threshold_percent"`
	FromBlock        uint64          `json:"from_block"`
	ToBlock          uint64          `json:"to_block"`
	ActiveAddresses  int             `json:"active_addresses"`
	Unreadable       int             `json:"unreadable_addresses"`
	TotalWhalesFound int             `json:"total_whales_found"`
	GeneratedAt      time.Time       `json:"generated_at"`
	Whales           []Whale         `json:"whales"`
}

// Detector runs whale detection against a TokenReader.
type Detector struct {
	reader TokenReader
	logger zerolog.Logger
	now    func() time.Time
}

// NewDetector builds a detector.
func NewDetector(reader TokenReader, logger zerolog.Logger) *Detector {
	return &Detector{
		reader: reader,
		logger: logger.With().Str("component", "whales").Logger(),
		now:    time.Now,
	}
}

// Detect collects every address seen in Transfer logs of the range, reads current balances
// and keeps holders whose balance is at least ThresholdPercent of total supply, largest first.
func (d *Detector) Detect(ctx context.Context, opts Options) (Report, error) {
	opts = withDefaults(opts)
	if opts.FromBlock > opts.ToBlock {
		return Report{}, fmt.Errorf("invalid block range %d..%d", opts.FromBlock, opts.ToBlock)
	}
	if opts.ThresholdPercent.IsNegative() {
		return Report{}, errors.New("threshold percent must not be negative")
	}

	meta, err := d.reader.TokenMeta(ctx, opts.Token)
	if err != nil {
		return Report{}, fmt.Errorf("read token metadata: %w", err)
	}
	if meta.TotalSupply == nil || meta.TotalSupply.Sign() == 0 {
		return Report{}, fmt.Errorf("token %s reports zero total supply", opts.Token.Hex())
	}

	scale := -int32(meta.Decimals)
	supply := decimal.NewFromBigInt(meta.TotalSupply, scale)
	report := Report{
		Token:            meta.Symbol,
		Contract:         strings.ToLower(opts.Token.Hex()),
		TotalSupply:      supply,
		ThresholdPercent: opts.ThresholdPercent,
		FromBlock:        opts.FromBlock,
		ToBlock:          opts.ToBlock,
		GeneratedAt:      d.now().UTC(),
		Whales:           []Whale{},
	}
	logger := d.logger.With().Str("token", meta.Symbol).Uint64("from_block", opts.FromBlock).Uint64("to_block", opts.ToBlock).Logger()

	holders, err := d.collectHolders(ctx, opts)
	if err != nil {
		return Report{}, err
	}
	report.ActiveAddresses = len(holders)
	logger.Info().Int("addresses", len(holders)).Msg("collected active addresses")
	if len(holders) == 0 {
		return report, nil
	}

	balances, unreadable, err := d.readBalances(ctx, opts, holders)
	if err != nil {
		return Report{}, err
	}
	report.Unreadable = unreadable

	minAmount := supply.Mul(opts.ThresholdPercent).Div(decimal.NewFromInt(100))
	hundred := decimal.NewFromInt(100)
	for _, holder := range holders {
		raw, ok := balances[holder]
		if !ok || raw.Sign() == 0 {
			continue
		}
		amount := decimal.NewFromBigInt(raw, scale)
		if amount.LessThan(minAmount) {
			continue
		}

		contract, err := d.reader.IsContract(ctx, holder)
		if err != nil {
			// 无法判断时按钱包处理
			logger.Warn().Err(err).Str("holder", holder.Hex()).Msg("code lookup failed; labelling as wallet")
		}
		whale := Whale{
			Address:    holder.Hex(),
			Amount:     amount,
			Percentage: amount.Div(supply).Mul(hundred),
			Type:       KindEOA,
			Label:      LabelWallet,
		}
		if contract {
			whale.Type, whale.Label = KindContract, LabelContract
		}
		if opts.ExplorerURL != "" {
			whale.Explorer = strings.TrimRight(opts.ExplorerURL, "/") + "/" + whale.Address
		}
		report.Whales = append(report.Whales, whale)
	}

	sort.SliceStable(report.Whales, func(i, j int) bool {
		return report.Whales[i].Amount.GreaterThan(report.Whales[j].Amount)
	})
	report.TotalWhalesFound = len(report.Whales)

	logger.Info().
		Int("whales", report.TotalWhalesFound).
		Int("unreadable", report.Unreadable).
		Str("threshold_percent", opts.ThresholdPercent.String()).
		Msg("whale detection complete")
	return report, nil
}

// collectHolders walks the range in LogChunk-sized windows and returns the distinct parties
// of every Transfer, in first-seen order. Logs without both parties are skipped.
func (d *Detector) collectHolders(ctx context.Context, opts Options) ([]common.Address, error) {
	seen := make(map[common.Address]struct{})
	var holders []common.Address
	add := func(addr common.Address) {
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		holders = append(holders, addr)
	}

	for from := opts.FromBlock; from <= opts.ToBlock; {
		to := opts.ToBlock
		if to-from >= opts.LogChunk {
			to = from + opts.LogChunk - 1
		}

		logs, err := d.reader.FetchTransfers(ctx, opts.Token, from, to)
		if err != nil {
			return nil, fmt.Errorf("fetch transfers %d..%d: %w", from, to, err)
		}
		for _, log := range logs {
			sender, recipient, err := chain.DecodeTransferParties(log)
			if err != nil {
				d.logger.Debug().Err(err).Msg("skipping malformed transfer log")
				continue
			}
			add(sender)
			add(recipient)
		}

		if to == opts.ToBlock {
			break
		}
		from = to + 1
	}
	return holders, nil
}

// readBalances fetches balances in BatchSize groups on a bounded pool. A failed batch is
// logged and its holders are counted as unreadable; cancellation aborts the run.
func (d *Detector) readBalances(ctx context.Context, opts Options, holders []common.Address) (map[common.Address]*big.Int, int, error) {
	var (
		mu         sync.Mutex
		balances   = make(map[common.Address]*big.Int, len(holders))
		unreadable int
	)

	pool := pond.NewPool(opts.Workers, pond.WithContext(ctx))
	group := pool.NewGroup()
	for start := 0; start < len(holders); start += opts.BatchSize {
		batch := holders[start:min(start+opts.BatchSize, len(holders))]
		group.Submit(func() {
			result, err := d.reader.BalancesOf(ctx, opts.Multicall, opts.Token, batch)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				unreadable += len(batch)
				d.logger.Warn().Err(err).Int("holders", len(batch)).Msg("balance batch failed")
				return
			}
			for i, holder := range batch {
				balances[holder] = result[i]
			}
		})
	}
	if err := group.Wait(); err != nil {
		d.logger.Warn().Err(err).Msg("balance group interrupted")
	}
	pool.StopAndWait()

	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	return balances, unreadable, nil
}

func withDefaults(opts Options) Options {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.LogChunk == 0 {
		opts.LogChunk = defaultLogChunk
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.Multicall == (common.Address{}) {
		opts.Multicall = chain.DefaultMulticallAddress
	}
	return opts
}
