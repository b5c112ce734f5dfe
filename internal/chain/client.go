package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// SwapEventSignature is the canonical signature of the pair Swap event.
const SwapEventSignature = "Swap(address,uint256,uint256,uint256,uint256,address)"

// SwapTopic is topic[0] of every Swap log.
var SwapTopic = crypto.Keccak256Hash([]byte(SwapEventSignature))

var (
	// ErrTransport covers unreachable endpoints, timeouts and malformed responses.
	ErrTransport = errors.New("chain transport failure")
	// ErrDecode covers logs whose shape does not match the Swap event.
	ErrDecode = errors.New("chain log decode failure")
)

// LogReader is the subset of ethclient used by Client.
type LogReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Options parameterise the chain client.
type Options struct {
	RPCURL    string
	Timeout   time.Duration
	RateLimit float64
}

// Client reads block height and Swap logs over JSON-RPC.
type Client struct {
	opts      Options
	logger    zerolog.Logger
	limiter   *rate.Limiter
	reader    LogReader
	clientMux sync.Mutex
}

// NewClient builds a client that dials RPCURL lazily on first use.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	c := &Client{opts: opts, logger: logger.With().Str("component", "chain_client").Logger()}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return c
}

// NewClientWithReader builds a client over an existing reader.
func NewClientWithReader(reader LogReader, opts Options, logger zerolog.Logger) *Client {
	c := NewClient(opts, logger)
	c.reader = reader
	return c
}

// CurrentHeight returns the latest block number.
func (c *Client) CurrentHeight(ctx context.Context) (uint64, error) {
	ctx, cancel, reader, err := c.prepare(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()

	height, err := reader.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: eth_blockNumber: %w", ErrTransport, err)
	}
	return height, nil
}

// FetchLogs returns Swap logs emitted by pair in [from, to]. A nil to means the latest block.
// No matching logs yields an empty slice.
func (c *Client) FetchLogs(ctx context.Context, pair common.Address, from uint64, to *uint64) ([]types.Log, error) {
	return c.filterLogs(ctx, pair, SwapTopic, from, to)
}

func (c *Client) filterLogs(ctx context.Context, address common.Address, topic common.Hash, from uint64, to *uint64) ([]types.Log, error) {
	ctx, cancel, reader, err := c.prepare(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		Addresses: []common.Address{address},
		Topics:    [][]common.Hash{{topic}},
	}
	if to != nil {
		query.ToBlock = new(big.Int).SetUint64(*to)
	}

	logs, err := reader.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: eth_getLogs %s [%d..%s]: %w", ErrTransport, address.Hex(), from, blockLabel(to), err)
	}
	if logs == nil {
		logs = []types.Log{}
	}

	c.logger.Debug().
		Str("address", address.Hex()).
		Str("topic", topic.Hex()).
		Uint64("from_block", from).
		Str("to_block", blockLabel(to)).
		Int("logs", len(logs)).
		Msg("fetched logs")
	return logs, nil
}

func (c *Client) prepare(ctx context.Context) (context.Context, context.CancelFunc, LogReader, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			cancel()
			return nil, nil, nil, fmt.Errorf("%w: rate limit wait: %w", ErrTransport, err)
		}
	}

	reader, err := c.getReader(ctx)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return ctx, cancel, reader, nil
}

func (c *Client) getReader(ctx context.Context) (LogReader, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.reader != nil {
		return c.reader, nil
	}
	if c.opts.RPCURL == "" {
		return nil, fmt.Errorf("%w: rpc url not configured", ErrTransport)
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrTransport, c.opts.RPCURL, err)
	}
	c.reader = client
	return client, nil
}

// Close releases the underlying RPC connection if one was dialled.
func (c *Client) Close() {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if closer, ok := c.reader.(interface{ Close() }); ok {
		closer.Close()
	}
	c.reader = nil
}

func blockLabel(to *uint64) string {
	if to == nil {
		return "latest"
	}
	return fmt.Sprintf("%d", *to)
}
