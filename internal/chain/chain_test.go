package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type fakeReader struct {
	height    uint64
	logs      []types.Log
	err       error
	lastQuery ethereum.FilterQuery
	block     chan struct{}
}

func (f *fakeReader) BlockNumber(ctx context.Context) (uint64, error) {
	if f.block != nil {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-f.block:
		}
	}
	return f.height, f.err
}

func (f *fakeReader) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.lastQuery = q
	return f.logs, f.err
}

func TestSwapTopicMatchesKnownHash(t *testing.T) {
	want := common.HexToHash("0xd78ad95fa46c994b6551d0da85fc275fe613ce37657fb8d5e3d130840159d822")
	if SwapTopic != want {
		t.Fatalf("swap topic mismatch: %s", SwapTopic.Hex())
	}
}

func TestFetchLogsBuildsFilter(t *testing.T) {
	reader := &fakeReader{}
	client := NewClientWithReader(reader, Options{Timeout: time.Second}, zerolog.Nop())
	pair := common.HexToAddress("0x853ee4b2a13f8a742d64c8f088be7ba2131f670d")
	to := uint64(200)

	logs, err := client.FetchLogs(context.Background(), pair, 100, &to)
	if err != nil {
		t.Fatalf("fetch logs: %v", err)
	}
	if logs == nil || len(logs) != 0 {
		t.Fatalf("no matches should yield an empty slice, got %#v", logs)
	}

	q := reader.lastQuery
	if q.FromBlock.Cmp(big.NewInt(100)) != 0 || q.ToBlock.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("unexpected range %s..%s", q.FromBlock, q.ToBlock)
	}
	if len(q.Addresses) != 1 || q.Addresses[0] != pair {
		t.Fatalf("unexpected addresses %v", q.Addresses)
	}
	if len(q.Topics) != 1 || q.Topics[0][0] != SwapTopic {
		t.Fatalf("unexpected topics %v", q.Topics)
	}

	if _, err := client.FetchLogs(context.Background(), pair, 100, nil); err != nil {
		t.Fatalf("fetch to latest: %v", err)
	}
	if reader.lastQuery.ToBlock != nil {
		t.Fatal("latest should leave ToBlock nil")
	}
}

func TestClientWrapsTransportErrors(t *testing.T) {
	reader := &fakeReader{err: errors.New("connection refused")}
	client := NewClientWithReader(reader, Options{Timeout: time.Second}, zerolog.Nop())

	if _, err := client.CurrentHeight(context.Background()); !errors.Is(err, ErrTransport) {
		t.Fatalf("height error should be ErrTransport, got %v", err)
	}
	if _, err := client.FetchLogs(context.Background(), common.Address{}, 1, nil); !errors.Is(err, ErrTransport) {
		t.Fatalf("logs error should be ErrTransport, got %v", err)
	}
}

func TestClientTimeoutIsTransportError(t *testing.T) {
	reader := &fakeReader{block: make(chan struct{})}
	client := NewClientWithReader(reader, Options{Timeout: 20 * time.Millisecond}, zerolog.Nop())

	_, err := client.CurrentHeight(context.Background())
	if !errors.Is(err, ErrTransport) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("timeout should surface as ErrTransport, got %v", err)
	}
}

func TestClientWithoutRPCURL(t *testing.T) {
	client := NewClient(Options{}, zerolog.Nop())
	if _, err := client.CurrentHeight(context.Background()); !errors.Is(err, ErrTransport) {
		t.Fatalf("missing rpc url should be ErrTransport, got %v", err)
	}
}

func word(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func TestDecodeSender(t *testing.T) {
	sender := common.HexToAddress("0x00000000000000000000000000000000deadbeef")
	log := types.Log{Topics: []common.Hash{SwapTopic, common.BytesToHash(sender.Bytes())}}

	got, err := DecodeSender(log)
	if err != nil {
		t.Fatalf("decode sender: %v", err)
	}
	if got != sender {
		t.Fatalf("expected %s, got %s", sender.Hex(), got.Hex())
	}

	if _, err := DecodeSender(types.Log{Topics: []common.Hash{SwapTopic}}); !errors.Is(err, ErrDecode) {
		t.Fatalf("missing topic should be ErrDecode, got %v", err)
	}
}

func TestDecoderAmounts(t *testing.T) {
	oneEther := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	oneAndHalf := new(big.Int).Mul(big.NewInt(15), new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil))
	maxWord := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	var data []byte
	data = append(data, word(oneEther)...)
	data = append(data, word(big.NewInt(0))...)
	data = append(data, word(oneAndHalf)...)
	data = append(data, word(maxWord)...)

	amounts, err := Decoder{Strict: true}.Amounts(data)
	if err != nil {
		t.Fatalf("decode amounts: %v", err)
	}
	if !amounts.Amount0In.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("amount0In = %s", amounts.Amount0In)
	}
	if !amounts.Amount1In.IsZero() {
		t.Fatalf("amount1In = %s", amounts.Amount1In)
	}
	if !amounts.Amount0Out.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("amount0Out = %s", amounts.Amount0Out)
	}
	wantMax := decimal.NewFromBigInt(maxWord, -18)
	if !amounts.Amount1Out.Equal(wantMax) {
		t.Fatalf("uint256 max should decode exactly, got %s", amounts.Amount1Out)
	}
	if amounts.Truncated {
		t.Fatal("full payload should not be truncated")
	}
}

func TestDecoderTruncatedPolicy(t *testing.T) {
	oneEther := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	data := append(word(oneEther), word(oneEther)...)

	amounts, err := Decoder{}.Amounts(data)
	if err != nil {
		t.Fatalf("tolerant decoder should not fail: %v", err)
	}
	if !amounts.Truncated || !amounts.Amount0Out.IsZero() || !amounts.Amount1Out.IsZero() {
		t.Fatalf("missing words should be zero and flagged: %+v", amounts)
	}
	if !amounts.Amount1In.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("present words should still decode: %s", amounts.Amount1In)
	}

	if _, err := (Decoder{Strict: true}).Amounts(data); !errors.Is(err, ErrDecode) {
		t.Fatalf("strict decoder should reject truncated data, got %v", err)
	}
}

func TestDecoderPartialWordIsZeroFilled(t *testing.T) {
	oneEther := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	data := append(word(oneEther), word(oneEther)...)
	data = append(data, word(oneEther)[:16]...)

	amounts, err := Decoder{}.Amounts(data)
	if err != nil {
		t.Fatalf("tolerant decoder should not fail: %v", err)
	}
	if !amounts.Truncated {
		t.Fatal("partial word should flag the decode as truncated")
	}
	if !amounts.Amount0Out.IsZero() || !amounts.Amount1Out.IsZero() {
		t.Fatalf("partial and missing words should be zero: %+v", amounts)
	}
	if !amounts.Amount1In.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("full words should still decode: %s", amounts.Amount1In)
	}

	if _, err := (Decoder{Strict: true}).Amounts(data); !errors.Is(err, ErrDecode) {
		t.Fatalf("strict decoder should reject a partial word, got %v", err)
	}
}

func TestDecoderSwap(t *testing.T) {
	sender := common.HexToAddress("0x1111111111111111111111111111111111111111")
	log := types.Log{
		TxHash:      common.HexToHash("0xabc"),
		BlockNumber: 42,
		Topics:      []common.Hash{SwapTopic, common.BytesToHash(sender.Bytes())},
		Data:        make([]byte, 128),
	}

	swap, err := Decoder{}.Swap(log)
	if err != nil {
		t.Fatalf("decode swap: %v", err)
	}
	if swap.Sender != sender || swap.BlockNumber != 42 || swap.TxHash != log.TxHash {
		t.Fatalf("unexpected swap: %+v", swap)
	}
}
