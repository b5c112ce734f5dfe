package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

const (
	wordSize = 32
	// AmountDecimals is the fixed scale applied to every raw amount.
	AmountDecimals = 18
	amountWords    = 4
)

// Amounts are the four non-indexed Swap values scaled by 10^18.
type Amounts struct {
	Amount0In  decimal.Decimal
	Amount1In  decimal.Decimal
	Amount0Out decimal.Decimal
	Amount1Out decimal.Decimal
	// Truncated is set when the payload was shorter than four words and zero-filled.
	Truncated bool
}

// Swap is a decoded Swap log.
type Swap struct {
	TxHash      common.Hash
	BlockNumber uint64
	Sender      common.Address
	Amounts     Amounts
}

// Decoder turns raw Swap logs into typed values.
//
// By default a payload shorter than four words decodes the missing words as zero. This keeps
// truncated logs from blocking a pair, at the cost of possibly recording wrong amounts; such
// decodes are flagged through Amounts.Truncated. Strict rejects them with ErrDecode instead.
//
// A trailing partial word counts as missing and is zero-filled too, rather than being read as a
// shorter number: without its low-order bytes the value is meaningless.
type Decoder struct {
	Strict bool
}

// DecodeSender reads the sender from the second indexed topic (low 20 bytes of the word).
func DecodeSender(log types.Log) (common.Address, error) {
	if len(log.Topics) < 2 {
		return common.Address{}, fmt.Errorf("%w: tx %s has %d topics, sender topic missing", ErrDecode, log.TxHash.Hex(), len(log.Topics))
	}
	return common.BytesToAddress(log.Topics[1].Bytes()), nil
}

// Amounts decodes four consecutive big-endian uint256 words.
func (d Decoder) Amounts(data []byte) (Amounts, error) {
	want := amountWords * wordSize
	if len(data) < want && d.Strict {
		return Amounts{}, fmt.Errorf("%w: swap data is %d bytes, want %d", ErrDecode, len(data), want)
	}

	words := [amountWords]decimal.Decimal{}
	for i := range words {
		start := i * wordSize
		end := start + wordSize
		if end > len(data) {
			words[i] = decimal.Zero
			continue
		}
		words[i] = scaleAmount(data[start:end])
	}

	return Amounts{
		Amount0In:  words[0],
		Amount1In:  words[1],
		Amount0Out: words[2],
		Amount1Out: words[3],
		Truncated:  len(data) < want,
	}, nil
}

// Swap decodes sender and amounts of a raw log.
func (d Decoder) Swap(log types.Log) (Swap, error) {
	sender, err := DecodeSender(log)
	if err != nil {
		return Swap{}, err
	}
	amounts, err := d.Amounts(log.Data)
	if err != nil {
		return Swap{}, fmt.Errorf("tx %s: %w", log.TxHash.Hex(), err)
	}
	return Swap{
		TxHash:      log.TxHash,
		BlockNumber: log.BlockNumber,
		Sender:      sender,
		Amounts:     amounts,
	}, nil
}

func scaleAmount(word []byte) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetBytes(word), -AmountDecimals)
}
