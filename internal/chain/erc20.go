package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TransferEventSignature is the ERC-20 Transfer event.
const TransferEventSignature = "Transfer(address,address,uint256)"

// TransferTopic is topic[0] of every ERC-20 Transfer log.
var TransferTopic = crypto.Keccak256Hash([]byte(TransferEventSignature))

// DefaultMulticallAddress is the Multicall3 deployment shared by most EVM chains.
var DefaultMulticallAddress = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

// UnknownSymbol stands in for tokens whose symbol() cannot be read.
const UnknownSymbol = "UNKNOWN"

const (
	erc20ABIJSON = `[
	{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

	multicallABIJSON = `[{"inputs":[{"components":[{"name":"target","type":"address"},{"name":"callData","type":"bytes"}],"name":"calls","type":"tuple[]"}],"name":"aggregate","outputs":[{"name":"blockNumber","type":"uint256"},{"name":"returnData","type":"bytes[]"}],"stateMutability":"view","type":"function"}]`
)

var (
	erc20ABI     abi.ABI
	multicallABI abi.ABI
)

func init() {
	var err error
	if erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON)); err != nil {
		panic("failed to parse ERC-20 ABI: " + err.Error())
	}
	if multicallABI, err = abi.JSON(strings.NewReader(multicallABIJSON)); err != nil {
		panic("failed to parse Multicall3 ABI: " + err.Error())
	}
}

// ContractReader is the subset of ethclient needed for eth_call and eth_getCode.
type ContractReader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// TokenMeta describes an ERC-20 token.
type TokenMeta struct {
	Address     common.Address
	Symbol      string
	Decimals    uint8
	TotalSupply *big.Int
}

// multicallCall mirrors the Multicall3 Call struct.
type multicallCall struct {
	Target   common.Address
	CallData []byte
}

// DecodeTransferParties reads sender and recipient from topics 1 and 2.
func DecodeTransferParties(log types.Log) (from, to common.Address, err error) {
	if len(log.Topics) < 3 {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: tx %s has %d topics, transfer parties missing", ErrDecode, log.TxHash.Hex(), len(log.Topics))
	}
	return common.BytesToAddress(log.Topics[1].Bytes()), common.BytesToAddress(log.Topics[2].Bytes()), nil
}

// FetchTransfers returns ERC-20 Transfer logs emitted by token in [from, to].
func (c *Client) FetchTransfers(ctx context.Context, token common.Address, from, to uint64) ([]types.Log, error) {
	return c.filterLogs(ctx, token, TransferTopic, from, &to)
}

// TokenMeta reads decimals, symbol and total supply. A missing symbol is reported as UnknownSymbol.
func (c *Client) TokenMeta(ctx context.Context, token common.Address) (TokenMeta, error) {
	meta := TokenMeta{Address: token, Symbol: UnknownSymbol}

	out, err := c.callERC20(ctx, token, "decimals")
	if err != nil {
		return TokenMeta{}, err
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return TokenMeta{}, fmt.Errorf("%w: decimals() returned %T", ErrDecode, out[0])
	}
	meta.Decimals = decimals

	out, err = c.callERC20(ctx, token, "totalSupply")
	if err != nil {
		return TokenMeta{}, err
	}
	supply, ok := out[0].(*big.Int)
	if !ok {
		return TokenMeta{}, fmt.Errorf("%w: totalSupply() returned %T", ErrDecode, out[0])
	}
	meta.TotalSupply = supply

	// bytes32 symbols and reverts are common on older tokens
	out, err = c.callERC20(ctx, token, "symbol")
	switch {
	case err == nil:
		if symbol, ok := out[0].(string); ok && symbol != "" {
			meta.Symbol = symbol
		}
	case ctx.Err() != nil:
		return TokenMeta{}, err
	default:
		c.logger.Debug().Err(err).Str("token", token.Hex()).Msg("symbol() unreadable")
	}

	return meta, nil
}

// BalancesOf reads balanceOf for every holder in one Multicall3 aggregate call.
// The result is aligned with holders.
func (c *Client) BalancesOf(ctx context.Context, multicall, token common.Address, holders []common.Address) ([]*big.Int, error) {
	if len(holders) == 0 {
		return nil, nil
	}

	calls := make([]multicallCall, len(holders))
	for i, holder := range holders {
		data, err := erc20ABI.Pack("balanceOf", holder)
		if err != nil {
			return nil, fmt.Errorf("pack balanceOf: %w", err)
		}
		calls[i] = multicallCall{Target: token, CallData: data}
	}
	payload, err := multicallABI.Pack("aggregate", calls)
	if err != nil {
		return nil, fmt.Errorf("pack aggregate: %w", err)
	}

	res, err := c.call(ctx, multicall, payload, "aggregate")
	if err != nil {
		return nil, err
	}
	out, err := multicallABI.Unpack("aggregate", res)
	if err != nil || len(out) != 2 {
		return nil, fmt.Errorf("%w: aggregate response: %v", ErrDecode, err)
	}
	returnData, ok := out[1].([][]byte)
	if !ok || len(returnData) != len(holders) {
		return nil, fmt.Errorf("%w: aggregate returned %d results for %d calls", ErrDecode, len(returnData), len(holders))
	}

	balances := make([]*big.Int, len(holders))
	for i, data := range returnData {
		balances[i] = new(big.Int).SetBytes(data)
	}
	return balances, nil
}

// IsContract reports whether address has deployed code.
func (c *Client) IsContract(ctx context.Context, address common.Address) (bool, error) {
	ctx, cancel, reader, err := c.prepare(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()

	cr, err := contractReader(reader)
	if err != nil {
		return false, err
	}
	code, err := cr.CodeAt(ctx, address, nil)
	if err != nil {
		return false, fmt.Errorf("%w: eth_getCode %s: %w", ErrTransport, address.Hex(), err)
	}
	return len(code) > 0, nil
}

func (c *Client) callERC20(ctx context.Context, token common.Address, method string) ([]interface{}, error) {
	payload, err := erc20ABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	res, err := c.call(ctx, token, payload, method)
	if err != nil {
		return nil, err
	}
	out, err := erc20ABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("%w: %s() response: %w", ErrDecode, method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%w: %s() returned %d values", ErrDecode, method, len(out))
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, to common.Address, data []byte, method string) ([]byte, error) {
	ctx, cancel, reader, err := c.prepare(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	cr, err := contractReader(reader)
	if err != nil {
		return nil, err
	}
	res, err := cr.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: eth_call %s.%s: %w", ErrTransport, to.Hex(), method, err)
	}
	return res, nil
}

func contractReader(reader LogReader) (ContractReader, error) {
	cr, ok := reader.(ContractReader)
	if !ok {
		return nil, fmt.Errorf("%w: reader %T cannot call contracts", ErrTransport, reader)
	}
	return cr, nil
}
