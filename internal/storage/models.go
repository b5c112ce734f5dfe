package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// SwapRecord is one decoded swap event. TxHash is globally unique.
type SwapRecord struct {
	TxHash      string          `json:"tx_hash"`
	BlockNumber uint64          `json:"block_number"`
	PairAddress string          `json:"pair_address"`
	PairName    string          `json:"pair_name"`
	Sender      string          `json:"sender"`
	Amount0In   decimal.Decimal `json:"amount0_in"`
	Amount1In   decimal.Decimal `json:"amount1_in"`
	Amount0Out  decimal.Decimal `json:"amount0_out"`
	Amount1Out  decimal.Decimal `json:"amount1_out"`
	CreatedAt   time.Time       `json:"created_at"`
}

// PairStats is the recomputed aggregate for a pair.
type PairStats struct {
	PairAddress   string    `json:"pair_address"`
	PairName      string    `json:"pair_name"`
	TotalSwaps    int64     `json:"total_swaps"`
	UniqueTraders int64     `json:"unique_traders"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Summary aggregates every stored swap.
type Summary struct {
	Swaps      int64
	Traders    int64
	LastIngest *time.Time
}

// AlertType enumerates the anomaly rules.
type AlertType string

const (
	AlertPumpWarning      AlertType = "PumpWarning"
	AlertManipulation     AlertType = "Manipulation"
	AlertLiquidityWarning AlertType = "LiquidityWarning"
)

// Alert is an append-only anomaly finding.
type Alert struct {
	ID          int64     `json:"id"`
	PairAddress string    `json:"pair_address"`
	PairName    string    `json:"pair_name"`
	Type        AlertType `json:"alert_type"`
	Description string    `json:"description"`
	Score       float64   `json:"score"`
	CreatedAt   time.Time `json:"created_at"`
}

// Nonce is a one-time login challenge bound to an address.
type Nonce struct {
	Address   string
	Value     string
	CreatedAt time.Time
}
