package models

import (
	"time"

	"gorm.io/gorm"
)

// TradeAction is the instruction carried by a signal.
type TradeAction string

const (
	ActionBuy   TradeAction = "BUY"
	ActionSell  TradeAction = "SELL"
	ActionClose TradeAction = "CLOSE"
)

// TradeStatus is the terminal-or-pending state of one order attempt.
type TradeStatus string

const (
	TradeSubmitted TradeStatus = "SUBMITTED"
	TradeFilled    TradeStatus = "FILLED"
	TradeFailed    TradeStatus = "FAILED"
)

// Trade is one row per order attempt. Created at signal acceptance with
// status SUBMITTED, mutated once by the broker fill/rejection callback,
// immutable afterwards except RealizedPnL which the outcome tracker
// back-fills on CLOSE trades.
type Trade struct {
	ID     uint `json:"id" gorm:"primaryKey"`
	BotID  uint `json:"bot_id" gorm:"not null;index"`
	UserID uint `json:"user_id" gorm:"not null;index"`

	Action    TradeAction `json:"action" gorm:"not null"`
	Side      string      `json:"side"` // BUY or SELL as sent to the broker
	Symbol    string      `json:"symbol" gorm:"not null"`
	Timeframe string      `json:"timeframe"`
	Quantity  float64     `json:"quantity"`
	Notional  float64     `json:"notional"`

	// Execution quality, stamped by the trade ledger. Bid/ask are captured
	// at submission time; ExpectedPrice is their mid. Slippage is signed
	// and direction-aware: adverse fills are positive for both sides.
	BidPrice        float64 `json:"bid_price"`
	AskPrice        float64 `json:"ask_price"`
	ExpectedPrice   float64 `json:"expected_price"`
	FilledQty       float64 `json:"filled_qty"`
	FilledAvgPrice  float64 `json:"filled_avg_price"`
	Slippage        float64 `json:"slippage"`
	SlippagePercent float64 `json:"slippage_percent"`

	SignalReceivedAt   time.Time  `json:"signal_received_at"`
	OrderSubmittedAt   time.Time  `json:"order_submitted_at"`
	FilledAt           *time.Time `json:"filled_at"`
	ExecutionLatencyMs int64      `json:"execution_latency_ms"`
	TimeToFillMs       *int64     `json:"time_to_fill_ms"`

	PositionSideBefore PositionSide `json:"position_side_before"`
	PositionSideAfter  PositionSide `json:"position_side_after"`

	// Account snapshot at submission time.
	AccountEquity      float64 `json:"account_equity"`
	AccountBuyingPower float64 `json:"account_buying_power"`

	Status        TradeStatus `json:"status" gorm:"index"`
	ErrorMessage  string      `json:"error_message,omitempty"`
	BrokerOrderID string      `json:"broker_order_id"`
	ClientOrderID string      `json:"client_order_id" gorm:"index"`

	// Back-filled by the outcome tracker for CLOSE trades only.
	RealizedPnL *float64 `json:"realized_pnl" gorm:"column:realized_pnl"`

	RawPayload string `json:"raw_payload,omitempty" gorm:"type:text"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// PriceSample is an intermediate market price observed for a symbol while a
// position may be open. Samples feed MFE/MAE computation; missing samples
// yield null excursions, not an error.
type PriceSample struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	BotID     uint      `json:"bot_id" gorm:"index"`
	Symbol    string    `json:"symbol" gorm:"index"`
	Price     float64   `json:"price"`
	SampledAt time.Time `json:"sampled_at" gorm:"index"`
}
