package models

import (
	"time"

	"gorm.io/gorm"
)

// BotOrderStatus tracks where the bot's most recent order sits in its lifecycle.
type BotOrderStatus string

const (
	BotOrderIdle      BotOrderStatus = "IDLE"
	BotOrderReady     BotOrderStatus = "READY"
	BotOrderSubmitted BotOrderStatus = "SUBMITTED"
	BotOrderFilled    BotOrderStatus = "FILLED"
	BotOrderFailed    BotOrderStatus = "FAILED"
)

// PositionSide is the bot's current exposure direction.
type PositionSide string

const (
	PositionFlat  PositionSide = "FLAT"
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// Bot is one user's automated trading configuration for a (symbol, timeframe)
// pair. The webhook token is the sole credential used to resolve inbound
// signals to a bot; symbol/timeframe in a payload are advisory only.
type Bot struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	UserID    uint   `json:"user_id" gorm:"not null;uniqueIndex:idx_bot_market"`
	Symbol    string `json:"symbol" gorm:"not null;uniqueIndex:idx_bot_market"`
	Timeframe string `json:"timeframe" gorm:"not null;uniqueIndex:idx_bot_market"`

	// Sizing and risk thresholds. PositionSize is the target notional per
	// entry; the remaining three are enforced by the risk gate.
	PositionSize     float64 `json:"position_size"`
	RiskLimitPercent float64 `json:"risk_limit_percent"`
	DailyLossLimit   float64 `json:"daily_loss_limit"`
	MaxPositionSize  float64 `json:"max_position_size"`

	// IsActive is written only by the risk gate (on breach) and the
	// manual reactivation endpoint. Everything else reads it per signal.
	IsActive bool `json:"is_active" gorm:"default:true"`

	OrderStatus         BotOrderStatus `json:"order_status" gorm:"default:'IDLE'"`
	CurrentPositionSide PositionSide   `json:"current_position_side" gorm:"default:'FLAT'"`
	CurrentPositionQty  float64        `json:"current_position_qty"`
	AvgEntryPrice       float64        `json:"avg_entry_price"`

	WebhookToken string     `json:"webhook_token" gorm:"uniqueIndex;not null"`
	LastSignalAt *time.Time `json:"last_signal_at"`
	SignalCount  int64      `json:"signal_count"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`

	// Relations
	User User `json:"user,omitempty" gorm:"foreignKey:UserID"`
}
