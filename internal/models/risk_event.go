package models

import "time"

// Risk event types, one per configured threshold.
const (
	RiskEventDailyLoss   = "daily_loss_limit"
	RiskEventMaxPosition = "max_position_size"
	RiskEventDrawdown    = "drawdown_limit"
)

// RiskEvent is an append-only audit record written only by the risk gate.
type RiskEvent struct {
	ID     uint `json:"id" gorm:"primaryKey"`
	BotID  uint `json:"bot_id" gorm:"index"`
	UserID uint `json:"user_id" gorm:"index"`

	EventType      string  `json:"event_type" gorm:"not null"`
	ThresholdValue float64 `json:"threshold_value"`
	CurrentValue   float64 `json:"current_value"`
	ActionTaken    string  `json:"action_taken"` // e.g. "order_blocked,bot_disabled"
	Message        string  `json:"message"`

	CreatedAt time.Time `json:"created_at"`
}
