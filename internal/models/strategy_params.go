package models

import "time"

// StrategyParams snapshots the indicator state that produced an entry signal.
// Written once when the entry trade is created; read-only input to the
// insight engine afterwards.
type StrategyParams struct {
	ID      uint `json:"id" gorm:"primaryKey"`
	TradeID uint `json:"trade_id" gorm:"uniqueIndex;not null"`
	BotID   uint `json:"bot_id" gorm:"index"`

	EntryIndicator string `json:"entry_indicator"`

	RSIValue   *float64 `json:"rsi_value" gorm:"column:rsi_value"`
	RSIPeriod  int      `json:"rsi_period" gorm:"column:rsi_period"`
	MACDValue  *float64 `json:"macd_value" gorm:"column:macd_value"`
	MACDSignal *float64 `json:"macd_signal" gorm:"column:macd_signal"`
	ATRValue   *float64 `json:"atr_value" gorm:"column:atr_value"`

	MAFastPeriod int `json:"ma_fast_period" gorm:"column:ma_fast_period"`
	MASlowPeriod int `json:"ma_slow_period" gorm:"column:ma_slow_period"`

	TrendDirection string   `json:"trend_direction"` // up, down, sideways
	VIXValue       *float64 `json:"vix_value" gorm:"column:vix_value"`

	Timeframe string `json:"timeframe"`
	HourOfDay int    `json:"hour_of_day"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName keeps the plural-less table name the schema uses.
func (StrategyParams) TableName() string { return "strategy_params" }
