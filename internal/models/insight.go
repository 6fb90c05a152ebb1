package models

import "time"

// Insight is the output of the batch pattern analysis. Rows are idempotently
// upserted on the composite key and deactivated, never deleted, when their
// supporting pattern disappears.
type Insight struct {
	ID uint `json:"id" gorm:"primaryKey"`

	InsightType  string `json:"insight_type" gorm:"not null;uniqueIndex:idx_insight_key"`
	Symbol       string `json:"symbol" gorm:"uniqueIndex:idx_insight_key"`
	Timeframe    string `json:"timeframe" gorm:"uniqueIndex:idx_insight_key"`
	StrategyType string `json:"strategy_type" gorm:"uniqueIndex:idx_insight_key"`
	Conditions   string `json:"conditions" gorm:"uniqueIndex:idx_insight_key"`

	WinRate         float64 `json:"win_rate"`
	BaselineWinRate float64 `json:"baseline_win_rate"`
	AvgReturn       float64 `json:"avg_return"`
	SampleSize      int     `json:"sample_size"`
	ConfidenceScore float64 `json:"confidence_score"`
	Recommendation  string  `json:"recommendation"`

	IsActive bool `json:"is_active" gorm:"default:true"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
