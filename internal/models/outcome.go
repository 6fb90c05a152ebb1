package models

import (
	"strconv"
	"strings"
	"time"
)

// TradeOutcome is derived, one-to-one with a closing Trade. It weak-references
// the matched entry trades by id only; it never owns their lifecycle and is
// deleted only together with its own closing trade.
type TradeOutcome struct {
	ID      uint `json:"id" gorm:"primaryKey"`
	TradeID uint `json:"trade_id" gorm:"uniqueIndex;not null;constraint:OnDelete:CASCADE"`
	BotID   uint `json:"bot_id" gorm:"index"`
	UserID  uint `json:"user_id" gorm:"index"`

	// Comma-separated ids of the FIFO-matched entry trades.
	EntryTradeIDs string `json:"entry_trade_ids"`

	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	EntryAt    time.Time `json:"entry_at"`
	ExitAt     time.Time `json:"exit_at"`
	Quantity   float64   `json:"quantity"`

	PnLDollars      float64 `json:"pnl_dollars" gorm:"column:pnl_dollars"`
	PnLPercent      float64 `json:"pnl_percent" gorm:"column:pnl_percent"`
	HoldDurationSec int64   `json:"hold_duration_sec"`

	// Excursions are null when no price samples were recorded during the hold.
	MaxFavorableExcursion *float64 `json:"max_favorable_excursion"`
	MaxAdverseExcursion   *float64 `json:"max_adverse_excursion"`

	IsWinner    bool   `json:"is_winner"`
	IsBreakeven bool   `json:"is_breakeven"`
	ExitReason  string `json:"exit_reason"`

	CreatedAt time.Time `json:"created_at"`
}

// EntryIDs parses the weak entry-trade references.
func (o *TradeOutcome) EntryIDs() []uint {
	if o.EntryTradeIDs == "" {
		return nil
	}
	parts := strings.Split(o.EntryTradeIDs, ",")
	ids := make([]uint, 0, len(parts))
	for _, p := range parts {
		if v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32); err == nil {
			ids = append(ids, uint(v))
		}
	}
	return ids
}

// JoinEntryIDs formats entry-trade references for storage.
func JoinEntryIDs(ids []uint) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, ",")
}
