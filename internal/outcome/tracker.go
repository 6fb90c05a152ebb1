package outcome

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quantara/signal-engine/internal/models"
)

// ErrNotClosing means the trade handed to the tracker is not a filled CLOSE.
var ErrNotClosing = errors.New("trade is not a filled close")

// Tracker derives TradeOutcome rows when positions close. It matches closing
// trades against open entries in FIFO order of entry time.
type Tracker struct {
	db         *gorm.DB
	logger     *zap.Logger
	epsilonPct float64 // breakeven band on pnl_percent
}

// NewTracker creates a new outcome tracker
func NewTracker(db *gorm.DB, logger *zap.Logger, breakevenEpsilonPercent float64) *Tracker {
	if breakevenEpsilonPercent <= 0 {
		breakevenEpsilonPercent = 0.05
	}
	return &Tracker{db: db, logger: logger, epsilonPct: breakevenEpsilonPercent}
}

// OnCloseFilled computes and persists the outcome for a filled CLOSE trade
// and back-fills its realized P&L. Calling it again for the same trade
// returns the existing outcome.
func (t *Tracker) OnCloseFilled(closing *models.Trade) (*models.TradeOutcome, error) {
	if closing.Action != models.ActionClose || closing.Status != models.TradeFilled || closing.FilledAt == nil {
		return nil, ErrNotClosing
	}

	var existing models.TradeOutcome
	err := t.db.Where("trade_id = ?", closing.ID).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up outcome: %w", err)
	}

	entries, err := t.openEntries(closing.BotID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no open entry trades for bot %d", closing.BotID)
	}

	// FIFO consume entries up to the closed quantity.
	var (
		matched    []uint
		qty        float64
		cost       float64
		firstEntry = entries[0]
	)
	for _, e := range entries {
		if qty >= closing.FilledQty {
			break
		}
		take := math.Min(e.FilledQty, closing.FilledQty-qty)
		qty += take
		cost += take * e.FilledAvgPrice
		matched = append(matched, e.ID)
	}

	entryPrice := cost / qty
	exitPrice := closing.FilledAvgPrice

	sideSign := 1.0
	if closing.PositionSideBefore == models.PositionShort {
		sideSign = -1.0
	}

	pnl := (exitPrice - entryPrice) * qty * sideSign
	entryValue := entryPrice * qty
	pnlPct := 0.0
	if entryValue > 0 {
		pnlPct = pnl / entryValue * 100
	}

	isBreakeven := math.Abs(pnlPct) < t.epsilonPct
	isWinner := pnl > 0 && !isBreakeven

	entryAt := firstEntry.OrderSubmittedAt
	if firstEntry.FilledAt != nil {
		entryAt = *firstEntry.FilledAt
	}
	exitAt := *closing.FilledAt

	mfe, mae := t.excursions(closing.BotID, closing.Symbol, entryAt, exitAt, entryPrice, qty, sideSign)

	out := &models.TradeOutcome{
		TradeID:               closing.ID,
		BotID:                 closing.BotID,
		UserID:                closing.UserID,
		EntryTradeIDs:         models.JoinEntryIDs(matched),
		EntryPrice:            entryPrice,
		ExitPrice:             exitPrice,
		EntryAt:               entryAt,
		ExitAt:                exitAt,
		Quantity:              qty,
		PnLDollars:            pnl,
		PnLPercent:            pnlPct,
		HoldDurationSec:       int64(exitAt.Sub(entryAt).Seconds()),
		MaxFavorableExcursion: mfe,
		MaxAdverseExcursion:   mae,
		IsWinner:              isWinner,
		IsBreakeven:           isBreakeven,
		ExitReason:            "signal_close",
	}

	if err := t.db.Create(out).Error; err != nil {
		return nil, fmt.Errorf("failed to persist outcome: %w", err)
	}

	if err := t.db.Model(&models.Trade{}).Where("id = ?", closing.ID).
		Update("realized_pnl", pnl).Error; err != nil {
		return nil, fmt.Errorf("failed to back-fill realized pnl: %w", err)
	}

	t.logger.Info("trade outcome recorded",
		zap.Uint("bot_id", closing.BotID),
		zap.Uint("trade_id", closing.ID),
		zap.Float64("pnl_dollars", pnl),
		zap.Bool("is_winner", isWinner))

	return out, nil
}

// openEntries returns the bot's filled entry trades not yet consumed by a
// prior outcome, oldest fill first.
func (t *Tracker) openEntries(botID uint) ([]models.Trade, error) {
	var outcomes []models.TradeOutcome
	if err := t.db.Where("bot_id = ?", botID).Find(&outcomes).Error; err != nil {
		return nil, fmt.Errorf("failed to load prior outcomes: %w", err)
	}

	consumed := make(map[uint]bool)
	for _, o := range outcomes {
		for _, id := range o.EntryIDs() {
			consumed[id] = true
		}
	}

	var entries []models.Trade
	err := t.db.Where("bot_id = ? AND status = ? AND action <> ?",
		botID, models.TradeFilled, models.ActionClose).
		Order("filled_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load entry trades: %w", err)
	}

	open := entries[:0]
	for _, e := range entries {
		if !consumed[e.ID] {
			open = append(open, e)
		}
	}
	return open, nil
}

// excursions computes the best and worst unrealized P&L from price samples
// recorded during the hold. Missing samples yield nils.
func (t *Tracker) excursions(botID uint, symbol string, entryAt, exitAt time.Time, entryPrice, qty, sideSign float64) (*float64, *float64) {
	var samples []models.PriceSample
	err := t.db.Where("bot_id = ? AND symbol = ? AND sampled_at >= ? AND sampled_at <= ?",
		botID, symbol, entryAt, exitAt).
		Find(&samples).Error
	if err != nil || len(samples) == 0 {
		return nil, nil
	}

	best := math.Inf(-1)
	worst := math.Inf(1)
	for _, s := range samples {
		u := (s.Price - entryPrice) * qty * sideSign
		if u > best {
			best = u
		}
		if u < worst {
			worst = u
		}
	}
	return &best, &worst
}

// ListOutcomes retrieves outcomes, newest first, optionally scoped to a bot.
func (t *Tracker) ListOutcomes(botID uint, page, limit int) ([]models.TradeOutcome, int64, error) {
	var outcomes []models.TradeOutcome
	var total int64

	query := t.db.Model(&models.TradeOutcome{})
	if botID > 0 {
		query = query.Where("bot_id = ?", botID)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.Offset(offset).Limit(limit).Order("exit_at DESC").Find(&outcomes).Error; err != nil {
		return nil, 0, err
	}

	return outcomes, total, nil
}
