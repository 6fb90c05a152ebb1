package risk

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quantara/signal-engine/broker"
	"github.com/quantara/signal-engine/internal/models"
)

// Candidate describes the order the engine wants to submit, plus the market
// context the gate needs for its running-loss and drawdown checks.
type Candidate struct {
	Side          broker.OrderSide
	Notional      float64
	UnrealizedPnL float64 // open position P&L at evaluation time
	Equity        float64 // current account equity
}

// Decision is the gate's verdict. A blocked decision carries the breached
// threshold and the observed value for the audit record.
type Decision struct {
	Approved  bool
	EventType string
	Reason    string
	Threshold float64
	Observed  float64
}

// drawdownWindow bounds the rolling equity baseline lookback.
const drawdownWindow = 30 * 24 * time.Hour

// Gate is the admission controller in front of order submission. It is the
// single write authority for Bot.IsActive: a breach disables the bot until
// someone reactivates it explicitly.
type Gate struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGate creates a new risk gate
func NewGate(db *gorm.DB, logger *zap.Logger) *Gate {
	return &Gate{db: db, logger: logger}
}

// Authorize evaluates a candidate order against the bot's limits in order:
// daily loss, order notional, drawdown. The first breach short-circuits,
// writes a RiskEvent and deactivates the bot.
func (g *Gate) Authorize(bot *models.Bot, cand *Candidate) (*Decision, error) {
	if loss, err := g.dailyLoss(bot, cand.UnrealizedPnL); err != nil {
		return nil, err
	} else if bot.DailyLossLimit > 0 && loss >= bot.DailyLossLimit {
		return g.block(bot, models.RiskEventDailyLoss, bot.DailyLossLimit, loss,
			fmt.Sprintf("daily loss %.2f reached limit %.2f", loss, bot.DailyLossLimit))
	}

	if bot.MaxPositionSize > 0 && cand.Notional > bot.MaxPositionSize {
		return g.block(bot, models.RiskEventMaxPosition, bot.MaxPositionSize, cand.Notional,
			fmt.Sprintf("order notional %.2f exceeds max position size %.2f", cand.Notional, bot.MaxPositionSize))
	}

	if bot.RiskLimitPercent > 0 && cand.Equity > 0 {
		baseline, err := g.equityBaseline(bot)
		if err != nil {
			return nil, err
		}
		if baseline > 0 {
			drawdown := (baseline - cand.Equity) / baseline * 100
			if drawdown >= bot.RiskLimitPercent {
				return g.block(bot, models.RiskEventDrawdown, bot.RiskLimitPercent, drawdown,
					fmt.Sprintf("drawdown %.2f%% from equity baseline %.2f reached limit %.2f%%",
						drawdown, baseline, bot.RiskLimitPercent))
			}
		}
	}

	return &Decision{Approved: true}, nil
}

// dailyLoss sums today's realized P&L for the bot and adds the open
// position's unrealized P&L. A positive return value is a loss.
func (g *Gate) dailyLoss(bot *models.Bot, unrealized float64) (float64, error) {
	dayStart := time.Now().Truncate(24 * time.Hour)

	var realized float64
	err := g.db.Model(&models.Trade{}).
		Where("bot_id = ? AND realized_pnl IS NOT NULL AND filled_at >= ?", bot.ID, dayStart).
		Select("COALESCE(SUM(realized_pnl), 0)").
		Scan(&realized).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum realized pnl: %w", err)
	}

	pnl := realized + unrealized
	if pnl >= 0 {
		return 0, nil
	}
	return -pnl, nil
}

// equityBaseline returns the peak account equity recorded with the bot's
// trades inside the rolling window. Zero means no history yet.
func (g *Gate) equityBaseline(bot *models.Bot) (float64, error) {
	since := time.Now().Add(-drawdownWindow)

	var peak float64
	err := g.db.Model(&models.Trade{}).
		Where("bot_id = ? AND order_submitted_at >= ?", bot.ID, since).
		Select("COALESCE(MAX(account_equity), 0)").
		Scan(&peak).Error
	if err != nil {
		return 0, fmt.Errorf("failed to compute equity baseline: %w", err)
	}
	return peak, nil
}

// ListEvents returns risk events newest first, optionally scoped to one bot.
func (g *Gate) ListEvents(botID uint, page, limit int) ([]models.RiskEvent, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}

	query := g.db.Model(&models.RiskEvent{})
	if botID > 0 {
		query = query.Where("bot_id = ?", botID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count risk events: %w", err)
	}

	var events []models.RiskEvent
	err := query.Order("created_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list risk events: %w", err)
	}
	return events, total, nil
}

// block writes the audit record, disables the bot and returns the decision.
func (g *Gate) block(bot *models.Bot, eventType string, threshold, observed float64, reason string) (*Decision, error) {
	event := &models.RiskEvent{
		BotID:          bot.ID,
		UserID:         bot.UserID,
		EventType:      eventType,
		ThresholdValue: threshold,
		CurrentValue:   observed,
		ActionTaken:    "order_blocked,bot_disabled",
		Message:        reason,
	}
	if err := g.db.Create(event).Error; err != nil {
		return nil, fmt.Errorf("failed to record risk event: %w", err)
	}

	if err := g.db.Model(&models.Bot{}).Where("id = ?", bot.ID).Update("is_active", false).Error; err != nil {
		return nil, fmt.Errorf("failed to deactivate bot: %w", err)
	}
	bot.IsActive = false

	g.logger.Warn("risk gate blocked order",
		zap.Uint("bot_id", bot.ID),
		zap.String("event_type", eventType),
		zap.Float64("threshold", threshold),
		zap.Float64("observed", observed))

	return &Decision{
		Approved:  false,
		EventType: eventType,
		Reason:    reason,
		Threshold: threshold,
		Observed:  observed,
	}, nil
}
