package ledger

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quantara/signal-engine/broker"
	"github.com/quantara/signal-engine/internal/models"
)

// ErrTradeSettled means a fill or failure was reported for a trade that
// already left SUBMITTED. Execution-quality fields are write-once.
var ErrTradeSettled = errors.New("trade already settled")

// ExpectedPrice is the mid of the bid/ask captured at submission time.
func ExpectedPrice(bid, ask float64) float64 {
	return (bid + ask) / 2
}

// SignedSlippage returns fill price deviation with adverse slippage positive
// for both sides: a BUY filled above the mid costs money, as does a SELL
// filled below it.
func SignedSlippage(side broker.OrderSide, expected, filled float64) float64 {
	if side == broker.OrderSideSell {
		return expected - filled
	}
	return filled - expected
}

// Ledger persists every order attempt with its execution-quality metrics.
type Ledger struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewLedger creates a new trade ledger
func NewLedger(db *gorm.DB, logger *zap.Logger) *Ledger {
	return &Ledger{db: db, logger: logger}
}

// CreateSubmitted stamps the submission-time snapshot onto the trade and
// persists it with status SUBMITTED. ExecutionLatencyMs is the
// signal-to-submit delay.
func (l *Ledger) CreateSubmitted(trade *models.Trade, quote *broker.Quote, acct *broker.AccountSnapshot) error {
	trade.Status = models.TradeSubmitted
	trade.OrderSubmittedAt = time.Now()
	trade.ExecutionLatencyMs = trade.OrderSubmittedAt.Sub(trade.SignalReceivedAt).Milliseconds()

	if quote != nil {
		trade.BidPrice = quote.Bid
		trade.AskPrice = quote.Ask
		trade.ExpectedPrice = ExpectedPrice(quote.Bid, quote.Ask)
	}
	if acct != nil {
		trade.AccountEquity = acct.Equity
		trade.AccountBuyingPower = acct.BuyingPower
	}

	if err := l.db.Create(trade).Error; err != nil {
		return fmt.Errorf("failed to persist trade: %w", err)
	}
	return nil
}

// ApplyFill settles a SUBMITTED trade with its fill, computing slippage and
// time-to-fill once. Later calls for the same trade are rejected.
func (l *Ledger) ApplyFill(trade *models.Trade, fill *broker.Fill) error {
	if trade.Status != models.TradeSubmitted {
		return ErrTradeSettled
	}

	filledAt := fill.Timestamp
	if filledAt.IsZero() {
		filledAt = time.Now()
	}
	ttf := filledAt.Sub(trade.OrderSubmittedAt).Milliseconds()

	trade.Status = models.TradeFilled
	trade.FilledQty = fill.FilledQty
	trade.FilledAvgPrice = fill.AvgPrice
	trade.FilledAt = &filledAt
	trade.TimeToFillMs = &ttf

	if trade.ExpectedPrice > 0 {
		trade.Slippage = SignedSlippage(broker.OrderSide(trade.Side), trade.ExpectedPrice, fill.AvgPrice)
		trade.SlippagePercent = trade.Slippage / trade.ExpectedPrice * 100
	}

	if err := l.db.Save(trade).Error; err != nil {
		return fmt.Errorf("failed to settle trade: %w", err)
	}
	return nil
}

// MarkFailed settles a SUBMITTED trade as FAILED with the broker's reason.
func (l *Ledger) MarkFailed(trade *models.Trade, message string) error {
	if trade.Status != models.TradeSubmitted {
		return ErrTradeSettled
	}

	trade.Status = models.TradeFailed
	trade.ErrorMessage = message

	if err := l.db.Save(trade).Error; err != nil {
		return fmt.Errorf("failed to mark trade failed: %w", err)
	}
	return nil
}

// RecordSample stores an observed market price for later MFE/MAE computation.
func (l *Ledger) RecordSample(botID uint, symbol string, price float64) {
	sample := &models.PriceSample{
		BotID:     botID,
		Symbol:    symbol,
		Price:     price,
		SampledAt: time.Now(),
	}
	if err := l.db.Create(sample).Error; err != nil {
		l.logger.Warn("failed to record price sample", zap.Uint("bot_id", botID), zap.Error(err))
	}
}

// ListTrades retrieves a bot's trades, newest first, with pagination.
func (l *Ledger) ListTrades(botID uint, page, limit int) ([]models.Trade, int64, error) {
	var trades []models.Trade
	var total int64

	query := l.db.Model(&models.Trade{}).Where("bot_id = ?", botID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.Offset(offset).Limit(limit).Order("created_at DESC").Find(&trades).Error; err != nil {
		return nil, 0, err
	}

	return trades, total, nil
}
