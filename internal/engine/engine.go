package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quantara/signal-engine/broker"
	"github.com/quantara/signal-engine/internal/config"
	"github.com/quantara/signal-engine/internal/ledger"
	"github.com/quantara/signal-engine/internal/models"
	"github.com/quantara/signal-engine/internal/notify"
	"github.com/quantara/signal-engine/internal/outcome"
	"github.com/quantara/signal-engine/internal/risk"
)

// ErrBotBusy means the bot's previous signal is still settling and the
// bounded lock wait expired. The signal is rejected, never queued silently
// or reordered.
var ErrBotBusy = errors.New("bot has a signal in flight")

// Signal is a parsed webhook instruction bound for one bot.
type Signal struct {
	Action     models.TradeAction
	Symbol     string
	Timeframe  string
	Price      float64
	Indicators *models.StrategyParams // optional entry snapshot
	ReceivedAt time.Time
	Raw        string
}

// ResultStatus classifies how a signal was handled.
type ResultStatus string

const (
	StatusExecuted ResultStatus = "executed"
	StatusNoOp     ResultStatus = "no_op"
	StatusBlocked  ResultStatus = "risk_blocked"
	StatusFailed   ResultStatus = "failed"
)

// Result reports what a signal did, including every trade row it produced.
type Result struct {
	Status ResultStatus
	Reason string
	Trades []*models.Trade
}

// leg is one order the state machine decided to submit. A reversal plans
// two legs; the per-bot lock is held across both.
type leg struct {
	action     models.TradeAction
	side       broker.OrderSide
	qty        float64 // 0 means size from the bot's target notional
	reduceOnly bool
	targetSide models.PositionSide
}

// Engine is the per-bot order lifecycle controller. Bots run concurrently
// with each other but strictly serially within a bot: a per-bot lock is
// held from signal evaluation until the order reaches a terminal status.
// Broker I/O goes through a bounded worker pool so a slow broker response
// stalls only the owning bot.
type Engine struct {
	db     *gorm.DB
	logger *zap.Logger
	cfg    config.EngineConfig

	client   broker.ExecutionClient
	gate     *risk.Gate
	ledger   *ledger.Ledger
	tracker  *outcome.Tracker
	notifier *notify.Dispatcher

	locks   sync.Map // bot id -> chan struct{} with capacity 1
	pending sync.Map // client order id -> chan broker.Fill
	pool    chan struct{}
}

// New creates the engine and registers itself as the broker fill handler.
func New(db *gorm.DB, logger *zap.Logger, cfg config.EngineConfig,
	client broker.ExecutionClient, gate *risk.Gate, led *ledger.Ledger,
	tracker *outcome.Tracker, notifier *notify.Dispatcher) *Engine {

	if cfg.WorkerPool <= 0 {
		cfg.WorkerPool = 8
	}
	if cfg.MaxSubmitAttempts <= 0 {
		cfg.MaxSubmitAttempts = 3
	}
	if cfg.LockWaitMs <= 0 {
		cfg.LockWaitMs = 2000
	}
	if cfg.FillTimeoutSec <= 0 {
		cfg.FillTimeoutSec = 120
	}

	e := &Engine{
		db:       db,
		logger:   logger,
		cfg:      cfg,
		client:   client,
		gate:     gate,
		ledger:   led,
		tracker:  tracker,
		notifier: notifier,
		pool:     make(chan struct{}, cfg.WorkerPool),
	}
	client.SetFillHandler(e.onFill)
	return e
}

// onFill routes the broker's asynchronous report to the waiting submission.
func (e *Engine) onFill(f broker.Fill) {
	if ch, ok := e.pending.Load(f.ClientOrderID); ok {
		ch.(chan broker.Fill) <- f
		return
	}
	e.logger.Warn("fill for unknown order", zap.String("client_order_id", f.ClientOrderID))
}

// HandleSignal runs one signal through the state machine. It blocks until
// the resulting orders settle or the signal is determined to be a no-op,
// so the caller's goroutine is the bot's worker for the duration.
func (e *Engine) HandleSignal(ctx context.Context, botID uint, sig *Signal) (*Result, error) {
	lock := e.lockFor(botID)
	select {
	case lock <- struct{}{}:
	case <-time.After(time.Duration(e.cfg.LockWaitMs) * time.Millisecond):
		return nil, ErrBotBusy
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-lock }()

	// Re-read bot state under the lock; is_active in particular may have
	// been flipped by the risk gate since token resolution.
	var bot models.Bot
	if err := e.db.First(&bot, botID).Error; err != nil {
		return nil, fmt.Errorf("failed to load bot: %w", err)
	}
	if !bot.IsActive {
		return &Result{Status: StatusBlocked, Reason: "bot is deactivated pending manual reactivation"}, nil
	}

	legs, noop := plan(&bot, sig)
	if len(legs) == 0 {
		e.logger.Info("signal is a no-op",
			zap.Uint("bot_id", bot.ID),
			zap.String("action", string(sig.Action)),
			zap.String("side", string(bot.CurrentPositionSide)),
			zap.String("reason", noop))
		return &Result{Status: StatusNoOp, Reason: noop}, nil
	}

	res := &Result{Status: StatusExecuted}
	for _, l := range legs {
		trade, decision, err := e.executeLeg(ctx, &bot, sig, l)
		if err != nil {
			return nil, err
		}
		if decision != nil && !decision.Approved {
			res.Status = StatusBlocked
			res.Reason = decision.Reason
			e.notifier.Notify(bot.UserID, notify.EventRiskEvent, map[string]interface{}{
				"bot_id":     bot.ID,
				"event_type": decision.EventType,
				"threshold":  decision.Threshold,
				"observed":   decision.Observed,
				"reason":     decision.Reason,
			})
			return res, nil
		}
		res.Trades = append(res.Trades, trade)
		if trade.Status == models.TradeFailed {
			res.Status = StatusFailed
			res.Reason = trade.ErrorMessage
			return res, nil
		}
	}
	return res, nil
}

// plan maps (action, current side) to the legs to submit. An empty plan is
// a no-op with the reason attached.
func plan(bot *models.Bot, sig *Signal) ([]leg, string) {
	closeLeg := func() leg {
		side := broker.OrderSideSell
		if bot.CurrentPositionSide == models.PositionShort {
			side = broker.OrderSideBuy
		}
		return leg{
			action:     models.ActionClose,
			side:       side,
			qty:        bot.CurrentPositionQty,
			reduceOnly: true,
			targetSide: models.PositionFlat,
		}
	}

	switch sig.Action {
	case models.ActionBuy:
		switch bot.CurrentPositionSide {
		case models.PositionFlat:
			return []leg{{action: models.ActionBuy, side: broker.OrderSideBuy, targetSide: models.PositionLong}}, ""
		case models.PositionLong:
			return nil, "duplicate entry signal while long"
		case models.PositionShort:
			return []leg{closeLeg(), {action: models.ActionBuy, side: broker.OrderSideBuy, targetSide: models.PositionLong}}, ""
		}
	case models.ActionSell:
		switch bot.CurrentPositionSide {
		case models.PositionFlat:
			return []leg{{action: models.ActionSell, side: broker.OrderSideSell, targetSide: models.PositionShort}}, ""
		case models.PositionShort:
			return nil, "duplicate entry signal while short"
		case models.PositionLong:
			return []leg{closeLeg(), {action: models.ActionSell, side: broker.OrderSideSell, targetSide: models.PositionShort}}, ""
		}
	case models.ActionClose:
		if bot.CurrentPositionSide == models.PositionFlat {
			return nil, "no position to close"
		}
		return []leg{closeLeg()}, ""
	}
	return nil, "unsupported action"
}

// executeLeg risk-gates one leg, submits it and waits for settlement. The
// returned decision is non-nil only when the risk gate blocked the leg; an
// error return means persistence failed and nothing further can be audited.
func (e *Engine) executeLeg(ctx context.Context, bot *models.Bot, sig *Signal, l leg) (*models.Trade, *risk.Decision, error) {
	// Bound concurrent broker I/O across all bots.
	e.pool <- struct{}{}
	defer func() { <-e.pool }()

	quote, err := e.client.Quote(ctx, bot.Symbol)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to quote %s: %w", bot.Symbol, err)
	}
	mid := ledger.ExpectedPrice(quote.Bid, quote.Ask)
	e.ledger.RecordSample(bot.ID, bot.Symbol, mid)

	acct, err := e.client.Account(ctx)
	if err != nil {
		e.logger.Warn("account snapshot unavailable", zap.Error(err))
		acct = &broker.AccountSnapshot{}
	}

	qty := l.qty
	if qty == 0 && mid > 0 {
		qty = bot.PositionSize / mid
	}
	notional := qty * mid

	decision, err := e.gate.Authorize(bot, &risk.Candidate{
		Side:          l.side,
		Notional:      notional,
		UnrealizedPnL: unrealized(bot, mid),
		Equity:        acct.Equity,
	})
	if err != nil {
		return nil, nil, err
	}
	if !decision.Approved {
		return nil, decision, nil
	}

	trade := &models.Trade{
		BotID:              bot.ID,
		UserID:             bot.UserID,
		Action:             l.action,
		Side:               string(l.side),
		Symbol:             bot.Symbol,
		Timeframe:          bot.Timeframe,
		Quantity:           qty,
		Notional:           notional,
		SignalReceivedAt:   sig.ReceivedAt,
		PositionSideBefore: bot.CurrentPositionSide,
		PositionSideAfter:  l.targetSide,
		ClientOrderID:      uuid.NewString(),
		RawPayload:         sig.Raw,
	}
	if err := e.ledger.CreateSubmitted(trade, quote, acct); err != nil {
		return nil, nil, err
	}
	e.setBotOrderStatus(bot, models.BotOrderSubmitted)

	// Indicator snapshots belong to entry trades only.
	if l.action != models.ActionClose && sig.Indicators != nil {
		params := *sig.Indicators
		params.TradeID = trade.ID
		params.BotID = bot.ID
		params.Timeframe = sig.Timeframe
		params.HourOfDay = sig.ReceivedAt.UTC().Hour()
		if err := e.db.Create(&params).Error; err != nil {
			e.logger.Warn("failed to persist strategy params", zap.Uint("trade_id", trade.ID), zap.Error(err))
		}
	}

	fillCh := make(chan broker.Fill, 1)
	e.pending.Store(trade.ClientOrderID, fillCh)
	defer e.pending.Delete(trade.ClientOrderID)

	ack, err := e.submitWithRetry(ctx, &broker.OrderRequest{
		ClientOrderID: trade.ClientOrderID,
		Symbol:        bot.Symbol,
		Side:          l.side,
		Type:          broker.OrderTypeMarket,
		Quantity:      qty,
		ReduceOnly:    l.reduceOnly,
	})
	if err != nil {
		return e.failTrade(bot, trade, fmt.Sprintf("submission failed: %v", err))
	}

	trade.BrokerOrderID = ack.OrderID
	if err := e.db.Model(trade).Update("broker_order_id", ack.OrderID).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to record broker order id: %w", err)
	}

	select {
	case fill := <-fillCh:
		return e.settle(bot, trade, &fill)
	case <-time.After(time.Duration(e.cfg.FillTimeoutSec) * time.Second):
		return e.failTrade(bot, trade, "timed out waiting for fill")
	}
}

// submitWithRetry retries transient transport failures with bounded
// exponential backoff. Business rejections are never retried.
func (e *Engine) submitWithRetry(ctx context.Context, req *broker.OrderRequest) (*broker.OrderAck, error) {
	backoff := time.Duration(e.cfg.BackoffBaseMs) * time.Millisecond
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxSubmitAttempts; attempt++ {
		ack, err := e.client.Submit(ctx, req)
		if err == nil {
			return ack, nil
		}
		lastErr = err
		if !broker.IsTransient(err) {
			return nil, err
		}
		e.logger.Warn("transient broker failure, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("submission attempts exhausted: %w", lastErr)
}

// settle applies the broker's terminal report to the trade and the bot.
func (e *Engine) settle(bot *models.Bot, trade *models.Trade, fill *broker.Fill) (*models.Trade, *risk.Decision, error) {
	if fill.Status == broker.FillStatusRejected {
		return e.failTrade(bot, trade, fill.Reason)
	}

	if err := e.ledger.ApplyFill(trade, fill); err != nil {
		return nil, nil, err
	}

	updates := map[string]interface{}{"order_status": models.BotOrderFilled}
	switch trade.PositionSideAfter {
	case models.PositionFlat:
		updates["current_position_side"] = models.PositionFlat
		updates["current_position_qty"] = 0.0
		updates["avg_entry_price"] = 0.0
	default:
		updates["current_position_side"] = trade.PositionSideAfter
		updates["current_position_qty"] = fill.FilledQty
		updates["avg_entry_price"] = fill.AvgPrice
	}
	if err := e.db.Model(&models.Bot{}).Where("id = ?", bot.ID).Updates(updates).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to update bot position: %w", err)
	}
	bot.OrderStatus = models.BotOrderFilled
	bot.CurrentPositionSide = trade.PositionSideAfter
	if trade.PositionSideAfter == models.PositionFlat {
		bot.CurrentPositionQty = 0
		bot.AvgEntryPrice = 0
	} else {
		bot.CurrentPositionQty = fill.FilledQty
		bot.AvgEntryPrice = fill.AvgPrice
	}

	if trade.Action == models.ActionClose {
		if _, err := e.tracker.OnCloseFilled(trade); err != nil {
			e.logger.Error("outcome tracking failed", zap.Uint("trade_id", trade.ID), zap.Error(err))
		}
	}

	e.notifier.Notify(bot.UserID, notify.EventTradeExecuted, map[string]interface{}{
		"bot_id":   bot.ID,
		"trade_id": trade.ID,
		"symbol":   trade.Symbol,
		"action":   string(trade.Action),
		"qty":      trade.FilledQty,
		"price":    trade.FilledAvgPrice,
	})

	e.logger.Info("trade filled",
		zap.Uint("bot_id", bot.ID),
		zap.Uint("trade_id", trade.ID),
		zap.String("action", string(trade.Action)),
		zap.Float64("qty", trade.FilledQty),
		zap.Float64("price", trade.FilledAvgPrice),
		zap.Float64("slippage", trade.Slippage))

	return trade, nil, nil
}

// failTrade marks the trade FAILED without touching the position side.
func (e *Engine) failTrade(bot *models.Bot, trade *models.Trade, message string) (*models.Trade, *risk.Decision, error) {
	if err := e.ledger.MarkFailed(trade, message); err != nil {
		return nil, nil, err
	}
	e.setBotOrderStatus(bot, models.BotOrderFailed)

	e.notifier.Notify(bot.UserID, notify.EventTradeError, map[string]interface{}{
		"bot_id":   bot.ID,
		"trade_id": trade.ID,
		"symbol":   trade.Symbol,
		"error":    message,
	})

	e.logger.Warn("trade failed",
		zap.Uint("bot_id", bot.ID),
		zap.Uint("trade_id", trade.ID),
		zap.String("error", message))

	return trade, nil, nil
}

func (e *Engine) setBotOrderStatus(bot *models.Bot, status models.BotOrderStatus) {
	if err := e.db.Model(&models.Bot{}).Where("id = ?", bot.ID).
		Update("order_status", status).Error; err != nil {
		e.logger.Error("failed to update bot order status", zap.Uint("bot_id", bot.ID), zap.Error(err))
		return
	}
	bot.OrderStatus = status
}

func (e *Engine) lockFor(botID uint) chan struct{} {
	if lock, ok := e.locks.Load(botID); ok {
		return lock.(chan struct{})
	}
	lock, _ := e.locks.LoadOrStore(botID, make(chan struct{}, 1))
	return lock.(chan struct{})
}

func unrealized(bot *models.Bot, mark float64) float64 {
	if bot.CurrentPositionSide == models.PositionFlat || bot.CurrentPositionQty == 0 {
		return 0
	}
	sign := 1.0
	if bot.CurrentPositionSide == models.PositionShort {
		sign = -1.0
	}
	return (mark - bot.AvgEntryPrice) * bot.CurrentPositionQty * sign
}
