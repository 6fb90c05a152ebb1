package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quantara/signal-engine/internal/engine"
	"github.com/quantara/signal-engine/internal/insight"
	"github.com/quantara/signal-engine/internal/ledger"
	"github.com/quantara/signal-engine/internal/models"
	"github.com/quantara/signal-engine/internal/outcome"
	"github.com/quantara/signal-engine/internal/registry"
	"github.com/quantara/signal-engine/internal/risk"
)

// WebhookPayload is the alert body posted by the charting platform. The
// symbol and timeframe are advisory; the bot is resolved solely by token.
type WebhookPayload struct {
	Action    string  `json:"action"`
	Symbol    string  `json:"symbol"`
	Timeframe string  `json:"timeframe"`
	Price     float64 `json:"price,omitempty"`
	Message   string  `json:"message,omitempty"`

	// Optional indicator snapshot, kept with entry trades.
	EntryIndicator string   `json:"entry_indicator,omitempty"`
	RSI            *float64 `json:"rsi,omitempty"`
	RSIPeriod      int      `json:"rsi_period,omitempty"`
	MACD           *float64 `json:"macd,omitempty"`
	MACDSignal     *float64 `json:"macd_signal,omitempty"`
	ATR            *float64 `json:"atr,omitempty"`
	MAFastPeriod   int      `json:"ma_fast_period,omitempty"`
	MASlowPeriod   int      `json:"ma_slow_period,omitempty"`
	TrendDirection string   `json:"trend_direction,omitempty"`
	VIX            *float64 `json:"vix,omitempty"`
}

// Handler serves the webhook endpoint and the read-side management API.
type Handler struct {
	registry *registry.Service
	engine   *engine.Engine
	ledger   *ledger.Ledger
	tracker  *outcome.Tracker
	insights *insight.Engine
	gate     *risk.Gate
	logger   *zap.Logger
}

// NewHandler creates a new gateway handler
func NewHandler(reg *registry.Service, eng *engine.Engine, led *ledger.Ledger,
	tracker *outcome.Tracker, ins *insight.Engine, gate *risk.Gate, logger *zap.Logger) *Handler {
	return &Handler{
		registry: reg,
		engine:   eng,
		ledger:   led,
		tracker:  tracker,
		insights: ins,
		gate:     gate,
		logger:   logger,
	}
}

// HandleWebhook processes one alert. The request goroutine carries the
// signal through the state machine so the response reflects the terminal
// order status.
func (h *Handler) HandleWebhook(c *gin.Context) {
	receivedAt := time.Now()

	bot, err := h.registry.ResolveToken(c.Param("token"))
	if errors.Is(err, registry.ErrUnknownToken) {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "auth_error", "error": "unknown or inactive webhook token"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "persistence_error", "error": err.Error(), "retryable": true})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "failed to read request body"})
		return
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.logger.Warn("unparseable webhook body", zap.Uint("bot_id", bot.ID), zap.String("body", string(body)))
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid JSON payload"})
		return
	}

	action := models.TradeAction(strings.ToUpper(strings.TrimSpace(payload.Action)))
	switch action {
	case models.ActionBuy, models.ActionSell, models.ActionClose:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "action must be BUY, SELL or CLOSE"})
		return
	}
	if payload.Symbol == "" || payload.Timeframe == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "symbol and timeframe are required"})
		return
	}

	go h.registry.TouchUsage(bot.ID)

	sig := &engine.Signal{
		Action:     action,
		Symbol:     payload.Symbol,
		Timeframe:  payload.Timeframe,
		Price:      payload.Price,
		Indicators: indicators(&payload),
		ReceivedAt: receivedAt,
		Raw:        string(body),
	}

	result, err := h.engine.HandleSignal(c.Request.Context(), bot.ID, sig)
	if errors.Is(err, engine.ErrBotBusy) {
		c.JSON(http.StatusTooManyRequests, gin.H{"code": "busy", "error": "previous signal still in flight"})
		return
	}
	if err != nil {
		h.logger.Error("signal processing failed", zap.Uint("bot_id", bot.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"code": "persistence_error", "error": err.Error(), "retryable": true})
		return
	}

	switch result.Status {
	case engine.StatusNoOp:
		c.JSON(http.StatusOK, gin.H{"code": "no_op", "reason": result.Reason})
	case engine.StatusBlocked:
		c.JSON(http.StatusConflict, gin.H{"code": "risk_blocked", "reason": result.Reason})
	default:
		c.JSON(http.StatusAccepted, gin.H{
			"code":   string(result.Status),
			"reason": result.Reason,
			"trades": tradeAcks(result.Trades),
		})
	}
}

// indicators extracts the optional snapshot, nil when the alert carried none.
func indicators(p *WebhookPayload) *models.StrategyParams {
	if p.RSI == nil && p.MACD == nil && p.MACDSignal == nil && p.ATR == nil &&
		p.VIX == nil && p.TrendDirection == "" && p.EntryIndicator == "" {
		return nil
	}
	return &models.StrategyParams{
		EntryIndicator: p.EntryIndicator,
		RSIValue:       p.RSI,
		RSIPeriod:      p.RSIPeriod,
		MACDValue:      p.MACD,
		MACDSignal:     p.MACDSignal,
		ATRValue:       p.ATR,
		MAFastPeriod:   p.MAFastPeriod,
		MASlowPeriod:   p.MASlowPeriod,
		TrendDirection: p.TrendDirection,
		VIXValue:       p.VIX,
	}
}

func tradeAcks(trades []*models.Trade) []gin.H {
	acks := make([]gin.H, 0, len(trades))
	for _, t := range trades {
		acks = append(acks, gin.H{
			"trade_id": t.ID,
			"action":   string(t.Action),
			"status":   string(t.Status),
		})
	}
	return acks
}

// CreateBot provisions a bot and returns its freshly minted webhook token.
func (h *Handler) CreateBot(c *gin.Context) {
	var bot models.Bot
	if err := c.ShouldBindJSON(&bot); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bot payload"})
		return
	}

	if err := h.registry.CreateBot(&bot); err != nil {
		if errors.Is(err, registry.ErrDuplicateBot) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create bot"})
		return
	}

	c.JSON(http.StatusCreated, bot)
}

// GetBots retrieves all bots with pagination
func (h *Handler) GetBots(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	bots, total, err := h.registry.ListBots(page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve bots"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bots":  bots,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

// ActivateBot is the only path that re-enables a risk-disabled bot.
func (h *Handler) ActivateBot(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bot ID"})
		return
	}

	if err := h.registry.Activate(uint(id)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "bot not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to activate bot"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "bot activated", "bot_id": id})
}

// RotateToken revokes a bot's webhook token and returns the replacement.
func (h *Handler) RotateToken(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bot ID"})
		return
	}

	token, err := h.registry.RotateToken(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "bot not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rotate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"bot_id": id, "webhook_token": token})
}

// GetTrades retrieves a bot's trades with pagination
func (h *Handler) GetTrades(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bot ID"})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	trades, total, err := h.ledger.ListTrades(uint(id), page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve trades"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trades": trades,
		"total":  total,
		"page":   page,
		"limit":  limit,
	})
}

// GetOutcomes retrieves trade outcomes, optionally filtered by bot_id
func (h *Handler) GetOutcomes(c *gin.Context) {
	botID, _ := strconv.ParseUint(c.DefaultQuery("bot_id", "0"), 10, 32)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	outcomes, total, err := h.tracker.ListOutcomes(uint(botID), page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve outcomes"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"outcomes": outcomes,
		"total":    total,
		"page":     page,
		"limit":    limit,
	})
}

// GetInsights retrieves pattern insights ordered by confidence
func (h *Handler) GetInsights(c *gin.Context) {
	activeOnly := c.DefaultQuery("active", "true") == "true"
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	insights, err := h.insights.ListInsights(activeOnly, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve insights"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"insights": insights, "count": len(insights)})
}

// GetRiskEvents retrieves risk events, optionally filtered by bot_id
func (h *Handler) GetRiskEvents(c *gin.Context) {
	botID, _ := strconv.ParseUint(c.DefaultQuery("bot_id", "0"), 10, 32)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	events, total, err := h.gate.ListEvents(uint(botID), page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve risk events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"risk_events": events,
		"total":       total,
		"page":        page,
		"limit":       limit,
	})
}
