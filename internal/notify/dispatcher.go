package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quantara/signal-engine/internal/config"
	"github.com/quantara/signal-engine/internal/models"
)

// Event is the kind of notification being dispatched.
type Event string

const (
	EventTradeExecuted Event = "trade_executed"
	EventTradeError    Event = "trade_error"
	EventRiskEvent     Event = "risk_event"
	EventDailySummary  Event = "daily_summary"
)

// Dispatcher delivers event notifications to the configured downstream
// endpoints, gated by each user's boolean preferences. Delivery is
// fire-and-forget relative to the trading path.
type Dispatcher struct {
	client *resty.Client
	cfg    config.NotificationsConfig
	db     *gorm.DB
	logger *zap.Logger
}

// NewDispatcher creates a new notification dispatcher
func NewDispatcher(db *gorm.DB, logger *zap.Logger, cfg config.NotificationsConfig) *Dispatcher {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		client: resty.New().SetTimeout(timeout),
		cfg:    cfg,
		db:     db,
		logger: logger,
	}
}

// Notify sends an event to all active endpoints if the user opted in for
// that event kind. Errors are logged, never propagated to trading.
func (d *Dispatcher) Notify(userID uint, event Event, payload map[string]interface{}) {
	var user models.User
	if err := d.db.First(&user, userID).Error; err != nil {
		d.logger.Warn("notification user lookup failed", zap.Uint("user_id", userID), zap.Error(err))
		return
	}
	if !d.wants(&user, event) {
		return
	}

	body := map[string]interface{}{
		"event":   string(event),
		"user_id": userID,
		"sent_at": time.Now().Format(time.RFC3339),
	}
	for k, v := range payload {
		body[k] = v
	}

	for _, endpoint := range d.cfg.Endpoints {
		if !endpoint.IsActive {
			continue
		}
		go func(ep config.EndpointConfig) {
			if err := d.post(ep, body); err != nil {
				d.logger.Warn("notification delivery failed",
					zap.String("endpoint", ep.Name),
					zap.String("event", string(event)),
					zap.Error(err))
			}
		}(endpoint)
	}
}

func (d *Dispatcher) wants(user *models.User, event Event) bool {
	switch event {
	case EventTradeExecuted:
		return user.NotifyOnTrade
	case EventTradeError:
		return user.NotifyOnError
	case EventRiskEvent:
		return user.NotifyOnRisk
	case EventDailySummary:
		return user.NotifyDailySummary
	default:
		return false
	}
}

func (d *Dispatcher) post(endpoint config.EndpointConfig, body map[string]interface{}) error {
	resp, err := d.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(endpoint.URL)
	if err != nil {
		return fmt.Errorf("notification request failed: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("endpoint returned status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// RunDailySummaries sends each opted-in user a summary of the day's trading
// at the configured UTC hour.
func (d *Dispatcher) RunDailySummaries(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	var lastSent time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			utc := now.UTC()
			if utc.Hour() != d.cfg.SummaryHourUTC || utc.Truncate(24*time.Hour).Equal(lastSent) {
				continue
			}
			lastSent = utc.Truncate(24 * time.Hour)
			d.sendSummaries(utc)
		}
	}
}

func (d *Dispatcher) sendSummaries(now time.Time) {
	var users []models.User
	if err := d.db.Where("notify_daily_summary = ?", true).Find(&users).Error; err != nil {
		d.logger.Error("daily summary user query failed", zap.Error(err))
		return
	}

	dayStart := now.Truncate(24 * time.Hour)
	for _, user := range users {
		var trades int64
		d.db.Model(&models.Trade{}).
			Where("user_id = ? AND created_at >= ?", user.ID, dayStart).
			Count(&trades)

		var pnl float64
		d.db.Model(&models.Trade{}).
			Where("user_id = ? AND realized_pnl IS NOT NULL AND filled_at >= ?", user.ID, dayStart).
			Select("COALESCE(SUM(realized_pnl), 0)").
			Scan(&pnl)

		d.Notify(user.ID, EventDailySummary, map[string]interface{}{
			"trades":       trades,
			"realized_pnl": pnl,
			"date":         dayStart.Format("2006-01-02"),
		})
	}
}
