package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quantara/signal-engine/internal/models"
)

// ErrUnknownToken means no active bot owns the presented webhook token.
// Returned for revoked tokens and deactivated bots alike so callers cannot
// distinguish the two.
var ErrUnknownToken = errors.New("unknown or inactive webhook token")

// ErrDuplicateBot means a bot already exists for the (user, symbol, timeframe) triple.
var ErrDuplicateBot = errors.New("bot already exists for this symbol and timeframe")

// Service is the bot registry: webhook token resolution, bot provisioning
// and the manual reactivation path after a risk disable.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService creates a new registry service
func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// ResolveToken resolves a webhook token to its active bot by exact match.
// It never panics on a miss; unknown and inactive tokens both return
// ErrUnknownToken.
func (s *Service) ResolveToken(token string) (*models.Bot, error) {
	if token == "" {
		return nil, ErrUnknownToken
	}

	var bot models.Bot
	err := s.db.Where("webhook_token = ? AND is_active = ?", token, true).First(&bot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve token: %w", err)
	}

	return &bot, nil
}

// TouchUsage bumps the bot's last-used timestamp and request counter. Callers
// run it off the signal path; failures are logged, not propagated.
func (s *Service) TouchUsage(botID uint) {
	now := time.Now()
	err := s.db.Model(&models.Bot{}).Where("id = ?", botID).Updates(map[string]interface{}{
		"last_signal_at": now,
		"signal_count":   gorm.Expr("signal_count + 1"),
	}).Error
	if err != nil {
		s.logger.Warn("failed to update bot usage", zap.Uint("bot_id", botID), zap.Error(err))
	}
}

// CreateBot provisions a bot for a user and mints its webhook token.
func (s *Service) CreateBot(bot *models.Bot) error {
	var count int64
	s.db.Model(&models.Bot{}).
		Where("user_id = ? AND symbol = ? AND timeframe = ?", bot.UserID, bot.Symbol, bot.Timeframe).
		Count(&count)
	if count > 0 {
		return ErrDuplicateBot
	}

	bot.WebhookToken = uuid.NewString()
	bot.IsActive = true
	bot.OrderStatus = models.BotOrderIdle
	bot.CurrentPositionSide = models.PositionFlat

	if err := s.db.Create(bot).Error; err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	s.logger.Info("bot created",
		zap.Uint("bot_id", bot.ID),
		zap.Uint("user_id", bot.UserID),
		zap.String("symbol", bot.Symbol),
		zap.String("timeframe", bot.Timeframe))
	return nil
}

// Activate re-enables a bot after a risk disable. This is the only write
// path that turns is_active back on.
func (s *Service) Activate(botID uint) error {
	result := s.db.Model(&models.Bot{}).Where("id = ?", botID).Update("is_active", true)
	if result.Error != nil {
		return fmt.Errorf("failed to activate bot: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	s.logger.Info("bot reactivated", zap.Uint("bot_id", botID))
	return nil
}

// GetBot retrieves a bot by id.
func (s *Service) GetBot(id uint) (*models.Bot, error) {
	var bot models.Bot
	if err := s.db.First(&bot, id).Error; err != nil {
		return nil, err
	}
	return &bot, nil
}

// ListBots retrieves bots with pagination.
func (s *Service) ListBots(page, limit int) ([]models.Bot, int64, error) {
	var bots []models.Bot
	var total int64

	if err := s.db.Model(&models.Bot{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := s.db.Offset(offset).Limit(limit).Order("created_at DESC").Find(&bots).Error; err != nil {
		return nil, 0, err
	}

	return bots, total, nil
}

// RotateToken revokes the current webhook token and mints a new one.
func (s *Service) RotateToken(botID uint) (string, error) {
	token := uuid.NewString()
	result := s.db.Model(&models.Bot{}).Where("id = ?", botID).Update("webhook_token", token)
	if result.Error != nil {
		return "", fmt.Errorf("failed to rotate token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return "", gorm.ErrRecordNotFound
	}
	return token, nil
}
