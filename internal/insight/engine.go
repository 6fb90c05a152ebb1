package insight

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quantara/signal-engine/internal/config"
	"github.com/quantara/signal-engine/internal/models"
)

// Insight types, one per grouping dimension.
const (
	TypeRSIBucket = "rsi_bucket"
	TypeVIXRegime = "vix_regime"
	TypeTimeframe = "timeframe"
	TypeTimeOfDay = "time_of_day"
	TypeTrend     = "trend_direction"
)

// Engine mines accumulated outcomes joined with their entry strategy
// parameters for win-rate patterns, one grouping dimension at a time. It
// runs off the trading hot path against a point-in-time load of the data
// and holds no locks while analyzing.
type Engine struct {
	db     *gorm.DB
	logger *zap.Logger
	cfg    config.InsightsConfig
}

// NewEngine creates a new insight engine
func NewEngine(db *gorm.DB, logger *zap.Logger, cfg config.InsightsConfig) *Engine {
	if cfg.MinTrades <= 0 {
		cfg.MinTrades = 10
	}
	if cfg.WinRateMarginPercent <= 0 {
		cfg.WinRateMarginPercent = 10
	}
	return &Engine{db: db, logger: logger, cfg: cfg}
}

// Run executes the batch periodically until the context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	interval := time.Duration(e.cfg.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("insight engine started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("insight engine stopped")
			return
		case <-ticker.C:
			if n, err := e.RunOnce(ctx); err != nil {
				e.logger.Error("insight batch failed", zap.Error(err))
			} else {
				e.logger.Info("insight batch completed", zap.Int("insights", n))
			}
		}
	}
}

// record is one outcome joined with its entry's strategy parameters.
type record struct {
	outcome models.TradeOutcome
	params  *models.StrategyParams
	trade   *models.Trade // closing trade, for symbol/timeframe context
}

// RunOnce loads a snapshot of outcomes and parameters, evaluates every
// grouping dimension and upserts qualifying insights. It returns how many
// insights were emitted or refreshed.
func (e *Engine) RunOnce(ctx context.Context) (int, error) {
	records, err := e.load(ctx)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	baseline := winRate(records)

	refreshed := make(map[string]bool)
	emitted := 0

	dimensions := []struct {
		insightType string
		bucket      func(record) (string, bool)
	}{
		{TypeRSIBucket, bucketRSI},
		{TypeVIXRegime, bucketVIX},
		{TypeTimeframe, bucketTimeframe},
		{TypeTimeOfDay, bucketTimeOfDay},
		{TypeTrend, bucketTrend},
	}

	for _, dim := range dimensions {
		groups := make(map[string][]record)
		for _, r := range records {
			if cond, ok := dim.bucket(r); ok {
				groups[cond] = append(groups[cond], r)
			}
		}

		for cond, group := range groups {
			n := len(group)
			if n < e.cfg.MinTrades {
				continue
			}
			wr := winRate(group)
			delta := wr - baseline
			if math.Abs(delta)*100 < e.cfg.WinRateMarginPercent {
				continue
			}

			ins := &models.Insight{
				InsightType:     dim.insightType,
				Conditions:      cond,
				WinRate:         wr,
				BaselineWinRate: baseline,
				AvgReturn:       avgReturn(group),
				SampleSize:      n,
				ConfidenceScore: e.confidence(delta, n),
				Recommendation:  recommendation(dim.insightType, cond, delta),
				IsActive:        true,
			}
			if err := e.upsert(ins); err != nil {
				return emitted, err
			}
			refreshed[insightKey(ins)] = true
			emitted++
		}
	}

	if err := e.deactivateStale(refreshed); err != nil {
		return emitted, err
	}
	return emitted, nil
}

func (e *Engine) load(ctx context.Context) ([]record, error) {
	var outcomes []models.TradeOutcome
	if err := e.db.WithContext(ctx).Find(&outcomes).Error; err != nil {
		return nil, fmt.Errorf("failed to load outcomes: %w", err)
	}

	var params []models.StrategyParams
	if err := e.db.WithContext(ctx).Find(&params).Error; err != nil {
		return nil, fmt.Errorf("failed to load strategy params: %w", err)
	}
	paramsByTrade := make(map[uint]*models.StrategyParams, len(params))
	for i := range params {
		paramsByTrade[params[i].TradeID] = &params[i]
	}

	var trades []models.Trade
	if err := e.db.WithContext(ctx).Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}
	tradesByID := make(map[uint]*models.Trade, len(trades))
	for i := range trades {
		tradesByID[trades[i].ID] = &trades[i]
	}

	records := make([]record, 0, len(outcomes))
	for _, o := range outcomes {
		r := record{outcome: o, trade: tradesByID[o.TradeID]}
		// Parameters live on the first matched entry trade.
		if ids := o.EntryIDs(); len(ids) > 0 {
			r.params = paramsByTrade[ids[0]]
		}
		records = append(records, r)
	}
	return records, nil
}

// confidence grows with both effect size and sample size and stays in [0, 1].
func (e *Engine) confidence(delta float64, n int) float64 {
	effect := math.Abs(delta)
	support := float64(n) / float64(n+e.cfg.MinTrades)
	return math.Round(effect*support*1000) / 1000
}

func (e *Engine) upsert(ins *models.Insight) error {
	err := e.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "insight_type"}, {Name: "symbol"}, {Name: "timeframe"},
			{Name: "strategy_type"}, {Name: "conditions"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"win_rate", "baseline_win_rate", "avg_return", "sample_size",
			"confidence_score", "recommendation", "is_active", "updated_at",
		}),
	}).Create(ins).Error
	if err != nil {
		return fmt.Errorf("failed to upsert insight: %w", err)
	}
	return nil
}

// deactivateStale flips is_active off for insights whose supporting pattern
// no longer met the threshold this run. Rows are never deleted.
func (e *Engine) deactivateStale(refreshed map[string]bool) error {
	var active []models.Insight
	if err := e.db.Where("is_active = ?", true).Find(&active).Error; err != nil {
		return fmt.Errorf("failed to load active insights: %w", err)
	}

	for _, ins := range active {
		if refreshed[insightKey(&ins)] {
			continue
		}
		if err := e.db.Model(&models.Insight{}).Where("id = ?", ins.ID).
			Update("is_active", false).Error; err != nil {
			return fmt.Errorf("failed to deactivate insight: %w", err)
		}
		e.logger.Info("insight deactivated",
			zap.String("type", ins.InsightType),
			zap.String("conditions", ins.Conditions))
	}
	return nil
}

// ListInsights retrieves insights, highest confidence first.
func (e *Engine) ListInsights(activeOnly bool, limit int) ([]models.Insight, error) {
	var insights []models.Insight
	query := e.db.Order("confidence_score DESC")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&insights).Error
	return insights, err
}

func insightKey(ins *models.Insight) string {
	return ins.InsightType + "|" + ins.Symbol + "|" + ins.Timeframe + "|" + ins.StrategyType + "|" + ins.Conditions
}

func winRate(records []record) float64 {
	if len(records) == 0 {
		return 0
	}
	wins := 0
	for _, r := range records {
		if r.outcome.IsWinner {
			wins++
		}
	}
	return float64(wins) / float64(len(records))
}

func avgReturn(records []record) float64 {
	if len(records) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range records {
		sum += r.outcome.PnLPercent
	}
	return sum / float64(len(records))
}

// Bucketing functions. Each returns (conditions label, ok); records missing
// the dimension's data are skipped, not errored.

func bucketRSI(r record) (string, bool) {
	if r.params == nil || r.params.RSIValue == nil {
		return "", false
	}
	v := *r.params.RSIValue
	switch {
	case v < 30:
		return "rsi<30", true
	case v < 50:
		return "rsi_30_50", true
	case v < 70:
		return "rsi_50_70", true
	default:
		return "rsi>70", true
	}
}

func bucketVIX(r record) (string, bool) {
	if r.params == nil || r.params.VIXValue == nil {
		return "", false
	}
	v := *r.params.VIXValue
	switch {
	case v < 15:
		return "vix<15", true
	case v <= 25:
		return "vix_15_25", true
	default:
		return "vix>25", true
	}
}

func bucketTimeframe(r record) (string, bool) {
	if r.trade == nil || r.trade.Timeframe == "" {
		return "", false
	}
	return "timeframe=" + r.trade.Timeframe, true
}

func bucketTimeOfDay(r record) (string, bool) {
	if r.params == nil {
		return "", false
	}
	h := r.params.HourOfDay
	switch {
	case h < 6:
		return "hour_00_06", true
	case h < 12:
		return "hour_06_12", true
	case h < 18:
		return "hour_12_18", true
	default:
		return "hour_18_24", true
	}
}

func bucketTrend(r record) (string, bool) {
	if r.params == nil || r.params.TrendDirection == "" {
		return "", false
	}
	return "trend=" + r.params.TrendDirection, true
}

func recommendation(insightType, cond string, delta float64) string {
	if delta > 0 {
		return fmt.Sprintf("entries where %s outperform the baseline by %.0f points; consider weighting this condition", cond, delta*100)
	}
	return fmt.Sprintf("entries where %s underperform the baseline by %.0f points; consider filtering this condition", cond, -delta*100)
}
