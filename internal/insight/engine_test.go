package insight

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quantara/signal-engine/internal/config"
	"github.com/quantara/signal-engine/internal/database"
	"github.com/quantara/signal-engine/internal/models"
)

var testDBSeq atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:insight_test_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := database.Open(dsn)
	require.NoError(t, err)
	return db
}

func testConfig() config.InsightsConfig {
	return config.InsightsConfig{IntervalMinutes: 60, MinTrades: 10, WinRateMarginPercent: 10}
}

// seedOutcome writes one closed trade with its entry snapshot and outcome.
func seedOutcome(t *testing.T, db *gorm.DB, rsi *float64, winner bool) {
	seq := testDBSeq.Add(1)
	now := time.Now()

	entry := &models.Trade{
		BotID:            1,
		Action:           models.ActionBuy,
		Symbol:           "BTCUSDT",
		Timeframe:        "1h",
		Status:           models.TradeFilled,
		FilledAt:         &now,
		OrderSubmittedAt: now,
		ClientOrderID:    fmt.Sprintf("entry-%d", seq),
	}
	require.NoError(t, db.Create(entry).Error)

	closing := &models.Trade{
		BotID:            1,
		Action:           models.ActionClose,
		Symbol:           "BTCUSDT",
		Timeframe:        "1h",
		Status:           models.TradeFilled,
		FilledAt:         &now,
		OrderSubmittedAt: now,
		ClientOrderID:    fmt.Sprintf("close-%d", seq),
	}
	require.NoError(t, db.Create(closing).Error)

	require.NoError(t, db.Create(&models.StrategyParams{
		TradeID:  entry.ID,
		BotID:    1,
		RSIValue: rsi,
	}).Error)

	pnl := -1.0
	if winner {
		pnl = 1.0
	}
	require.NoError(t, db.Create(&models.TradeOutcome{
		TradeID:       closing.ID,
		BotID:         1,
		EntryTradeIDs: models.JoinEntryIDs([]uint{entry.ID}),
		PnLPercent:    pnl,
		IsWinner:      winner,
		ExitAt:        now,
	}).Error)
}

func fptr(v float64) *float64 { return &v }

// seedRSIGroups builds a population where oversold entries clearly beat the
// rest: nOversold trades at oversoldWins win rate against a 50% remainder.
func seedRSIGroups(t *testing.T, db *gorm.DB, nOversold, oversoldWins, nOther int) {
	for i := 0; i < nOversold; i++ {
		seedOutcome(t, db, fptr(25), i < oversoldWins)
	}
	for i := 0; i < nOther; i++ {
		seedOutcome(t, db, fptr(55), i%2 == 0)
	}
}

func TestRunOnce(t *testing.T) {
	t.Run("Emits insight when a bucket beats the baseline", func(t *testing.T) {
		db := newTestDB(t)
		eng := NewEngine(db, zap.NewNop(), testConfig())

		// 50 oversold entries at 68% against a large 50% remainder.
		seedRSIGroups(t, db, 50, 34, 200)

		n, err := eng.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Greater(t, n, 0)

		var ins models.Insight
		require.NoError(t, db.Where("insight_type = ? AND conditions = ?", TypeRSIBucket, "rsi<30").First(&ins).Error)
		assert.Equal(t, 50, ins.SampleSize)
		assert.InDelta(t, 0.68, ins.WinRate, 1e-9)
		assert.True(t, ins.IsActive)
		assert.Greater(t, ins.WinRate, ins.BaselineWinRate)
		assert.NotEmpty(t, ins.Recommendation)
	})

	t.Run("Small samples never qualify", func(t *testing.T) {
		db := newTestDB(t)
		eng := NewEngine(db, zap.NewNop(), testConfig())

		// Only 5 oversold entries, all winners; below min_trades.
		seedRSIGroups(t, db, 5, 5, 20)

		_, err := eng.RunOnce(context.Background())
		require.NoError(t, err)

		var count int64
		db.Model(&models.Insight{}).Where("conditions = ?", "rsi<30").Count(&count)
		assert.Zero(t, count)
	})

	t.Run("Upsert is idempotent", func(t *testing.T) {
		db := newTestDB(t)
		eng := NewEngine(db, zap.NewNop(), testConfig())
		seedRSIGroups(t, db, 25, 22, 25)

		_, err := eng.RunOnce(context.Background())
		require.NoError(t, err)
		_, err = eng.RunOnce(context.Background())
		require.NoError(t, err)

		var count int64
		db.Model(&models.Insight{}).Where("insight_type = ? AND conditions = ?", TypeRSIBucket, "rsi<30").Count(&count)
		assert.Equal(t, int64(1), count)
	})

	t.Run("Stale insights are deactivated, not deleted", func(t *testing.T) {
		db := newTestDB(t)
		eng := NewEngine(db, zap.NewNop(), testConfig())

		require.NoError(t, db.Create(&models.Insight{
			InsightType: TypeRSIBucket,
			Conditions:  "rsi>70",
			WinRate:     0.8,
			SampleSize:  30,
			IsActive:    true,
		}).Error)

		// Fresh data supports a different pattern only.
		seedRSIGroups(t, db, 25, 22, 25)
		_, err := eng.RunOnce(context.Background())
		require.NoError(t, err)

		var stale models.Insight
		require.NoError(t, db.Where("conditions = ?", "rsi>70").First(&stale).Error)
		assert.False(t, stale.IsActive)
	})
}

func TestConfidenceMonotonicity(t *testing.T) {
	eng := NewEngine(nil, zap.NewNop(), testConfig())

	assert.Greater(t, eng.confidence(0.2, 50), eng.confidence(0.2, 12))
	assert.Greater(t, eng.confidence(0.3, 20), eng.confidence(0.15, 20))
	assert.GreaterOrEqual(t, eng.confidence(0.5, 1000), 0.0)
	assert.LessOrEqual(t, eng.confidence(1.0, 100000), 1.0)
}

func TestListInsights(t *testing.T) {
	db := newTestDB(t)
	eng := NewEngine(db, zap.NewNop(), testConfig())

	require.NoError(t, db.Create(&models.Insight{
		InsightType: TypeTrend, Conditions: "trend=up", ConfidenceScore: 0.3, IsActive: true,
	}).Error)
	require.NoError(t, db.Create(&models.Insight{
		InsightType: TypeTrend, Conditions: "trend=down", ConfidenceScore: 0.6, IsActive: true,
	}).Error)
	require.NoError(t, db.Create(&models.Insight{
		InsightType: TypeTrend, Conditions: "trend=sideways", ConfidenceScore: 0.9, IsActive: false,
	}).Error)

	insights, err := eng.ListInsights(true, 10)
	require.NoError(t, err)
	require.Len(t, insights, 2)
	assert.Equal(t, "trend=down", insights[0].Conditions)

	all, err := eng.ListInsights(false, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
