package outcome

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quantara/signal-engine/internal/database"
	"github.com/quantara/signal-engine/internal/models"
)

var testDBSeq atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:outcome_test_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := database.Open(dsn)
	require.NoError(t, err)
	return db
}

func filledTrade(t *testing.T, db *gorm.DB, botID uint, action models.TradeAction,
	sideBefore models.PositionSide, qty, price float64, filledAt time.Time) *models.Trade {
	trade := &models.Trade{
		BotID:              botID,
		UserID:             1,
		Action:             action,
		Symbol:             "BTCUSDT",
		Status:             models.TradeFilled,
		FilledQty:          qty,
		FilledAvgPrice:     price,
		OrderSubmittedAt:   filledAt.Add(-time.Second),
		FilledAt:           &filledAt,
		PositionSideBefore: sideBefore,
		ClientOrderID:      fmt.Sprintf("t-%d-%d", botID, testDBSeq.Add(1)),
	}
	require.NoError(t, db.Create(trade).Error)
	return trade
}

func TestOnCloseFilled(t *testing.T) {
	t.Run("Long round trip", func(t *testing.T) {
		db := newTestDB(t)
		tracker := NewTracker(db, zap.NewNop(), 0.05)

		entryAt := time.Now().Add(-time.Hour)
		exitAt := time.Now()
		entry := filledTrade(t, db, 1, models.ActionBuy, models.PositionFlat, 2, 100, entryAt)
		closing := filledTrade(t, db, 1, models.ActionClose, models.PositionLong, 2, 110, exitAt)

		out, err := tracker.OnCloseFilled(closing)
		require.NoError(t, err)

		assert.Equal(t, closing.ID, out.TradeID)
		assert.Equal(t, models.JoinEntryIDs([]uint{entry.ID}), out.EntryTradeIDs)
		assert.InDelta(t, 20.0, out.PnLDollars, 1e-9)
		assert.InDelta(t, 10.0, out.PnLPercent, 1e-9)
		assert.True(t, out.IsWinner)
		assert.False(t, out.IsBreakeven)
		assert.InDelta(t, 3600, float64(out.HoldDurationSec), 2)
		assert.Nil(t, out.MaxFavorableExcursion, "no samples recorded")
		assert.Nil(t, out.MaxAdverseExcursion)

		var stored models.Trade
		require.NoError(t, db.First(&stored, closing.ID).Error)
		require.NotNil(t, stored.RealizedPnL)
		assert.InDelta(t, 20.0, *stored.RealizedPnL, 1e-9)
	})

	t.Run("Short profits when price falls", func(t *testing.T) {
		db := newTestDB(t)
		tracker := NewTracker(db, zap.NewNop(), 0.05)

		filledTrade(t, db, 1, models.ActionSell, models.PositionFlat, 3, 100, time.Now().Add(-time.Hour))
		closing := filledTrade(t, db, 1, models.ActionClose, models.PositionShort, 3, 90, time.Now())

		out, err := tracker.OnCloseFilled(closing)
		require.NoError(t, err)
		assert.InDelta(t, 30.0, out.PnLDollars, 1e-9)
		assert.True(t, out.IsWinner)
	})

	t.Run("Breakeven overrides winner", func(t *testing.T) {
		db := newTestDB(t)
		tracker := NewTracker(db, zap.NewNop(), 0.05)

		filledTrade(t, db, 1, models.ActionBuy, models.PositionFlat, 1, 10000, time.Now().Add(-time.Minute))
		// +0.002% gain, inside the 0.05% breakeven band.
		closing := filledTrade(t, db, 1, models.ActionClose, models.PositionLong, 1, 10000.2, time.Now())

		out, err := tracker.OnCloseFilled(closing)
		require.NoError(t, err)
		assert.Greater(t, out.PnLDollars, 0.0)
		assert.True(t, out.IsBreakeven)
		assert.False(t, out.IsWinner)
	})

	t.Run("FIFO matches oldest entries first", func(t *testing.T) {
		db := newTestDB(t)
		tracker := NewTracker(db, zap.NewNop(), 0.05)

		first := filledTrade(t, db, 1, models.ActionBuy, models.PositionFlat, 1, 100, time.Now().Add(-3*time.Hour))
		second := filledTrade(t, db, 1, models.ActionBuy, models.PositionLong, 1, 120, time.Now().Add(-2*time.Hour))
		closing := filledTrade(t, db, 1, models.ActionClose, models.PositionLong, 2, 130, time.Now())

		out, err := tracker.OnCloseFilled(closing)
		require.NoError(t, err)
		assert.Equal(t, models.JoinEntryIDs([]uint{first.ID, second.ID}), out.EntryTradeIDs)
		assert.InDelta(t, 110.0, out.EntryPrice, 1e-9, "blended FIFO entry price")
		assert.InDelta(t, 40.0, out.PnLDollars, 1e-9)
	})

	t.Run("Consumed entries are not rematched", func(t *testing.T) {
		db := newTestDB(t)
		tracker := NewTracker(db, zap.NewNop(), 0.05)

		filledTrade(t, db, 1, models.ActionBuy, models.PositionFlat, 1, 100, time.Now().Add(-3*time.Hour))
		firstClose := filledTrade(t, db, 1, models.ActionClose, models.PositionLong, 1, 105, time.Now().Add(-2*time.Hour))
		_, err := tracker.OnCloseFilled(firstClose)
		require.NoError(t, err)

		second := filledTrade(t, db, 1, models.ActionBuy, models.PositionFlat, 1, 200, time.Now().Add(-time.Hour))
		secondClose := filledTrade(t, db, 1, models.ActionClose, models.PositionLong, 1, 210, time.Now())

		out, err := tracker.OnCloseFilled(secondClose)
		require.NoError(t, err)
		assert.Equal(t, models.JoinEntryIDs([]uint{second.ID}), out.EntryTradeIDs)
		assert.InDelta(t, 200.0, out.EntryPrice, 1e-9)
	})

	t.Run("Repeated call returns existing outcome", func(t *testing.T) {
		db := newTestDB(t)
		tracker := NewTracker(db, zap.NewNop(), 0.05)

		filledTrade(t, db, 1, models.ActionBuy, models.PositionFlat, 1, 100, time.Now().Add(-time.Hour))
		closing := filledTrade(t, db, 1, models.ActionClose, models.PositionLong, 1, 110, time.Now())

		first, err := tracker.OnCloseFilled(closing)
		require.NoError(t, err)
		again, err := tracker.OnCloseFilled(closing)
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)

		var count int64
		db.Model(&models.TradeOutcome{}).Count(&count)
		assert.Equal(t, int64(1), count)
	})

	t.Run("Non-closing trades rejected", func(t *testing.T) {
		db := newTestDB(t)
		tracker := NewTracker(db, zap.NewNop(), 0.05)

		entry := filledTrade(t, db, 1, models.ActionBuy, models.PositionFlat, 1, 100, time.Now())
		_, err := tracker.OnCloseFilled(entry)
		assert.ErrorIs(t, err, ErrNotClosing)

		pending := &models.Trade{
			BotID:         1,
			Action:        models.ActionClose,
			Status:        models.TradeSubmitted,
			ClientOrderID: "pending-close",
		}
		require.NoError(t, db.Create(pending).Error)
		_, err = tracker.OnCloseFilled(pending)
		assert.ErrorIs(t, err, ErrNotClosing)
	})
}

func TestExcursions(t *testing.T) {
	db := newTestDB(t)
	tracker := NewTracker(db, zap.NewNop(), 0.05)

	entryAt := time.Now().Add(-time.Hour)
	exitAt := time.Now()
	filledTrade(t, db, 1, models.ActionBuy, models.PositionFlat, 2, 100, entryAt)

	for _, p := range []float64{108, 95, 103} {
		require.NoError(t, db.Create(&models.PriceSample{
			BotID:     1,
			Symbol:    "BTCUSDT",
			Price:     p,
			SampledAt: entryAt.Add(10 * time.Minute),
		}).Error)
	}

	closing := filledTrade(t, db, 1, models.ActionClose, models.PositionLong, 2, 103, exitAt)
	out, err := tracker.OnCloseFilled(closing)
	require.NoError(t, err)

	require.NotNil(t, out.MaxFavorableExcursion)
	require.NotNil(t, out.MaxAdverseExcursion)
	assert.InDelta(t, 16.0, *out.MaxFavorableExcursion, 1e-9)
	assert.InDelta(t, -10.0, *out.MaxAdverseExcursion, 1e-9)
}

func TestListOutcomes(t *testing.T) {
	db := newTestDB(t)
	tracker := NewTracker(db, zap.NewNop(), 0.05)

	for i := 0; i < 3; i++ {
		filledTrade(t, db, 1, models.ActionBuy, models.PositionFlat, 1, 100, time.Now().Add(-time.Duration(i+2)*time.Hour))
		closing := filledTrade(t, db, 1, models.ActionClose, models.PositionLong, 1, 110, time.Now().Add(-time.Duration(i)*time.Hour))
		_, err := tracker.OnCloseFilled(closing)
		require.NoError(t, err)
	}

	outcomes, total, err := tracker.ListOutcomes(1, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, outcomes, 2)
}
