package ledger

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quantara/signal-engine/broker"
	"github.com/quantara/signal-engine/internal/database"
	"github.com/quantara/signal-engine/internal/models"
)

var testDBSeq atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:ledger_test_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := database.Open(dsn)
	require.NoError(t, err)
	return db
}

func TestSignedSlippage(t *testing.T) {
	t.Run("Buy filled above mid is adverse", func(t *testing.T) {
		assert.InDelta(t, 0.1, SignedSlippage(broker.OrderSideBuy, 100.0, 100.1), 1e-9)
	})

	t.Run("Buy filled below mid is favorable", func(t *testing.T) {
		assert.InDelta(t, -0.1, SignedSlippage(broker.OrderSideBuy, 100.0, 99.9), 1e-9)
	})

	t.Run("Sell filled below mid is adverse", func(t *testing.T) {
		assert.InDelta(t, 0.1, SignedSlippage(broker.OrderSideSell, 100.0, 99.9), 1e-9)
	})

	t.Run("Sell filled above mid is favorable", func(t *testing.T) {
		assert.InDelta(t, -0.1, SignedSlippage(broker.OrderSideSell, 100.0, 100.1), 1e-9)
	})
}

func TestExpectedPrice(t *testing.T) {
	assert.InDelta(t, 100.1, ExpectedPrice(100.0, 100.2), 1e-9)
}

func TestCreateSubmitted(t *testing.T) {
	db := newTestDB(t)
	led := NewLedger(db, zap.NewNop())

	trade := &models.Trade{
		BotID:            1,
		UserID:           1,
		Action:           models.ActionBuy,
		Side:             string(broker.OrderSideBuy),
		Symbol:           "BTCUSDT",
		Quantity:         1,
		SignalReceivedAt: time.Now().Add(-50 * time.Millisecond),
		ClientOrderID:    "ord-1",
	}
	quote := &broker.Quote{Symbol: "BTCUSDT", Bid: 100.0, Ask: 100.2}
	acct := &broker.AccountSnapshot{Equity: 10000, BuyingPower: 8000}

	require.NoError(t, led.CreateSubmitted(trade, quote, acct))

	assert.NotZero(t, trade.ID)
	assert.Equal(t, models.TradeSubmitted, trade.Status)
	assert.InDelta(t, 100.1, trade.ExpectedPrice, 1e-9)
	assert.Equal(t, 100.0, trade.BidPrice)
	assert.Equal(t, 100.2, trade.AskPrice)
	assert.Equal(t, 10000.0, trade.AccountEquity)
	assert.GreaterOrEqual(t, trade.ExecutionLatencyMs, int64(50))
}

func TestApplyFill(t *testing.T) {
	db := newTestDB(t)
	led := NewLedger(db, zap.NewNop())

	t.Run("Settles once with slippage", func(t *testing.T) {
		trade := &models.Trade{
			BotID:            1,
			Action:           models.ActionBuy,
			Side:             string(broker.OrderSideBuy),
			Symbol:           "BTCUSDT",
			SignalReceivedAt: time.Now(),
			ClientOrderID:    "ord-2",
		}
		require.NoError(t, led.CreateSubmitted(trade, &broker.Quote{Bid: 100.0, Ask: 100.2}, nil))

		fill := &broker.Fill{
			ClientOrderID: "ord-2",
			Status:        broker.FillStatusFilled,
			FilledQty:     2,
			AvgPrice:      100.3,
			Timestamp:     time.Now(),
		}
		require.NoError(t, led.ApplyFill(trade, fill))

		assert.Equal(t, models.TradeFilled, trade.Status)
		assert.Equal(t, 2.0, trade.FilledQty)
		assert.InDelta(t, 0.2, trade.Slippage, 1e-9)
		assert.InDelta(t, 0.2/100.1*100, trade.SlippagePercent, 1e-9)
		require.NotNil(t, trade.FilledAt)
		require.NotNil(t, trade.TimeToFillMs)

		// Execution-quality fields are write-once.
		assert.ErrorIs(t, led.ApplyFill(trade, fill), ErrTradeSettled)
	})

	t.Run("Failure path is also write-once", func(t *testing.T) {
		trade := &models.Trade{
			BotID:            1,
			Action:           models.ActionSell,
			Side:             string(broker.OrderSideSell),
			Symbol:           "BTCUSDT",
			SignalReceivedAt: time.Now(),
			ClientOrderID:    "ord-3",
		}
		require.NoError(t, led.CreateSubmitted(trade, nil, nil))
		require.NoError(t, led.MarkFailed(trade, "timed out waiting for fill"))

		assert.Equal(t, models.TradeFailed, trade.Status)
		assert.Equal(t, "timed out waiting for fill", trade.ErrorMessage)
		assert.ErrorIs(t, led.MarkFailed(trade, "again"), ErrTradeSettled)
		assert.ErrorIs(t, led.ApplyFill(trade, &broker.Fill{}), ErrTradeSettled)
	})
}

func TestListTrades(t *testing.T) {
	db := newTestDB(t)
	led := NewLedger(db, zap.NewNop())

	for i := 0; i < 3; i++ {
		trade := &models.Trade{
			BotID:            7,
			Action:           models.ActionBuy,
			Side:             string(broker.OrderSideBuy),
			Symbol:           "ETHUSDT",
			SignalReceivedAt: time.Now(),
			ClientOrderID:    fmt.Sprintf("ord-list-%d", i),
		}
		require.NoError(t, led.CreateSubmitted(trade, nil, nil))
	}

	trades, total, err := led.ListTrades(7, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, trades, 2)

	trades, _, err = led.ListTrades(99, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, trades)
}
