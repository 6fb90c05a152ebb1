package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatorSubmit(t *testing.T) {
	t.Run("Fill delivered through callback", func(t *testing.T) {
		sim := NewSimulator()
		sim.SetQuote("BTCUSDT", 100.0, 100.2)

		fills := make(chan Fill, 1)
		sim.SetFillHandler(func(f Fill) { fills <- f })

		ack, err := sim.Submit(context.Background(), &OrderRequest{
			ClientOrderID: "ord-1",
			Symbol:        "BTCUSDT",
			Side:          OrderSideBuy,
			Type:          OrderTypeMarket,
			Quantity:      0.5,
		})
		require.NoError(t, err)
		assert.Equal(t, "ord-1", ack.ClientOrderID)
		assert.NotEmpty(t, ack.OrderID)

		select {
		case fill := <-fills:
			assert.Equal(t, FillStatusFilled, fill.Status)
			assert.Equal(t, 0.5, fill.FilledQty)
			assert.Equal(t, 100.1, fill.AvgPrice)
			assert.Equal(t, "ord-1", fill.ClientOrderID)
		case <-time.After(time.Second):
			t.Fatal("fill never delivered")
		}
	})

	t.Run("Pinned fill price", func(t *testing.T) {
		sim := NewSimulator()
		sim.SetFillPrice(123.45)

		fills := make(chan Fill, 1)
		sim.SetFillHandler(func(f Fill) { fills <- f })

		_, err := sim.Submit(context.Background(), &OrderRequest{
			ClientOrderID: "ord-2",
			Symbol:        "BTCUSDT",
			Side:          OrderSideSell,
			Type:          OrderTypeMarket,
			Quantity:      1,
		})
		require.NoError(t, err)

		fill := <-fills
		assert.Equal(t, 123.45, fill.AvgPrice)
	})

	t.Run("Business rejection", func(t *testing.T) {
		sim := NewSimulator()
		sim.RejectNextFill("INSUFFICIENT_MARGIN")

		fills := make(chan Fill, 1)
		sim.SetFillHandler(func(f Fill) { fills <- f })

		_, err := sim.Submit(context.Background(), &OrderRequest{
			ClientOrderID: "ord-3",
			Symbol:        "BTCUSDT",
			Side:          OrderSideBuy,
			Type:          OrderTypeMarket,
			Quantity:      1,
		})
		require.NoError(t, err)

		fill := <-fills
		assert.Equal(t, FillStatusRejected, fill.Status)
		assert.Equal(t, "INSUFFICIENT_MARGIN", fill.Reason)
		assert.Zero(t, fill.FilledQty)
	})

	t.Run("Transient submission failure", func(t *testing.T) {
		sim := NewSimulator()
		sim.FailNextSubmits(1)

		req := &OrderRequest{
			ClientOrderID: "ord-4",
			Symbol:        "BTCUSDT",
			Side:          OrderSideBuy,
			Type:          OrderTypeMarket,
			Quantity:      1,
		}

		_, err := sim.Submit(context.Background(), req)
		require.Error(t, err)
		assert.True(t, IsTransient(err))
		assert.Equal(t, 0, sim.SubmitCount())

		_, err = sim.Submit(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, 1, sim.SubmitCount())
	})

	t.Run("Invalid request rejected before acknowledgement", func(t *testing.T) {
		sim := NewSimulator()

		_, err := sim.Submit(context.Background(), &OrderRequest{
			ClientOrderID: "ord-5",
			Symbol:        "BTCUSDT",
			Side:          OrderSideBuy,
			Type:          OrderTypeMarket,
			Quantity:      -1,
		})
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	})
}

func TestSimulatorLifecycle(t *testing.T) {
	sim := NewSimulator()
	assert.True(t, sim.IsConnected())

	require.NoError(t, sim.Close())
	assert.False(t, sim.IsConnected())

	_, err := sim.Quote(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, sim.Initialize(context.Background(), &Credentials{}))
	assert.True(t, sim.IsConnected())
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(ErrNetworkError))
	assert.True(t, IsTransient(ErrRateLimitExceeded))
	assert.True(t, IsTransient(NewBrokerError("binance", "SERVER_ERROR", "502", nil)))
	assert.False(t, IsTransient(NewBrokerError("binance", "INSUFFICIENT_MARGIN", "margin", nil)))
	assert.False(t, IsTransient(ErrInvalidQuantity))
}

func TestCancelAfterAcknowledgement(t *testing.T) {
	sim := NewSimulator()
	err := sim.Cancel(context.Background(), "BTCUSDT", "sim-1")
	assert.ErrorIs(t, err, ErrOrderAcknowledged)
}
