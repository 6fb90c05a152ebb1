package binance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantara/signal-engine/broker"
)

func TestNewClient(t *testing.T) {
	client := NewClient(true, 10, 5)
	assert.NotNil(t, client)
	assert.Equal(t, "binance", client.Name())
	assert.False(t, client.IsConnected())
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(false, 0, 0)
	assert.NotNil(t, client.limiter)
	assert.Greater(t, float64(client.limiter.Limit()), 0.0)
	assert.Greater(t, client.limiter.Burst(), 0)
}

func TestClientInitialize(t *testing.T) {
	t.Run("Nil credentials", func(t *testing.T) {
		client := NewClient(true, 10, 5)
		err := client.Initialize(context.Background(), nil)
		assert.ErrorIs(t, err, broker.ErrInvalidCredentials)
	})

	t.Run("Missing keys", func(t *testing.T) {
		client := NewClient(true, 10, 5)
		err := client.Initialize(context.Background(), &broker.Credentials{APIKey: "only-key"})
		assert.ErrorIs(t, err, broker.ErrInvalidCredentials)
		assert.False(t, client.IsConnected())
	})
}

func TestSubmitRequiresConnection(t *testing.T) {
	client := NewClient(true, 10, 5)
	_, err := client.Submit(context.Background(), &broker.OrderRequest{
		ClientOrderID: "ord-1",
		Symbol:        "BTCUSDT",
		Side:          broker.OrderSideBuy,
		Type:          broker.OrderTypeMarket,
		Quantity:      0.01,
	})
	assert.ErrorIs(t, err, broker.ErrNotConnected)
}

func TestQuoteRequiresConnection(t *testing.T) {
	client := NewClient(true, 10, 5)
	_, err := client.Quote(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, broker.ErrNotConnected)
}
