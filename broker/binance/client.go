package binance

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"

	"github.com/quantara/signal-engine/broker"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultPollTimeout  = 2 * time.Minute
)

// Client is the Binance USDT-M futures execution client. Submissions return
// with the exchange acknowledgement; fills are detected by polling the order
// until it reaches a terminal status and are delivered through the registered
// fill handler.
type Client struct {
	name        string
	client      *futures.Client
	limiter     *rate.Limiter
	credentials *broker.Credentials
	testnet     bool

	pollInterval time.Duration
	pollTimeout  time.Duration

	mu        sync.RWMutex
	handler   broker.FillHandler
	connected bool
}

// NewClient creates a new Binance futures client. rps/burst bound the
// outbound request rate across all calls sharing this client.
func NewClient(testnet bool, rps float64, burst int) *Client {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 5
	}
	return &Client{
		name:         "binance",
		testnet:      testnet,
		limiter:      rate.NewLimiter(rate.Limit(rps), burst),
		pollInterval: defaultPollInterval,
		pollTimeout:  defaultPollTimeout,
	}
}

// Name returns the broker name
func (c *Client) Name() string {
	return c.name
}

// Initialize sets up the client with credentials
func (c *Client) Initialize(ctx context.Context, credentials *broker.Credentials) error {
	if credentials == nil {
		return broker.ErrInvalidCredentials
	}
	if credentials.APIKey == "" || credentials.SecretKey == "" {
		return broker.NewBrokerError(c.name, "INVALID_CREDENTIALS", "API key and secret key are required", broker.ErrInvalidCredentials)
	}

	c.credentials = credentials
	binance.UseTestnet = c.testnet
	c.client = binance.NewFuturesClient(credentials.APIKey, credentials.SecretKey)

	if err := c.testConnection(ctx); err != nil {
		return fmt.Errorf("failed to initialize Binance client: %w", err)
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *Client) testConnection(ctx context.Context) error {
	if c.client == nil {
		return broker.ErrNotConnected
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := c.client.NewServerTimeService().Do(ctx); err != nil {
		return broker.NewBrokerError(c.name, "CONNECTION_FAILED", "Failed to connect to Binance", err)
	}
	return nil
}

// Quote returns the best bid/ask from the futures book ticker.
func (c *Client) Quote(ctx context.Context, symbol string) (*broker.Quote, error) {
	if !c.IsConnected() {
		return nil, broker.ErrNotConnected
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	tickers, err := c.client.NewListBookTickersService().Symbol(broker.NormalizeSymbol(symbol)).Do(ctx)
	if err != nil {
		return nil, broker.NewBrokerError(c.name, "QUOTE_FAILED", "Failed to get book ticker", err)
	}
	if len(tickers) == 0 {
		return nil, broker.ErrInvalidSymbol
	}

	t := tickers[0]
	return &broker.Quote{
		Symbol:    t.Symbol,
		Bid:       parseFloatOrZero(t.BidPrice),
		Ask:       parseFloatOrZero(t.AskPrice),
		Timestamp: time.Now(),
	}, nil
}

// Account returns equity and available balance from the futures account.
func (c *Client) Account(ctx context.Context) (*broker.AccountSnapshot, error) {
	if !c.IsConnected() {
		return nil, broker.ErrNotConnected
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	account, err := c.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, broker.NewBrokerError(c.name, "ACCOUNT_INFO_FAILED", "Failed to get account info", err)
	}

	return &broker.AccountSnapshot{
		Equity:      parseFloatOrZero(account.TotalMarginBalance),
		BuyingPower: parseFloatOrZero(account.AvailableBalance),
		UpdatedAt:   time.Now(),
	}, nil
}

// Submit places a market or limit order and starts polling for its fill.
func (c *Client) Submit(ctx context.Context, req *broker.OrderRequest) (*broker.OrderAck, error) {
	if !c.IsConnected() {
		return nil, broker.ErrNotConnected
	}
	if err := broker.ValidateOrderRequest(req); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	service := c.client.NewCreateOrderService().
		Symbol(broker.NormalizeSymbol(req.Symbol)).
		Side(convertToBinanceSide(req.Side)).
		Type(convertToBinanceOrderType(req.Type)).
		Quantity(broker.FormatQuantity(req.Quantity, 8))

	if req.ClientOrderID != "" {
		service = service.NewClientOrderID(req.ClientOrderID)
	}
	if req.Type == broker.OrderTypeLimit {
		service = service.
			Price(broker.FormatPrice(req.Price, 8)).
			TimeInForce(futures.TimeInForceTypeGTC)
	}
	if req.ReduceOnly {
		service = service.ReduceOnly(req.ReduceOnly)
	}

	order, err := service.Do(ctx)
	if err != nil {
		return nil, broker.NewBrokerError(c.name, "ORDER_FAILED", "Failed to place order", err)
	}

	ack := &broker.OrderAck{
		OrderID:       strconv.FormatInt(order.OrderID, 10),
		ClientOrderID: order.ClientOrderID,
		Status:        string(order.Status),
		AcceptedAt:    time.Now(),
	}

	go c.pollFill(broker.NormalizeSymbol(req.Symbol), order.OrderID, order.ClientOrderID)

	return ack, nil
}

// pollFill polls an acknowledged order until it reaches a terminal status and
// reports the result through the fill handler.
func (c *Client) pollFill(symbol string, orderID int64, clientOrderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.pollTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.deliver(broker.Fill{
				OrderID:       strconv.FormatInt(orderID, 10),
				ClientOrderID: clientOrderID,
				Symbol:        symbol,
				Status:        broker.FillStatusRejected,
				Reason:        "fill polling timed out",
				Timestamp:     time.Now(),
			})
			return
		case <-ticker.C:
			if err := c.limiter.Wait(ctx); err != nil {
				continue
			}
			order, err := c.client.NewGetOrderService().
				Symbol(symbol).
				OrderID(orderID).
				Do(ctx)
			if err != nil {
				continue // transient lookup failures retry on the next tick
			}

			switch order.Status {
			case futures.OrderStatusTypeFilled:
				c.deliver(broker.Fill{
					OrderID:       strconv.FormatInt(order.OrderID, 10),
					ClientOrderID: order.ClientOrderID,
					Symbol:        symbol,
					Status:        broker.FillStatusFilled,
					FilledQty:     parseFloatOrZero(order.ExecutedQuantity),
					AvgPrice:      parseFloatOrZero(order.AvgPrice),
					Timestamp:     time.Unix(order.UpdateTime/1000, 0),
				})
				return
			case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeRejected, futures.OrderStatusTypeExpired:
				c.deliver(broker.Fill{
					OrderID:       strconv.FormatInt(order.OrderID, 10),
					ClientOrderID: order.ClientOrderID,
					Symbol:        symbol,
					Status:        broker.FillStatusRejected,
					Reason:        fmt.Sprintf("order %s", order.Status),
					Timestamp:     time.Unix(order.UpdateTime/1000, 0),
				})
				return
			}
		}
	}
}

func (c *Client) deliver(fill broker.Fill) {
	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler != nil {
		handler(fill)
	}
}

// Cancel cancels an order that has not filled yet.
func (c *Client) Cancel(ctx context.Context, symbol string, orderID string) error {
	if !c.IsConnected() {
		return broker.ErrNotConnected
	}

	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return broker.NewBrokerError(c.name, "INVALID_ORDER_ID", "Invalid order ID", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err = c.client.NewCancelOrderService().
		Symbol(broker.NormalizeSymbol(symbol)).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return broker.NewBrokerError(c.name, "CANCEL_FAILED", "Failed to cancel order", err)
	}

	return nil
}

// SetFillHandler registers the asynchronous fill/rejection callback.
func (c *Client) SetFillHandler(handler broker.FillHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Close closes the client connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.client = nil
	return nil
}

// Helper functions

func parseFloatOrZero(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func convertToBinanceSide(side broker.OrderSide) futures.SideType {
	if side == broker.OrderSideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func convertToBinanceOrderType(orderType broker.OrderType) futures.OrderType {
	if orderType == broker.OrderTypeLimit {
		return futures.OrderTypeLimit
	}
	return futures.OrderTypeMarket
}
