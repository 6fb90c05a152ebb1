package broker

import (
	"time"
)

// OrderSide represents the side of an order
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the type of an order
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// FillStatus is the terminal state reported by the fill/rejection callback.
type FillStatus string

const (
	FillStatusFilled   FillStatus = "FILLED"
	FillStatusRejected FillStatus = "REJECTED"
)

// Credentials represents the API credentials for the broker
type Credentials struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
}

// OrderRequest represents a request to place an order
type OrderRequest struct {
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	Side          OrderSide `json:"side"`
	Type          OrderType `json:"type"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price,omitempty"` // Required for limit orders
	ReduceOnly    bool      `json:"reduce_only,omitempty"`
}

// OrderAck acknowledges that the broker accepted an order for matching.
// Everything after acknowledgement arrives through the fill callback;
// cancellation is only possible before the ack.
type OrderAck struct {
	OrderID       string    `json:"order_id"`
	ClientOrderID string    `json:"client_order_id"`
	Status        string    `json:"status"`
	AcceptedAt    time.Time `json:"accepted_at"`
}

// Fill is the asynchronous fill or business-rejection report for an order.
type Fill struct {
	OrderID       string     `json:"order_id"`
	ClientOrderID string     `json:"client_order_id"`
	Symbol        string     `json:"symbol"`
	Status        FillStatus `json:"status"`
	FilledQty     float64    `json:"filled_qty"`
	AvgPrice      float64    `json:"avg_price"`
	Reason        string     `json:"reason,omitempty"` // rejection reason
	Timestamp     time.Time  `json:"timestamp"`
}

// Quote is the best bid/ask captured at submission time.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Timestamp time.Time `json:"timestamp"`
}

// AccountSnapshot is the account state recorded alongside each trade.
type AccountSnapshot struct {
	Equity      float64   `json:"equity"`
	BuyingPower float64   `json:"buying_power"`
	UpdatedAt   time.Time `json:"updated_at"`
}
