package broker

import (
	"fmt"
	"strings"
)

// NormalizeSymbol upper-cases a symbol into the broker's BTCUSDT form.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// FormatQuantity formats a quantity for API requests
func FormatQuantity(quantity float64, precision int) string {
	format := fmt.Sprintf("%%.%df", precision)
	return fmt.Sprintf(format, quantity)
}

// FormatPrice formats a price for API requests
func FormatPrice(price float64, precision int) string {
	format := fmt.Sprintf("%%.%df", precision)
	return fmt.Sprintf(format, price)
}

// ValidateOrderRequest validates an order request
func ValidateOrderRequest(req *OrderRequest) error {
	if req == nil {
		return fmt.Errorf("order request is nil")
	}

	if req.Symbol == "" {
		return ErrInvalidSymbol
	}

	if req.Side != OrderSideBuy && req.Side != OrderSideSell {
		return ErrInvalidOrderSide
	}

	if req.Type != OrderTypeMarket && req.Type != OrderTypeLimit {
		return ErrInvalidOrderType
	}

	if req.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidQuantity)
	}

	if req.Type == OrderTypeLimit && req.Price <= 0 {
		return fmt.Errorf("%w: price required for limit orders", ErrInvalidPrice)
	}

	return nil
}
