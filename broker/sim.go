package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Simulator is a deterministic in-process execution client used by tests and
// dry runs. Orders are acknowledged immediately and filled at a configurable
// price through the same asynchronous fill callback the live client uses.
type Simulator struct {
	mu        sync.Mutex
	handler   FillHandler
	connected bool

	quote   Quote
	account AccountSnapshot

	fillPrice float64 // 0 means fill at the quote mid
	fillDelay time.Duration

	transientFailures int
	rejectReason      string // next order is business-rejected via the callback

	seq      int
	requests []OrderRequest
}

// NewSimulator creates a simulator with a sane default book.
func NewSimulator() *Simulator {
	return &Simulator{
		connected: true,
		quote:     Quote{Symbol: "BTCUSDT", Bid: 100.0, Ask: 100.2, Timestamp: time.Now()},
		account:   AccountSnapshot{Equity: 10000, BuyingPower: 10000, UpdatedAt: time.Now()},
	}
}

func (s *Simulator) Name() string { return "sim" }

func (s *Simulator) Initialize(ctx context.Context, credentials *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

// SetQuote overrides the book for subsequent quotes and mid-price fills.
func (s *Simulator) SetQuote(symbol string, bid, ask float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quote = Quote{Symbol: symbol, Bid: bid, Ask: ask, Timestamp: time.Now()}
}

// SetFillPrice pins the fill price for subsequent orders.
func (s *Simulator) SetFillPrice(price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fillPrice = price
}

// SetFillDelay delays fill delivery, for exercising slow-broker paths.
func (s *Simulator) SetFillDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fillDelay = d
}

// SetAccount overrides the account snapshot.
func (s *Simulator) SetAccount(equity, buyingPower float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = AccountSnapshot{Equity: equity, BuyingPower: buyingPower, UpdatedAt: time.Now()}
}

// FailNextSubmits makes the next n submissions fail with a transient
// network error before acknowledgement.
func (s *Simulator) FailNextSubmits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transientFailures = n
}

// RejectNextFill business-rejects the next acknowledged order through the
// fill callback with the given reason.
func (s *Simulator) RejectNextFill(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectReason = reason
}

// SubmitCount reports how many orders reached the simulator.
func (s *Simulator) SubmitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Requests returns a copy of every order request received.
func (s *Simulator) Requests() []OrderRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OrderRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Simulator) Quote(ctx context.Context, symbol string) (*Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, ErrNotConnected
	}
	q := s.quote
	q.Symbol = NormalizeSymbol(symbol)
	q.Timestamp = time.Now()
	return &q, nil
}

func (s *Simulator) Account(ctx context.Context) (*AccountSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, ErrNotConnected
	}
	a := s.account
	return &a, nil
}

func (s *Simulator) Submit(ctx context.Context, req *OrderRequest) (*OrderAck, error) {
	if err := ValidateOrderRequest(req); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	if s.transientFailures > 0 {
		s.transientFailures--
		s.mu.Unlock()
		return nil, NewBrokerError("sim", "NETWORK_ERROR", "simulated transport failure", ErrNetworkError)
	}

	s.seq++
	s.requests = append(s.requests, *req)
	orderID := fmt.Sprintf("sim-%d", s.seq)

	price := s.fillPrice
	if price == 0 {
		price = (s.quote.Bid + s.quote.Ask) / 2
	}
	reject := s.rejectReason
	s.rejectReason = ""
	handler := s.handler
	delay := s.fillDelay
	s.mu.Unlock()

	ack := &OrderAck{
		OrderID:       orderID,
		ClientOrderID: req.ClientOrderID,
		Status:        "NEW",
		AcceptedAt:    time.Now(),
	}

	fill := Fill{
		OrderID:       orderID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Status:        FillStatusFilled,
		FilledQty:     req.Quantity,
		AvgPrice:      price,
		Timestamp:     time.Now(),
	}
	if reject != "" {
		fill.Status = FillStatusRejected
		fill.FilledQty = 0
		fill.AvgPrice = 0
		fill.Reason = reject
	}

	if handler != nil {
		go func() {
			if delay > 0 {
				time.Sleep(delay)
			}
			handler(fill)
		}()
	}

	return ack, nil
}

func (s *Simulator) Cancel(ctx context.Context, symbol string, orderID string) error {
	// Simulated orders settle immediately after acknowledgement.
	return ErrOrderAcknowledged
}

func (s *Simulator) SetFillHandler(handler FillHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

func (s *Simulator) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}
