package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order represents a simulated order (a "trade" request) against a portfolio.
type Order struct {
	ID          string          // Unique identifier (uuid)
	PortfolioID string          // Portfolio the order books against
	ParentID    string          // Original order when this one carries a resubmitted remainder
	Symbol      string          // Instrument symbol (e.g., "AAPL")
	Side        OrderSide       // BUY or SELL
	Type        OrderType       // MARKET, LIMIT, STOP, STOP_LIMIT
	Quantity    decimal.Decimal // Requested quantity, always positive
	LimitPrice  *decimal.Decimal
	StopPrice   *decimal.Decimal
	Currency    string // Native currency of the instrument (e.g., "USD")

	Status            OrderStatus
	ExecutedPrice     decimal.Decimal
	ExecutedQuantity  decimal.Decimal
	RemainingQuantity decimal.Decimal
	TotalValue        decimal.Decimal
	Commission        decimal.Decimal
	RealizedPnL       *decimal.Decimal // Set only on sells that close (part of) a position
	Message           string

	SubmittedAt time.Time
	ExecutedAt  *time.Time
}

// NewOrder creates a PENDING order with a fresh ID.
func NewOrder(portfolioID, symbol string, side OrderSide, typ OrderType, qty decimal.Decimal, currency string, now time.Time) *Order {
	return &Order{
		ID:          uuid.NewString(),
		PortfolioID: portfolioID,
		Symbol:      symbol,
		Side:        side,
		Type:        typ,
		Quantity:    qty,
		Currency:    currency,
		Status:      StatusPending,
		SubmittedAt: now,
	}
}

// WithLimit sets the limit price and returns the order for chaining.
func (o *Order) WithLimit(price decimal.Decimal) *Order {
	o.LimitPrice = &price
	return o
}

// WithStop sets the stop price and returns the order for chaining.
func (o *Order) WithStop(price decimal.Decimal) *Order {
	o.StopPrice = &price
	return o
}

// Validate checks the static shape of the order.
func (o *Order) Validate() error {
	if o.PortfolioID == "" {
		return fmt.Errorf("%w: portfolio id is required", ErrInvalidOrder)
	}
	if o.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	}
	if o.Side != Buy && o.Side != Sell {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, o.Side)
	}
	if !o.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive, got %s", ErrInvalidOrder, o.Quantity)
	}
	needLimit := o.Type == OrderTypeLimit || o.Type == OrderTypeStopLimit
	needStop := o.Type == OrderTypeStop || o.Type == OrderTypeStopLimit
	switch o.Type {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit:
	default:
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, o.Type)
	}
	if needLimit && (o.LimitPrice == nil || !o.LimitPrice.IsPositive()) {
		return fmt.Errorf("%w: %s order requires a positive limit price", ErrInvalidOrder, o.Type)
	}
	if needStop && (o.StopPrice == nil || !o.StopPrice.IsPositive()) {
		return fmt.Errorf("%w: %s order requires a positive stop price", ErrInvalidOrder, o.Type)
	}
	return nil
}

// Transition moves the order to next. Terminal states are immutable.
func (o *Order) Transition(next OrderStatus) error {
	if o.Status.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrTerminalOrder, o.Status, next)
	}
	o.Status = next
	return nil
}

// Fail marks the order FAILED with a diagnostic message.
func (o *Order) Fail(msg string) error {
	if err := o.Transition(StatusFailed); err != nil {
		return err
	}
	o.Message = msg
	return nil
}

// Cancel moves a PENDING order to CANCELLED.
func (o *Order) Cancel() error {
	if o.Status != StatusPending {
		return fmt.Errorf("%w: cannot cancel order in status %s", ErrOrderNotPending, o.Status)
	}
	return o.Transition(StatusCancelled)
}

// IsPending checks if the order is still waiting for execution.
func (o *Order) IsPending() bool {
	return o.Status == StatusPending
}

// Remainder builds a new PENDING order for the unfilled part of a PARTIAL order.
func (o *Order) Remainder(now time.Time) (*Order, error) {
	if o.Status != StatusPartial {
		return nil, fmt.Errorf("%w: only PARTIAL orders have a remainder, got %s", ErrInvalidOrder, o.Status)
	}
	if !o.RemainingQuantity.IsPositive() {
		return nil, fmt.Errorf("%w: no remaining quantity", ErrInvalidOrder)
	}
	child := NewOrder(o.PortfolioID, o.Symbol, o.Side, o.Type, o.RemainingQuantity, o.Currency, now)
	child.ParentID = o.ID
	child.LimitPrice = o.LimitPrice
	child.StopPrice = o.StopPrice
	return child, nil
}
