package domain

import "errors"

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderType selects the execution path of an order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStop      OrderType = "STOP"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusExecuted  OrderStatus = "EXECUTED"
	StatusPartial   OrderStatus = "PARTIAL"
	StatusFailed    OrderStatus = "FAILED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is allowed from the status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusExecuted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// MarketCondition is a coarse regime classifier that scales spread and slippage.
type MarketCondition string

const (
	ConditionNormal       MarketCondition = "NORMAL"
	ConditionVolatile     MarketCondition = "VOLATILE"
	ConditionLowLiquidity MarketCondition = "LOW_LIQUIDITY"
	ConditionHighVolume   MarketCondition = "HIGH_VOLUME"
)

// ParseSide converts a string to an OrderSide.
func ParseSide(s string) (OrderSide, error) {
	switch OrderSide(s) {
	case Buy, Sell:
		return OrderSide(s), nil
	}
	return "", errors.New("unknown order side: " + s)
}

// ParseOrderType converts a string to an OrderType.
func ParseOrderType(s string) (OrderType, error) {
	switch OrderType(s) {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit:
		return OrderType(s), nil
	}
	return "", errors.New("unknown order type: " + s)
}

// ParseCondition converts a string to a MarketCondition. Empty means NORMAL.
func ParseCondition(s string) (MarketCondition, error) {
	if s == "" {
		return ConditionNormal, nil
	}
	switch MarketCondition(s) {
	case ConditionNormal, ConditionVolatile, ConditionLowLiquidity, ConditionHighVolume:
		return MarketCondition(s), nil
	}
	return "", errors.New("unknown market condition: " + s)
}

// Order state errors.
var (
	ErrTerminalOrder   = errors.New("order is in a terminal state")
	ErrInvalidOrder    = errors.New("invalid order")
	ErrOrderNotPending = errors.New("order is not pending")
)
