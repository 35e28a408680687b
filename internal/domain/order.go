package domain

import "time"

// OrderType is the kind of order placed at the exchange.
type OrderType int

const (
	OrderLimitBuy   OrderType = 1
	OrderLimitSell  OrderType = 2
	OrderMarketBuy  OrderType = 3
	OrderMarketSell OrderType = 4
	OrderStopLoss   OrderType = 5
	OrderBuyStop    OrderType = 6
)

// IsBuy reports whether the order acquires the base currency.
func (t OrderType) IsBuy() bool {
	return t == OrderLimitBuy || t == OrderMarketBuy || t == OrderBuyStop
}

func (t OrderType) String() string {
	switch t {
	case OrderLimitBuy:
		return "limit_buy"
	case OrderLimitSell:
		return "limit_sell"
	case OrderMarketBuy:
		return "market_buy"
	case OrderMarketSell:
		return "market_sell"
	case OrderStopLoss:
		return "stop_loss"
	case OrderBuyStop:
		return "buy_stop"
	}
	return "unknown"
}

// OrderStatus tracks the order lifecycle.
type OrderStatus int

const (
	OrderCreated OrderStatus = 1
	OrderOpen    OrderStatus = 2
	OrderFilled  OrderStatus = 3
	OrderSettled OrderStatus = 4
	OrderFailed  OrderStatus = 6
	OrderClosed  OrderStatus = 7
	OrderUnknown OrderStatus = 8
)

// StatusClass groups order statuses for callers that only care about the
// outcome.
type StatusClass int

const (
	ClassUnknown StatusClass = iota
	ClassOpen
	ClassFilled
	ClassClosedUnfilled
)

// Class maps a status onto exactly one class. Anything outside the known
// open, filled and closed sets is ClassUnknown and is never terminal.
func (s OrderStatus) Class() StatusClass {
	switch s {
	case OrderCreated, OrderOpen:
		return ClassOpen
	case OrderFilled, OrderSettled:
		return ClassFilled
	case OrderFailed, OrderClosed:
		return ClassClosedUnfilled
	}
	return ClassUnknown
}

func (s OrderStatus) IsOpen() bool   { return s.Class() == ClassOpen }
func (s OrderStatus) IsFilled() bool { return s.Class() == ClassFilled }
func (s OrderStatus) IsClosed() bool { return s.Class() == ClassClosedUnfilled }

// OrderLock records which operation currently owns an order row.
type OrderLock int

const (
	OrderUnlocked        OrderLock = 0
	OrderLockCreateLimit OrderLock = 1
	OrderLockCreateStop  OrderLock = 2
	OrderLockCancel      OrderLock = 3
)

// Order is the local record of an order placed at an exchange.
type Order struct {
	ID         int64
	ExchangeID ExchangeID
	ExtID      string // assigned by the exchange once accepted
	UUID       string // client order id sent with the request
	ParentID   int64
	Type       OrderType
	Pair       string
	Size       float64
	Price      float64
	OpenPrice  float64
	OpenDate   *time.Time
	FillPrice  float64
	FillDate   *time.Time
	FillFee    float64
	Lock       OrderLock
	Status     OrderStatus
	Sandbox    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// EstimatedNetSize is the amount of currency a filled order leaves in the
// account. Buys pay the fee in the base currency and lose slippage to coarse
// fee precision; sells keep their size.
func (o Order) EstimatedNetSize(slippage float64) float64 {
	if o.Type == OrderLimitBuy {
		return o.Size - o.FillFee - slippage
	}
	return o.Size
}

// ExchangeOrder is the exchange's view of an order.
type ExchangeOrder struct {
	ID         string
	Pair       string
	Side       string
	Price      float64
	Size       float64
	FilledSize float64
	FillFees   float64
	Status     OrderStatus
	DoneReason string
	CreatedAt  time.Time
	DoneAt     *time.Time
}

// LimitOrderRequest describes an order the lifecycle manager should place.
// Buys are funded by Funds; sells require Size.
type LimitOrderRequest struct {
	ExchangeID ExchangeID
	Type       OrderType
	Pair       string
	Size       float64
	Funds      float64
	ParentID   int64
}
