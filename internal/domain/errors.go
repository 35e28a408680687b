package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidOrder          = errors.New("invalid order parameters")
	ErrInvalidState          = errors.New("invalid state transition")
	ErrWSDisconnect          = errors.New("websocket disconnected")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrSequenceGap           = errors.New("orderbook sequence gap")
	ErrQueueOverflow         = errors.New("orderbook diff queue overflow")
	ErrBookNotReady          = errors.New("orderbook not primed")
	ErrExchangeLocked        = errors.New("exchange already locked")
	ErrOrderLocked           = errors.New("order already locked")
	ErrLockHeld              = errors.New("lock already held")
	ErrPriceDeviation        = errors.New("price deviates from market")
	ErrNotFilled             = errors.New("order not filled")
	ErrFillTimeout           = errors.New("order fill wait timed out")
	ErrBelowThreshold        = errors.New("estimate below minimum net")
	ErrNoConversion          = errors.New("no stable conversion rate")
	ErrAdapterNotFound       = errors.New("exchange adapter not registered")
)
