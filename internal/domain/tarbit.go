package domain

import (
	"fmt"
	"time"
)

// QuickFill is the result of simulating an immediate order against a book.
// OK is false when the book could not absorb the requested amount.
type QuickFill struct {
	ExchangeID  ExchangeID
	Pair        string
	Type        OrderType
	Size        float64 // base currency obtained (buy) or sold (sell)
	Funds       float64 // quote currency spent (buy) or requested size (sell)
	BestPrice   float64 // price of the last level touched
	MarketPrice float64
	TakerFee    float64
	OK          bool
	Fills       []Level
}

// TriangleSet is a closed loop of three pairs on one exchange: buy leg1's
// base with its quote, buy leg2's base with leg1's base, sell leg2's base
// back into leg1's quote through leg3.
type TriangleSet struct {
	ExchangeID ExchangeID
	First      Product
	Second     Product
	Third      Product
}

// Key identifies the triangle independent of any estimate.
func (s TriangleSet) Key() string {
	return fmt.Sprintf("%d:%s:%s:%s", s.ExchangeID, s.First.Pair(), s.Second.Pair(), s.Third.Pair())
}

// QuoteCurrency is the currency the triangle starts and ends in.
func (s TriangleSet) QuoteCurrency() string {
	return s.First.QuoteCurrency
}

// TriangleEstimate chains three quick-fills around a triangle set.
type TriangleEstimate struct {
	Set           TriangleSet
	BaseSize      float64
	QuoteCurrency string
	First         QuickFill
	Second        QuickFill
	Third         QuickFill
	Net           float64
}

// ArbitStatus is the execution state of a persisted triangle arbitrage.
type ArbitStatus int

const (
	ArbitCreated   ArbitStatus = 1
	ArbitActive    ArbitStatus = 2
	ArbitCompleted ArbitStatus = 3
	ArbitFailed    ArbitStatus = 4
)

func (s ArbitStatus) String() string {
	switch s {
	case ArbitCreated:
		return "created"
	case ArbitActive:
		return "active"
	case ArbitCompleted:
		return "completed"
	case ArbitFailed:
		return "failed"
	}
	return "unknown"
}

// TriangleArbit is the persisted record of an estimate and its execution.
type TriangleArbit struct {
	ID            int64
	ExchangeID    ExchangeID
	ParentID      int64
	QuoteCurrency string
	Pair1         string
	Pair2         string
	Pair3         string
	EstNet        float64
	EstBaseSize   float64
	EstPrice1     float64
	EstSize1      float64
	EstFee1       float64
	EstPrice2     float64
	EstSize2      float64
	EstFee2       float64
	EstPrice3     float64
	EstSize3      float64
	EstFee3       float64
	OrderID1      int64
	OrderID2      int64
	OrderID3      int64
	Net           float64
	Status        ArbitStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewTriangleArbit builds a Created record from an estimate.
func NewTriangleArbit(est TriangleEstimate, parentID int64) TriangleArbit {
	return TriangleArbit{
		ExchangeID:    est.Set.ExchangeID,
		ParentID:      parentID,
		QuoteCurrency: est.QuoteCurrency,
		Pair1:         est.First.Pair,
		Pair2:         est.Second.Pair,
		Pair3:         est.Third.Pair,
		EstNet:        est.Net,
		EstBaseSize:   est.BaseSize,
		EstPrice1:     est.First.BestPrice,
		EstSize1:      est.First.Size,
		EstFee1:       est.First.TakerFee,
		EstPrice2:     est.Second.BestPrice,
		EstSize2:      est.Second.Size,
		EstFee2:       est.Second.TakerFee,
		EstPrice3:     est.Third.BestPrice,
		EstSize3:      est.Third.Size,
		EstFee3:       est.Third.TakerFee,
		Status:        ArbitCreated,
	}
}

// Pairs returns the three legs in execution order.
func (a TriangleArbit) Pairs() [3]string {
	return [3]string{a.Pair1, a.Pair2, a.Pair3}
}
