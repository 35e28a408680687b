// Package quickfill simulates an immediate order against a book snapshot to
// estimate the price it would fill at. It performs no I/O.
package quickfill

import "github.com/alanyoungcy/tarbot/internal/domain"

// fundsEpsilon absorbs float residue when a buy spends its funds exactly.
const fundsEpsilon = 1e-12

// FeeSchedule computes the taker fee for a fill. domain.ExchangeAdapter
// satisfies it.
type FeeSchedule interface {
	TakerFee(t domain.OrderType, pair string, size, price float64) float64
}

// RateFees is a flat taker rate. Buys pay the fee in the base currency
// obtained, sells in the quote currency received.
type RateFees float64

// TakerFee implements FeeSchedule.
func (r RateFees) TakerFee(t domain.OrderType, _ string, size, price float64) float64 {
	if t.IsBuy() {
		return size * float64(r)
	}
	return size * price * float64(r)
}

// Simulate walks book from the best level outward. For buys amount is the
// quote funds to spend and asks are consumed; for sells amount is the base
// size to sell and bids are consumed. The result has OK=false and a zero
// BestPrice when the book cannot absorb amount.
func Simulate(book domain.Orderbook, t domain.OrderType, amount float64, fees FeeSchedule) domain.QuickFill {
	qf := domain.QuickFill{
		ExchangeID:  book.ExchangeID,
		Pair:        book.Pair,
		Type:        t,
		MarketPrice: book.MidPrice(),
	}
	if amount <= 0 {
		return qf
	}

	if t.IsBuy() {
		qf.Funds = amount
		if !walkAsks(&qf, book.Asks, amount) {
			return qf
		}
	} else {
		qf.Size = amount
		if !walkBids(&qf, book.Bids, amount) {
			return qf
		}
		qf.Funds = qf.BestPrice * qf.Size
	}

	if fees != nil {
		qf.TakerFee = fees.TakerFee(t, book.Pair, qf.Size, qf.BestPrice)
	}
	qf.OK = true
	return qf
}

func walkAsks(qf *domain.QuickFill, asks []domain.Level, funds float64) bool {
	remaining := funds
	filled := 0.0
	for _, lvl := range asks {
		if lvl.Price <= 0 {
			continue
		}
		qf.Fills = append(qf.Fills, lvl)

		take := remaining / lvl.Price
		if lvl.Size < take {
			take = lvl.Size
		}
		filled += take
		remaining -= take * lvl.Price
		if remaining <= funds*fundsEpsilon {
			break
		}
	}

	qf.Size = filled
	if remaining > funds*fundsEpsilon || len(qf.Fills) == 0 {
		return false
	}
	qf.BestPrice = qf.Fills[len(qf.Fills)-1].Price
	return true
}

func walkBids(qf *domain.QuickFill, bids []domain.Level, size float64) bool {
	filled := 0.0
	for _, lvl := range bids {
		if lvl.Price <= 0 {
			continue
		}
		qf.Fills = append(qf.Fills, lvl)
		filled += lvl.Size
		if filled >= size {
			qf.BestPrice = lvl.Price
			return true
		}
	}
	return false
}
