package domain

import (
	"sort"
	"time"
)

// Side is the side of the book a level rests on.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// Level is a single price+size entry in an orderbook.
type Level struct {
	Price float64
	Size  float64
}

// Funds returns the quote value resting at this level.
func (l Level) Funds() float64 {
	return l.Price * l.Size
}

// Orderbook is a consistent, sorted copy of a book. Asks ascend, bids descend.
type Orderbook struct {
	ExchangeID ExchangeID
	Pair       string
	ProductID  int64
	Sequence   int64
	Timestamp  int64
	Primed     bool
	Asks       []Level
	Bids       []Level
	FetchedAt  time.Time
}

// SortLevels orders asks ascending and bids descending by price.
func (b *Orderbook) SortLevels() {
	sort.Slice(b.Asks, func(i, j int) bool { return b.Asks[i].Price < b.Asks[j].Price })
	sort.Slice(b.Bids, func(i, j int) bool { return b.Bids[i].Price > b.Bids[j].Price })
}

// BestAsk returns the lowest ask or a zero level.
func (b Orderbook) BestAsk() Level {
	if len(b.Asks) == 0 {
		return Level{}
	}
	return b.Asks[0]
}

// BestBid returns the highest bid or a zero level.
func (b Orderbook) BestBid() Level {
	if len(b.Bids) == 0 {
		return Level{}
	}
	return b.Bids[0]
}

// Spread is best ask minus best bid, 0 if either side is empty.
func (b Orderbook) Spread() float64 {
	if len(b.Asks) == 0 || len(b.Bids) == 0 {
		return 0
	}
	return b.Asks[0].Price - b.Bids[0].Price
}

// MidPrice is best bid plus half the spread, 0 if either side is empty.
func (b Orderbook) MidPrice() float64 {
	if len(b.Asks) == 0 || len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price + b.Spread()/2
}

// LevelUpdate is one diff from an exchange stream. A zero Size removes the
// level; a zero Price only advances the sequence.
type LevelUpdate struct {
	Pair          string
	Sequence      int64
	FirstSequence int64 // first update id of the batch, for range-sequenced streams
	Side          Side
	Price         float64
	Size          float64
}

// BookState is the part of a live book a SequencePolicy inspects.
type BookState struct {
	Sequence  int64
	Timestamp int64
}

// SequencePolicy decides how a diff relates to the current book. Stale diffs
// are dropped, Next diffs are applied, anything else is a gap.
type SequencePolicy interface {
	Stale(u LevelUpdate, b BookState) bool
	Next(u LevelUpdate, b BookState) bool
}

// BookSink receives normalized stream events from an exchange adapter.
type BookSink interface {
	Snapshot(book Orderbook)
	Update(u LevelUpdate)
	Heartbeat()
}
