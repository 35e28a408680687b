package orderbook

import "github.com/alanyoungcy/tarbot/internal/domain"

// StrictPolicy expects every diff to carry exactly the next sequence number.
type StrictPolicy struct{}

func (StrictPolicy) Stale(u domain.LevelUpdate, b domain.BookState) bool {
	return u.Sequence <= b.Sequence
}

func (StrictPolicy) Next(u domain.LevelUpdate, b domain.BookState) bool {
	return u.Sequence == b.Sequence+1
}

// RepeatPolicy is for streams that send several diffs under one sequence
// number per tick, so a repeat of the current sequence is still in order.
type RepeatPolicy struct{}

func (RepeatPolicy) Stale(u domain.LevelUpdate, b domain.BookState) bool {
	return u.Sequence < b.Sequence
}

func (RepeatPolicy) Next(u domain.LevelUpdate, b domain.BookState) bool {
	return u.Sequence == b.Sequence || u.Sequence == b.Sequence+1
}

// TimestampPolicy is for streams without a sequence: diffs carry their
// message time in Sequence. A diff must be newer than the snapshot and not
// older than the last applied diff; levels of one message share its time.
type TimestampPolicy struct{}

func (TimestampPolicy) Stale(u domain.LevelUpdate, b domain.BookState) bool {
	return u.Sequence <= b.Timestamp || u.Sequence < b.Sequence
}

func (TimestampPolicy) Next(u domain.LevelUpdate, b domain.BookState) bool {
	return u.Sequence > b.Timestamp && u.Sequence >= b.Sequence
}

// RangePolicy is for streams whose events cover a range of update ids
// [FirstSequence, Sequence]. An event continues the book when its range
// contains the next id; levels of the event being applied share its last id.
type RangePolicy struct{}

func (RangePolicy) Stale(u domain.LevelUpdate, b domain.BookState) bool {
	return u.Sequence < b.Sequence
}

func (RangePolicy) Next(u domain.LevelUpdate, b domain.BookState) bool {
	if u.Sequence == b.Sequence {
		return true
	}
	return u.FirstSequence <= b.Sequence+1 && u.Sequence >= b.Sequence+1
}

var (
	_ domain.SequencePolicy = StrictPolicy{}
	_ domain.SequencePolicy = RepeatPolicy{}
	_ domain.SequencePolicy = TimestampPolicy{}
	_ domain.SequencePolicy = RangePolicy{}
)
