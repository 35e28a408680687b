package orderbook

import (
	"testing"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

func TestSequencePolicies(t *testing.T) {
	state := domain.BookState{Sequence: 10, Timestamp: 1000}

	tests := []struct {
		name      string
		policy    domain.SequencePolicy
		update    domain.LevelUpdate
		wantStale bool
		wantNext  bool
	}{
		{"strict older", StrictPolicy{}, domain.LevelUpdate{Sequence: 9}, true, false},
		{"strict repeat", StrictPolicy{}, domain.LevelUpdate{Sequence: 10}, true, false},
		{"strict next", StrictPolicy{}, domain.LevelUpdate{Sequence: 11}, false, true},
		{"strict gap", StrictPolicy{}, domain.LevelUpdate{Sequence: 12}, false, false},

		{"repeat older", RepeatPolicy{}, domain.LevelUpdate{Sequence: 9}, true, false},
		{"repeat same tick", RepeatPolicy{}, domain.LevelUpdate{Sequence: 10}, false, true},
		{"repeat next", RepeatPolicy{}, domain.LevelUpdate{Sequence: 11}, false, true},
		{"repeat gap", RepeatPolicy{}, domain.LevelUpdate{Sequence: 13}, false, false},

		{"timestamp older", TimestampPolicy{}, domain.LevelUpdate{Sequence: 1000}, true, false},
		{"timestamp newer", TimestampPolicy{}, domain.LevelUpdate{Sequence: 1500}, false, true},

		{"range old event", RangePolicy{}, domain.LevelUpdate{FirstSequence: 5, Sequence: 9}, true, false},
		{"range current event", RangePolicy{}, domain.LevelUpdate{FirstSequence: 8, Sequence: 10}, false, true},
		{"range straddles", RangePolicy{}, domain.LevelUpdate{FirstSequence: 9, Sequence: 14}, false, true},
		{"range contiguous", RangePolicy{}, domain.LevelUpdate{FirstSequence: 11, Sequence: 12}, false, true},
		{"range gap", RangePolicy{}, domain.LevelUpdate{FirstSequence: 12, Sequence: 15}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Stale(tt.update, state); got != tt.wantStale {
				t.Errorf("Stale = %v, want %v", got, tt.wantStale)
			}
			if got := tt.policy.Next(tt.update, state); got != tt.wantNext {
				t.Errorf("Next = %v, want %v", got, tt.wantNext)
			}
		})
	}
}

func TestTimestampPolicyTracksAppliedDiffs(t *testing.T) {
	p := TimestampPolicy{}
	b := NewBook(domain.ExchangeCoinbase, "BTC-USD")
	b.Prime(domain.Orderbook{Timestamp: 1000, Bids: []domain.Level{{Price: 100, Size: 1}}})

	first := domain.LevelUpdate{Sequence: 1500, Side: domain.SideBid, Price: 100, Size: 2}
	if !p.Next(first, b.State()) {
		t.Fatal("diff newer than the snapshot must apply")
	}
	b.apply(first)

	sameMessage := domain.LevelUpdate{Sequence: 1500, Side: domain.SideAsk, Price: 101, Size: 1}
	if p.Stale(sameMessage, b.State()) || !p.Next(sameMessage, b.State()) {
		t.Fatal("levels of the applied message must still apply")
	}
	b.apply(sameMessage)

	replayed := domain.LevelUpdate{Sequence: 1200, Side: domain.SideBid, Price: 100, Size: 5}
	if !p.Stale(replayed, b.State()) {
		t.Fatal("diff older than the last applied one must be stale")
	}
	if got := b.Snapshot().BestBid().Size; got != 2 {
		t.Fatalf("best bid size = %v, want 2", got)
	}
}
