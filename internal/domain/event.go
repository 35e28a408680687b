package domain

import (
	"context"
	"time"
)

// Event types published on the event bus and used as notification filters.
const (
	EventTarbitFound     = "tarbit_found"
	EventTarbitCompleted = "tarbit_completed"
	EventTarbitFailed    = "tarbit_failed"
	EventFillTimeout     = "fill_timeout"
	EventBookResync      = "book_resync"
	EventStreamDown      = "stream_down"
)

// TarbitEvent describes a change in a triangle arbitrage's lifecycle.
type TarbitEvent struct {
	Type       string      `json:"type"`
	ArbitID    int64       `json:"arbit_id"`
	ParentID   int64       `json:"parent_id,omitempty"`
	ExchangeID ExchangeID  `json:"exchange_id"`
	Pairs      [3]string   `json:"pairs"`
	EstNet     float64     `json:"est_net"`
	Status     ArbitStatus `json:"status"`
	Reason     string      `json:"reason,omitempty"`
	Time       time.Time   `json:"time"`
}

// EventPublisher fans tarbit lifecycle events out to the event bus and
// operator notifications. Delivery is best effort.
type EventPublisher interface {
	PublishTarbit(ctx context.Context, evt TarbitEvent)
}

// EngineStatus is a summary of the running process, served by the status API.
type EngineStatus struct {
	Mode          string
	UptimeSeconds int64
	Streams       map[string]bool // exchange name -> connected
	PrimedBooks   map[string]int  // exchange name -> primed book count
}

// NewTarbitEvent builds an event of typ for a.
func NewTarbitEvent(typ string, a TriangleArbit, reason string) TarbitEvent {
	return TarbitEvent{
		Type:       typ,
		ArbitID:    a.ID,
		ParentID:   a.ParentID,
		ExchangeID: a.ExchangeID,
		Pairs:      a.Pairs(),
		EstNet:     a.EstNet,
		Status:     a.Status,
		Reason:     reason,
		Time:       time.Now().UTC(),
	}
}
