package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sugawarayuuta/sonnet"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

// TarbitStream is the durable stream every tarbit event is appended to.
const TarbitStream = "tarbits"

// Publisher implements domain.EventPublisher. Each event is published on
// the "tarbit.<type>" channel, appended to TarbitStream and offered to the
// Notifier. Either sink may be nil. Failures are logged, never returned.
type Publisher struct {
	bus      domain.EventBus
	notifier *Notifier
	logger   *slog.Logger
}

var _ domain.EventPublisher = (*Publisher)(nil)

// NewPublisher creates a Publisher.
func NewPublisher(bus domain.EventBus, notifier *Notifier, logger *slog.Logger) *Publisher {
	return &Publisher{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "event_publisher")),
	}
}

// PublishTarbit fans evt out to the configured sinks.
func (p *Publisher) PublishTarbit(ctx context.Context, evt domain.TarbitEvent) {
	if p.bus != nil {
		payload, err := sonnet.Marshal(evt)
		if err != nil {
			p.logger.ErrorContext(ctx, "marshal event", slog.String("error", err.Error()))
			return
		}
		if err := p.bus.Publish(ctx, "tarbit."+evt.Type, payload); err != nil {
			p.logger.WarnContext(ctx, "publish event",
				slog.String("type", evt.Type),
				slog.String("error", err.Error()),
			)
		}
		if err := p.bus.StreamAppend(ctx, TarbitStream, payload); err != nil {
			p.logger.WarnContext(ctx, "append event",
				slog.String("type", evt.Type),
				slog.String("error", err.Error()),
			)
		}
	}

	if p.notifier != nil {
		title, msg := describe(evt)
		// Sender failures are already logged by the notifier.
		_ = p.notifier.Notify(ctx, evt.Type, title, msg)
	}
}

func describe(evt domain.TarbitEvent) (string, string) {
	route := fmt.Sprintf("%s -> %s -> %s", evt.Pairs[0], evt.Pairs[1], evt.Pairs[2])
	var title string
	switch evt.Type {
	case domain.EventTarbitFound:
		title = "Tarbit found"
	case domain.EventTarbitCompleted:
		title = "Tarbit completed"
	case domain.EventTarbitFailed:
		title = "Tarbit failed"
	case domain.EventFillTimeout:
		title = "Fill timeout"
	case domain.EventBookResync:
		title = "Book resync"
	case domain.EventStreamDown:
		title = "Stream down"
	default:
		title = evt.Type
	}

	msg := fmt.Sprintf("#%d on %s\n%s\nest. net %.6f\nstatus %s", evt.ArbitID, evt.ExchangeID, route, evt.EstNet, evt.Status)
	if evt.ParentID != 0 {
		msg += fmt.Sprintf("\nparent #%d", evt.ParentID)
	}
	if evt.Reason != "" {
		msg += "\n" + evt.Reason
	}
	return title, msg
}
