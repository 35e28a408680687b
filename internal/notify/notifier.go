// Package notify delivers tarbit lifecycle events to the event bus and to
// operator chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Sender is one operator chat channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithCooldown suppresses an alert identical to one delivered less than d
// ago. Zero disables suppression.
func WithCooldown(d time.Duration) Option {
	return func(n *Notifier) { n.cooldown = d }
}

// withClock replaces time.Now in tests.
func withClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

// Notifier routes alerts to every Sender. Alerts are dropped when their
// event type is not subscribed or an identical alert is still cooling down.
type Notifier struct {
	senders  []Sender
	subs     map[string]struct{}
	cooldown time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu   sync.Mutex
	seen map[uint64]time.Time
}

// NewNotifier subscribes to the given event types. An empty list subscribes
// to everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		senders: senders,
		subs:    make(map[string]struct{}, len(events)),
		now:     time.Now,
		seen:    make(map[uint64]time.Time),
		logger:  logger.With(slog.String("component", "notifier")),
	}
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			n.subs[e] = struct{}{}
		}
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify delivers a subscribed event. Sender failures are joined into the
// returned error; every sender is still tried.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.subscribed(event) {
		n.logger.DebugContext(ctx, "alert not subscribed", slog.String("event", event))
		return nil
	}
	if n.coolingDown(event, title, message) {
		n.logger.DebugContext(ctx, "alert suppressed",
			slog.String("event", event),
			slog.Duration("cooldown", n.cooldown),
		)
		return nil
	}
	return n.broadcast(ctx, title, message)
}

// NotifyAll delivers an operator message that bypasses subscriptions and
// cooldown.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.broadcast(ctx, title, message)
}

func (n *Notifier) subscribed(event string) bool {
	if len(n.subs) == 0 {
		return true
	}
	_, ok := n.subs[event]
	return ok
}

// coolingDown records the alert and reports whether an identical one was
// delivered within the cooldown.
func (n *Notifier) coolingDown(event, title, message string) bool {
	if n.cooldown <= 0 {
		return false
	}
	h := fnv.New64a()
	for _, part := range []string{event, title, message} {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	key := h.Sum64()
	now := n.now()

	n.mu.Lock()
	defer n.mu.Unlock()
	if last, ok := n.seen[key]; ok && now.Sub(last) < n.cooldown {
		return true
	}
	n.seen[key] = now
	for k, t := range n.seen {
		if now.Sub(t) >= n.cooldown {
			delete(n.seen, k)
		}
	}
	return false
}

func (n *Notifier) broadcast(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		err := s.Send(ctx, title, message)
		if err == nil {
			continue
		}
		n.logger.ErrorContext(ctx, "alert delivery failed",
			slog.String("sender", s.Name()),
			slog.String("title", title),
			slog.String("error", err.Error()),
		)
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}
