// Package notify delivers operator alerts to Telegram and Discord. Events can
// be filtered so operators receive only the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Alert event types.
const (
	EventReconciliation    = "reconciliation_required"
	EventSettlementDelayed = "settlement_delayed"
	EventFeedFallback      = "feed_fallback"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	// Name identifies the sender in logs, e.g. "telegram".
	Name() string
}

// Notifier fans alerts out to its senders. An empty event list allows every
// event. With a cooldown, an alert identical to one sent within the cooldown
// is dropped.
type Notifier struct {
	senders  []Sender
	events   map[string]bool
	cooldown time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time // event + message -> last delivery
}

// Option customises a Notifier.
type Option func(*Notifier)

// WithCooldown suppresses repeats of the same event and message for d.
func WithCooldown(d time.Duration) Option {
	return func(n *Notifier) { n.cooldown = d }
}

// NewNotifier creates a Notifier for senders, forwarding only the listed events.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger, opts ...Option) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	n := &Notifier{
		senders:  senders,
		events:   allowed,
		logger:   logger.With(slog.String("component", "notifier")),
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Enabled reports whether at least one sender is registered.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Notify delivers an alert to every sender. A failing sender does not stop
// delivery to the rest; their errors are combined.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	if !n.admit(event, message) {
		n.logger.DebugContext(ctx, "alert suppressed by cooldown", slog.String("event", event))
		return nil
	}

	var failed []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			failed = append(failed, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", event),
		)
	}
	if len(failed) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(failed), strings.Join(failed, "; "))
	}
	return nil
}

// admit records the alert and reports whether it is outside the cooldown.
func (n *Notifier) admit(event, message string) bool {
	if n.cooldown <= 0 {
		return true
	}
	now := n.now()
	key := event + "\x00" + message

	n.mu.Lock()
	defer n.mu.Unlock()
	if last, ok := n.lastSent[key]; ok && now.Sub(last) < n.cooldown {
		return false
	}
	for k, t := range n.lastSent {
		if now.Sub(t) >= n.cooldown {
			delete(n.lastSent, k)
		}
	}
	n.lastSent[key] = now
	return true
}
