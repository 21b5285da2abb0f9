// Package notify fans alert messages out to operator channels (Telegram,
// Discord). Events are filtered by type and rate limited so a noisy scan
// cycle cannot flood a chat.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oddslab/predarb/internal/domain"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a short identifier for the sender (e.g. "telegram").
	Name() string
}

// Config controls event filtering and rate limiting for a Notifier.
type Config struct {
	// Events lists the event types Notify forwards. Empty means all.
	Events []string
	// Limiter bounds per-event delivery rate. Nil disables rate limiting.
	Limiter domain.RateLimiter
	// RatePerMinute is the per-event delivery budget when Limiter is set.
	RatePerMinute int
}

// Notifier dispatches notifications to one or more Senders. Notify forwards
// only allowed event types and respects the rate limit; NotifyAll bypasses
// both.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	limiter domain.RateLimiter
	rate    int
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that delivers to the given senders.
func NewNotifier(senders []Sender, cfg Config, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(cfg.Events))
	for _, e := range cfg.Events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		limiter: cfg.Limiter,
		rate:    cfg.RatePerMinute,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends a notification to all senders if the event type is allowed
// and the per-event rate budget is not exhausted. Dropped notifications are
// not errors.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}

	if n.limiter != nil && n.rate > 0 {
		ok, err := n.limiter.Allow(ctx, "notify:"+event, n.rate, time.Minute)
		if err != nil {
			// A broken limiter should not silence alerts.
			n.logger.WarnContext(ctx, "rate limiter unavailable",
				slog.String("error", err.Error()),
			)
		} else if !ok {
			n.logger.DebugContext(ctx, "notification rate limited",
				slog.String("event", event),
			)
			return nil
		}
	}

	return n.dispatch(ctx, title, message)
}

// NotifyAll sends to all senders regardless of event type or rate budget.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch sends to every sender; individual failures are collected so one
// bad channel does not block the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
