// Package notify delivers operator alerts for scanner events. Alerts fan out
// to every configured channel (Telegram, Discord) and are filtered by event
// type so an operator can subscribe to queue activity without error noise, or
// the other way around.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers an alert with the given title and body.
	Send(ctx context.Context, title, body string) error
	// Name identifies the channel in logs and error messages.
	Name() string
}

// Notifier fans alerts out to the configured senders, filtered by event type.
// An empty event filter passes everything.
type Notifier struct {
	senders []Sender
	allowed map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for the given senders. events lists the
// event types Notify forwards; empty means all.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify fans the alert out when its event type passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, body string) error {
	if len(n.allowed) > 0 && !n.allowed[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.fanout(ctx, title, body)
}

// NotifyAll fans the alert out regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, body string) error {
	return n.fanout(ctx, title, body)
}

// fanout delivers to every sender. One channel failing does not stop the
// rest; failures are joined into the returned error.
func (n *Notifier) fanout(ctx context.Context, title, body string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, body); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}
