// Package notify delivers operator alerts (price moves, opportunities,
// schema drift) over one or more channels. Senders are fanned out per event
// and filtered by event type so operators only receive what they subscribed
// to.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arbhunter/dmarketbot/internal/domain"
)

// Event types emitted by the bot.
const (
	EventPriceChange = "price_change"
	EventNewListing  = "new_listing"
	EventOpportunity = "opportunity"
	EventSchemaDrift = "schema_drift"
	EventError       = "error"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name identifies the sender in logs (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to all registered senders. Notify
// forwards only events in the allowed set; NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. An empty
// events list allows everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends to all senders when the event type is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// NotifyChange formats a detected market change and sends it under its
// matching event type.
func (n *Notifier) NotifyChange(ctx context.Context, change domain.PriceChange) error {
	event := EventPriceChange
	if change.Kind == domain.ChangeNewListing {
		event = EventNewListing
	}
	return n.Notify(ctx, event, changeTitle(change), FormatChange(change))
}

// dispatch fans out to every sender, collecting failures so one bad channel
// never blocks the others.
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

func changeTitle(change domain.PriceChange) string {
	switch change.Kind {
	case domain.ChangeNewListing:
		return "New listing"
	case domain.ChangeQuantity:
		return "Stock change"
	default:
		return "Price change"
	}
}

// FormatChange renders a change event as a human-readable one-liner.
func FormatChange(change domain.PriceChange) string {
	switch change.Kind {
	case domain.ChangeNewListing:
		return fmt.Sprintf("%s listed at $%s (x%d)",
			change.Title, change.NewPrice.StringFixed(2), change.NewQty)
	case domain.ChangeQuantity:
		return fmt.Sprintf("%s stock %d -> %d at $%s",
			change.Title, change.OldQty, change.NewQty, change.NewPrice.StringFixed(2))
	default:
		return fmt.Sprintf("%s $%s -> $%s (%s%%)",
			change.Title,
			change.OldPrice.StringFixed(2),
			change.NewPrice.StringFixed(2),
			change.Percent.StringFixed(1))
	}
}
