// Package notify delivers ledger notifications to operators. Notifications
// are dispatched to all registered senders (Discord, Telegram, webhooks) and
// filtered by event type.
package notify

//go:generate mockgen -source=notifier.go -destination=mocks/mocks.go -package=mocks Sender

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/bondledger/internal/domain"
)

// Event types derived from committed receipts.
const (
	EventPhaseChanged = "phase_changed"
	EventDistributed  = "distributed"
	EventCouponSent   = "coupon_sent"
	EventRedeemed     = "redeemed"
	EventFeeWithdrawn = "fee_withdrawn"
	EventBondCreated  = "bond_created"
)

// Notification is a single operator alert.
type Notification struct {
	Event     string            `json:"event"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Contract  string            `json:"contract"`
	ReceiptID string            `json:"receipt_id"`
	Height    uint64            `json:"height"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Sender is the interface that each notification channel must implement.
type Sender interface {
	Send(ctx context.Context, n Notification) error
	// Name identifies the sender in logs, e.g. "telegram".
	Name() string
}

// Notifier dispatches notifications to one or more Senders. Only events in
// the allowed set are forwarded; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that delivers to senders.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Notify sends n to every sender if its event type is allowed. A failing
// sender does not stop delivery to the others; failures are joined.
func (n *Notifier) Notify(ctx context.Context, note Notification) error {
	if len(n.events) > 0 && !n.events[note.Event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", note.Event))
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, note); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", note.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", note.Event),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// NotifyReceipt derives notifications from the events of a committed receipt
// and sends each of them.
func (n *Notifier) NotifyReceipt(ctx context.Context, r domain.Receipt) error {
	var errs []string
	for _, note := range FromReceipt(r) {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: receipt %s: %s", r.ID, strings.Join(errs, "; "))
	}
	return nil
}

// FromReceipt maps the events of r that operators care about to
// notifications, in event order.
func FromReceipt(r domain.Receipt) []Notification {
	var out []Notification
	for _, ev := range r.Events {
		note := Notification{
			Contract:  ev.Contract.Hex(),
			ReceiptID: r.ID,
			Height:    r.Height,
			Fields:    ev.Attributes,
		}
		switch ev.Action {
		case "update_phase":
			if ev.Attr("from") == ev.Attr("to") {
				continue
			}
			note.Event = EventPhaseChanged
			note.Title = "Bond phase changed"
			note.Message = fmt.Sprintf("Bond %s moved from %s to %s.", ev.Contract.Hex(), ev.Attr("from"), ev.Attr("to"))
		case "distribute":
			note.Event = EventDistributed
			note.Title = "Bond distributed"
			note.Message = fmt.Sprintf("Bond %s distributed to %s investor(s).", ev.Attr("bond_token"), ev.Attr("mints"))
		case "send_coupon":
			note.Event = EventCouponSent
			note.Title = "Coupon paid"
			note.Message = fmt.Sprintf("Bond %s paid %s in %s coupon(s).", ev.Attr("bond_token"), ev.Attr("total"), ev.Attr("coupons"))
		case "redeem":
			note.Event = EventRedeemed
			note.Title = "Bond redeemed"
			note.Message = fmt.Sprintf("Bond %s redeemed %s to %s holder(s).", ev.Attr("bond_token"), ev.Attr("total"), ev.Attr("holders"))
		case "withdraw_system_fee":
			note.Event = EventFeeWithdrawn
			note.Title = "System fee withdrawn"
			note.Message = fmt.Sprintf("System fees sent to %s.", ev.Attr("recipient"))
		case "instantiate_bond_token":
			note.Event = EventBondCreated
			note.Title = "Bond created"
			note.Message = fmt.Sprintf("Bond %s created by the factory.", ev.Attr("address"))
		default:
			continue
		}
		out = append(out, note)
	}
	return out
}
