package notify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/noah-isme/toko-cart/internal/events"
)

// Compose turns an order event into the notification shown to the customer.
// Events carrying an email address go to that customer by email, everything
// else is a push to the order's owner.
func Compose(ev events.Event) (Notification, error) {
	payload := map[string]any{}
	if len(ev.Payload) > 0 {
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return Notification{}, fmt.Errorf("notify: decode payload: %w", err)
		}
	}
	n := Notification{
		Type:        ChannelPush,
		Audience:    "order:" + ev.AggregateID,
		Title:       titleFor(ev.Topic),
		Message:     messageFor(ev.Topic, ev.AggregateID, payload),
		Topic:       ev.Topic,
		AggregateID: ev.AggregateID,
		SentBy:      SentBySystem,
		CreatedAt:   ev.OccurredAt,
	}
	if to := stringField(payload, "email"); to != "" {
		n.Type = ChannelEmail
		n.Recipient = to
	}
	return n, nil
}

func stringField(payload map[string]any, key string) string {
	if s, ok := payload[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func titleFor(topic string) string {
	switch topic {
	case events.TopicOrderCreated:
		return "Order placed"
	case events.TopicOrderStatusChanged:
		return "Order updated"
	case events.TopicPaymentCompleted:
		return "Payment received"
	case events.TopicPaymentFailed:
		return "Payment failed"
	default:
		return "Notification " + topic
	}
}

func messageFor(topic, orderID string, payload map[string]any) string {
	switch topic {
	case events.TopicOrderCreated:
		msg := fmt.Sprintf("We received your order %s.", orderID)
		if total := stringField(payload, "total"); total != "" {
			msg += " Total: " + total + "."
		}
		return msg
	case events.TopicOrderStatusChanged:
		if to := stringField(payload, "to"); to != "" {
			return fmt.Sprintf("Your order %s is now %s.", orderID, to)
		}
		return fmt.Sprintf("Your order %s was updated.", orderID)
	case events.TopicPaymentCompleted:
		msg := fmt.Sprintf("Payment for order %s is complete.", orderID)
		if tx := stringField(payload, "transactionId"); tx != "" {
			msg += " Reference: " + tx + "."
		}
		return msg
	case events.TopicPaymentFailed:
		return fmt.Sprintf("Payment for order %s did not go through. Your cart is still saved, please try again.", orderID)
	default:
		return fmt.Sprintf("Event %s for %s.", topic, orderID)
	}
}
