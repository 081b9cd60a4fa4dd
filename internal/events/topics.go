package events

// Topic constants for domain events emitted by the service.
const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status_changed"
	TopicPaymentCompleted   = "payment.completed"
	TopicPaymentFailed      = "payment.failed"
)

// DefaultTopics returns the topics that produce customer notifications.
func DefaultTopics() []string {
	return []string{
		TopicOrderCreated,
		TopicOrderStatusChanged,
		TopicPaymentCompleted,
		TopicPaymentFailed,
	}
}

// Notifiable reports whether topic is one of DefaultTopics.
func Notifiable(topic string) bool {
	for _, t := range DefaultTopics() {
		if t == topic {
			return true
		}
	}
	return false
}
