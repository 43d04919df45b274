package metrics

import "time"

// Event names recorded by the checkout flow.
const (
	EventSessionCreated      = "session_created"
	EventSessionCreateFailed = "session_create_failed"
	EventPaymentSubmitted    = "payment_submitted"
	EventPaymentRejected     = "payment_rejected"
	EventPaymentFailed       = "payment_failed"
	EventPaymentCompleted    = "payment_completed"
	EventPaymentPending      = "payment_pending"
	EventConfirmationPoll    = "confirmation_poll"
	EventWebhookRejected     = "webhook_rejected"

	OpCreateSession = "create_session"
	OpConfirmation  = "confirmation"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
