package domain

// Envelope is the unit of work placed on the processing queue. It is the
// sole state carried between processing attempts: requeueing serializes
// the envelope, including any already-decided outcome, so a redelivery
// resumes instead of re-deciding.
type Envelope struct {
	// DeliveryID is the webhook delivery id, kept for traceability
	// across requeues.
	DeliveryID string `json:"delivery_id"`

	// TryNumber counts processing attempts. It increments on every
	// requeue attempt, including one that gets dropped, so observability
	// reflects the real attempt count.
	TryNumber int `json:"try_number"`

	// RemainingTries is the requeue budget. When it is already 1 at
	// requeue time no further enqueue happens and the work is dropped:
	// a deliberate poison-message circuit breaker, not an error.
	RemainingTries int `json:"remaining_tries"`

	// Delayed records that the per-rule WaitMinutes delay was already
	// applied, so it is applied at most once per deployment request.
	Delayed bool `json:"delayed"`

	// Outcome is the decision computed by a previous attempt, nil until
	// decided. A non-nil outcome short-circuits rule evaluation on
	// redelivery.
	Outcome *Outcome `json:"outcome,omitempty"`

	Event DeploymentProtectionRuleEvent `json:"event"`
}

// NewEnvelope wraps a webhook delivery into a fresh unit of work with the
// operator-configured retry budget.
func NewEnvelope(deliveryID string, remainingTries int, event DeploymentProtectionRuleEvent) Envelope {
	return Envelope{
		DeliveryID:     deliveryID,
		TryNumber:      1,
		RemainingTries: remainingTries,
		Event:          event,
	}
}
