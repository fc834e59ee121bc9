package domain

import "time"

// OutcomeState indicates the decided end state of one deployment request.
type OutcomeState string

const (
	OutcomeApproved OutcomeState = "approved"
	OutcomeRejected OutcomeState = "rejected"
)

// Outcome is the decision computed by rule evaluation: approve or reject,
// an optional comment, and an optional future instant at which an
// approval should be applied. It is created exactly once per deployment
// request and carried forward verbatim on every requeue, so a retry never
// re-derives rule results.
type Outcome struct {
	State    OutcomeState `json:"state"`
	Comment  string       `json:"comment,omitempty"`
	Schedule *time.Time   `json:"schedule,omitempty"`
}
