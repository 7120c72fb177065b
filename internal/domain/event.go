package domain

import "time"

// Event is one audit record of an accepted lifecycle transition.
// Exactly one event is emitted per accepted transition; the audit log
// is append-only.
type Event struct {
	ID           string    `json:"id"`
	SubmissionID string    `json:"submission_id"`
	OldStatus    Status    `json:"old_status"`
	NewStatus    Status    `json:"new_status"`
	ActorRef     string    `json:"actor_ref"`
	ActorRole    Role      `json:"actor_role"`
	Reason       string    `json:"reason,omitempty"`
	At           time.Time `json:"at"`
}
