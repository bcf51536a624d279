package reconciler

import "github.com/google/uuid"

// State is a per-port health classification (spec §4.1).
type State string

const (
	StateOK       State = "ok"
	StateDegraded State = "degraded"
	StateFailed   State = "failed"
)

// Status is one port's health entry, returned by GET /status.
type Status struct {
	State       State     `json:"state"`
	Reason      string    `json:"reason,omitempty"`
	LastApplyID uuid.UUID `json:"last_apply_id"`
}
