package entities

import "time"

// RecordsChangedEvent announces that a record kind changed upstream and any
// cached pages or sweeps for it are stale.
type RecordsChangedEvent struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
