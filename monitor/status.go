package monitor

import "time"

// Phase is the monitor lifecycle state.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseInitializing Phase = "initializing"
	PhaseActive       Phase = "active"
	PhaseRetrying     Phase = "retrying"
	// PhaseFailed is terminal for the current page instance; only an
	// explicit start command leaves it.
	PhaseFailed Phase = "failed"
)

// Status is a point-in-time snapshot of the engine, safe to serialise.
type Status struct {
	Phase      Phase  `json:"phase"`
	Container  string `json:"container,omitempty"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`

	StartedAt       time.Time `json:"started_at,omitzero"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at,omitzero"`
	LastFullScanAt  time.Time `json:"last_full_scan_at,omitzero"`
	LastMatchAt     time.Time `json:"last_match_at,omitzero"`

	MatchCount int64  `json:"match_count"`
	BatchCount int64  `json:"batch_count"`
	LastError  string `json:"last_error,omitempty"`
}
