package entity

import "time"

// UpdatePhase names the Applying sub-phase.
type UpdatePhase string

const (
	UpdatePhaseWaitingPermission UpdatePhase = "waiting_permission"
	UpdatePhaseSwapping          UpdatePhase = "swapping"
	UpdatePhaseRestarting        UpdatePhase = "restarting"
)

// UpdateStateKind is the tag of the UpdateState variant.
type UpdateStateKind string

const (
	UpdateStateUpToDate    UpdateStateKind = "up_to_date"
	UpdateStateAvailable   UpdateStateKind = "available"
	UpdateStateDownloading UpdateStateKind = "downloading"
	UpdateStateReady       UpdateStateKind = "ready"
	UpdateStateDraining    UpdateStateKind = "draining"
	UpdateStateApplying    UpdateStateKind = "applying"
	UpdateStateFailed      UpdateStateKind = "failed"
	UpdateStateRolledBack  UpdateStateKind = "rolled_back"
)

// UpdateState is the process-wide update-controller singleton (spec.md
// §3), modeled as a tagged variant: only the fields relevant to Kind are
// populated.
type UpdateState struct {
	Kind UpdateStateKind `json:"kind"`

	// Available / Ready
	Version string `json:"version,omitempty"`

	// Available / Downloading progress
	DownloadedBytes *int64 `json:"downloaded_bytes,omitempty"`
	TotalBytes      *int64 `json:"total_bytes,omitempty"`

	// Draining
	TimeoutAt *time.Time `json:"timeout_at,omitempty"`
	InFlight  int        `json:"in_flight,omitempty"`

	// Applying
	Phase        UpdatePhase `json:"phase,omitempty"`
	PhaseMessage string      `json:"phase_message,omitempty"`

	// Failed
	Error string `json:"error,omitempty"`

	// RolledBack
	FromVersion string `json:"from_version,omitempty"`
	ToVersion   string `json:"to_version,omitempty"`

	RollbackAvailable bool `json:"rollback_available"`
}

// UpdateHistoryEntry is one line of update-history.json (ring of 100).
type UpdateHistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"` // applied | failed | rollback
	Version   string    `json:"version"`
	Message   string    `json:"message,omitempty"`
}

// UpdateScheduleMode selects when a scheduled update triggers.
type UpdateScheduleMode string

const (
	UpdateScheduleImmediate UpdateScheduleMode = "immediate"
	UpdateScheduleIdle      UpdateScheduleMode = "idle"
	UpdateScheduleScheduled UpdateScheduleMode = "scheduled"
)

// UpdateSchedule is the single active schedule for the next update apply.
type UpdateSchedule struct {
	Mode          UpdateScheduleMode `json:"mode"`
	ScheduledAt   *time.Time         `json:"scheduled_at,omitempty"`
	ScheduledBy   string             `json:"scheduled_by"`
	TargetVersion string             `json:"target_version"`
	CreatedAt     time.Time          `json:"created_at"`
}
