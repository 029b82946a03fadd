package upscale

import (
	"time"

	"github.com/google/uuid"
)

// JobEventKind enumerates the timeline entries recorded for a job. This
// table is not read by any core operation; it exists to give an external
// client (or an operator) a canonical audit trail without re-deriving it
// from job/tile row history, mirroring the append-only ledger pattern used
// elsewhere in this codebase for long-running work.
type JobEventKind string

const (
	JobEventSubmitted      JobEventKind = "submitted"
	JobEventStageLaunched  JobEventKind = "stage_launched"
	JobEventStageCompleted JobEventKind = "stage_completed"
	JobEventTileFailed     JobEventKind = "tile_failed"
	JobEventTilesReady     JobEventKind = "tiles_ready"
	JobEventFinalized      JobEventKind = "finalized"
	JobEventFailed         JobEventKind = "failed"
	JobEventPartialSuccess JobEventKind = "partial_success"
	JobEventReconciled     JobEventKind = "reconciled"
)

// JobEvent is one append-only timeline entry for a job.
type JobEvent struct {
	ID        uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	JobID     uuid.UUID    `gorm:"type:uuid;index" json:"jobId"`
	Kind      JobEventKind `json:"kind"`
	Message   string       `json:"message,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

func (JobEvent) TableName() string { return "upscale_job_events" }
