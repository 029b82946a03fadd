package upscale

import (
	"time"

	"github.com/google/uuid"
)

// ProcessedCallbackRecord guarantees at-most-once application of a
// provider completion event. A row is inserted before the event's effects
// are applied; a second attempt at the same prediction id hits the unique
// index on PredictionID and is treated as a no-op rather than an error.
type ProcessedCallbackRecord struct {
	PredictionID string    `gorm:"column:prediction_id;primaryKey" json:"predictionId"`
	JobID        uuid.UUID `gorm:"type:uuid;index" json:"jobId"`
	TileID       *int      `json:"tileId,omitempty"`
	Stage        int       `json:"stage"`
	Status       string    `json:"status"`
	ProcessedAt  time.Time `json:"processedAt"`
}

func (ProcessedCallbackRecord) TableName() string { return "upscale_processed_callbacks" }
