package upscale

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// TileStatus is the per-tile state machine. Stage numbers are embedded in
// the processing/complete values (stage1_processing, stage1_complete, ...)
// because the number of stages varies per job.
type TileStatus string

const (
	TileStatusPending TileStatus = "pending"
	TileStatusFailed  TileStatus = "failed"
)

// StageProcessing returns the status string for "this tile is waiting on
// stage k's prediction".
func StageProcessing(stage int) TileStatus {
	return TileStatus(fmt.Sprintf("stage%d_processing", stage))
}

// StageComplete returns the status string for "this tile's stage k output
// is in hand".
func StageComplete(stage int) TileStatus {
	return TileStatus(fmt.Sprintf("stage%d_complete", stage))
}

// StageSlot is one stage's worth of work for a single tile.
type StageSlot struct {
	PredictionID string `json:"predictionId,omitempty"`
	OutputURL    string `json:"outputUrl,omitempty"`
}

// Rect is an axis-aligned crop rectangle in original-image coordinates.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Rect) String() string {
	return fmt.Sprintf("[%d,%d %dx%d]", r.X, r.Y, r.Width, r.Height)
}

// Tile is one cell of a job's tiling grid, carried through every stage of
// the chain independently of its siblings.
type Tile struct {
	ID    int       `gorm:"primaryKey;autoIncrement:false" json:"id"`
	JobID uuid.UUID `gorm:"type:uuid;primaryKey" json:"jobId"`

	Index int  `json:"index"`
	Crop  Rect `gorm:"embedded;embeddedPrefix:crop_" json:"crop"`

	ParentTileID *int `json:"parentTileId,omitempty"`

	InputURL   string         `json:"inputUrl"`
	StagesJSON datatypes.JSON `gorm:"column:stages;type:jsonb" json:"-"`

	Status       TileStatus `gorm:"index" json:"status"`
	ErrorMessage string     `json:"errorMessage,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Tile) TableName() string { return "upscale_tiles" }

// Stages unmarshals the per-stage slot map, keyed by stage number.
func (t *Tile) Stages() map[int]StageSlot {
	out := map[int]StageSlot{}
	if len(t.StagesJSON) == 0 {
		return out
	}
	_ = json.Unmarshal(t.StagesJSON, &out)
	return out
}

// SetStages marshals and stores the per-stage slot map.
func (t *Tile) SetStages(stages map[int]StageSlot) {
	b, _ := json.Marshal(stages)
	t.StagesJSON = b
}

// WithStageSlot returns stages with slot k set to s, for use with SetStages.
func (t *Tile) WithStageSlot(k int, s StageSlot) map[int]StageSlot {
	stages := t.Stages()
	stages[k] = s
	return stages
}

// LatestStageWithOutput walks backward from `from` and returns the highest
// stage number at or below `from` that has a recorded output URL, or 0 if
// none exists. Used by the stitcher's backward-walk fallback.
func (t *Tile) LatestStageWithOutput(from int) (stage int, url string) {
	stages := t.Stages()
	for k := from; k >= 1; k-- {
		if slot, ok := stages[k]; ok && slot.OutputURL != "" {
			return k, slot.OutputURL
		}
	}
	return 0, ""
}

// StageOutputsArePrefix reports whether the set of stages with a recorded
// output forms an unbroken prefix {1..m}; this is invariant 1 of the data
// model.
func (t *Tile) StageOutputsArePrefix(totalStages int) bool {
	stages := t.Stages()
	seenGap := false
	for k := 1; k <= totalStages; k++ {
		slot, has := stages[k]
		if !has || slot.OutputURL == "" {
			seenGap = true
			continue
		}
		if seenGap {
			return false
		}
	}
	return true
}
