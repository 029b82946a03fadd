package upscale

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// JobStatus is the terminal/non-terminal lifecycle state of a Job.
type JobStatus string

const (
	JobStatusProcessing     JobStatus = "processing"
	JobStatusTilesReady     JobStatus = "tiles-ready"
	JobStatusCompleted      JobStatus = "completed"
	JobStatusFailed         JobStatus = "failed"
	JobStatusPartialSuccess JobStatus = "partial-success"

	// JobStatusNeedsSplit is part of the persisted state machine but is never
	// produced by any operation in this implementation: the safe-scale check
	// rejects targets that would require a client-side split before a job is
	// ever created. Kept so the resume endpoint's contract matches the data
	// model a future >=28x implementation would need.
	JobStatusNeedsSplit JobStatus = "needs-split"
)

// Category is the content-affinity hint used by the model registry and the
// scale-chain planner.
type Category string

const (
	CategoryPhoto Category = "photo"
	CategoryArt   Category = "art"
	CategoryText  Category = "text"
	CategoryAnime Category = "anime"
)

// ChainStage is one entry of a job's scale-chain strategy.
type ChainStage struct {
	StageIndex   int    `json:"stageIndex"`
	ModelID      string `json:"modelId"`
	ModelVersion string `json:"modelVersion"`
	Scale        int    `json:"scale"`
	FaceEnhance  bool   `json:"faceEnhance"`
}

// StageTemplate carries the per-stage expectations the orchestrator and
// reconciler compare actual progress against.
type StageTemplate struct {
	StageIndex        int  `json:"stageIndex"`
	ScaleMultiplier   int  `json:"scaleMultiplier"`
	ExpectedTileCount int  `json:"expectedTileCount"`
	SplitFromPrevious int  `json:"splitFromPrevious,omitempty"`
	RequiresResume    bool `json:"requiresResume,omitempty"`
}

// TilingGrid is the computed tiling layout for a job, or nil when the job
// bypasses tiling entirely.
type TilingGrid struct {
	TilesX     int `json:"tilesX"`
	TilesY     int `json:"tilesY"`
	TileWidth  int `json:"tileWidth"`
	TileHeight int `json:"tileHeight"`
	Overlap    int `json:"overlap"`
	TotalTiles int `json:"totalTiles"`
}

// Job is the authoritative persisted state for a single upscale request.
// Its status transitions go through conditional, row-level updates; see
// internal/data/repos/upscale for the only sanctioned write paths.
type Job struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PrincipalID uuid.UUID `gorm:"type:uuid;index" json:"principalId"`

	InputURL       string   `json:"inputUrl"`
	OriginalWidth  int      `json:"originalWidth"`
	OriginalHeight int      `json:"originalHeight"`
	Category       Category `json:"category"`
	RequestedScale int      `json:"requestedScale"`
	EffectiveScale int      `json:"effectiveScale"`

	ChainStrategyJSON  datatypes.JSON `gorm:"column:chain_strategy;type:jsonb" json:"-"`
	StageTemplatesJSON datatypes.JSON `gorm:"column:stage_templates;type:jsonb" json:"-"`
	GridJSON           datatypes.JSON `gorm:"column:grid;type:jsonb" json:"-"`

	UsingTiling    bool       `json:"usingTiling"`
	CurrentStage   int        `json:"currentStage"`
	TotalStages    int        `json:"totalStages"`
	PredictionID   string     `json:"predictionId,omitempty"`
	Status         JobStatus  `gorm:"index" json:"status"`
	RetryCount     int        `json:"retryCount"`
	LastCallbackAt *time.Time `json:"lastCallbackAt,omitempty"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`

	CurrentOutputURL string `json:"currentOutputUrl,omitempty"`
	FinalOutputURL   string `json:"finalOutputUrl,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Job) TableName() string { return "upscale_jobs" }

// IsTerminal reports whether status will never again be mutated by the
// orchestrator, reconciler, or stitcher.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusPartialSuccess:
		return true
	default:
		return false
	}
}

// ChainStrategy unmarshals the persisted chain strategy.
func (j *Job) ChainStrategy() []ChainStage {
	var out []ChainStage
	if len(j.ChainStrategyJSON) == 0 {
		return out
	}
	_ = json.Unmarshal(j.ChainStrategyJSON, &out)
	return out
}

// SetChainStrategy marshals and stores the chain strategy.
func (j *Job) SetChainStrategy(stages []ChainStage) {
	b, _ := json.Marshal(stages)
	j.ChainStrategyJSON = b
}

// StageTemplates unmarshals the persisted per-stage template config.
func (j *Job) StageTemplates() []StageTemplate {
	var out []StageTemplate
	if len(j.StageTemplatesJSON) == 0 {
		return out
	}
	_ = json.Unmarshal(j.StageTemplatesJSON, &out)
	return out
}

// SetStageTemplates marshals and stores the per-stage template config.
func (j *Job) SetStageTemplates(templates []StageTemplate) {
	b, _ := json.Marshal(templates)
	j.StageTemplatesJSON = b
}

// Grid unmarshals the persisted tiling grid, or nil when the job bypasses
// tiling.
func (j *Job) Grid() *TilingGrid {
	if len(j.GridJSON) == 0 || string(j.GridJSON) == "null" {
		return nil
	}
	var out TilingGrid
	if err := json.Unmarshal(j.GridJSON, &out); err != nil {
		return nil
	}
	return &out
}

// SetGrid marshals and stores the tiling grid. A nil grid persists as a
// null-jsonb column (non-tiled job).
func (j *Job) SetGrid(grid *TilingGrid) {
	if grid == nil {
		j.GridJSON = datatypes.JSON([]byte("null"))
		return
	}
	b, _ := json.Marshal(grid)
	j.GridJSON = b
}
