// Package statusreader computes the read-only progress/ETA view served by
// the status endpoint, without mutating any state itself.
package statusreader

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-backend/internal/domain/upscale"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/neurobridge-backend/internal/pkg/errors"

	reposupscale "github.com/yungbote/neurobridge-backend/internal/data/repos/upscale"
)

// StatusReader reports job progress independently of the orchestrator and
// reconciler, the way a dashboard or polling client would: read-only,
// derived entirely from persisted Job/Tile state.
type StatusReader struct {
	jobs  reposupscale.JobRepo
	tiles reposupscale.TileRepo
}

func New(jobs reposupscale.JobRepo, tiles reposupscale.TileRepo) *StatusReader {
	return &StatusReader{jobs: jobs, tiles: tiles}
}

// Status is the computed view for one job.
type Status struct {
	JobID            uuid.UUID        `json:"jobId"`
	State            upscale.JobStatus `json:"state"`
	CurrentStage     int              `json:"currentStage"`
	TotalStages      int              `json:"totalStages"`
	TilesTotal       int              `json:"tilesTotal,omitempty"`
	TilesComplete    int              `json:"tilesComplete,omitempty"`
	TilesFailed      int              `json:"tilesFailed,omitempty"`
	PercentComplete  float64          `json:"percentComplete"`
	EstimatedSeconds int              `json:"estimatedSecondsRemaining,omitempty"`
	CurrentOutputURL string           `json:"currentOutputUrl,omitempty"`
	FinalOutputURL   string           `json:"finalOutputUrl,omitempty"`
	ErrorMessage     string           `json:"errorMessage,omitempty"`
}

// secondsPerStage is the rough per-stage wall-clock estimate used for the
// ETA shown to clients; it is intentionally coarse, matching the teacher's
// other best-effort ETA surfaces.
const secondsPerStage = 45

func (r *StatusReader) Get(ctx context.Context, jobID uuid.UUID) (*Status, error) {
	dbc := dbctx.Context{Ctx: ctx}
	job, err := r.jobs.GetByID(dbc, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrNotFound, err)
	}

	st := &Status{
		JobID:            job.ID,
		State:            job.Status,
		CurrentStage:     job.CurrentStage,
		TotalStages:      job.TotalStages,
		CurrentOutputURL: job.CurrentOutputURL,
		FinalOutputURL:   job.FinalOutputURL,
		ErrorMessage:     job.ErrorMessage,
	}

	if job.UsingTiling {
		tiles, err := r.tiles.GetByJobID(dbc, jobID)
		if err != nil {
			return nil, fmt.Errorf("load tiles: %w", err)
		}
		st.TilesTotal = len(tiles)
		for _, t := range tiles {
			switch {
			case t.Status == upscale.TileStatusFailed:
				st.TilesFailed++
			case t.Status == upscale.StageComplete(job.TotalStages):
				st.TilesComplete++
			}
		}
		st.PercentComplete = tileProgress(tiles, job.TotalStages)
	} else {
		st.PercentComplete = stageProgress(job.CurrentStage, job.TotalStages, job.Status)
	}

	if !job.IsTerminal() {
		remainingStages := job.TotalStages - job.CurrentStage + 1
		if remainingStages > 0 {
			st.EstimatedSeconds = remainingStages * secondsPerStage
		}
	}

	return st, nil
}

// tileProgress averages each tile's fractional stage progress; a tile
// sitting at stage k of n (k-1 complete, 1 in flight) contributes
// (k-1)/n, and a failed tile contributes its last completed fraction.
func tileProgress(tiles []*upscale.Tile, totalStages int) float64 {
	if len(tiles) == 0 || totalStages == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range tiles {
		stage, _ := t.LatestStageWithOutput(totalStages)
		sum += float64(stage) / float64(totalStages)
	}
	return round2(100 * sum / float64(len(tiles)))
}

// stageProgress credits the in-flight current stage with half a stage's
// worth of progress, rather than only counting stages that have fully
// completed: a non-tiled job sitting at stage 2 of 4 is roughly halfway
// through that stage's wall-clock time, not still at the 1/4 mark.
func stageProgress(currentStage, totalStages int, status upscale.JobStatus) float64 {
	if totalStages == 0 {
		return 0
	}
	if status == upscale.JobStatusCompleted {
		return 100
	}
	completedStages := currentStage - 1
	if completedStages < 0 {
		completedStages = 0
	}
	progress := float64(completedStages)
	if status == upscale.JobStatusProcessing && currentStage >= 1 && currentStage <= totalStages {
		progress += 0.5
	}
	return round2(100 * progress / float64(totalStages))
}

func round2(f float64) float64 {
	return float64(int(f*100)) / 100
}
