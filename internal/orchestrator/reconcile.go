package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-backend/internal/domain/upscale"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
)

// AdvanceStuckStage re-runs the "every non-failed tile has finished the
// current stage" check for a tiled job, in case the event that should have
// triggered it (the last tile's completion) was lost or the advance itself
// lost a race and nobody retried. Safe to call on a job that has already
// advanced: maybeAdvanceStage's conditional update is a no-op in that case.
func (o *Orchestrator) AdvanceStuckStage(ctx context.Context, jobID uuid.UUID) error {
	dbc := dbctx.Context{Ctx: ctx}
	job, err := o.jobs.GetByID(dbc, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.IsTerminal() || !job.UsingTiling {
		return nil
	}
	return o.maybeAdvanceStage(ctx, job, job.CurrentStage)
}

// RepairStalledTileLaunches finds tiles that finished the stage before the
// job's current one but never got a prediction launched for the current
// stage (launchTileNextStage failed and was only logged, per completion.go),
// and relaunches them. Without this, such a tile sits at
// stage{k-1}_complete forever: it is not stage{k}_processing, so the
// reconciler's per-tile poll never looks at it again. Only applies once the
// job is past stage 1; the stage-1 launch happens inline in Submit, outside
// this repair's scope.
func (o *Orchestrator) RepairStalledTileLaunches(ctx context.Context, jobID uuid.UUID) error {
	dbc := dbctx.Context{Ctx: ctx}
	job, err := o.jobs.GetByID(dbc, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.IsTerminal() || !job.UsingTiling || job.CurrentStage <= 1 {
		return nil
	}
	chain := job.ChainStrategy()
	if job.CurrentStage > len(chain) {
		return nil
	}
	nextStage := chain[job.CurrentStage-1]

	tiles, err := o.tiles.GetByJobID(dbc, jobID)
	if err != nil {
		return fmt.Errorf("load tiles: %w", err)
	}

	prevComplete := upscale.StageComplete(job.CurrentStage - 1)
	for _, t := range tiles {
		if t.Status != prevComplete {
			continue
		}
		if slot, ok := t.Stages()[job.CurrentStage]; ok && slot.PredictionID != "" {
			continue // already launched, just hasn't completed yet
		}
		_, inputURL := t.LatestStageWithOutput(job.CurrentStage - 1)
		if inputURL == "" {
			inputURL = t.InputURL
		}
		if err := o.launchTileNextStage(ctx, job, t, nextStage, inputURL); err != nil {
			o.log.Warn("reconciler: failed to repair stalled tile launch", "job", job.ID, "tile", t.ID, "error", err)
		}
	}
	return nil
}
