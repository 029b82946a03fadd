package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-backend/internal/domain/upscale"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/provider"
)

// OnCompletion ingests one provider completion event, whether it arrived via
// the HTTP callback or the reconciler's poll. It is idempotent: a prediction
// id already recorded in CallbackRepo is a no-op, so the same event applied
// twice (callback plus reconciler, or a provider's at-least-once webhook
// retry) only takes effect once.
func (o *Orchestrator) OnCompletion(ctx context.Context, jobID uuid.UUID, tileID *int, stage int, event provider.CompletionEvent) error {
	dbc := dbctx.Context{Ctx: ctx}

	isNew, err := o.callbacks.RecordIfNew(dbc, event.PredictionID, jobID, tileID, stage, string(event.Status))
	if err != nil {
		return fmt.Errorf("record callback: %w", err)
	}
	if !isNew {
		o.log.Debug("duplicate completion event ignored", "prediction", event.PredictionID)
		return nil
	}

	now := time.Now()
	_ = o.jobs.UpdateFields(dbc, jobID, map[string]interface{}{"last_callback_at": &now})

	if tileID == nil {
		return o.onWholeImageCompletion(ctx, jobID, stage, event)
	}
	return o.onTileCompletion(ctx, jobID, *tileID, stage, event)
}

func (o *Orchestrator) onWholeImageCompletion(ctx context.Context, jobID uuid.UUID, stage int, event provider.CompletionEvent) error {
	dbc := dbctx.Context{Ctx: ctx}
	job, err := o.jobs.GetByID(dbc, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.IsTerminal() {
		return nil
	}

	if event.Status != provider.StatusSucceeded {
		return o.handleNonTiledFailure(ctx, job, stage, event)
	}

	chain := job.ChainStrategy()
	nextIndex := stage + 1
	updates := map[string]interface{}{"current_output_url": event.Output}
	if nextIndex > len(chain) {
		// The provider hosts this output directly; no stitching or
		// staging/permanent copy is needed for a non-tiled job.
		updates["final_output_url"] = event.Output
		updates["status"] = string(upscale.JobStatusCompleted)
		_, err := o.jobs.UpdateFieldsUnlessStatus(dbc, job.ID, terminalStatuses(), updates)
		if err != nil {
			return err
		}
		_ = o.events.Append(dbc, job.ID, upscale.JobEventFinalized, "non-tiled job completed")
		return nil
	}

	updates["current_stage"] = nextIndex
	won, err := o.jobs.UpdateFieldsUnlessStatus(dbc, job.ID, terminalStatuses(), updates)
	if err != nil || !won {
		return err
	}
	nextStage := chain[nextIndex-1]
	pred, err := o.provider.Submit(ctx, provider.SubmitInput{
		Model:   nextStage.ModelID,
		Version: nextStage.ModelVersion,
		Input:   buildModelInput(event.Output, nextStage.Scale, nextStage.FaceEnhance),
	})
	if err != nil {
		o.log.Error("failed to launch next non-tiled stage", "job", job.ID, "stage", nextIndex, "error", err)
		return err
	}
	if err := o.jobs.UpdateFields(dbc, job.ID, map[string]interface{}{"prediction_id": pred.ID}); err != nil {
		return err
	}
	_ = o.events.Append(dbc, job.ID, upscale.JobEventStageLaunched, fmt.Sprintf("stage=%d prediction=%s", nextIndex, pred.ID))
	return nil
}

func (o *Orchestrator) handleNonTiledFailure(ctx context.Context, job *upscale.Job, stage int, event provider.CompletionEvent) error {
	dbc := dbctx.Context{Ctx: ctx}
	if provider.IsMemoryExhaustion(event.Error) || job.RetryCount >= o.cfg.NonTiledMaxRetries {
		// A prior stage's output is usable as-is: end in partial-success with
		// that output rather than discarding it as a hard failure.
		if stage > 1 && job.CurrentOutputURL != "" {
			_, err := o.jobs.UpdateFieldsUnlessStatus(dbc, job.ID, terminalStatuses(), map[string]interface{}{
				"status":           string(upscale.JobStatusPartialSuccess),
				"final_output_url": job.CurrentOutputURL,
				"error_message":    event.Error,
			})
			if err == nil {
				_ = o.events.Append(dbc, job.ID, upscale.JobEventPartialSuccess, fmt.Sprintf("stage=%d error=%s", stage, event.Error))
			}
			return err
		}
		_, err := o.jobs.UpdateFieldsUnlessStatus(dbc, job.ID, terminalStatuses(), map[string]interface{}{
			"status":        string(upscale.JobStatusFailed),
			"error_message": event.Error,
		})
		if err == nil {
			_ = o.events.Append(dbc, job.ID, upscale.JobEventFailed, fmt.Sprintf("stage=%d error=%s", stage, event.Error))
		}
		return err
	}

	_, err := o.jobs.UpdateFieldsUnlessStatus(dbc, job.ID, terminalStatuses(), map[string]interface{}{
		"retry_count": job.RetryCount + 1,
	})
	if err != nil {
		return err
	}
	chain := job.ChainStrategy()
	thisStage := chain[stage-1]
	inputURL := job.InputURL
	if stage > 1 {
		inputURL = job.CurrentOutputURL
	}
	pred, err := o.provider.Submit(ctx, provider.SubmitInput{
		Model:   thisStage.ModelID,
		Version: thisStage.ModelVersion,
		Input:   buildModelInput(inputURL, thisStage.Scale, thisStage.FaceEnhance),
	})
	if err != nil {
		return err
	}
	_ = o.jobs.UpdateFields(dbc, job.ID, map[string]interface{}{"prediction_id": pred.ID})
	_ = o.events.Append(dbc, job.ID, upscale.JobEventStageLaunched, fmt.Sprintf("retry stage=%d prediction=%s", stage, pred.ID))
	return nil
}

func (o *Orchestrator) onTileCompletion(ctx context.Context, jobID uuid.UUID, tileID, stage int, event provider.CompletionEvent) error {
	dbc := dbctx.Context{Ctx: ctx}
	job, err := o.jobs.GetByID(dbc, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.IsTerminal() {
		return nil
	}
	tile, err := o.tiles.GetByID(dbc, jobID, tileID)
	if err != nil {
		return fmt.Errorf("load tile: %w", err)
	}

	if event.Status != provider.StatusSucceeded {
		return o.handleTileFailure(ctx, job, tile, stage, event)
	}

	tile.SetStages(tile.WithStageSlot(stage, upscale.StageSlot{PredictionID: event.PredictionID, OutputURL: event.Output}))
	won, err := o.tiles.UpdateFieldsUnlessStatus(dbc, jobID, tileID, nil, map[string]interface{}{
		"stages": tile.StagesJSON,
		"status": string(upscale.StageComplete(stage)),
	})
	if err != nil || !won {
		return err
	}

	return o.maybeAdvanceStage(ctx, job, stage)
}

// maybeAdvanceStage checks whether every non-failed tile has reached
// stage's completion and, if so, either launches stage+1 for every tile or,
// if stage was the last, moves the job to tiles-ready and kicks off
// finalization.
func (o *Orchestrator) maybeAdvanceStage(ctx context.Context, job *upscale.Job, stage int) error {
	dbc := dbctx.Context{Ctx: ctx}
	all, err := o.tiles.GetByJobID(dbc, job.ID)
	if err != nil {
		return err
	}
	done := 0
	failed := 0
	for _, t := range all {
		switch t.Status {
		case upscale.StageComplete(stage):
			done++
		case upscale.TileStatusFailed:
			failed++
		default:
			if t.Status == upscale.StageProcessing(stage) {
				continue
			}
			// already advanced past this stage by a concurrent caller
			done++
		}
	}
	if done+failed < len(all) {
		return nil // stage still in flight
	}

	if failed > 0 && float64(failed)/float64(len(all)) > o.cfg.TileFailureRatio {
		_, err := o.jobs.UpdateFieldsUnlessStatus(dbc, job.ID, terminalStatuses(), map[string]interface{}{
			"status":        string(upscale.JobStatusFailed),
			"error_message": fmt.Sprintf("%d/%d tiles failed at stage %d", failed, len(all), stage),
		})
		if err == nil {
			_ = o.events.Append(dbc, job.ID, upscale.JobEventFailed, fmt.Sprintf("stage=%d failed_tiles=%d", stage, failed))
		}
		return err
	}

	chain := job.ChainStrategy()
	if stage >= len(chain) {
		won, err := o.jobs.UpdateFieldsUnlessStatus(dbc, job.ID, append(terminalStatuses(), string(upscale.JobStatusTilesReady)), map[string]interface{}{
			"status": string(upscale.JobStatusTilesReady),
		})
		if err != nil || !won {
			return err
		}
		_ = o.events.Append(dbc, job.ID, upscale.JobEventTilesReady, fmt.Sprintf("stages_complete=%d", stage))
		if failed > 0 {
			_ = o.events.Append(dbc, job.ID, upscale.JobEventPartialSuccess, fmt.Sprintf("%d tiles failed, stitching remaining", failed))
		}
		return o.Finalize(ctx, job.ID)
	}

	won, err := o.jobs.UpdateFieldsUnlessStatus(dbc, job.ID, terminalStatuses(), map[string]interface{}{
		"current_stage": stage + 1,
	})
	if err != nil || !won {
		return err
	}
	nextStage := chain[stage]
	for i, t := range all {
		if t.Status == upscale.TileStatusFailed {
			continue
		}
		if i > 0 {
			o.sleepThrottle(ctx)
		}
		_, outURL := t.LatestStageWithOutput(stage)
		if err := o.launchTileNextStage(ctx, job, t, nextStage, outURL); err != nil {
			o.log.Warn("failed to launch next stage for tile", "job", job.ID, "tile", t.ID, "error", err)
		}
	}
	_ = o.events.Append(dbc, job.ID, upscale.JobEventStageLaunched, fmt.Sprintf("stage=%d", stage+1))
	return nil
}

func (o *Orchestrator) launchTileNextStage(ctx context.Context, job *upscale.Job, t *upscale.Tile, stage upscale.ChainStage, inputURL string) error {
	pred, err := o.provider.Submit(ctx, provider.SubmitInput{
		Model:   stage.ModelID,
		Version: stage.ModelVersion,
		Input:   buildModelInput(inputURL, stage.Scale, stage.FaceEnhance),
	})
	if err != nil {
		return err
	}
	dbc := dbctx.Context{Ctx: ctx}
	t.SetStages(t.WithStageSlot(stage.StageIndex, upscale.StageSlot{PredictionID: pred.ID}))
	_, err = o.tiles.UpdateFieldsUnlessStatus(dbc, job.ID, t.ID, []string{string(upscale.TileStatusFailed)}, map[string]interface{}{
		"stages": t.StagesJSON,
		"status": string(upscale.StageProcessing(stage.StageIndex)),
	})
	return err
}

func (o *Orchestrator) handleTileFailure(ctx context.Context, job *upscale.Job, tile *upscale.Tile, stage int, event provider.CompletionEvent) error {
	dbc := dbctx.Context{Ctx: ctx}
	won, err := o.tiles.UpdateFieldsUnlessStatus(dbc, job.ID, tile.ID, []string{string(upscale.TileStatusFailed)}, map[string]interface{}{
		"status":        string(upscale.TileStatusFailed),
		"error_message": event.Error,
	})
	if err != nil || !won {
		return err
	}
	_ = o.events.Append(dbc, job.ID, upscale.JobEventTileFailed, fmt.Sprintf("tile=%d stage=%d error=%s", tile.ID, stage, event.Error))
	return o.maybeAdvanceStage(ctx, job, stage)
}

// Finalize hands the job off to the wired Finalizer (the stitcher) once
// every tile has reached tiles-ready. Non-tiled jobs never reach this path;
// they finalize directly in onWholeImageCompletion.
func (o *Orchestrator) Finalize(ctx context.Context, jobID uuid.UUID) error {
	if o.finalizer == nil {
		return fmt.Errorf("orchestrator: no finalizer wired")
	}
	return o.finalizer.Stitch(ctx, jobID)
}

func terminalStatuses() []string {
	return []string{
		string(upscale.JobStatusCompleted),
		string(upscale.JobStatusFailed),
		string(upscale.JobStatusPartialSuccess),
	}
}
