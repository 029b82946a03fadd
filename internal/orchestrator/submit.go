package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/domain/upscale"
	"github.com/yungbote/neurobridge-backend/internal/imageutil"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/planner"
	"github.com/yungbote/neurobridge-backend/internal/platform/blobstore"
	"github.com/yungbote/neurobridge-backend/internal/provider"
)

// submitTiledStageOne splits the decoded image per plan.Tiles, uploads each
// tile's input crop to staging, creates the Tile rows, and launches a
// stage-1 prediction per tile, throttled per cfg.SubmitThrottle.
func (o *Orchestrator) submitTiledStageOne(ctx context.Context, job *upscale.Job, img image.Image, plan *planner.Plan, opts SubmitOptions) error {
	stages := job.ChainStrategy()
	stage1 := stages[0]

	tiles := make([]*upscale.Tile, 0, len(plan.Tiles))
	for i, rect := range plan.Tiles {
		cropped, err := imageutil.Crop(img, rect.X, rect.Y, rect.Width, rect.Height)
		if err != nil {
			return fmt.Errorf("crop tile %d: %w", i, err)
		}
		encoded, err := imageutil.EncodePNG(cropped)
		if err != nil {
			return fmt.Errorf("encode tile %d: %w", i, err)
		}
		key := fmt.Sprintf("%s%s/tiles/%d/stage1_input.png", blobstore.StagingPrefix, job.ID.String(), i)
		if err := o.blobs.Put(ctx, key, bytes.NewReader(encoded)); err != nil {
			return fmt.Errorf("upload tile %d input: %w", i, err)
		}
		tiles = append(tiles, &upscale.Tile{
			ID:       i,
			JobID:    job.ID,
			Index:    i,
			Crop:     rect,
			InputURL: o.blobs.PublicURL(key),
			Status:   upscale.StageProcessing(1),
		})
	}

	dbc := dbctx.Context{Ctx: ctx}
	if err := o.tiles.CreateBatch(dbc, tiles); err != nil {
		return fmt.Errorf("persist tiles: %w", err)
	}

	for i, t := range tiles {
		if i > 0 {
			o.sleepThrottle(ctx)
		}
		if err := o.launchTileStage(ctx, job, t, stage1, opts); err != nil {
			o.log.Warn("stage-1 tile launch failed", "job", job.ID, "tile", t.ID, "error", err)
		}
	}
	_ = o.events.Append(dbc, job.ID, upscale.JobEventStageLaunched, fmt.Sprintf("stage=1 tiles=%d", len(tiles)))
	return nil
}

// submitWholeImageStageOne launches a single non-tiled stage-1 prediction
// directly against the original upload.
func (o *Orchestrator) submitWholeImageStageOne(ctx context.Context, job *upscale.Job, imageBytes []byte, opts SubmitOptions) error {
	stages := job.ChainStrategy()
	stage1 := stages[0]

	pred, err := o.provider.Submit(ctx, provider.SubmitInput{
		Model:       stage1.ModelID,
		Version:     stage1.ModelVersion,
		Input:       buildModelInput(job.InputURL, stage1.Scale, stage1.FaceEnhance),
		CallbackURL: callbackURL(opts.CallbackBase, job.ID.String(), nil, 1),
	})
	if err != nil {
		return fmt.Errorf("submit stage-1 prediction: %w", err)
	}

	dbc := dbctx.Context{Ctx: ctx}
	if err := o.jobs.UpdateFields(dbc, job.ID, map[string]interface{}{"prediction_id": pred.ID}); err != nil {
		return fmt.Errorf("persist prediction id: %w", err)
	}
	job.PredictionID = pred.ID
	_ = o.events.Append(dbc, job.ID, upscale.JobEventStageLaunched, fmt.Sprintf("stage=1 prediction=%s", pred.ID))
	return nil
}

// launchTileStage submits stage's prediction for a single tile and records
// the prediction id in the tile's per-stage slot map.
func (o *Orchestrator) launchTileStage(ctx context.Context, job *upscale.Job, t *upscale.Tile, stage upscale.ChainStage, opts SubmitOptions) error {
	pred, err := o.provider.Submit(ctx, provider.SubmitInput{
		Model:       stage.ModelID,
		Version:     stage.ModelVersion,
		Input:       buildModelInput(t.InputURL, stage.Scale, stage.FaceEnhance),
		CallbackURL: callbackURL(opts.CallbackBase, job.ID.String(), &t.ID, stage.StageIndex),
	})
	if err != nil {
		return err
	}
	dbc := dbctx.Context{Ctx: ctx}
	slot := upscale.StageSlot{PredictionID: pred.ID}
	t.SetStages(t.WithStageSlot(stage.StageIndex, slot))
	_, err = o.tiles.UpdateFieldsUnlessStatus(dbc, job.ID, t.ID, nil, map[string]interface{}{
		"stages": t.StagesJSON,
	})
	return err
}

func (o *Orchestrator) sleepThrottle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(o.cfg.SubmitThrottle):
	}
}

func buildModelInput(imageURL string, scale int, faceEnhance bool) map[string]interface{} {
	return map[string]interface{}{
		"image":        imageURL,
		"scale":        scale,
		"face_enhance": faceEnhance,
	}
}

func callbackURL(base, jobID string, tileID *int, stage int) string {
	if base == "" {
		return ""
	}
	if tileID == nil {
		return fmt.Sprintf("%s/callback?job=%s&stage=%d", base, jobID, stage)
	}
	return fmt.Sprintf("%s/callback?job=%s&tile=%d&stage=%d", base, jobID, *tileID, stage)
}
