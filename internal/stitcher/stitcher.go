// Package stitcher composes a tiled job's per-tile stage outputs into one
// final image once every tile has reached tiles-ready, and implements the
// orchestrator.Finalizer contract.
package stitcher

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-backend/internal/domain/upscale"
	"github.com/yungbote/neurobridge-backend/internal/imageutil"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/platform/blobstore"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"

	reposupscale "github.com/yungbote/neurobridge-backend/internal/data/repos/upscale"
)

type Stitcher struct {
	log   *logger.Logger
	jobs  reposupscale.JobRepo
	tiles reposupscale.TileRepo
	events reposupscale.JobEventRepo
	blobs blobstore.Store
	http  *http.Client
}

func New(log *logger.Logger, jobs reposupscale.JobRepo, tiles reposupscale.TileRepo, events reposupscale.JobEventRepo, blobs blobstore.Store) *Stitcher {
	return &Stitcher{
		log:    log.With("component", "Stitcher"),
		jobs:   jobs,
		tiles:  tiles,
		events: events,
		blobs:  blobs,
		http:   &http.Client{},
	}
}

// Stitch composites every tile's final-stage output into the job's full
// upscaled canvas, uploads it to the permanent blob prefix, and marks the
// job completed (or partial-success, when one or more tiles failed, have no
// stage output, or could not be fetched). Row-major composite order; later tiles overwrite the overlap
// region of earlier ones, which is safe because overlap pixels are
// redundant detail, not authoritative content.
func (s *Stitcher) Stitch(ctx context.Context, jobID uuid.UUID) error {
	dbc := dbctx.Context{Ctx: ctx}
	job, err := s.jobs.GetByID(dbc, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status != upscale.JobStatusTilesReady {
		return nil // someone else already finalized, or it isn't ready
	}
	grid := job.Grid()
	if grid == nil {
		return fmt.Errorf("stitch: job %s has no tiling grid", jobID)
	}
	tiles, err := s.tiles.GetByJobID(dbc, jobID)
	if err != nil {
		return fmt.Errorf("load tiles: %w", err)
	}

	totalStages := job.TotalStages
	canvasW := job.OriginalWidth * job.EffectiveScale
	canvasH := job.OriginalHeight * job.EffectiveScale
	canvas := image.NewNRGBA(image.Rect(0, 0, canvasW, canvasH))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	failedCount := 0
	for _, t := range tiles {
		if t.Status == upscale.TileStatusFailed {
			failedCount++
			continue
		}
		stage, outputURL := t.LatestStageWithOutput(totalStages)
		if outputURL == "" {
			failedCount++
			continue
		}
		tileImg, err := s.fetchImage(ctx, outputURL)
		if err != nil {
			s.log.Warn("fetch tile output failed, skipping tile", "job", jobID, "tile", t.ID, "error", err)
			failedCount++
			continue
		}
		scaleAtStage := job.EffectiveScale
		dstRect := image.Rect(
			t.Crop.X*scaleAtStage,
			t.Crop.Y*scaleAtStage,
			t.Crop.X*scaleAtStage+t.Crop.Width*scaleAtStage,
			t.Crop.Y*scaleAtStage+t.Crop.Height*scaleAtStage,
		)
		resized := tileImg
		if b := tileImg.Bounds(); b.Dx() != dstRect.Dx() || b.Dy() != dstRect.Dy() {
			resized = imageutil.Resize(tileImg, dstRect.Dx(), dstRect.Dy())
		}
		draw.Draw(canvas, dstRect, resized, image.Point{}, draw.Src)
		_ = stage
	}

	encoded, err := imageutil.EncodePNG(canvas)
	if err != nil {
		return fmt.Errorf("encode composite: %w", err)
	}
	permKey := fmt.Sprintf("%s%s/final.png", blobstore.PermanentPrefix, jobID.String())
	if err := s.blobs.Put(ctx, permKey, bytes.NewReader(encoded)); err != nil {
		return fmt.Errorf("upload composite: %w", err)
	}
	finalURL := s.blobs.PublicURL(permKey)

	status := upscale.JobStatusCompleted
	if failedCount > 0 {
		status = upscale.JobStatusPartialSuccess
	}
	updates := map[string]interface{}{
		"status":           string(status),
		"final_output_url": finalURL,
	}
	_, err = s.jobs.UpdateFieldsUnlessStatus(dbc, jobID, []string{
		string(upscale.JobStatusCompleted), string(upscale.JobStatusFailed), string(upscale.JobStatusPartialSuccess),
	}, updates)
	if err != nil {
		return fmt.Errorf("finalize job: %w", err)
	}
	kind := upscale.JobEventFinalized
	if failedCount > 0 {
		kind = upscale.JobEventPartialSuccess
	}
	_ = s.events.Append(dbc, jobID, kind, fmt.Sprintf("failed_tiles=%d total_tiles=%d", failedCount, len(tiles)))
	return nil
}

// fetchImage downloads and decodes a tile output, whether it lives in our
// own blob store or at a provider-hosted URL.
func (s *Stitcher) fetchImage(ctx context.Context, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	img, _, err := imageutil.Decode(bytes.NewReader(raw))
	return img, err
}
