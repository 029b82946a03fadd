package stitcher

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/neurobridge-backend/internal/domain/upscale"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

func tileServer(t *testing.T, w, h int, fill color.NRGBA) *httptest.Server {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill)
		}
	}
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "image/png")
		_ = png.Encode(rw, img)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStitch_CompositesAllTilesAndMarksCompleted(t *testing.T) {
	log, err := logger.New("development")
	require.NoError(t, err)

	jobs := newFakeJobRepo()
	tiles := newFakeTileRepo()
	events := newFakeEventRepo()
	blobs := newFakeBlobStore()
	s := New(log, jobs, tiles, events, blobs)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}

	job := &upscale.Job{
		ID:             uuid.New(),
		OriginalWidth:  20,
		OriginalHeight: 10,
		EffectiveScale: 2,
		TotalStages:    1,
		Status:         upscale.JobStatusTilesReady,
	}
	job.SetGrid(&upscale.TilingGrid{TilesX: 2, TilesY: 1, TileWidth: 10, TileHeight: 10, TotalTiles: 2})
	require.NoError(t, jobs.Create(dbc, job))

	srvA := tileServer(t, 20, 20, color.NRGBA{R: 255, A: 255})
	srvB := tileServer(t, 20, 20, color.NRGBA{B: 255, A: 255})

	tileA := &upscale.Tile{ID: 0, JobID: job.ID, Index: 0, Crop: upscale.Rect{X: 0, Y: 0, Width: 10, Height: 10}, Status: upscale.StageComplete(1)}
	tileA.SetStages(map[int]upscale.StageSlot{1: {OutputURL: srvA.URL}})
	tileB := &upscale.Tile{ID: 1, JobID: job.ID, Index: 1, Crop: upscale.Rect{X: 10, Y: 0, Width: 10, Height: 10}, Status: upscale.StageComplete(1)}
	tileB.SetStages(map[int]upscale.StageSlot{1: {OutputURL: srvB.URL}})
	require.NoError(t, tiles.CreateBatch(dbc, []*upscale.Tile{tileA, tileB}))

	require.NoError(t, s.Stitch(ctx, job.ID))

	got, err := jobs.GetByID(dbc, job.ID)
	require.NoError(t, err)
	assert.Equal(t, upscale.JobStatusCompleted, got.Status)
	assert.NotEmpty(t, got.FinalOutputURL)
	assert.Contains(t, blobs.data, "final/"+job.ID.String()+"/final.png")
}

func TestStitch_PartialSuccessWhenATileFailed(t *testing.T) {
	log, err := logger.New("development")
	require.NoError(t, err)

	jobs := newFakeJobRepo()
	tiles := newFakeTileRepo()
	events := newFakeEventRepo()
	blobs := newFakeBlobStore()
	s := New(log, jobs, tiles, events, blobs)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}

	job := &upscale.Job{
		ID:             uuid.New(),
		OriginalWidth:  10,
		OriginalHeight: 10,
		EffectiveScale: 2,
		TotalStages:    1,
		Status:         upscale.JobStatusTilesReady,
	}
	job.SetGrid(&upscale.TilingGrid{TilesX: 1, TilesY: 1, TileWidth: 10, TileHeight: 10, TotalTiles: 1})
	require.NoError(t, jobs.Create(dbc, job))

	failedTile := &upscale.Tile{ID: 0, JobID: job.ID, Index: 0, Crop: upscale.Rect{X: 0, Y: 0, Width: 10, Height: 10}, Status: upscale.TileStatusFailed}
	require.NoError(t, tiles.CreateBatch(dbc, []*upscale.Tile{failedTile}))

	require.NoError(t, s.Stitch(ctx, job.ID))

	got, err := jobs.GetByID(dbc, job.ID)
	require.NoError(t, err)
	assert.Equal(t, upscale.JobStatusPartialSuccess, got.Status)
}

func TestStitch_NoOpWhenJobNotTilesReady(t *testing.T) {
	log, err := logger.New("development")
	require.NoError(t, err)

	jobs := newFakeJobRepo()
	tiles := newFakeTileRepo()
	events := newFakeEventRepo()
	blobs := newFakeBlobStore()
	s := New(log, jobs, tiles, events, blobs)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}

	job := &upscale.Job{ID: uuid.New(), Status: upscale.JobStatusProcessing}
	require.NoError(t, jobs.Create(dbc, job))

	require.NoError(t, s.Stitch(ctx, job.ID))

	got, err := jobs.GetByID(dbc, job.ID)
	require.NoError(t, err)
	assert.Equal(t, upscale.JobStatusProcessing, got.Status, "stitch must be a no-op for a job that isn't tiles-ready")
}
