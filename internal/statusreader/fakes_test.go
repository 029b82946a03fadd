package statusreader

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-backend/internal/domain/upscale"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
)

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*upscale.Job
}

func newFakeJobRepo() *fakeJobRepo { return &fakeJobRepo{jobs: map[uuid.UUID]*upscale.Job{}} }

func (f *fakeJobRepo) Create(_ dbctx.Context, job *upscale.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeJobRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*upscale.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *j
	return &cp, nil
}

func (f *fakeJobRepo) UpdateFields(_ dbctx.Context, _ uuid.UUID, _ map[string]interface{}) error {
	return nil
}

func (f *fakeJobRepo) UpdateFieldsUnlessStatus(_ dbctx.Context, _ uuid.UUID, _ []string, _ map[string]interface{}) (bool, error) {
	return true, nil
}

func (f *fakeJobRepo) ListStale(_ dbctx.Context, _ upscale.JobStatus, _ time.Duration) ([]*upscale.Job, error) {
	return nil, nil
}

type fakeTileRepo struct {
	mu    sync.Mutex
	tiles map[uuid.UUID][]*upscale.Tile
}

func newFakeTileRepo() *fakeTileRepo { return &fakeTileRepo{tiles: map[uuid.UUID][]*upscale.Tile{}} }

func (f *fakeTileRepo) CreateBatch(_ dbctx.Context, tiles []*upscale.Tile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range tiles {
		f.tiles[t.JobID] = append(f.tiles[t.JobID], t)
	}
	return nil
}

func (f *fakeTileRepo) GetByJobID(_ dbctx.Context, jobID uuid.UUID) ([]*upscale.Tile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tiles[jobID], nil
}

func (f *fakeTileRepo) GetByID(_ dbctx.Context, jobID uuid.UUID, tileID int) (*upscale.Tile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tiles[jobID] {
		if t.ID == tileID {
			return t, nil
		}
	}
	return nil, errNotFound
}

func (f *fakeTileRepo) UpdateFieldsUnlessStatus(_ dbctx.Context, _ uuid.UUID, _ int, _ []string, _ map[string]interface{}) (bool, error) {
	return true, nil
}

func (f *fakeTileRepo) CountByStatus(_ dbctx.Context, jobID uuid.UUID, statuses []upscale.TileStatus) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, t := range f.tiles[jobID] {
		for _, s := range statuses {
			if t.Status == s {
				n++
			}
		}
	}
	return n, nil
}

func (f *fakeTileRepo) ListByStatus(_ dbctx.Context, jobID uuid.UUID, status upscale.TileStatus) ([]*upscale.Tile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*upscale.Tile
	for _, t := range f.tiles[jobID] {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

var errNotFound = fakeNotFoundErr{}

type fakeNotFoundErr struct{}

func (fakeNotFoundErr) Error() string { return "not found" }
