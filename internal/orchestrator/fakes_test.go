package orchestrator

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-backend/internal/domain/upscale"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/provider"
)

// fakeJobRepo, fakeTileRepo, fakeCallbackRepo and fakeEventRepo are
// in-memory stand-ins for the gorm-backed repos, letting the state machine
// in orchestrator.go/submit.go/completion.go be exercised without a
// database. UpdateFieldsUnlessStatus mirrors the real repo's race
// semantics: it refuses when the row's current status is disallowed.
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
		return nil, assertNotFound
	}
	cp := *j
	return &cp, nil
}

func (f *fakeJobRepo) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return assertNotFound
	}
	applyJobUpdates(j, updates)
	return nil
}

func (f *fakeJobRepo) UpdateFieldsUnlessStatus(_ dbctx.Context, id uuid.UUID, disallowed []string, updates map[string]interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return false, assertNotFound
	}
	for _, s := range disallowed {
		if string(j.Status) == s {
			return false, nil
		}
	}
	applyJobUpdates(j, updates)
	return true, nil
}

func (f *fakeJobRepo) ListStale(_ dbctx.Context, status upscale.JobStatus, _ time.Duration) ([]*upscale.Job, error) {
	return nil, nil
}

func applyJobUpdates(j *upscale.Job, updates map[string]interface{}) {
	for k, v := range updates {
		switch k {
		case "status":
			j.Status = upscale.JobStatus(v.(string))
		case "current_stage":
			j.CurrentStage = v.(int)
		case "current_output_url":
			j.CurrentOutputURL = v.(string)
		case "final_output_url":
			j.FinalOutputURL = v.(string)
		case "error_message":
			j.ErrorMessage = v.(string)
		case "retry_count":
			j.RetryCount = v.(int)
		case "prediction_id":
			j.PredictionID = v.(string)
		}
	}
}

type fakeTileRepo struct {
	mu    sync.Mutex
	tiles map[uuid.UUID]map[int]*upscale.Tile
}

func newFakeTileRepo() *fakeTileRepo {
	return &fakeTileRepo{tiles: map[uuid.UUID]map[int]*upscale.Tile{}}
}

func (f *fakeTileRepo) CreateBatch(_ dbctx.Context, tiles []*upscale.Tile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range tiles {
		if f.tiles[t.JobID] == nil {
			f.tiles[t.JobID] = map[int]*upscale.Tile{}
		}
		cp := *t
		f.tiles[t.JobID][t.ID] = &cp
	}
	return nil
}

func (f *fakeTileRepo) GetByJobID(_ dbctx.Context, jobID uuid.UUID) ([]*upscale.Tile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*upscale.Tile, 0, len(f.tiles[jobID]))
	for _, t := range f.tiles[jobID] {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeTileRepo) GetByID(_ dbctx.Context, jobID uuid.UUID, tileID int) (*upscale.Tile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tiles[jobID][tileID]
	if !ok {
		return nil, assertNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTileRepo) UpdateFieldsUnlessStatus(_ dbctx.Context, jobID uuid.UUID, tileID int, disallowed []string, updates map[string]interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tiles[jobID][tileID]
	if !ok {
		return false, assertNotFound
	}
	for _, s := range disallowed {
		if string(t.Status) == s {
			return false, nil
		}
	}
	if v, ok := updates["stages"]; ok {
		t.StagesJSON = v.([]byte)
	}
	if v, ok := updates["status"]; ok {
		t.Status = upscale.TileStatus(v.(string))
	}
	if v, ok := updates["error_message"]; ok {
		t.ErrorMessage = v.(string)
	}
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
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeCallbackRepo struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeCallbackRepo() *fakeCallbackRepo { return &fakeCallbackRepo{seen: map[string]bool{}} }

func (f *fakeCallbackRepo) RecordIfNew(_ dbctx.Context, predictionID string, _ uuid.UUID, _ *int, _ int, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[predictionID] {
		return false, nil
	}
	f.seen[predictionID] = true
	return true, nil
}

type fakeEventRepo struct {
	mu     sync.Mutex
	events []upscale.JobEventKind
}

func newFakeEventRepo() *fakeEventRepo { return &fakeEventRepo{} }

func (f *fakeEventRepo) Append(_ dbctx.Context, _ uuid.UUID, kind upscale.JobEventKind, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, kind)
	return nil
}

type fakeBlobStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore { return &fakeBlobStore{data: map[string][]byte{}} }

func (f *fakeBlobStore) Put(_ context.Context, key string, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = b
	return nil
}

func (f *fakeBlobStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.data[key]
	if !ok {
		return nil, assertNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeBlobStore) Copy(_ context.Context, srcKey, dstKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.data[srcKey]
	if !ok {
		return assertNotFound
	}
	f.data[dstKey] = b
	return nil
}

func (f *fakeBlobStore) PublicURL(key string) string { return "https://blobs.test/" + key }

type fakeQuotaOracle struct {
	max int
}

func (f fakeQuotaOracle) MaxAllowedScale(_ context.Context, _ uuid.UUID, _ upscale.Category) (int, error) {
	return f.max, nil
}

// fakeProvider lets tests script Submit's returned prediction id and any
// error without a live HTTP dependency.
type fakeProvider struct {
	mu        sync.Mutex
	nextID    int
	submitted []provider.SubmitInput
	submitErr error
}

func (f *fakeProvider) Submit(_ context.Context, in provider.SubmitInput) (*provider.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.nextID++
	f.submitted = append(f.submitted, in)
	return &provider.Prediction{ID: uuid.New().String(), Status: provider.StatusStarting}, nil
}

func (f *fakeProvider) Get(_ context.Context, predictionID string) (*provider.Prediction, error) {
	return &provider.Prediction{ID: predictionID, Status: provider.StatusProcessing}, nil
}

var assertNotFound = fakeNotFoundErr{}

type fakeNotFoundErr struct{}

func (fakeNotFoundErr) Error() string { return "not found" }
