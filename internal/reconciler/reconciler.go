// Package reconciler runs the background sweep that recovers from missed
// provider callbacks: it polls the provider directly for any processing job
// whose last callback is older than the staleness threshold, and relays whatever
// it finds into the same Orchestrator.OnCompletion path an HTTP callback
// would have used, so there is exactly one place completion logic lives.
package reconciler

import (
	"context"
	"time"

	"github.com/yungbote/neurobridge-backend/internal/domain/upscale"
	"github.com/yungbote/neurobridge-backend/internal/orchestrator"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
	"github.com/yungbote/neurobridge-backend/internal/provider"

	reposupscale "github.com/yungbote/neurobridge-backend/internal/data/repos/upscale"
)

// Config tunes the sweep cadence and staleness thresholds.
type Config struct {
	Interval     time.Duration // ~10s between sweeps
	JobStaleness time.Duration // how long since last_callback_at before a job is polled
}

func DefaultConfig() Config {
	return Config{
		Interval:     10 * time.Second,
		JobStaleness: 90 * time.Second,
	}
}

type Reconciler struct {
	log  *logger.Logger
	jobs reposupscale.JobRepo
	tiles reposupscale.TileRepo
	prov provider.Client
	orch *orchestrator.Orchestrator
	cfg  Config
}

func New(log *logger.Logger, jobs reposupscale.JobRepo, tiles reposupscale.TileRepo, prov provider.Client, orch *orchestrator.Orchestrator, cfg Config) *Reconciler {
	return &Reconciler{
		log:   log.With("component", "Reconciler"),
		jobs:  jobs,
		tiles: tiles,
		prov:  prov,
		orch:  orch,
		cfg:   cfg,
	}
}

// Run blocks, ticking every cfg.Interval until ctx is canceled. App.Start in
// internal/app runs it in its own goroutine.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	dbc := dbctx.Context{Ctx: ctx}
	stale, err := r.jobs.ListStale(dbc, upscale.JobStatusProcessing, r.cfg.JobStaleness)
	if err != nil {
		r.log.Warn("list stale jobs failed", "error", err)
		return
	}
	for _, job := range stale {
		r.reconcileJob(ctx, job)
	}
}

func (r *Reconciler) reconcileJob(ctx context.Context, job *upscale.Job) {
	if job.UsingTiling {
		r.reconcileTiledJob(ctx, job)
		return
	}
	r.reconcileWholeImageJob(ctx, job)
}

func (r *Reconciler) reconcileWholeImageJob(ctx context.Context, job *upscale.Job) {
	if job.PredictionID == "" {
		return
	}
	pred, err := r.prov.Get(ctx, job.PredictionID)
	if err != nil {
		r.log.Warn("reconciler poll failed", "job", job.ID, "prediction", job.PredictionID, "error", err)
		return
	}
	if !pred.Status.IsTerminal() {
		return
	}
	event := provider.CompletionEvent{PredictionID: pred.ID, Status: pred.Status, Output: pred.Output, Error: pred.Error}
	if err := r.orch.OnCompletion(ctx, job.ID, nil, job.CurrentStage, event); err != nil {
		r.log.Warn("reconciler completion relay failed", "job", job.ID, "error", err)
	}
}

func (r *Reconciler) reconcileTiledJob(ctx context.Context, job *upscale.Job) {
	// Step 1: every non-failed tile may already have finished the current
	// stage without the job ever advancing, if the completion that should
	// have triggered the advance was lost.
	if err := r.orch.AdvanceStuckStage(ctx, job.ID); err != nil {
		r.log.Warn("reconciler stuck-stage advance failed", "job", job.ID, "error", err)
	}

	// Step 2: poll the provider for tiles still in flight on the current
	// stage and relay whatever completion it reports.
	dbc := dbctx.Context{Ctx: ctx}
	tiles, err := r.tiles.GetByJobID(dbc, job.ID)
	if err != nil {
		r.log.Warn("reconciler list tiles failed", "job", job.ID, "error", err)
		return
	}
	processing := upscale.StageProcessing(job.CurrentStage)
	for _, t := range tiles {
		if t.Status != processing {
			continue
		}
		slot, ok := t.Stages()[job.CurrentStage]
		if !ok || slot.PredictionID == "" {
			continue
		}
		pred, err := r.prov.Get(ctx, slot.PredictionID)
		if err != nil {
			r.log.Warn("reconciler tile poll failed", "job", job.ID, "tile", t.ID, "error", err)
			continue
		}
		if !pred.Status.IsTerminal() {
			continue
		}
		event := provider.CompletionEvent{PredictionID: pred.ID, Status: pred.Status, Output: pred.Output, Error: pred.Error}
		if err := r.orch.OnCompletion(ctx, job.ID, &t.ID, job.CurrentStage, event); err != nil {
			r.log.Warn("reconciler tile completion relay failed", "job", job.ID, "tile", t.ID, "error", err)
		}
	}

	// Step 3: a tile that finished the prior stage but never got its next
	// stage launched (launchTileNextStage failed and was only logged) sits
	// outside both of the above checks; repair it directly.
	if err := r.orch.RepairStalledTileLaunches(ctx, job.ID); err != nil {
		r.log.Warn("reconciler launch-gap repair failed", "job", job.ID, "error", err)
	}
}
