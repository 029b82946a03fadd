// Package orchestrator creates jobs, submits stage-1 predictions, ingests
// completion events (from either the HTTP callback or the reconciler's
// poll), advances per-tile stage state, and finalizes jobs. This is the
// single state machine both paths converge through.
package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-backend/internal/domain/upscale"
	reposupscale "github.com/yungbote/neurobridge-backend/internal/data/repos/upscale"
	"github.com/yungbote/neurobridge-backend/internal/imageutil"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/neurobridge-backend/internal/pkg/errors"
	"github.com/yungbote/neurobridge-backend/internal/planner"
	"github.com/yungbote/neurobridge-backend/internal/platform/blobstore"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
	"github.com/yungbote/neurobridge-backend/internal/platform/quota"
	"github.com/yungbote/neurobridge-backend/internal/provider"
	"github.com/yungbote/neurobridge-backend/internal/registry"
)

// Config collects the scalar knobs spec.md pins to specific constants.
type Config struct {
	DimensionGuard     int           // max originalDim * effectiveScale, ~65536
	SubmitThrottle     time.Duration // ~200ms between tile-launch submissions
	MaxSubmitRetries   int           // 5, honouring server-advised retry-after
	StageTimeout       time.Duration // ~4 minutes per stage poll bound
	NonTiledMaxRetries int           // 3, for non-tiled provider transient failures
	TileFailureRatio   float64       // >50% tile failure fails the job
}

func DefaultConfig() Config {
	return Config{
		DimensionGuard:     65536,
		SubmitThrottle:     200 * time.Millisecond,
		MaxSubmitRetries:   5,
		StageTimeout:       4 * time.Minute,
		NonTiledMaxRetries: 3,
		TileFailureRatio:   0.5,
	}
}

// ErrUnscalable is returned when no valid scale survives the quota and
// dimension-guard reduction.
var ErrUnscalable = fmt.Errorf("%w: no valid scale satisfies quota and dimension guard", pkgerrors.ErrInvalidArgument)

// Finalizer is the stitcher's contract, as seen by Finalize. Kept narrow
// here to avoid an import cycle between orchestrator and stitcher.
type Finalizer interface {
	Stitch(ctx context.Context, jobID uuid.UUID) error
}

type Orchestrator struct {
	log       *logger.Logger
	jobs      reposupscale.JobRepo
	tiles     reposupscale.TileRepo
	callbacks reposupscale.CallbackRepo
	events    reposupscale.JobEventRepo
	blobs     blobstore.Store
	provider  provider.Client
	registry  *registry.Registry
	quota     quota.Oracle
	finalizer Finalizer
	cfg       Config
}

func New(
	log *logger.Logger,
	jobs reposupscale.JobRepo,
	tiles reposupscale.TileRepo,
	callbacks reposupscale.CallbackRepo,
	events reposupscale.JobEventRepo,
	blobs blobstore.Store,
	prov provider.Client,
	reg *registry.Registry,
	quotaOracle quota.Oracle,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		log:       log.With("component", "Orchestrator"),
		jobs:      jobs,
		tiles:     tiles,
		callbacks: callbacks,
		events:    events,
		blobs:     blobs,
		provider:  prov,
		registry:  reg,
		quota:     quotaOracle,
		cfg:       cfg,
	}
}

// SetFinalizer wires the stitcher after construction, breaking the
// orchestrator<->stitcher initialization cycle (the stitcher needs the
// orchestrator's repos/blobstore, and the orchestrator's Finalize needs the
// stitcher).
func (o *Orchestrator) SetFinalizer(f Finalizer) { o.finalizer = f }

// SubmitOptions carries the caller's optional preferences through to model
// selection.
type SubmitOptions struct {
	PinnedModelID string
	FaceEnhance   *bool
	CallbackBase  string
}

// Submit begins a new upscale job: it resolves the effective scale, plans
// the chain and tiling grid, persists the Job (and Tile rows, if tiling),
// uploads inputs to the blob store, and launches stage-1 predictions.
func (o *Orchestrator) Submit(ctx context.Context, principalID uuid.UUID, imageBytes []byte, requestedScale int, category upscale.Category, opts SubmitOptions) (*upscale.Job, error) {
	img, _, err := imageutil.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInvalidArgument, err)
	}
	width, height := imageutil.Dimensions(img)

	effective, err := o.resolveEffectiveScale(ctx, principalID, category, requestedScale, width, height)
	if err != nil {
		return nil, err
	}

	if err := planner.SafeScaleCheck(effective, width, height); err != nil {
		return nil, err
	}

	chainScales, err := planner.PlanChain(effective, category)
	if err != nil {
		return nil, err
	}

	firstModel := o.registry.Pick(category, 1, chainScales[0], registry.Options{PinnedModelID: opts.PinnedModelID, FaceEnhance: opts.FaceEnhance})
	plan, err := planner.PlanTiling(width, height, chainScales, category, firstModel)
	if err != nil {
		return nil, err
	}

	job := &upscale.Job{
		ID:             uuid.New(),
		PrincipalID:    principalID,
		OriginalWidth:  width,
		OriginalHeight: height,
		Category:       category,
		RequestedScale: requestedScale,
		EffectiveScale: effective,
		UsingTiling:    plan.UsingTiling,
		CurrentStage:   1,
		TotalStages:    len(chainScales),
		Status:         upscale.JobStatusProcessing,
	}
	job.SetChainStrategy(buildChainStages(chainScales, category, o.registry, opts))
	job.SetStageTemplates(plan.Templates)
	job.SetGrid(plan.Grid)

	inputKey := fmt.Sprintf("%s%s/input.png", blobstore.StagingPrefix, job.ID.String())
	if err := o.blobs.Put(ctx, inputKey, bytes.NewReader(imageBytes)); err != nil {
		return nil, fmt.Errorf("upload input: %w", err)
	}
	job.InputURL = o.blobs.PublicURL(inputKey)

	dbc := dbctx.Context{Ctx: ctx}
	if err := o.jobs.Create(dbc, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	_ = o.events.Append(dbc, job.ID, upscale.JobEventSubmitted, fmt.Sprintf("scale=%d category=%s tiling=%v", effective, category, plan.UsingTiling))

	if plan.UsingTiling {
		if err := o.submitTiledStageOne(ctx, job, img, plan, opts); err != nil {
			return nil, err
		}
	} else {
		if err := o.submitWholeImageStageOne(ctx, job, imageBytes, opts); err != nil {
			return nil, err
		}
	}

	return job, nil
}

// resolveEffectiveScale implements §4.4's scale resolution: the effective
// scale is the largest valid integer scale that is <= the requested scale,
// <= the quota oracle's cap, and keeps originalMaxDim * scale within the
// dimension guard. If no valid scale survives, the request is unscalable.
func (o *Orchestrator) resolveEffectiveScale(ctx context.Context, principalID uuid.UUID, category upscale.Category, requested, width, height int) (int, error) {
	if !planner.IsValidScale(requested) {
		if requested > planner.MaxSupportedScale {
			return 0, &planner.ValidationError{
				Message:     fmt.Sprintf("requested scale %d exceeds the maximum supported scale of %d", requested, planner.MaxSupportedScale),
				ValidScales: planner.ValidScales,
				Suggestions: []string{"reduce scale", "resize input"},
			}
		}
		return 0, &planner.ValidationError{
			Message:     fmt.Sprintf("scale %d is not one of the supported values", requested),
			ValidScales: planner.ValidScales,
		}
	}

	maxQuota, err := o.quota.MaxAllowedScale(ctx, principalID, category)
	if err != nil {
		return 0, fmt.Errorf("quota lookup: %w", err)
	}

	maxDim := width
	if height > maxDim {
		maxDim = height
	}

	best := 0
	for _, s := range planner.ValidScales {
		if s > requested || s > maxQuota {
			continue
		}
		if maxDim*s > o.cfg.DimensionGuard {
			continue
		}
		if s > best {
			best = s
		}
	}
	if best == 0 {
		return 0, ErrUnscalable
	}
	if best < requested {
		o.log.Info("effective scale reduced by guard", "requested", requested, "effective", best, "quotaMax", maxQuota)
	}
	return best, nil
}

func buildChainStages(scales []int, category upscale.Category, reg *registry.Registry, opts SubmitOptions) []upscale.ChainStage {
	out := make([]upscale.ChainStage, 0, len(scales))
	for i, scale := range scales {
		stageIdx := i + 1
		m := reg.Pick(category, stageIdx, scale, registry.Options{PinnedModelID: opts.PinnedModelID, FaceEnhance: opts.FaceEnhance})
		out = append(out, upscale.ChainStage{
			StageIndex:   stageIdx,
			ModelID:      m.ID,
			ModelVersion: m.Version,
			Scale:        scale,
			FaceEnhance:  m.SupportsFaceEnhance,
		})
	}
	return out
}
