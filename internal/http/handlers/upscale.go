package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-backend/internal/domain/upscale"
	"github.com/yungbote/neurobridge-backend/internal/orchestrator"
	"github.com/yungbote/neurobridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/neurobridge-backend/internal/planner"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
	"github.com/yungbote/neurobridge-backend/internal/provider"
	"github.com/yungbote/neurobridge-backend/internal/statusreader"

	reposupscale "github.com/yungbote/neurobridge-backend/internal/data/repos/upscale"
)

// UpscaleHandler serves the submission, callback, status, resume, and
// manual-trigger surface described by the external interface design.
type UpscaleHandler struct {
	log          *logger.Logger
	orch         *orchestrator.Orchestrator
	status       *statusreader.StatusReader
	jobs         reposupscale.JobRepo
	tiles        reposupscale.TileRepo
	callbackBase string
}

func NewUpscaleHandler(log *logger.Logger, orch *orchestrator.Orchestrator, status *statusreader.StatusReader, jobs reposupscale.JobRepo, tiles reposupscale.TileRepo, callbackBase string) *UpscaleHandler {
	return &UpscaleHandler{
		log:          log.With("component", "UpscaleHandler"),
		orch:         orch,
		status:       status,
		jobs:         jobs,
		tiles:        tiles,
		callbackBase: callbackBase,
	}
}

type submitRequest struct {
	ImageBase64   string `json:"imageBase64"`
	Scale         int    `json:"scale"`
	Quality       string `json:"quality"`
	Plan          string `json:"plan"`
	UserID        string `json:"userId"`
	QualityMode   string `json:"qualityMode"`
	SelectedModel string `json:"selectedModel"`
}

// Submit handles POST /submit.
func (h *UpscaleHandler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, http.StatusBadRequest, "malformed request body", nil)
		return
	}
	if req.ImageBase64 == "" {
		respondValidationError(c, http.StatusBadRequest, "missing image", nil)
		return
	}

	principalID, ok := resolvePrincipal(c, req.UserID)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "missing principal"})
		return
	}

	raw, err := decodeImage(req.ImageBase64)
	if err != nil {
		respondValidationError(c, http.StatusBadRequest, "could not decode image", nil)
		return
	}

	opts := orchestrator.SubmitOptions{
		PinnedModelID: req.SelectedModel,
		CallbackBase:  h.callbackBase,
	}
	if req.QualityMode == "speed" {
		off := false
		opts.FaceEnhance = &off
	}

	job, err := h.orch.Submit(c.Request.Context(), principalID, raw, req.Scale, upscale.Category(req.Quality), opts)
	if err != nil {
		h.respondSubmitError(c, err)
		return
	}

	totalTiles := 0
	if grid := job.Grid(); grid != nil {
		totalTiles = grid.TotalTiles
	}

	c.JSON(http.StatusOK, gin.H{
		"success":             true,
		"jobId":               job.ID,
		"estimatedTime":       estimateSeconds(job.TotalStages),
		"estimatedCost":       estimateCost(job.EffectiveScale, totalTiles),
		"totalStages":         job.TotalStages,
		"totalTiles":          totalTiles,
		"originalDimensions":  gin.H{"width": job.OriginalWidth, "height": job.OriginalHeight},
		"targetScale":         job.EffectiveScale,
	})
}

func (h *UpscaleHandler) respondSubmitError(c *gin.Context, err error) {
	if verr, ok := err.(*planner.ValidationError); ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"success":     false,
			"error":       "validation error",
			"message":     verr.Message,
			"validScales": verr.ValidScales,
		})
		return
	}
	if errors.Is(err, orchestrator.ErrUnscalable) {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "unscalable",
			"message": err.Error(),
		})
		return
	}
	h.log.Error("submit failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal error", "message": err.Error()})
}

type callbackRequest struct {
	ID     string      `json:"id"`
	Status string      `json:"status"`
	Output interface{} `json:"output"`
	Error  interface{} `json:"error"`
}

// Callback handles POST /callback, the provider-initiated completion hook.
// The job/tile/stage triple travels in the webhook query string, set when
// the prediction was submitted.
func (h *UpscaleHandler) Callback(c *gin.Context) {
	var req callbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "received": false})
		return
	}

	jobID, err := uuid.Parse(c.Query("job"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "received": false})
		return
	}
	stage := queryInt(c, "stage", 1)
	var tileID *int
	if raw := c.Query("tile"); raw != "" {
		id := atoiOrZero(raw)
		tileID = &id
	}

	event := provider.CompletionEvent{
		PredictionID: req.ID,
		Status:       provider.Status(req.Status),
		Output:       outputString(req.Output),
		Error:        errorString(req.Error),
	}

	if err := h.orch.OnCompletion(c.Request.Context(), jobID, tileID, stage, event); err != nil {
		h.log.Warn("callback processing failed", "job", jobID, "error", err)
		c.JSON(http.StatusOK, gin.H{"ok": false, "received": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "received": true})
}

// Status handles GET /status?jobId=
func (h *UpscaleHandler) Status(c *gin.Context) {
	jobID, err := uuid.Parse(c.Query("jobId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid jobId"})
		return
	}
	st, err := h.status.Get(c.Request.Context(), jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "job not found"})
		return
	}

	resp := gin.H{
		"success":                true,
		"jobId":                  st.JobID,
		"status":                 st.State,
		"progress":               st.PercentComplete,
		"currentStage":           st.CurrentStage,
		"totalStages":            st.TotalStages,
		"currentOutputUrl":       st.CurrentOutputURL,
		"finalOutputUrl":         st.FinalOutputURL,
		"errorMessage":           st.ErrorMessage,
		"estimatedTimeRemaining": st.EstimatedSeconds,
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	job, err := h.jobs.GetByID(dbc, jobID)
	if err == nil {
		resp["usingTiling"] = job.UsingTiling
		resp["target_scale"] = job.EffectiveScale
		if grid := job.Grid(); grid != nil {
			resp["tilingInfo"] = grid
			resp["tile_grid"] = grid
		}
		resp["stages"] = job.ChainStrategy()
		if job.Status == upscale.JobStatusTilesReady {
			if tiles, terr := h.tiles.GetByJobID(dbc, jobID); terr == nil {
				resp["tiles_data"] = tiles
			}
		}
	}

	c.JSON(http.StatusOK, resp)
}

// CheckAll handles POST /check-all: it lists every job in processing status
// and returns each one's id and status. It does not poll the provider or run
// a reconciler sweep; missed callbacks are recovered only by the background
// reconciler.
func (h *UpscaleHandler) CheckAll(c *gin.Context) {
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	stale, err := h.jobs.ListStale(dbc, upscale.JobStatusProcessing, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal error"})
		return
	}
	results := make([]gin.H, 0, len(stale))
	for _, j := range stale {
		results = append(results, gin.H{"jobId": j.ID, "status": j.Status})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "checked": len(stale), "results": results})
}

type stitchRequest struct {
	JobID string `json:"jobId"`
}

// Stitch handles POST /stitch, a manual finalize trigger for a job already
// sitting in tiles-ready (normally reached automatically).
func (h *UpscaleHandler) Stitch(c *gin.Context) {
	var req stitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "malformed request body"})
		return
	}
	jobID, err := uuid.Parse(req.JobID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid jobId"})
		return
	}
	if err := h.orch.Finalize(c.Request.Context(), jobID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "stitch failed", "message": err.Error()})
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	job, err := h.jobs.GetByID(dbc, jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"jobId":    job.ID,
		"finalUrl": job.FinalOutputURL,
		"dimensions": gin.H{
			"width":  job.OriginalWidth * job.EffectiveScale,
			"height": job.OriginalHeight * job.EffectiveScale,
		},
	})
}

// Resume handles POST /resume, the client-side-split continuation path for
// >=28x targets. This implementation never produces a needs-split job (the
// safe-scale check rejects those targets before a job is created), so this
// endpoint only ever reports that there is nothing to resume.
func (h *UpscaleHandler) Resume(c *gin.Context) {
	var req struct {
		JobID     string `json:"jobId"`
		TilesData []struct {
			TileID int    `json:"tileId"`
			URL    string `json:"url"`
		} `json:"tilesData"`
		NextStage int `json:"nextStage"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "malformed request body"})
		return
	}
	jobID, err := uuid.Parse(req.JobID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid jobId"})
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	job, err := h.jobs.GetByID(dbc, jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "job not found"})
		return
	}
	if job.Status != upscale.JobStatusNeedsSplit {
		c.JSON(http.StatusOK, gin.H{
			"success":       true,
			"jobId":         job.ID,
			"nextStage":     job.CurrentStage,
			"tilesLaunched": 0,
			"tilesFailed":   0,
			"totalTiles":    0,
		})
		return
	}
	// A >=28x needs-split job would be picked up here; out of scope for this
	// deployment's supported scale ceiling of 24x.
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "resume is not supported for this job"})
}
