package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mrlokans/marketsync/internal/pipeline"
)

// StartSyncRequest is the body of POST /api/sync-runs.
type StartSyncRequest struct {
	TenantID    string `json:"tenant_id" binding:"required"`
	Marketplace string `json:"marketplace" binding:"required"`
}

// SyncRunsController exposes the sync pipeline.
type SyncRunsController struct {
	syncs SyncService
}

func NewSyncRunsController(syncs SyncService) *SyncRunsController {
	return &SyncRunsController{syncs: syncs}
}

// Start handles POST /api/sync-runs
func (sc *SyncRunsController) Start(c *gin.Context) {
	var req StartSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request: "+err.Error())
		return
	}

	runID, err := sc.syncs.StartSyncRun(c.Request.Context(), req.TenantID, req.Marketplace)
	switch {
	case errors.Is(err, pipeline.ErrUnknownMarketplace):
		respondBadRequest(c, err.Error())
		return
	case errors.Is(err, pipeline.ErrSyncInProgress):
		respondConflict(c, "sync_in_progress", err.Error())
		return
	case err != nil:
		respondInternalError(c, err, "start sync run")
		return
	}

	respondAccepted(c, "sync run started", gin.H{"run_id": runID})
}

// Get handles GET /api/sync-runs/:id
func (sc *SyncRunsController) Get(c *gin.Context) {
	progress, err := sc.syncs.GetSyncProgress(c.Request.Context(), c.Param("id"))
	if errors.Is(err, pipeline.ErrRunNotFound) {
		respondNotFound(c, "sync run")
		return
	}
	if err != nil {
		respondInternalError(c, err, "get sync progress")
		return
	}
	c.JSON(http.StatusOK, progress)
}

// Cancel handles POST /api/sync-runs/:id/cancel
func (sc *SyncRunsController) Cancel(c *gin.Context) {
	requested, err := sc.syncs.CancelSyncRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, pipeline.ErrRunNotFound) {
		respondNotFound(c, "sync run")
		return
	}
	if err != nil {
		respondInternalError(c, err, "cancel sync run")
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancel_requested": requested})
}

// Resume handles POST /api/sync-runs/:id/resume
func (sc *SyncRunsController) Resume(c *gin.Context) {
	err := sc.syncs.ResumeSyncRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, pipeline.ErrRunNotFound) {
		respondNotFound(c, "sync run")
		return
	}
	if errors.Is(err, pipeline.ErrSyncInProgress) {
		respondConflict(c, "sync_in_progress", err.Error())
		return
	}
	if err != nil {
		respondInternalError(c, err, "resume sync run")
		return
	}
	respondAccepted(c, "sync run resumed", nil)
}
