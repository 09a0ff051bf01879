package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mrlokans/marketsync/internal/batch"
)

// BatchesController exposes batch creation, cancellation and progress.
type BatchesController struct {
	batches BatchService
}

func NewBatchesController(batches BatchService) *BatchesController {
	return &BatchesController{batches: batches}
}

// Create handles POST /api/batches
func (bc *BatchesController) Create(c *gin.Context) {
	var req batch.CreateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request: "+err.Error())
		return
	}

	created, err := bc.batches.CreateBatch(c.Request.Context(), req)
	switch {
	case errors.Is(err, batch.ErrUnknownAction), errors.Is(err, batch.ErrNoTargets):
		respondBadRequest(c, err.Error())
		return
	case err != nil:
		respondInternalError(c, err, "create batch")
		return
	}

	respondCreated(c, created)
}

// List handles GET /api/batches?tenant_id=...&limit=...
func (bc *BatchesController) List(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		respondBadRequest(c, "tenant_id is required")
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	batches, err := bc.batches.ListBatches(c.Request.Context(), tenantID, limit)
	if err != nil {
		respondInternalError(c, err, "list batches")
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches})
}

// Get handles GET /api/batches/:id
func (bc *BatchesController) Get(c *gin.Context) {
	summary, err := bc.batches.GetBatchSummary(c.Request.Context(), c.Param("id"))
	if errors.Is(err, batch.ErrBatchNotFound) {
		respondNotFound(c, "batch")
		return
	}
	if err != nil {
		respondInternalError(c, err, "get batch")
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Cancel handles POST /api/batches/:id/cancel
func (bc *BatchesController) Cancel(c *gin.Context) {
	cancelled, err := bc.batches.CancelBatch(c.Request.Context(), c.Param("id"))
	if errors.Is(err, batch.ErrBatchNotFound) {
		respondNotFound(c, "batch")
		return
	}
	if err != nil {
		respondInternalError(c, err, "cancel batch")
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}
