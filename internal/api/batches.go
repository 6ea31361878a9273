package api

import (
	"net/http"

	"supplychain-tracker-go/internal/reconcile"

	"github.com/gin-gonic/gin"
)

func (s *TrackerService) createBatch(c *gin.Context) {
	var params reconcile.CreateBatchParams
	if err := c.ShouldBindJSON(&params); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	result, err := s.engine.CreateBatch(c.Request.Context(), caller(c), params)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *TrackerService) listBatches(c *gin.Context) {
	batches, err := s.engine.ListVisibleBatches(c.Request.Context(), caller(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, batches)
}

func (s *TrackerService) getBatch(c *gin.Context) {
	batchId, ok := int64Param(c, "batchId")
	if !ok {
		return
	}

	details, err := s.engine.GetBatchDetails(c.Request.Context(), batchId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (s *TrackerService) transferBatch(c *gin.Context) {
	batchId, ok := int64Param(c, "batchId")
	if !ok {
		return
	}
	var params reconcile.TransferBatchParams
	if err := c.ShouldBindJSON(&params); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	params.BatchId = batchId

	result, err := s.engine.TransferBatch(c.Request.Context(), caller(c), params)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(outcomeStatus(result.Status), result)
}
