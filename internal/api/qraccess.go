package api

import (
	"net/http"

	"supplychain-tracker-go/internal/models"

	"github.com/gin-gonic/gin"
)

type qrAccessRequest struct {
	BatchId        int64  `json:"batchId"`
	ManufacturerId string `json:"manufacturerId"`
}

type qrAccessResponse struct {
	Status models.QRAccessStatus `json:"status"`
}

func (s *TrackerService) requestQRAccess(c *gin.Context) {
	var req qrAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	request, err := s.gate.RequestQRAccess(c.Request.Context(), caller(c), req.BatchId, req.ManufacturerId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, request)
}

func (s *TrackerService) grantQRAccess(c *gin.Context) {
	var req qrAccessResponse
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	request, err := s.gate.RespondToQRAccess(c.Request.Context(), caller(c), c.Param("id"), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, request)
}

func (s *TrackerService) listQRAccessRequests(c *gin.Context) {
	requests, err := s.gate.ListQRAccessRequests(c.Request.Context(), caller(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, requests)
}
