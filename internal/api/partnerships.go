package api

import (
	"net/http"

	"supplychain-tracker-go/internal/models"

	"github.com/gin-gonic/gin"
)

type partnershipRequest struct {
	ReceiverId string `json:"receiverId"`
}

type partnershipResponse struct {
	Status models.PartnershipStatus `json:"status"`
}

func (s *TrackerService) requestPartnership(c *gin.Context) {
	var req partnershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	partnership, err := s.gate.RequestPartnership(c.Request.Context(), caller(c), req.ReceiverId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, partnership)
}

func (s *TrackerService) respondToPartnership(c *gin.Context) {
	var req partnershipResponse
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	partnership, err := s.gate.RespondToPartnership(c.Request.Context(), caller(c), c.Param("id"), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, partnership)
}

func (s *TrackerService) listPartnerships(c *gin.Context) {
	partnerships, err := s.gate.ListPartnerships(c.Request.Context(), caller(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, partnerships)
}

func (s *TrackerService) pendingPartnerships(c *gin.Context) {
	partnerships, err := s.gate.PendingPartnerships(c.Request.Context(), caller(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, partnerships)
}
