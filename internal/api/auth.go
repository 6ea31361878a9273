package api

import (
	"net/http"

	"supplychain-tracker-go/internal/access"
	"supplychain-tracker-go/internal/models"

	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func (s *TrackerService) register(c *gin.Context) {
	var params access.RegisterParams
	if err := c.ShouldBindJSON(&params); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	user, token, err := s.gate.Register(c.Request.Context(), params)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, authResponse{Token: token, User: user})
}

func (s *TrackerService) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	user, token, err := s.gate.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, authResponse{Token: token, User: user})
}

func (s *TrackerService) me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user": caller(c)})
}
