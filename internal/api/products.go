package api

import (
	"net/http"

	"supplychain-tracker-go/internal/models"
	"supplychain-tracker-go/internal/reconcile"

	"github.com/gin-gonic/gin"
)

type authorizeRequest struct {
	Address string `json:"address"`
}

type proofRequest struct {
	Secret string `json:"secret"`
}

type verifyRequest struct {
	Proof   *models.MembershipProof `json:"proof"`
	BatchId int64                   `json:"batchId"`
}

func (s *TrackerService) createProducts(c *gin.Context) {
	var params reconcile.CreateProductsParams
	if err := c.ShouldBindJSON(&params); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	result, err := s.engine.CreateProducts(c.Request.Context(), caller(c), params)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *TrackerService) listProducts(c *gin.Context) {
	products, err := s.engine.ListVisibleProducts(c.Request.Context(), caller(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func (s *TrackerService) groupedBySender(c *gin.Context) {
	groups, err := s.engine.GroupBySender(c.Request.Context(), caller(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, groups)
}

func (s *TrackerService) getProduct(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}

	details, err := s.engine.GetProductDetails(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (s *TrackerService) qrCode(c *gin.Context) {
	dataUrl, err := s.engine.GetQRCode(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"qrCodeUrl": dataUrl})
}

func (s *TrackerService) transferProducts(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var params reconcile.TransferProductsParams
	if err := c.ShouldBindJSON(&params); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	params.ProductId = id

	result, err := s.engine.TransferProducts(c.Request.Context(), caller(c), params)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(outcomeStatus(result.Status), result)
}

func (s *TrackerService) authorizeManufacturer(c *gin.Context) {
	var req authorizeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}

	address, receipt, err := s.engine.AuthorizeManufacturer(c.Request.Context(), caller(c), req.Address)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": address, "receipt": receipt})
}

func (s *TrackerService) chainStatus(c *gin.Context) {
	status, err := s.engine.ChainStatus(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *TrackerService) generateProof(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var req proofRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}

	batchId, proof, err := s.engine.GenerateProof(c.Request.Context(), id, req.Secret)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"productId":     id,
		"batchId":       batchId,
		"proof":         proof.Proof,
		"publicSignals": proof.PublicSignals,
		"productHash":   proof.ProductHash,
	})
}

func (s *TrackerService) verifyProof(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	receipt, err := s.engine.VerifyProof(c.Request.Context(), id, req.BatchId, req.Proof)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true, "receipt": receipt})
}
