/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"context"
	"fmt"
	"net/http"

	"supplychain-tracker-go/internal/access"
	"supplychain-tracker-go/internal/reconcile"
	"supplychain-tracker-go/internal/store"

	"github.com/gin-gonic/gin"
)

// TrackerService exposes the gate and the reconciliation engine over HTTP
type TrackerService struct {
	store  store.RecordStore
	gate   *access.Gate
	engine *reconcile.Engine
}

func NewTrackerService(recordStore store.RecordStore, gate *access.Gate, engine *reconcile.Engine) *TrackerService {
	return &TrackerService{
		store:  recordStore,
		gate:   gate,
		engine: engine,
	}
}

func (s *TrackerService) HealthCheck(ctx context.Context) error {
	_, err := s.store.GetUsers(ctx)
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Router builds the gin engine with every route mounted under /api.
func (s *TrackerService) Router(corsOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(), CORSMiddleware(corsOrigins))

	api := r.Group("/api")
	api.GET("/health", s.health)

	auth := api.Group("/auth")
	{
		auth.POST("/register", s.register)
		auth.POST("/login", s.login)
		auth.GET("/me", s.AuthMiddleware(), s.me)
	}

	products := api.Group("/products")
	{
		products.GET("/chain-status", s.chainStatus)
		products.GET("/batch/:batchId", s.getBatch)
		products.GET("/:id", s.getProduct)
		products.POST("/:id/zk-verify", s.verifyProof)

		authed := products.Group("", s.AuthMiddleware())
		authed.POST("", s.createProducts)
		authed.GET("", s.listProducts)
		authed.GET("/grouped-by-sender", s.groupedBySender)
		authed.POST("/authorize-manufacturer", s.authorizeManufacturer)
		authed.POST("/batch", s.createBatch)
		authed.GET("/batch/list", s.listBatches)
		authed.POST("/batch/:batchId/transfer", s.transferBatch)
		authed.GET("/:id/qrcode", s.qrCode)
		authed.POST("/:id/transfer", s.transferProducts)
		authed.POST("/:id/zk-proof", s.generateProof)
	}

	partnerships := api.Group("/partnerships", s.AuthMiddleware())
	{
		partnerships.POST("/request", s.requestPartnership)
		partnerships.POST("/:id/accept", s.respondToPartnership)
		partnerships.GET("/list", s.listPartnerships)
		partnerships.GET("/requests", s.pendingPartnerships)
	}

	qrAccess := api.Group("/qr-access", s.AuthMiddleware())
	{
		qrAccess.POST("/request", s.requestQRAccess)
		qrAccess.POST("/:id/grant", s.grantQRAccess)
		qrAccess.GET("/requests", s.listQRAccessRequests)
	}

	return r
}

func (s *TrackerService) health(c *gin.Context) {
	if err := s.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":          "unavailable",
			"chainConfigured": s.engine.ChainConfigured(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"chainConfigured": s.engine.ChainConfigured(),
	})
}
