package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"supplychain-tracker-go/internal/access"
	"supplychain-tracker-go/internal/chain"
	"supplychain-tracker-go/internal/database"
	"supplychain-tracker-go/internal/events"
	"supplychain-tracker-go/internal/models"
	"supplychain-tracker-go/internal/qr"
	"supplychain-tracker-go/internal/reconcile"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

type Services struct {
	DbService *database.Service
	Registry  *chain.Client
	Publisher events.Publisher
	Gate      *access.Gate
	Engine    *reconcile.Engine
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	services := &Services{DbService: dbService}

	zap.L().Info("Connecting to product registry")
	services.Registry, err = chain.NewClient(ctx, cfg.Chain)
	if err != nil {
		services.Close()
		return nil, err
	}

	services.Publisher, err = events.NewPublisher(ctx, cfg.Redis)
	if err != nil {
		services.Close()
		return nil, err
	}

	tokens, err := access.NewTokenIssuer(cfg.Auth.JwtSecret, cfg.Auth.TokenTTL)
	if err != nil {
		services.Close()
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}

	services.Gate = access.NewGate(dbService, tokens, cfg.Auth.BcryptCost)
	services.Engine = reconcile.NewEngine(
		dbService,
		services.Registry,
		services.Gate,
		qr.NewGenerator(cfg.Server.FrontendUrl),
		services.Publisher,
		cfg.Server.ProductListLimit,
	)

	zap.L().Info("Services initialized",
		zap.Bool("chain_configured", services.Registry.Configured()),
		zap.String("signer", services.Registry.SignerAddress()))
	return services, nil
}

// InitializeDatabaseOnly initializes just the database service without the registry.
// Useful for read-only operations like listing open defects
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

func (cs *Services) Close() {
	if cs.Publisher != nil {
		if err := cs.Publisher.Close(); err != nil {
			zap.L().Warn("Failed to close event publisher", zap.Error(err))
		}
	}
	if cs.Registry != nil {
		cs.Registry.Close()
	}
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
