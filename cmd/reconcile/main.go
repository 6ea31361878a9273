package main

import (
	"context"
	"flag"
	"fmt"

	"supplychain-tracker-go/internal/common"
	"supplychain-tracker-go/internal/config"
	"supplychain-tracker-go/internal/listener"
	"supplychain-tracker-go/internal/models"

	"go.uber.org/zap"
)

func printDefects(defects []models.ReconciliationDefect) {
	common.PrintHeader(fmt.Sprintf("OPEN RECONCILIATION DEFECTS (%d)", len(defects)), common.WideWidth)
	if len(defects) == 0 {
		fmt.Println("Mirror is consistent with the registry")
	}
	for i, defect := range defects {
		isLast := i == len(defects)-1
		fmt.Printf("%s%s  %-16s ref %-12s attempts %d  %s\n",
			common.BoxPrefix(isLast),
			common.ShortId(defect.Id),
			defect.Kind,
			defect.Reference,
			defect.Attempts,
			defect.CreatedAt.Format("2006-01-02 15:04:05"))
		if defect.LastError != "" {
			fmt.Printf("%s  last error: %s\n", common.BoxDetailPrefix(isLast), defect.LastError)
		}
	}
	common.PrintFooter("Run with -repair to replay open defects against the registry", common.WideWidth)
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	repairFlag := flag.Bool("repair", false, "Replay open defects once instead of only listing them")
	limitFlag := flag.Int("limit", 100, "Maximum number of defects to list")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	if !*repairFlag {
		// listing only needs the mirror
		dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
		if err != nil {
			zap.L().Fatal("Failed to initialize database", zap.Error(err))
		}
		defer dbService.Close()

		defects, err := dbService.ListOpenDefects(ctx, *limitFlag)
		if err != nil {
			zap.L().Fatal("Failed to list defects", zap.Error(err))
		}
		printDefects(defects)
		return
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	defects := listener.NewDefectListener(listener.DefectListenerConfig{
		Repairer:    services.Engine,
		Store:       services.DbService,
		MaxAttempts: cfg.Listener.MaxAttempts,
		BatchSize:   *limitFlag,
	})
	summary, err := defects.Sweep(ctx)
	if err != nil {
		zap.L().Fatal("Repair sweep failed", zap.Error(err))
	}

	fmt.Println()
	common.PrintHeader("REPAIR SUMMARY", common.DefaultWidth)
	fmt.Printf("Open:       %d\n", summary.Open)
	fmt.Printf("Resolved:   %d\n", summary.Resolved)
	fmt.Printf("Failed:     %d\n", summary.Failed)
	fmt.Printf("Abandoned:  %d\n", summary.Abandoned)
	common.PrintSeparator("=", common.DefaultWidth)

	remaining, err := services.DbService.ListOpenDefects(ctx, *limitFlag)
	if err != nil {
		zap.L().Fatal("Failed to list defects", zap.Error(err))
	}
	printDefects(remaining)
}
