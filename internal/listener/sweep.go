package listener

import (
	"context"
	"fmt"
	"time"

	"supplychain-tracker-go/internal/models"

	"go.uber.org/zap"
)

// ANSI color helpers for console output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// SweepSummary counts what one sweep did with the open defects it saw.
type SweepSummary struct {
	Open      int
	Resolved  int
	Failed    int
	Abandoned int
	Skipped   int
}

// Sweep attempts every open defect not in backoff once, oldest first. Defects are handled
// sequentially since several may touch the same product.
func (l *DefectListener) Sweep(ctx context.Context) (SweepSummary, error) {
	var summary SweepSummary

	// Defects in backoff stay out of the batch so they cannot crowd out newer ones.
	held := l.coolingDownIds()
	summary.Skipped = len(held)

	defects, err := l.store.ListOpenDefects(ctx, l.batchSize, held...)
	if err != nil {
		return summary, fmt.Errorf("failed to list open defects: %w", err)
	}
	summary.Open = len(defects)
	if len(defects) == 0 {
		zap.L().Debug("No open reconciliation defects")
		return summary, nil
	}

	fmt.Printf("\n%s[%s] Repairing %d reconciliation defects%s\n",
		colorCyan, time.Now().Format("15:04:05"), len(defects), colorReset)

	for _, defect := range defects {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		if l.coolingDown(defect.Id) {
			summary.Skipped++
			fmt.Printf("  %s- %s %s (backoff)%s\n", colorGray, defect.Kind, defect.Reference, colorReset)
			continue
		}

		switch l.repair(ctx, defect) {
		case models.DefectResolved:
			summary.Resolved++
		case models.DefectAbandoned:
			summary.Abandoned++
		default:
			summary.Failed++
		}
	}
	return summary, nil
}

// repair runs one attempt on defect and returns its resulting status.
func (l *DefectListener) repair(ctx context.Context, defect models.ReconciliationDefect) models.DefectStatus {
	short := defect.Id
	if len(short) > 8 {
		short = short[:8]
	}

	repairErr := l.repairer.RepairDefect(ctx, defect)
	if repairErr == nil {
		if err := l.store.ResolveDefect(ctx, defect.Id); err != nil {
			zap.L().Error("Failed to mark defect resolved",
				zap.String("defect_id", defect.Id),
				zap.Error(err))
			return models.DefectOpen
		}
		l.clearFailure(defect.Id)
		fmt.Printf("  %s✓ %s %s | %s%s\n", colorGreen, defect.Kind, defect.Reference, short, colorReset)
		return models.DefectResolved
	}

	abandon := defect.Attempts+1 >= l.maxAttempts
	if err := l.store.RecordDefectAttempt(ctx, defect.Id, repairErr, abandon); err != nil {
		zap.L().Error("Failed to record defect attempt",
			zap.String("defect_id", defect.Id),
			zap.Error(err))
	}
	l.markFailed(defect.Id)

	if abandon {
		fmt.Printf("  %s✗ %s %s | %s | abandoned: %s%s\n", colorRed, defect.Kind, defect.Reference, short, repairErr, colorReset)
		zap.L().Error("Reconciliation defect abandoned",
			zap.String("defect_id", defect.Id),
			zap.String("defect_kind", string(defect.Kind)),
			zap.String("reference", defect.Reference),
			zap.Int("attempts", defect.Attempts+1),
			zap.Error(repairErr))
		return models.DefectAbandoned
	}

	fmt.Printf("  %s~ %s %s | %s | %s%s\n", colorYellow, defect.Kind, defect.Reference, short, repairErr, colorReset)
	zap.L().Warn("Reconciliation defect repair failed",
		zap.String("defect_id", defect.Id),
		zap.String("defect_kind", string(defect.Kind)),
		zap.Int("attempts", defect.Attempts+1),
		zap.Error(repairErr))
	return models.DefectOpen
}
