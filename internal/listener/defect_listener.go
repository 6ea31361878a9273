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

package listener

import (
	"context"
	"fmt"
	"sync"
	"time"

	"supplychain-tracker-go/internal/models"
	"supplychain-tracker-go/internal/store"

	"go.uber.org/zap"
)

const (
	defaultBatchSize    = 50
	defaultMaxAttempts  = 10
	defaultRetryBackoff = 5 * time.Minute
)

// Repairer replays the mirror write a reconciliation defect describes.
type Repairer interface {
	RepairDefect(ctx context.Context, defect models.ReconciliationDefect) error
}

// DefectStore is the part of the record store the listener works against.
type DefectStore interface {
	ListOpenDefects(ctx context.Context, limit int, excludeIds ...string) ([]models.ReconciliationDefect, error)
	ResolveDefect(ctx context.Context, defectId string) error
	RecordDefectAttempt(ctx context.Context, defectId string, attemptErr error, abandon bool) error
}

var _ DefectStore = store.RecordStore(nil)

// DefectListenerConfig contains configuration for DefectListener
type DefectListenerConfig struct {
	Repairer        Repairer
	Store           DefectStore
	PollingInterval time.Duration
	MaxAttempts     int
	BatchSize       int
	RetryBackoff    time.Duration
}

// DefectListener polls the record store for open reconciliation defects and
// replays them until they resolve or run out of attempts.
type DefectListener struct {
	repairer Repairer
	store    DefectStore

	// Defects that failed recently are held back for retryBackoff
	failedAt        map[string]time.Time
	mutex           sync.RWMutex
	pollingInterval time.Duration
	retryBackoff    time.Duration
	maxAttempts     int
	batchSize       int
	now             func() time.Time

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewDefectListener creates a new defect listener
func NewDefectListener(cfg DefectListenerConfig) *DefectListener {
	l := &DefectListener{
		repairer:        cfg.Repairer,
		store:           cfg.Store,
		failedAt:        make(map[string]time.Time),
		pollingInterval: cfg.PollingInterval,
		retryBackoff:    cfg.RetryBackoff,
		maxAttempts:     cfg.MaxAttempts,
		batchSize:       cfg.BatchSize,
		now:             time.Now,
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}
	if l.pollingInterval <= 0 {
		l.pollingInterval = time.Minute
	}
	if l.retryBackoff <= 0 {
		l.retryBackoff = defaultRetryBackoff
	}
	if l.maxAttempts <= 0 {
		l.maxAttempts = defaultMaxAttempts
	}
	if l.batchSize <= 0 {
		l.batchSize = defaultBatchSize
	}
	return l
}

// Start performs a startup sweep and then begins polling in the background.
func (l *DefectListener) Start(ctx context.Context) error {
	zap.L().Info("Starting defect listener")

	summary, err := l.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("startup sweep failed: %w", err)
	}
	zap.L().Info("Startup sweep completed",
		zap.Int("resolved", summary.Resolved),
		zap.Int("failed", summary.Failed),
		zap.Int("abandoned", summary.Abandoned))

	go l.pollLoop(ctx)

	zap.L().Info("Defect listener started successfully",
		zap.Duration("polling_interval", l.pollingInterval),
		zap.Duration("retry_backoff", l.retryBackoff),
		zap.Int("max_attempts", l.maxAttempts))
	return nil
}

// Stop gracefully stops the defect listener
func (l *DefectListener) Stop() {
	zap.L().Info("Stopping defect listener")
	close(l.stopChan)
	<-l.doneChan
	zap.L().Info("Defect listener stopped")
}

func (l *DefectListener) pollLoop(ctx context.Context) {
	defer close(l.doneChan)

	ticker := time.NewTicker(l.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := l.Sweep(ctx); err != nil {
				zap.L().Error("Defect sweep failed", zap.Error(err))
			}
			l.cleanupFailures()
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (l *DefectListener) coolingDown(defectId string) bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	at, exists := l.failedAt[defectId]
	return exists && l.now().Sub(at) < l.retryBackoff
}

func (l *DefectListener) coolingDownIds() []string {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	var ids []string
	now := l.now()
	for defectId, at := range l.failedAt {
		if now.Sub(at) < l.retryBackoff {
			ids = append(ids, defectId)
		}
	}
	return ids
}

func (l *DefectListener) markFailed(defectId string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.failedAt[defectId] = l.now()
}

func (l *DefectListener) clearFailure(defectId string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	delete(l.failedAt, defectId)
}

// cleanupFailures drops backoff entries that have expired
func (l *DefectListener) cleanupFailures() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	cutoff := l.now().Add(-l.retryBackoff)
	cleaned := 0
	for defectId, at := range l.failedAt {
		if at.Before(cutoff) {
			delete(l.failedAt, defectId)
			cleaned++
		}
	}

	if cleaned > 0 {
		zap.L().Debug("Cleaned up expired defect backoffs",
			zap.Int("cleaned", cleaned),
			zap.Int("remaining", len(l.failedAt)))
	}
}
