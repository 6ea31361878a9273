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

// Package reconcile keeps the record store consistent with the registry.
// Chain calls always run first; a mirror write that fails after a confirmed
// chain call is persisted as a reconciliation defect instead of being lost.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"supplychain-tracker-go/internal/access"
	"supplychain-tracker-go/internal/apperr"
	"supplychain-tracker-go/internal/chain"
	"supplychain-tracker-go/internal/events"
	"supplychain-tracker-go/internal/models"
	"supplychain-tracker-go/internal/qr"
	"supplychain-tracker-go/internal/store"

	"go.uber.org/zap"
)

const (
	maxCreateQuantity   = 100
	maxTransferQuantity = 50

	defaultProductListLimit = 500

	counterNftTokenId     = "nftTokenId"
	standaloneCounterBase = "standalone:"
)

type Engine struct {
	store     store.RecordStore
	chain     chain.Registry
	gate      *access.Gate
	qr        *qr.Generator
	publisher events.Publisher
	listLimit int
	now       func() time.Time
}

func NewEngine(
	recordStore store.RecordStore,
	registry chain.Registry,
	gate *access.Gate,
	qrGenerator *qr.Generator,
	publisher events.Publisher,
	listLimit int,
) *Engine {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if listLimit <= 0 {
		listLimit = defaultProductListLimit
	}
	return &Engine{
		store:     recordStore,
		chain:     registry,
		gate:      gate,
		qr:        qrGenerator,
		publisher: publisher,
		listLimit: listLimit,
		now:       time.Now,
	}
}

func (e *Engine) requireChain() error {
	if !e.chain.Configured() {
		return chainError(chain.ErrNotConfigured)
	}
	return nil
}

// chainError classifies a registry failure.
func chainError(err error) *apperr.Error {
	switch {
	case errors.Is(err, chain.ErrNotConfigured):
		return apperr.Wrap(apperr.KindChainUnavailable, err, "Contract not configured")
	case errors.Is(err, chain.ErrConfirmationTimeout):
		return apperr.Wrap(apperr.KindChainUnavailable, err, "Timed out waiting for confirmation")
	case errors.Is(err, chain.ErrReverted):
		return apperr.Wrap(apperr.KindChainRejection, err, "Transaction rejected")
	default:
		return apperr.Wrap(apperr.KindChainUnavailable, err, "Registry unavailable")
	}
}

// readError classifies a failed registry read of a single record. Reverted
// reads mean the record does not exist.
func readError(err error, notFound string) *apperr.Error {
	if errors.Is(err, chain.ErrReverted) {
		return apperr.Wrap(apperr.KindNotFound, err, "%s", notFound)
	}
	return chainError(err)
}

// persistDefect stores a defect with a context detached from request
// cancellation. It returns "" when the defect itself could not be stored.
func (e *Engine) persistDefect(ctx context.Context, kind models.DefectKind, reference string, payload any, cause error) string {
	defect, err := e.store.RecordDefect(context.WithoutCancel(ctx), store.RecordDefectParams{
		Kind:      kind,
		Reference: reference,
		Payload:   payload,
	})
	if err != nil {
		zap.L().Error("Failed to persist reconciliation defect",
			zap.String("defect_kind", string(kind)),
			zap.String("reference", reference),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return ""
	}

	zap.L().Error("Reconciliation defect recorded",
		zap.String("defect_id", defect.Id),
		zap.String("defect_kind", string(kind)),
		zap.String("reference", reference),
		zap.Error(cause))
	return defect.Id
}

// recordDefect persists a diverged mirror write and returns the
// consistency error to surface to the caller.
func (e *Engine) recordDefect(ctx context.Context, kind models.DefectKind, reference string, payload any, cause error) (string, *apperr.Error) {
	defectId := e.persistDefect(ctx, kind, reference, payload, cause)
	if defectId == "" {
		return "", apperr.Wrap(apperr.KindConsistency, cause, "Chain state confirmed but mirror write failed for %s", reference)
	}
	return defectId, apperr.Wrap(apperr.KindConsistency, cause, "Chain state confirmed but mirror write failed for %s (defect %s)", reference, defectId)
}

// recordPendingTx persists a submitted transaction whose outcome is unknown
// together with the mirror write it owes once mined.
func (e *Engine) recordPendingTx(ctx context.Context, pending *chain.PendingTxError, payload models.PendingTxPayload) (string, *apperr.Error) {
	payload.TxHash = pending.TxHash
	payload.Method = pending.Method
	defectId := e.persistDefect(ctx, models.DefectPendingTx, "tx:"+pending.TxHash, payload, pending)
	if defectId == "" {
		return "", apperr.Wrap(apperr.KindConsistency, pending, "Transaction %s submitted but not confirmed", pending.TxHash)
	}
	return defectId, apperr.Wrap(apperr.KindConsistency, pending, "Transaction %s submitted but not confirmed (defect %s)", pending.TxHash, defectId)
}

func (e *Engine) publish(ctx context.Context, event events.Event) {
	if event.At.IsZero() {
		event.At = e.now().UTC()
	}
	if err := e.publisher.Publish(ctx, event); err != nil {
		zap.L().Warn("Failed to publish event",
			zap.String("type", event.Type),
			zap.Error(err))
	}
}

// ensureAuthorized makes the signer an authorized manufacturer. Failures
// are logged only; the chain enforces authorization on the write itself.
func (e *Engine) ensureAuthorized(ctx context.Context) {
	signer := e.chain.SignerAddress()
	if signer == "" {
		return
	}
	authorized, err := e.chain.IsAuthorizedManufacturer(ctx, signer)
	if err != nil {
		zap.L().Warn("Unable to check signer authorization", zap.String("signer", signer), zap.Error(err))
		return
	}
	if authorized {
		return
	}

	zap.L().Info("Authorizing signer", zap.String("signer", signer))
	if _, err := e.chain.SetManufacturer(ctx, signer, true); err != nil {
		zap.L().Warn("Unable to authorize signer", zap.String("signer", signer), zap.Error(err))
	}
}

// AuthorizeManufacturer authorizes address, or the caller's wallet, on chain.
func (e *Engine) AuthorizeManufacturer(ctx context.Context, caller *models.User, address string) (string, *models.Receipt, error) {
	if err := access.RequireRole(caller, models.RoleManufacturer); err != nil {
		return "", nil, err
	}
	if address == "" {
		address = caller.WalletAddress
	}
	if address == "" {
		return "", nil, apperr.New(apperr.KindValidation, "address required")
	}
	if err := validateAddress(address); err != nil {
		return "", nil, err
	}
	if err := e.requireChain(); err != nil {
		return "", nil, err
	}

	receipt, err := e.chain.SetManufacturer(ctx, address, true)
	if err != nil {
		return "", nil, chainError(err)
	}
	zap.L().Info("Manufacturer authorized",
		zap.String("user_id", caller.Id),
		zap.String("address", address),
		zap.String("tx_hash", receipt.TxHash))
	return address, receipt, nil
}

func (e *Engine) ChainStatus(ctx context.Context) (*models.ChainStatus, error) {
	if !e.chain.Configured() {
		return &models.ChainStatus{Configured: false}, nil
	}
	status, err := e.chain.Status(ctx)
	if err != nil {
		return status, chainError(err)
	}
	return status, nil
}

// ChainConfigured reports whether registry calls can be made at all.
func (e *Engine) ChainConfigured() bool {
	return e.chain.Configured()
}

// manufacturerSummary resolves a registry address to its registered user,
// falling back to the bare address.
func (e *Engine) manufacturerSummary(ctx context.Context, address string) *models.UserSummary {
	user, err := e.gate.ResolveRecipient(ctx, address)
	if err != nil || user == nil {
		return &models.UserSummary{WalletAddress: address}
	}
	return user.Summary()
}

func standaloneCounter(manufacturerId string) string {
	return standaloneCounterBase + manufacturerId
}

func batchProductId(manufacturerId string, batchNumber int64, position int) string {
	return fmt.Sprintf("MFR_%s_BATCH%d_PROD%d", manufacturerId, batchNumber, position)
}

func standaloneProductId(manufacturerId string, at time.Time, sequence int64) string {
	return fmt.Sprintf("MFR_%s_%d_%03d", manufacturerId, at.Unix(), sequence)
}
