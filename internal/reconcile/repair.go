package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"supplychain-tracker-go/internal/access"
	"supplychain-tracker-go/internal/chain"
	"supplychain-tracker-go/internal/models"

	"go.uber.org/zap"
)

// RepairDefect replays the mirror write a defect describes. Chain state is
// re-read first so the mirror never gets ahead of the registry.
func (e *Engine) RepairDefect(ctx context.Context, defect models.ReconciliationDefect) error {
	switch defect.Kind {
	case models.DefectProductMirror:
		var payload models.ProductMirrorPayload
		if err := json.Unmarshal(defect.Payload, &payload); err != nil {
			return fmt.Errorf("invalid product mirror payload: %w", err)
		}
		if _, err := e.chain.GetProduct(ctx, payload.Product.BlockchainId); err != nil {
			return fmt.Errorf("failed to confirm product %d on chain: %w", payload.Product.BlockchainId, err)
		}
		return e.mirrorProduct(ctx, &payload.Product)

	case models.DefectBatchMirror:
		var payload models.BatchMirrorPayload
		if err := json.Unmarshal(defect.Payload, &payload); err != nil {
			return fmt.Errorf("invalid batch mirror payload: %w", err)
		}
		batch, err := e.chain.GetBatch(ctx, payload.BatchId)
		if err != nil {
			return fmt.Errorf("failed to confirm batch %d on chain: %w", payload.BatchId, err)
		}
		if len(payload.ProductIds) == 0 {
			payload.ProductIds = batch.ProductIds
		}
		_, _, err = e.mirrorBatch(ctx, &payload)
		return err

	case models.DefectHolderMirror:
		var payload models.HolderMirrorPayload
		if err := json.Unmarshal(defect.Payload, &payload); err != nil {
			return fmt.Errorf("invalid holder mirror payload: %w", err)
		}
		return e.repairHolder(ctx, defect.Id, payload)

	case models.DefectPendingTx:
		var payload models.PendingTxPayload
		if err := json.Unmarshal(defect.Payload, &payload); err != nil {
			return fmt.Errorf("invalid pending transaction payload: %w", err)
		}
		return e.repairPendingTx(ctx, defect.Id, payload)
	}
	return fmt.Errorf("unknown defect kind %q", defect.Kind)
}

func (e *Engine) repairHolder(ctx context.Context, defectId string, payload models.HolderMirrorPayload) error {
	onChain, err := e.chain.GetProduct(ctx, payload.ProductId)
	if err != nil {
		return fmt.Errorf("failed to read product %d on chain: %w", payload.ProductId, err)
	}
	// A later transfer owns the cache now.
	if !access.SameWallet(onChain.CurrentHolder, payload.ToAddress) {
		zap.L().Info("Holder defect superseded by a later transfer",
			zap.String("defect_id", defectId),
			zap.Int64("product_id", payload.ProductId))
		return nil
	}
	recipient, err := e.gate.ResolveRecipient(ctx, payload.ToAddress)
	if err != nil {
		return err
	}
	return e.mirrorHolder(ctx, payload, recipient)
}

// repairPendingTx waits for the transaction to resolve on chain. A mined
// transaction gets its mirror write; a reverted one owes nothing.
func (e *Engine) repairPendingTx(ctx context.Context, defectId string, payload models.PendingTxPayload) error {
	result, err := e.chain.LookupTransaction(ctx, payload.TxHash)
	if errors.Is(err, chain.ErrReverted) {
		zap.L().Info("Pending transaction reverted, nothing to mirror",
			zap.String("defect_id", defectId),
			zap.String("tx_hash", payload.TxHash))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve %s tx %s: %w", payload.Method, payload.TxHash, err)
	}

	switch {
	case payload.Product != nil:
		if result.ProductId == 0 {
			return fmt.Errorf("tx %s emitted no product id", payload.TxHash)
		}
		product := *payload.Product
		product.BlockchainId = result.ProductId
		return e.mirrorProduct(ctx, &product)

	case payload.Batch != nil:
		if result.BatchId == 0 {
			return fmt.Errorf("tx %s emitted no batch id", payload.TxHash)
		}
		intent := *payload.Batch
		intent.BatchId = result.BatchId
		intent.ProductIds = result.ProductIds
		_, _, err := e.mirrorBatch(ctx, &intent)
		return err

	case payload.Holder != nil:
		return e.repairHolder(ctx, defectId, *payload.Holder)
	}
	return fmt.Errorf("pending transaction %s carries no mirror write", payload.TxHash)
}
