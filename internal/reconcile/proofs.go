package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"supplychain-tracker-go/internal/apperr"
	"supplychain-tracker-go/internal/models"
	"supplychain-tracker-go/internal/store"
	"supplychain-tracker-go/internal/zkproof"

	"go.uber.org/zap"
)

// GenerateProof issues a batch membership proof for a product and stores it
// on the mirror. The product's batch comes from the chain.
func (e *Engine) GenerateProof(ctx context.Context, productId int64, secret string) (int64, *models.ProofResult, error) {
	if err := e.requireChain(); err != nil {
		return 0, nil, err
	}

	onChain, err := e.chain.GetProduct(ctx, productId)
	if err != nil {
		return 0, nil, readError(err, "Not found")
	}
	if onChain.BatchId == 0 {
		return 0, nil, apperr.New(apperr.KindValidation, "Product is not part of a batch. ZK proof requires batch membership.")
	}

	now := e.now().UTC()
	if secret == "" {
		secret = zkproof.DeriveSecret(productId, onChain.BatchId, now)
	}
	proof := zkproof.Generate(productId, onChain.BatchId, secret)

	encoded, err := json.Marshal(proof)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to encode proof: %w", err)
	}
	err = e.store.SaveProductProof(ctx, store.SaveProofParams{
		BlockchainId: productId,
		Proof:        encoded,
		GeneratedAt:  now,
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return 0, nil, err
	}

	zap.L().Info("Membership proof generated",
		zap.Int64("product_id", productId),
		zap.Int64("batch_id", onChain.BatchId))
	return onChain.BatchId, &proof, nil
}

// VerifyProof submits a membership proof to the registry.
func (e *Engine) VerifyProof(ctx context.Context, productId, batchId int64, proof *models.MembershipProof) (*models.Receipt, error) {
	if proof == nil || batchId <= 0 {
		return nil, apperr.New(apperr.KindValidation, "Proof and batchId required")
	}
	if !zkproof.Verify(*proof, batchId) {
		return nil, apperr.New(apperr.KindValidation, "Proof was not issued for batch %d", batchId)
	}
	if err := e.requireChain(); err != nil {
		return nil, err
	}

	receipt, err := e.chain.VerifyZKProof(ctx, productId, batchId, *proof)
	if err != nil {
		return nil, chainError(err)
	}

	zap.L().Info("Membership proof verified on chain",
		zap.Int64("product_id", productId),
		zap.Int64("batch_id", batchId),
		zap.String("tx_hash", receipt.TxHash))
	return receipt, nil
}
