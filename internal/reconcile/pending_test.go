package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"supplychain-tracker-go/internal/apperr"
	"supplychain-tracker-go/internal/chain"
	"supplychain-tracker-go/internal/chain/chaintest"
	"supplychain-tracker-go/internal/models"
	"supplychain-tracker-go/internal/qr"
	"supplychain-tracker-go/internal/store"
)

func (env *testEnv) onlyDefect(t *testing.T, kind models.DefectKind) models.ReconciliationDefect {
	t.Helper()
	defects, err := env.db.ListOpenDefects(env.ctx, 10)
	if err != nil {
		t.Fatalf("ListOpenDefects failed: %v", err)
	}
	if len(defects) != 1 || defects[0].Kind != kind {
		t.Fatalf("Expected one %s defect, got %+v", kind, defects)
	}
	return defects[0]
}

func TestCreateProducts_UnconfirmedTxRecordsDefect(t *testing.T) {
	env := setupTestEnv(t)
	env.registry.HoldConfirmations(true)

	result, err := env.engine.CreateProducts(env.ctx, env.manufacturer, CreateProductsParams{Name: "Crate", Quantity: 2})
	expectKind(t, err, apperr.KindConsistency)
	if result.Status != models.OutcomeFailed {
		t.Errorf("Expected failed status, got %s", result.Status)
	}
	if len(result.ConsistencyDefects) != 1 {
		t.Fatalf("Expected 1 consistency defect, got %d", len(result.ConsistencyDefects))
	}
	if env.registry.CreateCalls() != 1 {
		t.Errorf("Expected creation to stop after the unconfirmed tx, got %d calls", env.registry.CreateCalls())
	}

	defect := env.onlyDefect(t, models.DefectPendingTx)
	if defect.Id != result.ConsistencyDefects[0] {
		t.Errorf("Expected defect %s, got %s", result.ConsistencyDefects[0], defect.Id)
	}

	err = env.engine.RepairDefect(env.ctx, defect)
	if !errors.Is(err, chain.ErrTxPending) {
		t.Fatalf("Expected repair to wait for the tx, got %v", err)
	}
	if _, err := env.db.GetProductByBlockchainId(env.ctx, 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Expected no mirror row before the tx mines, got %v", err)
	}

	env.registry.MineHeld()
	if err := env.engine.RepairDefect(env.ctx, defect); err != nil {
		t.Fatalf("RepairDefect failed: %v", err)
	}
	product, err := env.db.GetProductByBlockchainId(env.ctx, 1)
	if err != nil {
		t.Fatalf("Expected mirrored product after repair: %v", err)
	}
	if product.Name != "Crate #1" {
		t.Errorf("Expected name Crate #1, got %s", product.Name)
	}
	if product.ManufacturerId != env.manufacturer.Id || product.CurrentHolderId != env.manufacturer.Id {
		t.Errorf("Expected manufacturer as maker and holder, got %s/%s", product.ManufacturerId, product.CurrentHolderId)
	}
	if !strings.HasSuffix(product.UniqueProductId, "_001") {
		t.Errorf("Expected sequence _001, got %s", product.UniqueProductId)
	}
}

func TestCreateBatch_UnconfirmedTxIsReplayable(t *testing.T) {
	env := setupTestEnv(t)
	env.registry.HoldConfirmations(true)

	_, err := env.engine.CreateBatch(env.ctx, env.manufacturer, CreateBatchParams{
		Products: []BatchProductInput{{Name: "Widget", ManufactureDate: "2025-01-15"}},
		Quantity: 2,
	})
	expectKind(t, err, apperr.KindConsistency)

	defect := env.onlyDefect(t, models.DefectPendingTx)
	var payload models.PendingTxPayload
	if err := json.Unmarshal(defect.Payload, &payload); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if payload.Method != "createBatch" || payload.TxHash == "" {
		t.Errorf("Expected createBatch tx in payload, got %q %q", payload.Method, payload.TxHash)
	}
	if payload.Batch == nil || len(payload.Batch.Names) != 2 {
		t.Fatalf("Expected batch intent with 2 names, got %+v", payload.Batch)
	}

	env.registry.MineHeld()
	if err := env.engine.RepairDefect(env.ctx, defect); err != nil {
		t.Fatalf("RepairDefect failed: %v", err)
	}

	batch, err := env.db.GetBatchByChainId(env.ctx, 1)
	if err != nil {
		t.Fatalf("GetBatchByChainId failed: %v", err)
	}
	if batch.Quantity != 2 || len(batch.Products) != 2 {
		t.Errorf("Expected 2 mirrored products, got quantity %d with %d", batch.Quantity, len(batch.Products))
	}
	if batch.NftTokenId != 1 || batch.ManufacturerBatchNumber != 1 {
		t.Errorf("Expected counters 1/1, got %d/%d", batch.NftTokenId, batch.ManufacturerBatchNumber)
	}
}

func TestRepairPendingTx_RevertedOwesNothing(t *testing.T) {
	env := setupTestEnv(t)
	env.registry.HoldConfirmations(true)

	_, err := env.engine.CreateBatch(env.ctx, env.manufacturer, CreateBatchParams{
		Products: []BatchProductInput{{Name: "Widget"}},
		Quantity: 2,
	})
	expectKind(t, err, apperr.KindConsistency)
	defect := env.onlyDefect(t, models.DefectPendingTx)

	env.registry.RevertHeld()
	if err := env.engine.RepairDefect(env.ctx, defect); err != nil {
		t.Fatalf("Expected reverted tx to resolve the defect, got %v", err)
	}
	if _, err := env.db.GetBatchByChainId(env.ctx, 1); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected no batch mirror for a reverted tx, got %v", err)
	}
}

func TestTransfer_UnconfirmedTxRecordsDefect(t *testing.T) {
	env := setupTestEnv(t)
	env.partner(t)
	created := env.createBatch(t, 2)
	id := created.Products[0].BlockchainId

	env.registry.HoldConfirmations(true)
	result, err := env.engine.TransferProducts(env.ctx, env.manufacturer, TransferProductsParams{ProductId: id, ToAddress: retailerWallet})
	expectKind(t, err, apperr.KindConsistency)
	if result.StopReason != models.StopChainError {
		t.Errorf("Expected stop reason %s, got %s", models.StopChainError, result.StopReason)
	}
	if len(result.ConsistencyDefects) != 1 {
		t.Fatalf("Expected 1 consistency defect, got %d", len(result.ConsistencyDefects))
	}
	defect := env.onlyDefect(t, models.DefectPendingTx)

	env.registry.HoldConfirmations(false)
	env.registry.MineHeld()
	if err := env.engine.RepairDefect(env.ctx, defect); err != nil {
		t.Fatalf("RepairDefect failed: %v", err)
	}
	mirror, err := env.db.GetProductByBlockchainId(env.ctx, id)
	if err != nil {
		t.Fatalf("GetProductByBlockchainId failed: %v", err)
	}
	if mirror.CurrentHolderId != env.retailer.Id {
		t.Errorf("Expected holder %s after repair, got %s", env.retailer.Id, mirror.CurrentHolderId)
	}
}

// cancellingRegistry cancels the request context as soon as a transfer is
// confirmed, the way a client disconnect would.
type cancellingRegistry struct {
	*chaintest.Registry
	cancel context.CancelFunc
}

func (r *cancellingRegistry) TransferProduct(ctx context.Context, productId int64, toAddress, location string) (*models.Receipt, error) {
	receipt, err := r.Registry.TransferProduct(ctx, productId, toAddress, location)
	r.cancel()
	return receipt, err
}

func TestTransfer_MirrorsAfterCallerCancels(t *testing.T) {
	env := setupTestEnv(t)
	env.partner(t)
	created := env.createBatch(t, 2)
	id := created.Products[0].BlockchainId

	ctx, cancel := context.WithCancel(env.ctx)
	defer cancel()
	registry := &cancellingRegistry{Registry: env.registry, cancel: cancel}
	engine := NewEngine(env.db, registry, env.gate, qr.NewGenerator("http://localhost:5173"), nil, 0)

	result, err := engine.TransferProducts(ctx, env.manufacturer, TransferProductsParams{ProductId: id, ToAddress: retailerWallet})
	if err != nil {
		t.Fatalf("Expected confirmed transfer to succeed, got %v", err)
	}
	if result.Status != models.OutcomeComplete {
		t.Errorf("Expected complete status, got %s", result.Status)
	}
	if len(result.ConsistencyDefects) != 0 {
		t.Errorf("Expected no defects, got %v", result.ConsistencyDefects)
	}

	mirror, err := env.db.GetProductByBlockchainId(env.ctx, id)
	if err != nil {
		t.Fatalf("GetProductByBlockchainId failed: %v", err)
	}
	if mirror.CurrentHolderId != env.retailer.Id {
		t.Errorf("Expected holder %s, got %s", env.retailer.Id, mirror.CurrentHolderId)
	}
}
