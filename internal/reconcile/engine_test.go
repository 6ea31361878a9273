package reconcile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"supplychain-tracker-go/internal/access"
	"supplychain-tracker-go/internal/apperr"
	"supplychain-tracker-go/internal/chain"
	"supplychain-tracker-go/internal/chain/chaintest"
	"supplychain-tracker-go/internal/database"
	"supplychain-tracker-go/internal/events"
	"supplychain-tracker-go/internal/models"
	"supplychain-tracker-go/internal/qr"
	"supplychain-tracker-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

const (
	manufacturerWallet = "0x00000000000000000000000000000000000000aa"
	retailerWallet     = "0x00000000000000000000000000000000000000bb"
	strangerWallet     = "0x00000000000000000000000000000000000000cc"
)

type testEnv struct {
	ctx          context.Context
	db           *database.Service
	gate         *access.Gate
	registry     *chaintest.Registry
	engine       *Engine
	manufacturer *models.User
	retailer     *models.User
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	service := database.NewServiceWithDB(db)
	ctx := context.Background()
	if err := service.InitSchema(ctx); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	tokens, err := access.NewTokenIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("Failed to create token issuer: %v", err)
	}
	gate := access.NewGate(service, tokens, bcrypt.MinCost)
	registry := chaintest.NewRegistry(manufacturerWallet)

	env := &testEnv{
		ctx:      ctx,
		db:       service,
		gate:     gate,
		registry: registry,
		engine:   NewEngine(service, registry, gate, qr.NewGenerator("http://localhost:5173"), events.NoopPublisher{}, 0),
	}
	env.manufacturer = env.register(t, "maker", models.RoleManufacturer, manufacturerWallet)
	env.retailer = env.register(t, "shop", models.RoleRetailer, retailerWallet)
	return env
}

func (env *testEnv) register(t *testing.T, name string, role models.Role, wallet string) *models.User {
	t.Helper()
	user, _, err := env.gate.Register(env.ctx, access.RegisterParams{
		Name:          name,
		Email:         name + "@example.com",
		Password:      "password123",
		WalletAddress: wallet,
		Role:          role,
	})
	if err != nil {
		t.Fatalf("Failed to register %s: %v", name, err)
	}
	return user
}

func (env *testEnv) partner(t *testing.T) {
	t.Helper()
	p, err := env.gate.RequestPartnership(env.ctx, env.manufacturer, env.retailer.Id)
	if err != nil {
		t.Fatalf("RequestPartnership failed: %v", err)
	}
	if _, err := env.gate.RespondToPartnership(env.ctx, env.retailer, p.Id, models.PartnershipAccepted); err != nil {
		t.Fatalf("RespondToPartnership failed: %v", err)
	}
}

func (env *testEnv) createBatch(t *testing.T, quantity int) *models.CreateBatchResult {
	t.Helper()
	result, err := env.engine.CreateBatch(env.ctx, env.manufacturer, CreateBatchParams{
		Products: []BatchProductInput{{Name: "Widget", Description: "blue", ManufactureDate: "2025-01-15"}},
		Quantity: quantity,
	})
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}
	return result
}

func expectKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected %s error, got nil", kind)
	}
	if got := apperr.KindOf(err); got != kind {
		t.Fatalf("Expected %s error, got %s (%v)", kind, got, err)
	}
}

func TestScenario_BatchThenGatedTransfer(t *testing.T) {
	env := setupTestEnv(t)

	created := env.createBatch(t, 2)
	if created.NftTokenId != 1 {
		t.Errorf("Expected nftTokenId 1, got %d", created.NftTokenId)
	}
	if created.ManufacturerBatchNumber != 1 {
		t.Errorf("Expected manufacturerBatchNumber 1, got %d", created.ManufacturerBatchNumber)
	}
	if len(created.Products) != 2 {
		t.Fatalf("Expected 2 products, got %d", len(created.Products))
	}
	if created.Batch.Quantity != 2 {
		t.Errorf("Expected batch quantity 2, got %d", created.Batch.Quantity)
	}
	if !strings.HasSuffix(created.Products[0].UniqueProductId, "_PROD1") ||
		!strings.HasSuffix(created.Products[1].UniqueProductId, "_PROD2") {
		t.Errorf("Expected _PROD1/_PROD2 suffixes, got %s and %s",
			created.Products[0].UniqueProductId, created.Products[1].UniqueProductId)
	}
	if created.Products[0].UniqueProductId == created.Products[1].UniqueProductId {
		t.Error("Expected distinct uniqueProductIds")
	}
	if !created.Products[0].ZkProofGenerated || len(created.Products[0].ZkProof) == 0 {
		t.Error("Expected batch products to carry a membership proof")
	}
	if !env.registry.IsAuthorized(manufacturerWallet) {
		t.Error("Expected signer to be authorized before minting")
	}

	first := created.Products[0].BlockchainId
	params := TransferProductsParams{ProductId: first, ToAddress: retailerWallet, Quantity: 1}

	result, err := env.engine.TransferProducts(env.ctx, env.manufacturer, params)
	expectKind(t, err, apperr.KindAuthorization)
	if result.Status != models.OutcomeFailed {
		t.Errorf("Expected failed status, got %s", result.Status)
	}
	if result.StopReason != models.StopPartnershipMissing {
		t.Errorf("Expected stop reason %s, got %s", models.StopPartnershipMissing, result.StopReason)
	}
	if env.registry.TransferCalls() != 0 {
		t.Errorf("Expected 0 transfer calls, got %d", env.registry.TransferCalls())
	}
	if got := env.registry.Holder(first); got != manufacturerWallet {
		t.Errorf("Expected on-chain holder unchanged, got %s", got)
	}
	mirror, _ := env.db.GetProductByBlockchainId(env.ctx, first)
	if mirror.CurrentHolderId != env.manufacturer.Id {
		t.Errorf("Expected mirror holder unchanged, got %s", mirror.CurrentHolderId)
	}

	env.partner(t)

	result, err = env.engine.TransferProducts(env.ctx, env.manufacturer, params)
	if err != nil {
		t.Fatalf("TransferProducts failed: %v", err)
	}
	if result.Status != models.OutcomeComplete || len(result.Transfers) != 1 {
		t.Fatalf("Expected one complete transfer, got %s with %d", result.Status, len(result.Transfers))
	}
	mirror, _ = env.db.GetProductByBlockchainId(env.ctx, first)
	if mirror.CurrentHolderId != env.retailer.Id {
		t.Errorf("Expected mirror holder %s, got %s", env.retailer.Id, mirror.CurrentHolderId)
	}
	if mirror.SenderId != env.manufacturer.Id {
		t.Errorf("Expected sender %s, got %s", env.manufacturer.Id, mirror.SenderId)
	}
	if result.Manufacturer == nil || result.Manufacturer.Id != env.manufacturer.Id {
		t.Errorf("Expected manufacturer summary, got %+v", result.Manufacturer)
	}
}

func TestTransferProducts_UnknownRecipient(t *testing.T) {
	env := setupTestEnv(t)
	created := env.createBatch(t, 2)

	result, err := env.engine.TransferProducts(env.ctx, env.manufacturer, TransferProductsParams{
		ProductId: created.Products[0].BlockchainId,
		ToAddress: strangerWallet,
	})
	expectKind(t, err, apperr.KindAuthorization)
	if result.StopReason != models.StopRecipientUnknown {
		t.Errorf("Expected stop reason %s, got %s", models.StopRecipientUnknown, result.StopReason)
	}
	if env.registry.TransferCalls() != 0 {
		t.Errorf("Expected 0 transfer calls, got %d", env.registry.TransferCalls())
	}
}

func TestTransferProducts_StopsAtFirstForeignProduct(t *testing.T) {
	env := setupTestEnv(t)
	env.partner(t)

	created, err := env.engine.CreateProducts(env.ctx, env.manufacturer, CreateProductsParams{
		Name:            "Crate",
		ManufactureDate: "2025-02-01",
		Quantity:        3,
	})
	if err != nil {
		t.Fatalf("CreateProducts failed: %v", err)
	}
	ids := []int64{created.Products[0].BlockchainId, created.Products[1].BlockchainId, created.Products[2].BlockchainId}
	env.registry.SetHolder(ids[1], strangerWallet)

	result, err := env.engine.TransferProducts(env.ctx, env.manufacturer, TransferProductsParams{
		ProductId: ids[0],
		ToAddress: retailerWallet,
		Quantity:  3,
	})
	if err != nil {
		t.Fatalf("Expected partial transfer without error, got %v", err)
	}
	if result.Status != models.OutcomePartial {
		t.Errorf("Expected partial status, got %s", result.Status)
	}
	if len(result.Transfers) != 1 || result.Transfers[0].ProductId != ids[0] {
		t.Errorf("Expected only product %d transferred, got %+v", ids[0], result.Transfers)
	}
	if result.StopReason != models.StopNotHolder || result.StoppedAt != ids[1] {
		t.Errorf("Expected stop at %d (not_holder), got %d (%s)", ids[1], result.StoppedAt, result.StopReason)
	}
	if env.registry.TransferCalls() != 1 {
		t.Errorf("Expected 1 transfer call, got %d", env.registry.TransferCalls())
	}
	if got := env.registry.Holder(ids[2]); got != manufacturerWallet {
		t.Errorf("Expected product %d untouched, holder %s", ids[2], got)
	}
}

func TestTransferProducts_VerifiedProductNeverMoves(t *testing.T) {
	env := setupTestEnv(t)
	env.partner(t)
	created := env.createBatch(t, 2)

	id := created.Products[0].BlockchainId
	env.registry.SetVerified(id)

	result, err := env.engine.TransferProducts(env.ctx, env.manufacturer, TransferProductsParams{ProductId: id, ToAddress: retailerWallet})
	expectKind(t, err, apperr.KindValidation)
	if result.StopReason != models.StopVerified {
		t.Errorf("Expected stop reason verified, got %s", result.StopReason)
	}
	if env.registry.TransferCalls() != 0 {
		t.Errorf("Expected 0 transfer calls, got %d", env.registry.TransferCalls())
	}
}

func TestTransferProducts_QuantityClamp(t *testing.T) {
	env := setupTestEnv(t)
	env.partner(t)
	created := env.createBatch(t, 2)

	result, err := env.engine.TransferProducts(env.ctx, env.manufacturer, TransferProductsParams{
		ProductId: created.Products[0].BlockchainId,
		ToAddress: retailerWallet,
		Quantity:  500,
	})
	if err != nil {
		t.Fatalf("TransferProducts failed: %v", err)
	}
	if result.Requested != maxTransferQuantity {
		t.Errorf("Expected requested %d, got %d", maxTransferQuantity, result.Requested)
	}
	if len(result.Transfers) != 2 || result.Status != models.OutcomePartial {
		t.Errorf("Expected 2 transfers and partial status, got %d and %s", len(result.Transfers), result.Status)
	}
	if result.StopReason != models.StopChainError {
		t.Errorf("Expected chain_error at the first missing id, got %s", result.StopReason)
	}
}

func TestTransferProducts_Validation(t *testing.T) {
	env := setupTestEnv(t)

	_, err := env.engine.TransferProducts(env.ctx, env.manufacturer, TransferProductsParams{ProductId: 1, ToAddress: "nope"})
	expectKind(t, err, apperr.KindValidation)

	env.registry.SetConfigured(false)
	_, err = env.engine.TransferProducts(env.ctx, env.manufacturer, TransferProductsParams{ProductId: 1, ToAddress: retailerWallet})
	expectKind(t, err, apperr.KindChainUnavailable)
	if !errors.Is(err, chain.ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured in chain, got %v", err)
	}
}

func TestTransferBatch_AllOrNothingPrecondition(t *testing.T) {
	env := setupTestEnv(t)
	env.partner(t)
	created := env.createBatch(t, 2)
	env.registry.SetHolder(created.Products[1].BlockchainId, strangerWallet)

	result, err := env.engine.TransferBatch(env.ctx, env.manufacturer, TransferBatchParams{
		BatchId:   created.Batch.BatchId,
		ToAddress: retailerWallet,
	})
	expectKind(t, err, apperr.KindAuthorization)
	if result != nil {
		t.Errorf("Expected no result, got %+v", result)
	}
	if env.registry.TransferCalls() != 0 {
		t.Errorf("Expected 0 transfer calls, got %d", env.registry.TransferCalls())
	}
}

func TestTransferBatch_PartnershipGate(t *testing.T) {
	env := setupTestEnv(t)
	created := env.createBatch(t, 2)

	_, err := env.engine.TransferBatch(env.ctx, env.manufacturer, TransferBatchParams{
		BatchId:   created.Batch.BatchId,
		ToAddress: retailerWallet,
	})
	expectKind(t, err, apperr.KindAuthorization)
	if env.registry.TransferCalls() != 0 {
		t.Errorf("Expected 0 transfer calls, got %d", env.registry.TransferCalls())
	}
}

func TestTransferBatch_SignerMismatch(t *testing.T) {
	env := setupTestEnv(t)
	env.partner(t)
	created := env.createBatch(t, 2)

	impostor := env.register(t, "impostor", models.RoleDistributor, strangerWallet)
	p, err := env.gate.RequestPartnership(env.ctx, impostor, env.retailer.Id)
	if err != nil {
		t.Fatalf("RequestPartnership failed: %v", err)
	}
	if _, err := env.gate.RespondToPartnership(env.ctx, env.retailer, p.Id, models.PartnershipAccepted); err != nil {
		t.Fatalf("RespondToPartnership failed: %v", err)
	}
	for _, p := range created.Products {
		env.registry.SetHolder(p.BlockchainId, strangerWallet)
	}

	_, err = env.engine.TransferBatch(env.ctx, impostor, TransferBatchParams{
		BatchId:   created.Batch.BatchId,
		ToAddress: retailerWallet,
	})
	expectKind(t, err, apperr.KindAuthorization)
	if !strings.Contains(err.Error(), "Signer mismatch") {
		t.Errorf("Expected signer mismatch, got %v", err)
	}
	if env.registry.TransferCalls() != 0 {
		t.Errorf("Expected 0 transfer calls, got %d", env.registry.TransferCalls())
	}
}

func TestTransferBatch_PartialReporting(t *testing.T) {
	env := setupTestEnv(t)
	env.partner(t)
	created := env.createBatch(t, 3)

	ids := created.Batch.Products
	env.registry.FailTransfer(ids[1].BlockchainId, fmt.Errorf("%w: transferProduct: execution reverted", chain.ErrReverted))

	result, err := env.engine.TransferBatch(env.ctx, env.manufacturer, TransferBatchParams{
		BatchId:   created.Batch.BatchId,
		ToAddress: retailerWallet,
		Location:  "Dock 4",
	})
	if err != nil {
		t.Fatalf("Expected partial result without error, got %v", err)
	}
	if result.Status != models.OutcomePartial {
		t.Errorf("Expected partial status, got %s", result.Status)
	}
	if len(result.Transfers) != 1 {
		t.Errorf("Expected 1 successful transfer, got %d", len(result.Transfers))
	}
	if result.FailedProductId != ids[1].BlockchainId {
		t.Errorf("Expected failed product %d, got %d", ids[1].BlockchainId, result.FailedProductId)
	}
	if result.Total != 3 {
		t.Errorf("Expected total 3, got %d", result.Total)
	}
	if env.registry.TransferCalls() != 2 {
		t.Errorf("Expected 2 transfer calls (third not attempted), got %d", env.registry.TransferCalls())
	}
	if got := env.registry.Holder(ids[2].BlockchainId); got != manufacturerWallet {
		t.Errorf("Expected third product untouched, holder %s", got)
	}
}

func TestTransferBatch_Complete(t *testing.T) {
	env := setupTestEnv(t)
	env.partner(t)
	created := env.createBatch(t, 2)

	result, err := env.engine.TransferBatch(env.ctx, env.manufacturer, TransferBatchParams{
		BatchId:   created.Batch.BatchId,
		ToAddress: retailerWallet,
	})
	if err != nil {
		t.Fatalf("TransferBatch failed: %v", err)
	}
	if result.Status != models.OutcomeComplete || len(result.Transfers) != 2 {
		t.Errorf("Expected complete with 2 transfers, got %s with %d", result.Status, len(result.Transfers))
	}

	batches, err := env.engine.ListVisibleBatches(env.ctx, env.retailer)
	if err != nil {
		t.Fatalf("ListVisibleBatches failed: %v", err)
	}
	if len(batches) != 1 {
		t.Errorf("Expected retailer to see 1 batch, got %d", len(batches))
	}
}

func TestTransferBatch_FirstTransferFails(t *testing.T) {
	env := setupTestEnv(t)
	env.partner(t)
	created := env.createBatch(t, 2)
	env.registry.FailTransfer(created.Products[0].BlockchainId, fmt.Errorf("%w: transferProduct: execution reverted", chain.ErrReverted))

	result, err := env.engine.TransferBatch(env.ctx, env.manufacturer, TransferBatchParams{
		BatchId:   created.Batch.BatchId,
		ToAddress: retailerWallet,
	})
	expectKind(t, err, apperr.KindChainRejection)
	if result.Status != models.OutcomeFailed {
		t.Errorf("Expected failed status, got %s", result.Status)
	}
	if result.FailedProductId != created.Products[0].BlockchainId {
		t.Errorf("Expected failed product %d, got %d", created.Products[0].BlockchainId, result.FailedProductId)
	}
}

func TestListVisibleProducts_ReadFilterAsymmetry(t *testing.T) {
	env := setupTestEnv(t)

	created, err := env.engine.CreateProducts(env.ctx, env.manufacturer, CreateProductsParams{Name: "Crate", Quantity: 1})
	if err != nil {
		t.Fatalf("CreateProducts failed: %v", err)
	}
	id := created.Products[0].BlockchainId
	env.registry.SetHolder(id, retailerWallet)

	visible, err := env.engine.ListVisibleProducts(env.ctx, env.retailer)
	if err != nil {
		t.Fatalf("ListVisibleProducts failed: %v", err)
	}
	if len(visible) != 1 {
		t.Fatalf("Expected holder to see 1 product, got %d", len(visible))
	}

	env.registry.FailGet(id, fmt.Errorf("%w: connection refused", chain.ErrUnavailable))

	visible, err = env.engine.ListVisibleProducts(env.ctx, env.manufacturer)
	if err != nil {
		t.Fatalf("ListVisibleProducts failed: %v", err)
	}
	if len(visible) != 1 {
		t.Errorf("Expected manufacturer to still see 1 product, got %d", len(visible))
	}

	visible, err = env.engine.ListVisibleProducts(env.ctx, env.retailer)
	if err != nil {
		t.Fatalf("ListVisibleProducts failed: %v", err)
	}
	if len(visible) != 0 {
		t.Errorf("Expected retailer to see 0 products, got %d", len(visible))
	}
}

func TestGroupBySender(t *testing.T) {
	env := setupTestEnv(t)
	env.partner(t)
	created := env.createBatch(t, 2)

	if _, err := env.engine.TransferProducts(env.ctx, env.manufacturer, TransferProductsParams{
		ProductId: created.Products[0].BlockchainId,
		ToAddress: retailerWallet,
	}); err != nil {
		t.Fatalf("TransferProducts failed: %v", err)
	}

	groups, err := env.engine.GroupBySender(env.ctx, env.retailer)
	if err != nil {
		t.Fatalf("GroupBySender failed: %v", err)
	}
	group, ok := groups[env.manufacturer.Id]
	if !ok {
		t.Fatalf("Expected group for sender %s, got %v", env.manufacturer.Id, groups)
	}
	if len(group.Products) != 1 {
		t.Errorf("Expected 1 product in group, got %d", len(group.Products))
	}
	if group.Sender == nil || group.Sender.Name != "maker" {
		t.Errorf("Expected sender summary for maker, got %+v", group.Sender)
	}
}

func TestCreateProducts(t *testing.T) {
	env := setupTestEnv(t)

	result, err := env.engine.CreateProducts(env.ctx, env.manufacturer, CreateProductsParams{
		Name:            "Crate",
		Description:     "pine",
		ManufactureDate: "2025-03-01",
		Quantity:        2,
	})
	if err != nil {
		t.Fatalf("CreateProducts failed: %v", err)
	}
	if result.Status != models.OutcomeComplete || len(result.Products) != 2 {
		t.Fatalf("Expected 2 products complete, got %d (%s)", len(result.Products), result.Status)
	}
	if result.Products[0].Name != "Crate #1" || result.Products[1].Name != "Crate #2" {
		t.Errorf("Expected numbered names, got %s and %s", result.Products[0].Name, result.Products[1].Name)
	}
	if names := env.registry.CreatedNames(); len(names) != 2 || names[0] != "Crate" || names[1] != "Crate" {
		t.Errorf("Expected the bare name submitted on chain, got %v", names)
	}
	if !strings.HasSuffix(result.Products[0].UniqueProductId, "_001") || !strings.HasSuffix(result.Products[1].UniqueProductId, "_002") {
		t.Errorf("Expected sequences _001/_002, got %s and %s", result.Products[0].UniqueProductId, result.Products[1].UniqueProductId)
	}
	if !result.Products[0].RequiresPartnership {
		t.Error("Expected new products to require partnership")
	}
	if !strings.HasPrefix(result.Products[0].QrCodeUrl, "data:image/png;base64,") {
		t.Errorf("Expected QR data url, got %.30s", result.Products[0].QrCodeUrl)
	}

	_, err = env.engine.CreateProducts(env.ctx, env.retailer, CreateProductsParams{Name: "Crate"})
	expectKind(t, err, apperr.KindAuthorization)

	_, err = env.engine.CreateProducts(env.ctx, env.manufacturer, CreateProductsParams{Name: " "})
	expectKind(t, err, apperr.KindValidation)
}

func TestCreateProducts_StopsOnChainFailure(t *testing.T) {
	env := setupTestEnv(t)
	env.registry.FailCreateAfter(1)

	result, err := env.engine.CreateProducts(env.ctx, env.manufacturer, CreateProductsParams{Name: "Crate", Quantity: 3})
	if err != nil {
		t.Fatalf("Expected partial result without error, got %v", err)
	}
	if result.Status != models.OutcomePartial || len(result.Products) != 1 {
		t.Errorf("Expected partial with 1 product, got %s with %d", result.Status, len(result.Products))
	}
	if result.Error == "" {
		t.Error("Expected the stopping error to be reported")
	}
	if env.registry.CreateCalls() != 2 {
		t.Errorf("Expected 2 create calls, got %d", env.registry.CreateCalls())
	}

	env.registry.FailCreateAfter(0)
	result, err = env.engine.CreateProducts(env.ctx, env.manufacturer, CreateProductsParams{Name: "Crate"})
	expectKind(t, err, apperr.KindChainRejection)
	if result.Status != models.OutcomeFailed {
		t.Errorf("Expected failed status, got %s", result.Status)
	}
}

func TestCreateBatch_Validation(t *testing.T) {
	env := setupTestEnv(t)

	_, err := env.engine.CreateBatch(env.ctx, env.manufacturer, CreateBatchParams{})
	expectKind(t, err, apperr.KindValidation)

	_, err = env.engine.CreateBatch(env.ctx, env.retailer, CreateBatchParams{Products: []BatchProductInput{{Name: "x"}}})
	expectKind(t, err, apperr.KindAuthorization)

	env.registry.SetConfigured(false)
	_, err = env.engine.CreateBatch(env.ctx, env.manufacturer, CreateBatchParams{Products: []BatchProductInput{{Name: "x"}}})
	expectKind(t, err, apperr.KindChainUnavailable)
}

func TestCreateBatch_ExplicitProductsAndCounters(t *testing.T) {
	env := setupTestEnv(t)

	first, err := env.engine.CreateBatch(env.ctx, env.manufacturer, CreateBatchParams{
		MetadataUri: "ipfs://custom",
		Products: []BatchProductInput{
			{Name: "Left", ManufactureDate: "2025-01-01"},
			{Name: "Right", ManufactureDate: "2025-01-02"},
		},
	})
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}
	if first.Products[0].Name != "Left" || first.Products[1].Name != "Right" {
		t.Errorf("Expected explicit names, got %s and %s", first.Products[0].Name, first.Products[1].Name)
	}
	if first.Batch.MetadataUri != "ipfs://custom" {
		t.Errorf("Expected metadata uri ipfs://custom, got %s", first.Batch.MetadataUri)
	}

	second := env.createBatch(t, 2)
	if second.NftTokenId != 2 || second.ManufacturerBatchNumber != 2 {
		t.Errorf("Expected nftTokenId 2 and batch number 2, got %d and %d", second.NftTokenId, second.ManufacturerBatchNumber)
	}
	if !strings.HasPrefix(second.Batch.MetadataUri, "ipfs://batch-") {
		t.Errorf("Expected default metadata uri, got %s", second.Batch.MetadataUri)
	}
}

// failingStore fails selected mirror writes.
type failingStore struct {
	store.RecordStore
	failHolder   bool
	failFinalize bool
}

func (f *failingStore) UpdateProductHolder(ctx context.Context, params store.UpdateHolderParams) error {
	if f.failHolder {
		return errors.New("disk I/O error")
	}
	return f.RecordStore.UpdateProductHolder(ctx, params)
}

func (f *failingStore) FinalizeBatch(ctx context.Context, batchRecordId string) (int, error) {
	if f.failFinalize {
		return 0, errors.New("disk I/O error")
	}
	return f.RecordStore.FinalizeBatch(ctx, batchRecordId)
}

func TestTransfer_MirrorFailureRecordsDefect(t *testing.T) {
	env := setupTestEnv(t)
	env.partner(t)
	created := env.createBatch(t, 2)

	failing := &failingStore{RecordStore: env.db, failHolder: true}
	engine := NewEngine(failing, env.registry, env.gate, qr.NewGenerator("http://localhost:5173"), nil, 0)

	id := created.Products[0].BlockchainId
	result, err := engine.TransferProducts(env.ctx, env.manufacturer, TransferProductsParams{ProductId: id, ToAddress: retailerWallet})
	if err != nil {
		t.Fatalf("Expected confirmed transfer to succeed, got %v", err)
	}
	if result.Status != models.OutcomeComplete {
		t.Errorf("Expected complete status, got %s", result.Status)
	}
	if len(result.ConsistencyDefects) != 1 {
		t.Fatalf("Expected 1 consistency defect, got %d", len(result.ConsistencyDefects))
	}

	defects, err := env.db.ListOpenDefects(env.ctx, 10)
	if err != nil {
		t.Fatalf("ListOpenDefects failed: %v", err)
	}
	if len(defects) != 1 || defects[0].Kind != models.DefectHolderMirror {
		t.Fatalf("Expected one holder_mirror defect, got %+v", defects)
	}

	if err := env.engine.RepairDefect(env.ctx, defects[0]); err != nil {
		t.Fatalf("RepairDefect failed: %v", err)
	}
	mirror, _ := env.db.GetProductByBlockchainId(env.ctx, id)
	if mirror.CurrentHolderId != env.retailer.Id {
		t.Errorf("Expected repaired holder %s, got %s", env.retailer.Id, mirror.CurrentHolderId)
	}
}

func TestCreateBatch_MirrorFailureIsReplayable(t *testing.T) {
	env := setupTestEnv(t)

	failing := &failingStore{RecordStore: env.db, failFinalize: true}
	engine := NewEngine(failing, env.registry, env.gate, qr.NewGenerator("http://localhost:5173"), nil, 0)

	_, err := engine.CreateBatch(env.ctx, env.manufacturer, CreateBatchParams{
		Products: []BatchProductInput{{Name: "Widget"}},
		Quantity: 2,
	})
	expectKind(t, err, apperr.KindConsistency)

	defects, err := env.db.ListOpenDefects(env.ctx, 10)
	if err != nil {
		t.Fatalf("ListOpenDefects failed: %v", err)
	}
	if len(defects) != 1 || defects[0].Kind != models.DefectBatchMirror {
		t.Fatalf("Expected one batch_mirror defect, got %+v", defects)
	}

	var payload models.BatchMirrorPayload
	if err := json.Unmarshal(defects[0].Payload, &payload); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if payload.NftTokenId != 1 || payload.ManufacturerBatchNumber != 1 {
		t.Errorf("Expected allocated counters 1/1 in payload, got %d/%d", payload.NftTokenId, payload.ManufacturerBatchNumber)
	}

	if err := env.engine.RepairDefect(env.ctx, defects[0]); err != nil {
		t.Fatalf("RepairDefect failed: %v", err)
	}

	batch, err := env.db.GetBatchByChainId(env.ctx, payload.BatchId)
	if err != nil {
		t.Fatalf("GetBatchByChainId failed: %v", err)
	}
	if batch.Quantity != 2 || len(batch.Products) != 2 {
		t.Errorf("Expected 2 products after repair, got quantity %d with %d", batch.Quantity, len(batch.Products))
	}
	next, _ := env.db.NextCounter(env.ctx, counterNftTokenId)
	if next != 2 {
		t.Errorf("Expected nft counter untouched by repair (next 2), got %d", next)
	}
}

func TestProductDetailsAndProofs(t *testing.T) {
	env := setupTestEnv(t)
	created := env.createBatch(t, 2)
	id := created.Products[0].BlockchainId

	details, err := env.engine.GetProductDetails(env.ctx, id)
	if err != nil {
		t.Fatalf("GetProductDetails failed: %v", err)
	}
	if details.Db == nil || details.Db.BlockchainId != id {
		t.Errorf("Expected mirror record for %d, got %+v", id, details.Db)
	}
	if details.Batch == nil || len(details.Batch.ProductIds) != 2 {
		t.Errorf("Expected batch info with 2 products, got %+v", details.Batch)
	}

	_, err = env.engine.GetProductDetails(env.ctx, 999)
	expectKind(t, err, apperr.KindNotFound)

	batchId, proof, err := env.engine.GenerateProof(env.ctx, id, "s3cret")
	if err != nil {
		t.Fatalf("GenerateProof failed: %v", err)
	}
	if batchId != created.Batch.BatchId {
		t.Errorf("Expected batch %d, got %d", created.Batch.BatchId, batchId)
	}

	if _, err := env.engine.VerifyProof(env.ctx, id, batchId, &proof.Proof); err != nil {
		t.Fatalf("VerifyProof failed: %v", err)
	}
	_, err = env.engine.VerifyProof(env.ctx, id, batchId+1, &proof.Proof)
	expectKind(t, err, apperr.KindValidation)

	standalone, err := env.engine.CreateProducts(env.ctx, env.manufacturer, CreateProductsParams{Name: "Loose"})
	if err != nil {
		t.Fatalf("CreateProducts failed: %v", err)
	}
	_, _, err = env.engine.GenerateProof(env.ctx, standalone.Products[0].BlockchainId, "")
	expectKind(t, err, apperr.KindValidation)
}

func TestGetQRCode(t *testing.T) {
	env := setupTestEnv(t)
	created := env.createBatch(t, 2)
	product := created.Products[0]

	url, err := env.engine.GetQRCode(env.ctx, env.manufacturer, fmt.Sprint(product.BlockchainId))
	if err != nil {
		t.Fatalf("GetQRCode failed: %v", err)
	}
	if url != product.QrCodeUrl {
		t.Error("Expected stored QR data url")
	}

	if _, err := env.engine.GetQRCode(env.ctx, env.manufacturer, product.UniqueProductId); err != nil {
		t.Errorf("Expected lookup by unique id to work, got %v", err)
	}

	_, err = env.engine.GetQRCode(env.ctx, env.retailer, product.UniqueProductId)
	expectKind(t, err, apperr.KindAuthorization)

	_, err = env.engine.GetQRCode(env.ctx, env.manufacturer, "missing")
	expectKind(t, err, apperr.KindNotFound)
}

func TestAuthorizeManufacturerAndStatus(t *testing.T) {
	env := setupTestEnv(t)

	address, _, err := env.engine.AuthorizeManufacturer(env.ctx, env.manufacturer, "")
	if err != nil {
		t.Fatalf("AuthorizeManufacturer failed: %v", err)
	}
	if address != manufacturerWallet || !env.registry.IsAuthorized(manufacturerWallet) {
		t.Errorf("Expected caller wallet authorized, got %s", address)
	}

	_, _, err = env.engine.AuthorizeManufacturer(env.ctx, env.retailer, "")
	expectKind(t, err, apperr.KindAuthorization)

	status, err := env.engine.ChainStatus(env.ctx)
	if err != nil {
		t.Fatalf("ChainStatus failed: %v", err)
	}
	if !status.Configured {
		t.Error("Expected configured status")
	}

	env.registry.SetConfigured(false)
	status, err = env.engine.ChainStatus(env.ctx)
	if err != nil || status.Configured {
		t.Errorf("Expected unconfigured status without error, got %+v (%v)", status, err)
	}
}
