package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"supplychain-tracker-go/internal/access"
	"supplychain-tracker-go/internal/apperr"
	"supplychain-tracker-go/internal/chain"
	"supplychain-tracker-go/internal/events"
	"supplychain-tracker-go/internal/models"
	"supplychain-tracker-go/internal/store"
	"supplychain-tracker-go/internal/zkproof"

	"go.uber.org/zap"
)

// CreateProductsParams describes one or more identical standalone products.
type CreateProductsParams struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	ManufactureDate string `json:"manufactureDate"`
	Quantity        int    `json:"quantity"`
}

// BatchProductInput is one entry of a batch, or the template when a
// quantity is given.
type BatchProductInput struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	ManufactureDate string `json:"manufactureDate"`
}

type CreateBatchParams struct {
	MetadataUri string              `json:"metadataURI"`
	Products    []BatchProductInput `json:"products"`
	Quantity    int                 `json:"quantity"`
}

// CreateProducts mints products one at a time. A chain failure stops the
// sequence; products already confirmed stay committed.
func (e *Engine) CreateProducts(ctx context.Context, caller *models.User, params CreateProductsParams) (*models.CreateProductsResult, error) {
	if err := access.RequireRole(caller, models.RoleManufacturer); err != nil {
		return nil, apperr.New(apperr.KindAuthorization, "Forbidden")
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, apperr.New(apperr.KindValidation, "name is required")
	}
	manufactured, err := parseDate(params.ManufactureDate, e.now())
	if err != nil {
		return nil, err
	}
	if err := e.requireChain(); err != nil {
		return nil, err
	}

	qty := clamp(params.Quantity, 1, maxCreateQuantity)
	dateStr := manufactured.Format(dateLayout)

	zap.L().Info("Creating products",
		zap.String("user_id", caller.Id),
		zap.String("name", name),
		zap.Int("quantity", qty),
		zap.String("manufacture_date", dateStr))

	e.ensureAuthorized(ctx)

	result := &models.CreateProductsResult{Requested: qty, Products: make([]models.Product, 0, qty)}
	var firstErr error
	for i := 0; i < qty; i++ {
		itemName := name
		if qty > 1 {
			itemName = fmt.Sprintf("%s #%d", name, i+1)
		}

		product := &models.Product{
			Name:                 itemName,
			Description:          params.Description,
			ManufacturerId:       caller.Id,
			ManufactureDate:      manufactured,
			RequiresPartnership:  true,
			CurrentHolderId:      caller.Id,
			CurrentHolderAddress: strings.ToLower(e.chain.SignerAddress()),
		}

		// The numbered name is a mirror label; the chain records the bare name.
		blockchainId, receipt, err := e.chain.CreateProduct(ctx, name, dateStr)
		if pending, ok := chain.AsPendingTx(err); ok {
			defectId, consistencyErr := e.recordPendingTx(ctx, pending, models.PendingTxPayload{Product: product})
			if defectId != "" {
				result.ConsistencyDefects = append(result.ConsistencyDefects, defectId)
			}
			result.Status = models.OutcomeFor(len(result.Products), qty)
			result.Error = consistencyErr.Error()
			return result, consistencyErr
		}
		if err != nil {
			firstErr = chainError(err)
			result.Error = firstErr.Error()
			zap.L().Warn("Product creation stopped",
				zap.String("user_id", caller.Id),
				zap.Int("created", len(result.Products)),
				zap.Int("requested", qty),
				zap.Error(err))
			break
		}

		product.BlockchainId = blockchainId
		if err := e.mirrorProduct(context.WithoutCancel(ctx), product); err != nil {
			defectId, consistencyErr := e.recordDefect(ctx, models.DefectProductMirror,
				"product:"+strconv.FormatInt(blockchainId, 10),
				models.ProductMirrorPayload{Product: *product}, err)
			if defectId != "" {
				result.ConsistencyDefects = append(result.ConsistencyDefects, defectId)
			}
			result.Status = models.OutcomeFor(len(result.Products), qty)
			result.Error = consistencyErr.Error()
			return result, consistencyErr
		}

		result.Products = append(result.Products, *product)
		e.publish(ctx, events.Event{
			Type:       events.TypeProductCreated,
			ActorId:    caller.Id,
			ProductIds: []int64{blockchainId},
			TxHash:     receipt.TxHash,
		})
	}

	result.Status = models.OutcomeFor(len(result.Products), qty)
	if result.Status == models.OutcomeFailed {
		return result, firstErr
	}

	zap.L().Info("Products created",
		zap.String("user_id", caller.Id),
		zap.Int("created", len(result.Products)),
		zap.String("status", string(result.Status)))
	return result, nil
}

// mirrorProduct fills the derived fields of a confirmed standalone product
// and inserts it. Safe to replay: already-derived fields are kept and an
// existing mirror row counts as success.
func (e *Engine) mirrorProduct(ctx context.Context, product *models.Product) error {
	if product.UniqueProductId == "" {
		sequence, err := e.store.NextCounter(ctx, standaloneCounter(product.ManufacturerId))
		if err != nil {
			return fmt.Errorf("failed to allocate product sequence: %w", err)
		}
		product.UniqueProductId = standaloneProductId(product.ManufacturerId, e.now(), sequence)
	}
	if product.QrCodeUrl == "" {
		product.QrCodeUrl = e.qrFor(product.BlockchainId)
	}

	if err := e.store.InsertProduct(ctx, product); err != nil {
		if errors.Is(err, store.ErrDuplicateBlockchainId) {
			return nil
		}
		return err
	}
	return nil
}

func (e *Engine) qrFor(blockchainId int64) string {
	dataUrl, err := e.qr.ForProduct(blockchainId)
	if err != nil {
		zap.L().Warn("Failed to render QR code", zap.Int64("product_id", blockchainId), zap.Error(err))
		return ""
	}
	return dataUrl
}

func expandBatch(params CreateBatchParams, now func() string) ([]BatchProductInput, error) {
	if params.Quantity > 1 && len(params.Products) > 0 {
		template := params.Products[0]
		qty := clamp(params.Quantity, 1, maxCreateQuantity)
		name := strings.TrimSpace(template.Name)
		if name == "" {
			name = "Product"
		}
		date := template.ManufactureDate
		if date == "" {
			date = now()
		}

		items := make([]BatchProductInput, qty)
		for i := range items {
			items[i] = BatchProductInput{
				Name:            fmt.Sprintf("%s #%d", name, i+1),
				Description:     template.Description,
				ManufactureDate: date,
			}
		}
		return items, nil
	}

	if len(params.Products) == 0 {
		return nil, apperr.New(apperr.KindValidation, "Products array or quantity required")
	}
	if len(params.Products) > maxCreateQuantity {
		return nil, apperr.New(apperr.KindValidation, "a batch holds at most %d products", maxCreateQuantity)
	}
	return params.Products, nil
}

// CreateBatch mints a batch NFT and its products in one transaction, then
// mirrors the batch. The chain call is the atomicity boundary.
func (e *Engine) CreateBatch(ctx context.Context, caller *models.User, params CreateBatchParams) (*models.CreateBatchResult, error) {
	if err := access.RequireRole(caller, models.RoleManufacturer); err != nil {
		return nil, apperr.New(apperr.KindAuthorization, "Forbidden")
	}

	today := func() string { return e.now().UTC().Format(dateLayout) }
	items, err := expandBatch(params, today)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(items))
	descriptions := make([]string, len(items))
	dates := make([]string, len(items))
	for i, item := range items {
		date, err := parseDate(item.ManufactureDate, e.now())
		if err != nil {
			return nil, err
		}
		names[i] = item.Name
		descriptions[i] = item.Description
		dates[i] = date.Format(dateLayout)
	}

	if err := e.requireChain(); err != nil {
		return nil, err
	}

	metadataUri := strings.TrimSpace(params.MetadataUri)
	if metadataUri == "" {
		metadataUri = fmt.Sprintf("ipfs://batch-%d", e.now().UnixMilli())
	}

	e.ensureAuthorized(ctx)

	intent := &models.BatchMirrorPayload{
		ManufacturerId: caller.Id,
		MetadataUri:    metadataUri,
		Names:          names,
		Descriptions:   descriptions,
		Dates:          dates,
	}

	creation, err := e.chain.CreateBatch(ctx, metadataUri, names, dates)
	if pending, ok := chain.AsPendingTx(err); ok {
		_, consistencyErr := e.recordPendingTx(ctx, pending, models.PendingTxPayload{Batch: intent})
		return nil, consistencyErr
	}
	if err != nil {
		zap.L().Warn("Batch creation failed",
			zap.String("user_id", caller.Id),
			zap.Int("products", len(names)),
			zap.Error(err))
		return nil, chainError(err)
	}

	intent.BatchId = creation.BatchId
	intent.ProductIds = creation.ProductIds
	batch, products, err := e.mirrorBatch(context.WithoutCancel(ctx), intent)
	if err != nil {
		_, consistencyErr := e.recordDefect(ctx, models.DefectBatchMirror,
			"batch:"+strconv.FormatInt(creation.BatchId, 10), intent, err)
		return nil, consistencyErr
	}

	e.publish(ctx, events.Event{
		Type:       events.TypeBatchCreated,
		ActorId:    caller.Id,
		ProductIds: creation.ProductIds,
		BatchId:    creation.BatchId,
		TxHash:     creation.Receipt.TxHash,
	})

	zap.L().Info("Batch created",
		zap.String("user_id", caller.Id),
		zap.Int64("batch_id", batch.BatchId),
		zap.Int64("nft_token_id", batch.NftTokenId),
		zap.Int64("manufacturer_batch_number", batch.ManufacturerBatchNumber),
		zap.Int("products", len(products)))

	return &models.CreateBatchResult{
		Batch:                   batch,
		Products:                products,
		TxHash:                  creation.Receipt.TxHash,
		NftTokenId:              batch.NftTokenId,
		ManufacturerBatchNumber: batch.ManufacturerBatchNumber,
	}, nil
}

// mirrorBatch writes the batch and its members for a confirmed chain batch.
// Counters allocated along the way are recorded on intent so a replay never
// allocates them twice; existing rows are reused.
func (e *Engine) mirrorBatch(ctx context.Context, intent *models.BatchMirrorPayload) (*models.Batch, []models.Product, error) {
	if len(intent.ProductIds) != len(intent.Names) || len(intent.ProductIds) != len(intent.Dates) {
		return nil, nil, fmt.Errorf("batch %d: %d chain products for %d names and %d dates",
			intent.BatchId, len(intent.ProductIds), len(intent.Names), len(intent.Dates))
	}

	batch, err := e.store.GetBatchByChainId(ctx, intent.BatchId)
	switch {
	case err == nil:
		intent.NftTokenId = batch.NftTokenId
		intent.ManufacturerBatchNumber = batch.ManufacturerBatchNumber
	case errors.Is(err, store.ErrNotFound):
		if intent.NftTokenId == 0 {
			if intent.NftTokenId, err = e.store.NextCounter(ctx, counterNftTokenId); err != nil {
				return nil, nil, fmt.Errorf("failed to allocate nft token id: %w", err)
			}
		}
		if intent.ManufacturerBatchNumber == 0 {
			if intent.ManufacturerBatchNumber, err = e.store.IncrementBatchCounter(ctx, intent.ManufacturerId); err != nil {
				return nil, nil, fmt.Errorf("failed to increment batch counter: %w", err)
			}
		}
		batch = &models.Batch{
			BatchId:                 intent.BatchId,
			ManufacturerId:          intent.ManufacturerId,
			ManufacturerBatchNumber: intent.ManufacturerBatchNumber,
			MetadataUri:             intent.MetadataUri,
			NftTokenId:              intent.NftTokenId,
		}
		if err := e.store.InsertBatch(ctx, batch); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, err
	}

	holder := strings.ToLower(e.chain.SignerAddress())
	products := make([]models.Product, 0, len(intent.ProductIds))
	for i, blockchainId := range intent.ProductIds {
		existing, err := e.store.GetProductByBlockchainId(ctx, blockchainId)
		if err == nil {
			products = append(products, *existing)
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, nil, err
		}

		product, err := e.batchMember(batch, intent, i, holder)
		if err != nil {
			return nil, nil, err
		}
		if err := e.store.InsertProduct(ctx, product); err != nil {
			return nil, nil, err
		}
		products = append(products, *product)
	}

	quantity, err := e.store.FinalizeBatch(ctx, batch.Id)
	if err != nil {
		return nil, nil, err
	}
	batch.Quantity = quantity
	batch.Products = products
	return batch, products, nil
}

func (e *Engine) batchMember(batch *models.Batch, intent *models.BatchMirrorPayload, i int, holder string) (*models.Product, error) {
	blockchainId := intent.ProductIds[i]
	manufactured, err := parseDate(intent.Dates[i], e.now())
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	secret := zkproof.DeriveSecret(blockchainId, batch.BatchId, now)
	proof, err := json.Marshal(zkproof.Generate(blockchainId, batch.BatchId, secret))
	if err != nil {
		return nil, fmt.Errorf("failed to encode proof: %w", err)
	}

	description := ""
	if i < len(intent.Descriptions) {
		description = intent.Descriptions[i]
	}

	return &models.Product{
		BlockchainId:         blockchainId,
		UniqueProductId:      batchProductId(intent.ManufacturerId, batch.ManufacturerBatchNumber, i+1),
		Name:                 intent.Names[i],
		Description:          description,
		ManufacturerId:       intent.ManufacturerId,
		BatchId:              batch.Id,
		BatchBlockchainId:    batch.BatchId,
		ProductNumberInBatch: i + 1,
		ManufactureDate:      manufactured,
		QrCodeUrl:            e.qrFor(blockchainId),
		ZkProof:              proof,
		ZkProofGenerated:     true,
		ZkProofGeneratedAt:   &now,
		RequiresPartnership:  true,
		CurrentHolderId:      intent.ManufacturerId,
		CurrentHolderAddress: holder,
	}, nil
}
