package reconcile

import (
	"context"
	"errors"
	"strconv"

	"supplychain-tracker-go/internal/access"
	"supplychain-tracker-go/internal/apperr"
	"supplychain-tracker-go/internal/models"
	"supplychain-tracker-go/internal/store"

	"go.uber.org/zap"
)

const unknownSender = "unknown"

// ListVisibleProducts returns the products the caller may see: those they
// manufactured or currently hold on chain. When the chain cannot be read,
// manufacturers still see their own products and everyone else sees nothing.
func (e *Engine) ListVisibleProducts(ctx context.Context, caller *models.User) ([]models.Product, error) {
	var (
		candidates []models.Product
		err        error
	)
	if caller.Role == models.RoleManufacturer {
		candidates, err = e.store.ListProductsByManufacturer(ctx, caller.Id, e.listLimit)
	} else {
		candidates, err = e.store.ListProducts(ctx, e.listLimit)
	}
	if err != nil {
		return nil, err
	}

	visible := make([]models.Product, 0, len(candidates))
	for _, product := range candidates {
		onChain, err := e.chain.GetProduct(ctx, product.BlockchainId)
		if err != nil {
			if caller.Role == models.RoleManufacturer {
				visible = append(visible, product)
				continue
			}
			zap.L().Debug("Omitting product with unreadable chain state",
				zap.Int64("product_id", product.BlockchainId),
				zap.Error(err))
			continue
		}
		if product.ManufacturerId == caller.Id || access.SameWallet(onChain.CurrentHolder, caller.WalletAddress) {
			visible = append(visible, product)
		}
	}
	return visible, nil
}

// GroupBySender groups the caller's visible products by the user that last
// sent them, falling back to the manufacturer.
func (e *Engine) GroupBySender(ctx context.Context, caller *models.User) (map[string]*models.SenderGroup, error) {
	products, err := e.ListVisibleProducts(ctx, caller)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.SenderId, p.ManufacturerId)
	}
	users, err := e.store.GetUsersByIds(ctx, ids)
	if err != nil {
		return nil, err
	}

	groups := make(map[string]*models.SenderGroup)
	for _, p := range products {
		key := p.SenderId
		if key == "" {
			key = p.ManufacturerId
		}
		if key == "" {
			key = unknownSender
		}

		group, ok := groups[key]
		if !ok {
			group = &models.SenderGroup{SenderId: key, Products: []models.Product{}}
			if user, found := users[key]; found {
				group.Sender = user.Summary()
			}
			groups[key] = group
		}
		group.Products = append(group.Products, p)
	}
	return groups, nil
}

// ListVisibleBatches returns a manufacturer's own batches, or for any other
// role the batches whose every member the caller holds on chain.
func (e *Engine) ListVisibleBatches(ctx context.Context, caller *models.User) ([]models.Batch, error) {
	if caller.Role == models.RoleManufacturer {
		return e.store.ListBatchesByManufacturer(ctx, caller.Id)
	}

	all, err := e.store.ListBatches(ctx)
	if err != nil {
		return nil, err
	}

	visible := make([]models.Batch, 0)
	for _, batch := range all {
		if len(batch.Products) == 0 {
			continue
		}
		if e.holdsAll(ctx, caller, batch.Products) {
			visible = append(visible, batch)
		}
	}
	return visible, nil
}

func (e *Engine) holdsAll(ctx context.Context, caller *models.User, products []models.Product) bool {
	for _, p := range products {
		onChain, err := e.chain.GetProduct(ctx, p.BlockchainId)
		if err != nil {
			zap.L().Debug("Treating unreadable product as not held",
				zap.Int64("product_id", p.BlockchainId),
				zap.Error(err))
			return false
		}
		if !access.SameWallet(onChain.CurrentHolder, caller.WalletAddress) {
			return false
		}
	}
	return true
}

// GetProductDetails joins a product's chain state, history, mirror record
// and batch.
func (e *Engine) GetProductDetails(ctx context.Context, productId int64) (*models.ProductDetails, error) {
	if err := e.requireChain(); err != nil {
		return nil, err
	}

	onChain, err := e.chain.GetProduct(ctx, productId)
	if err != nil {
		return nil, readError(err, "Not found")
	}
	history, err := e.chain.GetTransferHistory(ctx, productId)
	if err != nil {
		return nil, readError(err, "Not found")
	}
	if history == nil {
		history = []models.TransferRecord{}
	}

	details := &models.ProductDetails{
		OnChain: models.OnChainProductView{OnChainProduct: *onChain, History: history},
	}

	mirror, err := e.store.GetProductByBlockchainId(ctx, productId)
	switch {
	case err == nil:
		details.Db = mirror
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	if onChain.BatchId > 0 {
		batch, err := e.chain.GetBatch(ctx, onChain.BatchId)
		if err != nil {
			zap.L().Warn("Failed to read batch for product",
				zap.Int64("product_id", productId),
				zap.Int64("batch_id", onChain.BatchId),
				zap.Error(err))
		} else {
			details.Batch = batch
		}
	}
	return details, nil
}

func (e *Engine) GetBatchDetails(ctx context.Context, batchId int64) (*models.BatchDetails, error) {
	if err := e.requireChain(); err != nil {
		return nil, err
	}

	onChain, err := e.chain.GetBatch(ctx, batchId)
	if err != nil {
		return nil, readError(err, "Batch not found")
	}

	details := &models.BatchDetails{OnChain: onChain}
	mirror, err := e.store.GetBatchByChainId(ctx, batchId)
	switch {
	case err == nil:
		details.Db = mirror
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}
	return details, nil
}

// GetQRCode returns the QR data URL of a product referenced by blockchain id
// or unique product id.
func (e *Engine) GetQRCode(ctx context.Context, caller *models.User, reference string) (string, error) {
	product, err := e.findProduct(ctx, reference)
	if err != nil {
		return "", err
	}
	if !access.CanViewQR(caller, product) {
		return "", apperr.New(apperr.KindAuthorization, "QR codes are only visible to the manufacturer")
	}
	if product.QrCodeUrl == "" {
		return e.qrFor(product.BlockchainId), nil
	}
	return product.QrCodeUrl, nil
}

func (e *Engine) findProduct(ctx context.Context, reference string) (*models.Product, error) {
	if id, err := strconv.ParseInt(reference, 10, 64); err == nil {
		product, err := e.store.GetProductByBlockchainId(ctx, id)
		if err == nil {
			return product, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	product, err := e.store.GetProductByUniqueId(ctx, reference)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "Not found")
		}
		return nil, err
	}
	return product, nil
}
