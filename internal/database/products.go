package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"supplychain-tracker-go/internal/models"
	"supplychain-tracker-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func scanProduct(row rowScanner) (*models.Product, error) {
	var (
		p                 models.Product
		uniqueProductId   sql.NullString
		batchId           sql.NullString
		batchBlockchainId sql.NullInt64
		zkProof           sql.NullString
		zkProofAt         sql.NullTime
		holderId          sql.NullString
		holderAddress     sql.NullString
		senderId          sql.NullString
	)
	err := row.Scan(&p.Id, &p.BlockchainId, &uniqueProductId, &p.Name, &p.Description, &p.ManufacturerId,
		&batchId, &batchBlockchainId, &p.ProductNumberInBatch, &p.ManufactureDate, &p.QrCodeUrl,
		&zkProof, &p.ZkProofGenerated, &zkProofAt, &p.RequiresPartnership,
		&holderId, &holderAddress, &senderId, &p.QrVisible, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.UniqueProductId = uniqueProductId.String
	p.BatchId = batchId.String
	p.BatchBlockchainId = batchBlockchainId.Int64
	if zkProof.Valid && zkProof.String != "" {
		p.ZkProof = json.RawMessage(zkProof.String)
	}
	if zkProofAt.Valid {
		at := zkProofAt.Time
		p.ZkProofGeneratedAt = &at
	}
	p.CurrentHolderId = holderId.String
	p.CurrentHolderAddress = holderAddress.String
	p.SenderId = senderId.String
	return &p, nil
}

// InsertProduct writes a new mirror record. Id and timestamps are assigned when empty.
func (s *Service) InsertProduct(ctx context.Context, p *models.Product) error {
	if p.Id == "" {
		p.Id = uuid.New().String()
	}
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	var zkProof sql.NullString
	if len(p.ZkProof) > 0 {
		zkProof = sql.NullString{String: string(p.ZkProof), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, queryInsertProduct,
		p.Id, p.BlockchainId, nullString(p.UniqueProductId), p.Name, p.Description, p.ManufacturerId,
		nullString(p.BatchId), nullInt64(p.BatchBlockchainId), p.ProductNumberInBatch, p.ManufactureDate, p.QrCodeUrl,
		zkProof, p.ZkProofGenerated, nullTime(p.ZkProofGeneratedAt), p.RequiresPartnership,
		nullString(p.CurrentHolderId), nullString(p.CurrentHolderAddress), nullString(p.SenderId), p.QrVisible,
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if uniqueViolationOn(err, "products.blockchain_id") {
			return fmt.Errorf("%w: %d", store.ErrDuplicateBlockchainId, p.BlockchainId)
		}
		zap.L().Error("Failed to insert product",
			zap.Int64("blockchain_id", p.BlockchainId),
			zap.Error(err))
		return fmt.Errorf("unable to insert product: %w", err)
	}

	zap.L().Debug("Product mirrored",
		zap.Int64("blockchain_id", p.BlockchainId),
		zap.String("unique_product_id", p.UniqueProductId))
	return nil
}

func (s *Service) getProduct(ctx context.Context, query string, arg any) (*models.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %v", store.ErrNotFound, arg)
		}
		return nil, fmt.Errorf("unable to query product: %w", err)
	}

	grants, err := s.productGrants(ctx, product.Id)
	if err != nil {
		return nil, err
	}
	product.QrAccessGrantedTo = grants
	return product, nil
}

func (s *Service) GetProductByBlockchainId(ctx context.Context, blockchainId int64) (*models.Product, error) {
	return s.getProduct(ctx, queryGetProductByBlockchainId, blockchainId)
}

func (s *Service) GetProductByUniqueId(ctx context.Context, uniqueProductId string) (*models.Product, error) {
	return s.getProduct(ctx, queryGetProductByUniqueId, uniqueProductId)
}

func (s *Service) productGrants(ctx context.Context, productId string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, queryGetProductGrants, productId)
	if err != nil {
		return nil, fmt.Errorf("unable to query qr grants: %w", err)
	}
	defer closeRows(rows)

	var grants []string
	for rows.Next() {
		var userId string
		if err := rows.Scan(&userId); err != nil {
			return nil, fmt.Errorf("unable to scan qr grant row: %w", err)
		}
		grants = append(grants, userId)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating qr grant rows: %w", err)
	}
	return grants, nil
}

func (s *Service) listProducts(ctx context.Context, query string, args ...any) ([]models.Product, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		zap.L().Error("Failed to query products", zap.Error(err))
		return nil, fmt.Errorf("unable to query products: %w", err)
	}
	defer closeRows(rows)

	var products []models.Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan product row: %w", err)
		}
		products = append(products, *product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating product rows: %w", err)
	}
	return products, nil
}

func (s *Service) ListProducts(ctx context.Context, limit int) ([]models.Product, error) {
	return s.listProducts(ctx, queryListProducts, limit)
}

func (s *Service) ListProductsByManufacturer(ctx context.Context, manufacturerId string, limit int) ([]models.Product, error) {
	return s.listProducts(ctx, queryListProductsByManufacturer, manufacturerId, limit)
}

func (s *Service) ListProductsByBatch(ctx context.Context, batchRecordId string) ([]models.Product, error) {
	return s.listProducts(ctx, queryListProductsByBatch, batchRecordId)
}

func (s *Service) UpdateProductHolder(ctx context.Context, params store.UpdateHolderParams) error {
	result, err := s.db.ExecContext(ctx, queryUpdateProductHolder,
		nullString(params.HolderId), nullString(params.HolderAddress), nullString(params.SenderId), s.now(), params.BlockchainId)
	if err != nil {
		return fmt.Errorf("unable to update product holder: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: product %d", store.ErrNotFound, params.BlockchainId)
	}
	return nil
}

func (s *Service) SaveProductProof(ctx context.Context, params store.SaveProofParams) error {
	result, err := s.db.ExecContext(ctx, querySaveProductProof,
		string(params.Proof), params.GeneratedAt, s.now(), params.BlockchainId)
	if err != nil {
		return fmt.Errorf("unable to save product proof: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: product %d", store.ErrNotFound, params.BlockchainId)
	}
	return nil
}

// GrantBatchQRAccess gives userId QR visibility over every product the
// manufacturer created in the batch and returns how many products matched.
func (s *Service) GrantBatchQRAccess(ctx context.Context, batchBlockchainId int64, manufacturerId, userId string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			zap.L().Warn("Failed to rollback transaction", zap.Error(err))
		}
	}()

	now := s.now()
	if _, err := tx.ExecContext(ctx, queryGrantBatchQRAccess, userId, now, batchBlockchainId, manufacturerId); err != nil {
		return 0, fmt.Errorf("unable to grant qr access: %w", err)
	}

	result, err := tx.ExecContext(ctx, querySetBatchQRVisible, now, batchBlockchainId, manufacturerId)
	if err != nil {
		return 0, fmt.Errorf("unable to set qr visibility: %w", err)
	}
	matched, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("unable to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Granted batch QR access",
		zap.Int64("batch_id", batchBlockchainId),
		zap.String("manufacturer_id", manufacturerId),
		zap.String("user_id", userId),
		zap.Int64("products", matched))
	return matched, nil
}
