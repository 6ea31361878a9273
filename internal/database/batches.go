package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"supplychain-tracker-go/internal/models"
	"supplychain-tracker-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func scanBatch(row rowScanner) (*models.Batch, error) {
	var b models.Batch
	err := row.Scan(&b.Id, &b.BatchId, &b.ManufacturerId, &b.ManufacturerBatchNumber,
		&b.MetadataUri, &b.NftTokenId, &b.Quantity, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Service) InsertBatch(ctx context.Context, b *models.Batch) error {
	if b.Id == "" {
		b.Id = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, queryInsertBatch,
		b.Id, b.BatchId, b.ManufacturerId, b.ManufacturerBatchNumber, b.MetadataUri, b.NftTokenId, b.Quantity, b.CreatedAt)
	if err != nil {
		if uniqueViolationOn(err, "batches.batch_id") || uniqueViolationOn(err, "batches.nft_token_id") {
			return fmt.Errorf("%w: batch %d", store.ErrDuplicateBlockchainId, b.BatchId)
		}
		zap.L().Error("Failed to insert batch", zap.Int64("batch_id", b.BatchId), zap.Error(err))
		return fmt.Errorf("unable to insert batch: %w", err)
	}

	zap.L().Debug("Batch mirrored",
		zap.Int64("batch_id", b.BatchId),
		zap.Int64("nft_token_id", b.NftTokenId),
		zap.Int64("manufacturer_batch_number", b.ManufacturerBatchNumber))
	return nil
}

// GetBatchByChainId returns the batch with its member products in batch order.
func (s *Service) GetBatchByChainId(ctx context.Context, batchId int64) (*models.Batch, error) {
	batch, err := scanBatch(s.db.QueryRowContext(ctx, queryGetBatchByChainId, batchId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: batch %d", store.ErrNotFound, batchId)
		}
		return nil, fmt.Errorf("unable to query batch: %w", err)
	}

	products, err := s.ListProductsByBatch(ctx, batch.Id)
	if err != nil {
		return nil, err
	}
	batch.Products = products
	return batch, nil
}

func (s *Service) listBatches(ctx context.Context, query string, args ...any) ([]models.Batch, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("unable to query batches: %w", err)
	}

	var batches []models.Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			closeRows(rows)
			return nil, fmt.Errorf("unable to scan batch row: %w", err)
		}
		batches = append(batches, *batch)
	}
	if err := rows.Err(); err != nil {
		closeRows(rows)
		return nil, fmt.Errorf("error iterating batch rows: %w", err)
	}
	closeRows(rows)

	// Members load after the cursor closes.
	for i := range batches {
		products, err := s.ListProductsByBatch(ctx, batches[i].Id)
		if err != nil {
			return nil, err
		}
		batches[i].Products = products
	}
	return batches, nil
}

func (s *Service) ListBatches(ctx context.Context) ([]models.Batch, error) {
	return s.listBatches(ctx, queryListBatches)
}

func (s *Service) ListBatchesByManufacturer(ctx context.Context, manufacturerId string) ([]models.Batch, error) {
	return s.listBatches(ctx, queryListBatchesByManufacturer, manufacturerId)
}

// FinalizeBatch sets the batch quantity to its mirrored member count.
func (s *Service) FinalizeBatch(ctx context.Context, batchRecordId string) (int, error) {
	var quantity int
	if err := s.db.QueryRowContext(ctx, queryFinalizeBatch, batchRecordId).Scan(&quantity); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: batch record %s", store.ErrNotFound, batchRecordId)
		}
		return 0, fmt.Errorf("unable to finalize batch: %w", err)
	}
	return quantity, nil
}
