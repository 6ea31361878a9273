package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"supplychain-tracker-go/internal/models"
	"supplychain-tracker-go/internal/store"

	"github.com/google/uuid"
)

func scanQRAccessRequest(row rowScanner) (*models.QRAccessRequest, error) {
	var r models.QRAccessRequest
	var status string
	if err := row.Scan(&r.Id, &r.BatchId, &r.RetailerId, &r.ManufacturerId, &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = models.QRAccessStatus(status)
	return &r, nil
}

func (s *Service) CreateQRAccessRequest(ctx context.Context, batchId int64, retailerId, manufacturerId string) (*models.QRAccessRequest, error) {
	now := s.now()
	r := &models.QRAccessRequest{
		Id:             uuid.New().String(),
		BatchId:        batchId,
		RetailerId:     retailerId,
		ManufacturerId: manufacturerId,
		Status:         models.QRAccessPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if _, err := s.db.ExecContext(ctx, queryInsertQRAccessRequest, r.Id, batchId, retailerId, manufacturerId, now, now); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateQRAccessRequest
		}
		return nil, fmt.Errorf("unable to insert qr access request: %w", err)
	}
	return r, nil
}

func (s *Service) GetQRAccessRequestById(ctx context.Context, requestId string) (*models.QRAccessRequest, error) {
	r, err := scanQRAccessRequest(s.db.QueryRowContext(ctx, queryGetQRAccessRequestById, requestId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: qr access request %s", store.ErrNotFound, requestId)
		}
		return nil, fmt.Errorf("unable to query qr access request: %w", err)
	}
	return r, nil
}

func (s *Service) RespondToQRAccessRequest(ctx context.Context, requestId string, status models.QRAccessStatus) (*models.QRAccessRequest, error) {
	result, err := s.db.ExecContext(ctx, queryRespondToQRAccessRequest, string(status), s.now(), requestId)
	if err != nil {
		return nil, fmt.Errorf("unable to update qr access request: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("unable to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := s.GetQRAccessRequestById(ctx, requestId); err != nil {
			return nil, err
		}
		return nil, store.ErrAlreadyResponded
	}
	return s.GetQRAccessRequestById(ctx, requestId)
}

func (s *Service) listQRAccessRequests(ctx context.Context, query, userId string) ([]models.QRAccessRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, userId)
	if err != nil {
		return nil, fmt.Errorf("unable to query qr access requests: %w", err)
	}
	defer closeRows(rows)

	var requests []models.QRAccessRequest
	for rows.Next() {
		r, err := scanQRAccessRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan qr access request row: %w", err)
		}
		requests = append(requests, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating qr access request rows: %w", err)
	}
	return requests, nil
}

func (s *Service) ListQRAccessRequestsForManufacturer(ctx context.Context, manufacturerId string) ([]models.QRAccessRequest, error) {
	return s.listQRAccessRequests(ctx, queryListQRAccessForManufacturer, manufacturerId)
}

func (s *Service) ListQRAccessRequestsForRetailer(ctx context.Context, retailerId string) ([]models.QRAccessRequest, error) {
	return s.listQRAccessRequests(ctx, queryListQRAccessForRetailer, retailerId)
}
