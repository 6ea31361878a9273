package access

import (
	"context"
	"errors"

	"supplychain-tracker-go/internal/apperr"
	"supplychain-tracker-go/internal/models"
	"supplychain-tracker-go/internal/store"

	"go.uber.org/zap"
)

// RequestQRAccess files a retailer's request to see a batch's QR codes.
func (g *Gate) RequestQRAccess(ctx context.Context, caller *models.User, batchId int64, manufacturerId string) (*models.QRAccessRequest, error) {
	if err := RequireRole(caller, models.RoleRetailer); err != nil {
		return nil, apperr.New(apperr.KindAuthorization, "Only retailers can request QR access")
	}
	if batchId <= 0 || manufacturerId == "" {
		return nil, apperr.New(apperr.KindValidation, "batchId and manufacturerId are required")
	}

	manufacturer, err := g.store.GetUserById(ctx, manufacturerId)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "Manufacturer not found")
		}
		return nil, err
	}
	if manufacturer.Role != models.RoleManufacturer {
		return nil, apperr.New(apperr.KindNotFound, "Manufacturer not found")
	}

	request, err := g.store.CreateQRAccessRequest(ctx, batchId, caller.Id, manufacturer.Id)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateQRAccessRequest) {
			return nil, apperr.New(apperr.KindConflict, "Request already exists")
		}
		return nil, err
	}

	request.Retailer = caller.Summary()
	request.Manufacturer = manufacturer.Summary()

	zap.L().Info("QR access requested",
		zap.String("request_id", request.Id),
		zap.Int64("batch_id", batchId),
		zap.String("retailer_id", caller.Id))
	return request, nil
}

// RespondToQRAccess approves or rejects a pending request. Approval grants
// the retailer visibility into every product the manufacturer minted in the batch.
func (g *Gate) RespondToQRAccess(ctx context.Context, caller *models.User, requestId string, status models.QRAccessStatus) (*models.QRAccessRequest, error) {
	if status != models.QRAccessApproved && status != models.QRAccessRejected {
		return nil, apperr.New(apperr.KindValidation, "Invalid status")
	}

	request, err := g.store.GetQRAccessRequestById(ctx, requestId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "Request not found")
		}
		return nil, err
	}
	if request.ManufacturerId != caller.Id {
		return nil, apperr.New(apperr.KindAuthorization, "Not authorized")
	}
	if request.Status != models.QRAccessPending {
		return nil, apperr.New(apperr.KindValidation, "Request already responded")
	}

	updated, err := g.store.RespondToQRAccessRequest(ctx, requestId, status)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyResponded) {
			return nil, apperr.New(apperr.KindValidation, "Request already responded")
		}
		return nil, err
	}

	if status == models.QRAccessApproved {
		granted, err := g.store.GrantBatchQRAccess(ctx, updated.BatchId, updated.ManufacturerId, updated.RetailerId)
		if err != nil {
			return nil, err
		}
		zap.L().Info("QR access granted",
			zap.String("request_id", updated.Id),
			zap.Int64("batch_id", updated.BatchId),
			zap.Int64("products", granted))
	}

	if err := g.attachQRAccessUsers(ctx, []*models.QRAccessRequest{updated}); err != nil {
		return nil, err
	}
	return updated, nil
}

// ListQRAccessRequests returns requests addressed to a manufacturer, or
// filed by any other caller.
func (g *Gate) ListQRAccessRequests(ctx context.Context, caller *models.User) ([]models.QRAccessRequest, error) {
	var (
		requests []models.QRAccessRequest
		err      error
	)
	if caller.Role == models.RoleManufacturer {
		requests, err = g.store.ListQRAccessRequestsForManufacturer(ctx, caller.Id)
	} else {
		requests, err = g.store.ListQRAccessRequestsForRetailer(ctx, caller.Id)
	}
	if err != nil {
		return nil, err
	}

	pointers := make([]*models.QRAccessRequest, len(requests))
	for i := range requests {
		pointers[i] = &requests[i]
	}
	return requests, g.attachQRAccessUsers(ctx, pointers)
}

func (g *Gate) attachQRAccessUsers(ctx context.Context, requests []*models.QRAccessRequest) error {
	if len(requests) == 0 {
		return nil
	}
	ids := make([]string, 0, len(requests)*2)
	for _, r := range requests {
		ids = append(ids, r.RetailerId, r.ManufacturerId)
	}
	summaries, err := g.summaries(ctx, ids...)
	if err != nil {
		return err
	}
	for _, r := range requests {
		r.Retailer = summaries[r.RetailerId]
		r.Manufacturer = summaries[r.ManufacturerId]
	}
	return nil
}
