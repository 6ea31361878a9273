package access

import (
	"context"
	"errors"

	"supplychain-tracker-go/internal/apperr"
	"supplychain-tracker-go/internal/models"
	"supplychain-tracker-go/internal/store"

	"go.uber.org/zap"
)

// RequestPartnership creates a pending partnership from caller to receiverId.
func (g *Gate) RequestPartnership(ctx context.Context, caller *models.User, receiverId string) (*models.Partnership, error) {
	if receiverId == "" {
		return nil, apperr.New(apperr.KindValidation, "receiverId is required")
	}
	if receiverId == caller.Id {
		return nil, apperr.New(apperr.KindValidation, "Cannot partner with yourself")
	}

	receiver, err := g.store.GetUserById(ctx, receiverId)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "Receiver not found")
		}
		return nil, err
	}

	partnership, err := g.store.CreatePartnership(ctx, caller.Id, receiver.Id)
	if err != nil {
		if errors.Is(err, store.ErrDuplicatePartnership) {
			return nil, apperr.New(apperr.KindConflict, "Partnership already exists")
		}
		return nil, err
	}

	partnership.Sender = caller.Summary()
	partnership.Receiver = receiver.Summary()

	zap.L().Info("Partnership requested",
		zap.String("partnership_id", partnership.Id),
		zap.String("sender_id", caller.Id),
		zap.String("receiver_id", receiver.Id))
	return partnership, nil
}

// RespondToPartnership lets the receiver accept or reject a pending request.
func (g *Gate) RespondToPartnership(ctx context.Context, caller *models.User, partnershipId string, status models.PartnershipStatus) (*models.Partnership, error) {
	if status != models.PartnershipAccepted && status != models.PartnershipRejected {
		return nil, apperr.New(apperr.KindValidation, "Invalid status")
	}

	partnership, err := g.store.GetPartnershipById(ctx, partnershipId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "Partnership not found")
		}
		return nil, err
	}
	if partnership.ReceiverId != caller.Id {
		return nil, apperr.New(apperr.KindAuthorization, "Only the receiver can respond to this request")
	}

	updated, err := g.store.RespondToPartnership(ctx, partnershipId, status)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyResponded) {
			return nil, apperr.New(apperr.KindValidation, "Request already responded")
		}
		return nil, err
	}

	if err := g.attachPartnershipUsers(ctx, []*models.Partnership{updated}); err != nil {
		return nil, err
	}

	zap.L().Info("Partnership responded",
		zap.String("partnership_id", updated.Id),
		zap.String("status", string(updated.Status)))
	return updated, nil
}

// ListPartnerships returns every partnership the caller is part of.
func (g *Gate) ListPartnerships(ctx context.Context, caller *models.User) ([]models.Partnership, error) {
	partnerships, err := g.store.ListPartnershipsForUser(ctx, caller.Id)
	if err != nil {
		return nil, err
	}
	return partnerships, g.attachPartnershipUsers(ctx, partnershipPointers(partnerships))
}

// PendingPartnerships returns pending requests addressed to the caller.
func (g *Gate) PendingPartnerships(ctx context.Context, caller *models.User) ([]models.Partnership, error) {
	partnerships, err := g.store.ListPendingPartnershipsForReceiver(ctx, caller.Id)
	if err != nil {
		return nil, err
	}
	return partnerships, g.attachPartnershipUsers(ctx, partnershipPointers(partnerships))
}

func partnershipPointers(partnerships []models.Partnership) []*models.Partnership {
	out := make([]*models.Partnership, len(partnerships))
	for i := range partnerships {
		out[i] = &partnerships[i]
	}
	return out
}

func (g *Gate) attachPartnershipUsers(ctx context.Context, partnerships []*models.Partnership) error {
	if len(partnerships) == 0 {
		return nil
	}
	ids := make([]string, 0, len(partnerships)*2)
	for _, p := range partnerships {
		ids = append(ids, p.SenderId, p.ReceiverId)
	}
	summaries, err := g.summaries(ctx, ids...)
	if err != nil {
		return err
	}
	for _, p := range partnerships {
		p.Sender = summaries[p.SenderId]
		p.Receiver = summaries[p.ReceiverId]
	}
	return nil
}
