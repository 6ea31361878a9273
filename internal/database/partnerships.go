/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

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

// orderedPair returns the two user ids in a stable order so that the
// unordered pair maps to a single row.
func orderedPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

func scanPartnership(row rowScanner) (*models.Partnership, error) {
	var p models.Partnership
	var status string
	if err := row.Scan(&p.Id, &p.SenderId, &p.ReceiverId, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = models.PartnershipStatus(status)
	return &p, nil
}

func (s *Service) CreatePartnership(ctx context.Context, senderId, receiverId string) (*models.Partnership, error) {
	low, high := orderedPair(senderId, receiverId)
	now := s.now()
	p := &models.Partnership{
		Id:         uuid.New().String(),
		SenderId:   senderId,
		ReceiverId: receiverId,
		Status:     models.PartnershipPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err := s.db.ExecContext(ctx, queryInsertPartnership, p.Id, senderId, receiverId, low, high, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicatePartnership
		}
		return nil, fmt.Errorf("unable to insert partnership: %w", err)
	}

	zap.L().Info("Partnership requested",
		zap.String("partnership_id", p.Id),
		zap.String("sender_id", senderId),
		zap.String("receiver_id", receiverId))
	return p, nil
}

func (s *Service) GetPartnershipById(ctx context.Context, partnershipId string) (*models.Partnership, error) {
	p, err := scanPartnership(s.db.QueryRowContext(ctx, queryGetPartnershipById, partnershipId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: partnership %s", store.ErrNotFound, partnershipId)
		}
		return nil, fmt.Errorf("unable to query partnership: %w", err)
	}
	return p, nil
}

// FindPartnership returns the partnership between two users in either direction.
func (s *Service) FindPartnership(ctx context.Context, userA, userB string) (*models.Partnership, error) {
	low, high := orderedPair(userA, userB)
	p, err := scanPartnership(s.db.QueryRowContext(ctx, queryFindPartnership, low, high))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: partnership between %s and %s", store.ErrNotFound, userA, userB)
		}
		return nil, fmt.Errorf("unable to query partnership: %w", err)
	}
	return p, nil
}

func (s *Service) HasAcceptedPartnership(ctx context.Context, userA, userB string) (bool, error) {
	low, high := orderedPair(userA, userB)
	var count int
	if err := s.db.QueryRowContext(ctx, queryHasAcceptedPartnership, low, high).Scan(&count); err != nil {
		return false, fmt.Errorf("unable to query accepted partnership: %w", err)
	}
	return count > 0, nil
}

// RespondToPartnership moves a pending partnership to its final status.
// Returns store.ErrAlreadyResponded if it is no longer pending.
func (s *Service) RespondToPartnership(ctx context.Context, partnershipId string, status models.PartnershipStatus) (*models.Partnership, error) {
	result, err := s.db.ExecContext(ctx, queryRespondToPartnership, string(status), s.now(), partnershipId)
	if err != nil {
		return nil, fmt.Errorf("unable to update partnership: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("unable to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := s.GetPartnershipById(ctx, partnershipId); err != nil {
			return nil, err
		}
		return nil, store.ErrAlreadyResponded
	}

	zap.L().Info("Partnership responded",
		zap.String("partnership_id", partnershipId),
		zap.String("status", string(status)))
	return s.GetPartnershipById(ctx, partnershipId)
}

func (s *Service) listPartnerships(ctx context.Context, query string, args ...any) ([]models.Partnership, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("unable to query partnerships: %w", err)
	}
	defer closeRows(rows)

	var partnerships []models.Partnership
	for rows.Next() {
		p, err := scanPartnership(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan partnership row: %w", err)
		}
		partnerships = append(partnerships, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating partnership rows: %w", err)
	}
	return partnerships, nil
}

func (s *Service) ListPartnershipsForUser(ctx context.Context, userId string) ([]models.Partnership, error) {
	return s.listPartnerships(ctx, queryListPartnershipsForUser, userId, userId)
}

func (s *Service) ListPendingPartnershipsForReceiver(ctx context.Context, userId string) ([]models.Partnership, error) {
	return s.listPartnerships(ctx, queryListPendingPartnerships, userId)
}
