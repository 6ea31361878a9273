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
	"strings"

	"supplychain-tracker-go/internal/models"
	"supplychain-tracker-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	var role string
	err := row.Scan(&user.Id, &user.Name, &user.Email, &user.PasswordHash, &user.WalletAddress,
		&role, &user.CompanyName, &user.BatchCounter, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	user.Role = models.Role(role)
	return &user, nil
}

func (s *Service) GetUsers(ctx context.Context) ([]models.User, error) {
	zap.L().Debug("Querying users")

	rows, err := s.db.QueryContext(ctx, queryGetUsers)
	if err != nil {
		zap.L().Error("Failed to query users", zap.Error(err))
		return nil, fmt.Errorf("unable to query users: %w", err)
	}
	defer closeRows(rows)

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			zap.L().Error("Failed to scan user row", zap.Error(err))
			return nil, fmt.Errorf("unable to scan user row: %w", err)
		}
		users = append(users, *user)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during user row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}

	zap.L().Debug("Retrieved users", zap.Int("count", len(users)))
	return users, nil
}

func (s *Service) getUser(ctx context.Context, query, field, value string) (*models.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, query, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s %s", store.ErrUserNotFound, field, value)
		}
		zap.L().Error("Failed to query user", zap.String(field, value), zap.Error(err))
		return nil, fmt.Errorf("unable to query user by %s: %w", field, err)
	}
	return user, nil
}

func (s *Service) GetUserById(ctx context.Context, userId string) (*models.User, error) {
	return s.getUser(ctx, queryGetUserById, "id", userId)
}

func (s *Service) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, queryGetUserByEmail, "email", strings.ToLower(strings.TrimSpace(email)))
}

// GetUserByWallet matches wallet addresses case-insensitively.
func (s *Service) GetUserByWallet(ctx context.Context, walletAddress string) (*models.User, error) {
	return s.getUser(ctx, queryGetUserByWallet, "wallet_address", strings.TrimSpace(walletAddress))
}

func (s *Service) GetUsersByIds(ctx context.Context, userIds []string) (map[string]*models.User, error) {
	users := make(map[string]*models.User, len(userIds))
	for _, id := range userIds {
		if id == "" {
			continue
		}
		if _, seen := users[id]; seen {
			continue
		}
		user, err := s.GetUserById(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrUserNotFound) {
				continue
			}
			return nil, err
		}
		users[id] = user
	}
	return users, nil
}

func (s *Service) CreateUser(ctx context.Context, params store.CreateUserParams) (*models.User, error) {
	userId := uuid.New().String()
	email := strings.ToLower(strings.TrimSpace(params.Email))
	wallet := strings.ToLower(strings.TrimSpace(params.WalletAddress))
	now := s.now()

	zap.L().Info("Creating user",
		zap.String("id", userId),
		zap.String("email", email),
		zap.String("role", string(params.Role)))

	_, err := s.db.ExecContext(ctx, queryInsertUser,
		userId, params.Name, email, params.PasswordHash, wallet, string(params.Role), params.CompanyName, now, now)
	if err != nil {
		switch {
		case uniqueViolationOn(err, "users.email"):
			return nil, store.ErrDuplicateEmail
		case uniqueViolationOn(err, "users.wallet_address"):
			return nil, store.ErrDuplicateWallet
		}
		zap.L().Error("Failed to insert user", zap.String("email", email), zap.Error(err))
		return nil, fmt.Errorf("unable to insert user: %w", err)
	}

	zap.L().Info("User created successfully", zap.String("id", userId), zap.String("email", email))
	return s.GetUserById(ctx, userId)
}

// IncrementBatchCounter atomically bumps the user's batch counter and returns the new value.
func (s *Service) IncrementBatchCounter(ctx context.Context, userId string) (int64, error) {
	var counter int64
	err := s.db.QueryRowContext(ctx, queryIncrementBatchCounter, s.now(), userId).Scan(&counter)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: id %s", store.ErrUserNotFound, userId)
		}
		return 0, fmt.Errorf("unable to increment batch counter: %w", err)
	}

	zap.L().Debug("Incremented batch counter", zap.String("user_id", userId), zap.Int64("batch_counter", counter))
	return counter, nil
}

// NextCounter atomically advances the named sequence; the first value is 1.
func (s *Service) NextCounter(ctx context.Context, name string) (int64, error) {
	var counter int64
	if err := s.db.QueryRowContext(ctx, queryNextCounter, name).Scan(&counter); err != nil {
		return 0, fmt.Errorf("unable to advance counter %s: %w", name, err)
	}
	return counter, nil
}
