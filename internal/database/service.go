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
	"time"

	"supplychain-tracker-go/internal/models"
	"supplychain-tracker-go/internal/store"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.RecordStore.
var _ store.RecordStore = (*Service)(nil)

type Service struct {
	db  *sql.DB
	now func() time.Time
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Set connection timeouts and limits
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			zap.L().Warn("Failed to close database after ping failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := NewServiceWithDB(db)
	if err := service.InitSchema(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			zap.L().Warn("Failed to close database after schema failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

// NewServiceWithDB wraps an already opened database handle. The caller is
// responsible for calling InitSchema.
func NewServiceWithDB(db *sql.DB) *Service {
	return &Service{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) InitSchema(ctx context.Context) error {
	schema := `
	-- Registered participants; wallet_address is stored lowercased
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		wallet_address TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL,
		company_name TEXT NOT NULL DEFAULT '',
		batch_counter INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);

	-- Named monotonic sequences
	CREATE TABLE IF NOT EXISTS global_counters (
		name TEXT PRIMARY KEY,
		counter INTEGER NOT NULL
	);

	-- NFT-backed batches mirrored from the registry
	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		batch_id INTEGER NOT NULL UNIQUE,
		manufacturer_id TEXT NOT NULL REFERENCES users(id),
		manufacturer_batch_number INTEGER NOT NULL,
		metadata_uri TEXT NOT NULL,
		nft_token_id INTEGER NOT NULL UNIQUE,
		quantity INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_batches_manufacturer ON batches(manufacturer_id);

	-- Products mirrored from the registry; holder columns are an advisory cache
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		blockchain_id INTEGER NOT NULL UNIQUE,
		unique_product_id TEXT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		manufacturer_id TEXT NOT NULL REFERENCES users(id),
		batch_id TEXT REFERENCES batches(id),
		batch_blockchain_id INTEGER,
		product_number_in_batch INTEGER NOT NULL DEFAULT 0,
		manufacture_date TIMESTAMP NOT NULL,
		qr_code_url TEXT NOT NULL DEFAULT '',
		zk_proof TEXT,
		zk_proof_generated BOOLEAN NOT NULL DEFAULT 0,
		zk_proof_generated_at TIMESTAMP,
		requires_partnership BOOLEAN NOT NULL DEFAULT 0,
		current_holder_id TEXT,
		current_holder_address TEXT,
		sender_id TEXT,
		qr_visible BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_products_manufacturer ON products(manufacturer_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_products_batch ON products(batch_id);
	CREATE INDEX IF NOT EXISTS idx_products_batch_chain ON products(batch_blockchain_id, manufacturer_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_products_unique_product_id ON products(unique_product_id) WHERE unique_product_id IS NOT NULL;

	-- Users granted QR visibility per product
	CREATE TABLE IF NOT EXISTS product_qr_access (
		product_id TEXT NOT NULL REFERENCES products(id),
		user_id TEXT NOT NULL REFERENCES users(id),
		granted_at TIMESTAMP NOT NULL,
		PRIMARY KEY (product_id, user_id)
	);

	-- Partnerships; (user_low, user_high) is the unordered pair
	CREATE TABLE IF NOT EXISTS partnerships (
		id TEXT PRIMARY KEY,
		sender_id TEXT NOT NULL REFERENCES users(id),
		receiver_id TEXT NOT NULL REFERENCES users(id),
		user_low TEXT NOT NULL,
		user_high TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending', 'accepted', 'rejected')),
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(user_low, user_high)
	);

	CREATE INDEX IF NOT EXISTS idx_partnerships_receiver ON partnerships(receiver_id, status);

	-- Retailer requests for QR visibility into a manufacturer's batch
	CREATE TABLE IF NOT EXISTS qr_access_requests (
		id TEXT PRIMARY KEY,
		batch_id INTEGER NOT NULL,
		retailer_id TEXT NOT NULL REFERENCES users(id),
		manufacturer_id TEXT NOT NULL REFERENCES users(id),
		status TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected')),
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(batch_id, retailer_id, manufacturer_id)
	);

	-- Confirmed chain state whose mirror write failed
	CREATE TABLE IF NOT EXISTS reconciliation_defects (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		reference TEXT NOT NULL,
		payload TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_defects_status ON reconciliation_defects(status, created_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func uniqueViolationOn(err error, column string) bool {
	return isUniqueViolation(err) && strings.Contains(err.Error(), column)
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		zap.L().Warn("Failed to close rows", zap.Error(err))
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
