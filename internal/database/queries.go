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

const (
	// User queries
	userColumns = `id, name, email, password_hash, wallet_address, role, company_name, batch_counter, created_at, updated_at`

	queryGetUsers = `
		SELECT ` + userColumns + `
		FROM users
		ORDER BY created_at`

	queryInsertUser = `
		INSERT INTO users (id, name, email, password_hash, wallet_address, role, company_name, batch_counter, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`

	queryGetUserById = `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = ?`

	queryGetUserByEmail = `
		SELECT ` + userColumns + `
		FROM users
		WHERE email = ?`

	queryGetUserByWallet = `
		SELECT ` + userColumns + `
		FROM users
		WHERE wallet_address = LOWER(?)`

	queryIncrementBatchCounter = `
		UPDATE users
		SET batch_counter = batch_counter + 1, updated_at = ?
		WHERE id = ?
		RETURNING batch_counter`

	// Counter queries
	queryNextCounter = `
		INSERT INTO global_counters (name, counter) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET counter = counter + 1
		RETURNING counter`

	// Product queries
	productColumns = `id, blockchain_id, unique_product_id, name, description, manufacturer_id,
		batch_id, batch_blockchain_id, product_number_in_batch, manufacture_date, qr_code_url,
		zk_proof, zk_proof_generated, zk_proof_generated_at, requires_partnership,
		current_holder_id, current_holder_address, sender_id, qr_visible, created_at, updated_at`

	queryInsertProduct = `
		INSERT INTO products (` + productColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetProductByBlockchainId = `
		SELECT ` + productColumns + `
		FROM products
		WHERE blockchain_id = ?`

	queryGetProductByUniqueId = `
		SELECT ` + productColumns + `
		FROM products
		WHERE unique_product_id = ?`

	queryListProducts = `
		SELECT ` + productColumns + `
		FROM products
		ORDER BY created_at DESC, blockchain_id DESC
		LIMIT ?`

	queryListProductsByManufacturer = `
		SELECT ` + productColumns + `
		FROM products
		WHERE manufacturer_id = ?
		ORDER BY created_at DESC, blockchain_id DESC
		LIMIT ?`

	queryListProductsByBatch = `
		SELECT ` + productColumns + `
		FROM products
		WHERE batch_id = ?
		ORDER BY product_number_in_batch, blockchain_id`

	queryUpdateProductHolder = `
		UPDATE products
		SET current_holder_id = ?, current_holder_address = ?, sender_id = ?, updated_at = ?
		WHERE blockchain_id = ?`

	querySaveProductProof = `
		UPDATE products
		SET zk_proof = ?, zk_proof_generated = 1, zk_proof_generated_at = ?, updated_at = ?
		WHERE blockchain_id = ?`

	queryGetProductGrants = `
		SELECT user_id
		FROM product_qr_access
		WHERE product_id = ?
		ORDER BY granted_at`

	queryGrantBatchQRAccess = `
		INSERT OR IGNORE INTO product_qr_access (product_id, user_id, granted_at)
		SELECT id, ?, ?
		FROM products
		WHERE batch_blockchain_id = ? AND manufacturer_id = ?`

	querySetBatchQRVisible = `
		UPDATE products
		SET qr_visible = 1, updated_at = ?
		WHERE batch_blockchain_id = ? AND manufacturer_id = ?`

	// Batch queries
	batchColumns = `id, batch_id, manufacturer_id, manufacturer_batch_number, metadata_uri, nft_token_id, quantity, created_at`

	queryInsertBatch = `
		INSERT INTO batches (` + batchColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetBatchByChainId = `
		SELECT ` + batchColumns + `
		FROM batches
		WHERE batch_id = ?`

	queryListBatches = `
		SELECT ` + batchColumns + `
		FROM batches
		ORDER BY created_at DESC, batch_id DESC`

	queryListBatchesByManufacturer = `
		SELECT ` + batchColumns + `
		FROM batches
		WHERE manufacturer_id = ?
		ORDER BY created_at DESC, batch_id DESC`

	queryFinalizeBatch = `
		UPDATE batches
		SET quantity = (SELECT COUNT(*) FROM products WHERE batch_id = batches.id)
		WHERE id = ?
		RETURNING quantity`

	// Partnership queries
	partnershipColumns = `id, sender_id, receiver_id, status, created_at, updated_at`

	queryInsertPartnership = `
		INSERT INTO partnerships (id, sender_id, receiver_id, user_low, user_high, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'pending', ?, ?)`

	queryGetPartnershipById = `
		SELECT ` + partnershipColumns + `
		FROM partnerships
		WHERE id = ?`

	queryFindPartnership = `
		SELECT ` + partnershipColumns + `
		FROM partnerships
		WHERE user_low = ? AND user_high = ?`

	queryHasAcceptedPartnership = `
		SELECT COUNT(*)
		FROM partnerships
		WHERE user_low = ? AND user_high = ? AND status = 'accepted'`

	queryRespondToPartnership = `
		UPDATE partnerships
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`

	queryListPartnershipsForUser = `
		SELECT ` + partnershipColumns + `
		FROM partnerships
		WHERE sender_id = ? OR receiver_id = ?
		ORDER BY created_at DESC`

	queryListPendingPartnerships = `
		SELECT ` + partnershipColumns + `
		FROM partnerships
		WHERE receiver_id = ? AND status = 'pending'
		ORDER BY created_at DESC`

	// QR access queries
	qrAccessColumns = `id, batch_id, retailer_id, manufacturer_id, status, created_at, updated_at`

	queryInsertQRAccessRequest = `
		INSERT INTO qr_access_requests (` + qrAccessColumns + `)
		VALUES (?, ?, ?, ?, 'pending', ?, ?)`

	queryGetQRAccessRequestById = `
		SELECT ` + qrAccessColumns + `
		FROM qr_access_requests
		WHERE id = ?`

	queryRespondToQRAccessRequest = `
		UPDATE qr_access_requests
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`

	queryListQRAccessForManufacturer = `
		SELECT ` + qrAccessColumns + `
		FROM qr_access_requests
		WHERE manufacturer_id = ?
		ORDER BY created_at DESC`

	queryListQRAccessForRetailer = `
		SELECT ` + qrAccessColumns + `
		FROM qr_access_requests
		WHERE retailer_id = ?
		ORDER BY created_at DESC`

	// Reconciliation defect queries
	defectColumns = `id, kind, reference, payload, status, attempts, last_error, created_at, resolved_at`

	queryInsertDefect = `
		INSERT INTO reconciliation_defects (id, kind, reference, payload, status, attempts, last_error, created_at)
		VALUES (?, ?, ?, ?, 'open', 0, '', ?)`

	queryListOpenDefects = `
		SELECT ` + defectColumns + `
		FROM reconciliation_defects
		WHERE status = 'open'`

	queryListOpenDefectsOrder = `
		ORDER BY created_at
		LIMIT ?`

	queryResolveDefect = `
		UPDATE reconciliation_defects
		SET status = 'resolved', resolved_at = ?
		WHERE id = ?`

	queryRecordDefectAttempt = `
		UPDATE reconciliation_defects
		SET attempts = attempts + 1, last_error = ?, status = ?
		WHERE id = ?`
)
