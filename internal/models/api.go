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

package models

import (
	"github.com/shopspring/decimal"
)

// OutcomeStatus is the three-way result of a multi-step chain sequence
type OutcomeStatus string

const (
	OutcomeComplete OutcomeStatus = "complete"
	OutcomePartial  OutcomeStatus = "partial"
	OutcomeFailed   OutcomeStatus = "failed"
)

// OutcomeFor derives the tri-state outcome from requested and completed counts.
func OutcomeFor(done, requested int) OutcomeStatus {
	switch {
	case done <= 0:
		return OutcomeFailed
	case done < requested:
		return OutcomePartial
	default:
		return OutcomeComplete
	}
}

// TransferItem records one confirmed product transfer
type TransferItem struct {
	ProductId int64           `json:"productId"`
	TxHash    string          `json:"txHash"`
	Fee       decimal.Decimal `json:"fee"`
}

// StopReason explains why a transfer sequence ended before the requested count.
type StopReason string

const (
	StopNone               StopReason = ""
	StopNotHolder          StopReason = "not_holder"
	StopVerified           StopReason = "verified"
	StopPartnershipMissing StopReason = "partnership_required"
	StopRecipientUnknown   StopReason = "recipient_unknown"
	StopChainError         StopReason = "chain_error"
	StopStoreError         StopReason = "store_error"
)

// ProductTransferResult represents the result of transferring consecutive products
type ProductTransferResult struct {
	Status             OutcomeStatus  `json:"status"`
	Requested          int            `json:"requested"`
	Transfers          []TransferItem `json:"transfers"`
	StopReason         StopReason     `json:"stopReason,omitempty"`
	StoppedAt          int64          `json:"stoppedAt,omitempty"`
	Error              string         `json:"error,omitempty"`
	Manufacturer       *UserSummary   `json:"manufacturer,omitempty"`
	ToAddress          string         `json:"toAddress"`
	Location           string         `json:"location"`
	ConsistencyDefects []string       `json:"consistencyDefects,omitempty"`
}

// BatchTransferResult represents the result of transferring every member of a batch
type BatchTransferResult struct {
	Status             OutcomeStatus  `json:"status"`
	BatchId            int64          `json:"batchId"`
	Total              int            `json:"total"`
	Transfers          []TransferItem `json:"transfers"`
	FailedProductId    int64          `json:"failedProductId,omitempty"`
	Error              string         `json:"error,omitempty"`
	Manufacturer       *UserSummary   `json:"manufacturer,omitempty"`
	ToAddress          string         `json:"toAddress"`
	Location           string         `json:"location"`
	ConsistencyDefects []string       `json:"consistencyDefects,omitempty"`
}

// CreateProductsResult represents the result of creating one or more standalone products
type CreateProductsResult struct {
	Status             OutcomeStatus `json:"status"`
	Requested          int           `json:"requested"`
	Products           []Product     `json:"products"`
	Error              string        `json:"error,omitempty"`
	ConsistencyDefects []string      `json:"consistencyDefects,omitempty"`
}

// CreateBatchResult represents the result of creating a batch
type CreateBatchResult struct {
	Batch                   *Batch    `json:"batch"`
	Products                []Product `json:"products"`
	TxHash                  string    `json:"txHash"`
	NftTokenId              int64     `json:"nftTokenId"`
	ManufacturerBatchNumber int64     `json:"manufacturerBatchNumber"`
}

// OnChainProductView joins a product's chain state and transfer history
type OnChainProductView struct {
	OnChainProduct
	History []TransferRecord `json:"history"`
}

// ProductDetails is the public view of a product across both ledgers
type ProductDetails struct {
	OnChain OnChainProductView `json:"onchain"`
	Db      *Product           `json:"db"`
	Batch   *OnChainBatch      `json:"batch"`
}

// BatchDetails is the public view of a batch across both ledgers
type BatchDetails struct {
	OnChain *OnChainBatch `json:"onchain"`
	Db      *Batch        `json:"db"`
}

// SenderGroup groups visible products by the user who last sent them
type SenderGroup struct {
	SenderId string       `json:"senderId"`
	Sender   *UserSummary `json:"sender"`
	Products []Product    `json:"products"`
}

// ProofResult is a generated membership proof with its derived hash
type ProofResult struct {
	Proof         MembershipProof `json:"proof"`
	PublicSignals []string        `json:"publicSignals"`
	ProductHash   string          `json:"productHash"`
}
