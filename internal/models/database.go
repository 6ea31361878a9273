package models

import (
	"encoding/json"
	"time"
)

// Role is the supply-chain function a user performs.
type Role string

const (
	RoleManufacturer Role = "manufacturer"
	RoleDistributor  Role = "distributor"
	RoleWarehouse    Role = "warehouse"
	RoleRetailer     Role = "retailer"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleManufacturer, RoleDistributor, RoleWarehouse, RoleRetailer:
		return true
	}
	return false
}

// User represents a registered participant
type User struct {
	Id            string    `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	Email         string    `db:"email" json:"email"`
	PasswordHash  string    `db:"password_hash" json:"-"`
	WalletAddress string    `db:"wallet_address" json:"walletAddress"`
	Role          Role      `db:"role" json:"role"`
	CompanyName   string    `db:"company_name" json:"companyName,omitempty"`
	BatchCounter  int64     `db:"batch_counter" json:"batchCounter"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

// UserSummary is the public projection of a user embedded in other records.
type UserSummary struct {
	Id            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email,omitempty"`
	WalletAddress string `json:"walletAddress"`
	Role          Role   `json:"role"`
	CompanyName   string `json:"companyName,omitempty"`
}

// Summary returns the public projection of u.
func (u *User) Summary() *UserSummary {
	if u == nil {
		return nil
	}
	return &UserSummary{
		Id:            u.Id,
		Name:          u.Name,
		Email:         u.Email,
		WalletAddress: u.WalletAddress,
		Role:          u.Role,
		CompanyName:   u.CompanyName,
	}
}

// Product mirrors one on-chain product. CurrentHolderId, CurrentHolderAddress
// and SenderId are an advisory cache of the last confirmed transfer.
type Product struct {
	Id                   string          `db:"id" json:"id"`
	BlockchainId         int64           `db:"blockchain_id" json:"blockchainId"`
	UniqueProductId      string          `db:"unique_product_id" json:"uniqueProductId,omitempty"`
	Name                 string          `db:"name" json:"name"`
	Description          string          `db:"description" json:"description,omitempty"`
	ManufacturerId       string          `db:"manufacturer_id" json:"manufacturer"`
	BatchId              string          `db:"batch_id" json:"batchId,omitempty"`
	BatchBlockchainId    int64           `db:"batch_blockchain_id" json:"batchBlockchainId,omitempty"`
	ProductNumberInBatch int             `db:"product_number_in_batch" json:"productNumberInBatch,omitempty"`
	ManufactureDate      time.Time       `db:"manufacture_date" json:"manufactureDate"`
	QrCodeUrl            string          `db:"qr_code_url" json:"qrCodeUrl,omitempty"`
	ZkProof              json.RawMessage `db:"zk_proof" json:"zkProof,omitempty"`
	ZkProofGenerated     bool            `db:"zk_proof_generated" json:"zkProofGenerated"`
	ZkProofGeneratedAt   *time.Time      `db:"zk_proof_generated_at" json:"zkProofGeneratedAt,omitempty"`
	RequiresPartnership  bool            `db:"requires_partnership" json:"requiresPartnership"`
	CurrentHolderId      string          `db:"current_holder_id" json:"currentHolder,omitempty"`
	CurrentHolderAddress string          `db:"current_holder_address" json:"currentHolderAddress,omitempty"`
	SenderId             string          `db:"sender_id" json:"sender,omitempty"`
	QrVisible            bool            `db:"qr_visible" json:"qrVisible"`
	QrAccessGrantedTo    []string        `json:"qrAccessGrantedTo,omitempty"`
	CreatedAt            time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updatedAt"`
}

// InBatch reports whether the product was created as a batch member.
func (p *Product) InBatch() bool {
	return p.BatchId != ""
}

// Batch mirrors one on-chain NFT-backed batch.
type Batch struct {
	Id                      string    `db:"id" json:"id"`
	BatchId                 int64     `db:"batch_id" json:"batchId"`
	ManufacturerId          string    `db:"manufacturer_id" json:"manufacturer"`
	ManufacturerBatchNumber int64     `db:"manufacturer_batch_number" json:"manufacturerBatchNumber"`
	MetadataUri             string    `db:"metadata_uri" json:"metadataURI"`
	NftTokenId              int64     `db:"nft_token_id" json:"nftTokenId"`
	Quantity                int       `db:"quantity" json:"quantity"`
	Products                []Product `json:"products,omitempty"`
	CreatedAt               time.Time `db:"created_at" json:"createdAt"`
}

// PartnershipStatus is the lifecycle state of a partnership request.
type PartnershipStatus string

const (
	PartnershipPending  PartnershipStatus = "pending"
	PartnershipAccepted PartnershipStatus = "accepted"
	PartnershipRejected PartnershipStatus = "rejected"
)

// Partnership is a directed request between two users; the unordered pair is unique.
type Partnership struct {
	Id         string            `db:"id" json:"id"`
	SenderId   string            `db:"sender_id" json:"senderId"`
	ReceiverId string            `db:"receiver_id" json:"receiverId"`
	Status     PartnershipStatus `db:"status" json:"status"`
	Sender     *UserSummary      `json:"sender,omitempty"`
	Receiver   *UserSummary      `json:"receiver,omitempty"`
	CreatedAt  time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time         `db:"updated_at" json:"updatedAt"`
}

// QRAccessStatus is the lifecycle state of a QR access request.
type QRAccessStatus string

const (
	QRAccessPending  QRAccessStatus = "pending"
	QRAccessApproved QRAccessStatus = "approved"
	QRAccessRejected QRAccessStatus = "rejected"
)

// QRAccessRequest asks a manufacturer for visibility into a batch's QR codes.
type QRAccessRequest struct {
	Id             string         `db:"id" json:"id"`
	BatchId        int64          `db:"batch_id" json:"batchId"`
	RetailerId     string         `db:"retailer_id" json:"retailerId"`
	ManufacturerId string         `db:"manufacturer_id" json:"manufacturerId"`
	Status         QRAccessStatus `db:"status" json:"status"`
	Retailer       *UserSummary   `json:"retailer,omitempty"`
	Manufacturer   *UserSummary   `json:"manufacturer,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updatedAt"`
}

// DefectKind names the mirror write a reconciliation defect must replay.
type DefectKind string

const (
	DefectProductMirror DefectKind = "product_mirror"
	DefectBatchMirror   DefectKind = "batch_mirror"
	DefectHolderMirror  DefectKind = "holder_mirror"
	DefectPendingTx     DefectKind = "pending_tx"
)

// DefectStatus is the repair state of a reconciliation defect.
type DefectStatus string

const (
	DefectOpen      DefectStatus = "open"
	DefectResolved  DefectStatus = "resolved"
	DefectAbandoned DefectStatus = "abandoned"
)

// ReconciliationDefect records confirmed chain state whose mirror write failed.
type ReconciliationDefect struct {
	Id         string          `db:"id" json:"id"`
	Kind       DefectKind      `db:"kind" json:"kind"`
	Reference  string          `db:"reference" json:"reference"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	Status     DefectStatus    `db:"status" json:"status"`
	Attempts   int             `db:"attempts" json:"attempts"`
	LastError  string          `db:"last_error" json:"lastError,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"createdAt"`
	ResolvedAt *time.Time      `db:"resolved_at" json:"resolvedAt,omitempty"`
}

// ProductMirrorPayload replays a standalone product insert.
type ProductMirrorPayload struct {
	Product Product `json:"product"`
}

// BatchMirrorPayload replays an incomplete batch mirror.
type BatchMirrorPayload struct {
	BatchId                 int64    `json:"batchId"`
	ProductIds              []int64  `json:"productIds"`
	ManufacturerId          string   `json:"manufacturerId"`
	MetadataUri             string   `json:"metadataURI"`
	Names                   []string `json:"names"`
	Descriptions            []string `json:"descriptions"`
	Dates                   []string `json:"dates"`
	NftTokenId              int64    `json:"nftTokenId,omitempty"`
	ManufacturerBatchNumber int64    `json:"manufacturerBatchNumber,omitempty"`
}

// HolderMirrorPayload replays a holder cache update after a confirmed transfer.
type HolderMirrorPayload struct {
	ProductId int64  `json:"productId"`
	ToAddress string `json:"toAddress"`
	SenderId  string `json:"senderId"`
}

// PendingTxPayload replays the mirror write of a transaction whose outcome
// was not observed. Exactly one of Product, Batch or Holder is set; chain
// ids are filled from the mined transaction.
type PendingTxPayload struct {
	TxHash  string               `json:"txHash"`
	Method  string               `json:"method"`
	Product *Product             `json:"product,omitempty"`
	Batch   *BatchMirrorPayload  `json:"batch,omitempty"`
	Holder  *HolderMirrorPayload `json:"holder,omitempty"`
}
