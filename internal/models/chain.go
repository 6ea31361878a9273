package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OnChainProduct is the registry's authoritative view of a product
type OnChainProduct struct {
	Manufacturer       string `json:"manufacturer"`
	CurrentHolder      string `json:"currentHolder"`
	VerifiedByCustomer bool   `json:"verifiedByCustomer"`
	IsAuthentic        bool   `json:"isAuthentic"`
	Customer           string `json:"customer"`
	BatchId            int64  `json:"batchId"`
}

// OnChainBatch is the registry's authoritative view of a batch
type OnChainBatch struct {
	Manufacturer string    `json:"manufacturer"`
	MetadataUri  string    `json:"metadataURI"`
	CreatedAt    time.Time `json:"createdAt"`
	ProductIds   []int64   `json:"productIds"`
	NftOwner     string    `json:"nftOwner"`
}

// TransferRecord is one entry of a product's on-chain transfer history
type TransferRecord struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Location  string    `json:"location"`
	Timestamp time.Time `json:"timestamp"`
}

// Receipt describes a confirmed registry transaction
type Receipt struct {
	TxHash      string          `json:"txHash"`
	BlockNumber uint64          `json:"blockNumber"`
	GasUsed     uint64          `json:"gasUsed"`
	Fee         decimal.Decimal `json:"fee"`
}

// ChainStatus summarizes registry connectivity for operators
type ChainStatus struct {
	Configured      bool   `json:"configured"`
	ContractAddress string `json:"contractAddress,omitempty"`
	Signer          string `json:"signer,omitempty"`
	NextProductId   int64  `json:"nextProductId,omitempty"`
}

// MembershipProof is the placeholder batch membership proof payload.
type MembershipProof struct {
	A             [2]string    `json:"a"`
	B             [2][2]string `json:"b"`
	C             [2]string    `json:"c"`
	PublicSignals []string     `json:"publicSignals"`
}
