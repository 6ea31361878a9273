package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"supplychain-tracker-go/internal/models"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrNotFound                 = errors.New("record not found")
	ErrUserNotFound             = errors.New("user not found")
	ErrDuplicateEmail           = errors.New("email already registered")
	ErrDuplicateWallet          = errors.New("wallet address already registered")
	ErrDuplicateBlockchainId    = errors.New("blockchain id already mirrored")
	ErrDuplicatePartnership     = errors.New("partnership already exists")
	ErrDuplicateQRAccessRequest = errors.New("qr access request already exists")
	ErrAlreadyResponded         = errors.New("request already responded")
)

// CreateUserParams contains the parameters for registering a user.
type CreateUserParams struct {
	Name          string
	Email         string
	PasswordHash  string
	WalletAddress string
	Role          models.Role
	CompanyName   string
}

// UpdateHolderParams refreshes the advisory holder cache of a product after
// a confirmed transfer. HolderId is empty when the recipient is not registered.
type UpdateHolderParams struct {
	BlockchainId  int64
	HolderId      string
	HolderAddress string
	SenderId      string
}

// SaveProofParams stores a generated membership proof on a product.
type SaveProofParams struct {
	BlockchainId int64
	Proof        json.RawMessage
	GeneratedAt  time.Time
}

// RecordDefectParams captures confirmed chain state whose mirror write failed.
type RecordDefectParams struct {
	Kind      models.DefectKind
	Reference string
	Payload   any
}

// RecordStore is the off-chain record store mirrored against the registry.
// Implementations must make NextCounter and IncrementBatchCounter single
// atomic read-modify-write operations.
type RecordStore interface {
	CreateUser(ctx context.Context, params CreateUserParams) (*models.User, error)
	GetUserById(ctx context.Context, userId string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByWallet(ctx context.Context, walletAddress string) (*models.User, error)
	GetUsers(ctx context.Context) ([]models.User, error)
	GetUsersByIds(ctx context.Context, userIds []string) (map[string]*models.User, error)
	IncrementBatchCounter(ctx context.Context, userId string) (int64, error)

	NextCounter(ctx context.Context, name string) (int64, error)

	InsertProduct(ctx context.Context, product *models.Product) error
	GetProductByBlockchainId(ctx context.Context, blockchainId int64) (*models.Product, error)
	GetProductByUniqueId(ctx context.Context, uniqueProductId string) (*models.Product, error)
	ListProducts(ctx context.Context, limit int) ([]models.Product, error)
	ListProductsByManufacturer(ctx context.Context, manufacturerId string, limit int) ([]models.Product, error)
	ListProductsByBatch(ctx context.Context, batchRecordId string) ([]models.Product, error)
	UpdateProductHolder(ctx context.Context, params UpdateHolderParams) error
	SaveProductProof(ctx context.Context, params SaveProofParams) error
	GrantBatchQRAccess(ctx context.Context, batchBlockchainId int64, manufacturerId, userId string) (int64, error)

	InsertBatch(ctx context.Context, batch *models.Batch) error
	GetBatchByChainId(ctx context.Context, batchId int64) (*models.Batch, error)
	ListBatches(ctx context.Context) ([]models.Batch, error)
	ListBatchesByManufacturer(ctx context.Context, manufacturerId string) ([]models.Batch, error)
	FinalizeBatch(ctx context.Context, batchRecordId string) (int, error)

	CreatePartnership(ctx context.Context, senderId, receiverId string) (*models.Partnership, error)
	GetPartnershipById(ctx context.Context, partnershipId string) (*models.Partnership, error)
	FindPartnership(ctx context.Context, userA, userB string) (*models.Partnership, error)
	HasAcceptedPartnership(ctx context.Context, userA, userB string) (bool, error)
	RespondToPartnership(ctx context.Context, partnershipId string, status models.PartnershipStatus) (*models.Partnership, error)
	ListPartnershipsForUser(ctx context.Context, userId string) ([]models.Partnership, error)
	ListPendingPartnershipsForReceiver(ctx context.Context, userId string) ([]models.Partnership, error)

	CreateQRAccessRequest(ctx context.Context, batchId int64, retailerId, manufacturerId string) (*models.QRAccessRequest, error)
	GetQRAccessRequestById(ctx context.Context, requestId string) (*models.QRAccessRequest, error)
	RespondToQRAccessRequest(ctx context.Context, requestId string, status models.QRAccessStatus) (*models.QRAccessRequest, error)
	ListQRAccessRequestsForManufacturer(ctx context.Context, manufacturerId string) ([]models.QRAccessRequest, error)
	ListQRAccessRequestsForRetailer(ctx context.Context, retailerId string) ([]models.QRAccessRequest, error)

	RecordDefect(ctx context.Context, params RecordDefectParams) (*models.ReconciliationDefect, error)
	ListOpenDefects(ctx context.Context, limit int, excludeIds ...string) ([]models.ReconciliationDefect, error)
	ResolveDefect(ctx context.Context, defectId string) error
	RecordDefectAttempt(ctx context.Context, defectId string, attemptErr error, abandon bool) error
}
