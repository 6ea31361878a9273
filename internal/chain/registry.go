package chain

import (
	"context"
	"errors"
	"fmt"

	"supplychain-tracker-go/internal/models"
)

// Sentinel errors for registry operations.
var (
	ErrNotConfigured       = errors.New("registry not configured")
	ErrUnavailable         = errors.New("registry unreachable")
	ErrReverted            = errors.New("registry transaction reverted")
	ErrConfirmationTimeout = errors.New("timed out waiting for confirmation")
	ErrTxPending           = errors.New("transaction not yet mined")
)

// PendingTxError reports a transaction that was submitted but whose outcome
// was not observed. The transaction may still mine; TxHash identifies it for
// a later LookupTransaction.
type PendingTxError struct {
	Method string
	TxHash string
	Err    error
}

func (e *PendingTxError) Error() string {
	return fmt.Sprintf("%s tx %s unresolved: %v", e.Method, e.TxHash, e.Err)
}

func (e *PendingTxError) Unwrap() error {
	return e.Err
}

// AsPendingTx extracts the pending transaction from err, if any.
func AsPendingTx(err error) (*PendingTxError, bool) {
	var pending *PendingTxError
	if errors.As(err, &pending) {
		return pending, true
	}
	return nil, false
}

// TxResult is what a mined registry transaction produced. Ids are zero when
// the transaction emitted no matching event.
type TxResult struct {
	Receipt    *models.Receipt
	ProductId  int64
	BatchId    int64
	ProductIds []int64
}

// BatchCreation is the confirmed result of an atomic batch mint.
type BatchCreation struct {
	BatchId    int64
	ProductIds []int64
	Receipt    *models.Receipt
}

// Registry is the on-chain product/batch registry. Every mutating call
// returns only after its transaction is confirmed or the confirmation wait
// times out, in which case the error is a *PendingTxError.
type Registry interface {
	Configured() bool
	SignerAddress() string
	Status(ctx context.Context) (*models.ChainStatus, error)

	CreateProduct(ctx context.Context, name, manufactureDate string) (int64, *models.Receipt, error)
	CreateBatch(ctx context.Context, metadataUri string, names, manufactureDates []string) (*BatchCreation, error)
	GetProduct(ctx context.Context, productId int64) (*models.OnChainProduct, error)
	GetBatch(ctx context.Context, batchId int64) (*models.OnChainBatch, error)
	TransferProduct(ctx context.Context, productId int64, toAddress, location string) (*models.Receipt, error)
	GetTransferHistory(ctx context.Context, productId int64) ([]models.TransferRecord, error)
	IsAuthorizedManufacturer(ctx context.Context, address string) (bool, error)
	SetManufacturer(ctx context.Context, address string, authorized bool) (*models.Receipt, error)
	VerifyZKProof(ctx context.Context, productId, batchId int64, proof models.MembershipProof) (*models.Receipt, error)

	// LookupTransaction returns ErrTxPending while txHash is unmined and
	// ErrReverted when it failed.
	LookupTransaction(ctx context.Context, txHash string) (*TxResult, error)
}
