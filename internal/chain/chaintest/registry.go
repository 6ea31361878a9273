// Package chaintest provides an in-memory chain.Registry for tests.
package chaintest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"supplychain-tracker-go/internal/chain"
	"supplychain-tracker-go/internal/models"

	"github.com/shopspring/decimal"
)

// Registry is an in-memory registry whose transactions are all sent by a
// single signer. Failures can be injected per product.
type Registry struct {
	mu sync.Mutex

	configured  bool
	signer      string
	nextProduct int64
	nextBatch   int64
	txCount     int

	products   map[int64]*models.OnChainProduct
	batches    map[int64]*models.OnChainBatch
	history    map[int64][]models.TransferRecord
	authorized map[string]bool

	createCalls   int
	transferCalls int
	createdNames  []string

	// Held transactions are submitted but unmined until MineHeld or RevertHeld.
	holdConfirmations bool
	held              []heldTx
	mined             map[string]*chain.TxResult
	reverted          map[string]bool

	failCreateAfter int
	failGet         map[int64]error
	failTransfer    map[int64]error
}

var _ chain.Registry = (*Registry)(nil)

func NewRegistry(signer string) *Registry {
	return &Registry{
		configured:      true,
		signer:          signer,
		nextProduct:     1,
		nextBatch:       1,
		products:        make(map[int64]*models.OnChainProduct),
		batches:         make(map[int64]*models.OnChainBatch),
		history:         make(map[int64][]models.TransferRecord),
		authorized:      make(map[string]bool),
		failCreateAfter: -1,
		failGet:         make(map[int64]error),
		failTransfer:    make(map[int64]error),
		mined:           make(map[string]*chain.TxResult),
		reverted:        make(map[string]bool),
	}
}

type heldTx struct {
	hash  string
	apply func() *chain.TxResult
}

// HoldConfirmations makes subsequent transactions report a *chain.PendingTxError
// without taking effect until MineHeld is called.
func (r *Registry) HoldConfirmations(hold bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.holdConfirmations = hold
}

// MineHeld applies every held transaction in submission order.
func (r *Registry) MineHeld() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.held {
		result := tx.apply()
		result.Receipt.TxHash = tx.hash
		r.mined[tx.hash] = result
	}
	r.held = nil
}

// RevertHeld fails every held transaction without applying it.
func (r *Registry) RevertHeld() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.held {
		r.reverted[tx.hash] = true
	}
	r.held = nil
}

// submit either applies a transaction now or holds it. Callers hold r.mu.
func (r *Registry) submit(method string, apply func() *chain.TxResult) (*chain.TxResult, error) {
	if r.holdConfirmations {
		r.txCount++
		hash := fmt.Sprintf("0x%064x", r.txCount)
		r.held = append(r.held, heldTx{hash: hash, apply: apply})
		return nil, &chain.PendingTxError{Method: method, TxHash: hash, Err: chain.ErrConfirmationTimeout}
	}
	result := apply()
	r.mined[result.Receipt.TxHash] = result
	return result, nil
}


// SetConfigured toggles whether the registry reports itself configured.
func (r *Registry) SetConfigured(configured bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configured = configured
}

func (r *Registry) SetHolder(productId int64, holder string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[productId].CurrentHolder = holder
}

func (r *Registry) Holder(productId int64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.products[productId].CurrentHolder
}

func (r *Registry) SetVerified(productId int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[productId].VerifiedByCustomer = true
}

// FailCreateAfter makes every CreateProduct call after the first n revert.
// A negative n disables the failure.
func (r *Registry) FailCreateAfter(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failCreateAfter = n
}

func (r *Registry) FailGet(productId int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failGet[productId] = err
}

func (r *Registry) FailTransfer(productId int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failTransfer[productId] = err
}

// CreatedNames lists the names submitted to CreateProduct.
func (r *Registry) CreatedNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.createdNames...)
}

func (r *Registry) CreateCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createCalls
}

// TransferCalls counts submitted transfers, including reverted ones.
func (r *Registry) TransferCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transferCalls
}

func (r *Registry) IsAuthorized(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authorized[strings.ToLower(address)]
}

func (r *Registry) receipt() *models.Receipt {
	r.txCount++
	return &models.Receipt{
		TxHash:      fmt.Sprintf("0x%064x", r.txCount),
		BlockNumber: uint64(r.txCount),
		GasUsed:     21000,
		Fee:         decimal.Zero,
	}
}

func (r *Registry) mint(batchId int64) int64 {
	id := r.nextProduct
	r.nextProduct++
	r.products[id] = &models.OnChainProduct{
		Manufacturer:  r.signer,
		CurrentHolder: r.signer,
		IsAuthentic:   true,
		BatchId:       batchId,
	}
	return id
}

func (r *Registry) Configured() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.configured
}

func (r *Registry) SignerAddress() string { return r.signer }

func (r *Registry) Status(ctx context.Context) (*models.ChainStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &models.ChainStatus{Configured: r.configured, Signer: r.signer, NextProductId: r.nextProduct}, nil
}

func (r *Registry) CreateProduct(ctx context.Context, name, manufactureDate string) (int64, *models.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	if r.failCreateAfter >= 0 && r.createCalls > r.failCreateAfter {
		return 0, nil, fmt.Errorf("%w: createProduct: execution reverted", chain.ErrReverted)
	}
	r.createdNames = append(r.createdNames, name)
	result, err := r.submit("createProduct", func() *chain.TxResult {
		return &chain.TxResult{ProductId: r.mint(0), Receipt: r.receipt()}
	})
	if err != nil {
		return 0, nil, err
	}
	return result.ProductId, result.Receipt, nil
}

func (r *Registry) CreateBatch(ctx context.Context, metadataUri string, names, manufactureDates []string) (*chain.BatchCreation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result, err := r.submit("createBatch", func() *chain.TxResult {
		batchId := r.nextBatch
		r.nextBatch++

		ids := make([]int64, len(names))
		for i := range names {
			ids[i] = r.mint(batchId)
		}
		r.batches[batchId] = &models.OnChainBatch{
			Manufacturer: r.signer,
			MetadataUri:  metadataUri,
			CreatedAt:    time.Now().UTC(),
			ProductIds:   ids,
			NftOwner:     r.signer,
		}
		return &chain.TxResult{BatchId: batchId, ProductIds: append([]int64(nil), ids...), Receipt: r.receipt()}
	})
	if err != nil {
		return nil, err
	}
	return &chain.BatchCreation{BatchId: result.BatchId, ProductIds: result.ProductIds, Receipt: result.Receipt}, nil
}

func (r *Registry) GetProduct(ctx context.Context, productId int64) (*models.OnChainProduct, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failGet[productId]; err != nil {
		return nil, err
	}
	p, ok := r.products[productId]
	if !ok {
		return nil, fmt.Errorf("%w: getProduct: execution reverted: Invalid product", chain.ErrReverted)
	}
	out := *p
	return &out, nil
}

func (r *Registry) GetBatch(ctx context.Context, batchId int64) (*models.OnChainBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[batchId]
	if !ok {
		return nil, fmt.Errorf("%w: getBatch: execution reverted: Invalid batch", chain.ErrReverted)
	}
	out := *b
	out.ProductIds = append([]int64(nil), b.ProductIds...)
	return &out, nil
}

func (r *Registry) TransferProduct(ctx context.Context, productId int64, toAddress, location string) (*models.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transferCalls++
	if err := r.failTransfer[productId]; err != nil {
		return nil, err
	}
	p, ok := r.products[productId]
	if !ok || !strings.EqualFold(p.CurrentHolder, r.signer) {
		return nil, fmt.Errorf("%w: transferProduct: execution reverted: Not current holder", chain.ErrReverted)
	}
	result, err := r.submit("transferProduct", func() *chain.TxResult {
		r.history[productId] = append(r.history[productId], models.TransferRecord{
			From:      p.CurrentHolder,
			To:        toAddress,
			Location:  location,
			Timestamp: time.Now().UTC(),
		})
		p.CurrentHolder = toAddress
		return &chain.TxResult{Receipt: r.receipt()}
	})
	if err != nil {
		return nil, err
	}
	return result.Receipt, nil
}

func (r *Registry) GetTransferHistory(ctx context.Context, productId int64) ([]models.TransferRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.TransferRecord(nil), r.history[productId]...), nil
}

func (r *Registry) IsAuthorizedManufacturer(ctx context.Context, address string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authorized[strings.ToLower(address)], nil
}

func (r *Registry) SetManufacturer(ctx context.Context, address string, authorized bool) (*models.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authorized[strings.ToLower(address)] = authorized
	return r.receipt(), nil
}

func (r *Registry) VerifyZKProof(ctx context.Context, productId, batchId int64, proof models.MembershipProof) (*models.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.receipt(), nil
}

func (r *Registry) LookupTransaction(ctx context.Context, txHash string) (*chain.TxResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reverted[txHash] {
		return nil, fmt.Errorf("%w: tx %s", chain.ErrReverted, txHash)
	}
	result, ok := r.mined[txHash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", chain.ErrTxPending, txHash)
	}
	out := *result
	out.ProductIds = append([]int64(nil), result.ProductIds...)
	return &out, nil
}
