package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"supplychain-tracker-go/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Compile-time check: *Client must satisfy Registry.
var _ Registry = (*Client)(nil)

type backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Client talks to the registry contract over JSON-RPC. A Client built from
// an incomplete configuration is valid but rejects every call with
// ErrNotConfigured.
type Client struct {
	configured     bool
	rpcClient      *rpc.Client
	backend        backend
	address        common.Address
	abi            abi.ABI
	contract       *bind.BoundContract
	key            *ecdsa.PrivateKey
	signer         common.Address
	chainId        *big.Int
	confirmTimeout time.Duration
	callTimeout    time.Duration

	// txMu serializes submissions so pending nonces from the single signer never collide.
	txMu sync.Mutex
}

func NewClient(ctx context.Context, cfg models.ChainConfig) (*Client, error) {
	if !cfg.Configured() {
		zap.L().Warn("Registry not configured; chain operations will be rejected")
		return &Client{}, nil
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address: %s", cfg.ContractAddress)
	}
	if cfg.ConfirmTimeout <= 0 {
		return nil, fmt.Errorf("confirmation timeout must be positive, got %v", cfg.ConfirmTimeout)
	}

	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("unable to parse registry abi: %w", err)
	}

	httpClient, err := createCustomHttpClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	zap.L().Info("Connecting to registry", zap.String("rpc_url", cfg.RpcUrl), zap.String("contract", cfg.ContractAddress))
	rpcClient, err := rpc.DialOptions(ctx, cfg.RpcUrl, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to dial registry rpc: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	c := &Client{
		configured:     true,
		rpcClient:      rpcClient,
		backend:        eth,
		address:        common.HexToAddress(cfg.ContractAddress),
		abi:            parsed,
		confirmTimeout: cfg.ConfirmTimeout,
		callTimeout:    cfg.CallTimeout,
	}
	if c.callTimeout <= 0 {
		c.callTimeout = 30 * time.Second
	}
	c.contract = bind.NewBoundContract(c.address, parsed, eth, eth, eth)

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(cfg.PrivateKey)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("invalid signer private key: %w", err)
		}
		c.key = key
		c.signer = crypto.PubkeyToAddress(key.PublicKey)
	} else {
		zap.L().Warn("No signer key configured; registry writes will be rejected")
	}

	if cfg.ChainId > 0 {
		c.chainId = big.NewInt(cfg.ChainId)
	} else {
		chainId, err := eth.ChainID(ctx)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("unable to fetch chain id: %w", err)
		}
		c.chainId = chainId
	}

	zap.L().Info("Registry client initialized",
		zap.String("signer", c.SignerAddress()),
		zap.String("chain_id", c.chainId.String()))
	return c, nil
}

func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

func (c *Client) Configured() bool {
	return c.configured
}

// SignerAddress returns the checksummed address transactions are sent from,
// or an empty string when no key is configured.
func (c *Client) SignerAddress() string {
	if c.key == nil {
		return ""
	}
	return c.signer.Hex()
}

func (c *Client) Status(ctx context.Context) (*models.ChainStatus, error) {
	status := &models.ChainStatus{Configured: c.configured}
	if !c.configured {
		return status, nil
	}
	status.ContractAddress = c.address.Hex()
	status.Signer = c.SignerAddress()

	next, err := c.callUint(ctx, "nextProductId")
	if err != nil {
		return status, err
	}
	status.NextProductId = next
	return status, nil
}

func (c *Client) CreateProduct(ctx context.Context, name, manufactureDate string) (int64, *models.Receipt, error) {
	receipt, err := c.transact(ctx, "createProduct", name, manufactureDate)
	if err != nil {
		return 0, nil, err
	}

	productId, ok := idFromLogs(c.abi, c.address, receipt.Logs, "ProductCreated")
	if !ok {
		next, err := c.callUint(context.WithoutCancel(ctx), "nextProductId")
		if err != nil {
			return 0, nil, &PendingTxError{Method: "createProduct", TxHash: receipt.TxHash.Hex(), Err: err}
		}
		productId = next - 1
	}

	zap.L().Info("Product created on chain",
		zap.Int64("product_id", productId),
		zap.String("tx_hash", receipt.TxHash.Hex()))
	return productId, toReceipt(receipt), nil
}

func (c *Client) CreateBatch(ctx context.Context, metadataUri string, names, manufactureDates []string) (*BatchCreation, error) {
	if len(names) != len(manufactureDates) {
		return nil, fmt.Errorf("names and dates length mismatch: %d != %d", len(names), len(manufactureDates))
	}

	receipt, err := c.transact(ctx, "createBatch", metadataUri, names, manufactureDates)
	if err != nil {
		return nil, err
	}

	// The batch is mined; reads below must not be abandoned with the request.
	readCtx := context.WithoutCancel(ctx)
	batchId, ok := idFromLogs(c.abi, c.address, receipt.Logs, "BatchCreated")
	if !ok {
		next, err := c.callUint(readCtx, "nextBatchId")
		if err != nil {
			return nil, &PendingTxError{Method: "createBatch", TxHash: receipt.TxHash.Hex(), Err: err}
		}
		batchId = next - 1
	}

	productIds, err := c.batchProductIds(readCtx, batchId)
	if err != nil {
		return nil, &PendingTxError{Method: "createBatch", TxHash: receipt.TxHash.Hex(), Err: err}
	}

	zap.L().Info("Batch created on chain",
		zap.Int64("batch_id", batchId),
		zap.Int("products", len(productIds)),
		zap.String("tx_hash", receipt.TxHash.Hex()))
	return &BatchCreation{BatchId: batchId, ProductIds: productIds, Receipt: toReceipt(receipt)}, nil
}

func (c *Client) GetProduct(ctx context.Context, productId int64) (*models.OnChainProduct, error) {
	out, err := c.call(ctx, "getProduct", big.NewInt(productId))
	if err != nil {
		return nil, err
	}
	if len(out) != 6 {
		return nil, fmt.Errorf("unexpected getProduct output length %d", len(out))
	}

	return &models.OnChainProduct{
		Manufacturer:       abi.ConvertType(out[0], new(common.Address)).(*common.Address).Hex(),
		CurrentHolder:      abi.ConvertType(out[1], new(common.Address)).(*common.Address).Hex(),
		VerifiedByCustomer: *abi.ConvertType(out[2], new(bool)).(*bool),
		IsAuthentic:        *abi.ConvertType(out[3], new(bool)).(*bool),
		Customer:           abi.ConvertType(out[4], new(common.Address)).(*common.Address).Hex(),
		BatchId:            (*abi.ConvertType(out[5], new(*big.Int)).(**big.Int)).Int64(),
	}, nil
}

func (c *Client) GetBatch(ctx context.Context, batchId int64) (*models.OnChainBatch, error) {
	out, err := c.call(ctx, "getBatch", big.NewInt(batchId))
	if err != nil {
		return nil, err
	}
	if len(out) != 5 {
		return nil, fmt.Errorf("unexpected getBatch output length %d", len(out))
	}

	createdAt := *abi.ConvertType(out[2], new(*big.Int)).(**big.Int)
	return &models.OnChainBatch{
		Manufacturer: abi.ConvertType(out[0], new(common.Address)).(*common.Address).Hex(),
		MetadataUri:  *abi.ConvertType(out[1], new(string)).(*string),
		CreatedAt:    time.Unix(createdAt.Int64(), 0).UTC(),
		ProductIds:   bigsToInt64(*abi.ConvertType(out[3], new([]*big.Int)).(*[]*big.Int)),
		NftOwner:     abi.ConvertType(out[4], new(common.Address)).(*common.Address).Hex(),
	}, nil
}

func (c *Client) TransferProduct(ctx context.Context, productId int64, toAddress, location string) (*models.Receipt, error) {
	if !common.IsHexAddress(toAddress) {
		return nil, fmt.Errorf("invalid recipient address: %s", toAddress)
	}

	receipt, err := c.transact(ctx, "transferProduct", big.NewInt(productId), common.HexToAddress(toAddress), location)
	if err != nil {
		return nil, err
	}

	zap.L().Info("Product transferred on chain",
		zap.Int64("product_id", productId),
		zap.String("to", toAddress),
		zap.String("tx_hash", receipt.TxHash.Hex()))
	return toReceipt(receipt), nil
}

type transferRecord struct {
	From      common.Address
	To        common.Address
	Location  string
	Timestamp *big.Int
}

func (c *Client) GetTransferHistory(ctx context.Context, productId int64) ([]models.TransferRecord, error) {
	out, err := c.call(ctx, "getTransferHistory", big.NewInt(productId))
	if err != nil {
		return nil, err
	}

	records := *abi.ConvertType(out[0], new([]transferRecord)).(*[]transferRecord)
	history := make([]models.TransferRecord, 0, len(records))
	for _, r := range records {
		history = append(history, models.TransferRecord{
			From:      r.From.Hex(),
			To:        r.To.Hex(),
			Location:  r.Location,
			Timestamp: time.Unix(r.Timestamp.Int64(), 0).UTC(),
		})
	}
	return history, nil
}

func (c *Client) IsAuthorizedManufacturer(ctx context.Context, address string) (bool, error) {
	if !common.IsHexAddress(address) {
		return false, fmt.Errorf("invalid manufacturer address: %s", address)
	}
	out, err := c.call(ctx, "authorizedManufacturer", common.HexToAddress(address))
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (c *Client) SetManufacturer(ctx context.Context, address string, authorized bool) (*models.Receipt, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid manufacturer address: %s", address)
	}
	receipt, err := c.transact(ctx, "setManufacturer", common.HexToAddress(address), authorized)
	if err != nil {
		return nil, err
	}

	zap.L().Info("Manufacturer authorization updated",
		zap.String("address", address),
		zap.Bool("authorized", authorized))
	return toReceipt(receipt), nil
}

type zkProofArg struct {
	A             [2]*big.Int
	B             [2][2]*big.Int
	C             [2]*big.Int
	PublicSignals []*big.Int
}

func (c *Client) VerifyZKProof(ctx context.Context, productId, batchId int64, proof models.MembershipProof) (*models.Receipt, error) {
	arg, err := toProofArg(proof)
	if err != nil {
		return nil, err
	}
	receipt, err := c.transact(ctx, "verifyZKProof", big.NewInt(productId), big.NewInt(batchId), *arg)
	if err != nil {
		return nil, err
	}
	return toReceipt(receipt), nil
}

func (c *Client) batchProductIds(ctx context.Context, batchId int64) ([]int64, error) {
	out, err := c.call(ctx, "getBatchProductIds", big.NewInt(batchId))
	if err != nil {
		return nil, err
	}
	return bigsToInt64(*abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int)), nil
}

func (c *Client) LookupTransaction(ctx context.Context, txHash string) (*TxResult, error) {
	if !c.configured {
		return nil, ErrNotConfigured
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	receipt, err := c.backend.TransactionReceipt(callCtx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTxPending, txHash)
		}
		return nil, classifyError("getTransactionReceipt", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: tx %s", ErrReverted, txHash)
	}

	result := &TxResult{Receipt: toReceipt(receipt)}
	if id, ok := idFromLogs(c.abi, c.address, receipt.Logs, "ProductCreated"); ok {
		result.ProductId = id
	}
	if id, ok := idFromLogs(c.abi, c.address, receipt.Logs, "BatchCreated"); ok {
		result.BatchId = id
		if result.ProductIds, err = c.batchProductIds(ctx, id); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	if !c.configured {
		return nil, ErrNotConfigured
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: callCtx}, &out, method, args...); err != nil {
		return nil, classifyError(method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s returned no values", ErrUnavailable, method)
	}
	return out, nil
}

func (c *Client) callUint(ctx context.Context, method string) (int64, error) {
	out, err := c.call(ctx, method)
	if err != nil {
		return 0, err
	}
	return (*abi.ConvertType(out[0], new(*big.Int)).(**big.Int)).Int64(), nil
}

func (c *Client) transact(ctx context.Context, method string, args ...interface{}) (*types.Receipt, error) {
	if !c.configured {
		return nil, ErrNotConfigured
	}
	if c.key == nil {
		return nil, fmt.Errorf("%w: no signer key", ErrNotConfigured)
	}

	if err := ctx.Err(); err != nil {
		return nil, classifyError(method, err)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainId)
	if err != nil {
		return nil, fmt.Errorf("unable to create transactor: %w", err)
	}

	// Submission is not abandoned with the request once started.
	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.callTimeout)
	defer cancel()
	opts.Context = submitCtx

	c.txMu.Lock()
	tx, err := c.contract.Transact(opts, method, args...)
	c.txMu.Unlock()
	if err != nil {
		return nil, classifyError(method, err)
	}

	zap.L().Debug("Submitted registry transaction",
		zap.String("method", method),
		zap.String("tx_hash", tx.Hash().Hex()))

	return c.waitConfirmed(ctx, method, tx)
}

// waitConfirmed blocks until tx is mined or the confirmation timeout expires.
// The wait ignores cancellation of ctx: the transaction is already submitted.
func (c *Client) waitConfirmed(ctx context.Context, method string, tx *types.Transaction) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.confirmTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, c.backend, tx)
	if err != nil {
		zap.L().Error("Registry confirmation timed out",
			zap.String("method", method),
			zap.String("tx_hash", tx.Hash().Hex()),
			zap.Duration("timeout", c.confirmTimeout),
			zap.Error(err))
		return nil, &PendingTxError{Method: method, TxHash: tx.Hash().Hex(), Err: ErrConfirmationTimeout}
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s tx %s", ErrReverted, method, tx.Hash().Hex())
	}
	return receipt, nil
}

// classifyError separates contract reverts from transport failures.
func classifyError(method string, err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "revert") {
		return fmt.Errorf("%w: %s: %w", ErrReverted, method, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, method, err)
}

// idFromLogs returns the first indexed id of the named event emitted by the contract.
func idFromLogs(parsed abi.ABI, contract common.Address, logs []*types.Log, event string) (int64, bool) {
	ev, ok := parsed.Events[event]
	if !ok {
		return 0, false
	}
	for _, l := range logs {
		if l == nil || l.Address != contract || len(l.Topics) < 2 || l.Topics[0] != ev.ID {
			continue
		}
		return new(big.Int).SetBytes(l.Topics[1].Bytes()).Int64(), true
	}
	return 0, false
}

func toReceipt(r *types.Receipt) *models.Receipt {
	fee := decimal.Zero
	if r.EffectiveGasPrice != nil {
		wei := new(big.Int).Mul(r.EffectiveGasPrice, new(big.Int).SetUint64(r.GasUsed))
		fee = decimal.NewFromBigInt(wei, -18)
	}

	var block uint64
	if r.BlockNumber != nil {
		block = r.BlockNumber.Uint64()
	}

	return &models.Receipt{
		TxHash:      r.TxHash.Hex(),
		BlockNumber: block,
		GasUsed:     r.GasUsed,
		Fee:         fee,
	}
}

func bigsToInt64(values []*big.Int) []int64 {
	ids := make([]int64, 0, len(values))
	for _, v := range values {
		ids = append(ids, v.Int64())
	}
	return ids
}

func parseUint(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 0)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid proof field %q", s)
	}
	return v, nil
}

func toProofArg(proof models.MembershipProof) (*zkProofArg, error) {
	var arg zkProofArg
	var err error
	for i := 0; i < 2; i++ {
		if arg.A[i], err = parseUint(proof.A[i]); err != nil {
			return nil, err
		}
		if arg.C[i], err = parseUint(proof.C[i]); err != nil {
			return nil, err
		}
		for j := 0; j < 2; j++ {
			if arg.B[i][j], err = parseUint(proof.B[i][j]); err != nil {
				return nil, err
			}
		}
	}
	for _, signal := range proof.PublicSignals {
		v, err := parseUint(signal)
		if err != nil {
			return nil, err
		}
		arg.PublicSignals = append(arg.PublicSignals, v)
	}
	return &arg, nil
}
