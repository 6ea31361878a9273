package reconcile

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"supplychain-tracker-go/internal/access"
	"supplychain-tracker-go/internal/apperr"
	"supplychain-tracker-go/internal/chain"
	"supplychain-tracker-go/internal/events"
	"supplychain-tracker-go/internal/models"
	"supplychain-tracker-go/internal/store"

	"go.uber.org/zap"
)

// TransferProductsParams moves Quantity consecutive products starting at ProductId.
type TransferProductsParams struct {
	ProductId int64  `json:"-"`
	ToAddress string `json:"toAddress"`
	Location  string `json:"location"`
	Quantity  int    `json:"quantity"`
}

type TransferBatchParams struct {
	BatchId   int64  `json:"-"`
	ToAddress string `json:"toAddress"`
	Location  string `json:"location"`
}

// transferOutcome is what one step of a transfer sequence produced.
type transferOutcome struct {
	item     *models.TransferItem
	reason   models.StopReason
	err      error
	defectId string
}

func (o transferOutcome) ok() bool {
	return o.item != nil
}

// transferSequence walks candidate ids in order and yields one outcome per
// id until the first disqualifying outcome.
type transferSequence struct {
	next      int64
	remaining int
	stopped   bool
}

func (s *transferSequence) Next() (int64, bool) {
	if s.stopped || s.remaining == 0 {
		return 0, false
	}
	id := s.next
	s.next++
	s.remaining--
	return id, true
}

func (s *transferSequence) Stop() {
	s.stopped = true
}

// TransferProducts transfers consecutive product ids held by the caller,
// stopping at the first id that cannot be transferred.
func (e *Engine) TransferProducts(ctx context.Context, caller *models.User, params TransferProductsParams) (*models.ProductTransferResult, error) {
	if caller == nil {
		return nil, apperr.New(apperr.KindAuthentication, "authentication required")
	}
	if params.ProductId <= 0 {
		return nil, apperr.New(apperr.KindValidation, "invalid product id")
	}
	if err := validateAddress(params.ToAddress); err != nil {
		return nil, err
	}
	if err := e.requireChain(); err != nil {
		return nil, err
	}

	qty := clamp(params.Quantity, 1, maxTransferQuantity)
	result := &models.ProductTransferResult{
		Requested: qty,
		Transfers: make([]models.TransferItem, 0, qty),
		ToAddress: params.ToAddress,
		Location:  params.Location,
	}

	recipient, err := e.gate.ResolveRecipient(ctx, params.ToAddress)
	if err != nil {
		return nil, err
	}

	var firstErr error
	sequence := &transferSequence{next: params.ProductId, remaining: qty}
	for id, ok := sequence.Next(); ok; id, ok = sequence.Next() {
		onChain, outcome := e.checkHolder(ctx, caller, id)
		if outcome == nil {
			if result.Manufacturer == nil {
				result.Manufacturer = e.manufacturerSummary(ctx, onChain.Manufacturer)
			}
			o := e.transferOne(ctx, caller, recipient, id, params.ToAddress, params.Location, true)
			outcome = &o
		}

		if outcome.defectId != "" {
			result.ConsistencyDefects = append(result.ConsistencyDefects, outcome.defectId)
		}
		if !outcome.ok() {
			result.StopReason = outcome.reason
			result.StoppedAt = id
			result.Error = outcome.err.Error()
			firstErr = outcome.err
			zap.L().Info("Transfer sequence stopped",
				zap.String("user_id", caller.Id),
				zap.Int64("product_id", id),
				zap.String("reason", string(outcome.reason)),
				zap.Error(outcome.err))
			sequence.Stop()
			continue
		}
		result.Transfers = append(result.Transfers, *outcome.item)
	}

	result.Status = models.OutcomeFor(len(result.Transfers), qty)
	if result.Status == models.OutcomeFailed {
		return result, firstErr
	}

	zap.L().Info("Products transferred",
		zap.String("user_id", caller.Id),
		zap.String("to", params.ToAddress),
		zap.Int("transferred", len(result.Transfers)),
		zap.String("status", string(result.Status)))
	return result, nil
}

// checkHolder verifies the caller currently holds id on chain and that the
// product can still move.
func (e *Engine) checkHolder(ctx context.Context, caller *models.User, id int64) (*models.OnChainProduct, *transferOutcome) {
	onChain, err := e.chain.GetProduct(ctx, id)
	if err != nil {
		return nil, &transferOutcome{reason: models.StopChainError, err: readError(err, "Product not found")}
	}
	if !access.SameWallet(onChain.CurrentHolder, caller.WalletAddress) {
		return onChain, &transferOutcome{
			reason: models.StopNotHolder,
			err:    apperr.New(apperr.KindAuthorization, "You are not the current holder of product %d", id),
		}
	}
	if onChain.VerifiedByCustomer {
		return onChain, &transferOutcome{
			reason: models.StopVerified,
			err:    apperr.New(apperr.KindValidation, "Product %d has already been verified by a customer", id),
		}
	}
	return onChain, nil
}

// partnershipOutcome applies the partnership gate to a gated product.
func (e *Engine) partnershipOutcome(ctx context.Context, caller *models.User, toAddress string) *transferOutcome {
	recipient, err := e.gate.CheckTransferPartnership(ctx, caller, toAddress)
	if err == nil {
		return nil
	}
	switch {
	case apperr.KindOf(err) == apperr.KindInternal:
		return &transferOutcome{reason: models.StopStoreError, err: err}
	case recipient == nil:
		return &transferOutcome{reason: models.StopRecipientUnknown, err: err}
	default:
		return &transferOutcome{reason: models.StopPartnershipMissing, err: err}
	}
}

// isGated reports whether the mirror marks id as requiring a partnership.
// Products without a mirror row are legacy and ungated.
func (e *Engine) isGated(ctx context.Context, id int64) (bool, error) {
	product, err := e.store.GetProductByBlockchainId(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return product.RequiresPartnership, nil
}

// transferOne submits a single transfer and refreshes the holder cache.
// The caller has already verified the on-chain holder.
func (e *Engine) transferOne(ctx context.Context, caller, recipient *models.User, id int64, toAddress, location string, gate bool) transferOutcome {
	if gate {
		gated, err := e.isGated(ctx, id)
		if err != nil {
			return transferOutcome{reason: models.StopStoreError, err: err}
		}
		if gated {
			if outcome := e.partnershipOutcome(ctx, caller, toAddress); outcome != nil {
				return *outcome
			}
		}
	}

	payload := models.HolderMirrorPayload{ProductId: id, ToAddress: toAddress, SenderId: caller.Id}
	receipt, err := e.chain.TransferProduct(ctx, id, toAddress, location)
	if pending, ok := chain.AsPendingTx(err); ok {
		defectId, consistencyErr := e.recordPendingTx(ctx, pending, models.PendingTxPayload{Holder: &payload})
		return transferOutcome{reason: models.StopChainError, err: consistencyErr, defectId: defectId}
	}
	if err != nil {
		return transferOutcome{reason: models.StopChainError, err: chainError(err)}
	}

	outcome := transferOutcome{item: &models.TransferItem{ProductId: id, TxHash: receipt.TxHash, Fee: receipt.Fee}}

	if err := e.mirrorHolder(context.WithoutCancel(ctx), payload, recipient); err != nil {
		outcome.defectId, _ = e.recordDefect(ctx, models.DefectHolderMirror,
			"product:"+strconv.FormatInt(id, 10), payload, err)
	}

	e.publish(ctx, events.Event{
		Type:       events.TypeProductTransferred,
		ActorId:    caller.Id,
		ProductIds: []int64{id},
		ToAddress:  toAddress,
		TxHash:     receipt.TxHash,
	})
	return outcome
}

// mirrorHolder refreshes the advisory holder cache after a confirmed
// transfer. Products with no mirror row are left alone.
func (e *Engine) mirrorHolder(ctx context.Context, payload models.HolderMirrorPayload, recipient *models.User) error {
	params := store.UpdateHolderParams{
		BlockchainId:  payload.ProductId,
		HolderAddress: strings.ToLower(payload.ToAddress),
		SenderId:      payload.SenderId,
	}
	if recipient != nil {
		params.HolderId = recipient.Id
	}

	err := e.store.UpdateProductHolder(ctx, params)
	if errors.Is(err, store.ErrNotFound) {
		zap.L().Debug("No mirror row for transferred product", zap.Int64("product_id", payload.ProductId))
		return nil
	}
	return err
}

// TransferBatch transfers every member of a batch. All preconditions are
// checked before the first transfer; a failure mid-sequence is reported as
// a partial outcome naming the failed product.
func (e *Engine) TransferBatch(ctx context.Context, caller *models.User, params TransferBatchParams) (*models.BatchTransferResult, error) {
	if caller == nil {
		return nil, apperr.New(apperr.KindAuthentication, "authentication required")
	}
	if params.BatchId <= 0 {
		return nil, apperr.New(apperr.KindValidation, "invalid batch id")
	}
	if err := validateAddress(params.ToAddress); err != nil {
		return nil, err
	}
	if err := e.requireChain(); err != nil {
		return nil, err
	}

	batch, err := e.chain.GetBatch(ctx, params.BatchId)
	if err != nil {
		return nil, readError(err, "Batch not found")
	}
	if len(batch.ProductIds) == 0 {
		return nil, apperr.New(apperr.KindValidation, "Batch has no products")
	}

	for _, id := range batch.ProductIds {
		if _, outcome := e.checkHolder(ctx, caller, id); outcome != nil {
			if outcome.reason == models.StopChainError {
				return nil, apperr.Wrap(apperr.KindOf(outcome.err), outcome.err, "Failed to verify product %d", id)
			}
			return nil, apperr.Wrap(apperr.KindOf(outcome.err), outcome.err, "Batch %d cannot be transferred", params.BatchId)
		}
	}

	gated := false
	for _, id := range batch.ProductIds {
		if gated, err = e.isGated(ctx, id); err != nil {
			return nil, err
		}
		if gated {
			break
		}
	}
	if gated {
		if outcome := e.partnershipOutcome(ctx, caller, params.ToAddress); outcome != nil {
			return nil, outcome.err
		}
	}

	signer := e.chain.SignerAddress()
	if !access.SameWallet(signer, caller.WalletAddress) {
		return nil, apperr.New(apperr.KindAuthorization,
			"Signer mismatch: registry signer (%s) does not match your wallet (%s)",
			strings.ToLower(signer), strings.ToLower(caller.WalletAddress))
	}

	recipient, err := e.gate.ResolveRecipient(ctx, params.ToAddress)
	if err != nil {
		return nil, err
	}

	result := &models.BatchTransferResult{
		BatchId:      params.BatchId,
		Total:        len(batch.ProductIds),
		Transfers:    make([]models.TransferItem, 0, len(batch.ProductIds)),
		Manufacturer: e.manufacturerSummary(ctx, batch.Manufacturer),
		ToAddress:    params.ToAddress,
		Location:     params.Location,
	}

	var failure error
	for _, id := range batch.ProductIds {
		if _, outcome := e.checkHolder(ctx, caller, id); outcome != nil {
			failure = apperr.Wrap(apperr.KindOf(outcome.err), outcome.err,
				"Product %d is no longer held by %s", id, strings.ToLower(caller.WalletAddress))
			result.FailedProductId = id
			break
		}

		outcome := e.transferOne(ctx, caller, recipient, id, params.ToAddress, params.Location, false)
		if outcome.defectId != "" {
			result.ConsistencyDefects = append(result.ConsistencyDefects, outcome.defectId)
		}
		if !outcome.ok() {
			failure = apperr.Wrap(apperr.KindOf(outcome.err), outcome.err, "Failed to transfer product %d", id)
			result.FailedProductId = id
			break
		}
		result.Transfers = append(result.Transfers, *outcome.item)
	}

	result.Status = models.OutcomeFor(len(result.Transfers), result.Total)
	if failure != nil {
		result.Error = failure.Error()
		zap.L().Warn("Batch transfer stopped",
			zap.String("user_id", caller.Id),
			zap.Int64("batch_id", params.BatchId),
			zap.Int64("failed_product_id", result.FailedProductId),
			zap.Int("transferred", len(result.Transfers)),
			zap.Int("total", result.Total),
			zap.Error(failure))
	}
	if result.Status == models.OutcomeFailed {
		return result, failure
	}

	zap.L().Info("Batch transferred",
		zap.String("user_id", caller.Id),
		zap.Int64("batch_id", params.BatchId),
		zap.String("status", string(result.Status)),
		zap.Int("transferred", len(result.Transfers)))
	return result, nil
}
