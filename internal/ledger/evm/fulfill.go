package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/driftgate/solverbot/internal/domain"
	"github.com/driftgate/solverbot/internal/retry"
)

// FulfillmentExecutor pays orders out on the destination ledger. The payment
// is native value attached to the fulfill call; the contract forwards it to
// the recipient and emits the cross-chain message that later settles the
// order on the source ledger.
type FulfillmentExecutor struct {
	client   *Client
	signer   *Signer
	contract common.Address
	confirm  retry.Policy
	clock    domain.Clock
	logger   *slog.Logger
}

var _ domain.FulfillmentExecutor = (*FulfillmentExecutor)(nil)

// NewFulfillmentExecutor wires an executor against the fulfillment contract.
func NewFulfillmentExecutor(client *Client, signer *Signer, contract string, confirm retry.Policy, clock domain.Clock, logger *slog.Logger) *FulfillmentExecutor {
	return &FulfillmentExecutor{
		client:   client,
		signer:   signer,
		contract: common.HexToAddress(contract),
		confirm:  confirm,
		clock:    clock,
		logger:   logger.With(slog.String("component", "fulfillment_executor")),
	}
}

// Fulfill submits the payment transaction for o at the given amount and
// blocks until it confirms. The amount was computed from a fresh timestamp
// immediately before this call; here we only verify the wallet can still
// cover it, since price drift between quote and submission may have raised
// the required value past our balance.
func (e *FulfillmentExecutor) Fulfill(ctx context.Context, o domain.Order, amount *big.Int) (domain.FulfillmentRecord, error) {
	var rec domain.FulfillmentRecord

	recipient, err := parseUniversal(o.Recipient)
	if err != nil {
		return rec, fmt.Errorf("evm: order %s: %w", o.ID, err)
	}

	calldata, err := fulfillABI.Pack("fulfill", [32]byte(o.ID), recipient, addressToUniversal(e.signer.Address()))
	if err != nil {
		return rec, fmt.Errorf("evm: pack fulfill: %w", err)
	}

	head, err := e.client.HTTP().HeaderByNumber(ctx, nil)
	if err != nil {
		return rec, fmt.Errorf("evm: fetch head header: %w", err)
	}
	tipCap, err := e.client.HTTP().SuggestGasTipCap(ctx)
	if err != nil {
		return rec, fmt.Errorf("evm: suggest tip cap: %w", err)
	}
	feeCap := new(big.Int).Add(tipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	msg := ethereum.CallMsg{
		From:  e.signer.Address(),
		To:    &e.contract,
		Value: amount,
		Data:  calldata,
	}
	gasLimit, err := e.client.HTTP().EstimateGas(ctx, msg)
	if err != nil {
		return rec, fmt.Errorf("evm: estimate fulfill gas: %w", err)
	}

	balance, err := e.client.HTTP().BalanceAt(ctx, e.signer.Address(), nil)
	if err != nil {
		return rec, fmt.Errorf("evm: fetch balance: %w", err)
	}
	maxCost := new(big.Int).Mul(feeCap, new(big.Int).SetUint64(gasLimit))
	maxCost.Add(maxCost, amount)
	if balance.Cmp(maxCost) < 0 {
		return rec, fmt.Errorf("evm: order %s: balance %s below required %s: %w",
			o.ID, balance, maxCost, domain.ErrUnprofitable)
	}

	nonce, err := e.client.HTTP().PendingNonceAt(ctx, e.signer.Address())
	if err != nil {
		return rec, fmt.Errorf("evm: fetch nonce: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.client.ChainID(),
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &e.contract,
		Value:     amount,
		Data:      calldata,
	})
	signed, err := e.signer.Sign(tx)
	if err != nil {
		return rec, err
	}

	if err := e.client.HTTP().SendTransaction(ctx, signed); err != nil {
		return rec, fmt.Errorf("evm: send fulfill tx: %w", err)
	}

	rec = domain.FulfillmentRecord{
		OrderID:     o.ID,
		TxHash:      signed.Hash().Hex(),
		AmountPaid:  new(big.Int).Set(amount),
		SubmittedAt: e.clock.Now(),
	}

	e.logger.Info("fulfillment submitted",
		slog.String("order_id", o.ID.Hex()),
		slog.String("tx", rec.TxHash),
		slog.String("amount", amount.String()),
	)

	receipt, err := e.client.WaitMined(ctx, signed.Hash(), e.confirm)
	if err != nil {
		// The tx may still confirm later; the caller persists the record and
		// recovery re-checks the receipt.
		return rec, fmt.Errorf("evm: fulfill confirmation: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return rec, retry.Permanent(fmt.Errorf("evm: fulfill tx %s: %w", rec.TxHash, domain.ErrFulfillReverted))
	}

	rec.Confirmed = true
	e.logger.Info("fulfillment confirmed",
		slog.String("order_id", o.ID.Hex()),
		slog.String("tx", rec.TxHash),
		slog.Uint64("block", receipt.BlockNumber.Uint64()),
	)
	return rec, nil
}

// ReceiptConfirmed reports whether txHash has mined successfully. Used by
// recovery for orders interrupted between submission and confirmation.
func (e *FulfillmentExecutor) ReceiptConfirmed(ctx context.Context, txHash string) (bool, error) {
	receipt, err := e.client.HTTP().TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return false, fmt.Errorf("evm: receipt %s: %w", txHash, err)
	}
	return receipt.Status == types.ReceiptStatusSuccessful, nil
}

// parseUniversal decodes a destination address into universal 32-byte form.
// Accepts either a 20-byte EVM address or a full 32-byte hex string.
func parseUniversal(addr string) ([32]byte, error) {
	var out [32]byte
	raw := common.FromHex(addr)
	switch len(raw) {
	case 20:
		copy(out[12:], raw)
	case 32:
		copy(out[:], raw)
	default:
		return out, fmt.Errorf("evm: address %q is neither 20 nor 32 bytes", addr)
	}
	return out, nil
}
