package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/driftgate/solverbot/internal/domain"
	"github.com/driftgate/solverbot/internal/retry"
)

// SettlementExecutor submits signed attestations to the source ledger's order
// contract, releasing the locked collateral to the solver. Rejections that
// the contract will repeat on every retry (already settled, replayed proof,
// underpaid auction) surface as the matching domain sentinels.
type SettlementExecutor struct {
	client   *Client
	signer   *Signer
	contract common.Address
	confirm  retry.Policy
	logger   *slog.Logger
}

var _ domain.SettlementExecutor = (*SettlementExecutor)(nil)

// NewSettlementExecutor wires a settlement executor against the order contract.
func NewSettlementExecutor(client *Client, signer *Signer, contract string, confirm retry.Policy, logger *slog.Logger) *SettlementExecutor {
	return &SettlementExecutor{
		client:   client,
		signer:   signer,
		contract: common.HexToAddress(contract),
		confirm:  confirm,
		logger:   logger.With(slog.String("component", "settlement_executor")),
	}
}

// Settle submits att to the order contract and blocks until the transaction
// confirms, returning its hash.
func (e *SettlementExecutor) Settle(ctx context.Context, id domain.OrderID, att domain.Attestation) (string, error) {
	calldata, err := orderBookABI.Pack("settle", []byte(att))
	if err != nil {
		return "", fmt.Errorf("evm: pack settle: %w", err)
	}

	msg := ethereum.CallMsg{
		From: e.signer.Address(),
		To:   &e.contract,
		Data: calldata,
	}

	// Preflight with eth_call so contract rejections are classified before
	// spending gas.
	if _, err := e.client.HTTP().CallContract(ctx, msg, nil); err != nil {
		if terminal := classifyRevert(err.Error()); terminal != nil {
			return "", retry.Permanent(fmt.Errorf("evm: settle order %s: %w", id, terminal))
		}
		return "", fmt.Errorf("evm: settle preflight for order %s: %w", id, err)
	}

	gasLimit, err := e.client.HTTP().EstimateGas(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("evm: estimate settle gas: %w", err)
	}
	head, err := e.client.HTTP().HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("evm: fetch head header: %w", err)
	}
	tipCap, err := e.client.HTTP().SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("evm: suggest tip cap: %w", err)
	}
	feeCap := new(big.Int).Add(tipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	nonce, err := e.client.HTTP().PendingNonceAt(ctx, e.signer.Address())
	if err != nil {
		return "", fmt.Errorf("evm: fetch nonce: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.client.ChainID(),
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &e.contract,
		Data:      calldata,
	})
	signed, err := e.signer.Sign(tx)
	if err != nil {
		return "", err
	}

	if err := e.client.HTTP().SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("evm: send settle tx: %w", err)
	}

	e.logger.Info("settlement submitted",
		slog.String("order_id", id.Hex()),
		slog.String("tx", signed.Hash().Hex()),
	)

	receipt, err := e.client.WaitMined(ctx, signed.Hash(), e.confirm)
	if err != nil {
		return signed.Hash().Hex(), fmt.Errorf("evm: settle confirmation: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		// Mined but reverted: re-run the call at the mined block to recover
		// the reason, then classify.
		_, callErr := e.client.HTTP().CallContract(ctx, msg, receipt.BlockNumber)
		if callErr != nil {
			if terminal := classifyRevert(callErr.Error()); terminal != nil {
				return signed.Hash().Hex(), retry.Permanent(fmt.Errorf("evm: settle order %s: %w", id, terminal))
			}
		}
		return signed.Hash().Hex(), retry.Permanent(fmt.Errorf("evm: settle tx %s reverted", signed.Hash().Hex()))
	}

	e.logger.Info("settlement confirmed",
		slog.String("order_id", id.Hex()),
		slog.String("tx", signed.Hash().Hex()),
		slog.Uint64("block", receipt.BlockNumber.Uint64()),
	)
	return signed.Hash().Hex(), nil
}

// classifyRevert maps a contract revert reason onto the terminal domain
// sentinels, or nil when the failure does not match a known rejection and
// should be treated as transient.
func classifyRevert(reason string) error {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "already settled"),
		strings.Contains(lower, "order settled"):
		return domain.ErrAlreadySettled
	case strings.Contains(lower, "insufficient"),
		strings.Contains(lower, "below auction price"):
		return domain.ErrInsufficientBid
	case strings.Contains(lower, "replay"),
		strings.Contains(lower, "already consumed"),
		strings.Contains(lower, "already executed"):
		return domain.ErrReplayDetected
	default:
		return nil
	}
}
