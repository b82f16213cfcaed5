// Package evm implements the ledger-facing components (order source,
// fulfillment executor, settlement executor) against EVM-compatible chains
// using go-ethereum.
package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/driftgate/solverbot/internal/retry"
)

// Client wraps an HTTP ethclient and an optional WS ethclient for the same
// chain. The WS connection is only used for live log subscriptions; all other
// calls go over HTTP.
type Client struct {
	http    *ethclient.Client
	ws      *ethclient.Client
	chainID *big.Int
	logger  *slog.Logger
}

// Dial connects to the chain over HTTP and, when wsURL is non-empty, over WS.
// The chain id reported by the node must match the configured one.
func Dial(ctx context.Context, rpcURL, wsURL string, chainID int64, logger *slog.Logger) (*Client, error) {
	httpClient, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", rpcURL, err)
	}

	gotID, err := httpClient.ChainID(ctx)
	if err != nil {
		httpClient.Close()
		return nil, fmt.Errorf("evm: query chain id: %w", err)
	}
	if gotID.Int64() != chainID {
		httpClient.Close()
		return nil, fmt.Errorf("evm: node reports chain id %s, config says %d", gotID, chainID)
	}

	c := &Client{
		http:    httpClient,
		chainID: big.NewInt(chainID),
		logger:  logger.With(slog.String("component", "evm_client"), slog.Int64("chain_id", chainID)),
	}

	if wsURL != "" {
		wsClient, err := ethclient.DialContext(ctx, wsURL)
		if err != nil {
			// WS is optional: the order source falls back to polling.
			c.logger.Warn("ws dial failed, log subscriptions unavailable",
				slog.String("url", wsURL),
				slog.String("error", err.Error()),
			)
		} else {
			c.ws = wsClient
		}
	}

	return c, nil
}

// HTTP returns the HTTP-backed ethclient.
func (c *Client) HTTP() *ethclient.Client { return c.http }

// WS returns the WS-backed ethclient, or nil when none is configured.
func (c *Client) WS() *ethclient.Client { return c.ws }

// ChainID returns the chain id the client is connected to.
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// Close tears down both connections.
func (c *Client) Close() {
	c.http.Close()
	if c.ws != nil {
		c.ws.Close()
	}
}

// WaitMined polls for the receipt of txHash under the given policy and
// returns it once the transaction is included in a block. A transaction that
// mined with a failed status is returned along with a nil error; callers
// inspect receipt.Status.
func (c *Client) WaitMined(ctx context.Context, txHash common.Hash, pol retry.Policy) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := pol.Do(ctx, func(ctx context.Context) error {
		r, err := c.http.TransactionReceipt(ctx, txHash)
		if err != nil {
			return fmt.Errorf("receipt %s not available: %w", txHash, err)
		}
		receipt = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("evm: wait mined %s: %w", txHash, err)
	}
	return receipt, nil
}
