package wormhole

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/driftgate/solverbot/internal/domain"
	"github.com/driftgate/solverbot/internal/retry"
)

// receiptReader is the one node call the fetcher needs; *ethclient.Client
// satisfies it.
type receiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// FetcherConfig carries the attestation timing knobs.
type FetcherConfig struct {
	// Host is the guardian API base URL, e.g. https://api.wormholescan.io.
	Host string
	// EmitterChain is the wormhole chain id of the destination ledger.
	EmitterChain uint16
	// CoreBridge is the core bridge contract whose logs carry the message.
	CoreBridge string
	// ParseRetries / ParseDelay bound the receipt-log parse step; the
	// receipt can lag the confirmed transaction on some providers.
	ParseRetries int
	ParseDelay   time.Duration
	// PollInterval / PollTimeout bound the signed-proof polling step.
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// Fetcher resolves a confirmed fulfillment transaction into a guardian-signed
// attestation in two steps: parse the published message out of the receipt,
// then poll the guardian REST API until the signed proof appears.
type Fetcher struct {
	cfg        FetcherConfig
	chain      receiptReader
	coreBridge common.Address
	httpClient *http.Client
	logger     *slog.Logger
}

var _ domain.AttestationFetcher = (*Fetcher)(nil)

// NewFetcher wires a fetcher against the guardian API and the destination
// ledger node.
func NewFetcher(cfg FetcherConfig, chain receiptReader, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		cfg:        cfg,
		chain:      chain,
		coreBridge: common.HexToAddress(cfg.CoreBridge),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With(slog.String("component", "attestation_fetcher")),
	}
}

// HandleFor extracts the attestation handle from the message the fulfillment
// transaction published, after checking the message body names o, its
// recipient, and the amount rec actually paid. The receipt is re-read a few
// times with a fixed delay because providers can serve it slightly behind the
// confirmation; a message that contradicts the payment is rejected outright.
func (f *Fetcher) HandleFor(ctx context.Context, o domain.Order, rec domain.FulfillmentRecord) (domain.AttestationHandle, error) {
	var handle domain.AttestationHandle

	wantRecipient, err := universalFromHex(o.Recipient)
	if err != nil {
		return handle, fmt.Errorf("wormhole: order %s: %w", o.ID, err)
	}

	pol := retry.Fixed(f.cfg.ParseRetries, f.cfg.ParseDelay)
	err = pol.Do(ctx, func(ctx context.Context) error {
		receipt, err := f.chain.TransactionReceipt(ctx, common.HexToHash(rec.TxHash))
		if err != nil {
			return fmt.Errorf("wormhole: receipt %s: %w", rec.TxHash, err)
		}
		var mismatch error
		for _, lg := range receipt.Logs {
			if lg.Address != f.coreBridge || len(lg.Topics) == 0 || lg.Topics[0] != messagePublishedTop {
				continue
			}
			msg, err := decodePublishedMessage(*lg)
			if err != nil {
				return retry.Permanent(err)
			}
			payload, err := DecodeFulfillmentPayload(msg.Payload)
			if err != nil {
				mismatch = err
				continue
			}
			switch {
			case payload.OrderID != o.ID:
				mismatch = fmt.Errorf("wormhole: message names order %s, not %s", payload.OrderID.Hex(), o.ID.Hex())
				continue
			case payload.Recipient != wantRecipient:
				mismatch = fmt.Errorf("wormhole: message recipient %x does not match order", payload.Recipient)
				continue
			case rec.AmountPaid != nil && payload.Amount.Cmp(rec.AmountPaid) != 0:
				mismatch = fmt.Errorf("wormhole: message amount %s does not match paid %s", payload.Amount, rec.AmountPaid)
				continue
			}
			// Emitter is the contract that called publishMessage.
			var emitter [32]byte
			copy(emitter[12:], lg.Topics[1].Bytes()[12:])
			handle = domain.AttestationHandle{
				EmitterChain:   f.cfg.EmitterChain,
				EmitterAddress: emitter,
				Sequence:       msg.Sequence,
			}
			return nil
		}
		if mismatch != nil {
			// Re-reading the receipt cannot change what the message says.
			return retry.Permanent(mismatch)
		}
		return fmt.Errorf("wormhole: tx %s has no published message yet", rec.TxHash)
	})
	if err != nil {
		return handle, err
	}

	f.logger.Info("attestation handle parsed",
		slog.String("tx", rec.TxHash),
		slog.Uint64("sequence", handle.Sequence),
		slog.String("emitter", handle.EmitterHex()),
	)
	return handle, nil
}

// signedVAAResponse is the guardian API response body.
type signedVAAResponse struct {
	VAABytes string `json:"vaaBytes"`
}

// Fetch polls the guardian API for the signed proof of h. A 404 means the
// guardians have not finished signing and is retried; once the configured
// timeout elapses the order surfaces ErrAttestationTimeout for the operator.
func (f *Fetcher) Fetch(ctx context.Context, h domain.AttestationHandle) (domain.Attestation, error) {
	url := fmt.Sprintf("%s/v1/signed_vaa/%d/%s/%d",
		f.cfg.Host, h.EmitterChain, h.EmitterHex(), h.Sequence)

	attempts := 1
	if f.cfg.PollInterval > 0 {
		attempts = int(f.cfg.PollTimeout/f.cfg.PollInterval) + 1
	}
	pol := retry.Policy{
		MaxAttempts: attempts,
		Interval:    f.cfg.PollInterval,
		Timeout:     f.cfg.PollTimeout,
	}

	var att domain.Attestation
	err := pol.Do(ctx, func(ctx context.Context) error {
		got, err := f.fetchOnce(ctx, url)
		if err != nil {
			return err
		}
		att = got
		return nil
	})
	if err != nil {
		if ctx.Err() == nil {
			// Deadline or attempts ran out while the guardians stayed silent.
			return nil, fmt.Errorf("wormhole: sequence %d: %w: %v", h.Sequence, domain.ErrAttestationTimeout, err)
		}
		return nil, err
	}

	f.logger.Info("attestation fetched",
		slog.Uint64("sequence", h.Sequence),
		slog.Int("bytes", len(att)),
	)
	return att, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) (domain.Attestation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("wormhole: building request: %w", err))
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wormhole: guardian request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("wormhole: attestation not signed yet")
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("wormhole: guardian returned %d: %s", resp.StatusCode, body)
	}

	var parsed signedVAAResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("wormhole: decoding guardian response: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(parsed.VAABytes)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("wormhole: vaaBytes is not base64: %w", err))
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("wormhole: guardian returned empty proof")
	}
	return domain.Attestation(raw), nil
}
