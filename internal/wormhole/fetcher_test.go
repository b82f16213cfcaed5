package wormhole

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/driftgate/solverbot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fakeChain struct {
	receipts map[common.Hash]*types.Receipt
	err      error
	reads    int
}

func (f *fakeChain) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.reads++
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.receipts[txHash]
	if !ok {
		return nil, errors.New("not found")
	}
	return r, nil
}

func testConfig(host string) FetcherConfig {
	return FetcherConfig{
		Host:         host,
		EmitterChain: 23,
		CoreBridge:   "0x0000000000000000000000000000000000000bb1",
		ParseRetries: 3,
		ParseDelay:   time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  time.Second,
	}
}

func TestFetchReturnsProofAfterPending(t *testing.T) {
	proof := []byte("signed-proof-bytes")
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		wantPath := "/v1/signed_vaa/23/" + "000000000000000000000000" + "00000000000000000000000000000000000000f1" + "/9"
		if r.URL.Path != wantPath {
			t.Errorf("path = %s, want %s", r.URL.Path, wantPath)
		}
		if calls < 3 {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(signedVAAResponse{
			VAABytes: base64.StdEncoding.EncodeToString(proof),
		})
	}))
	defer srv.Close()

	f := NewFetcher(testConfig(srv.URL), &fakeChain{}, discardLogger())
	var emitter [32]byte
	copy(emitter[12:], common.HexToAddress("0xf1").Bytes())
	att, err := f.Fetch(context.Background(), domain.AttestationHandle{
		EmitterChain:   23,
		EmitterAddress: emitter,
		Sequence:       9,
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !bytes.Equal(att, proof) {
		t.Fatalf("attestation = %q", att)
	}
	if calls != 3 {
		t.Fatalf("expected 3 requests, got %d", calls)
	}
}

func TestFetchTimesOutWhilePending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.PollTimeout = 30 * time.Millisecond
	f := NewFetcher(cfg, &fakeChain{}, discardLogger())

	_, err := f.Fetch(context.Background(), domain.AttestationHandle{Sequence: 1})
	if !errors.Is(err, domain.ErrAttestationTimeout) {
		t.Fatalf("expected ErrAttestationTimeout, got %v", err)
	}
}

func TestFetchRejectsBadBase64(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"vaaBytes":"!!not-base64!!"}`)
	}))
	defer srv.Close()

	f := NewFetcher(testConfig(srv.URL), &fakeChain{}, discardLogger())
	_, err := f.Fetch(context.Background(), domain.AttestationHandle{Sequence: 2})
	if err == nil {
		t.Fatal("expected error for malformed body")
	}
	if errors.Is(err, domain.ErrAttestationTimeout) {
		t.Fatalf("malformed body mapped to timeout: %v", err)
	}
}

func universal(addr common.Address) [32]byte {
	var out [32]byte
	copy(out[12:], addr.Bytes())
	return out
}

// bridgeReceipt wraps one published payload into a receipt the way the
// destination node serves it, preceded by an unrelated log.
func bridgeReceipt(t *testing.T, cfg FetcherConfig, sequence uint64, payload []byte) *types.Receipt {
	t.Helper()
	data, err := coreBridgeABI.Events["LogMessagePublished"].Inputs.NonIndexed().Pack(
		sequence, uint32(0), payload, uint8(1),
	)
	if err != nil {
		t.Fatalf("packing event: %v", err)
	}
	fulfillContract := common.HexToAddress("0x00000000000000000000000000000000000000f1")
	return &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		Logs: []*types.Log{
			{Address: common.HexToAddress("0x99"), Topics: []common.Hash{common.HexToHash("0x11")}},
			{
				Address: common.HexToAddress(cfg.CoreBridge),
				Topics: []common.Hash{
					messagePublishedTop,
					common.BytesToHash(fulfillContract.Bytes()),
				},
				Data: data,
			},
		},
	}
}

func handleOrder() (domain.Order, domain.FulfillmentRecord) {
	o := domain.Order{
		ID:        domain.OrderID{0x01, 0xab},
		Recipient: "0x2222222222222222222222222222222222222222",
	}
	rec := domain.FulfillmentRecord{
		OrderID:    o.ID,
		TxHash:     common.HexToHash("0xabc1").Hex(),
		AmountPaid: big.NewInt(75),
		Confirmed:  true,
	}
	return o, rec
}

func TestHandleForParsesBridgeLog(t *testing.T) {
	cfg := testConfig("http://unused")
	o, rec := handleOrder()

	payload := FulfillmentPayload{
		OrderID:   o.ID,
		Solver:    universal(common.HexToAddress("0xaaaa")),
		Recipient: universal(common.HexToAddress(o.Recipient)),
		Amount:    big.NewInt(75),
	}
	chain := &fakeChain{receipts: map[common.Hash]*types.Receipt{
		common.HexToHash(rec.TxHash): bridgeReceipt(t, cfg, 41, payload.Encode()),
	}}

	f := NewFetcher(cfg, chain, discardLogger())
	h, err := f.HandleFor(context.Background(), o, rec)
	if err != nil {
		t.Fatalf("HandleFor failed: %v", err)
	}
	if h.EmitterChain != 23 {
		t.Errorf("emitter chain = %d", h.EmitterChain)
	}
	if h.Sequence != 41 {
		t.Errorf("sequence = %d", h.Sequence)
	}
	wantEmitter := universal(common.HexToAddress("0x00000000000000000000000000000000000000f1"))
	if h.EmitterAddress != wantEmitter {
		t.Errorf("emitter = %x", h.EmitterAddress)
	}
}

func TestHandleForRejectsMismatchedMessage(t *testing.T) {
	cfg := testConfig("http://unused")
	o, rec := handleOrder()

	good := FulfillmentPayload{
		OrderID:   o.ID,
		Solver:    universal(common.HexToAddress("0xaaaa")),
		Recipient: universal(common.HexToAddress(o.Recipient)),
		Amount:    big.NewInt(75),
	}

	cases := []struct {
		name   string
		mutate func(p *FulfillmentPayload)
	}{
		{"foreign order id", func(p *FulfillmentPayload) { p.OrderID = domain.OrderID{0xff} }},
		{"wrong recipient", func(p *FulfillmentPayload) { p.Recipient = universal(common.HexToAddress("0xdead")) }},
		{"wrong amount", func(p *FulfillmentPayload) { p.Amount = big.NewInt(74) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := good
			tc.mutate(&p)
			chain := &fakeChain{receipts: map[common.Hash]*types.Receipt{
				common.HexToHash(rec.TxHash): bridgeReceipt(t, cfg, 41, p.Encode()),
			}}

			f := NewFetcher(cfg, chain, discardLogger())
			if _, err := f.HandleFor(context.Background(), o, rec); err == nil {
				t.Fatal("expected error for mismatched message")
			}
			// A contradicting message never changes; the receipt must not be
			// re-read for every configured retry.
			if chain.reads != 1 {
				t.Fatalf("receipt reads = %d, want 1", chain.reads)
			}
		})
	}
}

func TestHandleForNoMessageExhaustsRetries(t *testing.T) {
	o, rec := handleOrder()
	chain := &fakeChain{receipts: map[common.Hash]*types.Receipt{
		common.HexToHash(rec.TxHash): {Status: types.ReceiptStatusSuccessful},
	}}

	f := NewFetcher(testConfig("http://unused"), chain, discardLogger())
	if _, err := f.HandleFor(context.Background(), o, rec); err == nil {
		t.Fatal("expected error when no bridge log present")
	}
}
