package wormhole

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/driftgate/solverbot/internal/domain"
)

func mustHex32(t *testing.T, s string) [32]byte {
	t.Helper()
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		t.Fatalf("bad fixture %q", s)
	}
	var out [32]byte
	copy(out[:], raw)
	return out
}

func TestFulfillmentPayloadGoldenVector(t *testing.T) {
	p := FulfillmentPayload{
		OrderID:   domain.OrderID(mustHex32(t, "0102030400000000000000000000000000000000000000000000000000000000")),
		Solver:    mustHex32(t, "000000000000000000000000aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		Recipient: mustHex32(t, "000000000000000000000000bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
		Amount:    big.NewInt(1_000_000_000),
	}

	want := "0102030400000000000000000000000000000000000000000000000000000000" +
		"000000000000000000000000aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa" +
		"000000000000000000000000bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb" +
		"000000000000000000000000000000000000000000000000000000003b9aca00"

	got := p.Encode()
	if hex.EncodeToString(got) != want {
		t.Fatalf("encoded payload mismatch:\n got %s\nwant %s", hex.EncodeToString(got), want)
	}

	back, err := DecodeFulfillmentPayload(got)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if back.OrderID != p.OrderID || back.Solver != p.Solver || back.Recipient != p.Recipient {
		t.Fatal("decoded fields differ from original")
	}
	if back.Amount.Cmp(p.Amount) != 0 {
		t.Fatalf("decoded amount = %s", back.Amount)
	}
}

func TestFulfillmentPayloadMaxAmount(t *testing.T) {
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	p := FulfillmentPayload{Amount: max}
	raw := p.Encode()
	if !bytes.Equal(raw[96:128], bytes.Repeat([]byte{0xff}, 32)) {
		t.Fatal("max uint256 not encoded as all-ones")
	}
	back, err := DecodeFulfillmentPayload(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if back.Amount.Cmp(max) != 0 {
		t.Fatal("max amount did not round trip")
	}
}

func TestDecodeFulfillmentPayloadRejectsBadLength(t *testing.T) {
	for _, n := range []int{0, 64, 127, 129, 256} {
		if _, err := DecodeFulfillmentPayload(make([]byte, n)); err == nil {
			t.Errorf("length %d accepted", n)
		}
	}
}

func TestDecodePublishedMessage(t *testing.T) {
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	data, err := coreBridgeABI.Events["LogMessagePublished"].Inputs.NonIndexed().Pack(
		uint64(77), uint32(0), payload, uint8(1),
	)
	if err != nil {
		t.Fatalf("packing event: %v", err)
	}
	lg := types.Log{
		Topics: []common.Hash{
			messagePublishedTop,
			common.BytesToHash(common.HexToAddress("0xcccc").Bytes()),
		},
		Data: data,
	}

	msg, err := decodePublishedMessage(lg)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Sequence != 77 {
		t.Errorf("sequence = %d", msg.Sequence)
	}
	if !bytes.Equal(msg.Payload, payload) {
		t.Errorf("payload = %x", msg.Payload)
	}
}

func TestDecodePublishedMessageRejectsForeignLog(t *testing.T) {
	lg := types.Log{Topics: []common.Hash{common.HexToHash("0x01")}}
	if _, err := decodePublishedMessage(lg); err == nil {
		t.Fatal("expected error for non-bridge log")
	}
}
