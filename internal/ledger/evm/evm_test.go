package evm

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/driftgate/solverbot/internal/domain"
)

func packOrderCreated(t *testing.T, recipient [32]byte, input, start, floor *big.Int, startTime, duration uint64) []byte {
	t.Helper()
	data, err := orderBookABI.Events["OrderCreated"].Inputs.NonIndexed().Pack(
		recipient, input, start, floor, startTime, duration,
	)
	if err != nil {
		t.Fatalf("packing event data: %v", err)
	}
	return data
}

func TestDecodeOrderCreated(t *testing.T) {
	orderID := common.HexToHash("0x01ab000000000000000000000000000000000000000000000000000000000000")
	depositor := common.HexToAddress("0x1111111111111111111111111111111111111111")
	recipient := addressToUniversal(common.HexToAddress("0x2222222222222222222222222222222222222222"))

	lg := types.Log{
		Topics: []common.Hash{
			orderCreatedTopic,
			orderID,
			common.BytesToHash(depositor.Bytes()),
		},
		Data:        packOrderCreated(t, recipient, big.NewInt(1_000_000), big.NewInt(100), big.NewInt(50), 1_700_000_000, 600),
		BlockNumber: 42,
		TxHash:      common.HexToHash("0xbeef"),
	}

	ev, err := decodeOrderCreated(lg)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if ev.Order.ID != domain.OrderID(orderID) {
		t.Errorf("order id = %s", ev.Order.ID)
	}
	if ev.Order.Depositor != depositor.Hex() {
		t.Errorf("depositor = %s", ev.Order.Depositor)
	}
	if ev.Order.Recipient != "0x2222222222222222222222222222222222222222" &&
		ev.Order.Recipient != common.HexToAddress("0x2222222222222222222222222222222222222222").Hex() {
		t.Errorf("recipient = %s", ev.Order.Recipient)
	}
	if ev.Order.StartPrice.Cmp(big.NewInt(100)) != 0 || ev.Order.FloorPrice.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("prices = %s / %s", ev.Order.StartPrice, ev.Order.FloorPrice)
	}
	if ev.Order.StartTime != 1_700_000_000 || ev.Order.Duration != 600 {
		t.Errorf("window = %d / %d", ev.Order.StartTime, ev.Order.Duration)
	}
	if ev.Order.State != domain.StateOpen {
		t.Errorf("state = %s", ev.Order.State)
	}
	if ev.BlockNumber != 42 {
		t.Errorf("block = %d", ev.BlockNumber)
	}
}

func TestDecodeOrderCreatedRejectsInvalidAuction(t *testing.T) {
	recipient := addressToUniversal(common.HexToAddress("0x22"))
	lg := types.Log{
		Topics: []common.Hash{
			orderCreatedTopic,
			common.HexToHash("0x01"),
			common.HexToHash("0x02"),
		},
		// Floor above start violates the auction invariant.
		Data: packOrderCreated(t, recipient, big.NewInt(1), big.NewInt(50), big.NewInt(100), 0, 600),
	}
	if _, err := decodeOrderCreated(lg); err == nil {
		t.Fatal("expected validation error for floor > start")
	}
}

func TestDecodeOrderCreatedRejectsForeignLog(t *testing.T) {
	lg := types.Log{Topics: []common.Hash{common.HexToHash("0xdead")}}
	if _, err := decodeOrderCreated(lg); err == nil {
		t.Fatal("expected error for non-OrderCreated log")
	}
}

func TestClassifyRevert(t *testing.T) {
	cases := []struct {
		reason string
		want   error
	}{
		{"execution reverted: order already settled", domain.ErrAlreadySettled},
		{"execution reverted: Order Settled", domain.ErrAlreadySettled},
		{"execution reverted: insufficient amount paid", domain.ErrInsufficientBid},
		{"execution reverted: paid below auction price", domain.ErrInsufficientBid},
		{"execution reverted: vaa already executed", domain.ErrReplayDetected},
		{"execution reverted: replay detected", domain.ErrReplayDetected},
		{"connection refused", nil},
		{"execution reverted", nil},
	}
	for _, tc := range cases {
		got := classifyRevert(tc.reason)
		if !errors.Is(got, tc.want) && !(got == nil && tc.want == nil) {
			t.Errorf("classifyRevert(%q) = %v, want %v", tc.reason, got, tc.want)
		}
	}
}

func TestUniversalAddressRoundTrip(t *testing.T) {
	addr := common.HexToAddress("0xAbCdEf0123456789aBcDeF0123456789AbCdEf01")
	u := addressToUniversal(addr)
	for _, b := range u[:12] {
		if b != 0 {
			t.Fatal("universal address not left-padded with zeros")
		}
	}
	if universalToAddress(u) != addr {
		t.Fatalf("round trip mismatch: %s", universalToAddress(u))
	}
}

type stubCursors struct {
	blocks map[string]uint64
}

func (s *stubCursors) Get(_ context.Context, name string) (uint64, error) {
	b, ok := s.blocks[name]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return b, nil
}

func (s *stubCursors) Set(_ context.Context, name string, block uint64) error {
	s.blocks[name] = block
	return nil
}

func TestStartCursorFallsBackToStartBlock(t *testing.T) {
	ctx := context.Background()
	s := &OrderSource{
		cursors:    &stubCursors{blocks: map[string]uint64{}},
		cursorName: "orders",
		startBlock: 51,
	}

	// No cursor persisted yet: scanning must begin at the deployment block,
	// so the cursor sits one before it.
	got, err := s.startCursor(ctx)
	if err != nil {
		t.Fatalf("startCursor failed: %v", err)
	}
	if got != 50 {
		t.Fatalf("cursor = %d, want 50", got)
	}

	s.startBlock = 0
	got, err = s.startCursor(ctx)
	if err != nil {
		t.Fatalf("startCursor failed: %v", err)
	}
	if got != 0 {
		t.Fatalf("cursor = %d, want 0", got)
	}

	// Once a cursor exists it wins over the start block.
	s.cursors = &stubCursors{blocks: map[string]uint64{"orders": 120}}
	got, err = s.startCursor(ctx)
	if err != nil {
		t.Fatalf("startCursor failed: %v", err)
	}
	if got != 120 {
		t.Fatalf("cursor = %d, want 120", got)
	}
}

func TestParseUniversal(t *testing.T) {
	addr := "0x2222222222222222222222222222222222222222"
	u, err := parseUniversal(addr)
	if err != nil {
		t.Fatalf("20-byte parse failed: %v", err)
	}
	if universalToAddress(u).Hex() != common.HexToAddress(addr).Hex() {
		t.Fatal("20-byte parse mismatch")
	}

	full := "0x0000000000000000000000002222222222222222222222222222222222222222"
	u2, err := parseUniversal(full)
	if err != nil {
		t.Fatalf("32-byte parse failed: %v", err)
	}
	if u2 != u {
		t.Fatal("32-byte parse mismatch")
	}

	if _, err := parseUniversal("0x1234"); err == nil {
		t.Fatal("expected error for short address")
	}
}
