package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/driftgate/solverbot/internal/domain"
	"github.com/driftgate/solverbot/internal/retry"
)

// ---------------------------------------------------------------------------
// In-memory fakes
// ---------------------------------------------------------------------------

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(unix int64) *fakeClock { return &fakeClock{now: time.Unix(unix, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memOrders struct {
	mu     sync.Mutex
	orders map[domain.OrderID]domain.Order
}

func newMemOrders() *memOrders { return &memOrders{orders: make(map[domain.OrderID]domain.Order)} }

func (s *memOrders) Upsert(_ context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
	return nil
}

func (s *memOrders) UpdateState(_ context.Context, id domain.OrderID, state domain.LifecycleState, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.State = state
	o.FailReason = reason
	s.orders[id] = o
	return nil
}

func (s *memOrders) IncrementRetry(_ context.Context, id domain.OrderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.RetryCount++
	s.orders[id] = o
	return nil
}

func (s *memOrders) GetByID(_ context.Context, id domain.OrderID) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *memOrders) ListByState(_ context.Context, state domain.LifecycleState, _ domain.ListOpts) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.State == state {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memOrders) ListFinishedBefore(context.Context, time.Time, domain.ListOpts) ([]domain.Order, error) {
	return nil, nil
}

func (s *memOrders) Delete(_ context.Context, id domain.OrderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, id)
	return nil
}

func (s *memOrders) state(t *testing.T, id domain.OrderID) domain.LifecycleState {
	t.Helper()
	o, err := s.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("order %s missing: %v", id, err)
	}
	return o.State
}

type memFulfillments struct {
	mu      sync.Mutex
	recs    map[domain.OrderID]domain.FulfillmentRecord
	handles map[domain.OrderID]domain.AttestationHandle
}

func newMemFulfillments() *memFulfillments {
	return &memFulfillments{
		recs:    make(map[domain.OrderID]domain.FulfillmentRecord),
		handles: make(map[domain.OrderID]domain.AttestationHandle),
	}
}

func (s *memFulfillments) Create(_ context.Context, rec domain.FulfillmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.recs[rec.OrderID]; exists {
		return fmt.Errorf("duplicate fulfillment for %s", rec.OrderID)
	}
	s.recs[rec.OrderID] = rec
	return nil
}

func (s *memFulfillments) MarkConfirmed(_ context.Context, id domain.OrderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Confirmed = true
	s.recs[id] = rec
	return nil
}

func (s *memFulfillments) SetHandle(_ context.Context, id domain.OrderID, h domain.AttestationHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[id]; !ok {
		return domain.ErrNotFound
	}
	s.handles[id] = h
	return nil
}

func (s *memFulfillments) GetByOrder(_ context.Context, id domain.OrderID) (domain.FulfillmentRecord, *domain.AttestationHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return domain.FulfillmentRecord{}, nil, domain.ErrNotFound
	}
	if h, ok := s.handles[id]; ok {
		return rec, &h, nil
	}
	return rec, nil, nil
}

type memCursors struct {
	mu      sync.Mutex
	cursors map[string]uint64
}

func newMemCursors() *memCursors { return &memCursors{cursors: make(map[string]uint64)} }

func (s *memCursors) Get(_ context.Context, name string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.cursors[name]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return b, nil
}

func (s *memCursors) Set(_ context.Context, name string, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if block > s.cursors[name] {
		s.cursors[name] = block
	}
	return nil
}

type fakeSource struct {
	events []domain.OrderEvent
	head   uint64
}

func (s *fakeSource) ScanBacklog(context.Context, uint64) ([]domain.OrderEvent, uint64, error) {
	return s.events, s.head, nil
}

func (s *fakeSource) Watch(ctx context.Context, _ chan<- domain.OrderEvent) error {
	<-ctx.Done()
	return ctx.Err()
}

type fakeFulfiller struct {
	mu      sync.Mutex
	calls   int
	amounts []*big.Int
	err     error
	txHash  string
	clock   domain.Clock
}

func (f *fakeFulfiller) Fulfill(_ context.Context, o domain.Order, amount *big.Int) (domain.FulfillmentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.amounts = append(f.amounts, new(big.Int).Set(amount))
	if f.err != nil {
		// A submission failure carries no tx hash; a revert or confirmation
		// failure carries the hash of the submitted transaction.
		return domain.FulfillmentRecord{
			OrderID:     o.ID,
			TxHash:      f.txHash,
			AmountPaid:  new(big.Int).Set(amount),
			SubmittedAt: f.clock.Now(),
		}, f.err
	}
	tx := f.txHash
	if tx == "" {
		tx = "0xfulfill"
	}
	return domain.FulfillmentRecord{
		OrderID:     o.ID,
		TxHash:      tx,
		AmountPaid:  new(big.Int).Set(amount),
		SubmittedAt: f.clock.Now(),
		Confirmed:   true,
	}, nil
}

func (f *fakeFulfiller) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeReceipts struct {
	confirmed bool
	err       error
}

func (f *fakeReceipts) ReceiptConfirmed(context.Context, string) (bool, error) {
	return f.confirmed, f.err
}

type fakeAttestor struct {
	mu         sync.Mutex
	handleErr  error
	fetchErr   error
	handles    int
	fetches    int
	att        domain.Attestation
	afterFetch func()
}

func (f *fakeAttestor) HandleFor(_ context.Context, _ domain.Order, _ domain.FulfillmentRecord) (domain.AttestationHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handles++
	if f.handleErr != nil {
		return domain.AttestationHandle{}, f.handleErr
	}
	return domain.AttestationHandle{EmitterChain: 23, Sequence: 7}, nil
}

func (f *fakeAttestor) Fetch(context.Context, domain.AttestationHandle) (domain.Attestation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.afterFetch != nil {
		f.afterFetch()
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if f.att == nil {
		return domain.Attestation("vaa"), nil
	}
	return f.att, nil
}

type fakeSettler struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSettler) Settle(context.Context, domain.OrderID, domain.Attestation) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "0xsettle", nil
}

func (f *fakeSettler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeGate struct {
	mu   sync.Mutex
	errs []error // consumed one per call; nil entry = accept
}

func (g *fakeGate) Evaluate(_ context.Context, _ domain.Order, _ *big.Int) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.errs) == 0 {
		return 5.0, nil
	}
	err := g.errs[0]
	g.errs = g.errs[1:]
	if err != nil {
		return 0, err
	}
	return 5.0, nil
}

type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocks() *fakeLocks { return &fakeLocks{held: make(map[string]bool)} }

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

type recordingAlerter struct {
	mu       sync.Mutex
	settled  []string
	failed   []string
	timeouts []string
}

func (a *recordingAlerter) OrderSettled(_ context.Context, id, _, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled = append(a.settled, id)
}

func (a *recordingAlerter) OrderFailed(_ context.Context, id, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failed = append(a.failed, id)
}

func (a *recordingAlerter) AttestationTimeout(_ context.Context, id, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timeouts = append(a.timeouts, id)
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	engine       *Engine
	orders       *memOrders
	fulfillments *memFulfillments
	cursors      *memCursors
	source       *fakeSource
	fulfiller    *fakeFulfiller
	attestor     *fakeAttestor
	settler      *fakeSettler
	gate         *fakeGate
	locks        *fakeLocks
	alerts       *recordingAlerter
	clock        *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		orders:       newMemOrders(),
		fulfillments: newMemFulfillments(),
		cursors:      newMemCursors(),
		source:       &fakeSource{},
		attestor:     &fakeAttestor{},
		settler:      &fakeSettler{},
		gate:         &fakeGate{},
		locks:        newFakeLocks(),
		alerts:       &recordingAlerter{},
		clock:        newFakeClock(1_700_000_000),
	}
	h.fulfiller = &fakeFulfiller{clock: h.clock}

	cfg := Config{
		TimeUnit:        domain.UnitSeconds,
		RecheckInterval: 10 * time.Millisecond,
		ExpiryGrace:     time.Minute,
		LockTTL:         time.Minute,
		Transient:       retry.Fixed(3, time.Millisecond),
	}
	h.engine = New(cfg, Deps{
		Orders:       h.orders,
		Fulfillments: h.fulfillments,
		Cursors:      h.cursors,
		Source:       h.source,
		Fulfiller:    h.fulfiller,
		Receipts:     &fakeReceipts{confirmed: true},
		Attestor:     h.attestor,
		Settler:      h.settler,
		Gate:         h.gate,
		Locks:        h.locks,
		Clock:        h.clock,
		Alerts:       h.alerts,
	}, slog.New(slog.DiscardHandler))
	return h
}

// order opens a 100 -> 50 auction over 600s starting at the clock's epoch.
func (h *harness) order(idByte byte) domain.Order {
	return domain.Order{
		ID:          domain.OrderID{idByte},
		Depositor:   "0x1111",
		Recipient:   "0x2222",
		InputAmount: big.NewInt(1_000_000),
		StartPrice:  big.NewInt(100),
		FloorPrice:  big.NewInt(50),
		StartTime:   1_700_000_000,
		Duration:    600,
		State:       domain.StateOpen,
	}
}

func (h *harness) acceptAndWait(ctx context.Context, o domain.Order) {
	h.engine.accept(ctx, domain.OrderEvent{Order: o, BlockNumber: 10, TxHash: "0xcreate"})
	h.engine.wg.Wait()
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestPipelineSettlesProfitableOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Mid-auction: required amount is 75.
	h.clock.Advance(300 * time.Second)
	o := h.order(0x01)
	h.acceptAndWait(ctx, o)

	if got := h.orders.state(t, o.ID); got != domain.StateSettled {
		t.Fatalf("state = %s, want settled", got)
	}
	if h.fulfiller.callCount() != 1 {
		t.Fatalf("fulfill calls = %d, want 1", h.fulfiller.callCount())
	}
	if h.fulfiller.amounts[0].Cmp(big.NewInt(75)) != 0 {
		t.Fatalf("paid amount = %s, want 75", h.fulfiller.amounts[0])
	}
	if h.settler.callCount() != 1 {
		t.Fatalf("settle calls = %d, want 1", h.settler.callCount())
	}
	if len(h.alerts.settled) != 1 {
		t.Fatalf("settled alerts = %d", len(h.alerts.settled))
	}

	rec, handle, err := h.fulfillments.GetByOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("fulfillment record missing: %v", err)
	}
	if !rec.Confirmed {
		t.Fatal("fulfillment not marked confirmed")
	}
	if handle == nil || handle.Sequence != 7 {
		t.Fatalf("attestation handle not persisted: %+v", handle)
	}
}

func TestDuplicateEventsFulfillOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.order(0x02)

	h.acceptAndWait(ctx, o)
	h.acceptAndWait(ctx, o)

	if h.fulfiller.callCount() != 1 {
		t.Fatalf("fulfill calls = %d, want 1", h.fulfiller.callCount())
	}
	if h.settler.callCount() != 1 {
		t.Fatalf("settle calls = %d, want 1", h.settler.callCount())
	}
}

func TestUnprofitableOrderStaysOpenThenFills(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gate.errs = []error{domain.ErrUnprofitable}
	o := h.order(0x03)

	h.acceptAndWait(ctx, o)
	if got := h.orders.state(t, o.ID); got != domain.StateOpen {
		t.Fatalf("state after skip = %s, want open", got)
	}
	if h.fulfiller.callCount() != 0 {
		t.Fatal("unprofitable order was fulfilled")
	}

	// The auction decays; the recheck path re-evaluates and now accepts.
	h.clock.Advance(400 * time.Second)
	h.engine.processOpen(ctx, o.ID)

	if got := h.orders.state(t, o.ID); got != domain.StateSettled {
		t.Fatalf("state after decay = %s, want settled", got)
	}
}

func TestHeldLockSkipsOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.order(0x04)
	h.locks.held["fill:"+o.ID.Hex()] = true

	h.acceptAndWait(ctx, o)

	if h.fulfiller.callCount() != 0 {
		t.Fatal("fulfilled despite held lock")
	}
	if got := h.orders.state(t, o.ID); got != domain.StateOpen {
		t.Fatalf("state = %s, want open", got)
	}
}

func TestExpiredOrderIsMarkedExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.order(0x05)

	// Past the end plus the grace window.
	h.clock.Advance(600*time.Second + 2*time.Minute)
	h.acceptAndWait(ctx, o)

	if got := h.orders.state(t, o.ID); got != domain.StateExpired {
		t.Fatalf("state = %s, want expired", got)
	}
	if h.fulfiller.callCount() != 0 {
		t.Fatal("expired order was fulfilled")
	}
}

func TestMonitorModeNeverFulfills(t *testing.T) {
	h := newHarness(t)
	h.engine.cfg.Monitor = true
	ctx := context.Background()
	o := h.order(0x06)

	h.acceptAndWait(ctx, o)

	if h.fulfiller.callCount() != 0 {
		t.Fatal("monitor mode submitted a payment")
	}
	if got := h.orders.state(t, o.ID); got != domain.StateOpen {
		t.Fatalf("state = %s, want open", got)
	}
}

func TestAttestationTimeoutGoesToOperator(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.attestor.fetchErr = fmt.Errorf("polling: %w", domain.ErrAttestationTimeout)
	o := h.order(0x07)

	h.acceptAndWait(ctx, o)

	if got := h.orders.state(t, o.ID); got != domain.StateFailed {
		t.Fatalf("state = %s, want failed", got)
	}
	if len(h.alerts.timeouts) != 1 {
		t.Fatalf("timeout alerts = %d, want 1", len(h.alerts.timeouts))
	}
	if h.settler.callCount() != 0 {
		t.Fatal("settled without an attestation")
	}
}

func TestReplayedProofCountsAsSettled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.settler.err = retry.Permanent(fmt.Errorf("settle: %w", domain.ErrReplayDetected))
	o := h.order(0x08)

	h.acceptAndWait(ctx, o)

	if got := h.orders.state(t, o.ID); got != domain.StateSettled {
		t.Fatalf("state = %s, want settled", got)
	}
}

func TestTransientSettleFailureRetriesThenFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.settler.err = fmt.Errorf("rpc timeout")
	o := h.order(0x09)

	h.acceptAndWait(ctx, o)

	if got := h.settler.callCount(); got != 3 {
		t.Fatalf("settle attempts = %d, want 3", got)
	}
	if got := h.orders.state(t, o.ID); got != domain.StateFailed {
		t.Fatalf("state = %s, want failed", got)
	}
}

func TestFailedSubmissionReopensOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fulfiller.err = fmt.Errorf("nonce too low")
	o := h.order(0x0a)

	h.acceptAndWait(ctx, o)

	if got := h.orders.state(t, o.ID); got != domain.StateOpen {
		t.Fatalf("state = %s, want open", got)
	}
	got, err := h.orders.GetByID(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", got.RetryCount)
	}
}

func TestRevertedFulfillmentReopensOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fulfiller.txHash = "0xreverted"
	h.fulfiller.err = retry.Permanent(fmt.Errorf("fulfill tx 0xreverted: %w", domain.ErrFulfillReverted))
	o := h.order(0x0f)

	h.acceptAndWait(ctx, o)

	if got := h.orders.state(t, o.ID); got != domain.StateOpen {
		t.Fatalf("state = %s, want open", got)
	}
	got, err := h.orders.GetByID(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", got.RetryCount)
	}
	// A reverted call paid nothing; no record may survive to block a retry.
	if _, _, err := h.fulfillments.GetByOrder(ctx, o.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("reverted payment left a fulfillment record: %v", err)
	}
	if len(h.alerts.failed) != 0 {
		t.Fatal("reverted payment raised a failure alert")
	}
}

func TestShutdownLeavesOrderAwaitingAttestation(t *testing.T) {
	h := newHarness(t)
	o := h.order(0x10)
	o.State = domain.StateAwaitingAttestation
	if err := h.orders.Upsert(context.Background(), o); err != nil {
		t.Fatal(err)
	}
	if err := h.fulfillments.Create(context.Background(), domain.FulfillmentRecord{
		OrderID: o.ID, TxHash: "0xold", AmountPaid: big.NewInt(75),
		SubmittedAt: h.clock.Now(), Confirmed: true,
	}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.attestor.fetchErr = context.Canceled

	h.engine.attestAndSettle(ctx, o.ID, "0xold", 0)

	if got := h.orders.state(t, o.ID); got != domain.StateAwaitingAttestation {
		t.Fatalf("state = %s, want awaiting attestation", got)
	}
	if len(h.alerts.failed) != 0 || len(h.alerts.timeouts) != 0 {
		t.Fatal("shutdown raised operator alerts")
	}
	if h.settler.callCount() != 0 {
		t.Fatal("settled during shutdown")
	}
}

func TestRecoverResumesAwaitingAttestation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.order(0x0b)
	o.State = domain.StateAwaitingAttestation
	if err := h.orders.Upsert(ctx, o); err != nil {
		t.Fatal(err)
	}
	if err := h.fulfillments.Create(ctx, domain.FulfillmentRecord{
		OrderID: o.ID, TxHash: "0xold", AmountPaid: big.NewInt(75),
		SubmittedAt: h.clock.Now(), Confirmed: true,
	}); err != nil {
		t.Fatal(err)
	}

	if err := h.engine.Recover(ctx); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	h.engine.wg.Wait()

	if h.fulfiller.callCount() != 0 {
		t.Fatal("recovery re-fulfilled a paid order")
	}
	if got := h.orders.state(t, o.ID); got != domain.StateSettled {
		t.Fatalf("state = %s, want settled", got)
	}
}

func TestRecoverIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.order(0x0c)
	h.source.events = []domain.OrderEvent{{Order: o, BlockNumber: 5, TxHash: "0xcreate"}}
	h.source.head = 5

	if err := h.engine.Recover(ctx); err != nil {
		t.Fatalf("first Recover failed: %v", err)
	}
	h.engine.wg.Wait()
	if err := h.engine.Recover(ctx); err != nil {
		t.Fatalf("second Recover failed: %v", err)
	}
	h.engine.wg.Wait()

	if h.fulfiller.callCount() != 1 {
		t.Fatalf("fulfill calls across recoveries = %d, want 1", h.fulfiller.callCount())
	}
	if got := h.orders.state(t, o.ID); got != domain.StateSettled {
		t.Fatalf("state = %s, want settled", got)
	}
}

func TestRecoverFailsRevertedFulfillment(t *testing.T) {
	h := newHarness(t)
	h.engine.deps.Receipts = &fakeReceipts{confirmed: false}
	ctx := context.Background()
	o := h.order(0x0d)
	o.State = domain.StateFulfilling
	if err := h.orders.Upsert(ctx, o); err != nil {
		t.Fatal(err)
	}
	if err := h.fulfillments.Create(ctx, domain.FulfillmentRecord{
		OrderID: o.ID, TxHash: "0xreverted", AmountPaid: big.NewInt(75),
		SubmittedAt: h.clock.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	if err := h.engine.Recover(ctx); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	h.engine.wg.Wait()

	if got := h.orders.state(t, o.ID); got != domain.StateFailed {
		t.Fatalf("state = %s, want failed", got)
	}
	if len(h.alerts.failed) != 1 {
		t.Fatalf("failed alerts = %d, want 1", len(h.alerts.failed))
	}
}

func TestRecoverReopensFulfillingWithoutRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.order(0x0e)
	o.State = domain.StateFulfilling
	if err := h.orders.Upsert(ctx, o); err != nil {
		t.Fatal(err)
	}

	if err := h.engine.Recover(ctx); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	h.engine.wg.Wait()

	if got := h.orders.state(t, o.ID); got != domain.StateOpen {
		t.Fatalf("state = %s, want open", got)
	}
}
