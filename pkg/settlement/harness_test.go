package settlement_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)}
}

func (clock *testClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *testClock) Advance(duration time.Duration) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now = clock.now.Add(duration)
}

type fakeGateway struct {
	mu          sync.Mutex
	statuses    map[string]settlement.GatewayStatus
	statusErr   error
	initiateErr error
	initiated   []settlement.PaymentRequest
	statusCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: make(map[string]settlement.GatewayStatus)}
}

func (gateway *fakeGateway) setStatus(id settlement.MerchantTransactionID, state settlement.GatewayState, amount ledger.PositiveAmount) {
	gateway.mu.Lock()
	defer gateway.mu.Unlock()
	gateway.statuses[id.String()] = settlement.GatewayStatus{
		MerchantTransactionID: id,
		State:                 state,
		Amount:                amount,
		GatewayTransactionID:  "G-" + id.String(),
	}
}

func (gateway *fakeGateway) InitiatePayment(_ context.Context, request settlement.PaymentRequest) (settlement.PaymentIntent, error) {
	gateway.mu.Lock()
	defer gateway.mu.Unlock()
	gateway.initiated = append(gateway.initiated, request)
	if gateway.initiateErr != nil {
		return settlement.PaymentIntent{}, gateway.initiateErr
	}
	return settlement.PaymentIntent{RedirectURL: "https://pay.example/" + request.MerchantTransactionID.String()}, nil
}

func (gateway *fakeGateway) GetOrderStatus(_ context.Context, id settlement.MerchantTransactionID) (settlement.GatewayStatus, error) {
	gateway.mu.Lock()
	defer gateway.mu.Unlock()
	gateway.statusCalls++
	if gateway.statusErr != nil {
		return settlement.GatewayStatus{}, gateway.statusErr
	}
	status, ok := gateway.statuses[id.String()]
	if !ok {
		return settlement.GatewayStatus{}, errors.New("no status configured")
	}
	return status, nil
}

func (gateway *fakeGateway) VerifyWebhookSignature([]byte, string) bool {
	return true
}

const testOrderNonce = "a1b2c3"

type harness struct {
	database    *memstore.Database
	clock       *testClock
	gateway     *fakeGateway
	ledger      *ledger.Service
	tracker     *settlement.Tracker
	coordinator *settlement.Coordinator
}

func newHarness(test *testing.T, trackerOptions ...settlement.TrackerOption) *harness {
	test.Helper()
	database := memstore.New()
	clock := newTestClock()
	gateway := newFakeGateway()
	ledgerService, err := ledger.NewService(database.Ledger(), clock.Now)
	if err != nil {
		test.Fatalf("ledger service: %v", err)
	}
	orders := database.Orders()
	tracker, err := settlement.NewTracker(orders, clock.Now, trackerOptions...)
	if err != nil {
		test.Fatalf("tracker: %v", err)
	}
	coordinator, err := settlement.NewCoordinator(orders, ledgerService, tracker, gateway, clock.Now,
		settlement.WithGatewayTimeout(time.Second),
		settlement.WithOrderNonce(func() string { return testOrderNonce }))
	if err != nil {
		test.Fatalf("coordinator: %v", err)
	}
	return &harness{
		database:    database,
		clock:       clock,
		gateway:     gateway,
		ledger:      ledgerService,
		tracker:     tracker,
		coordinator: coordinator,
	}
}

func (h *harness) mustCreateOrder(test *testing.T, raw string, user string, amount int64) settlement.PaymentOrder {
	test.Helper()
	order, err := h.tracker.CreateOrder(context.Background(), mustMerchantTransactionID(test, raw), mustUserID(test, user), mustPositiveAmount(test, amount))
	if err != nil {
		test.Fatalf("create order %s: %v", raw, err)
	}
	return order
}

func (h *harness) mustOrderStatus(test *testing.T, raw string) settlement.OrderStatus {
	test.Helper()
	order, err := h.tracker.GetOrder(context.Background(), mustMerchantTransactionID(test, raw))
	if err != nil {
		test.Fatalf("get order %s: %v", raw, err)
	}
	return order.Status
}

func (h *harness) walletBalance(test *testing.T, user string) ledger.SignedAmount {
	test.Helper()
	account, err := h.ledger.GetAccountByOwnerAndType(context.Background(), mustUserID(test, user), ledger.AccountTypeUserWallet)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return 0
	}
	if err != nil {
		test.Fatalf("wallet: %v", err)
	}
	return account.Balance
}

func (h *harness) escrowBalance(test *testing.T) ledger.SignedAmount {
	test.Helper()
	account, err := h.ledger.GetAccountByOwnerAndType(context.Background(), ledger.UserID{}, ledger.AccountTypePlatformEscrow)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return 0
	}
	if err != nil {
		test.Fatalf("escrow: %v", err)
	}
	return account.Balance
}

func (h *harness) entriesFor(test *testing.T, raw string) []ledger.JournalEntry {
	test.Helper()
	entries, err := h.ledger.ListJournalEntriesByReference(context.Background(), settlement.ReferenceTypePaymentOrder, raw)
	if err != nil {
		test.Fatalf("entries: %v", err)
	}
	return entries
}

func mustMerchantTransactionID(test *testing.T, raw string) settlement.MerchantTransactionID {
	test.Helper()
	id, err := settlement.NewMerchantTransactionID(raw)
	if err != nil {
		test.Fatalf("merchant transaction id: %v", err)
	}
	return id
}

func mustUserID(test *testing.T, raw string) ledger.UserID {
	test.Helper()
	id, err := ledger.NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return id
}

func mustPositiveAmount(test *testing.T, raw int64) ledger.PositiveAmount {
	test.Helper()
	amount, err := ledger.NewPositiveAmount(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return amount
}

func mustTransactionID(test *testing.T, raw string) ledger.TransactionID {
	test.Helper()
	id, err := ledger.NewTransactionID(raw)
	if err != nil {
		test.Fatalf("transaction id: %v", err)
	}
	return id
}
