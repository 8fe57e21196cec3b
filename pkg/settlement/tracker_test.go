package settlement_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
)

func TestTrackerTransitionsAreTerminal(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	order := h.mustCreateOrder(test, "P9", "9", 100)
	if order.Status != settlement.OrderCreated || order.Currency != "INR" {
		test.Fatalf("unexpected order: %+v", order)
	}

	first, err := h.tracker.MarkSettled(context.Background(), order.ID)
	if err != nil || first != settlement.TransitionApplied {
		test.Fatalf("expected applied, got %s %v", first, err)
	}
	second, err := h.tracker.MarkFailed(context.Background(), order.ID)
	if err != nil || second != settlement.TransitionAlreadyProcessed {
		test.Fatalf("expected already processed, got %s %v", second, err)
	}
	if status := h.mustOrderStatus(test, "P9"); status != settlement.OrderSettled {
		test.Fatalf("expected SETTLED to stick, got %s", status)
	}
	if _, err := h.tracker.MarkFailed(context.Background(), mustMerchantTransactionID(test, "none")); !errors.Is(err, settlement.ErrUnknownOrder) {
		test.Fatalf("expected ErrUnknownOrder, got %v", err)
	}
}

func TestTrackerRejectsDuplicateOrders(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	h.mustCreateOrder(test, "D1", "1", 100)
	_, err := h.tracker.CreateOrder(context.Background(), mustMerchantTransactionID(test, "D1"), mustUserID(test, "1"), 100)
	if !errors.Is(err, settlement.ErrOrderExists) {
		test.Fatalf("expected ErrOrderExists, got %v", err)
	}
}

func TestListStalePending(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	h.mustCreateOrder(test, "OLD1", "1", 100)
	h.clock.Advance(time.Minute)
	h.mustCreateOrder(test, "OLD2", "1", 100)
	settled := h.mustCreateOrder(test, "OLD3", "1", 100)
	if _, err := h.tracker.MarkSettled(context.Background(), settled.ID); err != nil {
		test.Fatalf("mark settled: %v", err)
	}
	h.clock.Advance(5 * time.Minute)
	h.mustCreateOrder(test, "FRESH", "1", 100)
	h.clock.Advance(30 * time.Second)

	stale, err := h.tracker.ListStalePending(context.Background(), 5*time.Minute, 10)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(stale) != 2 || stale[0].ID.String() != "OLD1" || stale[1].ID.String() != "OLD2" {
		test.Fatalf("unexpected stale orders: %+v", stale)
	}
	limited, err := h.tracker.ListStalePending(context.Background(), 5*time.Minute, 1)
	if err != nil || len(limited) != 1 || limited[0].ID.String() != "OLD1" {
		test.Fatalf("expected oldest order only, got %+v %v", limited, err)
	}
}

func TestNewMerchantTransactionID(test *testing.T) {
	test.Parallel()
	cases := []struct {
		input   string
		wantErr bool
	}{
		{input: "WT_1700000000000_42"},
		{input: " T1 "},
		{input: "", wantErr: true},
		{input: "has space", wantErr: true},
		{input: "WT_1700000000000_this-user-id-is-long", wantErr: true},
	}
	for _, testCase := range cases {
		_, err := settlement.NewMerchantTransactionID(testCase.input)
		if testCase.wantErr && !errors.Is(err, settlement.ErrInvalidMerchantTransactionID) {
			test.Fatalf("%q: expected ErrInvalidMerchantTransactionID, got %v", testCase.input, err)
		}
		if !testCase.wantErr && err != nil {
			test.Fatalf("%q: unexpected error %v", testCase.input, err)
		}
	}
}

func TestLedgerKeyRoundTrip(test *testing.T) {
	test.Parallel()
	id := mustMerchantTransactionID(test, "WT_42_1")
	key := settlement.LedgerKeyOf(id)
	if key.String() != "LEDGER_WT_42_1" {
		test.Fatalf("unexpected key %s", key)
	}
	back, err := settlement.MerchantTransactionIDFromLedgerKey(key)
	if err != nil || back != id {
		test.Fatalf("expected %s, got %s %v", id, back, err)
	}
	if _, err := settlement.MerchantTransactionIDFromLedgerKey(mustTransactionID(test, "REFUND_WT_42_1")); !errors.Is(err, settlement.ErrInvalidLedgerKey) {
		test.Fatalf("expected ErrInvalidLedgerKey, got %v", err)
	}
}

func TestNewRechargeOrderID(test *testing.T) {
	test.Parallel()
	at := time.UnixMilli(1709287200000)
	testCases := []struct {
		name     string
		userID   string
		nonce    string
		expected string
	}{
		{name: "short user id kept", userID: "42", nonce: "abc123", expected: "WT_1709287200000_42_abc123"},
		{name: "long nonce trimmed", userID: "42", nonce: "abcdef99", expected: "WT_1709287200000_42_abcdef"},
		{name: "no nonce", userID: "42", expected: "WT_1709287200000_42"},
		{name: "uuid hashed", userID: "3f2504e0-4f89-11d3-9a0c-0305e82c3301", nonce: "abc123"},
		{name: "email hashed", userID: "someone@example.com", nonce: "abc123"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			id, err := settlement.NewRechargeOrderID(at, mustUserID(test, testCase.userID), testCase.nonce)
			if err != nil {
				test.Fatalf("order id: %v", err)
			}
			if testCase.expected != "" && id.String() != testCase.expected {
				test.Fatalf("expected %s, got %s", testCase.expected, id)
			}
			if len(id.String()) > 35 {
				test.Fatalf("order id %s too long", id)
			}
			again, err := settlement.NewRechargeOrderID(at, mustUserID(test, testCase.userID), testCase.nonce)
			if err != nil || again != id {
				test.Fatalf("expected a stable id, got %s %v", again, err)
			}
		})
	}
}
