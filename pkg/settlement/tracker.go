package settlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
)

// Tracker owns the payment order lifecycle: CREATED moves to SETTLED or
// FAILED exactly once and terminal orders never move again.
type Tracker struct {
	store    Store
	nowFn    func() time.Time
	currency string
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithOrderCurrency sets the currency recorded on new orders.
func WithOrderCurrency(currency string) TrackerOption {
	return func(tracker *Tracker) {
		normalized := strings.ToUpper(strings.TrimSpace(currency))
		if normalized != "" {
			tracker.currency = normalized
		}
	}
}

// NewTracker wires a Tracker.
func NewTracker(store Store, now func() time.Time, options ...TrackerOption) (*Tracker, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidSettlementConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidSettlementConfig)
	}
	tracker := &Tracker{store: store, nowFn: now, currency: ledger.DefaultCurrency}
	for _, option := range options {
		if option != nil {
			option(tracker)
		}
	}
	return tracker, nil
}

// WithStore returns a copy of the tracker bound to another store.
func (tracker *Tracker) WithStore(store Store) *Tracker {
	bound := *tracker
	bound.store = store
	return &bound
}

// CreateOrder records a new CREATED order.
func (tracker *Tracker) CreateOrder(ctx context.Context, id MerchantTransactionID, userID ledger.UserID, amount ledger.PositiveAmount) (PaymentOrder, error) {
	if id.String() == "" {
		return PaymentOrder{}, fmt.Errorf("%w: empty value", ErrInvalidMerchantTransactionID)
	}
	if userID.IsZero() {
		return PaymentOrder{}, fmt.Errorf("%w: empty value", ledger.ErrInvalidUserID)
	}
	if amount <= 0 {
		return PaymentOrder{}, fmt.Errorf("%w: must be greater than zero", ledger.ErrInvalidAmount)
	}
	createdAt := tracker.nowFn().UTC()
	order := PaymentOrder{
		ID:        id,
		UserID:    userID,
		Amount:    amount,
		Currency:  tracker.currency,
		Status:    OrderCreated,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	if err := tracker.store.CreateOrder(ctx, order); err != nil {
		return PaymentOrder{}, err
	}
	return order, nil
}

// GetOrder loads an order.
func (tracker *Tracker) GetOrder(ctx context.Context, id MerchantTransactionID) (PaymentOrder, error) {
	return tracker.store.GetOrder(ctx, id)
}

// MarkSettled moves a CREATED order to SETTLED.
func (tracker *Tracker) MarkSettled(ctx context.Context, id MerchantTransactionID) (TransitionResult, error) {
	return tracker.transition(ctx, id, OrderSettled, GatewayStatus{})
}

// MarkFailed moves a CREATED order to FAILED. A SETTLED order stays SETTLED.
func (tracker *Tracker) MarkFailed(ctx context.Context, id MerchantTransactionID) (TransitionResult, error) {
	return tracker.transition(ctx, id, OrderFailed, GatewayStatus{})
}

// ListStalePending returns CREATED orders older than olderThan, oldest first.
func (tracker *Tracker) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]PaymentOrder, error) {
	if limit <= 0 {
		return nil, nil
	}
	cutoff := tracker.nowFn().UTC().Add(-olderThan)
	return tracker.store.ListOrdersByStatus(ctx, OrderCreated, cutoff, limit)
}

func (tracker *Tracker) transition(ctx context.Context, id MerchantTransactionID, to OrderStatus, evidence GatewayStatus) (TransitionResult, error) {
	result, _, err := tracker.transitionOrder(ctx, id, to, evidence)
	return result, err
}

// transitionOrder also reports the status the order holds afterwards.
func (tracker *Tracker) transitionOrder(ctx context.Context, id MerchantTransactionID, to OrderStatus, evidence GatewayStatus) (TransitionResult, OrderStatus, error) {
	result := TransitionAlreadyProcessed
	var current OrderStatus
	err := tracker.store.WithTx(context.WithoutCancel(ctx), func(ctx context.Context, transactionStore Store) error {
		order, err := transactionStore.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		current = order.Status
		if order.Status.IsTerminal() {
			return nil
		}
		applied, err := transactionStore.UpdateOrderStatus(ctx, OrderTransition{
			ID:                   id,
			From:                 OrderCreated,
			To:                   to,
			GatewayTransactionID: evidence.GatewayTransactionID,
			GatewayPayload:       evidence.Payload,
			UpdatedAt:            tracker.nowFn().UTC(),
		})
		if err != nil {
			return err
		}
		if applied {
			result = TransitionApplied
			current = to
		}
		return nil
	})
	if err != nil {
		return "", "", err
	}
	return result, current, nil
}
