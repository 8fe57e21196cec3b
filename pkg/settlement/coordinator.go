package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
)

const (
	defaultGatewayTimeout = 10 * time.Second
	defaultEscrowName     = "Platform Escrow"
	// ReferenceTypePaymentOrder tags journal entries posted for payment orders.
	ReferenceTypePaymentOrder = "PAYMENT_ORDER"
)

// Outcome is the result category of a settlement attempt.
type Outcome string

// OutcomeAlreadyProcessed reports an order that was already SETTLED and
// OutcomeAlreadyFailed one that was already FAILED.
const (
	OutcomeSettled          Outcome = "settled"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeFailed           Outcome = "failed"
	OutcomeAlreadyFailed    Outcome = "already_failed"
	OutcomePending          Outcome = "pending"
	OutcomeDeferred         Outcome = "deferred"
)

// Succeeded reports whether the order ended SETTLED.
func (outcome Outcome) Succeeded() bool {
	return outcome == OutcomeSettled || outcome == OutcomeAlreadyProcessed
}

// Terminal reports whether the order reached a final state.
func (outcome Outcome) Terminal() bool {
	switch outcome {
	case OutcomeSettled, OutcomeAlreadyProcessed, OutcomeFailed, OutcomeAlreadyFailed:
		return true
	}
	return false
}

func terminalOutcome(status OrderStatus) Outcome {
	if status == OrderFailed {
		return OutcomeAlreadyFailed
	}
	return OutcomeAlreadyProcessed
}

// Result describes what a settlement attempt did. Cause is set for deferred
// outcomes.
type Result struct {
	MerchantTransactionID MerchantTransactionID
	Outcome               Outcome
	Cause                 error
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) CoordinatorOption {
	return func(coordinator *Coordinator) {
		if logger != nil {
			coordinator.logger = logger
		}
	}
}

// WithOrderNonce replaces the random suffix of recharge order ids.
func WithOrderNonce(nonce func() string) CoordinatorOption {
	return func(coordinator *Coordinator) {
		if nonce != nil {
			coordinator.nonceFn = nonce
		}
	}
}

// WithGatewayTimeout bounds every gateway call the coordinator makes.
func WithGatewayTimeout(timeout time.Duration) CoordinatorOption {
	return func(coordinator *Coordinator) {
		if timeout > 0 {
			coordinator.gatewayTimeout = timeout
		}
	}
}

// Coordinator turns gateway signals into exactly one ledger posting per
// order. Webhooks, user verification and the sweeper all settle through it.
type Coordinator struct {
	store          Store
	ledger         *ledger.Service
	tracker        *Tracker
	gateway        Gateway
	logger         *zap.Logger
	nowFn          func() time.Time
	nonceFn        func() string
	gatewayTimeout time.Duration
}

// NewCoordinator wires a Coordinator.
func NewCoordinator(store Store, ledgerService *ledger.Service, tracker *Tracker, gateway Gateway, now func() time.Time, options ...CoordinatorOption) (*Coordinator, error) {
	switch {
	case store == nil:
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidSettlementConfig)
	case ledgerService == nil:
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidSettlementConfig)
	case tracker == nil:
		return nil, fmt.Errorf("%w: tracker dependency is nil", ErrInvalidSettlementConfig)
	case gateway == nil:
		return nil, fmt.Errorf("%w: gateway dependency is nil", ErrInvalidSettlementConfig)
	case now == nil:
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidSettlementConfig)
	}
	coordinator := &Coordinator{
		store:          store,
		ledger:         ledgerService,
		tracker:        tracker,
		gateway:        gateway,
		logger:         zap.NewNop(),
		nowFn:          now,
		nonceFn:        randomOrderNonce,
		gatewayTimeout: defaultGatewayTimeout,
	}
	for _, option := range options {
		if option != nil {
			option(coordinator)
		}
	}
	return coordinator, nil
}

// Tracker exposes the order tracker the coordinator settles through.
func (coordinator *Coordinator) Tracker() *Tracker {
	return coordinator.tracker
}

// Settle credits the order's user wallet from platform escrow and marks the
// order SETTLED, all in one store transaction. Any number of concurrent or
// repeated calls for one order post at most one journal entry.
//
// Unknown orders and amount mismatches are returned as errors. Every other
// failure is logged and reported as OutcomeDeferred so a later signal or
// sweep can retry.
func (coordinator *Coordinator) Settle(ctx context.Context, id MerchantTransactionID, amount ledger.PositiveAmount) (Result, error) {
	return coordinator.settle(ctx, id, amount, GatewayStatus{})
}

func (coordinator *Coordinator) settle(ctx context.Context, id MerchantTransactionID, amount ledger.PositiveAmount, evidence GatewayStatus) (Result, error) {
	outcome := OutcomeSettled
	settleError := coordinator.store.WithTx(context.WithoutCancel(ctx), func(ctx context.Context, transactionStore Store) error {
		order, err := transactionStore.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if order.Status.IsTerminal() {
			outcome = terminalOutcome(order.Status)
			return nil
		}
		if order.Amount != amount {
			return fmt.Errorf("%w: order %s is %d, settlement requested %d", ErrAmountMismatch, id, order.Amount, amount)
		}
		ledgerService := coordinator.ledger.WithStore(transactionStore.Ledger())
		escrow, err := ledgerService.EnsureAccount(ctx, ledger.AccountSpec{
			Name:     defaultEscrowName,
			Type:     ledger.AccountTypePlatformEscrow,
			Nature:   ledger.NatureAsset,
			Currency: order.Currency,
		})
		if err != nil {
			return err
		}
		wallet, err := ledgerService.EnsureAccount(ctx, ledger.AccountSpec{
			Name:     "Wallet " + order.UserID.String(),
			Type:     ledger.AccountTypeUserWallet,
			Nature:   ledger.NatureLiability,
			OwnerID:  order.UserID,
			Currency: order.Currency,
		})
		if err != nil {
			return err
		}
		metadata, err := ledger.NewMetadataJSON(fmt.Sprintf(`{"merchant_transaction_id":%q,"user_id":%q}`, id.String(), order.UserID.String()))
		if err != nil {
			return err
		}
		if _, err := ledgerService.PostTransaction(ctx, ledger.PostingInput{
			TransactionID: LedgerKeyOf(id),
			Description:   "Wallet recharge " + id.String(),
			ReferenceType: ReferenceTypePaymentOrder,
			ReferenceID:   id.String(),
			Metadata:      metadata,
			Lines: []ledger.LineInput{
				{AccountID: escrow.ID, Type: ledger.LineDebit, Amount: amount},
				{AccountID: wallet.ID, Type: ledger.LineCredit, Amount: amount},
			},
		}); err != nil {
			return err
		}
		applied, err := transactionStore.UpdateOrderStatus(ctx, OrderTransition{
			ID:                   id,
			From:                 OrderCreated,
			To:                   OrderSettled,
			GatewayTransactionID: evidence.GatewayTransactionID,
			GatewayPayload:       evidence.Payload,
			UpdatedAt:            coordinator.nowFn().UTC(),
		})
		if err != nil {
			return err
		}
		if !applied {
			return fmt.Errorf("%w: order %s left %s while locked", ErrInvalidOrderStatus, id, OrderCreated)
		}
		return nil
	})

	switch {
	case settleError == nil:
		coordinator.logger.Info("settlement finished",
			zap.String("merchant_transaction_id", id.String()),
			zap.String("outcome", string(outcome)),
			zap.Int64("amount", amount.Int64()))
		return Result{MerchantTransactionID: id, Outcome: outcome}, nil
	case errors.Is(settleError, ErrUnknownOrder), errors.Is(settleError, ErrAmountMismatch):
		coordinator.logger.Warn("settlement rejected",
			zap.String("merchant_transaction_id", id.String()),
			zap.Error(settleError))
		return Result{}, settleError
	case errors.Is(settleError, ledger.ErrDuplicateTransaction):
		// the journal already holds this settlement; bring the order in line
		if _, repairError := coordinator.tracker.transition(ctx, id, OrderSettled, evidence); repairError != nil {
			coordinator.logger.Warn("order repair after duplicate settlement failed",
				zap.String("merchant_transaction_id", id.String()),
				zap.Error(repairError))
		}
		return Result{MerchantTransactionID: id, Outcome: OutcomeAlreadyProcessed}, nil
	default:
		coordinator.logger.Error("settlement deferred",
			zap.String("merchant_transaction_id", id.String()),
			zap.Bool("retryable", ledger.IsRetryable(settleError)),
			zap.Error(settleError))
		return Result{MerchantTransactionID: id, Outcome: OutcomeDeferred, Cause: settleError}, nil
	}
}

// ApplyStatus routes a gateway status report: COMPLETED settles, FAILED
// marks the order failed and PENDING leaves it for a later signal.
func (coordinator *Coordinator) ApplyStatus(ctx context.Context, status GatewayStatus) (Result, error) {
	id := status.MerchantTransactionID
	switch status.State {
	case GatewayCompleted:
		amount := status.Amount
		if amount <= 0 {
			order, err := coordinator.tracker.GetOrder(ctx, id)
			if err != nil {
				return Result{}, err
			}
			amount = order.Amount
		}
		return coordinator.settle(ctx, id, amount, status)
	case GatewayFailed:
		transition, current, err := coordinator.tracker.transitionOrder(ctx, id, OrderFailed, status)
		if err != nil {
			if errors.Is(err, ErrUnknownOrder) {
				return Result{}, err
			}
			coordinator.logger.Error("order failure deferred",
				zap.String("merchant_transaction_id", id.String()),
				zap.Error(err))
			return Result{MerchantTransactionID: id, Outcome: OutcomeDeferred, Cause: err}, nil
		}
		if transition == TransitionAlreadyProcessed {
			return Result{MerchantTransactionID: id, Outcome: terminalOutcome(current)}, nil
		}
		coordinator.logger.Info("order failed",
			zap.String("merchant_transaction_id", id.String()))
		return Result{MerchantTransactionID: id, Outcome: OutcomeFailed}, nil
	case GatewayPending:
		return Result{MerchantTransactionID: id, Outcome: OutcomePending}, nil
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidGatewayState, status.State)
	}
}

// Verify asks the gateway for the current state of an order and applies it.
// Orders that are already terminal are reported without a gateway call.
func (coordinator *Coordinator) Verify(ctx context.Context, id MerchantTransactionID) (Result, error) {
	order, err := coordinator.tracker.GetOrder(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if order.Status.IsTerminal() {
		return Result{MerchantTransactionID: id, Outcome: terminalOutcome(order.Status)}, nil
	}
	queryContext, cancel := context.WithTimeout(ctx, coordinator.gatewayTimeout)
	defer cancel()
	status, err := coordinator.gateway.GetOrderStatus(queryContext, id)
	if err != nil {
		cause := fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
		coordinator.logger.Warn("gateway status query failed",
			zap.String("merchant_transaction_id", id.String()),
			zap.Error(err))
		return Result{MerchantTransactionID: id, Outcome: OutcomeDeferred, Cause: cause}, nil
	}
	status.MerchantTransactionID = id
	return coordinator.ApplyStatus(ctx, status)
}

// StartRecharge opens a CREATED order for a wallet top-up and asks the
// gateway to start collecting it. The order is recorded before the gateway
// call, so a gateway failure leaves a CREATED order for the sweeper.
func (coordinator *Coordinator) StartRecharge(ctx context.Context, userID ledger.UserID, amount ledger.PositiveAmount, mobileNumber string) (PaymentOrder, PaymentIntent, error) {
	if userID.IsZero() {
		return PaymentOrder{}, PaymentIntent{}, fmt.Errorf("%w: empty value", ledger.ErrInvalidUserID)
	}
	id, err := NewRechargeOrderID(coordinator.nowFn(), userID, coordinator.nonceFn())
	if err != nil {
		return PaymentOrder{}, PaymentIntent{}, err
	}
	order, err := coordinator.tracker.CreateOrder(ctx, id, userID, amount)
	if err != nil {
		return PaymentOrder{}, PaymentIntent{}, err
	}
	initiateContext, cancel := context.WithTimeout(ctx, coordinator.gatewayTimeout)
	defer cancel()
	intent, err := coordinator.gateway.InitiatePayment(initiateContext, PaymentRequest{
		MerchantTransactionID: id,
		UserID:                userID,
		Amount:                amount,
		MobileNumber:          mobileNumber,
	})
	if err != nil {
		coordinator.logger.Warn("payment initiation failed",
			zap.String("merchant_transaction_id", id.String()),
			zap.Error(err))
		return order, PaymentIntent{}, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}
	coordinator.logger.Info("recharge started",
		zap.String("merchant_transaction_id", id.String()),
		zap.String("user_id", userID.String()),
		zap.Int64("amount", amount.Int64()))
	return order, intent, nil
}
