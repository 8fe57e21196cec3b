package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
)

const maxMerchantTransactionIDLength = 35

// MerchantTransactionID is the order key shared with the payment gateway.
type MerchantTransactionID struct {
	value string
}

// NewMerchantTransactionID validates an order key: 1 to 35 characters drawn
// from letters, digits, underscore and hyphen.
func NewMerchantTransactionID(raw string) (MerchantTransactionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return MerchantTransactionID{}, fmt.Errorf("%w: empty value", ErrInvalidMerchantTransactionID)
	}
	if len(trimmed) > maxMerchantTransactionIDLength {
		return MerchantTransactionID{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidMerchantTransactionID, maxMerchantTransactionIDLength)
	}
	if !isOrderKeyText(trimmed) {
		return MerchantTransactionID{}, fmt.Errorf("%w: unexpected character in %q", ErrInvalidMerchantTransactionID, trimmed)
	}
	return MerchantTransactionID{value: trimmed}, nil
}

// String returns the normalized key.
func (id MerchantTransactionID) String() string {
	return id.value
}

// OrderStatus is the lifecycle state of a payment order.
type OrderStatus string

const (
	OrderCreated OrderStatus = "CREATED"
	OrderSettled OrderStatus = "SETTLED"
	OrderFailed  OrderStatus = "FAILED"
)

// ParseOrderStatus validates an order status string.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case OrderCreated, OrderSettled, OrderFailed:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOrderStatus, raw)
	}
}

// IsTerminal reports whether the order can no longer change.
func (status OrderStatus) IsTerminal() bool {
	return status == OrderSettled || status == OrderFailed
}

// String returns the status string.
func (status OrderStatus) String() string {
	return string(status)
}

// PaymentOrder is a recharge intent tracked against the gateway.
type PaymentOrder struct {
	ID                   MerchantTransactionID
	UserID               ledger.UserID
	Amount               ledger.PositiveAmount
	Currency             string
	Status               OrderStatus
	GatewayTransactionID string
	GatewayPayload       json.RawMessage
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// OrderTransition moves an order out of From into To when it is still in From.
type OrderTransition struct {
	ID                   MerchantTransactionID
	From                 OrderStatus
	To                   OrderStatus
	GatewayTransactionID string
	GatewayPayload       json.RawMessage
	UpdatedAt            time.Time
}

// TransitionResult reports what a terminal transition request did.
type TransitionResult string

const (
	TransitionApplied          TransitionResult = "applied"
	TransitionAlreadyProcessed TransitionResult = "already_processed"
)

// GatewayState is the gateway's view of a payment.
type GatewayState string

const (
	GatewayCompleted GatewayState = "COMPLETED"
	GatewayFailed    GatewayState = "FAILED"
	GatewayPending   GatewayState = "PENDING"
)

// ParseGatewayState validates a gateway state string.
func ParseGatewayState(raw string) (GatewayState, error) {
	state := GatewayState(strings.ToUpper(strings.TrimSpace(raw)))
	switch state {
	case GatewayCompleted, GatewayFailed, GatewayPending:
		return state, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidGatewayState, raw)
	}
}

// GatewayStatus is a status report for one order. Amount is zero when the
// gateway did not report one.
type GatewayStatus struct {
	MerchantTransactionID MerchantTransactionID
	State                 GatewayState
	Amount                ledger.PositiveAmount
	GatewayTransactionID  string
	Payload               json.RawMessage
}

// PaymentRequest asks the gateway to start collecting a payment.
type PaymentRequest struct {
	MerchantTransactionID MerchantTransactionID
	UserID                ledger.UserID
	Amount                ledger.PositiveAmount
	MobileNumber          string
}

// PaymentIntent is the gateway's answer to a PaymentRequest.
type PaymentIntent struct {
	RedirectURL string
	Payload     json.RawMessage
}

// PaymentInitiator starts payments.
type PaymentInitiator interface {
	InitiatePayment(ctx context.Context, request PaymentRequest) (PaymentIntent, error)
}

// StatusChecker queries the gateway for the state of an order.
type StatusChecker interface {
	GetOrderStatus(ctx context.Context, id MerchantTransactionID) (GatewayStatus, error)
}

// WebhookVerifier authenticates gateway callbacks.
type WebhookVerifier interface {
	VerifyWebhookSignature(payload []byte, signature string) bool
}

// Gateway is the full capability set of a payment gateway adapter.
type Gateway interface {
	PaymentInitiator
	StatusChecker
	WebhookVerifier
}

// Store persists payment orders. Ledger returns a ledger store bound to the
// same underlying transaction, so postings and order transitions commit
// together.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	Ledger() ledger.Store
	CreateOrder(ctx context.Context, order PaymentOrder) error
	GetOrder(ctx context.Context, id MerchantTransactionID) (PaymentOrder, error)
	LockOrder(ctx context.Context, id MerchantTransactionID) (PaymentOrder, error)
	UpdateOrderStatus(ctx context.Context, transition OrderTransition) (bool, error)
	ListOrdersByStatus(ctx context.Context, status OrderStatus, createdBefore time.Time, limit int) ([]PaymentOrder, error)
}
