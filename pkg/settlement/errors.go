package settlement

import "errors"

// Settlement-level error values.
var (
	ErrUnknownOrder                 = errors.New("unknown payment order")
	ErrOrderExists                  = errors.New("payment order already exists")
	ErrAmountMismatch               = errors.New("settlement amount does not match order")
	ErrGatewayUnavailable           = errors.New("payment gateway unavailable")
	ErrInvalidMerchantTransactionID = errors.New("invalid merchant transaction id")
	ErrInvalidGatewayState          = errors.New("invalid gateway state")
	ErrInvalidOrderStatus           = errors.New("invalid order status")
	ErrInvalidLedgerKey             = errors.New("invalid ledger key")
	ErrInvalidSettlementConfig      = errors.New("invalid settlement config")
)
