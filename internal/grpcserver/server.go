package grpcserver

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
)

const (
	errorInvalidUserID                = "invalid_user_id"
	errorInvalidMerchantTransactionID = "invalid_merchant_transaction_id"
	errorUnknownOrder                 = "unknown_order"
	errorAmountMismatch               = "amount_mismatch"
	errorInvalidGatewayState          = "invalid_gateway_state"
	errorLockTimeout                  = "lock_timeout"

	defaultListLinesLimit = 50
	maxListLinesLimit     = 200

	// ServiceName is the fully qualified name health checks report on.
	ServiceName = "settlement.v1.SettlementService"
)

// SettlementServiceServer exposes order and wallet queries plus
// user-triggered verification over gRPC.
type SettlementServiceServer struct {
	coordinator *settlement.Coordinator
	ledger      *ledger.Service
}

// NewSettlementServiceServer constructs the gRPC facade.
func NewSettlementServiceServer(coordinator *settlement.Coordinator, ledgerService *ledger.Service) *SettlementServiceServer {
	return &SettlementServiceServer{coordinator: coordinator, ledger: ledgerService}
}

// GetOrder returns one payment order.
func (service *SettlementServiceServer) GetOrder(ctx context.Context, request *OrderRequest) (*OrderResponse, error) {
	id, err := settlement.NewMerchantTransactionID(request.MerchantTransactionID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	order, err := service.coordinator.Tracker().GetOrder(ctx, id)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &OrderResponse{
		MerchantTransactionID: order.ID.String(),
		UserID:                order.UserID.String(),
		AmountMinor:           order.Amount.Int64(),
		Currency:              order.Currency,
		Status:                order.Status.String(),
		GatewayTransactionID:  order.GatewayTransactionID,
		CreatedUnixUTC:        order.CreatedAt.UTC().Unix(),
		UpdatedUnixUTC:        order.UpdatedAt.UTC().Unix(),
	}, nil
}

// VerifyOrder asks the gateway about an order and settles it when paid.
func (service *SettlementServiceServer) VerifyOrder(ctx context.Context, request *OrderRequest) (*VerifyResponse, error) {
	id, err := settlement.NewMerchantTransactionID(request.MerchantTransactionID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	result, err := service.coordinator.Verify(ctx, id)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	response := &VerifyResponse{
		MerchantTransactionID: id.String(),
		Outcome:               string(result.Outcome),
		Success:               result.Outcome.Succeeded(),
	}
	if result.Cause != nil {
		response.Retry = true
	}
	return response, nil
}

// GetWallet returns a user's wallet balance and recent lines.
func (service *SettlementServiceServer) GetWallet(ctx context.Context, request *WalletRequest) (*WalletResponse, error) {
	userID, err := ledger.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	limit := request.Limit
	if limit <= 0 {
		limit = defaultListLinesLimit
	}
	if limit > maxListLinesLimit {
		limit = maxListLinesLimit
	}
	response := &WalletResponse{UserID: userID.String(), Currency: ledger.DefaultCurrency, Lines: []WalletLine{}}
	account, err := service.ledger.GetAccountByOwnerAndType(ctx, userID, ledger.AccountTypeUserWallet)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return response, nil
	}
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	lines, err := service.ledger.ListAccountLines(ctx, account.ID, limit)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	response.AccountID = account.ID.String()
	response.Currency = account.Currency
	response.BalanceMinor = account.Balance.Int64()
	for _, line := range lines {
		response.Lines = append(response.Lines, WalletLine{
			EntryID:        line.EntryID.String(),
			Type:           line.Type.String(),
			AmountMinor:    line.Amount.Int64(),
			CreatedUnixUTC: line.CreatedAt.UTC().Unix(),
		})
	}
	return response, nil
}

// Pinger reports store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Register attaches the settlement service and a health service to server.
// The returned health server starts as SERVING.
func Register(server *grpc.Server, service *SettlementServiceServer) *health.Server {
	server.RegisterService(&settlementServiceDesc, service)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return healthServer
}

// WatchHealth pings the store every interval and mirrors the result into
// healthServer until ctx is done.
func WatchHealth(ctx context.Context, healthServer *health.Server, pinger Pinger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			healthServer.Shutdown()
			return
		case <-ticker.C:
			servingStatus := healthpb.HealthCheckResponse_SERVING
			pingContext, cancel := context.WithTimeout(ctx, interval)
			if err := pinger.Ping(pingContext); err != nil {
				servingStatus = healthpb.HealthCheckResponse_NOT_SERVING
			}
			cancel()
			healthServer.SetServingStatus("", servingStatus)
			healthServer.SetServingStatus(ServiceName, servingStatus)
		}
	}
}

func mapToGRPCError(source error) error {
	if errors.Is(source, ledger.ErrInvalidUserID) {
		return status.Error(codes.InvalidArgument, errorInvalidUserID)
	}
	if errors.Is(source, settlement.ErrInvalidMerchantTransactionID) {
		return status.Error(codes.InvalidArgument, errorInvalidMerchantTransactionID)
	}
	if errors.Is(source, settlement.ErrUnknownOrder) {
		return status.Error(codes.NotFound, errorUnknownOrder)
	}
	if errors.Is(source, settlement.ErrAmountMismatch) {
		return status.Error(codes.FailedPrecondition, errorAmountMismatch)
	}
	if errors.Is(source, settlement.ErrInvalidGatewayState) {
		return status.Error(codes.FailedPrecondition, errorInvalidGatewayState)
	}
	if errors.Is(source, ledger.ErrLockTimeout) {
		return status.Error(codes.Unavailable, errorLockTimeout)
	}
	return status.Error(codes.Internal, source.Error())
}
