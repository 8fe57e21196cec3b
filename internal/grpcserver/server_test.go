package grpcserver

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/MarkoPoloResearchLab/settlement/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
)

const bufferSize = 1 << 20

type scriptedGateway struct {
	statuses map[string]settlement.GatewayStatus
}

func (gateway *scriptedGateway) InitiatePayment(context.Context, settlement.PaymentRequest) (settlement.PaymentIntent, error) {
	return settlement.PaymentIntent{}, errors.New("not used")
}

func (gateway *scriptedGateway) GetOrderStatus(_ context.Context, id settlement.MerchantTransactionID) (settlement.GatewayStatus, error) {
	status, ok := gateway.statuses[id.String()]
	if !ok {
		return settlement.GatewayStatus{}, errors.New("no status")
	}
	return status, nil
}

func (gateway *scriptedGateway) VerifyWebhookSignature([]byte, string) bool {
	return false
}

type grpcRig struct {
	conn    *grpc.ClientConn
	tracker *settlement.Tracker
	gateway *scriptedGateway
}

func newGRPCRig(test *testing.T) *grpcRig {
	test.Helper()
	now := func() time.Time { return time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC) }
	database := memstore.New()
	gateway := &scriptedGateway{statuses: make(map[string]settlement.GatewayStatus)}
	ledgerService, err := ledger.NewService(database.Ledger(), now)
	if err != nil {
		test.Fatalf("ledger: %v", err)
	}
	tracker, err := settlement.NewTracker(database.Orders(), now)
	if err != nil {
		test.Fatalf("tracker: %v", err)
	}
	coordinator, err := settlement.NewCoordinator(database.Orders(), ledgerService, tracker, gateway, now)
	if err != nil {
		test.Fatalf("coordinator: %v", err)
	}

	listener := bufconn.Listen(bufferSize)
	server := grpc.NewServer()
	Register(server, NewSettlementServiceServer(coordinator, ledgerService))
	go func() { _ = server.Serve(listener) }()
	test.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		test.Fatalf("dial: %v", err)
	}
	test.Cleanup(func() { _ = conn.Close() })
	return &grpcRig{conn: conn, tracker: tracker, gateway: gateway}
}

func (rig *grpcRig) mustCreateOrder(test *testing.T, raw string, user string, amount int64) settlement.MerchantTransactionID {
	test.Helper()
	id, err := settlement.NewMerchantTransactionID(raw)
	if err != nil {
		test.Fatalf("order id: %v", err)
	}
	userID, err := ledger.NewUserID(user)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	positive, err := ledger.NewPositiveAmount(amount)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	if _, err := rig.tracker.CreateOrder(context.Background(), id, userID, positive); err != nil {
		test.Fatalf("create order: %v", err)
	}
	return id
}

func TestVerifyOrderSettlesAndWalletReflectsIt(test *testing.T) {
	test.Parallel()
	rig := newGRPCRig(test)
	id := rig.mustCreateOrder(test, "WT_42_1", "42", 50000)
	rig.gateway.statuses[id.String()] = settlement.GatewayStatus{MerchantTransactionID: id, State: settlement.GatewayCompleted, Amount: 50000, GatewayTransactionID: "T1"}
	ctx := context.Background()

	var verify VerifyResponse
	if err := rig.conn.Invoke(ctx, FullMethod("VerifyOrder"), &OrderRequest{MerchantTransactionID: "WT_42_1"}, &verify); err != nil {
		test.Fatalf("verify: %v", err)
	}
	if verify.Outcome != string(settlement.OutcomeSettled) || !verify.Success || verify.Retry {
		test.Fatalf("unexpected verify %+v", verify)
	}

	var order OrderResponse
	if err := rig.conn.Invoke(ctx, FullMethod("GetOrder"), &OrderRequest{MerchantTransactionID: "WT_42_1"}, &order); err != nil {
		test.Fatalf("get order: %v", err)
	}
	if order.Status != "SETTLED" || order.GatewayTransactionID != "T1" || order.AmountMinor != 50000 {
		test.Fatalf("unexpected order %+v", order)
	}

	var wallet WalletResponse
	if err := rig.conn.Invoke(ctx, FullMethod("GetWallet"), &WalletRequest{UserID: "42"}, &wallet); err != nil {
		test.Fatalf("get wallet: %v", err)
	}
	if wallet.BalanceMinor != 50000 || len(wallet.Lines) != 1 || wallet.Lines[0].Type != "CREDIT" {
		test.Fatalf("unexpected wallet %+v", wallet)
	}
}

func TestVerifyOrderReportsFailedOrdersAsUnsuccessful(test *testing.T) {
	test.Parallel()
	rig := newGRPCRig(test)
	id := rig.mustCreateOrder(test, "WT_42_9", "42", 50000)
	rig.gateway.statuses[id.String()] = settlement.GatewayStatus{MerchantTransactionID: id, State: settlement.GatewayFailed}
	ctx := context.Background()

	expected := []settlement.Outcome{settlement.OutcomeFailed, settlement.OutcomeAlreadyFailed}
	for _, outcome := range expected {
		var verify VerifyResponse
		if err := rig.conn.Invoke(ctx, FullMethod("VerifyOrder"), &OrderRequest{MerchantTransactionID: "WT_42_9"}, &verify); err != nil {
			test.Fatalf("verify: %v", err)
		}
		if verify.Outcome != string(outcome) || verify.Success {
			test.Fatalf("expected unsuccessful %s, got %+v", outcome, verify)
		}
	}
}

func TestErrorsMapToStatusCodes(test *testing.T) {
	test.Parallel()
	rig := newGRPCRig(test)
	ctx := context.Background()
	testCases := []struct {
		name         string
		method       string
		request      any
		expectedCode codes.Code
	}{
		{name: "unknown order", method: "GetOrder", request: &OrderRequest{MerchantTransactionID: "MISSING"}, expectedCode: codes.NotFound},
		{name: "invalid order id", method: "VerifyOrder", request: &OrderRequest{MerchantTransactionID: "no spaces"}, expectedCode: codes.InvalidArgument},
		{name: "invalid user", method: "GetWallet", request: &WalletRequest{UserID: " "}, expectedCode: codes.InvalidArgument},
	}
	for _, testCase := range testCases {
		var response OrderResponse
		err := rig.conn.Invoke(ctx, FullMethod(testCase.method), testCase.request, &response)
		if status.Code(err) != testCase.expectedCode {
			test.Fatalf("%s: expected %s, got %v", testCase.name, testCase.expectedCode, err)
		}
	}
}

func TestHealthServiceServes(test *testing.T) {
	test.Parallel()
	rig := newGRPCRig(test)
	response, err := healthpb.NewHealthClient(rig.conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		test.Fatalf("health: %v", err)
	}
	if response.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		test.Fatalf("unexpected health %s", response.GetStatus())
	}

	protoResponse, err := healthpb.NewHealthClient(rig.conn).Check(context.Background(), &healthpb.HealthCheckRequest{}, grpc.CallContentSubtype("proto"))
	if err != nil {
		test.Fatalf("health over proto codec: %v", err)
	}
	if protoResponse.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		test.Fatalf("unexpected overall health %s", protoResponse.GetStatus())
	}
}

func TestMapToGRPCErrorFallsBackToInternal(test *testing.T) {
	test.Parallel()
	if code := status.Code(mapToGRPCError(errors.New("boom"))); code != codes.Internal {
		test.Fatalf("expected Internal, got %s", code)
	}
	if code := status.Code(mapToGRPCError(ledger.ErrLockTimeout)); code != codes.Unavailable {
		test.Fatalf("expected Unavailable, got %s", code)
	}
}
