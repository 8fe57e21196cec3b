package grpcserver

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// CodecName is the content subtype clients select with
// grpc.CallContentSubtype to talk to the settlement service.
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec encodes plain structs with encoding/json and generated
// messages (health checks) with protojson.
type jsonCodec struct{}

func (jsonCodec) Marshal(value any) ([]byte, error) {
	if message, ok := value.(proto.Message); ok {
		return protojson.Marshal(message)
	}
	return json.Marshal(value)
}

func (jsonCodec) Unmarshal(data []byte, value any) error {
	if message, ok := value.(proto.Message); ok {
		return protojson.Unmarshal(data, message)
	}
	return json.Unmarshal(data, value)
}

func (jsonCodec) Name() string {
	return CodecName
}

// OrderRequest names one payment order.
type OrderRequest struct {
	MerchantTransactionID string `json:"merchant_transaction_id"`
}

// OrderResponse describes one payment order.
type OrderResponse struct {
	MerchantTransactionID string `json:"merchant_transaction_id"`
	UserID                string `json:"user_id"`
	AmountMinor           int64  `json:"amount_minor"`
	Currency              string `json:"currency"`
	Status                string `json:"status"`
	GatewayTransactionID  string `json:"gateway_transaction_id,omitempty"`
	CreatedUnixUTC        int64  `json:"created_unix_utc"`
	UpdatedUnixUTC        int64  `json:"updated_unix_utc"`
}

// VerifyResponse reports a verification outcome.
type VerifyResponse struct {
	MerchantTransactionID string `json:"merchant_transaction_id"`
	Outcome               string `json:"outcome"`
	Success               bool   `json:"success"`
	Retry                 bool   `json:"retry,omitempty"`
}

// WalletRequest selects a user's wallet.
type WalletRequest struct {
	UserID string `json:"user_id"`
	Limit  int    `json:"limit,omitempty"`
}

// WalletLine is one journal line on a wallet.
type WalletLine struct {
	EntryID        string `json:"entry_id"`
	Type           string `json:"type"`
	AmountMinor    int64  `json:"amount_minor"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

// WalletResponse is a wallet balance with recent lines.
type WalletResponse struct {
	UserID       string       `json:"user_id"`
	AccountID    string       `json:"account_id,omitempty"`
	Currency     string       `json:"currency"`
	BalanceMinor int64        `json:"balance_minor"`
	Lines        []WalletLine `json:"lines"`
}

type settlementService interface {
	GetOrder(ctx context.Context, request *OrderRequest) (*OrderResponse, error)
	VerifyOrder(ctx context.Context, request *OrderRequest) (*VerifyResponse, error)
	GetWallet(ctx context.Context, request *WalletRequest) (*WalletResponse, error)
}

var settlementServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*settlementService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetOrder", Handler: unaryHandler("GetOrder", func(service settlementService, ctx context.Context, request *OrderRequest) (any, error) {
			return service.GetOrder(ctx, request)
		})},
		{MethodName: "VerifyOrder", Handler: unaryHandler("VerifyOrder", func(service settlementService, ctx context.Context, request *OrderRequest) (any, error) {
			return service.VerifyOrder(ctx, request)
		})},
		{MethodName: "GetWallet", Handler: unaryHandler("GetWallet", func(service settlementService, ctx context.Context, request *WalletRequest) (any, error) {
			return service.GetWallet(ctx, request)
		})},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "settlement/v1/settlement.json",
}

// FullMethod returns the invoke path for a settlement service method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unaryHandler[Request any](method string, call func(settlementService, context.Context, *Request) (any, error)) func(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		request := new(Request)
		if err := decode(request); err != nil {
			return nil, err
		}
		service := server.(settlementService)
		if interceptor == nil {
			return call(service, ctx, request)
		}
		info := &grpc.UnaryServerInfo{Server: server, FullMethod: FullMethod(method)}
		return interceptor(ctx, request, info, func(ctx context.Context, request any) (any, error) {
			return call(service, ctx, request.(*Request))
		})
	}
}
