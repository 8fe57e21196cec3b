package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/settlement/internal/dedupe"
	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
)

const (
	headerVerify              = "X-VERIFY"
	defaultWalletHistoryLimit = 20
	defaultShutdownTimeout    = 5 * time.Second
)

// WebhookGateway authenticates and decodes gateway callbacks.
type WebhookGateway interface {
	settlement.WebhookVerifier
	DecodeWebhook(response string) (settlement.GatewayStatus, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds HTTP settings.
type Config struct {
	AllowedOrigins     []string
	WalletHistoryLimit int
}

// Dependencies are the services the handlers call into.
type Dependencies struct {
	Coordinator *settlement.Coordinator
	Sweeper     *settlement.Sweeper
	Ledger      *ledger.Service
	Webhooks    WebhookGateway
	Dedupe      dedupe.Cache
	Health      Pinger
	Logger      *zap.Logger
}

// NewRouter builds the gin engine serving the payments API.
func NewRouter(cfg Config, deps Dependencies) (*gin.Engine, error) {
	switch {
	case deps.Coordinator == nil:
		return nil, errors.New("httpapi: coordinator is required")
	case deps.Sweeper == nil:
		return nil, errors.New("httpapi: sweeper is required")
	case deps.Ledger == nil:
		return nil, errors.New("httpapi: ledger is required")
	case deps.Webhooks == nil:
		return nil, errors.New("httpapi: webhook gateway is required")
	}
	if deps.Dedupe == nil {
		deps.Dedupe = dedupe.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.WalletHistoryLimit <= 0 {
		cfg.WalletHistoryLimit = defaultWalletHistoryLimit
	}
	handler := &httpHandler{deps: deps, cfg: cfg, logger: deps.Logger}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins: cfg.AllowedOrigins,
			AllowMethods: []string{"GET", "POST", "OPTIONS"},
			AllowHeaders: []string{"Content-Type", "Origin", "Accept", headerVerify},
			MaxAge:       12 * time.Hour,
		}))
	}

	router.SetHTMLTemplate(callbackTemplate)
	router.GET("/healthz", handler.handleHealth)

	payments := router.Group("/api/payments")
	payments.POST("/recharge", handler.handleRecharge)
	payments.POST("/verify", handler.handleVerify)
	payments.POST("/webhook", handler.handleWebhook)
	payments.POST("/reconcile", handler.handleReconcile)
	payments.GET("/orders/:id", handler.handleOrder)
	payments.GET("/callback", handler.handleCallback)
	payments.POST("/callback", handler.handleCallback)

	router.GET("/api/wallets/:user_id", handler.handleWallet)
	return router, nil
}

// Serve runs handler on addr until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type httpHandler struct {
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
}

type rechargeRequest struct {
	UserID       string          `json:"user_id" binding:"required"`
	Amount       decimal.Decimal `json:"amount"`
	MobileNumber string          `json:"mobile_number"`
}

type verifyRequest struct {
	MerchantTransactionID string `json:"merchant_transaction_id" binding:"required"`
}

type webhookRequest struct {
	Response string `json:"response" binding:"required"`
}

type orderPayload struct {
	MerchantTransactionID string `json:"merchant_transaction_id"`
	UserID                string `json:"user_id"`
	AmountMinor           int64  `json:"amount_minor"`
	Amount                string `json:"amount"`
	Currency              string `json:"currency"`
	Status                string `json:"status"`
	GatewayTransactionID  string `json:"gateway_transaction_id,omitempty"`
	CreatedUnixUTC        int64  `json:"created_unix_utc"`
	UpdatedUnixUTC        int64  `json:"updated_unix_utc"`
}

type linePayload struct {
	EntryID        string `json:"entry_id"`
	Type           string `json:"type"`
	AmountMinor    int64  `json:"amount_minor"`
	Amount         string `json:"amount"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

type walletPayload struct {
	UserID       string        `json:"user_id"`
	AccountID    string        `json:"account_id,omitempty"`
	Currency     string        `json:"currency"`
	BalanceMinor int64         `json:"balance_minor"`
	Balance      string        `json:"balance"`
	Lines        []linePayload `json:"lines"`
}

type reportPayload struct {
	Examined         int `json:"examined"`
	Settled          int `json:"settled"`
	Failed           int `json:"failed"`
	Pending          int `json:"pending"`
	AlreadyProcessed int `json:"already_processed"`
	Deferred         int `json:"deferred"`
	Errors           int `json:"errors"`
}

func (handler *httpHandler) handleHealth(ctx *gin.Context) {
	if handler.deps.Health != nil {
		if err := handler.deps.Health.Ping(ctx.Request.Context()); err != nil {
			handler.logger.Warn("health check failed", zap.Error(err))
			ctx.JSON(http.StatusServiceUnavailable, errorResponse("store_unavailable", "store unreachable"))
			return
		}
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (handler *httpHandler) handleRecharge(ctx *gin.Context) {
	var request rechargeRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body with user_id and amount"))
		return
	}
	userID, err := ledger.NewUserID(request.UserID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_user_id", err.Error()))
		return
	}
	amount, err := toMinorUnits(request.Amount)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", "amount must be a positive value with at most two decimals"))
		return
	}
	order, intent, err := handler.deps.Coordinator.StartRecharge(ctx.Request.Context(), userID, amount, strings.TrimSpace(request.MobileNumber))
	if err != nil {
		switch {
		case errors.Is(err, settlement.ErrGatewayUnavailable):
			ctx.JSON(http.StatusBadGateway, errorResponse("gateway_error", "payment initiation failed"))
			return
		case errors.Is(err, ledger.ErrInvalidUserID), errors.Is(err, settlement.ErrInvalidMerchantTransactionID):
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_user_id", err.Error()))
			return
		case errors.Is(err, settlement.ErrOrderExists):
			ctx.JSON(http.StatusConflict, errorResponse("order_exists", "a recharge for this user was just opened, retry"))
			return
		}
		handler.logger.Error("recharge failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("recharge_failed", "failed to initiate recharge"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":                 true,
		"merchant_transaction_id": order.ID.String(),
		"redirect_url":            intent.RedirectURL,
		"order":                   toOrderPayload(order),
	})
}

func (handler *httpHandler) handleVerify(ctx *gin.Context) {
	var request verifyRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body with merchant_transaction_id"))
		return
	}
	id, err := settlement.NewMerchantTransactionID(request.MerchantTransactionID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_merchant_transaction_id", err.Error()))
		return
	}
	result, err := handler.deps.Coordinator.Verify(ctx.Request.Context(), id)
	if err != nil {
		handler.respondSettlementError(ctx, id, err)
		return
	}
	ctx.JSON(verifyStatusCode(result.Outcome), outcomeResponse(result))
}

func (handler *httpHandler) handleWebhook(ctx *gin.Context) {
	var request webhookRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body with response"))
		return
	}
	signature := ctx.GetHeader(headerVerify)
	if !handler.deps.Webhooks.VerifyWebhookSignature([]byte(request.Response), signature) {
		handler.logger.Warn("webhook signature rejected")
		ctx.JSON(http.StatusUnauthorized, errorResponse("invalid_signature", "signature verification failed"))
		return
	}
	requestCtx := ctx.Request.Context()
	if handler.deps.Dedupe.Seen(requestCtx, signature) {
		// acknowledged only; the first delivery carried the outcome
		ctx.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
		return
	}
	status, err := handler.deps.Webhooks.DecodeWebhook(request.Response)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "undecodable webhook response"))
		return
	}
	result, err := handler.deps.Coordinator.ApplyStatus(requestCtx, status)
	if err != nil {
		handler.respondSettlementError(ctx, status.MerchantTransactionID, err)
		return
	}
	if result.Outcome == settlement.OutcomeDeferred {
		// non-2xx makes the gateway redeliver
		ctx.JSON(http.StatusServiceUnavailable, outcomeResponse(result))
		return
	}
	if result.Outcome.Terminal() {
		handler.deps.Dedupe.Remember(requestCtx, signature)
	}
	ctx.JSON(http.StatusOK, outcomeResponse(result))
}

func (handler *httpHandler) handleReconcile(ctx *gin.Context) {
	report, err := handler.deps.Sweeper.Sweep(ctx.Request.Context())
	if err != nil {
		handler.logger.Error("manual reconcile failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("reconcile_failed", "reconciliation pass failed"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "report": reportPayload(report)})
}

func (handler *httpHandler) handleOrder(ctx *gin.Context) {
	id, err := settlement.NewMerchantTransactionID(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_merchant_transaction_id", err.Error()))
		return
	}
	order, err := handler.deps.Coordinator.Tracker().GetOrder(ctx.Request.Context(), id)
	if err != nil {
		handler.respondSettlementError(ctx, id, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": toOrderPayload(order)})
}

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	userID, err := ledger.NewUserID(ctx.Param("user_id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_user_id", err.Error()))
		return
	}
	requestCtx := ctx.Request.Context()
	wallet := walletPayload{UserID: userID.String(), Currency: ledger.DefaultCurrency, Balance: toMajorUnits(0), Lines: []linePayload{}}
	account, err := handler.deps.Ledger.GetAccountByOwnerAndType(requestCtx, userID, ledger.AccountTypeUserWallet)
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		// wallets are opened by the first settlement
		ctx.JSON(http.StatusOK, gin.H{"wallet": wallet})
		return
	case err != nil:
		handler.logger.Error("wallet fetch failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "wallet unavailable"))
		return
	}
	lines, err := handler.deps.Ledger.ListAccountLines(requestCtx, account.ID, handler.cfg.WalletHistoryLimit)
	if err != nil {
		handler.logger.Error("wallet history fetch failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "wallet unavailable"))
		return
	}
	wallet.AccountID = account.ID.String()
	wallet.Currency = account.Currency
	wallet.BalanceMinor = account.Balance.Int64()
	wallet.Balance = toMajorUnits(account.Balance.Int64())
	for _, line := range lines {
		wallet.Lines = append(wallet.Lines, linePayload{
			EntryID:        line.EntryID.String(),
			Type:           line.Type.String(),
			AmountMinor:    line.Amount.Int64(),
			Amount:         toMajorUnits(line.Amount.Int64()),
			CreatedUnixUTC: line.CreatedAt.UTC().Unix(),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": wallet})
}

func (handler *httpHandler) respondSettlementError(ctx *gin.Context, id settlement.MerchantTransactionID, err error) {
	switch {
	case errors.Is(err, settlement.ErrUnknownOrder):
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_order", fmt.Sprintf("order %s not found", id)))
	case errors.Is(err, settlement.ErrAmountMismatch):
		handler.logger.Warn("settlement amount mismatch", zap.String("merchant_transaction_id", id.String()), zap.Error(err))
		ctx.JSON(http.StatusConflict, errorResponse("amount_mismatch", "gateway amount does not match the order"))
	case errors.Is(err, settlement.ErrInvalidGatewayState):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_gateway_state", err.Error()))
	default:
		handler.logger.Error("settlement request failed", zap.String("merchant_transaction_id", id.String()), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("settlement_error", "settlement failed"))
	}
}

func verifyStatusCode(outcome settlement.Outcome) int {
	switch outcome {
	case settlement.OutcomeSettled, settlement.OutcomeAlreadyProcessed:
		return http.StatusOK
	case settlement.OutcomeFailed, settlement.OutcomeAlreadyFailed:
		return http.StatusBadRequest
	default:
		return http.StatusAccepted
	}
}

func outcomeResponse(result settlement.Result) gin.H {
	response := gin.H{
		"success":                 result.Outcome.Succeeded(),
		"merchant_transaction_id": result.MerchantTransactionID.String(),
		"outcome":                 result.Outcome,
	}
	if result.Cause != nil {
		response["retry"] = true
	}
	return response
}

func toOrderPayload(order settlement.PaymentOrder) orderPayload {
	return orderPayload{
		MerchantTransactionID: order.ID.String(),
		UserID:                order.UserID.String(),
		AmountMinor:           order.Amount.Int64(),
		Amount:                toMajorUnits(order.Amount.Int64()),
		Currency:              order.Currency,
		Status:                order.Status.String(),
		GatewayTransactionID:  order.GatewayTransactionID,
		CreatedUnixUTC:        order.CreatedAt.UTC().Unix(),
		UpdatedUnixUTC:        order.UpdatedAt.UTC().Unix(),
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
