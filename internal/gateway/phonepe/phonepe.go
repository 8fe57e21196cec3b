package phonepe

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
)

const (
	// DefaultAPIURL is the production PhonePe host.
	DefaultAPIURL       = "https://api.phonepe.com/apis/hermes"
	defaultSaltIndex    = "1"
	defaultHTTPTimeout  = 15 * time.Second
	payPath             = "/pg/v1/pay"
	statusPathPrefix    = "/pg/v1/status/"
	checksumSeparator   = "###"
	headerVerify        = "X-VERIFY"
	headerMerchantID    = "X-MERCHANT-ID"
	redirectModePost    = "POST"
	instrumentPayPage   = "PAY_PAGE"
	merchantUserPrefix  = "USER_"
	stateCompleted      = "COMPLETED"
	stateFailed         = "FAILED"
	maxResponseBodySize = 1 << 20
)

// Errors returned by the PhonePe client.
var (
	ErrInvalidConfig     = errors.New("invalid phonepe config")
	ErrUnexpectedStatus  = errors.New("unexpected phonepe response status")
	ErrMalformedResponse = errors.New("malformed phonepe response")
	ErrInvalidWebhook    = errors.New("invalid phonepe webhook")
)

// Config holds merchant credentials and callback endpoints.
type Config struct {
	MerchantID  string
	SaltKey     string
	SaltIndex   string
	APIURL      string
	RedirectURL string
	CallbackURL string
}

func (config Config) withDefaults() Config {
	if strings.TrimSpace(config.SaltIndex) == "" {
		config.SaltIndex = defaultSaltIndex
	}
	if strings.TrimSpace(config.APIURL) == "" {
		config.APIURL = DefaultAPIURL
	}
	config.APIURL = strings.TrimRight(config.APIURL, "/")
	return config
}

// Validate reports missing credentials.
func (config Config) Validate() error {
	switch {
	case strings.TrimSpace(config.MerchantID) == "":
		return fmt.Errorf("%w: merchant id is required", ErrInvalidConfig)
	case strings.TrimSpace(config.SaltKey) == "":
		return fmt.Errorf("%w: salt key is required", ErrInvalidConfig)
	}
	return nil
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *Client) {
		if httpClient != nil {
			client.httpClient = httpClient
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(client *Client) {
		if logger != nil {
			client.logger = logger
		}
	}
}

// Client talks to the PhonePe pay page API. It implements settlement.Gateway.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
}

var _ settlement.Gateway = (*Client)(nil)

// NewClient validates the config and builds a Client.
func NewClient(config Config, options ...Option) (*Client, error) {
	config = config.withDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	client := &Client{
		config:     config,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client, nil
}

type payPayload struct {
	MerchantID            string            `json:"merchantId"`
	MerchantTransactionID string            `json:"merchantTransactionId"`
	MerchantUserID        string            `json:"merchantUserId"`
	Amount                int64             `json:"amount"`
	RedirectURL           string            `json:"redirectUrl"`
	RedirectMode          string            `json:"redirectMode"`
	CallbackURL           string            `json:"callbackUrl"`
	MobileNumber          string            `json:"mobileNumber,omitempty"`
	PaymentInstrument     paymentInstrument `json:"paymentInstrument"`
}

type paymentInstrument struct {
	Type string `json:"type"`
}

type payRequestBody struct {
	Request string `json:"request"`
}

type payResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		InstrumentResponse struct {
			RedirectInfo struct {
				URL string `json:"url"`
			} `json:"redirectInfo"`
		} `json:"instrumentResponse"`
	} `json:"data"`
}

type statusData struct {
	MerchantTransactionID string `json:"merchantTransactionId"`
	TransactionID         string `json:"transactionId"`
	Amount                int64  `json:"amount"`
	State                 string `json:"state"`
}

type statusResponse struct {
	Success bool       `json:"success"`
	Code    string     `json:"code"`
	Message string     `json:"message"`
	Data    statusData `json:"data"`
}

// InitiatePayment creates a pay page session and returns its redirect URL.
func (client *Client) InitiatePayment(ctx context.Context, request settlement.PaymentRequest) (settlement.PaymentIntent, error) {
	payload, err := json.Marshal(payPayload{
		MerchantID:            client.config.MerchantID,
		MerchantTransactionID: request.MerchantTransactionID.String(),
		MerchantUserID:        merchantUserPrefix + request.UserID.String(),
		Amount:                request.Amount.Int64(),
		RedirectURL:           client.config.RedirectURL,
		RedirectMode:          redirectModePost,
		CallbackURL:           client.config.CallbackURL,
		MobileNumber:          request.MobileNumber,
		PaymentInstrument:     paymentInstrument{Type: instrumentPayPage},
	})
	if err != nil {
		return settlement.PaymentIntent{}, err
	}
	encoded := base64.StdEncoding.EncodeToString(payload)
	body, err := json.Marshal(payRequestBody{Request: encoded})
	if err != nil {
		return settlement.PaymentIntent{}, err
	}
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, client.config.APIURL+payPath, bytes.NewReader(body))
	if err != nil {
		return settlement.PaymentIntent{}, err
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set(headerVerify, client.checksum(encoded+payPath))

	raw, err := client.do(httpRequest)
	if err != nil {
		return settlement.PaymentIntent{}, err
	}
	var response payResponse
	if err := json.Unmarshal(raw, &response); err != nil {
		return settlement.PaymentIntent{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	redirectURL := response.Data.InstrumentResponse.RedirectInfo.URL
	if !response.Success || redirectURL == "" {
		return settlement.PaymentIntent{}, fmt.Errorf("%w: pay returned code %q", ErrMalformedResponse, response.Code)
	}
	client.logger.Debug("phonepe pay session created",
		zap.String("merchant_transaction_id", request.MerchantTransactionID.String()))
	return settlement.PaymentIntent{RedirectURL: redirectURL, Payload: raw}, nil
}

// GetOrderStatus queries the status endpoint for one order.
func (client *Client) GetOrderStatus(ctx context.Context, id settlement.MerchantTransactionID) (settlement.GatewayStatus, error) {
	path := statusPathPrefix + client.config.MerchantID + "/" + id.String()
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, client.config.APIURL+path, nil)
	if err != nil {
		return settlement.GatewayStatus{}, err
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set(headerVerify, client.checksum(path))
	httpRequest.Header.Set(headerMerchantID, client.config.MerchantID)

	raw, err := client.do(httpRequest)
	if err != nil {
		return settlement.GatewayStatus{}, err
	}
	var response statusResponse
	if err := json.Unmarshal(raw, &response); err != nil {
		return settlement.GatewayStatus{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return toGatewayStatus(id, response.Success, response.Data, raw)
}

// VerifyWebhookSignature checks X-VERIFY against the base64 response field.
func (client *Client) VerifyWebhookSignature(payload []byte, signature string) bool {
	expected := client.checksum(string(payload))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.TrimSpace(signature))) == 1
}

// DecodeWebhook turns the base64 response field of a callback into a status
// report. The signature must be verified first.
func (client *Client) DecodeWebhook(response string) (settlement.GatewayStatus, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(response))
	if err != nil {
		return settlement.GatewayStatus{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	var callback statusResponse
	if err := json.Unmarshal(decoded, &callback); err != nil {
		return settlement.GatewayStatus{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	id, err := settlement.NewMerchantTransactionID(callback.Data.MerchantTransactionID)
	if err != nil {
		return settlement.GatewayStatus{}, fmt.Errorf("%w: %w", ErrInvalidWebhook, err)
	}
	return toGatewayStatus(id, callback.Success, callback.Data, decoded)
}

func toGatewayStatus(id settlement.MerchantTransactionID, success bool, data statusData, raw []byte) (settlement.GatewayStatus, error) {
	status := settlement.GatewayStatus{
		MerchantTransactionID: id,
		GatewayTransactionID:  data.TransactionID,
		Payload:               json.RawMessage(raw),
	}
	switch {
	case success && strings.EqualFold(data.State, stateCompleted):
		status.State = settlement.GatewayCompleted
	case strings.EqualFold(data.State, stateFailed):
		status.State = settlement.GatewayFailed
	default:
		status.State = settlement.GatewayPending
	}
	if data.Amount != 0 {
		amount, err := ledger.NewPositiveAmount(data.Amount)
		if err != nil {
			return settlement.GatewayStatus{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
		status.Amount = amount
	}
	return status, nil
}

func (client *Client) checksum(material string) string {
	digest := sha256.Sum256([]byte(material + client.config.SaltKey))
	return hex.EncodeToString(digest[:]) + checksumSeparator + client.config.SaltIndex
}

func (client *Client) do(httpRequest *http.Request) ([]byte, error) {
	response, err := client.httpClient.Do(httpRequest)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBodySize))
	if err != nil {
		return nil, err
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		client.logger.Warn("phonepe request rejected",
			zap.String("path", httpRequest.URL.Path),
			zap.Int("status", response.StatusCode))
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, response.StatusCode)
	}
	return raw, nil
}
