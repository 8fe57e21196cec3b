package phonepe

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
)

const (
	testMerchantID  = "MERCHANTUAT"
	testSaltKey     = "salt-key"
	testSaltIndex   = "2"
	testRedirectURL = "https://app.example.com/payment/status"
	testCallbackURL = "https://api.example.com/api/payments/webhook"
	testOrderID     = "WT_1709287200000_42"
)

func expectedChecksum(material string) string {
	digest := sha256.Sum256([]byte(material + testSaltKey))
	return hex.EncodeToString(digest[:]) + "###" + testSaltIndex
}

func newTestClient(test *testing.T, apiURL string) *Client {
	test.Helper()
	client, err := NewClient(Config{
		MerchantID:  testMerchantID,
		SaltKey:     testSaltKey,
		SaltIndex:   testSaltIndex,
		APIURL:      apiURL + "/",
		RedirectURL: testRedirectURL,
		CallbackURL: testCallbackURL,
	})
	if err != nil {
		test.Fatalf("new client: %v", err)
	}
	return client
}

func mustOrderID(test *testing.T) settlement.MerchantTransactionID {
	test.Helper()
	id, err := settlement.NewMerchantTransactionID(testOrderID)
	if err != nil {
		test.Fatalf("order id: %v", err)
	}
	return id
}

func TestInitiatePaymentSignsEncodedPayload(test *testing.T) {
	test.Parallel()
	var received payPayload
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPost || request.URL.Path != "/pg/v1/pay" {
			test.Errorf("unexpected request %s %s", request.Method, request.URL.Path)
		}
		var body payRequestBody
		if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
			test.Errorf("decode body: %v", err)
		}
		if got := request.Header.Get("X-VERIFY"); got != expectedChecksum(body.Request+"/pg/v1/pay") {
			test.Errorf("unexpected checksum %q", got)
		}
		decoded, err := base64.StdEncoding.DecodeString(body.Request)
		if err != nil {
			test.Errorf("decode request: %v", err)
		}
		if err := json.Unmarshal(decoded, &received); err != nil {
			test.Errorf("unmarshal payload: %v", err)
		}
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"success":true,"code":"PAYMENT_INITIATED","data":{"instrumentResponse":{"redirectInfo":{"url":"https://pay.example.com/session/1"}}}}`))
	}))
	defer server.Close()

	client := newTestClient(test, server.URL)
	userID, err := ledger.NewUserID("42")
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	amount, err := ledger.NewPositiveAmount(50000)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	intent, err := client.InitiatePayment(context.Background(), settlement.PaymentRequest{
		MerchantTransactionID: mustOrderID(test),
		UserID:                userID,
		Amount:                amount,
		MobileNumber:          "9999999999",
	})
	if err != nil {
		test.Fatalf("initiate: %v", err)
	}
	if intent.RedirectURL != "https://pay.example.com/session/1" {
		test.Fatalf("unexpected redirect %q", intent.RedirectURL)
	}
	if received.MerchantID != testMerchantID || received.MerchantUserID != "USER_42" || received.Amount != 50000 {
		test.Fatalf("unexpected payload %+v", received)
	}
	if received.RedirectMode != "POST" || received.PaymentInstrument.Type != "PAY_PAGE" || received.CallbackURL != testCallbackURL {
		test.Fatalf("unexpected payload %+v", received)
	}
}

func TestInitiatePaymentRejectsUnsuccessfulResponse(test *testing.T) {
	test.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		_, _ = writer.Write([]byte(`{"success":false,"code":"BAD_REQUEST"}`))
	}))
	defer server.Close()

	client := newTestClient(test, server.URL)
	_, err := client.InitiatePayment(context.Background(), settlement.PaymentRequest{MerchantTransactionID: mustOrderID(test), Amount: 100})
	if !errors.Is(err, ErrMalformedResponse) {
		test.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestGetOrderStatusMapsStates(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name          string
		body          string
		expectedState settlement.GatewayState
		expectedTxn   string
		expectedPaise ledger.PositiveAmount
	}{
		{
			name:          "completed",
			body:          `{"success":true,"code":"PAYMENT_SUCCESS","data":{"transactionId":"T1","amount":50000,"state":"COMPLETED"}}`,
			expectedState: settlement.GatewayCompleted,
			expectedTxn:   "T1",
			expectedPaise: 50000,
		},
		{
			name:          "failed",
			body:          `{"success":false,"code":"PAYMENT_ERROR","data":{"transactionId":"T2","amount":50000,"state":"FAILED"}}`,
			expectedState: settlement.GatewayFailed,
			expectedTxn:   "T2",
			expectedPaise: 50000,
		},
		{
			name:          "pending",
			body:          `{"success":true,"code":"PAYMENT_PENDING","data":{"state":"PENDING"}}`,
			expectedState: settlement.GatewayPending,
		},
		{
			name:          "completed without success flag stays pending",
			body:          `{"success":false,"code":"INTERNAL_SERVER_ERROR","data":{"state":"COMPLETED"}}`,
			expectedState: settlement.GatewayPending,
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			expectedPath := "/pg/v1/status/" + testMerchantID + "/" + testOrderID
			server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
				if request.URL.Path != expectedPath {
					test.Errorf("unexpected path %q", request.URL.Path)
				}
				if got := request.Header.Get("X-VERIFY"); got != expectedChecksum(expectedPath) {
					test.Errorf("unexpected checksum %q", got)
				}
				if got := request.Header.Get("X-MERCHANT-ID"); got != testMerchantID {
					test.Errorf("unexpected merchant header %q", got)
				}
				_, _ = writer.Write([]byte(testCase.body))
			}))
			defer server.Close()

			status, err := newTestClient(test, server.URL).GetOrderStatus(context.Background(), mustOrderID(test))
			if err != nil {
				test.Fatalf("status: %v", err)
			}
			if status.State != testCase.expectedState || status.GatewayTransactionID != testCase.expectedTxn || status.Amount != testCase.expectedPaise {
				test.Fatalf("unexpected status %+v", status)
			}
			if status.MerchantTransactionID.String() != testOrderID {
				test.Fatalf("unexpected id %q", status.MerchantTransactionID)
			}
		})
	}
}

func TestGetOrderStatusSurfacesHTTPFailures(test *testing.T) {
	test.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestClient(test, server.URL).GetOrderStatus(context.Background(), mustOrderID(test))
	if !errors.Is(err, ErrUnexpectedStatus) {
		test.Fatalf("expected ErrUnexpectedStatus, got %v", err)
	}
}

func TestWebhookSignatureAndDecode(test *testing.T) {
	test.Parallel()
	client := newTestClient(test, "https://gateway.invalid")
	callback := `{"success":true,"code":"PAYMENT_SUCCESS","data":{"merchantTransactionId":"` + testOrderID + `","transactionId":"T1","amount":50000,"state":"COMPLETED"}}`
	response := base64.StdEncoding.EncodeToString([]byte(callback))

	if !client.VerifyWebhookSignature([]byte(response), expectedChecksum(response)) {
		test.Fatalf("expected signature to verify")
	}
	if client.VerifyWebhookSignature([]byte(response), expectedChecksum(response+"x")) {
		test.Fatalf("expected tampered signature to fail")
	}
	if client.VerifyWebhookSignature([]byte(response), "") {
		test.Fatalf("expected empty signature to fail")
	}

	status, err := client.DecodeWebhook(response)
	if err != nil {
		test.Fatalf("decode: %v", err)
	}
	if status.State != settlement.GatewayCompleted || status.Amount != 50000 || status.MerchantTransactionID.String() != testOrderID {
		test.Fatalf("unexpected status %+v", status)
	}
}

func TestDecodeWebhookRejectsGarbage(test *testing.T) {
	test.Parallel()
	client := newTestClient(test, "https://gateway.invalid")
	testCases := map[string]string{
		"not base64":     "%%%",
		"not json":       base64.StdEncoding.EncodeToString([]byte("nope")),
		"missing order":  base64.StdEncoding.EncodeToString([]byte(`{"success":true,"data":{"state":"COMPLETED"}}`)),
		"negative money": base64.StdEncoding.EncodeToString([]byte(`{"success":true,"data":{"merchantTransactionId":"A1","state":"COMPLETED","amount":-5}}`)),
	}
	for name, response := range testCases {
		if _, err := client.DecodeWebhook(response); err == nil {
			test.Fatalf("%s: expected error", name)
		}
	}
}

func TestNewClientValidatesConfig(test *testing.T) {
	test.Parallel()
	if _, err := NewClient(Config{SaltKey: testSaltKey}); !errors.Is(err, ErrInvalidConfig) {
		test.Fatalf("expected ErrInvalidConfig for missing merchant, got %v", err)
	}
	if _, err := NewClient(Config{MerchantID: testMerchantID}); !errors.Is(err, ErrInvalidConfig) {
		test.Fatalf("expected ErrInvalidConfig for missing salt, got %v", err)
	}
	client, err := NewClient(Config{MerchantID: testMerchantID, SaltKey: testSaltKey})
	if err != nil {
		test.Fatalf("new client: %v", err)
	}
	if client.config.APIURL != DefaultAPIURL || client.config.SaltIndex != "1" {
		test.Fatalf("unexpected defaults %+v", client.config)
	}
}
