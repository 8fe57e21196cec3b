package httpapi

import (
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
)

const callbackTemplateName = "payment_status"

var callbackTemplate = template.Must(template.New(callbackTemplateName).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Payment Status</title>
</head>
<body>
<main>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{if .MerchantTransactionID}}<p>ID: {{.MerchantTransactionID}}</p>{{end}}
<a href="/">Back to Home</a>
</main>
</body>
</html>`))

type callbackPage struct {
	Title                 string
	Message               string
	MerchantTransactionID string
}

// handleCallback renders the page the gateway redirects the browser to after
// checkout. Open orders are verified first; the page never reports success
// for an order that has not settled.
func (handler *httpHandler) handleCallback(ctx *gin.Context) {
	raw := firstNonEmpty(ctx.Query("merchantTransactionId"), ctx.PostForm("merchantTransactionId"), ctx.PostForm("transactionId"))
	id, err := settlement.NewMerchantTransactionID(raw)
	if err != nil {
		ctx.HTML(http.StatusBadRequest, callbackTemplateName, callbackPage{
			Title:   "Payment not found",
			Message: "The payment reference is missing or malformed.",
		})
		return
	}
	result, err := handler.deps.Coordinator.Verify(ctx.Request.Context(), id)
	switch {
	case errors.Is(err, settlement.ErrUnknownOrder):
		ctx.HTML(http.StatusNotFound, callbackTemplateName, callbackPage{
			Title:                 "Payment not found",
			Message:               "We have no record of this payment.",
			MerchantTransactionID: id.String(),
		})
	case err != nil:
		handler.logger.Warn("callback verification failed", zap.String("merchant_transaction_id", id.String()), zap.Error(err))
		ctx.HTML(http.StatusOK, callbackTemplateName, callbackPageFor(settlement.OutcomePending, id))
	default:
		ctx.HTML(http.StatusOK, callbackTemplateName, callbackPageFor(result.Outcome, id))
	}
}

func callbackPageFor(outcome settlement.Outcome, id settlement.MerchantTransactionID) callbackPage {
	page := callbackPage{MerchantTransactionID: id.String()}
	switch {
	case outcome.Succeeded():
		page.Title = "Payment Successful!"
		page.Message = "Your wallet has been credited."
	case outcome == settlement.OutcomeFailed || outcome == settlement.OutcomeAlreadyFailed:
		page.Title = "Payment Failed"
		page.Message = "The payment did not go through. No money was added to your wallet."
	default:
		page.Title = "Payment Processing"
		page.Message = "Your payment is being confirmed. Your wallet balance will be updated shortly."
	}
	return page
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
