package oplog

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
)

func TestLogOperationWritesFields(test *testing.T) {
	test.Parallel()
	core, recorded := observer.New(zapcore.InfoLevel)
	logger := New(zap.New(core))
	transactionID, err := ledger.NewTransactionID("LEDGER_WT_42_1")
	if err != nil {
		test.Fatalf("transaction id: %v", err)
	}

	logger.LogOperation(context.Background(), ledger.OperationLog{
		Operation:     "post_transaction",
		TransactionID: transactionID,
		ReferenceType: "PAYMENT_ORDER",
		ReferenceID:   "WT_42_1",
		Amount:        50000,
		Status:        "ok",
	})

	entries := recorded.All()
	if len(entries) != 1 {
		test.Fatalf("expected one entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[0].LoggerName != "ledger" {
		test.Fatalf("unexpected entry %+v", entries[0])
	}
	fields := entries[0].ContextMap()
	if fields["transaction_id"] != "LEDGER_WT_42_1" || fields["amount"] != int64(50000) || fields["reference_id"] != "WT_42_1" {
		test.Fatalf("unexpected fields %v", fields)
	}
	if _, ok := fields["account_id"]; ok {
		test.Fatalf("expected empty account id to be omitted")
	}
}

func TestLogOperationWarnsOnFailure(test *testing.T) {
	test.Parallel()
	core, recorded := observer.New(zapcore.InfoLevel)
	logger := New(zap.New(core))

	logger.LogOperation(context.Background(), ledger.OperationLog{
		Operation: "post_transaction",
		Status:    "error",
		Error:     errors.New("boom"),
	})

	entries := recorded.FilterLevelExact(zapcore.WarnLevel).All()
	if len(entries) != 1 {
		test.Fatalf("expected one warn entry, got %d", recorded.Len())
	}
	if entries[0].ContextMap()["error"] != "boom" {
		test.Fatalf("unexpected fields %v", entries[0].ContextMap())
	}
}

func TestNewToleratesNilLogger(test *testing.T) {
	test.Parallel()
	New(nil).LogOperation(context.Background(), ledger.OperationLog{Operation: "post_transaction", Status: "ok"})
}
