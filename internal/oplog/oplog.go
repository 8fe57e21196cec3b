package oplog

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
)

const statusError = "error"

// ZapLogger reports ledger operations as structured log lines.
type ZapLogger struct {
	logger *zap.Logger
}

var _ ledger.OperationLogger = (*ZapLogger)(nil)

// New wraps logger. A nil logger discards everything.
func New(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger.Named("ledger")}
}

// LogOperation writes one line per operation; failures are logged at warn.
func (zapLogger *ZapLogger) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	level := zapcore.InfoLevel
	if entry.Status == statusError || entry.Error != nil {
		level = zapcore.WarnLevel
	}
	checked := zapLogger.logger.Check(level, "ledger operation")
	if checked == nil {
		return
	}
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if value := entry.TransactionID.String(); value != "" {
		fields = append(fields, zap.String("transaction_id", value))
	}
	if value := entry.AccountID.String(); value != "" {
		fields = append(fields, zap.String("account_id", value))
	}
	if entry.ReferenceType != "" {
		fields = append(fields, zap.String("reference_type", entry.ReferenceType), zap.String("reference_id", entry.ReferenceID))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount", entry.Amount.Int64()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
	}
	checked.Write(fields...)
}
