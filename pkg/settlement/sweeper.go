package settlement

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultSweepInterval  = 10 * time.Minute
	DefaultSweepStaleness = 5 * time.Minute
	DefaultSweepBatchSize = 10
)

// SweepConfig controls reconciliation passes.
type SweepConfig struct {
	Interval       time.Duration
	Staleness      time.Duration
	BatchSize      int
	GatewayTimeout time.Duration
}

// DefaultSweepConfig returns the production sweep settings.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Interval:       DefaultSweepInterval,
		Staleness:      DefaultSweepStaleness,
		BatchSize:      DefaultSweepBatchSize,
		GatewayTimeout: defaultGatewayTimeout,
	}
}

func (config SweepConfig) withDefaults() SweepConfig {
	defaults := DefaultSweepConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Staleness <= 0 {
		config.Staleness = defaults.Staleness
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.GatewayTimeout <= 0 {
		config.GatewayTimeout = defaults.GatewayTimeout
	}
	return config
}

// SweepReport counts what one pass did.
type SweepReport struct {
	Examined         int
	Settled          int
	Failed           int
	Pending          int
	AlreadyProcessed int
	Deferred         int
	Errors           int
}

// Sweeper resolves orders that no webhook or user verification settled.
type Sweeper struct {
	coordinator *Coordinator
	config      SweepConfig
	logger      *zap.Logger
}

// NewSweeper wires a Sweeper. Zero config fields take their defaults.
func NewSweeper(coordinator *Coordinator, config SweepConfig, logger *zap.Logger) (*Sweeper, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("%w: coordinator dependency is nil", ErrInvalidSettlementConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{coordinator: coordinator, config: config.withDefaults(), logger: logger}, nil
}

// Config returns the effective sweep settings.
func (sweeper *Sweeper) Config() SweepConfig {
	return sweeper.config
}

// Sweep runs one reconciliation pass over stale CREATED orders. Per-order
// failures are logged and left for the next pass; only a failure to list
// orders is returned.
func (sweeper *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	orders, err := sweeper.coordinator.tracker.ListStalePending(ctx, sweeper.config.Staleness, sweeper.config.BatchSize)
	if err != nil {
		return report, err
	}
	for _, order := range orders {
		if ctx.Err() != nil {
			break
		}
		report.Examined++
		orderContext, cancel := context.WithTimeout(ctx, sweeper.config.GatewayTimeout)
		result, err := sweeper.coordinator.Verify(orderContext, order.ID)
		cancel()
		if err != nil {
			report.Errors++
			sweeper.logger.Warn("reconcile order failed",
				zap.String("merchant_transaction_id", order.ID.String()),
				zap.Error(err))
			continue
		}
		switch result.Outcome {
		case OutcomeSettled:
			report.Settled++
		case OutcomeFailed:
			report.Failed++
		case OutcomePending:
			report.Pending++
		case OutcomeAlreadyProcessed, OutcomeAlreadyFailed:
			report.AlreadyProcessed++
		case OutcomeDeferred:
			report.Deferred++
			sweeper.logger.Warn("reconcile order deferred",
				zap.String("merchant_transaction_id", order.ID.String()),
				zap.Error(result.Cause))
		}
	}
	sweeper.logger.Info("reconcile pass finished",
		zap.Int("examined", report.Examined),
		zap.Int("settled", report.Settled),
		zap.Int("failed", report.Failed),
		zap.Int("pending", report.Pending),
		zap.Int("deferred", report.Deferred),
		zap.Int("errors", report.Errors))
	return report, nil
}

// Run sweeps every Interval until ctx is done.
func (sweeper *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(sweeper.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := sweeper.Sweep(ctx); err != nil {
				sweeper.logger.Error("reconcile pass aborted", zap.Error(err))
			}
		}
	}
}
