package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
)

const (
	reconcileKind       = "reconcile_pending_orders"
	reconcileMaxWorkers = 1
	stopTimeout         = 10 * time.Second
)

// ReconcileArgs schedules one reconciliation pass.
type ReconcileArgs struct{}

// Kind names the job in river's queue.
func (ReconcileArgs) Kind() string { return reconcileKind }

// Sweeper runs one reconciliation pass.
type Sweeper interface {
	Sweep(ctx context.Context) (settlement.SweepReport, error)
}

// ReconcileWorker runs the sweeper for each scheduled job. A pass that cannot
// list orders fails the job so river retries it.
type ReconcileWorker struct {
	river.WorkerDefaults[ReconcileArgs]
	sweeper Sweeper
	timeout time.Duration
	logger  *zap.Logger
}

// NewReconcileWorker wires a worker; timeout bounds one pass.
func NewReconcileWorker(sweeper Sweeper, timeout time.Duration, logger *zap.Logger) *ReconcileWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconcileWorker{sweeper: sweeper, timeout: timeout, logger: logger}
}

// Timeout bounds a single pass.
func (worker *ReconcileWorker) Timeout(*river.Job[ReconcileArgs]) time.Duration {
	return worker.timeout
}

// Work runs one pass.
func (worker *ReconcileWorker) Work(ctx context.Context, job *river.Job[ReconcileArgs]) error {
	report, err := worker.sweeper.Sweep(ctx)
	if err != nil {
		worker.logger.Warn("scheduled reconcile failed", zap.Error(err))
		return fmt.Errorf("reconcile pass: %w", err)
	}
	worker.logger.Debug("scheduled reconcile finished",
		zap.Int("examined", report.Examined),
		zap.Int("settled", report.Settled),
		zap.Int("failed", report.Failed))
	return nil
}

// PeriodicJobs schedules a reconcile job every interval, starting at boot.
// Jobs are unique per interval so several daemons share one pass.
func PeriodicJobs(interval time.Duration) []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(interval),
			func() (river.JobArgs, *river.InsertOpts) {
				return ReconcileArgs{}, &river.InsertOpts{UniqueOpts: river.UniqueOpts{ByPeriod: interval}}
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}

// Migrate applies river's schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("river migrate up: %w", err)
	}
	return nil
}

// NewClient builds a river client that only runs the reconcile worker.
func NewClient(pool *pgxpool.Pool, worker *ReconcileWorker, interval time.Duration) (*river.Client[pgx.Tx], error) {
	workers := river.NewWorkers()
	river.AddWorker(workers, worker)
	return river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: reconcileMaxWorkers},
		},
		Workers:      workers,
		PeriodicJobs: PeriodicJobs(interval),
	})
}

// Run migrates, starts the river client and blocks until ctx is done.
func Run(ctx context.Context, pool *pgxpool.Pool, sweeper Sweeper, config settlement.SweepConfig, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := Migrate(ctx, pool); err != nil {
		return err
	}
	client, err := NewClient(pool, NewReconcileWorker(sweeper, config.GatewayTimeout*time.Duration(config.BatchSize+1), logger), config.Interval)
	if err != nil {
		return fmt.Errorf("river client: %w", err)
	}
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("river start: %w", err)
	}
	logger.Info("river reconcile scheduler started", zap.Duration("interval", config.Interval))
	<-ctx.Done()

	stopContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if err := client.Stop(stopContext); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("river stop: %w", err)
	}
	return nil
}
