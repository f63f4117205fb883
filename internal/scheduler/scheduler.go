package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/daddykev/stardust-dsp/internal/clock"
	obsmetrics "github.com/daddykev/stardust-dsp/internal/observability/metrics"
	reportservice "github.com/daddykev/stardust-dsp/internal/report/service"
	royaltyservice "github.com/daddykev/stardust-dsp/internal/royalty/service"
	usageservice "github.com/daddykev/stardust-dsp/internal/usage/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Aggregator *usageservice.Aggregator
	Engine     *royaltyservice.Engine
	Payments   *royaltyservice.Payments
	Dispatcher *reportservice.Dispatcher
	Config     Config `optional:"true"`
}

// Scheduler drives the periodic half of the system: usage aggregation,
// statement generation, payment runs and report dispatch. Single-flight by
// construction; one loop runs all jobs in order.
type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	aggregator *usageservice.Aggregator
	engine     *royaltyservice.Engine
	payments   *royaltyservice.Payments
	dispatcher *reportservice.Dispatcher
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Aggregator == nil || p.Engine == nil || p.Payments == nil || p.Dispatcher == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		aggregator: p.Aggregator,
		engine:     p.Engine,
		payments:   p.Payments,
		dispatcher: p.Dispatcher,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}
	schedMetrics.IncJobError(name)

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{aggregateJobName, s.AggregateUsageJob},
		{"generate_statements", s.GenerateStatementsJob},
		{"process_payments", s.ProcessPaymentsJob},
		{"dispatch_reports", s.DispatchReportsJob},
		{"retry_reports", s.RetryReportsJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty list means every job runs (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

const aggregateJobName = "aggregate_usage"

// AggregateUsageJob folds new play events into daily aggregates on the
// AggregateInterval cadence. The window start is a persisted watermark, so
// each run picks up where the last one ended even across restarts; windows
// must never overlap because aggregate counters sum on merge. The first run
// ever reads the configured lookback.
func (s *Scheduler) AggregateUsageJob(ctx context.Context) error {
	now := s.clock.Now()
	from, err := s.loadWatermark(ctx, aggregateJobName)
	if err != nil {
		return err
	}
	if from.IsZero() {
		from = now.Add(-s.cfg.AggregateLookback)
	} else if now.Sub(from) < s.cfg.AggregateInterval {
		return nil
	}
	merged, err := s.aggregator.AggregateWindow(ctx, from, now)
	if err != nil {
		return err
	}
	if err := s.saveWatermark(ctx, aggregateJobName, now); err != nil {
		return err
	}
	if merged > 0 {
		s.log.Info("usage aggregated", zap.Int("aggregates", merged))
	}
	return nil
}

// GenerateStatementsJob issues last month's draft statement once the
// statement day arrives. At most one statement per period and method.
func (s *Scheduler) GenerateStatementsJob(ctx context.Context) error {
	now := s.clock.Now()
	if now.Day() < s.cfg.StatementDay {
		return nil
	}
	period := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).
		AddDate(0, -1, 0).Format("2006-01")

	var existing int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM royalty_statements WHERE period = ? AND method = ?`,
		period, s.cfg.StatementMethod,
	).Scan(&existing).Error
	if err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}

	var streams int64
	err = s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(plays), 0) FROM daily_aggregates WHERE date LIKE ?`,
		period+"%",
	).Scan(&streams).Error
	if err != nil {
		return err
	}
	if streams == 0 {
		// Idle month, nothing to distribute.
		return nil
	}

	statement, err := s.engine.Calculate(ctx, royaltyservice.CalculationRequest{
		Period: period,
		Method: s.cfg.StatementMethod,
	})
	if err != nil {
		return err
	}
	s.log.Info("monthly statement issued",
		zap.String("period", period),
		zap.Int64("statement_id", int64(statement.ID)),
	)
	return nil
}

func (s *Scheduler) ProcessPaymentsJob(ctx context.Context) error {
	_, err := s.payments.ProcessApproved(ctx)
	return err
}

func (s *Scheduler) DispatchReportsJob(ctx context.Context) error {
	_, err := s.dispatcher.DispatchDue(ctx)
	return err
}

func (s *Scheduler) RetryReportsJob(ctx context.Context) error {
	_, err := s.dispatcher.RetryFailed(ctx)
	return err
}
