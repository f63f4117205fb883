package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/daddykev/stardust-dsp/internal/clock"
	"github.com/daddykev/stardust-dsp/internal/config"
	reportdomain "github.com/daddykev/stardust-dsp/internal/report/domain"
	"github.com/daddykev/stardust-dsp/internal/report/transport"
	"github.com/daddykev/stardust-dsp/internal/storage"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type DispatcherParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Cfg      config.Config
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     reportdomain.Repository
	Store    storage.ObjectStore
	Registry *transport.Registry
}

// Dispatcher moves pending reports out the door and sweeps failed ones back
// in. Every attempt, first or retried, lands in the report_deliveries audit.
type Dispatcher struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       reportdomain.Repository
	store      storage.ObjectStore
	registry   *transport.Registry
	maxRetries int
	baseDelay  time.Duration
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	return &Dispatcher{
		db:         p.DB,
		log:        p.Log.Named("report.dispatcher"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		store:      p.Store,
		registry:   p.Registry,
		maxRetries: p.Cfg.Report.MaxRetries,
		baseDelay:  p.Cfg.Report.RetryBaseDelay,
	}
}

// DispatchDue sends every pending report whose scheduled time has passed. A
// failed send flips the report to failed; the retry sweep owns it from there.
func (d *Dispatcher) DispatchDue(ctx context.Context) (int, error) {
	reports, err := d.repo.ListDue(ctx, d.db, d.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("list due reports: %w", err)
	}

	sent := 0
	for i := range reports {
		r := &reports[i]
		if err := d.attempt(ctx, r); err != nil {
			d.markFailed(ctx, r, err)
			continue
		}
		d.markSent(ctx, r)
		sent++
	}
	return sent, nil
}

// RetryFailed re-attempts failed reports that still have retry budget,
// backing off exponentially between attempts within the run. Reports that
// exhaust the budget stay failed and drop out of the sweep.
func (d *Dispatcher) RetryFailed(ctx context.Context) (int, error) {
	reports, err := d.repo.ListRetryable(ctx, d.db, d.maxRetries)
	if err != nil {
		return 0, fmt.Errorf("list retryable reports: %w", err)
	}

	recovered := 0
	for i := range reports {
		r := &reports[i]
		if err := d.backoff(ctx, r.RetryCount); err != nil {
			return recovered, err
		}

		attemptErr := d.attempt(ctx, r)
		r.RetryCount++
		if attemptErr != nil {
			d.markFailed(ctx, r, attemptErr)
			continue
		}
		d.markSent(ctx, r)
		recovered++
	}
	return recovered, nil
}

// attempt resolves the transport, pulls the artifact back out of storage and
// sends it, recording the audit row either way.
func (d *Dispatcher) attempt(ctx context.Context, r *reportdomain.Report) error {
	dest := r.DestinationSpec()

	err := func() error {
		t, err := d.registry.Get(dest.Transport)
		if err != nil {
			return err
		}
		payload, err := d.downloadArtifact(ctx, r)
		if err != nil {
			return err
		}
		return t.Send(ctx, transport.Artifact{
			Report:      r,
			Payload:     payload,
			ContentType: contentTypeFor(r.Format),
		})
	}()

	audit := &reportdomain.ReportDelivery{
		ID:          d.genID.Generate(),
		ReportID:    r.ID,
		Transport:   dest.Transport,
		Attempt:     r.RetryCount + 1,
		Success:     err == nil,
		AttemptedAt: d.clock.Now(),
	}
	if err != nil {
		audit.Error = err.Error()
	}
	if auditErr := d.repo.InsertDelivery(ctx, d.db, audit); auditErr != nil {
		d.log.Error("report delivery audit write failed",
			zap.Int64("report_id", int64(r.ID)),
			zap.Error(auditErr),
		)
	}
	return err
}

func (d *Dispatcher) downloadArtifact(ctx context.Context, r *reportdomain.Report) ([]byte, error) {
	rc, err := d.store.Download(ctx, r.Bucket, r.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("download artifact %s/%s: %w", r.Bucket, r.ObjectKey, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (d *Dispatcher) markSent(ctx context.Context, r *reportdomain.Report) {
	now := d.clock.Now()
	fields := map[string]any{
		"delivery_status": reportdomain.DeliverySent,
		"retry_count":     r.RetryCount,
		"delivered_at":    &now,
		"updated_at":      now,
	}
	if err := d.repo.UpdateReportFields(ctx, d.db, r.ID, fields); err != nil {
		d.log.Error("report status update failed",
			zap.Int64("report_id", int64(r.ID)),
			zap.Error(err),
		)
		return
	}
	d.log.Info("report delivered",
		zap.Int64("report_id", int64(r.ID)),
		zap.String("transport", r.DestinationSpec().Transport),
		zap.Int("attempt", r.RetryCount+1),
	)
}

func (d *Dispatcher) markFailed(ctx context.Context, r *reportdomain.Report, cause error) {
	fields := map[string]any{
		"delivery_status": reportdomain.DeliveryFailed,
		"retry_count":     r.RetryCount,
		"updated_at":      d.clock.Now(),
	}
	if err := d.repo.UpdateReportFields(ctx, d.db, r.ID, fields); err != nil {
		d.log.Error("report status update failed",
			zap.Int64("report_id", int64(r.ID)),
			zap.Error(err),
		)
	}
	d.log.Warn("report delivery failed",
		zap.Int64("report_id", int64(r.ID)),
		zap.String("transport", r.DestinationSpec().Transport),
		zap.Int("retry_count", r.RetryCount),
		zap.Error(cause),
	)
}

// backoff waits 2^attempts base delays before the next try.
func (d *Dispatcher) backoff(ctx context.Context, attempts int) error {
	delay := d.baseDelay << attempts
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func contentTypeFor(f reportdomain.Format) string {
	switch f {
	case reportdomain.FormatDSR:
		return "application/xml"
	case reportdomain.FormatCSV:
		return "text/csv"
	default:
		return "application/json"
	}
}
