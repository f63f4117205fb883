package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/daddykev/stardust-dsp/internal/clock"
	"github.com/daddykev/stardust-dsp/internal/config"
	royaltydomain "github.com/daddykev/stardust-dsp/internal/royalty/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type PaymentsParams struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Cfg   config.Config
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  royaltydomain.Repository
}

// Payments turns approved statements into scheduled Payment records. The
// job does not retry within a run: a failed distribution stays pending and
// is picked up again on the next cadence.
type Payments struct {
	db       *gorm.DB
	log      *zap.Logger
	currency string
	leadDays int
	genID    *snowflake.Node
	clock    clock.Clock
	repo     royaltydomain.Repository
}

func NewPayments(p PaymentsParams) *Payments {
	return &Payments{
		db:       p.DB,
		log:      p.Log.Named("royalty.payments"),
		currency: p.Cfg.Royalty.Currency,
		leadDays: p.Cfg.Royalty.PaymentLeadDays,
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
	}
}

// ProcessApproved walks statements externally marked approved and creates a
// Payment per pending distribution, scheduled with the configured lead time.
// A statement whose distributions are all settled moves to paid.
func (s *Payments) ProcessApproved(ctx context.Context) (int, error) {
	statements, err := s.repo.ListStatementsByStatus(ctx, s.db, royaltydomain.StatementApproved)
	if err != nil {
		return 0, fmt.Errorf("list approved statements: %w", err)
	}

	created := 0
	for _, statement := range statements {
		n, err := s.processStatement(ctx, statement)
		created += n
		if err != nil {
			s.log.Error("statement payment run incomplete",
				zap.Int64("statement_id", int64(statement.ID)),
				zap.Error(err),
			)
		}
	}
	return created, nil
}

func (s *Payments) processStatement(ctx context.Context, statement royaltydomain.RoyaltyStatement) (int, error) {
	dists := statement.DistributionList()
	now := s.clock.Now()
	scheduledAt := now.AddDate(0, 0, s.leadDays)

	created := 0
	var firstErr error
	settled := true

	for i := range dists {
		d := &dists[i]
		switch d.Status {
		case royaltydomain.DistributionPaid, royaltydomain.DistributionHeld:
			continue
		case royaltydomain.DistributionPending:
			if d.NetAmount <= 0 {
				continue
			}
			payment := &royaltydomain.Payment{
				ID:          s.genID.Generate(),
				StatementID: statement.ID,
				HolderID:    d.HolderID,
				Amount:      d.NetAmount,
				Currency:    statement.Currency,
				Status:      "scheduled",
				ScheduledAt: scheduledAt,
				CreatedAt:   now,
			}
			if err := s.repo.InsertPayment(ctx, s.db, payment); err != nil {
				// Left pending for the next run.
				settled = false
				if firstErr == nil {
					firstErr = fmt.Errorf("pay holder %s: %w", d.HolderID, err)
				}
				continue
			}
			d.Status = royaltydomain.DistributionPaid
			created++
		}
	}

	fields := map[string]any{
		"distributions": mustJSON(dists),
		"updated_at":    now,
	}
	if settled {
		fields["status"] = royaltydomain.StatementPaid
		fields["paid_at"] = &now
	}
	if err := s.repo.UpdateStatementFields(ctx, s.db, statement.ID, fields); err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("update statement: %w", err)
		}
	}

	if created > 0 {
		s.log.Info("payments scheduled",
			zap.Int64("statement_id", int64(statement.ID)),
			zap.Int("payments", created),
			zap.Time("scheduled_at", scheduledAt),
		)
	}
	return created, firstErr
}
