package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/bwmarrin/snowflake"
	"github.com/daddykev/stardust-dsp/internal/clock"
	deliverydomain "github.com/daddykev/stardust-dsp/internal/delivery/domain"
	notificationdomain "github.com/daddykev/stardust-dsp/internal/notification/domain"
	"github.com/daddykev/stardust-dsp/internal/pipeline"
	"github.com/daddykev/stardust-dsp/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// manifestPattern matches deliveries/{distributorId}/{timestamp}/manifest.xml.
// Anything else landing in the bucket is ignored.
var manifestPattern = regexp.MustCompile(`^deliveries/([^/]+)/([^/]+)/manifest\.xml$`)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	Repo             deliverydomain.Repository
	NotificationRepo notificationdomain.Repository
	Publisher        pipeline.Publisher
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      deliverydomain.Repository
	notifRepo notificationdomain.Repository
	publisher pipeline.Publisher
}

func New(p Params) deliverydomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("delivery.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		notifRepo: p.NotificationRepo,
		publisher: p.Publisher,
	}
}

func (s *Service) HandleObjectFinalized(ctx context.Context, bucket, objectPath string, size int64, contentType string) (*deliverydomain.Delivery, error) {
	m := manifestPattern.FindStringSubmatch(objectPath)
	if m == nil {
		return nil, deliverydomain.ErrIgnoredObject
	}
	distributorID, timestamp := m[1], m[2]
	if distributorID == "" {
		return nil, deliverydomain.ErrMissingDistributor
	}

	deliveryID := fmt.Sprintf("%s_%s", distributorID, timestamp)
	now := s.clock.Now()

	d := &deliverydomain.Delivery{
		ID:            deliveryID,
		DistributorID: distributorID,
		Bucket:        bucket,
		PackagePath:   objectPath,
		PackageSize:   size,
		ContentType:   contentType,
		Processing: deliverydomain.ProcessingState{
			Status:     deliverydomain.StatusPending,
			ReceivedAt: &now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Insert(ctx, s.db, d); err != nil {
		if db.IsDuplicateKeyErr(err) {
			// Same object delivered again; the existing record wins.
			existing, ferr := s.repo.FindByID(ctx, s.db, deliveryID)
			if ferr != nil {
				return nil, ferr
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("create delivery %s: %w", deliveryID, err)
	}

	s.log.Info("delivery received",
		zap.String("delivery_id", deliveryID),
		zap.String("distributor_id", distributorID),
		zap.Int64("size", size),
	)

	job := pipeline.ParseJob{
		DeliveryID:   deliveryID,
		ManifestPath: objectPath,
		Bucket:       bucket,
	}
	if err := s.publisher.Publish(ctx, pipeline.TopicParse, job); err != nil {
		// Record exists: surface the failure on it rather than dropping.
		_ = s.MarkTerminal(ctx, deliveryID, deliverydomain.StatusFailed, "receiver",
			[]string{"failed to enqueue parse job"}, err.Error())
		return nil, err
	}

	return d, nil
}

func (s *Service) Get(ctx context.Context, id string) (*deliverydomain.Delivery, error) {
	d, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, deliverydomain.ErrNotFound
	}
	return d, nil
}

func (s *Service) Advance(ctx context.Context, id string, to deliverydomain.Status) error {
	d, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if d.Processing.Status == to {
		return nil
	}
	if !deliverydomain.CanTransition(d.Processing.Status, to) {
		return fmt.Errorf("%w: %s -> %s", deliverydomain.ErrInvalidTransition, d.Processing.Status, to)
	}
	updated, err := s.repo.UpdateStatus(ctx, s.db, id, d.Processing.Status, to, map[string]any{
		"updated_at": s.clock.Now(),
	})
	if err != nil {
		return err
	}
	if !updated {
		// Another writer advanced it already; redelivery is a no-op.
		s.log.Debug("status transition lost race", zap.String("delivery_id", id), zap.String("to", string(to)))
	}
	return nil
}

func (s *Service) MarkTerminal(ctx context.Context, id string, to deliverydomain.Status, stage string, errs []string, detail string) error {
	d, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	errText := ""
	if len(errs) > 0 {
		errText = errs[0]
	}
	fields := map[string]any{
		"processing_status":       to,
		"processing_error":        errText,
		"processing_error_detail": detail,
		"updated_at":              s.clock.Now(),
	}
	if err := s.repo.UpdateFields(ctx, s.db, id, fields); err != nil {
		return err
	}

	s.log.Warn("delivery failed",
		zap.String("delivery_id", id),
		zap.String("stage", stage),
		zap.String("status", string(to)),
		zap.Strings("errors", errs),
	)

	// Warnings stamped by the validator ride along on the notification and
	// the error event.
	warnings := d.Validation.WarningStrings()
	if err := s.raiseErrorNotification(ctx, d, to, stage, errs, warnings); err != nil {
		s.log.Error("raise error notification", zap.String("delivery_id", id), zap.Error(err))
	}

	event := pipeline.ErrorEvent{
		DeliveryID:    id,
		DistributorID: d.DistributorID,
		Stage:         stage,
		Errors:        errs,
		Warnings:      warnings,
	}
	if err := s.publisher.Publish(ctx, pipeline.TopicError, event); err != nil {
		s.log.Error("publish error event", zap.String("delivery_id", id), zap.Error(err))
	}
	return nil
}

func (s *Service) StampERN(ctx context.Context, id string, ern deliverydomain.ERNInfo) error {
	now := s.clock.Now()
	return s.repo.UpdateFields(ctx, s.db, id, map[string]any{
		"ern_version":          ern.Version,
		"ern_profile":          ern.Profile,
		"ern_message_id":       ern.MessageID,
		"ern_sender":           ern.Sender,
		"sender":               ern.Sender,
		"processing_parsed_at": &now,
		"updated_at":           now,
	})
}

func (s *Service) StampValidation(ctx context.Context, id string, valid bool, errs, warnings []string) error {
	now := s.clock.Now()
	errJSON, err := json.Marshal(emptyIfNil(errs))
	if err != nil {
		return err
	}
	warnJSON, err := json.Marshal(emptyIfNil(warnings))
	if err != nil {
		return err
	}
	return s.repo.UpdateFields(ctx, s.db, id, map[string]any{
		"validation_valid":        valid,
		"validation_errors":       errJSON,
		"validation_warnings":     warnJSON,
		"processing_validated_at": &now,
		"updated_at":              now,
	})
}

func (s *Service) StampAcknowledgment(ctx context.Context, id, ackMessageID string) error {
	return s.repo.UpdateFields(ctx, s.db, id, map[string]any{
		"ack_message_id": ackMessageID,
		"updated_at":     s.clock.Now(),
	})
}

func (s *Service) Complete(ctx context.Context, id string, releaseCount, trackCount int) error {
	d, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if d.Processing.Status == deliverydomain.StatusCompleted {
		return nil
	}
	if !deliverydomain.CanTransition(d.Processing.Status, deliverydomain.StatusCompleted) {
		return fmt.Errorf("%w: %s -> %s", deliverydomain.ErrInvalidTransition, d.Processing.Status, deliverydomain.StatusCompleted)
	}
	now := s.clock.Now()
	_, err = s.repo.UpdateStatus(ctx, s.db, id, d.Processing.Status, deliverydomain.StatusCompleted, map[string]any{
		"release_count":           releaseCount,
		"track_count":             trackCount,
		"processing_completed_at": &now,
		"updated_at":              now,
	})
	return err
}

func (s *Service) Reprocess(ctx context.Context, id string) error {
	d, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !deliverydomain.IsTerminal(d.Processing.Status) || d.Processing.Status == deliverydomain.StatusCompleted {
		return deliverydomain.ErrNotTerminal
	}

	now := s.clock.Now()
	if err := s.repo.UpdateFields(ctx, s.db, id, map[string]any{
		"processing_status":       deliverydomain.StatusPending,
		"processing_error":        "",
		"processing_error_detail": "",
		"updated_at":              now,
	}); err != nil {
		return err
	}

	s.log.Info("delivery reprocess requested", zap.String("delivery_id", id))
	return s.publisher.Publish(ctx, pipeline.TopicParse, pipeline.ParseJob{
		DeliveryID:   id,
		ManifestPath: d.PackagePath,
		Bucket:       d.Bucket,
	})
}

func (s *Service) raiseErrorNotification(ctx context.Context, d *deliverydomain.Delivery, status deliverydomain.Status, stage string, errs, warnings []string) error {
	payload, err := json.Marshal(map[string]any{
		"stage":    stage,
		"status":   status,
		"errors":   emptyIfNil(errs),
		"warnings": emptyIfNil(warnings),
	})
	if err != nil {
		return err
	}
	notifType := notificationdomain.TypeDeliveryError
	if status == deliverydomain.StatusValidationFailed || status == deliverydomain.StatusValidationError {
		notifType = notificationdomain.TypeValidationError
	}
	return s.notifRepo.Insert(ctx, s.db, &notificationdomain.Notification{
		ID:            s.genID.Generate(),
		DistributorID: d.DistributorID,
		DeliveryID:    d.ID,
		Type:          notifType,
		Title:         fmt.Sprintf("Delivery %s failed during %s", d.ID, stage),
		Body:          firstOrEmpty(errs),
		Payload:       payload,
		CreatedAt:     s.clock.Now(),
	})
}

func emptyIfNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func firstOrEmpty(in []string) string {
	if len(in) == 0 {
		return ""
	}
	return in[0]
}
