package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	ackservice "github.com/daddykev/stardust-dsp/internal/acknowledgment/service"
	catalogservice "github.com/daddykev/stardust-dsp/internal/catalog/service"
	"github.com/daddykev/stardust-dsp/internal/config"
	deliverydomain "github.com/daddykev/stardust-dsp/internal/delivery/domain"
	erndomain "github.com/daddykev/stardust-dsp/internal/ern/domain"
	ernparser "github.com/daddykev/stardust-dsp/internal/ern/parser"
	ernvalidator "github.com/daddykev/stardust-dsp/internal/ern/validator"
	"github.com/daddykev/stardust-dsp/internal/observability/metrics"
	"github.com/daddykev/stardust-dsp/internal/pipeline"
	"github.com/daddykev/stardust-dsp/internal/storage"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Validator is the slice of the validation client the stages need.
type Validator interface {
	Validate(ctx context.Context, msg *erndomain.Message) (*ernvalidator.Result, error)
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Cfg        config.Config
	Deliveries deliverydomain.Service
	Parser     *ernparser.Parser
	Validator  Validator
	Processor  *catalogservice.Processor
	Notifier   *ackservice.Notifier
	Store      storage.ObjectStore
	Publisher  pipeline.Publisher
}

// Stages holds the message handlers of the ingestion chain. Each handler is
// invoked by the router on its stage topic; terminal failures are absorbed
// into the delivery record and return nil, transient failures return an
// error so the fabric redelivers.
type Stages struct {
	log        *zap.Logger
	cfg        config.Config
	deliveries deliverydomain.Service
	parser     *ernparser.Parser
	validator  Validator
	processor  *catalogservice.Processor
	notifier   *ackservice.Notifier
	store      storage.ObjectStore
	publisher  pipeline.Publisher
}

func New(p Params) *Stages {
	return &Stages{
		log:        p.Log.Named("pipeline.stages"),
		cfg:        p.Cfg,
		deliveries: p.Deliveries,
		parser:     p.Parser,
		validator:  p.Validator,
		processor:  p.Processor,
		notifier:   p.Notifier,
		store:      p.Store,
		publisher:  p.Publisher,
	}
}

// HandleParse downloads and parses the manifest. Parse and download
// failures are terminal: the pipeline never auto-retries malformed content.
func (s *Stages) HandleParse(msg *message.Message) error {
	var job pipeline.ParseJob
	if err := pipeline.Unmarshal(msg, &job); err != nil {
		return s.reject(msg, err)
	}
	ctx := msg.Context()

	d, err := s.liveDelivery(ctx, job.DeliveryID, "parse")
	if err != nil || d == nil {
		return err
	}

	// A redelivery after a failed validate publish finds the delivery already
	// parsed; only the publish is owed then.
	parsed := deliverydomain.Reached(d.Processing.Status, deliverydomain.StatusAwaitingValidation)
	if !parsed {
		if err := s.deliveries.Advance(ctx, job.DeliveryID, deliverydomain.StatusParsing); err != nil {
			return err
		}
	}

	data, err := s.downloadManifest(ctx, job.Bucket, job.ManifestPath)
	if err != nil {
		metrics.Pipeline().IncStageFailed("parse", "terminal")
		return s.deliveries.MarkTerminal(ctx, job.DeliveryID, deliverydomain.StatusParseFailed,
			"parser", []string{"failed to download manifest"}, err.Error())
	}

	ernMsg, err := s.parser.Parse(data)
	if err != nil {
		metrics.Pipeline().IncStageFailed("parse", "terminal")
		return s.deliveries.MarkTerminal(ctx, job.DeliveryID, deliverydomain.StatusParseFailed,
			"parser", []string{"failed to parse manifest"}, err.Error())
	}

	if !parsed {
		if err := s.deliveries.StampERN(ctx, job.DeliveryID, deliverydomain.ERNInfo{
			Version:   ernMsg.Version,
			Profile:   ernMsg.Profile,
			MessageID: ernMsg.Header.MessageID,
			Sender:    ernMsg.Header.Sender,
		}); err != nil {
			return err
		}
		if err := s.deliveries.Advance(ctx, job.DeliveryID, deliverydomain.StatusAwaitingValidation); err != nil {
			return err
		}
	}

	ernData, err := json.Marshal(ernMsg)
	if err != nil {
		return err
	}
	metrics.Pipeline().IncStageProcessed("parse", "ok")
	return s.publisher.Publish(ctx, pipeline.TopicValidate, pipeline.ValidateJob{
		DeliveryID:   job.DeliveryID,
		ERNData:      ernData,
		ERNVersion:   ernMsg.Version,
		ManifestPath: job.ManifestPath,
	})
}

// HandleValidate calls the external validation service. Transport failures
// return the transient error unchanged so the router's retry middleware
// redelivers; exhausted retries land on the poison topic.
func (s *Stages) HandleValidate(msg *message.Message) error {
	var job pipeline.ValidateJob
	if err := pipeline.Unmarshal(msg, &job); err != nil {
		return s.reject(msg, err)
	}
	ctx := msg.Context()

	d, err := s.liveDelivery(ctx, job.DeliveryID, "validate")
	if err != nil || d == nil {
		return err
	}
	if deliverydomain.Reached(d.Processing.Status, deliverydomain.StatusProcessingReleases) {
		// Validation already succeeded; only the process publish is owed.
		return s.publisher.Publish(ctx, pipeline.TopicProcess, pipeline.ProcessJob{
			DeliveryID:   job.DeliveryID,
			ReleaseData:  job.ERNData,
			DeliveryPath: job.ManifestPath,
			ERNVersion:   job.ERNVersion,
		})
	}
	if err := s.deliveries.Advance(ctx, job.DeliveryID, deliverydomain.StatusValidating); err != nil {
		return err
	}

	var ernMsg erndomain.Message
	if err := json.Unmarshal(job.ERNData, &ernMsg); err != nil {
		metrics.Pipeline().IncStageFailed("validate", "terminal")
		return s.deliveries.MarkTerminal(ctx, job.DeliveryID, deliverydomain.StatusValidationError,
			"validator", []string{"corrupt ern payload"}, err.Error())
	}

	result, err := s.validator.Validate(ctx, &ernMsg)
	if err != nil {
		if pipeline.IsTransient(err) {
			metrics.Pipeline().IncStageFailed("validate", "transient")
			return err
		}
		metrics.Pipeline().IncStageFailed("validate", "terminal")
		return s.deliveries.MarkTerminal(ctx, job.DeliveryID, deliverydomain.StatusValidationError,
			"validator", []string{"validation request rejected"}, err.Error())
	}

	if err := s.deliveries.StampValidation(ctx, job.DeliveryID, result.Valid, result.Errors, result.Warnings); err != nil {
		return err
	}

	if !result.Valid {
		metrics.Pipeline().IncStageFailed("validate", "terminal")
		return s.deliveries.MarkTerminal(ctx, job.DeliveryID, deliverydomain.StatusValidationFailed,
			"validator", result.Errors, "")
	}

	if err := s.deliveries.Advance(ctx, job.DeliveryID, deliverydomain.StatusProcessingReleases); err != nil {
		return err
	}
	metrics.Pipeline().IncStageProcessed("validate", "ok")
	return s.publisher.Publish(ctx, pipeline.TopicProcess, pipeline.ProcessJob{
		DeliveryID:   job.DeliveryID,
		ReleaseData:  job.ERNData,
		DeliveryPath: job.ManifestPath,
		ERNVersion:   job.ERNVersion,
	})
}

// HandleProcess expands the canonical graph into catalog entities. Releases
// commit independently; a mid-message failure keeps earlier releases.
func (s *Stages) HandleProcess(msg *message.Message) error {
	var job pipeline.ProcessJob
	if err := pipeline.Unmarshal(msg, &job); err != nil {
		return s.reject(msg, err)
	}
	ctx := msg.Context()

	d, err := s.deliveries.Get(ctx, job.DeliveryID)
	if err != nil {
		return err
	}
	if deliverydomain.IsTerminal(d.Processing.Status) {
		// A completed delivery still owes its acknowledge job until the ack
		// message id is stamped; the catalog upserts below are idempotent.
		if d.Processing.Status != deliverydomain.StatusCompleted || d.AckMessageID != "" {
			s.log.Debug("skipping redelivered process job", zap.String("delivery_id", job.DeliveryID))
			return nil
		}
	}

	var ernMsg erndomain.Message
	if err := json.Unmarshal(job.ReleaseData, &ernMsg); err != nil {
		metrics.Pipeline().IncStageFailed("process", "terminal")
		return s.deliveries.MarkTerminal(ctx, job.DeliveryID, deliverydomain.StatusProcessingFailed,
			"processor", []string{"corrupt release payload"}, err.Error())
	}

	summaries, trackCount, err := s.processor.ProcessMessage(ctx, job.DeliveryID, d.DistributorID,
		&ernMsg, job.DeliveryPath, d.Bucket)
	if err != nil {
		metrics.Pipeline().IncStageFailed("process", "terminal")
		return s.deliveries.MarkTerminal(ctx, job.DeliveryID, deliverydomain.StatusProcessingFailed,
			"processor", []string{"release processing failed"}, err.Error())
	}

	if err := s.deliveries.Complete(ctx, job.DeliveryID, len(summaries), trackCount); err != nil {
		return err
	}
	metrics.Pipeline().IncStageProcessed("process", "ok")
	return s.publisher.Publish(ctx, pipeline.TopicAcknowledge, pipeline.AcknowledgeJob{
		DeliveryID: job.DeliveryID,
		Releases:   summaries,
	})
}

// HandleAcknowledge is the terminal success stage.
func (s *Stages) HandleAcknowledge(msg *message.Message) error {
	var job pipeline.AcknowledgeJob
	if err := pipeline.Unmarshal(msg, &job); err != nil {
		return s.reject(msg, err)
	}
	ctx := msg.Context()

	d, err := s.deliveries.Get(ctx, job.DeliveryID)
	if err != nil {
		return err
	}
	if d.AckMessageID != "" {
		s.log.Debug("delivery already acknowledged", zap.String("delivery_id", job.DeliveryID))
		return nil
	}

	if _, err := s.notifier.Acknowledge(ctx, job.DeliveryID, job.Releases); err != nil {
		return err
	}
	metrics.Pipeline().IncStageProcessed("acknowledge", "ok")
	return nil
}

// HandleErrorEvent gives the error topic a consumer; notifications are
// already persisted by the time the event is published, so this only logs.
func (s *Stages) HandleErrorEvent(msg *message.Message) error {
	var event pipeline.ErrorEvent
	if err := pipeline.Unmarshal(msg, &event); err != nil {
		return s.reject(msg, err)
	}
	s.log.Warn("delivery error event",
		zap.String("delivery_id", event.DeliveryID),
		zap.String("distributor_id", event.DistributorID),
		zap.String("stage", event.Stage),
		zap.Strings("errors", event.Errors),
	)
	return nil
}

// HandlePoison parks deliveries whose stage exhausted its retry budget.
// The poisoned-topic metadata decides which terminal status applies.
func (s *Stages) HandlePoison(msg *message.Message) error {
	var job struct {
		DeliveryID string `json:"deliveryId"`
	}
	if err := pipeline.Unmarshal(msg, &job); err != nil || job.DeliveryID == "" {
		return s.reject(msg, fmt.Errorf("poison payload without delivery id: %v", err))
	}
	ctx := msg.Context()

	d, err := s.deliveries.Get(ctx, job.DeliveryID)
	if err != nil {
		return err
	}
	if deliverydomain.IsTerminal(d.Processing.Status) {
		return nil
	}

	sourceTopic := msg.Metadata.Get(middleware.PoisonedTopicKey)
	reason := msg.Metadata.Get(middleware.ReasonForPoisonedKey)

	status := deliverydomain.StatusFailed
	stage := "pipeline"
	switch sourceTopic {
	case pipeline.TopicValidate:
		status, stage = deliverydomain.StatusValidationError, "validator"
	case pipeline.TopicParse:
		status, stage = deliverydomain.StatusParseFailed, "parser"
	case pipeline.TopicProcess:
		status, stage = deliverydomain.StatusProcessingFailed, "processor"
	}

	metrics.Pipeline().IncStageFailed(stage, "poisoned")
	return s.deliveries.MarkTerminal(ctx, job.DeliveryID, status, stage,
		[]string{"retry budget exhausted"}, reason)
}

// liveDelivery loads the delivery and short-circuits redelivered jobs for
// deliveries that already reached a terminal status. A nil delivery with a
// nil error means the job is done.
func (s *Stages) liveDelivery(ctx context.Context, deliveryID, stage string) (*deliverydomain.Delivery, error) {
	d, err := s.deliveries.Get(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if deliverydomain.IsTerminal(d.Processing.Status) {
		s.log.Debug("skipping redelivered job for terminal delivery",
			zap.String("delivery_id", deliveryID),
			zap.String("stage", stage),
			zap.String("status", string(d.Processing.Status)),
		)
		return nil, nil
	}
	return d, nil
}

func (s *Stages) downloadManifest(ctx context.Context, bucket, key string) ([]byte, error) {
	rc, err := s.store.Download(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", bucket, key, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// reject drops a message whose payload cannot even be decoded. Redelivering
// it would fail identically forever.
func (s *Stages) reject(msg *message.Message, err error) error {
	s.log.Error("dropping undecodable message",
		zap.String("message_id", msg.UUID),
		zap.Error(err),
	)
	return nil
}
