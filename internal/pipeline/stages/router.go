package stages

import (
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	ernvalidator "github.com/daddykev/stardust-dsp/internal/ern/validator"
	"github.com/daddykev/stardust-dsp/internal/observability/metrics"
	"github.com/daddykev/stardust-dsp/internal/pipeline"
	"go.uber.org/fx"
)

// NewRouter wires the stage handlers onto their topics. Errors that survive
// the retry budget are parked on the poison topic, where HandlePoison
// records the terminal status.
func NewRouter(ps *pipeline.PubSub, s *Stages) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{}, ps.Logger)
	if err != nil {
		return nil, err
	}

	poison, err := middleware.PoisonQueue(ps.Channel, pipeline.TopicPoison)
	if err != nil {
		return nil, err
	}

	router.AddMiddleware(
		middleware.CorrelationID,
		poison,
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: 200 * time.Millisecond,
			Multiplier:      2,
			Logger:          ps.Logger,
		}.Middleware,
		middleware.Recoverer,
	)

	router.AddNoPublisherHandler("stage_parse", pipeline.TopicParse, ps.Channel, instrument("parse", s.HandleParse))
	router.AddNoPublisherHandler("stage_validate", pipeline.TopicValidate, ps.Channel, instrument("validate", s.HandleValidate))
	router.AddNoPublisherHandler("stage_process", pipeline.TopicProcess, ps.Channel, instrument("process", s.HandleProcess))
	router.AddNoPublisherHandler("stage_acknowledge", pipeline.TopicAcknowledge, ps.Channel, instrument("acknowledge", s.HandleAcknowledge))
	router.AddNoPublisherHandler("stage_poison", pipeline.TopicPoison, ps.Channel, s.HandlePoison)
	router.AddNoPublisherHandler("stage_error_log", pipeline.TopicError, ps.Channel, s.HandleErrorEvent)

	return router, nil
}

func instrument(stage string, h message.NoPublishHandlerFunc) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		start := time.Now()
		err := h(msg)
		metrics.Pipeline().ObserveStageDuration(stage, time.Since(start))
		return err
	}
}

// Module wires the stage handlers and the router.
var Module = fx.Module("stages",
	fx.Provide(
		New,
		NewRouter,
		func(c *ernvalidator.Client) Validator { return c },
	),
)
