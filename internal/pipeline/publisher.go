package pipeline

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Publisher is the stage-to-stage hand-off used by every service. Payloads
// are JSON-marshalled typed jobs; delivery is at-least-once, so consumers
// must be idempotent on redelivery.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

type wmPublisher struct {
	pub message.Publisher
}

func (p *wmPublisher) Publish(ctx context.Context, topic string, payload any) error {
	msg, err := Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	msg.SetContext(ctx)
	if err := p.pub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PubSub bundles the in-process watermill pub/sub shared by the router and
// the publishers.
type PubSub struct {
	Channel *gochannel.GoChannel
	Logger  watermill.LoggerAdapter
}

func NewPubSub(log *zap.Logger) *PubSub {
	adapter := zapAdapter{log: log.Named("pipeline.fabric")}
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, adapter)
	return &PubSub{Channel: ch, Logger: adapter}
}

// zapAdapter bridges the fabric's logging onto the application logger.
type zapAdapter struct {
	log *zap.Logger
}

func (a zapAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.log.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

func (a zapAdapter) Info(msg string, fields watermill.LogFields) {
	a.log.Info(msg, zapFields(fields)...)
}

func (a zapAdapter) Debug(msg string, fields watermill.LogFields) {
	a.log.Debug(msg, zapFields(fields)...)
}

func (a zapAdapter) Trace(msg string, fields watermill.LogFields) {
	a.log.Debug(msg, zapFields(fields)...)
}

func (a zapAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return zapAdapter{log: a.log.With(zapFields(fields)...)}
}

func zapFields(fields watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func NewPublisher(ps *PubSub) Publisher {
	return &wmPublisher{pub: ps.Channel}
}

// Module provides the message fabric.
var Module = fx.Module("pipeline",
	fx.Provide(
		NewPubSub,
		NewPublisher,
	),
)
