package main

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bwmarrin/snowflake"
	"github.com/daddykev/stardust-dsp/internal/acknowledgment"
	"github.com/daddykev/stardust-dsp/internal/catalog"
	"github.com/daddykev/stardust-dsp/internal/clock"
	"github.com/daddykev/stardust-dsp/internal/config"
	"github.com/daddykev/stardust-dsp/internal/delivery"
	deliverydomain "github.com/daddykev/stardust-dsp/internal/delivery/domain"
	"github.com/daddykev/stardust-dsp/internal/ern"
	"github.com/daddykev/stardust-dsp/internal/logger"
	"github.com/daddykev/stardust-dsp/internal/notification"
	"github.com/daddykev/stardust-dsp/internal/pipeline"
	"github.com/daddykev/stardust-dsp/internal/pipeline/stages"
	"github.com/daddykev/stardust-dsp/internal/storage"
	"github.com/daddykev/stardust-dsp/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		storage.Module,

		notification.Module,
		delivery.Module,
		ern.Module,
		catalog.Module,
		acknowledgment.Module,
		pipeline.Module,
		stages.Module,

		fx.Invoke(StartRouter),
		fx.Invoke(WatchDeliveries),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

// StartRouter runs the stage router for the life of the process.
func StartRouter(lc fx.Lifecycle, router *message.Router, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := router.Run(context.Background()); err != nil {
					log.Error("stage router stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			return router.Close()
		},
	})
}

// WatchDeliveries subscribes to manifest-finalized events on the delivery
// bucket and opens a Delivery for each one.
func WatchDeliveries(
	lc fx.Lifecycle,
	cfg config.Config,
	store *storage.MinioStore,
	deliveries deliverydomain.Service,
	log *zap.Logger,
) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			for _, bucket := range []string{cfg.Storage.DeliveryBucket, cfg.Storage.ReportBucket} {
				if err := store.EnsureBucket(startCtx, bucket); err != nil {
					return err
				}
			}

			events := store.ListenFinalized(ctx, cfg.Storage.DeliveryBucket, "deliveries/", "manifest.xml")
			go func() {
				for obj := range events {
					_, err := deliveries.HandleObjectFinalized(ctx, obj.Bucket, obj.Key, obj.Size, obj.ContentType)
					if err != nil && !errors.Is(err, deliverydomain.ErrIgnoredObject) {
						log.Error("delivery intake failed",
							zap.String("object", obj.Key),
							zap.Error(err),
						)
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
