package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/daddykev/stardust-dsp/internal/catalog"
	"github.com/daddykev/stardust-dsp/internal/clock"
	"github.com/daddykev/stardust-dsp/internal/config"
	"github.com/daddykev/stardust-dsp/internal/logger"
	"github.com/daddykev/stardust-dsp/internal/report"
	"github.com/daddykev/stardust-dsp/internal/royalty"
	"github.com/daddykev/stardust-dsp/internal/scheduler"
	"github.com/daddykev/stardust-dsp/internal/storage"
	"github.com/daddykev/stardust-dsp/internal/usage"
	"github.com/daddykev/stardust-dsp/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		storage.Module,

		// Domain services required by the scheduled jobs
		usage.Module,
		catalog.Module,
		royalty.Module,
		report.Module,
		scheduler.Module,

		// No pipeline router here; the scheduler binary only runs jobs.
		fx.Invoke(StartScheduler),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}

func StartScheduler(lc fx.Lifecycle, s *scheduler.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go s.RunForever(context.Background())
			return nil
		},
	})
}
