package report

import (
	"github.com/daddykev/stardust-dsp/internal/report/repository"
	"github.com/daddykev/stardust-dsp/internal/report/service"
	"github.com/daddykev/stardust-dsp/internal/report/transport"
	"go.uber.org/fx"
)

var Module = fx.Module("report",
	transport.Module,
	fx.Provide(
		repository.Provide,
		service.NewGenerator,
		service.NewDispatcher,
	),
)
