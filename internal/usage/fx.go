package usage

import (
	"github.com/daddykev/stardust-dsp/internal/usage/repository"
	"github.com/daddykev/stardust-dsp/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage",
	fx.Provide(
		repository.Provide,
		service.NewAggregator,
	),
)
