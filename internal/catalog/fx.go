package catalog

import (
	"github.com/daddykev/stardust-dsp/internal/catalog/repository"
	"github.com/daddykev/stardust-dsp/internal/catalog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog",
	fx.Provide(
		repository.Provide,
		service.NewProcessor,
	),
)
