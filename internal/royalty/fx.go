package royalty

import (
	"github.com/daddykev/stardust-dsp/internal/royalty/repository"
	"github.com/daddykev/stardust-dsp/internal/royalty/service"
	"go.uber.org/fx"
)

var Module = fx.Module("royalty",
	fx.Provide(
		repository.Provide,
		service.NewEngine,
		service.NewPayments,
	),
)
