package delivery

import (
	"github.com/daddykev/stardust-dsp/internal/delivery/repository"
	"github.com/daddykev/stardust-dsp/internal/delivery/service"
	"go.uber.org/fx"
)

var Module = fx.Module("delivery",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
