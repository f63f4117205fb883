package notification

import (
	"github.com/daddykev/stardust-dsp/internal/notification/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("notification",
	fx.Provide(repository.Provide),
)
