package acknowledgment

import (
	"github.com/daddykev/stardust-dsp/internal/acknowledgment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("acknowledgment",
	fx.Provide(service.New),
)
