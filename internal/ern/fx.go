package ern

import (
	"github.com/daddykev/stardust-dsp/internal/ern/parser"
	"github.com/daddykev/stardust-dsp/internal/ern/validator"
	"go.uber.org/fx"
)

var Module = fx.Module("ern",
	fx.Provide(
		parser.New,
		validator.New,
	),
)
