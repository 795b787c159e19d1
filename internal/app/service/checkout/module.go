package checkout

import (
	"go.uber.org/fx"

	"github.com/fatflowers/academy/internal/app/service/enrollment"
)

func asProjector(e *enrollment.Service) Projector { return e }

// Module exposes the checkout service via Fx.
var Module = fx.Options(
	fx.Provide(NewService, asProjector),
)
