package httpapi

import (
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewHandler, NewAdminHandler, ProvideRouter),
)
