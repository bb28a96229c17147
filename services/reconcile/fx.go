package reconcile

import (
	"go.uber.org/fx"
)

var Module = fx.Module("reconcile",
	fx.Provide(
		NewEngine,
		NewScheduler,
	),
	fx.Invoke(StartScheduler),
)
