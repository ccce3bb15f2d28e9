package clock

import "go.uber.org/fx"

// Module provides the process wall clock.
var Module = fx.Module("clock",
	fx.Provide(Real),
)
