package validation

import "go.uber.org/fx"

// Module wires the validation phase runner.
var Module = fx.Module("validation",
	fx.Provide(NewRunner),
)
