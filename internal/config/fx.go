package config

import "go.uber.org/fx"

// Module provides the process Config and the hot-reloadable billing-model
// configuration holder to the fx graph.
var Module = fx.Module("config",
	fx.Provide(
		Load,
		NewBillingModelConfigHolder,
	),
)
