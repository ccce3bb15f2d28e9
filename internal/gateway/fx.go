package gateway

import "go.uber.org/fx"

// Module wires the upstream gateway client.
var Module = fx.Module("gateway",
	fx.Provide(New),
)
