package upload

import "go.uber.org/fx"

// Module wires the ingestor and the upload lifecycle service.
var Module = fx.Module("upload",
	fx.Provide(
		New,
		NewService,
	),
)
