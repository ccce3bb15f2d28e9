package pipeline

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/sepa-recovery/internal/upload"
)

// Module wires the phase coordinator and hooks it into upload
// completion.
var Module = fx.Module("pipeline",
	fx.Provide(NewCoordinator),
	fx.Invoke(func(svc *upload.Service, c *Coordinator) {
		svc.OnCompleted(c.UploadIngested)
	}),
)
