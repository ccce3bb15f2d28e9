package dedup

import "go.uber.org/fx"

func newEngine(repo Repository) *Engine {
	return New(repo, nil)
}

// Module wires the dedup engine.
var Module = fx.Module("dedup",
	fx.Provide(newEngine),
)
