package webhook

import "go.uber.org/fx"

func bindDeduper(d *RedisDeduper) Deduper { return d }

// Module wires the webhook ingress handler.
var Module = fx.Module("webhook",
	fx.Provide(
		NewRedisDeduper,
		bindDeduper,
		New,
	),
)
