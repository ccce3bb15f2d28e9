package reconcile

import (
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/smallbiznis/sepa-recovery/internal/circuitbreaker"
)

// Reconciliation trips its breaker after five consecutive gateway
// failures and holds it open for ten minutes.
const (
	breakerThreshold = 5
	breakerWindow    = time.Minute
	breakerCooldown  = 10 * time.Minute
)

func newBreaker(client *redis.Client) *circuitbreaker.Breaker {
	return circuitbreaker.New(client, breakerThreshold, breakerWindow, breakerCooldown)
}

// Module wires the reconciliation sweep.
var Module = fx.Module("reconcile",
	fx.Provide(
		fx.Annotate(newBreaker, fx.ResultTags(`name:"reconcileBreaker"`)),
		fx.Annotate(New, fx.ParamTags(``, ``, ``, `name:"reconcileBreaker"`)),
	),
)
