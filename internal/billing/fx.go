package billing

import (
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/smallbiznis/sepa-recovery/internal/circuitbreaker"
	"github.com/smallbiznis/sepa-recovery/internal/ratelimit"
)

// Billing trips its breaker after ten consecutive gateway failures and
// holds it open for five minutes.
const (
	breakerThreshold = 10
	breakerWindow    = time.Minute
	breakerCooldown  = 5 * time.Minute
)

func newBreaker(client *redis.Client) *circuitbreaker.Breaker {
	return circuitbreaker.New(client, breakerThreshold, breakerWindow, breakerCooldown)
}

func bindLocker(l *ratelimit.Locker) Locker { return l }

// Module wires the billing orchestrator and chunk worker. The breaker is
// named so the reconciler can carry its own thresholds on a separate
// instance.
var Module = fx.Module("billing",
	fx.Provide(
		fx.Annotate(newBreaker, fx.ResultTags(`name:"billingBreaker"`)),
		bindLocker,
		fx.Annotate(NewWorker, fx.ParamTags(``, ``, `name:"billingBreaker"`)),
		NewOrchestrator,
	),
)
