// Package circuitbreaker implements a Redis-backed circuit breaker shared
// by every process that dispatches billing chunks, keyed per gateway so a
// failing provider does not take down unrelated queues.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

const keyCircuit = "circuit:%s"

// tripScript atomically increments the failure counter and opens the
// circuit once the threshold is reached within the window.
const tripScript = `
local failures = redis.call("INCR", KEYS[1])
if failures == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if failures >= tonumber(ARGV[2]) then
  redis.call("SET", KEYS[2], "open", "PX", ARGV[3])
end
return failures
`

// Breaker tracks failure counts per name in Redis and opens for a cooldown
// once the threshold within the rolling window is reached.
type Breaker struct {
	client    *redis.Client
	tripScr   *redis.Script
	threshold int64
	window    time.Duration
	cooldown  time.Duration
}

func New(client *redis.Client, threshold int64, window, cooldown time.Duration) *Breaker {
	return &Breaker{
		client:    client,
		tripScr:   redis.NewScript(tripScript),
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
	}
}

// Allow reports whether calls against name may proceed.
func (b *Breaker) Allow(ctx context.Context, name string) (bool, error) {
	if b == nil || b.client == nil {
		return true, nil
	}
	state, err := b.client.Get(ctx, fmt.Sprintf(keyCircuit, name)).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return true, err
	}
	return State(state) != StateOpen, nil
}

// RecordFailure increments name's failure counter and opens the circuit
// once threshold failures land inside the rolling window.
func (b *Breaker) RecordFailure(ctx context.Context, name string) error {
	if b == nil || b.client == nil {
		return nil
	}
	failureKey := fmt.Sprintf("circuit:failures:%s", name)
	stateKey := fmt.Sprintf(keyCircuit, name)
	_, err := b.tripScr.Run(ctx, b.client, []string{failureKey, stateKey},
		int64(b.window/time.Millisecond),
		b.threshold,
		int64(b.cooldown/time.Millisecond),
	).Result()
	return err
}

// Reset clears name's circuit back to closed, called after a successful
// gateway call.
func (b *Breaker) Reset(ctx context.Context, name string) error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Del(ctx, fmt.Sprintf(keyCircuit, name), fmt.Sprintf("circuit:failures:%s", name)).Err()
}
