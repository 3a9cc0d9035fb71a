package monitoring

import (
	"context"
	"fmt"
	"time"

	"camstream/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client *redis.Client, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddIngestCheck reports unhealthy while the ingest dial breaker is open.
func (h *HealthChecker) AddIngestCheck(state func() circuitbreaker.State, interval, timeout time.Duration) {
	h.AddCheck("ingest", func(ctx context.Context) (bool, error) {
		if s := state(); s == circuitbreaker.StateOpen {
			return false, fmt.Errorf("ingest circuit breaker %s", s)
		}
		return true, nil
	}, interval, timeout)
}

// Runner is the owning loop of the views.
type Runner interface {
	Do(ctx context.Context, fn func()) error
}

// AddLoopCheck verifies the owning loop still runs tasks.
func (h *HealthChecker) AddLoopCheck(loop Runner, interval, timeout time.Duration) {
	h.AddCheck("loop", func(ctx context.Context) (bool, error) {
		if err := loop.Do(ctx, func() {}); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}
