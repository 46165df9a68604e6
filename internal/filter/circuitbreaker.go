package filter

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
	"github.com/nmxmxh/janus/pkg/extension"
)

func init() {
	protocol.SetFilter("circuitbreaker", extension.Activate{
		Group: []string{common.ConsumerSide},
		Value: []string{common.CircuitBreakerKey},
		Order: -40,
	}, func() protocol.Filter { return &circuitBreakerFilter{breakers: map[string]*gobreaker.CircuitBreaker{}} })
}

// circuitBreakerFilter trips a per-service breaker on repeated transport
// failures. Business errors count as successes: the provider answered, the
// circuit is healthy.
type circuitBreakerFilter struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func (f *circuitBreakerFilter) breaker(key string) *gobreaker.CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	cb, ok := f.breakers[key]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    key,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errs.KindOf(err) == errs.ErrBiz
			},
		})
		f.breakers[key] = cb
	}
	return cb
}

func (f *circuitBreakerFilter) Invoke(ctx context.Context, next protocol.Invoker, inv protocol.Invocation) protocol.Result {
	cb := f.breaker(next.URL().ServiceKey())
	out, err := cb.Execute(func() (interface{}, error) {
		res := next.Invoke(ctx, inv)
		return res, res.Error()
	})
	if res, ok := out.(protocol.Result); ok {
		return res
	}
	return protocol.NewErrorResult(errs.Limitf(
		"circuit open for %s: %s", next.URL().ServiceKey(), err.Error()))
}
