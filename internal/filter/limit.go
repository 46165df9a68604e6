package filter

import (
	"context"
	"sync"
	"time"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
	"github.com/nmxmxh/janus/pkg/extension"
)

func init() {
	protocol.SetFilter("activelimit", extension.Activate{
		Group: []string{common.ConsumerSide},
		Order: -50,
	}, func() protocol.Filter { return &activeLimitFilter{} })
	protocol.SetFilter("executelimit", extension.Activate{
		Group: []string{common.ProviderSide},
		Value: []string{common.ExecutesKey},
		Order: -50,
	}, func() protocol.Filter { return &executeLimitFilter{} })
	protocol.SetFilter("tpslimit", extension.Activate{
		Group: []string{common.ProviderSide},
		Value: []string{common.TPSLimitRateKey},
		Order: -60,
	}, func() protocol.Filter { return &tpsLimitFilter{windows: map[string]*tpsWindow{}} })
}

// activeLimitFilter maintains the per-method in-flight counters on the
// consumer side and, when the actives parameter is set, caps concurrency at
// that value. It always runs: the least-active balancer needs the counters
// even without a cap.
type activeLimitFilter struct{}

func (f *activeLimitFilter) Invoke(ctx context.Context, next protocol.Invoker, inv protocol.Invocation) protocol.Result {
	url := next.URL()
	method := inv.MethodName()
	limit := url.MethodParamInt(method, common.ActivesKey, 0)
	status := protocol.GetMethodStatus(url, method)
	if limit > 0 && status.Active() >= limit {
		return protocol.NewErrorResult(errs.Limitf(
			"%s.%s has %d active calls, limit %d", url.ServiceKey(), method, status.Active(), limit))
	}
	protocol.BeginCount(url, method)
	start := time.Now()
	res := next.Invoke(ctx, inv)
	protocol.EndCount(url, method, time.Since(start).Milliseconds(), res.Error() == nil)
	return res
}

// executeLimitFilter is the provider-side counterpart, keyed on the executes
// parameter.
type executeLimitFilter struct{}

func (f *executeLimitFilter) Invoke(ctx context.Context, next protocol.Invoker, inv protocol.Invocation) protocol.Result {
	url := next.URL()
	method := inv.MethodName()
	limit := url.MethodParamInt(method, common.ExecutesKey, 0)
	if limit <= 0 {
		return next.Invoke(ctx, inv)
	}
	status := protocol.GetMethodStatus(url, method)
	if status.Active() >= limit {
		return protocol.NewErrorResult(errs.Limitf(
			"%s.%s is executing %d calls, limit %d", url.ServiceKey(), method, status.Active(), limit))
	}
	protocol.BeginCount(url, method)
	start := time.Now()
	res := next.Invoke(ctx, inv)
	protocol.EndCount(url, method, time.Since(start).Milliseconds(), res.Error() == nil)
	return res
}

// tpsWindow counts invocations inside a fixed interval.
type tpsWindow struct {
	mu      sync.Mutex
	started time.Time
	count   int64
}

func (w *tpsWindow) tryAcquire(rate int64, interval time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	if now.Sub(w.started) >= interval {
		w.started = now
		w.count = 0
	}
	if w.count >= rate {
		return false
	}
	w.count++
	return true
}

// tpsLimitFilter enforces a fixed-window request rate per service.
type tpsLimitFilter struct {
	mu      sync.Mutex
	windows map[string]*tpsWindow
}

func (f *tpsLimitFilter) window(key string) *tpsWindow {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.windows[key]
	if !ok {
		w = &tpsWindow{started: time.Now()}
		f.windows[key] = w
	}
	return w
}

func (f *tpsLimitFilter) Invoke(ctx context.Context, next protocol.Invoker, inv protocol.Invocation) protocol.Result {
	url := next.URL()
	rate := url.ParamInt(common.TPSLimitRateKey, 0)
	if rate <= 0 {
		return next.Invoke(ctx, inv)
	}
	interval := time.Duration(url.ParamInt(common.TPSLimitIntervalKey, 60*1000)) * time.Millisecond
	if !f.window(url.ServiceKey()).tryAcquire(rate, interval) {
		return protocol.NewErrorResult(errs.Limitf(
			"%s exceeded %d calls per %s", url.ServiceKey(), rate, interval))
	}
	return next.Invoke(ctx, inv)
}
