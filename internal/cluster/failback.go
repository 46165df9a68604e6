package cluster

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/pkg/common"
	"github.com/nmxmxh/janus/pkg/logger"
)

func init() {
	SetCluster("failback", func() Cluster { return clusterOf(newFailbackInvoker) })
}

// failbackInvoker makes one attempt; on failure the invocation joins a
// retry queue replayed on a fixed period until it succeeds or runs out of
// attempts. The caller sees an empty success either way.
type failbackInvoker struct {
	base
	log *zap.Logger

	mu      sync.Mutex
	timer   *cron.Cron
	pending []*failedInvocation
}

type failedInvocation struct {
	inv      protocol.Invocation
	attempts int64
	budget   int64
}

func newFailbackInvoker(dir Directory) protocol.Invoker {
	return &failbackInvoker{base: base{directory: dir}, log: logger.Default()}
}

func (f *failbackInvoker) Invoke(ctx context.Context, inv protocol.Invocation) protocol.Result {
	invokers, err := f.list(inv)
	if err != nil {
		f.enqueue(inv)
		return protocol.NewResult(nil)
	}
	lb, err := f.loadBalance(invokers, inv)
	if err != nil {
		return protocol.NewErrorResult(err)
	}
	picked := f.doSelect(lb, inv, invokers, nil)
	if picked == nil {
		f.enqueue(inv)
		return protocol.NewResult(nil)
	}
	result := invokeOn(ctx, picked, inv)
	if rerr := result.Error(); rerr != nil {
		f.log.Warn("failback invocation failed, queueing for retry",
			zap.String("service", f.URL().ServiceKey()),
			zap.String("method", inv.MethodName()),
			zap.Error(rerr))
		f.enqueue(inv)
		return protocol.NewResult(nil)
	}
	return result
}

func (f *failbackInvoker) enqueue(inv protocol.Invocation) {
	budget := f.URL().MethodParamInt(inv.MethodName(), common.FailbackRetriesKey, common.DefaultFailbackTimes)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, &failedInvocation{inv: inv, budget: budget})
	if f.timer == nil {
		period := f.URL().ParamInt(common.RetryPeriodKey, common.DefaultRetryPeriod)
		f.timer = cron.New()
		if _, err := f.timer.AddFunc(fmt.Sprintf("@every %dms", period), f.retry); err != nil {
			f.log.Warn("failback timer schedule failed", zap.Error(err))
		}
		f.timer.Start()
	}
}

// retry replays each queued invocation once, dropping those that succeed
// or exceed their attempt budget.
func (f *failbackInvoker) retry() {
	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()

	var still []*failedInvocation
	for _, fi := range pending {
		fi.attempts++
		if ok := f.retryOne(fi.inv); !ok && fi.attempts < fi.budget {
			still = append(still, fi)
		} else if !ok {
			f.log.Warn("failback retries exhausted, dropping invocation",
				zap.String("service", f.URL().ServiceKey()),
				zap.String("method", fi.inv.MethodName()),
				zap.Int64("attempts", fi.attempts))
		}
	}
	if len(still) > 0 {
		f.mu.Lock()
		f.pending = append(f.pending, still...)
		f.mu.Unlock()
	}
}

func (f *failbackInvoker) retryOne(inv protocol.Invocation) bool {
	invokers, err := f.list(inv)
	if err != nil {
		return false
	}
	lb, err := f.loadBalance(invokers, inv)
	if err != nil {
		return false
	}
	picked := f.doSelect(lb, inv, invokers, nil)
	if picked == nil {
		return false
	}
	return invokeOn(context.Background(), picked, cloneForAttempt(inv)).Error() == nil
}

func (f *failbackInvoker) Destroy() {
	f.mu.Lock()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.pending = nil
	f.mu.Unlock()
	f.base.Destroy()
}
