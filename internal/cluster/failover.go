package cluster

import (
	"context"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
)

func init() {
	SetCluster("failover", func() Cluster { return clusterOf(newFailoverInvoker) })
}

// clusterOf adapts an invoker constructor to the Cluster interface.
type clusterOf func(dir Directory) protocol.Invoker

func (c clusterOf) Join(dir Directory) protocol.Invoker { return c(dir) }

// failoverInvoker tries up to retries+1 candidates, steering each retry to
// an invoker not yet tried. Business errors are a provider answering, not a
// provider failing, so they never trigger a retry.
type failoverInvoker struct {
	base
}

func newFailoverInvoker(dir Directory) protocol.Invoker {
	return &failoverInvoker{base{directory: dir}}
}

func (f *failoverInvoker) Invoke(ctx context.Context, inv protocol.Invocation) protocol.Result {
	invokers, err := f.list(inv)
	if err != nil {
		return protocol.NewErrorResult(err)
	}
	lb, err := f.loadBalance(invokers, inv)
	if err != nil {
		return protocol.NewErrorResult(err)
	}
	retries := f.URL().MethodParamInt(inv.MethodName(), common.RetriesKey, common.DefaultRetries)
	if retries < 0 {
		retries = 0
	}

	var (
		selected []protocol.Invoker
		lastErr  error
	)
	for attempt := int64(0); attempt <= retries; attempt++ {
		if attempt > 0 {
			// The directory may have changed while we were failing.
			if invokers, err = f.list(inv); err != nil {
				return protocol.NewErrorResult(err)
			}
		}
		picked := f.doSelect(lb, inv, invokers, selected)
		if picked == nil {
			break
		}
		selected = append(selected, picked)
		result := invokeOn(ctx, picked, cloneForAttempt(inv))
		rerr := result.Error()
		if rerr == nil || errs.KindOf(rerr) == errs.ErrBiz {
			return result
		}
		lastErr = rerr
	}
	if lastErr == nil {
		lastErr = errs.Forbiddenf("no invoker selectable for %s", f.URL().ServiceKey())
	}
	return protocol.NewErrorResult(errs.Wrap(lastErr,
		"failover exhausted "+f.URL().ServiceKey()))
}
