package cluster

import (
	"context"

	"go.uber.org/zap"

	"github.com/nmxmxh/janus/internal/protocol"
	errs "github.com/nmxmxh/janus/pkg/errors"
	"github.com/nmxmxh/janus/pkg/logger"
)

func init() {
	SetCluster("failfast", func() Cluster { return clusterOf(newFailfastInvoker) })
	SetCluster("failsafe", func() Cluster { return clusterOf(newFailsafeInvoker) })
	SetCluster("available", func() Cluster { return clusterOf(newAvailableInvoker) })
}

// failfastInvoker makes exactly one attempt and surfaces whatever happens.
type failfastInvoker struct {
	base
}

func newFailfastInvoker(dir Directory) protocol.Invoker {
	return &failfastInvoker{base{directory: dir}}
}

func (f *failfastInvoker) Invoke(ctx context.Context, inv protocol.Invocation) protocol.Result {
	invokers, err := f.list(inv)
	if err != nil {
		return protocol.NewErrorResult(err)
	}
	lb, err := f.loadBalance(invokers, inv)
	if err != nil {
		return protocol.NewErrorResult(err)
	}
	picked := f.doSelect(lb, inv, invokers, nil)
	if picked == nil {
		return protocol.NewErrorResult(errs.Forbiddenf("no invoker selectable for %s", f.URL().ServiceKey()))
	}
	return invokeOn(ctx, picked, inv)
}

// failsafeInvoker makes one attempt; failures are logged and swallowed,
// returning an empty result. For fire-and-forget work like audit writes.
type failsafeInvoker struct {
	base
	log *zap.Logger
}

func newFailsafeInvoker(dir Directory) protocol.Invoker {
	return &failsafeInvoker{base: base{directory: dir}, log: logger.Default()}
}

func (f *failsafeInvoker) Invoke(ctx context.Context, inv protocol.Invocation) protocol.Result {
	invokers, err := f.list(inv)
	if err != nil {
		f.log.Warn("failsafe invocation skipped", zap.Error(err))
		return protocol.NewResult(nil)
	}
	lb, err := f.loadBalance(invokers, inv)
	if err != nil {
		f.log.Warn("failsafe invocation skipped", zap.Error(err))
		return protocol.NewResult(nil)
	}
	picked := f.doSelect(lb, inv, invokers, nil)
	if picked == nil {
		f.log.Warn("failsafe invocation skipped: no invoker selectable",
			zap.String("service", f.URL().ServiceKey()))
		return protocol.NewResult(nil)
	}
	result := invokeOn(ctx, picked, inv)
	if rerr := result.Error(); rerr != nil {
		f.log.Warn("failsafe invocation failed, ignoring",
			zap.String("service", f.URL().ServiceKey()),
			zap.String("method", inv.MethodName()),
			zap.Error(rerr))
		return protocol.NewResult(nil)
	}
	return result
}

// availableInvoker skips balancing entirely and takes the first invoker
// that reports available.
type availableInvoker struct {
	base
}

func newAvailableInvoker(dir Directory) protocol.Invoker {
	return &availableInvoker{base{directory: dir}}
}

func (a *availableInvoker) Invoke(ctx context.Context, inv protocol.Invocation) protocol.Result {
	invokers, err := a.list(inv)
	if err != nil {
		return protocol.NewErrorResult(err)
	}
	for _, ivk := range invokers {
		if ivk.IsAvailable() {
			return invokeOn(ctx, ivk, inv)
		}
	}
	return protocol.NewErrorResult(errs.Forbiddenf("no available invoker for %s", a.URL().ServiceKey()))
}
