package cluster

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
)

func init() {
	SetCluster("forking", func() Cluster { return clusterOf(newForkingInvoker) })
	SetCluster("broadcast", func() Cluster { return clusterOf(newBroadcastInvoker) })
}

// forkingInvoker fans the invocation out to url[forks] invokers in parallel
// and completes with the first success; only when every fork fails does the
// last error surface.
type forkingInvoker struct {
	base
}

func newForkingInvoker(dir Directory) protocol.Invoker {
	return &forkingInvoker{base{directory: dir}}
}

func (f *forkingInvoker) Invoke(ctx context.Context, inv protocol.Invocation) protocol.Result {
	invokers, err := f.list(inv)
	if err != nil {
		return protocol.NewErrorResult(err)
	}
	lb, err := f.loadBalance(invokers, inv)
	if err != nil {
		return protocol.NewErrorResult(err)
	}
	forks := int(f.URL().MethodParamInt(inv.MethodName(), common.ForksKey, common.DefaultForks))
	var targets []protocol.Invoker
	if forks <= 0 || forks >= len(invokers) {
		targets = invokers
	} else {
		for len(targets) < forks {
			picked := f.doSelect(lb, inv, invokers, targets)
			if picked == nil {
				break
			}
			targets = append(targets, picked)
		}
	}
	if len(targets) == 0 {
		return protocol.NewErrorResult(errs.Forbiddenf("no invoker selectable for %s", f.URL().ServiceKey()))
	}

	forkCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	results := make(chan protocol.Result, len(targets))
	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(ivk protocol.Invoker) {
			defer wg.Done()
			results <- invokeOn(forkCtx, ivk, cloneForAttempt(inv))
		}(target)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var lastFailure protocol.Result
	for result := range results {
		if result.Error() == nil {
			cancel() // losers are cancelled, not awaited
			return result
		}
		lastFailure = result
	}
	return lastFailure
}

// broadcastInvoker invokes every candidate, succeeding only when all do.
// There is no short-circuit: every provider hears the call even after the
// first failure, and the first error surfaces at the end.
type broadcastInvoker struct {
	base
}

func newBroadcastInvoker(dir Directory) protocol.Invoker {
	return &broadcastInvoker{base{directory: dir}}
}

func (b *broadcastInvoker) Invoke(ctx context.Context, inv protocol.Invocation) protocol.Result {
	invokers, err := b.list(inv)
	if err != nil {
		return protocol.NewErrorResult(err)
	}

	var (
		mu       sync.Mutex
		firstErr error
		last     protocol.Result
	)
	g := &errgroup.Group{}
	for _, target := range invokers {
		ivk := target
		g.Go(func() error {
			result := invokeOn(ctx, ivk, cloneForAttempt(inv))
			mu.Lock()
			defer mu.Unlock()
			if rerr := result.Error(); rerr != nil && firstErr == nil {
				firstErr = rerr
			}
			last = result
			return nil // every invoker is called regardless of failures
		})
	}
	_ = g.Wait()
	if firstErr != nil {
		return protocol.NewErrorResult(firstErr)
	}
	return last
}
