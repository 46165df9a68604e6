package protocol

import (
	"context"
	"sync/atomic"

	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
)

// Invoker is a callable endpoint, local or remote. Invokers are owned by the
// component that created them; Destroy cascades through wrappers and is
// idempotent.
type Invoker interface {
	// URL returns the descriptor this invoker was built from.
	URL() *common.URL
	// Service returns the interface name the invoker serves.
	Service() string
	// Invoke performs one call. The context bounds any blocking wait.
	Invoke(ctx context.Context, inv Invocation) Result
	// IsAvailable reports whether the invoker can currently serve calls.
	IsAvailable() bool
	// Destroy releases resources. Safe to call more than once.
	Destroy()
}

// BaseInvoker carries the url/availability/destroy plumbing shared by every
// concrete invoker. Embedders override Invoke.
type BaseInvoker struct {
	url       *common.URL
	destroyed atomic.Bool
}

// NewBaseInvoker builds a BaseInvoker for url.
func NewBaseInvoker(url *common.URL) *BaseInvoker {
	return &BaseInvoker{url: url}
}

// URL implements Invoker.
func (b *BaseInvoker) URL() *common.URL { return b.url }

// Service implements Invoker.
func (b *BaseInvoker) Service() string { return b.url.Service() }

// IsAvailable implements Invoker.
func (b *BaseInvoker) IsAvailable() bool { return !b.destroyed.Load() }

// IsDestroyed reports whether Destroy has run.
func (b *BaseInvoker) IsDestroyed() bool { return b.destroyed.Load() }

// Invoke implements Invoker with a no-op success. Embedders override.
func (b *BaseInvoker) Invoke(_ context.Context, _ Invocation) Result {
	if b.destroyed.Load() {
		return NewErrorResult(errs.ErrDestroyed)
	}
	return NewResult(nil)
}

// Destroy implements Invoker. The first call wins; later calls are no-ops.
func (b *BaseInvoker) Destroy() {
	b.destroyed.Store(true)
}

// MarkDestroyed flips the destroyed flag and reports whether this call was
// the first. Embedders use it to make their own Destroy idempotent.
func (b *BaseInvoker) MarkDestroyed() bool {
	return b.destroyed.CompareAndSwap(false, true)
}
