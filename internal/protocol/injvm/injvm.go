// Package injvm exports and refers services inside one process, with no
// transport. Services exported with a local scope are reachable through it
// without touching the network.
package injvm

import (
	"context"
	"sync"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
)

func init() {
	protocol.SetProtocol(common.InjvmProtocol, func() protocol.Protocol { return NewProtocol() })
}

// Protocol keeps the in-process export table.
type Protocol struct {
	services sync.Map // service key -> protocol.Invoker
}

// NewProtocol builds an empty injvm protocol.
func NewProtocol() *Protocol { return &Protocol{} }

// Export implements protocol.Protocol.
func (p *Protocol) Export(invoker protocol.Invoker) (protocol.Exporter, error) {
	key := invoker.URL().ServiceKey()
	p.services.Store(key, invoker)
	return &exporter{protocol: p, key: key, invoker: invoker}, nil
}

// Refer implements protocol.Protocol. The exported invoker is resolved per
// call, so refer order does not matter.
func (p *Protocol) Refer(url *common.URL) (protocol.Invoker, error) {
	return &invoker{BaseInvoker: protocol.NewBaseInvoker(url), protocol: p}, nil
}

// Destroy implements protocol.Protocol.
func (p *Protocol) Destroy() {
	p.services.Range(func(k, v interface{}) bool {
		p.services.Delete(k)
		v.(protocol.Invoker).Destroy()
		return true
	})
}

type exporter struct {
	protocol *Protocol
	key      string
	invoker  protocol.Invoker
	once     sync.Once
}

func (e *exporter) Invoker() protocol.Invoker { return e.invoker }

func (e *exporter) Unexport() {
	e.once.Do(func() { e.protocol.services.Delete(e.key) })
}

type invoker struct {
	*protocol.BaseInvoker
	protocol *Protocol
}

func (i *invoker) IsAvailable() bool {
	if i.IsDestroyed() {
		return false
	}
	_, ok := i.protocol.services.Load(i.URL().ServiceKey())
	return ok
}

func (i *invoker) Invoke(ctx context.Context, inv protocol.Invocation) protocol.Result {
	if i.IsDestroyed() {
		return protocol.NewErrorResult(errs.ErrDestroyed)
	}
	key := i.URL().ServiceKey()
	v, ok := i.protocol.services.Load(key)
	if !ok {
		return protocol.NewErrorResult(errs.Forbiddenf("no in-process service for key %q", key))
	}
	return v.(protocol.Invoker).Invoke(ctx, inv)
}
