// Package filter holds the built-in invocation interceptors and the wrapper
// that installs them around every exported and referred invoker. Chains are
// assembled from activate metadata per side, honoring the URL's explicit
// filter list.
package filter

import (
	"context"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/pkg/common"
)

func init() {
	protocol.SetProtocolWrapper("filter", func(inner protocol.Protocol) protocol.Protocol {
		return &filterProtocol{inner: inner}
	})
}

// BuildChain wraps invoker with the filters active for url on the given
// side. The first active filter ends up outermost.
func BuildChain(invoker protocol.Invoker, url *common.URL, key, group string) protocol.Invoker {
	names := protocol.ActiveFilters(url, key, group)
	for i := len(names) - 1; i >= 0; i-- {
		f, err := protocol.GetFilter(names[i])
		if err != nil {
			continue // a typo in the filter list must not kill the chain
		}
		invoker = &filterInvoker{next: invoker, filter: f}
	}
	return invoker
}

type filterInvoker struct {
	next   protocol.Invoker
	filter protocol.Filter
}

func (f *filterInvoker) URL() *common.URL { return f.next.URL() }

func (f *filterInvoker) Service() string { return f.next.Service() }

func (f *filterInvoker) IsAvailable() bool { return f.next.IsAvailable() }

func (f *filterInvoker) Destroy() { f.next.Destroy() }

func (f *filterInvoker) Invoke(ctx context.Context, inv protocol.Invocation) protocol.Result {
	return f.filter.Invoke(ctx, f.next, inv)
}

// filterProtocol decorates every protocol with chain building on both
// sides. The registry protocol is exempt: its URLs describe the registry,
// not the service, and the underlying transport protocol gets its own
// chain.
type filterProtocol struct {
	inner protocol.Protocol
}

func (p *filterProtocol) Export(invoker protocol.Invoker) (protocol.Exporter, error) {
	url := invoker.URL()
	if url.Protocol == common.RegistryProtocol {
		return p.inner.Export(invoker)
	}
	wrapped := BuildChain(invoker, url, common.ServiceFilterKey, common.ProviderSide)
	return p.inner.Export(&chainedInvoker{Invoker: invoker, chain: wrapped})
}

func (p *filterProtocol) Refer(url *common.URL) (protocol.Invoker, error) {
	invoker, err := p.inner.Refer(url)
	if err != nil {
		return nil, err
	}
	if url.Protocol == common.RegistryProtocol {
		return invoker, nil
	}
	return BuildChain(invoker, url, common.ReferenceFilterKey, common.ConsumerSide), nil
}

func (p *filterProtocol) Destroy() { p.inner.Destroy() }

// chainedInvoker keeps the original invoker's identity (URL, destroy) while
// routing Invoke through the filter chain. Exporters hand out the original
// invoker; the transport handler invokes through the chain.
type chainedInvoker struct {
	protocol.Invoker
	chain protocol.Invoker
}

func (c *chainedInvoker) Invoke(ctx context.Context, inv protocol.Invocation) protocol.Result {
	return c.chain.Invoke(ctx, inv)
}
