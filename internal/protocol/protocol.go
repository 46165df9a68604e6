// Package protocol defines the invocation data model (Invoker, Invocation,
// Result), the Protocol extension point that exports and refers services,
// and the per-endpoint RPC statistics used by load balancing and limiting.
package protocol

import (
	"context"

	"github.com/nmxmxh/janus/pkg/common"
	"github.com/nmxmxh/janus/pkg/extension"
)

// Protocol binds service invokers to transports (export) and builds remote
// invokers (refer).
type Protocol interface {
	// Export publishes invoker on the address carried by its URL.
	Export(invoker Invoker) (Exporter, error)
	// Refer builds a client-side invoker for the service described by url.
	Refer(url *common.URL) (Invoker, error)
	// Destroy releases every exporter and referred invoker this protocol
	// created.
	Destroy()
}

// Exporter is the lifetime handle of an exported service.
type Exporter interface {
	// Invoker returns the exported invoker.
	Invoker() Invoker
	// Unexport undoes the export. Idempotent.
	Unexport()
}

// Filter intercepts invocations on one side of the wire. Filters may
// short-circuit, rewrite the invocation or post-process the result.
type Filter interface {
	Invoke(ctx context.Context, next Invoker, inv Invocation) Result
}

// Extension points owned by this package.
var (
	protocols = extension.NewPoint("protocol", common.DubboProtocol)
	filters   = extension.NewPoint("filter", "")
)

// SetProtocol registers a protocol implementation under name.
func SetProtocol(name string, factory func() Protocol) {
	protocols.Register(name, func() interface{} { return factory() })
}

// GetProtocol returns the protocol singleton registered under name.
func GetProtocol(name string) (Protocol, error) {
	inst, err := protocols.Get(name)
	if err != nil {
		return nil, err
	}
	return inst.(Protocol), nil
}

// SetProtocolWrapper registers a decorator applied to every protocol.
func SetProtocolWrapper(name string, wrap func(Protocol) Protocol) {
	protocols.RegisterWrapper(name, func(inner interface{}) interface{} {
		return wrap(inner.(Protocol))
	})
}

// DestroyProtocols destroys every protocol instantiated so far. Called by
// the shutdown hook after registries are destroyed.
func DestroyProtocols() {
	for _, inst := range protocols.Instantiated() {
		inst.(Protocol).Destroy()
	}
	protocols.Reset()
}

// SetFilter registers a filter with activate metadata.
func SetFilter(name string, meta extension.Activate, factory func() Filter) {
	filters.RegisterActivate(name, meta, func() interface{} { return factory() })
}

// GetFilter returns the filter singleton registered under name.
func GetFilter(name string) (Filter, error) {
	inst, err := filters.Get(name)
	if err != nil {
		return nil, err
	}
	return inst.(Filter), nil
}

// ActiveFilters returns the ordered filter chain names for url on the given
// side, honoring the url's filter list at key.
func ActiveFilters(url *common.URL, key, group string) []string {
	return filters.ActivateNames(url, key, group)
}
