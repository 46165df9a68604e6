// Package protocol implements the registry protocol: export publishes the
// provider URL at the registry besides binding the real transport protocol,
// refer builds a registry-backed directory and wraps it in a cluster.
package protocol

import (
	neturl "net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/nmxmxh/janus/internal/cluster"
	base "github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/internal/registry"
	"github.com/nmxmxh/janus/internal/registry/directory"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
	"github.com/nmxmxh/janus/pkg/logger"
)

func init() {
	base.SetProtocol(common.RegistryProtocol, func() base.Protocol { return NewProtocol() })
}

// Protocol glues the discovery plane onto the protocol plane.
type Protocol struct {
	log *zap.Logger

	mu          sync.Mutex
	exporters   []*exporter
	directories []*directory.Directory
}

// NewProtocol builds an empty registry protocol.
func NewProtocol() *Protocol {
	return &Protocol{log: logger.Default()}
}

// backendURL rewrites registry://host?registry=zookeeper into
// zookeeper://host, the address the backend factory understands.
func backendURL(url *common.URL) *common.URL {
	name := url.Param(common.RegistryKey, "static")
	return url.SetProtocol(name).RemoveParam(common.RegistryKey)
}

// Export implements base.Protocol. The invoker's URL is the registry URL
// carrying the provider URL in its export parameter.
func (p *Protocol) Export(invoker base.Invoker) (base.Exporter, error) {
	registryURL := invoker.URL()
	providerRaw := registryURL.Param(common.ExportKey, "")
	if providerRaw == "" {
		return nil, errs.New("registry export requires an export parameter with the provider url")
	}
	providerURL, err := common.ParseURL(providerRaw)
	if err != nil {
		return nil, errs.Wrap(err, "registry export: bad provider url")
	}

	proto, err := base.GetProtocol(providerURL.Protocol)
	if err != nil {
		return nil, err
	}
	inner, err := proto.Export(&providerInvoker{Invoker: invoker, url: providerURL})
	if err != nil {
		return nil, err
	}

	reg, err := registry.GetRegistry(backendURL(registryURL))
	if err != nil {
		inner.Unexport()
		return nil, err
	}
	registeredURL := providerURL.AddParamIfAbsent(common.CategoryKey, common.ProvidersCategory)
	if err := reg.Register(registeredURL); err != nil {
		inner.Unexport()
		return nil, err
	}
	p.log.Info("registered provider",
		zap.String("provider", registeredURL.ServiceKey()),
		zap.String("registry", registryURL.Address()))

	e := &exporter{inner: inner, reg: reg, registered: registeredURL}
	p.mu.Lock()
	p.exporters = append(p.exporters, e)
	p.mu.Unlock()
	return e, nil
}

// Refer implements base.Protocol. The consumer parameters travel in the
// refer parameter as an encoded query string.
func (p *Protocol) Refer(url *common.URL) (base.Invoker, error) {
	reg, err := registry.GetRegistry(backendURL(url))
	if err != nil {
		return nil, err
	}
	params, err := DecodeParams(url.Param(common.ReferKey, ""))
	if err != nil {
		return nil, errs.Wrap(err, "registry refer: bad refer parameter")
	}
	iface := params[common.InterfaceKey]
	if iface == "" {
		return nil, errs.New("registry refer requires an interface parameter")
	}

	subscribeURL := common.NewURL(common.ConsumerProtocol, common.LocalHost(), 0, iface, params).
		AddParam(common.SideKey, common.ConsumerSide).
		AddParamIfAbsent(common.CategoryKey,
			common.ProvidersCategory+","+common.ConfiguratorsCategory+","+common.RoutersCategory)

	// Consumers announce themselves so operators can see who references
	// what; failure to do so never blocks the reference.
	consumerURL := subscribeURL.AddParam(common.CategoryKey, common.ConsumersCategory).
		AddParam(common.CheckKey, "false")
	if err := reg.Register(consumerURL); err != nil {
		p.log.Warn("consumer registration failed", zap.Error(err))
	}

	dir, err := directory.New(subscribeURL, reg)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.directories = append(p.directories, dir)
	p.mu.Unlock()
	return cluster.Join(dir)
}

// Destroy implements base.Protocol.
func (p *Protocol) Destroy() {
	p.mu.Lock()
	exporters := p.exporters
	directories := p.directories
	p.exporters, p.directories = nil, nil
	p.mu.Unlock()
	for _, e := range exporters {
		e.Unexport()
	}
	for _, d := range directories {
		d.Destroy()
	}
}

// EncodeParams renders a parameter map as a percent-encoded query string
// for the refer parameter.
func EncodeParams(params map[string]string) string {
	values := neturl.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return values.Encode()
}

// DecodeParams reverses EncodeParams.
func DecodeParams(encoded string) (map[string]string, error) {
	values, err := neturl.ParseQuery(encoded)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out, nil
}

// providerInvoker rebinds the exported invoker to the concrete provider URL
// so the transport protocol sees dubbo://host:port, not registry://.
type providerInvoker struct {
	base.Invoker
	url *common.URL
}

func (p *providerInvoker) URL() *common.URL { return p.url }

func (p *providerInvoker) Service() string { return p.url.Service() }

// exporter undoes both halves of a registry export.
type exporter struct {
	inner      base.Exporter
	reg        registry.Registry
	registered *common.URL
	once       sync.Once
}

func (e *exporter) Invoker() base.Invoker { return e.inner.Invoker() }

func (e *exporter) Unexport() {
	e.once.Do(func() {
		if err := e.reg.Unregister(e.registered); err != nil {
			logger.Default().Warn("unregister on unexport failed", zap.Error(err))
		}
		e.inner.Unexport()
	})
}
