package config

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/internal/proxy"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
	"github.com/nmxmxh/janus/pkg/logger"
)

// ServiceConfig declares one exported service. Export publishes it on every
// configured protocol and registers it at every configured registry.
type ServiceConfig struct {
	Interface   string
	Group       string
	Version     string
	Application *ApplicationConfig
	// Scope limits where the service is reachable: none, local, remote or
	// both. Empty behaves as both when registries are configured, remote
	// otherwise.
	Scope      string
	Registries []*RegistryConfig
	Protocols  []*ProtocolConfig
	Methods    []*MethodConfig
	// Token guards invocations; "true" generates a random one.
	Token string
	// Filter appends to the provider filter chain.
	Filter string
	Params map[string]string

	mu        sync.Mutex
	exporters []protocol.Exporter
}

// Export publishes impl according to the configuration.
func (sc *ServiceConfig) Export(impl interface{}) error {
	if sc.Interface == "" {
		return errs.New("service config requires an interface name")
	}
	scope := sc.Scope
	if scope == "" {
		scope = common.ScopeBoth
	}
	if scope == common.ScopeNone {
		return nil
	}

	params, err := sc.baseParams()
	if err != nil {
		return err
	}

	if scope == common.ScopeLocal || scope == common.ScopeBoth {
		if err := sc.exportLocal(impl, params); err != nil {
			return err
		}
	}
	if scope == common.ScopeRemote || scope == common.ScopeBoth {
		if err := sc.exportRemote(impl, params); err != nil {
			return err
		}
	}
	return nil
}

func (sc *ServiceConfig) baseParams() (map[string]string, error) {
	params := map[string]string{
		common.InterfaceKey: sc.Interface,
		common.SideKey:      common.ProviderSide,
		common.TimestampKey: strconv.FormatInt(time.Now().UnixMilli(), 10),
	}
	for k, v := range sc.Params {
		params[k] = v
	}
	if sc.Group != "" {
		params[common.GroupKey] = sc.Group
	}
	if sc.Version != "" {
		params[common.VersionKey] = sc.Version
	}
	if sc.Application != nil && sc.Application.Name != "" {
		params[common.ApplicationKey] = sc.Application.Name
	}
	if sc.Filter != "" {
		params[common.ServiceFilterKey] = sc.Filter
	}
	switch sc.Token {
	case "":
	case "true", "default":
		params[common.TokenKey] = uuid.NewString()
	default:
		params[common.TokenKey] = sc.Token
	}
	var names []string
	for _, mc := range sc.Methods {
		mp, err := methodParams(mc)
		if err != nil {
			return nil, err
		}
		for k, v := range mp {
			params[k] = v
		}
		names = append(names, mc.Name)
	}
	if len(names) > 0 {
		params[common.MethodsKey] = strings.Join(names, ",")
	}
	return params, nil
}

func (sc *ServiceConfig) exportLocal(impl interface{}, params map[string]string) error {
	url := common.NewURL(common.InjvmProtocol, "127.0.0.1", 0, sc.Interface, params)
	proto, err := protocol.GetProtocol(common.InjvmProtocol)
	if err != nil {
		return err
	}
	exp, err := proto.Export(proxy.GetInvoker(impl, url))
	if err != nil {
		return err
	}
	sc.track(exp)
	return nil
}

func (sc *ServiceConfig) exportRemote(impl interface{}, params map[string]string) error {
	protocols := sc.Protocols
	if len(protocols) == 0 {
		protocols = []*ProtocolConfig{{Name: common.DubboProtocol}}
	}
	for _, pc := range protocols {
		name := pc.Name
		if name == "" {
			name = common.DubboProtocol
		}
		host := bindHost(pc.Host, sc.Registries)
		port, err := bindPort(host, pc.Port)
		if err != nil {
			return errs.Wrap(err, "export: no bind port")
		}
		providerURL := common.NewURL(name, host, port, sc.Interface, params).AddParams(pc.Params)
		publishedURL := providerURL.SetAddress(registryHost(host), registryPort(port))

		if len(sc.Registries) == 0 {
			proto, err := protocol.GetProtocol(name)
			if err != nil {
				return err
			}
			exp, err := proto.Export(proxy.GetInvoker(impl, providerURL))
			if err != nil {
				return err
			}
			sc.track(exp)
			continue
		}

		for _, rc := range sc.Registries {
			regURL, err := rc.ToURL()
			if err != nil {
				return err
			}
			regURL = regURL.AddParam(common.ExportKey, publishedURL.String())
			regProto, err := protocol.GetProtocol(common.RegistryProtocol)
			if err != nil {
				return err
			}
			exp, err := regProto.Export(proxy.GetInvoker(impl, regURL))
			if err != nil {
				return err
			}
			sc.track(exp)
		}
	}
	logger.Default().Info("service exported",
		zap.String("interface", sc.Interface),
		zap.Int("endpoints", len(sc.exporters)))
	return nil
}

func (sc *ServiceConfig) track(exp protocol.Exporter) {
	sc.mu.Lock()
	sc.exporters = append(sc.exporters, exp)
	sc.mu.Unlock()
}

// Unexport withdraws every endpoint Export created. Idempotent.
func (sc *ServiceConfig) Unexport() {
	sc.mu.Lock()
	exporters := sc.exporters
	sc.exporters = nil
	sc.mu.Unlock()
	for _, e := range exporters {
		e.Unexport()
	}
}
