package config

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nmxmxh/janus/internal/cluster"
	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/internal/proxy"
	regproto "github.com/nmxmxh/janus/internal/registry/protocol"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
)

// ReferenceConfig declares one referred service. Refer resolves providers
// either from a direct URL list or through registries, and Implement wires
// the resulting invoker into a typed stub.
type ReferenceConfig struct {
	Interface   string
	Group       string
	Version     string
	Application *ApplicationConfig
	// URL short-circuits discovery: a comma list of provider addresses.
	URL        string
	Registries []*RegistryConfig
	Methods    []*MethodConfig

	Cluster     string
	LoadBalance string
	Retries     int
	Timeout     int
	Sticky      bool
	// Generic references carry untyped calls; see the generic filter.
	Generic bool
	// Filter appends to the consumer filter chain.
	Filter string
	// Check makes Refer fail when no provider is available. Defaults on;
	// CheckDisabled turns it off.
	CheckDisabled bool
	Params        map[string]string

	mu      sync.Mutex
	invoker protocol.Invoker
}

// Refer resolves the reference and returns the cluster invoker.
func (rc *ReferenceConfig) Refer() (protocol.Invoker, error) {
	if rc.Interface == "" {
		return nil, errs.New("reference config requires an interface name")
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.invoker != nil {
		return rc.invoker, nil
	}

	params, err := rc.consumerParams()
	if err != nil {
		return nil, err
	}

	var invoker protocol.Invoker
	if rc.URL != "" {
		invoker, err = rc.referDirect(params)
	} else {
		invoker, err = rc.referRegistries(params)
	}
	if err != nil {
		return nil, err
	}

	if !rc.CheckDisabled && !invoker.IsAvailable() {
		invoker.Destroy()
		return nil, errs.Forbiddenf("no available provider for %s", rc.Interface)
	}
	rc.invoker = invoker
	return invoker, nil
}

func (rc *ReferenceConfig) consumerParams() (map[string]string, error) {
	params := map[string]string{
		common.InterfaceKey: rc.Interface,
		common.SideKey:      common.ConsumerSide,
		common.TimestampKey: strconv.FormatInt(time.Now().UnixMilli(), 10),
	}
	for k, v := range rc.Params {
		params[k] = v
	}
	if rc.Group != "" {
		params[common.GroupKey] = rc.Group
	}
	if rc.Version != "" {
		params[common.VersionKey] = rc.Version
	}
	if rc.Application != nil && rc.Application.Name != "" {
		params[common.ApplicationKey] = rc.Application.Name
	}
	if rc.Cluster != "" {
		params[common.ClusterKey] = rc.Cluster
	}
	if rc.LoadBalance != "" {
		params[common.LoadBalanceKey] = rc.LoadBalance
	}
	if rc.Retries > 0 {
		params[common.RetriesKey] = strconv.Itoa(rc.Retries)
	}
	if rc.Timeout > 0 {
		params[common.TimeoutKey] = strconv.Itoa(rc.Timeout)
	}
	if rc.Sticky {
		params[common.StickyKey] = "true"
	}
	if rc.Generic {
		params[common.GenericKey] = "true"
	}
	if rc.Filter != "" {
		params[common.ReferenceFilterKey] = rc.Filter
	}
	if rc.CheckDisabled {
		params[common.CheckKey] = "false"
	}
	var names []string
	for _, mc := range rc.Methods {
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

func (rc *ReferenceConfig) referDirect(params map[string]string) (protocol.Invoker, error) {
	addrs := common.SplitCommaList(rc.URL)
	if len(addrs) == 0 {
		return nil, errs.New("reference config: url lists no endpoints")
	}
	invokers := make([]protocol.Invoker, 0, len(addrs))
	for _, raw := range addrs {
		url, err := common.ParseURL(raw)
		if err != nil {
			destroyAll(invokers)
			return nil, errs.Wrap(err, "reference: bad direct url")
		}
		if url.Path == "" {
			url.Path = rc.Interface
		}
		url = url.AddParams(params)
		proto, err := protocol.GetProtocol(url.Protocol)
		if err != nil {
			destroyAll(invokers)
			return nil, err
		}
		inv, err := proto.Refer(url)
		if err != nil {
			destroyAll(invokers)
			return nil, err
		}
		invokers = append(invokers, inv)
	}
	if len(invokers) == 1 {
		return invokers[0], nil
	}
	dir := cluster.NewStaticDirectory(invokers[0].URL(), invokers)
	return cluster.Join(dir)
}

func (rc *ReferenceConfig) referRegistries(params map[string]string) (protocol.Invoker, error) {
	if len(rc.Registries) == 0 {
		return nil, errs.New("reference config requires a direct url or registries")
	}
	regProto, err := protocol.GetProtocol(common.RegistryProtocol)
	if err != nil {
		return nil, err
	}
	invokers := make([]protocol.Invoker, 0, len(rc.Registries))
	for _, r := range rc.Registries {
		regURL, err := r.ToURL()
		if err != nil {
			destroyAll(invokers)
			return nil, err
		}
		regURL = regURL.AddParam(common.ReferKey, regproto.EncodeParams(params))
		inv, err := regProto.Refer(regURL)
		if err != nil {
			destroyAll(invokers)
			return nil, err
		}
		invokers = append(invokers, inv)
	}
	if len(invokers) == 1 {
		return invokers[0], nil
	}
	// Multiple registries federate behind one more cluster layer; the first
	// available registry serves the call.
	dir := cluster.NewStaticDirectory(
		invokers[0].URL().AddParam(common.ClusterKey, "available"), invokers)
	return cluster.Join(dir)
}

// Implement fills stub's func fields with calls through the reference. It
// refers on first use.
func (rc *ReferenceConfig) Implement(stub interface{}) error {
	invoker, err := rc.Refer()
	if err != nil {
		return err
	}
	return rc.proxyFor(invoker).Implement(stub)
}

// GetProxy returns the untyped call handle for generic invocation.
func (rc *ReferenceConfig) GetProxy() (*proxy.Proxy, error) {
	invoker, err := rc.Refer()
	if err != nil {
		return nil, err
	}
	return rc.proxyFor(invoker), nil
}

func (rc *ReferenceConfig) proxyFor(invoker protocol.Invoker) *proxy.Proxy {
	attach := map[string]string{}
	if rc.Application != nil && rc.Application.Name != "" {
		attach[common.ApplicationKey] = rc.Application.Name
	}
	return proxy.New(invoker, attach)
}

// Destroy releases the referred invoker.
func (rc *ReferenceConfig) Destroy() {
	rc.mu.Lock()
	inv := rc.invoker
	rc.invoker = nil
	rc.mu.Unlock()
	if inv != nil {
		inv.Destroy()
	}
}

func destroyAll(invokers []protocol.Invoker) {
	for _, inv := range invokers {
		inv.Destroy()
	}
}
