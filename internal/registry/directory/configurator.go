package directory

import (
	"github.com/nmxmxh/janus/pkg/common"
)

// configurator rewrites parameters of provider URLs that match its
// host/port/application filter. Configurators apply in notification order,
// so the last one wins per parameter.
type configurator struct {
	url *common.URL
}

func buildConfigurators(urls []*common.URL) []*configurator {
	out := make([]*configurator, 0, len(urls))
	for _, u := range urls {
		if u.Protocol != common.OverrideProtocol {
			continue
		}
		out = append(out, &configurator{url: u})
	}
	return out
}

func (c *configurator) matches(provider *common.URL) bool {
	host := c.url.Host
	if host != "" && host != common.AnyValue && host != "0.0.0.0" && host != provider.Host {
		return false
	}
	if c.url.Port > 0 && c.url.Port != provider.Port {
		return false
	}
	app := c.url.Param(common.ApplicationKey, "")
	if app != "" && app != common.AnyValue && app != provider.Param(common.ApplicationKey, "") {
		return false
	}
	return true
}

// controlKeys address the configurator itself rather than the provider.
var controlKeys = map[string]bool{
	common.CategoryKey:    true,
	common.DynamicKey:     true,
	common.ApplicationKey: true,
}

func (c *configurator) apply(provider *common.URL) *common.URL {
	if !c.matches(provider) {
		return provider
	}
	params := map[string]string{}
	for k, v := range c.url.Params() {
		if !controlKeys[k] {
			params[k] = v
		}
	}
	return provider.AddParams(params)
}

func applyConfigurators(configurators []*configurator, provider *common.URL) *common.URL {
	for _, c := range configurators {
		provider = c.apply(provider)
	}
	return provider
}
