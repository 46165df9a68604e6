// Package config assembles URLs from declarative service and reference
// descriptions and drives the export/refer pipelines. It is the layer user
// code talks to; everything below consumes URLs.
package config

import (
	"os"
	"strconv"

	"github.com/mitchellh/mapstructure"

	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
)

// ApplicationConfig names the deploying application. The name travels on
// every URL this process publishes.
type ApplicationConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// RegistryConfig describes one registry endpoint.
type RegistryConfig struct {
	// Protocol selects the backend: static, zookeeper, redis.
	Protocol string `mapstructure:"protocol"`
	// Address is host:port; zookeeper accepts a comma list with the rest
	// as backups.
	Address string `mapstructure:"address"`
	// Params are extra registry URL parameters (session, retry.period…).
	Params map[string]string `mapstructure:"params"`
}

// ToURL renders the registry:// URL pointing at this backend.
func (rc *RegistryConfig) ToURL() (*common.URL, error) {
	if rc.Address == "" {
		return nil, errs.New("registry config requires an address")
	}
	backend := rc.Protocol
	if backend == "" {
		backend = "static"
	}
	url, err := common.ParseURL(common.RegistryProtocol + "://" + rc.Address)
	if err != nil {
		return nil, errs.Wrap(err, "registry config: bad address")
	}
	return url.AddParams(rc.Params).AddParam(common.RegistryKey, backend), nil
}

// ProtocolConfig describes one transport binding for exported services.
type ProtocolConfig struct {
	// Name selects the protocol extension; dubbo when empty.
	Name string `mapstructure:"name"`
	// Host overrides bind-address discovery.
	Host string `mapstructure:"host"`
	// Port is the bind port; 0 asks the kernel for a free one.
	Port int `mapstructure:"port"`
	// Params are extra protocol URL parameters (serialization, threads…).
	Params map[string]string `mapstructure:"params"`
}

// MethodConfig carries per-method overrides. Zero values are omitted from
// the URL.
type MethodConfig struct {
	Name        string `mapstructure:"name"`
	Timeout     int    `mapstructure:"timeout"`
	Retries     int    `mapstructure:"retries"`
	Actives     int    `mapstructure:"actives"`
	Executes    int    `mapstructure:"executes"`
	LoadBalance string `mapstructure:"loadbalance"`
	Sticky      bool   `mapstructure:"sticky"`
	Oneway      bool   `mapstructure:"oneway"`
}

// methodParams flattens a MethodConfig into "<method>.<key>" URL parameters.
func methodParams(mc *MethodConfig) (map[string]string, error) {
	if mc.Name == "" {
		return nil, errs.New("method config requires a name")
	}
	var raw map[string]interface{}
	if err := mapstructure.Decode(mc, &raw); err != nil {
		return nil, errs.Wrap(err, "method config")
	}
	out := map[string]string{}
	for k, v := range raw {
		if k == "name" {
			continue
		}
		s := ""
		switch t := v.(type) {
		case string:
			s = t
		case int:
			if t != 0 {
				s = strconv.Itoa(t)
			}
		case bool:
			if t {
				s = "true"
			}
		}
		if s != "" {
			out[mc.Name+"."+k] = s
		}
	}
	return out, nil
}

// bindHost resolves the address a server listens on: the bind environment
// override, then explicit config, then the address a connection toward the
// first registry would use, then the first non-loopback interface.
func bindHost(configured string, registries []*RegistryConfig) string {
	if env := os.Getenv(common.EnvIPToBind); env != "" {
		return env
	}
	if configured != "" && configured != "0.0.0.0" {
		return configured
	}
	for _, rc := range registries {
		if addrs := common.SplitCommaList(rc.Address); len(addrs) > 0 {
			return common.ProbeLocalAddr(addrs[0])
		}
	}
	return common.LocalHost()
}

// bindPort resolves the listen port: the environment override, then explicit
// config, then a kernel-assigned free port.
func bindPort(host string, configured int) (int, error) {
	if env := os.Getenv(common.EnvPortToBind); env != "" {
		if p, err := strconv.Atoi(env); err == nil && p > 0 {
			return p, nil
		}
	}
	if configured > 0 {
		return configured, nil
	}
	return common.FreePort(host)
}

// registryHost resolves the address published to registries, which may
// differ from the bind address behind NAT.
func registryHost(bound string) string {
	if env := os.Getenv(common.EnvIPToRegistry); env != "" {
		return env
	}
	return bound
}

func registryPort(bound int) int {
	if env := os.Getenv(common.EnvPortToRegistry); env != "" {
		if p, err := strconv.Atoi(env); err == nil && p > 0 {
			return p
		}
	}
	return bound
}
