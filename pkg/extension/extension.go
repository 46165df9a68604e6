// Package extension implements the plug-in plane. Every pluggable concern
// (protocol, transporter, cluster, load balancer, filter, registry…) declares
// a Point; implementations register a named factory from package init, which
// is the compiled-in rendition of an SPI manifest. Consumers resolve by name,
// adaptively from URL parameters, or as an activate list.
package extension

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
)

// Factory builds a raw (unwrapped) extension instance.
type Factory func() interface{}

// Wrapper decorates an extension instance. Wrappers apply to every instance
// of a point, in registration order, innermost first.
type Wrapper func(interface{}) interface{}

// Activate describes when an extension joins an activate list without being
// named explicitly.
type Activate struct {
	// Group restricts activation to matching sides ("provider",
	// "consumer"); empty matches every group.
	Group []string
	// Value restricts activation to URLs carrying at least one of these
	// parameter keys with a non-empty value; empty means unconditional.
	Value []string
	// Order sorts defaults; lower runs earlier.
	Order int
}

type registration struct {
	name     string
	factory  Factory
	activate *Activate
	seq      int
}

// Point is a process-wide registry of named implementations for one
// extension interface.
type Point struct {
	point       string
	defaultName string

	mu        sync.Mutex
	regs      map[string]*registration
	order     []string
	wrapNames map[string]struct{}
	wrappers  []Wrapper
	instances map[string]interface{}
	seq       int
}

var (
	pointsMu sync.Mutex
	points   = map[string]*Point{}
)

// NewPoint declares an extension point. The default name may be empty, in
// which case adaptive resolution with no URL hint fails.
func NewPoint(point, defaultName string) *Point {
	p := &Point{
		point:       point,
		defaultName: defaultName,
		regs:        map[string]*registration{},
		wrapNames:   map[string]struct{}{},
		instances:   map[string]interface{}{},
	}
	pointsMu.Lock()
	points[point] = p
	pointsMu.Unlock()
	return p
}

// GetPoint returns a declared point by name.
func GetPoint(point string) (*Point, bool) {
	pointsMu.Lock()
	defer pointsMu.Unlock()
	p, ok := points[point]
	return p, ok
}

// Name returns the point's name.
func (p *Point) Name() string { return p.point }

// DefaultName returns the fallback extension name.
func (p *Point) DefaultName() string { return p.defaultName }

// Register adds a named factory. Registering the same name twice panics:
// extension names are a process-wide namespace and a duplicate is a wiring
// bug, not a runtime condition.
func (p *Point) Register(name string, factory Factory) {
	p.register(name, factory, nil)
}

// RegisterActivate adds a named factory with activate metadata.
func (p *Point) RegisterActivate(name string, meta Activate, factory Factory) {
	m := meta
	p.register(name, factory, &m)
}

func (p *Point) register(name string, factory Factory, meta *Activate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.regs[name]; dup {
		panic(fmt.Sprintf("extension: duplicate name %q for point %q", name, p.point))
	}
	p.seq++
	p.regs[name] = &registration{name: name, factory: factory, activate: meta, seq: p.seq}
	p.order = append(p.order, name)
}

// RegisterWrapper adds a decorator applied to every instance of this point,
// in registration order. A duplicate wrapper name panics; re-registering the
// same decorator would wrap instances twice.
func (p *Point) RegisterWrapper(name string, w Wrapper) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.wrapNames[name]; dup {
		panic(fmt.Sprintf("extension: wrapper cycle: %q registered twice for point %q", name, p.point))
	}
	p.wrapNames[name] = struct{}{}
	p.wrappers = append(p.wrappers, w)
}

// Has reports whether name is registered.
func (p *Point) Has(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.regs[name]
	return ok
}

// Names returns the registered names in registration order.
func (p *Point) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...)
}

// Get returns the singleton instance for name, constructing and wrapping it
// on first use. At most one instance exists per (point, name).
func (p *Point) Get(name string) (interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if inst, ok := p.instances[name]; ok {
		return inst, nil
	}
	reg, ok := p.regs[name]
	if !ok {
		return nil, fmt.Errorf("%w: no extension named %q for point %q", errs.ErrNoExtension, name, p.point)
	}
	inst := reg.factory()
	for _, w := range p.wrappers {
		inst = w(inst)
	}
	p.instances[name] = inst
	return inst, nil
}

// GetDefault returns the default extension instance.
func (p *Point) GetDefault() (interface{}, error) {
	if p.defaultName == "" {
		return nil, fmt.Errorf("%w: point %q has no default", errs.ErrNoExtension, p.point)
	}
	return p.Get(p.defaultName)
}

// AdaptiveName resolves the extension name from the URL: the first non-empty
// parameter among keys wins, then the point default. With no keys the URL
// scheme is consulted.
func (p *Point) AdaptiveName(url *common.URL, keys ...string) (string, error) {
	var name string
	if len(keys) == 0 {
		if url != nil {
			name = url.Protocol
		}
	} else if url != nil {
		for _, k := range keys {
			if v := url.Param(k, ""); v != "" {
				name = v
				break
			}
		}
	}
	if name == "" {
		name = p.defaultName
	}
	if name == "" {
		return "", fmt.Errorf("%w: point %q unresolved from url and no default", errs.ErrNoExtension, p.point)
	}
	return name, nil
}

// Adaptive resolves and constructs the instance chosen by the URL. This is
// the tagged-dispatch rendition of an adaptive extension: the concrete
// implementation is picked per call site from URL parameters.
func (p *Point) Adaptive(url *common.URL, keys ...string) (interface{}, error) {
	name, err := p.AdaptiveName(url, keys...)
	if err != nil {
		return nil, err
	}
	return p.Get(name)
}

// ActivateNames computes the ordered activate list for a URL:
//
//   - names listed at url[key] are taken in list order; a "-name" entry
//     suppresses that extension, "-default" suppresses the whole implicit
//     group;
//   - extensions whose Activate matches group (and whose Value keys appear
//     on the URL) join ahead of the explicit names, sorted by Order then
//     registration order.
func (p *Point) ActivateNames(url *common.URL, key, group string) []string {
	var values []string
	if url != nil && key != "" {
		values = common.SplitCommaList(url.Param(key, ""))
	}

	suppressed := map[string]bool{}
	for _, v := range values {
		if len(v) > 0 && v[0] == '-' {
			suppressed[v[1:]] = true
		}
	}

	var names []string
	if !suppressed["default"] {
		p.mu.Lock()
		var defaults []*registration
		for _, reg := range p.regs {
			if reg.activate == nil || suppressed[reg.name] || contains(values, reg.name) {
				continue
			}
			if !matchGroup(reg.activate.Group, group) {
				continue
			}
			if !matchValue(reg.activate.Value, url) {
				continue
			}
			defaults = append(defaults, reg)
		}
		p.mu.Unlock()
		sort.SliceStable(defaults, func(i, j int) bool {
			if defaults[i].activate.Order != defaults[j].activate.Order {
				return defaults[i].activate.Order < defaults[j].activate.Order
			}
			return defaults[i].seq < defaults[j].seq
		})
		for _, reg := range defaults {
			names = append(names, reg.name)
		}
	}

	for _, v := range values {
		if v == "" || v[0] == '-' || v == "default" || suppressed[v] {
			continue
		}
		names = append(names, v)
	}
	return names
}

// Activates resolves ActivateNames into instances. Unknown explicit names
// surface as errors; they indicate a configuration typo.
func (p *Point) Activates(url *common.URL, key, group string) ([]interface{}, error) {
	names := p.ActivateNames(url, key, group)
	out := make([]interface{}, 0, len(names))
	for _, n := range names {
		inst, err := p.Get(n)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// Instantiated returns the singletons constructed so far, keyed by name.
// Lifecycle code uses this to destroy only what was actually built.
func (p *Point) Instantiated() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]interface{}, len(p.instances))
	for k, v := range p.instances {
		out[k] = v
	}
	return out
}

// Reset drops cached instances. Tests use this to get fresh state; factories
// and wrappers stay registered.
func (p *Point) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instances = map[string]interface{}{}
}

func matchGroup(groups []string, group string) bool {
	if len(groups) == 0 || group == "" {
		return true
	}
	for _, g := range groups {
		if g == group || g == common.AnyValue {
			return true
		}
	}
	return false
}

func matchValue(keys []string, url *common.URL) bool {
	if len(keys) == 0 {
		return true
	}
	if url == nil {
		return false
	}
	for _, k := range keys {
		if url.Param(k, "") != "" {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
