package extension

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
)

type greeter interface {
	Greet() string
}

type plain struct{ name string }

func (p *plain) Greet() string { return p.name }

type decorated struct {
	inner greeter
	tag   string
}

func (d *decorated) Greet() string { return d.tag + "(" + d.inner.Greet() + ")" }

func TestPoint_GetSingleton(t *testing.T) {
	p := NewPoint("greeter.get", "a")
	p.Register("a", func() interface{} { return &plain{name: "a"} })

	first, err := p.Get("a")
	require.NoError(t, err)
	second, err := p.Get("a")
	require.NoError(t, err)
	assert.Same(t, first, second, "at most one instance per (point, name)")

	_, err = p.Get("missing")
	assert.ErrorIs(t, err, errs.ErrNoExtension)
}

func TestPoint_Wrappers(t *testing.T) {
	p := NewPoint("greeter.wrap", "a")
	p.Register("a", func() interface{} { return &plain{name: "a"} })
	p.RegisterWrapper("outer1", func(inner interface{}) interface{} {
		return &decorated{inner: inner.(greeter), tag: "w1"}
	})
	p.RegisterWrapper("outer2", func(inner interface{}) interface{} {
		return &decorated{inner: inner.(greeter), tag: "w2"}
	})

	inst, err := p.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "w2(w1(a))", inst.(greeter).Greet(), "wrappers apply in registration order, innermost first")

	assert.Panics(t, func() { p.RegisterWrapper("outer1", func(i interface{}) interface{} { return i }) })
}

func TestPoint_AdaptiveName(t *testing.T) {
	p := NewPoint("loadbalance.adapt", "random")
	p.Register("random", func() interface{} { return &plain{name: "random"} })
	p.Register("roundrobin", func() interface{} { return &plain{name: "roundrobin"} })

	url := common.NewURL("dubbo", "h", 1, "svc", map[string]string{"loadbalance": "roundrobin"})
	name, err := p.AdaptiveName(url, "loadbalance")
	require.NoError(t, err)
	assert.Equal(t, "roundrobin", name)

	// fall back to default when the key is absent
	name, err = p.AdaptiveName(common.NewURL("dubbo", "h", 1, "svc", nil), "loadbalance")
	require.NoError(t, err)
	assert.Equal(t, "random", name)

	// first non-empty key wins
	url = common.NewURL("dubbo", "h", 1, "svc", map[string]string{"greet.loadbalance": "leastactive"})
	name, err = p.AdaptiveName(url, "greet.loadbalance", "loadbalance")
	require.NoError(t, err)
	assert.Equal(t, "leastactive", name)

	// no keys consults the scheme
	inst, err := p.Adaptive(common.NewURL("roundrobin", "h", 1, "svc", nil))
	require.NoError(t, err)
	assert.Equal(t, "roundrobin", inst.(greeter).Greet())

	noDefault := NewPoint("nodefault.adapt", "")
	_, err = noDefault.AdaptiveName(common.NewURL("", "h", 1, "svc", nil), "missing")
	assert.ErrorIs(t, err, errs.ErrNoExtension)
}

func TestPoint_ActivateNames(t *testing.T) {
	p := NewPoint("filter.activate", "")
	p.RegisterActivate("log", Activate{Group: []string{"provider"}, Order: 1},
		func() interface{} { return &plain{name: "log"} })
	p.RegisterActivate("token", Activate{Group: []string{"provider"}, Value: []string{"token"}, Order: 2},
		func() interface{} { return &plain{name: "token"} })
	p.RegisterActivate("trace", Activate{Group: []string{"consumer"}},
		func() interface{} { return &plain{name: "trace"} })
	p.Register("custom", func() interface{} { return &plain{name: "custom"} })

	url := common.NewURL("dubbo", "h", 1, "svc", nil)

	// group match only; token inactive without its value key
	assert.Equal(t, []string{"log"}, p.ActivateNames(url, "service.filter", "provider"))

	// token activates once the url carries the key
	withToken := url.AddParam("token", "t1")
	assert.Equal(t, []string{"log", "token"}, p.ActivateNames(withToken, "service.filter", "provider"))

	// explicit names append after defaults, in listed order
	listed := withToken.AddParam("service.filter", "custom")
	assert.Equal(t, []string{"log", "token", "custom"}, p.ActivateNames(listed, "service.filter", "provider"))

	// -name suppression
	suppressed := withToken.AddParam("service.filter", "-log,custom")
	assert.Equal(t, []string{"token", "custom"}, p.ActivateNames(suppressed, "service.filter", "provider"))

	// -default drops the implicit group entirely
	noDefaults := withToken.AddParam("service.filter", "-default,custom")
	assert.Equal(t, []string{"custom"}, p.ActivateNames(noDefaults, "service.filter", "provider"))

	// consumer group sees only consumer activates
	assert.Equal(t, []string{"trace"}, p.ActivateNames(url, "reference.filter", "consumer"))
}

func TestPoint_DuplicateNamePanics(t *testing.T) {
	p := NewPoint("dup.point", "")
	p.Register("x", func() interface{} { return &plain{name: "x"} })
	assert.Panics(t, func() { p.Register("x", func() interface{} { return &plain{name: "x"} }) })
}

func TestGetPoint(t *testing.T) {
	p := NewPoint("lookup.point", "d")
	got, ok := GetPoint("lookup.point")
	require.True(t, ok)
	assert.Same(t, p, got)

	_, ok = GetPoint("never.registered")
	assert.False(t, ok)
}
