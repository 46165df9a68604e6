package cluster

import (
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
	"github.com/nmxmxh/janus/pkg/extension"
)

// Router narrows and orders the invoker candidates for one invocation.
type Router interface {
	URL() *common.URL
	// Priority orders routers in a chain; lower runs first.
	Priority() int64
	Route(invokers []protocol.Invoker, url *common.URL, inv protocol.Invocation) []protocol.Invoker
}

var routers = extension.NewPoint("router", "")

// SetRouterFactory registers a router kind. The factory parses one rule URL
// into a router instance.
func SetRouterFactory(name string, factory func(url *common.URL) (Router, error)) {
	routers.Register(name, func() interface{} { return routerFactory(factory) })
}

type routerFactory func(url *common.URL) (Router, error)

// NewRouter builds a router from a rule URL; the kind comes from
// url[router], falling back to the URL protocol.
func NewRouter(url *common.URL) (Router, error) {
	name := url.Param(common.RouterKey, url.Protocol)
	inst, err := routers.Get(name)
	if err != nil {
		return nil, err
	}
	return inst.(routerFactory)(url)
}

// SortRouters orders a chain by priority, stable for equal priorities.
func SortRouters(list []Router) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].Priority() < list[j].Priority() })
}

// ApplyRouters runs the chain. A router that empties the candidate list is
// honored; the Forbidden error surfaces later at selection.
func ApplyRouters(routers []Router, invokers []protocol.Invoker, url *common.URL, inv protocol.Invocation) []protocol.Invoker {
	for _, r := range routers {
		invokers = r.Route(invokers, url, inv)
	}
	return invokers
}

func init() {
	SetRouterFactory("condition", newConditionRouter)
	SetRouterFactory("script", newScriptRouter)
	SetRouterFactory("tag", func(url *common.URL) (Router, error) { return &tagRouter{url: url}, nil })
}

// conditionRouter evaluates a rule of the form "when => then". Both sides
// are boolean expressions; when guards against the consumer and invocation,
// then filters providers. An empty when matches every consumer; an empty
// then rejects every provider (a blacklist rule).
type conditionRouter struct {
	url   *common.URL
	force bool
	when  *vm.Program
	then  *vm.Program
}

func newConditionRouter(url *common.URL) (Router, error) {
	rule := strings.TrimSpace(url.Param(common.RuleKey, ""))
	if rule == "" {
		return nil, errs.New("condition router requires a rule parameter")
	}
	parts := strings.SplitN(rule, "=>", 2)
	r := &conditionRouter{url: url, force: url.ParamBool(common.ForceKey, false)}
	when := strings.TrimSpace(parts[0])
	var then string
	if len(parts) == 2 {
		then = strings.TrimSpace(parts[1])
	}
	var err error
	if when != "" {
		if r.when, err = expr.Compile(when, expr.AsBool()); err != nil {
			return nil, errs.Wrap(err, "condition router: bad when clause")
		}
	}
	if then != "" {
		if r.then, err = expr.Compile(then, expr.AsBool()); err != nil {
			return nil, errs.Wrap(err, "condition router: bad then clause")
		}
	}
	return r, nil
}

func (r *conditionRouter) URL() *common.URL { return r.url }

func (r *conditionRouter) Priority() int64 { return r.url.ParamInt(common.PriorityKey, 0) }

func (r *conditionRouter) Route(invokers []protocol.Invoker, url *common.URL, inv protocol.Invocation) []protocol.Invoker {
	if r.when != nil {
		match, err := runBool(r.when, routeEnv(url, inv))
		if err != nil || !match {
			return invokers
		}
	}
	if r.then == nil {
		return nil // matched consumers are denied every provider
	}
	out := make([]protocol.Invoker, 0, len(invokers))
	for _, ivk := range invokers {
		match, err := runBool(r.then, routeEnv(ivk.URL(), inv))
		if err == nil && match {
			out = append(out, ivk)
		}
	}
	if len(out) == 0 && !r.force {
		return invokers
	}
	return out
}

// scriptRouter keeps the invokers for which the expression holds. The
// expression sees the provider URL fields and the invocation.
type scriptRouter struct {
	url     *common.URL
	program *vm.Program
}

func newScriptRouter(url *common.URL) (Router, error) {
	rule := strings.TrimSpace(url.Param(common.RuleKey, ""))
	if rule == "" {
		return nil, errs.New("script router requires a rule parameter")
	}
	program, err := expr.Compile(rule, expr.AsBool())
	if err != nil {
		return nil, errs.Wrap(err, "script router: bad rule")
	}
	return &scriptRouter{url: url, program: program}, nil
}

func (r *scriptRouter) URL() *common.URL { return r.url }

func (r *scriptRouter) Priority() int64 { return r.url.ParamInt(common.PriorityKey, 0) }

func (r *scriptRouter) Route(invokers []protocol.Invoker, _ *common.URL, inv protocol.Invocation) []protocol.Invoker {
	out := make([]protocol.Invoker, 0, len(invokers))
	for _, ivk := range invokers {
		match, err := runBool(r.program, routeEnv(ivk.URL(), inv))
		if err == nil && match {
			out = append(out, ivk)
		}
	}
	return out
}

// tagRouter matches the invocation's tag attachment against the providers'
// tag parameter. Tagged requests fall back to untagged providers unless the
// rule is forced; untagged requests avoid tagged providers.
type tagRouter struct {
	url *common.URL
}

func (r *tagRouter) URL() *common.URL { return r.url }

func (r *tagRouter) Priority() int64 { return r.url.ParamInt(common.PriorityKey, 0) }

func (r *tagRouter) Route(invokers []protocol.Invoker, url *common.URL, inv protocol.Invocation) []protocol.Invoker {
	tag := inv.Attachment(common.TagKey)
	if tag == "" && url != nil {
		tag = url.Param(common.TagKey, "")
	}
	matched := make([]protocol.Invoker, 0, len(invokers))
	untagged := make([]protocol.Invoker, 0, len(invokers))
	for _, ivk := range invokers {
		ptag := ivk.URL().Param(common.TagKey, "")
		if ptag == "" {
			untagged = append(untagged, ivk)
		}
		if tag != "" && ptag == tag {
			matched = append(matched, ivk)
		}
	}
	if tag == "" {
		return untagged
	}
	if len(matched) > 0 {
		return matched
	}
	if r.url.ParamBool(common.ForceKey, false) {
		return nil
	}
	return untagged
}

// routeEnv is the expression environment for one URL and invocation.
func routeEnv(url *common.URL, inv protocol.Invocation) map[string]interface{} {
	env := map[string]interface{}{
		"host":      "",
		"port":      0,
		"protocol":  "",
		"method":    inv.MethodName(),
		"arguments": inv.Arguments(),
		"params":    map[string]string{},
	}
	if url != nil {
		env["host"] = url.Host
		env["port"] = url.Port
		env["protocol"] = url.Protocol
		env["params"] = url.Params()
	}
	return env
}

func runBool(p *vm.Program, env map[string]interface{}) (bool, error) {
	out, err := expr.Run(p, env)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	return ok && b, nil
}
