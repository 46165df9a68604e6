package filter

import (
	"context"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/internal/serialize"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
	"github.com/nmxmxh/janus/pkg/extension"
)

func init() {
	protocol.SetFilter("generic", extension.Activate{
		Group: []string{common.ConsumerSide},
		Value: []string{common.GenericKey},
		Order: -70,
	}, func() protocol.Filter { return &genericFilter{} })
	protocol.SetFilter("genericservice", extension.Activate{
		Group: []string{common.ProviderSide},
		Order: -70,
	}, func() protocol.Filter { return &genericServiceFilter{} })
}

// genericFilter converts typed invocations on a generic reference into the
// three-argument $invoke form: method name, descriptor list and untyped
// arguments. Providers without the consumer's types can still serve the call.
type genericFilter struct{}

func (f *genericFilter) Invoke(ctx context.Context, next protocol.Invoker, inv protocol.Invocation) protocol.Result {
	if inv.MethodName() == common.GenericInvoke {
		return next.Invoke(ctx, inv)
	}
	if !next.URL().ParamBool(common.GenericKey, false) {
		return next.Invoke(ctx, inv)
	}
	args := make([]interface{}, len(inv.Arguments()))
	for i, a := range inv.Arguments() {
		args[i] = serialize.ToStringMap(a)
	}
	generic := protocol.NewInvocation(common.GenericInvoke,
		[]string{"Ljava/lang/String;", "[Ljava/lang/String;", "[Ljava/lang/Object;"},
		[]interface{}{inv.MethodName(), inv.ParameterTypes(), args})
	generic.SetAttachments(inv.Attachments())
	generic.SetAttachment(common.GenericKey, "true")
	return next.Invoke(ctx, generic)
}

// genericServiceFilter unpacks inbound $invoke calls into plain invocations
// so the exported service never sees the generic envelope.
type genericServiceFilter struct{}

func (f *genericServiceFilter) Invoke(ctx context.Context, next protocol.Invoker, inv protocol.Invocation) protocol.Result {
	if inv.MethodName() != common.GenericInvoke || len(inv.Arguments()) != 3 {
		return next.Invoke(ctx, inv)
	}
	method, ok := inv.Arguments()[0].(string)
	if !ok || method == "" {
		return protocol.NewErrorResult(errs.Bizf("generic call without a method name"))
	}
	types := toStringSlice(inv.Arguments()[1])
	args, ok := inv.Arguments()[2].([]interface{})
	if !ok {
		return protocol.NewErrorResult(errs.Bizf("generic call %s: arguments are not a list", method))
	}
	plain := protocol.NewInvocation(method, types, args)
	plain.SetAttachments(inv.Attachments())
	plain.SetInvoker(inv.Invoker())
	return next.Invoke(ctx, plain)
}

func toStringSlice(v interface{}) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, serialize.ToString(e))
		}
		return out
	default:
		return nil
	}
}
