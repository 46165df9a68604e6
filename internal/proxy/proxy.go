// Package proxy bridges Go values and the invocation model: Implement fills
// a consumer-side stub struct with functions that call through an invoker,
// and GetInvoker wraps a provider-side service value so inbound invocations
// dispatch onto its methods by reflection.
package proxy

import (
	"context"
	"reflect"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
)

var (
	errType = reflect.TypeOf((*error)(nil)).Elem()
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// Proxy turns invocations into calls on an invoker.
type Proxy struct {
	invoker protocol.Invoker
	attach  map[string]string
}

// New builds a proxy over invoker. Attachments, if any, are stamped on every
// outgoing invocation.
func New(invoker protocol.Invoker, attach map[string]string) *Proxy {
	return &Proxy{invoker: invoker, attach: attach}
}

// Invoker returns the underlying invoker.
func (p *Proxy) Invoker() protocol.Invoker { return p.invoker }

// Invoke performs one untyped call.
func (p *Proxy) Invoke(ctx context.Context, method string, args []interface{}) (interface{}, error) {
	inv := protocol.NewInvocation(method, protocol.TypesOf(args), args)
	inv.SetAttachments(p.attach)
	res := p.invoker.Invoke(ctx, inv)
	return res.Value(), res.Error()
}

// Implement fills every exported func field of the struct behind stub with an
// implementation calling through the proxy. Supported shapes:
//
//	func(ctx context.Context, args...) (T, error)
//	func(ctx context.Context, args...) error
//
// The field name is the wire method name. Fields of other shapes are left
// untouched.
func (p *Proxy) Implement(stub interface{}) error {
	v := reflect.ValueOf(stub)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return errs.New("proxy: stub must be a pointer to a struct")
	}
	s := v.Elem()
	t := s.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Type.Kind() != reflect.Func || !s.Field(i).CanSet() {
			continue
		}
		ft := field.Type
		if !callableShape(ft) {
			continue
		}
		method := field.Name
		fn := reflect.MakeFunc(ft, func(in []reflect.Value) []reflect.Value {
			ctx := in[0].Interface().(context.Context)
			args := make([]interface{}, 0, len(in)-1)
			for _, a := range in[1:] {
				args = append(args, a.Interface())
			}
			val, err := p.Invoke(ctx, method, args)
			return returnValues(ft, val, err)
		})
		s.Field(i).Set(fn)
	}
	return nil
}

func callableShape(ft reflect.Type) bool {
	if ft.NumIn() < 1 || ft.In(0) != ctxType {
		return false
	}
	switch ft.NumOut() {
	case 1:
		return ft.Out(0) == errType
	case 2:
		return ft.Out(1) == errType
	default:
		return false
	}
}

func returnValues(ft reflect.Type, val interface{}, err error) []reflect.Value {
	errVal := reflect.Zero(errType)
	if err != nil {
		errVal = reflect.ValueOf(err)
	}
	if ft.NumOut() == 1 {
		return []reflect.Value{errVal}
	}
	out := reflect.Zero(ft.Out(0))
	if val != nil {
		rv := reflect.ValueOf(val)
		if rv.Type().AssignableTo(ft.Out(0)) {
			out = rv
		} else if rv.Type().ConvertibleTo(ft.Out(0)) {
			out = rv.Convert(ft.Out(0))
		}
	}
	return []reflect.Value{out, errVal}
}

// GetInvoker wraps a service value as an invoker for url. Invocations are
// dispatched onto impl's methods by name; a method may optionally take a
// leading context and optionally return (T, error), T or error.
func GetInvoker(impl interface{}, url *common.URL) protocol.Invoker {
	return &serviceInvoker{
		BaseInvoker: protocol.NewBaseInvoker(url),
		impl:        reflect.ValueOf(impl),
	}
}

type serviceInvoker struct {
	*protocol.BaseInvoker
	impl reflect.Value
}

func (s *serviceInvoker) Invoke(ctx context.Context, inv protocol.Invocation) protocol.Result {
	if s.IsDestroyed() {
		return protocol.NewErrorResult(errs.ErrDestroyed)
	}
	method := s.impl.MethodByName(inv.MethodName())
	if !method.IsValid() {
		return protocol.NewErrorResult(errs.Bizf(
			"service %s has no method %s", s.Service(), inv.MethodName()))
	}
	mt := method.Type()
	in, err := buildArgs(ctx, mt, inv.Arguments())
	if err != nil {
		return protocol.NewErrorResult(err)
	}
	out := method.Call(in)
	return buildResult(out)
}

func buildArgs(ctx context.Context, mt reflect.Type, args []interface{}) ([]reflect.Value, error) {
	in := make([]reflect.Value, 0, mt.NumIn())
	next := 0
	if mt.NumIn() > 0 && mt.In(0) == ctxType {
		in = append(in, reflect.ValueOf(ctx))
		next = 1
	}
	if mt.NumIn()-next != len(args) {
		return nil, errs.Bizf("argument count mismatch: want %d, got %d", mt.NumIn()-next, len(args))
	}
	for i, a := range args {
		want := mt.In(next + i)
		if a == nil {
			in = append(in, reflect.Zero(want))
			continue
		}
		av := reflect.ValueOf(a)
		switch {
		case av.Type().AssignableTo(want):
			in = append(in, av)
		case av.Type().ConvertibleTo(want):
			in = append(in, av.Convert(want))
		default:
			return nil, errs.Bizf("argument %d: cannot use %s as %s", i, av.Type(), want)
		}
	}
	return in, nil
}

func buildResult(out []reflect.Value) protocol.Result {
	switch len(out) {
	case 0:
		return protocol.NewResult(nil)
	case 1:
		if out[0].Type() == errType {
			if !out[0].IsNil() {
				return protocol.NewErrorResult(out[0].Interface().(error))
			}
			return protocol.NewResult(nil)
		}
		return protocol.NewResult(out[0].Interface())
	default:
		last := out[len(out)-1]
		if last.Type() == errType && !last.IsNil() {
			return protocol.NewErrorResult(last.Interface().(error))
		}
		return protocol.NewResult(out[0].Interface())
	}
}
