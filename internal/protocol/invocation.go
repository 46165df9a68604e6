package protocol

import "sync"

// Invocation describes one call: method, typed arguments and caller-set
// attachments. The cluster layer stamps the target invoker on it before
// dispatch.
type Invocation interface {
	MethodName() string
	ParameterTypes() []string
	Arguments() []interface{}
	Attachments() map[string]string
	Attachment(key string) string
	SetAttachment(key, value string)
	Invoker() Invoker
	SetInvoker(inv Invoker)
}

// RPCInvocation is the standard Invocation carrier.
type RPCInvocation struct {
	method  string
	types   []string
	args    []interface{}
	mu      sync.RWMutex
	attach  map[string]string
	invoker Invoker
}

// NewInvocation builds an invocation for method with JVM-style parameter
// type descriptors and matching argument values.
func NewInvocation(method string, types []string, args []interface{}) *RPCInvocation {
	return &RPCInvocation{
		method: method,
		types:  types,
		args:   args,
		attach: map[string]string{},
	}
}

// MethodName returns the invoked method.
func (inv *RPCInvocation) MethodName() string { return inv.method }

// ParameterTypes returns the parameter type descriptors.
func (inv *RPCInvocation) ParameterTypes() []string { return inv.types }

// Arguments returns the argument values.
func (inv *RPCInvocation) Arguments() []interface{} { return inv.args }

// Attachments returns a copy of the attachment map.
func (inv *RPCInvocation) Attachments() map[string]string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	out := make(map[string]string, len(inv.attach))
	for k, v := range inv.attach {
		out[k] = v
	}
	return out
}

// Attachment returns one attachment value, empty when absent.
func (inv *RPCInvocation) Attachment(key string) string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.attach[key]
}

// SetAttachment stamps one attachment.
func (inv *RPCInvocation) SetAttachment(key, value string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.attach[key] = value
}

// SetAttachments stamps every entry of m.
func (inv *RPCInvocation) SetAttachments(m map[string]string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	for k, v := range m {
		inv.attach[k] = v
	}
}

// Invoker returns the target invoker set by the cluster layer.
func (inv *RPCInvocation) Invoker() Invoker { return inv.invoker }

// SetInvoker stamps the target invoker.
func (inv *RPCInvocation) SetInvoker(i Invoker) { inv.invoker = i }

// Clone returns a fresh invocation with copied attachments. Retry attempts
// use clones so attachments set by a prior attempt's filters do not leak
// into the next.
func (inv *RPCInvocation) Clone() *RPCInvocation {
	c := NewInvocation(inv.method, inv.types, inv.args)
	inv.mu.RLock()
	for k, v := range inv.attach {
		c.attach[k] = v
	}
	inv.mu.RUnlock()
	return c
}
