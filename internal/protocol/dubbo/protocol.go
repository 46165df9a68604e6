package dubbo

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/internal/remoting"
	"github.com/nmxmxh/janus/internal/remoting/exchange"
	_ "github.com/nmxmxh/janus/internal/remoting/tcp"
	_ "github.com/nmxmxh/janus/internal/remoting/ws"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
	"github.com/nmxmxh/janus/pkg/logger"
)

func init() {
	protocol.SetProtocol(common.DubboProtocol, func() protocol.Protocol { return NewProtocol() })
}

// Protocol exports invokers over the dubbo wire format and refers remote
// ones. Servers are shared per bind address, clients per remote address.
type Protocol struct {
	log *zap.Logger

	mu       sync.Mutex
	servers  map[string]*exchange.Server
	clients  map[string]*sharedClient
	services sync.Map // service key -> protocol.Invoker
}

// NewProtocol builds an empty dubbo protocol.
func NewProtocol() *Protocol {
	return &Protocol{
		log:     logger.Default(),
		servers: map[string]*exchange.Server{},
		clients: map[string]*sharedClient{},
	}
}

// Export implements protocol.Protocol. Repeated exports on the same address
// share one server; the handler routes by service key.
func (p *Protocol) Export(invoker protocol.Invoker) (protocol.Exporter, error) {
	url := invoker.URL()
	key := url.ServiceKey()
	p.services.Store(key, invoker)

	addr := url.Address()
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.servers[addr]; !ok {
		srv, err := exchange.Bind(url, exchange.HandlerFunc(p.reply), p.log)
		if err != nil {
			p.services.Delete(key)
			return nil, err
		}
		p.servers[addr] = srv
	}
	p.log.Info("exported service",
		zap.String("service", key), zap.String("address", addr))
	return &exporter{protocol: p, key: key, invoker: invoker}, nil
}

func (p *Protocol) reply(_ remoting.Channel, req *exchange.Request) (interface{}, error) {
	payload, ok := req.Data.(*RequestPayload)
	if !ok {
		return nil, errs.Serializationf("unexpected request body %T", req.Data)
	}
	key := serviceKeyOf(payload)
	v, ok := p.services.Load(key)
	if !ok {
		return nil, errs.Forbiddenf("no exported service for key %q", key)
	}
	invoker := v.(protocol.Invoker)

	inv := protocol.NewInvocation(payload.Method, protocol.SplitDesc(payload.TypesDesc), payload.Args)
	inv.SetAttachments(payload.Attachments)
	inv.SetInvoker(invoker)

	timeout := time.Duration(invoker.URL().MethodParamInt(payload.Method, common.TimeoutKey, common.DefaultTimeout)) * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result := invoker.Invoke(ctx, inv)
	if err := result.Error(); err != nil {
		return nil, err
	}
	return result.Value(), nil
}

func serviceKeyOf(p *RequestPayload) string {
	key := p.Path
	if g := p.Attachments[common.GroupKey]; g != "" {
		key = g + "/" + key
	}
	if p.Version != "" {
		key = key + ":" + p.Version
	}
	return key
}

// Refer implements protocol.Protocol.
func (p *Protocol) Refer(url *common.URL) (protocol.Invoker, error) {
	client, err := p.acquireClient(url)
	if err != nil {
		return nil, err
	}
	p.log.Info("referred service",
		zap.String("service", url.ServiceKey()), zap.String("address", url.Address()))
	return &dubboInvoker{
		BaseInvoker: protocol.NewBaseInvoker(url),
		protocol:    p,
		client:      client,
	}, nil
}

// Destroy closes every server and client this protocol opened.
func (p *Protocol) Destroy() {
	p.services.Range(func(k, v interface{}) bool {
		p.services.Delete(k)
		v.(protocol.Invoker).Destroy()
		return true
	})
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, srv := range p.servers {
		srv.Close()
		delete(p.servers, addr)
	}
	for addr, sc := range p.clients {
		sc.client.Close()
		delete(p.clients, addr)
	}
}

// sharedClient refcounts one exchange client per remote address.
type sharedClient struct {
	client *exchange.Client
	refs   int
}

func (p *Protocol) acquireClient(url *common.URL) (*exchange.Client, error) {
	addr := url.Address()
	p.mu.Lock()
	defer p.mu.Unlock()
	if sc, ok := p.clients[addr]; ok && sc.client.IsConnected() {
		sc.refs++
		return sc.client, nil
	}
	client, err := exchange.Connect(url, p.log)
	if err != nil {
		return nil, err
	}
	p.clients[addr] = &sharedClient{client: client, refs: 1}
	return client, nil
}

func (p *Protocol) releaseClient(client *exchange.Client) {
	addr := client.URL().Address()
	p.mu.Lock()
	defer p.mu.Unlock()
	sc, ok := p.clients[addr]
	if !ok || sc.client != client {
		return
	}
	sc.refs--
	if sc.refs <= 0 {
		delete(p.clients, addr)
		sc.client.Close()
	}
}

// exporter is the unexport handle of one exported service.
type exporter struct {
	protocol *Protocol
	key      string
	invoker  protocol.Invoker
	once     sync.Once
}

func (e *exporter) Invoker() protocol.Invoker { return e.invoker }

func (e *exporter) Unexport() {
	e.once.Do(func() {
		e.protocol.services.Delete(e.key)
	})
}

// dubboInvoker serializes invocations into exchange requests over a shared
// client.
type dubboInvoker struct {
	*protocol.BaseInvoker
	protocol *Protocol
	client   *exchange.Client
}

func (d *dubboInvoker) IsAvailable() bool {
	return !d.IsDestroyed() && d.client.IsConnected()
}

func (d *dubboInvoker) Invoke(ctx context.Context, inv protocol.Invocation) protocol.Result {
	if d.IsDestroyed() {
		return protocol.NewErrorResult(errs.ErrDestroyed)
	}
	url := d.URL()
	payload := &RequestPayload{
		Path:        url.Service(),
		Version:     url.Param(common.VersionKey, ""),
		Method:      inv.MethodName(),
		TypesDesc:   protocol.JoinDesc(inv.ParameterTypes()),
		Args:        inv.Arguments(),
		Attachments: inv.Attachments(),
	}
	payload.Attachments[common.InterfaceKey] = url.Service()
	if g := url.Param(common.GroupKey, ""); g != "" {
		payload.Attachments[common.GroupKey] = g
	}

	method := inv.MethodName()
	if url.MethodParam(method, common.OnewayKey, "") == "true" || inv.Attachment(common.OnewayKey) == "true" {
		if err := d.client.Oneway(payload); err != nil {
			return protocol.NewErrorResult(err)
		}
		return protocol.NewResult(nil)
	}

	timeout := time.Duration(url.MethodParamInt(method, common.TimeoutKey, common.DefaultTimeout)) * time.Millisecond
	resp, err := d.client.Request(ctx, payload, timeout)
	if err != nil {
		return protocol.NewErrorResult(err)
	}
	return protocol.NewResult(resp.Data)
}

func (d *dubboInvoker) Destroy() {
	if d.MarkDestroyed() {
		d.protocol.releaseClient(d.client)
	}
}
