package filter

import (
	"context"
	"strconv"
	"time"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/pkg/common"
	"github.com/nmxmxh/janus/pkg/extension"
)

func init() {
	protocol.SetFilter("context", extension.Activate{
		Group: []string{common.ConsumerSide},
		Order: -100,
	}, func() protocol.Filter { return &contextFilter{} })
	protocol.SetFilter("deadline", extension.Activate{
		Group: []string{common.ProviderSide},
		Order: -100,
	}, func() protocol.Filter { return &deadlineFilter{} })
}

// contextFilter stamps the identity of the referred service on every outgoing
// invocation so the provider can resolve the target without re-parsing the
// request path.
type contextFilter struct{}

func (f *contextFilter) Invoke(ctx context.Context, next protocol.Invoker, inv protocol.Invocation) protocol.Result {
	url := next.URL()
	inv.SetAttachment(common.InterfaceKey, url.Service())
	if v := url.Param(common.VersionKey, ""); v != "" {
		inv.SetAttachment(common.VersionKey, v)
	}
	if g := url.Param(common.GroupKey, ""); g != "" {
		inv.SetAttachment(common.GroupKey, g)
	}
	inv.SetAttachment(common.SideKey, common.ConsumerSide)
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline).Milliseconds()
		if remaining > 0 {
			inv.SetAttachment(common.TimeoutKey, strconv.FormatInt(remaining, 10))
		}
	}
	return next.Invoke(ctx, inv)
}

// deadlineFilter bounds provider-side execution by the timeout the consumer
// attached, so a call the caller already gave up on does not keep burning a
// worker.
type deadlineFilter struct{}

func (f *deadlineFilter) Invoke(ctx context.Context, next protocol.Invoker, inv protocol.Invocation) protocol.Result {
	if raw := inv.Attachment(common.TimeoutKey); raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
			defer cancel()
		}
	}
	return next.Invoke(ctx, inv)
}
