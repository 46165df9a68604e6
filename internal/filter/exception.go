package filter

import (
	"context"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
	"github.com/nmxmxh/janus/pkg/extension"
)

func init() {
	protocol.SetFilter("exception", extension.Activate{
		Group: []string{common.ProviderSide},
		Order: 100,
	}, func() protocol.Filter { return &exceptionFilter{} })
}

// exceptionFilter runs innermost on the provider and normalizes errors coming
// out of the service implementation: anything without a framework kind is a
// business error, answered with a service status rather than a dropped
// connection. Framework kinds pass through untouched.
type exceptionFilter struct{}

func (f *exceptionFilter) Invoke(ctx context.Context, next protocol.Invoker, inv protocol.Invocation) protocol.Result {
	res := next.Invoke(ctx, inv)
	err := res.Error()
	if err == nil {
		return res
	}
	if errs.KindOf(err) != errs.ErrUnknown {
		return res
	}
	wrapped := errs.Bizf("%s.%s: %s", next.URL().Service(), inv.MethodName(), err.Error())
	out := protocol.NewErrorResult(wrapped)
	for k, v := range res.Attachments() {
		out.SetAttachment(k, v)
	}
	return out
}
