package filter

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/pkg/common"
	"github.com/nmxmxh/janus/pkg/extension"
	"github.com/nmxmxh/janus/pkg/logger"
)

func init() {
	protocol.SetFilter("timeout", extension.Activate{
		Group: []string{common.ProviderSide},
		Order: 90,
	}, func() protocol.Filter { return &timeoutFilter{log: logger.Default()} })
}

// timeoutFilter warns when a service method overruns its configured timeout.
// The consumer already gave up on such a call; the warning points at the slow
// implementation.
type timeoutFilter struct {
	log *zap.Logger
}

func (f *timeoutFilter) Invoke(ctx context.Context, next protocol.Invoker, inv protocol.Invocation) protocol.Result {
	budget := next.URL().MethodParamInt(inv.MethodName(), common.TimeoutKey, common.DefaultTimeout)
	start := time.Now()
	res := next.Invoke(ctx, inv)
	if elapsed := time.Since(start); elapsed.Milliseconds() > budget {
		f.log.Warn("slow service method",
			zap.String("service", next.URL().ServiceKey()),
			zap.String("method", inv.MethodName()),
			zap.Duration("elapsed", elapsed),
			zap.Int64("timeout_ms", budget))
	}
	return res
}
