package filter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
	"github.com/nmxmxh/janus/pkg/extension"
	"github.com/nmxmxh/janus/pkg/logger"
)

func init() {
	protocol.SetFilter("accesslog", extension.Activate{
		Group: []string{common.ProviderSide},
		Value: []string{common.AccessLogKey},
		Order: -90,
	}, func() protocol.Filter { return &accessLogFilter{log: logger.Default()} })
}

// accessLogFilter records one structured line per invocation, tagged with a
// request id that downstream error logging picks up from the context.
type accessLogFilter struct {
	log *zap.Logger
}

func (f *accessLogFilter) Invoke(ctx context.Context, next protocol.Invoker, inv protocol.Invocation) protocol.Result {
	id := uuid.NewString()
	ctx = errs.WithRequestID(ctx, id)
	start := time.Now()
	res := next.Invoke(ctx, inv)
	fields := []zap.Field{
		zap.String("request_id", id),
		zap.String("service", next.URL().ServiceKey()),
		zap.String("method", inv.MethodName()),
		zap.Int("args", len(inv.Arguments())),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err := res.Error(); err != nil {
		f.log.Warn("access", append(fields, zap.Error(err))...)
	} else {
		f.log.Info("access", fields...)
	}
	return res
}
