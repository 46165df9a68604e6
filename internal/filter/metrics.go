package filter

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
	"github.com/nmxmxh/janus/pkg/extension"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "janus",
		Name:      "requests_total",
		Help:      "RPC invocations by service, method, side and outcome.",
	}, []string{"service", "method", "side", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "janus",
		Name:      "request_duration_seconds",
		Help:      "RPC invocation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"service", "method", "side"})
)

func init() {
	protocol.SetFilter("metrics", extension.Activate{
		Group: []string{common.ProviderSide, common.ConsumerSide},
		Order: -95,
	}, func() protocol.Filter { return &metricsFilter{} })
}

// metricsFilter exports invocation counters and latency histograms. The
// outcome label is the error kind, so dashboards can split timeouts from
// business failures without parsing messages.
type metricsFilter struct{}

func (f *metricsFilter) Invoke(ctx context.Context, next protocol.Invoker, inv protocol.Invocation) protocol.Result {
	url := next.URL()
	side := url.Param(common.SideKey, common.ProviderSide)
	start := time.Now()
	res := next.Invoke(ctx, inv)
	elapsed := time.Since(start)

	outcome := "ok"
	if err := res.Error(); err != nil {
		outcome = errs.KindOf(err).Error()
	}
	requestsTotal.WithLabelValues(url.ServiceKey(), inv.MethodName(), side, outcome).Inc()
	requestDuration.WithLabelValues(url.ServiceKey(), inv.MethodName(), side).Observe(elapsed.Seconds())
	return res
}
