package cluster

import (
	"math/rand"
	"time"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/pkg/common"
	"github.com/nmxmxh/janus/pkg/extension"
)

// LoadBalance picks one invoker out of the routed candidates.
type LoadBalance interface {
	Select(invokers []protocol.Invoker, url *common.URL, inv protocol.Invocation) protocol.Invoker
}

var loadBalances = extension.NewPoint("loadbalance", common.DefaultLoadBalance)

// SetLoadBalance registers a balancer under name.
func SetLoadBalance(name string, factory func() LoadBalance) {
	loadBalances.Register(name, func() interface{} { return factory() })
}

// GetLoadBalance returns the balancer registered under name.
func GetLoadBalance(name string) (LoadBalance, error) {
	inst, err := loadBalances.Get(name)
	if err != nil {
		return nil, err
	}
	return inst.(LoadBalance), nil
}

// Weight returns the effective weight of an invoker for one method: the
// configured weight scaled linearly while the provider is inside its warmup
// window, so a freshly started endpoint ramps up instead of taking full
// load cold.
func Weight(invoker protocol.Invoker, inv protocol.Invocation) int64 {
	url := invoker.URL()
	weight := url.MethodParamInt(inv.MethodName(), common.WeightKey, common.DefaultWeight)
	if weight <= 0 {
		return 0
	}
	ts := url.ParamInt(common.RemoteTimestampKey, url.ParamInt(common.TimestampKey, 0))
	if ts <= 0 {
		return weight
	}
	uptime := time.Now().UnixMilli() - ts
	warmup := url.ParamInt(common.WarmupKey, common.DefaultWarmup)
	if uptime > 0 && uptime < warmup {
		scaled := weight * uptime / warmup
		if scaled < 1 {
			return 1
		}
		return scaled
	}
	return weight
}

func init() {
	SetLoadBalance("random", func() LoadBalance { return &randomBalance{} })
}

// randomBalance picks uniformly when every weight is equal, proportionally
// to weight otherwise.
type randomBalance struct{}

func (b *randomBalance) Select(invokers []protocol.Invoker, _ *common.URL, inv protocol.Invocation) protocol.Invoker {
	if len(invokers) == 0 {
		return nil
	}
	if len(invokers) == 1 {
		return invokers[0]
	}
	total := int64(0)
	sameWeight := true
	weights := make([]int64, len(invokers))
	for i, ivk := range invokers {
		weights[i] = Weight(ivk, inv)
		total += weights[i]
		if i > 0 && weights[i] != weights[i-1] {
			sameWeight = false
		}
	}
	if !sameWeight && total > 0 {
		offset := rand.Int63n(total)
		for i, w := range weights {
			offset -= w
			if offset < 0 {
				return invokers[i]
			}
		}
	}
	return invokers[rand.Intn(len(invokers))]
}
