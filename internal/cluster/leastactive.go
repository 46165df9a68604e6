package cluster

import (
	"math/rand"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/pkg/common"
)

func init() {
	SetLoadBalance("leastactive", func() LoadBalance { return &leastActiveBalance{} })
}

// leastActiveBalance routes to the invoker with the fewest in-flight
// invocations for the method. When several tie at the minimum, the pick is
// weighted random among them, uniform if their weights are equal.
type leastActiveBalance struct{}

func (b *leastActiveBalance) Select(invokers []protocol.Invoker, _ *common.URL, inv protocol.Invocation) protocol.Invoker {
	if len(invokers) == 0 {
		return nil
	}
	var (
		least       int64 = -1
		minima      []protocol.Invoker
		weights     []int64
		weightTotal int64
		sameWeight  = true
	)
	for _, ivk := range invokers {
		active := protocol.GetMethodStatus(ivk.URL(), inv.MethodName()).Active()
		if least == -1 || active < least {
			least = active
			minima = minima[:0]
			weights = weights[:0]
			weightTotal = 0
			sameWeight = true
		}
		if active == least {
			w := Weight(ivk, inv)
			if len(weights) > 0 && w != weights[len(weights)-1] {
				sameWeight = false
			}
			minima = append(minima, ivk)
			weights = append(weights, w)
			weightTotal += w
		}
	}
	if len(minima) == 1 {
		return minima[0]
	}
	if !sameWeight && weightTotal > 0 {
		offset := rand.Int63n(weightTotal)
		for i, w := range weights {
			offset -= w
			if offset < 0 {
				return minima[i]
			}
		}
	}
	return minima[rand.Intn(len(minima))]
}
