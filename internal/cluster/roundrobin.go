package cluster

import (
	"sync"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/pkg/common"
)

func init() {
	SetLoadBalance("roundrobin", func() LoadBalance {
		return &roundRobinBalance{methods: map[string]map[string]*rrState{}}
	})
}

// roundRobinBalance implements smoothed weighted round robin: every pick
// raises each candidate's current weight by its effective weight, takes the
// maximum and drops it by the weight total, so heavier invokers win more
// often but never twice in a burst. Ties resolve by list order.
type roundRobinBalance struct {
	mu      sync.Mutex
	methods map[string]map[string]*rrState // serviceKey.method -> invoker id -> state
}

type rrState struct {
	current int64
}

func (b *roundRobinBalance) Select(invokers []protocol.Invoker, url *common.URL, inv protocol.Invocation) protocol.Invoker {
	if len(invokers) == 0 {
		return nil
	}
	key := url.ServiceKey() + "." + inv.MethodName()

	b.mu.Lock()
	defer b.mu.Unlock()
	states, ok := b.methods[key]
	if !ok {
		states = map[string]*rrState{}
		b.methods[key] = states
	}

	var (
		total    int64
		best     protocol.Invoker
		bestSt   *rrState
		bestCurr int64
	)
	for _, ivk := range invokers {
		id := ivk.URL().Address()
		st, ok := states[id]
		if !ok {
			st = &rrState{}
			states[id] = st
		}
		w := Weight(ivk, inv)
		st.current += w
		total += w
		if best == nil || st.current > bestCurr {
			best, bestSt, bestCurr = ivk, st, st.current
		}
	}
	bestSt.current -= total
	return best
}
