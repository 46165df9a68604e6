package cluster

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/pkg/common"
)

func init() {
	SetLoadBalance("consistenthash", func() LoadBalance {
		return &consistentHashBalance{selectors: map[string]*hashSelector{}}
	})
}

// consistentHashBalance maps invocations to invokers by hashing the
// argument values named by url[hash.arguments] (default: the first
// argument) onto a ring of virtual nodes. Removing an unrelated invoker
// leaves existing keys on their provider.
type consistentHashBalance struct {
	mu        sync.Mutex
	selectors map[string]*hashSelector // serviceKey.method -> selector
}

func (b *consistentHashBalance) Select(invokers []protocol.Invoker, url *common.URL, inv protocol.Invocation) protocol.Invoker {
	if len(invokers) == 0 {
		return nil
	}
	key := url.ServiceKey() + "." + inv.MethodName()
	identity := invokersIdentity(invokers)

	b.mu.Lock()
	sel, ok := b.selectors[key]
	if !ok || sel.identity != identity {
		sel = newHashSelector(invokers, url, inv.MethodName(), identity)
		b.selectors[key] = sel
	}
	b.mu.Unlock()
	return sel.pick(inv)
}

// invokersIdentity fingerprints the invoker list so the ring rebuilds only
// when membership changes.
func invokersIdentity(invokers []protocol.Invoker) string {
	addrs := make([]string, len(invokers))
	for i, ivk := range invokers {
		addrs[i] = ivk.URL().Address()
	}
	sort.Strings(addrs)
	return strings.Join(addrs, ",")
}

type hashSelector struct {
	identity string
	hashArgs []int
	ring     []uint32
	nodes    map[uint32]protocol.Invoker
}

func newHashSelector(invokers []protocol.Invoker, url *common.URL, method, identity string) *hashSelector {
	s := &hashSelector{identity: identity, nodes: map[uint32]protocol.Invoker{}}
	for _, raw := range common.SplitCommaList(url.MethodParam(method, common.HashArgumentsKey, "0")) {
		if idx, err := strconv.Atoi(raw); err == nil {
			s.hashArgs = append(s.hashArgs, idx)
		}
	}
	if len(s.hashArgs) == 0 {
		s.hashArgs = []int{0}
	}
	nodes := int(url.MethodParamInt(method, common.HashNodesKey, common.DefaultHashNodes))
	for _, ivk := range invokers {
		addr := ivk.URL().Address()
		for i := 0; i < nodes; i++ {
			h := hashOf(addr + ":" + strconv.Itoa(i))
			if _, taken := s.nodes[h]; taken {
				continue
			}
			s.nodes[h] = ivk
			s.ring = append(s.ring, h)
		}
	}
	sort.Slice(s.ring, func(i, j int) bool { return s.ring[i] < s.ring[j] })
	return s
}

// pick walks the ring to the first virtual node at or after the key hash.
func (s *hashSelector) pick(inv protocol.Invocation) protocol.Invoker {
	if len(s.ring) == 0 {
		return nil
	}
	var sb strings.Builder
	args := inv.Arguments()
	for _, idx := range s.hashArgs {
		if idx >= 0 && idx < len(args) {
			fmt.Fprintf(&sb, "%v", args[idx])
		}
	}
	h := hashOf(sb.String())
	i := sort.Search(len(s.ring), func(i int) bool { return s.ring[i] >= h })
	if i == len(s.ring) {
		i = 0
	}
	return s.nodes[s.ring[i]]
}

func hashOf(s string) uint32 {
	sum := md5.Sum([]byte(s))
	return binary.BigEndian.Uint32(sum[:4])
}
