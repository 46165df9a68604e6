package protocol

import (
	"sync"
	"sync/atomic"

	"github.com/nmxmxh/janus/pkg/common"
)

// Status accumulates per-endpoint invocation counters. The least-active load
// balancer and the limiting filters read them; BeginCount/EndCount update
// them atomically around every attempt.
type Status struct {
	active           int64
	total            int64
	failed           int64
	succeededElapsed int64
	failedElapsed    int64
}

// Active returns the number of in-flight invocations.
func (s *Status) Active() int64 { return atomic.LoadInt64(&s.active) }

// Total returns the number of completed invocations.
func (s *Status) Total() int64 { return atomic.LoadInt64(&s.total) }

// Failed returns the number of failed invocations.
func (s *Status) Failed() int64 { return atomic.LoadInt64(&s.failed) }

// SucceededElapsed returns the cumulative elapsed ms of successes.
func (s *Status) SucceededElapsed() int64 { return atomic.LoadInt64(&s.succeededElapsed) }

// FailedElapsed returns the cumulative elapsed ms of failures.
func (s *Status) FailedElapsed() int64 { return atomic.LoadInt64(&s.failedElapsed) }

var (
	urlStatuses    sync.Map // identity -> *Status
	methodStatuses sync.Map // identity#method -> *Status
)

func statusKey(url *common.URL) string { return url.Protocol + "://" + url.Address() + "/" + url.Path }

// GetURLStatus returns the counters aggregated over every method of url.
func GetURLStatus(url *common.URL) *Status {
	s, _ := urlStatuses.LoadOrStore(statusKey(url), &Status{})
	return s.(*Status)
}

// GetMethodStatus returns the counters for one (url, method) pair.
func GetMethodStatus(url *common.URL, method string) *Status {
	s, _ := methodStatuses.LoadOrStore(statusKey(url)+"#"+method, &Status{})
	return s.(*Status)
}

// BeginCount marks an attempt as started on both the url and method scopes.
func BeginCount(url *common.URL, method string) {
	atomic.AddInt64(&GetURLStatus(url).active, 1)
	atomic.AddInt64(&GetMethodStatus(url, method).active, 1)
}

// EndCount marks an attempt as finished, recording elapsed ms and outcome.
func EndCount(url *common.URL, method string, elapsedMs int64, succeeded bool) {
	for _, s := range []*Status{GetURLStatus(url), GetMethodStatus(url, method)} {
		atomic.AddInt64(&s.active, -1)
		atomic.AddInt64(&s.total, 1)
		if succeeded {
			atomic.AddInt64(&s.succeededElapsed, elapsedMs)
		} else {
			atomic.AddInt64(&s.failed, 1)
			atomic.AddInt64(&s.failedElapsed, elapsedMs)
		}
	}
}

// ResetStatus drops every counter. Test helper.
func ResetStatus() {
	urlStatuses.Range(func(k, _ interface{}) bool { urlStatuses.Delete(k); return true })
	methodStatuses.Range(func(k, _ interface{}) bool { methodStatuses.Delete(k); return true })
}
