package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/nmxmxh/janus/pkg/errors"
)

func TestPendingTable_Correlation(t *testing.T) {
	var table pendingTable
	f := table.add(7)

	ok := table.receive(&Response{ID: 7, Status: StatusOK, Data: "pong"})
	require.True(t, ok)

	resp, err := table.await(context.Background(), f, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Data)
}

func TestPendingTable_UnmatchedResponseDropped(t *testing.T) {
	var table pendingTable
	table.add(1)
	assert.False(t, table.receive(&Response{ID: 99, Status: StatusOK}))
}

func TestPendingTable_Timeout(t *testing.T) {
	var table pendingTable
	f := table.add(2)

	_, err := table.await(context.Background(), f, 10*time.Millisecond)
	assert.ErrorIs(t, err, errs.ErrTimeout)

	// late response for the timed-out id is dropped
	assert.False(t, table.receive(&Response{ID: 2, Status: StatusOK}))
}

func TestPendingTable_Cancel(t *testing.T) {
	var table pendingTable
	f := table.add(3)
	table.cancel(3)

	_, err := f.Result()
	assert.ErrorIs(t, err, errs.ErrCancelled)
}

func TestPendingTable_ContextCancellation(t *testing.T) {
	var table pendingTable
	f := table.add(4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := table.await(ctx, f, time.Second)
	assert.ErrorIs(t, err, errs.ErrCancelled)
}

func TestPendingTable_FailAll(t *testing.T) {
	var table pendingTable
	f1 := table.add(10)
	f2 := table.add(11)
	table.failAll(errs.Networkf("connection lost"))

	for _, f := range []*Future{f1, f2} {
		_, err := f.Result()
		assert.ErrorIs(t, err, errs.ErrNetwork)
	}
}

func TestFuture_ListenerRunsOnceAndInline(t *testing.T) {
	var table pendingTable
	f := table.add(5)

	var calls int
	f.AddListener(func(_ *Response, _ error) { calls++ })
	require.True(t, table.receive(&Response{ID: 5, Status: StatusOK}))
	assert.Equal(t, 1, calls)

	// completion already happened; a new listener runs inline
	f.AddListener(func(_ *Response, _ error) { calls++ })
	assert.Equal(t, 2, calls)

	// second completion is dropped
	assert.False(t, f.complete(&Response{ID: 5}, nil))
}

func TestResponse_StatusMapping(t *testing.T) {
	cases := []struct {
		status byte
		kind   error
	}{
		{StatusClientTimeout, errs.ErrTimeout},
		{StatusServerTimeout, errs.ErrTimeout},
		{StatusBadRequest, errs.ErrSerialization},
		{StatusServiceNotFound, errs.ErrForbidden},
		{StatusServiceError, errs.ErrBiz},
		{StatusThreadpoolExhausted, errs.ErrLimitExceeded},
		{StatusServerError, errs.ErrUnknown},
	}
	for _, c := range cases {
		r := &Response{Status: c.status, ErrorMsg: "detail"}
		assert.ErrorIs(t, r.Err(), c.kind, "status %d", c.status)
	}
	assert.NoError(t, (&Response{Status: StatusOK}).Err())
}
