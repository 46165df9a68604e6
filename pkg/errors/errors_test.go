package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorDefinitions(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
	}{
		{name: "ErrTimeout", err: ErrTimeout, message: "timeout"},
		{name: "ErrNetwork", err: ErrNetwork, message: "network error"},
		{name: "ErrSerialization", err: ErrSerialization, message: "serialization error"},
		{name: "ErrBiz", err: ErrBiz, message: "business error"},
		{name: "ErrUnknown", err: ErrUnknown, message: "unknown error"},
		{name: "ErrForbidden", err: ErrForbidden, message: "forbidden"},
		{name: "ErrLimitExceeded", err: ErrLimitExceeded, message: "limit exceeded"},
		{name: "ErrDestroyed", err: ErrDestroyed, message: "invoker destroyed"},
		{name: "ErrCancelled", err: ErrCancelled, message: "cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.message, tt.err.Error(), "error message should match expected message")
		})
	}
}

func TestKindOf(t *testing.T) {
	err := Wrap(Timeoutf("waited %dms", 500), "invoke greet")
	assert.Equal(t, ErrTimeout, KindOf(err))
	assert.True(t, Is(err, ErrTimeout))
	assert.False(t, Is(err, ErrNetwork))

	assert.Equal(t, ErrUnknown, KindOf(New("something else")))
	assert.Equal(t, ErrNetwork, KindOf(Networkf("conn reset")))
	assert.Equal(t, ErrForbidden, KindOf(Forbiddenf("no provider for %s", "svc")))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "context"))
}

func TestWrapPreservesKind(t *testing.T) {
	inner := Serializationf("bad body")
	outer := Wrap(Wrap(inner, "decode"), "receive")
	assert.Equal(t, ErrSerialization, KindOf(outer))
	assert.Contains(t, outer.Error(), "receive: decode:")
}
