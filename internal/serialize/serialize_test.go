package serialize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetByID(t *testing.T) {
	h, err := GetByID(Hessian2ID)
	require.NoError(t, err)
	assert.Equal(t, Hessian2ID, h.ID())

	j, err := GetByID(JSONID)
	require.NoError(t, err)
	assert.Equal(t, JSONID, j.ID())

	_, err = GetByID(99)
	assert.Error(t, err)
}

func TestHessian2RoundTrip(t *testing.T) {
	s, err := Get("hessian2")
	require.NoError(t, err)

	out := s.NewOutput()
	require.NoError(t, out.WriteObject("hello"))
	require.NoError(t, out.WriteObject(int64(42)))
	require.NoError(t, out.WriteObject(map[string]string{"side": "consumer"}))

	in := s.NewInput(out.Bytes())
	v, err := in.ReadObject()
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	v, err = in.ReadObject()
	require.NoError(t, err)
	assert.EqualValues(t, 42, v)

	v, err = in.ReadObject()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"side": "consumer"}, ToStringMap(v))
}

func TestJSONRoundTrip(t *testing.T) {
	s, err := Get("json")
	require.NoError(t, err)

	out := s.NewOutput()
	require.NoError(t, out.WriteObject("hello"))
	require.NoError(t, out.WriteObject([]interface{}{"a", "b"}))

	in := s.NewInput(out.Bytes())
	v, err := in.ReadObject()
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	v, err = in.ReadObject()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b"}, v)
}

func TestToStringMap(t *testing.T) {
	assert.Empty(t, ToStringMap(nil))
	assert.Equal(t, map[string]string{"k": "v"},
		ToStringMap(map[interface{}]interface{}{"k": "v"}))
	assert.Equal(t, map[string]string{"k": "1"},
		ToStringMap(map[string]interface{}{"k": 1}))
}
