package json

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdlibCompatibleOutput(t *testing.T) {
	v := map[string]interface{}{
		"interface": "com.acme.Hello",
		"weight":    100,
		"enabled":   true,
	}
	ours, err := Marshal(v)
	require.NoError(t, err)
	std, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, string(std), string(ours))
}

func TestStreamRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode([]string{"a", "b"}))
	require.NoError(t, NewEncoder(&buf).Encode([]string{"c"}))

	dec := NewDecoder(&buf)
	var first, second []string
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))
	assert.Equal(t, []string{"a", "b"}, first)
	assert.Equal(t, []string{"c"}, second)

	assert.Error(t, NewDecoder(bytes.NewReader([]byte(`{"broken`))).Decode(&first))
}
