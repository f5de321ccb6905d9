package jsoncodec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type keyPayload struct {
	Type    string `json:"type"`
	KeyCode int    `json:"keyCode"`
}

func TestMarshalAndUnmarshal(t *testing.T) {
	in := keyPayload{Type: "keydown", KeyCode: 29}
	data, err := Marshal(in)
	require.NoError(t, err)

	var out keyPayload
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)

	indented, err := MarshalIndent(in, "", "  ")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(indented), "\n  \"type\""))
}

func TestEncodeAndDecode(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, Encode(buf, keyPayload{Type: "keyup", KeyCode: 7}))

	var decoded keyPayload
	require.NoError(t, Decode(buf, &decoded))
	assert.Equal(t, "keyup", decoded.Type)
	assert.Equal(t, 7, decoded.KeyCode)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid([]byte(`{"a":1}`)))
	assert.False(t, Valid([]byte(`{"a":`)))
}
