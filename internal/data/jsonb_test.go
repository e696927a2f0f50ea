package data

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSONB(t *testing.T) {
	logger := slog.Default()

	t.Run("bytes", func(t *testing.T) {
		var out map[string]any
		ok := decodeJSONB(logger, "result", []byte(`{"evidence":"x"}`), &out)
		require.True(t, ok)
		assert.Equal(t, "x", out["evidence"])
	})

	t.Run("string", func(t *testing.T) {
		var out []string
		ok := decodeJSONB(logger, "sources", `["https://a","https://b"]`, &out)
		require.True(t, ok)
		assert.Len(t, out, 2)
	})

	t.Run("raw message", func(t *testing.T) {
		var out map[string]any
		ok := decodeJSONB(logger, "payload", json.RawMessage(`{"k":1}`), &out)
		assert.True(t, ok)
	})

	t.Run("already decoded map", func(t *testing.T) {
		var out struct {
			Evidence string `json:"evidence"`
		}
		ok := decodeJSONB(logger, "result", map[string]any{"evidence": "y"}, &out)
		require.True(t, ok)
		assert.Equal(t, "y", out.Evidence)
	})

	t.Run("nil value", func(t *testing.T) {
		out := map[string]any{"keep": true}
		ok := decodeJSONB(logger, "result", nil, &out)
		assert.False(t, ok)
		assert.True(t, out["keep"].(bool))
	})

	t.Run("json null", func(t *testing.T) {
		var out []string
		assert.False(t, decodeJSONB(logger, "sources", []byte("null"), &out))
	})

	t.Run("corrupt json defaults", func(t *testing.T) {
		var out map[string]any
		ok := decodeJSONB(logger, "result", []byte(`{"evidence": `), &out)
		assert.False(t, ok)
		assert.Nil(t, out)
	})

	t.Run("type mismatch defaults", func(t *testing.T) {
		var out []string
		ok := decodeJSONB(logger, "sources", []byte(`{"not":"a list"}`), &out)
		assert.False(t, ok)
		assert.Nil(t, out)
	})

	t.Run("unencodable driver value defaults", func(t *testing.T) {
		var out map[string]any
		ok := decodeJSONB(logger, "result", func() {}, &out)
		assert.False(t, ok)
	})
}

func TestEncodeJSONB(t *testing.T) {
	raw, err := encodeJSONB(map[string]string{"b": "2", "a": "1"})
	require.NoError(t, err)
	// Map keys come out sorted, keeping the bytes stable for hashing.
	assert.Equal(t, `{"a":"1","b":"2"}`, string(raw))

	raw, err = encodeJSONB(nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))
}
