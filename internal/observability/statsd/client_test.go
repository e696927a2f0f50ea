package statsd

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMetricName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		" job/metric ":  "job_metric",
		"foo..bar":      "foo.bar",
		"multi  space":  "multi__space",
		"slash/name/id": "slash_name_id",
		"..foo..":       "foo",
	}
	for input, want := range tests {
		assert.Equal(t, want, normalizeMetricName(input), "input %q", input)
	}
}

func TestFormatTags(t *testing.T) {
	t.Parallel()

	global := map[string]string{
		"env":       "prod",
		" service ": " engine ",
	}
	local := map[string]string{
		"result": " success ",
		"":       "ignored",
		"env":    "stage",
	}

	// Keys sorted, whitespace trimmed, local tags win over global.
	assert.Equal(t, "|#env:stage,result:success,service:engine", formatTags(global, local))
	assert.Empty(t, formatTags(nil, nil))
}

func TestCloneTagsReturnsCopy(t *testing.T) {
	t.Parallel()

	original := map[string]string{"env": "prod", "": "ignored"}
	cloned := cloneTags(original)
	require.NotNil(t, cloned)

	cloned["env"] = "stage"
	assert.Equal(t, "prod", original["env"])
	assert.NotContains(t, cloned, "")
}

func TestClientEnabledAndClose(t *testing.T) {
	t.Parallel()

	clientConn, peerConn := net.Pipe()
	defer func() { _ = peerConn.Close() }()

	client := &Client{enabled: true, conn: clientConn}
	assert.True(t, client.Enabled())

	require.NoError(t, client.Close())
	assert.False(t, client.Enabled())

	// Second Close is a no-op.
	require.NoError(t, client.Close())

	var nilClient *Client
	assert.False(t, nilClient.Enabled())
	require.NoError(t, nilClient.Close())
}

func TestNewClientDisabledWithoutAddress(t *testing.T) {
	t.Parallel()

	client, err := NewClient(Config{Enabled: true, Address: "   "})
	require.NoError(t, err)
	assert.False(t, client.Enabled())
}

func TestNewClientDialError(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{Enabled: true, Address: "bad address"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statsd dial")
}

func TestClientEmitsTaggedLines(t *testing.T) {
	t.Parallel()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = pc.Close() }()

	client, err := NewClient(Config{
		Enabled:    true,
		Address:    pc.LocalAddr().String(),
		Prefix:     "torale.",
		GlobalTags: map[string]string{"env": "test"},
	})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	client.Count("engine.execution", 1, map[string]string{"status": "success"})

	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 512)
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "torale.engine.execution:1|c|#env:test,status:success", string(buf[:n]))
}
