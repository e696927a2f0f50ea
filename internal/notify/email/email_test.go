package email

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toralehq/torale/config"
	"github.com/toralehq/torale/internal/core"
)

func testConfig(url string) config.EmailConfig {
	return config.EmailConfig{
		APIURL:         url,
		APIKey:         "key-123",
		FromAddress:    "notifications@torale.app",
		RequestTimeout: 5 * time.Second,
	}
}

func TestSendPostsProviderRequest(t *testing.T) {
	var gotAuth string
	var gotReq sendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender, err := NewSender(SenderOptions{Config: testConfig(server.URL)})
	require.NoError(t, err)

	err = sender.Send(context.Background(), core.EmailMessage{
		To:       "owner@example.com",
		Subject:  "Torale alert: Release watch",
		Markdown: "Release 2.0 shipped",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer key-123", gotAuth)
	assert.Equal(t, "notifications@torale.app", gotReq.From)
	assert.Equal(t, "owner@example.com", gotReq.To)
	assert.Equal(t, "Release 2.0 shipped", gotReq.Text)
}

func TestSendSurfacesProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"invalid recipient"}`))
	}))
	defer server.Close()

	sender, err := NewSender(SenderOptions{Config: testConfig(server.URL)})
	require.NoError(t, err)

	err = sender.Send(context.Background(), core.EmailMessage{To: "bad"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "invalid recipient")
}

func TestSendRequiresRecipient(t *testing.T) {
	sender, err := NewSender(SenderOptions{Config: testConfig("http://localhost")})
	require.NoError(t, err)
	require.Error(t, sender.Send(context.Background(), core.EmailMessage{}))
}

type blockedLimiter struct{}

func (blockedLimiter) Wait(ctx context.Context) error { return errors.New("bucket drained") }

func TestSendStopsOnLimiterError(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
	}))
	defer server.Close()

	sender, err := NewSender(SenderOptions{Config: testConfig(server.URL), Limiter: blockedLimiter{}})
	require.NoError(t, err)

	err = sender.Send(context.Background(), core.EmailMessage{To: "owner@example.com"})
	require.Error(t, err)
	assert.Zero(t, requests)
}

func TestNewSenderValidation(t *testing.T) {
	_, err := NewSender(SenderOptions{Config: config.EmailConfig{APIKey: "k"}})
	require.Error(t, err)
	_, err = NewSender(SenderOptions{Config: config.EmailConfig{APIURL: "http://x"}})
	require.Error(t, err)
}
