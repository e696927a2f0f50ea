package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []ServiceMode
		wantErr bool
	}{
		{
			name:  "single service",
			input: "scheduler",
			want:  []ServiceMode{ServiceModeScheduler},
		},
		{
			name:  "multiple services",
			input: "scheduler, reaper",
			want:  []ServiceMode{ServiceModeScheduler, ServiceModeReaper},
		},
		{
			name:  "all expands to everything",
			input: "all",
			want: []ServiceMode{
				ServiceModeScheduler,
				ServiceModeReaper,
				ServiceModeWebhookRetry,
			},
		},
		{
			name:    "invalid service name",
			input:   "scheduler,http",
			wantErr: true,
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
		{
			name:    "only commas",
			input:   ",,",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServices(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, len(tt.want))
			for _, mode := range tt.want {
				assert.True(t, got[mode], "expected %s enabled", mode)
			}
		})
	}
}

func TestAppConfigServiceHelpers(t *testing.T) {
	cfg := AppConfig{Services: "scheduler,webhook-retry"}
	assert.True(t, cfg.IsSchedulerEnabled())
	assert.False(t, cfg.IsReaperEnabled())
	assert.True(t, cfg.IsWebhookRetryEnabled())

	cfg = AppConfig{Services: "bogus"}
	assert.False(t, cfg.IsSchedulerEnabled())
}

func TestDBConfigDSN(t *testing.T) {
	cfg := DBConfig{
		Host: "db.internal", Port: 5433, User: "u", Password: "p",
		Name: "torale", SSLMode: "require",
	}
	assert.Equal(t, "postgres://u:p@db.internal:5433/torale?sslmode=require", cfg.DSN())

	cfg.URL = "postgres://override/db"
	assert.Equal(t, "postgres://override/db", cfg.DSN())
}

func TestSanitizeGuardrails(t *testing.T) {
	cfg := AppConfig{}
	cfg.Sanitize()

	assert.Equal(t, 120*time.Second, cfg.Agent.Timeout)
	assert.Equal(t, 3, cfg.Agent.PollFailureLimit)
	assert.Equal(t, 30*time.Second, cfg.Engine.DedupeWindow)
	assert.Equal(t, 5, cfg.Engine.HistoryWindow)
	assert.Equal(t, 300, cfg.Engine.EvidenceTruncation)
	assert.Equal(t, 100*time.Millisecond, cfg.Scheduler.Interval)
	assert.Equal(t, 1, cfg.Scheduler.BatchSize)
	assert.Equal(t, time.Minute, cfg.Reaper.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Reaper.StaleExecutionThreshold)
	assert.Equal(t, time.Minute, cfg.WebhookRetry.Interval)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
}

func TestMetricsConfigSanitize(t *testing.T) {
	cfg := MetricsConfig{Enabled: true, StatsdAddress: "  "}
	cfg.Sanitize()
	assert.False(t, cfg.IsEnabled())

	cfg = MetricsConfig{Enabled: true, StatsdAddress: "127.0.0.1:8125"}
	cfg.Sanitize()
	assert.True(t, cfg.IsEnabled())
}

func TestReaperSanitizeFloor(t *testing.T) {
	cfg := ReaperConfig{Interval: time.Second, StaleExecutionThreshold: time.Minute}
	cfg.Sanitize()
	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, 5*time.Minute, cfg.StaleExecutionThreshold)
}
