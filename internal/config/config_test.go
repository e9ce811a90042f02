package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/azure/reply-campaigns-bot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.SchedulerInterval)
	assert.Equal(t, 30, cfg.HourlyReplyLimit)
	assert.Equal(t, 120*time.Second, cfg.MinReplyDelay)
	assert.Equal(t, 5, cfg.MaxPostsPerUser)
	assert.Equal(t, 20, cfg.PostsPerSeedUser)
	assert.Equal(t, 50, cfg.PostsPerCandidate)
	assert.Equal(t, 20, cfg.AIGateBatchSize)
	assert.Equal(t, 100, cfg.EventHistorySize)
	assert.Equal(t, 2*time.Second, cfg.PostBatchPause)
	assert.Equal(t, 3*time.Second, cfg.SeedUserPause)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SCHEDULER_INTERVAL", "90s")
	t.Setenv("HOURLY_REPLY_LIMIT", "10")
	t.Setenv("BASE_URL", "https://go.example.com/")
	t.Setenv("X_API_RPS", "0.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.SchedulerInterval)
	assert.Equal(t, 10, cfg.HourlyReplyLimit)
	assert.Equal(t, "https://go.example.com", cfg.BaseURL)
	assert.Equal(t, 0.5, cfg.XAPIRPS)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "Email without SMTP",
			env:  map[string]string{"NOTIFICATION_EMAIL": "ops@example.com"},
		},
		{
			name: "Unknown time zone",
			env:  map[string]string{"TIMEZONE": "Mars/Olympus"},
		},
		{
			name: "Zero hourly limit",
			env:  map[string]string{"HOURLY_REPLY_LIMIT": "0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadCampaignSeeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campaigns.yaml")
	content := `
campaigns:
  - name: go-launch
    seed_users: ["@golang", "rob_pike"]
    keywords: ["generics", "goroutine"]
    reply_template: "Hey {author}, this might help: {url}"
    target_url: https://example.com/go
    ai_provider: anthropic
    dry_run: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	campaigns, err := LoadCampaignSeeds(path)
	require.NoError(t, err)
	require.Len(t, campaigns, 1)

	c := campaigns[0]
	assert.Equal(t, "go-launch", c.Name)
	assert.Equal(t, []string{"@golang", "rob_pike"}, c.SeedUsers)
	assert.Equal(t, models.ProviderAnthropic, c.AIProvider)
	assert.Equal(t, models.StatusDraft, c.Status)
	assert.Equal(t, 50, c.TopNUsers)
	assert.True(t, c.DryRun)
}

func TestLoadCampaignSeeds_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campaigns.yaml")
	require.NoError(t, os.WriteFile(path, []byte("campaigns:\n  - name: empty\n"), 0644))

	_, err := LoadCampaignSeeds(path)
	assert.Error(t, err)
}
