package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCampaignStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from     CampaignStatus
		to       CampaignStatus
		expected bool
	}{
		{StatusDraft, StatusActive, true},
		{StatusDraft, StatusPaused, false},
		{StatusDraft, StatusCompleted, false},
		{StatusActive, StatusPaused, true},
		{StatusActive, StatusCompleted, true},
		{StatusActive, StatusDraft, false},
		{StatusPaused, StatusActive, true},
		{StatusPaused, StatusCompleted, false},
		{StatusCompleted, StatusActive, false},
		{StatusCompleted, StatusDraft, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestCampaign_ApplyDefaults(t *testing.T) {
	c := &Campaign{Name: "launch"}
	c.ApplyDefaults()

	assert.Equal(t, StatusDraft, c.Status)
	assert.Equal(t, 50, c.TopNUsers)
	assert.Equal(t, 7, c.LookbackDays)
	assert.Equal(t, ProviderOpenAI, c.AIProvider)
	assert.Equal(t, 50, c.DailyReplyLimit)
	assert.False(t, c.DryRun)
	assert.False(t, c.UseGrokFilter)
}

func TestCampaign_Model(t *testing.T) {
	tests := []struct {
		name     string
		campaign Campaign
		expected string
	}{
		{"openai default", Campaign{AIProvider: ProviderOpenAI}, "gpt-4"},
		{"anthropic default", Campaign{AIProvider: ProviderAnthropic}, "claude-3-5-sonnet-20241022"},
		{"grok default", Campaign{AIProvider: ProviderGrok}, "grok-3"},
		{"override", Campaign{AIProvider: ProviderOpenAI, ReplyModel: "gpt-4o-mini"}, "gpt-4o-mini"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.campaign.Model())
		})
	}
}

func TestCampaign_Validate(t *testing.T) {
	valid := Campaign{
		Name:          "launch",
		SeedUsers:     []string{"@golang"},
		Keywords:      []string{"go"},
		ReplyTemplate: "Hey {author}, check {url}",
		TargetURL:     "https://example.com",
		AIProvider:    ProviderBoth,
	}
	assert.NoError(t, valid.Validate())

	noSeeds := valid
	noSeeds.SeedUsers = nil
	assert.Error(t, noSeeds.Validate())

	badProvider := valid
	badProvider.AIProvider = "gemini"
	assert.Error(t, badProvider.Validate())
}
