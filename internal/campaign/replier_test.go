package campaign

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/azure/reply-campaigns-bot/internal/llm"
	"github.com/azure/reply-campaigns-bot/internal/models"
	"github.com/azure/reply-campaigns-bot/internal/sources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func replyCampaign(provider models.AIProvider) *models.Campaign {
	c := &models.Campaign{
		Name:          "Launch",
		ReplyTemplate: "Hey {author}, check {url}",
		TargetURL:     "https://example.com/launch",
		ShortURL:      "https://bit.ly/abc",
		AIProvider:    provider,
	}
	c.ApplyDefaults()
	return c
}

func replyPost() *models.MatchedPost {
	return &models.MatchedPost{TweetID: "t1", SourceUsername: "carol", Text: "kubernetes is hard", MatchedKeywords: []string{"kubernetes"}}
}

func TestBuildReplyPrompt(t *testing.T) {
	prompt := BuildReplyPrompt(replyPost(), replyCampaign(models.ProviderOpenAI))

	assert.Contains(t, prompt, "Hey @carol, check https://bit.ly/abc")
	assert.Contains(t, prompt, "Include the link https://bit.ly/abc exactly once")
	assert.Contains(t, prompt, "Stay under 280 characters")
	assert.Contains(t, prompt, "Return only the reply text")
	assert.NotContains(t, prompt, "{author}")
}

func TestFinalizeReply(t *testing.T) {
	assert.Equal(t, "Hello there", FinalizeReply(`  "Hello there"  `))

	long := FinalizeReply(strings.Repeat("é", 300))
	assert.Equal(t, 280, utf8.RuneCountInString(long))
	assert.True(t, strings.HasSuffix(long, "..."))

	exact := strings.Repeat("a", 280)
	assert.Equal(t, exact, FinalizeReply(exact))
}

func TestAutoReplier_Supports(t *testing.T) {
	client := &MockSocialClient{}
	gen := &MockGenerator{}

	tests := []struct {
		name     string
		replier  *AutoReplier
		provider models.AIProvider
		expected bool
	}{
		{"OpenAI configured", NewAutoReplier(client, Generators{OpenAI: gen}, false, "grok-3"), models.ProviderOpenAI, true},
		{"Anthropic missing", NewAutoReplier(client, Generators{OpenAI: gen}, false, "grok-3"), models.ProviderAnthropic, false},
		{"Grok disabled", NewAutoReplier(client, Generators{OpenAI: gen}, false, "grok-3"), models.ProviderGrok, false},
		{"Both needs OpenAI", NewAutoReplier(client, Generators{Anthropic: gen}, true, "grok-3"), models.ProviderBoth, false},
		{"Both configured", NewAutoReplier(client, Generators{OpenAI: gen}, true, "grok-3"), models.ProviderBoth, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.replier.Supports(tt.provider))
		})
	}
}

func TestAutoReplier_GenerateWithLLM(t *testing.T) {
	client := &MockSocialClient{}
	gen := &MockGenerator{}
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(req llm.Request) bool {
		return req.Model == "claude-3-5-sonnet-20241022" && req.MaxTokens == 100 && req.Temperature == 0.7
	})).Return(`"Great question @carol! https://bit.ly/abc"`, nil)

	r := NewAutoReplier(client, Generators{Anthropic: gen}, false, "grok-3")
	text, ok := r.GenerateReply(context.Background(), replyPost(), replyCampaign(models.ProviderAnthropic))

	require.True(t, ok)
	assert.Equal(t, "Great question @carol! https://bit.ly/abc", text)
	gen.AssertExpectations(t)
}

func TestAutoReplier_GenerateWithGrok(t *testing.T) {
	client := &MockSocialClient{}
	client.On("RunAIConversation", mock.Anything, mock.Anything, "grok-3").Return("Try AKS @carol https://bit.ly/abc", nil)

	r := NewAutoReplier(client, Generators{}, true, "grok-3")
	text, ok := r.GenerateReply(context.Background(), replyPost(), replyCampaign(models.ProviderGrok))

	require.True(t, ok)
	assert.Equal(t, "Try AKS @carol https://bit.ly/abc", text)
}

func TestAutoReplier_BothGate(t *testing.T) {
	tests := []struct {
		name       string
		answer     string
		expectCall bool
	}{
		{"Approved", "Yes.", true},
		{"Declined", "No, off topic", false},
		{"Ambiguous", "I don't know", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &MockSocialClient{}
			client.On("RunAIConversation", mock.Anything, mock.MatchedBy(func(p string) bool {
				return strings.Contains(p, "Answer only yes or no")
			}), "grok-3").Return(tt.answer, nil)
			gen := &MockGenerator{}
			gen.On("Generate", mock.Anything, mock.MatchedBy(func(req llm.Request) bool {
				return req.Model == "gpt-4"
			})).Return("reply text", nil)

			r := NewAutoReplier(client, Generators{OpenAI: gen}, true, "grok-3")
			text, ok := r.GenerateReply(context.Background(), replyPost(), replyCampaign(models.ProviderBoth))

			assert.Equal(t, tt.expectCall, ok)
			if tt.expectCall {
				assert.Equal(t, "reply text", text)
				gen.AssertNumberOfCalls(t, "Generate", 1)
			} else {
				gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestAutoReplier_PostReply(t *testing.T) {
	t.Run("Dry run never posts", func(t *testing.T) {
		client := &MockSocialClient{}
		gen := &MockGenerator{}
		gen.On("Generate", mock.Anything, mock.Anything).Return("hello", nil)

		r := NewAutoReplier(client, Generators{OpenAI: gen}, false, "")
		outcome := r.PostReply(context.Background(), replyPost(), replyCampaign(models.ProviderOpenAI), true)

		assert.True(t, outcome.Success)
		assert.True(t, outcome.DryRun)
		assert.Nil(t, outcome.TweetID)
		assert.Equal(t, "hello", outcome.ReplyText)
		client.AssertNotCalled(t, "PostReply", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Posted", func(t *testing.T) {
		client := &MockSocialClient{}
		client.On("PostReply", mock.Anything, "hello", "t1").Return(&models.PostedReply{ID: "r9", URL: "https://x.com/i/web/status/r9"}, nil)
		gen := &MockGenerator{}
		gen.On("Generate", mock.Anything, mock.Anything).Return("hello", nil)

		r := NewAutoReplier(client, Generators{OpenAI: gen}, false, "")
		outcome := r.PostReply(context.Background(), replyPost(), replyCampaign(models.ProviderOpenAI), false)

		require.True(t, outcome.Success)
		assert.Equal(t, "r9", *outcome.TweetID)
		assert.False(t, outcome.DryRun)
	})

	t.Run("Rate limited", func(t *testing.T) {
		client := &MockSocialClient{}
		client.On("PostReply", mock.Anything, "hello", "t1").Return(nil, &sources.RateLimitedError{Endpoint: "create_tweet"})
		gen := &MockGenerator{}
		gen.On("Generate", mock.Anything, mock.Anything).Return("hello", nil)

		r := NewAutoReplier(client, Generators{OpenAI: gen}, false, "")
		outcome := r.PostReply(context.Background(), replyPost(), replyCampaign(models.ProviderOpenAI), false)

		assert.False(t, outcome.Success)
		assert.True(t, outcome.RateLimited)
		assert.Equal(t, "Twitter rate limit exceeded", outcome.Error)
	})

	t.Run("Generation failure is a skip", func(t *testing.T) {
		client := &MockSocialClient{}
		gen := &MockGenerator{}
		gen.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("quota"))

		r := NewAutoReplier(client, Generators{OpenAI: gen}, false, "")
		outcome := r.PostReply(context.Background(), replyPost(), replyCampaign(models.ProviderOpenAI), false)

		assert.False(t, outcome.Success)
		assert.True(t, outcome.Skipped)
		assert.Nil(t, outcome.TweetID)
	})
}
