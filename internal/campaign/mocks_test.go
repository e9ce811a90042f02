package campaign

import (
	"context"
	"testing"
	"time"

	"github.com/azure/reply-campaigns-bot/internal/config"
	"github.com/azure/reply-campaigns-bot/internal/eventlog"
	"github.com/azure/reply-campaigns-bot/internal/llm"
	"github.com/azure/reply-campaigns-bot/internal/models"
	"github.com/azure/reply-campaigns-bot/internal/storage"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSocialClient is a mock implementation of sources.SocialClient
type MockSocialClient struct {
	mock.Mock
}

func (m *MockSocialClient) GetUserByHandle(ctx context.Context, handle string) (*models.SocialUser, error) {
	args := m.Called(ctx, handle)
	u, _ := args.Get(0).(*models.SocialUser)
	return u, args.Error(1)
}

func (m *MockSocialClient) GetUserRecentPosts(ctx context.Context, handle string, count, lookbackDays int) ([]models.Post, error) {
	args := m.Called(ctx, handle, count, lookbackDays)
	posts, _ := args.Get(0).([]models.Post)
	return posts, args.Error(1)
}

func (m *MockSocialClient) GetPostInteractions(ctx context.Context, postID string) (*models.PostInteractions, error) {
	args := m.Called(ctx, postID)
	i, _ := args.Get(0).(*models.PostInteractions)
	return i, args.Error(1)
}

func (m *MockSocialClient) PostReply(ctx context.Context, text, inReplyToID string) (*models.PostedReply, error) {
	args := m.Called(ctx, text, inReplyToID)
	r, _ := args.Get(0).(*models.PostedReply)
	return r, args.Error(1)
}

func (m *MockSocialClient) RunAIConversation(ctx context.Context, prompt, model string) (string, error) {
	args := m.Called(ctx, prompt, model)
	return args.String(0), args.Error(1)
}

func (m *MockSocialClient) AuthenticatedSessionPresent() bool {
	return m.Called().Bool(0)
}

// MockGenerator is a mock implementation of llm.TextGenerator
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, req llm.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// MockNotifier is a mock implementation of notifications.NotificationInterface
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendAnalysisReport(report *models.AnalysisReport) error {
	return m.Called(report).Error(0)
}

func (m *MockNotifier) SendAlert(alert *models.Alert) error {
	return m.Called(alert).Error(0)
}

type stubShortener struct {
	url string
	err error
}

func (s *stubShortener) Shorten(ctx context.Context, campaignID, targetURL string) (string, error) {
	return s.url, s.err
}

var testTime = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		TimeZone:          "UTC",
		MaxPostsPerUser:   3,
		PostsPerSeedUser:  20,
		PostsPerCandidate: 50,
		AIGateBatchSize:   20,
		GrokModel:         "grok-3",
		MaxRateLimitWait:  time.Second,
	}
}

type fixture struct {
	svc    *Service
	store  *storage.SQLiteStore
	client *MockSocialClient
	openai *MockGenerator
	events *eventlog.Log
}

func newFixture(t *testing.T, deps Dependencies) *fixture {
	t.Helper()
	store, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	client := &MockSocialClient{}
	openai := &MockGenerator{}
	events := eventlog.New(100)

	deps.Store = store
	deps.Client = client
	deps.Events = events
	if deps.Replier == nil {
		deps.Replier = NewAutoReplier(client, Generators{OpenAI: openai}, true, "grok-3")
	}

	svc := NewService(testConfig(), deps)
	svc.now = func() time.Time { return testTime }
	t.Cleanup(svc.Close)

	return &fixture{svc: svc, store: store, client: client, openai: openai, events: events}
}

func (f *fixture) activeCampaign(t *testing.T, mutate func(c *models.Campaign)) *models.Campaign {
	t.Helper()
	c := &models.Campaign{
		ID:            "c1",
		Name:          "Launch",
		Status:        models.StatusActive,
		SeedUsers:     []string{"alice"},
		Keywords:      []string{"kubernetes"},
		ReplyTemplate: "Hi {author}, see {url}",
		TargetURL:     "https://example.com",
		CreatedAt:     testTime,
		UpdatedAt:     testTime,
	}
	c.ApplyDefaults()
	if mutate != nil {
		mutate(c)
	}
	require.NoError(t, f.store.CreateCampaign(context.Background(), c))
	return c
}

func (f *fixture) pendingPost(t *testing.T, tweetID string) {
	t.Helper()
	_, err := f.store.InsertMatchedPosts(context.Background(), []models.MatchedPost{{
		CampaignID:      "c1",
		TweetID:         tweetID,
		SourceUsername:  "carol",
		Text:            "Anyone running kubernetes at home?",
		MatchedKeywords: []string{"kubernetes"},
		PostedAt:        testTime.Add(-time.Hour),
		ReplyStatus:     models.ReplyPending,
		FoundAt:         testTime,
	}})
	require.NoError(t, err)
}
