package campaign

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/azure/reply-campaigns-bot/internal/eventlog"
	"github.com/azure/reply-campaigns-bot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestInteractionMapper_RanksByWeightedScore(t *testing.T) {
	client := &MockSocialClient{}
	p1 := models.Post{ID: "p1", CreatedAt: testTime.Add(-48 * time.Hour)}
	p2 := models.Post{ID: "p2", CreatedAt: testTime.Add(-24 * time.Hour)}

	client.On("GetUserRecentPosts", mock.Anything, "alice", 20, 7).Return([]models.Post{p2, p1}, nil)
	client.On("GetPostInteractions", mock.Anything, "p1").Return(&models.PostInteractions{
		Likers: []string{"bob", "carol", "Alice"},
	}, nil)
	client.On("GetPostInteractions", mock.Anything, "p2").Return(&models.PostInteractions{
		Likers: []string{"carol"},
	}, nil)

	mapper := NewInteractionMapper(client, eventlog.New(10), Pacing{}, 20, time.Second)
	scores, err := mapper.FindTopInteractedUsers(context.Background(), "c1", []string{"@alice"}, 1, 7)
	require.NoError(t, err)

	require.Len(t, scores, 1)
	assert.Equal(t, "carol", scores[0].Username)
	assert.Equal(t, 2, scores[0].Score)
	assert.Equal(t, p2.CreatedAt, scores[0].LastInteraction)
	client.AssertExpectations(t)
}

func TestInteractionMapper_RetweetsWeighDouble(t *testing.T) {
	client := &MockSocialClient{}
	client.On("GetUserRecentPosts", mock.Anything, "alice", 20, 7).Return([]models.Post{{ID: "p1", CreatedAt: testTime}}, nil)
	client.On("GetPostInteractions", mock.Anything, "p1").Return(&models.PostInteractions{
		Likers:     []string{"bob", "dave"},
		Retweeters: []string{"dave", "erin"},
	}, nil)

	mapper := NewInteractionMapper(client, eventlog.New(10), Pacing{}, 20, time.Second)
	scores, err := mapper.FindTopInteractedUsers(context.Background(), "c1", []string{"alice"}, 10, 7)
	require.NoError(t, err)

	require.Len(t, scores, 3)
	assert.Equal(t, models.InteractionScore{Username: "dave", Score: 3, LastInteraction: testTime}, scores[0])
	assert.Equal(t, "erin", scores[1].Username)
	assert.Equal(t, 2, scores[1].Score)
	assert.Equal(t, "bob", scores[2].Username)
	assert.Equal(t, 1, scores[2].Score)
}

func TestInteractionMapper_SkipsFailedFetches(t *testing.T) {
	client := &MockSocialClient{}
	client.On("GetUserRecentPosts", mock.Anything, "broken", 20, 7).Return(nil, errors.New("user not found"))
	client.On("GetUserRecentPosts", mock.Anything, "alice", 20, 7).Return([]models.Post{{ID: "p1"}, {ID: "p2"}}, nil)
	client.On("GetPostInteractions", mock.Anything, "p1").Return(nil, errors.New("boom"))
	client.On("GetPostInteractions", mock.Anything, "p2").Return(&models.PostInteractions{Likers: []string{"bob"}}, nil)

	events := eventlog.New(50)
	mapper := NewInteractionMapper(client, events, Pacing{}, 20, time.Second)
	scores, err := mapper.FindTopInteractedUsers(context.Background(), "c1", []string{"broken", "alice"}, 10, 7)
	require.NoError(t, err)

	require.Len(t, scores, 1)
	assert.Equal(t, "bob", scores[0].Username)

	var warned bool
	for _, e := range events.History("c1") {
		if e.Level == models.LevelWarning {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestInteractionMapper_NoInteractions(t *testing.T) {
	client := &MockSocialClient{}
	client.On("GetUserRecentPosts", mock.Anything, "alice", 20, 7).Return([]models.Post{}, nil)

	mapper := NewInteractionMapper(client, eventlog.New(10), Pacing{}, 20, time.Second)
	scores, err := mapper.FindTopInteractedUsers(context.Background(), "c1", []string{"alice"}, 10, 7)
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestInteractionMapper_CancelledDuringPause(t *testing.T) {
	client := &MockSocialClient{}
	client.On("GetUserRecentPosts", mock.Anything, mock.Anything, 20, 7).Return([]models.Post{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mapper := NewInteractionMapper(client, eventlog.New(10), Pacing{SeedUserPause: time.Hour}, 20, time.Second)
	_, err := mapper.FindTopInteractedUsers(ctx, "c1", []string{"alice", "bob"}, 10, 7)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPause(t *testing.T) {
	tests := []struct {
		n, total, every int
		expected        bool
	}{
		{5, 20, 5, true},
		{20, 20, 5, false},
		{4, 20, 5, false},
		{5, 20, 0, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, pause(tt.n, tt.total, tt.every), "n=%d total=%d every=%d", tt.n, tt.total, tt.every)
	}
}
