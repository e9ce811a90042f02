package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/azure/reply-campaigns-bot/internal/models"
	"github.com/azure/reply-campaigns-bot/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 5, 10, 15, 0, 0, 0, time.UTC)

func setup(t *testing.T, dailyLimit int) (*storage.SQLiteStore, *Limiter) {
	t.Helper()
	store, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	c := &models.Campaign{
		ID:              "c1",
		Name:            "limits",
		SeedUsers:       []string{"a"},
		Keywords:        []string{"k"},
		ReplyTemplate:   "t",
		TargetURL:       "https://example.com",
		DailyReplyLimit: dailyLimit,
		CreatedAt:       testNow,
		UpdatedAt:       testNow,
	}
	c.ApplyDefaults()
	require.NoError(t, store.CreateCampaign(context.Background(), c))

	l := NewLimiter(store, Limits{HourlyLimit: 3, MinReplyDelay: 120 * time.Second})
	l.now = func() time.Time { return testNow }
	return store, l
}

func addReply(t *testing.T, store *storage.SQLiteStore, id string, ago time.Duration, status models.ReplyStatus, dryRun bool) {
	t.Helper()
	r := &models.CampaignReply{
		ID:            id,
		CampaignID:    "c1",
		TargetTweetID: "tweet-" + id,
		Status:        status,
		DryRun:        dryRun,
		CreatedAt:     testNow.Add(-ago),
	}
	if status == models.ReplyPosted {
		at := testNow.Add(-ago)
		r.PostedAt = &at
	}
	require.NoError(t, store.InsertReply(context.Background(), r))
}

func TestLimiter_AllowsFreshCampaign(t *testing.T) {
	_, l := setup(t, 5)

	allowed, reason, err := l.CanPostReply(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, ReasonOK, reason)

	wait, err := l.GetWaitTime(context.Background(), "c1")
	require.NoError(t, err)
	assert.Zero(t, wait)
}

func TestLimiter_CampaignNotFound(t *testing.T) {
	_, l := setup(t, 5)

	allowed, reason, err := l.CanPostReply(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, "Campaign not found", reason)
}

func TestLimiter_DailyLimit(t *testing.T) {
	store, l := setup(t, 2)
	addReply(t, store, "r1", 5*time.Hour, models.ReplyPosted, false)
	addReply(t, store, "r2", 4*time.Hour, models.ReplyPosted, false)
	// Yesterday and dry runs do not count
	addReply(t, store, "r3", 16*time.Hour, models.ReplyPosted, false)
	addReply(t, store, "r4", 3*time.Hour, models.ReplyPosted, true)

	allowed, reason, err := l.CanPostReply(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, "Daily limit reached (2/2)", reason)

	wait, err := l.GetWaitTime(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, wait)
}

func TestLimiter_DailyLimitUsesLocalMidnight(t *testing.T) {
	store, l := setup(t, 1)
	loc := time.FixedZone("UTC-10", -10*60*60)
	l.limits.Location = loc

	// 15:00 UTC is 05:00 local, so a reply at 12:00 UTC (02:00 local) is today
	addReply(t, store, "r1", 3*time.Hour, models.ReplyPosted, false)

	allowed, reason, err := l.CanPostReply(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, "Daily limit reached (1/1)", reason)
}

func TestLimiter_HourlyLimit(t *testing.T) {
	store, l := setup(t, 50)
	for i := 0; i < 3; i++ {
		addReply(t, store, fmt.Sprintf("r%d", i), time.Duration(10+i*10)*time.Minute, models.ReplyPosted, false)
	}
	addReply(t, store, "old", 61*time.Minute, models.ReplyPosted, false)
	addReply(t, store, "failed", 5*time.Minute, models.ReplyFailed, false)

	allowed, reason, err := l.CanPostReply(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, "Hourly limit reached (3/3)", reason)
}

func TestLimiter_MinimumDelay(t *testing.T) {
	store, l := setup(t, 50)
	addReply(t, store, "r1", 45*time.Second, models.ReplyPosted, false)

	allowed, reason, err := l.CanPostReply(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, "Too soon since last reply. Wait 75s", reason)

	wait, err := l.GetWaitTime(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 75*time.Second, wait)
}

func TestLimiter_MinimumDelayElapsed(t *testing.T) {
	store, l := setup(t, 50)
	addReply(t, store, "r1", 120*time.Second, models.ReplyPosted, false)
	addReply(t, store, "dry", 10*time.Second, models.ReplyPosted, true)

	allowed, _, err := l.CanPostReply(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestLimiter_DecisionsAgreeOnSameLedger(t *testing.T) {
	store, l := setup(t, 50)
	addReply(t, store, "r1", 30*time.Second, models.ReplyPosted, false)

	other := NewLimiter(store, l.limits)
	other.now = l.now

	a1, r1, err := l.CanPostReply(context.Background(), "c1")
	require.NoError(t, err)
	a2, r2, err := other.CanPostReply(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.Equal(t, r1, r2)
}

func TestWaitFromReason(t *testing.T) {
	tests := []struct {
		reason   string
		expected time.Duration
	}{
		{"Too soon since last reply. Wait 42s", 42 * time.Second},
		{"Daily limit reached (5/5)", 120 * time.Second},
		{"Hourly limit reached (30/30)", 120 * time.Second},
		{"", 120 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			assert.Equal(t, tt.expected, WaitFromReason(tt.reason, 120*time.Second))
		})
	}
}
