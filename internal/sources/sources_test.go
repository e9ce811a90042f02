package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/azure/reply-campaigns-bot/internal/llm"
	"github.com/azure/reply-campaigns-bot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGrok struct {
	answer string
	req    llm.Request
}

func (f *fakeGrok) Generate(ctx context.Context, req llm.Request) (string, error) {
	f.req = req
	return f.answer, nil
}

func newTestClient(t *testing.T, handler http.Handler, userToken string) *XClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewXClient(XClientOptions{
		BaseURL:         server.URL,
		BearerToken:     "app-token",
		UserAccessToken: userToken,
		RPS:             1000,
		Burst:           1000,
	})
}

func TestXClient_AuthenticatedSessionPresent(t *testing.T) {
	tests := []struct {
		name      string
		userToken string
		expected  bool
	}{
		{"User token provided", "user-token", true},
		{"Only app token", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewXClient(XClientOptions{BearerToken: "app", UserAccessToken: tt.userToken})
			assert.Equal(t, tt.expected, client.AuthenticatedSessionPresent())
		})
	}
}

func TestXClient_GetUserByHandle_Caches(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/users/by/username/golang", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "Bearer app-token", r.Header.Get("Authorization"))
		w.Write([]byte(`{"data":{"id":"42","username":"golang","name":"Go"}}`))
	})
	client := newTestClient(t, mux, "")

	u, err := client.GetUserByHandle(context.Background(), "@golang")
	require.NoError(t, err)
	assert.Equal(t, "42", u.ID)

	// Handles are case-insensitive on X, so the cache serves both
	u, err = client.GetUserByHandle(context.Background(), "GoLang")
	require.NoError(t, err)
	assert.Equal(t, "golang", u.Username)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestXClient_GetUserRecentPosts_StopsAtLookback(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	mux := http.NewServeMux()
	mux.HandleFunc("/users/by/username/alice", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"id":"1","username":"alice","name":"Alice"}}`))
	})
	mux.HandleFunc("/users/1/tweets", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "20", r.URL.Query().Get("max_results"))
		assert.Equal(t, "retweets,replies", r.URL.Query().Get("exclude"))
		assert.Equal(t, "2024-05-03T12:00:00Z", r.URL.Query().Get("start_time"))

		resp := map[string]interface{}{
			"data": []map[string]interface{}{
				{"id": "p1", "text": "fresh", "created_at": now.Add(-time.Hour).Format(time.RFC3339),
					"public_metrics": map[string]int{"like_count": 3, "retweet_count": 1}},
				{"id": "p2", "text": "edge", "created_at": now.Add(-6 * 24 * time.Hour).Format(time.RFC3339)},
				{"id": "p3", "text": "too old", "created_at": now.Add(-8 * 24 * time.Hour).Format(time.RFC3339)},
				{"id": "p4", "text": "after the cutoff", "created_at": now.Add(-2 * time.Hour).Format(time.RFC3339)},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})
	client := newTestClient(t, mux, "")
	client.now = func() time.Time { return now }

	posts, err := client.GetUserRecentPosts(context.Background(), "alice", 20, 7)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "p1", posts[0].ID)
	assert.Equal(t, 3, posts[0].Engagement.Likes)
	assert.Equal(t, "alice", posts[0].AuthorUsername)
	assert.Equal(t, "p2", posts[1].ID)
}

func TestXClient_GetPostInteractions_ToleratesPartialFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tweets/t1/liking_users", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "50", r.URL.Query().Get("max_results"))
		w.Write([]byte(`{"data":[{"id":"1","username":"bob"},{"id":"2","username":"dave"}]}`))
	})
	mux.HandleFunc("/tweets/t1/retweeted_by", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	client := newTestClient(t, mux, "")

	interactions, err := client.GetPostInteractions(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "dave"}, interactions.Likers)
	assert.Empty(t, interactions.Retweeters)
}

func TestXClient_RateLimited(t *testing.T) {
	reset := time.Now().Add(90 * time.Second).Unix()
	mux := http.NewServeMux()
	mux.HandleFunc("/tweets/t1/liking_users", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-rate-limit-reset", strconv.FormatInt(reset, 10))
		w.WriteHeader(http.StatusTooManyRequests)
	})
	mux.HandleFunc("/tweets/t1/retweeted_by", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	client := newTestClient(t, mux, "")

	_, err := client.GetPostInteractions(context.Background(), "t1")
	require.Error(t, err)

	rl, ok := IsRateLimited(err)
	require.True(t, ok)
	assert.Equal(t, "liking_users", rl.Endpoint)
	assert.Equal(t, reset, rl.Reset.Unix())
}

func TestXClient_GetPostInteractions_OneSideRateLimited(t *testing.T) {
	var retweetCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/tweets/t1/liking_users", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":"1","username":"bob"}]}`))
	})
	mux.HandleFunc("/tweets/t1/retweeted_by", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&retweetCalls, 1) <= 2 {
			w.Header().Set("x-rate-limit-reset", strconv.FormatInt(time.Now().Add(-time.Second).Unix(), 10))
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"data":[{"id":"3","username":"erin"}]}`))
	})
	client := newTestClient(t, mux, "")

	_, err := client.GetPostInteractions(context.Background(), "t1")
	rl, limited := IsRateLimited(err)
	require.True(t, limited, "a rate limited half must not be hidden behind a partial result")
	assert.Equal(t, "retweeted_by", rl.Endpoint)

	// Limited again on the first attempt, then the single retry after the reset sees both halves
	interactions, err := CallWithRateLimitRetry(context.Background(), time.Minute, func(ctx context.Context) (*models.PostInteractions, error) {
		return client.GetPostInteractions(ctx, "t1")
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, interactions.Likers)
	assert.Equal(t, []string{"erin"}, interactions.Retweeters)
	assert.Equal(t, int32(3), atomic.LoadInt32(&retweetCalls))
}

func TestXClient_PostReply(t *testing.T) {
	var received xCreateTweetRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/tweets", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"id":"999","text":"hi"}}`))
	})
	client := newTestClient(t, mux, "user-token")

	reply, err := client.PostReply(context.Background(), "hi @bob", "t1")
	require.NoError(t, err)
	assert.Equal(t, "999", reply.ID)
	assert.Equal(t, "https://x.com/i/web/status/999", reply.URL)
	assert.Equal(t, "hi @bob", received.Text)
	assert.Equal(t, "t1", received.Reply.InReplyToTweetID)
}

func TestXClient_PostReply_RequiresSession(t *testing.T) {
	client := NewXClient(XClientOptions{BearerToken: "app"})
	_, err := client.PostReply(context.Background(), "hi", "t1")
	assert.ErrorIs(t, err, ErrNoUserSession)
}

func TestXClient_RunAIConversation(t *testing.T) {
	grok := &fakeGrok{answer: "yes"}
	client := NewXClient(XClientOptions{Grok: grok})

	out, err := client.RunAIConversation(context.Background(), "is this ok?", "grok-3")
	require.NoError(t, err)
	assert.Equal(t, "yes", out)
	assert.Equal(t, "grok-3", grok.req.Model)

	_, err = NewXClient(XClientOptions{}).RunAIConversation(context.Background(), "p", "grok-3")
	assert.Error(t, err)
}

func TestCallWithRateLimitRetry(t *testing.T) {
	t.Run("Retries once after reset", func(t *testing.T) {
		calls := 0
		out, err := CallWithRateLimitRetry(context.Background(), time.Minute, func(ctx context.Context) (string, error) {
			calls++
			if calls == 1 {
				return "", &RateLimitedError{Endpoint: "e", Reset: time.Now().Add(-2 * time.Second)}
			}
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
		assert.Equal(t, 2, calls)
	})

	t.Run("Does not wait past maxWait", func(t *testing.T) {
		calls := 0
		_, err := CallWithRateLimitRetry(context.Background(), time.Second, func(ctx context.Context) (int, error) {
			calls++
			return 0, &RateLimitedError{Endpoint: "e", Reset: time.Now().Add(time.Hour)}
		})
		_, limited := IsRateLimited(err)
		assert.True(t, limited)
		assert.Equal(t, 1, calls)
	})

	t.Run("Other errors pass through", func(t *testing.T) {
		calls := 0
		_, err := CallWithRateLimitRetry(context.Background(), time.Minute, func(ctx context.Context) (int, error) {
			calls++
			return 0, errors.New("boom")
		})
		assert.EqualError(t, err, "boom")
		assert.Equal(t, 1, calls)
	})

	t.Run("Wrapped rate limit is detected", func(t *testing.T) {
		err := fmt.Errorf("fetch: %w", &RateLimitedError{Endpoint: "e"})
		_, limited := IsRateLimited(err)
		assert.True(t, limited)
	})
}
