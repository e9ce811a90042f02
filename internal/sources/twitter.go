package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/azure/reply-campaigns-bot/internal/config"
	"github.com/azure/reply-campaigns-bot/internal/llm"
	"github.com/azure/reply-campaigns-bot/internal/metrics"
	"github.com/azure/reply-campaigns-bot/internal/models"
	"github.com/go-resty/resty/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrNoUserSession is returned by write operations when no user-context token is configured
var ErrNoUserSession = errors.New("no authenticated X user session")

// XClient implements SocialClient on the X API v2
type XClient struct {
	baseURL           string
	bearerToken       string
	userToken         string
	client            *resty.Client
	limiter           *rate.Limiter
	users             *lru.Cache[string, models.SocialUser]
	grok              llm.TextGenerator
	interactionsLimit int
	now               func() time.Time
}

// XClientOptions configures an XClient
type XClientOptions struct {
	BaseURL             string
	BearerToken         string
	UserAccessToken     string
	RPS                 float64
	Burst               int
	InteractionsPerPost int
	Grok                llm.TextGenerator
}

var _ SocialClient = (*XClient)(nil)

type xUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

type xError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

type xUserResponse struct {
	Data   *xUser   `json:"data"`
	Errors []xError `json:"errors"`
}

type xUsersResponse struct {
	Data []xUser `json:"data"`
}

type xTweet struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	AuthorID      string `json:"author_id"`
	CreatedAt     string `json:"created_at"`
	PublicMetrics struct {
		RetweetCount int `json:"retweet_count"`
		LikeCount    int `json:"like_count"`
		ReplyCount   int `json:"reply_count"`
	} `json:"public_metrics"`
}

type xTimelineResponse struct {
	Data []xTweet `json:"data"`
	Meta struct {
		ResultCount int `json:"result_count"`
	} `json:"meta"`
}

type xCreateTweetRequest struct {
	Text  string `json:"text"`
	Reply struct {
		InReplyToTweetID string `json:"in_reply_to_tweet_id"`
	} `json:"reply"`
}

type xCreateTweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

// NewXClient creates a new X API client
func NewXClient(opts XClientOptions) *XClient {
	users, _ := lru.New[string, models.SocialUser](10_000)
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.twitter.com/2"
	}
	if opts.InteractionsPerPost <= 0 {
		opts.InteractionsPerPost = 50
	}

	return &XClient{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		bearerToken: opts.BearerToken,
		userToken:   opts.UserAccessToken,
		client: resty.New().
			SetTimeout(30*time.Second).
			SetHeader("User-Agent", "Reply-Campaigns-Bot/1.0"),
		limiter:           newLimiter(opts.RPS, opts.Burst),
		users:             users,
		grok:              opts.Grok,
		interactionsLimit: opts.InteractionsPerPost,
		now:               time.Now,
	}
}

// NewXClientFromConfig wires an XClient, including Grok through the xAI endpoint when configured
func NewXClientFromConfig(cfg *config.Config) *XClient {
	var grok llm.TextGenerator
	if cfg.XAIAPIKey != "" {
		grok = llm.NewOpenAIGenerator("grok", cfg.XAIAPIKey, option.WithBaseURL(cfg.XAIBaseURL))
	}

	return NewXClient(XClientOptions{
		BaseURL:             cfg.XAPIBaseURL,
		BearerToken:         cfg.XBearerToken,
		UserAccessToken:     cfg.XUserAccessToken,
		RPS:                 cfg.XAPIRPS,
		Burst:               cfg.XAPIBurst,
		InteractionsPerPost: cfg.InteractionsPerPost,
		Grok:                grok,
	})
}

// AuthenticatedSessionPresent reports whether replies can be posted
func (x *XClient) AuthenticatedSessionPresent() bool {
	return x.userToken != ""
}

// GetUserByHandle resolves a handle (with or without "@") to a user
func (x *XClient) GetUserByHandle(ctx context.Context, handle string) (*models.SocialUser, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	key := strings.ToLower(handle)
	if u, ok := x.users.Get(key); ok {
		return &u, nil
	}

	var resp xUserResponse
	if err := x.get(ctx, "users_by_username", "/users/by/username/"+handle, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		if len(resp.Errors) > 0 {
			return nil, fmt.Errorf("user %s not found: %s", handle, resp.Errors[0].Detail)
		}
		return nil, fmt.Errorf("user %s not found", handle)
	}

	u := models.SocialUser{ID: resp.Data.ID, Username: resp.Data.Username, Name: resp.Data.Name}
	x.users.Add(key, u)
	return &u, nil
}

// GetUserRecentPosts fetches a user's original posts newest-first and stops at the first post
// older than lookbackDays.
func (x *XClient) GetUserRecentPosts(ctx context.Context, handle string, count, lookbackDays int) ([]models.Post, error) {
	user, err := x.GetUserByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}

	now := x.now()
	query := map[string]string{
		"max_results":  fmt.Sprintf("%d", clamp(count, 5, 100)),
		"tweet.fields": "created_at,public_metrics,author_id",
		"exclude":      "retweets,replies",
	}
	if lookbackDays > 0 {
		query["start_time"] = now.Add(-lookbackWindow(lookbackDays)).UTC().Format(time.RFC3339)
	}

	var resp xTimelineResponse
	if err := x.get(ctx, "users_tweets", "/users/"+user.ID+"/tweets", query, &resp); err != nil {
		return nil, err
	}

	var posts []models.Post
	for _, tweet := range resp.Data {
		if len(posts) >= count {
			break
		}

		createdAt, err := time.Parse(time.RFC3339, tweet.CreatedAt)
		if err != nil {
			logrus.Errorf("Failed to parse X timestamp %q: %v", tweet.CreatedAt, err)
			continue
		}
		if lookbackDays > 0 && now.Sub(createdAt) > lookbackWindow(lookbackDays) {
			break
		}

		posts = append(posts, models.Post{
			ID:             tweet.ID,
			AuthorID:       user.ID,
			AuthorUsername: user.Username,
			Text:           tweet.Text,
			CreatedAt:      createdAt,
			Engagement: models.Engagement{
				Likes:    tweet.PublicMetrics.LikeCount,
				Retweets: tweet.PublicMetrics.RetweetCount,
				Replies:  tweet.PublicMetrics.ReplyCount,
			},
		})
	}

	logrus.Debugf("Fetched %d posts for @%s (lookback %d days)", len(posts), user.Username, lookbackDays)
	return posts, nil
}

// GetPostInteractions returns the likers and retweeters of a post. A failure of one of the two
// lookups is tolerated unless it is a rate limit, which is returned so the caller can wait for the
// reset and retry. Otherwise the call fails only when both lookups fail.
func (x *XClient) GetPostInteractions(ctx context.Context, postID string) (*models.PostInteractions, error) {
	query := map[string]string{"max_results": fmt.Sprintf("%d", clamp(x.interactionsLimit, 1, 100))}
	interactions := &models.PostInteractions{}

	likers, likeErr := x.listUsers(ctx, "liking_users", "/tweets/"+postID+"/liking_users", query)
	if likeErr != nil {
		logrus.Warnf("Failed to fetch likers of %s: %v", postID, likeErr)
	}
	interactions.Likers = likers

	retweeters, rtErr := x.listUsers(ctx, "retweeted_by", "/tweets/"+postID+"/retweeted_by", query)
	if rtErr != nil {
		logrus.Warnf("Failed to fetch retweeters of %s: %v", postID, rtErr)
	}
	interactions.Retweeters = retweeters

	for _, err := range []error{likeErr, rtErr} {
		if _, limited := IsRateLimited(err); limited {
			return nil, err
		}
	}
	if likeErr != nil && rtErr != nil {
		return nil, likeErr
	}
	return interactions, nil
}

func (x *XClient) listUsers(ctx context.Context, endpoint, path string, query map[string]string) ([]string, error) {
	var resp xUsersResponse
	if err := x.get(ctx, endpoint, path, query, &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Data))
	for _, u := range resp.Data {
		names = append(names, u.Username)
	}
	return names, nil
}

// PostReply creates a reply to inReplyToID with the user-context token
func (x *XClient) PostReply(ctx context.Context, text, inReplyToID string) (*models.PostedReply, error) {
	if !x.AuthenticatedSessionPresent() {
		return nil, ErrNoUserSession
	}
	if err := x.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body := xCreateTweetRequest{Text: text}
	body.Reply.InReplyToTweetID = inReplyToID

	resp, err := x.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+x.userToken).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(x.baseURL + "/tweets")
	if err != nil {
		return nil, fmt.Errorf("failed to create reply: %w", err)
	}

	var created xCreateTweetResponse
	if err := x.decode("create_tweet", resp, &created); err != nil {
		return nil, err
	}
	if created.Data.ID == "" {
		return nil, fmt.Errorf("X API returned no tweet id")
	}

	return &models.PostedReply{
		ID:  created.Data.ID,
		URL: fmt.Sprintf("https://x.com/i/web/status/%s", created.Data.ID),
	}, nil
}

// RunAIConversation sends a prompt to Grok and returns its answer
func (x *XClient) RunAIConversation(ctx context.Context, prompt, model string) (string, error) {
	if x.grok == nil {
		return "", fmt.Errorf("grok is not configured (XAI_API_KEY missing)")
	}
	return x.grok.Generate(ctx, llm.Request{Prompt: prompt, Model: model})
}

func (x *XClient) readToken() string {
	if x.bearerToken != "" {
		return x.bearerToken
	}
	return x.userToken
}

func (x *XClient) get(ctx context.Context, endpoint, path string, query map[string]string, out interface{}) error {
	if err := x.limiter.Wait(ctx); err != nil {
		return err
	}

	logrus.Debugf("X API request %s %s", endpoint, path)
	resp, err := x.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+x.readToken()).
		SetQueryParams(query).
		Get(x.baseURL + path)
	if err != nil {
		return fmt.Errorf("X API %s request failed: %w", endpoint, err)
	}

	return x.decode(endpoint, resp, out)
}

func (x *XClient) decode(endpoint string, resp *resty.Response, out interface{}) error {
	if resp.StatusCode() == http.StatusTooManyRequests {
		metrics.IncUpstreamRateLimited(endpoint)
		rl := &RateLimitedError{Endpoint: endpoint, Reset: parseReset(resp.Header().Get("x-rate-limit-reset"))}
		logrus.Warnf("X API %v", rl)
		return rl
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("X API %s returned status %d: %s", endpoint, resp.StatusCode(), string(resp.Body()))
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to parse X API %s response: %w", endpoint, err)
	}
	return nil
}

func lookbackWindow(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
