package campaign

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/azure/reply-campaigns-bot/internal/models"
	"github.com/azure/reply-campaigns-bot/internal/sources"
	"github.com/sirupsen/logrus"
)

var (
	verdictPattern = regexp.MustCompile(`tweet_id=([^;\n]+);suitable=([^;\n]+)(?:;reason=([^\n]+))?`)

	errNoVerdicts = errors.New("AI filter returned no parseable verdicts")
)

// PostFilterOptions tunes a PostFilter
type PostFilterOptions struct {
	PostsPerUser     int
	AIGateBatchSize  int
	GrokModel        string
	MaxRateLimitWait time.Duration
}

// PostFilter selects keyword-matching posts from candidate users, optionally gated by Grok
type PostFilter struct {
	client sources.SocialClient
	events EventPublisher
	pacing Pacing
	opts   PostFilterOptions
	now    func() time.Time
}

// NewPostFilter creates a new post filter
func NewPostFilter(client sources.SocialClient, events EventPublisher, pacing Pacing, opts PostFilterOptions) *PostFilter {
	if opts.PostsPerUser <= 0 {
		opts.PostsPerUser = 50
	}
	if opts.AIGateBatchSize <= 0 {
		opts.AIGateBatchSize = 20
	}
	if opts.GrokModel == "" {
		opts.GrokModel = models.ProviderGrok.DefaultModel()
	}
	return &PostFilter{
		client: client,
		events: events,
		pacing: pacing,
		opts:   opts,
		now:    time.Now,
	}
}

// Verdict is the AI gate's decision for one post
type Verdict struct {
	Suitable bool
	Reason   string
}

// MatchKeywords returns every keyword contained in text, case-insensitively, in keyword order
func MatchKeywords(text string, keywords []string) []string {
	lower := strings.ToLower(text)
	seen := make(map[string]bool)
	var matched []string
	for _, kw := range keywords {
		k := strings.ToLower(strings.TrimSpace(kw))
		if k == "" || seen[k] {
			continue
		}
		if strings.Contains(lower, k) {
			seen[k] = true
			matched = append(matched, kw)
		}
	}
	return matched
}

// FindMatchingPosts scans recent posts of each user and keeps at most maxPostsPerUser keyword
// matches per user. When useAIGate is set the matches are screened by Grok; any failure of the
// gate returns the keyword matches unchanged.
func (f *PostFilter) FindMatchingPosts(ctx context.Context, campaignID string, usernames, keywords []string, lookbackDays, maxPostsPerUser int, useAIGate bool, campaignContext string) ([]models.MatchedPost, error) {
	var candidates []models.MatchedPost

	for i, username := range usernames {
		handle := normalizeHandle(username)
		posts, err := sources.CallWithRateLimitRetry(ctx, f.opts.MaxRateLimitWait, func(ctx context.Context) ([]models.Post, error) {
			return f.client.GetUserRecentPosts(ctx, handle, f.opts.PostsPerUser, lookbackDays)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logrus.Warnf("Failed to fetch posts for @%s: %v", handle, err)
		} else {
			kept := 0
			for _, post := range posts {
				if maxPostsPerUser > 0 && kept >= maxPostsPerUser {
					break
				}
				matched := MatchKeywords(post.Text, keywords)
				if len(matched) == 0 {
					continue
				}
				candidates = append(candidates, models.MatchedPost{
					CampaignID:      campaignID,
					TweetID:         post.ID,
					SourceUsername:  handle,
					Text:            post.Text,
					MatchedKeywords: matched,
					Engagement:      post.Engagement,
					PostedAt:        post.CreatedAt,
					ReplyStatus:     models.ReplyPending,
					FoundAt:         f.now().UTC(),
				})
				kept++
			}
		}

		if pause(i+1, len(usernames), f.pacing.UserBatchSize) {
			f.events.Publish(campaignID, models.LevelInfo, fmt.Sprintf("Processed %d/%d users, %d matches so far", i+1, len(usernames), len(candidates)), nil)
			if err := sleep(ctx, f.pacing.UserBatchPause); err != nil {
				return nil, err
			}
		}
	}

	f.events.Publish(campaignID, models.LevelInfo, fmt.Sprintf("Found %d keyword matches", len(candidates)), nil)

	if !useAIGate || len(candidates) == 0 {
		return candidates, nil
	}

	gated, err := f.applyAIGate(ctx, candidates, campaignContext)
	if err != nil {
		logrus.Warnf("AI filter failed for campaign %s, keeping keyword matches: %v", campaignID, err)
		f.events.Publish(campaignID, models.LevelWarning, "AI filter unavailable, using keyword matches", map[string]interface{}{"error": err.Error()})
		return candidates, nil
	}

	f.events.Publish(campaignID, models.LevelInfo, fmt.Sprintf("AI filter approved %d of %d posts", len(gated), len(candidates)), nil)
	return gated, nil
}

// applyAIGate screens the first AIGateBatchSize candidates in one request. Posts beyond the
// batch are not screened and are dropped.
func (f *PostFilter) applyAIGate(ctx context.Context, candidates []models.MatchedPost, campaignContext string) ([]models.MatchedPost, error) {
	batch := candidates
	if len(batch) > f.opts.AIGateBatchSize {
		batch = batch[:f.opts.AIGateBatchSize]
	}

	answer, err := f.client.RunAIConversation(ctx, BuildAIGatePrompt(batch, campaignContext), f.opts.GrokModel)
	if err != nil {
		return nil, err
	}

	verdicts := ParseAIGateResponse(answer)
	if len(verdicts) == 0 {
		return nil, errNoVerdicts
	}

	approved := make([]models.MatchedPost, 0, len(batch))
	for _, post := range batch {
		v, ok := verdicts[post.TweetID]
		if !ok || !v.Suitable {
			continue
		}
		post.AIApproved = true
		post.AIReason = v.Reason
		approved = append(approved, post)
	}
	return approved, nil
}

// BuildAIGatePrompt formats candidates for a single screening request
func BuildAIGatePrompt(posts []models.MatchedPost, campaignContext string) string {
	var b strings.Builder
	b.WriteString("You are screening social media posts for a reply campaign.\n")
	if campaignContext != "" {
		fmt.Fprintf(&b, "Campaign context: %s\n", campaignContext)
	}
	b.WriteString("Decide for each post whether a helpful, relevant reply would be welcome. ")
	b.WriteString("Reject spam, sensitive topics, complaints and posts where a promotional reply would be inappropriate.\n\n")
	b.WriteString("Respond with exactly one line per post in this format:\n")
	b.WriteString("tweet_id=<ID>;suitable=<yes|no>;reason=<short reason>\n\n")

	for _, p := range posts {
		fmt.Fprintf(&b, "TWEET ID: %s\n", p.TweetID)
		fmt.Fprintf(&b, "AUTHOR: @%s\n", p.SourceUsername)
		fmt.Fprintf(&b, "TEXT: %s\n", p.Text)
		fmt.Fprintf(&b, "ENGAGEMENT: %d likes, %d retweets, %d replies\n", p.Engagement.Likes, p.Engagement.Retweets, p.Engagement.Replies)
		b.WriteString("---\n")
	}
	return b.String()
}

// ParseAIGateResponse extracts per-post verdicts keyed by tweet id
func ParseAIGateResponse(answer string) map[string]Verdict {
	verdicts := make(map[string]Verdict)
	for _, m := range verdictPattern.FindAllStringSubmatch(answer, -1) {
		id := strings.TrimSpace(m[1])
		if id == "" {
			continue
		}
		verdicts[id] = Verdict{
			Suitable: strings.HasPrefix(strings.ToLower(strings.TrimSpace(m[2])), "yes"),
			Reason:   strings.TrimSpace(m[3]),
		}
	}
	return verdicts
}
