package campaign

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/azure/reply-campaigns-bot/internal/models"
	"github.com/azure/reply-campaigns-bot/internal/sources"
	"github.com/sirupsen/logrus"
)

const (
	likeWeight    = 1
	retweetWeight = 2
)

// InteractionMapper ranks the users who most engage with a set of seed users
type InteractionMapper struct {
	client           sources.SocialClient
	events           EventPublisher
	pacing           Pacing
	postsPerSeed     int
	maxRateLimitWait time.Duration
}

// NewInteractionMapper creates a new interaction mapper
func NewInteractionMapper(client sources.SocialClient, events EventPublisher, pacing Pacing, postsPerSeed int, maxRateLimitWait time.Duration) *InteractionMapper {
	if postsPerSeed <= 0 {
		postsPerSeed = 20
	}
	return &InteractionMapper{
		client:           client,
		events:           events,
		pacing:           pacing,
		postsPerSeed:     postsPerSeed,
		maxRateLimitWait: maxRateLimitWait,
	}
}

type tally struct {
	score int
	last  time.Time
}

// FindTopInteractedUsers scores every user that liked (+1) or retweeted (+2) a recent post of a
// seed user and returns the topN highest scores, seed users excluded. Per-fetch failures are
// logged and skipped.
func (m *InteractionMapper) FindTopInteractedUsers(ctx context.Context, campaignID string, seedUsers []string, topN, lookbackDays int) ([]models.InteractionScore, error) {
	seeds := make(map[string]bool, len(seedUsers))
	for _, s := range seedUsers {
		seeds[strings.ToLower(normalizeHandle(s))] = true
	}

	tallies := make(map[string]*tally)
	var order []string
	add := func(username string, weight int, at time.Time) {
		t, ok := tallies[username]
		if !ok {
			t = &tally{}
			tallies[username] = t
			order = append(order, username)
		}
		t.score += weight
		if at.After(t.last) {
			t.last = at
		}
	}

	for i, seed := range seedUsers {
		handle := normalizeHandle(seed)
		m.events.Publish(campaignID, models.LevelInfo, fmt.Sprintf("Analyzing seed user %d/%d: @%s", i+1, len(seedUsers), handle), nil)

		posts, err := sources.CallWithRateLimitRetry(ctx, m.maxRateLimitWait, func(ctx context.Context) ([]models.Post, error) {
			return m.client.GetUserRecentPosts(ctx, handle, m.postsPerSeed, lookbackDays)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logrus.Warnf("Failed to fetch posts for seed user @%s: %v", handle, err)
			m.events.Publish(campaignID, models.LevelWarning, fmt.Sprintf("Skipping @%s: %v", handle, err), nil)
		} else {
			m.events.Publish(campaignID, models.LevelInfo, fmt.Sprintf("Found %d posts from @%s", len(posts), handle), nil)

			for j, post := range posts {
				postID := post.ID
				interactions, err := sources.CallWithRateLimitRetry(ctx, m.maxRateLimitWait, func(ctx context.Context) (*models.PostInteractions, error) {
					return m.client.GetPostInteractions(ctx, postID)
				})
				if err != nil {
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
					logrus.Warnf("Failed to fetch interactions for post %s: %v", postID, err)
				} else {
					for _, u := range interactions.Likers {
						add(u, likeWeight, post.CreatedAt)
					}
					for _, u := range interactions.Retweeters {
						add(u, retweetWeight, post.CreatedAt)
					}
				}

				if pause(j+1, len(posts), m.pacing.PostBatchSize) {
					m.events.Publish(campaignID, models.LevelInfo, fmt.Sprintf("Processed %d/%d posts from @%s", j+1, len(posts), handle), nil)
					if err := sleep(ctx, m.pacing.PostBatchPause); err != nil {
						return nil, err
					}
				}
			}
		}

		if i < len(seedUsers)-1 {
			if err := sleep(ctx, m.pacing.SeedUserPause); err != nil {
				return nil, err
			}
		}
	}

	scores := make([]models.InteractionScore, 0, len(order))
	for _, username := range order {
		if seeds[strings.ToLower(normalizeHandle(username))] {
			continue
		}
		t := tallies[username]
		scores = append(scores, models.InteractionScore{Username: username, Score: t.score, LastInteraction: t.last})
	}

	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if topN > 0 && len(scores) > topN {
		scores = scores[:topN]
	}

	m.events.Publish(campaignID, models.LevelSuccess, fmt.Sprintf("Found %d interacted users", len(scores)), map[string]interface{}{
		"count": len(scores),
	})
	return scores, nil
}
