package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/azure/reply-campaigns-bot/internal/metrics"
	"github.com/azure/reply-campaigns-bot/internal/models"
	"github.com/azure/reply-campaigns-bot/internal/storage"
)

// ReasonOK is returned when a campaign may post
const ReasonOK = "OK"

var waitPattern = regexp.MustCompile(`Wait (\d+)s`)

// Ledger is the read side of the reply ledger used by the limiter
type Ledger interface {
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	CountReplies(ctx context.Context, q storage.ReplyQuery) (int, error)
	LastPostedReplyAt(ctx context.Context, campaignID string) (*time.Time, error)
}

// Limits are the campaign-independent reply limits
type Limits struct {
	HourlyLimit   int
	MinReplyDelay time.Duration
	Location      *time.Location
}

// Limiter decides whether a campaign may post a reply now. It keeps no counters of its own;
// every decision is derived from the reply ledger.
type Limiter struct {
	ledger Ledger
	limits Limits
	now    func() time.Time
}

// NewLimiter creates a limiter over ledger
func NewLimiter(ledger Ledger, limits Limits) *Limiter {
	if limits.Location == nil {
		limits.Location = time.UTC
	}
	return &Limiter{
		ledger: ledger,
		limits: limits,
		now:    time.Now,
	}
}

// CanPostReply evaluates the daily, hourly and minimum-delay gates in that order
func (l *Limiter) CanPostReply(ctx context.Context, campaignID string) (bool, string, error) {
	campaign, err := l.ledger.GetCampaign(ctx, campaignID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, "Campaign not found", nil
	}
	if err != nil {
		return false, "", err
	}

	now := l.now().In(l.limits.Location)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, l.limits.Location)

	daily, err := l.ledger.CountReplies(ctx, storage.ReplyQuery{
		CampaignID: campaignID,
		Status:     models.ReplyPosted,
		Since:      midnight,
	})
	if err != nil {
		return false, "", fmt.Errorf("failed to count daily replies: %w", err)
	}
	if daily >= campaign.DailyReplyLimit {
		metrics.IncRateLimitDenial("daily")
		return false, fmt.Sprintf("Daily limit reached (%d/%d)", daily, campaign.DailyReplyLimit), nil
	}

	hourly, err := l.ledger.CountReplies(ctx, storage.ReplyQuery{
		CampaignID: campaignID,
		Status:     models.ReplyPosted,
		Since:      now.Add(-time.Hour),
	})
	if err != nil {
		return false, "", fmt.Errorf("failed to count hourly replies: %w", err)
	}
	if hourly >= l.limits.HourlyLimit {
		metrics.IncRateLimitDenial("hourly")
		return false, fmt.Sprintf("Hourly limit reached (%d/%d)", hourly, l.limits.HourlyLimit), nil
	}

	last, err := l.ledger.LastPostedReplyAt(ctx, campaignID)
	if err != nil {
		return false, "", fmt.Errorf("failed to load last reply time: %w", err)
	}
	if last != nil {
		if since := now.Sub(*last); since < l.limits.MinReplyDelay {
			remaining := int(math.Ceil((l.limits.MinReplyDelay - since).Seconds()))
			metrics.IncRateLimitDenial("min_delay")
			return false, fmt.Sprintf("Too soon since last reply. Wait %ds", remaining), nil
		}
	}

	return true, ReasonOK, nil
}

// GetWaitTime returns how long the campaign should wait before posting; zero when it may post now
func (l *Limiter) GetWaitTime(ctx context.Context, campaignID string) (time.Duration, error) {
	allowed, reason, err := l.CanPostReply(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	if allowed {
		return 0, nil
	}
	return WaitFromReason(reason, l.limits.MinReplyDelay), nil
}

// WaitFromReason recovers the wait encoded in a denial reason, or fallback when none is encoded
func WaitFromReason(reason string, fallback time.Duration) time.Duration {
	if m := waitPattern.FindStringSubmatch(reason); m != nil {
		if secs, err := strconv.Atoi(m[1]); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}
