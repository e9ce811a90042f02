package storage

import (
	"context"
	"errors"
	"time"

	"github.com/azure/reply-campaigns-bot/internal/models"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// ErrStatusConflict is returned when a status transition loses to a concurrent change
var ErrStatusConflict = errors.New("campaign status changed concurrently")

// ArchiveInterface defines the contract for blob archive operations. Get returns ErrNotFound for a
// missing blob and List returns names sorted ascending.
type ArchiveInterface interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// CampaignCounter names an atomically incremented campaign counter
type CampaignCounter string

const (
	CounterReplies CampaignCounter = "total_replies"
	CounterClicks  CampaignCounter = "total_clicks"
)

// ReplyQuery scopes a count over the reply ledger
type ReplyQuery struct {
	CampaignID    string
	Status        models.ReplyStatus
	Since         time.Time
	IncludeDryRun bool
}

// CampaignStore is the persisted state of campaigns, matched posts and the reply ledger
type CampaignStore interface {
	CreateCampaign(ctx context.Context, c *models.Campaign) error
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	ListCampaigns(ctx context.Context, status models.CampaignStatus) ([]*models.Campaign, error)
	TransitionCampaign(ctx context.Context, id string, from, to models.CampaignStatus, at time.Time, startedAt *time.Time) error
	SetShortURL(ctx context.Context, id, shortURL string) error
	RecordAnalysisResult(ctx context.Context, id string, totalMatched int, at time.Time) error
	RecordAnalysisError(ctx context.Context, id, message string, at time.Time) error
	IncrementCampaignCounter(ctx context.Context, id string, counter CampaignCounter, delta int) error

	SaveInteractionMap(ctx context.Context, campaignID string, scores []models.InteractionScore) error
	GetInteractionMap(ctx context.Context, campaignID string) ([]models.InteractionScore, error)

	InsertMatchedPosts(ctx context.Context, posts []models.MatchedPost) (int, error)
	NextPendingPost(ctx context.Context, campaignID string) (*models.MatchedPost, error)
	UpdateMatchedPostStatus(ctx context.Context, campaignID, tweetID string, status models.ReplyStatus, reason string) error
	CountMatchedPosts(ctx context.Context, campaignID string, status models.ReplyStatus) (int, error)

	InsertReply(ctx context.Context, r *models.CampaignReply) error
	HasPostedReply(ctx context.Context, campaignID, targetTweetID string) (bool, error)
	CountReplies(ctx context.Context, q ReplyQuery) (int, error)
	LastPostedReplyAt(ctx context.Context, campaignID string) (*time.Time, error)
	ListReplies(ctx context.Context, campaignID string) ([]models.CampaignReply, error)

	CreateShortLink(ctx context.Context, link *models.ShortLink) error
	GetShortLink(ctx context.Context, code string) (*models.ShortLink, error)
	RecordClick(ctx context.Context, click *models.ClickEvent) error
}
