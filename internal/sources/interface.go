package sources

import (
	"context"

	"github.com/azure/reply-campaigns-bot/internal/models"
)

// SocialClient is the capability surface of the social platform used by campaigns
type SocialClient interface {
	GetUserByHandle(ctx context.Context, handle string) (*models.SocialUser, error)
	// GetUserRecentPosts returns up to count posts, newest first, no older than lookbackDays
	GetUserRecentPosts(ctx context.Context, handle string, count, lookbackDays int) ([]models.Post, error)
	GetPostInteractions(ctx context.Context, postID string) (*models.PostInteractions, error)
	PostReply(ctx context.Context, text, inReplyToID string) (*models.PostedReply, error)
	RunAIConversation(ctx context.Context, prompt, model string) (string, error)
	AuthenticatedSessionPresent() bool
}
