package campaign

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/azure/reply-campaigns-bot/internal/config"
	"github.com/azure/reply-campaigns-bot/internal/models"
)

var (
	ErrInvalidTransition   = errors.New("invalid campaign status transition")
	ErrNotAuthenticated    = errors.New("social platform session is not authenticated")
	ErrUnsupportedProvider = errors.New("AI provider is not configured")
	ErrAnalysisRunning     = errors.New("analysis already running")
	ErrReplySkipped        = errors.New("reply skipped")
)

// EventPublisher receives campaign progress events
type EventPublisher interface {
	Publish(campaignID string, level models.LogLevel, message string, data map[string]interface{})
}

// ReplyGate decides whether a campaign may post now
type ReplyGate interface {
	CanPostReply(ctx context.Context, campaignID string) (bool, string, error)
}

// Pacing is the fixed delay policy applied between upstream calls during analysis
type Pacing struct {
	PostBatchSize  int           // pause after this many posts of one seed user
	PostBatchPause time.Duration
	SeedUserPause  time.Duration // pause between seed users
	UserBatchSize  int           // pause after this many candidate users
	UserBatchPause time.Duration
}

// PacingFromConfig builds the pacing policy from configuration
func PacingFromConfig(cfg *config.Config) Pacing {
	return Pacing{
		PostBatchSize:  cfg.PostBatchSize,
		PostBatchPause: cfg.PostBatchPause,
		SeedUserPause:  cfg.SeedUserPause,
		UserBatchSize:  cfg.UserBatchSize,
		UserBatchPause: cfg.UserBatchPause,
	}
}

// pause reports whether a pause is due after the n-th item (1-based) of total
func pause(n, total, every int) bool {
	return every > 0 && n%every == 0 && n < total
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func normalizeHandle(handle string) string {
	return strings.TrimPrefix(strings.TrimSpace(handle), "@")
}
