package models

import (
	"fmt"
	"strings"
	"time"
)

// CampaignStatus is the lifecycle state of a campaign
type CampaignStatus string

const (
	StatusDraft     CampaignStatus = "draft"
	StatusActive    CampaignStatus = "active"
	StatusPaused    CampaignStatus = "paused"
	StatusCompleted CampaignStatus = "completed"
)

var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	StatusDraft:  {StatusActive},
	StatusActive: {StatusPaused, StatusCompleted},
	StatusPaused: {StatusActive},
}

// CanTransitionTo reports whether moving from s to next is a valid lifecycle step
func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	for _, allowed := range campaignTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AIProvider selects the reply generation strategy of a campaign
type AIProvider string

const (
	ProviderOpenAI    AIProvider = "openai"
	ProviderAnthropic AIProvider = "anthropic"
	ProviderGrok      AIProvider = "grok"
	ProviderBoth      AIProvider = "both"
)

// Valid reports whether p is a known provider
func (p AIProvider) Valid() bool {
	switch p {
	case ProviderOpenAI, ProviderAnthropic, ProviderGrok, ProviderBoth:
		return true
	}
	return false
}

// DefaultModel returns the reply model used when a campaign does not override it
func (p AIProvider) DefaultModel() string {
	switch p {
	case ProviderAnthropic:
		return "claude-3-5-sonnet-20241022"
	case ProviderGrok:
		return "grok-3"
	default:
		return "gpt-4"
	}
}

// Campaign represents an automated reply campaign
type Campaign struct {
	ID          string         `json:"id" yaml:"-"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Status      CampaignStatus `json:"status" yaml:"-"`

	SeedUsers       []string   `json:"seed_users" yaml:"seed_users"`
	TopNUsers       int        `json:"top_n_users" yaml:"top_n_users"`
	LookbackDays    int        `json:"lookback_days" yaml:"lookback_days"`
	Keywords        []string   `json:"keywords" yaml:"keywords"`
	ReplyTemplate   string     `json:"reply_template" yaml:"reply_template"`
	TargetURL       string     `json:"target_url" yaml:"target_url"`
	ShortURL        string     `json:"short_url" yaml:"short_url"`
	AIProvider      AIProvider `json:"ai_provider" yaml:"ai_provider"`
	ReplyModel      string     `json:"reply_model" yaml:"reply_model"`
	UseGrokFilter   bool       `json:"use_grok_filter" yaml:"use_grok_filter"`
	DailyReplyLimit int        `json:"daily_reply_limit" yaml:"daily_reply_limit"`
	DryRun          bool       `json:"dry_run" yaml:"dry_run"`

	TotalReplies      int    `json:"total_replies" yaml:"-"`
	TotalClicks       int    `json:"total_clicks" yaml:"-"`
	TotalMatchedPosts int    `json:"total_matched_posts" yaml:"-"`
	AnalysisCompleted bool   `json:"analysis_completed" yaml:"-"`
	AnalysisError     string `json:"analysis_error,omitempty" yaml:"-"`

	CreatedAt time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt time.Time  `json:"updated_at" yaml:"-"`
	StartedAt *time.Time `json:"started_at,omitempty" yaml:"-"`
}

// ApplyDefaults fills unset configuration with the campaign defaults
func (c *Campaign) ApplyDefaults() {
	if c.Status == "" {
		c.Status = StatusDraft
	}
	if c.TopNUsers <= 0 {
		c.TopNUsers = 50
	}
	if c.LookbackDays <= 0 {
		c.LookbackDays = 7
	}
	if c.AIProvider == "" {
		c.AIProvider = ProviderOpenAI
	}
	if c.DailyReplyLimit <= 0 {
		c.DailyReplyLimit = 50
	}
}

// Model returns the reply model for the campaign, honoring an explicit override
func (c *Campaign) Model() string {
	if c.ReplyModel != "" {
		return c.ReplyModel
	}
	return c.AIProvider.DefaultModel()
}

// LinkURL is the URL inserted into replies
func (c *Campaign) LinkURL() string {
	if c.ShortURL != "" {
		return c.ShortURL
	}
	return c.TargetURL
}

// Validate checks that a campaign can be persisted
func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("campaign name is required")
	}
	if len(c.SeedUsers) == 0 {
		return fmt.Errorf("at least one seed user is required")
	}
	if len(c.Keywords) == 0 {
		return fmt.Errorf("at least one keyword is required")
	}
	if c.ReplyTemplate == "" {
		return fmt.Errorf("reply template is required")
	}
	if c.TargetURL == "" {
		return fmt.Errorf("target URL is required")
	}
	if !c.AIProvider.Valid() {
		return fmt.Errorf("unsupported AI provider %q", c.AIProvider)
	}
	return nil
}

// Engagement is a snapshot of a post's public metrics
type Engagement struct {
	Likes    int `json:"likes"`
	Retweets int `json:"retweets"`
	Replies  int `json:"replies"`
}

// SocialUser is an account on the social platform
type SocialUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Post is a post fetched from the social platform
type Post struct {
	ID             string     `json:"id"`
	AuthorID       string     `json:"author_id"`
	AuthorUsername string     `json:"author_username"`
	Text           string     `json:"text"`
	CreatedAt      time.Time  `json:"created_at"`
	Engagement     Engagement `json:"engagement"`
}

// PostInteractions holds the users that liked and retweeted a post
type PostInteractions struct {
	Likers     []string `json:"likers"`
	Retweeters []string `json:"retweeters"`
}

// PostedReply is the platform's acknowledgement of a created reply
type PostedReply struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// InteractionScore is one ranked entry of an interaction map
type InteractionScore struct {
	Username        string    `json:"username"`
	Score           int       `json:"interaction_score"`
	LastInteraction time.Time `json:"last_interaction"`
}

// ReplyStatus is the processing state of a matched post or the outcome of a reply
type ReplyStatus string

const (
	ReplyPending   ReplyStatus = "pending"
	ReplyPosted    ReplyStatus = "posted"
	ReplyFailed    ReplyStatus = "failed"
	ReplyDuplicate ReplyStatus = "duplicate"
)

// MatchedPost is a candidate post awaiting a reply
type MatchedPost struct {
	CampaignID      string      `json:"campaign_id"`
	TweetID         string      `json:"tweet_id"`
	SourceUsername  string      `json:"source_username"`
	Text            string      `json:"text"`
	MatchedKeywords []string    `json:"matched_keywords"`
	Engagement      Engagement  `json:"engagement"`
	PostedAt        time.Time   `json:"posted_at"`
	AIApproved      bool        `json:"ai_approved"`
	AIReason        string      `json:"ai_reason,omitempty"`
	ReplyStatus     ReplyStatus `json:"reply_status"`
	StatusReason    string      `json:"status_reason,omitempty"`
	FoundAt         time.Time   `json:"found_at"`
}

// CampaignReply is one append-only record of a reply attempt
type CampaignReply struct {
	ID              string      `json:"id"`
	CampaignID      string      `json:"campaign_id"`
	TargetUsername  string      `json:"target_username"`
	TargetTweetID   string      `json:"target_tweet_id"`
	TargetTweetText string      `json:"target_tweet_text"`
	ReplyText       string      `json:"generated_reply_text"`
	ReplyTweetID    *string     `json:"reply_tweet_id"`
	ShortURL        string      `json:"short_url"`
	Status          ReplyStatus `json:"status"`
	ErrorMessage    *string     `json:"error_message"`
	DryRun          bool        `json:"dry_run"`
	PostedAt        *time.Time  `json:"posted_at"`
	CreatedAt       time.Time   `json:"created_at"`
}

// ReplyOutcome is the result of a single post attempt by the auto replier
type ReplyOutcome struct {
	Success     bool    `json:"success"`
	Skipped     bool    `json:"skipped,omitempty"`
	ReplyText   string  `json:"reply_text,omitempty"`
	TweetID     *string `json:"tweet_id"`
	URL         *string `json:"url"`
	Error       string  `json:"error,omitempty"`
	RateLimited bool    `json:"rate_limit,omitempty"`
	DryRun      bool    `json:"dry_run"`
}

// LogLevel is the severity of a campaign log entry
type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
	LevelSuccess LogLevel = "success"
)

// LogEntry is a progress event for a campaign
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     LogLevel               `json:"level"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// ShortLink maps a tracked code to the campaign's target URL
type ShortLink struct {
	Code       string    `json:"code"`
	CampaignID string    `json:"campaign_id"`
	TargetURL  string    `json:"target_url"`
	ShortURL   string    `json:"short_url"`
	Clicks     int       `json:"clicks"`
	CreatedAt  time.Time `json:"created_at"`
}

// ClickEvent records a visit to a tracked link
type ClickEvent struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	CampaignID string    `json:"campaign_id"`
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
	Referrer   string    `json:"referrer"`
	ClickedAt  time.Time `json:"clicked_at"`
}

// CampaignStatusSummary is the operational view of a campaign
type CampaignStatusSummary struct {
	Campaign      *Campaign `json:"campaign"`
	PendingPosts  int       `json:"pending_posts"`
	PostedReplies int       `json:"posted_replies"`
	TotalClicks   int       `json:"total_clicks"`
	DryRun        bool      `json:"dry_run"`
}

// CampaignAnalytics aggregates reply and click performance
type CampaignAnalytics struct {
	CampaignID       string         `json:"campaign_id"`
	TotalReplies     int            `json:"total_replies"`
	TotalClicks      int            `json:"total_clicks"`
	ClickThroughRate float64        `json:"click_through_rate"`
	FailedReplies    int            `json:"failed_replies"`
	ErrorRate        float64        `json:"error_rate"`
	RepliesByDate    map[string]int `json:"replies_by_date"`
}

// AnalysisReport summarizes a completed analysis run
type AnalysisReport struct {
	CampaignID   string             `json:"campaign_id"`
	CampaignName string             `json:"campaign_name"`
	GeneratedAt  time.Time          `json:"generated_at"`
	TopUsers     []InteractionScore `json:"top_users"`
	MatchedPosts []MatchedPost      `json:"matched_posts"`
	DryRun       bool               `json:"dry_run"`
}

// Alert represents an urgent notification
type Alert struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"` // "critical", "urgent", "info"
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	CampaignID string    `json:"campaign_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
