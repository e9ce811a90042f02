package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/azure/reply-campaigns-bot/internal/config"
	"github.com/azure/reply-campaigns-bot/internal/metrics"
	"github.com/azure/reply-campaigns-bot/internal/models"
	"github.com/azure/reply-campaigns-bot/internal/notifications"
	"github.com/azure/reply-campaigns-bot/internal/sources"
	"github.com/azure/reply-campaigns-bot/internal/storage"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
)

// LinkShortener issues the tracked link a campaign inserts into replies
type LinkShortener interface {
	Shorten(ctx context.Context, campaignID, targetURL string) (string, error)
}

// Dependencies are the collaborators of a campaign Service. Notifier, Archive and Shortener are optional.
// Without a Gate replies are not rate limited.
type Dependencies struct {
	Store     storage.CampaignStore
	Client    sources.SocialClient
	Replier   *AutoReplier
	Gate      ReplyGate
	Events    EventPublisher
	Notifier  notifications.NotificationInterface
	Archive   storage.ArchiveInterface
	Shortener LinkShortener
}

// Service manages the campaign lifecycle, analysis pipeline and reply processing
type Service struct {
	config    *config.Config
	store     storage.CampaignStore
	client    sources.SocialClient
	mapper    *InteractionMapper
	filter    *PostFilter
	replier   *AutoReplier
	gate      ReplyGate
	events    EventPublisher
	notifier  notifications.NotificationInterface
	archive   storage.ArchiveInterface
	shortener LinkShortener

	locks     *xsync.MapOf[string, *sync.Mutex]
	analyzing *xsync.MapOf[string, struct{}]
	analyses  sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	now       func() time.Time
}

// ProcessResult describes what one ProcessPendingReply call did
type ProcessResult struct {
	Processed  bool                 `json:"processed"`
	Denied     bool                 `json:"rate_limited,omitempty"`
	Reason     string               `json:"reason,omitempty"`
	TweetID    string               `json:"tweet_id,omitempty"`
	PostStatus models.ReplyStatus   `json:"post_status,omitempty"`
	Outcome    *models.ReplyOutcome `json:"outcome,omitempty"`
}

// NewService creates a new campaign service
func NewService(cfg *config.Config, deps Dependencies) *Service {
	pacing := PacingFromConfig(cfg)
	filter := NewPostFilter(deps.Client, deps.Events, pacing, PostFilterOptions{
		PostsPerUser:     cfg.PostsPerCandidate,
		AIGateBatchSize:  cfg.AIGateBatchSize,
		GrokModel:        cfg.GrokModel,
		MaxRateLimitWait: cfg.MaxRateLimitWait,
	})
	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		config:    cfg,
		store:     deps.Store,
		client:    deps.Client,
		mapper:    NewInteractionMapper(deps.Client, deps.Events, pacing, cfg.PostsPerSeedUser, cfg.MaxRateLimitWait),
		filter:    filter,
		replier:   deps.Replier,
		gate:      deps.Gate,
		events:    deps.Events,
		notifier:  deps.Notifier,
		archive:   deps.Archive,
		shortener: deps.Shortener,
		locks:     xsync.NewMapOf[string, *sync.Mutex](),
		analyzing: xsync.NewMapOf[string, struct{}](),
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
	}
}

// CreateCampaign validates and persists a new draft campaign and issues its tracked link
func (s *Service) CreateCampaign(ctx context.Context, c *models.Campaign) (*models.Campaign, error) {
	c.Status = models.StatusDraft
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid campaign: %w", err)
	}

	now := s.now().UTC()
	c.ID = uuid.NewString()
	c.CreatedAt = now
	c.UpdatedAt = now
	c.TotalReplies, c.TotalClicks, c.TotalMatchedPosts = 0, 0, 0
	c.AnalysisCompleted, c.AnalysisError, c.StartedAt = false, "", nil

	if err := s.store.CreateCampaign(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	if c.ShortURL == "" && s.shortener != nil {
		short, err := s.shortener.Shorten(ctx, c.ID, c.TargetURL)
		if err != nil {
			logrus.Warnf("Failed to shorten link for campaign %s, using target URL: %v", c.ID, err)
		} else {
			c.ShortURL = short
			if err := s.store.SetShortURL(ctx, c.ID, short); err != nil {
				return nil, fmt.Errorf("failed to save short link: %w", err)
			}
		}
	}

	s.events.Publish(c.ID, models.LevelInfo, fmt.Sprintf("Campaign %q created", c.Name), map[string]interface{}{
		"link": c.LinkURL(),
	})
	return c, nil
}

// GetCampaign returns a campaign by id
func (s *Service) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	return s.store.GetCampaign(ctx, id)
}

// ListCampaigns returns campaigns, optionally filtered by status
func (s *Service) ListCampaigns(ctx context.Context, status models.CampaignStatus) ([]*models.Campaign, error) {
	return s.store.ListCampaigns(ctx, status)
}

// ActiveCampaigns returns the campaigns the scheduler should service
func (s *Service) ActiveCampaigns(ctx context.Context) ([]*models.Campaign, error) {
	return s.store.ListCampaigns(ctx, models.StatusActive)
}

// StartCampaign activates a campaign and launches its analysis in the background
func (s *Service) StartCampaign(ctx context.Context, id string) error {
	c, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if !c.Status.CanTransitionTo(models.StatusActive) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, models.StatusActive)
	}
	if !s.client.AuthenticatedSessionPresent() {
		return ErrNotAuthenticated
	}
	if !s.replier.Supports(c.AIProvider) {
		return fmt.Errorf("%w: %s", ErrUnsupportedProvider, c.AIProvider)
	}

	now := s.now().UTC()
	if err := s.transition(ctx, c, models.StatusActive, &now); err != nil {
		return err
	}

	mode := "live"
	if c.DryRun {
		mode = "dry run"
	}
	s.events.Publish(c.ID, models.LevelSuccess, fmt.Sprintf("Campaign started (%s)", mode), nil)

	s.launchAnalysis(c.ID)
	return nil
}

// StopCampaign pauses an active campaign
func (s *Service) StopCampaign(ctx context.Context, id string) error {
	c, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if !c.Status.CanTransitionTo(models.StatusPaused) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, models.StatusPaused)
	}

	if err := s.transition(ctx, c, models.StatusPaused, nil); err != nil {
		return err
	}

	s.events.Publish(c.ID, models.LevelWarning, "Campaign paused", nil)
	return nil
}

// transition moves c to the given status if nobody changed it since c was read
func (s *Service) transition(ctx context.Context, c *models.Campaign, to models.CampaignStatus, startedAt *time.Time) error {
	now := s.now().UTC()
	err := s.store.TransitionCampaign(ctx, c.ID, c.Status, to, now, startedAt)
	if errors.Is(err, storage.ErrStatusConflict) {
		return fmt.Errorf("%w: %s -> %s: %v", ErrInvalidTransition, c.Status, to, err)
	}
	if err != nil {
		return fmt.Errorf("failed to move campaign %s to %s: %w", c.ID, to, err)
	}

	c.Status = to
	c.UpdatedAt = now
	if startedAt != nil {
		c.StartedAt = startedAt
	}
	return nil
}

// TriggerAnalysis launches a background analysis for an existing campaign
func (s *Service) TriggerAnalysis(ctx context.Context, id string) error {
	if _, err := s.store.GetCampaign(ctx, id); err != nil {
		return err
	}
	if !s.launchAnalysis(id) {
		return ErrAnalysisRunning
	}
	return nil
}

// launchAnalysis runs the analysis detached from the caller. At most one analysis per campaign runs at a time.
func (s *Service) launchAnalysis(id string) bool {
	if _, running := s.analyzing.LoadOrStore(id, struct{}{}); running {
		s.events.Publish(id, models.LevelWarning, "Analysis already running", nil)
		return false
	}

	s.analyses.Add(1)
	go func() {
		defer s.analyses.Done()
		defer s.analyzing.Delete(id)

		if err := s.RunAnalysis(s.ctx, id); err != nil {
			logrus.Errorf("Analysis for campaign %s failed: %v", id, err)
		}
	}()
	return true
}

// AnalysisRunning reports whether an analysis is in flight for the campaign
func (s *Service) AnalysisRunning(id string) bool {
	_, ok := s.analyzing.Load(id)
	return ok
}

// RunAnalysis maps interactions, finds matching posts and queues them as pending replies
func (s *Service) RunAnalysis(ctx context.Context, id string) error {
	start := time.Now()
	c, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return err
	}

	s.events.Publish(c.ID, models.LevelInfo, "Starting analysis: finding top interacted users", map[string]interface{}{
		"seed_users": c.SeedUsers,
	})

	users, err := s.mapper.FindTopInteractedUsers(ctx, c.ID, c.SeedUsers, c.TopNUsers, c.LookbackDays)
	if err != nil {
		return s.failAnalysis(c.ID, fmt.Errorf("interaction mapping: %w", err))
	}
	if err := s.store.SaveInteractionMap(ctx, c.ID, users); err != nil {
		return s.failAnalysis(c.ID, fmt.Errorf("failed to save interaction map: %w", err))
	}

	usernames := make([]string, 0, len(users))
	for _, u := range users {
		usernames = append(usernames, u.Username)
	}
	if len(usernames) == 0 {
		s.events.Publish(c.ID, models.LevelWarning, "No interacted users found", nil)
	} else {
		s.events.Publish(c.ID, models.LevelInfo, fmt.Sprintf("Searching posts from %d users for keywords", len(usernames)), map[string]interface{}{
			"keywords": c.Keywords,
		})
	}

	posts, err := s.filter.FindMatchingPosts(ctx, c.ID, usernames, c.Keywords, c.LookbackDays, s.config.MaxPostsPerUser, c.UseGrokFilter, campaignContext(c))
	if err != nil {
		return s.failAnalysis(c.ID, fmt.Errorf("post filtering: %w", err))
	}

	inserted, err := s.store.InsertMatchedPosts(ctx, posts)
	if err != nil {
		return s.failAnalysis(c.ID, fmt.Errorf("failed to save matched posts: %w", err))
	}

	total, err := s.store.CountMatchedPosts(ctx, c.ID, "")
	if err != nil {
		return s.failAnalysis(c.ID, fmt.Errorf("failed to count matched posts: %w", err))
	}
	if err := s.store.RecordAnalysisResult(ctx, c.ID, total, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}

	metrics.IncAnalysisRun("completed")
	metrics.ObserveSince(metrics.AnalysisDuration, start)
	s.events.Publish(c.ID, models.LevelSuccess, fmt.Sprintf("Analysis completed: %d matched posts (%d new)", len(posts), inserted), map[string]interface{}{
		"matched_posts": len(posts),
		"new_posts":     inserted,
		"users":         len(users),
	})

	report := &models.AnalysisReport{
		CampaignID:   c.ID,
		CampaignName: c.Name,
		GeneratedAt:  s.now().UTC(),
		TopUsers:     users,
		MatchedPosts: posts,
		DryRun:       c.DryRun,
	}
	s.publishReport(ctx, report)
	return nil
}

func (s *Service) publishReport(ctx context.Context, report *models.AnalysisReport) {
	if s.archive != nil {
		name := analysisPrefix(report.CampaignID) + "analysis-" + report.GeneratedAt.Format("20060102-150405") + ".json"
		if err := storage.PutJSON(ctx, s.archive, name, report); err != nil {
			logrus.Errorf("Failed to archive analysis for campaign %s: %v", report.CampaignID, err)
		} else {
			logrus.Infof("Archived analysis for campaign %s to %s", report.CampaignID, name)
		}
	}

	if s.notifier != nil {
		if err := s.notifier.SendAnalysisReport(report); err != nil {
			logrus.Errorf("Failed to send analysis report for campaign %s: %v", report.CampaignID, err)
		}
	}
}

func analysisPrefix(campaignID string) string {
	return "campaigns/" + campaignID + "/"
}

// ListAnalyses returns the archived analysis names of a campaign, newest first
func (s *Service) ListAnalyses(ctx context.Context, id string) ([]string, error) {
	if _, err := s.store.GetCampaign(ctx, id); err != nil {
		return nil, err
	}
	names := []string{}
	if s.archive == nil {
		return names, nil
	}

	stored, err := s.archive.List(ctx, analysisPrefix(id))
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	for i := len(stored) - 1; i >= 0; i-- {
		names = append(names, strings.TrimPrefix(stored[i], analysisPrefix(id)))
	}
	return names, nil
}

// GetAnalysis loads one archived analysis report of a campaign
func (s *Service) GetAnalysis(ctx context.Context, id, name string) (*models.AnalysisReport, error) {
	if s.archive == nil || name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return nil, storage.ErrNotFound
	}

	data, err := s.archive.Get(ctx, analysisPrefix(id)+name)
	if err != nil {
		return nil, err
	}
	var report models.AnalysisReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode analysis %s: %w", name, err)
	}
	return &report, nil
}

func (s *Service) failAnalysis(id string, cause error) error {
	metrics.IncAnalysisRun("failed")
	s.events.Publish(id, models.LevelError, fmt.Sprintf("Analysis failed: %v", cause), nil)

	// The caller's context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.store.RecordAnalysisError(ctx, id, cause.Error(), s.now().UTC()); err != nil {
		logrus.Errorf("Failed to record analysis error for campaign %s: %v", id, err)
	}

	s.alert("critical", "Campaign analysis failed", cause.Error(), id)
	return cause
}

// ProcessPendingReply replies to the oldest pending post of an active campaign if the rate limiter
// allows it. Concurrent calls for the same campaign are serialized, so the limit check and the
// reply it admits see the same ledger.
func (s *Service) ProcessPendingReply(ctx context.Context, id string) (*ProcessResult, error) {
	lock, _ := s.locks.LoadOrCompute(id, func() *sync.Mutex { return &sync.Mutex{} })
	lock.Lock()
	result, err := s.processPendingReply(ctx, id)
	lock.Unlock()

	if result != nil && result.Outcome != nil && result.Outcome.RateLimited {
		s.alert("urgent", "Reply rate limited", fmt.Sprintf("X rejected a reply to %s with a rate limit", result.TweetID), id)
	}
	return result, err
}

func (s *Service) processPendingReply(ctx context.Context, id string) (*ProcessResult, error) {
	c, err := s.store.GetCampaign(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return &ProcessResult{Reason: "Campaign not found"}, nil
	}
	if err != nil {
		return nil, err
	}
	if c.Status != models.StatusActive {
		return &ProcessResult{Reason: "Campaign is not active"}, nil
	}

	if s.gate != nil {
		allowed, reason, err := s.gate.CanPostReply(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check rate limits: %w", err)
		}
		if !allowed {
			return &ProcessResult{Denied: true, Reason: reason}, nil
		}
	}

	post, err := s.store.NextPendingPost(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending post: %w", err)
	}
	if post == nil {
		return &ProcessResult{Reason: "No pending posts"}, nil
	}

	duplicate, err := s.store.HasPostedReply(ctx, c.ID, post.TweetID)
	if err != nil {
		return nil, fmt.Errorf("failed to check reply ledger: %w", err)
	}
	if duplicate {
		if err := s.store.UpdateMatchedPostStatus(ctx, c.ID, post.TweetID, models.ReplyDuplicate, "Duplicate tweet"); err != nil {
			return nil, err
		}
		metrics.IncReplyAttempt("duplicate")
		s.events.Publish(c.ID, models.LevelWarning, fmt.Sprintf("Skipping duplicate post %s", post.TweetID), nil)
		return &ProcessResult{Reason: "Duplicate tweet", TweetID: post.TweetID, PostStatus: models.ReplyDuplicate}, nil
	}

	s.events.Publish(c.ID, models.LevelInfo, fmt.Sprintf("Generating reply to @%s", post.SourceUsername), map[string]interface{}{
		"tweet_id": post.TweetID,
	})
	outcome := s.replier.PostReply(ctx, post, c, c.DryRun)

	now := s.now().UTC()
	reply := &models.CampaignReply{
		ID:              uuid.NewString(),
		CampaignID:      c.ID,
		TargetUsername:  post.SourceUsername,
		TargetTweetID:   post.TweetID,
		TargetTweetText: post.Text,
		ReplyText:       outcome.ReplyText,
		ReplyTweetID:    outcome.TweetID,
		ShortURL:        c.LinkURL(),
		Status:          models.ReplyFailed,
		DryRun:          c.DryRun,
		CreatedAt:       now,
	}
	if outcome.Success {
		reply.Status = models.ReplyPosted
		reply.PostedAt = &now
	} else {
		msg := outcome.Error
		reply.ErrorMessage = &msg
	}
	if err := s.store.InsertReply(ctx, reply); err != nil {
		return nil, fmt.Errorf("failed to record reply: %w", err)
	}
	if err := s.store.UpdateMatchedPostStatus(ctx, c.ID, post.TweetID, reply.Status, outcome.Error); err != nil {
		return nil, err
	}
	if outcome.Success && !c.DryRun {
		if err := s.store.IncrementCampaignCounter(ctx, c.ID, storage.CounterReplies, 1); err != nil {
			return nil, err
		}
	}

	s.recordOutcome(c, post, &outcome)
	return &ProcessResult{
		Processed:  true,
		Reason:     outcome.Error,
		TweetID:    post.TweetID,
		PostStatus: reply.Status,
		Outcome:    &outcome,
	}, nil
}

func (s *Service) recordOutcome(c *models.Campaign, post *models.MatchedPost, outcome *models.ReplyOutcome) {
	data := map[string]interface{}{"tweet_id": post.TweetID, "reply": outcome.ReplyText}

	switch {
	case outcome.Success && outcome.DryRun:
		metrics.IncReplyAttempt("dry_run")
		s.events.Publish(c.ID, models.LevelSuccess, fmt.Sprintf("Dry run: generated reply for @%s", post.SourceUsername), data)
	case outcome.Success:
		metrics.IncReplyAttempt("posted")
		data["reply_tweet_id"] = *outcome.TweetID
		s.events.Publish(c.ID, models.LevelSuccess, fmt.Sprintf("Reply posted to @%s", post.SourceUsername), data)
	case outcome.Skipped:
		metrics.IncReplyAttempt("skipped")
		s.events.Publish(c.ID, models.LevelWarning, fmt.Sprintf("Reply to @%s skipped", post.SourceUsername), data)
	case outcome.RateLimited:
		metrics.IncReplyAttempt("rate_limited")
		s.events.Publish(c.ID, models.LevelError, outcome.Error, data)
	default:
		metrics.IncReplyAttempt("failed")
		data["error"] = outcome.Error
		s.events.Publish(c.ID, models.LevelError, fmt.Sprintf("Failed to reply to @%s", post.SourceUsername), data)
	}
}

func (s *Service) alert(kind, title, message, campaignID string) {
	if s.notifier == nil {
		return
	}
	alert := &models.Alert{
		ID:         uuid.NewString(),
		Type:       kind,
		Title:      title,
		Message:    message,
		CampaignID: campaignID,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.notifier.SendAlert(alert); err != nil {
		logrus.Errorf("Failed to send alert: %v", err)
	}
}

// GetCampaignStatus returns the operational summary of a campaign
func (s *Service) GetCampaignStatus(ctx context.Context, id string) (*models.CampaignStatusSummary, error) {
	c, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	pending, err := s.store.CountMatchedPosts(ctx, c.ID, models.ReplyPending)
	if err != nil {
		return nil, err
	}
	posted, err := s.store.CountReplies(ctx, storage.ReplyQuery{CampaignID: c.ID, Status: models.ReplyPosted, IncludeDryRun: true})
	if err != nil {
		return nil, err
	}

	return &models.CampaignStatusSummary{
		Campaign:      c,
		PendingPosts:  pending,
		PostedReplies: posted,
		TotalClicks:   c.TotalClicks,
		DryRun:        c.DryRun,
	}, nil
}

// GetAnalytics aggregates live reply performance. Dry-run replies are excluded.
func (s *Service) GetAnalytics(ctx context.Context, id string) (*models.CampaignAnalytics, error) {
	c, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	replies, err := s.store.ListReplies(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	loc := s.config.Location()
	analytics := &models.CampaignAnalytics{
		CampaignID:    c.ID,
		TotalClicks:   c.TotalClicks,
		RepliesByDate: make(map[string]int),
	}

	attempts := 0
	for _, r := range replies {
		if r.DryRun {
			continue
		}
		attempts++
		switch r.Status {
		case models.ReplyPosted:
			analytics.TotalReplies++
			at := r.CreatedAt
			if r.PostedAt != nil {
				at = *r.PostedAt
			}
			analytics.RepliesByDate[at.In(loc).Format("2006-01-02")]++
		case models.ReplyFailed:
			analytics.FailedReplies++
		}
	}

	if analytics.TotalReplies > 0 {
		analytics.ClickThroughRate = float64(analytics.TotalClicks) / float64(analytics.TotalReplies) * 100
	}
	if attempts > 0 {
		analytics.ErrorRate = float64(analytics.FailedReplies) / float64(attempts) * 100
	}
	return analytics, nil
}

// Close cancels running analyses and waits for them to finish
func (s *Service) Close() {
	s.cancel()
	s.analyses.Wait()
}

// Wait blocks until every launched analysis has finished
func (s *Service) Wait() {
	s.analyses.Wait()
}

func campaignContext(c *models.Campaign) string {
	parts := []string{c.Name}
	if c.Description != "" {
		parts = append(parts, c.Description)
	}
	parts = append(parts, "keywords: "+strings.Join(c.Keywords, ", "))
	return strings.Join(parts, " - ")
}
