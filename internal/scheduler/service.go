package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/azure/reply-campaigns-bot/internal/campaign"
	"github.com/azure/reply-campaigns-bot/internal/config"
	"github.com/azure/reply-campaigns-bot/internal/metrics"
	"github.com/azure/reply-campaigns-bot/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// CampaignRunner is the campaign surface driven by the scheduler
type CampaignRunner interface {
	ActiveCampaigns(ctx context.Context) ([]*models.Campaign, error)
	ProcessPendingReply(ctx context.Context, id string) (*campaign.ProcessResult, error)
	TriggerAnalysis(ctx context.Context, id string) error
}

// ReplyGate decides whether a campaign may post now
type ReplyGate interface {
	CanPostReply(ctx context.Context, campaignID string) (bool, string, error)
}

// Service runs the periodic reply tick
type Service struct {
	config    *config.Config
	campaigns CampaignRunner
	limiter   ReplyGate
	cron      *cron.Cron
	ticking   sync.Mutex
	metrics   *Metrics
	mu        sync.RWMutex
}

// Metrics holds scheduler metrics
type Metrics struct {
	TotalTicks       int         `json:"total_ticks"`
	SkippedTicks     int         `json:"skipped_ticks"`
	RepliesProcessed int         `json:"replies_processed"`
	RateLimitDenials int         `json:"rate_limit_denials"`
	ErrorCount       int         `json:"error_count"`
	LastTick         *TickResult `json:"last_tick,omitempty"`
}

// TickResult summarizes one tick
type TickResult struct {
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
	Campaigns int       `json:"campaigns"`
	Processed int       `json:"processed"`
	Denied    int       `json:"denied"`
	Idle      int       `json:"idle"`
	Errors    int       `json:"errors"`
}

type stepOutcome int

const (
	stepProcessed stepOutcome = iota
	stepDenied
	stepIdle
	stepFailed
)

// NewService creates a new scheduler service
func NewService(cfg *config.Config, campaigns CampaignRunner, limiter ReplyGate) *Service {
	return &Service{
		config:    cfg,
		campaigns: campaigns,
		limiter:   limiter,
		cron: cron.New(cron.WithSeconds(), cron.WithChain(
			cron.SkipIfStillRunning(cron.PrintfLogger(logrus.StandardLogger())),
		)),
		metrics: &Metrics{},
	}
}

// Start begins the periodic reply tick
func (s *Service) Start() error {
	spec := fmt.Sprintf("@every %s", s.config.SchedulerInterval)
	_, err := s.cron.AddFunc(spec, func() {
		if _, err := s.RunTick(context.Background()); err != nil {
			logrus.Errorf("Scheduler tick failed: %v", err)
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	logrus.Infof("Scheduler started, processing active campaigns every %s", s.config.SchedulerInterval)
	return nil
}

// Stop stops the scheduler and waits for a running tick to finish
func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
		logrus.Info("Scheduler stopped")
	}
}

// RunTick gives every active campaign at most one reply attempt. A tick that starts while another
// is still running is skipped.
func (s *Service) RunTick(ctx context.Context) (*TickResult, error) {
	if !s.ticking.TryLock() {
		logrus.Warn("Previous scheduler tick still running, skipping")
		s.mu.Lock()
		s.metrics.SkippedTicks++
		s.mu.Unlock()
		return nil, nil
	}
	defer s.ticking.Unlock()

	start := time.Now()
	metrics.SchedulerTicks.Inc()
	defer metrics.ObserveSince(metrics.SchedulerTickDuration, start)

	active, err := s.campaigns.ActiveCampaigns(ctx)
	if err != nil {
		s.recordTick(&TickResult{StartedAt: start, Duration: time.Since(start).String(), Errors: 1})
		return nil, fmt.Errorf("failed to list active campaigns: %w", err)
	}

	outcomes := make([]stepOutcome, len(active))
	g, gctx := errgroup.WithContext(ctx)
	if s.config.CampaignConcurrency > 0 {
		g.SetLimit(s.config.CampaignConcurrency)
	}
	for i, c := range active {
		g.Go(func() error {
			outcomes[i] = s.step(gctx, c.ID)
			return nil
		})
	}
	_ = g.Wait()

	result := &TickResult{StartedAt: start, Campaigns: len(active)}
	for _, o := range outcomes {
		switch o {
		case stepProcessed:
			result.Processed++
		case stepDenied:
			result.Denied++
		case stepIdle:
			result.Idle++
		case stepFailed:
			result.Errors++
		}
	}
	result.Duration = time.Since(start).String()
	s.recordTick(result)

	logrus.Infof("Scheduler tick: %d active campaigns, %d processed, %d rate limited, %d idle, %d errors",
		result.Campaigns, result.Processed, result.Denied, result.Idle, result.Errors)
	return result, nil
}

// step runs a quick gate check then the processing step for one campaign. Panics are contained here so one
// campaign cannot abort the tick.
func (s *Service) step(ctx context.Context, id string) (outcome stepOutcome) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("Recovered panic processing campaign %s: %v", id, r)
			outcome = stepFailed
		}
	}()

	allowed, reason, err := s.limiter.CanPostReply(ctx, id)
	if err != nil {
		logrus.Errorf("Rate limit check failed for campaign %s: %v", id, err)
		return stepFailed
	}
	if !allowed {
		logrus.Infof("Campaign %s rate limited: %s", id, reason)
		return stepDenied
	}

	// The campaign service re-checks the gate under its per-campaign lock, so a manual process call
	// racing this tick is still denied there.
	result, err := s.campaigns.ProcessPendingReply(ctx, id)
	if err != nil {
		logrus.Errorf("Failed to process reply for campaign %s: %v", id, err)
		return stepFailed
	}
	if result.Denied {
		logrus.Infof("Campaign %s rate limited: %s", id, result.Reason)
		return stepDenied
	}
	if !result.Processed {
		logrus.Debugf("Campaign %s: %s", id, result.Reason)
		return stepIdle
	}
	return stepProcessed
}

// TriggerAnalysis starts a background analysis for a campaign
func (s *Service) TriggerAnalysis(ctx context.Context, id string) error {
	return s.campaigns.TriggerAnalysis(ctx, id)
}

func (s *Service) recordTick(result *TickResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.TotalTicks++
	s.metrics.RepliesProcessed += result.Processed
	s.metrics.RateLimitDenials += result.Denied
	s.metrics.ErrorCount += result.Errors
	s.metrics.LastTick = result
}

// GetMetrics returns current metrics as JSON
func (s *Service) GetMetrics() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, _ := json.MarshalIndent(s.metrics, "", "  ")
	return string(data)
}
