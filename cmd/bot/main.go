package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/azure/reply-campaigns-bot/internal/campaign"
	"github.com/azure/reply-campaigns-bot/internal/config"
	"github.com/azure/reply-campaigns-bot/internal/eventlog"
	"github.com/azure/reply-campaigns-bot/internal/notifications"
	"github.com/azure/reply-campaigns-bot/internal/ratelimit"
	"github.com/azure/reply-campaigns-bot/internal/scheduler"
	"github.com/azure/reply-campaigns-bot/internal/sources"
	"github.com/azure/reply-campaigns-bot/internal/storage"
	"github.com/azure/reply-campaigns-bot/internal/tracking"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	logrus.Info("Starting Reply Campaigns Bot")
	ctx := context.Background()

	store, err := storage.OpenSQLite(cfg.DatabasePath)
	if err != nil {
		logrus.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	// Analysis archive is optional
	var archive storage.ArchiveInterface
	if cfg.StorageAccount != "" {
		azureStorage, err := storage.NewAzureStorage(ctx, cfg.StorageAccount, cfg.StorageContainer)
		if err != nil {
			logrus.Fatalf("Failed to initialize storage: %v", err)
		}
		archive = azureStorage
	} else {
		logrus.Info("AZURE_STORAGE_ACCOUNT not set, analysis archive disabled")
	}

	client := sources.NewXClientFromConfig(cfg)
	if !client.AuthenticatedSessionPresent() {
		logrus.Warn("X_USER_ACCESS_TOKEN not set, campaigns cannot be started")
	}

	events := eventlog.New(cfg.EventHistorySize)
	shortener := tracking.NewShortener(cfg, store)

	limiter := ratelimit.NewLimiter(store, ratelimit.Limits{
		HourlyLimit:   cfg.HourlyReplyLimit,
		MinReplyDelay: cfg.MinReplyDelay,
		Location:      cfg.Location(),
	})

	campaignService := campaign.NewService(cfg, campaign.Dependencies{
		Store:     store,
		Client:    client,
		Replier:   campaign.NewAutoReplierFromConfig(cfg, client),
		Gate:      limiter,
		Events:    events,
		Notifier:  notifications.NewService(cfg),
		Archive:   archive,
		Shortener: shortener,
	})
	defer campaignService.Close()

	if cfg.CampaignsFile != "" {
		if err := seedCampaigns(ctx, cfg.CampaignsFile, campaignService); err != nil {
			logrus.Fatalf("Failed to load campaigns file: %v", err)
		}
	}

	schedulerService := scheduler.NewService(cfg, campaignService, limiter)
	if err := schedulerService.Start(); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}
	defer schedulerService.Stop()

	router := newRouter(&api{
		campaigns: campaignService,
		scheduler: schedulerService,
		events:    events,
		links:     shortener,
	})

	// WriteTimeout is lifted per request for the log stream
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server exited")
}

// seedCampaigns creates the draft campaigns of the bootstrap file that do not exist yet, matched by name
func seedCampaigns(ctx context.Context, path string, svc *campaign.Service) error {
	seeds, err := config.LoadCampaignSeeds(path)
	if err != nil {
		return err
	}

	existing, err := svc.ListCampaigns(ctx, "")
	if err != nil {
		return err
	}
	names := make(map[string]bool, len(existing))
	for _, c := range existing {
		names[c.Name] = true
	}

	created := 0
	for i := range seeds {
		if names[seeds[i].Name] {
			continue
		}
		c := seeds[i]
		if _, err := svc.CreateCampaign(ctx, &c); err != nil {
			return fmt.Errorf("campaign %q: %w", c.Name, err)
		}
		created++
	}

	logrus.WithFields(logrus.Fields{"file": path, "created": created, "total": len(seeds)}).Info("Loaded campaign seeds")
	return nil
}
