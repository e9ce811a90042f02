package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/azure/reply-campaigns-bot/internal/campaign"
	"github.com/azure/reply-campaigns-bot/internal/config"
	"github.com/azure/reply-campaigns-bot/internal/eventlog"
	"github.com/azure/reply-campaigns-bot/internal/models"
	"github.com/azure/reply-campaigns-bot/internal/sources"
	"github.com/azure/reply-campaigns-bot/internal/storage"
	"github.com/joho/godotenv"
)

// SimpleTestNotification prints notifications to the terminal
type SimpleTestNotification struct{}

func (s *SimpleTestNotification) SendAnalysisReport(report *models.AnalysisReport) error {
	fmt.Println("\n🎉 ANALYSIS COMPLETED!")
	fmt.Printf("👥 Interacted users: %d\n", len(report.TopUsers))
	for i, u := range report.TopUsers {
		if i >= 5 {
			break
		}
		fmt.Printf("   • @%s (score %d)\n", u.Username, u.Score)
	}

	fmt.Printf("📝 Matched posts: %d\n", len(report.MatchedPosts))
	for i, p := range report.MatchedPosts {
		if i >= 3 {
			break
		}
		fmt.Printf("   %d. @%s: %s\n", i+1, p.SourceUsername, strings.ReplaceAll(p.Text, "\n", " "))
	}
	return nil
}

func (s *SimpleTestNotification) SendAlert(alert *models.Alert) error {
	fmt.Printf("🚨 ALERT: %s - %s\n", alert.Title, alert.Message)
	return nil
}

func main() {
	campaignsFile := flag.String("campaigns", "campaigns.yaml", "campaign definitions to test")
	flag.Parse()

	fmt.Println("🧪 Reply Campaigns Bot - Local Integration Test")
	fmt.Println("===============================================")

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	seeds, err := config.LoadCampaignSeeds(*campaignsFile)
	if err != nil {
		log.Fatalf("Failed to load campaigns: %v", err)
	}
	if len(seeds) == 0 {
		log.Fatalf("No campaigns defined in %s", *campaignsFile)
	}

	dir, err := os.MkdirTemp("", "reply-campaigns-test")
	if err != nil {
		log.Fatalf("Failed to create work dir: %v", err)
	}
	store, err := storage.OpenSQLite(dir + "/test.db")
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	client := sources.NewXClientFromConfig(cfg)
	events := eventlog.New(cfg.EventHistorySize)
	svc := campaign.NewService(cfg, campaign.Dependencies{
		Store:    store,
		Client:   client,
		Replier:  campaign.NewAutoReplierFromConfig(cfg, client),
		Events:   events,
		Notifier: &SimpleTestNotification{},
		Archive:  storage.NewFileArchive("test_output"),
	})
	defer svc.Close()

	// Always a dry run: nothing is posted
	seed := seeds[0]
	seed.DryRun = true
	c, err := svc.CreateCampaign(context.Background(), &seed)
	if err != nil {
		log.Fatalf("Failed to create campaign: %v", err)
	}

	sub := events.Subscribe(c.ID)
	go func() {
		for entry := range sub.C() {
			fmt.Printf("   [%s] %s\n", entry.Level, entry.Message)
		}
	}()
	defer sub.Close()

	fmt.Printf("🔍 Running analysis for %q (seed users: %s)...\n", c.Name, strings.Join(c.SeedUsers, ", "))
	fmt.Println("⏱️  This will call real APIs and may take several minutes...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if err := svc.RunAnalysis(ctx, c.ID); err != nil {
		log.Fatalf("Analysis failed: %v", err)
	}

	// Processing requires an active campaign; the analysis above already ran
	if err := store.TransitionCampaign(ctx, c.ID, models.StatusDraft, models.StatusActive, time.Now(), nil); err != nil {
		log.Fatalf("Failed to activate campaign: %v", err)
	}

	fmt.Println("\n✍️  Generating one dry-run reply...")
	result, err := svc.ProcessPendingReply(ctx, c.ID)
	if err != nil {
		log.Fatalf("Processing failed: %v", err)
	}
	if !result.Processed {
		fmt.Printf("ℹ️  Nothing processed: %s\n", result.Reason)
	} else if result.Outcome.Success {
		fmt.Printf("   ✅ Reply to %s: %s\n", result.TweetID, result.Outcome.ReplyText)
	} else {
		fmt.Printf("   ❌ Reply to %s failed: %s\n", result.TweetID, result.Outcome.Error)
	}

	fmt.Println("\n✅ Local integration test completed!")
	fmt.Println("📁 Analysis archived under test_output/")
}
