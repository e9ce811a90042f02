package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/azure/reply-campaigns-bot/internal/campaign"
	"github.com/azure/reply-campaigns-bot/internal/config"
	"github.com/azure/reply-campaigns-bot/internal/models"
	"github.com/azure/reply-campaigns-bot/internal/storage"
	"github.com/joho/godotenv"
)

type campaignReport struct {
	Status    *models.CampaignStatusSummary `json:"status"`
	Analytics *models.CampaignAnalytics     `json:"analytics"`
}

func printReport(r *campaignReport) {
	c := r.Status.Campaign
	fmt.Println("\n" + strings.Repeat("=", 70))
	fmt.Printf("📊 %s (%s)\n", c.Name, c.ID)
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("🚦 Status: %s", c.Status)
	if c.DryRun {
		fmt.Printf(" 🧪 DRY RUN")
	}
	fmt.Println()
	fmt.Printf("🕒 Created: %s\n", c.CreatedAt.Format("2006-01-02 15:04:05 UTC"))
	fmt.Printf("🔗 Link: %s\n", c.ShortURL)

	if c.AnalysisError != "" {
		fmt.Printf("❌ Analysis failed: %s\n", c.AnalysisError)
	} else if c.AnalysisCompleted {
		fmt.Printf("🔍 Matched posts: %d\n", c.TotalMatchedPosts)
	} else {
		fmt.Println("⏳ Analysis not completed")
	}

	fmt.Printf("📝 Pending posts: %d\n", r.Status.PendingPosts)
	fmt.Printf("💬 Posted replies: %d\n", r.Status.PostedReplies)

	a := r.Analytics
	fmt.Println("\n📈 Live performance")
	fmt.Printf("   Replies: %d | Clicks: %d | CTR: %.1f%%\n", a.TotalReplies, a.TotalClicks, a.ClickThroughRate)
	fmt.Printf("   Failed: %d | Error rate: %.1f%%\n", a.FailedReplies, a.ErrorRate)

	if len(a.RepliesByDate) > 0 {
		dates := make([]string, 0, len(a.RepliesByDate))
		for d := range a.RepliesByDate {
			dates = append(dates, d)
		}
		sort.Strings(dates)
		fmt.Println("\n📅 Replies by date")
		for _, d := range dates {
			fmt.Printf("   %s: %d\n", d, a.RepliesByDate[d])
		}
	}
}

func saveReport(reports []*campaignReport) error {
	dir := "test_output"
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	filename := filepath.Join(dir, fmt.Sprintf("campaigns_report_%s.json", time.Now().UTC().Format("2006-01-02_15-04-05")))
	data, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return err
	}

	fmt.Printf("\n💾 Report saved to: %s\n", filename)
	return nil
}

func main() {
	fmt.Println("🤖 Reply Campaigns Bot - Campaign Report")
	fmt.Println("========================================")

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	store, err := storage.OpenSQLite(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database %s: %v", cfg.DatabasePath, err)
	}
	defer store.Close()

	// Reporting reads the store only
	svc := campaign.NewService(cfg, campaign.Dependencies{Store: store})
	defer svc.Close()

	ctx := context.Background()
	campaigns, err := svc.ListCampaigns(ctx, "")
	if err != nil {
		log.Fatalf("Failed to list campaigns: %v", err)
	}
	if len(campaigns) == 0 {
		fmt.Printf("ℹ️  No campaigns in %s\n", cfg.DatabasePath)
		return
	}

	var reports []*campaignReport
	for _, c := range campaigns {
		status, err := svc.GetCampaignStatus(ctx, c.ID)
		if err != nil {
			fmt.Printf("❌ %s: %v\n", c.Name, err)
			continue
		}
		analytics, err := svc.GetAnalytics(ctx, c.ID)
		if err != nil {
			fmt.Printf("❌ %s: %v\n", c.Name, err)
			continue
		}

		r := &campaignReport{Status: status, Analytics: analytics}
		printReport(r)
		reports = append(reports, r)
	}

	if err := saveReport(reports); err != nil {
		fmt.Printf("\n⚠️  Warning: Could not save to file: %v\n", err)
	}
	fmt.Println("\n" + strings.Repeat("=", 70))
}
