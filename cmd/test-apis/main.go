package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/azure/reply-campaigns-bot/internal/config"
	"github.com/azure/reply-campaigns-bot/internal/llm"
	"github.com/azure/reply-campaigns-bot/internal/sources"
	"github.com/joho/godotenv"
)

func main() {
	fmt.Println("🔍 Reply Campaigns Bot - API Connectivity Test")
	fmt.Println("==============================================")

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client := sources.NewXClientFromConfig(cfg)

	fmt.Println("\n📡 Testing X API...")
	fmt.Println(strings.Repeat("-", 40))
	testX(ctx, cfg, client)

	fmt.Println("\n🤖 Testing AI providers...")
	fmt.Println(strings.Repeat("-", 40))
	testGenerator(ctx, "OpenAI", cfg.OpenAIAPIKey, "gpt-4", func() llm.TextGenerator {
		return llm.NewOpenAIGenerator("openai", cfg.OpenAIAPIKey)
	})
	testGenerator(ctx, "Anthropic", cfg.AnthropicAPIKey, "claude-3-5-sonnet-20241022", func() llm.TextGenerator {
		return llm.NewAnthropicGenerator(cfg.AnthropicAPIKey)
	})
	testGrok(ctx, cfg, client)

	fmt.Println("\n✅ API connectivity test completed!")
	fmt.Println("\n💡 Next steps:")
	fmt.Println("   • Configure missing API keys in .env file")
	fmt.Println("   • Create a campaign with CAMPAIGNS_FILE or POST /campaigns")
	fmt.Println("   • Try it safely with dry_run: true")
}

func testX(ctx context.Context, cfg *config.Config, client *sources.XClient) {
	fmt.Printf("🔸 Testing user lookup... ")
	if cfg.XBearerToken == "" && cfg.XUserAccessToken == "" {
		fmt.Printf("⚠️  DISABLED (missing X_BEARER_TOKEN)\n")
		return
	}

	user, err := client.GetUserByHandle(ctx, "XDevelopers")
	if err != nil {
		fmt.Printf("❌ ERROR: %v\n", err)
		return
	}
	fmt.Printf("✅ SUCCESS (@%s, id %s)\n", user.Username, user.ID)

	fmt.Printf("🔸 Testing recent posts... ")
	posts, err := client.GetUserRecentPosts(ctx, user.Username, 5, 7)
	if err != nil {
		fmt.Printf("❌ ERROR: %v\n", err)
		return
	}
	fmt.Printf("✅ SUCCESS (%d posts found)\n", len(posts))
	if len(posts) > 0 {
		fmt.Printf("   📝 Sample: \"%s\"\n", truncate(posts[0].Text, 80))
	}

	fmt.Printf("🔸 Checking user session... ")
	if client.AuthenticatedSessionPresent() {
		fmt.Printf("✅ X_USER_ACCESS_TOKEN set, replies can be posted\n")
	} else {
		fmt.Printf("⚠️  X_USER_ACCESS_TOKEN missing, campaigns cannot start\n")
	}
}

func testGenerator(ctx context.Context, name, key, model string, build func() llm.TextGenerator) {
	fmt.Printf("🔸 Testing %s... ", name)
	if key == "" {
		fmt.Printf("⚠️  DISABLED (missing API key)\n")
		return
	}

	out, err := build().Generate(ctx, llm.Request{
		Prompt:    "Reply with the single word: ready",
		Model:     model,
		MaxTokens: 10,
	})
	if err != nil {
		fmt.Printf("❌ ERROR: %v\n", err)
		return
	}
	fmt.Printf("✅ SUCCESS (%q)\n", llm.CleanText(out))
}

func testGrok(ctx context.Context, cfg *config.Config, client *sources.XClient) {
	fmt.Printf("🔸 Testing Grok... ")
	if cfg.XAIAPIKey == "" {
		fmt.Printf("⚠️  DISABLED (missing XAI_API_KEY)\n")
		return
	}

	out, err := client.RunAIConversation(ctx, "Reply with the single word: ready", cfg.GrokModel)
	if err != nil {
		fmt.Printf("❌ ERROR: %v\n", err)
		return
	}
	fmt.Printf("✅ SUCCESS (%q)\n", llm.CleanText(out))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
