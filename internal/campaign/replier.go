package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/azure/reply-campaigns-bot/internal/config"
	"github.com/azure/reply-campaigns-bot/internal/llm"
	"github.com/azure/reply-campaigns-bot/internal/models"
	"github.com/azure/reply-campaigns-bot/internal/sources"
	"github.com/sirupsen/logrus"
)

const (
	maxReplyLength   = 280
	replyMaxTokens   = 100
	replyTemperature = 0.7

	replySystemPrompt = "You write short, friendly and genuinely helpful replies to social media posts. Never use hashtags unless the template does."
)

// ReplyStrategy generates reply text for a matched post
type ReplyStrategy interface {
	Generate(ctx context.Context, post *models.MatchedPost, c *models.Campaign) (string, error)
}

// Generators holds the configured LLM backends. Nil entries are unavailable.
type Generators struct {
	OpenAI    llm.TextGenerator
	Anthropic llm.TextGenerator
}

// AutoReplier generates and posts replies with the campaign's AI provider
type AutoReplier struct {
	client     sources.SocialClient
	strategies map[models.AIProvider]ReplyStrategy
}

// NewAutoReplier registers one strategy per available provider. Grok is reached through the
// social client; grokEnabled reports whether it is configured there.
func NewAutoReplier(client sources.SocialClient, gens Generators, grokEnabled bool, grokModel string) *AutoReplier {
	r := &AutoReplier{
		client:     client,
		strategies: make(map[models.AIProvider]ReplyStrategy),
	}
	if gens.OpenAI != nil {
		r.strategies[models.ProviderOpenAI] = &llmStrategy{gen: gens.OpenAI}
	}
	if gens.Anthropic != nil {
		r.strategies[models.ProviderAnthropic] = &llmStrategy{gen: gens.Anthropic}
	}
	if grokEnabled {
		r.strategies[models.ProviderGrok] = &grokStrategy{client: client}
		if gens.OpenAI != nil {
			r.strategies[models.ProviderBoth] = &gatedStrategy{
				client:    client,
				gateModel: grokModel,
				next:      &llmStrategy{gen: gens.OpenAI},
			}
		}
	}
	return r
}

// NewAutoReplierFromConfig wires the providers that have API keys configured
func NewAutoReplierFromConfig(cfg *config.Config, client sources.SocialClient) *AutoReplier {
	var gens Generators
	if cfg.OpenAIAPIKey != "" {
		gens.OpenAI = llm.NewOpenAIGenerator("openai", cfg.OpenAIAPIKey)
	}
	if cfg.AnthropicAPIKey != "" {
		gens.Anthropic = llm.NewAnthropicGenerator(cfg.AnthropicAPIKey)
	}
	return NewAutoReplier(client, gens, cfg.XAIAPIKey != "", cfg.GrokModel)
}

// Supports reports whether replies can be generated for provider
func (r *AutoReplier) Supports(provider models.AIProvider) bool {
	_, ok := r.strategies[provider]
	return ok
}

// GenerateReply returns the reply text, or false when generation failed or was declined
func (r *AutoReplier) GenerateReply(ctx context.Context, post *models.MatchedPost, c *models.Campaign) (string, bool) {
	strategy, ok := r.strategies[c.AIProvider]
	if !ok {
		logrus.Errorf("No reply strategy configured for provider %s", c.AIProvider)
		return "", false
	}

	text, err := strategy.Generate(ctx, post, c)
	if err != nil {
		if errors.Is(err, ErrReplySkipped) {
			logrus.Infof("Reply to %s declined by AI gate", post.TweetID)
		} else {
			logrus.Errorf("Failed to generate reply to %s with %s: %v", post.TweetID, c.AIProvider, err)
		}
		return "", false
	}
	if text == "" {
		return "", false
	}
	return text, true
}

// PostReply generates a reply and, unless dryRun is set, publishes it
func (r *AutoReplier) PostReply(ctx context.Context, post *models.MatchedPost, c *models.Campaign, dryRun bool) models.ReplyOutcome {
	text, ok := r.GenerateReply(ctx, post, c)
	if !ok {
		return models.ReplyOutcome{Skipped: true, Error: "Reply generation skipped", DryRun: dryRun}
	}

	if dryRun {
		logrus.Infof("[DRY RUN] Would reply to %s: %s", post.TweetID, text)
		return models.ReplyOutcome{Success: true, ReplyText: text, DryRun: true}
	}

	posted, err := r.client.PostReply(ctx, text, post.TweetID)
	if err != nil {
		if _, limited := sources.IsRateLimited(err); limited {
			return models.ReplyOutcome{ReplyText: text, Error: "Twitter rate limit exceeded", RateLimited: true}
		}
		return models.ReplyOutcome{ReplyText: text, Error: err.Error()}
	}

	return models.ReplyOutcome{
		Success:   true,
		ReplyText: text,
		TweetID:   &posted.ID,
		URL:       &posted.URL,
	}
}

// BuildReplyPrompt renders the campaign template for a post
func BuildReplyPrompt(post *models.MatchedPost, c *models.Campaign) string {
	link := c.LinkURL()
	template := strings.NewReplacer(
		"{author}", "@"+post.SourceUsername,
		"{url}", link,
	).Replace(c.ReplyTemplate)

	var b strings.Builder
	b.WriteString("Generate a personalized reply to this post.\n\n")
	fmt.Fprintf(&b, "Post by @%s: %q\n", post.SourceUsername, post.Text)
	if len(post.MatchedKeywords) > 0 {
		fmt.Fprintf(&b, "Topics: %s\n", strings.Join(post.MatchedKeywords, ", "))
	}
	fmt.Fprintf(&b, "Campaign: %s\n", c.Name)
	if c.Description != "" {
		fmt.Fprintf(&b, "About: %s\n", c.Description)
	}
	fmt.Fprintf(&b, "\nReply template:\n%s\n\n", template)
	b.WriteString("Requirements:\n")
	b.WriteString("- Keep the intent of the template but adapt it naturally to the post\n")
	fmt.Fprintf(&b, "- Include the link %s exactly once\n", link)
	fmt.Fprintf(&b, "- Stay under %d characters\n", maxReplyLength)
	b.WriteString("- Return only the reply text")
	return b.String()
}

// FinalizeReply cleans model output and enforces the platform length limit
func FinalizeReply(text string) string {
	text = llm.CleanText(text)
	if utf8.RuneCountInString(text) <= maxReplyLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxReplyLength-3]) + "..."
}

type llmStrategy struct {
	gen llm.TextGenerator
}

func (s *llmStrategy) Generate(ctx context.Context, post *models.MatchedPost, c *models.Campaign) (string, error) {
	out, err := s.gen.Generate(ctx, llm.Request{
		System:      replySystemPrompt,
		Prompt:      BuildReplyPrompt(post, c),
		Model:       c.Model(),
		MaxTokens:   replyMaxTokens,
		Temperature: replyTemperature,
	})
	if err != nil {
		return "", err
	}
	return FinalizeReply(out), nil
}

type grokStrategy struct {
	client sources.SocialClient
}

func (s *grokStrategy) Generate(ctx context.Context, post *models.MatchedPost, c *models.Campaign) (string, error) {
	out, err := s.client.RunAIConversation(ctx, BuildReplyPrompt(post, c), c.Model())
	if err != nil {
		return "", err
	}
	return FinalizeReply(out), nil
}

// gatedStrategy asks Grok whether to reply at all before delegating generation
type gatedStrategy struct {
	client    sources.SocialClient
	gateModel string
	next      ReplyStrategy
}

func (s *gatedStrategy) Generate(ctx context.Context, post *models.MatchedPost, c *models.Campaign) (string, error) {
	prompt := fmt.Sprintf(
		"Should we reply to this post as part of the campaign %q (%s)?\n\nPost by @%s: %q\nEngagement: %d likes, %d retweets\n\nAnswer only yes or no.",
		c.Name, c.Description, post.SourceUsername, post.Text, post.Engagement.Likes, post.Engagement.Retweets,
	)

	answer, err := s.client.RunAIConversation(ctx, prompt, s.gateModel)
	if err != nil {
		return "", fmt.Errorf("grok approval failed: %w", err)
	}
	if !strings.HasPrefix(strings.ToLower(llm.CleanText(answer)), "yes") {
		return "", ErrReplySkipped
	}
	return s.next.Generate(ctx, post, c)
}
