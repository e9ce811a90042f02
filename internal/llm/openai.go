package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIGenerator generates text with the OpenAI chat completions API. Any OpenAI-compatible
// endpoint (such as xAI) can be targeted with option.WithBaseURL.
type OpenAIGenerator struct {
	client *openai.Client
	name   string
}

var _ TextGenerator = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator creates a generator authenticated with apiKey
func NewOpenAIGenerator(name, apiKey string, opts ...option.RequestOption) *OpenAIGenerator {
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &OpenAIGenerator{
		client: &client,
		name:   name,
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%s API error: %w", g.name, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from %s", g.name)
	}

	return resp.Choices[0].Message.Content, nil
}
