package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/reverievoice/reverie/internal/types"
)

type openaiCompleter struct {
	client openai.Client
	model  string
	opts   Options
}

func newOpenAICompleter(apiKey, baseURL, model string, opts Options) *openaiCompleter {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "gpt-3.5-turbo"
	}
	return &openaiCompleter{
		client: openai.NewClient(reqOpts...),
		model:  model,
		opts:   opts,
	}
}

func (c *openaiCompleter) Complete(ctx context.Context, userText string) (string, types.Usage, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(JournalPrompt),
			openai.UserMessage(userText),
		},
		MaxTokens:   openai.Int(int64(c.opts.MaxTokens)),
		Temperature: openai.Float(c.opts.Temperature),
	})
	if err != nil {
		return "", types.Usage{}, fmt.Errorf("chat completion: %w", err)
	}

	usage := types.Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	if len(resp.Choices) == 0 {
		return FallbackReply, usage, nil
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		text = FallbackReply
	}
	return text, usage, nil
}
