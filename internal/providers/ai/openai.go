package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

type OpenAIGateway struct {
	client  openai.Client
	pricing Pricing
}

func NewOpenAIGateway(apiKey string, pricing Pricing) *OpenAIGateway {
	return &OpenAIGateway{
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		pricing: pricing,
	}
}

func (g *OpenAIGateway) Name() string { return "openai" }

func (g *OpenAIGateway) Invoke(ctx context.Context, prompt string, opts InvokeOptions) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	format := shared.NewResponseFormatJSONObjectParam()
	start := time.Now()
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(opts.Model),
		Temperature: openai.Float(opts.Temperature),
		MaxTokens:   openai.Int(int64(opts.MaxTokens)),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &format,
		},
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrProvider, errors.New("empty response"))
	}

	inputTokens := int(resp.Usage.PromptTokens)
	outputTokens := int(resp.Usage.CompletionTokens)
	return &Result{
		Text:               resp.Choices[0].Message.Content,
		InputTokens:        inputTokens,
		OutputTokens:       outputTokens,
		ProviderCostMicros: g.pricing.CostMicros(inputTokens, outputTokens),
		ProcessingTime:     time.Since(start),
		Provider:           g.Name(),
		Model:              opts.Model,
	}, nil
}
