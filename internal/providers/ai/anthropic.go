package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type AnthropicGateway struct {
	client  anthropic.Client
	pricing Pricing
}

func NewAnthropicGateway(apiKey string, pricing Pricing) *AnthropicGateway {
	return &AnthropicGateway{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		pricing: pricing,
	}
}

func (g *AnthropicGateway) Name() string { return "anthropic" }

func (g *AnthropicGateway) Invoke(ctx context.Context, prompt string, opts InvokeOptions) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	start := time.Now()
	resp, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(opts.Model),
		MaxTokens:   int64(opts.MaxTokens),
		Temperature: anthropic.Float(opts.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	if len(resp.Content) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrProvider, errors.New("empty response"))
	}

	inputTokens := int(resp.Usage.InputTokens)
	outputTokens := int(resp.Usage.OutputTokens)
	return &Result{
		Text:               resp.Content[0].Text,
		InputTokens:        inputTokens,
		OutputTokens:       outputTokens,
		ProviderCostMicros: g.pricing.CostMicros(inputTokens, outputTokens),
		ProcessingTime:     time.Since(start),
		Provider:           g.Name(),
		Model:              opts.Model,
	}, nil
}
