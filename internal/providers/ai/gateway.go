// Package ai adapts external AI providers behind a single gateway
// interface. The implementation is selected once from configuration;
// callers never branch on the provider name.
package ai

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrProvider wraps any upstream provider failure (transport, rate limit,
// malformed response). Callers retry once with backoff, then degrade.
var ErrProvider = errors.New("ai_provider_error")

// InvokeOptions tunes a single provider call.
type InvokeOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Result carries the provider response plus everything the meter needs to
// charge it: token counts, latency and provider-side cost in micro-units.
type Result struct {
	Text               string
	InputTokens        int
	OutputTokens       int
	ProviderCostMicros int64
	ProcessingTime     time.Duration
	Provider           string
	Model              string
}

type Gateway interface {
	Name() string
	Invoke(ctx context.Context, prompt string, opts InvokeOptions) (*Result, error)
}

// Pricing holds the provider list prices per 1K tokens in micro-units.
type Pricing struct {
	InputPer1KMicros  int64
	OutputPer1KMicros int64
}

// CostMicros prices a call from its token counts, fixed point throughout.
func (p Pricing) CostMicros(inputTokens, outputTokens int) int64 {
	thousand := decimal.NewFromInt(1000)
	in := decimal.NewFromInt(int64(inputTokens) * p.InputPer1KMicros).DivRound(thousand, 0)
	out := decimal.NewFromInt(int64(outputTokens) * p.OutputPer1KMicros).DivRound(thousand, 0)
	return in.Add(out).IntPart()
}
