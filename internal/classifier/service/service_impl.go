package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	classifierdomain "github.com/smallbiznis/charla/internal/classifier/domain"
	"github.com/smallbiznis/charla/internal/config"
	"github.com/smallbiznis/charla/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/charla/internal/organization/domain"
	"github.com/smallbiznis/charla/internal/providers/ai"
	walletdomain "github.com/smallbiznis/charla/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Gateway ai.Gateway
	Wallet  walletdomain.Service
	Orgs    orgdomain.Service
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	cfg     config.Config
	log     *zap.Logger
	gateway ai.Gateway
	wallet  walletdomain.Service
	orgs    orgdomain.Service
	metrics *metrics.Metrics
	pricing ai.Pricing
	retrier ai.Retrier
}

func NewService(p ServiceParam) classifierdomain.Service {
	return &Service{
		cfg:     p.Config,
		log:     p.Log.Named("classifier.service"),
		gateway: p.Gateway,
		wallet:  p.Wallet,
		orgs:    p.Orgs,
		metrics: p.Metrics,
		pricing: ai.Pricing{
			InputPer1KMicros:  p.Config.AI.InputCostPer1KMicros,
			OutputPer1KMicros: p.Config.AI.OutputCostPer1KMicros,
		},
		retrier: ai.Retrier{
			Attempts: 2,
			Delay:    time.Duration(p.Config.Automation.ProviderRetryBackoffMs) * time.Millisecond,
		},
	}
}

// providerResponse is the JSON shape the prompt asks the model for.
type providerResponse struct {
	Intentions []string `json:"intentions"`
	Confidence float64  `json:"confidence"`
	Sentiment  string   `json:"sentiment"`
	Keywords   []string `json:"keywords"`
}

func (s *Service) Classify(ctx context.Context, req classifierdomain.Context) (*classifierdomain.Classification, error) {
	if strings.TrimSpace(req.Content) == "" {
		return degraded(), nil
	}

	prompt := buildPrompt(req)

	// Authorize before touching the provider: a call we cannot charge is a
	// call we never make.
	estimate := s.pricing.CostMicros(estimateTokens(prompt), s.cfg.AI.MaxTokens)
	ok, err := s.wallet.Authorize(ctx, req.OrgID, estimate)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.log.Warn("classification degraded: insufficient balance",
			zap.Int64("org_id", int64(req.OrgID)),
			zap.Int64("estimated_cost_micros", estimate),
		)
		s.metrics.RecordInsufficientBalance(ctx, string(walletdomain.UsageTypeIntentClassification))
		return degraded(), nil
	}

	model := s.cfg.AI.Model
	if settings, err := s.orgs.ResolveSettings(ctx, req.OrgID); err == nil && settings.AIModel != "" {
		model = settings.AIModel
	}

	var result *ai.Result
	invokeErr := s.retrier.Do(ctx, func() error {
		var err error
		result, err = s.gateway.Invoke(ctx, prompt, ai.InvokeOptions{
			Model:       model,
			MaxTokens:   s.cfg.AI.MaxTokens,
			Temperature: s.cfg.AI.Temperature,
		})
		return err
	})
	if invokeErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.Warn("classification degraded: provider error",
			zap.Int64("org_id", int64(req.OrgID)),
			zap.String("provider", s.gateway.Name()),
			zap.Error(invokeErr),
		)
		s.metrics.RecordAIInvocation(ctx, s.gateway.Name(), "error")
		return degraded(), nil
	}
	s.metrics.RecordAIInvocation(ctx, result.Provider, "ok")

	costMicros := result.ProviderCostMicros
	if costMicros == 0 {
		costMicros = s.pricing.CostMicros(result.InputTokens, result.OutputTokens)
	}

	// The call happened, so it must be charged. A debit rejection here means
	// a concurrent spender drained the wallet after Authorize; the result is
	// discarded and the message proceeds degraded rather than unbilled.
	_, err = s.wallet.RecordUsage(ctx, walletdomain.RecordUsageRequest{
		OrgID:              req.OrgID,
		IdempotencyKey:     "classify:" + req.MessageID.String(),
		UsageType:          walletdomain.UsageTypeIntentClassification,
		ProviderName:       result.Provider,
		ModelUsed:          result.Model,
		InputTokens:        result.InputTokens,
		OutputTokens:       result.OutputTokens,
		ProviderCostMicros: costMicros,
		ProcessingTime:     result.ProcessingTime,
		Description:        "intent classification",
		Metadata: map[string]any{
			"message_id":      req.MessageID.String(),
			"conversation_id": req.ConversationID.String(),
		},
	})
	if err != nil {
		if errors.Is(err, walletdomain.ErrInsufficientBalance) {
			s.log.Warn("classification discarded: debit rejected after call",
				zap.Int64("org_id", int64(req.OrgID)),
			)
			s.metrics.RecordInsufficientBalance(ctx, string(walletdomain.UsageTypeIntentClassification))
			return degraded(), nil
		}
		return nil, err
	}

	classification := parseResponse(result)
	return classification, nil
}

func degraded() *classifierdomain.Classification {
	return &classifierdomain.Classification{
		DetectedIntentions: []string{},
		ConfidenceScore:    0,
		Sentiment:          "neutral",
		KeywordsExtracted:  []string{},
		Degraded:           true,
	}
}

func buildPrompt(req classifierdomain.Context) string {
	var b strings.Builder
	b.WriteString("You classify inbound customer messages for a business inbox.\n")
	b.WriteString("Respond with only a JSON object: {\"intentions\": [string], \"confidence\": number 0-1, \"sentiment\": \"positive\"|\"neutral\"|\"negative\", \"keywords\": [string]}.\n")
	b.WriteString("Use lowercase snake_case intention labels such as pricing_inquiry, support_request, purchase_intent, complaint, greeting.\n\n")
	if req.ContactName != "" {
		fmt.Fprintf(&b, "Contact: %s\n", req.ContactName)
	}
	if req.MessageCount > 0 {
		fmt.Fprintf(&b, "Messages in conversation so far: %d\n", req.MessageCount)
	}
	fmt.Fprintf(&b, "Message: %s\n", req.Content)
	return b.String()
}

// parseResponse tolerates models that wrap the JSON in prose or return the
// confidence on a 0-100 scale.
func parseResponse(result *ai.Result) *classifierdomain.Classification {
	classification := degraded()
	classification.AIProvider = result.Provider
	classification.ModelUsed = result.Model
	classification.ProcessingTime = result.ProcessingTime

	raw := extractJSON(result.Text)
	if raw == "" {
		return classification
	}
	var parsed providerResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return classification
	}

	classification.Degraded = false
	if parsed.Intentions != nil {
		classification.DetectedIntentions = normalizeLabels(parsed.Intentions)
	}
	if parsed.Keywords != nil {
		classification.KeywordsExtracted = normalizeLabels(parsed.Keywords)
	}
	if parsed.Sentiment != "" {
		classification.Sentiment = strings.ToLower(parsed.Sentiment)
	}
	classification.ConfidenceScore = normalizeConfidence(parsed.Confidence)
	return classification
}

func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

func normalizeConfidence(v float64) float64 {
	if v > 1 && v <= 100 {
		v = v / 100
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func normalizeLabels(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// estimateTokens is a coarse pre-call size guess used only for the
// authorization check. Four bytes per token tracks latin-script prompts
// closely enough for a balance gate.
func estimateTokens(prompt string) int {
	n := len(prompt) / 4
	if n < 1 {
		n = 1
	}
	return n
}
