package ai

import (
	"fmt"

	"github.com/smallbiznis/charla/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.ai",
	fx.Provide(NewFromConfig),
)

// NewFromConfig is the single point where a provider implementation is
// chosen. Everything downstream sees only the Gateway interface.
func NewFromConfig(cfg config.Config, log *zap.Logger) (Gateway, error) {
	pricing := Pricing{
		InputPer1KMicros:  cfg.AI.InputCostPer1KMicros,
		OutputPer1KMicros: cfg.AI.OutputCostPer1KMicros,
	}
	switch cfg.AI.Provider {
	case "openai":
		return NewOpenAIGateway(cfg.AI.APIKey, pricing), nil
	case "anthropic":
		return NewAnthropicGateway(cfg.AI.APIKey, pricing), nil
	case "static":
		log.Warn("using static AI gateway; no provider calls will be made")
		return NewStaticGateway(), nil
	default:
		return nil, fmt.Errorf("unsupported AI provider %q", cfg.AI.Provider)
	}
}
