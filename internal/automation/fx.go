package automation

import (
	"github.com/smallbiznis/charla/internal/automation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("automation",
	fx.Provide(
		service.NewMatcher,
		service.NewExecutor,
		service.NewPipeline,
	),
)
