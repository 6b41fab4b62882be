package conversation

import (
	"github.com/smallbiznis/charla/internal/conversation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("conversation",
	fx.Provide(
		service.NewService,
	),
)
