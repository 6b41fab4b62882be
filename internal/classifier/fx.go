package classifier

import (
	"github.com/smallbiznis/charla/internal/classifier/service"
	"go.uber.org/fx"
)

var Module = fx.Module("classifier",
	fx.Provide(
		service.NewService,
	),
)
