package notification

import (
	walletdomain "github.com/smallbiznis/charla/internal/wallet/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("notification",
	fx.Provide(
		NewDispatcher,
		func(d *Dispatcher) walletdomain.LowBalanceNotifier { return d },
	),
)
