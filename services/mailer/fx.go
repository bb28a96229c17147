package mailer

import (
	"go.uber.org/fx"

	"wifi-voucher/services/transaction"
	"wifi-voucher/services/voucher"
)

var Module = fx.Module("mailer",
	fx.Provide(
		NewSender,
		NewWorker,
		NewDispatcher,
		func(d *Dispatcher) transaction.Notifier { return d },
		func(d *Dispatcher) voucher.Notifier { return d },
	),
	fx.Invoke(RegisterHandlers),
)
