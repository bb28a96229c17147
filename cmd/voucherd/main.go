package main

import (
	"log"
	"strconv"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"wifi-voucher/internal/httpapi"
	"wifi-voucher/internal/server"
	"wifi-voucher/pkg/catalog"
	"wifi-voucher/pkg/config"
	"wifi-voucher/pkg/db"
	"wifi-voucher/pkg/gen"
	"wifi-voucher/pkg/health"
	"wifi-voucher/pkg/logger"
	"wifi-voucher/pkg/minio"
	"wifi-voucher/pkg/qris"
	"wifi-voucher/pkg/redis"
	"wifi-voucher/pkg/sequence"
	"wifi-voucher/pkg/task"
	"wifi-voucher/services/mailer"
	"wifi-voucher/services/reconcile"
	"wifi-voucher/services/settlement"
	"wifi-voucher/services/transaction"
	"wifi-voucher/services/voucher"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		minio.Module,
		task.Client,
		task.Server,
		gen.Module,
		sequence.Module,
		qris.Module,
		health.Module,
		settlement.Module,
		transaction.Module,
		voucher.Module,
		reconcile.Module,
		mailer.Module,
		httpapi.Module,
		server.Module,
		fx.Provide(
			func(p *qris.ImagePublisher) transaction.QRPublisher { return p },
			func(s *transaction.Service) reconcile.Ledger { return s },
		),
		fx.Invoke(applyPriceOverrides, migrate),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func applyPriceOverrides(cfg *config.Config) {
	for raw, price := range cfg.Prices {
		class, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || !catalog.SetBasePrice(catalog.Class(class), price) {
			zap.L().Warn("ignoring invalid price override",
				zap.String("class", raw),
				zap.Int64("price", price),
			)
		}
	}
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&transaction.Transaction{},
		&voucher.Voucher{},
		&sequence.Counter{},
	)
}
