package reconcile

import (
	"context"
	"time"

	"wifi-voucher/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Scheduler struct {
	engine   *Engine
	interval time.Duration

	cancel context.CancelFunc
}

func NewScheduler(engine *Engine, cfg *config.Config) *Scheduler {
	return &Scheduler{
		engine:   engine,
		interval: cfg.Sweep.Interval,
	}
}

// StartScheduler wires the periodic sweep into the fx lifecycle.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			s.cancel = cancel
			go s.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			if s.cancel != nil {
				s.cancel()
			}
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started reconciliation sweep", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			s.engine.Sweep(ctx)
			zap.L().Debug("[Scheduler] sweep pass finished", zap.Duration("duration", time.Since(start)))
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}
