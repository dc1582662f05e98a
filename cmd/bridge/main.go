package main

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"signal_bridge/internal/modules/bridge"
	"signal_bridge/internal/modules/config"
	"signal_bridge/internal/modules/health"
	"signal_bridge/internal/modules/ledger"
	"signal_bridge/internal/notify"
	"signal_bridge/internal/runner"
	"signal_bridge/pkg/logger"
	"signal_bridge/pkg/tracing"
)

func main() {
	app := fx.New(
		fx.WithLogger(func(cfg *config.Config) (fxevent.Logger, error) {
			l, err := logger.Init(cfg.Service.LogLevel)
			if err != nil {
				return nil, err
			}
			logger.SetServiceName(cfg.Service.Name)
			tracing.SetServiceName(cfg.Service.Name)
			return &fxevent.ZapLogger{Logger: l.Named("fx")}, nil
		}),
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		config.Module(),
		ledger.Module(),
		health.Module(),
		notify.Module(),
		bridge.Module(),
		runner.Module(),
		fx.Invoke(runTracer),
	)
	app.Run()
	logger.Sync()
}

// runTracer installs the jaeger tracer when tracing is enabled. Spans are
// no-ops otherwise.
func runTracer(lc fx.Lifecycle, cfg *config.Config) error {
	if !cfg.Tracing.Enabled {
		return nil
	}
	_, closer, err := tracing.InitTracer(tracing.Config{
		Host: cfg.Tracing.Host,
		Port: cfg.Tracing.Port,
	})
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closer()
			return nil
		},
	})
	logger.Info("tracing to %s:%d", cfg.Tracing.Host, cfg.Tracing.Port)
	return nil
}
