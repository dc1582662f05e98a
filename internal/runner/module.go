package runner

import (
	"context"

	"go.uber.org/fx"

	"signal_bridge/internal/metrics"
	bridge "signal_bridge/internal/modules/bridge/service"
	"signal_bridge/internal/modules/config"
	healthsvc "signal_bridge/internal/modules/health/service"
	ledger "signal_bridge/internal/modules/ledger/service"
	"signal_bridge/internal/notify"
	"signal_bridge/pkg/logger"
)

// NamedParser registers a SignalParser under a channel parser_type. Provide
// one into the "signal_parsers" group to make it available.
type NamedParser struct {
	Name   string
	Parser SignalParser
}

type coordinatorParams struct {
	fx.In

	Store    ledger.Store
	Emitter  *bridge.Emitter
	Channels *config.Channels
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	State    *healthsvc.State
	Config   *config.Config
	Parsers  []NamedParser `group:"signal_parsers"`
}

func newCoordinator(p coordinatorParams) *Coordinator {
	opts := []Option{
		WithMetrics(p.Metrics),
		WithLedgerErrorHook(func(error) { p.State.AddLedgerError() }),
	}
	for _, np := range p.Parsers {
		opts = append(opts, WithParser(np.Name, np.Parser))
	}
	return New(p.Store, p.Emitter, p.Channels, p.Notifier, Config{
		ConfirmTimeout: p.Config.Telegram.ConfirmTimeout,
		SignalTTL:      p.Config.Runner.SignalTTL,
		DefaultQty:     p.Config.Runner.DefaultQty,
	}, opts...)
}

// Module provides the Coordinator, hands it to the status consumer as its
// handler and runs the pending-signal expiry loop.
func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			newCoordinator,
			func(c *Coordinator) bridge.Handler { return c },
		),
		fx.Invoke(func(lc fx.Lifecycle, c *Coordinator, cfg *config.Config) {
			if cfg.Runner.SignalTTL <= 0 || cfg.Runner.ExpiryInterval <= 0 {
				logger.Info("signal expiry disabled")
				return
			}
			runCtx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go c.RunExpiry(runCtx, cfg.Runner.ExpiryInterval)
					return nil
				},
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
		}),
	)
}
