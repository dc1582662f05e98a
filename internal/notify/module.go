package notify

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/fx"

	"signal_bridge/internal/modules/config"
	ledger "signal_bridge/internal/modules/ledger/service"
	"signal_bridge/pkg/logger"
)

// Module provides the Notifier: Telegram when a token is configured, the
// log sink otherwise.
func Module() fx.Option {
	return fx.Module("notify",
		fx.Provide(
			func(lc fx.Lifecycle, cfg *config.Config, store ledger.Store) (Notifier, error) {
				if cfg.Telegram.Token == "" {
					logger.Info("telegram token not set, alerts go to the log")
					return NewLog(), nil
				}

				t, err := NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, store)
				if err != nil {
					return nil, errors.Wrap(err, "telegram bot")
				}
				runCtx, cancel := context.WithCancel(context.Background())
				lc.Append(fx.Hook{
					OnStart: func(context.Context) error {
						t.Start(runCtx)
						return nil
					},
					OnStop: func(context.Context) error {
						cancel()
						t.Stop()
						return nil
					},
				})
				return t, nil
			},
		),
	)
}
