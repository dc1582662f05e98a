package ledger

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/fx"

	"signal_bridge/internal/modules/config"
	"signal_bridge/internal/modules/ledger/migrations"
	"signal_bridge/internal/modules/ledger/service"
	"signal_bridge/internal/modules/ledger/service/memory"
	"signal_bridge/internal/modules/ledger/service/pg"
	"signal_bridge/internal/modules/postgres"
	"signal_bridge/pkg/logger"
)

// Module provides service.Store for the configured driver. The postgres
// driver opens its own pool and applies migrations when ledger.migrate is set.
func Module() fx.Option {
	return fx.Module("ledger",
		fx.Provide(
			func(lc fx.Lifecycle, ctx context.Context, cfg *config.Config) (service.Store, error) {
				if cfg.Ledger.Driver == "memory" {
					logger.Warn("ledger driver is memory: records are lost on restart")
					return memory.New(), nil
				}

				tm, err := postgres.NewTxManager(ctx, cfg)
				if err != nil {
					return nil, errors.Wrap(err, "connect ledger")
				}
				lc.Append(fx.Hook{
					OnStop: func(context.Context) error {
						tm.Close()
						return nil
					},
				})

				if cfg.Ledger.Migrate {
					applied, err := migrations.RunPostgres(ctx, tm.Conn())
					if err != nil {
						return nil, errors.Wrap(err, "migrate ledger")
					}
					logger.Info("ledger migrations applied: %v", applied)
				}
				return pg.New(tm), nil
			},
		),
	)
}
