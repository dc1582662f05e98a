package bridge

import (
	"context"

	"github.com/spf13/afero"
	"go.uber.org/fx"

	"signal_bridge/internal/metrics"
	"signal_bridge/internal/modules/bridge/service"
	"signal_bridge/internal/modules/config"
	healthsvc "signal_bridge/internal/modules/health/service"
	"signal_bridge/internal/notify"
)

// Module wires the directory queue, the emitter and the status consumer.
// The consumer handler is provided elsewhere (runner) as service.Handler.
func Module() fx.Option {
	return fx.Module("bridge",
		fx.Provide(
			func() afero.Fs { return afero.NewOsFs() },
			func(fs afero.Fs, cfg *config.Config) (service.Outbox, error) {
				return service.NewDirOutbox(fs, cfg.Bridge.OutboundDir)
			},
			func(fs afero.Fs, cfg *config.Config) (service.Inbox, error) {
				return service.NewDirInbox(fs, cfg.Bridge.InboundDir, cfg.Bridge.ProcessedDir, cfg.Bridge.QuarantineDir)
			},
			func(cfg *config.Config) service.Deduper {
				return service.NewMemoryDeduper(cfg.Bridge.DedupTTL, cfg.Bridge.DedupMax, service.RealClock{})
			},
			func(fs afero.Fs, cfg *config.Config) *service.StatusLog {
				return service.NewStatusLog(fs, cfg.Bridge.StatusLog)
			},
			func(out service.Outbox, cfg *config.Config, m *metrics.Metrics) *service.Emitter {
				return service.NewEmitter(out, service.EmitterConfig{
					DefaultSymbol: cfg.Bridge.DefaultSymbol,
					Account:       cfg.Bridge.Account,
				}, m)
			},
			func(
				inbox service.Inbox,
				handler service.Handler,
				dedup service.Deduper,
				statusLog *service.StatusLog,
				cfg *config.Config,
				m *metrics.Metrics,
				state *healthsvc.State,
				notifier notify.Notifier,
			) *service.Consumer {
				return service.NewConsumer(inbox, service.WithStatusLog(handler, statusLog), dedup,
					service.WithInterval(cfg.Bridge.PollInterval),
					service.WithMetrics(m),
					service.WithPollHook(state.TouchPoll),
					service.WithQuarantineHook(func(name string, err error) {
						notifier.Sendf("🧪 status artifact %s quarantined: %s", name, service.Reason(err))
					}),
				)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, c *service.Consumer, state *healthsvc.State) {
			runCtx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						defer close(done)
						c.Run(runCtx)
					}()
					state.SetConsumerRunning(true)
					return nil
				},
				OnStop: func(ctx context.Context) error {
					cancel()
					state.SetConsumerRunning(false)
					select {
					case <-done:
						return nil
					case <-ctx.Done():
						return ctx.Err()
					}
				},
			})
		}),
	)
}
