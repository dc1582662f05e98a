package health

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/fx"

	"signal_bridge/internal/metrics"
	"signal_bridge/internal/modules/config"
	"signal_bridge/internal/modules/health/service"
	ledger "signal_bridge/internal/modules/ledger/service"
)

type Config struct {
	Addr         string // e.g. ":8081"
	PollInterval time.Duration
}

func NewConfig(cfg *config.Config) Config {
	return Config{Addr: cfg.Health.Addr, PollInterval: cfg.Bridge.PollInterval}
}

func NewMux(state *service.State, m *metrics.Metrics, cfg Config) *http.ServeMux {
	mux := http.NewServeMux()
	grace := 10 * cfg.PollInterval

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !state.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"ready":           state.Ready(),
			"consumerRunning": state.ConsumerRunning(),
			"pollStale":       state.PollStale(time.Now(), grace),
			"ledgerErrors":    state.LedgerErrors(),
			"uptimeSec":       int64(state.Uptime().Seconds()),
			"lastPollUnix": func() int64 {
				t := state.LastPoll()
				if t.IsZero() {
					return 0
				}
				return t.Unix()
			}(),
		}
		body, err := sonic.Marshal(resp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})

	mux.Handle("/metrics", m.Handler())

	return mux
}

func RunHTTP(lc fx.Lifecycle, cfg Config, mux *http.ServeMux, state *service.State) {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return err
			}
			go func() { _ = srv.Serve(ln) }()
			state.SetReady(true)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			state.SetReady(false)
			return srv.Shutdown(ctx)
		},
	})
}

func RunReporter(lc fx.Lifecycle, store ledger.Store, state *service.State, cfg *config.Config) {
	r := service.NewReporter(store, state, cfg.Health.ReportInterval, cfg.Bridge.PollInterval)
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go r.Run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			service.NewState,
			metrics.New,
			NewConfig,
			NewMux,
		),
		fx.Invoke(RunHTTP, RunReporter),
	)
}
