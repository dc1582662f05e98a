package config

import (
	"github.com/spf13/afero"
	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			NewConfig,
			func(cfg *Config) (*Channels, error) {
				ch, err := LoadChannels(afero.NewOsFs(), cfg.Runner.ChannelsFile)
				if err != nil {
					return nil, err
				}
				if cfg.Runner.WatchChannels {
					if ok, _ := afero.Exists(afero.NewOsFs(), cfg.Runner.ChannelsFile); ok {
						ch.Watch()
					}
				}
				return ch, nil
			},
		),
	)
}
