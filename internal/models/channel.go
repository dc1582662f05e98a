package models

import "strings"

// ChannelConfig describes one monitored feed channel.
type ChannelConfig struct {
	Name            string   `yaml:"name" mapstructure:"name"`
	Username        string   `yaml:"username" mapstructure:"username"`
	Enabled         bool     `yaml:"enabled" mapstructure:"enabled"`
	AutoParse       bool     `yaml:"auto_parse" mapstructure:"auto_parse"`
	AutoTrade       bool     `yaml:"auto_trade" mapstructure:"auto_trade"`
	ConfirmRequired bool     `yaml:"confirm_required" mapstructure:"confirm_required"`
	ParserType      string   `yaml:"parser_type" mapstructure:"parser_type"`
	RiskPerTrade    float64  `yaml:"risk_per_trade" mapstructure:"risk_per_trade"`
	Instruments     []string `yaml:"instruments" mapstructure:"instruments"`
	Notes           string   `yaml:"notes,omitempty" mapstructure:"notes"`
}

// Trades reports whether symbol is on the channel's instrument list. An empty
// list allows every symbol.
func (c ChannelConfig) Trades(symbol string) bool {
	if len(c.Instruments) == 0 {
		return true
	}
	for _, s := range c.Instruments {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}
