package config

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal_bridge/internal/models"
)

const channelsYAML = `
channels:
  - name: gold-room
    username: "@goldroom"
    enabled: true
    auto_parse: true
    auto_trade: true
    parser_type: standard
    risk_per_trade: 0.01
    instruments: [GC, XAUUSD]
  - name: review
    username: "@review"
    enabled: true
    auto_parse: true
    confirm_required: true
    parser_type: standard
  - name: muted
    enabled: false
global:
  session:
    name: reader
`

func TestLoadChannels(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "configs/channels.yaml", []byte(channelsYAML), 0o644))

	ch, err := LoadChannels(fs, "configs/channels.yaml")
	require.NoError(t, err)

	all := ch.All()
	require.Len(t, all, 3)
	assert.Equal(t, []string{"gold-room", "review", "muted"}, []string{all[0].Name, all[1].Name, all[2].Name})

	gold, ok := ch.Get("gold-room")
	require.True(t, ok)
	assert.True(t, gold.AutoTrade)
	assert.InDelta(t, 0.01, gold.RiskPerTrade, 1e-12)
	assert.Equal(t, []string{"GC", "XAUUSD"}, gold.Instruments)

	review, _ := ch.Get("review")
	assert.True(t, review.ConfirmRequired)
	assert.False(t, review.AutoTrade)

	assert.Equal(t, []string{"gold-room", "review"}, ch.Enabled())

	_, ok = ch.Get("unknown")
	assert.False(t, ok)
}

func TestLoadChannels_MissingFile(t *testing.T) {
	ch, err := LoadChannels(afero.NewMemMapFs(), "configs/channels.yaml")
	require.NoError(t, err)
	assert.Empty(t, ch.All())
}

func TestChannels_SaveRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "configs/channels.yaml", []byte(channelsYAML), 0o644))

	ch, err := LoadChannels(fs, "configs/channels.yaml")
	require.NoError(t, err)

	require.NoError(t, ch.Upsert(models.ChannelConfig{Name: "new", Enabled: true, AutoParse: true, ParserType: "standard", Instruments: []string{"NQ"}}))
	assert.True(t, ch.Remove("muted"))
	assert.False(t, ch.Remove("muted"))
	assert.Error(t, ch.Upsert(models.ChannelConfig{}))
	require.NoError(t, ch.Save())

	files, err := afero.ReadDir(fs, "configs")
	require.NoError(t, err)
	require.Len(t, files, 1, "no temp file may remain")

	reloaded, err := LoadChannels(fs, "configs/channels.yaml")
	require.NoError(t, err)
	names := []string{}
	for _, c := range reloaded.All() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"gold-room", "review", "new"}, names)

	nc, ok := reloaded.Get("new")
	require.True(t, ok)
	assert.Equal(t, []string{"NQ"}, nc.Instruments)
}
