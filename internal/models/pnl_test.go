package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRealizedPnL(t *testing.T) {
	assert.InDelta(t, 20.0, RealizedPnL(SideBuy, 4258.50, 4268.50, 2), 1e-9)
	assert.InDelta(t, -20.0, RealizedPnL(SideSell, 4258.50, 4268.50, 2), 1e-9)
	assert.InDelta(t, 0.3, RealizedPnL(SideBuy, 0.1, 0.4, 1), 1e-12)
	// unknown side books as long
	assert.InDelta(t, 5.0, RealizedPnL(SideNone, 10, 15, 1), 1e-9)
}

func TestAverageEntry(t *testing.T) {
	assert.InDelta(t, 101.0, AverageEntry(100, 1, 102, 1), 1e-9)
	assert.InDelta(t, 100.5, AverageEntry(100, 3, 102, 1), 1e-9)
	assert.InDelta(t, 100.0, AverageEntry(100, 0, 0, 0), 1e-9)
}

func TestParseSide(t *testing.T) {
	s, ok := ParseSide(" buy ")
	assert.True(t, ok)
	assert.Equal(t, SideBuy, s)

	s, ok = ParseSide("short")
	assert.True(t, ok)
	assert.Equal(t, SideSell, s)

	_, ok = ParseSide("hold")
	assert.False(t, ok)
	assert.Equal(t, SideSell, SideBuy.Opposite())
}

func TestParseEventType(t *testing.T) {
	assert.Equal(t, EventFilled, ParseEventType("filled"))
	assert.Equal(t, EventCancelled, ParseEventType("Canceled"))
	assert.Equal(t, EventPartiallyFilled, ParseEventType("PARTIAL_FILL"))
	assert.Equal(t, EventType("EXPIRED"), ParseEventType("expired"))
	assert.True(t, EventPartiallyFilled.IsFill())
	assert.False(t, EventRejected.IsFill())
}

func TestSummarize(t *testing.T) {
	s := Summarize(4, 3, 12.5, 2)
	assert.Equal(t, 1, s.LosingTrades)
	assert.InDelta(t, 75.0, s.WinRate, 1e-9)

	empty := Summarize(0, 0, 0, 0)
	assert.Equal(t, 0.0, empty.WinRate)
}

func TestAppendNote(t *testing.T) {
	assert.Equal(t, "a", AppendNote("", "a"))
	assert.Equal(t, "a\nb", AppendNote("a", "b"))
	assert.Equal(t, "a", AppendNote("a", ""))
}

func TestChannelTrades(t *testing.T) {
	c := ChannelConfig{Instruments: []string{"XAUUSD"}}
	assert.True(t, c.Trades("xauusd"))
	assert.False(t, c.Trades("EURUSD"))
	assert.True(t, ChannelConfig{}.Trades("EURUSD"))
}
