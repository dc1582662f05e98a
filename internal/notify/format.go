package notify

import (
	"fmt"
	"strings"

	"signal_bridge/internal/models"
)

func formatPositions(positions []*models.Position) string {
	if len(positions) == 0 {
		return "📭 No open positions"
	}

	var b strings.Builder
	b.WriteString("📊 Open positions:\n")
	for _, p := range positions {
		fmt.Fprintf(&b, "- %s [%s] qty=%d @ %.2f", p.Symbol, p.Side, p.Quantity, p.EntryPrice)
		if p.CurrentPrice != nil {
			fmt.Fprintf(&b, " now=%.2f upnl=%.2f", *p.CurrentPrice, p.UnrealizedPnL)
		}
		fmt.Fprintf(&b, " (signal %s)\n", p.SignalID)
	}
	return b.String()
}

func formatStats(s models.StatsSummary) string {
	return fmt.Sprintf(
		"📈 Stats\n"+
			"Trades: %d (won %d, lost %d)\n"+
			"Win rate: %.1f%%\n"+
			"Total P&L: %.2f\n"+
			"Open positions: %d",
		s.TotalTrades, s.WinningTrades, s.LosingTrades,
		s.WinRate,
		s.TotalPnL,
		s.ActivePositions,
	)
}
