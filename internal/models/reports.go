package models

// SignalHistory is everything the ledger knows about one signal.
type SignalHistory struct {
	Signal     *Signal      `json:"signal" yaml:"signal"`
	Orders     []*Order     `json:"orders" yaml:"orders"`
	Executions []*Execution `json:"executions" yaml:"executions"`
	Position   *Position    `json:"position" yaml:"position"`
}

type DailyPnL struct {
	Date     string  `json:"date" yaml:"date"` // YYYY-MM-DD, UTC
	Trades   int     `json:"trades" yaml:"trades"`
	Wins     int     `json:"wins" yaml:"wins"`
	TotalPnL float64 `json:"total_pnl" yaml:"total_pnl"`
	AvgPnL   float64 `json:"avg_pnl" yaml:"avg_pnl"`
}

type StatsSummary struct {
	TotalTrades     int     `json:"total_trades" yaml:"total_trades"`
	WinningTrades   int     `json:"winning_trades" yaml:"winning_trades"`
	LosingTrades    int     `json:"losing_trades" yaml:"losing_trades"`
	WinRate         float64 `json:"win_rate" yaml:"win_rate"` // percent
	TotalPnL        float64 `json:"total_pnl" yaml:"total_pnl"`
	ActivePositions int     `json:"active_positions" yaml:"active_positions"`
}

// Summarize derives win/loss counts and win rate from raw counts.
func Summarize(total, wins int, totalPnL float64, active int) StatsSummary {
	s := StatsSummary{
		TotalTrades:     total,
		WinningTrades:   wins,
		LosingTrades:    total - wins,
		TotalPnL:        totalPnL,
		ActivePositions: active,
	}
	if total > 0 {
		s.WinRate = float64(wins) / float64(total) * 100
	}
	return s
}
