package models

import "time"

type SignalStatus string

const (
	SignalPending  SignalStatus = "pending"
	SignalActed    SignalStatus = "acted"
	SignalRejected SignalStatus = "rejected"
	SignalExpired  SignalStatus = "expired"
)

// Signal is a trade idea parsed from feed text.
type Signal struct {
	ID         int64        `json:"id"`
	SignalID   string       `json:"signal_id"`
	Timestamp  time.Time    `json:"timestamp"`
	Channel    string       `json:"channel"`
	RawText    string       `json:"raw_text"`
	Symbol     string       `json:"symbol"`
	Side       Side         `json:"side"`
	EntryPrice *float64     `json:"entry_price,omitempty"`
	StopLoss   *float64     `json:"stop_loss,omitempty"`
	TakeProfit *float64     `json:"take_profit,omitempty"`
	Trader     string       `json:"trader"`
	Status     SignalStatus `json:"status"`
	Notes      string       `json:"notes"`
}

// AppendNote keeps notes append-only: new text goes on its own line.
func AppendNote(notes, note string) string {
	if note == "" {
		return notes
	}
	if notes == "" {
		return note
	}
	return notes + "\n" + note
}
