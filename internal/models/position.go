package models

import "time"

type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Position is the exposure opened by fills against one signal.
type Position struct {
	ID            int64          `json:"id"`
	PositionID    string         `json:"position_id"`
	SignalID      string         `json:"signal_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Symbol        string         `json:"symbol"`
	Side          Side           `json:"side"`
	EntryPrice    float64        `json:"entry_price"`
	Quantity      int            `json:"quantity"`
	StopLoss      *float64       `json:"stop_loss,omitempty"`
	TakeProfit    *float64       `json:"take_profit,omitempty"`
	CurrentPrice  *float64       `json:"current_price,omitempty"`
	UnrealizedPnL float64        `json:"unrealized_pnl"`
	Status        PositionStatus `json:"status"`
	ClosedAt      *time.Time     `json:"closed_at,omitempty"`
	RealizedPnL   *float64       `json:"realized_pnl,omitempty"`
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	out := *p
	out.StopLoss = cloneFloat(p.StopLoss)
	out.TakeProfit = cloneFloat(p.TakeProfit)
	out.CurrentPrice = cloneFloat(p.CurrentPrice)
	out.RealizedPnL = cloneFloat(p.RealizedPnL)
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		out.ClosedAt = &t
	}
	return &out
}

type PositionAction int

const (
	PositionKeep PositionAction = iota
	PositionOpenNew
	PositionScaleIn
	PositionReduce
	PositionCloseOut
)

func (a PositionAction) String() string {
	switch a {
	case PositionOpenNew:
		return "open"
	case PositionScaleIn:
		return "scale_in"
	case PositionReduce:
		return "reduce"
	case PositionCloseOut:
		return "close"
	default:
		return "none"
	}
}

// PositionChange is what one execution does to the signal's open position.
// Position is the new row for PositionOpenNew and the updated open row
// otherwise; Realized is the P&L booked by this change alone.
type PositionChange struct {
	Action   PositionAction
	Position *Position
	Realized float64
}

func Float(v float64) *float64 { return &v }

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
