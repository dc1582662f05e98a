package models

import (
	"strings"
	"time"
)

type EventType string

const (
	EventFilled          EventType = "FILLED"
	EventPartiallyFilled EventType = "PARTIALLY_FILLED"
	EventRejected        EventType = "REJECTED"
	EventCancelled       EventType = "CANCELLED"
	EventAccepted        EventType = "ACCEPTED"
)

// ParseEventType folds the spellings venues use for the same event.
func ParseEventType(raw string) EventType {
	s := strings.ToUpper(strings.TrimSpace(raw))
	switch s {
	case "FILL", "FILLED":
		return EventFilled
	case "PARTIAL", "PARTIALFILL", "PARTIAL_FILL", "PARTFILLED", "PARTIALLY_FILLED":
		return EventPartiallyFilled
	case "REJECT", "REJECTED":
		return EventRejected
	case "CANCEL", "CANCELED", "CANCELLED":
		return EventCancelled
	case "ACCEPTED", "ACK", "ACKNOWLEDGED", "WORKING", "SUBMITTED":
		return EventAccepted
	default:
		return EventType(s)
	}
}

func (e EventType) IsFill() bool { return e == EventFilled || e == EventPartiallyFilled }

// StatusEvent is an inbound artifact decoded from the venue.
type StatusEvent struct {
	Evt         EventType
	Signal      string
	OrderID     string
	ExecutionID string
	AvgFill     *float64
	QtyFilled   int
	Side        Side
	Instrument  string
	Status      string
	Commission  *float64

	// Fields holds every decoded key, vendor extras included.
	Fields map[string]any
	// Raw is the artifact content exactly as read.
	Raw []byte
}

// Execution is the append-only ledger row for one observed status artifact.
type Execution struct {
	ID             int64     `json:"id"`
	ExecutionID    string    `json:"execution_id"`
	OrderID        string    `json:"order_id"`
	SignalID       string    `json:"signal_id"`
	Timestamp      time.Time `json:"timestamp"`
	EventType      EventType `json:"event_type"`
	Symbol         string    `json:"symbol"`
	Side           Side      `json:"side"`
	FillPrice      *float64  `json:"fill_price,omitempty"`
	QuantityFilled int       `json:"quantity_filled"`
	Status         string    `json:"status"`
	Commission     *float64  `json:"commission,omitempty"`
	RawData        []byte    `json:"raw_data"`
	Artifact       string    `json:"artifact"`
}

// ExecutionFromEvent maps a decoded artifact onto a ledger row.
func ExecutionFromEvent(artifact string, evt *StatusEvent) *Execution {
	return &Execution{
		ExecutionID:    evt.ExecutionID,
		OrderID:        evt.OrderID,
		SignalID:       evt.Signal,
		EventType:      evt.Evt,
		Symbol:         evt.Instrument,
		Side:           evt.Side,
		FillPrice:      evt.AvgFill,
		QuantityFilled: evt.QtyFilled,
		Status:         evt.Status,
		Commission:     evt.Commission,
		RawData:        evt.Raw,
		Artifact:       artifact,
	}
}
