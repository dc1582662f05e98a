package models

import "time"

type CommandKind string

const (
	CommandOpen   CommandKind = "OPEN"
	CommandClose  CommandKind = "CLOSE"
	CommandModify CommandKind = "MODIFY"
)

func (k CommandKind) Valid() bool {
	return k == CommandOpen || k == CommandClose || k == CommandModify
}

type OrderType string

const (
	OrderMarket    OrderType = "MARKET"
	OrderLimit     OrderType = "LIMIT"
	OrderStop      OrderType = "STOP"
	OrderStopLimit OrderType = "STOP_LIMIT"
)

func (t OrderType) Valid() bool {
	switch t {
	case OrderMarket, OrderLimit, OrderStop, OrderStopLimit:
		return true
	}
	return false
}

type OrderStatus string

const (
	OrderSent         OrderStatus = "sent"
	OrderAcknowledged OrderStatus = "acknowledged"
	OrderFailed       OrderStatus = "failed"
)

// Command is the outbound artifact body. Field names are the wire names the
// execution venue reads.
type Command struct {
	ID         string      `json:"id"`
	Cmd        CommandKind `json:"cmd"`
	Signal     string      `json:"signal,omitempty"`
	Symbol     string      `json:"symbol,omitempty"`
	Side       Side        `json:"side,omitempty"`
	OrderType  OrderType   `json:"orderType,omitempty"`
	Qty        int         `json:"qty,omitempty"`
	Price      *float64    `json:"price,omitempty"`
	StopLoss   *float64    `json:"stopLoss,omitempty"`
	TakeProfit *float64    `json:"takeProfit,omitempty"`
	Account    string      `json:"account,omitempty"`
	Channel    string      `json:"channel,omitempty"`
}

// Order is the ledger row for an emitted command.
type Order struct {
	ID          int64       `json:"id"`
	OrderID     string      `json:"order_id"`
	SignalID    string      `json:"signal_id,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	CommandType CommandKind `json:"command_type"`
	Symbol      string      `json:"symbol"`
	Side        Side        `json:"side"`
	OrderType   OrderType   `json:"order_type"`
	Quantity    int         `json:"quantity"`
	Price       *float64    `json:"price,omitempty"`
	StopLoss    *float64    `json:"stop_loss,omitempty"`
	TakeProfit  *float64    `json:"take_profit,omitempty"`
	Account     string      `json:"account"`
	Status      OrderStatus `json:"status"`
}

// OrderFromCommand builds the ledger row for a command that reached the
// outbound directory.
func OrderFromCommand(c *Command) *Order {
	return &Order{
		OrderID:     c.ID,
		SignalID:    c.Signal,
		CommandType: c.Cmd,
		Symbol:      c.Symbol,
		Side:        c.Side,
		OrderType:   c.OrderType,
		Quantity:    c.Qty,
		Price:       c.Price,
		StopLoss:    c.StopLoss,
		TakeProfit:  c.TakeProfit,
		Account:     c.Account,
		Status:      OrderSent,
	}
}
