package runner

import (
	"time"

	"signal_bridge/internal/models"
)

// fill is what planPosition needs to know about one status event.
type fill struct {
	evt      models.EventType
	signalID string
	symbol   string
	side     models.Side // resolved side of the fill, may be SideNone
	price    *float64
	qty      int
	// closing is set when the event answers a CLOSE command.
	closing bool

	stopLoss   *float64
	takeProfit *float64

	// positionID names the position a fill opens.
	positionID string
	at         time.Time
}

// planPosition decides what a status event does to the signal's open
// position. It never has side effects; open is a private copy and may be
// modified.
//
//   - a fill with a positive price and no open position opens one
//   - a fill on the open position's side scales in at the weighted entry
//   - an opposite fill, or a fill of a CLOSE order, reduces or closes
//   - everything else leaves the position alone
func planPosition(open *models.Position, f fill) models.PositionChange {
	keep := models.PositionChange{Action: models.PositionKeep, Position: open}
	if !f.evt.IsFill() || f.price == nil || *f.price <= 0 {
		return keep
	}
	price := *f.price

	if open == nil {
		if f.closing {
			// nothing left to close
			return keep
		}
		qty := f.qty
		if qty <= 0 {
			qty = 1
		}
		side := f.side
		if !side.Valid() {
			side = models.SideBuy
		}
		return models.PositionChange{
			Action: models.PositionOpenNew,
			Position: &models.Position{
				PositionID:   f.positionID,
				SignalID:     f.signalID,
				Timestamp:    f.at,
				Symbol:       f.symbol,
				Side:         side,
				EntryPrice:   price,
				Quantity:     qty,
				StopLoss:     f.stopLoss,
				TakeProfit:   f.takeProfit,
				CurrentPrice: models.Float(price),
				Status:       models.PositionOpen,
			},
		}
	}

	reducing := f.closing || (f.side.Valid() && f.side != open.Side)
	if !reducing {
		qty := f.qty
		if qty <= 0 {
			qty = 1
		}
		open.EntryPrice = models.AverageEntry(open.EntryPrice, open.Quantity, price, qty)
		open.Quantity += qty
		open.CurrentPrice = models.Float(price)
		open.UnrealizedPnL = models.RealizedPnL(open.Side, open.EntryPrice, price, open.Quantity)
		return models.PositionChange{Action: models.PositionScaleIn, Position: open}
	}

	qty := f.qty
	if qty <= 0 || qty >= open.Quantity {
		qty = open.Quantity
	}
	realized := models.RealizedPnL(open.Side, open.EntryPrice, price, qty)
	total := realized
	if open.RealizedPnL != nil {
		total = models.AddPnL(*open.RealizedPnL, realized)
	}
	open.RealizedPnL = models.Float(total)
	open.CurrentPrice = models.Float(price)

	if qty == open.Quantity {
		open.UnrealizedPnL = 0
		return models.PositionChange{Action: models.PositionCloseOut, Position: open, Realized: realized}
	}
	open.Quantity -= qty
	open.UnrealizedPnL = models.RealizedPnL(open.Side, open.EntryPrice, price, open.Quantity)
	return models.PositionChange{Action: models.PositionReduce, Position: open, Realized: realized}
}

// resolveSide picks the side of a fill: the event's, then the order's, then
// the signal's.
func resolveSide(evt *models.StatusEvent, order *models.Order, sig *models.Signal) models.Side {
	switch {
	case evt.Side.Valid():
		return evt.Side
	case order != nil && order.Side.Valid():
		return order.Side
	case sig != nil && sig.Side.Valid():
		return sig.Side
	default:
		return models.SideNone
	}
}
