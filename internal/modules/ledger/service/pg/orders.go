package pg

import (
	"context"

	"signal_bridge/internal/models"
	"signal_bridge/internal/modules/ledger/service"
	"signal_bridge/pkg/db"
)

type orderTable struct{}

const orderColumns = `id, order_id, signal_id, timestamp, command_type, symbol, side, order_type,
	quantity, price, stop_loss, take_profit, account, status`

func (orderTable) Insert(ctx context.Context, q db.Transaction, o *models.Order) error {
	if o.Status == "" {
		o.Status = models.OrderSent
	}
	err := q.QueryRow(ctx, `
		INSERT INTO orders (order_id, signal_id, timestamp, command_type, symbol, side, order_type,
			quantity, price, stop_loss, take_profit, account, status)
		VALUES ($1, $2, COALESCE($3::timestamptz, now()), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, timestamp`,
		o.OrderID, nullable(o.SignalID), nullTime(o.Timestamp), string(o.CommandType), o.Symbol,
		string(o.Side), string(o.OrderType), o.Quantity, o.Price, o.StopLoss, o.TakeProfit,
		o.Account, string(o.Status),
	).Scan(&o.ID, &o.Timestamp)
	return mapErr(err)
}

func (orderTable) UpdateStatus(ctx context.Context, q db.Transaction, orderID string, status models.OrderStatus) error {
	tag, err := q.Exec(ctx, `UPDATE orders SET status = $2 WHERE order_id = $1`, orderID, string(status))
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotFound
	}
	return nil
}

func (orderTable) Get(ctx context.Context, q db.Transaction, orderID string) (*models.Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, orderID))
	if err != nil {
		return nil, mapErr(err)
	}
	return o, nil
}

func (orderTable) BySignal(ctx context.Context, q db.Transaction, signalID string) ([]*models.Order, error) {
	rows, err := q.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE signal_id = $1 ORDER BY timestamp, id`, signalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrder(r scanner) (*models.Order, error) {
	var (
		o                            models.Order
		signalID                     *string
		cmd, side, orderType, status string
	)
	err := r.Scan(&o.ID, &o.OrderID, &signalID, &o.Timestamp, &cmd, &o.Symbol, &side, &orderType,
		&o.Quantity, &o.Price, &o.StopLoss, &o.TakeProfit, &o.Account, &status)
	if err != nil {
		return nil, err
	}
	o.SignalID = deref(signalID)
	o.CommandType = models.CommandKind(cmd)
	o.Side = models.Side(side)
	o.OrderType = models.OrderType(orderType)
	o.Status = models.OrderStatus(status)
	return &o, nil
}
