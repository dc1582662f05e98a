package pg

import (
	"context"

	"signal_bridge/internal/models"
	"signal_bridge/pkg/db"
)

type executionTable struct{}

const executionColumns = `id, execution_id, order_id, signal_id, timestamp, event_type, symbol, side,
	fill_price, quantity_filled, status, commission, raw_data, artifact`

// Insert appends one execution. The partial unique indexes on artifact and
// execution_id surface replays as ErrDuplicateKey.
func (executionTable) Insert(ctx context.Context, q db.Transaction, e *models.Execution) error {
	err := q.QueryRow(ctx, `
		INSERT INTO executions (execution_id, order_id, signal_id, timestamp, event_type, symbol, side,
			fill_price, quantity_filled, status, commission, raw_data, artifact)
		VALUES ($1, $2, $3, COALESCE($4::timestamptz, now()), $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, timestamp`,
		e.ExecutionID, e.OrderID, e.SignalID, nullTime(e.Timestamp), string(e.EventType), e.Symbol,
		string(e.Side), e.FillPrice, e.QuantityFilled, e.Status, e.Commission, e.RawData, e.Artifact,
	).Scan(&e.ID, &e.Timestamp)
	return mapErr(err)
}

func (executionTable) BySignal(ctx context.Context, q db.Transaction, signalID string) ([]*models.Execution, error) {
	rows, err := q.Query(ctx, `SELECT `+executionColumns+` FROM executions WHERE signal_id = $1 ORDER BY timestamp, id`, signalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Execution
	for rows.Next() {
		var (
			e         models.Execution
			evt, side string
		)
		err := rows.Scan(&e.ID, &e.ExecutionID, &e.OrderID, &e.SignalID, &e.Timestamp, &evt, &e.Symbol, &side,
			&e.FillPrice, &e.QuantityFilled, &e.Status, &e.Commission, &e.RawData, &e.Artifact)
		if err != nil {
			return nil, err
		}
		e.EventType = models.EventType(evt)
		e.Side = models.Side(side)
		out = append(out, &e)
	}
	return out, rows.Err()
}
