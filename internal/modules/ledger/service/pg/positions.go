package pg

import (
	"context"

	"signal_bridge/internal/models"
	"signal_bridge/internal/modules/ledger/service"
	"signal_bridge/pkg/db"
)

type positionTable struct{}

const positionColumns = `id, position_id, signal_id, timestamp, symbol, side, entry_price, quantity,
	stop_loss, take_profit, current_price, unrealized_pnl, status, closed_at, realized_pnl`

func (positionTable) Insert(ctx context.Context, q db.Transaction, p *models.Position) error {
	err := q.QueryRow(ctx, `
		INSERT INTO positions (position_id, signal_id, timestamp, symbol, side, entry_price, quantity,
			stop_loss, take_profit, current_price, unrealized_pnl, status, realized_pnl)
		VALUES ($1, $2, COALESCE($3::timestamptz, now()), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, timestamp`,
		p.PositionID, p.SignalID, nullTime(p.Timestamp), p.Symbol, string(p.Side), p.EntryPrice, p.Quantity,
		p.StopLoss, p.TakeProfit, p.CurrentPrice, p.UnrealizedPnL, string(models.PositionOpen), p.RealizedPnL,
	).Scan(&p.ID, &p.Timestamp)
	if err != nil {
		return mapErr(err)
	}
	p.Status = models.PositionOpen
	return nil
}

// Update writes the size, average entry and booked P&L of an open position.
func (positionTable) Update(ctx context.Context, q db.Transaction, p *models.Position) error {
	tag, err := q.Exec(ctx, `
		UPDATE positions
		SET entry_price = $2, quantity = $3, realized_pnl = $4, current_price = $5, unrealized_pnl = $6
		WHERE position_id = $1 AND status = 'open'`,
		p.PositionID, p.EntryPrice, p.Quantity, p.RealizedPnL, p.CurrentPrice, p.UnrealizedPnL)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrConflict
	}
	return nil
}

func (positionTable) CloseOut(ctx context.Context, q db.Transaction, p *models.Position) error {
	tag, err := q.Exec(ctx, `
		UPDATE positions
		SET status = 'closed', closed_at = now(), quantity = $2, realized_pnl = $3,
		    current_price = $4, unrealized_pnl = 0
		WHERE position_id = $1 AND status = 'open'`,
		p.PositionID, p.Quantity, p.RealizedPnL, p.CurrentPrice)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrConflict
	}
	return nil
}

func (positionTable) Close(ctx context.Context, q db.Transaction, positionID string, exitPrice, realizedPnL float64) error {
	tag, err := q.Exec(ctx, `
		UPDATE positions
		SET status = 'closed', closed_at = now(), current_price = $2, realized_pnl = $3, unrealized_pnl = 0
		WHERE position_id = $1 AND status = 'open'`,
		positionID, exitPrice, realizedPnL)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotFound
	}
	return nil
}

func (positionTable) Get(ctx context.Context, q db.Transaction, positionID string) (*models.Position, error) {
	p, err := scanPosition(q.QueryRow(ctx, `SELECT `+positionColumns+` FROM positions WHERE position_id = $1`, positionID))
	if err != nil {
		return nil, mapErr(err)
	}
	return p, nil
}

func (positionTable) Open(ctx context.Context, q db.Transaction, signalID string) (*models.Position, error) {
	p, err := scanPosition(q.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE signal_id = $1 AND status = 'open'`, signalID))
	if err != nil {
		return nil, mapErr(err)
	}
	return p, nil
}

// OpenForUpdate locks the signal's open position for the rest of the transaction.
func (positionTable) OpenForUpdate(ctx context.Context, q db.Transaction, signalID string) (*models.Position, error) {
	p, err := scanPosition(q.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE signal_id = $1 AND status = 'open' FOR UPDATE`, signalID))
	if err != nil {
		return nil, mapErr(err)
	}
	return p, nil
}

func (positionTable) LatestBySignal(ctx context.Context, q db.Transaction, signalID string) (*models.Position, error) {
	p, err := scanPosition(q.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE signal_id = $1 ORDER BY timestamp DESC, id DESC LIMIT 1`, signalID))
	if err != nil {
		return nil, mapErr(err)
	}
	return p, nil
}

func (positionTable) Active(ctx context.Context, q db.Transaction) ([]*models.Position, error) {
	rows, err := q.Query(ctx, `SELECT `+positionColumns+` FROM positions WHERE status = 'open' ORDER BY timestamp DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Mark reprices open positions on symbol. Shorts earn when price falls.
func (positionTable) Mark(ctx context.Context, q db.Transaction, symbol string, price float64) (int, error) {
	tag, err := q.Exec(ctx, `
		UPDATE positions
		SET current_price = $2,
		    unrealized_pnl = CASE WHEN side = 'SELL'
		        THEN (entry_price - $2) * quantity
		        ELSE ($2 - entry_price) * quantity
		    END
		WHERE symbol = $1 AND status = 'open'`,
		symbol, price)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (positionTable) Daily(ctx context.Context, q db.Transaction, days int) ([]models.DailyPnL, error) {
	rows, err := q.Query(ctx, `
		SELECT to_char(closed_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE realized_pnl > 0),
		       COALESCE(SUM(realized_pnl), 0),
		       COALESCE(AVG(realized_pnl), 0)
		FROM positions
		WHERE status = 'closed' AND closed_at >= now() - make_interval(days => $1)
		GROUP BY day
		ORDER BY day DESC`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.DailyPnL{}
	for rows.Next() {
		var (
			d            models.DailyPnL
			trades, wins int64
		)
		if err := rows.Scan(&d.Date, &trades, &wins, &d.TotalPnL, &d.AvgPnL); err != nil {
			return nil, err
		}
		d.Trades, d.Wins = int(trades), int(wins)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (positionTable) Stats(ctx context.Context, q db.Transaction) (models.StatsSummary, error) {
	var (
		total, wins, active int64
		pnl                 float64
	)
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = 'closed'),
		       COUNT(*) FILTER (WHERE status = 'closed' AND realized_pnl > 0),
		       COALESCE(SUM(realized_pnl) FILTER (WHERE status = 'closed'), 0),
		       COUNT(*) FILTER (WHERE status = 'open')
		FROM positions`).Scan(&total, &wins, &pnl, &active)
	if err != nil {
		return models.StatsSummary{}, err
	}
	return models.Summarize(int(total), int(wins), pnl, int(active)), nil
}

func scanPosition(r scanner) (*models.Position, error) {
	var (
		p            models.Position
		side, status string
	)
	err := r.Scan(&p.ID, &p.PositionID, &p.SignalID, &p.Timestamp, &p.Symbol, &side, &p.EntryPrice, &p.Quantity,
		&p.StopLoss, &p.TakeProfit, &p.CurrentPrice, &p.UnrealizedPnL, &status, &p.ClosedAt, &p.RealizedPnL)
	if err != nil {
		return nil, err
	}
	p.Side = models.Side(side)
	p.Status = models.PositionStatus(status)
	return &p, nil
}
