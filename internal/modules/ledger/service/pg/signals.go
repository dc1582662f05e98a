package pg

import (
	"context"
	"time"

	"signal_bridge/internal/models"
	"signal_bridge/internal/modules/ledger/service"
	"signal_bridge/pkg/db"
)

type signalTable struct{}

const signalColumns = `id, signal_id, timestamp, channel, raw_text, symbol, side,
	entry_price, stop_loss, take_profit, trader, status, notes`

func (signalTable) Insert(ctx context.Context, q db.Transaction, s *models.Signal) error {
	if s.Status == "" {
		s.Status = models.SignalPending
	}
	err := q.QueryRow(ctx, `
		INSERT INTO signals (signal_id, timestamp, channel, raw_text, symbol, side,
			entry_price, stop_loss, take_profit, trader, status, notes)
		VALUES ($1, COALESCE($2::timestamptz, now()), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, timestamp`,
		s.SignalID, nullTime(s.Timestamp), s.Channel, s.RawText, s.Symbol, string(s.Side),
		s.EntryPrice, s.StopLoss, s.TakeProfit, s.Trader, string(s.Status), s.Notes,
	).Scan(&s.ID, &s.Timestamp)
	return mapErr(err)
}

func (signalTable) UpdateStatus(ctx context.Context, q db.Transaction, signalID string, status models.SignalStatus, note string) error {
	tag, err := q.Exec(ctx, `
		UPDATE signals
		SET status = $2,
		    notes = CASE
		        WHEN $3::text = '' THEN notes
		        WHEN notes = '' THEN $3::text
		        ELSE notes || E'\n' || $3::text
		    END
		WHERE signal_id = $1`,
		signalID, string(status), note)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotFound
	}
	return nil
}

func (signalTable) Get(ctx context.Context, q db.Transaction, signalID string) (*models.Signal, error) {
	row := q.QueryRow(ctx, `SELECT `+signalColumns+` FROM signals WHERE signal_id = $1`, signalID)
	s, err := scanSignal(row)
	if err != nil {
		return nil, mapErr(err)
	}
	return s, nil
}

func (signalTable) Recent(ctx context.Context, q db.Transaction, limit int) ([]*models.Signal, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.Query(ctx, `SELECT `+signalColumns+` FROM signals ORDER BY timestamp DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Signal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (signalTable) ExpirePending(ctx context.Context, q db.Transaction, before time.Time, note string) (int, error) {
	tag, err := q.Exec(ctx, `
		UPDATE signals
		SET status = $3,
		    notes = CASE WHEN notes = '' THEN $4::text ELSE notes || E'\n' || $4::text END
		WHERE status = $1 AND timestamp < $2`,
		string(models.SignalPending), before, string(models.SignalExpired), note)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSignal(r scanner) (*models.Signal, error) {
	var (
		s            models.Signal
		side, status string
	)
	err := r.Scan(&s.ID, &s.SignalID, &s.Timestamp, &s.Channel, &s.RawText, &s.Symbol, &side,
		&s.EntryPrice, &s.StopLoss, &s.TakeProfit, &s.Trader, &status, &s.Notes)
	if err != nil {
		return nil, err
	}
	s.Side = models.Side(side)
	s.Status = models.SignalStatus(status)
	return &s, nil
}
