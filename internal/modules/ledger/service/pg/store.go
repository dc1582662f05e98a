// Package pg is the PostgreSQL ledger. Store is a facade that runs each
// operation through the transaction manager; the per-table query sets take
// the transaction they run in.
package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"signal_bridge/internal/models"
	"signal_bridge/internal/modules/ledger/service"
	"signal_bridge/pkg/db"
)

var _ service.Store = (*Store)(nil)

type Store struct {
	db db.TxManager

	signals    signalTable
	orders     orderTable
	executions executionTable
	positions  positionTable
	monitoring monitoringTable
}

func New(tm db.TxManager) *Store {
	return &Store{db: tm}
}

func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.Conn().QueryRow(ctx, `SELECT 1`).Scan(&one)
}

// --- signals ---

func (s *Store) InsertSignal(ctx context.Context, sig *models.Signal) (err error) {
	defer wrap(&err, "pg.InsertSignal")
	if sig == nil || sig.SignalID == "" {
		return service.ErrInvalidInput
	}
	return s.signals.Insert(ctx, s.db.Conn(), sig)
}

func (s *Store) UpdateSignalStatus(ctx context.Context, signalID string, status models.SignalStatus, note string) (err error) {
	defer wrap(&err, "pg.UpdateSignalStatus")
	return s.signals.UpdateStatus(ctx, s.db.Conn(), signalID, status, note)
}

func (s *Store) GetSignal(ctx context.Context, signalID string) (sig *models.Signal, err error) {
	defer wrap(&err, "pg.GetSignal")
	return s.signals.Get(ctx, s.db.Conn(), signalID)
}

func (s *Store) RecentSignals(ctx context.Context, limit int) (out []*models.Signal, err error) {
	defer wrap(&err, "pg.RecentSignals")
	return s.signals.Recent(ctx, s.db.Conn(), limit)
}

func (s *Store) ExpirePendingSignals(ctx context.Context, before time.Time, note string) (n int, err error) {
	defer wrap(&err, "pg.ExpirePendingSignals")
	return s.signals.ExpirePending(ctx, s.db.Conn(), before, note)
}

// --- orders ---

func (s *Store) InsertOrder(ctx context.Context, o *models.Order) (err error) {
	defer wrap(&err, "pg.InsertOrder")
	if o == nil || o.OrderID == "" {
		return service.ErrInvalidInput
	}
	return s.orders.Insert(ctx, s.db.Conn(), o)
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) (err error) {
	defer wrap(&err, "pg.UpdateOrderStatus")
	return s.orders.UpdateStatus(ctx, s.db.Conn(), orderID, status)
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (o *models.Order, err error) {
	defer wrap(&err, "pg.GetOrder")
	return s.orders.Get(ctx, s.db.Conn(), orderID)
}

// --- executions ---

func (s *Store) InsertExecution(ctx context.Context, e *models.Execution) (err error) {
	defer wrap(&err, "pg.InsertExecution")
	if e == nil {
		return service.ErrInvalidInput
	}
	return s.executions.Insert(ctx, s.db.Conn(), e)
}

func (s *Store) ApplyExecution(ctx context.Context, e *models.Execution, plan service.PositionPlanner) (change models.PositionChange, err error) {
	defer wrap(&err, "pg.ApplyExecution")
	if e == nil || plan == nil {
		return change, service.ErrInvalidInput
	}

	err = s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		if err := s.executions.Insert(ctxTx, tx, e); err != nil {
			return err
		}

		var open *models.Position
		if e.SignalID != "" {
			p, err := s.positions.OpenForUpdate(ctxTx, tx, e.SignalID)
			switch {
			case errors.Is(err, service.ErrNotFound):
			case err != nil:
				return err
			default:
				open = p
			}
		}

		change = plan(open.Clone())
		switch change.Action {
		case models.PositionKeep:
			return nil
		case models.PositionOpenNew:
			if change.Position == nil || change.Position.PositionID == "" {
				return service.ErrInvalidInput
			}
			change.Position.Status = models.PositionOpen
			if err := s.positions.Insert(ctxTx, tx, change.Position); err != nil {
				// another writer opened a position for this signal first
				if errors.Is(err, service.ErrDuplicateKey) {
					return service.ErrConflict
				}
				return err
			}
		case models.PositionScaleIn, models.PositionReduce:
			if open == nil || change.Position == nil || change.Position.PositionID != open.PositionID {
				return service.ErrConflict
			}
			if err := s.positions.Update(ctxTx, tx, change.Position); err != nil {
				return err
			}
		case models.PositionCloseOut:
			if open == nil || change.Position == nil || change.Position.PositionID != open.PositionID {
				return service.ErrConflict
			}
			if err := s.positions.CloseOut(ctxTx, tx, change.Position); err != nil {
				return err
			}
		}

		p, err := s.positions.Get(ctxTx, tx, change.Position.PositionID)
		if err != nil {
			return err
		}
		change.Position = p
		return nil
	})
	if err != nil {
		return models.PositionChange{}, mapErr(err)
	}
	return change, nil
}

// --- positions ---

func (s *Store) OpenPosition(ctx context.Context, p *models.Position) (err error) {
	defer wrap(&err, "pg.OpenPosition")
	if p == nil || p.PositionID == "" {
		return service.ErrInvalidInput
	}
	p.Status = models.PositionOpen
	return s.positions.Insert(ctx, s.db.Conn(), p)
}

func (s *Store) ClosePosition(ctx context.Context, positionID string, exitPrice, realizedPnL float64) (err error) {
	defer wrap(&err, "pg.ClosePosition")
	return s.positions.Close(ctx, s.db.Conn(), positionID, exitPrice, realizedPnL)
}

func (s *Store) GetOpenPosition(ctx context.Context, signalID string) (p *models.Position, err error) {
	defer wrap(&err, "pg.GetOpenPosition")
	return s.positions.Open(ctx, s.db.Conn(), signalID)
}

func (s *Store) ActivePositions(ctx context.Context) (out []*models.Position, err error) {
	defer wrap(&err, "pg.ActivePositions")
	return s.positions.Active(ctx, s.db.Conn())
}

func (s *Store) MarkPositions(ctx context.Context, symbol string, price float64) (n int, err error) {
	defer wrap(&err, "pg.MarkPositions")
	return s.positions.Mark(ctx, s.db.Conn(), symbol, price)
}

// --- monitoring ---

func (s *Store) LogMetric(ctx context.Context, m *models.Metric) (err error) {
	defer wrap(&err, "pg.LogMetric")
	if m == nil || m.Name == "" {
		return service.ErrInvalidInput
	}
	return s.monitoring.InsertMetric(ctx, s.db.Conn(), m)
}

func (s *Store) LogHealth(ctx context.Context, h *models.HealthRecord) (err error) {
	defer wrap(&err, "pg.LogHealth")
	if h == nil || h.Component == "" {
		return service.ErrInvalidInput
	}
	return s.monitoring.InsertHealth(ctx, s.db.Conn(), h)
}

// --- reports ---

func (s *Store) SignalHistory(ctx context.Context, signalID string) (h *models.SignalHistory, err error) {
	defer wrap(&err, "pg.SignalHistory")

	err = s.db.RunRepeatableRead(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		sig, err := s.signals.Get(ctxTx, tx, signalID)
		if err != nil {
			return err
		}
		out := &models.SignalHistory{Signal: sig}
		if out.Orders, err = s.orders.BySignal(ctxTx, tx, signalID); err != nil {
			return err
		}
		if out.Executions, err = s.executions.BySignal(ctxTx, tx, signalID); err != nil {
			return err
		}
		out.Position, err = s.positions.LatestBySignal(ctxTx, tx, signalID)
		if err != nil && !errors.Is(err, service.ErrNotFound) {
			return err
		}
		h = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (s *Store) DailyPnL(ctx context.Context, days int) (out []models.DailyPnL, err error) {
	defer wrap(&err, "pg.DailyPnL")
	if days <= 0 {
		return nil, service.ErrInvalidInput
	}
	return s.positions.Daily(ctx, s.db.Conn(), days)
}

func (s *Store) StatsSummary(ctx context.Context) (st models.StatsSummary, err error) {
	defer wrap(&err, "pg.StatsSummary")
	return s.positions.Stats(ctx, s.db.Conn())
}

// --- helpers ---

func wrap(err *error, op string) {
	if *err != nil {
		*err = fmt.Errorf("%s: %w", op, *err)
	}
}

// mapErr turns driver errors into ledger sentinels.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return service.ErrNotFound
	case isDuplicateKeyError(err):
		return fmt.Errorf("%w: %s", service.ErrDuplicateKey, constraintName(err))
	case isSerializationError(err):
		return fmt.Errorf("%w: %v", service.ErrConflict, err)
	default:
		return err
	}
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// 40001 serialization_failure, 40P01 deadlock_detected
func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

func constraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
