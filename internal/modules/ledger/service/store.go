package service

import (
	"context"
	"errors"
	"time"

	"signal_bridge/internal/models"
)

// Ledger errors shared by every Store implementation.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a unique key (signal id, order id,
	// execution id, artifact name, position id) already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrConflict is returned when a concurrent writer changed the rows a
	// transaction depended on. The caller may retry.
	ErrConflict = errors.New("conflicting concurrent write")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// PositionPlanner decides, inside the execution's transaction, what the
// execution does to the signal's open position. open is nil when the signal
// has no open position; it is a private copy the planner may modify.
type PositionPlanner func(open *models.Position) models.PositionChange

// Store is the durable ledger. Every write method is one transaction;
// reads are point-in-time snapshots. References between tables are not
// enforced.
type Store interface {
	// InsertSignal stores a new signal. Returns ErrDuplicateKey if signal_id exists.
	InsertSignal(ctx context.Context, s *models.Signal) error
	// UpdateSignalStatus sets the status and appends note. Returns ErrNotFound.
	UpdateSignalStatus(ctx context.Context, signalID string, status models.SignalStatus, note string) error
	GetSignal(ctx context.Context, signalID string) (*models.Signal, error)
	// RecentSignals returns the newest signals first.
	RecentSignals(ctx context.Context, limit int) ([]*models.Signal, error)
	// ExpirePendingSignals moves pending signals created before the cutoff to expired.
	ExpirePendingSignals(ctx context.Context, before time.Time, note string) (int, error)

	// InsertOrder stores an emitted command. Returns ErrDuplicateKey if order_id exists.
	InsertOrder(ctx context.Context, o *models.Order) error
	UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)

	// InsertExecution appends one execution row. Returns ErrDuplicateKey when
	// the artifact name or a non-empty execution id was already recorded.
	InsertExecution(ctx context.Context, e *models.Execution) error
	// ApplyExecution inserts e and applies plan's position change atomically.
	ApplyExecution(ctx context.Context, e *models.Execution, plan PositionPlanner) (models.PositionChange, error)

	// OpenPosition stores a new open position. Returns ErrDuplicateKey if the
	// position id exists or the signal already has an open position.
	OpenPosition(ctx context.Context, p *models.Position) error
	// ClosePosition closes an open position. Returns ErrNotFound if no open
	// position has that id.
	ClosePosition(ctx context.Context, positionID string, exitPrice, realizedPnL float64) error
	GetOpenPosition(ctx context.Context, signalID string) (*models.Position, error)
	ActivePositions(ctx context.Context) ([]*models.Position, error)
	// MarkPositions refreshes current price and unrealized P&L of every open
	// position on symbol and returns how many were updated.
	MarkPositions(ctx context.Context, symbol string, price float64) (int, error)

	LogMetric(ctx context.Context, m *models.Metric) error
	LogHealth(ctx context.Context, h *models.HealthRecord) error

	SignalHistory(ctx context.Context, signalID string) (*models.SignalHistory, error)
	// DailyPnL aggregates closed positions per UTC day over the last days.
	DailyPnL(ctx context.Context, days int) ([]models.DailyPnL, error)
	StatsSummary(ctx context.Context) (models.StatsSummary, error)

	Ping(ctx context.Context) error
}
