// Package memory is an in-process ledger used by tests and by the
// "memory" ledger driver. Records do not survive a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"signal_bridge/internal/models"
	"signal_bridge/internal/modules/ledger/service"
)

var _ service.Store = (*Store)(nil)

// Store keeps every table in slices guarded by one RWMutex. Callers always
// get copies.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	nextID     int64
	signals    []*models.Signal
	orders     []*models.Order
	executions []*models.Execution
	positions  []*models.Position
	metrics    []*models.Metric
	health     []*models.HealthRecord
}

type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// --- signals ---

func (s *Store) InsertSignal(_ context.Context, sig *models.Signal) error {
	if sig == nil || sig.SignalID == "" {
		return service.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findSignal(sig.SignalID) != nil {
		return service.ErrDuplicateKey
	}
	cp := copySignal(sig)
	cp.ID = s.id()
	if cp.Timestamp.IsZero() {
		cp.Timestamp = s.now().UTC()
	}
	if cp.Status == "" {
		cp.Status = models.SignalPending
	}
	s.signals = append(s.signals, cp)

	sig.ID, sig.Timestamp, sig.Status = cp.ID, cp.Timestamp, cp.Status
	return nil
}

func (s *Store) UpdateSignalStatus(_ context.Context, signalID string, status models.SignalStatus, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig := s.findSignal(signalID)
	if sig == nil {
		return service.ErrNotFound
	}
	sig.Status = status
	sig.Notes = models.AppendNote(sig.Notes, note)
	return nil
}

func (s *Store) GetSignal(_ context.Context, signalID string) (*models.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sig := s.findSignal(signalID)
	if sig == nil {
		return nil, service.ErrNotFound
	}
	return copySignal(sig), nil
}

func (s *Store) RecentSignals(_ context.Context, limit int) ([]*models.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Signal, 0, len(s.signals))
	for i := len(s.signals) - 1; i >= 0; i-- {
		out = append(out, copySignal(s.signals[i]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ExpirePendingSignals(_ context.Context, before time.Time, note string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, sig := range s.signals {
		if sig.Status == models.SignalPending && sig.Timestamp.Before(before) {
			sig.Status = models.SignalExpired
			sig.Notes = models.AppendNote(sig.Notes, note)
			n++
		}
	}
	return n, nil
}

// --- orders ---

func (s *Store) InsertOrder(_ context.Context, o *models.Order) error {
	if o == nil || o.OrderID == "" {
		return service.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findOrder(o.OrderID) != nil {
		return service.ErrDuplicateKey
	}
	cp := copyOrder(o)
	cp.ID = s.id()
	if cp.Timestamp.IsZero() {
		cp.Timestamp = s.now().UTC()
	}
	if cp.Status == "" {
		cp.Status = models.OrderSent
	}
	s.orders = append(s.orders, cp)

	o.ID, o.Timestamp, o.Status = cp.ID, cp.Timestamp, cp.Status
	return nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, orderID string, status models.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := s.findOrder(orderID)
	if o == nil {
		return service.ErrNotFound
	}
	o.Status = status
	return nil
}

func (s *Store) GetOrder(_ context.Context, orderID string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o := s.findOrder(orderID)
	if o == nil {
		return nil, service.ErrNotFound
	}
	return copyOrder(o), nil
}

// --- executions ---

func (s *Store) InsertExecution(_ context.Context, e *models.Execution) error {
	if e == nil {
		return service.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertExecution(e)
}

func (s *Store) insertExecution(e *models.Execution) error {
	for _, x := range s.executions {
		if e.Artifact != "" && x.Artifact == e.Artifact {
			return service.ErrDuplicateKey
		}
		if e.ExecutionID != "" && x.ExecutionID == e.ExecutionID {
			return service.ErrDuplicateKey
		}
	}
	cp := copyExecution(e)
	cp.ID = s.id()
	if cp.Timestamp.IsZero() {
		cp.Timestamp = s.now().UTC()
	}
	s.executions = append(s.executions, cp)

	e.ID, e.Timestamp = cp.ID, cp.Timestamp
	return nil
}

// ApplyExecution holds the write lock across the insert and the position
// change, which makes the pair atomic.
func (s *Store) ApplyExecution(_ context.Context, e *models.Execution, plan service.PositionPlanner) (models.PositionChange, error) {
	if e == nil || plan == nil {
		return models.PositionChange{}, service.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var open *models.Position
	if e.SignalID != "" {
		open = s.findOpenPosition(e.SignalID)
	}
	change := plan(open.Clone())

	// validate before mutating anything so a rejected change leaves no trace
	switch change.Action {
	case models.PositionKeep:
	case models.PositionOpenNew:
		p := change.Position
		if p == nil || p.PositionID == "" {
			return models.PositionChange{}, service.ErrInvalidInput
		}
		if s.findPosition(p.PositionID) != nil {
			return models.PositionChange{}, service.ErrDuplicateKey
		}
		if p.SignalID != "" && s.findOpenPosition(p.SignalID) != nil {
			return models.PositionChange{}, service.ErrConflict
		}
	default:
		if open == nil || change.Position == nil || change.Position.PositionID != open.PositionID {
			return models.PositionChange{}, service.ErrConflict
		}
	}

	if err := s.insertExecution(e); err != nil {
		return models.PositionChange{}, err
	}

	switch change.Action {
	case models.PositionOpenNew:
		cp := change.Position.Clone()
		cp.ID = s.id()
		if cp.Timestamp.IsZero() {
			cp.Timestamp = s.now().UTC()
		}
		cp.Status = models.PositionOpen
		s.positions = append(s.positions, cp)
		change.Position = cp.Clone()
	case models.PositionScaleIn, models.PositionReduce:
		stored := s.findPosition(open.PositionID)
		stored.EntryPrice = change.Position.EntryPrice
		stored.Quantity = change.Position.Quantity
		stored.RealizedPnL = cloneFloat(change.Position.RealizedPnL)
		stored.CurrentPrice = cloneFloat(change.Position.CurrentPrice)
		stored.UnrealizedPnL = change.Position.UnrealizedPnL
		change.Position = stored.Clone()
	case models.PositionCloseOut:
		stored := s.findPosition(open.PositionID)
		now := s.now().UTC()
		stored.Status = models.PositionClosed
		stored.ClosedAt = &now
		stored.Quantity = change.Position.Quantity
		stored.RealizedPnL = cloneFloat(change.Position.RealizedPnL)
		stored.CurrentPrice = cloneFloat(change.Position.CurrentPrice)
		stored.UnrealizedPnL = 0
		change.Position = stored.Clone()
	}
	return change, nil
}

// --- positions ---

func (s *Store) OpenPosition(_ context.Context, p *models.Position) error {
	if p == nil || p.PositionID == "" {
		return service.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findPosition(p.PositionID) != nil {
		return service.ErrDuplicateKey
	}
	if p.SignalID != "" && s.findOpenPosition(p.SignalID) != nil {
		return service.ErrDuplicateKey
	}
	cp := p.Clone()
	cp.ID = s.id()
	if cp.Timestamp.IsZero() {
		cp.Timestamp = s.now().UTC()
	}
	cp.Status = models.PositionOpen
	s.positions = append(s.positions, cp)

	p.ID, p.Timestamp, p.Status = cp.ID, cp.Timestamp, cp.Status
	return nil
}

func (s *Store) ClosePosition(_ context.Context, positionID string, exitPrice, realizedPnL float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.findPosition(positionID)
	if p == nil || p.Status != models.PositionOpen {
		return service.ErrNotFound
	}
	now := s.now().UTC()
	p.Status = models.PositionClosed
	p.ClosedAt = &now
	p.CurrentPrice = models.Float(exitPrice)
	p.RealizedPnL = models.Float(realizedPnL)
	p.UnrealizedPnL = 0
	return nil
}

func (s *Store) GetOpenPosition(_ context.Context, signalID string) (*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := s.findOpenPosition(signalID)
	if p == nil {
		return nil, service.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *Store) ActivePositions(context.Context) ([]*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Position
	for i := len(s.positions) - 1; i >= 0; i-- {
		if s.positions[i].Status == models.PositionOpen {
			out = append(out, s.positions[i].Clone())
		}
	}
	return out, nil
}

func (s *Store) MarkPositions(_ context.Context, symbol string, price float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, p := range s.positions {
		if p.Status != models.PositionOpen || p.Symbol != symbol {
			continue
		}
		p.CurrentPrice = models.Float(price)
		p.UnrealizedPnL = models.RealizedPnL(p.Side, p.EntryPrice, price, p.Quantity)
		n++
	}
	return n, nil
}

// --- monitoring ---

func (s *Store) LogMetric(_ context.Context, m *models.Metric) error {
	if m == nil || m.Name == "" {
		return service.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *m
	cp.ID = s.id()
	if cp.Timestamp.IsZero() {
		cp.Timestamp = s.now().UTC()
	}
	if cp.Period == "" {
		cp.Period = "realtime"
	}
	s.metrics = append(s.metrics, &cp)
	m.ID = cp.ID
	return nil
}

func (s *Store) LogHealth(_ context.Context, h *models.HealthRecord) error {
	if h == nil || h.Component == "" {
		return service.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *h
	cp.ID = s.id()
	if cp.Timestamp.IsZero() {
		cp.Timestamp = s.now().UTC()
	}
	s.health = append(s.health, &cp)
	h.ID = cp.ID
	return nil
}

// Metrics returns a copy of every logged metric.
func (s *Store) Metrics() []models.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Metric, 0, len(s.metrics))
	for _, m := range s.metrics {
		out = append(out, *m)
	}
	return out
}

// Health returns a copy of every logged health record.
func (s *Store) Health() []models.HealthRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.HealthRecord, 0, len(s.health))
	for _, h := range s.health {
		out = append(out, *h)
	}
	return out
}

// --- reports ---

func (s *Store) SignalHistory(_ context.Context, signalID string) (*models.SignalHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sig := s.findSignal(signalID)
	if sig == nil {
		return nil, service.ErrNotFound
	}
	h := &models.SignalHistory{Signal: copySignal(sig)}
	for _, o := range s.orders {
		if o.SignalID == signalID {
			h.Orders = append(h.Orders, copyOrder(o))
		}
	}
	for _, e := range s.executions {
		if e.SignalID == signalID {
			h.Executions = append(h.Executions, copyExecution(e))
		}
	}
	// most recent position for the signal, open or closed
	for i := len(s.positions) - 1; i >= 0; i-- {
		if s.positions[i].SignalID == signalID {
			h.Position = s.positions[i].Clone()
			break
		}
	}
	return h, nil
}

func (s *Store) DailyPnL(_ context.Context, days int) ([]models.DailyPnL, error) {
	if days <= 0 {
		return nil, service.ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().UTC().AddDate(0, 0, -days)
	byDay := map[string]*models.DailyPnL{}
	for _, p := range s.positions {
		if p.Status != models.PositionClosed || p.ClosedAt == nil || p.ClosedAt.Before(cutoff) {
			continue
		}
		day := p.ClosedAt.UTC().Format("2006-01-02")
		d, ok := byDay[day]
		if !ok {
			d = &models.DailyPnL{Date: day}
			byDay[day] = d
		}
		pnl := realized(p)
		d.Trades++
		if pnl > 0 {
			d.Wins++
		}
		d.TotalPnL = models.AddPnL(d.TotalPnL, pnl)
	}

	out := make([]models.DailyPnL, 0, len(byDay))
	for _, d := range byDay {
		d.AvgPnL = d.TotalPnL / float64(d.Trades)
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out, nil
}

func (s *Store) StatsSummary(context.Context) (models.StatsSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total, wins, active int
	var pnl float64
	for _, p := range s.positions {
		switch p.Status {
		case models.PositionOpen:
			active++
		case models.PositionClosed:
			total++
			v := realized(p)
			if v > 0 {
				wins++
			}
			pnl = models.AddPnL(pnl, v)
		}
	}
	return models.Summarize(total, wins, pnl, active), nil
}

// --- helpers ---

func (s *Store) findSignal(signalID string) *models.Signal {
	for _, sig := range s.signals {
		if sig.SignalID == signalID {
			return sig
		}
	}
	return nil
}

func (s *Store) findOrder(orderID string) *models.Order {
	for _, o := range s.orders {
		if o.OrderID == orderID {
			return o
		}
	}
	return nil
}

func (s *Store) findPosition(positionID string) *models.Position {
	for _, p := range s.positions {
		if p.PositionID == positionID {
			return p
		}
	}
	return nil
}

func (s *Store) findOpenPosition(signalID string) *models.Position {
	for _, p := range s.positions {
		if p.SignalID == signalID && p.Status == models.PositionOpen {
			return p
		}
	}
	return nil
}

func realized(p *models.Position) float64 {
	if p.RealizedPnL == nil {
		return 0
	}
	return *p.RealizedPnL
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copySignal(s *models.Signal) *models.Signal {
	cp := *s
	cp.EntryPrice = cloneFloat(s.EntryPrice)
	cp.StopLoss = cloneFloat(s.StopLoss)
	cp.TakeProfit = cloneFloat(s.TakeProfit)
	return &cp
}

func copyOrder(o *models.Order) *models.Order {
	cp := *o
	cp.Price = cloneFloat(o.Price)
	cp.StopLoss = cloneFloat(o.StopLoss)
	cp.TakeProfit = cloneFloat(o.TakeProfit)
	return &cp
}

func copyExecution(e *models.Execution) *models.Execution {
	cp := *e
	cp.FillPrice = cloneFloat(e.FillPrice)
	cp.Commission = cloneFloat(e.Commission)
	if e.RawData != nil {
		cp.RawData = append([]byte(nil), e.RawData...)
	}
	return &cp
}
