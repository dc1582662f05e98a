package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"signal_bridge/internal/metrics"
	"signal_bridge/internal/models"
	bridge "signal_bridge/internal/modules/bridge/service"
	ledger "signal_bridge/internal/modules/ledger/service"
	"signal_bridge/internal/notify"
	"signal_bridge/pkg/logger"
	"signal_bridge/pkg/tracing"
)

var (
	ErrNotPending = errors.New("signal is not pending")
	ErrInFlight   = errors.New("signal is already being acted on")
	ErrNoPosition = errors.New("no open position for signal")
)

// ApplyExecution is retried this many times when a concurrent writer moved
// the position underneath it.
const maxApplyAttempts = 3

// CommandEmitter is the outbound side of the bridge. Prepare fixes the
// command id so the order row can be written before Send makes the artifact
// visible to the venue.
type CommandEmitter interface {
	Prepare(p bridge.Params, channel string) (*models.Command, []string, error)
	Send(ctx context.Context, cmd *models.Command) (bridge.Result, error)
}

// ChannelSource looks up channel settings by name.
type ChannelSource interface {
	Get(name string) (models.ChannelConfig, bool)
}

type Config struct {
	ConfirmTimeout time.Duration
	SignalTTL      time.Duration
	DefaultQty     int
}

// OpenRequest overrides what ActOnSignal takes from the signal. Zero values
// fall back to the signal and the configured defaults.
type OpenRequest struct {
	Qty        int
	OrderType  models.OrderType
	Price      *float64
	StopLoss   *float64
	TakeProfit *float64
	Account    string
}

type Option func(*Coordinator)

func WithParser(name string, p SignalParser) Option {
	return func(c *Coordinator) { c.parsers[name] = p }
}

func WithMetrics(m *metrics.Metrics) Option { return func(c *Coordinator) { c.metrics = m } }

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

// WithLedgerErrorHook is called for every ledger write that failed.
func WithLedgerErrorHook(fn func(error)) Option {
	return func(c *Coordinator) { c.onLedgerError = fn }
}

// Coordinator drives every signal through pending → acted → filled/rejected
// and keeps the ledger in step with the commands and status events.
type Coordinator struct {
	store    ledger.Store
	emitter  CommandEmitter
	channels ChannelSource
	notifier notify.Notifier
	cfg      Config

	parsers       map[string]SignalParser
	metrics       *metrics.Metrics
	now           func() time.Time
	onLedgerError func(error)

	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(
	store ledger.Store,
	emitter CommandEmitter,
	channels ChannelSource,
	notifier notify.Notifier,
	cfg Config,
	opts ...Option,
) *Coordinator {
	if cfg.DefaultQty <= 0 {
		cfg.DefaultQty = 1
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = time.Minute
	}
	c := &Coordinator{
		store:    store,
		emitter:  emitter,
		channels: channels,
		notifier: notifier,
		cfg:      cfg,
		parsers:  make(map[string]SignalParser),
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IngestSignal stores sig as pending. On an enabled auto-trade channel it is
// acted on at once, after operator confirmation when the channel asks for
// it. A declined confirmation rejects the signal; a timeout leaves it pending.
func (c *Coordinator) IngestSignal(ctx context.Context, sig *models.Signal) error {
	if sig == nil {
		return errors.Wrap(ledger.ErrInvalidInput, "nil signal")
	}
	if sig.SignalID == "" {
		sig.SignalID = uuid.NewString()
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = c.now().UTC()
	}
	sig.Status = models.SignalPending

	if err := c.store.InsertSignal(ctx, sig); err != nil {
		c.ledgerError(err)
		return errors.Wrapf(err, "insert signal %s", sig.SignalID)
	}
	if c.metrics != nil {
		c.metrics.SignalsIngested.WithLabelValues(sig.Channel).Inc()
	}
	logger.Info("[SIGNAL] %s %s %s from %s", sig.SignalID, sig.Side, sig.Symbol, sig.Channel)

	ch, ok := c.channels.Get(sig.Channel)
	if !ok || !ch.Enabled || !ch.AutoTrade {
		return nil
	}
	if !ch.Trades(sig.Symbol) {
		logger.Warn("[SIGNAL] %s: %s is not traded on %s, left pending", sig.SignalID, sig.Symbol, ch.Name)
		return nil
	}

	if ch.ConfirmRequired {
		switch d := c.notifier.Confirm(ctx, confirmPrompt(sig), c.cfg.ConfirmTimeout); d {
		case notify.Declined:
			return c.RejectSignal(ctx, sig.SignalID, "declined by operator")
		case notify.TimedOut:
			c.notifier.Sendf("⏳ [%s] no answer, signal %s stays pending", sig.Symbol, sig.SignalID)
			return nil
		}
	}

	_, err := c.ActOnSignal(ctx, sig.SignalID, OpenRequest{})
	return err
}

func confirmPrompt(sig *models.Signal) string {
	prompt := fmt.Sprintf("🔔 [%s] %s %s from %s", sig.Symbol, sig.Side, sig.SignalID, sig.Channel)
	if sig.EntryPrice != nil {
		prompt += fmt.Sprintf("\nentry %.2f", *sig.EntryPrice)
	}
	if sig.StopLoss != nil {
		prompt += fmt.Sprintf(" SL %.2f", *sig.StopLoss)
	}
	if sig.TakeProfit != nil {
		prompt += fmt.Sprintf(" TP %.2f", *sig.TakeProfit)
	}
	return prompt + "\nTrade it?"
}

// ActOnSignal records the OPEN order, marks the signal acted and then writes
// the command artifact. A failed write fails the order and puts the signal
// back to pending.
func (c *Coordinator) ActOnSignal(ctx context.Context, signalID string, req OpenRequest) (order *models.Order, err error) {
	span, ctx := tracing.StartSpan(ctx, "coordinator.ActOnSignal")
	span.SetTag("signal", signalID)
	defer func() { tracing.Finish(span, err) }()

	if !c.acquire(signalID) {
		return nil, errors.Wrap(ErrInFlight, signalID)
	}
	defer c.release(signalID)

	sig, err := c.store.GetSignal(ctx, signalID)
	if err != nil {
		return nil, errors.Wrapf(err, "get signal %s", signalID)
	}
	if sig.Status != models.SignalPending {
		return nil, errors.Wrapf(ErrNotPending, "signal %s is %s", signalID, sig.Status)
	}

	qty := req.Qty
	if qty <= 0 {
		qty = c.cfg.DefaultQty
	}
	p := bridge.Params{
		"signal": sig.SignalID,
		"symbol": sig.Symbol,
		"qty":    qty,
	}
	if sig.Side.Valid() {
		p["side"] = string(sig.Side)
	}
	if req.OrderType != "" {
		p["orderType"] = string(req.OrderType)
	}
	if req.Account != "" {
		p["account"] = req.Account
	}
	setPrice(p, "price", req.Price)
	setPrice(p, "stopLoss", firstPrice(req.StopLoss, sig.StopLoss))
	setPrice(p, "takeProfit", firstPrice(req.TakeProfit, sig.TakeProfit))

	cmd, _, err := c.emitter.Prepare(bridge.WithKind(p, models.CommandOpen), sig.Channel)
	if err != nil {
		c.notifier.Sendf("❗️ [%s] OPEN for %s not sent: %s", sig.Symbol, sig.SignalID, bridge.Reason(err))
		return nil, errors.Wrap(err, "emit open")
	}

	order = models.OrderFromCommand(cmd)
	if err := c.store.InsertOrder(ctx, order); err != nil {
		c.ledgerError(err)
		return nil, errors.Wrapf(err, "record order %s", order.OrderID)
	}
	note := fmt.Sprintf("order %s sent: %s %d %s", order.OrderID, order.Side, order.Quantity, order.Symbol)
	if err := c.store.UpdateSignalStatus(ctx, sig.SignalID, models.SignalActed, note); err != nil {
		c.ledgerError(err)
		c.failOrder(ctx, order)
		return nil, errors.Wrapf(err, "mark signal %s acted", sig.SignalID)
	}

	if _, err := c.emitter.Send(ctx, cmd); err != nil {
		reason := bridge.Reason(err)
		back := fmt.Sprintf("order %s not sent: %s", order.OrderID, reason)
		// nothing reached the venue: undo both rows even if one of them fails
		uErr := multierr.Append(
			c.store.UpdateOrderStatus(ctx, order.OrderID, models.OrderFailed),
			c.store.UpdateSignalStatus(ctx, sig.SignalID, models.SignalPending, back),
		)
		if uErr != nil {
			c.ledgerError(uErr)
			logger.L().Error("failed send not fully recorded",
				zap.String("signal", sig.SignalID), zap.String("order", order.OrderID), zap.Error(uErr))
		}
		c.notifier.Sendf("❗️ [%s] OPEN for %s not sent: %s", sig.Symbol, sig.SignalID, reason)
		return nil, errors.Wrap(err, "emit open")
	}
	c.countStatus(models.SignalActed, 1)

	c.notifier.Sendf("📤 [%s] OPEN %s %d (signal %s, order %s)",
		order.Symbol, order.Side, order.Quantity, sig.SignalID, order.OrderID)
	return order, nil
}

// RejectSignal moves a pending signal to rejected.
func (c *Coordinator) RejectSignal(ctx context.Context, signalID, note string) error {
	sig, err := c.store.GetSignal(ctx, signalID)
	if err != nil {
		return errors.Wrapf(err, "get signal %s", signalID)
	}
	if sig.Status != models.SignalPending {
		return errors.Wrapf(ErrNotPending, "signal %s is %s", signalID, sig.Status)
	}
	if note == "" {
		note = "rejected"
	}
	if err := c.store.UpdateSignalStatus(ctx, signalID, models.SignalRejected, note); err != nil {
		c.ledgerError(err)
		return errors.Wrapf(err, "reject signal %s", signalID)
	}
	c.countStatus(models.SignalRejected, 1)
	c.notifier.Sendf("⛔️ [%s] signal %s rejected: %s", sig.Symbol, signalID, note)
	return nil
}

// ClosePosition emits a CLOSE for the signal's open position.
func (c *Coordinator) ClosePosition(ctx context.Context, signalID string) (*models.Order, error) {
	pos, err := c.store.GetOpenPosition(ctx, signalID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, errors.Wrap(ErrNoPosition, signalID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get position for %s", signalID)
	}

	cmd, _, err := c.emitter.Prepare(bridge.WithKind(bridge.Params{
		"signal": signalID,
		"symbol": pos.Symbol,
		"qty":    pos.Quantity,
	}, models.CommandClose), c.channelOf(ctx, signalID))
	if err != nil {
		return nil, errors.Wrap(err, "emit close")
	}

	order := models.OrderFromCommand(cmd)
	order.Side = pos.Side.Opposite()
	if err := c.sendOrder(ctx, cmd, order, fmt.Sprintf("close order %s sent", order.OrderID)); err != nil {
		return nil, errors.Wrap(err, "emit close")
	}
	c.notifier.Sendf("📤 [%s] CLOSE %d (signal %s, order %s)", pos.Symbol, pos.Quantity, signalID, order.OrderID)
	return order, nil
}

// ModifyStops emits a MODIFY with a new stop-loss and/or take-profit.
func (c *Coordinator) ModifyStops(ctx context.Context, signalID string, stopLoss, takeProfit *float64) (*models.Order, error) {
	p := bridge.Params{"signal": signalID}
	if pos, err := c.store.GetOpenPosition(ctx, signalID); err == nil {
		p["symbol"] = pos.Symbol
	} else if sig, err := c.store.GetSignal(ctx, signalID); err == nil {
		p["symbol"] = sig.Symbol
	}
	setPrice(p, "stopLoss", stopLoss)
	setPrice(p, "takeProfit", takeProfit)

	cmd, _, err := c.emitter.Prepare(bridge.WithKind(p, models.CommandModify), c.channelOf(ctx, signalID))
	if err != nil {
		return nil, errors.Wrap(err, "emit modify")
	}

	order := models.OrderFromCommand(cmd)
	if err := c.sendOrder(ctx, cmd, order, fmt.Sprintf("modify order %s sent", order.OrderID)); err != nil {
		return nil, errors.Wrap(err, "emit modify")
	}
	c.notifier.Sendf("📤 [%s] MODIFY signal %s (order %s)", order.Symbol, signalID, order.OrderID)
	return order, nil
}

// ExpireStale expires pending signals older than the signal TTL.
func (c *Coordinator) ExpireStale(ctx context.Context) (int, error) {
	if c.cfg.SignalTTL <= 0 {
		return 0, nil
	}
	cutoff := c.now().UTC().Add(-c.cfg.SignalTTL)
	n, err := c.store.ExpirePendingSignals(ctx, cutoff, fmt.Sprintf("expired after %s", c.cfg.SignalTTL))
	if err != nil {
		c.ledgerError(err)
		return 0, errors.Wrap(err, "expire pending signals")
	}
	if n > 0 {
		c.countStatus(models.SignalExpired, n)
		logger.Info("[SIGNAL] expired %d pending signals older than %s", n, c.cfg.SignalTTL)
	}
	return n, nil
}

// RunExpiry calls ExpireStale every interval until ctx is done.
func (c *Coordinator) RunExpiry(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.ExpireStale(ctx); err != nil {
				logger.Error("signal expiry: %v", err)
			}
		}
	}
}

// HandleStatus is the status consumer's handler. The execution row and the
// position change are one ledger transaction; the follow-up updates are
// best effort. A duplicate artifact or execution id was applied before and
// is answered with bridge.ErrAlreadyHandled without changes.
func (c *Coordinator) HandleStatus(ctx context.Context, artifact string, evt *models.StatusEvent) (err error) {
	span, ctx := tracing.StartSpan(ctx, "coordinator.HandleStatus")
	defer func() { tracing.Finish(span, err) }()

	log := logger.L().With(zap.String("artifact", artifact), zap.String("evt", string(evt.Evt)))

	order, err := c.lookupOrder(ctx, evt.OrderID)
	if err != nil {
		return err
	}
	signalID := evt.Signal
	if signalID == "" && order != nil {
		signalID = order.SignalID
	}
	sig, err := c.lookupSignal(ctx, signalID)
	if err != nil {
		return err
	}

	e := models.ExecutionFromEvent(artifact, evt)
	e.SignalID = signalID
	if e.Symbol == "" {
		switch {
		case order != nil:
			e.Symbol = order.Symbol
		case sig != nil:
			e.Symbol = sig.Symbol
		}
	}

	f := fill{
		evt:        evt.Evt,
		signalID:   signalID,
		symbol:     e.Symbol,
		side:       resolveSide(evt, order, sig),
		price:      evt.AvgFill,
		qty:        evt.QtyFilled,
		closing:    order != nil && order.CommandType == models.CommandClose,
		positionID: uuid.NewString(),
		at:         c.now().UTC(),
	}
	if order != nil {
		f.stopLoss, f.takeProfit = order.StopLoss, order.TakeProfit
	}
	if sig != nil {
		f.stopLoss = firstPrice(f.stopLoss, sig.StopLoss)
		f.takeProfit = firstPrice(f.takeProfit, sig.TakeProfit)
	}
	if evt.Evt.IsFill() && !f.side.Valid() && !f.closing {
		log.Warn("fill without a side, assuming BUY", zap.String("signal", signalID))
	}

	var change models.PositionChange
	for attempt := 1; ; attempt++ {
		change, err = c.store.ApplyExecution(ctx, e, func(open *models.Position) models.PositionChange {
			return planPosition(open, f)
		})
		if errors.Is(err, ledger.ErrConflict) && attempt < maxApplyAttempts {
			log.Warn("position changed concurrently, retrying", zap.Int("attempt", attempt))
			continue
		}
		break
	}
	if errors.Is(err, ledger.ErrDuplicateKey) {
		log.Info("status event already applied")
		return errors.Wrapf(bridge.ErrAlreadyHandled, "%s: %v", artifact, err)
	}
	if err != nil {
		c.ledgerError(err)
		return errors.Wrapf(err, "apply %s", artifact)
	}

	c.afterExecution(ctx, evt, e, order, sig, change)
	return nil
}

func (c *Coordinator) afterExecution(
	ctx context.Context,
	evt *models.StatusEvent,
	e *models.Execution,
	order *models.Order,
	sig *models.Signal,
	change models.PositionChange,
) {
	log := logger.L().With(zap.String("artifact", e.Artifact), zap.String("signal", e.SignalID))
	warn := func(msg string, err error) {
		if err != nil {
			c.ledgerError(err)
			log.Error(msg, zap.Error(err))
		}
	}

	terminal := evt.Evt == models.EventRejected || evt.Evt == models.EventCancelled

	if order != nil {
		switch {
		case terminal:
			warn("order status", c.store.UpdateOrderStatus(ctx, order.OrderID, models.OrderFailed))
		case evt.Evt.IsFill() || evt.Evt == models.EventAccepted:
			if order.Status != models.OrderAcknowledged {
				warn("order status", c.store.UpdateOrderStatus(ctx, order.OrderID, models.OrderAcknowledged))
			}
		}
	} else if evt.OrderID != "" {
		log.Debug("status for unknown order", zap.String("order", evt.OrderID))
	}

	if sig != nil {
		switch {
		case terminal:
			note := fmt.Sprintf("%s by venue", evt.Evt)
			if evt.Status != "" {
				note += ": " + evt.Status
			}
			// a refused CLOSE or MODIFY leaves the trade as it was
			opening := order == nil || order.CommandType == models.CommandOpen
			positionOpen := change.Position != nil && change.Position.Status == models.PositionOpen
			if opening && !positionOpen {
				warn("signal status", c.store.UpdateSignalStatus(ctx, sig.SignalID, models.SignalRejected, note))
				c.countStatus(models.SignalRejected, 1)
				c.notifier.Sendf("❌ [%s] %s for signal %s", sig.Symbol, note, sig.SignalID)
				break
			}
			if order != nil {
				note = fmt.Sprintf("%s order %s %s", order.CommandType, order.OrderID, note)
			}
			warn("signal note", c.store.UpdateSignalStatus(ctx, sig.SignalID, sig.Status, note))
			c.notifier.Sendf("⚠️ [%s] %s, signal %s stays %s", sig.Symbol, note, sig.SignalID, sig.Status)
		case evt.Evt.IsFill() && e.FillPrice != nil:
			note := fmt.Sprintf("%s %d @ %.2f", evt.Evt, e.QuantityFilled, *e.FillPrice)
			warn("signal note", c.store.UpdateSignalStatus(ctx, sig.SignalID, sig.Status, note))
		}
	}

	if evt.Evt.IsFill() && e.FillPrice != nil && *e.FillPrice > 0 && e.Symbol != "" {
		_, err := c.store.MarkPositions(ctx, e.Symbol, *e.FillPrice)
		warn("mark positions", err)
	}

	p := change.Position
	switch change.Action {
	case models.PositionOpenNew:
		c.notifier.Sendf("✅ [%s] opened %s %d @ %.2f (signal %s)", p.Symbol, p.Side, p.Quantity, p.EntryPrice, p.SignalID)
	case models.PositionScaleIn:
		c.notifier.Sendf("➕ [%s] scaled in to %d @ %.2f (signal %s)", p.Symbol, p.Quantity, p.EntryPrice, p.SignalID)
	case models.PositionReduce:
		c.notifier.Sendf("➖ [%s] reduced to %d, realized %.2f (signal %s)", p.Symbol, p.Quantity, change.Realized, p.SignalID)
	case models.PositionCloseOut:
		total := change.Realized
		if p.RealizedPnL != nil {
			total = *p.RealizedPnL
		}
		channel := ""
		if sig != nil {
			channel = sig.Channel
		}
		warn("log trade metric", c.store.LogMetric(ctx, &models.Metric{
			Type:    "trade",
			Name:    "realized_pnl",
			Value:   total,
			Period:  "trade",
			Channel: channel,
		}))
		if c.metrics != nil {
			c.metrics.ObservePnL(total)
		}
		c.notifier.Sendf("🏁 [%s] closed %s, P&L %.2f (signal %s)", p.Symbol, p.Side, total, p.SignalID)
	}
}

// sendOrder records order and then writes cmd. The order is failed when the
// write does not go through; the signal note is best effort.
func (c *Coordinator) sendOrder(ctx context.Context, cmd *models.Command, order *models.Order, note string) error {
	if err := c.store.InsertOrder(ctx, order); err != nil {
		c.ledgerError(err)
		return errors.Wrapf(err, "record order %s", order.OrderID)
	}
	if _, err := c.emitter.Send(ctx, cmd); err != nil {
		c.failOrder(ctx, order)
		note = fmt.Sprintf("%s order %s not sent: %s", order.CommandType, order.OrderID, bridge.Reason(err))
		c.notifier.Sendf("❗️ [%s] %s", order.Symbol, note)
		c.noteSignal(ctx, order.SignalID, note)
		return err
	}
	c.noteSignal(ctx, order.SignalID, note)
	return nil
}

func (c *Coordinator) failOrder(ctx context.Context, order *models.Order) {
	if err := c.store.UpdateOrderStatus(ctx, order.OrderID, models.OrderFailed); err != nil {
		c.ledgerError(err)
		logger.L().Error("order left sent after a failed send", zap.String("order", order.OrderID), zap.Error(err))
	}
}

func (c *Coordinator) noteSignal(ctx context.Context, signalID, note string) {
	sig, err := c.store.GetSignal(ctx, signalID)
	if errors.Is(err, ledger.ErrNotFound) {
		return
	}
	if err == nil {
		err = c.store.UpdateSignalStatus(ctx, sig.SignalID, sig.Status, note)
	}
	if err != nil {
		c.ledgerError(err)
		logger.L().Error("signal note", zap.String("signal", signalID), zap.Error(err))
	}
}

func (c *Coordinator) lookupOrder(ctx context.Context, orderID string) (*models.Order, error) {
	if orderID == "" {
		return nil, nil
	}
	o, err := c.store.GetOrder(ctx, orderID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", orderID)
	}
	return o, nil
}

func (c *Coordinator) lookupSignal(ctx context.Context, signalID string) (*models.Signal, error) {
	if signalID == "" {
		return nil, nil
	}
	s, err := c.store.GetSignal(ctx, signalID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get signal %s", signalID)
	}
	return s, nil
}

func (c *Coordinator) channelOf(ctx context.Context, signalID string) string {
	if sig, err := c.store.GetSignal(ctx, signalID); err == nil {
		return sig.Channel
	}
	return ""
}

func (c *Coordinator) acquire(signalID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[signalID]; busy {
		return false
	}
	c.inflight[signalID] = struct{}{}
	return true
}

func (c *Coordinator) release(signalID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, signalID)
}

func (c *Coordinator) ledgerError(err error) {
	if c.onLedgerError != nil {
		c.onLedgerError(err)
	}
}

func (c *Coordinator) countStatus(status models.SignalStatus, n int) {
	if c.metrics != nil {
		c.metrics.SignalStatus.WithLabelValues(string(status)).Add(float64(n))
	}
}

func setPrice(p bridge.Params, key string, v *float64) {
	if v != nil {
		p[key] = *v
	}
}

func firstPrice(vs ...*float64) *float64 {
	for _, v := range vs {
		if v != nil {
			return v
		}
	}
	return nil
}
