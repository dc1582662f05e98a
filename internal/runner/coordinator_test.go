package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal_bridge/internal/metrics"
	"signal_bridge/internal/models"
	bridge "signal_bridge/internal/modules/bridge/service"
	ledger "signal_bridge/internal/modules/ledger/service"
	"signal_bridge/internal/modules/ledger/service/memory"
	"signal_bridge/internal/notify"
)

const outDir = "orders_out"

type fakeNotifier struct {
	mu       sync.Mutex
	msgs     []string
	prompts  []string
	decision notify.Decision
}

func (n *fakeNotifier) Send(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *fakeNotifier) Sendf(format string, args ...any) { n.Send(fmt.Sprintf(format, args...)) }

func (n *fakeNotifier) Confirm(_ context.Context, prompt string, _ time.Duration) notify.Decision {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.prompts = append(n.prompts, prompt)
	return n.decision
}

func (n *fakeNotifier) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.msgs) == 0 {
		return ""
	}
	return n.msgs[len(n.msgs)-1]
}

type channelMap map[string]models.ChannelConfig

func (m channelMap) Get(name string) (models.ChannelConfig, bool) {
	ch, ok := m[name]
	return ch, ok
}

// fastVenue answers a command while Send is still returning, the way a
// venue polling its inbox on a short interval can.
type fastVenue struct {
	CommandEmitter
	answer func(cmd *models.Command)
}

func (v *fastVenue) Send(ctx context.Context, cmd *models.Command) (bridge.Result, error) {
	res, err := v.CommandEmitter.Send(ctx, cmd)
	if err == nil {
		v.answer(cmd)
	}
	return res, err
}

// brokenOutbox fails every write.
type brokenOutbox struct{}

func (brokenOutbox) Enqueue(context.Context, string, []byte) (string, error) {
	return "", &bridge.Error{Kind: bridge.ErrWrite, Reason: "disk full"}
}

type fixture struct {
	fs         afero.Fs
	store      *memory.Store
	notifier   *fakeNotifier
	metrics    *metrics.Metrics
	channels   channelMap
	now        time.Time
	ledgerErrs int
	c          *Coordinator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		fs:       afero.NewMemMapFs(),
		notifier: &fakeNotifier{decision: notify.Accepted},
		metrics:  metrics.New(),
		now:      time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
		channels: channelMap{
			"manual":  {Name: "manual", Enabled: true},
			"auto":    {Name: "auto", Enabled: true, AutoTrade: true},
			"confirm": {Name: "confirm", Enabled: true, AutoTrade: true, ConfirmRequired: true},
			"metals":  {Name: "metals", Enabled: true, AutoTrade: true, Instruments: []string{"GC", "SI"}},
			"off":     {Name: "off", Enabled: false, AutoTrade: true},
		},
	}
	f.store = memory.New(memory.WithClock(func() time.Time { return f.now }))

	out, err := bridge.NewDirOutbox(f.fs, outDir)
	require.NoError(t, err)
	em := bridge.NewEmitter(out, bridge.EmitterConfig{DefaultSymbol: "GC", Account: "Sim101"}, f.metrics)

	opts = append([]Option{
		WithMetrics(f.metrics),
		WithClock(func() time.Time { return f.now }),
		WithLedgerErrorHook(func(error) { f.ledgerErrs++ }),
	}, opts...)
	f.c = New(f.store, em, f.channels, f.notifier, Config{SignalTTL: time.Hour, DefaultQty: 2}, opts...)
	return f
}

func (f *fixture) artifacts(t *testing.T) []*models.Command {
	t.Helper()
	infos, err := afero.ReadDir(f.fs, outDir)
	require.NoError(t, err)
	var out []*models.Command
	for _, fi := range infos {
		data, err := afero.ReadFile(f.fs, filepath.Join(outDir, fi.Name()))
		require.NoError(t, err)
		cmd, err := bridge.DecodeCommand(data)
		require.NoError(t, err)
		out = append(out, cmd)
	}
	return out
}

func (f *fixture) signal(t *testing.T, id string) *models.Signal {
	t.Helper()
	sig, err := f.store.GetSignal(context.Background(), id)
	require.NoError(t, err)
	return sig
}

func goldSignal(id, channel string) *models.Signal {
	return &models.Signal{
		SignalID:   id,
		Channel:    channel,
		RawText:    "BUY GC 2350 SL 2340 TP 2370",
		Symbol:     "GC",
		Side:       models.SideBuy,
		EntryPrice: models.Float(2350),
		StopLoss:   models.Float(2340),
		TakeProfit: models.Float(2370),
	}
}

func status(evt models.EventType, signal, orderID string, side models.Side, price float64, qty int) *models.StatusEvent {
	e := &models.StatusEvent{
		Evt:         evt,
		Signal:      signal,
		OrderID:     orderID,
		ExecutionID: fmt.Sprintf("ex-%s-%s-%d", signal, evt, qty),
		Side:        side,
		QtyFilled:   qty,
		Status:      string(evt),
		Raw:         []byte(fmt.Sprintf(`{"evt":%q}`, evt)),
	}
	if price > 0 {
		e.AvgFill = models.Float(price)
	}
	return e
}

func TestIngestSignal_ManualChannelStaysPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sig := goldSignal("", "manual")
	require.NoError(t, f.c.IngestSignal(ctx, sig))
	assert.NotEmpty(t, sig.SignalID)

	got := f.signal(t, sig.SignalID)
	assert.Equal(t, models.SignalPending, got.Status)
	assert.Equal(t, f.now, got.Timestamp)
	assert.Empty(t, f.artifacts(t))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SignalsIngested.WithLabelValues("manual")))

	for _, ch := range []string{"off", "unknown"} {
		require.NoError(t, f.c.IngestSignal(ctx, goldSignal("", ch)))
	}
	assert.Empty(t, f.artifacts(t))
}

func TestIngestSignal_AutoTradeActs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.c.IngestSignal(ctx, goldSignal("sig-1", "auto")))

	sig := f.signal(t, "sig-1")
	assert.Equal(t, models.SignalActed, sig.Status)

	cmds := f.artifacts(t)
	require.Len(t, cmds, 1)
	cmd := cmds[0]
	assert.Equal(t, models.CommandOpen, cmd.Cmd)
	assert.Equal(t, "sig-1", cmd.Signal)
	assert.Equal(t, models.SideBuy, cmd.Side)
	assert.Equal(t, 2, cmd.Qty)
	assert.Equal(t, 2340.0, *cmd.StopLoss)
	assert.Equal(t, 2370.0, *cmd.TakeProfit)
	assert.Equal(t, "auto", cmd.Channel)
	assert.Equal(t, "Sim101", cmd.Account)
	assert.Contains(t, sig.Notes, "order "+cmd.ID+" sent")

	order, err := f.store.GetOrder(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderSent, order.Status)
	assert.Equal(t, "sig-1", order.SignalID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SignalStatus.WithLabelValues("acted")))
}

func TestIngestSignal_InstrumentFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	es := goldSignal("sig-es", "metals")
	es.Symbol = "ES"
	require.NoError(t, f.c.IngestSignal(ctx, es))
	assert.Equal(t, models.SignalPending, f.signal(t, "sig-es").Status)

	require.NoError(t, f.c.IngestSignal(ctx, goldSignal("sig-gc", "metals")))
	assert.Equal(t, models.SignalActed, f.signal(t, "sig-gc").Status)
}

func TestIngestSignal_Confirmation(t *testing.T) {
	cases := []struct {
		decision notify.Decision
		want     models.SignalStatus
		commands int
	}{
		{notify.Accepted, models.SignalActed, 1},
		{notify.Declined, models.SignalRejected, 0},
		{notify.TimedOut, models.SignalPending, 0},
	}
	for _, tc := range cases {
		t.Run(tc.decision.String(), func(t *testing.T) {
			f := newFixture(t)
			f.notifier.decision = tc.decision

			require.NoError(t, f.c.IngestSignal(context.Background(), goldSignal("sig-1", "confirm")))
			require.Len(t, f.notifier.prompts, 1)
			assert.Contains(t, f.notifier.prompts[0], "SL 2340.00")
			assert.Equal(t, tc.want, f.signal(t, "sig-1").Status)
			assert.Len(t, f.artifacts(t), tc.commands)
		})
	}
}

func TestIngestSignal_Duplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.c.IngestSignal(ctx, goldSignal("sig-1", "manual")))
	err := f.c.IngestSignal(ctx, goldSignal("sig-1", "manual"))
	assert.ErrorIs(t, err, ledger.ErrDuplicateKey)
	assert.Equal(t, 1, f.ledgerErrs)
	assert.ErrorIs(t, f.c.IngestSignal(ctx, nil), ledger.ErrInvalidInput)
}

func TestActOnSignal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.c.IngestSignal(ctx, goldSignal("sig-1", "manual")))

	order, err := f.c.ActOnSignal(ctx, "sig-1", OpenRequest{
		Qty:       5,
		OrderType: models.OrderLimit,
		Price:     models.Float(2349.5),
		StopLoss:  models.Float(2338),
		Account:   "Live1",
	})
	require.NoError(t, err)
	assert.Equal(t, 5, order.Quantity)
	assert.Equal(t, models.OrderLimit, order.OrderType)
	assert.Equal(t, 2349.5, *order.Price)
	assert.Equal(t, 2338.0, *order.StopLoss)
	assert.Equal(t, 2370.0, *order.TakeProfit)
	assert.Equal(t, "Live1", order.Account)

	_, err = f.c.ActOnSignal(ctx, "sig-1", OpenRequest{})
	assert.ErrorIs(t, err, ErrNotPending)
	assert.Len(t, f.artifacts(t), 1)

	_, err = f.c.ActOnSignal(ctx, "missing", OpenRequest{})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestActOnSignal_EmitFailureLeavesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.c.emitter = bridge.NewEmitter(brokenOutbox{}, bridge.EmitterConfig{}, nil)
	require.NoError(t, f.c.IngestSignal(ctx, goldSignal("sig-1", "manual")))

	_, err := f.c.ActOnSignal(ctx, "sig-1", OpenRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, bridge.ErrWrite)
	assert.Contains(t, f.notifier.last(), "not sent")

	hist, err := f.store.SignalHistory(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, models.SignalPending, hist.Signal.Status)
	assert.Contains(t, hist.Signal.Notes, "not sent: disk full")
	require.Len(t, hist.Orders, 1)
	assert.Equal(t, models.OrderFailed, hist.Orders[0].Status)
}

func TestActOnSignal_StatusArrivesBeforeSendReturns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	prices := map[models.CommandKind]float64{models.CommandOpen: 2350, models.CommandClose: 2360}
	var answerErrs []error
	f.c.emitter = &fastVenue{CommandEmitter: f.c.emitter, answer: func(cmd *models.Command) {
		// the venue leaves the side out of every fill
		name := fmt.Sprintf("fast-%s.json", cmd.Cmd)
		answerErrs = append(answerErrs, f.c.HandleStatus(ctx, name, status(models.EventFilled, "", cmd.ID, "", prices[cmd.Cmd], 2)))
	}}
	require.NoError(t, f.c.IngestSignal(ctx, goldSignal("sig-1", "manual")))

	order, err := f.c.ActOnSignal(ctx, "sig-1", OpenRequest{})
	require.NoError(t, err)
	stored, err := f.store.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderAcknowledged, stored.Status)
	pos, err := f.store.GetOpenPosition(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, models.SideBuy, pos.Side)
	assert.Equal(t, 2, pos.Quantity)
	assert.Equal(t, models.SignalActed, f.signal(t, "sig-1").Status)

	_, err = f.c.ClosePosition(ctx, "sig-1")
	require.NoError(t, err)
	_, err = f.store.GetOpenPosition(ctx, "sig-1")
	assert.ErrorIs(t, err, ledger.ErrNotFound, "a side-less CLOSE fill closes rather than scales in")

	hist, err := f.store.SignalHistory(ctx, "sig-1")
	require.NoError(t, err)
	require.NotNil(t, hist.Position)
	assert.InDelta(t, 20, *hist.Position.RealizedPnL, 1e-9)
	for _, err := range answerErrs {
		assert.NoError(t, err)
	}
	assert.Len(t, answerErrs, 2)
}

func TestActOnSignal_InFlight(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.c.acquire("sig-1"))

	_, err := f.c.ActOnSignal(context.Background(), "sig-1", OpenRequest{})
	assert.ErrorIs(t, err, ErrInFlight)

	f.c.release("sig-1")
	assert.True(t, f.c.acquire("sig-1"))
}

func TestRejectSignal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.c.IngestSignal(ctx, goldSignal("sig-1", "manual")))

	require.NoError(t, f.c.RejectSignal(ctx, "sig-1", "entry already passed"))
	sig := f.signal(t, "sig-1")
	assert.Equal(t, models.SignalRejected, sig.Status)
	assert.Equal(t, "entry already passed", sig.Notes)

	assert.ErrorIs(t, f.c.RejectSignal(ctx, "sig-1", ""), ErrNotPending)
	assert.ErrorIs(t, f.c.RejectSignal(ctx, "missing", ""), ledger.ErrNotFound)
}

func TestHandleStatus_FullLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.c.IngestSignal(ctx, goldSignal("sig-1", "auto")))
	open := f.artifacts(t)[0]

	// venue accepts, then fills
	require.NoError(t, f.c.HandleStatus(ctx, "a1.json", status(models.EventAccepted, "sig-1", open.ID, "", 0, 0)))
	order, err := f.store.GetOrder(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderAcknowledged, order.Status)

	require.NoError(t, f.c.HandleStatus(ctx, "a2.json", status(models.EventFilled, "sig-1", open.ID, models.SideBuy, 2350, 2)))
	pos, err := f.store.GetOpenPosition(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, models.SideBuy, pos.Side)
	assert.Equal(t, 2, pos.Quantity)
	assert.Equal(t, 2350.0, pos.EntryPrice)
	assert.Equal(t, 2340.0, *pos.StopLoss)
	assert.Contains(t, f.notifier.last(), "opened BUY 2 @ 2350.00")

	// the same artifact again changes nothing
	err = f.c.HandleStatus(ctx, "a2.json", status(models.EventFilled, "sig-1", open.ID, models.SideBuy, 2350, 2))
	assert.ErrorIs(t, err, bridge.ErrAlreadyHandled)
	pos, err = f.store.GetOpenPosition(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, 2, pos.Quantity)

	// close it
	closeOrder, err := f.c.ClosePosition(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, models.CommandClose, closeOrder.CommandType)
	assert.Equal(t, models.SideSell, closeOrder.Side)
	assert.Equal(t, 2, closeOrder.Quantity)
	assert.Len(t, f.artifacts(t), 2)

	// the venue reports the close without a side
	require.NoError(t, f.c.HandleStatus(ctx, "a3.json", status(models.EventFilled, "", closeOrder.OrderID, "", 2360, 2)))
	_, err = f.store.GetOpenPosition(ctx, "sig-1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	hist, err := f.store.SignalHistory(ctx, "sig-1")
	require.NoError(t, err)
	assert.Len(t, hist.Orders, 2)
	assert.Len(t, hist.Executions, 3)
	require.NotNil(t, hist.Position)
	assert.Equal(t, models.PositionClosed, hist.Position.Status)
	assert.InDelta(t, 20, *hist.Position.RealizedPnL, 1e-9)
	assert.Equal(t, models.SignalActed, hist.Signal.Status)
	assert.Contains(t, hist.Signal.Notes, "FILLED 2 @ 2350.00")
	assert.Contains(t, hist.Signal.Notes, "close order "+closeOrder.OrderID+" sent")

	stats, err := f.store.StatsSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalTrades)
	assert.Equal(t, 1, stats.WinningTrades)

	metricsRows := f.store.Metrics()
	require.Len(t, metricsRows, 1)
	assert.Equal(t, "realized_pnl", metricsRows[0].Name)
	assert.InDelta(t, 20, metricsRows[0].Value, 1e-9)
	assert.Equal(t, "auto", metricsRows[0].Channel)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PositionsClosed))
	assert.InDelta(t, 20, testutil.ToFloat64(f.metrics.RealizedPnL), 1e-9)
	assert.Contains(t, f.notifier.last(), "P&L 20.00")
}

func TestHandleStatus_Rejected(t *testing.T) {
	for _, evt := range []models.EventType{models.EventRejected, models.EventCancelled} {
		t.Run(string(evt), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			require.NoError(t, f.c.IngestSignal(ctx, goldSignal("sig-1", "auto")))
			open := f.artifacts(t)[0]

			e := status(evt, "sig-1", open.ID, "", 0, 0)
			e.Status = "margin"
			require.NoError(t, f.c.HandleStatus(ctx, "r.json", e))

			sig := f.signal(t, "sig-1")
			assert.Equal(t, models.SignalRejected, sig.Status)
			assert.Contains(t, sig.Notes, string(evt)+" by venue: margin")
			order, err := f.store.GetOrder(ctx, open.ID)
			require.NoError(t, err)
			assert.Equal(t, models.OrderFailed, order.Status)

			_, err = f.store.GetOpenPosition(ctx, "sig-1")
			assert.ErrorIs(t, err, ledger.ErrNotFound)
		})
	}
}

func TestHandleStatus_RejectedCloseKeepsPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.c.IngestSignal(ctx, goldSignal("sig-1", "auto")))
	open := f.artifacts(t)[0]
	require.NoError(t, f.c.HandleStatus(ctx, "fill.json", status(models.EventFilled, "sig-1", open.ID, models.SideBuy, 2350, 2)))

	closeOrder, err := f.c.ClosePosition(ctx, "sig-1")
	require.NoError(t, err)

	e := status(models.EventRejected, "", closeOrder.OrderID, "", 0, 0)
	e.Status = "market closed"
	require.NoError(t, f.c.HandleStatus(ctx, "reject.json", e))

	sig := f.signal(t, "sig-1")
	assert.Equal(t, models.SignalActed, sig.Status)
	assert.Contains(t, sig.Notes, "REJECTED by venue: market closed")
	assert.Zero(t, testutil.ToFloat64(f.metrics.SignalStatus.WithLabelValues(string(models.SignalRejected))))
	assert.Contains(t, f.notifier.last(), "stays acted")

	stored, err := f.store.GetOrder(ctx, closeOrder.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFailed, stored.Status)
	pos, err := f.store.GetOpenPosition(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, 2, pos.Quantity)
}

func TestClosePosition_SendFailureFailsOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.c.IngestSignal(ctx, goldSignal("sig-1", "manual")))
	require.NoError(t, f.c.HandleStatus(ctx, "fill.json", status(models.EventFilled, "sig-1", "", models.SideBuy, 2350, 1)))
	f.c.emitter = bridge.NewEmitter(brokenOutbox{}, bridge.EmitterConfig{}, nil)

	_, err := f.c.ClosePosition(ctx, "sig-1")
	assert.ErrorIs(t, err, bridge.ErrWrite)
	assert.Contains(t, f.notifier.last(), "not sent: disk full")

	hist, err := f.store.SignalHistory(ctx, "sig-1")
	require.NoError(t, err)
	require.Len(t, hist.Orders, 1)
	assert.Equal(t, models.OrderFailed, hist.Orders[0].Status)
	assert.Equal(t, models.PositionOpen, hist.Position.Status)
}

func TestHandleStatus_FillWithoutPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.c.HandleStatus(ctx, "nofill.json", status(models.EventFilled, "sig-x", "", models.SideBuy, 0, 1)))
	_, err := f.store.GetOpenPosition(ctx, "sig-x")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	// unknown signal and order ids are still recorded
	err = f.store.InsertExecution(ctx, &models.Execution{Artifact: "nofill.json"})
	assert.ErrorIs(t, err, ledger.ErrDuplicateKey)
}

func TestHandleStatus_DuplicateExecutionID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := status(models.EventFilled, "sig-1", "", models.SideSell, 4250, 1)
	require.NoError(t, f.c.HandleStatus(ctx, "first.json", e))
	assert.ErrorIs(t, f.c.HandleStatus(ctx, "second.json", e), bridge.ErrAlreadyHandled)

	pos, err := f.store.GetOpenPosition(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, 1, pos.Quantity)
	assert.Equal(t, models.SideSell, pos.Side)
}

func TestHandleStatus_ShortRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.c.HandleStatus(ctx, "s1.json", status(models.EventFilled, "sig-s", "", models.SideSell, 4250, 3)))
	require.NoError(t, f.c.HandleStatus(ctx, "s2.json", status(models.EventPartiallyFilled, "sig-s", "", models.SideBuy, 4240, 1)))

	pos, err := f.store.GetOpenPosition(ctx, "sig-s")
	require.NoError(t, err)
	assert.Equal(t, 2, pos.Quantity)
	assert.InDelta(t, 10, *pos.RealizedPnL, 1e-9)

	require.NoError(t, f.c.HandleStatus(ctx, "s3.json", status(models.EventFilled, "sig-s", "", models.SideBuy, 4260, 2)))
	_, err = f.store.GetOpenPosition(ctx, "sig-s")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	stats, err := f.store.StatsSummary(ctx)
	require.NoError(t, err)
	assert.InDelta(t, -10, stats.TotalPnL, 1e-9)
	assert.InDelta(t, 10, testutil.ToFloat64(f.metrics.RealizedLoss), 1e-9)
}

func TestHandleStatus_MarksOpenPositions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := status(models.EventFilled, "sig-a", "", models.SideBuy, 2350, 1)
	a.Instrument = "GC"
	require.NoError(t, f.c.HandleStatus(ctx, "a.json", a))
	b := status(models.EventFilled, "sig-b", "", models.SideBuy, 2362, 1)
	b.Instrument = "GC"
	require.NoError(t, f.c.HandleStatus(ctx, "b.json", b))

	pos, err := f.store.GetOpenPosition(ctx, "sig-a")
	require.NoError(t, err)
	assert.Equal(t, "GC", pos.Symbol)
	require.NotNil(t, pos.CurrentPrice)
	assert.Equal(t, 2362.0, *pos.CurrentPrice)
	assert.InDelta(t, 12, pos.UnrealizedPnL, 1e-9)
}

// failingApply wraps a store whose ApplyExecution always fails.
type failingApply struct {
	*memory.Store
	err   error
	calls int
}

func (s *failingApply) ApplyExecution(context.Context, *models.Execution, ledger.PositionPlanner) (models.PositionChange, error) {
	s.calls++
	return models.PositionChange{}, s.err
}

func TestHandleStatus_LedgerFailureIsRetried(t *testing.T) {
	f := newFixture(t)
	store := &failingApply{Store: f.store, err: errors.New("connection reset")}
	f.c.store = store

	err := f.c.HandleStatus(context.Background(), "a.json", status(models.EventFilled, "sig-1", "", models.SideBuy, 2350, 1))
	require.Error(t, err)
	assert.Equal(t, 1, store.calls)
	assert.Equal(t, 1, f.ledgerErrs)

	store.err = ledger.ErrConflict
	err = f.c.HandleStatus(context.Background(), "a.json", status(models.EventFilled, "sig-1", "", models.SideBuy, 2350, 1))
	assert.ErrorIs(t, err, ledger.ErrConflict)
	assert.Equal(t, 1+maxApplyAttempts, store.calls)
}

func TestClosePosition_NoPosition(t *testing.T) {
	f := newFixture(t)
	_, err := f.c.ClosePosition(context.Background(), "sig-1")
	assert.ErrorIs(t, err, ErrNoPosition)
	assert.Empty(t, f.artifacts(t))
}

func TestModifyStops(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.c.IngestSignal(ctx, goldSignal("sig-1", "manual")))

	order, err := f.c.ModifyStops(ctx, "sig-1", models.Float(2345), nil)
	require.NoError(t, err)
	assert.Equal(t, models.CommandModify, order.CommandType)
	assert.Equal(t, 2345.0, *order.StopLoss)
	assert.Nil(t, order.TakeProfit)

	cmds := f.artifacts(t)
	require.Len(t, cmds, 1)
	assert.Equal(t, "GC", cmds[0].Symbol)
	assert.Equal(t, "manual", cmds[0].Channel)
	assert.Contains(t, f.signal(t, "sig-1").Notes, "modify order "+order.OrderID+" sent")

	_, err = f.c.ModifyStops(ctx, "sig-1", nil, nil)
	assert.ErrorIs(t, err, bridge.ErrValidation)
}

func TestExpireStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := goldSignal("old", "manual")
	old.Timestamp = f.now.Add(-2 * time.Hour)
	require.NoError(t, f.c.IngestSignal(ctx, old))
	require.NoError(t, f.c.IngestSignal(ctx, goldSignal("fresh", "manual")))

	n, err := f.c.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.SignalExpired, f.signal(t, "old").Status)
	assert.Equal(t, "expired after 1h0m0s", f.signal(t, "old").Notes)
	assert.Equal(t, models.SignalPending, f.signal(t, "fresh").Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SignalStatus.WithLabelValues("expired")))
}

func TestOnFeedMessage(t *testing.T) {
	parser := ParserFunc(func(msg FeedMessage) (*models.Signal, bool, error) {
		switch msg.Text {
		case "noise":
			return nil, false, nil
		case "garbage":
			return nil, false, errors.New("cannot parse")
		}
		return &models.Signal{Symbol: "GC", Side: models.SideSell, StopLoss: models.Float(2360)}, true, nil
	})
	f := newFixture(t, WithParser("gold", parser))
	f.channels["feed"] = models.ChannelConfig{Name: "feed", Enabled: true, AutoParse: true, ParserType: "gold"}
	f.channels["feed-unknown"] = models.ChannelConfig{Name: "feed-unknown", Enabled: true, AutoParse: true, ParserType: "nope"}
	ctx := context.Background()

	msg := FeedMessage{Channel: "feed", MessageID: "m1", Sender: "desk", Text: "SELL GC SL 2360", Timestamp: f.now.Add(-time.Minute)}
	sig, err := f.c.OnFeedMessage(ctx, msg)
	require.NoError(t, err)
	require.NotNil(t, sig)

	got := f.signal(t, sig.SignalID)
	assert.Equal(t, "feed", got.Channel)
	assert.Equal(t, "SELL GC SL 2360", got.RawText)
	assert.Equal(t, "desk", got.Trader)
	assert.Equal(t, msg.Timestamp, got.Timestamp)
	assert.Equal(t, models.SignalPending, got.Status)

	for _, m := range []FeedMessage{
		{Channel: "feed", Text: "noise"},
		{Channel: "feed", Text: "garbage"},
		{Channel: "feed-unknown", Text: "SELL GC"},
		{Channel: "manual", Text: "SELL GC"},
		{Channel: "nowhere", Text: "SELL GC"},
	} {
		sig, err := f.c.OnFeedMessage(ctx, m)
		assert.NoError(t, err)
		assert.Nil(t, sig, m.Text)
	}
	recent, err := f.store.RecentSignals(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}
