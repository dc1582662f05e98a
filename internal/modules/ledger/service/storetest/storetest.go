// Package storetest holds the behaviour every ledger Store must share. Each
// implementation runs Run from its own tests.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal_bridge/internal/models"
	"signal_bridge/internal/modules/ledger/service"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) service.Store

func Run(t *testing.T, newStore Factory) {
	t.Run("Signals", func(t *testing.T) { testSignals(t, newStore(t)) })
	t.Run("ExpirePending", func(t *testing.T) { testExpirePending(t, newStore(t)) })
	t.Run("Orders", func(t *testing.T) { testOrders(t, newStore(t)) })
	t.Run("ExecutionKeys", func(t *testing.T) { testExecutionKeys(t, newStore(t)) })
	t.Run("ApplyExecutionLifecycle", func(t *testing.T) { testApplyLifecycle(t, newStore(t)) })
	t.Run("ApplyExecutionDuplicate", func(t *testing.T) { testApplyDuplicate(t, newStore(t)) })
	t.Run("ApplyExecutionWithoutSignal", func(t *testing.T) { testApplyWithoutSignal(t, newStore(t)) })
	t.Run("Positions", func(t *testing.T) { testPositions(t, newStore(t)) })
	t.Run("Reports", func(t *testing.T) { testReports(t, newStore(t)) })
	t.Run("Monitoring", func(t *testing.T) { testMonitoring(t, newStore(t)) })
}

func newSignal(id string) *models.Signal {
	return &models.Signal{
		SignalID:   id,
		Channel:    "gold-room",
		RawText:    "BUY GC 2350 SL 2340 TP 2370",
		Symbol:     "GC",
		Side:       models.SideBuy,
		EntryPrice: models.Float(2350),
		StopLoss:   models.Float(2340),
		TakeProfit: models.Float(2370),
		Trader:     "desk",
		Status:     models.SignalPending,
	}
}

func fill(signalID, artifact string, side models.Side, price float64, qty int) *models.Execution {
	return &models.Execution{
		ExecutionID:    uuid.NewString(),
		OrderID:        "ord-" + signalID,
		SignalID:       signalID,
		EventType:      models.EventFilled,
		Symbol:         "GC",
		Side:           side,
		FillPrice:      models.Float(price),
		QuantityFilled: qty,
		Status:         "FILLED",
		RawData:        []byte(fmt.Sprintf(`{"evt":"FILLED","signal":%q}`, signalID)),
		Artifact:       artifact,
	}
}

func testSignals(t *testing.T, s service.Store) {
	ctx := context.Background()

	sig := newSignal("sig-1")
	require.NoError(t, s.InsertSignal(ctx, sig))
	assert.NotZero(t, sig.ID)
	assert.False(t, sig.Timestamp.IsZero())

	err := s.InsertSignal(ctx, newSignal("sig-1"))
	assert.ErrorIs(t, err, service.ErrDuplicateKey)

	got, err := s.GetSignal(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, "GC", got.Symbol)
	assert.Equal(t, models.SideBuy, got.Side)
	require.NotNil(t, got.EntryPrice)
	assert.InDelta(t, 2350, *got.EntryPrice, 1e-9)
	assert.Equal(t, models.SignalPending, got.Status)

	require.NoError(t, s.UpdateSignalStatus(ctx, "sig-1", models.SignalActed, "order o-1"))
	require.NoError(t, s.UpdateSignalStatus(ctx, "sig-1", models.SignalActed, "filled 1 @ 2350"))
	got, err = s.GetSignal(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, models.SignalActed, got.Status)
	assert.Equal(t, "order o-1\nfilled 1 @ 2350", got.Notes)

	assert.ErrorIs(t, s.UpdateSignalStatus(ctx, "missing", models.SignalActed, ""), service.ErrNotFound)
	_, err = s.GetSignal(ctx, "missing")
	assert.ErrorIs(t, err, service.ErrNotFound)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 2; i <= 4; i++ {
		sg := newSignal(fmt.Sprintf("sig-%d", i))
		sg.Timestamp = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.InsertSignal(ctx, sg))
	}
	recent, err := s.RecentSignals(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "sig-1", recent[0].SignalID)
	assert.Equal(t, "sig-4", recent[1].SignalID)
}

func testExpirePending(t *testing.T, s service.Store) {
	ctx := context.Background()

	old := newSignal("old")
	old.Timestamp = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, s.InsertSignal(ctx, old))

	oldActed := newSignal("old-acted")
	oldActed.Timestamp = time.Now().UTC().Add(-2 * time.Hour)
	oldActed.Status = models.SignalActed
	require.NoError(t, s.InsertSignal(ctx, oldActed))

	require.NoError(t, s.InsertSignal(ctx, newSignal("fresh")))

	n, err := s.ExpirePendingSignals(ctx, time.Now().UTC().Add(-time.Hour), "expired after 1h0m0s")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetSignal(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, models.SignalExpired, got.Status)
	assert.Equal(t, "expired after 1h0m0s", got.Notes)

	got, err = s.GetSignal(ctx, "old-acted")
	require.NoError(t, err)
	assert.Equal(t, models.SignalActed, got.Status)

	got, err = s.GetSignal(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, models.SignalPending, got.Status)
}

func testOrders(t *testing.T, s service.Store) {
	ctx := context.Background()

	o := &models.Order{
		OrderID:     "o-1",
		SignalID:    "sig-1",
		CommandType: models.CommandOpen,
		Symbol:      "GC",
		Side:        models.SideBuy,
		OrderType:   models.OrderLimit,
		Quantity:    2,
		Price:       models.Float(2350.5),
		Account:     "sim",
	}
	require.NoError(t, s.InsertOrder(ctx, o))
	assert.Equal(t, models.OrderSent, o.Status)
	assert.ErrorIs(t, s.InsertOrder(ctx, &models.Order{OrderID: "o-1", CommandType: models.CommandClose}), service.ErrDuplicateKey)

	// close commands may carry no signal
	require.NoError(t, s.InsertOrder(ctx, &models.Order{OrderID: "o-2", CommandType: models.CommandClose, Symbol: "GC"}))

	require.NoError(t, s.UpdateOrderStatus(ctx, "o-1", models.OrderAcknowledged))
	got, err := s.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderAcknowledged, got.Status)
	assert.Equal(t, 2, got.Quantity)
	require.NotNil(t, got.Price)
	assert.InDelta(t, 2350.5, *got.Price, 1e-9)
	assert.Nil(t, got.StopLoss)

	got, err = s.GetOrder(ctx, "o-2")
	require.NoError(t, err)
	assert.Empty(t, got.SignalID)

	assert.ErrorIs(t, s.UpdateOrderStatus(ctx, "nope", models.OrderFailed), service.ErrNotFound)
}

func testExecutionKeys(t *testing.T, s service.Store) {
	ctx := context.Background()

	e := fill("sig-1", "CMD_a.json", models.SideBuy, 2350, 1)
	require.NoError(t, s.InsertExecution(ctx, e))
	assert.NotZero(t, e.ID)

	again := fill("sig-1", "CMD_a.json", models.SideBuy, 2350, 1)
	assert.ErrorIs(t, s.InsertExecution(ctx, again), service.ErrDuplicateKey)

	sameExec := fill("sig-1", "CMD_b.json", models.SideBuy, 2350, 1)
	sameExec.ExecutionID = e.ExecutionID
	assert.ErrorIs(t, s.InsertExecution(ctx, sameExec), service.ErrDuplicateKey)

	// empty execution ids never collide
	for _, name := range []string{"CMD_c.json", "CMD_d.json"} {
		x := fill("sig-1", name, models.SideBuy, 2350, 1)
		x.ExecutionID = ""
		require.NoError(t, s.InsertExecution(ctx, x))
	}
}

func openPlan(positionID string) service.PositionPlanner {
	return func(open *models.Position) models.PositionChange {
		if open != nil {
			return models.PositionChange{Action: models.PositionKeep}
		}
		return models.PositionChange{
			Action: models.PositionOpenNew,
			Position: &models.Position{
				PositionID: positionID,
				SignalID:   "sig-1",
				Symbol:     "GC",
				Side:       models.SideBuy,
				EntryPrice: 2350,
				Quantity:   1,
				StopLoss:   models.Float(2340),
				Status:     models.PositionOpen,
			},
		}
	}
}

func testApplyLifecycle(t *testing.T, s service.Store) {
	ctx := context.Background()

	change, err := s.ApplyExecution(ctx, fill("sig-1", "CMD_1.json", models.SideBuy, 2350, 1), openPlan("pos-1"))
	require.NoError(t, err)
	assert.Equal(t, models.PositionOpenNew, change.Action)
	require.NotNil(t, change.Position)
	assert.NotZero(t, change.Position.ID)

	var seen *models.Position
	change, err = s.ApplyExecution(ctx, fill("sig-1", "CMD_2.json", models.SideBuy, 2360, 1),
		func(open *models.Position) models.PositionChange {
			seen = open
			open.EntryPrice = models.AverageEntry(open.EntryPrice, open.Quantity, 2360, 1)
			open.Quantity += 1
			return models.PositionChange{Action: models.PositionScaleIn, Position: open}
		})
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, "pos-1", seen.PositionID)
	assert.Equal(t, 2, change.Position.Quantity)

	open, err := s.GetOpenPosition(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, 2, open.Quantity)
	assert.InDelta(t, 2355, open.EntryPrice, 1e-9)
	require.NotNil(t, open.StopLoss)

	change, err = s.ApplyExecution(ctx, fill("sig-1", "CMD_3.json", models.SideSell, 2365, 2),
		func(open *models.Position) models.PositionChange {
			pnl := models.RealizedPnL(open.Side, open.EntryPrice, 2365, open.Quantity)
			open.RealizedPnL = models.Float(pnl)
			open.CurrentPrice = models.Float(2365)
			return models.PositionChange{Action: models.PositionCloseOut, Position: open, Realized: pnl}
		})
	require.NoError(t, err)
	assert.Equal(t, models.PositionCloseOut, change.Action)
	assert.InDelta(t, 20, change.Realized, 1e-9)
	assert.Equal(t, models.PositionClosed, change.Position.Status)
	require.NotNil(t, change.Position.ClosedAt)

	_, err = s.GetOpenPosition(ctx, "sig-1")
	assert.ErrorIs(t, err, service.ErrNotFound)

	// a new fill after the close opens a fresh position for the same signal
	change, err = s.ApplyExecution(ctx, fill("sig-1", "CMD_4.json", models.SideBuy, 2370, 1), openPlan("pos-2"))
	require.NoError(t, err)
	assert.Equal(t, models.PositionOpenNew, change.Action)

	hist, err := s.SignalHistory(ctx, "sig-1")
	assert.ErrorIs(t, err, service.ErrNotFound, "no signal row was inserted")
	assert.Nil(t, hist)
}

func testApplyDuplicate(t *testing.T, s service.Store) {
	ctx := context.Background()

	_, err := s.ApplyExecution(ctx, fill("sig-1", "CMD_1.json", models.SideBuy, 2350, 1), openPlan("pos-1"))
	require.NoError(t, err)

	calls := 0
	_, err = s.ApplyExecution(ctx, fill("sig-1", "CMD_1.json", models.SideBuy, 2350, 1),
		func(open *models.Position) models.PositionChange {
			calls++
			open.Quantity += 5
			return models.PositionChange{Action: models.PositionScaleIn, Position: open}
		})
	assert.ErrorIs(t, err, service.ErrDuplicateKey)

	open, err := s.GetOpenPosition(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, 1, open.Quantity, "duplicate artifact must not move the position")
	assert.LessOrEqual(t, calls, 1)
}

func testApplyWithoutSignal(t *testing.T, s service.Store) {
	ctx := context.Background()

	e := fill("", "CMD_orphan.json", models.SideSell, 2350, 1)
	var got *models.Position
	called := false
	change, err := s.ApplyExecution(ctx, e, func(open *models.Position) models.PositionChange {
		called = true
		got = open
		return models.PositionChange{Action: models.PositionKeep}
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Nil(t, got)
	assert.Equal(t, models.PositionKeep, change.Action)
	assert.NotZero(t, e.ID)
}

func testPositions(t *testing.T, s service.Store) {
	ctx := context.Background()

	p := &models.Position{
		PositionID: "pos-1",
		SignalID:   "sig-1",
		Symbol:     "GC",
		Side:       models.SideSell,
		EntryPrice: 2350,
		Quantity:   2,
	}
	require.NoError(t, s.OpenPosition(ctx, p))
	assert.Equal(t, models.PositionOpen, p.Status)

	dup := *p
	dup.PositionID = "pos-2"
	assert.ErrorIs(t, s.OpenPosition(ctx, &dup), service.ErrDuplicateKey, "one open position per signal")

	require.NoError(t, s.OpenPosition(ctx, &models.Position{
		PositionID: "pos-3", SignalID: "sig-3", Symbol: "NQ", Side: models.SideBuy, EntryPrice: 18000, Quantity: 1,
	}))

	n, err := s.MarkPositions(ctx, "GC", 2340)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	active, err := s.ActivePositions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	for _, a := range active {
		if a.PositionID == "pos-1" {
			require.NotNil(t, a.CurrentPrice)
			assert.InDelta(t, 2340, *a.CurrentPrice, 1e-9)
			assert.InDelta(t, 20, a.UnrealizedPnL, 1e-9)
		}
	}

	require.NoError(t, s.ClosePosition(ctx, "pos-1", 2340, 20))
	assert.ErrorIs(t, s.ClosePosition(ctx, "pos-1", 2340, 20), service.ErrNotFound)
	assert.ErrorIs(t, s.ClosePosition(ctx, "missing", 1, 0), service.ErrNotFound)

	active, err = s.ActivePositions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "pos-3", active[0].PositionID)
}

func testReports(t *testing.T, s service.Store) {
	ctx := context.Background()

	results := []float64{30, -10, 5}
	for i, pnl := range results {
		id := fmt.Sprintf("sig-%d", i)
		require.NoError(t, s.InsertSignal(ctx, newSignal(id)))
		require.NoError(t, s.InsertOrder(ctx, &models.Order{OrderID: "o-" + id, SignalID: id, CommandType: models.CommandOpen, Symbol: "GC", Side: models.SideBuy, OrderType: models.OrderMarket, Quantity: 1}))
		require.NoError(t, s.InsertExecution(ctx, fill(id, "CMD_"+id+".json", models.SideBuy, 2350, 1)))
		posID := "pos-" + id
		require.NoError(t, s.OpenPosition(ctx, &models.Position{PositionID: posID, SignalID: id, Symbol: "GC", Side: models.SideBuy, EntryPrice: 2350, Quantity: 1}))
		require.NoError(t, s.ClosePosition(ctx, posID, 2350+pnl, pnl))
	}
	require.NoError(t, s.OpenPosition(ctx, &models.Position{PositionID: "pos-open", SignalID: "sig-open", Symbol: "GC", Side: models.SideBuy, EntryPrice: 2350, Quantity: 1}))

	stats, err := s.StatsSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalTrades)
	assert.Equal(t, 2, stats.WinningTrades)
	assert.Equal(t, 1, stats.LosingTrades)
	assert.InDelta(t, 66.666, stats.WinRate, 0.01)
	assert.InDelta(t, 25, stats.TotalPnL, 1e-9)
	assert.Equal(t, 1, stats.ActivePositions)

	daily, err := s.DailyPnL(ctx, 7)
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, time.Now().UTC().Format("2006-01-02"), daily[0].Date)
	assert.Equal(t, 3, daily[0].Trades)
	assert.Equal(t, 2, daily[0].Wins)
	assert.InDelta(t, 25, daily[0].TotalPnL, 1e-9)
	assert.InDelta(t, 25.0/3, daily[0].AvgPnL, 1e-9)

	_, err = s.DailyPnL(ctx, 0)
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	hist, err := s.SignalHistory(ctx, "sig-0")
	require.NoError(t, err)
	assert.Equal(t, "sig-0", hist.Signal.SignalID)
	require.Len(t, hist.Orders, 1)
	require.Len(t, hist.Executions, 1)
	assert.JSONEq(t, `{"evt":"FILLED","signal":"sig-0"}`, string(hist.Executions[0].RawData))
	require.NotNil(t, hist.Position)
	assert.Equal(t, models.PositionClosed, hist.Position.Status)
}

func testMonitoring(t *testing.T, s service.Store) {
	ctx := context.Background()

	require.NoError(t, s.LogMetric(ctx, &models.Metric{Type: "bridge", Name: "artifacts_processed", Value: 3}))
	assert.ErrorIs(t, s.LogMetric(ctx, &models.Metric{Type: "bridge"}), service.ErrInvalidInput)

	lat := int64(12)
	require.NoError(t, s.LogHealth(ctx, &models.HealthRecord{Component: "consumer", Status: "ok", LatencyMs: &lat}))
	assert.ErrorIs(t, s.LogHealth(ctx, &models.HealthRecord{Status: "ok"}), service.ErrInvalidInput)

	require.NoError(t, s.Ping(ctx))
}
