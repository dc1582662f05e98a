package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal_bridge/internal/models"
)

func openLong(qty int, entry float64) *models.Position {
	return &models.Position{
		PositionID: "pos-1",
		SignalID:   "sig-1",
		Symbol:     "GC",
		Side:       models.SideBuy,
		EntryPrice: entry,
		Quantity:   qty,
		Status:     models.PositionOpen,
	}
}

func filled(side models.Side, price float64, qty int) fill {
	return fill{
		evt:        models.EventFilled,
		signalID:   "sig-1",
		symbol:     "GC",
		side:       side,
		price:      models.Float(price),
		qty:        qty,
		positionID: "pos-new",
	}
}

func TestPlanPosition_Opens(t *testing.T) {
	f := filled(models.SideSell, 2350, 2)
	f.stopLoss = models.Float(2360)

	change := planPosition(nil, f)
	require.Equal(t, models.PositionOpenNew, change.Action)
	p := change.Position
	assert.Equal(t, "pos-new", p.PositionID)
	assert.Equal(t, "sig-1", p.SignalID)
	assert.Equal(t, models.SideSell, p.Side)
	assert.Equal(t, 2350.0, p.EntryPrice)
	assert.Equal(t, 2, p.Quantity)
	assert.Equal(t, 2360.0, *p.StopLoss)
	assert.Equal(t, models.PositionOpen, p.Status)
}

func TestPlanPosition_OpenDefaults(t *testing.T) {
	change := planPosition(nil, filled(models.SideNone, 2350, 0))
	require.Equal(t, models.PositionOpenNew, change.Action)
	assert.Equal(t, models.SideBuy, change.Position.Side)
	assert.Equal(t, 1, change.Position.Quantity)
}

func TestPlanPosition_Keeps(t *testing.T) {
	cases := map[string]struct {
		open *models.Position
		f    fill
	}{
		"accepted":                {nil, fill{evt: models.EventAccepted, price: models.Float(1), qty: 1}},
		"rejected":                {openLong(1, 2350), fill{evt: models.EventRejected}},
		"fill without price":      {nil, fill{evt: models.EventFilled, qty: 1}},
		"zero price":              {nil, fill{evt: models.EventFilled, price: models.Float(0), qty: 1}},
		"close with nothing open": {nil, fill{evt: models.EventFilled, price: models.Float(2350), qty: 1, closing: true}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, models.PositionKeep, planPosition(tc.open, tc.f).Action)
		})
	}
}

func TestPlanPosition_ScalesIn(t *testing.T) {
	change := planPosition(openLong(1, 2350), filled(models.SideBuy, 2360, 1))
	require.Equal(t, models.PositionScaleIn, change.Action)
	assert.Equal(t, 2, change.Position.Quantity)
	assert.InDelta(t, 2355, change.Position.EntryPrice, 1e-9)
	assert.InDelta(t, 10, change.Position.UnrealizedPnL, 1e-9)
}

func TestPlanPosition_ClosesLong(t *testing.T) {
	change := planPosition(openLong(2, 2355), filled(models.SideSell, 2365, 2))
	require.Equal(t, models.PositionCloseOut, change.Action)
	assert.InDelta(t, 20, change.Realized, 1e-9)
	assert.InDelta(t, 20, *change.Position.RealizedPnL, 1e-9)
	assert.Equal(t, 2, change.Position.Quantity)
}

func TestPlanPosition_ClosesShort(t *testing.T) {
	open := openLong(3, 4250)
	open.Side = models.SideSell

	change := planPosition(open, filled(models.SideBuy, 4240.5, 3))
	require.Equal(t, models.PositionCloseOut, change.Action)
	assert.InDelta(t, 28.5, change.Realized, 1e-9)
}

func TestPlanPosition_CloseOrderWithoutSide(t *testing.T) {
	f := filled(models.SideNone, 2340, 0)
	f.closing = true

	change := planPosition(openLong(2, 2350), f)
	require.Equal(t, models.PositionCloseOut, change.Action)
	assert.InDelta(t, -20, change.Realized, 1e-9)
}

func TestPlanPosition_PartialCloseAccumulates(t *testing.T) {
	open := openLong(3, 2350)

	change := planPosition(open, filled(models.SideSell, 2360, 1))
	require.Equal(t, models.PositionReduce, change.Action)
	assert.Equal(t, 2, change.Position.Quantity)
	assert.InDelta(t, 10, change.Realized, 1e-9)
	assert.InDelta(t, 20, change.Position.UnrealizedPnL, 1e-9)

	change = planPosition(change.Position, filled(models.SideSell, 2370, 5))
	require.Equal(t, models.PositionCloseOut, change.Action)
	assert.InDelta(t, 40, change.Realized, 1e-9, "over-fill closes only what is open")
	assert.InDelta(t, 50, *change.Position.RealizedPnL, 1e-9)
}

func TestResolveSide(t *testing.T) {
	evt := &models.StatusEvent{}
	order := &models.Order{Side: models.SideSell}
	sig := &models.Signal{Side: models.SideBuy}

	assert.Equal(t, models.SideSell, resolveSide(evt, order, sig))
	assert.Equal(t, models.SideBuy, resolveSide(evt, nil, sig))
	assert.Equal(t, models.SideNone, resolveSide(evt, nil, nil))

	evt.Side = models.SideBuy
	assert.Equal(t, models.SideBuy, resolveSide(evt, order, sig))
}
