package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal_bridge/internal/modules/ledger/service/memory"
)

func TestState_PollStale(t *testing.T) {
	s := NewState()
	now := time.Unix(1_700_000_000, 0)

	assert.True(t, s.PollStale(now, time.Minute), "never polled")

	s.TouchPoll(now.Add(-10 * time.Second))
	assert.False(t, s.PollStale(now, time.Minute))
	assert.True(t, s.PollStale(now, 5*time.Second))
	assert.Equal(t, now.Add(-10*time.Second).Unix(), s.LastPoll().Unix())
}

type failingPing struct{ *memory.Store }

func (failingPing) Ping(context.Context) error { return errors.New("connection refused") }

func TestReporter_ReportOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	state := NewState()
	now := time.Unix(1_700_000_000, 0)

	r := NewReporter(store, state, time.Minute, 500*time.Millisecond)
	r.now = func() time.Time { return now }

	state.SetConsumerRunning(true)
	state.TouchPoll(now.Add(-time.Second))
	r.ReportOnce(ctx)

	rows := store.Health()
	require.Len(t, rows, 2)
	assert.Equal(t, "ledger", rows[0].Component)
	assert.Equal(t, "ok", rows[0].Status)
	require.NotNil(t, rows[0].LatencyMs)
	assert.Equal(t, "consumer", rows[1].Component)
	assert.Equal(t, "ok", rows[1].Status)

	// ledger down, consumer silent for a minute
	r.store = failingPing{store}
	now = now.Add(time.Minute)
	r.ReportOnce(ctx)

	rows = store.Health()
	require.Len(t, rows, 4)
	assert.Equal(t, "error", rows[2].Status)
	assert.Equal(t, 1, rows[2].ErrorCount)
	assert.Contains(t, rows[2].Message, "connection refused")
	assert.Equal(t, "degraded", rows[3].Status)

	state.SetConsumerRunning(false)
	r.ReportOnce(ctx)
	rows = store.Health()
	assert.Equal(t, "stopped", rows[5].Status)
}
