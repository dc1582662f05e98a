package service

import (
	"context"
	"fmt"
	"time"

	"signal_bridge/internal/models"
	ledger "signal_bridge/internal/modules/ledger/service"
	"signal_bridge/pkg/logger"
)

// Reporter writes periodic system_health rows for the ledger and consumer.
type Reporter struct {
	store    ledger.Store
	state    *State
	interval time.Duration
	// pollGrace is how long the consumer may go without a cycle before it
	// is reported as degraded.
	pollGrace time.Duration
	now       func() time.Time
}

func NewReporter(store ledger.Store, state *State, interval, pollInterval time.Duration) *Reporter {
	grace := 10 * pollInterval
	if grace < 5*time.Second {
		grace = 5 * time.Second
	}
	return &Reporter{store: store, state: state, interval: interval, pollGrace: grace, now: time.Now}
}

func (r *Reporter) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.ReportOnce(ctx)
		}
	}
}

// ReportOnce pings the ledger and records one row per component.
func (r *Reporter) ReportOnce(ctx context.Context) {
	start := r.now()
	pingErr := r.store.Ping(ctx)
	latency := r.now().Sub(start).Milliseconds()

	ledgerRec := &models.HealthRecord{Component: "ledger", Status: "ok", LatencyMs: &latency}
	if pingErr != nil {
		r.state.AddLedgerError()
		ledgerRec.Status = "error"
		ledgerRec.Message = pingErr.Error()
	}
	ledgerRec.ErrorCount = int(r.state.LedgerErrors())

	consumerRec := &models.HealthRecord{Component: "consumer", Status: "ok"}
	switch {
	case !r.state.ConsumerRunning():
		consumerRec.Status = "stopped"
	case r.state.PollStale(r.now(), r.pollGrace):
		consumerRec.Status = "degraded"
		consumerRec.Message = fmt.Sprintf("no poll cycle since %s", r.state.LastPoll().UTC().Format(time.RFC3339))
	}

	for _, rec := range []*models.HealthRecord{ledgerRec, consumerRec} {
		if err := r.store.LogHealth(ctx, rec); err != nil {
			logger.Warn("log health %s: %v", rec.Component, err)
		}
	}
}
