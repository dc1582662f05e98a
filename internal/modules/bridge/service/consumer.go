package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"signal_bridge/internal/metrics"
	"signal_bridge/internal/models"
	"signal_bridge/pkg/logger"
	"signal_bridge/pkg/tracing"
)

// Handler applies one decoded status event. A returned error leaves the
// artifact in the inbox for the next cycle, so handlers must be idempotent
// per artifact name.
type Handler interface {
	HandleStatus(ctx context.Context, artifact string, evt *models.StatusEvent) error
}

type HandlerFunc func(ctx context.Context, artifact string, evt *models.StatusEvent) error

func (f HandlerFunc) HandleStatus(ctx context.Context, artifact string, evt *models.StatusEvent) error {
	return f(ctx, artifact, evt)
}

// CycleStats counts what one poll cycle did.
type CycleStats struct {
	Listed        int
	Skipped       int
	Processed     int
	Quarantined   int
	Duplicates    int
	HandlerFailed int
	ReadFailed    int
	MoveFailed    int
	ListFailed    bool
}

type ConsumerOption func(*Consumer)

func WithClock(c Clock) ConsumerOption { return func(x *Consumer) { x.clock = c } }

func WithInterval(d time.Duration) ConsumerOption { return func(x *Consumer) { x.interval = d } }

func WithMetrics(m *metrics.Metrics) ConsumerOption { return func(x *Consumer) { x.metrics = m } }

// WithPollHook is called with the end time of every completed cycle.
func WithPollHook(fn func(time.Time)) ConsumerOption { return func(x *Consumer) { x.onPoll = fn } }

// WithQuarantineHook is called for every artifact moved to quarantine.
func WithQuarantineHook(fn func(name string, err error)) ConsumerOption {
	return func(x *Consumer) { x.onQuarantine = fn }
}

// Consumer is the single owner of an inbox. Run it from one goroutine only.
type Consumer struct {
	inbox    Inbox
	handler  Handler
	dedup    Deduper
	clock    Clock
	interval time.Duration
	metrics  *metrics.Metrics
	onPoll   func(time.Time)

	onQuarantine func(name string, err error)
}

func NewConsumer(inbox Inbox, handler Handler, dedup Deduper, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		inbox:    inbox,
		handler:  handler,
		dedup:    dedup,
		clock:    RealClock{},
		interval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run polls until ctx is cancelled. A cycle in progress when ctx is cancelled
// runs to completion before Run returns.
func (c *Consumer) Run(ctx context.Context) {
	if c.dedup.Len() == 0 {
		logger.Warn("consumer starting with empty dedup state: artifacts left in the inbox are re-delivered, the ledger rejects the duplicates")
	}
	logger.Info("status consumer started, interval %s", c.interval)

	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	cycleCtx := context.WithoutCancel(ctx)
	c.PollOnce(cycleCtx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("status consumer stopped")
			return
		case <-ticker.C():
			c.PollOnce(cycleCtx)
		}
	}
}

// PollOnce runs one cycle over the inbox. It never fails: every problem is
// logged and counted.
func (c *Consumer) PollOnce(ctx context.Context) CycleStats {
	start := c.clock.Now()
	var stats CycleStats

	names, err := c.inbox.List(ctx)
	if err != nil {
		logger.L().Error("list inbox", zap.Error(err))
		stats.ListFailed = true
		return stats
	}
	stats.Listed = len(names)

	for _, name := range names {
		if c.dedup.Seen(name) {
			stats.Skipped++
			continue
		}
		outcome := c.process(ctx, name)
		switch outcome {
		case metrics.OutcomeProcessed:
			stats.Processed++
		case metrics.OutcomeDuplicate:
			stats.Duplicates++
		case metrics.OutcomeMoveFailed:
			stats.Processed++
			stats.MoveFailed++
		case metrics.OutcomeQuarantined:
			stats.Quarantined++
		case metrics.OutcomeHandlerFailed:
			stats.HandlerFailed++
		case metrics.OutcomeReadFailed:
			stats.ReadFailed++
		}
		if c.metrics != nil {
			c.metrics.InboundArtifacts.WithLabelValues(outcome).Inc()
		}
	}

	end := c.clock.Now()
	if c.metrics != nil {
		c.metrics.PollCycles.Inc()
		c.metrics.PollDuration.Observe(end.Sub(start).Seconds())
		c.metrics.DedupEntries.Set(float64(c.dedup.Len()))
		c.metrics.LastPollUnix.Set(float64(end.Unix()))
	}
	if c.onPoll != nil {
		c.onPoll(end)
	}
	return stats
}

func (c *Consumer) process(ctx context.Context, name string) string {
	log := logger.L().With(zap.String("artifact", name))

	data, err := c.inbox.Read(ctx, name)
	if err != nil {
		log.Error("read status artifact", zap.Error(err))
		return metrics.OutcomeReadFailed
	}

	evt, err := DecodeStatus(data)
	if err != nil {
		// a corrupt file is never retried
		c.dedup.Mark(name)
		log.Error("quarantining status artifact", zap.Error(err))
		if qErr := c.inbox.Quarantine(ctx, name); qErr != nil {
			log.Error("quarantine move failed", zap.Error(qErr))
		} else if c.onQuarantine != nil {
			c.onQuarantine(name, err)
		}
		return metrics.OutcomeQuarantined
	}

	outcome := metrics.OutcomeProcessed
	err = c.dispatch(ctx, name, evt)
	switch {
	case errors.Is(err, ErrAlreadyHandled):
		log.Info("[STAT] already handled", zap.String("evt", string(evt.Evt)), zap.String("signal", evt.Signal))
		outcome = metrics.OutcomeDuplicate
	case err != nil:
		log.Error("status handler failed, will retry", zap.String("evt", string(evt.Evt)),
			zap.String("signal", evt.Signal), zap.Error(err))
		return metrics.OutcomeHandlerFailed
	default:
		log.Info("[STAT] handled", zap.String("evt", string(evt.Evt)), zap.String("signal", evt.Signal))
	}

	c.dedup.Mark(name)
	if err := c.inbox.Ack(ctx, name); err != nil {
		log.Error("archive move failed, artifact stays in inbox as seen", zap.Error(err))
		return metrics.OutcomeMoveFailed
	}
	return outcome
}

// dispatch calls the handler and turns a panic into a HandlerError.
func (c *Consumer) dispatch(ctx context.Context, name string, evt *models.StatusEvent) (err error) {
	span, ctx := tracing.StartSpan(ctx, "consumer.HandleStatus")
	span.SetTag("artifact", name)
	span.SetTag("evt", string(evt.Evt))
	defer func() {
		if r := recover(); r != nil {
			err = newError(ErrHandler, fmt.Errorf("panic: %v", r), "handler panicked on %s", name)
		}
		tracing.Finish(span, err)
	}()

	if err := c.handler.HandleStatus(ctx, name, evt); err != nil {
		return newError(ErrHandler, err, "handle %s", name)
	}
	return nil
}
