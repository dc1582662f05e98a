package service

import (
	"sync/atomic"
	"time"
)

type State struct {
	ready     atomic.Bool
	startedAt time.Time

	consumerRunning atomic.Bool
	lastPollUnix    atomic.Int64 // unix seconds
	ledgerErrors    atomic.Int64
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetConsumerRunning(v bool) { s.consumerRunning.Store(v) }
func (s *State) ConsumerRunning() bool     { return s.consumerRunning.Load() }

func (s *State) TouchPoll(t time.Time) { s.lastPollUnix.Store(t.Unix()) }
func (s *State) LastPoll() time.Time {
	u := s.lastPollUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

// PollStale reports whether the consumer has not completed a cycle within max.
func (s *State) PollStale(now time.Time, max time.Duration) bool {
	last := s.LastPoll()
	return last.IsZero() || now.Sub(last) > max
}

func (s *State) AddLedgerError()    { s.ledgerErrors.Add(1) }
func (s *State) LedgerErrors() int64 { return s.ledgerErrors.Load() }

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }
