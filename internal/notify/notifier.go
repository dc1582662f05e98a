package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"signal_bridge/pkg/logger"
)

// Decision is the operator's answer to a confirmation prompt.
type Decision int

const (
	Declined Decision = iota
	Accepted
	TimedOut
)

func (d Decision) String() string {
	switch d {
	case Accepted:
		return "accepted"
	case TimedOut:
		return "timed out"
	default:
		return "declined"
	}
}

// Notifier sends operator alerts and asks for confirmation before acting on
// a signal. Send never fails: delivery problems are logged by the notifier.
type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
	Confirm(ctx context.Context, prompt string, timeout time.Duration) Decision
}

// Log writes alerts to the service log and accepts every prompt. It is used
// when no Telegram token is configured.
type Log struct {
	log *zap.Logger
}

func NewLog() *Log { return &Log{log: logger.L().Named("notify")} }

func (l *Log) Send(msg string) { l.log.Info(msg) }

func (l *Log) Sendf(format string, args ...any) { l.Send(fmt.Sprintf(format, args...)) }

func (l *Log) Confirm(_ context.Context, prompt string, _ time.Duration) Decision {
	l.log.Info("confirm (auto-accept)", zap.String("prompt", prompt))
	return Accepted
}
