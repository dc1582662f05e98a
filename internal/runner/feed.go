package runner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"signal_bridge/internal/models"
	"signal_bridge/pkg/logger"
)

// FeedMessage is one message delivered by the feed ingestor.
type FeedMessage struct {
	Channel   string
	MessageID string
	Sender    string
	Text      string
	Timestamp time.Time
}

// SignalParser turns feed text into a signal. ok is false when the message
// carries no trade idea.
type SignalParser interface {
	Parse(msg FeedMessage) (sig *models.Signal, ok bool, err error)
}

type ParserFunc func(msg FeedMessage) (*models.Signal, bool, error)

func (f ParserFunc) Parse(msg FeedMessage) (*models.Signal, bool, error) { return f(msg) }

// OnFeedMessage parses msg with the channel's parser and ingests the result.
// Messages from unknown, disabled or manual-parse channels are ignored.
func (c *Coordinator) OnFeedMessage(ctx context.Context, msg FeedMessage) (*models.Signal, error) {
	log := logger.L().With(zap.String("channel", msg.Channel), zap.String("message", msg.MessageID))

	ch, ok := c.channels.Get(msg.Channel)
	if !ok || !ch.Enabled || !ch.AutoParse {
		log.Debug("feed message ignored: channel not auto-parsed")
		return nil, nil
	}
	parser, ok := c.parsers[ch.ParserType]
	if !ok {
		log.Warn("no parser registered", zap.String("parser_type", ch.ParserType))
		return nil, nil
	}

	sig, ok, err := parser.Parse(msg)
	if err != nil {
		log.Warn("feed message not parsed", zap.Error(err))
		return nil, nil
	}
	if !ok || sig == nil {
		return nil, nil
	}

	sig.Channel = msg.Channel
	if sig.RawText == "" {
		sig.RawText = msg.Text
	}
	if sig.Trader == "" {
		sig.Trader = msg.Sender
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = msg.Timestamp
	}
	if err := c.IngestSignal(ctx, sig); err != nil {
		return nil, err
	}
	return sig, nil
}
