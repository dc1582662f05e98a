package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"signal_bridge/internal/models"
	"signal_bridge/pkg/logger"
)

const (
	verbConfirm = "CONF"
	verbReject  = "REJ"
)

// botClient is the part of *tgbot.BotAPI the notifier uses.
type botClient interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
	Request(c tgbot.Chattable) (*tgbot.APIResponse, error)
	GetUpdatesChan(config tgbot.UpdateConfig) tgbot.UpdatesChannel
	StopReceivingUpdates()
}

// Ledger answers the read-only chat commands.
type Ledger interface {
	ActivePositions(ctx context.Context) ([]*models.Position, error)
	StatsSummary(ctx context.Context) (models.StatsSummary, error)
}

type pending struct {
	ch     chan bool
	msgID  int
	prompt string
}

// Telegram sends alerts to one chat, asks for confirmations with inline
// buttons and answers /positions and /stats from the ledger.
type Telegram struct {
	bot    botClient
	chatID int64
	ledger Ledger

	mu       sync.Mutex
	pendings map[string]*pending
}

func NewTelegram(token string, chatID int64, ledger Ledger) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return newTelegram(b, chatID, ledger), nil
}

func newTelegram(bot botClient, chatID int64, ledger Ledger) *Telegram {
	return &Telegram{
		bot:      bot,
		chatID:   chatID,
		ledger:   ledger,
		pendings: make(map[string]*pending),
	}
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		logger.L().Warn("telegram send failed", zap.Error(err))
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// Confirm posts prompt with accept/skip buttons and waits for the answer.
func (t *Telegram) Confirm(ctx context.Context, prompt string, timeout time.Duration) Decision {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return Accepted
	}

	token := uuid.NewString()
	p := &pending{
		ch:     make(chan bool, 1),
		prompt: prompt,
	}

	t.mu.Lock()
	t.pendings[token] = p
	t.mu.Unlock()

	btnYes := tgbot.NewInlineKeyboardButtonData("✅ Trade", verbConfirm+"::"+token)
	btnNo := tgbot.NewInlineKeyboardButtonData("❌ Skip", verbReject+"::"+token)
	msg := tgbot.NewMessage(t.chatID, prompt)
	msg.ReplyMarkup = tgbot.NewInlineKeyboardMarkup(tgbot.NewInlineKeyboardRow(btnYes, btnNo))

	sent, err := t.bot.Send(msg)
	if err != nil {
		logger.L().Warn("telegram confirm prompt not delivered", zap.Error(err))
	}
	t.mu.Lock()
	p.msgID = sent.MessageID
	t.mu.Unlock()

	tmr := time.NewTimer(timeout)
	defer tmr.Stop()

	select {
	case ok := <-p.ch:
		if ok {
			return Accepted
		}
		return Declined
	case <-tmr.C:
		t.closePrompt(token, p, "⏳ Timed out")
		return TimedOut
	case <-ctx.Done():
		t.closePrompt(token, p, "⛔️ Cancelled")
		return TimedOut
	}
}

func (t *Telegram) closePrompt(token string, p *pending, status string) {
	t.mu.Lock()
	delete(t.pendings, token)
	msgID := p.msgID
	t.mu.Unlock()

	_ = t.editReplyMarkupRemove(msgID)
	_ = t.editText(msgID, fmt.Sprintf("%s\n\n%s", p.prompt, status))
}

// HandleCallback resolves a pending prompt from a CONF::token / REJ::token
// button press.
func (t *Telegram) HandleCallback(cb *tgbot.CallbackQuery) {
	if t == nil || t.bot == nil || cb == nil {
		return
	}
	// stops the client spinner
	_, _ = t.bot.Request(tgbot.NewCallback(cb.ID, ""))

	verb, token, ok := strings.Cut(cb.Data, "::")
	if !ok || token == "" || (verb != verbConfirm && verb != verbReject) {
		return
	}

	t.mu.Lock()
	p, found := t.pendings[token]
	delete(t.pendings, token)
	t.mu.Unlock()
	if !found {
		return
	}

	accepted := verb == verbConfirm
	p.ch <- accepted

	status := "❌ Skipped"
	if accepted {
		status = "✅ Confirmed"
	}
	t.mu.Lock()
	msgID := p.msgID
	t.mu.Unlock()
	_ = t.editReplyMarkupRemove(msgID)
	_ = t.editText(msgID, fmt.Sprintf("%s\n\n%s", p.prompt, status))
}

func (t *Telegram) editReplyMarkupRemove(msgID int) error {
	rm := tgbot.InlineKeyboardMarkup{InlineKeyboard: [][]tgbot.InlineKeyboardButton{}}
	_, err := t.bot.Request(tgbot.NewEditMessageReplyMarkup(t.chatID, msgID, rm))
	return err
}

func (t *Telegram) editText(msgID int, text string) error {
	_, err := t.bot.Request(tgbot.NewEditMessageText(t.chatID, msgID, text))
	return err
}

func (t *Telegram) handleCommand(ctx context.Context, cmd string) {
	if t.ledger == nil {
		return
	}
	switch cmd {
	case "positions":
		positions, err := t.ledger.ActivePositions(ctx)
		if err != nil {
			t.Sendf("❗️ Positions unavailable: %v", err)
			return
		}
		t.Send(formatPositions(positions))
	case "stats":
		stats, err := t.ledger.StatsSummary(ctx)
		if err != nil {
			t.Sendf("❗️ Stats unavailable: %v", err)
			return
		}
		t.Send(formatStats(stats))
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, upd tgbot.Update) {
	if upd.CallbackQuery != nil {
		t.HandleCallback(upd.CallbackQuery)
	}
	if upd.Message != nil && upd.Message.Chat != nil &&
		upd.Message.Chat.ID == t.chatID && upd.Message.IsCommand() {
		go t.handleCommand(ctx, upd.Message.Command())
	}
}

// Start long-polls messages and callback queries until ctx is done.
func (t *Telegram) Start(ctx context.Context) {
	if t == nil || t.bot == nil {
		return
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message", "callback_query"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				t.handleUpdate(ctx, upd)
			}
		}
	}()
}

func (t *Telegram) Stop() {
	if t != nil && t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
}
