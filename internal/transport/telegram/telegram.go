// Package telegram adapts the Telegram Bot API (via telebot) to the
// transport.Provider interface.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/aydinguven/message-relay/internal/transport"
	logx "github.com/aydinguven/message-relay/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	out atomic.Value // stores (chan<- transport.Update)

	runMu   sync.Mutex
	running bool

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the poll loop; reported on Stop() to avoid per-update log spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{log: log, bot: b}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel; Start() may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		name := m.Sender.Username
		if name == "" {
			name = strings.TrimSpace(m.Sender.FirstName + " " + m.Sender.LastName)
		}
		a.deliver(transport.Update{
			ChatID:   m.Chat.ID,
			FromName: name,
			Text:     m.Text,
		})
		return nil
	})
}

func (a *Adapter) deliver(up transport.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.runMu.Unlock()

	go func() {
		<-ctx.Done()
		a.bot.Stop()
	}()

	go func() {
		a.log.Info("telegram polling started")
		a.bot.Start() // blocks until Stop()
		a.log.Info("telegram polling stopped")
	}()
	return nil
}

func (a *Adapter) Stop(_ context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Int64("count", int64(n)))
	}
	// telebot Stop is expected to be fast; run it async just in case.
	go a.bot.Stop()
	return nil
}

// SendText delivers one message. telebot has no context support, so the call
// runs in its own goroutine and ctx cancellation abandons it.
func (a *Adapter) SendText(ctx context.Context, chatID int64, text string) error {
	done := make(chan error, 1)
	go func() {
		_, err := a.bot.Send(tele.ChatID(chatID), text, &tele.SendOptions{
			ParseMode:             tele.ModeMarkdown,
			DisableWebPagePreview: true,
		})
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// RegisterWebhook points Telegram's webhook at the given URL.
func (a *Adapter) RegisterWebhook(ctx context.Context, url string) error {
	if strings.TrimSpace(url) == "" {
		return errors.New("webhook url is empty")
	}
	done := make(chan error, 1)
	go func() {
		_, err := a.bot.Raw("setWebhook", map[string]string{"url": url})
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
