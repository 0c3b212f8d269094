// Package dispatch renders templates and forwards the result to the
// messaging provider, one recipient at a time or fanned out over a batch.
//
// Failure isolation is the point: a render error never reaches the provider,
// and one recipient's provider error never stops the others.
package dispatch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aydinguven/message-relay/internal/audit"
	"github.com/aydinguven/message-relay/internal/template"
	"github.com/aydinguven/message-relay/internal/transport"
	logx "github.com/aydinguven/message-relay/pkg/logx"
)

// Result is the per-recipient outcome of a send.
type Result struct {
	ChatID int64
	OK     bool
	Err    error // render or provider error; nil when OK
}

// Config controls fan-out width, provider pacing, and the per-call timeout.
type Config struct {
	Workers     int           // bounded parallelism for batches; default 4
	RatePerSec  int           // provider pacing; 0 = unlimited
	SendTimeout time.Duration // per provider call; default 30s
}

type Engine struct {
	templates *template.Provider
	provider  transport.Provider
	sink      audit.Sink
	log       logx.Logger

	mu          sync.Mutex
	workers     int
	sendTimeout time.Duration
	limiter     *rate.Limiter
}

func New(tpl *template.Provider, provider transport.Provider, sink audit.Sink, log logx.Logger, cfg Config) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{templates: tpl, provider: provider, sink: sink, log: log}
	e.Apply(cfg)
	return e
}

// Apply swaps the runtime knobs. Safe during hot-reload.
func (e *Engine) Apply(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workers = cfg.Workers
	if e.workers <= 0 {
		e.workers = 4
	}
	e.sendTimeout = cfg.SendTimeout
	if e.sendTimeout <= 0 {
		e.sendTimeout = 30 * time.Second
	}
	if cfg.RatePerSec > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	} else {
		e.limiter = nil
	}
}

func (e *Engine) snapshot() (int, time.Duration, *rate.Limiter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.workers, e.sendTimeout, e.limiter
}

// Send renders the template and delivers it to one recipient.
//
// A render failure short-circuits with a failed Result carrying the render
// error; the provider is not contacted. A provider failure is captured into
// the Result, never propagated as a hard error.
func (e *Engine) Send(ctx context.Context, templateName string, chatID int64, vars map[string]string) Result {
	text, err := e.templates.Store().Render(templateName, withTimestamp(vars))
	if err != nil {
		e.record(ctx, audit.Entry{
			Kind: audit.KindSend, ChatID: chatID, Template: templateName, Error: err.Error(),
		})
		return Result{ChatID: chatID, Err: err}
	}
	return e.deliver(ctx, templateName, chatID, text)
}

// SendBatch renders once (shared variables) and fans the message out to every
// recipient. The returned slice has one entry per input chat ID, in input
// order, regardless of completion order. A render failure is returned as the
// error with no provider calls made.
func (e *Engine) SendBatch(ctx context.Context, templateName string, chatIDs []int64, vars map[string]string) ([]Result, error) {
	text, err := e.templates.Store().Render(templateName, withTimestamp(vars))
	if err != nil {
		e.record(ctx, audit.Entry{
			Kind: audit.KindSend, Template: templateName, Error: err.Error(),
		})
		return nil, err
	}

	workers, _, _ := e.snapshot()
	if workers > len(chatIDs) {
		workers = len(chatIDs)
	}

	// Preallocated result slots indexed by request position keep output order
	// independent of completion order.
	results := make([]Result, len(chatIDs))
	idx := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idx {
				results[i] = e.deliver(ctx, templateName, chatIDs[i], text)
			}
		}()
	}
	for i := range chatIDs {
		idx <- i
	}
	close(idx)
	wg.Wait()

	return results, nil
}

// SendDirect delivers pre-formatted text to one recipient. Used for bot
// command replies, which are built from trusted internal data rather than a
// template. The command name only feeds the audit trail.
func (e *Engine) SendDirect(ctx context.Context, chatID int64, text, command string) error {
	res := e.deliverTagged(ctx, "", command, chatID, text)
	return res.Err
}

func (e *Engine) deliver(ctx context.Context, templateName string, chatID int64, text string) Result {
	return e.deliverTagged(ctx, templateName, "", chatID, text)
}

func (e *Engine) deliverTagged(ctx context.Context, templateName, command string, chatID int64, text string) Result {
	_, timeout, lim := e.snapshot()

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			e.record(ctx, audit.Entry{
				Kind: audit.KindSend, ChatID: chatID, Template: templateName, Command: command, Error: err.Error(),
			})
			return Result{ChatID: chatID, Err: err}
		}
	}

	sctx, cancel := context.WithTimeout(ctx, timeout)
	err := e.provider.SendText(sctx, chatID, text)
	cancel()

	entry := audit.Entry{
		Kind: audit.KindSend, ChatID: chatID, Template: templateName, Command: command, OK: err == nil,
	}
	if err != nil {
		entry.Error = err.Error()
		e.log.Warn("send failed",
			logx.Int64("chat_id", chatID),
			logx.String("template", templateName),
			logx.Err(err))
	}
	e.record(ctx, entry)
	return Result{ChatID: chatID, OK: err == nil, Err: err}
}

func (e *Engine) record(ctx context.Context, entry audit.Entry) {
	if e.sink == nil {
		return
	}
	// Audit with a fresh short deadline: the request context may already be
	// done (that failure is exactly what we are recording).
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	e.sink.Record(actx, entry)
}

// withTimestamp injects the auto timestamp variable when absent, so the
// built-in "test" template needs no caller-supplied variables. The caller's
// map is never mutated.
func withTimestamp(vars map[string]string) map[string]string {
	if _, ok := vars[template.TimestampVar]; ok {
		return vars
	}
	cp := make(map[string]string, len(vars)+1)
	for k, v := range vars {
		cp[k] = v
	}
	cp[template.TimestampVar] = time.Now().Format("2006-01-02 15:04:05")
	return cp
}
