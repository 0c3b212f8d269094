// Package bot routes inbound Telegram commands to their handlers.
//
// The dispatcher is a closed enumeration of commands with an explicit
// fallback; it is stateless per command (no session carried across updates)
// and must always complete: an update handler that errors risks the provider
// cutting off further deliveries.
package bot

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/aydinguven/message-relay/internal/audit"
	"github.com/aydinguven/message-relay/internal/auth"
	"github.com/aydinguven/message-relay/internal/status"
	"github.com/aydinguven/message-relay/internal/transport"
	logx "github.com/aydinguven/message-relay/pkg/logx"
)

type command int

const (
	cmdUnknown command = iota
	cmdStart
	cmdHelp
	cmdSummary
	cmdAlerts
	cmdDetailed
	cmdVM
)

func (c command) String() string {
	switch c {
	case cmdStart:
		return "/start"
	case cmdHelp:
		return "/help"
	case cmdSummary:
		return "/summary"
	case cmdAlerts:
		return "/alerts"
	case cmdDetailed:
		return "/detailed"
	case cmdVM:
		return "/vm"
	default:
		return "unknown"
	}
}

// parseCommand splits raw message text into a command and its argument.
// "/cmd@botname" suffixes are stripped; anything unrecognized maps to
// cmdUnknown so the fallback reply handles it.
func parseCommand(text string) (command, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return cmdUnknown, ""
	}
	verb, arg, _ := strings.Cut(text, " ")
	if at := strings.IndexByte(verb, '@'); at > 0 {
		verb = verb[:at]
	}
	switch strings.ToLower(verb) {
	case "/start":
		return cmdStart, ""
	case "/help":
		return cmdHelp, ""
	case "/summary":
		return cmdSummary, ""
	case "/alerts":
		return cmdAlerts, ""
	case "/detailed":
		return cmdDetailed, ""
	case "/vm":
		return cmdVM, strings.TrimSpace(arg)
	default:
		return cmdUnknown, ""
	}
}

// StatusSource is the fresh-per-command inventory fetch.
type StatusSource interface {
	ListHosts(ctx context.Context) ([]status.Host, error)
}

// Sender delivers a command reply to its originating chat.
type Sender interface {
	SendDirect(ctx context.Context, chatID int64, text, command string) error
}

// Config is the router's snapshot of reloadable settings.
type Config struct {
	Auth         *auth.Snapshot
	Thresholds   status.Thresholds
	DashboardURL string
}

type Router struct {
	statusSrc StatusSource
	sender    Sender
	sink      audit.Sink
	log       logx.Logger

	mu  sync.Mutex
	cfg Config
}

func NewRouter(src StatusSource, sender Sender, sink audit.Sink, log logx.Logger, cfg Config) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{statusSrc: src, sender: sender, sink: sink, log: log, cfg: cfg}
}

// Apply swaps the reloadable settings. Safe during hot-reload.
func (r *Router) Apply(cfg Config) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

func (r *Router) config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Run consumes updates until ctx is done. Each update is handled with its own
// deadline so a slow status provider cannot back up the queue forever.
func (r *Router) Run(ctx context.Context, in <-chan transport.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-in:
			if !ok {
				return
			}
			uctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			r.Handle(uctx, up)
			cancel()
		}
	}
}

// Handle processes one inbound update. It never returns an error and never
// panics out: every failure path ends in a user-visible reply or an audit
// entry (usually both).
func (r *Router) Handle(ctx context.Context, up transport.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in command handler",
				logx.Any("panic", rec),
				logx.Int64("chat_id", up.ChatID),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	cmd, arg := parseCommand(up.Text)
	cfg := r.config()

	// Help and unknown verbs are answered before authorization: the help text
	// carries no status data, only the command list.
	if cmd == cmdStart || cmd == cmdHelp || cmd == cmdUnknown {
		r.reply(ctx, up.ChatID, helpText, cmd.String())
		return
	}

	if !cfg.Auth.AllowChat(up.ChatID) {
		r.record(ctx, audit.Entry{
			Kind:      audit.KindAuth,
			ChatID:    up.ChatID,
			ActorName: up.FromName,
			Command:   cmd.String(),
			Error:     "chat not authorized",
		})
		r.log.Warn("unauthorized command",
			logx.Int64("chat_id", up.ChatID),
			logx.String("from", up.FromName),
			logx.String("command", cmd.String()))
		r.reply(ctx, up.ChatID, deniedText, cmd.String())
		return
	}
	r.record(ctx, audit.Entry{
		Kind:      audit.KindAuth,
		ChatID:    up.ChatID,
		ActorName: up.FromName,
		Command:   cmd.String(),
		OK:        true,
	})

	var text string
	switch cmd {
	case cmdSummary:
		text = r.handleSummary(ctx, cfg)
	case cmdAlerts:
		text = r.handleAlerts(ctx, cfg)
	case cmdDetailed:
		text = r.handleDetailed(ctx, cfg)
	case cmdVM:
		text = r.handleVM(ctx, cfg, arg)
	}
	r.reply(ctx, up.ChatID, text, cmd.String())
}

func (r *Router) handleSummary(ctx context.Context, cfg Config) string {
	hosts, err := r.statusSrc.ListHosts(ctx)
	if err != nil {
		return r.unavailable(ctx, "/summary", err)
	}
	return formatSummary(status.Summarize(hosts, cfg.Thresholds), cfg.DashboardURL)
}

func (r *Router) handleAlerts(ctx context.Context, cfg Config) string {
	hosts, err := r.statusSrc.ListHosts(ctx)
	if err != nil {
		return r.unavailable(ctx, "/alerts", err)
	}
	return formatAlerts(status.Alerting(hosts, cfg.Thresholds), cfg.Thresholds)
}

func (r *Router) handleDetailed(ctx context.Context, cfg Config) string {
	hosts, err := r.statusSrc.ListHosts(ctx)
	if err != nil {
		return r.unavailable(ctx, "/detailed", err)
	}
	return formatDetailed(hosts, cfg.Thresholds)
}

func (r *Router) handleVM(ctx context.Context, cfg Config, hostname string) string {
	if hostname == "" {
		return usageVMText
	}
	hosts, err := r.statusSrc.ListHosts(ctx)
	if err != nil {
		return r.unavailable(ctx, "/vm", err)
	}
	h, err := status.Find(hosts, hostname)
	if errors.Is(err, status.ErrHostNotFound) {
		return formatNotFound(hostname)
	}
	return formatHost(h, cfg.Thresholds)
}

// unavailable converts a status-provider failure into the fixed user-facing
// reply and audits it. The handler boundary is where provider errors stop.
func (r *Router) unavailable(ctx context.Context, cmd string, err error) string {
	r.log.Warn("status provider failed", logx.String("command", cmd), logx.Err(err))
	r.record(ctx, audit.Entry{
		Kind:    audit.KindSend,
		Command: cmd,
		Error:   "status provider: " + err.Error(),
	})
	return unavailableText
}

func (r *Router) reply(ctx context.Context, chatID int64, text, cmd string) {
	if text == "" {
		return
	}
	// Send failures are already audited and logged by the dispatch engine.
	_ = r.sender.SendDirect(ctx, chatID, text, cmd)
}

func (r *Router) record(ctx context.Context, e audit.Entry) {
	if r.sink == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	r.sink.Record(actx, e)
}
