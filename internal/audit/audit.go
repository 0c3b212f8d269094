// Package audit records every send attempt and authorization decision.
//
// The sink is append-only and safe for concurrent use. Recording must never
// fail the request being audited: errors are logged and swallowed.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "github.com/aydinguven/message-relay/pkg/logx"
)

type Kind string

const (
	KindSend Kind = "send" // a provider send attempt (API or bot reply)
	KindAuth Kind = "auth" // an authorization decision (granted or denied)
)

// Entry is one audit record. Keep it compact and schema-stable.
type Entry struct {
	At        time.Time
	Kind      Kind
	ChatID    int64
	ActorName string // sender display name for bot commands, "" for API calls
	Template  string
	Command   string
	OK        bool
	Error     string
}

type Sink interface {
	Record(ctx context.Context, e Entry)
	Close() error
}

// Config selects the sink implementation.
type Config struct {
	Driver      string // "log" (default) or "sqlite"
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Open initializes the configured sink. The log sink is the fallback for an
// empty/unknown driver so auditing is never silently absent.
func Open(cfg Config, log logx.Logger) (Sink, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "log":
		return &logSink{log: log}, nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown audit driver: " + cfg.Driver)
	}
}

// logSink writes audit entries as structured log events.
type logSink struct {
	log logx.Logger
}

func (s *logSink) Record(_ context.Context, e Entry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	fields := []logx.Field{
		logx.String("kind", string(e.Kind)),
		logx.Int64("chat_id", e.ChatID),
		logx.Bool("ok", e.OK),
	}
	if e.ActorName != "" {
		fields = append(fields, logx.String("actor", e.ActorName))
	}
	if e.Template != "" {
		fields = append(fields, logx.String("template", e.Template))
	}
	if e.Command != "" {
		fields = append(fields, logx.String("command", e.Command))
	}
	if e.Error != "" {
		fields = append(fields, logx.String("err", e.Error))
	}
	if e.OK {
		s.log.Info("audit", fields...)
	} else {
		s.log.Warn("audit", fields...)
	}
}

func (s *logSink) Close() error { return nil }
