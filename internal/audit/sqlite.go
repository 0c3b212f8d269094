package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "github.com/aydinguven/message-relay/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	at         TEXT    NOT NULL,
	kind       TEXT    NOT NULL,
	chat_id    INTEGER NOT NULL,
	actor_name TEXT,
	template   TEXT,
	command    TEXT,
	ok         INTEGER NOT NULL,
	err        TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_at ON audit(at);
`

type sqliteSink struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Sink, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("audit sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; the sink is append-only anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteSink{db: db, log: log}, nil
}

func (s *sqliteSink) Record(ctx context.Context, e Entry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, kind, chat_id, actor_name, template, command, ok, err)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), string(e.Kind), e.ChatID,
		nullStr(e.ActorName), nullStr(e.Template), nullStr(e.Command), e.OK, nullStr(e.Error),
	)
	if err != nil {
		// Auditing must not fail the audited request.
		s.log.Error("audit append failed", logx.Err(err))
	}
}

func (s *sqliteSink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
