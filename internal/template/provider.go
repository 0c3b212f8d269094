package template

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	yaml "go.yaml.in/yaml/v3"

	logx "github.com/aydinguven/message-relay/pkg/logx"
)

// Provider publishes the current Store snapshot.
//
// Reload builds a complete new Store from built-ins + the definitions file
// and swaps the pointer; readers always observe a fully-formed snapshot.
type Provider struct {
	path string // optional definitions file; "" means built-ins only
	log  logx.Logger

	store atomic.Pointer[Store]
}

func NewProvider(path string, log logx.Logger) (*Provider, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Provider{path: strings.TrimSpace(path), log: log}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Store returns the current snapshot. Never nil after NewProvider succeeds.
func (p *Provider) Store() *Store {
	return p.store.Load()
}

// Reload re-reads the definitions file (if configured) and publishes a new
// snapshot. On a parse error the previous snapshot stays in place.
func (p *Provider) Reload() error {
	extra, err := p.loadFile()
	if err != nil {
		return err
	}
	p.store.Store(Build(extra))
	return nil
}

func (p *Provider) loadFile() (map[string]string, error) {
	if p.path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			// A missing file is not fatal: the built-ins still serve.
			p.log.Warn("templates file missing; using built-ins only", logx.String("path", p.path))
			return nil, nil
		}
		return nil, err
	}
	var defs map[string]string
	if err := yaml.Unmarshal(b, &defs); err != nil {
		return nil, fmt.Errorf("templates file %s: %w", p.path, err)
	}
	return defs, nil
}

// Watch reloads template definitions whenever the file changes. Same
// debounce-and-self-heal shape as the config watcher; a broken file logs a
// warning and keeps the last good snapshot.
func (p *Provider) Watch(ctx context.Context) error {
	if p.path == "" {
		<-ctx.Done()
		return nil
	}
	dir := filepath.Dir(p.path)
	file := filepath.Base(p.path)

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			if err := p.Reload(); err != nil {
				p.log.Warn("template reload failed; keeping previous set",
					logx.String("path", p.path), logx.Err(err))
				return
			}
			p.log.Info("templates reloaded",
				logx.String("path", p.path),
				logx.Int("count", len(p.Store().Names())))
		})
	}

	backoff := 250 * time.Millisecond
	const backoffMax = 5 * time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}

		w, err := fsnotify.NewWatcher()
		if err == nil {
			err = w.Add(dir)
			if err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			p.log.Warn("template watch init failed", logx.Err(err), logx.String("dir", dir))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			if backoff < backoffMax {
				backoff *= 2
			}
			continue
		}
		backoff = 250 * time.Millisecond

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				if strings.EqualFold(filepath.Base(ev.Name), file) {
					if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
						debounce()
					}
				}
			case werr, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if werr != nil {
					p.log.Warn("template watch error", logx.Err(werr), logx.String("dir", dir))
				}
			}
		}

		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < backoffMax {
			backoff *= 2
		}
	}
}
