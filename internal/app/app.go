// Package app wires the relay together: config, logging, audit, templates,
// the Telegram adapter, the dispatch engine, the bot router, and the HTTP API.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aydinguven/message-relay/internal/audit"
	"github.com/aydinguven/message-relay/internal/auth"
	"github.com/aydinguven/message-relay/internal/bot"
	"github.com/aydinguven/message-relay/internal/config"
	"github.com/aydinguven/message-relay/internal/dispatch"
	"github.com/aydinguven/message-relay/internal/httpapi"
	"github.com/aydinguven/message-relay/internal/status"
	"github.com/aydinguven/message-relay/internal/template"
	"github.com/aydinguven/message-relay/internal/transport"
	"github.com/aydinguven/message-relay/internal/transport/telegram"
	logx "github.com/aydinguven/message-relay/pkg/logx"
)

type App struct {
	log    logx.Logger
	logSvc *logx.Service

	cfgm      *config.Manager
	sink      audit.Sink
	templates *template.Provider
	adapter   *telegram.Adapter
	statusCli *status.Client
	engine    *dispatch.Engine
	router    *bot.Router
	httpSrv   *httpapi.Server

	cfgSub chan *config.Config
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error { return c.Validate() })

	busyTimeout, _ := config.ParseDurationField("audit.busy_timeout", cfg.Audit.BusyTimeout)
	sink, err := audit.Open(audit.Config{
		Driver:      cfg.Audit.Driver,
		Path:        cfg.Audit.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "audit")))
	if err != nil {
		return nil, fmt.Errorf("open audit sink: %w", err)
	}

	templates, err := template.NewProvider(cfg.TemplatesPath, log.With(logx.String("comp", "templates")))
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	pollTimeout, _ := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	engine := dispatch.New(templates, adapter, sink,
		log.With(logx.String("comp", "dispatch")), dispatchConfig(cfg))

	statusTimeout, _ := config.ParseDurationOrDefault("status.request_timeout", cfg.Status.RequestTimeout, 5*time.Second)
	statusCli := status.NewClient(cfg.Status.BaseURL, statusTimeout)

	router := bot.NewRouter(statusCli, engine, sink,
		log.With(logx.String("comp", "bot")), routerConfig(cfg))

	httpSrv := httpapi.NewServer(cfg.HTTP.Addr, engine, templates, adapter, sink,
		log.With(logx.String("comp", "http")), authSnapshot(cfg))

	return &App{
		log:       log,
		logSvc:    logSvc,
		cfgm:      cfgm,
		sink:      sink,
		templates: templates,
		adapter:   adapter,
		statusCli: statusCli,
		engine:    engine,
		router:    router,
		httpSrv:   httpSrv,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	updates := make(chan transport.Update, 64)
	if err := a.adapter.Start(ctx, updates); err != nil {
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.router.Run(ctx, updates)
	}()

	a.httpSrv.Start(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(ctx)
	}()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.templates.Watch(ctx)
	}()

	a.cfgSub = a.cfgm.Subscribe(4)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-a.cfgSub:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	}()

	a.log.Info("message relay started")
	return nil
}

// applyConfig pushes a freshly validated config into every reloadable
// component. Each component swaps a whole snapshot; none is patched in place.
func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	a.engine.Apply(dispatchConfig(cfg))

	statusTimeout, _ := config.ParseDurationOrDefault("status.request_timeout", cfg.Status.RequestTimeout, 5*time.Second)
	a.statusCli.Apply(cfg.Status.BaseURL, statusTimeout)

	a.router.Apply(routerConfig(cfg))
	a.httpSrv.Apply(authSnapshot(cfg))

	if err := a.templates.Reload(); err != nil {
		a.log.Warn("template reload after config change failed", logx.Err(err))
	}

	a.log.Info("config applied",
		logx.Int("api_keys", len(cfg.APIKeys)),
		logx.Int("authorized_chats", len(cfg.AuthorizedChats)))
}

func (a *App) Stop(ctx context.Context) error {
	_ = a.adapter.Stop(ctx)
	if a.cfgSub != nil {
		a.cfgm.Unsubscribe(a.cfgSub)
	}
	a.wg.Wait()
	if a.sink != nil {
		_ = a.sink.Close()
	}
	a.log.Info("message relay stopped")
	return a.logSvc.Close()
}

func authSnapshot(cfg *config.Config) *auth.Snapshot {
	return auth.NewSnapshot(cfg.APIKeys, cfg.AuthorizedChats)
}

func dispatchConfig(cfg *config.Config) dispatch.Config {
	sendTimeout, _ := config.ParseDurationOrDefault("dispatch.send_timeout", cfg.Dispatch.SendTimeout, 30*time.Second)
	return dispatch.Config{
		Workers:     cfg.Dispatch.Workers,
		RatePerSec:  cfg.Dispatch.RatePerSec,
		SendTimeout: sendTimeout,
	}
}

func routerConfig(cfg *config.Config) bot.Config {
	return bot.Config{
		Auth: authSnapshot(cfg),
		Thresholds: status.Thresholds{
			CPU:  cfg.Status.CPUThreshold,
			RAM:  cfg.Status.RAMThreshold,
			Disk: cfg.Status.DiskThreshold,
		},
		DashboardURL: cfg.DashboardURL,
	}
}
