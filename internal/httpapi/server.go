// Package httpapi exposes the relay's caller-facing HTTP surface: template
// sends, batch sends, the template catalogue, and webhook registration.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/aydinguven/message-relay/internal/audit"
	"github.com/aydinguven/message-relay/internal/auth"
	"github.com/aydinguven/message-relay/internal/dispatch"
	"github.com/aydinguven/message-relay/internal/template"
	"github.com/aydinguven/message-relay/internal/transport"
	logx "github.com/aydinguven/message-relay/pkg/logx"
)

const (
	serviceName = "message-relay"
	version     = "1.0.0"
)

type Server struct {
	engine    *dispatch.Engine
	templates *template.Provider
	provider  transport.Provider
	sink      audit.Sink
	log       logx.Logger

	mu       sync.Mutex
	authSnap *auth.Snapshot

	srv *http.Server
}

func NewServer(addr string, engine *dispatch.Engine, tpl *template.Provider, provider transport.Provider, sink audit.Sink, log logx.Logger, snap *auth.Snapshot) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if addr == "" {
		addr = ":8080"
	}
	s := &Server{
		engine:    engine,
		templates: tpl,
		provider:  provider,
		sink:      sink,
		log:       log,
		authSnap:  snap,
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Apply swaps the authorization snapshot. Safe during hot-reload.
func (s *Server) Apply(snap *auth.Snapshot) {
	s.mu.Lock()
	s.authSnap = snap
	s.mu.Unlock()
}

func (s *Server) auth() *auth.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authSnap
}

// Router builds the route table. Exposed for tests.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/send", s.requireAPIKey(s.handleSend)).Methods(http.MethodPost)
	r.HandleFunc("/send/batch", s.requireAPIKey(s.handleSendBatch)).Methods(http.MethodPost)
	r.HandleFunc("/templates", s.requireAPIKey(s.handleTemplates)).Methods(http.MethodGet)
	r.HandleFunc("/webhook/setup", s.requireAPIKey(s.handleWebhookSetup)).Methods(http.MethodPost)
	return r
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(sctx)
	}()
	go func() {
		s.log.Info("http api listening", logx.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http api server failed", logx.Err(err))
		}
	}()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}
