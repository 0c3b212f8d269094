package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/aydinguven/message-relay/internal/audit"
	"github.com/aydinguven/message-relay/internal/auth"
	logx "github.com/aydinguven/message-relay/pkg/logx"
)

// requireAPIKey guards a handler with API-key authentication.
//
// The key is read from the X-API-Key header or the api_key query parameter.
// Missing key -> 401, unknown key -> 403. The responses never hint at what a
// valid key looks like; failed attempts are logged with a truncated prefix
// only. Fail-closed: an empty configured key set rejects everything.
func (s *Server) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key == "" {
			writeError(w, http.StatusUnauthorized, "Missing API key")
			return
		}
		if !s.auth().AllowAPIKey(key) {
			s.log.Warn("invalid api key attempt",
				logx.String("key_prefix", auth.RedactKey(key)),
				logx.String("path", r.URL.Path))
			s.record(r.Context(), audit.Entry{
				Kind:    audit.KindAuth,
				Command: r.URL.Path,
				Error:   "invalid api key " + auth.RedactKey(key),
			})
			writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}
		s.record(r.Context(), audit.Entry{
			Kind:    audit.KindAuth,
			Command: r.URL.Path,
			OK:      true,
		})
		next(w, r)
	}
}

func (s *Server) record(ctx context.Context, e audit.Entry) {
	if s.sink == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	s.sink.Record(actx, e)
}
