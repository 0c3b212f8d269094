package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aydinguven/message-relay/internal/template"
)

// chatID accepts both JSON numbers and numeric strings: callers of the
// original service sent either form.
type chatID int64

func (c *chatID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if len(s) >= 2 && s[0] == '"' {
		var q string
		if err := json.Unmarshal(b, &q); err != nil {
			return err
		}
		s = strings.TrimSpace(q)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q", s)
	}
	*c = chatID(n)
	return nil
}

type sendRequest struct {
	Template  string         `json:"template"`
	ChatID    chatID         `json:"chat_id"`
	Variables map[string]any `json:"variables"`
}

type batchRequest struct {
	Template  string         `json:"template"`
	ChatIDs   []chatID       `json:"chat_ids"`
	Variables map[string]any `json:"variables"`
}

type sendResult struct {
	ChatID int64  `json:"chat_id"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// coerceVariables turns the JSON variable map into the strings the template
// store substitutes. Numbers and booleans are formatted; nested values are
// rejected rather than guessed at.
func coerceVariables(in map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case string:
			out[k] = t
		case float64:
			if t == math.Trunc(t) && math.Abs(t) < 1e15 {
				out[k] = strconv.FormatInt(int64(t), 10)
			} else {
				out[k] = strconv.FormatFloat(t, 'f', -1, 64)
			}
		case bool:
			out[k] = strconv.FormatBool(t)
		case nil:
			return nil, fmt.Errorf("variable %q is null", k)
		default:
			return nil, fmt.Errorf("variable %q must be a string, number, or boolean", k)
		}
	}
	return out, nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": serviceName,
		"status":  "ok",
		"version": version,
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Template == "" {
		writeError(w, http.StatusBadRequest, "template is required")
		return
	}
	if req.ChatID == 0 {
		writeError(w, http.StatusBadRequest, "chat_id is required")
		return
	}
	vars, err := coerceVariables(req.Variables)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := s.engine.Send(r.Context(), req.Template, int64(req.ChatID), vars)
	if res.Err != nil {
		if code, msg, ok := validationError(res.Err, s); ok {
			writeJSON(w, code, msg)
			return
		}
		// Provider failure: the send outcome is the response, not an HTTP error.
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"chat_id": res.ChatID,
			"error":   res.Err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "Message sent",
		"chat_id":  res.ChatID,
		"template": req.Template,
	})
}

func (s *Server) handleSendBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Template == "" {
		writeError(w, http.StatusBadRequest, "template is required")
		return
	}
	if len(req.ChatIDs) == 0 {
		writeError(w, http.StatusBadRequest, "chat_ids is required")
		return
	}
	vars, err := coerceVariables(req.Variables)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ids := make([]int64, len(req.ChatIDs))
	for i, c := range req.ChatIDs {
		ids[i] = int64(c)
	}

	results, err := s.engine.SendBatch(r.Context(), req.Template, ids, vars)
	if err != nil {
		if code, msg, ok := validationError(err, s); ok {
			writeJSON(w, code, msg)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]sendResult, len(results))
	sent := 0
	for i, res := range results {
		out[i] = sendResult{ChatID: res.ChatID, OK: res.OK}
		if res.OK {
			sent++
		} else if res.Err != nil {
			out[i].Error = res.Err.Error()
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": sent > 0,
		"sent":    sent,
		"total":   len(results),
		"results": out,
	})
}

// validationError maps template lookup/render failures to a 400 payload.
func validationError(err error, s *Server) (int, map[string]any, bool) {
	var mv *template.MissingVariableError
	if errors.As(err, &mv) {
		return http.StatusBadRequest, map[string]any{
			"error":    fmt.Sprintf("missing variable %q", mv.Name),
			"template": mv.Template,
		}, true
	}
	if errors.Is(err, template.ErrTemplateNotFound) {
		return http.StatusBadRequest, map[string]any{
			"error":     err.Error(),
			"available": s.templates.Store().Names(),
		}, true
	}
	return 0, nil, false
}

func (s *Server) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	store := s.templates.Store()
	names := store.Names()
	details := make(map[string]any, len(names))
	for _, name := range names {
		t, _ := store.Get(name)
		details[name] = map[string]any{
			"pattern":  t.Pattern,
			"required": requiredPlaceholders(t),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"templates": names,
		"details":   details,
	})
}

// requiredPlaceholders is the caller-facing placeholder set: the auto-injected
// timestamp is excluded since callers never have to supply it.
func requiredPlaceholders(t template.Template) []string {
	phs := t.Placeholders()
	out := make([]string, 0, len(phs))
	for _, p := range phs {
		if p == template.TimestampVar {
			continue
		}
		out = append(out, p)
	}
	return out
}

type webhookSetupRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleWebhookSetup(w http.ResponseWriter, r *http.Request) {
	var req webhookSetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.provider.RegisterWebhook(ctx, req.URL); err != nil {
		writeError(w, http.StatusBadGateway, "webhook registration failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "url": req.URL})
}
