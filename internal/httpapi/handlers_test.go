package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aydinguven/message-relay/internal/audit"
	"github.com/aydinguven/message-relay/internal/auth"
	"github.com/aydinguven/message-relay/internal/dispatch"
	"github.com/aydinguven/message-relay/internal/template"
	"github.com/aydinguven/message-relay/internal/transport"
	logx "github.com/aydinguven/message-relay/pkg/logx"
)

type fakeProvider struct {
	mu       sync.Mutex
	sent     []int64
	fail     map[int64]error
	webhooks []string
	whErr    error
}

func (f *fakeProvider) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeProvider) Stop(context.Context) error                           { return nil }

func (f *fakeProvider) SendText(_ context.Context, chatID int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, chatID)
	return f.fail[chatID]
}

func (f *fakeProvider) RegisterWebhook(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.whErr != nil {
		return f.whErr
	}
	f.webhooks = append(f.webhooks, url)
	return nil
}

func (f *fakeProvider) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type memSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memSink) Record(_ context.Context, e audit.Entry) {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
}
func (m *memSink) Close() error { return nil }

func newTestServer(t *testing.T, p *fakeProvider, keys []string) *Server {
	t.Helper()
	tpl, err := template.NewProvider("", logx.Nop())
	if err != nil {
		t.Fatalf("template provider: %v", err)
	}
	sink := &memSink{}
	engine := dispatch.New(tpl, p, sink, logx.Nop(), dispatch.Config{Workers: 1})
	return NewServer(":0", engine, tpl, p, sink, logx.Nop(), auth.NewSnapshot(keys, nil))
}

func do(t *testing.T, s *Server, method, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("bad json response %q: %v", rr.Body.String(), err)
	}
	return m
}

func TestHealthzUnauthenticated(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeProvider{}, []string{"k1"})
	rr := do(t, s, http.MethodGet, "/healthz", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if m := decode(t, rr); m["service"] != "message-relay" || m["status"] != "ok" {
		t.Fatalf("unexpected body: %v", m)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeProvider{}, []string{"k1"})

	t.Run("missing key", func(t *testing.T) {
		rr := do(t, s, http.MethodGet, "/templates", "", "")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rr.Code)
		}
	})

	t.Run("invalid key", func(t *testing.T) {
		rr := do(t, s, http.MethodGet, "/templates", "wrong", "")
		if rr.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rr.Code)
		}
	})

	t.Run("query param accepted", func(t *testing.T) {
		rr := do(t, s, http.MethodGet, "/templates?api_key=k1", "", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rr.Code)
		}
	})
}

func TestAPIKeyFailClosedWhenUnconfigured(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeProvider{}, nil)
	rr := do(t, s, http.MethodGet, "/templates", "anything", "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 (empty key set admits nobody)", rr.Code)
	}
}

func TestSend(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{}
	s := newTestServer(t, p, []string{"k1"})

	body := `{"template":"vm_alert","chat_id":"123","variables":{"hostname":"web-01","resource":"CPU","value":95,"dashboard_url":"https://g/d"}}`
	rr := do(t, s, http.MethodPost, "/send", "k1", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	m := decode(t, rr)
	if m["success"] != true || m["template"] != "vm_alert" {
		t.Fatalf("unexpected body: %v", m)
	}
	if p.sentCount() != 1 {
		t.Fatalf("provider calls = %d", p.sentCount())
	}
}

func TestSendMissingVariable(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{}
	s := newTestServer(t, p, []string{"k1"})

	body := `{"template":"vm_alert","chat_id":"123","variables":{"hostname":"web-01","resource":"CPU","value":"95"}}`
	rr := do(t, s, http.MethodPost, "/send", "k1", body)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	m := decode(t, rr)
	if got, _ := m["error"].(string); !strings.Contains(got, "dashboard_url") {
		t.Fatalf("error = %q, want mention of dashboard_url", got)
	}
	if p.sentCount() != 0 {
		t.Fatal("provider must not be contacted on validation failure")
	}
}

func TestSendUnknownTemplate(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeProvider{}, []string{"k1"})

	rr := do(t, s, http.MethodPost, "/send", "k1", `{"template":"nope","chat_id":1,"variables":{}}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	m := decode(t, rr)
	if _, ok := m["available"]; !ok {
		t.Fatalf("expected available template list in %v", m)
	}
}

func TestSendValidation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeProvider{}, []string{"k1"})

	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ""},
		{name: "no template", body: `{"chat_id":1}`},
		{name: "no chat id", body: `{"template":"test"}`},
		{name: "bad chat id", body: `{"template":"test","chat_id":"abc"}`},
		{name: "nested variable", body: `{"template":"custom","chat_id":1,"variables":{"message":{"x":1}}}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, s, http.MethodPost, "/send", "k1", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rr.Code)
			}
		})
	}
}

func TestSendProviderFailureIsOutcome(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{fail: map[int64]error{5: errors.New("blocked by user")}}
	s := newTestServer(t, p, []string{"k1"})

	rr := do(t, s, http.MethodPost, "/send", "k1", `{"template":"test","chat_id":5,"variables":{}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (outcome, not transport error)", rr.Code)
	}
	m := decode(t, rr)
	if m["success"] != false {
		t.Fatalf("unexpected body: %v", m)
	}
}

func TestSendBatchPartialFailure(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{fail: map[int64]error{2: errors.New("provider rejected")}}
	s := newTestServer(t, p, []string{"k1"})

	body := `{"template":"custom","chat_ids":[1,2,3],"variables":{"message":"hi"}}`
	rr := do(t, s, http.MethodPost, "/send/batch", "k1", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	m := decode(t, rr)
	if m["sent"] != float64(2) || m["total"] != float64(3) || m["success"] != true {
		t.Fatalf("unexpected counts: %v", m)
	}
	results, _ := m["results"].([]any)
	if len(results) != 3 {
		t.Fatalf("results = %v", results)
	}
	wantOK := []bool{true, false, true}
	for i, raw := range results {
		r := raw.(map[string]any)
		if r["ok"] != wantOK[i] {
			t.Fatalf("results[%d] = %v, want ok=%v", i, r, wantOK[i])
		}
		if r["chat_id"] != float64(i+1) {
			t.Fatalf("results[%d].chat_id = %v (order must match request)", i, r["chat_id"])
		}
	}
	if p.sentCount() != 3 {
		t.Fatalf("provider calls = %d, want 3", p.sentCount())
	}
}

func TestSendBatchRequiresChatIDs(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeProvider{}, []string{"k1"})
	rr := do(t, s, http.MethodPost, "/send/batch", "k1", `{"template":"test","chat_ids":[]}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestTemplatesCatalogue(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeProvider{}, []string{"k1"})

	rr := do(t, s, http.MethodGet, "/templates", "k1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	m := decode(t, rr)
	details, _ := m["details"].(map[string]any)

	custom, _ := details["custom"].(map[string]any)
	req, _ := custom["required"].([]any)
	if len(req) != 1 || req[0] != "message" {
		t.Fatalf("custom required = %v", req)
	}

	// timestamp is auto-injected, so "test" requires nothing from callers
	tpl, _ := details["test"].(map[string]any)
	if req, _ := tpl["required"].([]any); len(req) != 0 {
		t.Fatalf("test required = %v, want empty", req)
	}
}

func TestWebhookSetup(t *testing.T) {
	t.Parallel()

	t.Run("registered", func(t *testing.T) {
		p := &fakeProvider{}
		s := newTestServer(t, p, []string{"k1"})
		rr := do(t, s, http.MethodPost, "/webhook/setup", "k1", `{"url":"https://relay.example/hook"}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
		}
		if len(p.webhooks) != 1 || p.webhooks[0] != "https://relay.example/hook" {
			t.Fatalf("webhooks = %v", p.webhooks)
		}
	})

	t.Run("provider failure", func(t *testing.T) {
		p := &fakeProvider{whErr: errors.New("telegram says no")}
		s := newTestServer(t, p, []string{"k1"})
		rr := do(t, s, http.MethodPost, "/webhook/setup", "k1", `{"url":"https://relay.example/hook"}`)
		if rr.Code != http.StatusBadGateway {
			t.Fatalf("status = %d, want 502", rr.Code)
		}
	})

	t.Run("missing url", func(t *testing.T) {
		s := newTestServer(t, &fakeProvider{}, []string{"k1"})
		rr := do(t, s, http.MethodPost, "/webhook/setup", "k1", `{}`)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
	})
}

func TestApplySwapsKeys(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeProvider{}, []string{"old"})

	if rr := do(t, s, http.MethodGet, "/templates", "new", ""); rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 before reload", rr.Code)
	}
	s.Apply(auth.NewSnapshot([]string{"new"}, nil))
	if rr := do(t, s, http.MethodGet, "/templates", "new", ""); rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 after reload", rr.Code)
	}
	if rr := do(t, s, http.MethodGet, "/templates", "old", ""); rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want old key rejected after reload", rr.Code)
	}
}
