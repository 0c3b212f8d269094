package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/aydinguven/message-relay/internal/audit"
	"github.com/aydinguven/message-relay/internal/auth"
	"github.com/aydinguven/message-relay/internal/status"
	"github.com/aydinguven/message-relay/internal/transport"
	logx "github.com/aydinguven/message-relay/pkg/logx"
)

type fakeStatus struct {
	mu    sync.Mutex
	hosts []status.Host
	err   error
	calls int
}

func (f *fakeStatus) ListHosts(context.Context) ([]status.Host, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.hosts, f.err
}

func (f *fakeStatus) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type reply struct {
	chatID  int64
	text    string
	command string
}

type fakeSender struct {
	mu      sync.Mutex
	replies []reply
}

func (f *fakeSender) SendDirect(_ context.Context, chatID int64, text, command string) error {
	f.mu.Lock()
	f.replies = append(f.replies, reply{chatID: chatID, text: text, command: command})
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) last(t *testing.T) reply {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		t.Fatal("no reply sent")
	}
	return f.replies[len(f.replies)-1]
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

func (m *memSink) all() []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Entry(nil), m.entries...)
}

func testHosts() []status.Host {
	return []status.Host{
		{Hostname: "web-01", Online: true, CPU: 40, RAM: 50, Disk: 30},
		{Hostname: "web-02", Online: true, CPU: 95, RAM: 50, Disk: 20},
		{Hostname: "db-01", Online: false},
	}
}

func newTestRouter(src StatusSource, sender Sender, sink audit.Sink, chats []int64) *Router {
	return NewRouter(src, sender, sink, logx.Nop(), Config{
		Auth:         auth.NewSnapshot(nil, chats),
		Thresholds:   status.Thresholds{},
		DashboardURL: "https://grafana.internal/d/vms",
	})
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text string
		cmd  command
		arg  string
	}{
		{text: "/start", cmd: cmdStart},
		{text: "/help", cmd: cmdHelp},
		{text: "/summary", cmd: cmdSummary},
		{text: "/Summary", cmd: cmdSummary},
		{text: "/summary@relaybot", cmd: cmdSummary},
		{text: "/alerts", cmd: cmdAlerts},
		{text: "/detailed", cmd: cmdDetailed},
		{text: "/vm web-01", cmd: cmdVM, arg: "web-01"},
		{text: "/vm@relaybot  web-01 ", cmd: cmdVM, arg: "web-01"},
		{text: "/vm", cmd: cmdVM, arg: ""},
		{text: "/bogus", cmd: cmdUnknown},
		{text: "hello there", cmd: cmdUnknown},
		{text: "", cmd: cmdUnknown},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.text, func(t *testing.T) {
			cmd, arg := parseCommand(tt.text)
			if cmd != tt.cmd || arg != tt.arg {
				t.Fatalf("parseCommand(%q) = (%v, %q), want (%v, %q)", tt.text, cmd, arg, tt.cmd, tt.arg)
			}
		})
	}
}

func TestHelpRepliesWithoutAuthorization(t *testing.T) {
	t.Parallel()
	for _, text := range []string{"/start", "/help", "/bogus", "just chatting"} {
		src := &fakeStatus{hosts: testHosts()}
		sender := &fakeSender{}
		// empty allow-list: every data command would be denied
		r := newTestRouter(src, sender, &memSink{}, nil)

		r.Handle(context.Background(), transport.Update{ChatID: 99, Text: text})

		got := sender.last(t)
		if !strings.Contains(got.text, "/summary") {
			t.Fatalf("%q: expected help reply, got %q", text, got.text)
		}
		if src.callCount() != 0 {
			t.Fatalf("%q: help must not query the status provider", text)
		}
	}
}

func TestUnauthorizedChatDenied(t *testing.T) {
	t.Parallel()
	src := &fakeStatus{hosts: testHosts()}
	sender := &fakeSender{}
	sink := &memSink{}
	r := newTestRouter(src, sender, sink, nil) // empty allow-list

	r.Handle(context.Background(), transport.Update{ChatID: 42, FromName: "mallory", Text: "/summary"})

	if got := sender.last(t); got.text != deniedText {
		t.Fatalf("reply = %q, want denial", got.text)
	}
	if src.callCount() != 0 {
		t.Fatal("status provider must not be called for a denied chat")
	}
	entries := sink.all()
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Kind != audit.KindAuth || e.OK || e.ChatID != 42 || e.ActorName != "mallory" {
		t.Fatalf("unexpected audit entry: %+v", e)
	}
}

func TestAuthorizedSummary(t *testing.T) {
	t.Parallel()
	src := &fakeStatus{hosts: testHosts()}
	sender := &fakeSender{}
	sink := &memSink{}
	r := newTestRouter(src, sender, sink, []int64{42})

	r.Handle(context.Background(), transport.Update{ChatID: 42, FromName: "alice", Text: "/summary"})

	got := sender.last(t)
	for _, want := range []string{"Total: 3", "Online: 2", "Offline: 1", "Alerting: 2", "grafana.internal"} {
		if !strings.Contains(got.text, want) {
			t.Fatalf("summary reply missing %q:\n%s", want, got.text)
		}
	}
	// granted decisions are audited too
	var granted bool
	for _, e := range sink.all() {
		if e.Kind == audit.KindAuth && e.OK && e.ChatID == 42 {
			granted = true
		}
	}
	if !granted {
		t.Fatal("granted authorization not audited")
	}
}

func TestAlertsReply(t *testing.T) {
	t.Parallel()
	src := &fakeStatus{hosts: testHosts()}
	sender := &fakeSender{}
	r := newTestRouter(src, sender, &memSink{}, []int64{42})

	r.Handle(context.Background(), transport.Update{ChatID: 42, Text: "/alerts"})

	got := sender.last(t)
	if !strings.Contains(got.text, "web-02") || !strings.Contains(got.text, "db-01") {
		t.Fatalf("alerts reply missing hosts:\n%s", got.text)
	}
	if strings.Contains(got.text, "web-01") {
		t.Fatalf("healthy host listed in alerts:\n%s", got.text)
	}
}

func TestAlertsNoIssues(t *testing.T) {
	t.Parallel()
	src := &fakeStatus{hosts: []status.Host{{Hostname: "web-01", Online: true, CPU: 10}}}
	sender := &fakeSender{}
	r := newTestRouter(src, sender, &memSink{}, []int64{42})

	r.Handle(context.Background(), transport.Update{ChatID: 42, Text: "/alerts"})

	if got := sender.last(t); !strings.Contains(got.text, "No issues") {
		t.Fatalf("expected no-issues reply, got %q", got.text)
	}
}

func TestProviderFailureBecomesUnavailableReply(t *testing.T) {
	t.Parallel()
	src := &fakeStatus{err: errors.New("connection timed out")}
	sender := &fakeSender{}
	sink := &memSink{}
	r := newTestRouter(src, sender, sink, []int64{42})

	r.Handle(context.Background(), transport.Update{ChatID: 42, Text: "/alerts"})

	if got := sender.last(t); got.text != unavailableText {
		t.Fatalf("reply = %q, want unavailable text", got.text)
	}
	var recorded bool
	for _, e := range sink.all() {
		if strings.Contains(e.Error, "status provider") {
			recorded = true
		}
	}
	if !recorded {
		t.Fatal("provider failure not audited")
	}
}

func TestVMCommand(t *testing.T) {
	t.Parallel()
	src := &fakeStatus{hosts: testHosts()}
	sender := &fakeSender{}
	r := newTestRouter(src, sender, &memSink{}, []int64{42})

	t.Run("found", func(t *testing.T) {
		r.Handle(context.Background(), transport.Update{ChatID: 42, Text: "/vm web-02"})
		got := sender.last(t)
		if !strings.Contains(got.text, "web-02") || !strings.Contains(got.text, "CPU: 95%") {
			t.Fatalf("vm reply = %q", got.text)
		}
	})

	t.Run("offline host", func(t *testing.T) {
		r.Handle(context.Background(), transport.Update{ChatID: 42, Text: "/vm db-01"})
		if got := sender.last(t); !strings.Contains(got.text, "offline") {
			t.Fatalf("vm reply = %q", got.text)
		}
	})

	t.Run("unknown host", func(t *testing.T) {
		r.Handle(context.Background(), transport.Update{ChatID: 42, Text: "/vm unknownhost"})
		if got := sender.last(t); !strings.Contains(got.text, "not found") {
			t.Fatalf("vm reply = %q, want not-found message", got.text)
		}
	})

	t.Run("missing argument", func(t *testing.T) {
		r.Handle(context.Background(), transport.Update{ChatID: 42, Text: "/vm"})
		if got := sender.last(t); got.text != usageVMText {
			t.Fatalf("vm reply = %q, want usage", got.text)
		}
		// no wasted provider round-trip for a usage error
	})
}

func TestApplySwapsAllowList(t *testing.T) {
	t.Parallel()
	src := &fakeStatus{hosts: testHosts()}
	sender := &fakeSender{}
	r := newTestRouter(src, sender, &memSink{}, nil)

	r.Handle(context.Background(), transport.Update{ChatID: 42, Text: "/summary"})
	if got := sender.last(t); got.text != deniedText {
		t.Fatalf("expected denial before reload, got %q", got.text)
	}

	r.Apply(Config{Auth: auth.NewSnapshot(nil, []int64{42}), Thresholds: status.Thresholds{}})

	r.Handle(context.Background(), transport.Update{ChatID: 42, Text: "/summary"})
	if got := sender.last(t); !strings.Contains(got.text, "Total: 3") {
		t.Fatalf("expected summary after reload, got %q", got.text)
	}
}
