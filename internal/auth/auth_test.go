package auth

import "testing"

func TestAllowAPIKey(t *testing.T) {
	t.Parallel()
	s := NewSnapshot([]string{"key-a", "key-b", " "}, nil)

	tests := []struct {
		name string
		key  string
		want bool
	}{
		{name: "member", key: "key-a", want: true},
		{name: "other member", key: "key-b", want: true},
		{name: "non-member", key: "key-c", want: false},
		{name: "prefix is not a match", key: "key", want: false},
		{name: "empty key", key: "", want: false},
		{name: "whitespace entry is dropped", key: " ", want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := s.AllowAPIKey(tt.key); got != tt.want {
				t.Fatalf("AllowAPIKey(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestAllowAPIKeyFailClosed(t *testing.T) {
	t.Parallel()
	empty := NewSnapshot(nil, nil)
	if empty.AllowAPIKey("anything") {
		t.Fatal("empty key set must deny every key")
	}
	var nilSnap *Snapshot
	if nilSnap.AllowAPIKey("anything") {
		t.Fatal("nil snapshot must deny every key")
	}
}

func TestAllowChat(t *testing.T) {
	t.Parallel()
	s := NewSnapshot(nil, []int64{8243412741, 42})

	if !s.AllowChat(8243412741) {
		t.Fatal("allow-listed chat denied")
	}
	if s.AllowChat(7) {
		t.Fatal("unlisted chat allowed")
	}
}

func TestAllowChatFailClosed(t *testing.T) {
	t.Parallel()
	for _, s := range []*Snapshot{NewSnapshot(nil, nil), NewSnapshot(nil, []int64{}), nil} {
		if s.AllowChat(8243412741) {
			t.Fatal("empty/absent allow-list must deny every chat")
		}
	}
}

func TestRedactKey(t *testing.T) {
	t.Parallel()
	if got := RedactKey("supersecretkey"); got != "supersec..." {
		t.Fatalf("RedactKey = %q", got)
	}
	if got := RedactKey("abc"); got != "abc..." {
		t.Fatalf("RedactKey short = %q", got)
	}
}
