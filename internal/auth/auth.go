// Package auth makes the relay's two authorization decisions: API-key checks
// for the outbound-send HTTP API and chat allow-list checks for bot commands.
//
// Both are fail-closed: an empty or missing set admits nobody.
package auth

import "strings"

// Snapshot is an immutable view of the authorization config. Build a new one
// on config reload; never mutate an existing snapshot.
type Snapshot struct {
	apiKeys map[string]struct{}
	chats   map[int64]struct{}
}

func NewSnapshot(apiKeys []string, chats []int64) *Snapshot {
	s := &Snapshot{
		apiKeys: make(map[string]struct{}, len(apiKeys)),
		chats:   make(map[int64]struct{}, len(chats)),
	}
	for _, k := range apiKeys {
		if k = strings.TrimSpace(k); k != "" {
			s.apiKeys[k] = struct{}{}
		}
	}
	for _, c := range chats {
		s.chats[c] = struct{}{}
	}
	return s
}

// AllowAPIKey reports whether the presented key is a configured API key.
// Exact match only; an empty key or empty key set never matches.
func (s *Snapshot) AllowAPIKey(key string) bool {
	if s == nil || key == "" {
		return false
	}
	_, ok := s.apiKeys[key]
	return ok
}

// AllowChat reports whether the chat is allow-listed for bot commands.
func (s *Snapshot) AllowChat(chatID int64) bool {
	if s == nil {
		return false
	}
	_, ok := s.chats[chatID]
	return ok
}

// RedactKey returns a short prefix of a presented key for logging.
// Never log the full key: log lines travel further than the config file.
func RedactKey(key string) string {
	const n = 8
	if len(key) <= n {
		return key + "..."
	}
	return key[:n] + "..."
}
