// Package transport defines the messaging-provider boundary.
//
// The relay talks to exactly one provider (Telegram); the interface exists so
// the dispatch engine and the bot router can be exercised against fakes.
package transport

import "context"

// Update is one inbound message from the provider.
type Update struct {
	ChatID   int64
	FromName string // sender display name (username or first name)
	Text     string
}

// Provider sends messages and delivers inbound updates.
//
// SendText must respect ctx: a hung provider call is treated as a failed send
// for that recipient, never as a stuck request.
type Provider interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, chatID int64, text string) error

	// RegisterWebhook asks the provider to deliver updates to the given URL.
	RegisterWebhook(ctx context.Context, url string) error
}
