// Package status fetches the live host inventory from the external
// monitoring API and derives the views the bot commands need.
//
// Nothing here is cached: every command sees a fresh fetch.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Host is one monitored machine as reported by the status provider.
// Metric values are utilization percentages.
type Host struct {
	Hostname string    `json:"hostname"`
	Online   bool      `json:"online"`
	CPU      float64   `json:"cpu"`
	RAM      float64   `json:"ram"`
	Disk     float64   `json:"disk"`
	LastSeen time.Time `json:"last_seen"`
}

type Client struct {
	mu      sync.Mutex
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	c := &Client{}
	c.Apply(baseURL, timeout)
	return c
}

// Apply swaps the provider address and request timeout. Safe during hot-reload.
func (c *Client) Apply(baseURL string, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c.mu.Lock()
	c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	c.http = &http.Client{Timeout: timeout}
	c.mu.Unlock()
}

// ListHosts fetches the current inventory. Any transport, HTTP-status, or
// decode failure comes back as an error; callers convert it to their
// "temporarily unavailable" surface.
func (c *Client) ListHosts(ctx context.Context) ([]Host, error) {
	c.mu.Lock()
	base, hc := c.baseURL, c.http
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/hosts", http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status provider: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status provider: unexpected status %d", resp.StatusCode)
	}

	var hosts []Host
	if err := json.NewDecoder(resp.Body).Decode(&hosts); err != nil {
		return nil, fmt.Errorf("status provider: decode: %w", err)
	}
	return hosts, nil
}
