package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/aydinguven/message-relay/internal/status"
)

const helpText = `🤖 *VM Status Bot*

Commands:
/summary - online/offline/alerting counts
/alerts - hosts needing attention
/detailed - full metrics for every host
/vm <hostname> - metrics for one host
/help - this message`

const deniedText = "⛔ You are not authorized to use this bot."

const unavailableText = "⚠️ Status temporarily unavailable, please try again later."

const usageVMText = "Usage: /vm <hostname>"

func formatSummary(s status.Summary, dashboardURL string) string {
	var b strings.Builder
	b.WriteString("📊 *VM Status Summary*\n")
	fmt.Fprintf(&b, "Total: %d\n", s.Total)
	fmt.Fprintf(&b, "🟢 Online: %d\n", s.Online)
	fmt.Fprintf(&b, "🔴 Offline: %d\n", s.Offline)
	fmt.Fprintf(&b, "⚠️ Alerting: %d", s.Alerting)
	if dashboardURL != "" {
		b.WriteString("\n📈 ")
		b.WriteString(dashboardURL)
	}
	return b.String()
}

func formatAlerts(alerting []status.Host, th status.Thresholds) string {
	if len(alerting) == 0 {
		return "✅ No issues detected, all hosts healthy."
	}
	lines := make([]string, 0, len(alerting)+1)
	lines = append(lines, fmt.Sprintf("🚨 *%d host(s) need attention*", len(alerting)))
	for _, h := range alerting {
		lines = append(lines, alertLine(h, th))
	}
	return strings.Join(lines, "\n")
}

func alertLine(h status.Host, th status.Thresholds) string {
	if !h.Online {
		return fmt.Sprintf("⛔ *%s* offline, last seen %s", h.Hostname, formatLastSeen(h.LastSeen))
	}
	if res, val, over := th.Exceeded(h); over {
		return fmt.Sprintf("🔴 *%s* %s at %.0f%%", h.Hostname, res, val)
	}
	// Shouldn't happen for a member of the alerting set; keep it visible anyway.
	return fmt.Sprintf("⚠️ *%s*", h.Hostname)
}

func formatDetailed(hosts []status.Host, th status.Thresholds) string {
	if len(hosts) == 0 {
		return "No hosts reported by the status provider."
	}
	blocks := make([]string, 0, len(hosts)+1)
	blocks = append(blocks, "🖥 *All Hosts*")
	for _, h := range hosts {
		blocks = append(blocks, formatHost(h, th))
	}
	return strings.Join(blocks, "\n\n")
}

func formatHost(h status.Host, th status.Thresholds) string {
	if !h.Online {
		return fmt.Sprintf("⛔ *%s*\nStatus: offline\nLast seen: %s",
			h.Hostname, formatLastSeen(h.LastSeen))
	}
	state := "🟢 healthy"
	if res, val, over := th.Exceeded(h); over {
		state = fmt.Sprintf("🔴 alerting (%s at %.0f%%)", res, val)
	}
	return fmt.Sprintf("*%s*\nStatus: %s\nCPU: %.0f%% | RAM: %.0f%% | Disk: %.0f%%",
		h.Hostname, state, h.CPU, h.RAM, h.Disk)
}

func formatNotFound(hostname string) string {
	return fmt.Sprintf("❓ Host %q not found. Try /detailed to list all hosts.", hostname)
}

func formatLastSeen(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format("2006-01-02 15:04")
}
