package status

import (
	"errors"
	"fmt"
)

var ErrHostNotFound = errors.New("host not found")

// Thresholds are the alerting cut-offs, sourced from configuration.
// A zero value falls back to 90%.
type Thresholds struct {
	CPU  float64
	RAM  float64
	Disk float64
}

const defaultThreshold = 90

func (t Thresholds) normalized() Thresholds {
	if t.CPU <= 0 {
		t.CPU = defaultThreshold
	}
	if t.RAM <= 0 {
		t.RAM = defaultThreshold
	}
	if t.Disk <= 0 {
		t.Disk = defaultThreshold
	}
	return t
}

// Exceeded returns the first metric at or above its threshold, as
// (resource name, value, true). Offline hosts are not inspected here;
// offline is its own alert condition.
func (t Thresholds) Exceeded(h Host) (string, float64, bool) {
	n := t.normalized()
	switch {
	case h.CPU >= n.CPU:
		return "CPU", h.CPU, true
	case h.RAM >= n.RAM:
		return "RAM", h.RAM, true
	case h.Disk >= n.Disk:
		return "Disk", h.Disk, true
	}
	return "", 0, false
}

// Summary is the aggregate view behind /summary.
type Summary struct {
	Total    int
	Online   int
	Offline  int
	Alerting int
}

// Summarize counts hosts by state. Deterministic for a given inventory
// snapshot and thresholds.
func Summarize(hosts []Host, th Thresholds) Summary {
	s := Summary{Total: len(hosts)}
	for _, h := range hosts {
		if h.Online {
			s.Online++
		} else {
			s.Offline++
		}
		if isAlerting(h, th) {
			s.Alerting++
		}
	}
	return s
}

// Alerting returns hosts that are offline or have a metric at/above its
// threshold, preserving inventory order.
func Alerting(hosts []Host, th Thresholds) []Host {
	var out []Host
	for _, h := range hosts {
		if isAlerting(h, th) {
			out = append(out, h)
		}
	}
	return out
}

func isAlerting(h Host, th Thresholds) bool {
	if !h.Online {
		return true
	}
	_, _, over := th.Exceeded(h)
	return over
}

// Find looks a host up by exact, case-sensitive hostname.
func Find(hosts []Host, hostname string) (Host, error) {
	for _, h := range hosts {
		if h.Hostname == hostname {
			return h, nil
		}
	}
	return Host{}, fmt.Errorf("%w: %q", ErrHostNotFound, hostname)
}
