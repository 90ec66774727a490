package notifications

import (
	"fmt"
	"strings"
	"time"

	"github.com/frostdev-ops/pma-monitor/internal/config"
	"github.com/frostdev-ops/pma-monitor/internal/core/alerts"
)

// Frequency controls when a matched alert is delivered
type Frequency string

const (
	FrequencyImmediate Frequency = "immediate"
	FrequencyBatched   Frequency = "batched"
	FrequencyDigest    Frequency = "digest"
)

func (f Frequency) rank() int {
	switch f {
	case FrequencyBatched:
		return 1
	case FrequencyDigest:
		return 2
	default:
		return 0
	}
}

// Window limits a filter to a range of hours, [StartHour, EndHour) in the
// router's clock. A window may wrap past midnight; equal bounds cover the
// whole day.
type Window struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

// Contains reports whether t falls inside the window
func (w Window) Contains(t time.Time) bool {
	if w.StartHour == w.EndHour {
		return true
	}
	h := t.Hour()
	if w.StartHour < w.EndHour {
		return h >= w.StartHour && h < w.EndHour
	}
	return h >= w.StartHour || h < w.EndHour
}

// Filter selects alerts for a channel. Empty lists match every value.
type Filter struct {
	Severities []string  `json:"severities,omitempty"`
	Types      []string  `json:"types,omitempty"`
	Sources    []string  `json:"sources,omitempty"`
	Window     *Window   `json:"window,omitempty"`
	Frequency  Frequency `json:"frequency"`
}

// Matches reports whether the alert passes every criterion of the filter
func (f Filter) Matches(a alerts.Alert, at time.Time) bool {
	if !listMatches(f.Severities, string(a.Severity)) {
		return false
	}
	if !listMatches(f.Types, string(a.Type)) {
		return false
	}
	if !listMatches(f.Sources, a.Source.Component) {
		return false
	}
	if f.Window != nil && !f.Window.Contains(at) {
		return false
	}
	return true
}

func listMatches(list []string, value string) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}

// Channel is a configured notification destination
type Channel struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Transport string                 `json:"transport"`
	Settings  map[string]interface{} `json:"-"`
	Enabled   bool                   `json:"enabled"`
	Filters   []Filter               `json:"filters"`
	RateLimit float64                `json:"rate_limit,omitempty"`
	Burst     int                    `json:"burst,omitempty"`
}

// match returns the most immediate frequency among the filters that accept
// the alert. A channel without filters accepts no alerts; an empty Filter{}
// is the catch-all.
func (c Channel) match(a alerts.Alert, at time.Time) (Frequency, bool) {
	var best Frequency
	matched := false
	for _, f := range c.Filters {
		if !f.Matches(a, at) {
			continue
		}
		freq := f.Frequency
		if freq == "" {
			freq = FrequencyImmediate
		}
		if !matched || freq.rank() < best.rank() {
			best = freq
		}
		matched = true
	}
	return best, matched
}

// ChannelFromConfig converts a configured channel
func ChannelFromConfig(cfg config.ChannelConfig) (Channel, error) {
	ch := Channel{
		ID:        cfg.ID,
		Name:      cfg.Name,
		Transport: cfg.Transport,
		Settings:  cfg.Settings,
		Enabled:   cfg.Enabled,
		RateLimit: cfg.RateLimit,
		Burst:     cfg.Burst,
	}
	if ch.Name == "" {
		ch.Name = ch.ID
	}

	for i, fc := range cfg.Filters {
		f := Filter{
			Severities: fc.Severities,
			Types:      fc.Types,
			Sources:    fc.Sources,
			Frequency:  Frequency(fc.Frequency),
		}
		if f.Frequency == "" {
			f.Frequency = FrequencyImmediate
		}
		if fc.StartHour != nil || fc.EndHour != nil {
			if fc.StartHour == nil || fc.EndHour == nil {
				return Channel{}, fmt.Errorf("channel %s filter %d: window needs both start_hour and end_hour", cfg.ID, i)
			}
			if *fc.StartHour < 0 || *fc.StartHour > 23 || *fc.EndHour < 0 || *fc.EndHour > 24 {
				return Channel{}, fmt.Errorf("channel %s filter %d: window hours out of range", cfg.ID, i)
			}
			f.Window = &Window{StartHour: *fc.StartHour, EndHour: *fc.EndHour}
		}
		ch.Filters = append(ch.Filters, f)
	}
	return ch, nil
}
