package gates

import (
	"context"
	"fmt"

	"github.com/sawpanic/signalgate/internal/domain/session"
)

// SystemConfig controls whether new entries are allowed at all
type SystemConfig struct {
	TradingEnabled bool   `yaml:"trading_enabled" default:"true"`
	EntryStart     string `yaml:"entry_start" default:"09:05" validate:"required"`
	EntryEnd       string `yaml:"entry_end" default:"15:00" validate:"required"`
}

// DefaultSystemConfig returns the production entry window
func DefaultSystemConfig() SystemConfig {
	return SystemConfig{TradingEnabled: true, EntryStart: "09:05", EntryEnd: "15:00"}
}

// SystemGate checks the kill switch, the session phase and the entry window
type SystemGate struct {
	config   SystemConfig
	calendar *session.Calendar
	start    int
	end      int
}

// NewSystemGate parses the entry window
func NewSystemGate(config SystemConfig, calendar *session.Calendar) (*SystemGate, error) {
	start, err := session.ParseClock(config.EntryStart)
	if err != nil {
		return nil, fmt.Errorf("system entry_start: %w", err)
	}
	end, err := session.ParseClock(config.EntryEnd)
	if err != nil {
		return nil, fmt.Errorf("system entry_end: %w", err)
	}
	if end <= start {
		return nil, fmt.Errorf("system entry window %s-%s is empty", config.EntryStart, config.EntryEnd)
	}
	return &SystemGate{config: config, calendar: calendar, start: start, end: end}, nil
}

func (g *SystemGate) Name() Stage { return StageSystem }

func (g *SystemGate) Check(_ context.Context, c *Candidate) FilterResult {
	if !g.config.TradingEnabled {
		return Fail("trading disabled")
	}
	if phase := g.calendar.Phase(c.Now); phase != session.PhaseOpen {
		return Failf("session phase %s accepts no entries", phase)
	}
	if m := g.calendar.MinuteOfDay(c.Now); m < g.start || m >= g.end {
		return Failf("outside entry window %s-%s", g.config.EntryStart, g.config.EntryEnd)
	}
	return Pass(1.0, "system ready")
}
