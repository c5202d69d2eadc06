// Package session maps wall-clock time onto the trading session of the configured market.
package session

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// Phase is where the session stands for the day
type Phase string

const (
	PhaseOpen      Phase = "OPEN"
	PhaseEODCheck  Phase = "EOD_CHECK_WINDOW"
	PhaseForceExit Phase = "FORCE_EXIT_WINDOW"
	PhaseClosed    Phase = "CLOSED"
)

// Config holds the session clock in market-local HH:MM
type Config struct {
	Timezone  string `yaml:"timezone" default:"Asia/Seoul" validate:"required"`
	Open      string `yaml:"open" default:"09:00" validate:"required"`
	EODCheck  string `yaml:"eod_check" default:"15:10" validate:"required"`
	ForceExit string `yaml:"force_exit" default:"15:20" validate:"required"`
	Close     string `yaml:"close" default:"15:30" validate:"required"`
}

// DefaultConfig returns the KRX regular session
func DefaultConfig() Config {
	return Config{
		Timezone:  "Asia/Seoul",
		Open:      "09:00",
		EODCheck:  "15:10",
		ForceExit: "15:20",
		Close:     "15:30",
	}
}

// Calendar resolves phases and trading days
type Calendar struct {
	loc       *time.Location
	open      int
	eodCheck  int
	forceExit int
	close     int
}

// NewCalendar parses the config; times must be strictly increasing
func NewCalendar(cfg Config) (*Calendar, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("session timezone %q: %w", cfg.Timezone, err)
	}
	c := &Calendar{loc: loc}
	for _, field := range []struct {
		name  string
		value string
		dst   *int
	}{
		{"open", cfg.Open, &c.open},
		{"eod_check", cfg.EODCheck, &c.eodCheck},
		{"force_exit", cfg.ForceExit, &c.forceExit},
		{"close", cfg.Close, &c.close},
	} {
		m, err := ParseClock(field.value)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", field.name, err)
		}
		*field.dst = m
	}
	if !(c.open < c.eodCheck && c.eodCheck < c.forceExit && c.forceExit < c.close) {
		return nil, fmt.Errorf("session times must increase: open %s, eod_check %s, force_exit %s, close %s",
			cfg.Open, cfg.EODCheck, cfg.ForceExit, cfg.Close)
	}
	return c, nil
}

// ParseClock parses HH:MM into minutes after midnight
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Location returns the market time zone
func (c *Calendar) Location() *time.Location { return c.loc }

// MinuteOfDay returns minutes after local midnight
func (c *Calendar) MinuteOfDay(t time.Time) int {
	local := t.In(c.loc)
	return local.Hour()*60 + local.Minute()
}

// Phase returns the session phase at t
func (c *Calendar) Phase(t time.Time) Phase {
	m := c.MinuteOfDay(t)
	switch {
	case m < c.open || m >= c.close:
		return PhaseClosed
	case m >= c.forceExit:
		return PhaseForceExit
	case m >= c.eodCheck:
		return PhaseEODCheck
	default:
		return PhaseOpen
	}
}

// TradingDay returns the local date of t as YYYY-MM-DD
func (c *Calendar) TradingDay(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}
