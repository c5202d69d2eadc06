// Package backtest replays the live entry and exit rules over recent bars to estimate how the
// strategy has behaved on an instrument.
package backtest

import (
	"github.com/sawpanic/signalgate/internal/domain/bars"
	"github.com/sawpanic/signalgate/internal/domain/indicators"
)

// ExitReason identifies which rule closed a simulated trade. Lower values take precedence when
// several rules trigger on the same bar.
type ExitReason int

const (
	NoExit ExitReason = iota
	StopLoss
	TakeProfit
	TrailingStop
	TimeLimit
)

func (r ExitReason) String() string {
	switch r {
	case NoExit:
		return "no_exit"
	case StopLoss:
		return "stop_loss"
	case TakeProfit:
		return "take_profit"
	case TrailingStop:
		return "trailing_stop"
	case TimeLimit:
		return "time_limit"
	default:
		return "unknown"
	}
}

// Rules are the entry and exit rules shared with live trading
type Rules struct {
	EntryEMA      int     `yaml:"entry_ema" default:"20" validate:"min=2"`
	VolumeWindow  int     `yaml:"volume_window" default:"20" validate:"min=1"`
	StopLoss      float64 `yaml:"stop_loss" default:"0.02" validate:"gt=0,lt=1"`
	TakeProfit    float64 `yaml:"take_profit" default:"0.03" validate:"gt=0"`
	TrailActivate float64 `yaml:"trail_activate" default:"0.02" validate:"gt=0"`
	TrailDistance float64 `yaml:"trail_distance" default:"0.015" validate:"gt=0,lt=1"`
	MaxHoldBars   int     `yaml:"max_hold_bars" default:"10" validate:"min=1"`
}

// DefaultRules returns the production entry/exit rules
func DefaultRules() Rules {
	return Rules{
		EntryEMA:      20,
		VolumeWindow:  20,
		StopLoss:      0.02,
		TakeProfit:    0.03,
		TrailActivate: 0.02,
		TrailDistance: 0.015,
		MaxHoldBars:   10,
	}
}

// Trade is one completed simulated round trip
type Trade struct {
	EntryIndex int        `json:"entry_index"`
	ExitIndex  int        `json:"exit_index"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	Return     float64    `json:"return"`
	Reason     ExitReason `json:"reason"`
}

// Simulate replays the rules over series and returns completed trades. A trade still open on
// the last bar is not counted. Trades never overlap.
func Simulate(series []bars.Bar, rules Rules) []Trade {
	closes := bars.Closes(series)
	ema := indicators.EMASeries(closes, rules.EntryEMA)
	if len(ema) == 0 {
		return nil
	}
	// ema[k] belongs to bar k+offset
	offset := rules.EntryEMA - 1

	var trades []Trade
	start := offset + 1
	if start < rules.VolumeWindow {
		start = rules.VolumeWindow
	}
	for i := start; i < len(series); i++ {
		if !IsEntry(series, ema, offset, i, rules) {
			continue
		}
		trade, ok := runTrade(series, i, rules)
		if !ok {
			break
		}
		trades = append(trades, trade)
		i = trade.ExitIndex
	}
	return trades
}

// IsEntry reports whether bar i closes across the EMA from below on above-average volume
func IsEntry(series []bars.Bar, ema []float64, offset, i int, rules Rules) bool {
	if i-1-offset < 0 || i-offset >= len(ema) || i < rules.VolumeWindow {
		return false
	}
	prevClose, lastClose := series[i-1].Close, series[i].Close
	if prevClose > ema[i-1-offset] || lastClose <= ema[i-offset] {
		return false
	}
	avgVol := indicators.Mean(bars.Volumes(series[i-rules.VolumeWindow : i]))
	return series[i].Volume > avgVol
}

func runTrade(series []bars.Bar, entryIdx int, rules Rules) (Trade, bool) {
	entry := series[entryIdx].Close
	stop := entry * (1 - rules.StopLoss)
	target := entry * (1 + rules.TakeProfit)
	highest := entry

	for j := entryIdx + 1; j < len(series); j++ {
		bar := series[j]
		exit, reason := 0.0, NoExit

		trailing := highest >= entry*(1+rules.TrailActivate)
		trail := highest * (1 - rules.TrailDistance)
		switch {
		case bar.Low <= stop:
			exit, reason = stop, StopLoss
		case bar.High >= target:
			exit, reason = target, TakeProfit
		case trailing && bar.Low <= trail:
			exit, reason = trail, TrailingStop
		case j-entryIdx >= rules.MaxHoldBars:
			exit, reason = bar.Close, TimeLimit
		}

		if reason != NoExit {
			return Trade{
				EntryIndex: entryIdx,
				ExitIndex:  j,
				EntryPrice: entry,
				ExitPrice:  exit,
				Return:     exit/entry - 1,
				Reason:     reason,
			}, true
		}
		if bar.High > highest {
			highest = bar.High
		}
	}
	return Trade{}, false
}
