package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/sawpanic/signalgate/internal/domain/bars"
)

// FixtureInstrument is one instrument in a fixture file. Pointer fields are optional; a nil
// value makes the matching provider call report ErrNotFound.
type FixtureInstrument struct {
	Code      string      `json:"code"`
	Market    string      `json:"market"`
	Bars      []bars.Bar  `json:"bars"`
	Price     float64     `json:"price,omitempty"`
	Flows     *FlowSeries `json:"flows,omitempty"`
	Book      *OrderBook  `json:"order_book,omitempty"`
	Sentiment *float64    `json:"sentiment,omitempty"`
}

// FixtureData is the on-disk fixture layout
type FixtureData struct {
	Index       string              `json:"index"`
	Instruments []FixtureInstrument `json:"instruments"`
}

// Fixture serves every provider interface from static data, for offline runs and tests
type Fixture struct {
	index       string
	instruments map[string]FixtureInstrument
}

// LoadFixture reads and validates a JSON fixture file
func LoadFixture(path string) (*Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var data FixtureData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode fixture %s: %w", path, err)
	}
	return NewFixture(data)
}

// NewFixture validates data and indexes it by code
func NewFixture(data FixtureData) (*Fixture, error) {
	f := &Fixture{index: data.Index, instruments: make(map[string]FixtureInstrument, len(data.Instruments))}
	for _, inst := range data.Instruments {
		if inst.Code == "" {
			return nil, fmt.Errorf("fixture instrument without code")
		}
		if _, dup := f.instruments[inst.Code]; dup {
			return nil, fmt.Errorf("fixture instrument %s listed twice", inst.Code)
		}
		if err := bars.Validate(inst.Bars); err != nil {
			return nil, fmt.Errorf("fixture instrument %s: %w", inst.Code, err)
		}
		f.instruments[inst.Code] = inst
	}
	return f, nil
}

// Set exposes the fixture as a provider set
func (f *Fixture) Set() Set {
	return Set{Bars: f, Prices: f, Flows: f, OrderBook: f, News: f}
}

// Index returns the market index code, empty when the fixture has none
func (f *Fixture) Index() string { return f.index }

// Codes returns tradable instrument codes, index excluded, sorted
func (f *Fixture) Codes() []string {
	codes := make([]string, 0, len(f.instruments))
	for code := range f.instruments {
		if code != f.index {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes
}

// Market returns the market an instrument trades on
func (f *Fixture) Market(code string) string {
	return f.instruments[code].Market
}

func (f *Fixture) lookup(code string) (FixtureInstrument, error) {
	inst, ok := f.instruments[code]
	if !ok {
		return FixtureInstrument{}, fmt.Errorf("fixture %s: %w", code, ErrNotFound)
	}
	return inst, nil
}

// FetchBars returns a copy of the last lookback bars
func (f *Fixture) FetchBars(_ context.Context, code string, lookback int) ([]bars.Bar, error) {
	inst, err := f.lookup(code)
	if err != nil {
		return nil, err
	}
	tail := inst.Bars
	if lookback > 0 {
		tail = bars.Tail(inst.Bars, lookback)
	}
	return append([]bars.Bar(nil), tail...), nil
}

// Price returns the fixture price, falling back to the last close
func (f *Fixture) Price(_ context.Context, code string) (float64, error) {
	inst, err := f.lookup(code)
	if err != nil {
		return 0, err
	}
	if inst.Price > 0 {
		return inst.Price, nil
	}
	if last, ok := bars.Last(inst.Bars); ok {
		return last.Close, nil
	}
	return 0, fmt.Errorf("fixture %s price: %w", code, ErrNotFound)
}

// NetBuys returns the trailing lookback values of each flow series
func (f *Fixture) NetBuys(_ context.Context, code string, lookback int) (FlowSeries, error) {
	inst, err := f.lookup(code)
	if err != nil {
		return FlowSeries{}, err
	}
	if inst.Flows == nil {
		return FlowSeries{}, fmt.Errorf("fixture %s flows: %w", code, ErrNotFound)
	}
	return FlowSeries{
		Institutional: tailFloats(inst.Flows.Institutional, lookback),
		Foreign:       tailFloats(inst.Flows.Foreign, lookback),
	}, nil
}

// OrderBook returns the fixture book
func (f *Fixture) OrderBook(_ context.Context, code string) (OrderBook, error) {
	inst, err := f.lookup(code)
	if err != nil {
		return OrderBook{}, err
	}
	if inst.Book == nil {
		return OrderBook{}, fmt.Errorf("fixture %s order book: %w", code, ErrNotFound)
	}
	return *inst.Book, nil
}

// Sentiment returns the fixture sentiment score
func (f *Fixture) Sentiment(_ context.Context, code string) (float64, error) {
	inst, err := f.lookup(code)
	if err != nil {
		return 0, err
	}
	if inst.Sentiment == nil {
		return 0, fmt.Errorf("fixture %s sentiment: %w", code, ErrNotFound)
	}
	return *inst.Sentiment, nil
}

func tailFloats(values []float64, n int) []float64 {
	if n > 0 && len(values) > n {
		values = values[len(values)-n:]
	}
	return append([]float64(nil), values...)
}
