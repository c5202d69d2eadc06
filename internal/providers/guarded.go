package providers

import (
	"context"

	"github.com/sawpanic/signalgate/internal/domain/bars"
)

// Guarded wraps every non-nil provider in set with its own guard
func Guarded(set Set, config *GuardConfig, onState StateFunc) Set {
	out := Set{}
	if set.Bars != nil {
		out.Bars = &guardedBars{next: set.Bars, guard: NewGuard("bars", config, onState)}
	}
	if set.Prices != nil {
		out.Prices = &guardedPrices{next: set.Prices, guard: NewGuard("prices", config, onState)}
	}
	if set.Flows != nil {
		out.Flows = &guardedFlows{next: set.Flows, guard: NewGuard("flows", config, onState)}
	}
	if set.OrderBook != nil {
		out.OrderBook = &guardedBook{next: set.OrderBook, guard: NewGuard("orderbook", config, onState)}
	}
	if set.News != nil {
		out.News = &guardedNews{next: set.News, guard: NewGuard("news", config, onState)}
	}
	return out
}

type guarded interface {
	guardOf() *Guard
}

// Guards returns the guards wrapping the providers of a Guarded set, in Set field order
func Guards(set Set) []*Guard {
	var out []*Guard
	for _, p := range []interface{}{set.Bars, set.Prices, set.Flows, set.OrderBook, set.News} {
		if g, ok := p.(guarded); ok {
			out = append(out, g.guardOf())
		}
	}
	return out
}

func (p *guardedBars) guardOf() *Guard   { return p.guard }
func (p *guardedPrices) guardOf() *Guard { return p.guard }
func (p *guardedFlows) guardOf() *Guard  { return p.guard }
func (p *guardedBook) guardOf() *Guard   { return p.guard }
func (p *guardedNews) guardOf() *Guard   { return p.guard }

type guardedBars struct {
	next  BarProvider
	guard *Guard
}

func (p *guardedBars) FetchBars(ctx context.Context, code string, lookback int) ([]bars.Bar, error) {
	var out []bars.Bar
	err := p.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = p.next.FetchBars(ctx, code, lookback)
		return err
	})
	return out, err
}

type guardedPrices struct {
	next  PriceProvider
	guard *Guard
}

func (p *guardedPrices) Price(ctx context.Context, code string) (float64, error) {
	var out float64
	err := p.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = p.next.Price(ctx, code)
		return err
	})
	return out, err
}

type guardedFlows struct {
	next  FlowProvider
	guard *Guard
}

func (p *guardedFlows) NetBuys(ctx context.Context, code string, lookback int) (FlowSeries, error) {
	var out FlowSeries
	err := p.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = p.next.NetBuys(ctx, code, lookback)
		return err
	})
	return out, err
}

type guardedBook struct {
	next  OrderBookProvider
	guard *Guard
}

func (p *guardedBook) OrderBook(ctx context.Context, code string) (OrderBook, error) {
	var out OrderBook
	err := p.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = p.next.OrderBook(ctx, code)
		return err
	})
	return out, err
}

type guardedNews struct {
	next  NewsProvider
	guard *Guard
}

func (p *guardedNews) Sentiment(ctx context.Context, code string) (float64, error) {
	var out float64
	err := p.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = p.next.Sentiment(ctx, code)
		return err
	})
	return out, err
}
