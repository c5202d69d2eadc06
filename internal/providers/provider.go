// Package providers defines the market-data collaborators the pipeline reads from and the
// resilience wrapper every live provider is called through.
package providers

import (
	"context"
	"errors"

	"github.com/sawpanic/signalgate/internal/domain/bars"
)

var (
	// ErrUnavailable marks an upstream outage; callers degrade instead of rejecting
	ErrUnavailable = errors.New("provider unavailable")
	// ErrNotFound means the provider has no data for the code
	ErrNotFound = errors.New("no data for code")
)

// BarProvider supplies ordered bars, oldest first
type BarProvider interface {
	FetchBars(ctx context.Context, code string, lookback int) ([]bars.Bar, error)
}

// PriceProvider supplies the current traded price
type PriceProvider interface {
	Price(ctx context.Context, code string) (float64, error)
}

// FlowSeries holds net-buy series per investor class, oldest first
type FlowSeries struct {
	Institutional []float64 `json:"institutional"`
	Foreign       []float64 `json:"foreign"`
}

// FlowProvider supplies institutional and foreign net buying
type FlowProvider interface {
	NetBuys(ctx context.Context, code string, lookback int) (FlowSeries, error)
}

// OrderBook is the resting volume on each side of the book
type OrderBook struct {
	BidVolume float64 `json:"bid_volume"`
	AskVolume float64 `json:"ask_volume"`
}

// Imbalance returns (bid-ask)/(bid+ask) in [-1,1]; ok is false for an empty book
func (b OrderBook) Imbalance() (float64, bool) {
	total := b.BidVolume + b.AskVolume
	if total <= 0 {
		return 0, false
	}
	return (b.BidVolume - b.AskVolume) / total, true
}

// OrderBookProvider supplies a book snapshot
type OrderBookProvider interface {
	OrderBook(ctx context.Context, code string) (OrderBook, error)
}

// NewsProvider supplies a sentiment score in [0,1], 0.5 neutral
type NewsProvider interface {
	Sentiment(ctx context.Context, code string) (float64, error)
}

// Set groups the providers a pipeline needs. Any field may be nil; stages degrade accordingly.
type Set struct {
	Bars      BarProvider
	Prices    PriceProvider
	Flows     FlowProvider
	OrderBook OrderBookProvider
	News      NewsProvider
}
