package gates

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalgate/internal/providers"
)

type fakeFlows struct {
	series providers.FlowSeries
	err    error
	calls  int
}

func (f *fakeFlows) NetBuys(_ context.Context, _ string, lookback int) (providers.FlowSeries, error) {
	f.calls++
	if f.err != nil {
		return providers.FlowSeries{}, f.err
	}
	return f.series, nil
}

type fakeBook struct {
	book providers.OrderBook
	err  error
}

func (f *fakeBook) OrderBook(context.Context, string) (providers.OrderBook, error) {
	return f.book, f.err
}

func randomFlows(rng *rand.Rand) providers.FlowSeries {
	n := rng.Intn(30)
	inst := make([]float64, n)
	foreign := make([]float64, n)
	for i := 0; i < n; i++ {
		inst[i] = rng.NormFloat64() * 100
		foreign[i] = rng.NormFloat64() * 100
	}
	return providers.FlowSeries{Institutional: inst, Foreign: foreign}
}

// spike returns 20 values alternating 0 and 10 followed by last
func spike(last float64) []float64 {
	out := make([]float64, 0, 21)
	for i := 0; i < 20; i++ {
		out = append(out, float64(i%2)*10)
	}
	return append(out, last)
}

func TestLiquidityPassAndCache(t *testing.T) {
	flows := &fakeFlows{series: providers.FlowSeries{Institutional: spike(25), Foreign: spike(5)}}
	book := &fakeBook{book: providers.OrderBook{BidVolume: 600, AskVolume: 400}}
	f := NewLiquidityFilter(DefaultLiquidityConfig(), flows, book, nil)

	res := f.CheckCode(context.Background(), "005930")
	require.True(t, res.Passed, res.Reason)
	// inst z = 4 saturates 0.4, foreign z = 0, imbalance 0.2 earns 0.2
	assert.InDelta(t, 0.6, res.Confidence, 1e-9)

	f.CheckCode(context.Background(), "005930")
	assert.Equal(t, 1, flows.calls, "second check served from cache")

	m, err := f.Metrics(context.Background(), "005930")
	require.NoError(t, err)
	assert.InDelta(t, 4.0, m.InstitutionalZ, 1e-9)
}

func TestLiquidityWeakBook(t *testing.T) {
	flows := &fakeFlows{series: providers.FlowSeries{Institutional: spike(25), Foreign: spike(5)}}
	book := &fakeBook{book: providers.OrderBook{BidVolume: 520, AskVolume: 480}}
	res := NewLiquidityFilter(DefaultLiquidityConfig(), flows, book, nil).CheckCode(context.Background(), "X")
	assert.False(t, res.Passed)
	assert.Equal(t, 0.0, res.Confidence)
}

func TestLiquidityDegradesWithoutCaching(t *testing.T) {
	flows := &fakeFlows{err: providers.ErrUnavailable}
	book := &fakeBook{book: providers.OrderBook{BidVolume: 600, AskVolume: 400}}
	f := NewLiquidityFilter(DefaultLiquidityConfig(), flows, book, nil)

	res := f.CheckCode(context.Background(), "X")
	assert.True(t, res.Passed)
	assert.True(t, res.Degraded)
	assert.Equal(t, 0.5, res.Confidence)

	f.CheckCode(context.Background(), "X")
	assert.Equal(t, 2, flows.calls, "degraded results are not cached")

	book.err = errors.New("socket closed")
	flows.err = nil
	flows.series = providers.FlowSeries{Institutional: spike(25), Foreign: spike(5)}
	assert.True(t, f.CheckCode(context.Background(), "Y").Degraded)

	missing := NewLiquidityFilter(DefaultLiquidityConfig(), nil, nil, nil).CheckCode(context.Background(), "X")
	assert.True(t, missing.Degraded)
	assert.Equal(t, 0.5, missing.Confidence)
}
