package eod

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalgate/internal/domain/bars"
	"github.com/sawpanic/signalgate/internal/domain/bars/barstest"
	"github.com/sawpanic/signalgate/internal/domain/session"
	"github.com/sawpanic/signalgate/internal/providers"
	"github.com/sawpanic/signalgate/internal/watchlist"
)

// strongBars rises steadily and ends on a volume surge at the session high
func strongBars() []bars.Bar {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + 0.5*float64(i)
	}
	series := barstest.FromCloses(closes, 1000)
	for i := range series {
		if i%2 == 0 {
			series[i].Volume = 900
		} else {
			series[i].Volume = 1100
		}
	}
	series[len(series)-1].Volume = 5000
	return series
}

func calendar(t *testing.T) *session.Calendar {
	cal, err := session.NewCalendar(session.DefaultConfig())
	require.NoError(t, err)
	return cal
}

func seoul(t *testing.T, hour, minute int) time.Time {
	return time.Date(2026, 10, 15, hour, minute, 0, 0, calendar(t).Location())
}

func TestScoreStrongPosition(t *testing.T) {
	cfg := DefaultScoringConfig()
	series := strongBars()

	b := cfg.Score(Snapshot{
		Position: Position{Code: "AAA", EntryPrice: 100},
		Price:    series[len(series)-1].Close,
		Bars:     series,
		Session:  series,
	})

	assert.InDelta(t, 0.45, b.Trend, 1e-9)
	assert.InDelta(t, 0.3, b.Volume, 1e-9)
	assert.InDelta(t, 0.15, b.News, 1e-9, "neutral sentiment")
	assert.InDelta(t, 0.1, b.Volatility, 1e-9)
	assert.InDelta(t, 0.35, b.CloseQuality, 1e-9)
	assert.True(t, b.NearHigh)
	assert.Greater(t, b.VolumeZ, 2.0)
	assert.Equal(t, 1.0, b.Total)
}

func TestScoreNewsWeight(t *testing.T) {
	cfg := DefaultScoringConfig()
	series := strongBars()
	snap := Snapshot{Position: Position{EntryPrice: 100}, Price: 119.5, Bars: series}

	bullish := 1.0
	snap.Sentiment = &bullish
	assert.InDelta(t, 0.3, cfg.Score(snap).News, 1e-9)

	bearish := 0.0
	snap.Sentiment = &bearish
	assert.Equal(t, 0.0, cfg.Score(snap).News)
}

func TestScoreLossRule(t *testing.T) {
	cfg := DefaultScoringConfig()
	series := strongBars()
	rng := rand.New(rand.NewSource(3))

	for i := 0; i < 500; i++ {
		entry := 50 + rng.Float64()*100
		// anywhere from a 20% loss up to just under the minimum profit
		price := entry * (0.8 + rng.Float64()*(0.2+cfg.MinProfitPct*0.999))
		b := cfg.Score(Snapshot{Position: Position{EntryPrice: entry}, Price: price, Bars: series, Session: series})
		require.Equal(t, 0.0, b.Total, "entry %.4f price %.4f", entry, price)
		require.NotEmpty(t, b.Reason)
	}
}

func TestSelectSkipsOversized(t *testing.T) {
	candidates := []Candidate{
		{Code: "C", Score: 0.7, Value: decimal.NewFromInt(100)},
		{Code: "A", Score: 0.9, Value: decimal.NewFromInt(500)},
		{Code: "B", Score: 0.8, Value: decimal.NewFromInt(300)},
		{Code: "D", Score: 0.7, Value: decimal.NewFromInt(1)},
	}

	hold, used := Select(candidates, 2, decimal.NewFromInt(400))
	assert.Equal(t, []string{"B", "C"}, hold, "A does not fit, C wins the tie with D by code")
	assert.True(t, used.Equal(decimal.NewFromInt(400)))
}

func TestSelectIgnoresNonPositiveValues(t *testing.T) {
	candidates := []Candidate{
		{Code: "A", Score: 0.9, Value: decimal.NewFromInt(-500)},
		{Code: "B", Score: 0.8, Value: decimal.NewFromInt(800)},
		{Code: "C", Score: 0.7, Value: decimal.Zero},
	}

	hold, used := Select(candidates, 3, decimal.NewFromInt(400))
	assert.Empty(t, hold, "a short value must not make room for B")
	assert.True(t, used.IsZero())

	candidates = append(candidates, Candidate{Code: "D", Score: 0.6, Value: decimal.NewFromInt(400)})
	hold, used = Select(candidates, 3, decimal.NewFromInt(400))
	assert.Equal(t, []string{"D"}, hold)
	assert.True(t, used.Equal(decimal.NewFromInt(400)))
}

func TestSelectRespectsCapUnderRandomPortfolios(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 1000; i++ {
		account := decimal.NewFromFloat(1e5 + rng.Float64()*1e7)
		exposureCap := account.Mul(decimal.NewFromFloat(0.4))
		maxCount := 1 + rng.Intn(5)

		n := 1 + rng.Intn(12)
		candidates := make([]Candidate, n)
		values := make(map[string]decimal.Decimal, n)
		for j := range candidates {
			code := string(rune('A' + j))
			v := decimal.NewFromFloat(rng.Float64() * 4e6).Round(2)
			if rng.Intn(5) == 0 {
				v = v.Neg()
			}
			candidates[j] = Candidate{Code: code, Score: 0.5 + rng.Float64()*0.5, Value: v}
			values[code] = v
		}

		hold, used := Select(candidates, maxCount, exposureCap)
		require.LessOrEqual(t, len(hold), maxCount)

		sum := decimal.Zero
		for _, code := range hold {
			require.True(t, values[code].IsPositive(), "held %s at %s", code, values[code])
			sum = sum.Add(values[code])
		}
		require.True(t, sum.Equal(used))
		require.True(t, sum.LessThanOrEqual(exposureCap), "sum %s cap %s", sum, exposureCap)
	}
}

func fixture(t *testing.T) *providers.Fixture {
	series := strongBars()
	f, err := providers.NewFixture(providers.FixtureData{
		Instruments: []providers.FixtureInstrument{
			{Code: "AAA", Market: "KOSPI", Bars: series},
			{Code: "BBB", Market: "KOSPI", Bars: series},
			{Code: "CCC", Market: "KOSDAQ", Bars: series},
			{Code: "DDD", Market: "KOSPI", Bars: series},
			{Code: "EEE", Market: "KOSPI", Bars: series},
		},
	})
	require.NoError(t, err)
	return f
}

func book() map[string]Position {
	return map[string]Position{
		"AAA": {Code: "AAA", Market: "KOSPI", EntryPrice: 100, Quantity: 10, AllowOvernight: true},
		"BBB": {Code: "BBB", Market: "KOSPI", EntryPrice: 100, Quantity: 10, AllowOvernight: true},
		"CCC": {Code: "CCC", Market: "KOSDAQ", EntryPrice: 100, Quantity: 1000, AllowOvernight: true},
		"DDD": {Code: "DDD", Market: "KOSPI", EntryPrice: 200, Quantity: 10, AllowOvernight: true},
		"EEE": {Code: "EEE", Market: "KOSPI", EntryPrice: 100, Quantity: 10},
		"ZZZ": {Code: "ZZZ", Market: "KOSPI", EntryPrice: 100, Quantity: 10, AllowOvernight: true},
	}
}

func TestManagerRun(t *testing.T) {
	ctx := context.Background()
	store := watchlist.NewMemoryStore()
	m := NewManager(nil, calendar(t), fixture(t).Set(), store)

	calls := 0
	m.OnDecision(func(Decision) { calls++ })

	decision, err := m.Run(ctx, book(), decimal.NewFromInt(100000), seoul(t, 15, 12))
	require.NoError(t, err)

	assert.Equal(t, "2026-10-15", decision.TradingDay)
	assert.False(t, decision.Late)
	assert.Equal(t, []string{"AAA", "BBB"}, decision.Hold)
	assert.Equal(t, []string{"CCC", "DDD", "EEE", "ZZZ"}, decision.Close)
	assert.True(t, decision.Exposure.Equal(decimal.NewFromInt(2390)))
	assert.True(t, decision.ExposureCap.Equal(decimal.NewFromInt(40000)))

	assert.True(t, decision.Annotations["CCC"].ForcedExit)
	assert.Contains(t, decision.Annotations["CCC"].Reason, "exposure")
	assert.Equal(t, 0.0, decision.Annotations["DDD"].Score)
	assert.Contains(t, decision.Annotations["DDD"].Reason, "loss")
	assert.Equal(t, "not overnight eligible", decision.Annotations["EEE"].Reason)
	assert.Equal(t, "market data unavailable", decision.Annotations["ZZZ"].Reason)
	assert.False(t, decision.Annotations["AAA"].ForcedExit)

	require.Len(t, decision.Watchlist, 1)
	assert.Equal(t, "CCC", decision.Watchlist[0].Code)
	assert.Equal(t, "KOSDAQ", decision.Watchlist[0].Market)
	assert.Equal(t, 119.5, decision.Watchlist[0].PriorClose)

	saved, err := store.Load(ctx, "2026-10-15")
	require.NoError(t, err)
	assert.Equal(t, decision.Watchlist, saved)

	again, err := m.Run(ctx, map[string]Position{}, decimal.Zero, seoul(t, 15, 25))
	require.NoError(t, err)
	assert.Equal(t, decision.DecidedAt, again.DecidedAt, "decision reused within the day")
	assert.Equal(t, decision.Hold, again.Hold)
	assert.Equal(t, 1, calls)

	afterClose, err := m.Run(ctx, book(), decimal.NewFromInt(100000), seoul(t, 16, 0))
	require.NoError(t, err)
	assert.Equal(t, decision.Hold, afterClose.Hold)
}

func TestManagerOutsideWindow(t *testing.T) {
	m := NewManager(nil, calendar(t), fixture(t).Set(), nil)

	_, err := m.Run(context.Background(), book(), decimal.NewFromInt(100000), seoul(t, 10, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutsideWindow))

	_, ok := m.Last()
	assert.False(t, ok)
}

func TestManagerLateRunInForceWindow(t *testing.T) {
	m := NewManager(nil, calendar(t), fixture(t).Set(), nil)

	decision, err := m.Run(context.Background(), book(), decimal.NewFromInt(100000), seoul(t, 15, 22))
	require.NoError(t, err)
	assert.True(t, decision.Late)
	assert.Equal(t, session.PhaseForceExit, decision.Phase)
	assert.Equal(t, []string{"AAA", "BBB"}, decision.Hold)
}

func TestManagerCountLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOvernightPositions = 1
	m := NewManager(&cfg, calendar(t), fixture(t).Set(), nil)

	decision, err := m.Run(context.Background(), book(), decimal.NewFromInt(100000), seoul(t, 15, 12))
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA"}, decision.Hold, "ties resolved by code")
	assert.Contains(t, decision.Annotations["BBB"].Reason, "not admitted")
}

func TestManagerClosesNonPositiveQuantity(t *testing.T) {
	positions := book()
	short := positions["AAA"]
	short.Quantity = -10
	positions["AAA"] = short
	flat := positions["BBB"]
	flat.Quantity = 0
	positions["BBB"] = flat

	m := NewManager(nil, calendar(t), fixture(t).Set(), nil)
	decision, err := m.Run(context.Background(), positions, decimal.NewFromInt(100000), seoul(t, 15, 12))
	require.NoError(t, err)

	assert.NotContains(t, decision.Hold, "AAA")
	assert.NotContains(t, decision.Hold, "BBB")
	assert.Contains(t, decision.Close, "AAA")
	assert.Contains(t, decision.Close, "BBB")
	for _, code := range []string{"AAA", "BBB"} {
		a := decision.Annotations[code]
		assert.True(t, a.ForcedExit)
		assert.Contains(t, a.Reason, "non-positive quantity")
	}
	assert.True(t, decision.Exposure.GreaterThanOrEqual(decimal.Zero))
	assert.True(t, decision.Exposure.LessThanOrEqual(decision.ExposureCap))
}

func TestManagerPolicyReadPerRun(t *testing.T) {
	policy := Policy{Config: DefaultConfig(), Calendar: calendar(t)}
	var sourceErr error
	m, err := NewManagerWithSource(func() (Policy, error) { return policy, sourceErr }, fixture(t).Set(), nil)
	require.NoError(t, err)

	assert.Equal(t, session.PhaseOpen, m.Phase(seoul(t, 14, 50)))
	_, err = m.Run(context.Background(), book(), decimal.NewFromInt(100000), seoul(t, 14, 50))
	require.ErrorIs(t, err, ErrOutsideWindow)

	sessionCfg := session.DefaultConfig()
	sessionCfg.EODCheck = "14:40"
	early, err := session.NewCalendar(sessionCfg)
	require.NoError(t, err)
	policy = Policy{Config: DefaultConfig(), Calendar: early}
	policy.Config.MaxOvernightPositions = 0

	assert.Equal(t, session.PhaseEODCheck, m.Phase(seoul(t, 14, 50)))
	decision, err := m.Run(context.Background(), book(), decimal.NewFromInt(100000), seoul(t, 14, 50))
	require.NoError(t, err)
	assert.Empty(t, decision.Hold)
	assert.Contains(t, decision.Annotations["AAA"].Reason, "not admitted")

	sourceErr = errors.New("config unreadable")
	assert.Equal(t, session.PhaseEODCheck, m.Phase(seoul(t, 14, 50)), "failing source keeps the last policy")

	_, err = NewManagerWithSource(func() (Policy, error) { return Policy{}, sourceErr }, fixture(t).Set(), nil)
	assert.Error(t, err)
}
