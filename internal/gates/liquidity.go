package gates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalgate/internal/data/cache"
	"github.com/sawpanic/signalgate/internal/domain/indicators"
	"github.com/sawpanic/signalgate/internal/providers"
)

// LiquidityConfig sets the flow and order-book thresholds
type LiquidityConfig struct {
	Lookback           int           `yaml:"lookback" default:"20" validate:"min=2"`
	InstitutionalZ     float64       `yaml:"institutional_z" default:"1.0" validate:"gt=0"`
	ForeignZ           float64       `yaml:"foreign_z" default:"1.0" validate:"gt=0"`
	Imbalance          float64       `yaml:"imbalance" default:"0.1" validate:"gt=0"`
	CacheTTL           time.Duration `yaml:"cache_ttl" default:"1m"`
	DegradedConfidence float64       `yaml:"degraded_confidence" default:"0.5" validate:"gte=0,lte=1"`
}

// DefaultLiquidityConfig returns the production thresholds
func DefaultLiquidityConfig() LiquidityConfig {
	return LiquidityConfig{
		Lookback:           20,
		InstitutionalZ:     1.0,
		ForeignZ:           1.0,
		Imbalance:          0.1,
		CacheTTL:           time.Minute,
		DegradedConfidence: 0.5,
	}
}

// LiquidityMetrics are the flow and book readings for one instrument
type LiquidityMetrics struct {
	InstitutionalZ float64 `json:"institutional_z"`
	ForeignZ       float64 `json:"foreign_z"`
	Imbalance      float64 `json:"imbalance"`
}

// LiquidityFilter requires smart-money buying and a bid-heavy book
type LiquidityFilter struct {
	config LiquidityConfig
	flows  providers.FlowProvider
	book   providers.OrderBookProvider
	cache  *cache.TTLCache[LiquidityMetrics]
}

// NewLiquidityFilter wires the providers; either may be nil, which degrades the stage.
// metrics may be shared across filter instances so config reloads keep warm entries.
func NewLiquidityFilter(config LiquidityConfig, flows providers.FlowProvider, book providers.OrderBookProvider, metrics *cache.TTLCache[LiquidityMetrics]) *LiquidityFilter {
	if metrics == nil {
		metrics = cache.NewTTLCache[LiquidityMetrics]("liquidity")
	}
	return &LiquidityFilter{config: config, flows: flows, book: book, cache: metrics}
}

func (f *LiquidityFilter) Name() Stage { return StageLiquidity }

func (f *LiquidityFilter) Check(ctx context.Context, c *Candidate) FilterResult {
	return f.CheckCode(ctx, c.Code)
}

// Metrics returns cached or freshly computed readings
func (f *LiquidityFilter) Metrics(ctx context.Context, code string) (LiquidityMetrics, error) {
	return f.cache.GetOrCompute(code, f.config.CacheTTL, func() (LiquidityMetrics, error) {
		return f.compute(ctx, code)
	})
}

// CheckCode evaluates one instrument
func (f *LiquidityFilter) CheckCode(ctx context.Context, code string) FilterResult {
	cfg := f.config
	m, err := f.Metrics(ctx, code)
	if err != nil {
		log.Debug().Str("code", code).Err(err).Msg("Liquidity data unavailable, degrading")
		return Degrade(cfg.DegradedConfidence, fmt.Sprintf("liquidity data unavailable: %v", err))
	}

	flowStrong := m.InstitutionalZ >= cfg.InstitutionalZ || m.ForeignZ >= cfg.ForeignZ
	bookStrong := m.Imbalance >= cfg.Imbalance
	if !flowStrong || !bookStrong {
		return Failf("weak liquidity: inst z %.2f foreign z %.2f imbalance %.2f", m.InstitutionalZ, m.ForeignZ, m.Imbalance)
	}

	conf := 0.4*indicators.Clip(m.InstitutionalZ/(3*cfg.InstitutionalZ), 0, 1) +
		0.3*indicators.Clip(m.ForeignZ/(3*cfg.ForeignZ), 0, 1) +
		0.3*indicators.Clip(m.Imbalance/(3*cfg.Imbalance), 0, 1)
	return Passf(conf, "inst z %.2f foreign z %.2f imbalance %.2f", m.InstitutionalZ, m.ForeignZ, m.Imbalance)
}

var errNoProvider = errors.New("provider not configured")

func (f *LiquidityFilter) compute(ctx context.Context, code string) (LiquidityMetrics, error) {
	if f.flows == nil || f.book == nil {
		return LiquidityMetrics{}, fmt.Errorf("%w: %w", providers.ErrUnavailable, errNoProvider)
	}

	series, err := f.flows.NetBuys(ctx, code, f.config.Lookback+1)
	if err != nil {
		return LiquidityMetrics{}, fmt.Errorf("net buys: %w", err)
	}
	inst, err := flowZ(series.Institutional, f.config.Lookback)
	if err != nil {
		return LiquidityMetrics{}, fmt.Errorf("institutional flow: %w", err)
	}
	foreign, err := flowZ(series.Foreign, f.config.Lookback)
	if err != nil {
		return LiquidityMetrics{}, fmt.Errorf("foreign flow: %w", err)
	}

	book, err := f.book.OrderBook(ctx, code)
	if err != nil {
		return LiquidityMetrics{}, fmt.Errorf("order book: %w", err)
	}
	imbalance, ok := book.Imbalance()
	if !ok {
		return LiquidityMetrics{}, fmt.Errorf("order book: %w: empty book", providers.ErrUnavailable)
	}

	return LiquidityMetrics{InstitutionalZ: inst, ForeignZ: foreign, Imbalance: imbalance}, nil
}

// flowZ scores the last value against up to lookback preceding values
func flowZ(values []float64, lookback int) (float64, error) {
	if len(values) < 3 {
		return 0, fmt.Errorf("%w: %d flow values", providers.ErrUnavailable, len(values))
	}
	window := len(values) - 1
	if window > lookback {
		window = lookback
	}
	z, ok := indicators.ZScoreLast(values, window)
	if !ok {
		return 0, fmt.Errorf("%w: flow window %d", providers.ErrUnavailable, window)
	}
	return z, nil
}
