// Package pipeline sequences the filter chain, confidence fusion and alpha scoring for each
// candidate, and fans batches out over a bounded worker pool.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalgate/internal/alpha"
	"github.com/sawpanic/signalgate/internal/config"
	"github.com/sawpanic/signalgate/internal/confidence"
	"github.com/sawpanic/signalgate/internal/data/cache"
	"github.com/sawpanic/signalgate/internal/domain/bars"
	"github.com/sawpanic/signalgate/internal/domain/regime"
	"github.com/sawpanic/signalgate/internal/domain/session"
	"github.com/sawpanic/signalgate/internal/gates"
	"github.com/sawpanic/signalgate/internal/metrics"
	"github.com/sawpanic/signalgate/internal/providers"
)

const indexTTL = time.Minute

// EvaluationResult is the outcome of one candidate evaluation. A fresh value is built per call.
type EvaluationResult struct {
	ID                     uuid.UUID                          `json:"id"`
	Code                   string                             `json:"code"`
	Allowed                bool                               `json:"allowed"`
	Confidence             float64                            `json:"confidence"`
	PositionSizeMultiplier float64                            `json:"position_size_multiplier"`
	RejectionLevel         *gates.Stage                       `json:"rejection_level"`
	RejectionReason        string                             `json:"rejection_reason,omitempty"`
	Stages                 map[gates.Stage]gates.FilterResult `json:"stages"`
	Alpha                  *alpha.Result                      `json:"alpha,omitempty"`
	Regime                 regime.RegimeType                  `json:"regime"`
	WeightVersion          uint64                             `json:"weight_version"`
	EvaluatedAt            time.Time                          `json:"evaluated_at"`
	Duration               time.Duration                      `json:"duration"`
}

func (r *EvaluationResult) reject(stage gates.Stage, reason string) {
	r.Allowed = false
	r.PositionSizeMultiplier = 0
	r.RejectionLevel = &stage
	r.RejectionReason = reason
}

// FilterBuilder builds the ordered filter chain for one configuration snapshot
type FilterBuilder func(cfg *config.Config) ([]gates.Filter, error)

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithMetrics records stage, evaluation and cache metrics on reg
func WithMetrics(reg *metrics.Registry) Option {
	return func(o *Orchestrator) { o.metrics = reg }
}

// WithClock overrides the evaluation clock used for session checks
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithProgress draws batch progress on out when it is a terminal
func WithProgress(out io.Writer) Option {
	return func(o *Orchestrator) { o.progress = out }
}

// WithMarkets resolves the market of a code for batch candidates
func WithMarkets(fn func(code string) string) Option {
	return func(o *Orchestrator) { o.market = fn }
}

// WithDetector replaces the regime detector built from configuration. A supplied detector
// keeps its settings across reloads.
func WithDetector(d *regime.Detector) Option {
	return func(o *Orchestrator) { o.detector = d }
}

// WithFilters replaces the configured filter chain
func WithFilters(build FilterBuilder) Option {
	return func(o *Orchestrator) { o.build = build }
}

// chain is everything built from one configuration snapshot
type chain struct {
	cfg        *config.Config
	filters    []gates.Filter
	aggregator *confidence.Aggregator
	alphas     *alpha.Cache
}

// Orchestrator runs candidates through the chain. Each evaluation pins one configuration
// snapshot and one regime state, so reloads and regime switches never reach an evaluation
// already in flight.
type Orchestrator struct {
	configs  *config.Store
	regimes  *regime.Store
	detector *regime.Detector
	set      providers.Set
	metrics  *metrics.Registry
	now      func() time.Time
	progress io.Writer
	market   func(code string) string
	build    FilterBuilder

	liquidity *cache.TTLCache[gates.LiquidityMetrics]
	index     *cache.TTLCache[[]bars.Bar]

	mu    sync.Mutex
	chain atomic.Pointer[chain]
}

// New creates an orchestrator reading configuration from configs and weights from regimes
func New(configs *config.Store, regimes *regime.Store, set providers.Set, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		configs: configs,
		regimes: regimes,
		set:     set,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	cfg := configs.Current()
	ownDetector := o.detector == nil
	if ownDetector {
		o.detector = regime.NewDetector(&cfg.Regime.Detector)
	}
	configs.OnReload(func(next *config.Config) {
		if ownDetector {
			o.detector.Reconfigure(&next.Regime.Detector)
		}
		regimes.SetAdjuster(regime.NewWeightAdjuster(&next.Regime.Adjuster))
	})
	if o.build == nil {
		o.build = o.defaultFilters
	}

	cacheOpts := []cache.Option{cache.WithMaxEntries(cfg.Cache.MaxEntries)}
	if o.metrics != nil {
		cacheOpts = append(cacheOpts, cache.WithObserver(o.metrics.CacheLookup))
		regimes.OnChange(o.metrics.RegimeChanged)
		o.metrics.SetRegime(regimes.Current())
	}
	o.liquidity = cache.NewTTLCache[gates.LiquidityMetrics]("liquidity", cacheOpts...)
	o.index = cache.NewTTLCache[[]bars.Bar]("index", cacheOpts...)
	return o
}

// Regimes returns the regime store the orchestrator reads
func (o *Orchestrator) Regimes() *regime.Store { return o.regimes }

// Detector returns the regime detector used by RefreshRegime
func (o *Orchestrator) Detector() *regime.Detector { return o.detector }

// RunJanitors evicts expired cache entries until ctx is done
func (o *Orchestrator) RunJanitors(ctx context.Context) {
	interval := o.configs.Current().Cache.JanitorInterval
	if interval <= 0 {
		return
	}
	go o.index.RunJanitor(ctx, interval)
	o.liquidity.RunJanitor(ctx, interval)
}

func (o *Orchestrator) defaultFilters(cfg *config.Config) ([]gates.Filter, error) {
	calendar, err := session.NewCalendar(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("session calendar: %w", err)
	}
	system, err := gates.NewSystemGate(cfg.System, calendar)
	if err != nil {
		return nil, err
	}
	return []gates.Filter{
		system,
		gates.NewRegimeGate(cfg.Regime.Gate),
		gates.NewUniverseFilter(cfg.Universe),
		gates.NewConsensusFilter(cfg.Consensus),
		gates.NewLiquidityFilter(cfg.Liquidity, o.set.Flows, o.set.OrderBook, o.liquidity),
		gates.NewTriggerFilter(cfg.Trigger),
		gates.NewPreTradeValidator(cfg.Validator),
	}, nil
}

// current returns the chain for the active configuration, building it once per snapshot
func (o *Orchestrator) current() (*chain, error) {
	cfg := o.configs.Current()
	if ch := o.chain.Load(); ch != nil && ch.cfg == cfg {
		return ch, nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if ch := o.chain.Load(); ch != nil && ch.cfg == cfg {
		return ch, nil
	}

	filters, err := o.build(cfg)
	if err != nil {
		return nil, fmt.Errorf("build filter chain: %w", err)
	}
	ch := &chain{
		cfg:        cfg,
		filters:    filters,
		aggregator: confidence.NewAggregator(&cfg.Confidence),
		alphas:     alpha.NewCache(cfg.Alpha),
	}
	o.chain.Store(ch)
	log.Debug().Int("stages", len(filters)).Msg("Filter chain built for configuration snapshot")
	return ch, nil
}

// EvaluateCode fetches market data for code and evaluates it
func (o *Orchestrator) EvaluateCode(ctx context.Context, code string) EvaluationResult {
	return o.Evaluate(ctx, gates.Candidate{Code: code, Market: o.marketOf(code)})
}

// Evaluate runs one candidate through the chain. Missing bars, index bars and price are
// fetched from the providers once the system and regime gates have passed. The first failing
// stage rejects; no error or panic escapes.
func (o *Orchestrator) Evaluate(ctx context.Context, c gates.Candidate) EvaluationResult {
	started := time.Now()
	if c.Now.IsZero() {
		c.Now = o.now()
	}
	state := o.regimes.Current()
	c.Regime = state

	res := EvaluationResult{
		ID:            uuid.New(),
		Code:          c.Code,
		Stages:        make(map[gates.Stage]gates.FilterResult, len(gates.FilterStages)),
		Regime:        state.Regime,
		WeightVersion: state.Version,
		EvaluatedAt:   c.Now,
	}

	ch, err := o.current()
	if err != nil {
		res.reject(gates.StageSystem, err.Error())
		return o.finish(res, started)
	}

	loaded := false
	for _, f := range ch.filters {
		stage := f.Name()
		if !loaded && needsMarketData(stage) {
			if err := o.load(ctx, ch.cfg, &c); err != nil {
				res.reject(stage, fmt.Sprintf("market data unavailable: %v", err))
				return o.finish(res, started)
			}
			loaded = true
		}

		began := time.Now()
		r := gates.SafeCheck(ctx, f, &c)
		res.Stages[stage] = r
		if o.metrics != nil {
			o.metrics.RecordStage(stage, r, time.Since(began))
		}
		if !r.Passed {
			res.reject(stage, r.Reason)
			return o.finish(res, started)
		}
	}

	decision := ch.aggregator.Aggregate(res.Stages)
	res.Confidence = decision.Confidence
	if o.metrics != nil {
		o.metrics.RecordConfidence(decision.Confidence)
	}
	if !decision.ShouldPass {
		res.reject(gates.StageConfidence, decision.Reason)
		return o.finish(res, started)
	}

	ar, err := computeAlpha(ch.alphas.Engine(state.Weights), c.Code, alpha.Inputs{
		Bars:      c.Bars,
		IndexBars: c.IndexBars,
		Flows:     flowReadings(ctx, ch.filters, c.Code),
	})
	if err != nil {
		res.reject(gates.StageAlpha, err.Error())
		return o.finish(res, started)
	}
	res.Alpha = &ar
	if o.metrics != nil {
		o.metrics.RecordAlpha(ar.Aggregate)
	}
	if !ar.Accepted {
		res.reject(gates.StageAlpha, ar.Reason)
		return o.finish(res, started)
	}

	res.Allowed = true
	res.PositionSizeMultiplier = ch.aggregator.PositionMultiplier(decision.Confidence)
	return o.finish(res, started)
}

func (o *Orchestrator) finish(res EvaluationResult, started time.Time) EvaluationResult {
	res.Duration = time.Since(started)

	var level gates.Stage
	if res.RejectionLevel != nil {
		level = *res.RejectionLevel
	}
	if o.metrics != nil {
		o.metrics.RecordEvaluation(res.Allowed, level, res.Duration)
	}

	if res.Allowed {
		log.Info().
			Str("code", res.Code).
			Float64("confidence", res.Confidence).
			Float64("multiplier", res.PositionSizeMultiplier).
			Str("regime", string(res.Regime)).
			Msg("Candidate allowed")
	} else {
		log.Debug().
			Str("code", res.Code).
			Str("stage", string(level)).
			Str("reason", res.RejectionReason).
			Msg("Candidate rejected")
	}
	return res
}

// needsMarketData reports whether stage reads bars
func needsMarketData(stage gates.Stage) bool {
	return stage != gates.StageSystem && stage != gates.StageRegime
}

func (o *Orchestrator) marketOf(code string) string {
	if o.market == nil {
		return ""
	}
	return o.market(code)
}

// load fills the candidate's missing market data. Only the instrument's own bars are required;
// the index and the current price are optional.
func (o *Orchestrator) load(ctx context.Context, cfg *config.Config, c *gates.Candidate) error {
	if len(c.Bars) == 0 {
		series, err := o.fetchBars(ctx, c.Code, cfg.Pipeline.BarLookback)
		if err != nil {
			return err
		}
		c.Bars = series
	}
	if err := bars.Validate(c.Bars); err != nil {
		return fmt.Errorf("malformed bars: %w", err)
	}

	if c.IndexBars == nil {
		c.IndexBars = o.indexBars(ctx, cfg)
	}
	if c.CurrentPrice <= 0 && o.set.Prices != nil {
		price, err := o.set.Prices.Price(ctx, c.Code)
		if err != nil {
			log.Debug().Str("code", c.Code).Err(err).Msg("Current price unavailable, staleness check skipped")
		} else {
			c.CurrentPrice = price
		}
	}
	return nil
}

func (o *Orchestrator) fetchBars(ctx context.Context, code string, lookback int) ([]bars.Bar, error) {
	if o.set.Bars == nil {
		return nil, fmt.Errorf("bars %s: %w", code, providers.ErrUnavailable)
	}
	series, err := o.set.Bars.FetchBars(ctx, code, lookback)
	if err != nil {
		return nil, fmt.Errorf("bars %s: %w", code, err)
	}
	return series, nil
}

// indexBars returns the cached market index series, nil when unavailable
func (o *Orchestrator) indexBars(ctx context.Context, cfg *config.Config) []bars.Bar {
	code := cfg.Pipeline.IndexCode
	if code == "" {
		return nil
	}
	series, err := o.index.GetOrCompute(code, indexTTL, func() ([]bars.Bar, error) {
		return o.fetchBars(ctx, code, cfg.Pipeline.BarLookback)
	})
	if err != nil {
		log.Debug().Str("index", code).Err(err).Msg("Index bars unavailable")
		return nil
	}
	return series
}

type liquiditySource interface {
	Metrics(ctx context.Context, code string) (gates.LiquidityMetrics, error)
}

// flowReadings reuses the liquidity stage's cached metrics for the flow factors
func flowReadings(ctx context.Context, filters []gates.Filter, code string) *alpha.FlowReadings {
	for _, f := range filters {
		src, ok := f.(liquiditySource)
		if !ok {
			continue
		}
		m, err := src.Metrics(ctx, code)
		if err != nil {
			return nil
		}
		return &alpha.FlowReadings{InstitutionalZ: m.InstitutionalZ, ForeignZ: m.ForeignZ}
	}
	return nil
}

func computeAlpha(engine *alpha.Engine, code string, in alpha.Inputs) (res alpha.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().
				Str("code", code).
				Str("stage", string(gates.StageAlpha)).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Alpha computation panicked, rejecting candidate")
			err = fmt.Errorf("%s computation error: %v", gates.StageAlpha, r)
		}
	}()
	return engine.Compute(code, in), nil
}
