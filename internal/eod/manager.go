// Package eod decides at the end of the session which open positions may be held overnight.
// Positions are read-only here; every verdict is written to a separate Annotation.
package eod

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/signalgate/internal/domain/bars"
	"github.com/sawpanic/signalgate/internal/domain/session"
	"github.com/sawpanic/signalgate/internal/providers"
	"github.com/sawpanic/signalgate/internal/watchlist"
)

// ErrOutsideWindow is returned when no decision can be made at the given time
var ErrOutsideWindow = errors.New("outside EOD window")

// Position is the execution loop's view of an open position
type Position struct {
	Code             string  `json:"code"`
	Market           string  `json:"market"`
	EntryPrice       float64 `json:"entry_price"`
	Quantity         float64 `json:"quantity"`
	HighestPriceSeen float64 `json:"highest_price_seen"`
	TrailingActive   bool    `json:"trailing_active"`
	AllowOvernight   bool    `json:"allow_overnight"`
}

// Annotation is the EOD verdict for one position
type Annotation struct {
	Code       string     `json:"code"`
	Score      float64    `json:"score"`
	ForcedExit bool       `json:"forced_exit"`
	Reason     string     `json:"reason"`
	Breakdown  *Breakdown `json:"breakdown,omitempty"`
}

// Decision is the output of one EOD pass
type Decision struct {
	TradingDay  string                `json:"trading_day"`
	Phase       session.Phase         `json:"phase"`
	Late        bool                  `json:"late"`
	DecidedAt   time.Time             `json:"decided_at"`
	Hold        []string              `json:"hold_codes"`
	Close       []string              `json:"close_codes"`
	Watchlist   []watchlist.Entry     `json:"priority_watchlist"`
	Annotations map[string]Annotation `json:"annotations"`
	Exposure    decimal.Decimal       `json:"exposure"`
	ExposureCap decimal.Decimal       `json:"exposure_cap"`
}

// Config holds the retention policy
type Config struct {
	Scoring               ScoringConfig `yaml:"scoring"`
	MinHoldScore          float64       `yaml:"min_hold_score" default:"0.5" validate:"gte=0,lte=1"`
	MaxOvernightPositions int           `yaml:"max_overnight_positions" default:"3" validate:"min=0"`
	MaxExposurePct        float64       `yaml:"max_exposure_pct" default:"0.4" validate:"gte=0,lte=1"`
	WatchMinScore         float64       `yaml:"watch_min_score" default:"0.55" validate:"gte=0,lte=1"`
	WatchMinVolumeZ       float64       `yaml:"watch_min_volume_z" default:"1.0"`
	BarLookback           int           `yaml:"bar_lookback" default:"60" validate:"min=2"`
}

// DefaultConfig returns the production retention policy
func DefaultConfig() Config {
	return Config{
		Scoring:               DefaultScoringConfig(),
		MinHoldScore:          0.5,
		MaxOvernightPositions: 3,
		MaxExposurePct:        0.4,
		WatchMinScore:         0.55,
		WatchMinVolumeZ:       1.0,
		BarLookback:           60,
	}
}

// Candidate is an overnight-eligible position with its score and market value
type Candidate struct {
	Code  string
	Score float64
	Value decimal.Decimal
}

// Select admits candidates by score (ties by code) while both the count limit and the
// exposure cap hold. An oversized candidate is skipped in favour of smaller ones below it.
// Candidates without a positive value are never admitted and never free up exposure.
func Select(candidates []Candidate, maxCount int, exposureCap decimal.Decimal) ([]string, decimal.Decimal) {
	sorted := append([]Candidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Code < sorted[j].Code
	})

	used := decimal.Zero
	var admitted []string
	for _, c := range sorted {
		if len(admitted) >= maxCount {
			break
		}
		if !c.Value.IsPositive() {
			continue
		}
		next := used.Add(c.Value)
		if next.GreaterThan(exposureCap) {
			continue
		}
		used = next
		admitted = append(admitted, c.Code)
	}
	return admitted, used
}

// Policy is the retention policy and session calendar one EOD pass runs under
type Policy struct {
	Config   Config
	Calendar *session.Calendar
}

// PolicySource returns the current policy. The manager calls it once per Run or Phase.
type PolicySource func() (Policy, error)

// StaticPolicy always returns the same policy; nil config uses defaults
func StaticPolicy(config *Config, calendar *session.Calendar) PolicySource {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	p := Policy{Config: cfg, Calendar: calendar}
	return func() (Policy, error) { return p, nil }
}

// Manager runs at most one EOD pass per trading day and serves the cached decision afterwards
type Manager struct {
	source    PolicySource
	providers providers.Set
	store     watchlist.Store

	policyMu sync.Mutex
	active   Policy

	mu         sync.Mutex
	decision   *Decision
	onDecision []func(Decision)
}

// NewManager wires a manager with a fixed policy. A nil store keeps the watchlist in memory.
func NewManager(config *Config, calendar *session.Calendar, set providers.Set, store watchlist.Store) *Manager {
	source := StaticPolicy(config, calendar)
	initial, _ := source()
	if store == nil {
		store = watchlist.NewMemoryStore()
	}
	return &Manager{source: source, providers: set, store: store, active: initial}
}

// NewManagerWithSource wires a manager that re-reads its policy on every pass, so reloaded
// windows, caps and counts apply to the next decision. The source must yield a policy now.
func NewManagerWithSource(source PolicySource, set providers.Set, store watchlist.Store) (*Manager, error) {
	initial, err := source()
	if err != nil {
		return nil, fmt.Errorf("eod policy: %w", err)
	}
	if initial.Calendar == nil {
		return nil, errors.New("eod policy: no session calendar")
	}
	if store == nil {
		store = watchlist.NewMemoryStore()
	}
	return &Manager{source: source, providers: set, store: store, active: initial}, nil
}

// policy refreshes the active policy from the source. A failing source keeps the last good one.
func (m *Manager) policy() Policy {
	m.policyMu.Lock()
	defer m.policyMu.Unlock()
	next, err := m.source()
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("EOD policy unavailable, keeping previous")
	case next.Calendar == nil:
		log.Warn().Msg("EOD policy has no session calendar, keeping previous")
	default:
		m.active = next
	}
	return m.active
}

// OnDecision registers fn to run after every fresh decision
func (m *Manager) OnDecision(fn func(Decision)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDecision = append(m.onDecision, fn)
}

// Phase returns the session phase at now
func (m *Manager) Phase(now time.Time) session.Phase {
	return m.policy().Calendar.Phase(now)
}

// Run returns the decision of the trading day at now. The first call in EOD_CHECK_WINDOW
// computes it; a FORCE_EXIT_WINDOW call with no decision yet computes it late. Later calls on
// the same day, including after close, reuse it.
func (m *Manager) Run(ctx context.Context, positions map[string]Position, accountValue decimal.Decimal, now time.Time) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pol := m.policy()
	day := pol.Calendar.TradingDay(now)
	phase := pol.Calendar.Phase(now)
	if m.decision != nil && m.decision.TradingDay == day {
		return *m.decision, nil
	}

	switch phase {
	case session.PhaseEODCheck, session.PhaseForceExit:
	default:
		return Decision{}, fmt.Errorf("%w: phase %s at %s", ErrOutsideWindow, phase, now.In(pol.Calendar.Location()).Format("15:04"))
	}

	decision := m.decide(ctx, pol, positions, accountValue, now)
	decision.TradingDay = day
	decision.Phase = phase
	decision.Late = phase == session.PhaseForceExit

	if err := m.store.Save(ctx, day, decision.Watchlist); err != nil {
		log.Warn().Err(err).Str("day", day).Msg("Failed to save priority watchlist")
	}

	m.decision = &decision
	log.Info().
		Str("day", day).
		Str("phase", string(phase)).
		Bool("late", decision.Late).
		Strs("hold", decision.Hold).
		Int("close", len(decision.Close)).
		Int("watchlist", len(decision.Watchlist)).
		Str("exposure", decision.Exposure.StringFixed(0)).
		Str("exposure_cap", decision.ExposureCap.StringFixed(0)).
		Msg("EOD decision")

	for _, fn := range m.onDecision {
		fn(decision)
	}
	return decision, nil
}

// Last returns the cached decision, if any
func (m *Manager) Last() (Decision, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.decision == nil {
		return Decision{}, false
	}
	return *m.decision, true
}

type scored struct {
	position  Position
	price     float64
	value     decimal.Decimal
	breakdown Breakdown
}

func (m *Manager) decide(ctx context.Context, pol Policy, positions map[string]Position, accountValue decimal.Decimal, now time.Time) Decision {
	codes := make([]string, 0, len(positions))
	for code := range positions {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	exposureCap := accountValue.Mul(decimal.NewFromFloat(pol.Config.MaxExposurePct))
	decision := Decision{
		DecidedAt:   now,
		Annotations: make(map[string]Annotation, len(codes)),
		ExposureCap: exposureCap,
		Hold:        []string{},
		Close:       []string{},
		Watchlist:   []watchlist.Entry{},
	}

	eligible := make(map[string]scored)
	var candidates []Candidate
	for _, code := range codes {
		pos := positions[code]
		if pos.Code == "" {
			pos.Code = code
		}
		if !pos.AllowOvernight {
			decision.Annotations[code] = Annotation{Code: code, ForcedExit: true, Reason: "not overnight eligible"}
			continue
		}
		if pos.Quantity <= 0 {
			decision.Annotations[code] = Annotation{Code: code, ForcedExit: true, Reason: fmt.Sprintf("non-positive quantity %v", pos.Quantity)}
			continue
		}

		s := m.score(ctx, pol, pos)
		s.value = decimal.NewFromFloat(s.price).Mul(decimal.NewFromFloat(pos.Quantity))
		eligible[code] = s
		if s.breakdown.Total < pol.Config.MinHoldScore || !s.value.IsPositive() {
			continue
		}
		candidates = append(candidates, Candidate{Code: code, Score: s.breakdown.Total, Value: s.value})
	}

	hold, used := Select(candidates, pol.Config.MaxOvernightPositions, exposureCap)
	decision.Exposure = used
	admitted := make(map[string]bool, len(hold))
	for _, code := range hold {
		admitted[code] = true
	}

	for _, code := range codes {
		if admitted[code] {
			s := eligible[code]
			b := s.breakdown
			decision.Hold = append(decision.Hold, code)
			decision.Annotations[code] = Annotation{Code: code, Score: b.Total, Reason: "held overnight: " + b.Reason, Breakdown: &b}
			continue
		}
		decision.Close = append(decision.Close, code)

		s, ok := eligible[code]
		if !ok {
			continue
		}
		b := s.breakdown
		reason := b.Reason
		switch {
		case b.Total == 0:
		case !s.value.IsPositive():
			reason = fmt.Sprintf("non-positive position value %s", s.value.String())
		case b.Total < pol.Config.MinHoldScore:
			reason = fmt.Sprintf("score %.2f below hold minimum %.2f", b.Total, pol.Config.MinHoldScore)
		default:
			reason = fmt.Sprintf("score %.2f not admitted under count or exposure cap", b.Total)
		}
		decision.Annotations[code] = Annotation{Code: code, Score: b.Total, ForcedExit: true, Reason: reason, Breakdown: &b}

		if b.Total >= pol.Config.WatchMinScore && b.NearHigh && b.VolumeZ >= pol.Config.WatchMinVolumeZ {
			decision.Watchlist = append(decision.Watchlist, watchlist.Entry{
				Code:       code,
				Market:     s.position.Market,
				PriorClose: s.price,
				Score:      b.Total,
				TradingDay: pol.Calendar.TradingDay(now),
				AddedAt:    now,
			})
		}
	}
	return decision
}

// score gathers the snapshot of one position. Data failures yield a zero score with a reason.
func (m *Manager) score(ctx context.Context, pol Policy, pos Position) scored {
	out := scored{position: pos}

	var series []bars.Bar
	if m.providers.Bars != nil {
		fetched, err := m.providers.Bars.FetchBars(ctx, pos.Code, pol.Config.BarLookback)
		if err != nil {
			log.Warn().Err(err).Str("code", pos.Code).Msg("EOD bars unavailable")
		} else if err := bars.Validate(fetched); err != nil {
			log.Warn().Err(err).Str("code", pos.Code).Msg("EOD bars malformed")
		} else {
			series = fetched
		}
	}

	price := 0.0
	if m.providers.Prices != nil {
		if p, err := m.providers.Prices.Price(ctx, pos.Code); err == nil && p > 0 {
			price = p
		}
	}
	if last, ok := bars.Last(series); ok && price <= 0 {
		price = last.Close
	}
	out.price = price
	if len(series) == 0 || price <= 0 {
		out.breakdown = Breakdown{Reason: "market data unavailable"}
		return out
	}

	var sentiment *float64
	if m.providers.News != nil {
		if s, err := m.providers.News.Sentiment(ctx, pos.Code); err == nil {
			sentiment = &s
		} else {
			log.Debug().Err(err).Str("code", pos.Code).Msg("Sentiment unavailable, using neutral")
		}
	}

	out.breakdown = pol.Config.Scoring.Score(Snapshot{
		Position:  pos,
		Price:     price,
		Bars:      series,
		Session:   sessionBars(pol.Calendar, series),
		Sentiment: sentiment,
	})
	return out
}

// sessionBars returns the bars sharing the trading day of the last bar
func sessionBars(calendar *session.Calendar, series []bars.Bar) []bars.Bar {
	last, ok := bars.Last(series)
	if !ok {
		return nil
	}
	day := calendar.TradingDay(last.Timestamp)
	start := len(series)
	for start > 0 && calendar.TradingDay(series[start-1].Timestamp) == day {
		start--
	}
	return series[start:]
}
