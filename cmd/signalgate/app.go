package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/sawpanic/signalgate/internal/config"
	"github.com/sawpanic/signalgate/internal/domain/regime"
	"github.com/sawpanic/signalgate/internal/domain/session"
	"github.com/sawpanic/signalgate/internal/eod"
	"github.com/sawpanic/signalgate/internal/metrics"
	"github.com/sawpanic/signalgate/internal/providers"
	"github.com/sawpanic/signalgate/internal/watchlist"
)

// dataOptions select the market data source and the evaluation time
type dataOptions struct {
	fixture string
	at      string
	guarded bool
}

func (d *dataOptions) flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("data", pflag.ContinueOnError)
	fs.StringVarP(&d.fixture, "fixture", "f", "", "JSON market data fixture (default providers.fixture)")
	fs.StringVar(&d.at, "at", "", "Evaluation time, RFC3339 (default now)")
	fs.BoolVar(&d.guarded, "guarded", true, "Call providers through the breaker, limiter and retry guard")
	return fs
}

// clock returns the evaluation time source
func (d *dataOptions) clock() (func() time.Time, error) {
	if d.at == "" {
		return time.Now, nil
	}
	at, err := time.Parse(time.RFC3339, d.at)
	if err != nil {
		return nil, fmt.Errorf("invalid --at %q: %w", d.at, err)
	}
	return func() time.Time { return at }, nil
}

// marketData is the provider set a command runs against
type marketData struct {
	fixture *providers.Fixture
	set     providers.Set
	guards  []*providers.Guard
}

// openMarketData loads the fixture and optionally wraps it with guards reporting to reg
func (d *dataOptions) openMarketData(cfg *config.Config, reg *metrics.Registry) (*marketData, error) {
	path := d.fixture
	if path == "" {
		path = cfg.Providers.Fixture
	}
	if path == "" {
		return nil, errors.New("no market data source: pass --fixture or set providers.fixture")
	}

	fixture, err := providers.LoadFixture(path)
	if err != nil {
		return nil, err
	}
	if idx := fixture.Index(); idx != "" && idx != cfg.Pipeline.IndexCode {
		log.Info().Str("config_index", cfg.Pipeline.IndexCode).Str("fixture_index", idx).Msg("Using fixture market index")
		cfg.Pipeline.IndexCode = idx
	}

	md := &marketData{fixture: fixture, set: fixture.Set()}
	if d.guarded {
		var onState providers.StateFunc
		if reg != nil {
			onState = reg.BreakerChanged
		}
		md.set = providers.Guarded(md.set, &cfg.Providers.Guard, onState)
		md.guards = providers.Guards(md.set)
	}
	log.Info().Str("fixture", path).Int("instruments", len(fixture.Codes())).Msg("Market data fixture loaded")
	return md, nil
}

func openWatchlist(ctx context.Context, cfg *config.Config) (watchlist.Store, error) {
	if cfg.Watchlist.Backend != "redis" {
		return watchlist.NewMemoryStore(), nil
	}
	store, err := watchlist.DialRedis(ctx, cfg.Watchlist.Redis)
	if err != nil {
		return nil, fmt.Errorf("watchlist: %w", err)
	}
	log.Info().Str("addr", cfg.Watchlist.Redis.Addr).Msg("Watchlist stored in Redis")
	return store, nil
}

func newRegimeStore(cfg *config.Config) *regime.Store {
	return regime.NewStore(regime.NewWeightAdjuster(&cfg.Regime.Adjuster))
}

// newEODManager follows configs: each EOD pass uses the retention policy and session windows
// of the current snapshot. The watchlist backend is chosen once from the initial snapshot.
func newEODManager(ctx context.Context, configs *config.Store, set providers.Set) (*eod.Manager, error) {
	store, err := openWatchlist(ctx, configs.Current())
	if err != nil {
		return nil, err
	}
	return eod.NewManagerWithSource(eodPolicy(configs), set, store)
}

// eodPolicy builds the session calendar once per configuration snapshot
func eodPolicy(configs *config.Store) eod.PolicySource {
	var (
		mu     sync.Mutex
		seen   *config.Config
		policy eod.Policy
	)
	return func() (eod.Policy, error) {
		cfg := configs.Current()
		mu.Lock()
		defer mu.Unlock()
		if cfg == seen {
			return policy, nil
		}
		calendar, err := session.NewCalendar(cfg.Session)
		if err != nil {
			return eod.Policy{}, fmt.Errorf("session calendar: %w", err)
		}
		seen = cfg
		policy = eod.Policy{Config: cfg.EOD, Calendar: calendar}
		return policy, nil
	}
}

// readPositions decodes a JSON object of code to position
func readPositions(path string) (map[string]eod.Position, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}
	var positions map[string]eod.Position
	if err := json.Unmarshal(raw, &positions); err != nil {
		return nil, fmt.Errorf("decode positions %s: %w", path, err)
	}
	for code, p := range positions {
		if p.Code == "" {
			p.Code = code
			positions[code] = p
		}
	}
	return positions, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
