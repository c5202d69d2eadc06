package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/sawpanic/signalgate/internal/application/pipeline"
	"github.com/sawpanic/signalgate/internal/config"
	"github.com/sawpanic/signalgate/internal/eod"
	apphttp "github.com/sawpanic/signalgate/internal/interfaces/http"
	"github.com/sawpanic/signalgate/internal/metrics"
)

type serveOptions struct {
	addr          string
	watchInterval time.Duration
	positionsPath string
	account       string
	eodInterval   time.Duration
}

func newServeCmd(root *rootOptions) *cobra.Command {
	data := &dataOptions{}
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics, regime and explain endpoints",
		Long: `Run signalgate as a long-lived process. The regime is re-detected from index bars on
regime.refresh_interval, the configuration file is watched for changes, and the HTTP
server exposes:

  GET /health            provider breakers and regime detection status
  GET /metrics           Prometheus metrics
  GET /regime            published regime state and weights
  GET /regime/history    recent detections
  GET /explain/{code}    full pipeline evaluation of one code
  GET /eod/last          the last EOD decision

With --positions and --account the EOD decision is made automatically in the EOD window.

Examples:
  signalgate serve -f session.json
  signalgate serve -c signalgate.yaml --addr :8080 --positions positions.json --account 100000000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, root, data, opts)
		},
	}

	cmd.Flags().AddFlagSet(data.flagSet())
	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address (default server.addr)")
	cmd.Flags().DurationVar(&opts.watchInterval, "watch-interval", 5*time.Second, "Configuration file poll interval, 0 disables reload")
	cmd.Flags().StringVar(&opts.positionsPath, "positions", "", "JSON file of open positions for the automatic EOD decision")
	cmd.Flags().StringVar(&opts.account, "account", "", "Account value used for the exposure cap")
	cmd.Flags().DurationVar(&opts.eodInterval, "eod-interval", time.Minute, "How often the EOD window is checked")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, data *dataOptions, opts *serveOptions) error {
	if data.at != "" {
		return errors.New("serve runs on the wall clock, --at is not supported")
	}
	initial, err := root.load()
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	md, err := data.openMarketData(initial, reg)
	if err != nil {
		return err
	}

	var overrides []func(*config.Config)
	if idx := md.fixture.Index(); idx != "" {
		overrides = append(overrides, func(c *config.Config) { c.Pipeline.IndexCode = idx })
	}
	if opts.addr != "" {
		overrides = append(overrides, func(c *config.Config) { c.Server.Addr = opts.addr })
	}
	configs, err := root.store(overrides...)
	if err != nil {
		return err
	}
	cfg := configs.Current()
	go configs.Watch(ctx, opts.watchInterval)

	regimes := newRegimeStore(cfg)
	orch := pipeline.New(configs, regimes, md.set,
		pipeline.WithMetrics(reg),
		pipeline.WithMarkets(md.fixture.Market),
	)
	go orch.RunRegimeRefresh(ctx, cfg.Regime.RefreshInterval)
	go orch.RunJanitors(ctx)

	manager, err := newEODManager(ctx, configs, md.set)
	if err != nil {
		return err
	}
	manager.OnDecision(reg.RecordEOD)
	if opts.positionsPath != "" {
		loop, err := newEODLoop(manager, opts)
		if err != nil {
			return err
		}
		go loop.run(ctx)
	}

	srv := apphttp.NewServer(cfg.Server, apphttp.Deps{
		Metrics:   reg,
		Regimes:   regimes,
		Detector:  orch.Detector(),
		Evaluator: orch,
		EOD:       manager,
		Guards:    md.guards,
		Version:   version,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}

// eodLoop makes the day's EOD decision once the session enters the EOD window
type eodLoop struct {
	manager   *eod.Manager
	positions map[string]eod.Position
	account   decimal.Decimal
	interval  time.Duration
	now       func() time.Time
}

func newEODLoop(manager *eod.Manager, opts *serveOptions) (*eodLoop, error) {
	positions, err := readPositions(opts.positionsPath)
	if err != nil {
		return nil, err
	}
	account, err := decimal.NewFromString(opts.account)
	if err != nil || !account.IsPositive() {
		return nil, fmt.Errorf("--positions needs a positive --account, got %q", opts.account)
	}
	if opts.eodInterval <= 0 {
		return nil, fmt.Errorf("--eod-interval must be positive, got %s", opts.eodInterval)
	}
	return &eodLoop{
		manager:   manager,
		positions: positions,
		account:   account,
		interval:  opts.eodInterval,
		now:       time.Now,
	}, nil
}

func (l *eodLoop) run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		l.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick runs the manager; outside the EOD window it is a no-op
func (l *eodLoop) tick(ctx context.Context) {
	_, err := l.manager.Run(ctx, l.positions, l.account, l.now())
	switch {
	case err == nil:
	case errors.Is(err, eod.ErrOutsideWindow):
		log.Trace().Err(err).Msg("EOD window not open")
	default:
		log.Warn().Err(err).Msg("EOD decision failed")
	}
}
