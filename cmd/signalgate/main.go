package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/signalgate/internal/config"
	applog "github.com/sawpanic/signalgate/internal/log"
)

const (
	appName = "signalgate"
	version = "v0.3.0"
)

// rootOptions are the persistent flags shared by every command
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:     appName,
		Short:   "Staged entry filter and end-of-day retention for equity signals",
		Version: version,
		Long: `signalgate decides per candidate whether to open a position and at what size,
running every candidate through the system, regime, universe, consensus, liquidity,
trigger and pre-trade validation stages before confidence fusion and alpha scoring.
Near the close it decides which positions may be held overnight.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file (env SIGNALGATE_CONFIG)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level override (trace|debug|info|warn|error)")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format override (auto|console|json)")

	root.AddCommand(
		newEvaluateCmd(opts),
		newEODCmd(opts),
		newWeightsCmd(opts),
		newServeCmd(opts),
	)
	return root
}

// setup loads .env, resolves the config path and configures logging
func (o *rootOptions) setup(cmd *cobra.Command) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to read .env file")
	}
	if !cmd.Flags().Changed("config") {
		o.configPath = os.Getenv("SIGNALGATE_CONFIG")
	}

	cfg, err := o.load()
	if err != nil {
		return err
	}
	level, format := cfg.Log.Level, cfg.Log.Format
	if o.logLevel != "" {
		level = o.logLevel
	}
	if o.logFormat != "" {
		format = o.logFormat
	}
	if err := applog.Setup(level, format, os.Stderr); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	log.Debug().Str("config", o.configPath).Str("version", version).Msg("Configuration loaded")
	return nil
}

// load reads a private copy of the configuration with environment overrides applied
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// store opens the reloadable configuration for long-running commands
func (o *rootOptions) store(overrides ...func(*config.Config)) (*config.Store, error) {
	return config.NewStore(o.configPath, append([]func(*config.Config){applyEnv}, overrides...)...)
}

// applyEnv lets REDIS_ADDR switch the watchlist to Redis
func applyEnv(cfg *config.Config) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Watchlist.Backend = "redis"
		cfg.Watchlist.Redis.Addr = addr
	}
}
