package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/signalgate/internal/application/pipeline"
	"github.com/sawpanic/signalgate/internal/config"
)

func newEvaluateCmd(root *rootOptions) *cobra.Command {
	data := &dataOptions{}
	var (
		codes  []string
		table  bool
		onlyOK bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run candidates from a market data fixture through the entry pipeline",
		Long: `Evaluate every candidate through the filter chain, confidence fusion and alpha
scoring, printing one JSON result per candidate in input order.

The regime is detected from the fixture's index bars before evaluating.

Examples:
  signalgate evaluate --fixture testdata/session.json
  signalgate evaluate -f session.json --codes 005930,000660 --at 2024-03-04T10:30:00+09:00
  signalgate evaluate -f session.json --table --allowed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			results, err := runEvaluate(cmd, cfg, data, codes)
			if err != nil {
				return err
			}
			if onlyOK {
				kept := results[:0]
				for _, r := range results {
					if r.Allowed {
						kept = append(kept, r)
					}
				}
				results = kept
			}
			if table {
				return writeResultTable(cmd.OutOrStdout(), results)
			}
			return writeJSON(cmd.OutOrStdout(), results)
		},
	}

	cmd.Flags().AddFlagSet(data.flagSet())
	cmd.Flags().StringSliceVar(&codes, "codes", nil, "Instrument codes to evaluate (default every fixture instrument)")
	cmd.Flags().BoolVar(&table, "table", false, "Print a summary table instead of JSON")
	cmd.Flags().BoolVar(&onlyOK, "allowed", false, "Only print allowed candidates")
	return cmd
}

func runEvaluate(cmd *cobra.Command, cfg *config.Config, data *dataOptions, codes []string) ([]pipeline.EvaluationResult, error) {
	now, err := data.clock()
	if err != nil {
		return nil, err
	}
	md, err := data.openMarketData(cfg, nil)
	if err != nil {
		return nil, err
	}
	if len(codes) == 0 {
		codes = md.fixture.Codes()
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("fixture has no tradable instruments")
	}

	orch := pipeline.New(config.NewStaticStore(cfg), newRegimeStore(cfg), md.set,
		pipeline.WithClock(now),
		pipeline.WithMarkets(md.fixture.Market),
		pipeline.WithProgress(cmd.ErrOrStderr()),
	)

	ctx := cmd.Context()
	state, _, err := orch.RefreshRegime(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Evaluating under the default regime")
	}
	log.Info().
		Str("regime", string(state.Regime)).
		Uint64("weight_version", state.Version).
		Int("candidates", len(codes)).
		Time("at", now()).
		Msg("Evaluating candidates")

	return orch.EvaluateBatch(ctx, codes), nil
}

func writeResultTable(out io.Writer, results []pipeline.EvaluationResult) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Code\tAllowed\tConfidence\tSize\tAlpha\tRejected at\tReason")
	fmt.Fprintln(w, "----\t-------\t----------\t----\t-----\t-----------\t------")
	for _, r := range results {
		alphaScore, level := "-", "-"
		if r.Alpha != nil {
			alphaScore = fmt.Sprintf("%+.3f", r.Alpha.Aggregate)
		}
		if r.RejectionLevel != nil {
			level = string(*r.RejectionLevel)
		}
		fmt.Fprintf(w, "%s\t%t\t%.3f\t%.2f\t%s\t%s\t%s\n",
			r.Code, r.Allowed, r.Confidence, r.PositionSizeMultiplier, alphaScore, level, strings.TrimSpace(r.RejectionReason))
	}
	return w.Flush()
}
