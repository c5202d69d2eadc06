package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sawpanic/signalgate/internal/domain/regime"
)

func newWeightsCmd(root *rootOptions) *cobra.Command {
	var (
		volPct  float64
		asJSON  bool
		regimes []string
	)

	cmd := &cobra.Command{
		Use:   "weights",
		Short: "Print the alpha factor weights of each regime",
		Long: `Print the WeightSet the adjuster derives for each regime at the given realized
volatility percentile. Every column sums to 1.

Examples:
  signalgate weights
  signalgate weights --vol-pct 0.95 --regime HIGH_VOL --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if volPct < 0 || volPct > 1 {
				return fmt.Errorf("--vol-pct must be in [0,1], got %v", volPct)
			}
			cfg, err := root.load()
			if err != nil {
				return err
			}

			selected := regime.AllRegimes
			if len(regimes) > 0 {
				selected = make([]regime.RegimeType, 0, len(regimes))
				for _, s := range regimes {
					r, err := regime.ParseRegime(s)
					if err != nil {
						return err
					}
					selected = append(selected, r)
				}
			}

			adjuster := regime.NewWeightAdjuster(&cfg.Regime.Adjuster)
			sets := make([]regime.WeightSet, 0, len(selected))
			for _, r := range selected {
				pct := volPct
				sets = append(sets, adjuster.AdjustWeights(r, &pct))
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), sets)
			}
			return writeWeightTable(cmd.OutOrStdout(), sets)
		},
	}

	cmd.Flags().Float64Var(&volPct, "vol-pct", 0.5, "Realized volatility percentile in [0,1]")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output weight sets as JSON")
	cmd.Flags().StringSliceVar(&regimes, "regime", nil, "Regimes to print (default all)")
	return cmd
}

func writeWeightTable(out io.Writer, sets []regime.WeightSet) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprint(w, "Factor\t")
	for _, ws := range sets {
		fmt.Fprintf(w, "%s\t", ws.Regime)
	}
	fmt.Fprintln(w)
	for _, f := range regime.Factors {
		fmt.Fprintf(w, "%s\t", f)
		for _, ws := range sets {
			fmt.Fprintf(w, "%.4f\t", ws.Weight(f))
		}
		fmt.Fprintln(w)
	}
	fmt.Fprint(w, "total\t")
	for _, ws := range sets {
		fmt.Fprintf(w, "%.4f\t", ws.Total())
	}
	fmt.Fprintln(w)
	return w.Flush()
}
