package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/sawpanic/signalgate/internal/config"
)

func newEODCmd(root *rootOptions) *cobra.Command {
	data := &dataOptions{}
	var (
		positionsPath string
		account       string
	)

	cmd := &cobra.Command{
		Use:   "eod",
		Short: "Decide which open positions may be held overnight",
		Long: `Score open positions near the close and select holds under the overnight exposure
cap. The remaining positions are closed and the top holds form the priority watchlist
for the next session.

--positions is a JSON object keyed by instrument code:
  {"005930": {"entry_price": 70000, "quantity": 10, "highest_price_seen": 72000}}

Examples:
  signalgate eod -f session.json --positions positions.json --account 100000000 --at 2024-03-04T15:10:00+09:00`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			now, err := data.clock()
			if err != nil {
				return err
			}
			accountValue, err := decimal.NewFromString(account)
			if err != nil {
				return fmt.Errorf("invalid --account %q: %w", account, err)
			}
			if !accountValue.IsPositive() {
				return fmt.Errorf("--account must be positive, got %s", account)
			}
			positions, err := readPositions(positionsPath)
			if err != nil {
				return err
			}
			md, err := data.openMarketData(cfg, nil)
			if err != nil {
				return err
			}
			for code, p := range positions {
				if p.Market == "" {
					p.Market = md.fixture.Market(code)
					positions[code] = p
				}
			}

			ctx := cmd.Context()
			manager, err := newEODManager(ctx, config.NewStaticStore(cfg), md.set)
			if err != nil {
				return err
			}
			decision, err := manager.Run(ctx, positions, accountValue, now())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), decision)
		},
	}

	cmd.Flags().AddFlagSet(data.flagSet())
	cmd.Flags().StringVar(&positionsPath, "positions", "", "JSON file of open positions keyed by code")
	cmd.Flags().StringVar(&account, "account", "", "Account value used for the exposure cap")
	_ = cmd.MarkFlagRequired("positions")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}
