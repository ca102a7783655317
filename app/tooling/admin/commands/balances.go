package commands

import (
	"context"

	"github.com/norsh/blockchain/business/core/balance"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var balanceCmd = &cobra.Command{
	Use:   "balance <owner> <element>",
	Short: "Show the balance for an owner and element",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		log, err := newLogger()
		if err != nil {
			return err
		}
		defer log.Sync()

		db, cleanup, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		balances := balance.NewCore(log, db, decimal.Zero)

		bal, err := balances.Get(ctx, args[0], args[1])
		if err != nil {
			return err
		}

		return printJSON(bal)
	},
}

func init() {
	rootCmd.AddCommand(balanceCmd)
}
