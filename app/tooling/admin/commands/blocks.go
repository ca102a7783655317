package commands

import (
	"context"

	"github.com/norsh/blockchain/business/core/block"
	"github.com/norsh/blockchain/business/sys/sequence"
	"github.com/spf13/cobra"
)

var blockByTx string

var blockCmd = &cobra.Command{
	Use:   "block [id]",
	Short: "Show a block by id, or by one of its transactions with --tx",
	Args:  cobra.MaximumNArgs(1),
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

		blocks := block.NewCore(block.Config{
			Log:       log,
			DB:        db,
			Sequences: sequence.NewStore(log, db),
		})

		var blk block.Block
		switch {
		case blockByTx != "":
			blk, err = blocks.FindByTransactionID(ctx, blockByTx)
		case len(args) == 1:
			blk, err = blocks.Get(ctx, args[0])
		default:
			return cmd.Usage()
		}
		if err != nil {
			return err
		}

		return printJSON(blk)
	},
}

func init() {
	blockCmd.Flags().StringVar(&blockByTx, "tx", "", "locate the block holding this transaction id")
	rootCmd.AddCommand(blockCmd)
}
