package commands

import (
	"context"
	"fmt"
	"runtime"

	"github.com/norsh/blockchain/business/core/block"
	"github.com/norsh/blockchain/business/core/miner"
	"github.com/norsh/blockchain/business/sys/sequence"
	"github.com/spf13/cobra"
)

var (
	mineWorkers int
	mineDepth   int
)

var mineCmd = &cobra.Command{
	Use:   "mine <block-id>",
	Short: "Run a local proof-of-work search over a closed block",
	Long:  "Searches for a nonce vector satisfying the block difficulty and prints the finding. Submit it through the block.verify operation to apply it.",
	Args:  cobra.ExactArgs(1),
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

		blk, err := blocks.Get(ctx, args[0])
		if err != nil {
			return err
		}

		if !blk.Closed {
			return fmt.Errorf("block %s is still open", blk.ID)
		}
		if blk.Mined {
			return fmt.Errorf("block %s is already mined", blk.ID)
		}

		miners := miner.NewCore(miner.Config{
			Log:    log,
			DB:     db,
			Blocks: blocks,
		})

		mined, err := miners.Mine(ctx, blk, mineWorkers, mineDepth)
		if err != nil {
			return err
		}

		if !mined.Mined {
			return fmt.Errorf("no solution within the nonce depth limit")
		}

		return printJSON(struct {
			BlockID string  `json:"blockId"`
			Nonces  []int64 `json:"nonces"`
			Hash    string  `json:"hash"`
		}{
			BlockID: mined.ID,
			Nonces:  mined.Nonces,
			Hash:    mined.BlockHash,
		})
	},
}

func init() {
	mineCmd.Flags().IntVar(&mineWorkers, "workers", runtime.NumCPU(), "mining worker goroutines")
	mineCmd.Flags().IntVar(&mineDepth, "depth", 4, "maximum nonce vector depth")
	rootCmd.AddCommand(mineCmd)
}
