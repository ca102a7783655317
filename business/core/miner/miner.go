// Package miner implements the optional proof-of-work over closed blocks:
// a multi-worker nonce search for hashes with the required leading-zero
// prefix, and the verification path that accepts an external miner's finding
// under the blockchain lock.
package miner

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/norsh/blockchain/business/core/block"
	"github.com/norsh/blockchain/business/sys/database"
	"github.com/norsh/blockchain/business/sys/lock"
	"github.com/norsh/blockchain/business/sys/metrics"
	"github.com/norsh/blockchain/foundation/ledger/signature"
	"go.uber.org/zap"
)

// nonceBatchSize is how many nonce snapshots are handed to a worker at once.
const nonceBatchSize = 10_000

// RewardFunc credits a miner for a verified block.
type RewardFunc func(ctx context.Context, miner string, blk block.Block) error

// Config is the required properties to construct a miner core.
type Config struct {
	Log    *zap.SugaredLogger
	DB     database.Store
	Lock   *lock.Lock
	Blocks *block.Core
	Reward RewardFunc
}

// Core manages mining and verification.
type Core struct {
	log    *zap.SugaredLogger
	db     database.Store
	lock   *lock.Lock
	blocks *block.Core
	reward RewardFunc
}

// NewCore constructs a miner core from the configuration.
func NewCore(cfg Config) *Core {
	return &Core{
		log:    cfg.Log,
		db:     cfg.DB,
		lock:   cfg.Lock,
		blocks: cfg.Blocks,
		reward: cfg.Reward,
	}
}

// HashBase returns the fixed portion of the proof-of-work input for a block.
func HashBase(blk block.Block) string {
	var b strings.Builder
	b.WriteString(blk.ID)
	b.WriteString(strconv.FormatInt(blk.Timestamp, 10))
	b.WriteString(blk.MerkleRoot)
	b.WriteString(blk.PreviousBlockHash)
	b.WriteString(strconv.FormatInt(blk.MiningReleaseTimestamp, 10))

	return b.String()
}

// PowHash computes the candidate hash for a nonce vector. Mining and
// verification share this so the two can never disagree on the input form.
func PowHash(base string, nonces []int64) string {
	var b strings.Builder
	b.WriteString(base)
	for _, n := range nonces {
		b.WriteString(strconv.FormatInt(n, 10))
	}

	return signature.Sha256Of(b.String())
}

// Mine searches for a nonce vector whose hash carries the block's difficulty
// prefix. The search dispatches batches of nonce snapshots to workers; the
// first match stops the pool cooperatively. The vector grows a dimension on
// counter overflow; the search gives up when the vector exceeds
// maxNonceDepth dimensions.
func (c *Core) Mine(ctx context.Context, blk block.Block, workers int, maxNonceDepth int) (block.Block, error) {
	if blk.Mined {
		return blk, nil
	}
	if workers < 1 {
		workers = 1
	}

	prefix := strings.Repeat("0", blk.Difficulty)
	base := HashBase(blk)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mined atomic.Bool
	var mu sync.Mutex
	var winNonces []int64
	var winHash string

	batches := make(chan [][]int64, workers)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for batch := range batches {
				for _, nonces := range batch {
					if mined.Load() || ctx.Err() != nil {
						return
					}

					hash := PowHash(base, nonces)
					if !strings.HasPrefix(hash, prefix) {
						continue
					}

					mu.Lock()
					if winHash == "" {
						winNonces = nonces
						winHash = hash
					}
					mu.Unlock()

					mined.Store(true)
					cancel()
					return
				}
			}
		}()
	}

	nonces := []int64{0}

feed:
	for !mined.Load() && len(nonces) <= maxNonceDepth {
		batch := make([][]int64, 0, nonceBatchSize)
		for range nonceBatchSize {
			batch = append(batch, slices.Clone(nonces))
			incrementNonces(&nonces)
		}

		select {
		case batches <- batch:
		case <-ctx.Done():
			break feed
		}
	}

	close(batches)
	wg.Wait()

	if winHash == "" {
		return blk, nil
	}

	blk.Mined = true
	blk.Nonces = winNonces
	blk.BlockHash = winHash

	c.log.Infow("block mined", "id", blk.ID, "hash", winHash, "nonces", winNonces)

	return blk, nil
}

// incrementNonces advances the vector little-end first: the last dimension
// increments, overflow resets it and carries into the next; carry-out of the
// most significant position adds a new leading dimension.
func incrementNonces(nonces *[]int64) {
	v := *nonces
	for i := len(v) - 1; i >= 0; i-- {
		if v[i]+1 > 0 {
			v[i]++
			return
		}
		v[i] = 0
	}

	*nonces = append([]int64{0}, v...)
}

// VerifyBlockAndRewardMiner recomputes the proof-of-work for a caller's
// finding and, when it holds, marks the block mined, credits the miner, and
// releases the next block in the chain for mining. Repeated calls for an
// already-mined block return false.
func (c *Core) VerifyBlockAndRewardMiner(ctx context.Context, blockID string, nonces []int64, providedHash string, miner string) (bool, error) {
	var verified bool

	err := c.lock.Execute(ctx, block.LockName, func(ctx context.Context) error {
		blk, err := c.blocks.Get(ctx, blockID)
		if err != nil {
			return fmt.Errorf("load block %q: %w", blockID, err)
		}

		if blk.Mined {
			return nil
		}

		computed := PowHash(HashBase(blk), nonces)
		prefix := strings.Repeat("0", blk.Difficulty)

		if computed != providedHash || !strings.HasPrefix(computed, prefix) {
			return nil
		}

		// One block per number, so the number plus the mined flag is the
		// conditional that keeps a racing verify from double-applying.
		filter := database.Filter{"number": blk.Number, "mined": false}
		update := database.Update{Set: map[string]any{
			"miner":              miner,
			"mined":              true,
			"miningEndTimestamp": c.blocks.NowMs(),
			"nonces":             nonces,
			"blockHash":          providedHash,
		}}

		modified, err := c.db.UpdateOne(ctx, database.ColBlocks, filter, update)
		if err != nil {
			return fmt.Errorf("apply mining result %q: %w", blockID, err)
		}
		if modified == 0 {
			return nil
		}

		verified = true
		metrics.BlocksMined.Inc()

		if err := c.blocks.ReleaseNextForMining(ctx, blk.Height, providedHash); err != nil {
			return err
		}

		if c.reward != nil {
			if err := c.reward(ctx, miner, blk); err != nil {
				c.log.Warnw("miner reward failed", "block", blk.ID, "miner", miner, "ERROR", err)
			}
		}

		return nil
	})
	if err != nil {
		return false, err
	}

	return verified, nil
}
