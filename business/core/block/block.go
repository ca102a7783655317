// Package block maintains the block timeline: opening the block for the
// current six-minute window, appending transaction references in commit
// order, and closing the previous block with its merkle root, difficulty,
// fee total, and hash chain link. Everything runs inside the blockchain lock.
package block

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/norsh/blockchain/business/sys/database"
	"github.com/norsh/blockchain/business/sys/lock"
	"github.com/norsh/blockchain/business/sys/metrics"
	"github.com/norsh/blockchain/business/sys/sequence"
	"github.com/norsh/blockchain/foundation/ledger/merkle"
	"github.com/norsh/blockchain/foundation/ledger/signature"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LockName is the canonical name of the block-timeline critical section.
const LockName = "blockchain"

// Window is the fixed width of one block on the wall clock.
const Window = 6 * time.Minute

// Config is the required properties to construct a block core.
type Config struct {
	Log            *zap.SugaredLogger
	DB             database.Store
	Lock           *lock.Lock
	Sequences      *sequence.Store
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxWait        time.Duration
	Now            func() time.Time
}

// Core manages the block timeline.
type Core struct {
	log            *zap.SugaredLogger
	db             database.Store
	lock           *lock.Lock
	seq            *sequence.Store
	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxWait        time.Duration
	now            func() time.Time
}

// NewCore constructs a block core from the configuration.
func NewCore(cfg Config) *Core {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Core{
		log:            cfg.Log,
		db:             cfg.DB,
		lock:           cfg.Lock,
		seq:            cfg.Sequences,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		maxWait:        cfg.MaxWait,
		now:            now,
	}
}

// NumberAt returns the block number for the specified millisecond timestamp.
func NumberAt(timestampMs int64) int64 {
	return timestampMs / Window.Milliseconds()
}

// Number returns the current block number.
func (c *Core) Number() int64 {
	return NumberAt(c.now().UnixMilli())
}

// NowMs returns the core's wall clock in milliseconds. Collaborators that
// stamp block documents use this so simulated clocks stay consistent.
func (c *Core) NowMs() int64 {
	return c.now().UnixMilli()
}

// AddTransaction places a committed transaction into the open block for the
// current window and returns that block's number. When no open block exists
// for the window, one is created, which closes the previous block as a side
// effect. The append retries with backoff; total waiting is capped so a
// wedged timeline surfaces as an error instead of spinning forever.
func (c *Core) AddTransaction(ctx context.Context, ref TxRef) (int64, error) {
	deadline := c.now().Add(c.maxWait)

	for attempt := 1; ; attempt++ {
		blockNumber, appended, err := c.tryAppend(ctx, ref)
		if err != nil {
			return 0, err
		}
		if appended {
			return blockNumber, nil
		}

		if c.now().After(deadline) {
			return 0, fmt.Errorf("transaction %q not placed in a block within %s", ref.ID, c.maxWait)
		}

		backoff := min(c.initialBackoff*time.Duration(attempt), c.maxBackoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// tryAppend performs one pass under the blockchain lock: push into the open
// block, or create the window's block when none exists yet.
func (c *Core) tryAppend(ctx context.Context, ref TxRef) (int64, bool, error) {
	var blockNumber int64
	var appended bool

	err := c.lock.Execute(ctx, LockName, func(ctx context.Context) error {
		n := c.Number()

		btx := Transaction{
			ID:      ref.ID,
			Ledger:  ref.Ledger,
			Element: ref.Element,
			Tax:     ref.TotalTax,
			Privacy: ref.Privacy,
		}
		if ref.Privacy {
			total := ref.Total
			btx.Volume = &total
		}

		filter := database.Filter{"number": n, "closed": false}
		update := database.Update{Push: map[string]any{"transactions": btx}}

		modified, err := c.db.UpdateOne(ctx, database.ColBlocks, filter, update)
		if err != nil {
			return fmt.Errorf("append to block %d: %w", n, err)
		}
		if modified == 1 {
			blockNumber = n
			appended = true
			return nil
		}

		// No open block took the push. Create the window's block unless a
		// (closed) one already exists, then let the retry loop land the push.
		exists, err := c.db.Exists(ctx, database.ColBlocks, database.Filter{"number": n})
		if err != nil {
			return fmt.Errorf("probe block %d: %w", n, err)
		}
		if exists {
			return nil
		}

		return c.openBlock(ctx, n)
	})
	if err != nil {
		return 0, false, err
	}

	return blockNumber, appended, nil
}

// openBlock creates the block for the window, chained behind the previous
// block, and closes the predecessor. The caller must hold the blockchain lock.
func (c *Core) openBlock(ctx context.Context, number int64) error {
	seq, err := c.seq.Get(ctx, sequence.BlockID)
	if err != nil {
		return err
	}

	previousID := seq.Data
	id := signature.HashOf(previousID, number)

	if err := c.seq.IncWithData(ctx, sequence.BlockID, id); err != nil {
		return err
	}

	blk := Block{
		ID:           id,
		PreviousID:   previousID,
		Number:       number,
		Height:       seq.Sequence,
		Closed:       false,
		Mined:        false,
		Timestamp:    c.now().UnixMilli(),
		TotalFee:     decimal.Zero,
		Transactions: []Transaction{},
	}

	if blk.PreviousID != "" {
		if err := c.closeBlock(ctx, blk.PreviousID); err != nil {
			return err
		}
	}

	if err := c.db.Save(ctx, database.ColBlocks, blk.ID, blk); err != nil {
		return fmt.Errorf("save block %d: %w", number, err)
	}

	metrics.BlocksOpened.Inc()
	c.log.Infow("block opened", "number", number, "height", blk.Height, "id", blk.ID)

	return nil
}

// closeBlock finalizes a block: merkle root, difficulty, fee total, close
// timestamp, and the link to the last mined block's hash when one exists.
func (c *Core) closeBlock(ctx context.Context, id string) error {
	blk, err := c.Get(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.log.Warnw("block to close not found", "id", id)
			return nil
		}
		return err
	}

	if blk.Closed {
		return nil
	}

	nowMs := c.now().UnixMilli()

	if blk.Height == 0 {
		blk.MiningReleaseTimestamp = nowMs
	} else {
		lastMined, found, err := c.LastMined(ctx, blk.Height)
		if err != nil {
			return err
		}
		if found && lastMined.BlockHash != "" {
			blk.PreviousBlockHash = lastMined.BlockHash
			blk.MiningReleaseTimestamp = nowMs
		}
	}

	ids := make([]string, len(blk.Transactions))
	totalFee := decimal.Zero
	for i, btx := range blk.Transactions {
		ids[i] = btx.ID
		totalFee = totalFee.Add(btx.Tax)
	}

	blk.MerkleRoot = merkle.Root(ids)
	blk.TotalFee = totalFee
	blk.Difficulty = difficulty(totalFee)
	blk.CloseTimestamp = nowMs
	blk.Closed = true

	if err := c.db.Save(ctx, database.ColBlocks, blk.ID, blk); err != nil {
		return fmt.Errorf("close block %q: %w", blk.ID, err)
	}

	metrics.BlocksClosed.Inc()
	c.log.Infow("block closed", "id", blk.ID, "number", blk.Number, "difficulty", blk.Difficulty, "totalFee", blk.TotalFee)

	return nil
}

// difficulty is twice the number of digits in the integer part of the
// block's total fee; a zero fee counts as one digit.
func difficulty(totalFee decimal.Decimal) int {
	ip := totalFee.IntPart()
	if ip <= 0 {
		return 2
	}

	return len(strconv.FormatInt(ip, 10)) * 2
}

// =============================================================================

// Get retrieves a block by id.
func (c *Core) Get(ctx context.Context, id string) (Block, error) {
	var blk Block
	if err := c.db.FindID(ctx, database.ColBlocks, id, &blk); err != nil {
		return Block{}, err
	}

	return blk, nil
}

// FindByTransactionID returns the block that holds the transaction.
func (c *Core) FindByTransactionID(ctx context.Context, txID string) (Block, error) {
	var blk Block
	if err := c.db.FindOne(ctx, database.ColBlocks, database.Filter{"transactions.id": txID}, &blk); err != nil {
		return Block{}, err
	}

	return blk, nil
}

// LastMined returns the mined block directly below the specified height.
func (c *Core) LastMined(ctx context.Context, height int64) (Block, bool, error) {
	height--
	if height < 0 {
		return Block{}, false, nil
	}

	var blk Block
	err := c.db.FindOne(ctx, database.ColBlocks, database.Filter{"height": height, "mined": true}, &blk)

	switch {
	case err == nil:
		return blk, true, nil
	case errors.Is(err, database.ErrNotFound):
		return Block{}, false, nil
	default:
		return Block{}, false, err
	}
}

// ReleaseNextForMining promotes the block above the specified height to
// mineable: if it is closed and still lacks a chain link, it receives the
// miner's block hash and a fresh mining release timestamp.
func (c *Core) ReleaseNextForMining(ctx context.Context, height int64, previousBlockHash string) error {
	filter := database.Filter{
		"height":            height + 1,
		"mined":             false,
		"closed":            true,
		"previousBlockHash": database.Exists(false),
	}

	var blk Block
	err := c.db.FindOne(ctx, database.ColBlocks, filter, &blk)

	switch {
	case errors.Is(err, database.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("find next block for mining: %w", err)
	}

	update := database.Update{Set: map[string]any{
		"miningReleaseTimestamp": c.now().UnixMilli(),
		"previousBlockHash":      previousBlockHash,
	}}

	if _, err := c.db.UpdateID(ctx, database.ColBlocks, blk.ID, update); err != nil {
		return fmt.Errorf("release block %q for mining: %w", blk.ID, err)
	}

	return nil
}
