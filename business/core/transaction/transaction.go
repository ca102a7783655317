// Package transaction implements transfer creation: request validation, tax
// computation, the chained append into the weekly ledger bucket, both balance
// moves, and placement into the current block. Lock order is fixed: the
// sender's balance lock encloses the element-sequence lock; the receiver's
// balance lock is taken only after the sender's is released.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/norsh/blockchain/business/core/balance"
	"github.com/norsh/blockchain/business/core/block"
	"github.com/norsh/blockchain/business/core/element"
	"github.com/norsh/blockchain/business/sys/database"
	"github.com/norsh/blockchain/business/sys/lock"
	"github.com/norsh/blockchain/business/sys/metrics"
	"github.com/norsh/blockchain/business/sys/op"
	"github.com/norsh/blockchain/business/sys/sequence"
	"github.com/norsh/blockchain/business/sys/validate"
	"github.com/norsh/blockchain/foundation/ledger/shard"
	"github.com/norsh/blockchain/foundation/ledger/signature"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// getShardDepth is how many weekly buckets a by-id lookup scans backwards.
const getShardDepth = 4

// Config is the required properties to construct a transaction core.
type Config struct {
	Log        *zap.SugaredLogger
	DB         database.Store
	Lock       *lock.Lock
	Sequences  *sequence.Store
	Balances   *balance.Core
	Blocks     *block.Core
	Elements   *element.Core
	NetworkTax decimal.Decimal // percent, e.g. 0.3
	DeductTax  bool            // when set, the sender is debited total instead of volume
	Now        func() time.Time
}

// Core manages transaction creation.
type Core struct {
	log        *zap.SugaredLogger
	db         database.Store
	lock       *lock.Lock
	seq        *sequence.Store
	balances   *balance.Core
	blocks     *block.Core
	elements   *element.Core
	networkTax decimal.Decimal
	deductTax  bool
	now        func() time.Time
}

// NewCore constructs a transaction core from the configuration.
func NewCore(cfg Config) *Core {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Core{
		log:        cfg.Log,
		db:         cfg.DB,
		lock:       cfg.Lock,
		seq:        cfg.Sequences,
		balances:   cfg.Balances,
		blocks:     cfg.Blocks,
		elements:   cfg.Elements,
		networkTax: cfg.NetworkTax,
		deductTax:  cfg.DeductTax,
		now:        now,
	}
}

// Create validates the transfer request and commits it to the ledger. The
// optional mutator runs on the draft after tax computation so callers can
// attach side data before anything is persisted.
func (c *Core) Create(ctx context.Context, nt NewTransfer, mutate Mutator) (Transaction, error) {
	if err := validate.Check(nt); err != nil {
		return Transaction{}, op.NewError(op.StatusError, err.Error())
	}

	if nt.Volume.IsZero() {
		return Transaction{}, op.NewError(op.StatusError, "volume must be positive")
	}

	if !signature.VerifyHash(nt.PublicKey, nt.Signature, nt.Hash) {
		return Transaction{}, op.NewError(op.StatusError, "signature does not match hash and public key")
	}

	elem, err := c.elements.Get(ctx, nt.Element)
	if err != nil {
		if oe, ok := op.AsError(err); ok && oe.Status == op.StatusNotFound {
			return Transaction{}, op.NewError(op.StatusError, "element not found")
		}
		return Transaction{}, err
	}

	owner, err := signature.Owner(nt.PublicKey)
	if err != nil {
		return Transaction{}, op.NewError(op.StatusError, err.Error())
	}

	nowMs := c.now().UnixMilli()

	tx := Transaction{
		Type:      TypeTransfer,
		From:      owner,
		To:        nt.To,
		Element:   nt.Element,
		Volume:    nt.Volume.Abs(),
		Nonce:     nt.Nonce,
		Hash:      nt.Hash,
		PublicKey: nt.PublicKey,
		Signature: nt.Signature,
		Timestamp: nowMs,
		Shard:     shard.Week(nowMs),
		Ledger:    shard.LedgerAt(nowMs),
		Privacy:   elem.Privacy,
		Version:   1,
	}

	// An envelope replayed by the at-least-once transport must not double
	// spend: the request hash is unique within its ledger bucket.
	exists, err := c.db.Exists(ctx, tx.Ledger, database.Filter{"hash": tx.Hash})
	if err != nil {
		return Transaction{}, fmt.Errorf("check transaction hash: %w", err)
	}
	if exists {
		return Transaction{}, op.NewError(op.StatusExists, "transaction exists")
	}

	c.computeTax(&tx, elem)

	if mutate != nil {
		mutate(&tx)
	}

	return c.commit(ctx, tx)
}

// CreateInternal commits a network-originated movement (CAPTURE or REWARD)
// without request validation. These carry no signature and, by type rule,
// no tax.
func (c *Core) CreateInternal(ctx context.Context, typ Type, from string, to string, elementID string, volume decimal.Decimal, link string) (Transaction, error) {
	elem, err := c.elements.Get(ctx, elementID)
	if err != nil {
		return Transaction{}, err
	}

	nowMs := c.now().UnixMilli()

	tx := Transaction{
		Type:      typ,
		From:      from,
		To:        to,
		Element:   elementID,
		Volume:    volume.Abs(),
		Timestamp: nowMs,
		Shard:     shard.Week(nowMs),
		Ledger:    shard.LedgerAt(nowMs),
		Privacy:   elem.Privacy,
		Version:   1,
		Link:      link,
	}
	tx.Hash = signature.HashOf(string(typ), from, to, elementID, tx.Volume, nowMs, link)

	c.computeTax(&tx, elem)

	return c.commit(ctx, tx)
}

// Get retrieves a transaction by id, scanning the current ledger bucket and
// a bounded number of prior weeks.
func (c *Core) Get(ctx context.Context, id string) (Transaction, error) {
	week := shard.Week(c.now().UnixMilli())

	for i := int64(0); i <= getShardDepth && week-i >= 0; i++ {
		var tx Transaction
		err := c.db.FindID(ctx, shard.Ledger(week-i), id, &tx)

		switch {
		case err == nil:
			return tx, nil
		case errors.Is(err, database.ErrNotFound):
			continue
		default:
			return Transaction{}, fmt.Errorf("get transaction %q: %w", id, err)
		}
	}

	return Transaction{}, op.NewError(op.StatusNotFound, "transaction not found")
}

// =============================================================================

// commit performs the locked portion of transaction creation: balance check
// and chained append under the sender's locks, the receiver credit, block
// placement, and the confirmation update.
func (c *Core) commit(ctx context.Context, tx Transaction) (Transaction, error) {
	var domainErr *op.Error

	deduct := tx.Volume
	if c.deductTax {
		deduct = tx.Total
	}

	err := c.lock.Execute(ctx, balance.BuildID(tx.From, tx.Element), func(ctx context.Context) error {
		balFrom, err := c.balances.Get(ctx, tx.From, tx.Element)
		if err != nil {
			return err
		}

		if balFrom.Amount.Cmp(tx.Total) < 0 {
			domainErr = &op.Error{
				Status:  op.StatusInsufficientBalance,
				Message: fmt.Sprintf("need %s", tx.Total),
				Data:    tx.Total.String(),
			}
			return nil
		}

		if err := c.lock.Execute(ctx, tx.Element, func(ctx context.Context) error {
			seq, err := c.seq.Get(ctx, tx.Element)
			if err != nil {
				return err
			}

			tx.PreviousID = seq.Data
			tx.ID = signature.HashOf(tx.PreviousID, tx.Hash)

			if err := c.db.Save(ctx, tx.Ledger, tx.ID, tx); err != nil {
				return fmt.Errorf("append transaction: %w", err)
			}

			return c.seq.SetData(ctx, tx.Element, tx.ID)
		}); err != nil {
			return err
		}

		if tx.ID == "" {
			domainErr = op.NewError(op.StatusError, "transaction not confirmed")
			return nil
		}

		_, err = c.balances.Set(ctx, balFrom, balFrom.Amount.Sub(deduct))
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	if domainErr != nil {
		return Transaction{}, domainErr
	}

	if err := c.lock.Execute(ctx, balance.BuildID(tx.To, tx.Element), func(ctx context.Context) error {
		balTo, err := c.balances.Get(ctx, tx.To, tx.Element)
		if err != nil {
			return err
		}

		_, err = c.balances.Set(ctx, balTo, balTo.Amount.Add(tx.Volume))
		return err
	}); err != nil {
		return Transaction{}, err
	}

	blockNumber, err := c.blocks.AddTransaction(ctx, block.TxRef{
		ID:       tx.ID,
		Element:  tx.Element,
		Ledger:   tx.Ledger,
		TotalTax: tx.TotalTax,
		Privacy:  tx.Privacy,
		Total:    tx.Total,
	})
	if err != nil {
		return Transaction{}, err
	}

	update := database.Update{Set: map[string]any{
		"confirmed": true,
		"block":     blockNumber,
	}}
	if _, err := c.db.UpdateID(ctx, tx.Ledger, tx.ID, update); err != nil {
		return Transaction{}, fmt.Errorf("confirm transaction %q: %w", tx.ID, err)
	}

	metrics.TransactionsCommitted.Inc()

	var committed Transaction
	if err := c.db.FindID(ctx, tx.Ledger, tx.ID, &committed); err != nil {
		return Transaction{}, fmt.Errorf("reload transaction %q: %w", tx.ID, err)
	}

	c.log.Infow("transaction committed", "id", committed.ID, "element", committed.Element, "block", committed.Block)

	return committed, nil
}

// computeTax fills the tax and total fields. CAPTURE, REWARD, and zero-volume
// transactions move value without fees.
func (c *Core) computeTax(tx *Transaction, elem element.Element) {
	if tx.Type == TypeCapture || tx.Type == TypeReward || tx.Volume.IsZero() {
		tx.ElementTax = decimal.Zero
		tx.NetworkTax = decimal.Zero
		tx.TotalTax = decimal.Zero
		tx.Total = tx.Volume
		return
	}

	hundred := decimal.NewFromInt(100)

	elementRate := decimal.Zero
	if elem.Policy != nil && elem.Policy.TransactionTax != nil {
		elementRate = elem.Policy.TransactionTax.DivRound(hundred, elem.Decimals)
	}
	networkRate := c.networkTax.DivRound(hundred, elem.Decimals)

	tx.ElementTax = tx.Volume.Mul(elementRate)
	tx.NetworkTax = tx.Volume.Mul(networkRate)
	tx.TotalTax = tx.ElementTax.Add(tx.NetworkTax)
	tx.Total = tx.Volume.Add(tx.TotalTax)
}
