package transaction_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/norsh/blockchain/business/core/balance"
	"github.com/norsh/blockchain/business/core/block"
	"github.com/norsh/blockchain/business/core/element"
	"github.com/norsh/blockchain/business/core/transaction"
	"github.com/norsh/blockchain/business/sys/cache"
	"github.com/norsh/blockchain/business/sys/database"
	"github.com/norsh/blockchain/business/sys/lock"
	"github.com/norsh/blockchain/business/sys/op"
	"github.com/norsh/blockchain/business/sys/sequence"
	"github.com/norsh/blockchain/foundation/ledger/shard"
	"github.com/norsh/blockchain/foundation/ledger/signature"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

const senderKey = "fad9c8855b740a0b7ed4c221dbad0f33a83a49cad6b3fe8d5817ac83d38b6a19"

// clock is a mutable wall clock shared by every core in a test harness.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	db           database.Store
	clock        *clock
	sequences    *sequence.Store
	balances     *balance.Core
	elements     *element.Core
	blocks       *block.Core
	transactions *transaction.Core
}

func newHarness(t *testing.T, seed decimal.Decimal, deductTax bool) *harness {
	t.Helper()

	log := zap.NewNop().Sugar()
	db := database.NewMemory()
	clk := &clock{t: time.UnixMilli(1_700_000_000_000)}

	locks := lock.New(lock.Config{
		Log:            log,
		Cache:          cache.NewMemory(),
		TTL:            5 * time.Second,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})

	sequences := sequence.NewStore(log, db)
	balances := balance.NewCore(log, db, seed)

	elements := element.NewCore(element.Config{
		Log:       log,
		DB:        db,
		Lock:      locks,
		Sequences: sequences,
		Now:       clk.Now,
	})

	blocks := block.NewCore(block.Config{
		Log:            log,
		DB:             db,
		Lock:           locks,
		Sequences:      sequences,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		MaxWait:        5 * time.Second,
		Now:            clk.Now,
	})

	transactions := transaction.NewCore(transaction.Config{
		Log:        log,
		DB:         db,
		Lock:       locks,
		Sequences:  sequences,
		Balances:   balances,
		Blocks:     blocks,
		Elements:   elements,
		NetworkTax: decimal.RequireFromString("0.3"),
		DeductTax:  deductTax,
		Now:        clk.Now,
	})

	return &harness{
		db:           db,
		clock:        clk,
		sequences:    sequences,
		balances:     balances,
		elements:     elements,
		blocks:       blocks,
		transactions: transactions,
	}
}

// createElement persists an NSH-like element with no element tax policy.
func (h *harness) createElement(t *testing.T) element.Element {
	t.Helper()

	publicKey, err := signature.PublicKeyFor(senderKey)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to derive the public key: %v", failed, err)
	}

	ne := element.NewElement{
		Type:          element.TypeCoin,
		Symbol:        "NSH",
		Decimals:      18,
		InitialSupply: 45_000_000,
		PublicKey:     publicKey,
	}
	ne.Hash = signature.Sha256Of(ne.Symbol, ne.Decimals, ne.InitialSupply, ne.TFO, ne.PublicKey)

	sig, err := signature.SignHash(senderKey, ne.Hash)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to sign the element hash: %v", failed, err)
	}
	ne.Signature = sig

	elem, err := h.elements.Create(context.Background(), ne)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to create the element: %v", failed, err)
	}

	return elem
}

// newTransfer builds a signed transfer request over a unique hash.
func newTransfer(t *testing.T, elem element.Element, to string, volume string, tag string) transaction.NewTransfer {
	t.Helper()

	publicKey, err := signature.PublicKeyFor(senderKey)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to derive the public key: %v", failed, err)
	}

	nt := transaction.NewTransfer{
		To:        to,
		Element:   elem.ID,
		Volume:    decimal.RequireFromString(volume),
		Nonce:     1,
		PublicKey: publicKey,
	}
	nt.Hash = signature.Sha256Of("transfer", tag, to, volume, elem.ID)

	sig, err := signature.SignHash(senderKey, nt.Hash)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to sign the transfer hash: %v", failed, err)
	}
	nt.Signature = sig

	return nt
}

func Test_SingleTransfer(t *testing.T) {
	t.Log("Given the need to commit a transfer with network tax only.")
	{
		h := newHarness(t, decimal.NewFromInt(10_000), false)
		ctx := context.Background()
		elem := h.createElement(t)

		sender, _ := signature.Owner(mustPublicKey(t))

		t.Logf("\tTest 0:\tWhen transferring 100 with networkTax 0.3%% and no element tax.")
		{
			tx, err := h.transactions.Create(ctx, newTransfer(t, elem, "addr-b", "100", "t0"), nil)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to commit the transfer: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould be able to commit the transfer.", success)

			if !tx.ElementTax.IsZero() {
				t.Fatalf("\t%s\tTest 0:\tShould have zero element tax: %s", failed, tx.ElementTax)
			}
			if !tx.NetworkTax.Equal(decimal.RequireFromString("0.3")) {
				t.Fatalf("\t%s\tTest 0:\tShould have network tax 0.3: %s", failed, tx.NetworkTax)
			}
			if !tx.TotalTax.Equal(decimal.RequireFromString("0.3")) {
				t.Fatalf("\t%s\tTest 0:\tShould have total tax 0.3: %s", failed, tx.TotalTax)
			}
			if !tx.Total.Equal(decimal.RequireFromString("100.3")) {
				t.Fatalf("\t%s\tTest 0:\tShould have total 100.3: %s", failed, tx.Total)
			}
			t.Logf("\t%s\tTest 0:\tShould compute taxes with half-up fixed point math.", success)

			if !tx.Confirmed {
				t.Fatalf("\t%s\tTest 0:\tShould be confirmed.", failed)
			}
			wantBlock := block.NumberAt(h.clock.Now().UnixMilli())
			if tx.Block != wantBlock {
				t.Fatalf("\t%s\tTest 0:\tShould carry block %d: got %d", failed, wantBlock, tx.Block)
			}
			t.Logf("\t%s\tTest 0:\tShould be confirmed into the current block.", success)

			wantLedger := shard.LedgerAt(h.clock.Now().UnixMilli())
			if tx.Ledger != wantLedger {
				t.Fatalf("\t%s\tTest 0:\tShould land in %s: got %s", failed, wantLedger, tx.Ledger)
			}
			t.Logf("\t%s\tTest 0:\tShould land in the weekly ledger bucket.", success)

			balFrom, _ := h.balances.Get(ctx, sender, elem.ID)
			if !balFrom.Amount.Equal(decimal.NewFromInt(9_900)) {
				t.Fatalf("\t%s\tTest 0:\tShould debit the sender by volume only: %s", failed, balFrom.Amount)
			}
			t.Logf("\t%s\tTest 0:\tShould debit the sender by volume only.", success)

			balTo, _ := h.balances.Get(ctx, "addr-b", elem.ID)
			if !balTo.Amount.Equal(decimal.NewFromInt(10_100)) {
				t.Fatalf("\t%s\tTest 0:\tShould credit the receiver with the volume: %s", failed, balTo.Amount)
			}
			t.Logf("\t%s\tTest 0:\tShould credit the receiver with the volume.", success)

			blk, err := h.blocks.FindByTransactionID(ctx, tx.ID)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould find the enclosing block: %v", failed, err)
			}
			if blk.Number != tx.Block {
				t.Fatalf("\t%s\tTest 0:\tShould agree on the block number.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould place the transaction in exactly one block.", success)
		}
	}
}

func Test_DuplicateHash(t *testing.T) {
	t.Log("Given the need to absorb at-least-once envelope replays.")
	{
		h := newHarness(t, decimal.NewFromInt(10_000), false)
		ctx := context.Background()
		elem := h.createElement(t)

		nt := newTransfer(t, elem, "addr-b", "100", "dup")

		if _, err := h.transactions.Create(ctx, nt, nil); err != nil {
			t.Fatalf("\t%s\tShould be able to commit the first submission: %v", failed, err)
		}

		sender, _ := signature.Owner(nt.PublicKey)
		before, _ := h.balances.Get(ctx, sender, elem.ID)

		_, err := h.transactions.Create(ctx, nt, nil)
		oe, ok := op.AsError(err)
		if !ok || oe.Status != op.StatusExists {
			t.Fatalf("\t%s\tShould receive EXISTS on the replay: %v", failed, err)
		}
		t.Logf("\t%s\tShould receive EXISTS on the replay.", success)

		after, _ := h.balances.Get(ctx, sender, elem.ID)
		if !after.Amount.Equal(before.Amount) {
			t.Fatalf("\t%s\tShould leave balances unchanged: %s -> %s", failed, before.Amount, after.Amount)
		}
		t.Logf("\t%s\tShould leave balances unchanged.", success)
	}
}

func Test_InsufficientBalance(t *testing.T) {
	t.Log("Given the need to refuse transfers the sender cannot cover.")
	{
		h := newHarness(t, decimal.NewFromInt(50), false)
		ctx := context.Background()
		elem := h.createElement(t)

		_, err := h.transactions.Create(ctx, newTransfer(t, elem, "addr-b", "100", "poor"), nil)
		oe, ok := op.AsError(err)
		if !ok || oe.Status != op.StatusInsufficientBalance {
			t.Fatalf("\t%s\tShould receive INSUFFICIENT_BALANCE: %v", failed, err)
		}
		t.Logf("\t%s\tShould receive INSUFFICIENT_BALANCE.", success)

		if oe.Data != "100.3" {
			t.Fatalf("\t%s\tShould carry the required amount: %v", failed, oe.Data)
		}
		t.Logf("\t%s\tShould carry the required amount.", success)
	}
}

func Test_ElementTaxPolicy(t *testing.T) {
	t.Log("Given the need to apply the element's own transaction tax.")
	{
		h := newHarness(t, decimal.NewFromInt(10_000), false)
		ctx := context.Background()
		elem := h.createElement(t)

		// Attach a 1% element tax policy directly to the stored document.
		taxRate := decimal.NewFromInt(1)
		if _, err := h.db.UpdateID(ctx, database.ColElements, elem.ID, database.Update{
			Set: map[string]any{"policy": element.Policy{TransactionTax: &taxRate}},
		}); err != nil {
			t.Fatalf("\t%s\tShould be able to attach the policy: %v", failed, err)
		}

		tx, err := h.transactions.Create(ctx, newTransfer(t, elem, "addr-b", "100", "taxed"), nil)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to commit the transfer: %v", failed, err)
		}

		if !tx.ElementTax.Equal(decimal.NewFromInt(1)) {
			t.Fatalf("\t%s\tShould charge 1%% element tax: %s", failed, tx.ElementTax)
		}
		if !tx.TotalTax.Equal(decimal.RequireFromString("1.3")) {
			t.Fatalf("\t%s\tShould charge 1.3 total tax: %s", failed, tx.TotalTax)
		}
		if !tx.Total.Equal(decimal.RequireFromString("101.3")) {
			t.Fatalf("\t%s\tShould total 101.3: %s", failed, tx.Total)
		}
		t.Logf("\t%s\tShould combine element and network taxes.", success)
	}
}

func Test_DeductTaxFlag(t *testing.T) {
	t.Log("Given the need to optionally deduct the full total from the sender.")
	{
		h := newHarness(t, decimal.NewFromInt(10_000), true)
		ctx := context.Background()
		elem := h.createElement(t)

		if _, err := h.transactions.Create(ctx, newTransfer(t, elem, "addr-b", "100", "deduct"), nil); err != nil {
			t.Fatalf("\t%s\tShould be able to commit the transfer: %v", failed, err)
		}

		sender, _ := signature.Owner(mustPublicKey(t))
		bal, _ := h.balances.Get(ctx, sender, elem.ID)
		if !bal.Amount.Equal(decimal.RequireFromString("9899.7")) {
			t.Fatalf("\t%s\tShould debit volume plus tax: %s", failed, bal.Amount)
		}
		t.Logf("\t%s\tShould debit volume plus tax.", success)
	}
}

func Test_ChainedPredecessors(t *testing.T) {
	t.Log("Given the need to chain transactions per element in commit order.")
	{
		h := newHarness(t, decimal.NewFromInt(10_000), false)
		ctx := context.Background()
		elem := h.createElement(t)

		t1, err := h.transactions.Create(ctx, newTransfer(t, elem, "addr-b", "10", "c1"), nil)
		if err != nil {
			t.Fatalf("\t%s\tShould commit the first transfer: %v", failed, err)
		}
		t2, err := h.transactions.Create(ctx, newTransfer(t, elem, "addr-b", "10", "c2"), nil)
		if err != nil {
			t.Fatalf("\t%s\tShould commit the second transfer: %v", failed, err)
		}

		if t1.PreviousID != "" {
			t.Fatalf("\t%s\tShould start the chain with an empty previous id.", failed)
		}
		if t2.PreviousID != t1.ID {
			t.Fatalf("\t%s\tShould link the second behind the first: %q != %q", failed, t2.PreviousID, t1.ID)
		}
		if t2.ID != signature.HashOf(t2.PreviousID, t2.Hash) {
			t.Fatalf("\t%s\tShould derive the id from previousId and hash.", failed)
		}
		t.Logf("\t%s\tShould link transactions through the element sequence.", success)
	}
}

func Test_ConcurrentTransfers(t *testing.T) {
	t.Log("Given the need to serialize concurrent transfers from one sender.")
	{
		h := newHarness(t, decimal.NewFromInt(10_000), false)
		ctx := context.Background()
		elem := h.createElement(t)

		const transfers = 5

		var wg sync.WaitGroup
		errs := make([]error, transfers)
		for i := range transfers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				nt := newTransfer(t, elem, "addr-b", "10", fmt.Sprintf("conc-%d", i))
				_, errs[i] = h.transactions.Create(ctx, nt, nil)
			}()
		}
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				t.Fatalf("\t%s\tShould commit transfer %d: %v", failed, i, err)
			}
		}
		t.Logf("\t%s\tShould commit every transfer.", success)

		sender, _ := signature.Owner(mustPublicKey(t))
		bal, _ := h.balances.Get(ctx, sender, elem.ID)
		if !bal.Amount.Equal(decimal.NewFromInt(10_000 - 10*transfers)) {
			t.Fatalf("\t%s\tShould debit the exact sum of volumes: %s", failed, bal.Amount)
		}
		t.Logf("\t%s\tShould debit the exact sum of volumes.", success)

		// Walk the chain back from the sequence head; every committed
		// transaction must appear exactly once.
		seq, err := h.sequences.Get(ctx, elem.ID)
		if err != nil {
			t.Fatalf("\t%s\tShould read the element sequence: %v", failed, err)
		}

		seen := 0
		for id := seq.Data; id != ""; {
			tx, err := h.transactions.Get(ctx, id)
			if err != nil {
				t.Fatalf("\t%s\tShould resolve chained transaction %q: %v", failed, id, err)
			}
			seen++
			id = tx.PreviousID
		}
		if seen != transfers {
			t.Fatalf("\t%s\tShould chain all %d transfers without gaps: saw %d", failed, transfers, seen)
		}
		t.Logf("\t%s\tShould chain all transfers without gaps.", success)
	}
}

func Test_CreateInternal(t *testing.T) {
	t.Log("Given the need to move value without fees for network operations.")
	{
		h := newHarness(t, decimal.NewFromInt(10_000), false)
		ctx := context.Background()
		elem := h.createElement(t)

		tx, err := h.transactions.CreateInternal(ctx, transaction.TypeReward, "network", "miner-1", elem.ID, decimal.NewFromInt(50), "blk-1")
		if err != nil {
			t.Fatalf("\t%s\tShould commit the reward: %v", failed, err)
		}

		if !tx.TotalTax.IsZero() || !tx.Total.Equal(decimal.NewFromInt(50)) {
			t.Fatalf("\t%s\tShould carry no tax by type rule: tax=%s total=%s", failed, tx.TotalTax, tx.Total)
		}
		if tx.Link != "blk-1" || tx.Type != transaction.TypeReward {
			t.Fatalf("\t%s\tShould link back to the rewarded block.", failed)
		}
		t.Logf("\t%s\tShould commit a zero-tax reward linked to its block.", success)

		bal, _ := h.balances.Get(ctx, "miner-1", elem.ID)
		if !bal.Amount.Equal(decimal.NewFromInt(10_050)) {
			t.Fatalf("\t%s\tShould credit the miner: %s", failed, bal.Amount)
		}
		t.Logf("\t%s\tShould credit the miner.", success)
	}
}

func mustPublicKey(t *testing.T) string {
	t.Helper()

	publicKey, err := signature.PublicKeyFor(senderKey)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to derive the public key: %v", failed, err)
	}

	return publicKey
}
