// Package balance manages the per-owner, per-element balances. Mutations are
// only valid while holding the distributed lock named by BuildID; the
// transaction core owns that choreography.
package balance

import (
	"context"
	"errors"
	"fmt"

	"github.com/norsh/blockchain/business/sys/database"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Balance is the persisted amount an owner holds of one element.
type Balance struct {
	ID      string          `bson:"_id" json:"id"`
	Owner   string          `bson:"owner" json:"owner"`
	Element string          `bson:"element" json:"element"`
	Amount  decimal.Decimal `bson:"amount" json:"amount"`
}

// BuildID returns the canonical balance document id, which is also the
// canonical lock key for mutating that balance.
func BuildID(owner string, element string) string {
	return owner + "_" + element
}

// Core manages balance access.
type Core struct {
	log  *zap.SugaredLogger
	db   database.Store
	seed decimal.Decimal
}

// NewCore constructs a balance core. The seed is the amount synthesized for
// balances that do not exist yet; production deployments seed zero.
func NewCore(log *zap.SugaredLogger, db database.Store, seed decimal.Decimal) *Core {
	return &Core{
		log:  log,
		db:   db,
		seed: seed,
	}
}

// Get retrieves the balance for the owner and element, synthesizing a record
// with the configured seed amount when none exists. The synthesized record is
// not persisted until Set is called.
func (c *Core) Get(ctx context.Context, owner string, element string) (Balance, error) {
	id := BuildID(owner, element)

	var bal Balance
	err := c.db.FindID(ctx, database.ColBalances, id, &bal)

	switch {
	case err == nil:
		return bal, nil

	case errors.Is(err, database.ErrNotFound):
		return Balance{
			ID:      id,
			Owner:   owner,
			Element: element,
			Amount:  c.seed,
		}, nil

	default:
		return Balance{}, fmt.Errorf("get balance %q: %w", id, err)
	}
}

// Set persists the balance with the new amount. The caller must hold the
// lock named BuildID(owner, element).
func (c *Core) Set(ctx context.Context, bal Balance, amount decimal.Decimal) (Balance, error) {
	bal.Amount = amount
	if err := c.db.Save(ctx, database.ColBalances, bal.ID, bal); err != nil {
		return Balance{}, fmt.Errorf("set balance %q: %w", bal.ID, err)
	}

	return bal, nil
}

// HasBalance reports whether the owner holds at least the specified amount
// of the element.
func (c *Core) HasBalance(ctx context.Context, owner string, element string, amount decimal.Decimal) (bool, error) {
	bal, err := c.Get(ctx, owner, element)
	if err != nil {
		return false, err
	}

	return bal.Amount.Cmp(amount) >= 0, nil
}
