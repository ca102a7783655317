// Package element implements the lifecycle of ledgered assets: creation with
// chained identity under the shared elements sequence, metadata patching, and
// the genesis bootstrap.
package element

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/norsh/blockchain/business/sys/database"
	"github.com/norsh/blockchain/business/sys/lock"
	"github.com/norsh/blockchain/business/sys/op"
	"github.com/norsh/blockchain/business/sys/sequence"
	"github.com/norsh/blockchain/business/sys/validate"
	"github.com/norsh/blockchain/foundation/ledger/signature"
	"go.uber.org/zap"
)

// ChargeFunc executes the fee transaction that gates a paid element update.
// The metadata describes the update being charged for.
type ChargeFunc func(ctx context.Context, meta map[string]any) error

// Config is the required properties to construct an element core.
type Config struct {
	Log       *zap.SugaredLogger
	DB        database.Store
	Lock      *lock.Lock
	Sequences *sequence.Store
	Now       func() time.Time
}

// Core manages elements.
type Core struct {
	log  *zap.SugaredLogger
	db   database.Store
	lock *lock.Lock
	seq  *sequence.Store
	now  func() time.Time

	mu   sync.Mutex
	coin *Element
}

// NewCore constructs an element core from the configuration.
func NewCore(cfg Config) *Core {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Core{
		log:  cfg.Log,
		db:   cfg.DB,
		lock: cfg.Lock,
		seq:  cfg.Sequences,
		now:  now,
	}
}

// Create validates the request and persists a new element, chaining its
// identity through the elements sequence under the elements lock.
func (c *Core) Create(ctx context.Context, ne NewElement) (Element, error) {
	if err := validate.Check(ne); err != nil {
		return Element{}, op.NewError(op.StatusError, err.Error())
	}

	if !ne.VerifySignature() {
		return Element{}, op.NewError(op.StatusError, "signature does not match hash and public key")
	}

	exists, err := c.db.Exists(ctx, database.ColElements, database.Filter{"hash": ne.Hash})
	if err != nil {
		return Element{}, fmt.Errorf("check element hash: %w", err)
	}
	if exists {
		return Element{}, op.NewError(op.StatusExists, "element exists")
	}

	owner, err := signature.Owner(ne.PublicKey)
	if err != nil {
		return Element{}, op.NewError(op.StatusError, err.Error())
	}

	elem := Element{
		Type:          ne.Type,
		Owner:         owner,
		Symbol:        ne.Symbol,
		Decimals:      ne.Decimals,
		InitialSupply: ne.InitialSupply,
		TFO:           ne.TFO,
		PublicKey:     ne.PublicKey,
		Hash:          ne.Hash,
		Signature:     ne.Signature,
		Timestamp:     c.now().UnixMilli(),
		Privacy:       false,
		Version:       1,
		Status:        StatusPending,
	}

	if err := c.lock.Execute(ctx, sequence.Elements, func(ctx context.Context) error {
		return c.saveChained(ctx, &elem)
	}); err != nil {
		return Element{}, err
	}

	return c.Get(ctx, elem.ID)
}

// saveChained links the element behind the last one written and persists it.
// The caller must serialize access to the elements sequence.
func (c *Core) saveChained(ctx context.Context, elem *Element) error {
	seq, err := c.seq.Get(ctx, sequence.Elements)
	if err != nil {
		return err
	}

	elem.PreviousID = seq.Data
	elem.ID = signature.HashOf(elem.PreviousID, elem.Hash, elem.Timestamp)

	if err := c.db.Save(ctx, database.ColElements, elem.ID, *elem); err != nil {
		return fmt.Errorf("save element: %w", err)
	}

	if err := c.seq.SetData(ctx, sequence.Elements, elem.ID); err != nil {
		return err
	}

	return nil
}

// Get retrieves an element by id.
func (c *Core) Get(ctx context.Context, id string) (Element, error) {
	var elem Element
	if err := c.db.FindID(ctx, database.ColElements, id, &elem); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return Element{}, op.NewError(op.StatusNotFound, "element not found")
		}
		return Element{}, fmt.Errorf("get element %q: %w", id, err)
	}

	return elem, nil
}

// SetMetadata patches element metadata after an owner check. When the element
// already carries metadata the update is a paid operation: charge runs first
// and its failure aborts the patch.
func (c *Core) SetMetadata(ctx context.Context, md MetadataUpdate, charge ChargeFunc) (Element, error) {
	if err := validate.Check(md); err != nil {
		return Element{}, op.NewError(op.StatusError, err.Error())
	}

	elem, err := c.Get(ctx, md.ID)
	if err != nil {
		return Element{}, err
	}

	owner, err := signature.Owner(md.PublicKey)
	if err != nil {
		return Element{}, op.NewError(op.StatusError, err.Error())
	}
	if elem.Owner != owner {
		return Element{}, op.NewError(op.StatusForbidden, "not the element owner")
	}

	if elem.Metadata != nil {
		if charge == nil {
			return Element{}, op.NewError(op.StatusError, "metadata update requires a fee transaction")
		}

		meta := map[string]any{"element": elem.ID, "action": "UPDATE", "child": "metadata"}
		if err := charge(ctx, meta); err != nil {
			return Element{}, err
		}
	}

	update := database.Update{Set: map[string]any{}}
	patch := func(field string, value *string) {
		if value == nil {
			return
		}
		if *value == "" {
			update.Unset = append(update.Unset, field)
			return
		}
		update.Set[field] = *value
	}

	patch("metadata.name", md.Name)
	patch("metadata.about", md.About)
	patch("metadata.logo", md.Logo)
	patch("metadata.site", md.Site)
	patch("metadata.policy", md.Policy)

	if len(update.Set) == 0 && len(update.Unset) == 0 {
		return elem, nil
	}

	if _, err := c.db.UpdateID(ctx, database.ColElements, elem.ID, update); err != nil {
		return Element{}, fmt.Errorf("update element metadata: %w", err)
	}

	return c.Get(ctx, elem.ID)
}

// Coin returns the network's native NSH coin element. The lookup result is
// cached for the life of the core; Bootstrap invalidates it.
func (c *Core) Coin(ctx context.Context) (Element, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.coin != nil {
		return *c.coin, nil
	}

	var elem Element
	filter := database.Filter{"symbol": CoinSymbol, "type": string(TypeCoin)}
	if err := c.db.FindOne(ctx, database.ColElements, filter, &elem); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return Element{}, op.NewError(op.StatusNotFound, "coin element not found")
		}
		return Element{}, fmt.Errorf("find coin element: %w", err)
	}

	c.coin = &elem
	return elem, nil
}
