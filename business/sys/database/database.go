// Package database provides document store access for the worker. The store
// is a KV+collection API with atomic single-document updates; MongoDB backs
// the production implementation and an in-memory implementation backs tests.
package database

import (
	"context"
	"errors"
)

// Collection names used by the worker. Ledger buckets are derived per week
// by the shard package.
const (
	ColElements  = "elements"
	ColBalances  = "balances"
	ColSequences = "sequences"
	ColBlocks    = "blocks"
)

// ErrNotFound is returned when a document cannot be located.
var ErrNotFound = errors.New("document not found")

// Exists is a filter value that matches on field presence rather than
// equality.
type Exists bool

// Filter selects documents by field equality. Keys are dotted field paths;
// a path that crosses an array matches when any element matches. A value of
// type Exists switches the predicate to a presence check.
type Filter map[string]any

// Update describes an atomic single-document mutation. All provided clauses
// are applied in one store round-trip.
type Update struct {
	Set   map[string]any
	Unset []string
	Inc   map[string]int64
	Push  map[string]any
}

// Store is the behavior the worker requires from a document store. All
// operations address documents by their string primary key or by filter.
// UpdateID and UpdateOne return the number of documents modified.
type Store interface {
	FindID(ctx context.Context, collection string, id string, doc any) error
	FindOne(ctx context.Context, collection string, filter Filter, doc any) error
	Exists(ctx context.Context, collection string, filter Filter) (bool, error)
	Save(ctx context.Context, collection string, id string, doc any) error
	UpdateID(ctx context.Context, collection string, id string, update Update) (int64, error)
	UpdateOne(ctx context.Context, collection string, filter Filter, update Update) (int64, error)
}
