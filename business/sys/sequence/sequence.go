// Package sequence manages dynamic sequences: named monotonic counters with
// an auxiliary data payload that carries the id of the last record written to
// a stream. The chained previousId of elements, transactions, and blocks all
// come from here.
package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/norsh/blockchain/business/sys/database"
	"go.uber.org/zap"
)

// Well-known sequence ids.
const (
	Elements = "elements"
	BlockID  = "blockchain-block-id"
)

// Sequence is a named counter plus the id of the last value in its stream.
type Sequence struct {
	ID       string `bson:"_id" json:"id"`
	Sequence int64  `bson:"sequence" json:"sequence"`
	Data     string `bson:"data,omitempty" json:"data,omitempty"`
}

// Store provides access to dynamic sequences. Get is the only operation
// guaranteed to observe a consistent Data value; callers combining reads with
// updates must hold an enclosing lock.
type Store struct {
	log *zap.SugaredLogger
	db  database.Store
}

// NewStore constructs a sequence store.
func NewStore(log *zap.SugaredLogger, db database.Store) *Store {
	return &Store{
		log: log,
		db:  db,
	}
}

// Get retrieves the sequence, creating it at zero when absent.
func (s *Store) Get(ctx context.Context, id string) (Sequence, error) {
	var seq Sequence
	err := s.db.FindID(ctx, database.ColSequences, id, &seq)

	switch {
	case err == nil:
		return seq, nil

	case errors.Is(err, database.ErrNotFound):
		seq = Sequence{ID: id, Sequence: 0}
		if err := s.db.Save(ctx, database.ColSequences, id, seq); err != nil {
			return Sequence{}, fmt.Errorf("create sequence %q: %w", id, err)
		}
		s.log.Debugw("sequence created", "id", id)
		return seq, nil

	default:
		return Sequence{}, fmt.Errorf("get sequence %q: %w", id, err)
	}
}

// Initialized reports whether the sequence document exists. Bootstrap uses
// the absence of the elements sequence as its first-run sentinel, so this
// must not create the document.
func (s *Store) Initialized(ctx context.Context, id string) (bool, error) {
	var seq Sequence
	err := s.db.FindID(ctx, database.ColSequences, id, &seq)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, database.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("probe sequence %q: %w", id, err)
	}
}

// SetData updates the data payload. An empty value unsets it.
func (s *Store) SetData(ctx context.Context, id string, data string) error {
	return s.update(ctx, id, database.Update{
		Set:   setClause(data),
		Unset: unsetClause(data),
	})
}

// SetSequence sets the counter to an explicit value.
func (s *Store) SetSequence(ctx context.Context, id string, value int64) error {
	return s.update(ctx, id, database.Update{
		Set: map[string]any{"sequence": value},
	})
}

// Inc atomically increments the counter.
func (s *Store) Inc(ctx context.Context, id string) error {
	return s.update(ctx, id, database.Update{
		Inc: map[string]int64{"sequence": 1},
	})
}

// IncWithData atomically increments the counter and updates the data payload
// in the same document write. An empty value unsets the payload.
func (s *Store) IncWithData(ctx context.Context, id string, data string) error {
	return s.update(ctx, id, database.Update{
		Inc:   map[string]int64{"sequence": 1},
		Set:   setClause(data),
		Unset: unsetClause(data),
	})
}

func (s *Store) update(ctx context.Context, id string, update database.Update) error {
	modified, err := s.db.UpdateID(ctx, database.ColSequences, id, update)
	if err != nil {
		return fmt.Errorf("update sequence %q: %w", id, err)
	}

	if modified == 0 {
		s.log.Warnw("sequence update matched no document", "id", id)
	}

	return nil
}

func setClause(data string) map[string]any {
	if data == "" {
		return nil
	}
	return map[string]any{"data": data}
}

func unsetClause(data string) []string {
	if data != "" {
		return nil
	}
	return []string{"data"}
}
