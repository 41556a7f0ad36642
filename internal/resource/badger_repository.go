package resource

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// badgerKeyPrefix namespaces resource records in the key space.
const badgerKeyPrefix = "resource/"

// BadgerRepository implements Repository on an embedded BadgerDB.
//
// Records are stored as JSON under "resource/<id>", with the id zero-padded
// so that key order equals id order.
type BadgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository creates a repository over an open BadgerDB.
func NewBadgerRepository(db *badger.DB) *BadgerRepository {
	return &BadgerRepository{db: db}
}

func badgerKey(id int64) []byte {
	return fmt.Appendf(nil, "%s%020d", badgerKeyPrefix, id)
}

// List returns every stored record ordered by id.
func (r *BadgerRepository) List(ctx context.Context) ([]Record, error) {
	var records []Record
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decoding %s: %w", it.Item().Key(), err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing resources: %w", err)
	}
	return records, nil
}

// Save stores the records in a single transaction.
func (r *BadgerRepository) Save(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := r.db.Update(func(txn *badger.Txn) error {
		for _, rec := range records {
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encoding resource %d: %w", rec.ID, err)
			}
			if err := txn.Set(badgerKey(rec.ID), data); err != nil {
				return fmt.Errorf("storing resource %d: %w", rec.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving resources: %w", err)
	}
	return nil
}

// Delete removes the records in a single transaction.
func (r *BadgerRepository) Delete(ctx context.Context, ids []int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := r.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := txn.Delete(badgerKey(id)); err != nil {
				return fmt.Errorf("deleting resource %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting resources: %w", err)
	}
	return nil
}
