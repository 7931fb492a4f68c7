package store

import (
	"github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

// Database wraps a Badger database as a Store.
type Database struct {
	db *badger.DB
}

var _ Store = (*Database)(nil)

// NewDatabase opens (or creates) a Badger database under path. Badger holds a lock on
// the directory while open, so a second node on the same path fails with ErrStorage.
func NewDatabase(path string) (*Database, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithSyncWrites(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(types.ErrStorage, "failed to open Badger database: %v", err)
	}
	return &Database{db: db}, nil
}

// NewInMemoryDatabase opens a Badger database that never touches disk.
func NewInMemoryDatabase() (*Database, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(types.ErrStorage, "failed to open in-memory Badger database: %v", err)
	}
	return &Database{db: db}, nil
}

func (d *Database) GetDB() *badger.DB {
	return d.db
}

// Put sets a key-value pair in the Badger database
func (d *Database) Put(key, value []byte) error {
	err := d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return errors.Wrapf(types.ErrStorage, "put %q: %v", key, err)
	}
	return nil
}

// Get retrieves a value for a given key from the Badger database
func (d *Database) Get(key []byte) ([]byte, error) {
	var valCopy []byte
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		valCopy, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, errors.Wrapf(types.ErrNotFound, "key %q", key)
	}
	if err != nil {
		return nil, errors.Wrapf(types.ErrStorage, "get %q: %v", key, err)
	}
	return valCopy, nil
}

func (d *Database) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	return d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return errors.Wrapf(types.ErrStorage, "read %q: %v", item.Key(), err)
			}
			if err := fn(item.KeyCopy(nil), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// Write commits the batch inside a single Badger transaction.
func (d *Database) Write(b *Batch) error {
	err := d.db.Update(func(txn *badger.Txn) error {
		for _, op := range b.ops {
			var err error
			switch op.kind {
			case opPut:
				err = txn.Set(op.key, op.value)
			case opDelete:
				err = txn.Delete(op.key)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(types.ErrStorage, "write batch of %d ops: %v", b.Len(), err)
	}
	return nil
}

// Close closes the Badger database
func (d *Database) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}
