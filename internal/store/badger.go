package store

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v3"
)

// BadgerBackend keeps documents in an embedded badger database. Each
// document is a single key, so a write is one transaction.
type BadgerBackend struct {
	db *badger.DB
}

// OpenBadgerBackend opens (or creates) a badger database in dir. An empty
// dir opens an in-memory database.
func OpenBadgerBackend(dir string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerBackend{db: db}, nil
}

func (b *BadgerBackend) Read(_ context.Context, name string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(name))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return out, nil
}

func (b *BadgerBackend) Write(_ context.Context, name string, data []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(name), data)
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (b *BadgerBackend) Close() error {
	return b.db.Close()
}
