package history

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

const (
	// Namespace groups the activity keys
	Namespace = "ActivityRecords"
	// RecordsKey holds every record, newline-joined
	RecordsKey = "records"
)

var recordsKey = []byte(Namespace + "/" + RecordsKey)

// BadgerStore keeps the whole log under one namespaced key
type BadgerStore struct {
	db *badger.DB
	mu sync.Mutex
}

// OpenBadgerStore opens (or creates) a badger database in dir
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open history database %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

// OpenInMemoryBadgerStore opens a store that lives only as long as the process
func OpenInMemoryBadgerStore() (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory history database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Append(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		current, err := readRecords(txn)
		if err != nil {
			return err
		}
		if len(current) > 0 {
			current = append(current, '\n')
		}
		current = append(current, r.String()...)
		return txn.Set(recordsKey, current)
	})
	if err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}

func (s *BadgerStore) ReadAll(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var text []byte
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		text, err = readRecords(txn)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return Parse(string(text)), nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func readRecords(txn *badger.Txn) ([]byte, error) {
	item, err := txn.Get(recordsKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}
