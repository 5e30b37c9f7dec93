package kvstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// keySep joins key components inside bucket keys. Key.Validate rejects it
// in user input.
const keySep = "\x00"

// BboltStore implements Store on a single embedded bbolt database.
// A TransactWrite is one db.Update: every condition is evaluated against
// the pre-transaction state before any write is applied, so a rejected
// transaction leaves the database untouched.
type BboltStore struct {
	db *bolt.DB
}

// envelope wraps a stored value with its secondary-index partition key.
type envelope struct {
	IndexKey string          `json:"i,omitempty"`
	Value    json.RawMessage `json:"v"`
}

// NewBboltStore opens or creates a bbolt database at the given path and
// creates one bucket per table plus its index bucket.
func NewBboltStore(dbPath string) (*BboltStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, table := range Tables {
			if _, err := tx.CreateBucketIfNotExists(mainBucket(table)); err != nil {
				return fmt.Errorf("create bucket %s: %w", table, err)
			}
			if _, err := tx.CreateBucketIfNotExists(indexBucket(table)); err != nil {
				return fmt.Errorf("create index bucket %s: %w", table, err)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &BboltStore{db: db}, nil
}

// Close releases the bbolt database.
func (s *BboltStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func mainBucket(table Table) []byte {
	return []byte(table)
}

func indexBucket(table Table) []byte {
	return []byte(string(table) + ".idx")
}

func mainKey(key Key) []byte {
	return []byte(key.PK + keySep + key.SK)
}

func indexEntryKey(indexKey string, key Key) []byte {
	return []byte(indexKey + keySep + key.PK + keySep + key.SK)
}

// Get returns the stored value for key, or ErrNotFound.
func (s *BboltStore) Get(_ context.Context, table Table, key Key) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(mainBucket(table)).Get(mainKey(key))
		if data == nil {
			return ErrNotFound
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("unmarshal envelope %s: %w", key, err)
		}
		value = append([]byte(nil), env.Value...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Query returns every item in partition pk, ordered by sort key.
func (s *BboltStore) Query(_ context.Context, table Table, pk string) ([]Item, error) {
	prefix := []byte(pk + keySep)

	var items []Item
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(mainBucket(table)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var env envelope
			if err := json.Unmarshal(v, &env); err != nil {
				return fmt.Errorf("unmarshal envelope %q: %w", k, err)
			}
			items = append(items, Item{
				Key:      Key{PK: pk, SK: string(k[len(prefix):])},
				IndexKey: env.IndexKey,
				Value:    append([]byte(nil), env.Value...),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// QueryIndex returns every item whose index partition key equals indexKey.
func (s *BboltStore) QueryIndex(_ context.Context, table Table, indexKey string) ([]Item, error) {
	prefix := []byte(indexKey + keySep)

	var items []Item
	err := s.db.View(func(tx *bolt.Tx) error {
		main := tx.Bucket(mainBucket(table))
		c := tx.Bucket(indexBucket(table)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			data := main.Get(v)
			if data == nil {
				// Dangling index entry; skip rather than fail the scan.
				continue
			}
			var env envelope
			if err := json.Unmarshal(data, &env); err != nil {
				return fmt.Errorf("unmarshal envelope %q: %w", v, err)
			}
			rest := k[len(prefix):]
			sep := bytes.LastIndexByte(rest, 0)
			if sep < 0 {
				continue
			}
			items = append(items, Item{
				Key:      Key{PK: string(rest[:sep]), SK: string(rest[sep+1:])},
				IndexKey: indexKey,
				Value:    append([]byte(nil), env.Value...),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// BatchGet returns the values for keys that exist; missing keys are skipped.
func (s *BboltStore) BatchGet(_ context.Context, table Table, keys []Key) ([][]byte, error) {
	var values [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(mainBucket(table))
		for _, key := range keys {
			if err := key.Validate(); err != nil {
				return err
			}
			data := b.Get(mainKey(key))
			if data == nil {
				continue
			}
			var env envelope
			if err := json.Unmarshal(data, &env); err != nil {
				return fmt.Errorf("unmarshal envelope %s: %w", key, err)
			}
			values = append(values, append([]byte(nil), env.Value...))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

// Put writes one item, subject to cond.
func (s *BboltStore) Put(ctx context.Context, table Table, key Key, indexKey string, value []byte, cond Cond) error {
	return singleOp(ctx, s, WriteOp{Table: table, Kind: OpPut, Key: key, IndexKey: indexKey, Value: value, Cond: cond})
}

// Update rewrites one item through apply, subject to cond.
func (s *BboltStore) Update(ctx context.Context, table Table, key Key, apply func(current []byte) ([]byte, error), cond Cond) error {
	return singleOp(ctx, s, WriteOp{Table: table, Kind: OpUpdate, Key: key, Apply: apply, Cond: cond})
}

// Delete removes one item, subject to cond.
func (s *BboltStore) Delete(ctx context.Context, table Table, key Key, cond Cond) error {
	return singleOp(ctx, s, WriteOp{Table: table, Kind: OpDelete, Key: key, Cond: cond})
}

// TransactWrite applies ops all-or-nothing inside one bbolt update.
func (s *BboltStore) TransactWrite(_ context.Context, ops []WriteOp) error {
	if len(ops) > MaxTransactItems {
		return fmt.Errorf("%d items: %w", len(ops), ErrTooManyItems)
	}
	for _, op := range ops {
		if err := op.Key.Validate(); err != nil {
			return err
		}
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		// Read the pre-transaction state and evaluate every condition
		// before applying any write.
		currents := make([]*envelope, len(ops))
		for i, op := range ops {
			data := tx.Bucket(mainBucket(op.Table)).Get(mainKey(op.Key))
			if data != nil {
				var env envelope
				if err := json.Unmarshal(data, &env); err != nil {
					return fmt.Errorf("unmarshal envelope %s: %w", op.Key, err)
				}
				currents[i] = &env
			}

			if op.Cond != nil {
				var cur []byte
				if currents[i] != nil {
					cur = currents[i].Value
				}
				if err := op.Cond(cur); err != nil {
					if err == ErrConditionFailed {
						return fmt.Errorf("%s %s: %w", op.Table, op.Key, ErrTransactionConditionFailed)
					}
					return err
				}
			}
		}

		for i, op := range ops {
			if err := s.applyOp(tx, op, currents[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BboltStore) applyOp(tx *bolt.Tx, op WriteOp, current *envelope) error {
	main := tx.Bucket(mainBucket(op.Table))
	idx := tx.Bucket(indexBucket(op.Table))

	removeIndex := func() error {
		if current != nil && current.IndexKey != "" {
			return idx.Delete(indexEntryKey(current.IndexKey, op.Key))
		}
		return nil
	}

	write := func(indexKey string, value []byte) error {
		env := envelope{IndexKey: indexKey, Value: value}
		data, err := json.Marshal(&env)
		if err != nil {
			return fmt.Errorf("marshal envelope %s: %w", op.Key, err)
		}
		if err := main.Put(mainKey(op.Key), data); err != nil {
			return fmt.Errorf("store item %s: %w", op.Key, err)
		}
		if indexKey != "" {
			if err := idx.Put(indexEntryKey(indexKey, op.Key), mainKey(op.Key)); err != nil {
				return fmt.Errorf("store index entry %s: %w", op.Key, err)
			}
		}
		return nil
	}

	switch op.Kind {
	case OpPut:
		if current != nil && current.IndexKey != op.IndexKey {
			if err := removeIndex(); err != nil {
				return err
			}
		}
		return write(op.IndexKey, op.Value)

	case OpUpdate:
		var cur []byte
		indexKey := op.IndexKey
		if current != nil {
			cur = current.Value
			indexKey = current.IndexKey
		}
		next, err := op.Apply(cur)
		if err != nil {
			return fmt.Errorf("apply update %s: %w", op.Key, err)
		}
		return write(indexKey, next)

	case OpDelete:
		if err := removeIndex(); err != nil {
			return err
		}
		if err := main.Delete(mainKey(op.Key)); err != nil {
			return fmt.Errorf("delete item %s: %w", op.Key, err)
		}
		return nil

	default:
		return fmt.Errorf("unknown op kind %d", op.Kind)
	}
}
