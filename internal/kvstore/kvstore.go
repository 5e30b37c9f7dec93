// Package kvstore defines the transactional key-value/document store the
// registry ledger runs on. Items are opaque JSON documents addressed by a
// (partition key, sort key) pair within a named table, with an optional
// secondary-index partition key for cross-key enumeration. Writes accept
// condition closures evaluated against the stored value; TransactWrite
// groups up to MaxTransactItems writes into one all-or-nothing commit.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Table names the logical tables used by the registry.
type Table string

const (
	TableObjects      Table = "objects"
	TableVariants     Table = "variants"
	TableHistory      Table = "history"
	TableEnvironments Table = "environments"
	TableAliases      Table = "aliases"
)

// Tables lists every logical table, in creation order.
var Tables = []Table{
	TableObjects,
	TableVariants,
	TableHistory,
	TableEnvironments,
	TableAliases,
}

// MaxTransactItems is the ceiling on write ops in one TransactWrite.
// Callers with larger batches must shard into sequential transactions.
const MaxTransactItems = 25

// Sentinel errors for expected conditions.
var (
	ErrNotFound                   = errors.New("item not found")
	ErrConditionFailed            = errors.New("condition failed")
	ErrTransactionConditionFailed = errors.New("transaction condition failed")
	ErrTooManyItems               = errors.New("too many items in transaction")
)

// Key identifies one item within a table.
type Key struct {
	PK string
	SK string
}

func (k Key) String() string {
	return k.PK + "/" + k.SK
}

// Validate rejects keys the store cannot encode.
func (k Key) Validate() error {
	if k.PK == "" || k.SK == "" {
		return fmt.Errorf("empty key component in %q", k.String())
	}
	if strings.ContainsRune(k.PK, 0) || strings.ContainsRune(k.SK, 0) {
		return fmt.Errorf("NUL byte in key %q", k.String())
	}
	return nil
}

// Item is one stored document together with its key and secondary-index
// partition key (empty if the item is not indexed).
type Item struct {
	Key      Key
	IndexKey string
	Value    []byte
}

// Cond inspects the currently stored value (nil when the item is absent)
// and returns ErrConditionFailed to reject the write.
type Cond func(current []byte) error

// IfAbsent rejects the write when the item already exists.
func IfAbsent() Cond {
	return func(current []byte) error {
		if current != nil {
			return ErrConditionFailed
		}
		return nil
	}
}

// IfPresent rejects the write when the item does not exist.
func IfPresent() Cond {
	return func(current []byte) error {
		if current == nil {
			return ErrConditionFailed
		}
		return nil
	}
}

// OpKind discriminates TransactWrite operations.
type OpKind int

const (
	OpPut OpKind = iota
	OpUpdate
	OpDelete
)

// WriteOp is one element of a TransactWrite.
//
// OpPut stores Value. OpUpdate calls Apply with the stored value (nil when
// absent) and stores the result; it is an upsert when the item is absent.
// OpDelete removes the item. Conditions are evaluated against the state
// before the transaction; if any fails, no write is applied.
//
// IndexKey assigns the secondary-index partition for OpPut and
// OpUpdate-upserts on indexed tables; updates of existing items keep the
// stored index key.
type WriteOp struct {
	Table    Table
	Kind     OpKind
	Key      Key
	IndexKey string
	Value    []byte
	Apply    func(current []byte) ([]byte, error)
	Cond     Cond
}

// Store is the backing-store contract consumed by the ledger. All durable
// registry state lives behind it; the ledger itself holds no locks and no
// caches.
type Store interface {
	// Get returns the stored value, or ErrNotFound.
	Get(ctx context.Context, table Table, key Key) ([]byte, error)

	// Query returns every item in the partition pk, ordered by sort key.
	Query(ctx context.Context, table Table, pk string) ([]Item, error)

	// QueryIndex returns every item whose secondary-index partition key
	// equals indexKey, ordered by primary key.
	QueryIndex(ctx context.Context, table Table, indexKey string) ([]Item, error)

	// BatchGet returns the values for keys that exist; missing keys are
	// skipped without error.
	BatchGet(ctx context.Context, table Table, keys []Key) ([][]byte, error)

	// Put writes one item, subject to cond. Returns ErrConditionFailed.
	Put(ctx context.Context, table Table, key Key, indexKey string, value []byte, cond Cond) error

	// Update rewrites one item through apply, subject to cond.
	Update(ctx context.Context, table Table, key Key, apply func(current []byte) ([]byte, error), cond Cond) error

	// Delete removes one item, subject to cond.
	Delete(ctx context.Context, table Table, key Key, cond Cond) error

	// TransactWrite applies ops all-or-nothing. Returns
	// ErrTransactionConditionFailed if any condition rejects, and
	// ErrTooManyItems when len(ops) exceeds MaxTransactItems.
	TransactWrite(ctx context.Context, ops []WriteOp) error

	// Close releases resources.
	Close() error
}

// singleOp adapts the one-item write methods onto TransactWrite and maps
// the transaction sentinel back to ErrConditionFailed.
func singleOp(ctx context.Context, s Store, op WriteOp) error {
	err := s.TransactWrite(ctx, []WriteOp{op})
	if errors.Is(err, ErrTransactionConditionFailed) {
		return fmt.Errorf("%s %s: %w", op.Table, op.Key, ErrConditionFailed)
	}
	return err
}
