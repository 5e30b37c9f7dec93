package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SqliteStore implements Store on an embedded SQLite database, one
// `kv_<table>` relation per logical table. A TransactWrite runs inside a
// single SQL transaction with all conditions evaluated first.
type SqliteStore struct {
	db *sql.DB
}

// NewSqliteStore opens or creates a SQLite database at the given path and
// creates the per-table relations.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	// Transactions must take the write lock at BEGIN. A deferred
	// transaction upgrades from a read snapshot at first write, and a
	// concurrent writer makes that upgrade fail with SQLITE_BUSY without
	// waiting on busy_timeout; an immediate one blocks at BEGIN instead,
	// then reads committed state and fails its condition as a plain
	// ErrTransactionConditionFailed.
	db, err := sql.Open("sqlite", dbPath+"?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open store database: %w", err)
	}

	s := &SqliteStore{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqliteStore) initialize() error {
	for _, table := range Tables {
		rel := relation(table)
		schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		pk        TEXT NOT NULL,
		sk        TEXT NOT NULL,
		index_key TEXT NOT NULL DEFAULT '',
		value     BLOB NOT NULL,
		PRIMARY KEY (pk, sk)
	);
	CREATE INDEX IF NOT EXISTS %[1]s_index_key ON %[1]s (index_key, pk, sk);
	`, rel)
		if err := execScript(s.db, schema); err != nil {
			return fmt.Errorf("create relation %s: %w", rel, err)
		}
	}
	return nil
}

func execScript(db *sql.DB, script string) error {
	_, err := db.Exec(script)
	return err
}

// Close closes the database connection.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

// relation maps a logical table to its SQL relation name. Table names come
// from the fixed Tables list, never from user input.
func relation(table Table) string {
	return "kv_" + string(table)
}

// Get returns the stored value for key, or ErrNotFound.
func (s *SqliteStore) Get(ctx context.Context, table Table, key Key) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var value []byte
	query := fmt.Sprintf("SELECT value FROM %s WHERE pk = ? AND sk = ?", relation(table))
	err := s.db.QueryRowContext(ctx, query, key.PK, key.SK).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", table, key, err)
	}
	return value, nil
}

// Query returns every item in partition pk, ordered by sort key.
func (s *SqliteStore) Query(ctx context.Context, table Table, pk string) ([]Item, error) {
	query := fmt.Sprintf("SELECT sk, index_key, value FROM %s WHERE pk = ? ORDER BY sk", relation(table))
	rows, err := s.db.QueryContext(ctx, query, pk)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		it.Key.PK = pk
		if err := rows.Scan(&it.Key.SK, &it.IndexKey, &it.Value); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// QueryIndex returns every item whose index partition key equals indexKey.
func (s *SqliteStore) QueryIndex(ctx context.Context, table Table, indexKey string) ([]Item, error) {
	if indexKey == "" {
		return nil, nil
	}
	query := fmt.Sprintf("SELECT pk, sk, value FROM %s WHERE index_key = ? ORDER BY pk, sk", relation(table))
	rows, err := s.db.QueryContext(ctx, query, indexKey)
	if err != nil {
		return nil, fmt.Errorf("query index %s: %w", table, err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it := Item{IndexKey: indexKey}
		if err := rows.Scan(&it.Key.PK, &it.Key.SK, &it.Value); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// BatchGet returns the values for keys that exist; missing keys are skipped.
func (s *SqliteStore) BatchGet(ctx context.Context, table Table, keys []Key) ([][]byte, error) {
	var values [][]byte
	for _, key := range keys {
		value, err := s.Get(ctx, table, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, nil
}

// Put writes one item, subject to cond.
func (s *SqliteStore) Put(ctx context.Context, table Table, key Key, indexKey string, value []byte, cond Cond) error {
	return singleOp(ctx, s, WriteOp{Table: table, Kind: OpPut, Key: key, IndexKey: indexKey, Value: value, Cond: cond})
}

// Update rewrites one item through apply, subject to cond.
func (s *SqliteStore) Update(ctx context.Context, table Table, key Key, apply func(current []byte) ([]byte, error), cond Cond) error {
	return singleOp(ctx, s, WriteOp{Table: table, Kind: OpUpdate, Key: key, Apply: apply, Cond: cond})
}

// Delete removes one item, subject to cond.
func (s *SqliteStore) Delete(ctx context.Context, table Table, key Key, cond Cond) error {
	return singleOp(ctx, s, WriteOp{Table: table, Kind: OpDelete, Key: key, Cond: cond})
}

type sqliteRow struct {
	indexKey string
	value    []byte
}

// TransactWrite applies ops all-or-nothing inside one SQL transaction.
// The transaction begins IMMEDIATE (via the DSN), so concurrent writers
// serialize at BEGIN and the later one evaluates its conditions against
// the earlier one's committed state.
func (s *SqliteStore) TransactWrite(ctx context.Context, ops []WriteOp) error {
	if len(ops) > MaxTransactItems {
		return fmt.Errorf("%d items: %w", len(ops), ErrTooManyItems)
	}
	for _, op := range ops {
		if err := op.Key.Validate(); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Read the pre-transaction state and evaluate every condition before
	// applying any write.
	currents := make([]*sqliteRow, len(ops))
	for i, op := range ops {
		query := fmt.Sprintf("SELECT index_key, value FROM %s WHERE pk = ? AND sk = ?", relation(op.Table))
		var row sqliteRow
		err := tx.QueryRowContext(ctx, query, op.Key.PK, op.Key.SK).Scan(&row.indexKey, &row.value)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			currents[i] = nil
		case err != nil:
			return fmt.Errorf("read %s %s: %w", op.Table, op.Key, err)
		default:
			currents[i] = &row
		}

		if op.Cond != nil {
			var cur []byte
			if currents[i] != nil {
				cur = currents[i].value
			}
			if condErr := op.Cond(cur); condErr != nil {
				if condErr == ErrConditionFailed {
					return fmt.Errorf("%s %s: %w", op.Table, op.Key, ErrTransactionConditionFailed)
				}
				return condErr
			}
		}
	}

	for i, op := range ops {
		if err := applySqliteOp(ctx, tx, op, currents[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func applySqliteOp(ctx context.Context, tx *sql.Tx, op WriteOp, current *sqliteRow) error {
	rel := relation(op.Table)
	upsert := fmt.Sprintf("INSERT OR REPLACE INTO %s (pk, sk, index_key, value) VALUES (?, ?, ?, ?)", rel)

	switch op.Kind {
	case OpPut:
		if _, err := tx.ExecContext(ctx, upsert, op.Key.PK, op.Key.SK, op.IndexKey, op.Value); err != nil {
			return fmt.Errorf("put %s %s: %w", op.Table, op.Key, err)
		}
		return nil

	case OpUpdate:
		var cur []byte
		indexKey := op.IndexKey
		if current != nil {
			cur = current.value
			indexKey = current.indexKey
		}
		next, err := op.Apply(cur)
		if err != nil {
			return fmt.Errorf("apply update %s: %w", op.Key, err)
		}
		if _, err := tx.ExecContext(ctx, upsert, op.Key.PK, op.Key.SK, indexKey, next); err != nil {
			return fmt.Errorf("update %s %s: %w", op.Table, op.Key, err)
		}
		return nil

	case OpDelete:
		del := fmt.Sprintf("DELETE FROM %s WHERE pk = ? AND sk = ?", rel)
		if _, err := tx.ExecContext(ctx, del, op.Key.PK, op.Key.SK); err != nil {
			return fmt.Errorf("delete %s %s: %w", op.Table, op.Key, err)
		}
		return nil

	default:
		return fmt.Errorf("unknown op kind %d", op.Kind)
	}
}
