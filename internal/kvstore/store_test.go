package kvstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// forEachStore runs the test against both backends.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("bbolt", func(t *testing.T) {
		s, err := NewBboltStore(filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSqliteStore(filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func TestStore_PutGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		key := Key{PK: "obj", SK: "development"}

		_, err := s.Get(ctx, TableObjects, key)
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.Put(ctx, TableObjects, key, "", []byte(`{"a":1}`), nil))

		value, err := s.Get(ctx, TableObjects, key)
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":1}`, string(value))

		// Overwrite
		require.NoError(t, s.Put(ctx, TableObjects, key, "", []byte(`{"a":2}`), nil))
		value, err = s.Get(ctx, TableObjects, key)
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":2}`, string(value))
	})
}

func TestStore_Conditions(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		key := Key{PK: "obj", SK: "ote"}

		require.NoError(t, s.Put(ctx, TableObjects, key, "", []byte(`1`), IfAbsent()))

		err := s.Put(ctx, TableObjects, key, "", []byte(`2`), IfAbsent())
		assert.ErrorIs(t, err, ErrConditionFailed)

		err = s.Delete(ctx, TableObjects, Key{PK: "obj", SK: "missing"}, IfPresent())
		assert.ErrorIs(t, err, ErrConditionFailed)

		require.NoError(t, s.Delete(ctx, TableObjects, key, IfPresent()))
		_, err = s.Get(ctx, TableObjects, key)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_QueryOrdersBySortKey(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, sk := range []string{"c", "a", "b"} {
			require.NoError(t, s.Put(ctx, TableEnvironments, Key{PK: "obj", SK: sk}, "", []byte(`"`+sk+`"`), nil))
		}
		// Same sort keys under a different partition must not leak in.
		require.NoError(t, s.Put(ctx, TableEnvironments, Key{PK: "other", SK: "a"}, "", []byte(`"x"`), nil))

		items, err := s.Query(ctx, TableEnvironments, "obj")
		require.NoError(t, err)
		require.Len(t, items, 3)
		assert.Equal(t, "a", items[0].Key.SK)
		assert.Equal(t, "b", items[1].Key.SK)
		assert.Equal(t, "c", items[2].Key.SK)
	})
}

func TestStore_QueryIndex(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		put := func(pk, sk, idx string) {
			require.NoError(t, s.Put(ctx, TableVariants, Key{PK: pk, SK: sk}, idx, []byte(`{}`), nil))
		}
		put("obj_1.0.0_dev", "_default", "obj_dev")
		put("obj_1.0.0_dev", "fr-FR", "obj_dev")
		put("obj_2.0.0_dev", "_default", "obj_dev")
		put("obj_1.0.0_prod", "_default", "obj_prod")

		items, err := s.QueryIndex(ctx, TableVariants, "obj_dev")
		require.NoError(t, err)
		assert.Len(t, items, 3)

		// Deleting the item removes its index entry.
		require.NoError(t, s.Delete(ctx, TableVariants, Key{PK: "obj_2.0.0_dev", SK: "_default"}, nil))
		items, err = s.QueryIndex(ctx, TableVariants, "obj_dev")
		require.NoError(t, err)
		assert.Len(t, items, 2)

		items, err = s.QueryIndex(ctx, TableVariants, "obj_prod")
		require.NoError(t, err)
		assert.Len(t, items, 1)
		assert.Equal(t, Key{PK: "obj_1.0.0_prod", SK: "_default"}, items[0].Key)
	})
}

func TestStore_BatchGetSkipsMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, TableAliases, Key{PK: "obj", SK: "dev"}, "", []byte(`1`), nil))
		require.NoError(t, s.Put(ctx, TableAliases, Key{PK: "obj", SK: "prod"}, "", []byte(`2`), nil))

		values, err := s.BatchGet(ctx, TableAliases, []Key{
			{PK: "obj", SK: "dev"},
			{PK: "obj", SK: "missing"},
			{PK: "obj", SK: "prod"},
		})
		require.NoError(t, err)
		assert.Len(t, values, 2)
	})
}

func TestStore_TransactWriteAtomicity(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, TableVariants, Key{PK: "obj_1.0.0_dev", SK: "_default"}, "obj_dev", []byte(`{}`), nil))

		// Last op's condition fails: nothing may be applied.
		err := s.TransactWrite(ctx, []WriteOp{
			{Table: TableVariants, Kind: OpPut, Key: Key{PK: "obj_2.0.0_dev", SK: "_default"}, IndexKey: "obj_dev", Value: []byte(`{}`)},
			{Table: TableVariants, Kind: OpDelete, Key: Key{PK: "obj_1.0.0_dev", SK: "_default"}},
			{Table: TableObjects, Kind: OpPut, Key: Key{PK: "obj", SK: "dev"}, Value: []byte(`{}`), Cond: IfPresent()},
		})
		require.ErrorIs(t, err, ErrTransactionConditionFailed)

		_, err = s.Get(ctx, TableVariants, Key{PK: "obj_2.0.0_dev", SK: "_default"})
		assert.ErrorIs(t, err, ErrNotFound, "rejected transaction must not create items")
		_, err = s.Get(ctx, TableVariants, Key{PK: "obj_1.0.0_dev", SK: "_default"})
		assert.NoError(t, err, "rejected transaction must not delete items")
	})
}

func TestStore_TransactWriteConditionsSeePreState(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		// Both ops put the same key with IfAbsent; both conditions are
		// evaluated against the pre-transaction state, so the transaction
		// succeeds and the second write wins.
		key := Key{PK: "obj", SK: "dev"}
		err := s.TransactWrite(ctx, []WriteOp{
			{Table: TableObjects, Kind: OpPut, Key: key, Value: []byte(`1`), Cond: IfAbsent()},
			{Table: TableObjects, Kind: OpPut, Key: key, Value: []byte(`2`), Cond: IfAbsent()},
		})
		require.NoError(t, err)

		value, err := s.Get(ctx, TableObjects, key)
		require.NoError(t, err)
		assert.Equal(t, []byte(`2`), value)
	})
}

// Two writers race conditional transactions on the same key: exactly one
// commits, and the loser gets the condition sentinel, not a raw driver
// error such as a lock-upgrade failure.
func TestStore_ConcurrentTransactWriteLoserGetsConditionFailed(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		key := Key{PK: "obj", SK: "dev"}

		errs := make([]error, 2)
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = s.TransactWrite(ctx, []WriteOp{
					{Table: TableObjects, Kind: OpPut, Key: key, Value: []byte(fmt.Sprintf(`%d`, i)), Cond: IfAbsent()},
				})
			}(i)
		}
		wg.Wait()

		winners := 0
		for _, err := range errs {
			if err == nil {
				winners++
			} else {
				assert.ErrorIs(t, err, ErrTransactionConditionFailed)
			}
		}
		assert.Equal(t, 1, winners)

		_, err := s.Get(ctx, TableObjects, key)
		assert.NoError(t, err)
	})
}

func TestStore_TransactWriteTooManyItems(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ops := make([]WriteOp, MaxTransactItems+1)
		for i := range ops {
			ops[i] = WriteOp{
				Table: TableVariants,
				Kind:  OpPut,
				Key:   Key{PK: fmt.Sprintf("obj_%d", i), SK: "_default"},
				Value: []byte(`{}`),
			}
		}
		err := s.TransactWrite(context.Background(), ops)
		assert.ErrorIs(t, err, ErrTooManyItems)
	})
}

func TestStore_UpdateUpsertAndApply(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		key := Key{PK: "obj", SK: "dev"}

		// Upsert: apply sees nil.
		err := s.Update(ctx, TableObjects, key, func(current []byte) ([]byte, error) {
			require.Nil(t, current)
			return []byte(`1`), nil
		}, nil)
		require.NoError(t, err)

		// Update: apply sees the stored value.
		err = s.Update(ctx, TableObjects, key, func(current []byte) ([]byte, error) {
			require.Equal(t, []byte(`1`), current)
			return []byte(`2`), nil
		}, IfPresent())
		require.NoError(t, err)

		value, err := s.Get(ctx, TableObjects, key)
		require.NoError(t, err)
		assert.Equal(t, []byte(`2`), value)
	})
}

func TestStore_KeyValidation(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		err := s.Put(ctx, TableObjects, Key{PK: "", SK: "dev"}, "", []byte(`1`), nil)
		assert.Error(t, err)
		err = s.Put(ctx, TableObjects, Key{PK: "a\x00b", SK: "dev"}, "", []byte(`1`), nil)
		assert.Error(t, err)
	})
}
