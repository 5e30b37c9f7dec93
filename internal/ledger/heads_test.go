package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeads_SetRequiresObject(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	_, err := l.Heads.Set(ctx, "obj", "dev", "1.0.0", nil)
	assert.ErrorIs(t, err, ErrConflict)

	// The rejected transaction must not leave a history record behind.
	records, err := l.History.List(ctx, "obj", "dev")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestHeads_SetRejectsSameVersion(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	publish(t, l, "obj", "dev", "1.0.0")
	t0, err := l.Heads.Set(ctx, "obj", "dev", "1.0.0", nil)
	require.NoError(t, err)

	_, err = l.Heads.Set(ctx, "obj", "dev", "1.0.0", &t0)
	assert.ErrorIs(t, err, ErrConflict, "no-op transition to the live version is rejected")
}

func TestHeads_SetCAS(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	publish(t, l, "obj", "dev", "1.0.0")
	publish(t, l, "obj", "dev", "1.0.1")
	publish(t, l, "obj", "dev", "1.0.2")

	t0, err := l.Heads.Set(ctx, "obj", "dev", "1.0.0", nil)
	require.NoError(t, err)

	// First writer with the observed token wins.
	_, err = l.Heads.Set(ctx, "obj", "dev", "1.0.1", &t0)
	require.NoError(t, err)

	// Second writer with the same stale token loses.
	_, err = l.Heads.Set(ctx, "obj", "dev", "1.0.2", &t0)
	assert.ErrorIs(t, err, ErrConflict)

	head, err := l.Heads.Get(ctx, "obj", "dev")
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", *head.HeadVersion)
}

// Two racing writers observing the same token: exactly one succeeds and the
// loser gets Conflict, on either store backend.
func TestHeads_ConcurrentSetExactlyOneWins(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l *Ledger) {
		ctx := context.Background()

		publish(t, l, "obj", "dev", "1.0.0")
		publish(t, l, "obj", "dev", "1.0.1")
		publish(t, l, "obj", "dev", "1.0.2")

		t0, err := l.Heads.Set(ctx, "obj", "dev", "1.0.0", nil)
		require.NoError(t, err)

		errs := make([]error, 2)
		var wg sync.WaitGroup
		for i, target := range []string{"1.0.1", "1.0.2"} {
			wg.Add(1)
			go func(i int, target string) {
				defer wg.Done()
				_, errs[i] = l.Heads.Set(ctx, "obj", "dev", target, &t0)
			}(i, target)
		}
		wg.Wait()

		winners := 0
		for _, err := range errs {
			if err == nil {
				winners++
			} else {
				assert.ErrorIs(t, err, ErrConflict)
			}
		}
		assert.Equal(t, 1, winners)
	})
}

func TestHeads_RollbackReachability(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	versions := []string{"1.0.0", "1.0.1", "1.0.2", "1.0.3"}
	var prev *int64
	for _, v := range versions {
		publish(t, l, "obj", "dev", v)
		ts, err := l.Heads.Set(ctx, "obj", "dev", v, prev)
		require.NoError(t, err)
		prev = &ts
	}

	head, err := l.Heads.Rollback(ctx, "obj", "dev", 1)
	require.NoError(t, err)
	assert.Equal(t, "1.0.2", *head.HeadVersion)

	head, err = l.Heads.Rollback(ctx, "obj", "dev", 3)
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", *head.HeadVersion)

	_, err = l.Heads.Rollback(ctx, "obj", "dev", 8)
	assert.ErrorIs(t, err, ErrNotFound, "walking past the chain start is not a rollback")
}

func TestHeads_RollbackWithoutHead(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	_, err := l.Heads.Rollback(ctx, "obj", "dev", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	publish(t, l, "obj", "dev", "1.0.0")
	_, err = l.Heads.Rollback(ctx, "obj", "dev", 1)
	assert.ErrorIs(t, err, ErrNotFound, "published but never promoted means nothing to roll back")
}

func TestHeads_GetAll(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	publish(t, l, "obj", "dev", "1.0.0")
	publish(t, l, "obj", "prod", "0.9.0")
	_, err := l.Heads.Set(ctx, "obj", "prod", "0.9.0", nil)
	require.NoError(t, err)

	heads, err := l.Heads.GetAll(ctx, "obj")
	require.NoError(t, err)
	require.Len(t, heads, 2)

	byEnv := map[string]*string{}
	for _, h := range heads {
		byEnv[h.Env] = h.HeadVersion
	}
	assert.Nil(t, byEnv["dev"])
	require.NotNil(t, byEnv["prod"])
	assert.Equal(t, "0.9.0", *byEnv["prod"])
}
