package ledger

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/oreg/internal/kvstore"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	store, err := kvstore.NewBboltStore(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store)
}

// forEachLedger runs the test against a ledger on each store backend. The
// concurrency tests use it so the CAS error taxonomy is exercised on both.
func forEachLedger(t *testing.T, fn func(t *testing.T, l *Ledger)) {
	t.Run("bbolt", func(t *testing.T) {
		store, err := kvstore.NewBboltStore(filepath.Join(t.TempDir(), "registry.db"))
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		fn(t, New(store))
	})
	t.Run("sqlite", func(t *testing.T) {
		store, err := kvstore.NewSqliteStore(filepath.Join(t.TempDir(), "registry.db"))
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		fn(t, New(store))
	})
}

func publish(t *testing.T, l *Ledger, name, env, version string) {
	t.Helper()
	_, err := l.Variants.Put(context.Background(), PutRequest{
		Name:           name,
		Env:            env,
		Version:        version,
		Data:           json.RawMessage(`{"v":"` + version + `"}`),
		ForceCreateEnv: true,
	})
	require.NoError(t, err)
}

// The full publish → promote → publish → promote → rollback lifecycle.
func TestLedger_EndToEnd(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	publish(t, l, "obj", "ote", "1.0.0")

	head, err := l.Heads.Get(ctx, "obj", "ote")
	require.NoError(t, err)
	assert.Nil(t, head.HeadVersion)
	require.NotNil(t, head.LatestVersion)
	assert.Equal(t, "1.0.0", *head.LatestVersion)

	t0, err := l.Heads.Set(ctx, "obj", "ote", "1.0.0", nil)
	require.NoError(t, err)

	head, err = l.Heads.Get(ctx, "obj", "ote")
	require.NoError(t, err)
	require.NotNil(t, head.HeadVersion)
	assert.Equal(t, "1.0.0", *head.HeadVersion)
	assert.Equal(t, "1.0.0", *head.LatestVersion)

	publish(t, l, "obj", "ote", "1.0.1")
	_, err = l.Heads.Set(ctx, "obj", "ote", "1.0.1", &t0)
	require.NoError(t, err)

	head, err = l.Heads.Rollback(ctx, "obj", "ote", 1)
	require.NoError(t, err)
	require.NotNil(t, head.HeadVersion)
	assert.Equal(t, "1.0.0", *head.HeadVersion, "rollback restores the previous head")
	assert.Equal(t, "1.0.1", *head.LatestVersion, "latest stays ahead of head")
}
