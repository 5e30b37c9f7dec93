package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudit_NoOpWhenConsistent(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	publish(t, l, "obj", "dev", "3.0.1")
	publish(t, l, "obj", "dev", "3.0.2")
	_, err := l.Heads.Set(ctx, "obj", "dev", "3.0.2", nil)
	require.NoError(t, err)

	repaired, err := l.Audit.CheckAndRepair(ctx, "obj", "dev")
	require.NoError(t, err)
	assert.False(t, repaired)
}

func TestAudit_RepairsDanglingHead(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	publish(t, l, "obj", "dev", "3.0.1")
	publish(t, l, "obj", "dev", "3.0.2")
	_, err := l.Heads.Set(ctx, "obj", "dev", "3.0.2", nil)
	require.NoError(t, err)

	// Removing the live version leaves head and latest pointing nowhere.
	require.NoError(t, l.Variants.DeleteVersion(ctx, "obj", "dev", "3.0.2"))

	repaired, err := l.Audit.CheckAndRepair(ctx, "obj", "dev")
	require.NoError(t, err)
	assert.True(t, repaired)

	head, err := l.Heads.Get(ctx, "obj", "dev")
	require.NoError(t, err)
	assert.Nil(t, head.HeadVersion)
	require.NotNil(t, head.LatestVersion)
	assert.Equal(t, "3.0.1", *head.LatestVersion)

	// A second pass finds nothing left to fix.
	repaired, err = l.Audit.CheckAndRepair(ctx, "obj", "dev")
	require.NoError(t, err)
	assert.False(t, repaired)
}

func TestAudit_RepairsStaleLatest(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	publish(t, l, "obj", "dev", "1.0.0")
	publish(t, l, "obj", "dev", "1.1.0")
	require.NoError(t, l.Variants.DeleteVersion(ctx, "obj", "dev", "1.1.0"))

	repaired, err := l.Audit.CheckAndRepair(ctx, "obj", "dev")
	require.NoError(t, err)
	assert.True(t, repaired)

	head, err := l.Heads.Get(ctx, "obj", "dev")
	require.NoError(t, err)
	require.NotNil(t, head.LatestVersion)
	assert.Equal(t, "1.0.0", *head.LatestVersion)
}

func TestAudit_RemovesObjectWithoutVersions(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	publish(t, l, "obj", "dev", "1.0.0")
	require.NoError(t, l.Variants.DeleteVersion(ctx, "obj", "dev", "1.0.0"))

	repaired, err := l.Audit.CheckAndRepair(ctx, "obj", "dev")
	require.NoError(t, err)
	assert.True(t, repaired)

	_, err = l.Heads.Get(ctx, "obj", "dev")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAudit_UnknownObject(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	repaired, err := l.Audit.CheckAndRepair(ctx, "missing", "dev")
	require.NoError(t, err)
	assert.False(t, repaired)
}
