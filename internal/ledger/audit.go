package ledger

import (
	"context"

	"github.com/kilupskalvis/oreg/internal/version"
)

// Auditor detects and repairs head/latest pointers that reference versions
// with no remaining variants. Corruption can only be introduced by the
// explicit deletion paths, so the auditor runs opportunistically after
// those rather than continuously.
type Auditor struct {
	heads    *Heads
	variants *Variants
}

// CheckAndRepair reconciles the object row for (name, env) against the
// versions that still exist. Returns whether a repair was made. A repair
// whose condition loses to a concurrent writer is a no-op, not an error:
// the auditor yields to newer state.
func (a *Auditor) CheckAndRepair(ctx context.Context, name, env string) (bool, error) {
	observed, err := getObject(ctx, a.heads.store, name, env)
	if err != nil {
		return false, err
	}
	if observed == nil {
		return false, nil
	}

	versions, err := a.variants.Versions(ctx, name, env)
	if err != nil {
		return false, err
	}

	if len(versions) == 0 {
		return a.heads.removeObject(ctx, name, env, observed)
	}

	newHead := observed.HeadVersion
	if newHead != nil && !containsVersion(versions, *newHead) {
		newHead = nil
	}

	newLatest := observed.LatestVersion
	if newLatest == nil || !containsVersion(versions, *newLatest) {
		max, err := version.Max(versions)
		if err != nil {
			return false, err
		}
		newLatest = &max
	}

	if strEqual(newHead, observed.HeadVersion) && strEqual(newLatest, observed.LatestVersion) {
		return false, nil
	}

	return a.heads.repairPointers(ctx, name, env, observed, newHead, newLatest)
}

func containsVersion(versions []string, v string) bool {
	for _, existing := range versions {
		if existing == v {
			return true
		}
	}
	return false
}
