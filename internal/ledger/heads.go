package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kilupskalvis/oreg/internal/kvstore"
	"github.com/kilupskalvis/oreg/internal/models"
)

// Heads owns the head pointer for each (object, environment): CAS head
// updates, hop-based rollback through the history chain, and the
// conditional pointer repairs issued by the Consistency Auditor. The head
// CAS token is the history timestamp itself, so the transition log doubles
// as the concurrency token source.
type Heads struct {
	store   kvstore.Store
	history *History
}

// Get returns the head/latest pair for (name, env).
func (h *Heads) Get(ctx context.Context, name, env string) (*models.HeadInfo, error) {
	object, err := getObject(ctx, h.store, name, env)
	if err != nil {
		return nil, err
	}
	if object == nil {
		return nil, fmt.Errorf("object %q in %q: %w", name, env, ErrNotFound)
	}
	return &models.HeadInfo{
		HeadVersion:   object.HeadVersion,
		HeadTimestamp: object.HeadTimestamp,
		LatestVersion: object.LatestVersion,
	}, nil
}

// GetAll returns the head state of every environment the object has.
func (h *Heads) GetAll(ctx context.Context, name string) ([]*models.EnvironmentHead, error) {
	items, err := h.store.Query(ctx, kvstore.TableObjects, name)
	if err != nil {
		return nil, err
	}

	heads := make([]*models.EnvironmentHead, 0, len(items))
	for _, item := range items {
		var object models.Object
		if err := json.Unmarshal(item.Value, &object); err != nil {
			return nil, fmt.Errorf("unmarshal object: %w", err)
		}
		heads = append(heads, &models.EnvironmentHead{
			Env:           object.Env,
			HeadVersion:   object.HeadVersion,
			LatestVersion: object.LatestVersion,
		})
	}
	return heads, nil
}

// Set moves the head of (name, env) to version: one transaction appends a
// history record and rewrites the object row under the condition that the
// stored head differs from version and the stored head timestamp equals
// prevTimestamp. The caller must have read the object row immediately
// before calling; a rejected condition returns ErrConflict and the caller
// re-reads to decide. Returns the new head timestamp.
func (h *Heads) Set(ctx context.Context, name, env, version string, prevTimestamp *int64) (int64, error) {
	timestamp := nextTimestamp(prevTimestamp)

	historyPut, err := h.history.appendOp(name, env, version, prevTimestamp, timestamp)
	if err != nil {
		return 0, err
	}

	patch := models.ObjectPatch{
		SetHeadVersion:   true,
		HeadVersion:      &version,
		SetHeadTimestamp: true,
		HeadTimestamp:    &timestamp,
		SetLastModified:  true,
		LastModified:     time.Now().UTC(),
	}

	cond := func(current []byte) error {
		if current == nil {
			return kvstore.ErrConditionFailed
		}
		var stored models.Object
		if err := json.Unmarshal(current, &stored); err != nil {
			return fmt.Errorf("unmarshal object: %w", err)
		}
		// No-op transition to the already-live version is rejected, and
		// the stored token must match what the caller observed.
		if stored.HeadVersion != nil && *stored.HeadVersion == version {
			return kvstore.ErrConditionFailed
		}
		if !int64Equal(stored.HeadTimestamp, prevTimestamp) {
			return kvstore.ErrConditionFailed
		}
		return nil
	}

	err = h.store.TransactWrite(ctx, []kvstore.WriteOp{
		historyPut,
		patchObjectOp(name, env, patch, cond),
	})
	if errors.Is(err, kvstore.ErrTransactionConditionFailed) {
		return 0, fmt.Errorf("set head of %q in %q to %q: %w", name, env, version, ErrConflict)
	}
	if err != nil {
		return 0, err
	}
	return timestamp, nil
}

// Rollback walks the history chain backward hops transitions from the
// current head and re-issues the head CAS update with the ancestor's
// version. A concurrent head change between the read and the update
// surfaces as ErrConflict through the same CAS path.
func (h *Heads) Rollback(ctx context.Context, name, env string, hops int) (*models.HeadInfo, error) {
	object, err := getObject(ctx, h.store, name, env)
	if err != nil {
		return nil, err
	}
	if object == nil {
		return nil, fmt.Errorf("object %q in %q: %w", name, env, ErrNotFound)
	}
	if object.HeadTimestamp == nil {
		return nil, fmt.Errorf("no head set for %q in %q: %w", name, env, ErrNotFound)
	}

	ancestor, err := h.history.WalkBack(ctx, name, env, *object.HeadTimestamp, hops)
	if err != nil {
		return nil, err
	}
	if ancestor == nil {
		return nil, fmt.Errorf("no transition %d hops back for %q in %q: %w", hops, name, env, ErrNotFound)
	}

	if _, err := h.Set(ctx, name, env, ancestor.HeadVersion, object.HeadTimestamp); err != nil {
		return nil, err
	}
	return h.Get(ctx, name, env)
}

// repairPointers conditionally rewrites the head/latest pair, guarded by
// the head and latest values the auditor observed. A lost condition means
// another writer already changed the row; the repair yields and reports no
// repair made.
func (h *Heads) repairPointers(ctx context.Context, name, env string, observed *models.Object, newHead, newLatest *string) (bool, error) {
	patch := models.ObjectPatch{
		SetHeadVersion:   true,
		HeadVersion:      newHead,
		SetLatestVersion: true,
		LatestVersion:    newLatest,
		SetLastModified:  true,
		LastModified:     time.Now().UTC(),
	}
	if newHead == nil {
		// A cleared head invalidates the CAS token with it.
		patch.SetHeadTimestamp = true
		patch.HeadTimestamp = nil
	}

	err := h.store.Update(ctx, kvstore.TableObjects, objectKey(name, env),
		patchObjectOp(name, env, patch, nil).Apply,
		observedCond(observed))
	if errors.Is(err, kvstore.ErrConditionFailed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// removeObject conditionally deletes the object row once no versions
// remain, yielding to concurrent writers the same way repairPointers does.
func (h *Heads) removeObject(ctx context.Context, name, env string, observed *models.Object) (bool, error) {
	err := h.store.Delete(ctx, kvstore.TableObjects, objectKey(name, env), observedCond(observed))
	if errors.Is(err, kvstore.ErrConditionFailed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// observedCond requires the stored head/latest pair to still match what
// the auditor read in its first step.
func observedCond(observed *models.Object) kvstore.Cond {
	return func(current []byte) error {
		if current == nil {
			return kvstore.ErrConditionFailed
		}
		var stored models.Object
		if err := json.Unmarshal(current, &stored); err != nil {
			return fmt.Errorf("unmarshal object: %w", err)
		}
		if !strEqual(stored.HeadVersion, observed.HeadVersion) || !strEqual(stored.LatestVersion, observed.LatestVersion) {
			return kvstore.ErrConditionFailed
		}
		return nil
	}
}
