package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kilupskalvis/oreg/internal/kvstore"
	"github.com/kilupskalvis/oreg/internal/models"
)

// getObject reads the Object row for (name, env), nil if absent.
func getObject(ctx context.Context, store kvstore.Store, name, env string) (*models.Object, error) {
	data, err := store.Get(ctx, kvstore.TableObjects, objectKey(name, env))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var object models.Object
	if err := json.Unmarshal(data, &object); err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}
	return &object, nil
}

// patchObjectOp builds an update op that merges patch over the stored
// Object row, guarded by cond.
func patchObjectOp(name, env string, patch models.ObjectPatch, cond kvstore.Cond) kvstore.WriteOp {
	return kvstore.WriteOp{
		Table: kvstore.TableObjects,
		Kind:  kvstore.OpUpdate,
		Key:   objectKey(name, env),
		Apply: func(current []byte) ([]byte, error) {
			var object models.Object
			if current != nil {
				if err := json.Unmarshal(current, &object); err != nil {
					return nil, fmt.Errorf("unmarshal object: %w", err)
				}
			} else {
				object = models.Object{Name: name, Env: env}
			}
			return json.Marshal(patch.Apply(object))
		},
		Cond: cond,
	}
}

// strEqual compares two nullable strings.
func strEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// int64Equal compares two nullable int64s.
func int64Equal(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
