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

// History is the append-only record of head-pointer transitions per
// (object, environment). Records link backward through PrevTimestamp,
// forming the chain that rollback walks and whose timestamps serve as the
// head CAS tokens. Records are never mutated, and deleted only by bulk
// object teardown.
type History struct {
	store kvstore.Store
}

// Append writes one transition record and returns its timestamp.
func (h *History) Append(ctx context.Context, name, env, headVersion string, prevTimestamp *int64) (int64, error) {
	timestamp := nextTimestamp(prevTimestamp)
	op, err := h.appendOp(name, env, headVersion, prevTimestamp, timestamp)
	if err != nil {
		return 0, err
	}
	if err := h.store.TransactWrite(ctx, []kvstore.WriteOp{op}); err != nil {
		return 0, err
	}
	return timestamp, nil
}

// appendOp builds the put for one transition record, for callers that
// append inside a larger transaction.
func (h *History) appendOp(name, env, headVersion string, prevTimestamp *int64, timestamp int64) (kvstore.WriteOp, error) {
	record := &models.HistoryRecord{
		Name:          name,
		Env:           env,
		Timestamp:     timestamp,
		HeadVersion:   headVersion,
		PrevTimestamp: prevTimestamp,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return kvstore.WriteOp{}, fmt.Errorf("marshal history record: %w", err)
	}
	return kvstore.WriteOp{
		Table: kvstore.TableHistory,
		Kind:  kvstore.OpPut,
		Key:   historyKey(name, env, timestamp),
		Value: data,
	}, nil
}

// nextTimestamp returns the current time in milliseconds, clamped past the
// previous link so two transitions in the same millisecond cannot collide
// on one record and close the chain into a cycle.
func nextTimestamp(prevTimestamp *int64) int64 {
	timestamp := time.Now().UnixMilli()
	if prevTimestamp != nil && timestamp <= *prevTimestamp {
		timestamp = *prevTimestamp + 1
	}
	return timestamp
}

// Get returns the record at the given timestamp, or nil if absent.
func (h *History) Get(ctx context.Context, name, env string, timestamp int64) (*models.HistoryRecord, error) {
	data, err := h.store.Get(ctx, kvstore.TableHistory, historyKey(name, env, timestamp))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var record models.HistoryRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("unmarshal history record: %w", err)
	}
	return &record, nil
}

// List returns every transition record for (name, env), ordered by
// timestamp ascending.
func (h *History) List(ctx context.Context, name, env string) ([]*models.HistoryRecord, error) {
	items, err := h.store.Query(ctx, kvstore.TableHistory, objectEnvID(name, env))
	if err != nil {
		return nil, err
	}

	records := make([]*models.HistoryRecord, 0, len(items))
	for _, item := range items {
		var record models.HistoryRecord
		if err := json.Unmarshal(item.Value, &record); err != nil {
			return nil, fmt.Errorf("unmarshal history record: %w", err)
		}
		records = append(records, &record)
	}
	return records, nil
}

// WalkBack starts at the record for fromTimestamp and follows
// PrevTimestamp links hops times. Returns nil when the chain is exhausted
// before hops ancestors — "nothing to roll back to" — as distinct from a
// reachable record.
func (h *History) WalkBack(ctx context.Context, name, env string, fromTimestamp int64, hops int) (*models.HistoryRecord, error) {
	record, err := h.Get(ctx, name, env, fromTimestamp)
	if err != nil {
		return nil, err
	}

	for i := 0; i < hops; i++ {
		if record == nil || record.PrevTimestamp == nil {
			return nil, nil
		}
		record, err = h.Get(ctx, name, env, *record.PrevTimestamp)
		if err != nil {
			return nil, err
		}
	}
	return record, nil
}

// teardownOps returns delete ops for every history record of (name, env),
// used by bulk object teardown.
func (h *History) teardownOps(ctx context.Context, name, env string) ([]kvstore.WriteOp, error) {
	items, err := h.store.Query(ctx, kvstore.TableHistory, objectEnvID(name, env))
	if err != nil {
		return nil, err
	}

	ops := make([]kvstore.WriteOp, 0, len(items))
	for _, item := range items {
		ops = append(ops, kvstore.WriteOp{
			Table: kvstore.TableHistory,
			Kind:  kvstore.OpDelete,
			Key:   item.Key,
		})
	}
	return ops, nil
}
