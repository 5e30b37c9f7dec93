package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kilupskalvis/oreg/internal/kvstore"
	"github.com/kilupskalvis/oreg/internal/models"
	"github.com/kilupskalvis/oreg/internal/version"
)

// Variants is the source of truth for which versions exist: CRUD for
// individual (object, version, environment, variant) records, plus the
// latest-version bookkeeping on the object row. Head and audit logic treat
// its version enumeration as read-only input.
type Variants struct {
	store   kvstore.Store
	envs    *Environments
	history *History
}

// PutRequest describes one variant publish.
type PutRequest struct {
	Name           string
	Env            string
	Version        string
	Variant        string
	Data           json.RawMessage
	Expiration     *time.Time
	ForceCreateEnv bool
}

// Get returns one variant, or ErrNotFound when absent or expired.
func (v *Variants) Get(ctx context.Context, name, env, ver, variant string) (*models.Variant, error) {
	if variant == "" {
		variant = models.DefaultVariant
	}

	data, err := v.store.Get(ctx, kvstore.TableVariants, variantKey(name, env, ver, variant))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, fmt.Errorf("variant %q of %q@%s in %q: %w", variant, name, ver, env, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	record, err := unmarshalVariant(data)
	if err != nil {
		return nil, err
	}
	if record.Expired(time.Now()) {
		return nil, fmt.Errorf("variant %q of %q@%s in %q: %w", variant, name, ver, env, ErrNotFound)
	}
	return record, nil
}

// GetAll returns every live variant for one version.
func (v *Variants) GetAll(ctx context.Context, name, env, ver string) ([]*models.Variant, error) {
	items, err := v.store.Query(ctx, kvstore.TableVariants, variantID(name, ver, env))
	if err != nil {
		return nil, err
	}
	return collectVariants(items, time.Now())
}

// GetMany returns the named variants for one version; missing or expired
// names are skipped.
func (v *Variants) GetMany(ctx context.Context, name, env, ver string, variantNames []string) ([]*models.Variant, error) {
	keys := make([]kvstore.Key, 0, len(variantNames))
	for _, variant := range variantNames {
		keys = append(keys, variantKey(name, env, ver, variant))
	}

	values, err := v.store.BatchGet(ctx, kvstore.TableVariants, keys)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	variants := make([]*models.Variant, 0, len(values))
	for _, value := range values {
		record, err := unmarshalVariant(value)
		if err != nil {
			return nil, err
		}
		if record.Expired(now) {
			continue
		}
		variants = append(variants, record)
	}
	return variants, nil
}

// Versions returns the distinct versions that still have at least one
// variant for (name, env), ordered ascending by semver precedence.
func (v *Variants) Versions(ctx context.Context, name, env string) ([]string, error) {
	items, err := v.store.QueryIndex(ctx, kvstore.TableVariants, objectEnvID(name, env))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var versions []string
	for _, item := range items {
		record, err := unmarshalVariant(item.Value)
		if err != nil {
			return nil, err
		}
		if !seen[record.Version] {
			seen[record.Version] = true
			versions = append(versions, record.Version)
		}
	}

	if err := version.Sort(versions); err != nil {
		return nil, fmt.Errorf("stored versions for %q in %q: %w", name, env, err)
	}
	return versions, nil
}

// Put publishes one variant: a single transaction writes the variant row,
// creates or updates the object row (advancing latest_version only when
// the new version is strictly greater than the value read before the
// transaction), and optionally creates the environment rows. On success it
// returns the record as written, so callers need not read it back past the
// expiration filter. A lost race on the object row returns
// ErrConditionFailed; the caller re-reads and retries.
func (v *Variants) Put(ctx context.Context, req PutRequest) (*models.Variant, error) {
	if err := version.Validate(req.Version); err != nil {
		return nil, err
	}
	if req.Variant == "" {
		req.Variant = models.DefaultVariant
	}

	now := time.Now().UTC()
	record := &models.Variant{
		Name:       req.Name,
		Env:        req.Env,
		Version:    req.Version,
		Variant:    req.Variant,
		Data:       req.Data,
		Expiration: req.Expiration,
		CreatedAt:  now,
	}
	variantData, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal variant: %w", err)
	}

	var ops []kvstore.WriteOp

	if req.ForceCreateEnv {
		exists, err := v.envs.exists(ctx, req.Name, req.Env)
		if err != nil {
			return nil, err
		}
		if !exists {
			creation, err := v.envs.creationOps(req.Name, req.Env)
			if err != nil {
				return nil, err
			}
			ops = append(ops, creation...)
		}
	}

	objectOp, err := v.objectPublishOp(ctx, req.Name, req.Env, req.Version, now)
	if err != nil {
		return nil, err
	}
	ops = append(ops, objectOp)
	ops = append(ops, kvstore.WriteOp{
		Table:    kvstore.TableVariants,
		Kind:     kvstore.OpPut,
		Key:      variantKey(req.Name, req.Env, req.Version, req.Variant),
		IndexKey: objectEnvID(req.Name, req.Env),
		Value:    variantData,
	})

	err = v.store.TransactWrite(ctx, ops)
	if errors.Is(err, kvstore.ErrTransactionConditionFailed) {
		return nil, fmt.Errorf("publish %q@%s in %q lost a latest-version race: %w", req.Name, req.Version, req.Env, ErrConditionFailed)
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// objectPublishOp builds the object-row write for a publish, conditioned
// on the latest_version observed in the pre-transaction read.
func (v *Variants) objectPublishOp(ctx context.Context, name, env, ver string, now time.Time) (kvstore.WriteOp, error) {
	observed, err := getObject(ctx, v.store, name, env)
	if err != nil {
		return kvstore.WriteOp{}, err
	}

	if observed == nil {
		object := &models.Object{Name: name, Env: env, LatestVersion: &ver, LastModified: now}
		data, err := json.Marshal(object)
		if err != nil {
			return kvstore.WriteOp{}, fmt.Errorf("marshal object: %w", err)
		}
		return kvstore.WriteOp{
			Table: kvstore.TableObjects,
			Kind:  kvstore.OpPut,
			Key:   objectKey(name, env),
			Value: data,
			Cond:  kvstore.IfAbsent(),
		}, nil
	}

	newer := true
	if observed.LatestVersion != nil {
		c, err := version.Compare(ver, *observed.LatestVersion)
		if err != nil {
			return kvstore.WriteOp{}, err
		}
		newer = c > 0
	}

	patch := models.ObjectPatch{SetLastModified: true, LastModified: now}
	if newer {
		patch.SetLatestVersion = true
		patch.LatestVersion = &ver
	}

	observedLatest := observed.LatestVersion
	cond := func(current []byte) error {
		if current == nil {
			return kvstore.ErrConditionFailed
		}
		var stored models.Object
		if err := json.Unmarshal(current, &stored); err != nil {
			return fmt.Errorf("unmarshal object: %w", err)
		}
		if !strEqual(stored.LatestVersion, observedLatest) {
			return kvstore.ErrConditionFailed
		}
		return nil
	}

	return patchObjectOp(name, env, patch, cond), nil
}

// DeleteVariant removes one variant row.
func (v *Variants) DeleteVariant(ctx context.Context, name, env, ver, variant string) error {
	if variant == "" {
		variant = models.DefaultVariant
	}
	err := v.store.Delete(ctx, kvstore.TableVariants, variantKey(name, env, ver, variant), kvstore.IfPresent())
	if errors.Is(err, kvstore.ErrConditionFailed) {
		return fmt.Errorf("variant %q of %q@%s in %q: %w", variant, name, ver, env, ErrNotFound)
	}
	return err
}

// DeleteVersion removes every variant row for one version. Sets larger
// than the store's transaction ceiling are deleted in sequential chunks;
// a mid-sequence failure leaves earlier chunks applied, and the caller
// restores pointer coherence through the Consistency Auditor. Head and
// latest pointers are not touched here.
func (v *Variants) DeleteVersion(ctx context.Context, name, env, ver string) error {
	items, err := v.store.Query(ctx, kvstore.TableVariants, variantID(name, ver, env))
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("version %q of %q in %q: %w", ver, name, env, ErrNotFound)
	}

	ops := make([]kvstore.WriteOp, 0, len(items))
	for _, item := range items {
		ops = append(ops, kvstore.WriteOp{Table: kvstore.TableVariants, Kind: kvstore.OpDelete, Key: item.Key})
	}
	return v.writeChunked(ctx, ops)
}

// DeleteObject removes the object row, every variant row across all
// versions, and the head-transition history for (name, env) — the bulk
// teardown path. Chunked the same way as DeleteVersion.
func (v *Variants) DeleteObject(ctx context.Context, name, env string) error {
	items, err := v.store.QueryIndex(ctx, kvstore.TableVariants, objectEnvID(name, env))
	if err != nil {
		return err
	}

	object, err := getObject(ctx, v.store, name, env)
	if err != nil {
		return err
	}
	if object == nil && len(items) == 0 {
		return fmt.Errorf("object %q in %q: %w", name, env, ErrNotFound)
	}

	var ops []kvstore.WriteOp
	for _, item := range items {
		ops = append(ops, kvstore.WriteOp{Table: kvstore.TableVariants, Kind: kvstore.OpDelete, Key: item.Key})
	}

	historyOps, err := v.history.teardownOps(ctx, name, env)
	if err != nil {
		return err
	}
	ops = append(ops, historyOps...)

	// Object row last, so an interrupted teardown is still found by the
	// auditor through the surviving row.
	ops = append(ops, kvstore.WriteOp{Table: kvstore.TableObjects, Kind: kvstore.OpDelete, Key: objectKey(name, env)})

	return v.writeChunked(ctx, ops)
}

// writeChunked shards ops into sequential transactions at the store's
// per-transaction ceiling. Atomicity across chunks is not preserved.
func (v *Variants) writeChunked(ctx context.Context, ops []kvstore.WriteOp) error {
	for len(ops) > 0 {
		n := len(ops)
		if n > kvstore.MaxTransactItems {
			n = kvstore.MaxTransactItems
		}
		if err := v.store.TransactWrite(ctx, ops[:n]); err != nil {
			return err
		}
		ops = ops[n:]
	}
	return nil
}

func unmarshalVariant(data []byte) (*models.Variant, error) {
	var record models.Variant
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("unmarshal variant: %w", err)
	}
	return &record, nil
}

func collectVariants(items []kvstore.Item, now time.Time) ([]*models.Variant, error) {
	variants := make([]*models.Variant, 0, len(items))
	for _, item := range items {
		record, err := unmarshalVariant(item.Value)
		if err != nil {
			return nil, err
		}
		if record.Expired(now) {
			continue
		}
		variants = append(variants, record)
	}
	return variants, nil
}
