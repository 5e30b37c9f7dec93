package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kilupskalvis/oreg/internal/kvstore"
	"github.com/kilupskalvis/oreg/internal/models"
)

// Environments resolves environment names and aliases to canonical
// environments and manages alias creation. Every canonical environment has
// a self-referential alias row; both mutating operations are two-record
// transactions, so partial application is never observable.
type Environments struct {
	store kvstore.Store
}

// Create inserts an Environment row and its self-referential alias row.
// Returns ErrAlreadyExists if an alias row for (name, env) already exists.
func (e *Environments) Create(ctx context.Context, name, env string) error {
	environment := &models.Environment{Name: name, Env: env, Aliases: []string{env}}
	alias := &models.EnvironmentAlias{Name: name, Alias: env, Env: env}

	envData, err := json.Marshal(environment)
	if err != nil {
		return fmt.Errorf("marshal environment: %w", err)
	}
	aliasData, err := json.Marshal(alias)
	if err != nil {
		return fmt.Errorf("marshal alias: %w", err)
	}

	err = e.store.TransactWrite(ctx, []kvstore.WriteOp{
		{Table: kvstore.TableAliases, Kind: kvstore.OpPut, Key: aliasKey(name, env), Value: aliasData, Cond: kvstore.IfAbsent()},
		{Table: kvstore.TableEnvironments, Kind: kvstore.OpPut, Key: environmentKey(name, env), Value: envData, Cond: kvstore.IfAbsent()},
	})
	if errors.Is(err, kvstore.ErrTransactionConditionFailed) {
		return fmt.Errorf("environment %q for %q: %w", env, name, ErrAlreadyExists)
	}
	return err
}

// CreateAlias inserts an alias row mapping alias to env and appends alias
// to the environment's alias list, atomically. Returns ErrNotFound if env
// is not a canonical environment for name, ErrAlreadyExists if alias
// already resolves to any environment for name.
func (e *Environments) CreateAlias(ctx context.Context, name, env, alias string) error {
	// env must be canonical before any write.
	if _, err := e.Get(ctx, name, env); err != nil {
		return err
	}

	aliasRow := &models.EnvironmentAlias{Name: name, Alias: alias, Env: env}
	aliasData, err := json.Marshal(aliasRow)
	if err != nil {
		return fmt.Errorf("marshal alias: %w", err)
	}

	appendAlias := func(current []byte) ([]byte, error) {
		var environment models.Environment
		if err := json.Unmarshal(current, &environment); err != nil {
			return nil, fmt.Errorf("unmarshal environment: %w", err)
		}
		environment.Aliases = append(environment.Aliases, alias)
		return json.Marshal(&environment)
	}

	err = e.store.TransactWrite(ctx, []kvstore.WriteOp{
		{Table: kvstore.TableAliases, Kind: kvstore.OpPut, Key: aliasKey(name, alias), Value: aliasData, Cond: kvstore.IfAbsent()},
		{Table: kvstore.TableEnvironments, Kind: kvstore.OpUpdate, Key: environmentKey(name, env), Apply: appendAlias, Cond: kvstore.IfPresent()},
	})
	if errors.Is(err, kvstore.ErrTransactionConditionFailed) {
		return fmt.Errorf("alias %q for %q: %w", alias, name, ErrAlreadyExists)
	}
	return err
}

// Resolve maps an alias or canonical name to the canonical environment.
func (e *Environments) Resolve(ctx context.Context, name, aliasOrEnv string) (string, error) {
	data, err := e.store.Get(ctx, kvstore.TableAliases, aliasKey(name, aliasOrEnv))
	if errors.Is(err, kvstore.ErrNotFound) {
		return "", fmt.Errorf("environment %q for %q: %w", aliasOrEnv, name, ErrNotFound)
	}
	if err != nil {
		return "", err
	}

	var alias models.EnvironmentAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return "", fmt.Errorf("unmarshal alias: %w", err)
	}
	return alias.Env, nil
}

// List returns every environment declared for an object.
func (e *Environments) List(ctx context.Context, name string) ([]*models.Environment, error) {
	items, err := e.store.Query(ctx, kvstore.TableEnvironments, name)
	if err != nil {
		return nil, err
	}

	environments := make([]*models.Environment, 0, len(items))
	for _, item := range items {
		var environment models.Environment
		if err := json.Unmarshal(item.Value, &environment); err != nil {
			return nil, fmt.Errorf("unmarshal environment: %w", err)
		}
		environments = append(environments, &environment)
	}
	return environments, nil
}

// Get returns one environment by canonical name.
func (e *Environments) Get(ctx context.Context, name, env string) (*models.Environment, error) {
	data, err := e.store.Get(ctx, kvstore.TableEnvironments, environmentKey(name, env))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, fmt.Errorf("environment %q for %q: %w", env, name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var environment models.Environment
	if err := json.Unmarshal(data, &environment); err != nil {
		return nil, fmt.Errorf("unmarshal environment: %w", err)
	}
	return &environment, nil
}

// creationOps returns the idempotent put ops used when a publish forces
// environment creation in the same transaction. Unconditional puts keep
// the path idempotent: a racing creator writes identical rows.
func (e *Environments) creationOps(name, env string) ([]kvstore.WriteOp, error) {
	environment := &models.Environment{Name: name, Env: env, Aliases: []string{env}}
	alias := &models.EnvironmentAlias{Name: name, Alias: env, Env: env}

	envData, err := json.Marshal(environment)
	if err != nil {
		return nil, fmt.Errorf("marshal environment: %w", err)
	}
	aliasData, err := json.Marshal(alias)
	if err != nil {
		return nil, fmt.Errorf("marshal alias: %w", err)
	}

	return []kvstore.WriteOp{
		{Table: kvstore.TableAliases, Kind: kvstore.OpPut, Key: aliasKey(name, env), Value: aliasData},
		{Table: kvstore.TableEnvironments, Kind: kvstore.OpPut, Key: environmentKey(name, env), Value: envData},
	}, nil
}

// exists reports whether the canonical environment row is present.
func (e *Environments) exists(ctx context.Context, name, env string) (bool, error) {
	_, err := e.store.Get(ctx, kvstore.TableEnvironments, environmentKey(name, env))
	if errors.Is(err, kvstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
