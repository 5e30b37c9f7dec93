// Package ledger implements the object registry core: environment
// resolution and aliasing, variant storage, the append-only head-transition
// history, head/latest pointer control with compare-and-swap semantics,
// and the consistency repair procedure.
//
// The ledger is a stateless library layer: all durable state lives in the
// backing kvstore, and every cross-record invariant is protected by the
// store's conditional writes and multi-item transactions. Concurrency
// losers receive ErrConflict or ErrConditionFailed; retry policy belongs
// to the caller.
package ledger

import (
	"github.com/kilupskalvis/oreg/internal/kvstore"
)

// Ledger bundles the registry components over one backing store.
type Ledger struct {
	Environments *Environments
	Variants     *Variants
	History      *History
	Heads        *Heads
	Audit        *Auditor
}

// New builds a Ledger on the given store.
func New(store kvstore.Store) *Ledger {
	environments := &Environments{store: store}
	history := &History{store: store}
	heads := &Heads{store: store, history: history}
	variants := &Variants{store: store, envs: environments, history: history}
	audit := &Auditor{heads: heads, variants: variants}

	return &Ledger{
		Environments: environments,
		Variants:     variants,
		History:      history,
		Heads:        heads,
		Audit:        audit,
	}
}
