package ledger

import (
	"fmt"

	"github.com/kilupskalvis/oreg/internal/kvstore"
)

// Store keys follow the composite-id scheme of the registry's data model:
// variants are addressed by name_version_env, history and the variant
// secondary index by name_env.

func objectKey(name, env string) kvstore.Key {
	return kvstore.Key{PK: name, SK: env}
}

func variantKey(name, env, version, variant string) kvstore.Key {
	return kvstore.Key{PK: variantID(name, version, env), SK: variant}
}

func variantID(name, version, env string) string {
	return name + "_" + version + "_" + env
}

// objectEnvID is the secondary-index partition for variants and the
// history partition for one (object, environment).
func objectEnvID(name, env string) string {
	return name + "_" + env
}

func historyKey(name, env string, timestamp int64) kvstore.Key {
	return kvstore.Key{PK: objectEnvID(name, env), SK: historySortKey(timestamp)}
}

// historySortKey zero-pads the millisecond timestamp so lexicographic sort
// key order matches numeric order.
func historySortKey(timestamp int64) string {
	return fmt.Sprintf("%020d", timestamp)
}

func environmentKey(name, env string) kvstore.Key {
	return kvstore.Key{PK: name, SK: env}
}

func aliasKey(name, alias string) kvstore.Key {
	return kvstore.Key{PK: name, SK: alias}
}
