package models

import (
	"encoding/json"
	"time"
)

// DefaultVariant is the variant slot used when the caller names none.
const DefaultVariant = "_default"

// Variant is one payload among possibly several for a given
// (object, version, environment) — e.g. per-locale content.
type Variant struct {
	Name       string          `json:"name"`
	Env        string          `json:"environment"`
	Version    string          `json:"version"`
	Variant    string          `json:"variant"`
	Data       json.RawMessage `json:"data,omitempty"`
	Expiration *time.Time      `json:"expiration,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Expired reports whether the variant's expiration has passed at now.
func (v *Variant) Expired(now time.Time) bool {
	return v.Expiration != nil && !v.Expiration.After(now)
}
