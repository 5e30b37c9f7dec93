// Package remote defines the protocol types and client for oreg-server communication.
package remote

import (
	"encoding/json"
	"time"
)

// PublishRequest uploads one variant payload for an object version.
type PublishRequest struct {
	Data           json.RawMessage `json:"data"`
	Expiration     *time.Time      `json:"expiration,omitempty"`
	ForceCreateEnv bool            `json:"force_create_env,omitempty"`
}

// CreateAliasRequest registers an alternate name for an environment.
type CreateAliasRequest struct {
	Environment string `json:"environment"`
}

// SetHeadRequest is a compare-and-swap update for an environment head pointer.
// PreviousTimestamp is the history timestamp the caller observed, or nil when
// the environment has never had a head.
type SetHeadRequest struct {
	Version           string `json:"version"`
	PreviousTimestamp *int64 `json:"previous_timestamp,omitempty"`
}

// SetHeadResponse returns the history timestamp recorded for the transition.
// Callers pass it back as PreviousTimestamp on their next update.
type SetHeadResponse struct {
	Timestamp int64 `json:"timestamp"`
}

// RollbackRequest moves the head pointer back along the transition chain.
type RollbackRequest struct {
	Hops int `json:"hops"`
}

// AuditResult reports the outcome of a consistency sweep for one environment.
type AuditResult struct {
	Environment string `json:"environment"`
	Repaired    bool   `json:"repaired"`
}

// AuditResponse is the result of sweeping every environment of an object.
type AuditResponse struct {
	Results []AuditResult `json:"results"`
}

// ErrorResponse is the structured error format returned by the server.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Detail  map[string]string `json:"detail,omitempty"`
}
