package models

// HeadInfo is the head/latest pair for one (object, environment).
// HeadTimestamp is the token callers pass back when updating the head.
type HeadInfo struct {
	HeadVersion   *string `json:"head_version"`
	HeadTimestamp *int64  `json:"head_timestamp,omitempty"`
	LatestVersion *string `json:"latest_version"`
}

// EnvironmentHead is one environment's head state within GetHeads output.
type EnvironmentHead struct {
	Env           string  `json:"environment"`
	HeadVersion   *string `json:"head_version"`
	LatestVersion *string `json:"latest_version"`
}
