package models

// HistoryRecord is one head-pointer transition for an (object, environment).
// Records form a backward-linked chain: PrevTimestamp points at the
// immediately preceding record, nil marks the first transition.
type HistoryRecord struct {
	Name          string `json:"name"`
	Env           string `json:"environment"`
	Timestamp     int64  `json:"timestamp"` // ms since epoch; sort key and CAS token
	HeadVersion   string `json:"head_version"`
	PrevTimestamp *int64 `json:"prev_timestamp,omitempty"`
}
