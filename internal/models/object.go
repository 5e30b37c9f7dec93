package models

import "time"

// Object is the current state of one object in one environment: which
// version is live (head), which is the highest ever published (latest),
// and the CAS token guarding head updates.
type Object struct {
	Name          string    `json:"name"`
	Env           string    `json:"environment"`
	HeadVersion   *string   `json:"head_version,omitempty"`
	HeadTimestamp *int64    `json:"head_timestamp,omitempty"` // ms since epoch; doubles as the head CAS token
	LatestVersion *string   `json:"latest_version,omitempty"`
	LastModified  time.Time `json:"last_modified"`
}

// ObjectPatch is a typed partial update for an Object row. Each field has
// an explicit Set flag so "leave unchanged" and "set to null" are distinct.
// New values win; unset fields keep the stored value.
type ObjectPatch struct {
	SetHeadVersion   bool
	HeadVersion      *string
	SetHeadTimestamp bool
	HeadTimestamp    *int64
	SetLatestVersion bool
	LatestVersion    *string
	SetLastModified  bool
	LastModified     time.Time
}

// Apply merges the patch over o and returns the result.
func (p ObjectPatch) Apply(o Object) Object {
	if p.SetHeadVersion {
		o.HeadVersion = p.HeadVersion
	}
	if p.SetHeadTimestamp {
		o.HeadTimestamp = p.HeadTimestamp
	}
	if p.SetLatestVersion {
		o.LatestVersion = p.LatestVersion
	}
	if p.SetLastModified {
		o.LastModified = p.LastModified
	}
	return o
}
