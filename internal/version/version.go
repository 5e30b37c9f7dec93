// Package version implements semantic version ordering for the registry.
// Versions are stored without the "v" prefix ("3.0.1", "2.0.0-beta.1");
// the prefix is added internally for golang.org/x/mod/semver.
package version

import (
	"fmt"
	"sort"

	"golang.org/x/mod/semver"
)

// ErrInvalid marks a malformed semantic version string.
type ErrInvalid struct {
	Version string
}

func (e *ErrInvalid) Error() string {
	return fmt.Sprintf("invalid semantic version %q", e.Version)
}

func canonical(v string) string {
	return "v" + v
}

// Validate reports whether v is a well-formed semantic version.
func Validate(v string) error {
	if !semver.IsValid(canonical(v)) {
		return &ErrInvalid{Version: v}
	}
	return nil
}

// Compare returns -1, 0, or 1 ordering a and b by semver precedence.
// Both inputs must be valid; malformed input is the caller's error to surface.
func Compare(a, b string) (int, error) {
	if err := Validate(a); err != nil {
		return 0, err
	}
	if err := Validate(b); err != nil {
		return 0, err
	}
	return semver.Compare(canonical(a), canonical(b)), nil
}

// Max returns the highest version among vs.
func Max(vs []string) (string, error) {
	if len(vs) == 0 {
		return "", fmt.Errorf("no versions given")
	}
	best := vs[0]
	if err := Validate(best); err != nil {
		return "", err
	}
	for _, v := range vs[1:] {
		c, err := Compare(v, best)
		if err != nil {
			return "", err
		}
		if c > 0 {
			best = v
		}
	}
	return best, nil
}

// Sort orders vs ascending by semver precedence in place.
func Sort(vs []string) error {
	for _, v := range vs {
		if err := Validate(v); err != nil {
			return err
		}
	}
	sort.Slice(vs, func(i, j int) bool {
		return semver.Compare(canonical(vs[i]), canonical(vs[j])) < 0
	})
	return nil
}
