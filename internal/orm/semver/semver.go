// Package semver provides the semantic version value used to gate document migrations.
package semver

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Version is a major.minor.patch triple. Values are immutable once constructed.
type Version struct {
	major int
	minor int
	patch int
}

// Zero is the version assigned to documents that carry no version element
var Zero = Version{}

// MaxComponent is the largest component a version can have: versions persist as
// int32 triples.
const MaxComponent = math.MaxInt32

// New creates a version, rejecting negative components and components above
// MaxComponent
func New(major, minor, patch int) (Version, error) {
	if major < 0 || minor < 0 || patch < 0 {
		return Zero, fmt.Errorf("version components must be non-negative, got %d.%d.%d", major, minor, patch)
	}
	if major > MaxComponent || minor > MaxComponent || patch > MaxComponent {
		return Zero, fmt.Errorf("version components must not exceed %d, got %d.%d.%d", MaxComponent, major, minor, patch)
	}
	return Version{major: major, minor: minor, patch: patch}, nil
}

// MustNew is like New but panics on invalid input
func MustNew(major, minor, patch int) Version {
	v, err := New(major, minor, patch)
	if err != nil {
		panic(err)
	}
	return v
}

// Parse converts "major.minor.patch" into a Version.
// A leading "v" is accepted.
func Parse(s string) (Version, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Zero, fmt.Errorf("invalid semantic version %q: expected major.minor.patch", s)
	}

	var comps [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Zero, fmt.Errorf("invalid semantic version %q: %w", s, err)
		}
		comps[i] = n
	}
	return New(comps[0], comps[1], comps[2])
}

// MustParse is like Parse but panics on invalid input
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Major returns the major release number
func (v Version) Major() int { return v.major }

// Minor returns the minor release number
func (v Version) Minor() int { return v.minor }

// Patch returns the patch release number
func (v Version) Patch() int { return v.patch }

// Compare returns -1, 0 or 1. Components are compared lexicographically,
// major first.
func (v Version) Compare(o Version) int {
	switch {
	case v.major != o.major:
		return cmpInt(v.major, o.major)
	case v.minor != o.minor:
		return cmpInt(v.minor, o.minor)
	default:
		return cmpInt(v.patch, o.patch)
	}
}

// Less reports whether v sorts before o
func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }

// Equal reports whether both versions have the same components
func (v Version) Equal(o Version) bool { return v == o }

// IsZero reports whether v is 0.0.0
func (v Version) IsZero() bool { return v == Zero }

// String returns the dotted representation
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.major, v.minor, v.patch)
}

// Array returns the persisted form of the version: three int32 elements.
func (v Version) Array() []int32 {
	return []int32{int32(v.major), int32(v.minor), int32(v.patch)}
}

// FromStored decodes a persisted version element. Only the three-element integer
// array encoding is considered a version; anything else (missing element, legacy
// string, malformed array) reports ok=false and should be treated as older than
// any registered minimum.
func FromStored(value any) (Version, bool) {
	var elems []any
	switch arr := value.(type) {
	case []any:
		elems = arr
	case []int32:
		for _, e := range arr {
			elems = append(elems, e)
		}
	default:
		return Zero, false
	}
	if len(elems) != 3 {
		return Zero, false
	}

	var comps [3]int
	for i, e := range elems {
		n, ok := e.(int32)
		if !ok || n < 0 {
			return Zero, false
		}
		comps[i] = int(n)
	}
	return Version{major: comps[0], minor: comps[1], patch: comps[2]}, true
}

// MarshalText implements encoding.TextMarshaler
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (v *Version) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func cmpInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}
