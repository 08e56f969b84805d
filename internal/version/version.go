// Package version models client build identifiers and the ordered
// threshold tables used to pick a protocol implementation per client.
package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalid is returned when a version string cannot be parsed.
var ErrInvalid = errors.New("invalid version string")

// Version identifies a client build. Versions are totally ordered by
// Major, Minor and then Beta, where a final release (Beta == 0) sorts
// after every beta of the same Major.Minor.
type Version struct {
	Name  string // product name, e.g. "OpenLieroX"; not part of the ordering
	Major int
	Minor int
	Beta  int
}

// Named thresholds. The 0.57 beta series introduced every incompatible
// wire revision the server still speaks.
var (
	Baseline = Version{Name: "LieroX", Major: 0, Minor: 56}
	Beta3    = OLXBeta(3)
	Beta5    = OLXBeta(5)
	Beta6    = OLXBeta(6)
	Beta7    = OLXBeta(7)
	Beta8    = OLXBeta(8)
	Beta9    = OLXBeta(9)
)

// OLXBeta returns the 0.57 beta version with the given number.
func OLXBeta(n int) Version {
	return Version{Name: "OpenLieroX", Major: 0, Minor: 57, Beta: n}
}

// Compare returns -1, 0 or +1 depending on whether v sorts before, equal
// to or after o.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return sign(v.Major - o.Major)
	case v.Minor != o.Minor:
		return sign(v.Minor - o.Minor)
	case v.Beta == o.Beta:
		return 0
	case v.Beta == 0:
		return 1
	case o.Beta == 0:
		return -1
	default:
		return sign(v.Beta - o.Beta)
	}
}

// AtLeast reports whether v >= o.
func (v Version) AtLeast(o Version) bool {
	return v.Compare(o) >= 0
}

// Less reports whether v < o.
func (v Version) Less(o Version) bool {
	return v.Compare(o) < 0
}

// IsZero reports whether v is the zero value (never negotiated).
func (v Version) IsZero() bool {
	return v == Version{}
}

// String renders v in the form clients announce, e.g. "OpenLieroX/0.57_beta8".
func (v Version) String() string {
	name := v.Name
	if name == "" {
		name = "OpenLieroX"
	}
	s := fmt.Sprintf("%s/%d.%02d", name, v.Major, v.Minor)
	if v.Beta > 0 {
		s += "_beta" + strconv.Itoa(v.Beta)
	}
	return s
}

// Parse parses strings such as "OpenLieroX/0.57_beta8", "LieroX/0.56" or
// "0.58". A missing product name defaults to OpenLieroX.
func Parse(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, ErrInvalid
	}

	v := Version{Name: "OpenLieroX"}
	if i := strings.IndexByte(s, '/'); i >= 0 {
		v.Name = s[:i]
		s = s[i+1:]
	}

	num := s
	if i := strings.IndexByte(s, '_'); i >= 0 {
		num = s[:i]
		suffix := strings.ToLower(s[i+1:])
		if !strings.HasPrefix(suffix, "beta") {
			return Version{}, fmt.Errorf("%w: unknown suffix %q", ErrInvalid, suffix)
		}
		beta, err := strconv.Atoi(suffix[len("beta"):])
		if err != nil || beta <= 0 {
			return Version{}, fmt.Errorf("%w: bad beta number in %q", ErrInvalid, suffix)
		}
		v.Beta = beta
	}

	major, minor, ok := strings.Cut(num, ".")
	if !ok {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalid, num)
	}
	var err error
	if v.Major, err = strconv.Atoi(major); err != nil || v.Major < 0 {
		return Version{}, fmt.Errorf("%w: major %q", ErrInvalid, major)
	}
	if v.Minor, err = strconv.Atoi(minor); err != nil || v.Minor < 0 {
		return Version{}, fmt.Errorf("%w: minor %q", ErrInvalid, minor)
	}

	return v, nil
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}
