package value

import (
	"fmt"
	"strings"
)

// Normalize applies the following path normalization rules:
//   - "./x" -> "x"; "x/./y" -> "x/y"
//   - "x/.." -> "." (parents unchanged; subpath pops)
//   - a leading ".." with no accumulated subpath increments Parents
func NormalizeRelpath(raw string) (Relpath, error) {
	var parents uint32
	var stack []string
	for _, part := range strings.Split(raw, "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			} else {
				parents++
			}
		default:
			stack = append(stack, part)
		}
	}
	return Relpath{Parents: parents, Subpath: Subpath{Components: stack}}, nil
}

// Normalize is idempotent: r.Normalize().Normalize() == r.Normalize().
func (r Relpath) Normalize() Relpath {
	n, _ := NormalizeRelpath(r.String())
	return n
}

func (r Relpath) String() string {
	var b strings.Builder
	for i := uint32(0); i < r.Parents; i++ {
		if b.Len() > 0 {
			b.WriteByte('/')
		}
		b.WriteString("..")
	}
	for _, c := range r.Subpath.Components {
		if b.Len() > 0 {
			b.WriteByte('/')
		}
		b.WriteString(c)
	}
	if b.Len() == 0 {
		return "."
	}
	return b.String()
}

// Join appends other's path after self, normalizing ".." against self's
// trailing subpath components before falling back to incrementing parents.
func (r Relpath) Join(other Relpath) Relpath {
	parents := r.Parents
	stack := append([]string(nil), r.Subpath.Components...)
	extra := other.Parents
	for extra > 0 && len(stack) > 0 {
		stack = stack[:len(stack)-1]
		extra--
	}
	parents += extra
	stack = append(stack, other.Subpath.Components...)
	return Relpath{Parents: parents, Subpath: Subpath{Components: stack}}
}

// Diff returns the relative path from other to self, or an error if that
// would require expressing a ".." the model cannot — i.e. other has
// accumulated more parent climbs than self shares a common base with.
func (r Relpath) Diff(other Relpath) (Relpath, error) {
	if r.Parents != other.Parents {
		return Relpath{}, fmt.Errorf("value: diff across differing parent depths (%d vs %d)", r.Parents, other.Parents)
	}
	// Find the longest common prefix of subpath components.
	i := 0
	for i < len(r.Subpath.Components) && i < len(other.Subpath.Components) &&
		r.Subpath.Components[i] == other.Subpath.Components[i] {
		i++
	}
	climbs := uint32(len(other.Subpath.Components) - i)
	rest := append([]string(nil), r.Subpath.Components[i:]...)
	return Relpath{Parents: climbs, Subpath: Subpath{Components: rest}}, nil
}

// AsSubpath returns r as a Subpath if it has no accumulated parent climbs.
func (r Relpath) AsSubpath() (Subpath, bool) {
	if r.Parents != 0 {
		return Subpath{}, false
	}
	return r.Subpath, true
}

// Join appends other onto a Subpath, producing a plain Subpath (no parents
// allowed to enter through a pure Subpath join — escapes must go through
// Relpath).
func (s Subpath) Join(other Subpath) Subpath {
	return Subpath{Components: append(append([]string(nil), s.Components...), other.Components...)}
}

// IsEmpty reports whether the subpath has no components (i.e. ".").
func (s Subpath) IsEmpty() bool { return len(s.Components) == 0 }
