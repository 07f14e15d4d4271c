// Package template implements rendering and unrendering of the string /
// artifact / placeholder interleaving a task's executable, env, and args
// are built from. Go has no async/sync split to preserve — rendering
// already runs on an ordinary
// goroutine with no event loop underneath it — so try_render and
// try_render_sync collapse into the single synchronous Render here.
package template

import (
	"strings"

	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
	"github.com/ehrlich-b/tangram-go/internal/value"
)

// ComponentRenderer maps one template component to its rendered string.
type ComponentRenderer func(c value.Component) (string, error)

// Render concatenates f's output across every component of t.
func Render(t value.Template, f ComponentRenderer) (string, error) {
	var sb strings.Builder
	for _, c := range t.Components {
		s, err := f(c)
		if err != nil {
			return "", err
		}
		sb.WriteString(s)
	}
	return sb.String(), nil
}

// ArtifactRoots maps an artifact id to the filesystem path it was (or will
// be) checked out to, so Artifact components can render as real paths.
type ArtifactRoots map[id.Id]string

// Placeholders maps a placeholder name to its bound value. The task runner
// binds "output" to a task's output directory; any component whose name
// is not present here is rejected.
type Placeholders map[string]string

// NewRenderer builds a ComponentRenderer from a set of checked-out
// artifact roots and bound placeholders.
func NewRenderer(roots ArtifactRoots, placeholders Placeholders) ComponentRenderer {
	return func(c value.Component) (string, error) {
		switch c.Kind {
		case value.ComponentString:
			return c.Str, nil
		case value.ComponentArtifact:
			root, ok := roots[c.ArtifactId]
			if !ok {
				return "", tgerror.New(tgerror.KindInvalid, "template: no checkout root bound for artifact %s", c.ArtifactId)
			}
			return root, nil
		case value.ComponentPlaceholder:
			v, ok := placeholders[c.Placeholder]
			if !ok {
				return "", tgerror.New(tgerror.KindInvalid, "template: unbound placeholder %q", c.Placeholder)
			}
			return v, nil
		default:
			return "", tgerror.New(tgerror.KindInvalid, "template: unknown component kind %d", c.Kind)
		}
	}
}

// Unrender is the inverse of Render: given candidate artifact-checkout
// roots, it finds `<root>/<64-hex-id>` substrings and splits s into
// String/Artifact components. Matches are detected purely lexically — the
// hex segment does not need to resolve to an object that exists, only to
// look like one; task output paths are re-abstracted without consulting
// the store.
//
// Checkout directory names carry only the bare content hash, not the
// (version, kind, tag) framing a full Id carries, so the kind of a
// recovered artifact cannot be read back out of the string alone.
// Unrender always reconstructs a KindBlob id; a caller that needs the
// true kind must cross-reference the hash against the artifact roots it
// originally rendered from.
func Unrender(roots []string, s string) (value.Template, error) {
	var comps []value.Component
	rest := s
	for {
		rootIdx, root, hash, matchLen := firstMatch(rest, roots)
		if rootIdx < 0 {
			if rest != "" {
				comps = append(comps, value.StringComponent(rest))
			}
			break
		}
		if rootIdx > 0 {
			comps = append(comps, value.StringComponent(rest[:rootIdx]))
		}
		raw, err := hashHexToBytes(hash)
		if err != nil {
			return value.Template{}, tgerror.WrapKind(tgerror.KindInvalid, err, "template: unrender: bad hash in %q", root+"/"+hash)
		}
		comps = append(comps, value.ArtifactComponent(id.NewBlake3(id.KindBlob, raw)))
		rest = rest[rootIdx+matchLen:]
	}
	return value.Template{Components: comps}, nil
}

// firstMatch scans s for the earliest occurrence of any root followed by
// "/" and exactly 64 hex characters, returning its byte offset, the root
// that matched, the hash text, and the total matched length (root + "/" +
// hash).
func firstMatch(s string, roots []string) (int, string, string, int) {
	bestIdx := -1
	var bestRoot, bestHash string
	var bestLen int
	for _, root := range roots {
		prefix := root + "/"
		searchFrom := 0
		for {
			idx := strings.Index(s[searchFrom:], prefix)
			if idx < 0 {
				break
			}
			start := searchFrom + idx
			hashStart := start + len(prefix)
			hash, ok := takeHex64(s[hashStart:])
			if ok && (bestIdx < 0 || start < bestIdx) {
				bestIdx = start
				bestRoot = root
				bestHash = hash
				bestLen = len(prefix) + 64
			}
			searchFrom = start + 1
		}
	}
	return bestIdx, bestRoot, bestHash, bestLen
}

func takeHex64(s string) (string, bool) {
	if len(s) < 64 {
		return "", false
	}
	candidate := s[:64]
	for _, r := range candidate {
		if !isHexDigit(r) {
			return "", false
		}
	}
	return candidate, true
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')
}

func hashHexToBytes(hash string) ([32]byte, error) {
	var out [32]byte
	if len(hash) != 64 {
		return out, tgerror.New(tgerror.KindInvalid, "template: hash %q is not 64 hex characters", hash)
	}
	for i := 0; i < 32; i++ {
		hi, ok1 := hexVal(hash[2*i])
		lo, ok2 := hexVal(hash[2*i+1])
		if !ok1 || !ok2 {
			return out, tgerror.New(tgerror.KindInvalid, "template: invalid hex in %q", hash)
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}
