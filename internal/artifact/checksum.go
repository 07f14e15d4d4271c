package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"

	"github.com/ehrlich-b/tangram-go/internal/blob"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
	"github.com/ehrlich-b/tangram-go/internal/value"
	"lukechampine.com/blake3"
)

// newHash builds a streaming hash.Hash for algo. The declared checksum
// algorithms are the only two the wire format and the registry collaborator
// need to agree on; there is no pluggable registry of algorithms.
func newHash(algo value.ChecksumAlgorithm) (hash.Hash, error) {
	switch algo {
	case value.ChecksumBlake3:
		return blake3.New(32, nil), nil
	case value.ChecksumSHA256:
		return sha256.New(), nil
	default:
		return nil, tgerror.New(tgerror.KindInvalid, "artifact: checksum: unknown algorithm %d", algo)
	}
}

// Checksum computes a's checksum under algo. A File's checksum is the hash
// of its blob contents; a Symlink's is the hash of its rendered target
// components (artifact components contribute their own hex hash, same as
// template.Unrender's checkout-directory convention); a Directory's is the
// hash of its sorted "name\x00child-checksum\n" entries, so renaming an
// entry or changing any descendant changes the parent's checksum too.
func Checksum(ctx context.Context, s ObjectStore, algo value.ChecksumAlgorithm, a value.Artifact) (string, error) {
	h, err := newHash(algo)
	if err != nil {
		return "", err
	}
	switch t := a.(type) {
	case value.File:
		r, err := blob.NewReader(ctx, s, t.Contents)
		if err != nil {
			return "", tgerror.Wrap(err, "artifact: checksum: open blob")
		}
		if _, err := io.Copy(h, r); err != nil {
			return "", tgerror.WrapKind(tgerror.KindIO, err, "artifact: checksum: read blob")
		}
		return hex.EncodeToString(h.Sum(nil)), nil

	case value.Symlink:
		for _, c := range t.Target.Components {
			switch c.Kind {
			case value.ComponentString:
				io.WriteString(h, c.Str)
			case value.ComponentArtifact:
				io.WriteString(h, c.ArtifactId.HashHex())
			case value.ComponentPlaceholder:
				io.WriteString(h, "$"+c.Placeholder)
			}
		}
		return hex.EncodeToString(h.Sum(nil)), nil

	case value.Directory:
		names := sortedEntryNames(t.Entries)
		for _, name := range names {
			childVal, err := s.GetValue(ctx, t.Entries[name])
			if err != nil {
				return "", err
			}
			childArtifact, ok := childVal.(value.Artifact)
			if !ok {
				return "", tgerror.New(tgerror.KindInvalid, "artifact: checksum: entry %s is not an artifact", name)
			}
			childSum, err := Checksum(ctx, s, algo, childArtifact)
			if err != nil {
				return "", err
			}
			io.WriteString(h, name)
			h.Write([]byte{0})
			io.WriteString(h, childSum)
			h.Write([]byte{'\n'})
		}
		return hex.EncodeToString(h.Sum(nil)), nil

	default:
		return "", tgerror.New(tgerror.KindInvalid, "artifact: checksum: unknown artifact type %T", a)
	}
}

// VerifyChecksum computes a's checksum and compares it to want, returning a
// KindChecksumMismatch error on mismatch.
func VerifyChecksum(ctx context.Context, s ObjectStore, want value.Checksum, a value.Artifact) error {
	got, err := Checksum(ctx, s, want.Algorithm, a)
	if err != nil {
		return err
	}
	if got != want.Value {
		return tgerror.New(tgerror.KindChecksumMismatch, "artifact: checksum mismatch: want %s, got %s", want.Value, got)
	}
	return nil
}
