// Package id implements tangram's content address: a tagged, versioned
// identifier carrying either a blake3 digest or a random 32-byte value.
package id

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/google/uuid"
	"lukechampine.com/blake3"
)

// Kind is the object kind an Id addresses.
type Kind uint8

const (
	KindBlob Kind = iota
	KindDirectory
	KindFile
	KindSymlink
	KindPackage
	KindTarget
	KindTask
	KindResource
	KindBuild
	KindUser
	KindLogin
	KindToken
)

var kindPrefix = [...]string{
	KindBlob:      "blb",
	KindDirectory: "dir",
	KindFile:      "fil",
	KindSymlink:   "sym",
	KindPackage:   "pkg",
	KindTarget:    "tgt",
	KindTask:      "tsk",
	KindResource:  "res",
	KindBuild:     "bld",
	KindUser:      "usr",
	KindLogin:     "log",
	KindToken:     "tok",
}

func (k Kind) String() string {
	if int(k) < len(kindPrefix) && kindPrefix[k] != "" {
		return kindPrefix[k]
	}
	return "unk"
}

// ContentAddressed reports whether objects of this kind are addressed by the
// blake3 hash of their canonical bytes, as opposed to a random id.
func (k Kind) ContentAddressed() bool {
	switch k {
	case KindUser, KindLogin, KindToken, KindBuild:
		return false
	default:
		return true
	}
}

// hashTag distinguishes the two hash variants that can back an Id.
type hashTag uint8

const (
	hashTagRandom32 hashTag = iota
	hashTagBlake3
)

const currentVersion = 0

// Id is a tagged content address: (version, kind, hash). It is a plain
// value — copy it freely, compare it with ==.
type Id struct {
	version uint64
	kind    Kind
	tag     hashTag
	hash    [32]byte
}

// NewBlake3 builds a content-addressed Id from bytes already hashed with
// blake3 by the caller.
func NewBlake3(kind Kind, hash [32]byte) Id {
	return Id{version: currentVersion, kind: kind, tag: hashTagBlake3, hash: hash}
}

// HashBlake3 hashes data with blake3 and wraps it as a content-addressed Id
// of the given kind.
func HashBlake3(kind Kind, data []byte) Id {
	return NewBlake3(kind, blake3.Sum256(data))
}

// NewRandom generates a fresh random Id of the given kind (used for kinds
// that are not content-addressed: users, logins, tokens, builds). The
// 32-byte hash is filled from two concatenated uuid.New() draws rather
// than a raw crypto/rand read.
func NewRandom(kind Kind) Id {
	var h [32]byte
	copy(h[:16], uuidBytes(uuid.New()))
	copy(h[16:], uuidBytes(uuid.New()))
	return Id{version: currentVersion, kind: kind, tag: hashTagRandom32, hash: h}
}

func uuidBytes(u uuid.UUID) []byte {
	b := [16]byte(u)
	return b[:]
}

// Kind returns the object kind this Id addresses.
func (i Id) Kind() Kind { return i.kind }

// IsZero reports whether this is the zero-value Id (never a valid address).
func (i Id) IsZero() bool { return i == Id{} }

// Bytes returns the canonical byte encoding:
// varint(version) || varint(kind) || varint(hash-tag) || 32 bytes.
func (i Id) Bytes() []byte {
	buf := make([]byte, 0, 3*binary.MaxVarintLen64+32)
	buf = appendVarint(buf, i.version)
	buf = appendVarint(buf, uint64(i.kind))
	buf = appendVarint(buf, uint64(i.tag))
	buf = append(buf, i.hash[:]...)
	return buf
}

// Parse decodes the canonical byte encoding produced by Bytes.
func Parse(b []byte) (Id, error) {
	r := bytes.NewReader(b)
	version, err := binary.ReadUvarint(r)
	if err != nil {
		return Id{}, fmt.Errorf("id: read version: %w", err)
	}
	if version != currentVersion {
		return Id{}, fmt.Errorf("id: unsupported version %d", version)
	}
	kind, err := binary.ReadUvarint(r)
	if err != nil {
		return Id{}, fmt.Errorf("id: read kind: %w", err)
	}
	tag, err := binary.ReadUvarint(r)
	if err != nil {
		return Id{}, fmt.Errorf("id: read hash tag: %w", err)
	}
	if tag != uint64(hashTagRandom32) && tag != uint64(hashTagBlake3) {
		return Id{}, fmt.Errorf("id: unknown hash tag %d", tag)
	}
	var h [32]byte
	if n, err := io.ReadFull(r, h[:]); err != nil || n != 32 {
		return Id{}, fmt.Errorf("id: read hash: short read (%d bytes): %w", n, err)
	}
	if r.Len() != 0 {
		return Id{}, fmt.Errorf("id: %d trailing bytes", r.Len())
	}
	return Id{version: version, kind: Kind(kind), tag: hashTag(tag), hash: h}, nil
}

// String renders the display form: "<kind-prefix>_<hex of canonical bytes>".
func (i Id) String() string {
	return fmt.Sprintf("%s_%s", i.kind, hex.EncodeToString(i.Bytes()))
}

// HashHex returns the bare 64-character hex hash, with no kind prefix or
// version/tag framing — the form used as a checkout directory name under
// an artifact root.
func (i Id) HashHex() string {
	return hex.EncodeToString(i.hash[:])
}

// ParseString is the inverse of String.
func ParseString(s string) (Id, error) {
	idx := bytes.IndexByte([]byte(s), '_')
	if idx < 0 {
		return Id{}, fmt.Errorf("id: malformed string %q: missing '_'", s)
	}
	raw, err := hex.DecodeString(s[idx+1:])
	if err != nil {
		return Id{}, fmt.Errorf("id: malformed hex in %q: %w", s, err)
	}
	return Parse(raw)
}

func appendVarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}
