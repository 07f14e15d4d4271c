package value

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/ehrlich-b/tangram-go/internal/id"
)

// Wire format: one version byte (0), then a varint kind tag,
// then a sequence of fields. Each field is varint(field-id) ||
// varint(payload-length) || payload. Unknown field ids are skipped on
// read; decoding fails only on a missing required field or a version
// mismatch — this is what makes the format backward compatible.

const wireVersion = 0

type fieldSet map[uint64][]byte

type fieldBuilder struct {
	fields []fieldEntry
}

type fieldEntry struct {
	id      uint64
	payload []byte
}

func (b *fieldBuilder) put(fieldID uint64, payload []byte) {
	b.fields = append(b.fields, fieldEntry{fieldID, payload})
}

func (b *fieldBuilder) putUint(fieldID uint64, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	b.put(fieldID, tmp[:n])
}

func (b *fieldBuilder) putBool(fieldID uint64, v bool) {
	if v {
		b.putUint(fieldID, 1)
	} else {
		b.putUint(fieldID, 0)
	}
}

func (b *fieldBuilder) putString(fieldID uint64, s string) {
	b.put(fieldID, []byte(s))
}

func (b *fieldBuilder) putId(fieldID uint64, i id.Id) {
	b.put(fieldID, i.Bytes())
}

func (b *fieldBuilder) bytes(kind Kind) []byte {
	var buf bytes.Buffer
	buf.WriteByte(wireVersion)
	writeUvarint(&buf, uint64(kind))
	for _, f := range b.fields {
		writeUvarint(&buf, f.id)
		writeUvarint(&buf, uint64(len(f.payload)))
		buf.Write(f.payload)
	}
	return buf.Bytes()
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

// parseEnvelope reads the version byte, the kind tag, and all fields into a
// map, ready for type-specific decoding.
func parseEnvelope(b []byte) (Kind, fieldSet, error) {
	r := bytes.NewReader(b)
	ver, err := r.ReadByte()
	if err != nil {
		return 0, nil, fmt.Errorf("value: read version: %w", err)
	}
	if ver != wireVersion {
		return 0, nil, fmt.Errorf("value: unsupported version %d", ver)
	}
	kindTag, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, nil, fmt.Errorf("value: read kind: %w", err)
	}
	fields := fieldSet{}
	for r.Len() > 0 {
		fid, err := binary.ReadUvarint(r)
		if err != nil {
			return 0, nil, fmt.Errorf("value: read field id: %w", err)
		}
		flen, err := binary.ReadUvarint(r)
		if err != nil {
			return 0, nil, fmt.Errorf("value: read field length: %w", err)
		}
		payload := make([]byte, flen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, fmt.Errorf("value: read field %d payload: %w", fid, err)
		}
		fields[fid] = payload
	}
	return Kind(kindTag), fields, nil
}

func (f fieldSet) require(fieldID uint64) ([]byte, error) {
	v, ok := f[fieldID]
	if !ok {
		return nil, fmt.Errorf("value: missing required field %d", fieldID)
	}
	return v, nil
}

func (f fieldSet) uint(fieldID uint64) (uint64, bool) {
	v, ok := f[fieldID]
	if !ok {
		return 0, false
	}
	n, _ := binary.Uvarint(v)
	return n, true
}

func (f fieldSet) requireUint(fieldID uint64) (uint64, error) {
	v, err := f.require(fieldID)
	if err != nil {
		return 0, err
	}
	n, _ := binary.Uvarint(v)
	return n, nil
}

func (f fieldSet) requireBool(fieldID uint64) (bool, error) {
	n, err := f.requireUint(fieldID)
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

func (f fieldSet) requireString(fieldID uint64) (string, error) {
	v, err := f.require(fieldID)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func (f fieldSet) requireId(fieldID uint64) (id.Id, error) {
	v, err := f.require(fieldID)
	if err != nil {
		return id.Id{}, err
	}
	return id.Parse(v)
}

func (f fieldSet) optionalId(fieldID uint64) (id.Id, bool, error) {
	v, ok := f[fieldID]
	if !ok {
		return id.Id{}, false, nil
	}
	parsed, err := id.Parse(v)
	return parsed, true, err
}

// sortedKeys returns m's keys in a stable, deterministic order so
// serialization does not depend on map iteration order (spec invariant:
// "Directory names are unique; iteration order of the map does not affect
// the id").
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Serialize returns the canonical bytes for v: a version byte followed by
// the typed, field-tagged encoding. Equal values produce equal bytes.
func Serialize(v Value) []byte {
	return v.encode()
}

// Id returns the content address of v. For content-addressed kinds this is
// blake3 of Serialize(v); for non-content-addressed kinds (Build, User,
// Login, Token are minted elsewhere with id.NewRandom, never through this
// path) calling Id is a programmer error.
func Id(v Value) id.Id {
	k := v.Kind()
	idKind := kindToIdKind(k)
	return id.HashBlake3(idKind, Serialize(v))
}

// Deserialize parses bytes produced by Serialize back into a Value.
func Deserialize(b []byte) (Value, error) {
	kind, fields, err := parseEnvelope(b)
	if err != nil {
		return nil, err
	}
	return decodeByKind(kind, fields)
}
