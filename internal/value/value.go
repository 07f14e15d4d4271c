package value

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/system"
)

// Kind tags every variant of the typed value graph.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindBytes
	KindRelpath
	KindSubpath
	KindLeafBlob
	KindBranchBlob
	KindDirectory
	KindFile
	KindSymlink
	KindTemplate
	KindPlaceholder
	KindTask
	KindTarget
	KindResource
	KindArray
	KindObject
)

// Value is the sealed interface every node of the persisted object graph
// implements. The encode method is unexported so only this package may add
// variants — callers consume Value through the concrete types below.
type Value interface {
	Kind() Kind
	encode() []byte
}

func kindToIdKind(k Kind) id.Kind {
	switch k {
	case KindLeafBlob, KindBranchBlob:
		return id.KindBlob
	case KindDirectory:
		return id.KindDirectory
	case KindFile:
		return id.KindFile
	case KindSymlink:
		return id.KindSymlink
	case KindTask:
		return id.KindTask
	case KindTarget:
		return id.KindTarget
	case KindResource:
		return id.KindResource
	default:
		// Primitives, templates, placeholders, arrays, and objects are
		// addressable too when stored standalone (e.g. add_object syscall).
		return id.KindBlob
	}
}

func decodeByKind(kind Kind, f fieldSet) (Value, error) {
	switch kind {
	case KindNull:
		return Null{}, nil
	case KindBool:
		return decodeBool(f)
	case KindNumber:
		return decodeNumber(f)
	case KindString:
		return decodeString(f)
	case KindBytes:
		return decodeBytes(f)
	case KindRelpath:
		return decodeRelpath(f)
	case KindSubpath:
		return decodeSubpath(f)
	case KindLeafBlob:
		return decodeLeafBlob(f)
	case KindBranchBlob:
		return decodeBranchBlob(f)
	case KindDirectory:
		return decodeDirectory(f)
	case KindFile:
		return decodeFile(f)
	case KindSymlink:
		return decodeSymlink(f)
	case KindTemplate:
		return decodeTemplate(f)
	case KindTask:
		return decodeTask(f)
	case KindTarget:
		return decodeTarget(f)
	case KindResource:
		return decodeResource(f)
	case KindArray:
		return decodeArray(f)
	case KindObject:
		return decodeObject(f)
	default:
		return nil, fmt.Errorf("value: unknown kind tag %d", kind)
	}
}

// ---- primitives ----

type Null struct{}

func (Null) Kind() Kind    { return KindNull }
func (Null) encode() []byte { var b fieldBuilder; return b.bytes(KindNull) }

type Bool bool

func (Bool) Kind() Kind { return KindBool }
func (v Bool) encode() []byte {
	var b fieldBuilder
	b.putBool(0, bool(v))
	return b.bytes(KindBool)
}
func decodeBool(f fieldSet) (Value, error) {
	v, err := f.requireBool(0)
	if err != nil {
		return nil, err
	}
	return Bool(v), nil
}

type Number float64

func (Number) Kind() Kind { return KindNumber }
func (v Number) encode() []byte {
	var b fieldBuilder
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(float64(v)))
	b.put(0, tmp[:])
	return b.bytes(KindNumber)
}
func decodeNumber(f fieldSet) (Value, error) {
	raw, err := f.require(0)
	if err != nil {
		return nil, err
	}
	if len(raw) != 8 {
		return nil, fmt.Errorf("value: number field wrong length %d", len(raw))
	}
	return Number(math.Float64frombits(binary.LittleEndian.Uint64(raw))), nil
}

type String string

func (String) Kind() Kind { return KindString }
func (v String) encode() []byte {
	var b fieldBuilder
	b.putString(0, string(v))
	return b.bytes(KindString)
}
func decodeString(f fieldSet) (Value, error) {
	s, err := f.requireString(0)
	if err != nil {
		return nil, err
	}
	return String(s), nil
}

type Bytes []byte

func (Bytes) Kind() Kind { return KindBytes }
func (v Bytes) encode() []byte {
	var b fieldBuilder
	b.put(0, v)
	return b.bytes(KindBytes)
}
func decodeBytes(f fieldSet) (Value, error) {
	raw, err := f.require(0)
	if err != nil {
		return nil, err
	}
	return Bytes(append([]byte(nil), raw...)), nil
}

// ---- paths ----

// Subpath is an ordered list of normal components: no ".", no "..", no
// empty components.
type Subpath struct {
	Components []string
}

func (Subpath) Kind() Kind { return KindSubpath }
func (s Subpath) encode() []byte {
	var b fieldBuilder
	b.put(0, encodeComponents(s.Components))
	return b.bytes(KindSubpath)
}
func decodeSubpath(f fieldSet) (Value, error) {
	raw, err := f.require(0)
	if err != nil {
		return nil, err
	}
	comps, err := decodeComponents(raw)
	if err != nil {
		return nil, err
	}
	return Subpath{Components: comps}, nil
}

func (s Subpath) String() string {
	out := ""
	for i, c := range s.Components {
		if i > 0 {
			out += "/"
		}
		out += c
	}
	return out
}

// Relpath is (parents, subpath): a path that may climb parents levels above
// its base before descending into Subpath.
type Relpath struct {
	Parents uint32
	Subpath Subpath
}

func (Relpath) Kind() Kind { return KindRelpath }
func (r Relpath) encode() []byte {
	var b fieldBuilder
	b.putUint(0, uint64(r.Parents))
	b.put(1, encodeComponents(r.Subpath.Components))
	return b.bytes(KindRelpath)
}
func decodeRelpath(f fieldSet) (Value, error) {
	parents, err := f.requireUint(0)
	if err != nil {
		return nil, err
	}
	raw, err := f.require(1)
	if err != nil {
		return nil, err
	}
	comps, err := decodeComponents(raw)
	if err != nil {
		return nil, err
	}
	return Relpath{Parents: uint32(parents), Subpath: Subpath{Components: comps}}, nil
}

// encodeComponents/decodeComponents pack a []string as a length-prefixed
// sequence inside a single field payload (field ids cannot repeat within a
// fieldSet, so any repeated-element field uses this framing).
func encodeComponents(comps []string) []byte {
	var b fieldBuilder
	for i, c := range comps {
		b.put(uint64(i), []byte(c))
	}
	return b.bytes(KindSubpath)
}

func decodeComponents(raw []byte) ([]string, error) {
	_, fields, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(fields))
	for i := range out {
		v, ok := fields[uint64(i)]
		if !ok {
			return nil, fmt.Errorf("value: components missing index %d", i)
		}
		out[i] = string(v)
	}
	return out, nil
}

// NewSubpath validates and wraps components.
func NewSubpath(components ...string) (Subpath, error) {
	for _, c := range components {
		if c == "" || c == "." || c == ".." {
			return Subpath{}, fmt.Errorf("value: invalid subpath component %q", c)
		}
	}
	return Subpath{Components: components}, nil
}

// ---- blob tree ----

// LeafBlob is a terminal chunk of a content-addressed byte stream: its raw
// bytes, stored inline so the leaf's id is a function of its actual
// content rather than just its length.
type LeafBlob struct {
	Data []byte
}

func (LeafBlob) Kind() Kind { return KindLeafBlob }
func (l LeafBlob) encode() []byte {
	var b fieldBuilder
	b.put(0, l.Data)
	return b.bytes(KindLeafBlob)
}
func decodeLeafBlob(f fieldSet) (Value, error) {
	data, err := f.require(0)
	if err != nil {
		return nil, err
	}
	return LeafBlob{Data: append([]byte(nil), data...)}, nil
}

// Size is the number of bytes this leaf holds.
func (l LeafBlob) Size() uint64 { return uint64(len(l.Data)) }

// BlobChild is one entry of a branch blob's child list: the child's id plus
// its cumulative size, so seeking is O(depth) without reading bytes.
type BlobChild struct {
	Id   id.Id
	Size uint64
}

type BranchBlob struct {
	Children []BlobChild
}

func (BranchBlob) Kind() Kind { return KindBranchBlob }
func (br BranchBlob) encode() []byte {
	var b fieldBuilder
	var cb fieldBuilder
	for i, c := range br.Children {
		var entry fieldBuilder
		entry.putId(0, c.Id)
		entry.putUint(1, c.Size)
		cb.put(uint64(i), entry.bytes(0))
	}
	b.put(0, cb.bytes(0))
	return b.bytes(KindBranchBlob)
}
func decodeBranchBlob(f fieldSet) (Value, error) {
	raw, err := f.require(0)
	if err != nil {
		return nil, err
	}
	_, fields, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	children := make([]BlobChild, len(fields))
	for i := range children {
		entryRaw, ok := fields[uint64(i)]
		if !ok {
			return nil, fmt.Errorf("value: branch blob missing child %d", i)
		}
		_, ef, err := parseEnvelope(entryRaw)
		if err != nil {
			return nil, err
		}
		cid, err := ef.requireId(0)
		if err != nil {
			return nil, err
		}
		size, err := ef.requireUint(1)
		if err != nil {
			return nil, err
		}
		children[i] = BlobChild{Id: cid, Size: size}
	}
	return BranchBlob{Children: children}, nil
}

// TotalSize sums the cumulative size across all children.
func (br BranchBlob) TotalSize() uint64 {
	var total uint64
	for _, c := range br.Children {
		total += c.Size
	}
	return total
}

// ---- artifacts ----

// Artifact is the sealed sum of Directory | File | Symlink.
type Artifact interface {
	Value
	isArtifact()
}

// Directory maps unique names to artifact ids. Map iteration order never
// affects the id: entries are serialized in sorted-name order.
type Directory struct {
	Entries map[string]id.Id
}

func (Directory) Kind() Kind  { return KindDirectory }
func (Directory) isArtifact() {}
func (d Directory) encode() []byte {
	var b fieldBuilder
	var eb fieldBuilder
	for i, name := range sortedKeys(d.Entries) {
		var entry fieldBuilder
		entry.putString(0, name)
		entry.putId(1, d.Entries[name])
		eb.put(uint64(i), entry.bytes(0))
	}
	b.put(0, eb.bytes(0))
	return b.bytes(KindDirectory)
}
func decodeDirectory(f fieldSet) (Value, error) {
	raw, err := f.require(0)
	if err != nil {
		return nil, err
	}
	_, fields, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	entries := make(map[string]id.Id, len(fields))
	for i := 0; i < len(fields); i++ {
		entryRaw, ok := fields[uint64(i)]
		if !ok {
			return nil, fmt.Errorf("value: directory missing entry %d", i)
		}
		_, ef, err := parseEnvelope(entryRaw)
		if err != nil {
			return nil, err
		}
		name, err := ef.requireString(0)
		if err != nil {
			return nil, err
		}
		aid, err := ef.requireId(1)
		if err != nil {
			return nil, err
		}
		entries[name] = aid
	}
	return Directory{Entries: entries}, nil
}

// File is a blob plus an executable bit and the exact set of artifact ids
// that must be materialized alongside it: references are not re-derived
// by scanning bytes at check-out time.
type File struct {
	Contents   id.Id // blob id
	Executable bool
	References []id.Id
}

func (File) Kind() Kind  { return KindFile }
func (File) isArtifact() {}
func (fl File) encode() []byte {
	var b fieldBuilder
	b.putId(0, fl.Contents)
	b.putBool(1, fl.Executable)
	var rb fieldBuilder
	for i, r := range fl.References {
		rb.putId(uint64(i), r)
	}
	b.put(2, rb.bytes(0))
	return b.bytes(KindFile)
}
func decodeFile(f fieldSet) (Value, error) {
	contents, err := f.requireId(0)
	if err != nil {
		return nil, err
	}
	exec, err := f.requireBool(1)
	if err != nil {
		return nil, err
	}
	refsRaw, err := f.require(2)
	if err != nil {
		return nil, err
	}
	_, rf, err := parseEnvelope(refsRaw)
	if err != nil {
		return nil, err
	}
	refs := make([]id.Id, len(rf))
	for i := range refs {
		raw, ok := rf[uint64(i)]
		if !ok {
			return nil, fmt.Errorf("value: file missing reference %d", i)
		}
		rid, err := id.Parse(raw)
		if err != nil {
			return nil, err
		}
		refs[i] = rid
	}
	return File{Contents: contents, Executable: exec, References: refs}, nil
}

// Symlink's target is a template, rendered at check-out time.
type Symlink struct {
	Target Template
}

func (Symlink) Kind() Kind  { return KindSymlink }
func (Symlink) isArtifact() {}
func (s Symlink) encode() []byte {
	var b fieldBuilder
	b.put(0, s.Target.encode())
	return b.bytes(KindSymlink)
}
func decodeSymlink(f fieldSet) (Value, error) {
	raw, err := f.require(0)
	if err != nil {
		return nil, err
	}
	tv, err := Deserialize(raw)
	if err != nil {
		return nil, err
	}
	tmpl, ok := tv.(Template)
	if !ok {
		return nil, fmt.Errorf("value: symlink target is not a template")
	}
	return Symlink{Target: tmpl}, nil
}

// ---- templates & placeholders ----

type ComponentKind uint8

const (
	ComponentString ComponentKind = iota
	ComponentArtifact
	ComponentPlaceholder
)

// Component is one interleaved fragment of a Template.
type Component struct {
	Kind        ComponentKind
	Str         string
	ArtifactId  id.Id
	Placeholder string
}

func StringComponent(s string) Component       { return Component{Kind: ComponentString, Str: s} }
func ArtifactComponent(a id.Id) Component       { return Component{Kind: ComponentArtifact, ArtifactId: a} }
func PlaceholderComponent(name string) Component { return Component{Kind: ComponentPlaceholder, Placeholder: name} }

type Template struct {
	Components []Component
}

func (Template) Kind() Kind { return KindTemplate }
func (t Template) encode() []byte {
	var b fieldBuilder
	var cb fieldBuilder
	for i, c := range t.Components {
		var entry fieldBuilder
		switch c.Kind {
		case ComponentString:
			entry.putString(0, c.Str)
		case ComponentArtifact:
			entry.putId(1, c.ArtifactId)
		case ComponentPlaceholder:
			entry.putString(2, c.Placeholder)
		}
		cb.put(uint64(i), entry.bytes(0))
	}
	b.put(0, cb.bytes(0))
	return b.bytes(KindTemplate)
}
func decodeTemplate(f fieldSet) (Value, error) {
	raw, err := f.require(0)
	if err != nil {
		return nil, err
	}
	_, fields, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	comps := make([]Component, len(fields))
	for i := range comps {
		entryRaw, ok := fields[uint64(i)]
		if !ok {
			return nil, fmt.Errorf("value: template missing component %d", i)
		}
		_, ef, err := parseEnvelope(entryRaw)
		if err != nil {
			return nil, err
		}
		switch {
		case ef[0] != nil:
			comps[i] = StringComponent(string(ef[0]))
		case ef[1] != nil:
			aid, err := id.Parse(ef[1])
			if err != nil {
				return nil, err
			}
			comps[i] = ArtifactComponent(aid)
		case ef[2] != nil:
			comps[i] = PlaceholderComponent(string(ef[2]))
		default:
			return nil, fmt.Errorf("value: template component %d has no variant field", i)
		}
	}
	return Template{Components: comps}, nil
}

// ---- operations ----

type ChecksumAlgorithm uint8

const (
	ChecksumBlake3 ChecksumAlgorithm = iota
	ChecksumSHA256
)

type Checksum struct {
	Algorithm ChecksumAlgorithm
	Value     string // hex-encoded digest
}

// Task is a sandboxed process execution operation.
type Task struct {
	Host       system.System
	Executable Template
	Env        map[string]Template
	Args       []Template
	Checksum   *Checksum
	Unsafe     bool
	Network    bool
}

func (Task) Kind() Kind { return KindTask }
func (t Task) encode() []byte {
	var b fieldBuilder
	b.putUint(0, uint64(t.Host))
	b.put(1, t.Executable.encode())
	var eb fieldBuilder
	for i, name := range sortedKeys(t.Env) {
		var entry fieldBuilder
		entry.putString(0, name)
		entry.put(1, t.Env[name].encode())
		eb.put(uint64(i), entry.bytes(0))
	}
	b.put(2, eb.bytes(0))
	var ab fieldBuilder
	for i, a := range t.Args {
		ab.put(uint64(i), a.encode())
	}
	b.put(3, ab.bytes(0))
	if t.Checksum != nil {
		var cb fieldBuilder
		cb.putUint(0, uint64(t.Checksum.Algorithm))
		cb.putString(1, t.Checksum.Value)
		b.put(4, cb.bytes(0))
	}
	b.putBool(5, t.Unsafe)
	b.putBool(6, t.Network)
	return b.bytes(KindTask)
}

func decodeTemplateBytes(raw []byte) (Template, error) {
	v, err := Deserialize(raw)
	if err != nil {
		return Template{}, err
	}
	tmpl, ok := v.(Template)
	if !ok {
		return Template{}, fmt.Errorf("value: expected template")
	}
	return tmpl, nil
}

func decodeChecksum(raw []byte) (*Checksum, error) {
	if raw == nil {
		return nil, nil
	}
	_, cf, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	algo, err := cf.requireUint(0)
	if err != nil {
		return nil, err
	}
	val, err := cf.requireString(1)
	if err != nil {
		return nil, err
	}
	return &Checksum{Algorithm: ChecksumAlgorithm(algo), Value: val}, nil
}

func decodeTask(f fieldSet) (Value, error) {
	host, err := f.requireUint(0)
	if err != nil {
		return nil, err
	}
	execRaw, err := f.require(1)
	if err != nil {
		return nil, err
	}
	exec, err := decodeTemplateBytes(execRaw)
	if err != nil {
		return nil, err
	}
	envRaw, err := f.require(2)
	if err != nil {
		return nil, err
	}
	_, envFields, err := parseEnvelope(envRaw)
	if err != nil {
		return nil, err
	}
	env := make(map[string]Template, len(envFields))
	for i := 0; i < len(envFields); i++ {
		entryRaw, ok := envFields[uint64(i)]
		if !ok {
			return nil, fmt.Errorf("value: task env missing entry %d", i)
		}
		_, ef, err := parseEnvelope(entryRaw)
		if err != nil {
			return nil, err
		}
		name, err := ef.requireString(0)
		if err != nil {
			return nil, err
		}
		tRaw, err := ef.require(1)
		if err != nil {
			return nil, err
		}
		tmpl, err := decodeTemplateBytes(tRaw)
		if err != nil {
			return nil, err
		}
		env[name] = tmpl
	}
	argsRaw, err := f.require(3)
	if err != nil {
		return nil, err
	}
	_, argFields, err := parseEnvelope(argsRaw)
	if err != nil {
		return nil, err
	}
	args := make([]Template, len(argFields))
	for i := range args {
		raw, ok := argFields[uint64(i)]
		if !ok {
			return nil, fmt.Errorf("value: task missing arg %d", i)
		}
		tmpl, err := decodeTemplateBytes(raw)
		if err != nil {
			return nil, err
		}
		args[i] = tmpl
	}
	checksum, err := decodeChecksum(f[4])
	if err != nil {
		return nil, err
	}
	unsafeFlag, _ := f.uint(5)
	network, _ := f.uint(6)
	return Task{
		Host:       system.System(host),
		Executable: exec,
		Env:        env,
		Args:       args,
		Checksum:   checksum,
		Unsafe:     unsafeFlag != 0,
		Network:    network != 0,
	}, nil
}

// Target invokes a named exported JS function within a package.
type Target struct {
	Package    id.Id // package artifact id
	Name       string
	Env        map[string]Template
	Args       []Template
	Host       system.System
	Executable Subpath // module subpath within the package
}

func (Target) Kind() Kind { return KindTarget }
func (t Target) encode() []byte {
	var b fieldBuilder
	b.putId(0, t.Package)
	b.putString(1, t.Name)
	var eb fieldBuilder
	for i, name := range sortedKeys(t.Env) {
		var entry fieldBuilder
		entry.putString(0, name)
		entry.put(1, t.Env[name].encode())
		eb.put(uint64(i), entry.bytes(0))
	}
	b.put(2, eb.bytes(0))
	var ab fieldBuilder
	for i, a := range t.Args {
		ab.put(uint64(i), a.encode())
	}
	b.put(3, ab.bytes(0))
	b.putUint(4, uint64(t.Host))
	b.put(5, encodeComponents(t.Executable.Components))
	return b.bytes(KindTarget)
}
func decodeTarget(f fieldSet) (Value, error) {
	pkg, err := f.requireId(0)
	if err != nil {
		return nil, err
	}
	name, err := f.requireString(1)
	if err != nil {
		return nil, err
	}
	envRaw, err := f.require(2)
	if err != nil {
		return nil, err
	}
	_, envFields, err := parseEnvelope(envRaw)
	if err != nil {
		return nil, err
	}
	env := make(map[string]Template, len(envFields))
	for i := 0; i < len(envFields); i++ {
		entryRaw, ok := envFields[uint64(i)]
		if !ok {
			continue
		}
		_, ef, err := parseEnvelope(entryRaw)
		if err != nil {
			return nil, err
		}
		n, err := ef.requireString(0)
		if err != nil {
			return nil, err
		}
		tRaw, err := ef.require(1)
		if err != nil {
			return nil, err
		}
		tmpl, err := decodeTemplateBytes(tRaw)
		if err != nil {
			return nil, err
		}
		env[n] = tmpl
	}
	argsRaw, err := f.require(3)
	if err != nil {
		return nil, err
	}
	_, argFields, err := parseEnvelope(argsRaw)
	if err != nil {
		return nil, err
	}
	args := make([]Template, len(argFields))
	for i := range args {
		raw, ok := argFields[uint64(i)]
		if !ok {
			return nil, fmt.Errorf("value: target missing arg %d", i)
		}
		tmpl, err := decodeTemplateBytes(raw)
		if err != nil {
			return nil, err
		}
		args[i] = tmpl
	}
	host, err := f.requireUint(4)
	if err != nil {
		return nil, err
	}
	execRaw, err := f.require(5)
	if err != nil {
		return nil, err
	}
	comps, err := decodeComponents(execRaw)
	if err != nil {
		return nil, err
	}
	return Target{
		Package:    pkg,
		Name:       name,
		Env:        env,
		Args:       args,
		Host:       system.System(host),
		Executable: Subpath{Components: comps},
	}, nil
}

// Resource describes a checksum-verified fetch.
type Resource struct {
	URL          string
	Checksum     *Checksum
	UnpackFormat string // "", "tar", "tar.gz", "tar.bz2", "tar.lz", "tar.xz", "tar.zstd", "zip"
	Unsafe       bool
}

func (Resource) Kind() Kind { return KindResource }
func (r Resource) encode() []byte {
	var b fieldBuilder
	b.putString(0, r.URL)
	if r.Checksum != nil {
		var cb fieldBuilder
		cb.putUint(0, uint64(r.Checksum.Algorithm))
		cb.putString(1, r.Checksum.Value)
		b.put(1, cb.bytes(0))
	}
	b.putString(2, r.UnpackFormat)
	b.putBool(3, r.Unsafe)
	return b.bytes(KindResource)
}
func decodeResource(f fieldSet) (Value, error) {
	url, err := f.requireString(0)
	if err != nil {
		return nil, err
	}
	checksum, err := decodeChecksum(f[1])
	if err != nil {
		return nil, err
	}
	format, _ := f.requireString(2)
	unsafeFlag, _ := f.uint(3)
	return Resource{URL: url, Checksum: checksum, UnpackFormat: format, Unsafe: unsafeFlag != 0}, nil
}

// ---- compound ----

type Array struct {
	Items []Value
}

func (Array) Kind() Kind { return KindArray }
func (a Array) encode() []byte {
	var b fieldBuilder
	for i, item := range a.Items {
		b.put(uint64(i), item.encode())
	}
	return b.bytes(KindArray)
}
func decodeArray(f fieldSet) (Value, error) {
	items := make([]Value, len(f))
	for i := range items {
		raw, ok := f[uint64(i)]
		if !ok {
			return nil, fmt.Errorf("value: array missing index %d", i)
		}
		v, err := Deserialize(raw)
		if err != nil {
			return nil, err
		}
		items[i] = v
	}
	return Array{Items: items}, nil
}

type Object struct {
	Entries map[string]Value
}

func (Object) Kind() Kind { return KindObject }
func (o Object) encode() []byte {
	var b fieldBuilder
	for i, name := range sortedKeys(o.Entries) {
		var entry fieldBuilder
		entry.putString(0, name)
		entry.put(1, o.Entries[name].encode())
		b.put(uint64(i), entry.bytes(0))
	}
	return b.bytes(KindObject)
}
func decodeObject(f fieldSet) (Value, error) {
	entries := make(map[string]Value, len(f))
	for i := 0; i < len(f); i++ {
		entryRaw, ok := f[uint64(i)]
		if !ok {
			return nil, fmt.Errorf("value: object missing entry %d", i)
		}
		_, ef, err := parseEnvelope(entryRaw)
		if err != nil {
			return nil, err
		}
		name, err := ef.requireString(0)
		if err != nil {
			return nil, err
		}
		vRaw, err := ef.require(1)
		if err != nil {
			return nil, err
		}
		v, err := Deserialize(vRaw)
		if err != nil {
			return nil, err
		}
		entries[name] = v
	}
	return Object{Entries: entries}, nil
}
