package value

import "github.com/ehrlich-b/tangram-go/internal/id"

// ChildIds returns the ids directly referenced by v — the edges the object
// store's children index and garbage collector walk. It does not recurse
// into ids that are themselves objects; the store's index only needs one
// hop and the collector walks the index transitively.
func ChildIds(v Value) []id.Id {
	var out []id.Id
	switch t := v.(type) {
	case BranchBlob:
		for _, c := range t.Children {
			out = append(out, c.Id)
		}
	case Directory:
		for _, name := range sortedKeys(t.Entries) {
			out = append(out, t.Entries[name])
		}
	case File:
		out = append(out, t.Contents)
		out = append(out, t.References...)
	case Symlink:
		out = append(out, templateArtifactIds(t.Target)...)
	case Template:
		out = append(out, templateArtifactIds(t)...)
	case Task:
		out = append(out, templateArtifactIds(t.Executable)...)
		for _, name := range sortedKeys(t.Env) {
			out = append(out, templateArtifactIds(t.Env[name])...)
		}
		for _, a := range t.Args {
			out = append(out, templateArtifactIds(a)...)
		}
	case Target:
		out = append(out, t.Package)
		for _, name := range sortedKeys(t.Env) {
			out = append(out, templateArtifactIds(t.Env[name])...)
		}
		for _, a := range t.Args {
			out = append(out, templateArtifactIds(a)...)
		}
	case Array:
		for _, item := range t.Items {
			out = append(out, ChildIds(item)...)
		}
	case Object:
		for _, name := range sortedKeys(t.Entries) {
			out = append(out, ChildIds(t.Entries[name])...)
		}
	}
	return out
}

func templateArtifactIds(t Template) []id.Id {
	var out []id.Id
	for _, c := range t.Components {
		if c.Kind == ComponentArtifact {
			out = append(out, c.ArtifactId)
		}
	}
	return out
}
