package jshost

import (
	"reflect"

	"github.com/dop251/goja"

	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
	"github.com/ehrlich-b/tangram-go/internal/value"
)

// The methods below are the closed syscall surface exposed to target code.
// They are registered once per isolate in newIsolate and bound to
// whichever call is currently using this isolate through iso.call. Any
// syscall reached outside an active call (iso.call nil) is a host bug,
// not a JS-reachable error.

func (iso *isolate) syscallLog(line string) {
	if iso.call != nil && iso.call.log != nil {
		iso.call.log(line)
	}
}

func (iso *isolate) syscallLoadModule(moduleId string) (string, error) {
	return iso.host.modules.LoadModule(iso.call.ctx, moduleId)
}

func (iso *isolate) syscallResolveModule(referrer, specifier string) (string, error) {
	return iso.host.modules.ResolveModule(iso.call.ctx, referrer, specifier)
}

func (iso *isolate) syscallModuleVersion(moduleId string) (int64, error) {
	return iso.host.modules.ModuleVersion(iso.call.ctx, moduleId)
}

func (iso *isolate) syscallListDocuments() ([]string, error) {
	return iso.host.modules.ListDocuments(iso.call.ctx)
}

// syscallEvaluate submits opIdStr to the evaluator, recording this call's
// own operation as the parent so the build's child graph records the edge.
func (iso *isolate) syscallEvaluate(opIdStr string) (string, error) {
	opId, err := id.ParseString(opIdStr)
	if err != nil {
		return "", tgerror.WrapKind(tgerror.KindInvalid, err, "jshost: evaluate: bad operation id %q", opIdStr)
	}
	var parent id.Id
	if iso.call != nil {
		parent = iso.call.opId
	}
	valueId, err := iso.host.evaluator.Evaluate(iso.call.ctx, opId, parent)
	if err != nil {
		return "", err
	}
	return valueId.String(), nil
}

// syscallAddObject converts a JS value to a Value, stores it, and returns
// its content address — the mechanism target arguments and return values
// are serialized through so references stay content-addressed.
func (iso *isolate) syscallAddObject(v goja.Value) (string, error) {
	converted, err := jsToValue(v.Export())
	if err != nil {
		return "", err
	}
	i := value.Id(converted)
	if err := iso.host.store.Put(iso.call.ctx, i, value.Serialize(converted)); err != nil {
		return "", err
	}
	return i.String(), nil
}

// jsToValue converts a goja-exported Go value (the result of Value.Export())
// into a tangram Value, recursively for arrays and plain objects. The
// converter traverses structurally; a cyclic object graph is rejected
// rather than recursed into.
func jsToValue(v interface{}) (value.Value, error) {
	return jsToValueSeen(v, map[uintptr]bool{})
}

func jsToValueSeen(v interface{}, seen map[uintptr]bool) (value.Value, error) {
	switch x := v.(type) {
	case nil:
		return value.Null{}, nil
	case bool:
		return value.Bool(x), nil
	case int64:
		return value.Number(x), nil
	case float64:
		return value.Number(x), nil
	case string:
		return value.String(x), nil
	case []byte:
		return value.Bytes(x), nil
	case []interface{}:
		p := reflect.ValueOf(x).Pointer()
		if seen[p] {
			return nil, tgerror.New(tgerror.KindInvalid, "jshost: cyclic value cannot be converted")
		}
		seen[p] = true
		defer delete(seen, p)
		items := make([]value.Value, len(x))
		for i, e := range x {
			iv, err := jsToValueSeen(e, seen)
			if err != nil {
				return nil, err
			}
			items[i] = iv
		}
		return value.Array{Items: items}, nil
	case map[string]interface{}:
		p := reflect.ValueOf(x).Pointer()
		if seen[p] {
			return nil, tgerror.New(tgerror.KindInvalid, "jshost: cyclic value cannot be converted")
		}
		seen[p] = true
		defer delete(seen, p)
		entries := make(map[string]value.Value, len(x))
		for k, e := range x {
			iv, err := jsToValueSeen(e, seen)
			if err != nil {
				return nil, err
			}
			entries[k] = iv
		}
		return value.Object{Entries: entries}, nil
	// The args and env a target is called with export back as these types
	// when returned unchanged.
	case []string:
		items := make([]value.Value, len(x))
		for i, e := range x {
			items[i] = value.String(e)
		}
		return value.Array{Items: items}, nil
	case map[string]string:
		entries := make(map[string]value.Value, len(x))
		for k, e := range x {
			entries[k] = value.String(e)
		}
		return value.Object{Entries: entries}, nil
	default:
		return nil, tgerror.New(tgerror.KindInvalid, "jshost: cannot convert %T to a value", v)
	}
}
