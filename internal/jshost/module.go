package jshost

import (
	"fmt"

	"github.com/dop251/goja"
)

// loadExports compiles source as a CommonJS-style module (an `exports`
// object mutated in place, plus a `require` that recurses through the same
// host module loader) and returns its exports object. goja has no native
// ES module support, so this is the module convention target packages are
// written against, a simpler path than hand-rolling an ESM-to-CJS
// transform.
func (iso *isolate) loadExports(moduleId, source string) (*goja.Object, error) {
	wrapped := "(function(exports, require) {\n" + source + "\nreturn exports;\n})"
	program, err := goja.Compile(moduleId, wrapped, true)
	if err != nil {
		return nil, err
	}
	wrapperValue, err := iso.vm.RunProgram(program)
	if err != nil {
		return nil, err
	}
	wrapperFn, ok := goja.AssertFunction(wrapperValue)
	if !ok {
		return nil, fmt.Errorf("jshost: module %s did not compile to a callable wrapper", moduleId)
	}

	requireFn := iso.vm.ToValue(func(specifier string) (*goja.Object, error) {
		resolved, err := iso.host.modules.ResolveModule(iso.call.ctx, moduleId, specifier)
		if err != nil {
			return nil, err
		}
		childSource, err := iso.host.modules.LoadModule(iso.call.ctx, resolved)
		if err != nil {
			return nil, err
		}
		return iso.loadExports(resolved, childSource)
	})

	exportsObj := iso.vm.NewObject()
	result, err := wrapperFn(goja.Undefined(), exportsObj, requireFn)
	if err != nil {
		return nil, err
	}
	obj, ok := result.(*goja.Object)
	if !ok {
		return nil, fmt.Errorf("jshost: module %s did not return an exports object", moduleId)
	}
	return obj, nil
}
