package jshost

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/template"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
	"github.com/ehrlich-b/tangram-go/internal/value"
)

// ReduceTarget runs target's exported function in a pooled isolate and
// stores its return value. It satisfies evaluator.TargetReducer.
func (h *Host) ReduceTarget(ctx context.Context, opId id.Id, target value.Target) (id.Id, error) {
	res, err := h.pool.Acquire(ctx)
	if err != nil {
		return id.Id{}, tgerror.WrapKind(tgerror.KindCancellation, err, "jshost: acquire isolate for target %s", opId)
	}
	defer res.Release()
	iso := res.Value()

	logLine := func(string) {}
	if h.LogLine != nil {
		logLine = func(line string) { h.LogLine(opId, line) }
	}
	iso.call = &callContext{ctx: ctx, opId: opId, log: logLine}
	defer func() { iso.call = nil }()

	moduleId := target.Package.String() + ":" + target.Executable.String()
	source, err := h.modules.LoadModule(ctx, moduleId)
	if err != nil {
		return id.Id{}, tgerror.WrapKind(tgerror.KindNotFound, err, "jshost: load module for target %s", moduleId)
	}

	exports, err := iso.loadExports(moduleId, source)
	if err != nil {
		return id.Id{}, tgerror.WrapKind(tgerror.KindJSRuntime, err, "jshost: load exports of %s", moduleId)
	}

	fnValue := exports.Get(target.Name)
	if fnValue == nil || goja.IsUndefined(fnValue) {
		return id.Id{}, tgerror.New(tgerror.KindInvalid, "jshost: %s has no export named %q", moduleId, target.Name)
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return id.Id{}, tgerror.New(tgerror.KindInvalid, "jshost: export %q of %s is not callable", target.Name, moduleId)
	}
	fnObj, ok := fnValue.(*goja.Object)
	if !ok || fnObj.Get("run") == nil || !fnObj.Get("run").ToBoolean() {
		return id.Id{}, tgerror.New(tgerror.KindInvalid, "jshost: export %q of %s has no run method", target.Name, moduleId)
	}

	args, err := renderTargetArgs(target.Args)
	if err != nil {
		return id.Id{}, err
	}
	env, err := renderTargetEnv(target.Env)
	if err != nil {
		return id.Id{}, err
	}

	result, err := fn(goja.Undefined(), iso.vm.ToValue(env), iso.vm.ToValue(args))
	if err != nil {
		return id.Id{}, tgerror.WrapKind(tgerror.KindJSRuntime, err, "jshost: %s.%s threw", moduleId, target.Name)
	}

	settled, err := awaitIfPromise(result)
	if err != nil {
		return id.Id{}, tgerror.WrapKind(tgerror.KindJSRuntime, err, "jshost: %s.%s rejected", moduleId, target.Name)
	}

	out, err := jsToValue(settled.Export())
	if err != nil {
		return id.Id{}, tgerror.WrapKind(tgerror.KindInvalid, err, "jshost: convert return value of %s.%s", moduleId, target.Name)
	}

	outId := value.Id(out)
	if err := h.store.Put(ctx, outId, value.Serialize(out)); err != nil {
		return id.Id{}, err
	}
	return outId, nil
}

// awaitIfPromise resolves result if it is a Promise. Target functions are
// only ever awaiting other synchronous host syscalls or pure JS, so by the
// time the call above returns, any promise it produced has already settled
// (goja runs queued promise reactions inline as control returns to Go);
// a still-pending promise means the target used an unsupported construct
// such as setTimeout, which this host deliberately does not implement.
func awaitIfPromise(result goja.Value) (goja.Value, error) {
	promise, ok := result.Export().(*goja.Promise)
	if !ok {
		return result, nil
	}
	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return promise.Result(), nil
	case goja.PromiseStateRejected:
		return nil, fmt.Errorf("%v", promise.Result())
	default:
		return nil, fmt.Errorf("jshost: target returned a promise that never settled (timers are not supported)")
	}
}

func renderTargetArgs(args []value.Template) ([]string, error) {
	out := make([]string, len(args))
	for i, t := range args {
		s, err := template.Render(t, renderTargetComponent)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func renderTargetEnv(env map[string]value.Template) (map[string]string, error) {
	out := make(map[string]string, len(env))
	for k, t := range env {
		s, err := template.Render(t, renderTargetComponent)
		if err != nil {
			return nil, err
		}
		out[k] = s
	}
	return out, nil
}

// renderTargetComponent renders a target's env/args templates at call time.
// Artifact components render to their id string rather than a checkout
// path: a target invocation runs before any task materializes a sandbox, so
// there is no filesystem root to point into yet. A target that needs a
// real path constructs a Task whose own template rendering is bound
// against checked-out artifact roots instead.
func renderTargetComponent(c value.Component) (string, error) {
	switch c.Kind {
	case value.ComponentString:
		return c.Str, nil
	case value.ComponentArtifact:
		return c.ArtifactId.String(), nil
	case value.ComponentPlaceholder:
		return "", tgerror.New(tgerror.KindInvalid, "jshost: target arguments may not reference unbound placeholder %q", c.Placeholder)
	default:
		return "", tgerror.New(tgerror.KindInvalid, "jshost: unknown template component kind %d", c.Kind)
	}
}
