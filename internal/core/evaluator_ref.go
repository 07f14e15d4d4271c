package core

import (
	"context"

	"github.com/ehrlich-b/tangram-go/internal/evaluator"
	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
)

// evaluatorRef breaks the construction cycle between the evaluator and the
// JS host: the host needs an Evaluator at construction time so syscalls can
// submit work, but the evaluator needs the host as its Targets reducer at
// its own construction time. A ref is built first and handed to the host;
// once the real evaluator exists, bind fills it in.
type evaluatorRef struct {
	ev *evaluator.Evaluator
}

func (r *evaluatorRef) bind(ev *evaluator.Evaluator) { r.ev = ev }

func (r *evaluatorRef) Evaluate(ctx context.Context, opId, parentOpId id.Id) (id.Id, error) {
	if r.ev == nil {
		return id.Id{}, tgerror.New(tgerror.KindInvalid, "core: evaluator not yet bound")
	}
	return r.ev.Evaluate(ctx, opId, parentOpId)
}
