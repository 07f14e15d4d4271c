package core

import (
	"context"

	"github.com/ehrlich-b/tangram-go/internal/build"
	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/store"
)

// buildEdgeRecorder implements evaluator.EdgeRecorder: it records the edge
// in the store as a permanent index, and — if a build is currently active —
// also appends the child to that build's live child stream.
type buildEdgeRecorder struct {
	store  *store.Store
	active func() *build.Build
}

func (r *buildEdgeRecorder) RecordOperationEdge(ctx context.Context, parent, child id.Id) error {
	if err := r.store.RecordOperationEdge(ctx, parent, child); err != nil {
		return err
	}
	if b := r.active(); b != nil {
		b.AddChild(child)
	}
	return nil
}
